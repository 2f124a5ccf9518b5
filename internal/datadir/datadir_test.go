package datadir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavelanni/labquiz/internal/model"
)

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func writeFile(t *testing.T, r *Root, logical, content string) {
	t.Helper()
	full := filepath.Join(r.Dir(), filepath.FromSlash(logical))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", logical, err)
	}
}

func TestResolve(t *testing.T) {
	r := newTestRoot(t)

	tests := []struct {
		name    string
		logical string
		want    string
		escape  bool
	}{
		{"root", "", r.Dir(), false},
		{"bank", "2kurs/lab1/bank1", filepath.Join(r.Dir(), "2kurs", "lab1", "bank1"), false},
		{"inner dotdot", "2kurs/lab1/../lab2", filepath.Join(r.Dir(), "2kurs", "lab2"), false},
		{"leading slash stays inside", "/Students", filepath.Join(r.Dir(), "Students"), false},
		{"parent", "..", "", true},
		{"escape via bank", "2kurs/../../etc/passwd", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.logical)
			if tt.escape {
				var pe *PathEscapeError
				if !errors.As(err, &pe) {
					t.Fatalf("expected PathEscapeError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestListMissingPathIsEmpty(t *testing.T) {
	r := newTestRoot(t)

	items, err := r.List(context.Background(), "4kurs/lab9")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("expected empty non-nil list, got %v", items)
	}
}

func TestListOrdering(t *testing.T) {
	r := newTestRoot(t)
	writeFile(t, r, "bank/c.txt", "c")
	writeFile(t, r, "bank/B.txt", "bb")
	writeFile(t, r, "bank/a.png", "a")
	if err := os.MkdirAll(filepath.Join(r.Dir(), "bank", "zeta"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(r.Dir(), "bank", "Alpha"), 0o755); err != nil {
		t.Fatal(err)
	}

	items, err := r.List(context.Background(), "bank")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, it := range items {
		names = append(names, it.Name)
	}
	want := "Alpha,zeta,a.png,B.txt,c.txt"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("expected order %s, got %s", want, got)
	}

	if !items[0].IsDirectory || items[0].Extension != "" {
		t.Errorf("expected directory without extension, got %+v", items[0])
	}
	b := items[3]
	if b.Extension != "txt" || b.Size != 2 || b.Path != "bank/B.txt" || b.Modified == nil {
		t.Errorf("unexpected file item %+v", b)
	}
}

func TestListEscape(t *testing.T) {
	r := newTestRoot(t)
	_, err := r.List(context.Background(), "../")
	var pe *PathEscapeError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PathEscapeError, got %v", err)
	}
}

func TestReadFile(t *testing.T) {
	r := newTestRoot(t)
	writeFile(t, r, "Students/2.txt", "ИТ-21\n")

	got, err := r.ReadFile(context.Background(), "Students/2.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "ИТ-21\n" {
		t.Errorf("unexpected content %q", got)
	}

	if _, err := r.ReadFile(context.Background(), "Students/4.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadImage(t *testing.T) {
	r := newTestRoot(t)
	writeFile(t, r, "2kurs/lab1/img/circuit.jpg", "JPEG")
	writeFile(t, r, "shared/logo.gif", "GIF")

	ctx := context.Background()

	got, err := r.ReadImage(ctx, "img/circuit.jpg", "2kurs/lab1")
	if err != nil {
		t.Fatalf("ReadImage with lab context: %v", err)
	}
	if got != "data:image/jpeg;base64,SlBFRw==" {
		t.Errorf("unexpected data URL %q", got)
	}

	got, err = r.ReadImage(ctx, "shared/logo.gif", "2kurs/lab1")
	if err != nil {
		t.Fatalf("ReadImage root fallback: %v", err)
	}
	if !strings.HasPrefix(got, "data:image/gif;base64,") {
		t.Errorf("unexpected data URL %q", got)
	}

	if _, err := r.ReadImage(ctx, "missing.png", ""); err == nil {
		t.Error("expected error for missing image")
	}
}

func TestFileType(t *testing.T) {
	r := newTestRoot(t)
	writeFile(t, r, "a/q.txt", "")
	writeFile(t, r, "a/pic.PNG", "")
	writeFile(t, r, "a/doc.pdf", "")
	writeFile(t, r, "a/bin.exe", "")

	tests := []struct {
		path string
		want model.FileType
	}{
		{"a", model.FileTypeDirectory},
		{"a/q.txt", model.FileTypeText},
		{"a/pic.PNG", model.FileTypeImage},
		{"a/doc.pdf", model.FileTypePDF},
		{"a/bin.exe", model.FileTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := r.FileType(context.Background(), tt.path)
			if err != nil {
				t.Fatalf("FileType: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestEnsureLayout(t *testing.T) {
	r := newTestRoot(t)
	writeFile(t, r, "Students/3.txt", "custom\n")

	if err := r.EnsureLayout(context.Background()); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}

	for _, d := range []string{"2kurs", "3kurs", "Students"} {
		info, err := os.Stat(filepath.Join(r.Dir(), d))
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", d)
		}
	}

	seeded, err := r.ReadFile(context.Background(), "Students/2.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(seeded, "Иванов Иван Иванович | ИТ-21") {
		t.Errorf("expected sample roster, got %q", seeded)
	}

	kept, _ := r.ReadFile(context.Background(), "Students/3.txt")
	if kept != "custom\n" {
		t.Errorf("existing roster was overwritten: %q", kept)
	}
}

func TestCanceledContext(t *testing.T) {
	r := newTestRoot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.List(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
