package datadir

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/pavelanni/labquiz/internal/model"
)

// PathEscapeError is returned when a logical path resolves outside the data root.
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path %q escapes the data root", e.Path)
}

// Root is the single data directory all content paths are resolved against.
type Root struct {
	dir     string
	collate language.Tag
}

// Option configures a Root.
type Option func(*Root)

// WithCollation sets the language used to order listing entries.
func WithCollation(tag language.Tag) Option {
	return func(r *Root) { r.collate = tag }
}

// New returns a Root for dir. The directory does not have to exist yet.
func New(dir string, opts ...Option) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	r := &Root{dir: filepath.Clean(abs), collate: language.Russian}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Dir returns the absolute data root.
func (r *Root) Dir() string {
	return r.dir
}

// Resolve maps a logical slash-separated path to an absolute path under the root.
// The empty string resolves to the root itself.
func (r *Root) Resolve(logical string) (string, error) {
	full := filepath.Join(r.dir, filepath.FromSlash(logical))
	rel, err := filepath.Rel(r.dir, full)
	if err != nil {
		return "", &PathEscapeError{Path: logical}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathEscapeError{Path: logical}
	}
	return full, nil
}

// List returns the entries at a logical path, directories first, then by name.
// A path that does not exist yields an empty list.
func (r *Root) List(ctx context.Context, logical string) ([]model.FileItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := r.Resolve(logical)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.FileItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", logical, err)
	}

	items := make([]model.FileItem, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			slog.Warn("skipping unreadable entry", "path", model.JoinPath(logical, e.Name()), "error", err)
			continue
		}
		item := model.FileItem{
			Name:        e.Name(),
			IsDirectory: e.IsDir(),
			Path:        model.JoinPath(logical, e.Name()),
		}
		mod := info.ModTime()
		item.Modified = &mod
		if !e.IsDir() {
			item.Extension = strings.TrimPrefix(filepath.Ext(e.Name()), ".")
			item.Size = info.Size()
		}
		items = append(items, item)
	}

	c := collate.New(r.collate)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsDirectory != items[j].IsDirectory {
			return items[i].IsDirectory
		}
		return c.CompareString(items[i].Name, items[j].Name) < 0
	})
	return items, nil
}

// ReadFile returns the UTF-8 contents of a file under the root.
func (r *Root) ReadFile(ctx context.Context, logical string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := r.Resolve(logical)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", logical, err)
	}
	return string(data), nil
}

// WriteFile creates or replaces a file under the root, creating parent directories.
func (r *Root) WriteFile(ctx context.Context, logical string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := r.Resolve(logical)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create parent of %q: %w", logical, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %q: %w", logical, err)
	}
	return nil
}

var imageMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
}

// ReadImage returns an image as a data: URL. When labContext is set (e.g. "2kurs/lab1")
// the path is first looked up relative to it, then relative to the root.
func (r *Root) ReadImage(ctx context.Context, logical, labContext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	candidates := []string{logical}
	if labContext != "" {
		candidates = []string{model.JoinPath(labContext, logical), logical}
	}

	var lastErr error
	for _, c := range candidates {
		full, err := r.Resolve(c)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			lastErr = fmt.Errorf("read image %q: %w", c, err)
			continue
		}
		mime, ok := imageMIME[strings.ToLower(filepath.Ext(full))]
		if !ok {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
	}
	return "", lastErr
}

// FileType classifies the entry at a logical path by its kind and extension.
func (r *Root) FileType(ctx context.Context, logical string) (model.FileType, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := r.Resolve(logical)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("stat %q: %w", logical, err)
	}
	if info.IsDir() {
		return model.FileTypeDirectory, nil
	}
	switch strings.ToLower(filepath.Ext(full)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".svg":
		return model.FileTypeImage, nil
	case ".txt", ".json", ".md", ".csv":
		return model.FileTypeText, nil
	case ".pdf":
		return model.FileTypePDF, nil
	}
	return model.FileTypeUnknown, nil
}

// EnsureLayout creates the course and roster directories and seeds sample rosters
// that do not exist yet.
func (r *Root) EnsureLayout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dirs := []string{model.StudentsDir}
	for _, c := range model.Courses {
		dirs = append(dirs, model.CourseDir(c))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(r.dir, d), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}

	created := time.Now().Format("02.01.2006")
	for course, body := range sampleRosters {
		path := filepath.Join(r.dir, filepath.FromSlash(model.RosterFile(course)))
		if _, err := os.Stat(path); err == nil {
			continue
		}
		content := fmt.Sprintf(rosterHeader, created) + body
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("seed roster %d: %w", course, err)
		}
		slog.Info("seeded roster", "course", course, "path", path)
	}
	return nil
}

const rosterHeader = `# Файл студентов кафедры информатики
# Создан: %s
# Формат: ФИО | Группа

`

var sampleRosters = map[int]string{
	2: `ИТ-21
Иванов Иван Иванович | ИТ-21
Петров Петр Петрович | ИТ-21

ПМИ-22
Сидорова Анна Сергеевна | ПМИ-22
`,
	3: `ФИИТ-31
Попов Денис Олегович | ФИИТ-31

ИВТ-32
Николаев Сергей Владимирович | ИВТ-32
`,
}
