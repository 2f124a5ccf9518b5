// Package backup exports the data root into a zip archive and replaces it from one.
package backup

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pavelanni/labquiz/internal/model"
)

// ErrInvalidArchive is returned for archives that are unreadable, escape the data root,
// or have entries but neither a course directory nor the roster directory.
var ErrInvalidArchive = errors.New("invalid backup archive")

// ResultClearer empties the result log after a successful import.
type ResultClearer interface {
	Clear(ctx context.Context) error
}

// Manager owns export and import of one data root.
type Manager struct {
	root    string
	results ResultClearer
	exclude []string
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithExclude keeps the given files or directories out of exported archives.
func WithExclude(paths ...string) Option {
	return func(m *Manager) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			if abs, err := filepath.Abs(p); err == nil {
				m.exclude = append(m.exclude, abs)
			}
		}
	}
}

// New creates a Manager for the data root at root. results may be nil.
func New(root string, results ResultClearer, opts ...Option) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	m := &Manager{root: abs, results: results, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Export writes the data root into w as a zip archive. Paths inside the archive are
// relative to the root and use forward slashes; directories get their own entries so
// empty courses and banks survive a round trip.
func (m *Manager) Export(ctx context.Context, w io.Writer) error {
	zw := zip.NewWriter(w)
	files := 0

	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == m.root {
			return nil
		}
		if m.excluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			_, err := zw.CreateHeader(&zip.FileHeader{Name: name + "/", Modified: info.ModTime()})
			return err
		}
		if !info.Mode().IsRegular() {
			slog.Warn("skipping non-regular file in backup", "path", name)
			return nil
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(fw, f); err != nil {
			return fmt.Errorf("archive %s: %w", name, err)
		}
		files++
		return nil
	})
	if err != nil {
		return fmt.Errorf("export %s: %w", m.root, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	slog.Info("data exported", "root", m.root, "files", files)
	return nil
}

// ExportFile writes the archive to dest. The file appears only once it is complete.
func (m *Manager) ExportFile(ctx context.Context, dest string) error {
	abs, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), filepath.Base(abs)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	// The archive may be written inside the root it describes.
	mm := *m
	mm.exclude = append(append([]string(nil), m.exclude...), abs, tmp.Name())

	if err := mm.Export(ctx, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return os.Rename(tmp.Name(), abs)
}

// Import replaces the data root with the contents of a zip archive and clears the
// result log. The archive is extracted next to the root and validated first; the
// current root is only moved aside once the new tree is complete, and is put back
// if the swap fails.
func (m *Manager) Import(ctx context.Context, r io.ReaderAt, size int64) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	parent := filepath.Dir(m.root)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("prepare import: %w", err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(m.root)+".import-*")
	if err != nil {
		return fmt.Errorf("prepare import: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extract(ctx, zr, staging); err != nil {
		return err
	}
	if err := validate(staging); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.swap(staging); err != nil {
		return err
	}

	// The new tree is in place; finish the import even if the caller gives up now.
	if m.results != nil {
		if err := m.results.Clear(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("data imported but results not cleared: %w", err)
		}
	}
	slog.Info("data imported", "root", m.root, "entries", len(zr.File))
	return nil
}

// ImportFile imports the archive at path.
func (m *Manager) ImportFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return m.Import(ctx, f, info.Size())
}

// swap installs staging as the root. The imported root keeps the permissions of the
// one it replaces, and excluded files living inside the root (such as an open result
// log) move into the new tree instead of being deleted with the old one.
func (m *Manager) swap(staging string) error {
	perm := fs.FileMode(0o755)
	old := ""
	if info, err := os.Stat(m.root); err == nil {
		perm = info.Mode().Perm()
		old = fmt.Sprintf("%s.old-%d", m.root, m.now().UnixNano())
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat data root: %w", err)
	}
	if err := os.Chmod(staging, perm); err != nil {
		return fmt.Errorf("prepare imported data: %w", err)
	}
	if old != "" {
		if err := os.Rename(m.root, old); err != nil {
			return fmt.Errorf("move current data aside: %w", err)
		}
	}

	carried, err := m.carryExcluded(old, staging)
	if err == nil {
		err = os.Rename(staging, m.root)
	}
	if err != nil {
		if old != "" {
			moveBack(carried, staging, old)
			if rerr := os.Rename(old, m.root); rerr != nil {
				slog.Error("could not restore previous data", "kept_at", old, "error", rerr)
			}
		}
		return fmt.Errorf("install imported data: %w", err)
	}

	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			slog.Warn("previous data not removed", "path", old, "error", err)
		}
	}
	return nil
}

// carryExcluded moves excluded entries that live inside the old root to the same
// relative place in staging and returns their relative paths.
func (m *Manager) carryExcluded(old, staging string) ([]string, error) {
	if old == "" {
		return nil, nil
	}
	var carried []string
	for _, e := range m.exclude {
		rel, err := filepath.Rel(m.root, e)
		if err != nil || !filepath.IsLocal(rel) {
			continue
		}
		src := filepath.Join(old, rel)
		if _, err := os.Lstat(src); err != nil {
			continue
		}
		dst := filepath.Join(staging, rel)
		if err := os.RemoveAll(dst); err != nil {
			return carried, err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return carried, err
		}
		if err := os.Rename(src, dst); err != nil {
			return carried, fmt.Errorf("keep %s: %w", rel, err)
		}
		carried = append(carried, rel)
	}
	return carried, nil
}

func moveBack(rels []string, from, to string) {
	for _, rel := range rels {
		if err := os.Rename(filepath.Join(from, rel), filepath.Join(to, rel)); err != nil {
			slog.Error("could not move excluded file back", "path", rel, "error", err)
		}
	}
}

func (m *Manager) excluded(path string) bool {
	for _, e := range m.exclude {
		if path == e {
			return true
		}
	}
	return false
}

func extract(ctx context.Context, zr *zip.Reader, dst string) error {
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := strings.TrimSuffix(f.Name, "/")
		if name == "" {
			continue
		}
		local := filepath.FromSlash(name)
		if strings.Contains(name, `\`) || !filepath.IsLocal(local) {
			return fmt.Errorf("%w: entry %q escapes the data root", ErrInvalidArchive, f.Name)
		}
		mode := f.Mode()
		if mode&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: entry %q is a symlink", ErrInvalidArchive, f.Name)
		}

		target := filepath.Join(dst, local)
		if mode.IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidArchive, f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// validate requires at least one course directory or the roster directory at the top
// level. An empty archive is what an empty root exports and is accepted.
func validate(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := model.ParseCourseDir(e.Name()); ok || e.Name() == model.StudentsDir {
			return nil
		}
	}
	return fmt.Errorf("%w: no course or %s directory at the top level", ErrInvalidArchive, model.StudentsDir)
}
