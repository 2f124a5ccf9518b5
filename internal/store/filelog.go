package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pavelanni/labquiz/internal/model"
)

// FileLog keeps the results as one JSON array and rewrites the whole file on every append.
type FileLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileLog returns a log stored at path. The file is created on first append.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path, now: time.Now}
}

// Path returns the location of the log file.
func (l *FileLog) Path() string {
	return l.path
}

func (l *FileLog) Append(ctx context.Context, r model.TestResult) (model.TestResult, error) {
	if err := ctx.Err(); err != nil {
		return model.TestResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	results, err := l.read()
	if err != nil {
		return model.TestResult{}, err
	}
	r = stamp(r, l.now())
	results = append(results, r)
	if err := l.write(results); err != nil {
		return model.TestResult{}, err
	}
	return r, nil
}

func (l *FileLog) All(ctx context.Context) ([]model.TestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *FileLog) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear results: %w", err)
	}
	return nil
}

func (l *FileLog) Close() error { return nil }

func (l *FileLog) read() ([]model.TestResult, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.TestResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	results := []model.TestResult{}
	if len(data) == 0 {
		return results, nil
	}
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode results %s: %w", l.path, err)
	}
	return results, nil
}

// write replaces the file through a synced temp file and a rename.
func (l *FileLog) write(results []model.TestResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write results: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close results: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace results: %w", err)
	}
	return nil
}
