// Package engine is the single service object behind every entry point. It is built
// once by the process and shared; import is the only operation that takes it exclusively.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/pavelanni/labquiz/internal/backup"
	"github.com/pavelanni/labquiz/internal/content"
	"github.com/pavelanni/labquiz/internal/datadir"
	"github.com/pavelanni/labquiz/internal/model"
	"github.com/pavelanni/labquiz/internal/scoring"
	"github.com/pavelanni/labquiz/internal/store"
	"github.com/pavelanni/labquiz/internal/testgen"
)

// ErrTestNotFound is returned when a submission refers to an unknown or expired test.
var ErrTestNotFound = errors.New("test not found or expired")

// Config holds what the engine needs to open its data.
type Config struct {
	DataDir        string
	ResultsPath    string
	ResultsBackend string
	// TestTTL bounds how long a generated test waits for its submission. Zero keeps it forever.
	TestTTL time.Duration
	// Seed makes question selection reproducible when non-zero.
	Seed      uint64
	Collation language.Tag
}

// Engine owns the data root, the result log and the pending tests.
type Engine struct {
	mu      sync.RWMutex
	root    *datadir.Root
	repo    *content.Repository
	gen     *testgen.Generator
	pending *testgen.Pending
	results store.ResultLog
	backup  *backup.Manager
}

// New opens the data root and the result log described by cfg.
func New(cfg Config) (*Engine, error) {
	var rootOpts []datadir.Option
	if cfg.Collation != language.Und {
		rootOpts = append(rootOpts, datadir.WithCollation(cfg.Collation))
	}
	root, err := datadir.New(cfg.DataDir, rootOpts...)
	if err != nil {
		return nil, err
	}
	results, err := store.Open(cfg.ResultsBackend, cfg.ResultsPath)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}

	var genOpts []testgen.Option
	if cfg.Seed != 0 {
		genOpts = append(genOpts, testgen.WithSeed(cfg.Seed))
	}
	var backupOpts []backup.Option
	if cfg.ResultsPath != "" {
		// A result log kept inside the data root is never part of a backup.
		backupOpts = append(backupOpts, backup.WithExclude(cfg.ResultsPath, cfg.ResultsPath+"-wal", cfg.ResultsPath+"-shm"))
	}
	e, err := build(root, results, cfg.TestTTL, genOpts, backupOpts...)
	if err != nil {
		results.Close()
		return nil, err
	}
	return e, nil
}

func build(root *datadir.Root, results store.ResultLog, ttl time.Duration, genOpts []testgen.Option, backupOpts ...backup.Option) (*Engine, error) {
	repo := content.New(root)
	bm, err := backup.New(root.Dir(), results, backupOpts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		root:    root,
		repo:    repo,
		gen:     testgen.New(repo, root, genOpts...),
		pending: testgen.NewPending(ttl),
		results: results,
		backup:  bm,
	}, nil
}

// Close releases the result log.
func (e *Engine) Close() error {
	return e.results.Close()
}

// DataRootPath returns the absolute data root.
func (e *Engine) DataRootPath() string {
	return e.root.Dir()
}

// EnsureLayout creates the course and roster directories with sample rosters when missing.
func (e *Engine) EnsureLayout(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root.EnsureLayout(ctx)
}

// RunCleanup drops expired pending tests every interval until ctx is done.
func (e *Engine) RunCleanup(ctx context.Context, interval time.Duration) {
	e.pending.RunCleanup(ctx, interval)
}

func (e *Engine) ListDirectory(ctx context.Context, path string) ([]model.FileItem, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.root.List(ctx, path)
}

func (e *Engine) ReadFile(ctx context.Context, path string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.root.ReadFile(ctx, path)
}

func (e *Engine) ReadImage(ctx context.Context, path, labContext string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.root.ReadImage(ctx, path, labContext)
}

func (e *Engine) FileType(ctx context.Context, path string) (model.FileType, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.root.FileType(ctx, path)
}

func (e *Engine) Structure(ctx context.Context) (model.Structure, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.Structure(ctx)
}

// Students returns the rosters of one course, or of all courses when course is 0.
func (e *Engine) Students(ctx context.Context, course int) ([]model.Student, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.Students(ctx, course)
}

func (e *Engine) Questions(ctx context.Context, course int, lab, bank string) ([]model.Question, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.Questions(ctx, course, lab, bank)
}

// AddQuestion writes a new question file into a bank.
func (e *Engine) AddQuestion(ctx context.Context, course int, lab, bank string, q model.Question) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.AddQuestion(ctx, course, lab, bank, q)
}

// Generate samples one question per bank. The returned order is the order answers
// must be given to Score.
func (e *Engine) Generate(ctx context.Context, course int, lab string, banks []string) ([]model.Question, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gen.Generate(ctx, course, lab, banks)
}

// GenerateTest samples a test and keeps its answer keys until SubmitTest.
func (e *Engine) GenerateTest(ctx context.Context, course int, lab string, banks []string) (model.PublicTest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, err := e.gen.NewTest(ctx, course, lab, banks)
	if err != nil {
		return model.PublicTest{}, err
	}
	e.pending.Put(t)
	slog.Debug("test generated", "test", t.ID, "course", course, "lab", lab, "questions", len(t.Questions))
	return t.Public(), nil
}

// SubmitTest grades a submission against its pending test and records the result.
// A test can be submitted once.
func (e *Engine) SubmitTest(ctx context.Context, sub model.Submission) (model.TestResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.pending.Take(sub.TestID)
	if !ok {
		return model.TestResult{}, fmt.Errorf("%s: %w", sub.TestID, ErrTestNotFound)
	}
	graded, err := scoring.ScoreByID(t.Questions, sub.Answers)
	if err != nil {
		e.pending.Put(t)
		return model.TestResult{}, err
	}
	r, err := e.results.Append(ctx, model.TestResult{
		StudentID:   sub.Student.ID,
		StudentName: sub.Student.FullName,
		Group:       sub.Student.Group,
		Course:      t.Course,
		Lab:         t.Lab,
		Score:       graded.Score,
		MaxScore:    graded.MaxScore,
		Percentage:  graded.Percentage,
		Answers:     graded.Details,
	})
	if err != nil {
		e.pending.Put(t)
		return model.TestResult{}, fmt.Errorf("save result: %w", err)
	}
	slog.Info("test submitted", "result", r.ID, "student", r.StudentName, "course", r.Course, "lab", r.Lab, "score", r.Score, "max", r.MaxScore)
	return r, nil
}

// SaveTestResult records a result graded by the caller. The percentage is recomputed
// from score and maxScore.
func (e *Engine) SaveTestResult(ctx context.Context, r model.TestResult) (model.TestResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r.Percentage = scoring.Percentage(r.Score, r.MaxScore)
	saved, err := e.results.Append(ctx, r)
	if err != nil {
		return model.TestResult{}, fmt.Errorf("save result: %w", err)
	}
	return saved, nil
}

// TestResults lists stored results that pass f.
func (e *Engine) TestResults(ctx context.Context, f model.ResultFilter) ([]model.TestResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	all, err := e.results.All(ctx)
	if err != nil {
		return nil, err
	}
	return store.Filter(all, f), nil
}

// Export writes the data root as a zip archive to w.
func (e *Engine) Export(ctx context.Context, w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backup.Export(ctx, w)
}

// ExportFile writes the data root as a zip archive to path.
func (e *Engine) ExportFile(ctx context.Context, path string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backup.ExportFile(ctx, path)
}

// Import replaces the data root with an archive and clears the result log and the
// pending tests. Every other operation waits until it finishes.
func (e *Engine) Import(ctx context.Context, r io.ReaderAt, size int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.backup.Import(ctx, r, size); err != nil {
		return err
	}
	e.pending.Clear()
	return nil
}

// ImportFile imports the archive at path.
func (e *Engine) ImportFile(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.backup.ImportFile(ctx, path); err != nil {
		return err
	}
	e.pending.Clear()
	return nil
}
