// Package testgen assembles tests by sampling one question from each requested bank.
package testgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/labquiz/internal/model"
)

// ErrNoQuestions is returned when none of the requested banks produced a question.
var ErrNoQuestions = errors.New("no questions available")

// ErrDuplicateBank is returned when a bank is requested more than once. Answers are keyed
// by bank and question id, so a test may sample each bank only once.
var ErrDuplicateBank = errors.New("bank requested more than once")

// Source lists and reads the question files of a bank.
type Source interface {
	QuestionFiles(ctx context.Context, course int, lab, bank string) ([]model.FileItem, error)
	ReadQuestion(ctx context.Context, file model.FileItem, bank string) (model.Question, error)
}

// ImageResolver turns an image reference into an inline data: URL.
type ImageResolver interface {
	ReadImage(ctx context.Context, path, labContext string) (string, error)
}

// Picker chooses an index in [0, n).
type Picker interface {
	IntN(n int) int
}

type globalPicker struct{}

func (globalPicker) IntN(n int) int { return rand.IntN(n) }

// Option configures a Generator.
type Option func(*Generator)

// WithPicker sets a factory for the randomness used by each Generate call.
func WithPicker(newPicker func() Picker) Option {
	return func(g *Generator) {
		g.newPicker = newPicker
	}
}

// WithSeed makes selection reproducible: every Generate call starts from the same PCG state.
func WithSeed(seed uint64) Option {
	return WithPicker(func() Picker {
		return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	})
}

// Generator builds tests from a question source.
type Generator struct {
	src       Source
	images    ImageResolver
	newPicker func() Picker
	now       func() time.Time
}

// New creates a Generator. images may be nil, in which case image references are kept
// without inline data.
func New(src Source, images ImageResolver, opts ...Option) *Generator {
	g := &Generator{
		src:       src,
		images:    images,
		newPicker: func() Picker { return globalPicker{} },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate picks one question per bank, in the order the banks are given. Banks that are
// empty or unreadable are skipped, so the result may hold fewer questions than banks.
func (g *Generator) Generate(ctx context.Context, course int, lab string, banks []string) ([]model.Question, error) {
	seen := make(map[string]bool, len(banks))
	for _, bank := range banks {
		if seen[bank] {
			return nil, fmt.Errorf("%q: %w", bank, ErrDuplicateBank)
		}
		seen[bank] = true
	}

	picker := g.newPicker()
	questions := make([]model.Question, 0, len(banks))

	for _, bank := range banks {
		q, ok, err := g.pick(ctx, picker, course, lab, bank)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		questions = append(questions, g.attachImage(ctx, q, course, lab))
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("course %d, %s: %w", course, lab, ErrNoQuestions)
	}
	return questions, nil
}

// NewTest runs Generate and wraps the questions in a Test with a fresh id.
func (g *Generator) NewTest(ctx context.Context, course int, lab string, banks []string) (model.Test, error) {
	questions, err := g.Generate(ctx, course, lab, banks)
	if err != nil {
		return model.Test{}, err
	}
	return model.Test{
		ID:        uuid.NewString(),
		Course:    course,
		Lab:       lab,
		Questions: questions,
		CreatedAt: g.now(),
	}, nil
}

// pick draws files from the bank until one parses. Files that fail are dropped from
// the candidates, so a bank with at least one valid question always yields one.
// Only context errors are returned.
func (g *Generator) pick(ctx context.Context, picker Picker, course int, lab, bank string) (model.Question, bool, error) {
	files, err := g.src.QuestionFiles(ctx, course, lab, bank)
	if err != nil {
		if ctx.Err() != nil {
			return model.Question{}, false, ctx.Err()
		}
		slog.Warn("skipping bank", "course", course, "lab", lab, "bank", bank, "error", err)
		return model.Question{}, false, nil
	}
	if len(files) == 0 {
		slog.Debug("bank is empty", "course", course, "lab", lab, "bank", bank)
		return model.Question{}, false, nil
	}

	for len(files) > 0 {
		i := picker.IntN(len(files))
		q, err := g.src.ReadQuestion(ctx, files[i], bank)
		if err == nil {
			return q, true, nil
		}
		if ctx.Err() != nil {
			return model.Question{}, false, ctx.Err()
		}
		slog.Warn("skipping question", "path", files[i].Path, "error", err)
		files = append(files[:i:i], files[i+1:]...)
	}
	slog.Warn("bank has no usable questions", "course", course, "lab", lab, "bank", bank)
	return model.Question{}, false, nil
}

func (g *Generator) attachImage(ctx context.Context, q model.Question, course int, lab string) model.Question {
	if q.ImagePath == "" || g.images == nil {
		return q
	}
	data, err := g.images.ReadImage(ctx, q.ImagePath, model.JoinPath(model.CourseDir(course), lab))
	if err != nil {
		slog.Warn("dropping missing image", "bank", q.BankName, "question", q.ID, "image", q.ImagePath, "error", err)
		q.ImagePath = ""
		return q
	}
	q.ImageData = data
	return q
}
