// Package content builds the course/lab/bank index of the data root and reads the
// questions and rosters stored in it.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pavelanni/labquiz/internal/datadir"
	"github.com/pavelanni/labquiz/internal/model"
	"github.com/pavelanni/labquiz/internal/parse"
)

// ErrInvalidName is returned for lab or bank names that are not a single directory name.
var ErrInvalidName = errors.New("invalid lab or bank name")

// Repository reads the content model from a data root. It holds no cached state:
// every call re-reads the filesystem.
type Repository struct {
	root *datadir.Root
}

// New creates a Repository over root.
func New(root *datadir.Root) *Repository {
	return &Repository{root: root}
}

// Root returns the underlying data root.
func (r *Repository) Root() *datadir.Root {
	return r.root
}

// Structure rebuilds the Course→Lab→Bank index. A branch that cannot be listed is left
// out and reported in Warnings; only context cancellation is returned as an error.
func (r *Repository) Structure(ctx context.Context) (model.Structure, error) {
	st := model.Structure{Courses: []model.Course{}}
	warn := func(path string, err error) {
		slog.Warn("skipping unreadable branch", "path", path, "error", err)
		st.Warnings = append(st.Warnings, fmt.Sprintf("%s: %v", path, err))
	}

	rootItems, err := r.root.List(ctx, "")
	if err != nil {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		warn("/", err)
		return st, nil
	}

	for _, ci := range rootItems {
		if !ci.IsDirectory {
			continue
		}
		courseID, ok := model.ParseCourseDir(ci.Name)
		if !ok {
			continue
		}
		course := model.Course{ID: courseID, Labs: []model.Lab{}}

		labItems, err := r.root.List(ctx, ci.Path)
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			warn(ci.Path, err)
			continue
		}
		for _, li := range labItems {
			if !li.IsDirectory || !strings.HasPrefix(li.Name, model.LabPrefix) {
				continue
			}
			lab, err := r.lab(ctx, li, warn)
			if err != nil {
				if ctx.Err() != nil {
					return st, ctx.Err()
				}
				warn(li.Path, err)
				continue
			}
			course.Labs = append(course.Labs, lab)
		}
		st.Courses = append(st.Courses, course)
	}
	return st, nil
}

func (r *Repository) lab(ctx context.Context, li model.FileItem, warn func(string, error)) (model.Lab, error) {
	lab := model.Lab{ID: li.Name, Banks: []model.Bank{}}
	bankItems, err := r.root.List(ctx, li.Path)
	if err != nil {
		return lab, err
	}
	for _, bi := range bankItems {
		if !bi.IsDirectory || !strings.HasPrefix(bi.Name, model.BankPrefix) {
			continue
		}
		files, err := r.root.List(ctx, bi.Path)
		if err != nil {
			if ctx.Err() != nil {
				return lab, ctx.Err()
			}
			warn(bi.Path, err)
			continue
		}
		lab.Banks = append(lab.Banks, model.Bank{
			ID:             bi.Name,
			QuestionsCount: len(questionFiles(files)),
		})
	}
	return lab, nil
}

// Students loads every course roster, in course order. course 0 loads all courses.
// Missing or unreadable roster files contribute no students.
func (r *Repository) Students(ctx context.Context, course int) ([]model.Student, error) {
	students := []model.Student{}
	for _, c := range model.Courses {
		if course != 0 && c != course {
			continue
		}
		content, err := r.root.ReadFile(ctx, model.RosterFile(c))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Debug("roster not loaded", "course", c, "error", err)
			continue
		}
		students = append(students, parse.Roster(content, c)...)
	}
	return students, nil
}

// QuestionFiles lists the question files of a bank.
func (r *Repository) QuestionFiles(ctx context.Context, course int, lab, bank string) ([]model.FileItem, error) {
	if err := checkNames(lab, bank); err != nil {
		return nil, err
	}
	items, err := r.root.List(ctx, model.BankPath(course, lab, bank))
	if err != nil {
		return nil, err
	}
	return questionFiles(items), nil
}

// ReadQuestion reads and parses one question file.
func (r *Repository) ReadQuestion(ctx context.Context, file model.FileItem, bank string) (model.Question, error) {
	content, err := r.root.ReadFile(ctx, file.Path)
	if err != nil {
		return model.Question{}, err
	}
	return parse.Question(content, strings.TrimSuffix(file.Name, model.QuestionExt), bank)
}

// Questions parses every question file of a bank, skipping files that fail to parse.
func (r *Repository) Questions(ctx context.Context, course int, lab, bank string) ([]model.Question, error) {
	files, err := r.QuestionFiles(ctx, course, lab, bank)
	if err != nil {
		return nil, err
	}
	questions := []model.Question{}
	for _, f := range files {
		q, err := r.ReadQuestion(ctx, f, bank)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("skipping question", "path", f.Path, "error", err)
			continue
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// AddQuestion writes q into a bank under the next free "qN.txt" name and returns its id.
func (r *Repository) AddQuestion(ctx context.Context, course int, lab, bank string, q model.Question) (string, error) {
	if !q.Usable() {
		return "", parse.ErrUnusableQuestion
	}
	files, err := r.QuestionFiles(ctx, course, lab, bank)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(files))
	for _, f := range files {
		taken[f.Name] = true
	}
	n := len(files) + 1
	for taken["q"+strconv.Itoa(n)+model.QuestionExt] {
		n++
	}
	id := "q" + strconv.Itoa(n)
	path := model.JoinPath(model.BankPath(course, lab, bank), id+model.QuestionExt)
	if err := r.root.WriteFile(ctx, path, parse.Format(q)); err != nil {
		return "", err
	}
	return id, nil
}

func questionFiles(items []model.FileItem) []model.FileItem {
	files := []model.FileItem{}
	for _, it := range items {
		if !it.IsDirectory && strings.HasSuffix(it.Name, model.QuestionExt) {
			files = append(files, it)
		}
	}
	return files
}

func checkNames(names ...string) error {
	for _, n := range names {
		if n == "" || n == "." || n == ".." || strings.ContainsAny(n, `/\`) {
			return fmt.Errorf("%w: %q", ErrInvalidName, n)
		}
	}
	return nil
}
