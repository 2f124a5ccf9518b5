package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/labquiz/internal/model"
	"github.com/pavelanni/labquiz/internal/store"
	"github.com/pavelanni/labquiz/internal/testgen"
)

func newTestEngine(t *testing.T, backend string) (*Engine, string) {
	t.Helper()
	base := t.TempDir()
	dataDir := filepath.Join(base, "data")
	files := map[string]string{
		"Students/2.txt":          "ИТ-21\nИванов Иван | ИТ-21\nПетров Петр |\n",
		"2kurs/lab1/bank1/q1.txt": "Текст вопроса: 2+2?\nВариант 1: 3\nВариант 2: 4\nПравильный ответ: 2\n",
		"2kurs/lab1/bank2/q1.txt": "Текст вопроса: Столица?\nВариант 1: Москва\nВариант 2: Тула\nПравильный ответ: 1\n",
		"2kurs/lab1/bank3/q1.txt": "Текст вопроса: Цвет неба?\nВариант 1: синий\nВариант 2: зелёный\nПравильный ответ: 1\n",
	}
	for rel, data := range files {
		full := filepath.Join(dataDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	resultsPath := filepath.Join(base, "results.json")
	if backend == "sqlite" {
		resultsPath = filepath.Join(base, "results.db")
	}
	e, err := New(Config{
		DataDir:        dataDir,
		ResultsPath:    resultsPath,
		ResultsBackend: backend,
		TestTTL:        time.Hour,
		Seed:           7,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, dataDir
}

func answersFor(qs []model.PublicQuestion, pick func(i int) int) []model.SubmittedAnswer {
	var out []model.SubmittedAnswer
	for i, q := range qs {
		out = append(out, model.SubmittedAnswer{QuestionID: q.ID, BankName: q.BankName, SelectedAnswer: pick(i)})
	}
	return out
}

func TestSubmitFlow(t *testing.T) {
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			e, _ := newTestEngine(t, backend)

			test, err := e.GenerateTest(ctx, 2, "lab1", []string{"bank1", "bank2", "bank3"})
			if err != nil {
				t.Fatalf("GenerateTest: %v", err)
			}
			if len(test.Questions) != 3 {
				t.Fatalf("expected 3 questions, got %d", len(test.Questions))
			}

			correct := map[string]int{"bank1": 1, "bank2": 0, "bank3": 0}
			answers := answersFor(test.Questions, func(i int) int { return correct[test.Questions[i].BankName] })
			answers[2].SelectedAnswer = model.NoAnswer
			// Reversed order still scores by identity.
			answers[0], answers[2] = answers[2], answers[0]

			student := model.Student{ID: "student_1", FullName: "Иванов Иван", Group: "ИТ-21", Course: 2}
			r, err := e.SubmitTest(ctx, model.Submission{TestID: test.ID, Student: student, Answers: answers})
			if err != nil {
				t.Fatalf("SubmitTest: %v", err)
			}
			if r.Score != 2 || r.MaxScore != 3 || r.Percentage != 67 {
				t.Errorf("expected 2/3 (67%%), got %d/%d (%.0f%%)", r.Score, r.MaxScore, r.Percentage)
			}
			if r.StudentName != "Иванов Иван" || r.Course != 2 || r.Lab != "lab1" || r.ID == "" {
				t.Errorf("unexpected result %+v", r)
			}

			_, err = e.SubmitTest(ctx, model.Submission{TestID: test.ID, Student: student, Answers: answers})
			if !errors.Is(err, ErrTestNotFound) {
				t.Errorf("expected second submission to fail with ErrTestNotFound, got %v", err)
			}

			results, err := e.TestResults(ctx, model.ResultFilter{StudentID: "student_1"})
			if err != nil {
				t.Fatalf("TestResults: %v", err)
			}
			if len(results) != 1 || results[0].ID != r.ID {
				t.Errorf("expected the stored result, got %+v", results)
			}
		})
	}
}

func TestSubmitUnknownTest(t *testing.T) {
	e, _ := newTestEngine(t, "json")
	_, err := e.SubmitTest(context.Background(), model.Submission{TestID: "nope"})
	if !errors.Is(err, ErrTestNotFound) {
		t.Errorf("expected ErrTestNotFound, got %v", err)
	}
}

func TestGenerateNoQuestions(t *testing.T) {
	e, _ := newTestEngine(t, "json")
	_, err := e.GenerateTest(context.Background(), 3, "lab1", []string{"bank1"})
	if !errors.Is(err, testgen.ErrNoQuestions) {
		t.Errorf("expected ErrNoQuestions, got %v", err)
	}
}

func TestSaveTestResultAndFilters(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "json")

	for _, r := range []model.TestResult{
		{StudentID: "a", Course: 2, Lab: "lab1", Score: 1, MaxScore: 4},
		{StudentID: "b", Course: 3, Lab: "lab2", Score: 3, MaxScore: 3},
	} {
		saved, err := e.SaveTestResult(ctx, r)
		if err != nil {
			t.Fatalf("SaveTestResult: %v", err)
		}
		if saved.ID == "" || saved.CompletedAt.IsZero() {
			t.Errorf("expected id and timestamp, got %+v", saved)
		}
	}

	tests := []struct {
		filter model.ResultFilter
		want   int
	}{
		{model.ResultFilter{}, 2},
		{model.ResultFilter{Course: 3}, 1},
		{model.ResultFilter{Course: 2, StudentID: "b"}, 0},
	}
	for _, tt := range tests {
		got, err := e.TestResults(ctx, tt.filter)
		if err != nil {
			t.Fatalf("TestResults: %v", err)
		}
		if len(got) != tt.want {
			t.Errorf("filter %+v: expected %d, got %d", tt.filter, tt.want, len(got))
		}
	}
	all, _ := e.TestResults(ctx, model.ResultFilter{Course: 2})
	if all[0].Percentage != 25 {
		t.Errorf("expected recomputed percentage 25, got %v", all[0].Percentage)
	}
}

func TestExportImportClearsState(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "json")

	before, err := e.Structure(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var archive bytes.Buffer
	if err := e.Export(ctx, &archive); err != nil {
		t.Fatalf("Export: %v", err)
	}

	pendingTest, err := e.GenerateTest(ctx, 2, "lab1", []string{"bank1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SaveTestResult(ctx, model.TestResult{StudentID: "a", Course: 2, Lab: "lab1"}); err != nil {
		t.Fatal(err)
	}

	if err := e.Import(ctx, bytes.NewReader(archive.Bytes()), int64(archive.Len())); err != nil {
		t.Fatalf("Import: %v", err)
	}

	after, err := e.Structure(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("structure differs after import:\n%+v\n%+v", before, after)
	}
	results, _ := e.TestResults(ctx, model.ResultFilter{})
	if len(results) != 0 {
		t.Errorf("expected empty result log, got %d", len(results))
	}
	_, err = e.SubmitTest(ctx, model.Submission{TestID: pendingTest.ID})
	if !errors.Is(err, ErrTestNotFound) {
		t.Errorf("expected pending tests dropped by import, got %v", err)
	}
}

func TestExportExcludesResultsInsideRoot(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dataDir, "Students"), 0o755); err != nil {
		t.Fatal(err)
	}
	resultsPath := filepath.Join(dataDir, "results.json")
	e, err := New(Config{DataDir: dataDir, ResultsPath: resultsPath})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if _, err := e.SaveTestResult(ctx, model.TestResult{StudentID: "a"}); err != nil {
		t.Fatal(err)
	}

	var archive bytes.Buffer
	if err := e.Export(ctx, &archive); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if bytes.Contains(archive.Bytes(), []byte("results.json")) {
		t.Error("expected result log to stay out of the archive")
	}
}

func TestSQLiteResultsInsideRootSurviveImport(t *testing.T) {
	ctx := context.Background()
	dataDir := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(filepath.Join(dataDir, "Students"), 0o755); err != nil {
		t.Fatal(err)
	}
	resultsPath := filepath.Join(dataDir, "results.db")
	e, err := New(Config{DataDir: dataDir, ResultsPath: resultsPath, ResultsBackend: "sqlite"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SaveTestResult(ctx, model.TestResult{StudentID: "before"}); err != nil {
		t.Fatal(err)
	}

	var archive bytes.Buffer
	if err := e.Export(ctx, &archive); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := e.Import(ctx, bytes.NewReader(archive.Bytes()), int64(archive.Len())); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := e.SaveTestResult(ctx, model.TestResult{StudentID: "after"}); err != nil {
		t.Fatalf("SaveTestResult: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(resultsPath); err != nil {
		t.Fatalf("result log missing after import: %v", err)
	}
	reopened, err := store.NewSQLiteLog(resultsPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	results, err := reopened.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].StudentID != "after" {
		t.Errorf("expected only the result saved after import, got %+v", results)
	}
}

func TestConcurrentReadsDuringImport(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "json")
	var archive bytes.Buffer
	if err := e.Export(ctx, &archive); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				st, err := e.Structure(ctx)
				if err != nil {
					errs <- err
					return
				}
				// Readers never see the root between the two renames.
				if len(st.Courses) != 1 {
					errs <- errors.New("observed a partial data root")
					return
				}
			}
		}()
	}
	for range 3 {
		if err := e.Import(ctx, bytes.NewReader(archive.Bytes()), int64(archive.Len())); err != nil {
			t.Fatalf("Import: %v", err)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEnsureLayout(t *testing.T) {
	e, dataDir := newTestEngine(t, "json")
	if err := e.EnsureLayout(context.Background()); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	for _, dir := range []string{"2kurs", "3kurs", "Students"} {
		if _, err := os.Stat(filepath.Join(dataDir, dir)); err != nil {
			t.Errorf("expected %s: %v", dir, err)
		}
	}
	students, err := e.Students(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(students) != 2 {
		t.Errorf("expected existing roster kept, got %d students", len(students))
	}
}
