package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavelanni/labquiz/internal/model"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := rootCmd()
	cmd.SetArgs(append(args, "--log-level", "error"))
	return cmd.Execute()
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func fakeLLM(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object": "list", "data": [{"id": "test-model", "object": "model"}]}`))
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		content := `{"questions": [{"text": "Что выводит pwd?", "options": ["Текущий каталог", "Список процессов"], "correct": 1}]}`
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

func TestCommands(t *testing.T) {
	base := t.TempDir()
	dataDir := filepath.Join(base, "data")
	results := filepath.Join(base, "results.json")
	data := []string{"-D", dataDir, "--results", results}

	if err := run(t, append([]string{"init"}, data...)...); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, p := range []string{"2kurs", "3kurs", "Students/2.txt", "Students/3.txt"} {
		if _, err := os.Stat(filepath.Join(dataDir, p)); err != nil {
			t.Errorf("init did not create %s: %v", p, err)
		}
	}

	draft := append([]string{"draft", "-c", "2", "--lab", "lab1", "-b", "bank1", "-t", "Команды Linux",
		"-n", "1", "--llm-url", fakeLLM(t), "--llm-model", "test-model"}, data...)
	if err := run(t, draft...); err != nil {
		t.Fatalf("draft: %v", err)
	}
	written, err := os.ReadFile(filepath.Join(dataDir, "2kurs", "lab1", "bank1", "q1.txt"))
	if err != nil {
		t.Fatalf("drafted question not written: %v", err)
	}
	if !strings.Contains(string(written), "Что выводит pwd?") {
		t.Errorf("unexpected question file:\n%s", written)
	}

	testPath := filepath.Join(base, "test.json")
	gen := append([]string{"generate", "-c", "2", "--lab", "lab1", "-b", "bank1", "--with-answers", "-o", testPath}, data...)
	if err := run(t, gen...); err != nil {
		t.Fatalf("generate: %v", err)
	}
	var test model.Test
	readJSON(t, testPath, &test)
	if len(test.Questions) != 1 || test.Questions[0].ID != "q1" || test.Questions[0].CorrectAnswer != 0 {
		t.Errorf("unexpected test %+v", test)
	}

	structPath := filepath.Join(base, "structure.json")
	if err := run(t, append([]string{"structure", "-l", "en", "-o", structPath}, data...)...); err != nil {
		t.Fatalf("structure: %v", err)
	}
	var st model.Structure
	readJSON(t, structPath, &st)
	if len(st.Courses) != 2 || st.Courses[0].Name != "Year 2" || st.Courses[0].Labs[0].Banks[0].QuestionsCount != 1 {
		t.Errorf("unexpected structure %+v", st)
	}

	archive := filepath.Join(base, "backup.zip")
	if err := run(t, append([]string{"backup", "-o", archive}, data...)...); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(dataDir, "2kurs", "lab1")); err != nil {
		t.Fatal(err)
	}

	if err := run(t, append([]string{"restore", archive}, data...)...); err == nil {
		t.Error("expected restore without --yes to fail")
	}
	if err := run(t, append([]string{"restore", archive, "--yes"}, data...)...); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "2kurs", "lab1", "bank1", "q1.txt")); err != nil {
		t.Errorf("restore did not bring the question back: %v", err)
	}

	resultsPath := filepath.Join(base, "export.json")
	if err := run(t, append([]string{"results", "-o", resultsPath}, data...)...); err != nil {
		t.Fatalf("results: %v", err)
	}
	var export model.ResultsExport
	readJSON(t, resultsPath, &export)
	if export.Count != 0 || export.ExportedAt.IsZero() {
		t.Errorf("unexpected export %+v", export)
	}
}
