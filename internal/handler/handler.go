// Package handler exposes the engine as a JSON API for the quiz UI.
// Every response carries "success"; failures add a localized "error".
package handler

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/labquiz/internal/backup"
	"github.com/pavelanni/labquiz/internal/content"
	"github.com/pavelanni/labquiz/internal/datadir"
	"github.com/pavelanni/labquiz/internal/engine"
	appI18n "github.com/pavelanni/labquiz/internal/i18n"
	"github.com/pavelanni/labquiz/internal/model"
	"github.com/pavelanni/labquiz/internal/scoring"
	"github.com/pavelanni/labquiz/internal/testgen"
)

const maxJSONBody = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	eng       *engine.Engine
	adminHash []byte
	maxImport int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithAdminHash protects export and import with a bcrypt password hash.
func WithAdminHash(hash string) Option {
	return func(h *Handler) {
		h.adminHash = []byte(hash)
	}
}

// WithMaxImport limits the size of uploaded archives.
func WithMaxImport(n int64) Option {
	return func(h *Handler) {
		h.maxImport = n
	}
}

// New creates a new Handler.
func New(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{eng: eng, maxImport: 256 << 20}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers all API routes under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/data-root", h.handleDataRoot)
		r.Get("/fs", h.handleListDirectory)
		r.Get("/file", h.handleReadFile)
		r.Get("/image", h.handleReadImage)
		r.Get("/file-type", h.handleFileType)

		r.Get("/structure", h.handleStructure)
		r.Get("/students", h.handleStudents)
		r.Get("/questions", h.handleQuestions)

		r.Post("/generate", h.handleGenerate)
		r.Post("/score", h.handleScore)
		r.Post("/tests", h.handleGenerateTest)
		r.Post("/tests/{testID}/submit", h.handleSubmitTest)

		r.Post("/results", h.handleSaveResult)
		r.Get("/results", h.handleListResults)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/export", h.handleExport)
			r.Post("/import", h.handleImport)
		})
	})
}

func (h *Handler) handleDataRoot(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"path": h.eng.DataRootPath()})
}

func (h *Handler) handleListDirectory(w http.ResponseWriter, r *http.Request) {
	items, err := h.eng.ListDirectory(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"items": items})
}

func (h *Handler) handleReadFile(w http.ResponseWriter, r *http.Request) {
	text, err := h.eng.ReadFile(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"content": text})
}

func (h *Handler) handleReadImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data, err := h.eng.ReadImage(r.Context(), q.Get("path"), q.Get("lab"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"data": data})
}

func (h *Handler) handleFileType(w http.ResponseWriter, r *http.Request) {
	ft, err := h.eng.FileType(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"fileType": ft})
}

func (h *Handler) handleStructure(w http.ResponseWriter, r *http.Request) {
	st, err := h.eng.Structure(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st = appI18n.NameStructure(r.Context(), st)
	writeOK(w, map[string]any{"courses": st.Courses, "warnings": st.Warnings})
}

func (h *Handler) handleStudents(w http.ResponseWriter, r *http.Request) {
	course, err := optionalInt(r, "course")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	students, err := h.eng.Students(r.Context(), course)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"students": students})
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	course, err := optionalInt(r, "course")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	questions, err := h.eng.Questions(r.Context(), course, q.Get("lab"), q.Get("bank"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"questions": questions, "count": appI18n.Tp(r.Context(), "QuestionsCount", len(questions))})
}

type generateRequest struct {
	Course int      `json:"course"`
	Lab    string   `json:"lab"`
	Banks  []string `json:"banks"`
}

// handleGenerate returns questions with their answer keys, for clients that score locally.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	questions, err := h.eng.Generate(r.Context(), req.Course, req.Lab, req.Banks)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"questions": questions})
}

type scoreRequest struct {
	Questions       []model.Question `json:"questions"`
	SelectedAnswers []int            `json:"selectedAnswers"`
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res := scoring.Score(req.Questions, req.SelectedAnswers)
	writeOK(w, map[string]any{
		"score":         res.Score,
		"maxScore":      res.MaxScore,
		"percentage":    res.Percentage,
		"answerDetails": res.Details,
	})
}

func (h *Handler) handleGenerateTest(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	test, err := h.eng.GenerateTest(r.Context(), req.Course, req.Lab, req.Banks)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"test": test})
}

type submitRequest struct {
	Student model.Student           `json:"student"`
	Answers []model.SubmittedAnswer `json:"answers"`
}

func (h *Handler) handleSubmitTest(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.eng.SubmitTest(r.Context(), model.Submission{
		TestID:  chi.URLParam(r, "testID"),
		Student: req.Student,
		Answers: req.Answers,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"result": result})
}

func (h *Handler) handleSaveResult(w http.ResponseWriter, r *http.Request) {
	var req model.TestResult
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.eng.SaveTestResult(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"result": saved})
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	course, err := optionalInt(r, "course")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	results, err := h.eng.TestResults(r.Context(), model.ResultFilter{
		Course:    course,
		StudentID: r.URL.Query().Get("studentId"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"results": results})
}

var (
	errBadRequest   = errors.New("bad request")
	errUnauthorized = errors.New("unauthorized")
	errNotConfirmed = errors.New("import not confirmed")
)

// fail writes the error envelope. Known failures get a localized message; anything
// else is an I/O or internal failure and keeps its own text.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := classify(err)
	msg := err.Error()
	if msgID != "" {
		msg = appI18n.T(r.Context(), msgID)
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func classify(err error) (int, string) {
	var escape *datadir.PathEscapeError
	switch {
	case errors.As(err, &escape):
		return http.StatusBadRequest, "PathEscape"
	case errors.Is(err, content.ErrInvalidName):
		return http.StatusBadRequest, "InvalidName"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "BadRequest"
	case errors.Is(err, testgen.ErrDuplicateBank):
		return http.StatusBadRequest, "DuplicateBank"
	case errors.Is(err, scoring.ErrUnknownQuestion):
		return http.StatusBadRequest, "UnknownQuestion"
	case errors.Is(err, backup.ErrInvalidArchive):
		return http.StatusBadRequest, "InvalidArchive"
	case errors.Is(err, errNotConfirmed):
		return http.StatusPreconditionRequired, "ImportNotConfirmed"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, engine.ErrTestNotFound):
		return http.StatusNotFound, "TestNotFound"
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, testgen.ErrNoQuestions):
		return http.StatusUnprocessableEntity, "NoQuestionsAvailable"
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeOK(w http.ResponseWriter, payload map[string]any) {
	payload["success"] = true
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func optionalInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Join(errBadRequest, err)
	}
	return n, nil
}
