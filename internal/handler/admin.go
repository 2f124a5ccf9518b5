package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	// Build the archive first so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := h.eng.Export(r.Context(), &buf); err != nil {
		h.fail(w, r, err)
		return
	}
	filename := fmt.Sprintf("labquiz-backup-%s.zip", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("write export", "error", err)
	}
}

// handleImport replaces all data with the uploaded archive. The request must carry
// confirm=true because the current data and results are discarded.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	if confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirmed {
		h.fail(w, r, errNotConfirmed)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxImport)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"success": false, "error": err.Error()})
			return
		}
		h.fail(w, r, err)
		return
	}
	if err := h.eng.Import(r.Context(), bytes.NewReader(data), int64(len(data))); err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{})
}
