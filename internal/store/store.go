// Package store persists completed test results.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/labquiz/internal/model"
)

// ResultLog is the durable, append-only collection of completed tests.
type ResultLog interface {
	// Append stamps r with a fresh id and completion time, stores it and returns the stored record.
	Append(ctx context.Context, r model.TestResult) (model.TestResult, error)
	// All returns every result in append order. A log that was never written is empty.
	All(ctx context.Context) ([]model.TestResult, error)
	// Clear deletes every result.
	Clear(ctx context.Context) error
	Close() error
}

// Backends accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open returns the result log for a backend name.
func Open(backend, path string) (ResultLog, error) {
	switch strings.ToLower(backend) {
	case "", BackendJSON:
		return NewFileLog(path), nil
	case BackendSQLite:
		return NewSQLiteLog(path)
	default:
		return nil, fmt.Errorf("unknown results backend %q", backend)
	}
}

// Filter returns the results that pass f.
func Filter(results []model.TestResult, f model.ResultFilter) []model.TestResult {
	out := []model.TestResult{}
	for _, r := range results {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// newID combines the millisecond timestamp with a random suffix.
func newID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}

func stamp(r model.TestResult, now time.Time) model.TestResult {
	r.ID = newID(now)
	r.CompletedAt = now.UTC()
	if r.Answers == nil {
		r.Answers = []model.AnswerDetail{}
	}
	return r
}
