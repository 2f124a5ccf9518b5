package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/labquiz/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteLog keeps results in a SQLite database.
type SQLiteLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLog opens (and creates if needed) the database at dbPath.
func NewSQLiteLog(dbPath string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	l := &SQLiteLog{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func (l *SQLiteLog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS test_results (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		student_id TEXT NOT NULL DEFAULT '',
		student_name TEXT NOT NULL DEFAULT '',
		student_group TEXT NOT NULL DEFAULT '',
		course INTEGER NOT NULL,
		lab TEXT NOT NULL,
		score INTEGER NOT NULL,
		max_score INTEGER NOT NULL,
		percentage REAL NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS result_answers (
		result_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		question_id TEXT NOT NULL,
		selected_answer INTEGER NOT NULL,
		is_correct INTEGER NOT NULL,
		PRIMARY KEY (result_id, position),
		FOREIGN KEY (result_id) REFERENCES test_results(id)
	);

	CREATE TABLE IF NOT EXISTS log_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	return setMetadata(context.Background(), l.db, metaSchemaVersion, schemaVersion)
}

// Append stores a result with its answer trail in one transaction.
func (l *SQLiteLog) Append(ctx context.Context, r model.TestResult) (model.TestResult, error) {
	r = stamp(r, l.now())

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.TestResult{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO test_results (id, student_id, student_name, student_group, course, lab, score, max_score, percentage, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StudentID, r.StudentName, r.Group, r.Course, r.Lab, r.Score, r.MaxScore, r.Percentage,
		r.CompletedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.TestResult{}, fmt.Errorf("insert result: %w", err)
	}
	for i, a := range r.Answers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO result_answers (result_id, position, question_id, selected_answer, is_correct) VALUES (?, ?, ?, ?, ?)`,
			r.ID, i, a.QuestionID, a.SelectedAnswer, a.IsCorrect,
		)
		if err != nil {
			return model.TestResult{}, fmt.Errorf("insert answer %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.TestResult{}, err
	}
	return r, nil
}

// All returns results in insertion order.
func (l *SQLiteLog) All(ctx context.Context) ([]model.TestResult, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, student_id, student_name, student_group, course, lab, score, max_score, percentage, completed_at
		 FROM test_results ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []model.TestResult{}
	index := make(map[string]int)
	for rows.Next() {
		var r model.TestResult
		var completed string
		if err := rows.Scan(&r.ID, &r.StudentID, &r.StudentName, &r.Group, &r.Course, &r.Lab,
			&r.Score, &r.MaxScore, &r.Percentage, &completed); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
			return nil, fmt.Errorf("result %s: parse completed_at: %w", r.ID, err)
		}
		r.Answers = []model.AnswerDetail{}
		index[r.ID] = len(results)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	arows, err := l.db.QueryContext(ctx,
		`SELECT result_id, question_id, selected_answer, is_correct FROM result_answers ORDER BY result_id, position`)
	if err != nil {
		return nil, err
	}
	defer arows.Close()
	for arows.Next() {
		var id string
		var a model.AnswerDetail
		if err := arows.Scan(&id, &a.QuestionID, &a.SelectedAnswer, &a.IsCorrect); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			results[i].Answers = append(results[i].Answers, a)
		}
	}
	return results, arows.Err()
}

// Clear deletes every result and answer.
func (l *SQLiteLog) Clear(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM result_answers`); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM test_results`); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}
	if err := setMetadata(ctx, tx, metaClearedAt, l.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record clear: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of stored results.
func (l *SQLiteLog) Count(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_results`).Scan(&n)
	return n, err
}
