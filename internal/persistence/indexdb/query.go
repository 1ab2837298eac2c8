package indexdb

import (
	"context"
	"database/sql"
	"time"
)

type AttemptRow struct {
	AttemptID string
	Agent     string
	StartedAt time.Time
	Elapsed   time.Duration
	Status    string
	Tiles     int
	PathLen   int
	Error     string
}

// Reader opens an index for queries without starting a writer.
type Reader struct{ db *sql.DB }

func OpenReader(path string) (*Reader, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// Recent returns up to limit attempts, newest first.
func (r *Reader) Recent(ctx context.Context, limit int) ([]AttemptRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT attempt_id,agent,started_at,elapsed_ms,status,tiles,path_len,COALESCE(error,'')
		FROM attempts ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var (
			a       AttemptRow
			started string
			elapsed int64
		)
		if err := rows.Scan(&a.AttemptID, &a.Agent, &started, &elapsed, &a.Status, &a.Tiles, &a.PathLen, &a.Error); err != nil {
			return nil, err
		}
		a.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		a.Elapsed = time.Duration(elapsed) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

// StatusCounts returns the number of attempts per status.
func (r *Reader) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM attempts GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
