package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"gridwalk.ai/internal/captcha"
)

func TestSQLiteIndex_WriteOutcome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attempts.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_ = idx.WriteOutcome(captcha.Outcome{
		AttemptID: "a1", Agent: "bot1", StartedAt: started, Elapsed: 1500 * time.Millisecond,
		Status: captcha.StatusSolved, Tiles: 25, PathLen: 25,
	})
	_ = idx.WriteOutcome(captcha.Outcome{
		AttemptID: "a2", Agent: "bot1", StartedAt: started.Add(time.Minute),
		Status: captcha.StatusNoPath, Tiles: 24, Error: "no valid path found",
	})
	idx.RecordSession(started, "bot1", "LOGIN", "")
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var (
		status  string
		elapsed int64
		pathLen int
	)
	row := db.QueryRow(`SELECT status,elapsed_ms,path_len FROM attempts WHERE attempt_id='a1'`)
	if err := row.Scan(&status, &elapsed, &pathLen); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if status != captcha.StatusSolved || elapsed != 1500 || pathLen != 25 {
		t.Fatalf("row mismatch: status=%s elapsed=%d path_len=%d", status, elapsed, pathLen)
	}
	var sessions int
	if err := db.QueryRow(`SELECT COUNT(*) FROM session_events WHERE kind='LOGIN'`).Scan(&sessions); err != nil {
		t.Fatalf("Scan sessions: %v", err)
	}
	if sessions != 1 {
		t.Fatalf("sessions=%d want 1", sessions)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	recent, err := r.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].AttemptID != "a2" || recent[0].Error != "no valid path found" {
		t.Fatalf("recent=%+v", recent)
	}
	counts, err := r.StatusCounts(context.Background())
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if counts[captcha.StatusSolved] != 1 || counts[captcha.StatusNoPath] != 1 {
		t.Fatalf("counts=%v", counts)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqOutcome}

	_ = s.WriteOutcome(captcha.Outcome{AttemptID: "x"})
	s.RecordSession(time.Now(), "bot1", "CHAT", "hi")

	st := s.Stats()
	if st.DropOutcomeTotal != 1 || st.DropSessionTotal != 1 {
		t.Fatalf("drops: outcome=%d session=%d", st.DropOutcomeTotal, st.DropSessionTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
