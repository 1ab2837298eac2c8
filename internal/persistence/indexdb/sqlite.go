// Package indexdb keeps a queryable SQLite index of solve attempts next to
// the JSONL attempt logs. The logs stay the source of truth; the index drops
// rows rather than stall the bot when its writer falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gridwalk.ai/internal/captcha"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropOutcome atomic.Uint64
	dropSession atomic.Uint64
}

type reqKind int

const (
	reqOutcome reqKind = iota + 1
	reqSession
)

type req struct {
	kind    reqKind
	outcome captcha.Outcome
	session sessionRow
}

type sessionRow struct {
	At    time.Time
	Agent string
	Kind  string
	Text  string
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropOutcomeTotal uint64
	DropSessionTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, 4096)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			attempt_id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			started_at TEXT NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			status TEXT NOT NULL,
			tiles INTEGER NOT NULL,
			path_len INTEGER NOT NULL,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts(status, started_at);`,
		`CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			agent TEXT NOT NULL,
			kind TEXT NOT NULL,
			text TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_agent_at ON session_events(agent, at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteOutcome queues one attempt row. It never blocks.
func (s *SQLiteIndex) WriteOutcome(o captcha.Outcome) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqOutcome, outcome: o}:
	default:
		s.dropOutcome.Add(1)
	}
	return nil
}

// RecordSession queues one session lifecycle row.
func (s *SQLiteIndex) RecordSession(at time.Time, agent, kind, text string) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSession, session: sessionRow{At: at, Agent: agent, Kind: kind, Text: text}}:
	default:
		s.dropSession.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropOutcomeTotal: s.dropOutcome.Load(),
		DropSessionTotal: s.dropSession.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insertAttempt, _ := s.db.Prepare(`INSERT OR REPLACE INTO attempts(attempt_id,agent,started_at,elapsed_ms,status,tiles,path_len,error) VALUES(?,?,?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT INTO session_events(at,agent,kind,text) VALUES(?,?,?,?)`)
	defer func() {
		if insertAttempt != nil {
			_ = insertAttempt.Close()
		}
		if insertSession != nil {
			_ = insertSession.Close()
		}
	}()

	var (
		tx          *sql.Tx
		ops         int
		lastCommit  = time.Now()
		commitEvery = 64
		maxWait     = time.Second
	)
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		ops = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if tx == nil {
			txx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			tx = txx
		}
		var err error
		switch r.kind {
		case reqOutcome:
			o := r.outcome
			if insertAttempt != nil {
				_, err = tx.Stmt(insertAttempt).Exec(
					o.AttemptID,
					o.Agent,
					o.StartedAt.UTC().Format(time.RFC3339Nano),
					o.Elapsed.Milliseconds(),
					o.Status,
					o.Tiles,
					o.PathLen,
					nullable(o.Error),
				)
			}
		case reqSession:
			e := r.session
			if insertSession != nil {
				_, err = tx.Stmt(insertSession).Exec(e.At.UTC().Format(time.RFC3339Nano), e.Agent, e.Kind, nullable(e.Text))
			}
		}
		if err != nil {
			_ = tx.Rollback()
			tx = nil
			ops = 0
			continue
		}
		ops++
		// Commit eagerly once the queue drains so readers see recent attempts.
		if ops >= commitEvery || time.Since(lastCommit) >= maxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
