// Package log persists solver and session history as zstd-compressed JSONL
// files rotated by the hour.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"gridwalk.ai/internal/captcha"
)

const fileSuffix = ".jsonl.zst"

// JSONLZstdWriter appends JSON values to <dir>/<prefix>-<hour>.jsonl.zst,
// opening a new file whenever the UTC hour changes. A file becomes readable
// once it is rotated out or the writer is closed.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	hour string
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func NewJSONLZstdWriter(dir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if hour := w.now().UTC().Format("2006-01-02-15"); hour != w.hour {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	b = append(b, '\n')
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) openLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(w.dir, fmt.Sprintf("%s-%s%s", w.prefix, hour, fileSuffix))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.hour = f, enc, hour
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.buf != nil {
		err = w.buf.Flush()
		w.buf = nil
	}
	if w.enc != nil {
		err = errors.Join(err, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		err = errors.Join(err, w.f.Close())
		w.f = nil
	}
	w.hour = ""
	return err
}

// Files lists the rotated files for prefix under dir, oldest first.
func Files(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, prefix+"-") || !strings.HasSuffix(n, fileSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, n))
	}
	sort.Strings(out)
	return out, nil
}

// ReadLines decodes every JSONL line of one compressed file, calling fn with
// the raw line.
func ReadLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// AttemptLogger writes one entry per solver event under <dataDir>/attempts.
type AttemptLogger struct{ w *JSONLZstdWriter }

func NewAttemptLogger(dataDir string) *AttemptLogger {
	return &AttemptLogger{w: NewJSONLZstdWriter(AttemptDir(dataDir), "attempts")}
}

func AttemptDir(dataDir string) string { return filepath.Join(dataDir, "attempts") }

func (l *AttemptLogger) WriteEvent(ev captcha.Event) error { return l.w.Write(ev) }
func (l *AttemptLogger) Close() error                      { return l.w.Close() }

// ReadAttempts decodes every attempt event under dataDir in file order.
func ReadAttempts(dataDir string) ([]captcha.Event, error) {
	files, err := Files(AttemptDir(dataDir), "attempts")
	if err != nil {
		return nil, err
	}
	var out []captcha.Event
	for _, p := range files {
		err := ReadLines(p, func(line []byte) error {
			var ev captcha.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				return err
			}
			out = append(out, ev)
			return nil
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

type SessionEntry struct {
	At    time.Time `json:"at"`
	Agent string    `json:"agent"`
	Kind  string    `json:"kind"`
	Text  string    `json:"text,omitempty"`
}

// SessionLogger records session lifecycle entries under <dataDir>/session.
type SessionLogger struct{ w *JSONLZstdWriter }

func NewSessionLogger(dataDir string) *SessionLogger {
	return &SessionLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "session"), "session")}
}

func (l *SessionLogger) WriteSession(e SessionEntry) error { return l.w.Write(e) }
func (l *SessionLogger) Close() error                      { return l.w.Close() }
