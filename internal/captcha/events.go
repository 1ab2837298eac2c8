package captcha

import "time"

// Event kinds written to the attempt log.
const (
	EventStart    = "START"
	EventGrid     = "GRID"
	EventPath     = "PATH"
	EventWaypoint = "WAYPOINT"
	EventDone     = "DONE"
)

// Outcome statuses recorded once per attempt.
const (
	StatusSolved       = "SOLVED"
	StatusNoPath       = "NO_PATH"
	StatusStuck        = "STUCK"
	StatusCanceled     = "CANCELED"
	StatusPrecondition = "PRECONDITION"
	StatusFailed       = "FAILED"
)

// Event is one line of an attempt's history.
type Event struct {
	AttemptID string    `json:"attempt_id"`
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`

	Tiles    int       `json:"tiles,omitempty"`
	Rejected int       `json:"rejected,omitempty"`
	Path     []string  `json:"path,omitempty"`
	Index    int       `json:"index,omitempty"`
	Key      string    `json:"key,omitempty"`
	Pos      []float64 `json:"pos,omitempty"`
	Final    bool      `json:"final,omitempty"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Outcome summarises a finished attempt.
type Outcome struct {
	AttemptID string
	Agent     string
	StartedAt time.Time
	Elapsed   time.Duration
	Status    string
	Tiles     int
	PathLen   int
	Error     string
}

type EventSink interface {
	WriteEvent(ev Event) error
}

type OutcomeSink interface {
	WriteOutcome(o Outcome) error
}
