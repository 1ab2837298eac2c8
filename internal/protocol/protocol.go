package protocol

import "encoding/json"

const Version = "0.9"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeObs     = "OBS"
	TypeAct     = "ACT"
)

// Instant and task types carried by ACT.
const (
	InstantControl = "CONTROL"
	InstantSay     = "SAY"

	TaskMoveTo = "MOVE_TO"
)

// Event types carried by OBS.
const (
	EventChat         = "CHAT"
	EventActionResult = "ACTION_RESULT"
	EventTaskDone     = "TASK_DONE"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsSupportedVersion(v string) bool {
	return v == Version
}
