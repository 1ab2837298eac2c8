package protocol

import "encoding/json"

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`

	Self     SelfObs     `json:"self"`
	Entities []EntityObs `json:"entities"`
	Events   []Event     `json:"events"`
}

type SelfObs struct {
	Pos [3]float64 `json:"pos"`
	Yaw float64    `json:"yaw"`
}

// EntityObs is one world entity as the server encodes it. Metadata is keyed
// by slot number ("11", "12", "23", ...) and left raw; see grid.Decode.
type EntityObs struct {
	ID       string                     `json:"id"`
	Name     string                     `json:"name"`
	Pos      [3]float64                 `json:"pos"`
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

type Event map[string]interface{}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	AgentID         string       `json:"agent_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
	Tasks           []TaskReq    `json:"tasks,omitempty"`
	Cancel          []string     `json:"cancel,omitempty"`
}

type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// CONTROL
	Control string `json:"control,omitempty"`
	State   bool   `json:"state,omitempty"`

	// SAY
	Text string `json:"text,omitempty"`
}

type TaskReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Target    [3]int  `json:"target,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`
}
