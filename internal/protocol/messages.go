package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	AgentName       string            `json:"agent_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type               string             `json:"type"`
	ProtocolVersion    string             `json:"protocol_version"`
	AgentID            string             `json:"agent_id"`
	ResumeToken        string             `json:"resume_token"`
	ServerCapabilities ServerCapabilities `json:"server_capabilities"`
	WorldParams        WorldParams        `json:"world_params"`
}

type ServerCapabilities struct {
	// ControlStates means the server honours CONTROL instants.
	ControlStates bool `json:"control_states,omitempty"`
	// MoveTo means the server runs MOVE_TO tasks server-side.
	MoveTo bool `json:"move_to,omitempty"`
}

type WorldParams struct {
	TickRateHz int   `json:"tick_rate_hz"`
	Seed       int64 `json:"seed"`
}
