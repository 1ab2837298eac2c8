package viewerproto

// Version is the debug viewer protocol version (separate from the world protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeDrawLine  = "DRAW_LINE"
	TypeClear     = "CLEAR"
)

// Client -> Server. First message on the viewer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// Server -> Client. A line with an already known name replaces it.
type DrawLineMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Name            string       `json:"name"`
	Points          [][3]float64 `json:"points"`
	// Color is 0xRRGGBB.
	Color uint32 `json:"color"`
}

// Server -> Client. Drops every line drawn so far.
type ClearMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// HTTP response for GET /v1/viewer/geometry.
type GeometryResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	Lines           []DrawLineMsg `json:"lines"`
}
