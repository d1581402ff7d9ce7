// Package events defines event types and enumerations for the pokeproto event system.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventPeerConnected    EventType = "peer_connected"
	EventBattleStarted    EventType = "battle_started"
	EventGameOver         EventType = "game_over"
	EventConnectionFailed EventType = "connection_failed"
	EventShutdown         EventType = "shutdown"

	// Turn events
	EventTurnResolved EventType = "turn_resolved"
	EventDiscrepancy  EventType = "calculation_discrepancy"

	// Chat events
	EventChatReceived    EventType = "chat_received"
	EventStickerReceived EventType = "sticker_received"

	// Frame-level events (verbose tracing and the live observer feed)
	EventFrameSent     EventType = "frame_sent"
	EventFrameReceived EventType = "frame_received"
)

// Role identifies how this peer participates in a session.
type Role int

const (
	RoleHost Role = iota
	RoleJoiner
	RoleSpectator
)

// roleStrings maps Role values to their lowercase JSON string representation.
var roleStrings = map[Role]string{
	RoleHost:      "host",
	RoleJoiner:    "joiner",
	RoleSpectator: "spectator",
}

// String returns the string representation of Role.
func (r Role) String() string {
	if str, ok := roleStrings[r]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes Role as a JSON string (e.g. "host").
func (r Role) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PeerConnectedPayload is emitted once the handshake completes.
type PeerConnectedPayload struct {
	Role     Role   `json:"role"`
	PeerName string `json:"peer_name"`
	Addr     string `json:"addr"`
	Seed     uint32 `json:"seed"`
}

// BattleStartedPayload is emitted when both battle setups are accounted for.
type BattleStartedPayload struct {
	SessionID string `json:"session_id"`
	MyName    string `json:"my_name"`
	OppName   string `json:"opp_name"`
	MyHP      int    `json:"my_hp"`
	OppHP     int    `json:"opp_hp"`
	MyTurn    bool   `json:"my_turn"`
}

// TurnResolvedPayload is emitted after a confirmed damage application.
type TurnResolvedPayload struct {
	Attacker        string  `json:"attacker"`
	Defender        string  `json:"defender"`
	Move            string  `json:"move"`
	Damage          int     `json:"damage"`
	DefenderHPAfter int     `json:"defender_hp_after"`
	TypeMultiplier  float64 `json:"type_multiplier"`
	MyHP            int     `json:"my_hp"`
	OppHP           int     `json:"opp_hp"`
	MyTurnNext      bool    `json:"my_turn_next"`
}

// DiscrepancyPayload is emitted when the peers disagree on computed damage.
type DiscrepancyPayload struct {
	LocalDamage  int `json:"local_damage"`
	RemoteDamage int `json:"remote_damage"`
	LocalHPAfter int `json:"local_hp_after"`
}

// GameOverPayload carries the final battle outcome.
type GameOverPayload struct {
	SessionID string `json:"session_id"`
	Winner    string `json:"winner"`
	Loser     string `json:"loser"`
}

// ConnectionFailedPayload is emitted when a message exhausts its retries.
type ConnectionFailedPayload struct {
	Seq  uint32 `json:"seq"`
	Kind string `json:"kind"`
}

// ChatPayload carries a received text chat message.
type ChatPayload struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// StickerPayload carries a received, already-decoded sticker image.
type StickerPayload struct {
	From string `json:"from"`
	Data []byte `json:"-"`
	Size int    `json:"size"`
}

// FramePayload describes a single sent or received datagram. Summary is
// a human-readable one-liner used by the spectator display and the live
// observer feed.
type FramePayload struct {
	MessageType string `json:"message_type"`
	Seq         uint32 `json:"seq"`
	Addr        string `json:"addr"`
	Size        int    `json:"size"`
	Summary     string `json:"summary,omitempty"`
}
