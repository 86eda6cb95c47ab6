package server

import (
	"time"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
)

// State is the connection state machine.
type State int

const (
	StateNew State = iota
	StateWaitingHello
	StateProcessMessages
	StateFinished
)

var stateNames = [...]string{"New", "WaitingHello", "ProcessMessages", "Finished"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// sessionState is guarded by Session.mu.
type sessionState struct {
	state                 State
	status                codec.StatusCode
	clientProtocolVersion uint32
	channelID             uint32
	tokenID               uint32
	prevTokenID           uint32
	tokenCreatedAt        time.Time
	revisedLifetime       uint32
	aborted               bool
	startedAt             time.Time
	lastActivity          time.Time
	requests              uint64
}

// SessionInfo is the admin view of one session.
type SessionInfo struct {
	ID              string    `json:"id"`
	Remote          string    `json:"remote"`
	State           State     `json:"state"`
	Status          string    `json:"status"`
	ChannelID       uint32    `json:"channel_id"`
	TokenID         uint32    `json:"token_id"`
	RevisedLifetime uint32    `json:"revised_lifetime_ms"`
	StartedAt       time.Time `json:"started_at"`
	LastActivity    time.Time `json:"last_activity"`
	Requests        uint64    `json:"requests"`
	Aborted         bool      `json:"aborted"`
}
