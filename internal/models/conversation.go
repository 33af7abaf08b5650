package models

import "time"

// EventDirection discriminates inbound from outbound conversation traffic.
type EventDirection string

const (
	DirectionInbound  EventDirection = "inbound"
	DirectionOutbound EventDirection = "outbound"
)

// ConversationEvent is one entry of the append-and-query event stream
// feeding observability subscriptions, owned by C9.
type ConversationEvent struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"sessionId"`
	Source    string                 `json:"source"`
	Channel   string                 `json:"channel"`
	Direction EventDirection         `json:"direction"`
	Kind      string                 `json:"kind"`
	Text      string                 `json:"text"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// EventFilter bounds a ConversationEvent query, per §4.9.
type EventFilter struct {
	SessionID  string
	Kinds      []string
	Sources    []string
	Channels   []string
	Directions []string
	Text       string
	Since      *time.Time
	Until      *time.Time
	Limit      int
}
