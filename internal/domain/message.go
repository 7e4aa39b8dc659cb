package domain

import "time"

const (
	MinPriority     = 0
	MaxPriority     = 99
	DefaultPriority = 0

	// PriorityUnset asks for DefaultPriority.
	PriorityUnset = -1
)

type MessageState string

const (
	StatePending  MessageState = "pending"
	StateDelayed  MessageState = "delayed"
	StateInFlight MessageState = "unacked"
)

// Message is the engine-level view of a queued work item. Delay is only
// read on push; Priority is filled in on poll.
type Message struct {
	ID       string        `json:"id"`
	Payload  []byte        `json:"payload,omitempty"`
	Priority int           `json:"priority"`
	Delay    time.Duration `json:"delay,omitempty"`
}

// ValidPriority reports whether p can be stored as is.
func ValidPriority(p int) bool {
	return p >= MinPriority && p <= MaxPriority
}
