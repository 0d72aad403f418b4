package domain

import "time"

// Event is an outbound notification for UI collaborators.
// The set is closed: only types in this file implement it.
type Event interface {
	EventName() string
	isEvent()
}

// StatusChanged reports a new evaluation for a context.
// Blocked is set while a block is active so badges can show the snooze state.
type StatusChanged struct {
	ContextID string `json:"context_id"`
	Tier      Tier   `json:"tier"`
	Reason    string `json:"reason"`
	Blocked   bool   `json:"blocked,omitempty"`
}

// BlockActivated is broadcast to every context when a block starts.
type BlockActivated struct {
	BlockEndTime time.Time `json:"block_end_time"`
}

// BlockDeactivated is broadcast when a block ends for any reason.
type BlockDeactivated struct{}

// RedirectRequested asks the navigation collaborator to send a context to the block page.
type RedirectRequested struct {
	ContextID string `json:"context_id"`
}

// CountsUpdated carries the window counts after a message was recorded.
type CountsUpdated struct {
	ContextID string          `json:"context_id"`
	Tier      Tier            `json:"tier"`
	Counts    ViolationCounts `json:"counts"`
}

func (StatusChanged) EventName() string     { return "StatusChanged" }
func (BlockActivated) EventName() string    { return "BlockActivated" }
func (BlockDeactivated) EventName() string  { return "BlockDeactivated" }
func (RedirectRequested) EventName() string { return "RedirectRequested" }
func (CountsUpdated) EventName() string     { return "CountsUpdated" }

func (StatusChanged) isEvent()     {}
func (BlockActivated) isEvent()    {}
func (BlockDeactivated) isEvent()  {}
func (RedirectRequested) isEvent() {}
func (CountsUpdated) isEvent()     {}
