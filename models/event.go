package models

import (
	"time"
)

// EventKind identifies what a student did
type EventKind string

const (
	EventKindXPGain        EventKind = "xp_gain"
	EventKindQuestProgress EventKind = "quest_progress"
	EventKindQuestComplete EventKind = "quest_complete"
	EventKindBadgeUnlock   EventKind = "badge_unlock"
)

// ValidEventKind reports whether k is one of the known kinds.
func ValidEventKind(k EventKind) bool {
	switch k {
	case EventKindXPGain, EventKindQuestProgress, EventKindQuestComplete, EventKindBadgeUnlock:
		return true
	}
	return false
}

// Milestone kinds are discrete state transitions and are never merged by the
// coalescer (a badge cannot be unlocked "twice as hard").
func (k EventKind) Milestone() bool {
	return k == EventKindQuestComplete || k == EventKindBadgeUnlock
}

// SyncState tracks an event's journey to the server
type SyncState string

const (
	SyncStatePending     SyncState = "pending"
	SyncStateInFlight    SyncState = "in_flight"
	SyncStateSynced      SyncState = "synced"
	SyncStateFailed      SyncState = "failed"      // retryable, next_retry_at set
	SyncStateQuarantined SyncState = "quarantined" // retry cap hit, surfaced to reporter
)

// EventPayload holds the kind-specific fields, flattened into columns so the
// coalescer can aggregate without deserializing anything.
type EventPayload struct {
	Amount  int64  `gorm:"default:0" json:"amount,omitempty"`   // xp_gain
	QuestID string `gorm:"type:varchar(64)" json:"quest_id,omitempty"` // quest_progress, quest_complete
	Delta   int64  `gorm:"default:0" json:"delta,omitempty"`    // quest_progress
	BadgeID string `gorm:"type:varchar(64)" json:"badge_id,omitempty"` // badge_unlock
}

// GameEvent is the unit of durable work. The client-generated ID is the
// idempotency key; the server treats a repeated ID as a no-op. An event is
// never mutated after creation except for its sync bookkeeping columns.
type GameEvent struct {
	ID        string       `gorm:"primaryKey;type:uuid" json:"id"`
	Kind      EventKind    `gorm:"type:varchar(32);not null;index" json:"kind"`
	StudentID string       `gorm:"type:varchar(64);not null;index" json:"student_id"`
	Payload   EventPayload `gorm:"embedded;embeddedPrefix:payload_" json:"payload"`

	// BatchKey pins the event to the transmission batch (and idempotency key)
	// it was first handed to the transport under. Empty until then. A pinned
	// event only ever retries inside that same batch.
	BatchKey string `gorm:"type:uuid;index" json:"batch_key,omitempty"`

	SyncState   SyncState  `gorm:"type:varchar(16);not null;default:'pending';index" json:"sync_state"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CoalescedBatch is the ephemeral, transmission-only view of one or more
// pending events. EventID is the batch's idempotency key: the pinned BatchKey
// of its sources once they have been transmitted, otherwise the ID of the
// first contributing original. A retried batch therefore presents the same
// key and the same membership to the server every time; SourceIDs lists every
// original so per-event accept/reject statuses can be mapped back.
type CoalescedBatch struct {
	EventID   string    `json:"event_id"`
	Kind      EventKind `json:"kind"`
	StudentID string    `json:"student_id"`
	Amount    int64     `json:"amount,omitempty"`
	QuestID   string    `json:"quest_id,omitempty"`
	Delta     int64     `json:"delta,omitempty"`
	BadgeID   string    `json:"badge_id,omitempty"`
	Count     int       `json:"count"`
	SourceIDs []string  `json:"source_ids"`
	CreatedAt time.Time `json:"created_at"`
}
