// Package review implements the review queue: the non-blocking inbox
// through which humans make the decisions the engine cannot. The engine
// only ever submits items and polls for resolved ones; it never waits
// synchronously on a reply. Resolved items feed L3→L4 sign-offs and
// challenge resolutions back into the engine.
package review

import (
	"context"
	"time"

	"github.com/c360studio/veriflow/verify"
	"github.com/google/uuid"
)

// ItemStatus represents the lifecycle state of a queue item.
type ItemStatus string

const (
	// ItemStatusPending means the item awaits a human decision.
	ItemStatusPending ItemStatus = "pending"

	// ItemStatusResolved means a decision was recorded.
	ItemStatusResolved ItemStatus = "resolved"

	// ItemStatusExpired means the item aged out undecided.
	ItemStatusExpired ItemStatus = "expired"
)

// IsValid returns true if the status is a known value.
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusResolved, ItemStatusExpired:
		return true
	}
	return false
}

// Item is one queued decision request.
type Item struct {
	// ID is the queue item identifier ("rq-" prefix).
	ID string `json:"id"`

	// UnitID is the unit the question concerns.
	UnitID string `json:"unit_id"`

	// Question is what the human is asked to decide.
	Question string `json:"question"`

	// Options enumerates the allowed decisions.
	Options []string `json:"options,omitempty"`

	// Status tracks the item lifecycle.
	Status ItemStatus `json:"status"`

	// Decision is the recorded choice. Empty while pending.
	Decision string `json:"decision,omitempty"`

	// DecidedBy identifies the deciding human.
	DecidedBy string `json:"decided_by,omitempty"`

	// Cursor is the item's position in the resolution order, used by
	// PollResolved to deliver each decision exactly once.
	Cursor uint64 `json:"cursor,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// NewItem creates a pending queue item.
func NewItem(unitID, question string, options []string) *Item {
	return &Item{
		ID:        "rq-" + uuid.New().String()[:8],
		UnitID:    unitID,
		Question:  question,
		Options:   options,
		Status:    ItemStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the item for structural validity.
func (i *Item) Validate() error {
	if i.ID == "" {
		return &verify.ValidationError{Field: "id", Message: "id is required"}
	}
	if err := verify.ValidateUnitID(i.UnitID); err != nil {
		return &verify.ValidationError{Field: "unit_id", Message: "invalid unit id"}
	}
	if i.Question == "" {
		return &verify.ValidationError{Field: "question", Message: "question is required"}
	}
	if !i.Status.IsValid() {
		return &verify.ValidationError{Field: "status", Message: "unknown status: " + string(i.Status)}
	}
	return nil
}

// AllowsDecision reports whether a decision is among the item's declared
// options. Items without options accept any decision.
func (i *Item) AllowsDecision(decision string) bool {
	if len(i.Options) == 0 {
		return true
	}
	for _, opt := range i.Options {
		if opt == decision {
			return true
		}
	}
	return false
}

// Resolution is one decided item as discovered by PollResolved.
type Resolution struct {
	ItemID    string    `json:"item_id"`
	UnitID    string    `json:"unit_id"`
	Decision  string    `json:"decision"`
	DecidedBy string    `json:"decided_by"`
	Cursor    uint64    `json:"cursor"`
	DecidedAt time.Time `json:"decided_at"`
}

// Queue is the contract the engine consumes: submit is non-blocking,
// and resolutions are discovered by cursor-based polling.
type Queue interface {
	// Submit enqueues a decision request and returns the item id.
	Submit(ctx context.Context, unitID, question string, options []string) (string, error)

	// PollResolved returns decisions with a cursor greater than the
	// given one, in cursor order.
	PollResolved(ctx context.Context, sinceCursor uint64) ([]Resolution, error)
}
