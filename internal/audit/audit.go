// Package audit provides the append-only event sink. Writes are
// fire-and-forget: a failure to record is logged locally and swallowed,
// never propagated to the request path.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable audit record. Created once per policy decision
// or notable platform action; never updated after the fact.
type Event struct {
	EventID   uuid.UUID      `json:"event_id"`
	SubjectID *string        `json:"subject_id"`
	Action    string         `json:"action"`
	Allowed   bool           `json:"allowed"`
	Reason    *string        `json:"reason"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Recorder accepts audit events. Implementations must never block the
// caller and must never return an error to the request path.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// NewEvent builds an event with a fresh id. A nil subjectID marks an
// anonymous or system event. The reason pointer is nil when allowed.
func NewEvent(subjectID *string, action string, allowed bool, reason string, now time.Time, metadata map[string]any) Event {
	var reasonPtr *string
	if !allowed && reason != "" {
		reasonPtr = &reason
	}
	return Event{
		EventID:   uuid.New(),
		SubjectID: subjectID,
		Action:    action,
		Allowed:   allowed,
		Reason:    reasonPtr,
		Timestamp: now,
		Metadata:  metadata,
	}
}
