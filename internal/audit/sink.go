package audit

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/snackpdf/platform/internal/monitoring"
)

// Sink buffers audit events in memory and writes them to Postgres from a
// background worker. If the buffer is full the event is dropped with a
// local warning; the request path is never delayed.
type Sink struct {
	db     *pgxpool.Pool
	events chan Event
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSink creates a sink with the given buffer size and starts its worker.
func NewSink(db *pgxpool.Pool, bufferSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	s := &Sink{
		db:     db,
		events: make(chan Event, bufferSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Record enqueues an event. Never blocks: on a full buffer the event is
// dropped and counted, matching the documented fire-and-forget contract.
func (s *Sink) Record(_ context.Context, event Event) {
	select {
	case s.events <- event:
		monitoring.SetAuditBufferDepth(len(s.events))
	default:
		monitoring.RecordAuditDropped()
		log.Warn().
			Str("action", event.Action).
			Msg("Audit buffer full, event dropped")
	}
}

// Close drains remaining events and stops the worker.
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.events)
	})
	s.wg.Wait()
}

func (s *Sink) run() {
	defer s.wg.Done()
	for event := range s.events {
		s.write(event)
	}
}

func (s *Sink) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_events (event_id, subject_id, action, allowed, reason, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.EventID, event.SubjectID, event.Action, event.Allowed, event.Reason, event.Timestamp, event.Metadata)
	if err != nil {
		log.Warn().Err(err).
			Str("event_id", event.EventID.String()).
			Str("action", event.Action).
			Msg("Failed to write audit event")
		return
	}
	monitoring.RecordAuditEvent(event.Allowed)
}

// DeleteOlderThan removes events past the retention window. Called by the
// retention sweep; normal operation never deletes audit records.
func (s *Sink) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
