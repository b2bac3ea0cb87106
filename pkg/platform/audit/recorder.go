package audit

import (
	"context"
	"log/slog"
	"time"
)

// Recorder is the producer side of the audit pipeline. Emission is
// non-blocking: transitions are already committed by the time events are
// recorded, so a full buffer drops the event (with a warning) rather than
// stalling the caller.
type Recorder struct {
	inbox  chan Event
	logger *slog.Logger
}

// NewRecorder builds a recorder with a buffered inbox. Drain the channel
// with a Worker.
func NewRecorder(buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{inbox: make(chan Event, buffer), logger: logger}
}

// Inbox exposes the consumer end for the worker.
func (r *Recorder) Inbox() <-chan Event { return r.inbox }

// Emit enqueues an event, stamping the timestamp and category when unset.
func (r *Recorder) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = AuditEvent(event.Action).Category()
	}
	select {
	case r.inbox <- event:
	default:
		r.logger.WarnContext(ctx, "audit inbox full, dropping event",
			"action", event.Action,
			"subject", event.Subject,
		)
	}
}
