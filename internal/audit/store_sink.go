package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// StoreSink appends events to a Store. Append failures are logged and
// counted; they never reach the operation that emitted the event.
type StoreSink struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	failed  atomic.Uint64
}

func NewStoreSink(store Store, timeout time.Duration, logger *slog.Logger) *StoreSink {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &StoreSink{store: store, timeout: timeout, logger: logger}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.store.Append(ctx, event); err != nil {
		s.failed.Add(1)
		s.logger.Error("audit append failed",
			"event", event.EventType,
			"event_id", event.ID,
			"identity_id", event.IdentityID,
			"error", err,
		)
	}
}

// Failed reports how many events could not be persisted.
func (s *StoreSink) Failed() uint64 {
	if s == nil {
		return 0
	}
	return s.failed.Load()
}
