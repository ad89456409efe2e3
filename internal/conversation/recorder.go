package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"researchbuddy/internal/models"
)

// Sink persists interaction records. db.Sink satisfies it.
type Sink interface {
	LogInteraction(ctx context.Context, rec models.InteractionRecord) error
}

// AsyncRecorder writes records on a background goroutine so a slow or failing
// log never delays a turn. Records are dropped when the queue is full.
type AsyncRecorder struct {
	sink    Sink
	logger  zerolog.Logger
	timeout time.Duration

	queue chan models.InteractionRecord
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncRecorder(sink Sink, logger zerolog.Logger, size int) *AsyncRecorder {
	if size <= 0 {
		size = 64
	}
	r := &AsyncRecorder{
		sink:    sink,
		logger:  logger,
		timeout: 5 * time.Second,
		queue:   make(chan models.InteractionRecord, size),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *AsyncRecorder) Record(rec models.InteractionRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn().Str("session_id", rec.SessionID).Msg("interaction log queue full, dropping record")
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.LogInteraction(ctx, rec); err != nil {
			r.logger.Warn().Err(err).Str("session_id", rec.SessionID).Msg("failed to log interaction")
		}
		cancel()
	}
}

// Close flushes queued records and stops the worker.
func (r *AsyncRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
	return nil
}
