package event

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// DefaultBufferSize is the default buffer of the in-memory bus channel.
const DefaultBufferSize = 100

// Bus is a thread-safe in-memory typed event bus. Rule and certificate
// lifecycle changes flow through it instead of ad-hoc module-level emitters,
// so subscribers (dashboards, webhooks) attach without the engine knowing
// about them.
type Bus struct {
	ch     chan Event
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the channel buffer. Default is DefaultBufferSize.
func WithBufferSize(size int) BusOption {
	return func(b *Bus) {
		if size > 0 {
			b.ch = make(chan Event, size)
		}
	}
}

// WithLogger sets the structured logger. Logging is disabled by default.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an in-memory event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		ch:     make(chan Event, DefaultBufferSize),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish wraps the payload in an Event and sends it on the bus. It blocks
// only when the buffer is full, and respects context cancellation.
func (b *Bus) Publish(ctx context.Context, payload any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	evt := NewEvent(payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.ch <- evt:
		b.logger.DebugContext(ctx, "event published",
			slog.String("event", evt.Name))
		return nil
	}
}

// Events returns the read-only event stream. The channel is closed by Close.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close shuts the bus down. Publish returns ErrBusClosed afterwards.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	close(b.ch)
	return nil
}
