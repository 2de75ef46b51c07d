package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/proxykit/core/event"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	evt := event.NewEvent(event.CertificateIssued{CertificateID: "cert-1", Domain: "a.example.com"})
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "CertificateIssued", evt.Name)
	assert.False(t, evt.CreatedAt.IsZero())

	payload, ok := evt.Payload.(event.CertificateIssued)
	require.True(t, ok)
	assert.Equal(t, "cert-1", payload.CertificateID)

	// Pointer payloads resolve to the same name.
	ptr := event.NewEvent(&event.ConfigApplied{RuleCount: 2})
	assert.Equal(t, "ConfigApplied", ptr.Name)

	assert.Equal(t, "unknown", event.NewEvent(nil).Name)
}

func TestBusPublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, event.CertificateRenewed{CertificateID: "cert-1", Domain: "a.example.com"}))
	require.NoError(t, bus.Publish(ctx, event.ConfigApplied{RuleCount: 3}))

	first := <-bus.Events()
	assert.Equal(t, "CertificateRenewed", first.Name)
	second := <-bus.Events()
	assert.Equal(t, "ConfigApplied", second.Name)
}

func TestBusPublishRespectsContext(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(event.WithBufferSize(1))
	t.Cleanup(func() { _ = bus.Close() })

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, event.ConfigApplied{}))

	// Buffer full and nobody reading: a cancelled context unblocks.
	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := bus.Publish(cancelled, event.ConfigApplied{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusClose(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	require.NoError(t, bus.Publish(context.Background(), event.ConfigApplied{}))
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), event.ConfigApplied{}), event.ErrBusClosed)
	assert.ErrorIs(t, bus.Close(), event.ErrBusClosed)

	// Buffered events drain, then the channel reports closed.
	_, ok := <-bus.Events()
	assert.True(t, ok)
	_, ok = <-bus.Events()
	assert.False(t, ok)
}
