package events

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerPublisherTripsAfterFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	calls := 0
	failing := PublisherFunc(func(context.Context, string, any) error {
		calls++
		return errors.New("broker unreachable")
	})

	st := DefaultBreakerSettings("rabbit-test-trip")
	st.Timeout = time.Hour
	pub := NewBreakerPublisher(failing, st, logger)

	for i := 0; i < 3; i++ {
		require.Error(t, pub.Publish(context.Background(), RKOrderPlaced, OrderPlacedPayload{OrderID: 1}))
	}
	assert.Equal(t, gobreaker.StateOpen, pub.State())
	assert.Equal(t, 3, calls)

	err := pub.Publish(context.Background(), RKOrderPlaced, OrderPlacedPayload{OrderID: 2})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, calls, "open breaker must not reach the broker")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, log.WarnLevel, hook.LastEntry().Level)
}

func TestBreakerPublisherPassesThrough(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var gotKey string
	var gotPayload any
	ok := PublisherFunc(func(_ context.Context, rk string, payload any) error {
		gotKey = rk
		gotPayload = payload
		return nil
	})

	pub := NewBreakerPublisher(ok, DefaultBreakerSettings("rabbit-test-pass"), logger)
	payload := OrderStatusChangedPayload{OrderID: 7, From: "pending", To: "shipped"}

	require.NoError(t, pub.Publish(context.Background(), RKOrderStatusChanged, payload))
	assert.Equal(t, RKOrderStatusChanged, gotKey)
	assert.Equal(t, payload, gotPayload)
	assert.Equal(t, gobreaker.StateClosed, pub.State())
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, Noop{}.Publish(context.Background(), RKOrderPlaced, nil))
}
