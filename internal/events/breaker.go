package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safar/storefront/internal/metrics"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MinRequests uint32
	// FailureRatio trips the breaker once at least MinRequests were seen.
	FailureRatio float64
}

func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:         name,
		MaxRequests:  3,
		Interval:     15 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

// BreakerPublisher guards a Publisher with a circuit breaker.
type BreakerPublisher struct {
	name string
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(next Publisher, st BreakerSettings, logger log.FieldLogger) *BreakerPublisher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.MaxRequests,
		Interval:    st.Interval,
		Timeout:     st.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < st.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= st.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			logger.WithFields(log.Fields{
				"circuit": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	metrics.CircuitBreakerState.WithLabelValues(st.Name).Set(0)

	return &BreakerPublisher{name: st.Name, next: next, cb: cb}
}

func (p *BreakerPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, routingKey, payload)
	})
	if err != nil {
		metrics.EventPublishFailures.WithLabelValues(routingKey).Inc()
		return formatError(p.name, err)
	}
	return nil
}

func (p *BreakerPublisher) State() gobreaker.State {
	return p.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func formatError(name string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return fmt.Errorf("circuit breaker %s is open: %w", name, err)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("circuit breaker %s is half-open and saturated: %w", name, err)
	}
	return err
}
