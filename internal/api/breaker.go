package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

type BreakerConfig struct {
	// Window is the cyclic period after which closed-state outcomes are forgotten.
	Window    time.Duration
	MinCalls  int
	ErrorRate float64
	Cooldown  time.Duration
}

// Breaker guards upstream attempts. It opens once MinCalls outcomes were seen within the current
// window and the failure ratio reaches ErrorRate, rejects calls for Cooldown, then admits a single
// probe to decide whether to close again.
type Breaker struct {
	cb *gobreaker.TwoStepCircuitBreaker[struct{}]
}

func NewBreaker(cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	minCalls := uint32(max(cfg.MinCalls, 1))
	return &Breaker{
		cb: gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "riot-api",
			MaxRequests: 1,
			Interval:    cfg.Window,
			Timeout:     cfg.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				// Requests also counts attempts still in flight
				total := counts.TotalSuccesses + counts.TotalFailures
				if total < minCalls {
					return false
				}
				return float64(counts.TotalFailures)/float64(total) >= cfg.ErrorRate
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		}),
	}
}

// Allow admits one attempt. done must be called exactly once with the attempt's outcome; outcomes of
// attempts admitted before the last state change are ignored.
func (b *Breaker) Allow() (done func(success bool), err error) {
	done, err = b.cb.Allow()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return done, nil
}

func (b *Breaker) State() BreakerState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}
