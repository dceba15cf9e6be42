// Package poller follows a recap job until it reaches a terminal state.
package poller

import (
	"context"
	"time"

	"summoner-story/internal/apperror"
	"summoner-story/internal/domain"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxInterval = 5 * time.Second
	DefaultMaxErrors   = 5
)

type StatusSource interface {
	GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error)
}

type Poller struct {
	source      StatusSource
	interval    time.Duration
	maxInterval time.Duration
	maxErrors   int
	logger      zerolog.Logger
}

type Option func(*Poller)

func WithInterval(initial, max time.Duration) Option {
	return func(p *Poller) {
		p.interval = initial
		p.maxInterval = max
	}
}

// WithMaxErrors bounds consecutive transient failures before Wait gives up.
func WithMaxErrors(n int) Option {
	return func(p *Poller) { p.maxErrors = n }
}

func New(source StatusSource, logger zerolog.Logger, opts ...Option) *Poller {
	p := &Poller{
		source:      source,
		interval:    DefaultInterval,
		maxInterval: DefaultMaxInterval,
		maxErrors:   DefaultMaxErrors,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.maxInterval = max(p.maxInterval, p.interval)
	return p
}

// Wait polls jobID until it is completed or failed and returns the terminal status. onUpdate sees
// every status that differs from the previous one. The interval grows by half while nothing changes
// and resets on progress.
func (p *Poller) Wait(ctx context.Context, jobID string, onUpdate func(domain.JobStatus)) (domain.JobStatus, error) {
	var (
		last     domain.JobStatus
		interval = p.interval
		failures int
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timer.C:
		}

		status, err := p.source.GetStatus(ctx, jobID)
		if err != nil {
			if !transient(err) {
				return last, err
			}
			failures++
			if failures >= p.maxErrors {
				return last, err
			}
			p.logger.Debug().Err(err).Int("failures", failures).Str("job_id", jobID).Msg("status poll failed")
			interval = p.grow(interval)
			timer.Reset(interval)
			continue
		}
		failures = 0

		if status.State != last.State || status.Progress != last.Progress {
			interval = p.interval
			if onUpdate != nil {
				onUpdate(status)
			}
		} else {
			interval = p.grow(interval)
		}
		last = status

		if status.State.IsTerminal() {
			return status, nil
		}
		timer.Reset(interval)
	}
}

func (p *Poller) grow(d time.Duration) time.Duration {
	return min(d+d/2, p.maxInterval)
}

func transient(err error) bool {
	switch apperror.KindOf(err) {
	case apperror.KindServiceUnavailable, apperror.KindRateLimited:
		return true
	}
	return false
}
