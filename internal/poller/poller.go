// Package poller drives a server-side job to a terminal state by repeatedly
// reading its status.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Outcome classifies a single status read.
type Outcome int

const (
	Pending Outcome = iota
	Succeeded
	Failed
)

const defaultFailureMessage = "job failed"

var ErrTimeout = errors.New("poll attempts exhausted")

// FailedError is returned when the server reports a terminal failure.
type FailedError struct {
	ID      string
	Message string
}

func (e *FailedError) Error() string {
	return e.Message
}

// TransportError wraps a status read that could not be completed. The poller
// stops on the first one.
type TransportError struct {
	ID      string
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("status read %d for %s: %v", e.Attempt, e.ID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Config bounds a poll. MaxAttempts of 0 times out without reading.
// Backoff > 1 grows the interval geometrically up to MaxInterval; the zero
// value keeps it fixed.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Backoff     float64
	MaxInterval time.Duration
}

type FetchFunc[T any] func(ctx context.Context, id string) (T, error)

// ClassifyFunc maps a status payload to an Outcome. For Failed, the returned
// message is reported to the caller; empty falls back to a generic one.
type ClassifyFunc[T any] func(T) (Outcome, string)

// Clock is the timer source; tests substitute a fake.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// RealClock returns the wall-clock timer source.
func RealClock() Clock {
	return realClock{}
}

type Poller[T any] struct {
	name     string
	cfg      Config
	fetch    FetchFunc[T]
	classify ClassifyFunc[T]
	clock    Clock
	log      *slog.Logger
	inflight singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the loop context shared by every caller polling one id. It is
// cancelled once the last caller has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type Option[T any] func(*Poller[T])

func WithClock[T any](clock Clock) Option[T] {
	return func(p *Poller[T]) {
		p.clock = clock
	}
}

func WithLogger[T any](log *slog.Logger) Option[T] {
	return func(p *Poller[T]) {
		p.log = log
	}
}

func New[T any](name string, cfg Config, fetch FetchFunc[T], classify ClassifyFunc[T], opts ...Option[T]) *Poller[T] {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	p := &Poller[T]{
		name:     name,
		cfg:      cfg,
		fetch:    fetch,
		classify: classify,
		clock:    realClock{},
		log:      slog.Default(),
		flights:  make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll reads the status of id until it is terminal, a read fails, the
// attempt budget is spent or ctx is done. Concurrent calls for the same id
// share one loop and its result. Each caller is released by its own ctx; the
// loop stops once every caller has been released.
func (p *Poller[T]) Poll(ctx context.Context, id string) (T, error) {
	var zero T
	f := p.join(ctx, id)
	defer p.leave(id, f)

	for {
		ch := p.inflight.DoChan(id, func() (any, error) {
			return p.run(f.ctx, id)
		})
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			// a loop abandoned by its callers finished just as we joined it
			if res.Err == context.Canceled && ctx.Err() == nil && f.ctx.Err() == nil {
				continue
			}
			if res.Shared {
				p.log.Debug("joined outstanding poll", "poller", p.name, "id", id)
			}
			result, _ := res.Val.(T)
			return result, res.Err
		}
	}
}

func (p *Poller[T]) join(ctx context.Context, id string) *flight {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.flights[id]
	if f == nil {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: loopCtx, cancel: cancel}
		p.flights[id] = f
	}
	f.waiters++
	return f
}

func (p *Poller[T]) leave(id string, f *flight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if p.flights[id] == f {
		delete(p.flights, id)
	}
}

func (p *Poller[T]) run(ctx context.Context, id string) (T, error) {
	var zero T
	interval := p.cfg.Interval

	for attempts := 0; ; {
		if attempts >= p.cfg.MaxAttempts {
			p.log.Warn("poll timed out", "poller", p.name, "id", id, "attempts", attempts)
			return zero, ErrTimeout
		}

		payload, err := p.fetch(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			p.log.Error("status read failed", "poller", p.name, "id", id, "attempt", attempts+1, "err", err)
			return zero, &TransportError{ID: id, Attempt: attempts + 1, Err: err}
		}

		outcome, message := p.classify(payload)
		switch outcome {
		case Succeeded:
			p.log.Info("job completed", "poller", p.name, "id", id, "attempt", attempts+1)
			return payload, nil
		case Failed:
			if message == "" {
				message = defaultFailureMessage
			}
			p.log.Error("job failed", "poller", p.name, "id", id, "msg", message)
			return payload, &FailedError{ID: id, Message: message}
		}

		attempts++
		if attempts%10 == 0 {
			p.log.Info("job still running", "poller", p.name, "id", id, "attempt", attempts, "max_attempts", p.cfg.MaxAttempts)
		}
		if attempts >= p.cfg.MaxAttempts {
			continue
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-p.clock.After(interval):
		}
		interval = p.nextInterval(interval)
	}
}

func (p *Poller[T]) nextInterval(current time.Duration) time.Duration {
	if p.cfg.Backoff <= 1 {
		return current
	}
	next := time.Duration(float64(current) * p.cfg.Backoff)
	if p.cfg.MaxInterval > 0 && next > p.cfg.MaxInterval {
		return p.cfg.MaxInterval
	}
	return next
}
