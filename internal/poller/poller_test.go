package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

type status struct {
	State   string
	Message string
}

func classify(s status) (Outcome, string) {
	switch s.State {
	case "completed":
		return Succeeded, ""
	case "failed":
		return Failed, s.Message
	default:
		return Pending, ""
	}
}

// scripted returns the given statuses in order, repeating the last one.
func scripted(statuses ...status) (FetchFunc[status], *int32) {
	var reads int32
	return func(ctx context.Context, id string) (status, error) {
		n := atomic.AddInt32(&reads, 1)
		idx := int(n) - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		return statuses[idx], nil
	}, &reads
}

func newTestPoller(fetch FetchFunc[status], cfg Config, clock Clock) *Poller[status] {
	return New("test", cfg, fetch, classify, WithClock[status](clock))
}

func TestPollSucceedsAfterPendingReads(t *testing.T) {
	clock := &fakeClock{}
	fetch, reads := scripted(status{State: "pending"}, status{State: "pending"}, status{State: "completed"})
	p := newTestPoller(fetch, Config{Interval: 2 * time.Second, MaxAttempts: 30}, clock)

	got, err := p.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "completed", got.State)
	require.Equal(t, int32(3), atomic.LoadInt32(reads))
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.Waits())
}

func TestPollSucceedsWithExactBudget(t *testing.T) {
	clock := &fakeClock{}
	fetch, reads := scripted(status{State: "pending"}, status{State: "processing"}, status{State: "completed"})
	p := newTestPoller(fetch, Config{Interval: time.Second, MaxAttempts: 3}, clock)

	_, err := p.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(reads))
}

func TestPollTimesOutAfterMaxAttempts(t *testing.T) {
	for _, maxAttempts := range []int{1, 10, 30} {
		clock := &fakeClock{}
		fetch, reads := scripted(status{State: "pending"})
		p := newTestPoller(fetch, Config{Interval: 2 * time.Second, MaxAttempts: maxAttempts}, clock)

		_, err := p.Poll(context.Background(), "job-1")
		require.ErrorIs(t, err, ErrTimeout)
		require.Equal(t, int32(maxAttempts), atomic.LoadInt32(reads))
		require.Len(t, clock.Waits(), maxAttempts-1)
	}
}

func TestPollReportsServerFailure(t *testing.T) {
	clock := &fakeClock{}
	fetch, reads := scripted(status{State: "processing"}, status{State: "failed", Message: "model overloaded"})
	p := newTestPoller(fetch, Config{Interval: time.Second, MaxAttempts: 30}, clock)

	_, err := p.Poll(context.Background(), "job-2")
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, "model overloaded", failed.Message)
	require.Equal(t, "job-2", failed.ID)
	require.Equal(t, int32(2), atomic.LoadInt32(reads))
}

func TestPollFailureFallsBackToGenericMessage(t *testing.T) {
	fetch, _ := scripted(status{State: "failed"})
	p := newTestPoller(fetch, Config{Interval: time.Second, MaxAttempts: 3}, &fakeClock{})

	_, err := p.Poll(context.Background(), "job-3")
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, defaultFailureMessage, failed.Message)
}

func TestPollStopsOnFirstTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	var reads int32
	fetch := func(ctx context.Context, id string) (status, error) {
		atomic.AddInt32(&reads, 1)
		return status{}, boom
	}
	clock := &fakeClock{}
	p := newTestPoller(fetch, Config{Interval: time.Second, MaxAttempts: 30}, clock)

	_, err := p.Poll(context.Background(), "job-4")
	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, transport.Attempt)
	require.Equal(t, int32(1), atomic.LoadInt32(&reads))
	require.Empty(t, clock.Waits())
}

func TestPollTransportErrorAfterPending(t *testing.T) {
	var reads int32
	fetch := func(ctx context.Context, id string) (status, error) {
		if atomic.AddInt32(&reads, 1) == 1 {
			return status{State: "pending"}, nil
		}
		return status{}, errors.New("502 bad gateway")
	}
	p := newTestPoller(fetch, Config{Interval: time.Second, MaxAttempts: 30}, &fakeClock{})

	_, err := p.Poll(context.Background(), "job-5")
	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	require.Equal(t, 2, transport.Attempt)
	require.Equal(t, int32(2), atomic.LoadInt32(&reads))
}

// blockingClock never fires, so only cancellation can end the wait.
type blockingClock struct{ waiting chan struct{} }

func (c blockingClock) After(time.Duration) <-chan time.Time {
	close(c.waiting)
	return make(chan time.Time)
}

func TestPollCancelledWhileWaiting(t *testing.T) {
	fetch, reads := scripted(status{State: "pending"})
	clock := blockingClock{waiting: make(chan struct{})}
	p := newTestPoller(fetch, Config{Interval: time.Hour, MaxAttempts: 30}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-clock.waiting
		cancel()
	}()

	_, err := p.Poll(ctx, "job-6")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), atomic.LoadInt32(reads))
}

func TestPollBackoffGrowsInterval(t *testing.T) {
	clock := &fakeClock{}
	fetch, _ := scripted(status{State: "pending"})
	p := newTestPoller(fetch, Config{Interval: time.Second, MaxAttempts: 5, Backoff: 2, MaxInterval: 5 * time.Second}, clock)

	_, err := p.Poll(context.Background(), "job-7")
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, clock.Waits())
}

func TestPollSingleFlightPerID(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var reads int32
	fetch := func(ctx context.Context, id string) (status, error) {
		atomic.AddInt32(&reads, 1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return status{State: "completed"}, nil
	}
	p := newTestPoller(fetch, Config{Interval: time.Second, MaxAttempts: 3}, &fakeClock{})

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, results[0] = p.Poll(context.Background(), "job-8")
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, results[1] = p.Poll(context.Background(), "job-8")
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, results[0])
	require.NoError(t, results[1])
	require.Equal(t, int32(1), atomic.LoadInt32(&reads))
}

func TestPollZeroBudgetTimesOutWithoutReading(t *testing.T) {
	clock := &fakeClock{}
	fetch, reads := scripted(status{State: "completed"})
	p := newTestPoller(fetch, Config{Interval: time.Second, MaxAttempts: 0}, clock)

	_, err := p.Poll(context.Background(), "job-9")
	require.ErrorIs(t, err, ErrTimeout)
	require.Zero(t, atomic.LoadInt32(reads))
	require.Empty(t, clock.Waits())
}

func (p *Poller[T]) waiters(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f := p.flights[id]; f != nil {
		return f.waiters
	}
	return 0
}

func TestPollJoinedCallerOutlivesCancelledFirstCaller(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var reads int32
	fetch := func(ctx context.Context, id string) (status, error) {
		atomic.AddInt32(&reads, 1)
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return status{State: "completed"}, nil
		case <-ctx.Done():
			return status{}, ctx.Err()
		}
	}
	p := newTestPoller(fetch, Config{Interval: time.Second, MaxAttempts: 3}, &fakeClock{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Poll(firstCtx, "job-10")
		firstErr <- err
	}()
	<-entered

	type outcome struct {
		got status
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		got, err := p.Poll(context.Background(), "job-10")
		second <- outcome{got, err}
	}()
	require.Eventually(t, func() bool { return p.waiters("job-10") == 2 }, time.Second, time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "completed", res.got.State)
	require.Equal(t, int32(1), atomic.LoadInt32(&reads))
}

func TestPollLastCallerLeavingStopsLoop(t *testing.T) {
	stopped := make(chan struct{})
	fetch := func(ctx context.Context, id string) (status, error) {
		<-ctx.Done()
		close(stopped)
		return status{}, ctx.Err()
	}
	p := newTestPoller(fetch, Config{Interval: time.Second, MaxAttempts: 3}, &fakeClock{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Poll(ctx, "job-11")
		done <- err
	}()
	require.Eventually(t, func() bool { return p.waiters("job-11") == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("status read still running after its only caller left")
	}
	require.Zero(t, p.waiters("job-11"))
}
