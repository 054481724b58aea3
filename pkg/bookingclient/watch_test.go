package bookingclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type step struct {
	status Status
	err    error
}

// scriptedFetcher replays steps in order and repeats the last one.
type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []step
	calls    int
	inFlight atomic.Int32
	maxInFly atomic.Int32
	delay    time.Duration
}

func (f *scriptedFetcher) GetStatus(_ context.Context, _ string) (Status, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFly.Load()
		if n <= cur || f.maxInFly.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	f.calls++
	return f.steps[idx].status, f.steps[idx].err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastConfig() WatchConfig {
	return WatchConfig{Interval: 10 * time.Millisecond}
}

func TestWatchStatusFiresOnAcceptedOnceAndStops(t *testing.T) {
	driver := &Driver{Name: "John Doe", Vehicle: "Sedan", Plate: "XYZ 123", Phone: "+1234567890"}
	fetcher := &scriptedFetcher{steps: []step{
		{status: Status{Status: StatusPending}},
		{status: Status{Status: StatusPending}},
		{status: Status{Status: StatusAccepted, Driver: driver}},
	}}

	var accepted atomic.Int32
	got := make(chan *Driver, 2)
	cancel := NewWatcher(fetcher, fastConfig(), nil).WatchStatus("b1", func(d *Driver) {
		accepted.Add(1)
		got <- d
	}, func(err error) {
		t.Errorf("unexpected onError: %v", err)
	})

	select {
	case d := <-got:
		require.Equal(t, driver, d)
	case <-time.After(2 * time.Second):
		t.Fatal("onAccepted not called")
	}

	calls := fetcher.Calls()
	require.Equal(t, 3, calls)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, calls, fetcher.Calls(), "no polls after acceptance")
	require.EqualValues(t, 1, accepted.Load())

	cancel()
	cancel()
	require.EqualValues(t, 1, accepted.Load())
}

func TestWatchStatusSwallowsTransientFailures(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{err: ErrTransient},
		{err: ErrTransient},
		{err: ErrTransient},
		{status: Status{Status: StatusAccepted, Driver: &Driver{Name: "d1"}}},
	}}

	var errorsSeen atomic.Int32
	done := make(chan struct{})
	NewWatcher(fetcher, fastConfig(), nil).WatchStatus("b1", func(*Driver) {
		close(done)
	}, func(error) {
		errorsSeen.Add(1)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not recover after failures")
	}
	require.Zero(t, errorsSeen.Load())
	require.Equal(t, 4, fetcher.Calls())
}

func TestWatchStatusCancelDropsInFlightResult(t *testing.T) {
	fetcher := &scriptedFetcher{
		steps: []step{{status: Status{Status: StatusAccepted, Driver: &Driver{Name: "late"}}}},
		delay: 100 * time.Millisecond,
	}

	var fired atomic.Int32
	cancel := NewWatcher(fetcher, fastConfig(), nil).WatchStatus("b1", func(*Driver) {
		fired.Add(1)
	}, func(error) {
		fired.Add(1)
	})

	require.Eventually(t, func() bool { return fetcher.inFlight.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	require.Eventually(t, func() bool { return fetcher.Calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, fetcher.Calls(), "cancel prevents further polls")
	require.Zero(t, fired.Load(), "callbacks are dropped after cancel")
}

func TestWatchStatusCancelBeforeFirstTickNeverPolls(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{status: Status{Status: StatusPending}}}}
	w := NewWatcher(fetcher, WatchConfig{Interval: time.Millisecond}, nil)

	// The first tick fires immediately, so both select cases are usually
	// ready by the time the loop runs.
	for i := 0; i < 200; i++ {
		cancel := w.WatchStatus("b1", nil, nil)
		cancel()
	}
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, fetcher.Calls(), "cancelled watches must not poll")
}

func TestWatchStatusKeepsOneRequestInFlight(t *testing.T) {
	fetcher := &scriptedFetcher{
		steps: []step{{status: Status{Status: StatusPending}}},
		delay: 20 * time.Millisecond,
	}
	cancel := NewWatcher(fetcher, WatchConfig{Interval: time.Millisecond}, nil).WatchStatus("b1", nil, nil)
	require.Eventually(t, func() bool { return fetcher.Calls() >= 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.EqualValues(t, 1, fetcher.maxInFly.Load())
}

func TestWatchStatusMaxAttempts(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{status: Status{Status: StatusPending}}}}
	errCh := make(chan error, 1)
	NewWatcher(fetcher, WatchConfig{Interval: 5 * time.Millisecond, MaxAttempts: 3}, nil).WatchStatus("b1", func(*Driver) {
		t.Error("unexpected acceptance")
	}, func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrWatchExhausted)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not give up")
	}
	require.Equal(t, 3, fetcher.Calls())
}

func TestWatchStatusTimeout(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{err: ErrTransient}}}
	errCh := make(chan error, 1)
	NewWatcher(fetcher, WatchConfig{Interval: 10 * time.Millisecond, Timeout: 60 * time.Millisecond}, nil).
		WatchStatus("b1", nil, func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrWatchExhausted)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not time out")
	}
}

func TestWatchStatusStopOnTerminal(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{status: Status{Status: StatusPending}},
		{status: Status{Status: StatusCancelled}},
	}}
	_, err := NewWatcher(fetcher, WatchConfig{Interval: 5 * time.Millisecond, StopOnTerminal: true}, nil).
		Watch(context.Background(), "b1")
	require.ErrorIs(t, err, ErrBookingClosed)
}

func TestWatchStatusBackoffStretchesInterval(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{err: errors.New("boom")}}}
	cfg := WatchConfig{Interval: 10 * time.Millisecond, BackoffMultiplier: 4, MaxInterval: 200 * time.Millisecond}
	cancel := NewWatcher(fetcher, cfg, nil).WatchStatus("b1", nil, nil)
	time.Sleep(150 * time.Millisecond)
	cancel()
	// Polls at 0ms, 40ms and 200ms; a fixed interval would give about 15.
	require.LessOrEqual(t, fetcher.Calls(), 3)
}

func TestIndependentWatchesForSameBooking(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{status: Status{Status: StatusPending}},
		{status: Status{Status: StatusAccepted, Driver: &Driver{Name: "d"}}},
	}}
	w := NewWatcher(fetcher, fastConfig(), nil)

	first := make(chan struct{})
	cancelFirst := w.WatchStatus("b1", func(*Driver) { close(first) }, nil)
	cancelFirst()

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	driver, err := w.Watch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "d", driver.Name)

	select {
	case <-first:
		t.Fatal("cancelled watch must not fire")
	default:
	}
}
