package bookingclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// ErrBookingClosed is passed to onError when StopOnTerminal is set and the
// booking ends without ever being seen as accepted.
var ErrBookingClosed = errors.New("booking closed before acceptance")

// StatusFetcher is the read side the watcher polls. *Client implements it.
type StatusFetcher interface {
	GetStatus(ctx context.Context, bookingID string) (Status, error)
}

// WatchConfig bounds a watch. Zero MaxAttempts and zero Timeout poll until
// acceptance or cancellation.
type WatchConfig struct {
	Interval time.Duration
	// MaxAttempts caps the number of polls.
	MaxAttempts int
	Timeout     time.Duration
	// BackoffMultiplier > 1 stretches the interval after each failed poll,
	// up to MaxInterval. A successful poll resets it.
	BackoffMultiplier float64
	MaxInterval       time.Duration
	// RequestTimeout bounds a single poll.
	RequestTimeout time.Duration
	StopOnTerminal bool
	// WarnEvery logs at warn level on every n-th consecutive failure.
	WarnEvery int
}

func (c WatchConfig) withDefaults() WatchConfig {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = c.Interval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.WarnEvery <= 0 {
		c.WarnEvery = 5
	}
	return c
}

type Watcher struct {
	fetcher StatusFetcher
	cfg     WatchConfig
	logger  *zap.Logger
}

func NewWatcher(fetcher StatusFetcher, cfg WatchConfig, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{fetcher: fetcher, cfg: cfg.withDefaults(), logger: logger.Named("watcher")}
}

const (
	watchRunning int32 = iota
	watchFinished
	watchCancelled
)

// WatchStatus polls bookingID until it is accepted, then calls onAccepted
// once with the driver. Failed polls are logged and retried. onError is only
// called when the configured bounds run out or, with StopOnTerminal, when the
// booking closes first. The returned function stops polling; a poll already
// in flight completes but its result is dropped. Calling it after a callback
// has fired does nothing.
func (w *Watcher) WatchStatus(bookingID string, onAccepted func(*Driver), onError func(error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var state atomic.Int32
	var once sync.Once

	finish := func(fn func()) {
		if state.CompareAndSwap(watchRunning, watchFinished) {
			cancel()
			fn()
		}
	}

	go w.run(ctx, bookingID, func(driver *Driver) {
		finish(func() {
			if onAccepted != nil {
				onAccepted(driver)
			}
		})
	}, func(err error) {
		finish(func() {
			if onError != nil {
				onError(err)
			}
		})
	})

	return func() {
		once.Do(func() {
			if state.CompareAndSwap(watchRunning, watchCancelled) {
				watchesFinished.WithLabelValues("cancelled").Inc()
				w.logger.Debug("watch cancelled", zap.String("booking_id", bookingID))
			}
			cancel()
		})
	}
}

// Watch blocks until the booking is accepted, the watch gives up, or ctx ends.
func (w *Watcher) Watch(ctx context.Context, bookingID string) (*Driver, error) {
	type result struct {
		driver *Driver
		err    error
	}
	done := make(chan result, 1)
	stop := w.WatchStatus(bookingID,
		func(d *Driver) { done <- result{driver: d} },
		func(err error) { done <- result{err: err} },
	)
	defer stop()

	select {
	case res := <-done:
		return res.driver, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Watcher) run(ctx context.Context, bookingID string, accepted func(*Driver), failed func(error)) {
	log := w.logger.With(zap.String("booking_id", bookingID))
	interval := w.cfg.Interval

	var expired <-chan time.Time
	if w.cfg.Timeout > 0 {
		deadline := time.NewTimer(w.cfg.Timeout)
		defer deadline.Stop()
		expired = deadline.C
	}

	tick := time.NewTimer(0)
	defer tick.Stop()

	attempts, failures := 0, 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-expired:
			watchesFinished.WithLabelValues("timeout").Inc()
			failed(fmt.Errorf("%w: no acceptance within %s", ErrWatchExhausted, w.cfg.Timeout))
			return
		case <-tick.C:
		}
		// A cancel racing the tick can leave both cases ready.
		if ctx.Err() != nil {
			return
		}

		attempts++
		status, err := w.poll(bookingID)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			failures++
			pollsTotal.WithLabelValues("error").Inc()
			fields := []zap.Field{zap.Int("attempt", attempts), zap.Int("consecutive_failures", failures), zap.Error(err)}
			if failures%w.cfg.WarnEvery == 0 {
				log.Warn("status poll keeps failing", fields...)
			} else {
				log.Debug("status poll failed", fields...)
			}
			if w.cfg.BackoffMultiplier > 1 {
				interval = time.Duration(float64(interval) * w.cfg.BackoffMultiplier)
				if interval > w.cfg.MaxInterval {
					interval = w.cfg.MaxInterval
				}
			}
		} else {
			failures = 0
			interval = w.cfg.Interval
			pollsTotal.WithLabelValues(status.Status).Inc()

			if status.Status == StatusAccepted {
				watchesFinished.WithLabelValues("accepted").Inc()
				log.Debug("booking accepted", zap.Int("attempt", attempts))
				accepted(status.Driver)
				return
			}
			if w.cfg.StopOnTerminal && (status.Status == StatusCompleted || status.Status == StatusCancelled) {
				watchesFinished.WithLabelValues("closed").Inc()
				failed(fmt.Errorf("%w: status %s", ErrBookingClosed, status.Status))
				return
			}
		}

		if w.cfg.MaxAttempts > 0 && attempts >= w.cfg.MaxAttempts {
			watchesFinished.WithLabelValues("max_attempts").Inc()
			failed(fmt.Errorf("%w: %d polls without acceptance", ErrWatchExhausted, attempts))
			return
		}
		tick.Reset(interval)
	}
}

// poll runs detached from the watch context so cancelling never aborts a
// request that is already on the wire.
func (w *Watcher) poll(bookingID string) (Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RequestTimeout)
	defer cancel()
	return w.fetcher.GetStatus(ctx, bookingID)
}
