package record

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrSinkClosed is returned by Submit after Close.
var ErrSinkClosed = errors.New("session sink is closed")

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("session sink queue is full")

// AsyncSink queues sessions and persists them on a background worker with
// exponential backoff. Submit never blocks the caller.
type AsyncSink struct {
	sink   Sink
	queue  chan *Session
	logger *slog.Logger

	maxTries       uint
	initialBackoff time.Duration
	maxBackoff     time.Duration
	onResult       func(s *Session, err error)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// AsyncOption configures an AsyncSink.
type AsyncOption func(*AsyncSink)

// WithLogger sets the sink logger.
func WithLogger(logger *slog.Logger) AsyncOption {
	return func(a *AsyncSink) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithQueueSize sets the number of sessions that may wait for the worker.
func WithQueueSize(n int) AsyncOption {
	return func(a *AsyncSink) {
		if n > 0 {
			a.queue = make(chan *Session, n)
		}
	}
}

// WithRetry sets the retry policy for each write.
func WithRetry(maxTries int, initial, maxInterval time.Duration) AsyncOption {
	return func(a *AsyncSink) {
		if maxTries > 0 {
			a.maxTries = uint(maxTries)
		}
		if initial > 0 {
			a.initialBackoff = initial
		}
		if maxInterval >= a.initialBackoff {
			a.maxBackoff = maxInterval
		}
	}
}

// WithResultHook is called after each session is persisted or dropped.
func WithResultHook(fn func(s *Session, err error)) AsyncOption {
	return func(a *AsyncSink) {
		a.onResult = fn
	}
}

// NewAsyncSink starts a worker in front of sink.
func NewAsyncSink(sink Sink, opts ...AsyncOption) *AsyncSink {
	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncSink{
		sink:           sink,
		queue:          make(chan *Session, 128),
		logger:         slog.Default(),
		maxTries:       3,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     2 * time.Second,
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

// Submit queues a sealed session. A full queue drops the session.
func (a *AsyncSink) Submit(s *Session) error {
	if err := CheckPersistable(s); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSinkClosed
	}

	select {
	case a.queue <- s:
		return nil
	default:
		a.logger.Error("session dropped, sink queue full", slog.String("session", s.ID))
		a.report(s, ErrQueueFull)
		return ErrQueueFull
	}
}

// Persist implements Sink by queueing s.
func (a *AsyncSink) Persist(_ context.Context, s *Session) error {
	return a.Submit(s)
}

// Close stops accepting sessions and waits for queued ones to be written,
// or for ctx to expire. Pending retries are abandoned on expiry.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		a.cancel()
		<-a.done
		return ctx.Err()
	}
}

func (a *AsyncSink) run() {
	defer close(a.done)
	defer a.cancel()
	for s := range a.queue {
		a.write(s)
	}
}

func (a *AsyncSink) write(s *Session) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initialBackoff
	b.MaxInterval = a.maxBackoff

	_, err := backoff.Retry(a.ctx, func() (struct{}, error) {
		return struct{}{}, a.sink.Persist(a.ctx, s)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(a.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn("session persist failed, retrying",
				slog.String("session", s.ID),
				slog.Duration("backoff", next),
				slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		a.logger.Error("session persist gave up", slog.String("session", s.ID), slog.String("error", err.Error()))
	} else {
		a.logger.Debug("session persisted", slog.String("session", s.ID))
	}
	a.report(s, err)
}

func (a *AsyncSink) report(s *Session, err error) {
	if a.onResult != nil {
		a.onResult(s, err)
	}
}
