package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/record"
)

// Handle is a caller's view of one running session.
type Handle struct {
	ID       string
	Query    string
	Decision mode.Decision
	Budget   budget.Budget

	events  chan Event
	buffer  int
	discard bool
	seq     int
	claimed atomic.Bool

	cancel   context.CancelCauseFunc
	done     chan struct{}
	once     sync.Once
	started  time.Time
	session  *record.Session
	terminal Event

	// retain drops the finished handle from the dispatcher; guarded by
	// the dispatcher mutex.
	retain *time.Timer
}

func newHandle(id, query string, d mode.Decision, b budget.Budget, buffer int, discard bool) *Handle {
	return &Handle{
		ID:       id,
		Query:    query,
		Decision: d,
		Budget:   b,
		events:   make(chan Event, buffer+1),
		buffer:   buffer,
		discard:  discard,
		done:     make(chan struct{}),
		started:  time.Now(),
	}
}

// Events returns the session's event stream. It is closed right after the
// terminal event. With DiscardEvents the stream carries only the terminal
// event.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Claim marks the event stream as taken. Only the first caller gets true;
// events are not fanned out to several readers.
func (h *Handle) Claim() bool {
	return h.claimed.CompareAndSwap(false, true)
}

// Done is closed once the session is sealed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the session is sealed or ctx is done and returns a copy
// of the sealed session.
func (h *Handle) Wait(ctx context.Context) (*record.Session, error) {
	select {
	case <-h.done:
		return h.session.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminal returns the terminal event once the session is sealed.
func (h *Handle) Terminal() (Event, bool) {
	select {
	case <-h.done:
		return h.terminal, true
	default:
		return Event{}, false
	}
}

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) stamp(ev Event) Event {
	h.seq++
	ev.SessionID = h.ID
	ev.Seq = h.seq
	ev.Time = time.Now().UTC()
	return ev
}

// emit queues a non-terminal event. It reports false when the consumer has
// fallen a full buffer behind. Only the session goroutine calls it.
func (h *Handle) emit(ev Event) bool {
	ev = h.stamp(ev)
	if h.discard {
		return true
	}
	if len(h.events) >= h.buffer {
		return false
	}
	h.events <- ev
	return true
}

// finish marks the handle done, then delivers the terminal event at most
// once and closes the stream. The reserved slot guarantees the send never
// blocks.
func (h *Handle) finish(ev Event) bool {
	delivered := false
	h.once.Do(func() {
		ev = h.stamp(ev)
		h.terminal = ev
		close(h.done)
		h.events <- ev
		close(h.events)
		delivered = true
	})
	return delivered
}
