package record

import (
	"context"
	"errors"
)

// Sink persists sealed sessions.
type Sink interface {
	Persist(ctx context.Context, s *Session) error
}

// Reader looks up persisted sessions. Feedback recorded after sealing is
// merged into the returned session's outcome.
type Reader interface {
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, limit int) ([]Summary, error)
}

// FeedbackRecorder attaches a rating to a persisted session. The sealed
// record itself is not rewritten.
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, id string, rating int) error
}

// Store is a sink that can also be read back.
type Store interface {
	Sink
	Reader
	FeedbackRecorder
	Close() error
}

// ErrUnsealed is returned when persisting a session that was never sealed.
var ErrUnsealed = errors.New("session is not sealed")

// Nop discards sessions.
type Nop struct{}

// Persist does nothing.
func (Nop) Persist(context.Context, *Session) error { return nil }

// CheckPersistable verifies s may be written.
func CheckPersistable(s *Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if !s.Sealed() {
		return ErrUnsealed
	}
	return nil
}
