// Package badgerstore persists reasoning sessions in an embedded BadgerDB.
//
// Keys:
//
//	session/<id>   JSON-encoded record.Session
//	feedback/<id>  JSON-encoded feedback rating
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/zen-systems/thinkgate/pkg/record"
)

const (
	sessionPrefix  = "session/"
	feedbackPrefix = "feedback/"
)

// Config configures the store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool

	// GCInterval runs value-log GC periodically. Zero disables it.
	GCInterval time.Duration

	Logger *slog.Logger
}

// Store is a record.Store over BadgerDB.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}
}

type feedbackValue struct {
	Rating     int       `json:"rating"`
	RecordedAt time.Time `json:"recorded_at"`
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens or creates the database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.gc(cfg.GCInterval)
	}
	return s, nil
}

// Persist writes the session record.
func (s *Store) Persist(ctx context.Context, sess *record.Session) error {
	if err := record.CheckPersistable(sess); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(sess.Clone())
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionPrefix+sess.ID), data)
	})
}

// Get loads a session and merges its feedback.
func (s *Store) Get(_ context.Context, id string) (*record.Session, error) {
	var sess record.Session
	var fb *feedbackValue

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return record.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		}); err != nil {
			return fmt.Errorf("decode session %s: %w", id, err)
		}

		fb, err = readFeedback(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if fb != nil {
		return sess.WithFeedback(fb.Rating), nil
	}
	return &sess, nil
}

// List returns summaries, newest first.
func (s *Store) List(_ context.Context, limit int) ([]record.Summary, error) {
	var out []record.Summary

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(sessionPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var sess record.Session
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			sum := record.Summarize(&sess)
			fb, err := readFeedback(txn, sess.ID)
			if err != nil {
				return err
			}
			if fb != nil {
				r := fb.Rating
				sum.Feedback = &r
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordFeedback stores a rating under its own key.
func (s *Store) RecordFeedback(_ context.Context, id string, rating int) error {
	if err := record.ValidateRating(rating); err != nil {
		return err
	}
	data, err := json.Marshal(feedbackValue{Rating: rating, RecordedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(sessionPrefix + id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return record.ErrNotFound
			}
			return err
		}
		return txn.Set([]byte(feedbackPrefix+id), data)
	})
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
	return s.db.Close()
}

func readFeedback(txn *badger.Txn, id string) (*feedbackValue, error) {
	item, err := txn.Get([]byte(feedbackPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var fb feedbackValue
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &fb)
	}); err != nil {
		return nil, fmt.Errorf("decode feedback %s: %w", id, err)
	}
	return &fb, nil
}

func (s *Store) gc(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
