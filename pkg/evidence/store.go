package evidence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zen-systems/thinkgate/pkg/record"
)

// Store is a record.Store backed by session bundles under a directory.
type Store struct {
	baseDir string
}

// NewStore opens (creating if needed) a bundle directory.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	return &Store{baseDir: baseDir}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.baseDir
}

// Persist writes the bundle for a sealed session. Rewriting a session with
// the same ID replaces its record.
func (s *Store) Persist(ctx context.Context, sess *record.Session) error {
	if err := record.CheckPersistable(sess); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w, err := NewWriter(s.baseDir, sess.ID)
	if err != nil {
		return err
	}

	snap := sess.Clone()
	manifest := Manifest{
		ID:        snap.ID,
		CreatedAt: snap.CreatedAt,
		SealedAt:  snap.SealedAt,
		Status:    snap.Outcome.Status,
	}
	for _, step := range snap.Chain.Steps {
		ref, err := w.WriteStep(step)
		if err != nil {
			return fmt.Errorf("write step %d: %w", step.Index, err)
		}
		manifest.Steps = append(manifest.Steps, ref)
	}
	if c := snap.Chain.Conclusion; c != nil {
		ref, sha, err := w.WriteBlob("conclusion", []byte(*c))
		if err != nil {
			return fmt.Errorf("write conclusion: %w", err)
		}
		manifest.ConclusionRef, manifest.ConclusionHash = ref, sha
	}
	if err := w.WriteSession(snap); err != nil {
		return err
	}
	return w.WriteManifest(manifest)
}

// Get loads a session and merges any recorded feedback.
func (s *Store) Get(_ context.Context, id string) (*record.Session, error) {
	if id == "" || id != filepath.Base(id) {
		return nil, record.ErrNotFound
	}
	dir := filepath.Join(s.baseDir, id)

	var sess record.Session
	if err := readJSON(filepath.Join(dir, "session.json"), &sess); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, record.ErrNotFound
		}
		return nil, err
	}

	var fb FeedbackRecord
	switch err := readJSON(filepath.Join(dir, "feedback.json"), &fb); {
	case err == nil:
		return sess.WithFeedback(fb.Rating), nil
	case errors.Is(err, fs.ErrNotExist):
		return &sess, nil
	default:
		return nil, err
	}
}

// List returns summaries of stored sessions, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]record.Summary, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	var out []record.Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sess, err := s.Get(ctx, entry.Name())
		if errors.Is(err, record.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read session %s: %w", entry.Name(), err)
		}
		out = append(out, record.Summarize(sess))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordFeedback writes feedback.json next to a persisted session.
func (s *Store) RecordFeedback(ctx context.Context, id string, rating int) error {
	if err := record.ValidateRating(rating); err != nil {
		return err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	w, err := NewWriter(s.baseDir, id)
	if err != nil {
		return err
	}
	return w.WriteFeedback(FeedbackRecord{Rating: rating, RecordedAt: time.Now().UTC()})
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
