// Package evidence stores sealed reasoning sessions as on-disk bundles:
//
//	<base>/<session-id>/session.json     full session record
//	<base>/<session-id>/manifest.json    index of the bundle
//	<base>/<session-id>/steps/NNN.json   one file per reasoning step
//	<base>/<session-id>/blobs/<kind>-<sha>.txt  content-addressed text
//	<base>/<session-id>/feedback.json    user rating, written after sealing
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zen-systems/thinkgate/pkg/reasoning"
	"github.com/zen-systems/thinkgate/pkg/record"
)

// Manifest indexes one session bundle.
type Manifest struct {
	ID             string        `json:"id"`
	CreatedAt      time.Time     `json:"created_at"`
	SealedAt       *time.Time    `json:"sealed_at,omitempty"`
	Status         record.Status `json:"status"`
	Steps          []string      `json:"steps,omitempty"`
	ConclusionRef  string        `json:"conclusion_ref,omitempty"`
	ConclusionHash string        `json:"conclusion_sha256,omitempty"`
}

// FeedbackRecord is the rating stored next to a sealed session.
type FeedbackRecord struct {
	Rating     int       `json:"rating"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Writer writes one session bundle to disk.
type Writer struct {
	baseDir    string
	sessionDir string
}

// NewWriter creates a writer rooted at baseDir/sessionID.
func NewWriter(baseDir, sessionID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if sessionID == "" || sessionID != filepath.Base(sessionID) || sessionID == "." || sessionID == ".." {
		return nil, fmt.Errorf("invalid session ID %q", sessionID)
	}

	sessionDir := filepath.Join(baseDir, sessionID)
	for _, dir := range []string{sessionDir, filepath.Join(sessionDir, "steps"), filepath.Join(sessionDir, "blobs")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		if err := os.Chmod(dir, 0700); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, sessionDir: sessionDir}, nil
}

// SessionDir returns the bundle directory path.
func (w *Writer) SessionDir() string {
	return w.sessionDir
}

// WriteSession writes the full session record to session.json.
func (w *Writer) WriteSession(s *record.Session) error {
	return writeJSON(filepath.Join(w.sessionDir, "session.json"), s)
}

// WriteStep writes a step to steps/NNN.json and returns its relative ref.
func (w *Writer) WriteStep(step reasoning.Step) (string, error) {
	if step.Index < 1 {
		return "", fmt.Errorf("step index must be positive, got %d", step.Index)
	}
	ref := filepath.ToSlash(filepath.Join("steps", fmt.Sprintf("%03d.json", step.Index)))
	return ref, writeJSON(filepath.Join(w.sessionDir, ref), step)
}

// WriteManifest writes manifest.json.
func (w *Writer) WriteManifest(m Manifest) error {
	return writeJSON(filepath.Join(w.sessionDir, "manifest.json"), m)
}

// WriteFeedback writes feedback.json.
func (w *Writer) WriteFeedback(f FeedbackRecord) error {
	return writeJSON(filepath.Join(w.sessionDir, "feedback.json"), f)
}

// WriteBlob stores content under blobs/ keyed by its SHA-256 and returns the
// relative ref and the hex digest. Writing the same content twice is a no-op.
func (w *Writer) WriteBlob(kind string, content []byte) (string, string, error) {
	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])

	name := fmt.Sprintf("%s-%s.txt", sanitizeKind(kind), sha)
	ref := "blobs/" + name
	path := filepath.Join(w.sessionDir, "blobs", name)

	if _, err := os.Stat(path); err == nil {
		return ref, sha, nil
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		return "", "", err
	}
	return ref, sha, nil
}

func sanitizeKind(kind string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(kind) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "blob"
	}
	return b.String()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func readJSON(path string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, value)
}
