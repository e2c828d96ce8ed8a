package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/reasoning"
	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

func testSession(id string, created time.Time) *record.Session {
	s := record.NewSession(id, "Why do ice cubes float?",
		signal.Vector{Complexity: 0.4, Affect: 0.7, Load: 0.6, Readiness: 0.8},
		mode.Decision{Mode: mode.Adaptive, Confidence: 0.75},
		budget.Budget{Tier: budget.Standard, ReasoningTokens: 800, AnswerTokens: 800, TotalTokens: 1600})
	s.CreatedAt = created
	conclusion := "Ice is less dense than liquid water."
	s.Seal(reasoning.Snapshot{
		Query: s.Query,
		Mode:  mode.Adaptive,
		Steps: []reasoning.Step{
			{Index: 1, Content: "Water expands as it freezes", Strategy: reasoning.Causal, Confidence: 0.7},
			{Index: 2, Content: "Less dense things float", Strategy: reasoning.Deductive, Confidence: 0.9},
		},
		Conclusion: &conclusion,
		Sealed:     true,
	}, record.Outcome{Status: record.StatusCompleted, TokensUsed: 64})
	return s
}

func TestWriterBundleLayout(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir, "session-123")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	if err := writer.WriteSession(testSession("session-123", time.Now())); err != nil {
		t.Fatalf("write session: %v", err)
	}
	ref, err := writer.WriteStep(reasoning.Step{Index: 7, Content: "x"})
	if err != nil {
		t.Fatalf("write step: %v", err)
	}
	if ref != "steps/007.json" {
		t.Fatalf("unexpected step ref: %s", ref)
	}
	if err := writer.WriteManifest(Manifest{ID: "session-123"}); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	for _, name := range []string{"session.json", "manifest.json", filepath.Join("steps", "007.json")} {
		if _, err := os.Stat(filepath.Join(writer.SessionDir(), name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}

	if runtime.GOOS != "windows" {
		assertPerm(t, writer.SessionDir(), 0700)
		assertPerm(t, filepath.Join(writer.SessionDir(), "steps"), 0700)
		assertPerm(t, filepath.Join(writer.SessionDir(), "blobs"), 0700)
		assertPerm(t, filepath.Join(writer.SessionDir(), "session.json"), 0600)
		assertPerm(t, filepath.Join(writer.SessionDir(), "steps", "007.json"), 0600)
	}
}

func TestNewWriterRejectsBadIDs(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"", "..", "a/b", "."} {
		if _, err := NewWriter(dir, id); err == nil {
			t.Fatalf("expected error for id %q", id)
		}
	}
	if _, err := NewWriter("", "ok"); err == nil {
		t.Fatal("expected error for empty base dir")
	}
}

func TestWriteBlob(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), "s1")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	content := []byte("hello")
	sum := sha256.Sum256(content)
	expectedSha := hex.EncodeToString(sum[:])

	ref, sha, err := writer.WriteBlob("conclusion", content)
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if sha != expectedSha {
		t.Fatalf("sha mismatch: %s", sha)
	}

	data, err := os.ReadFile(filepath.Join(writer.SessionDir(), ref))
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(data) != string(content) {
		t.Fatalf("content mismatch: %q", string(data))
	}

	ref2, sha2, err := writer.WriteBlob("conclusion", content)
	if err != nil {
		t.Fatalf("write blob again: %v", err)
	}
	if ref2 != ref || sha2 != sha {
		t.Fatalf("expected same ref and sha")
	}
}

func TestWriteBlobKindSanitization(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), "s2")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ref, _, err := writer.WriteBlob("Prompt 123/../", []byte("x"))
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if !strings.HasPrefix(ref, "blobs/prompt123-") {
		t.Fatalf("unexpected ref: %s", ref)
	}
	if strings.Count(ref, "/") != 1 {
		t.Fatalf("unexpected path separators in ref: %s", ref)
	}

	ref, _, err = writer.WriteBlob("!!!", []byte("y"))
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if !strings.HasPrefix(ref, "blobs/blob-") {
		t.Fatalf("expected blob kind fallback in ref: %s", ref)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	now := time.Now().UTC()
	if err := store.Persist(ctx, testSession("old", now.Add(-time.Hour))); err != nil {
		t.Fatalf("persist old: %v", err)
	}
	if err := store.Persist(ctx, testSession("new", now)); err != nil {
		t.Fatalf("persist new: %v", err)
	}

	got, err := store.Get(ctx, "new")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Query != "Why do ice cubes float?" || len(got.Chain.Steps) != 2 || got.Outcome.StepCount != 2 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Chain.Conclusion == nil || *got.Chain.Conclusion != "Ice is less dense than liquid water." {
		t.Fatalf("unexpected conclusion: %v", got.Chain.Conclusion)
	}
	if !got.Sealed() {
		t.Fatal("expected sealed session")
	}

	var manifest Manifest
	if err := readJSON(filepath.Join(store.Dir(), "new", "manifest.json"), &manifest); err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if len(manifest.Steps) != 2 || manifest.ConclusionRef == "" || manifest.Status != record.StatusCompleted {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	list, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Fatalf("unexpected list order: %+v", list)
	}
}

func TestStoreFeedback(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Persist(ctx, testSession("s", time.Now())); err != nil {
		t.Fatalf("persist: %v", err)
	}

	if err := store.RecordFeedback(ctx, "s", 4); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if err := store.RecordFeedback(ctx, "s", 0); err == nil {
		t.Fatal("expected rating validation error")
	}
	if err := store.RecordFeedback(ctx, "missing", 3); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := store.Get(ctx, "s")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Outcome.Feedback == nil || *got.Outcome.Feedback != 4 {
		t.Fatalf("expected feedback 4, got %v", got.Outcome.Feedback)
	}
}

func TestStoreRejectsUnsealed(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	open := record.NewSession("open", "q", signal.Vector{}, mode.Decision{Mode: mode.Fast}, budget.Budget{})
	if err := store.Persist(context.Background(), open); !errors.Is(err, record.ErrUnsealed) {
		t.Fatalf("expected ErrUnsealed, got %v", err)
	}
	if _, err := store.Get(context.Background(), "../etc"); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func assertPerm(t *testing.T, path string, expected os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if info.Mode().Perm() != expected {
		t.Fatalf("expected %s mode %o, got %o", path, expected, info.Mode().Perm())
	}
}
