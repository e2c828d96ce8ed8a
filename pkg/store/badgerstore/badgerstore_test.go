package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) record.Store {
		s, err := Open(Config{InMemory: true})
		require.NoError(t, err)
		return s
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestReopenKeepsSessions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Path: dir, GCInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, s.Persist(ctx, storetest.Session("keep", time.Now(), record.StatusCompleted)))
	require.NoError(t, s.RecordFeedback(ctx, "keep", 2))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "keep")
	require.NoError(t, err)
	require.NotNil(t, got.Outcome.Feedback)
	assert.Equal(t, 2, *got.Outcome.Feedback)
}
