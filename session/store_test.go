package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thoka/discourse-login-helper/testutils"
)

func TestNewMemoryStore(t *testing.T) {
	assert.NotNil(t, NewMemoryStore())
}

func TestNewDatabaseStore(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		store, err := NewDatabaseStore(testutils.SetupTestDB(t))

		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("with nil database", func(t *testing.T) {
		store, err := NewDatabaseStore(nil)

		assert.Nil(t, store)
		assert.ErrorContains(t, err, "database connection cannot be nil")
	})
}

func TestDeleteExpiredSessions(t *testing.T) {
	db := testutils.SetupTestDB(t)
	store, err := NewDatabaseStore(db)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.Commit("expired", []byte("a"), now.Add(-time.Hour)))
	require.NoError(t, store.Commit("live", []byte("b"), now.Add(time.Hour)))

	removed, err := DeleteExpiredSessions(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, found, err := store.Find("live")
	require.NoError(t, err)
	assert.True(t, found)
}
