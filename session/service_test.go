package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thoka/discourse-login-helper/testutils"
)

func TestTracker(t *testing.T) {
	ctx := context.Background()
	db := testutils.SetupTestDB(t, &UserSession{})
	clock := testutils.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tracker := NewTracker(db, nil)
	tracker.now = clock.Now

	client := ClientInfo{IPAddress: "198.51.100.4", UserAgent: ""}
	require.NoError(t, tracker.Track(ctx, 1, "token-a", MethodEmailLogin, client, clock.Now().Add(time.Hour)))
	require.NoError(t, tracker.Track(ctx, 1, "token-b", MethodEmailLogin, client, clock.Now().Add(3*time.Hour)))
	require.NoError(t, tracker.Track(ctx, 2, "token-c", MethodEmailLogin, client, clock.Now().Add(time.Hour)))

	t.Run("lists sessions of one user", func(t *testing.T) {
		sessions, err := tracker.UserSessions(ctx, 1, "token-b")
		require.NoError(t, err)
		require.Len(t, sessions, 2)

		current := 0
		for _, s := range sessions {
			assert.NotEqual(t, "token-a", s.TokenDigest)
			if s.Current {
				current++
			}
		}
		assert.Equal(t, 1, current)
	})

	t.Run("duplicate token rejected", func(t *testing.T) {
		err := tracker.Track(ctx, 1, "token-a", MethodEmailLogin, client, clock.Now().Add(time.Hour))
		assert.Error(t, err)
	})

	t.Run("cleanup removes expired", func(t *testing.T) {
		clock.Advance(2 * time.Hour)

		removed, err := tracker.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		sessions, err := tracker.UserSessions(ctx, 1, "")
		require.NoError(t, err)
		assert.Len(t, sessions, 1)
	})

	t.Run("forget", func(t *testing.T) {
		require.NoError(t, tracker.Forget(ctx, "token-b"))

		sessions, err := tracker.UserSessions(ctx, 1, "")
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})
}
