package redemption

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logintoken"
	"github.com/thoka/discourse-login-helper/services/users"
	"github.com/thoka/discourse-login-helper/testutils"
)

type fixture struct {
	cfg          *config.Config
	service      *Service
	tokens       *logintoken.Service
	users        *users.Service
	secondFactor *testutils.MockSecondFactor
	sessions     *testutils.MockSessions
	clock        *testutils.FakeClock
	alice        *users.User
}

func setup(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := testutils.GetTestConfig()
	for _, m := range mutate {
		m(cfg)
	}

	db := testutils.SetupTestDB(t, &users.User{}, &logintoken.LoginToken{})
	clock := testutils.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))

	userService := users.NewService(db, nil)
	tokens := logintoken.NewService(cfg, db, nil)
	tokens.SetClock(clock.Now)

	secondFactor := &testutils.MockSecondFactor{}
	sessions := &testutils.MockSessions{}

	service := NewService(cfg, tokens, userService, secondFactor, sessions, nil)
	service.SetClock(clock.Now)

	alice := &users.User{
		Username: testutils.TestUsers.Alice.Username,
		Email:    testutils.TestUsers.Alice.Email,
		Active:   true,
		Approved: true,
	}
	require.NoError(t, userService.Create(context.Background(), alice))

	return &fixture{
		cfg:          cfg,
		service:      service,
		tokens:       tokens,
		users:        userService,
		secondFactor: secondFactor,
		sessions:     sessions,
		clock:        clock,
		alice:        alice,
	}
}

func (f *fixture) issue(t *testing.T, user *users.User, destination string) string {
	t.Helper()
	token, err := f.tokens.Create(context.Background(), logintoken.CreateParams{
		UserID:         user.ID,
		DestinationURL: destination,
	})
	require.NoError(t, err)
	return token.Token
}

func (f *fixture) expectNoSecondFactor(userID uint) {
	f.secondFactor.On("IsEnabled", mock.Anything, userID).Return(false, nil)
}

func TestRedeem_Success(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	token := f.issue(t, f.alice, "/t/topic/9")

	f.expectNoSecondFactor(f.alice.ID)
	f.sessions.On("LogIn", mock.Anything, f.alice.ID).Return(nil).Once()

	redemption, err := f.service.Redeem(ctx, RedeemRequest{Token: token, Timezone: "Europe/Berlin"})
	require.NoError(t, err)
	assert.Equal(t, "/t/topic/9", redemption.DestinationURL)
	assert.Equal(t, f.alice.ID, redemption.User.ID)
	assert.Equal(t, "Europe/Berlin", redemption.User.Timezone)

	stored, err := f.users.FindByID(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", stored.Timezone)

	f.sessions.AssertExpectations(t)
}

func TestRedeem_SecondUseFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	token := f.issue(t, f.alice, "/")

	f.expectNoSecondFactor(f.alice.ID)
	f.sessions.On("LogIn", mock.Anything, f.alice.ID).Return(nil).Once()

	_, err := f.service.Redeem(ctx, RedeemRequest{Token: token})
	require.NoError(t, err)

	_, err = f.service.Redeem(ctx, RedeemRequest{Token: token})
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
	assert.ErrorIs(t, err, logintoken.ErrTokenConsumed)
	assert.NotErrorIs(t, err, ErrInvalidToken)
	f.sessions.AssertNumberOfCalls(t, "LogIn", 1)

	_, err = f.service.Inspect(ctx, token)
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestRedeem_InvalidTokens(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("unknown", func(t *testing.T) {
		_, err := f.service.Redeem(ctx, RedeemRequest{Token: "does-not-exist"})
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorIs(t, err, logintoken.ErrTokenNotFound)
	})

	t.Run("blank", func(t *testing.T) {
		_, err := f.service.Redeem(ctx, RedeemRequest{Token: "  "})
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token := f.issue(t, f.alice, "/")
		f.clock.Advance(f.cfg.LoginHelper.TokenTTL + time.Second)

		_, err := f.service.Redeem(ctx, RedeemRequest{Token: token})
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorIs(t, err, logintoken.ErrTokenExpired)
	})

	t.Run("owner deleted", func(t *testing.T) {
		token, err := f.tokens.Create(ctx, logintoken.CreateParams{UserID: 9999})
		require.NoError(t, err)

		_, err = f.service.Redeem(ctx, RedeemRequest{Token: token.Token})
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	f.sessions.AssertNotCalled(t, "LogIn", mock.Anything, mock.Anything)
}

func TestRedeem_EligibilityLeavesTokenUntouched(t *testing.T) {
	tests := []struct {
		name     string
		user     users.User
		mutate   func(*config.Config)
		expected error
	}{
		{
			name:     "not activated",
			user:     users.User{Username: "inactive", Email: "inactive@example.com", Approved: true},
			expected: ErrNotActivated,
		},
		{
			name:     "suspended",
			user:     users.User{Username: "suspended", Email: "suspended@example.com", Active: true, Approved: true},
			expected: ErrSuspended,
		},
		{
			name:     "staged",
			user:     users.User{Username: "staged", Email: "staged@example.com", Active: true, Staged: true},
			expected: ErrLocalLoginDisabled,
		},
		{
			name:     "local login disabled",
			user:     users.User{Username: "carol", Email: "carol@example.com", Active: true, Approved: true},
			mutate:   func(c *config.Config) { c.LoginHelper.LocalEmailLoginEnabled = false },
			expected: ErrLocalLoginDisabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutators []func(*config.Config)
			if tt.mutate != nil {
				mutators = append(mutators, tt.mutate)
			}
			f := setup(t, mutators...)
			ctx := context.Background()

			user := tt.user
			if tt.expected == ErrSuspended {
				until := f.clock.Now().Add(24 * time.Hour)
				user.SuspendedUntil = &until
			}
			require.NoError(t, f.users.Create(ctx, &user))
			token := f.issue(t, &user, "/")

			_, err := f.service.Redeem(ctx, RedeemRequest{Token: token})
			assert.ErrorIs(t, err, tt.expected)

			stored, err := f.tokens.Validate(ctx, token, logintoken.ScopeEmailLogin)
			require.NoError(t, err)
			assert.Nil(t, stored.ConsumedAt)
		})
	}
}

func TestRedeem_SuspensionOver(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	until := f.clock.Now().Add(-time.Minute)
	user := &users.User{Username: "returning", Email: "returning@example.com", Active: true, Approved: true, SuspendedUntil: &until}
	require.NoError(t, f.users.Create(ctx, user))
	token := f.issue(t, user, "/")

	f.expectNoSecondFactor(user.ID)
	f.sessions.On("LogIn", mock.Anything, user.ID).Return(nil)

	_, err := f.service.Redeem(ctx, RedeemRequest{Token: token})
	assert.NoError(t, err)
}

func TestRedeem_SecondFactor(t *testing.T) {
	t.Run("missing code", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		token := f.issue(t, f.alice, "/")
		f.secondFactor.On("IsEnabled", mock.Anything, f.alice.ID).Return(true, nil)

		_, err := f.service.Redeem(ctx, RedeemRequest{Token: token})
		require.ErrorIs(t, err, ErrSecondFactorRequired)

		var sfErr *SecondFactorError
		require.True(t, errors.As(err, &sfErr))
		assert.False(t, sfErr.Attempted)

		stored, err := f.tokens.Validate(ctx, token, logintoken.ScopeEmailLogin)
		require.NoError(t, err)
		assert.Nil(t, stored.ConsumedAt)
	})

	t.Run("wrong code", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		token := f.issue(t, f.alice, "/")
		codeErr := errors.New("invalid TOTP code")
		f.secondFactor.On("IsEnabled", mock.Anything, f.alice.ID).Return(true, nil)
		f.secondFactor.On("VerifyCode", mock.Anything, f.alice.ID, "000000").Return(codeErr)

		_, err := f.service.Redeem(ctx, RedeemRequest{Token: token, SecondFactorToken: "000000", SecondFactorMethod: "totp"})
		require.ErrorIs(t, err, ErrSecondFactorRequired)
		assert.ErrorIs(t, err, codeErr)

		var sfErr *SecondFactorError
		require.True(t, errors.As(err, &sfErr))
		assert.True(t, sfErr.Attempted)
		assert.Equal(t, ReasonInvalidCode, sfErr.Reason)
		f.sessions.AssertNotCalled(t, "LogIn", mock.Anything, mock.Anything)
	})

	t.Run("valid code", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		token := f.issue(t, f.alice, "/c/news")
		f.secondFactor.On("IsEnabled", mock.Anything, f.alice.ID).Return(true, nil)
		f.secondFactor.On("VerifyCode", mock.Anything, f.alice.ID, "123456").Return(nil)
		f.sessions.On("LogIn", mock.Anything, f.alice.ID).Return(nil)

		redemption, err := f.service.Redeem(ctx, RedeemRequest{Token: token, SecondFactorToken: "123456"})
		require.NoError(t, err)
		assert.Equal(t, "/c/news", redemption.DestinationURL)
	})
}

func TestRedeem_PostConsumeChecks(t *testing.T) {
	t.Run("approval required", func(t *testing.T) {
		f := setup(t, func(c *config.Config) { c.LoginHelper.MustApproveUsers = true })
		ctx := context.Background()

		user := &users.User{Username: "pending", Email: "pending@example.com", Active: true}
		require.NoError(t, f.users.Create(ctx, user))
		token := f.issue(t, user, "/")
		f.expectNoSecondFactor(user.ID)

		_, err := f.service.Redeem(ctx, RedeemRequest{Token: token})
		assert.ErrorIs(t, err, ErrNotApproved)

		_, err = f.tokens.Validate(ctx, token, logintoken.ScopeEmailLogin)
		assert.ErrorIs(t, err, logintoken.ErrTokenConsumed)
		f.sessions.AssertNotCalled(t, "LogIn", mock.Anything, mock.Anything)
	})

	t.Run("staff writes only", func(t *testing.T) {
		f := setup(t, func(c *config.Config) { c.LoginHelper.StaffWritesOnly = true })
		ctx := context.Background()
		token := f.issue(t, f.alice, "/")
		f.expectNoSecondFactor(f.alice.ID)

		_, err := f.service.Redeem(ctx, RedeemRequest{Token: token})
		assert.ErrorIs(t, err, ErrReadOnlyMode)
	})

	t.Run("staff allowed in read-only mode", func(t *testing.T) {
		f := setup(t, func(c *config.Config) { c.LoginHelper.StaffWritesOnly = true })
		ctx := context.Background()

		admin := &users.User{Username: "admin", Email: "admin@example.com", Active: true, Staff: true}
		require.NoError(t, f.users.Create(ctx, admin))
		token := f.issue(t, admin, "/admin")
		f.expectNoSecondFactor(admin.ID)
		f.sessions.On("LogIn", mock.Anything, admin.ID).Return(nil)

		redemption, err := f.service.Redeem(ctx, RedeemRequest{Token: token})
		require.NoError(t, err)
		assert.Equal(t, "/admin", redemption.DestinationURL)
	})
}

func TestRedeem_InvalidTimezoneIgnored(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	token := f.issue(t, f.alice, "/")
	f.expectNoSecondFactor(f.alice.ID)
	f.sessions.On("LogIn", mock.Anything, f.alice.ID).Return(nil)

	redemption, err := f.service.Redeem(ctx, RedeemRequest{Token: token, Timezone: "Mars/Olympus"})
	require.NoError(t, err)
	assert.Empty(t, redemption.User.Timezone)
}

func TestRedeem_SessionFailure(t *testing.T) {
	f := setup(t)
	token := f.issue(t, f.alice, "/")
	f.expectNoSecondFactor(f.alice.ID)
	f.sessions.On("LogIn", mock.Anything, f.alice.ID).Return(errors.New("store down"))

	_, err := f.service.Redeem(context.Background(), RedeemRequest{Token: token})
	assert.ErrorContains(t, err, "failed to establish session")
}

func TestRedeem_ConcurrentSingleWinner(t *testing.T) {
	f := setup(t)
	token := f.issue(t, f.alice, "/")
	f.expectNoSecondFactor(f.alice.ID)
	f.sessions.On("LogIn", mock.Anything, f.alice.ID).Return(nil)

	var wins, consumed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Redeem(context.Background(), RedeemRequest{Token: token})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyConsumed):
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), consumed.Load())
}

func TestInspect(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	token := f.issue(t, f.alice, "/")
	f.secondFactor.On("IsEnabled", mock.Anything, f.alice.ID).Return(true, nil)

	preflight, err := f.service.Inspect(ctx, token)
	require.NoError(t, err)
	assert.True(t, preflight.CanLogin)
	assert.True(t, preflight.SecondFactorRequired)
	assert.Equal(t, f.alice.ID, preflight.User.ID)

	stored, err := f.tokens.Validate(ctx, token, logintoken.ScopeEmailLogin)
	require.NoError(t, err)
	assert.Nil(t, stored.ConsumedAt)

	_, err = f.service.Inspect(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_NilCollaborators(t *testing.T) {
	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, &users.User{}, &logintoken.LoginToken{})
	userService := users.NewService(db, nil)
	tokens := logintoken.NewService(cfg, db, nil)
	service := NewService(cfg, tokens, userService, nil, nil, nil)

	user := &users.User{Username: "dave", Email: "dave@example.com", Active: true, Approved: true}
	require.NoError(t, userService.Create(context.Background(), user))
	token, err := tokens.Create(context.Background(), logintoken.CreateParams{UserID: user.ID})
	require.NoError(t, err)

	redemption, err := service.Redeem(context.Background(), RedeemRequest{Token: token.Token})
	require.NoError(t, err)
	assert.Equal(t, "/", redemption.DestinationURL)
}

func TestSecondFactorError(t *testing.T) {
	missing := &SecondFactorError{UserID: 1}
	assert.Equal(t, "second factor required", missing.Error())
	assert.ErrorIs(t, missing, ErrSecondFactorRequired)

	cause := errors.New("code reused")
	rejected := &SecondFactorError{UserID: 1, Attempted: true, Reason: ReasonInvalidCode, Cause: cause}
	assert.Contains(t, rejected.Error(), ReasonInvalidCode)
	assert.ErrorIs(t, rejected, cause)
}
