// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/capsera/capsera/internal/models"
	"codeberg.org/capsera/capsera/internal/repository"
	"codeberg.org/capsera/capsera/internal/testutil"
)

func newOTP(email, code string, now time.Time) *models.OTP {
	return &models.OTP{
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(5 * time.Minute),
		CreatedAt: now,
	}
}

func TestCreateOTP(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	now := testutil.NewClock().Now()

	otp := newOTP("a@x.com", "482193", now)
	require.NoError(t, repo.CreateOTP(ctx, otp))
	assert.NotEmpty(t, otp.ID)

	got, err := repo.GetOTPByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, otp.ID, got.ID)
	assert.Equal(t, "482193", got.Code)
	assert.Zero(t, got.Attempts)
	assert.False(t, got.Verified)
	assert.Nil(t, got.VerifiedAt)
	assert.WithinDuration(t, now.Add(5*time.Minute), got.ExpiresAt, time.Millisecond)
}

func TestCreateOTP_OnePerEmail(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	now := testutil.NewClock().Now()

	require.NoError(t, repo.CreateOTP(ctx, newOTP("a@x.com", "111111", now)))
	err := repo.CreateOTP(ctx, newOTP("a@x.com", "222222", now))

	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestGetOTPByEmail_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	_, err := repo.GetOTPByEmail(context.Background(), "missing@x.com")

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteOTPsByEmail(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	now := testutil.NewClock().Now()

	require.NoError(t, repo.CreateOTP(ctx, newOTP("a@x.com", "111111", now)))
	require.NoError(t, repo.DeleteOTPsByEmail(ctx, "a@x.com"))

	_, err := repo.GetOTPByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// deleting nothing is fine
	require.NoError(t, repo.DeleteOTPsByEmail(ctx, "a@x.com"))
}

func TestIncrementOTPAttempts(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	clock := testutil.NewClock()

	require.NoError(t, repo.CreateOTP(ctx, newOTP("a@x.com", "111111", clock.Now())))

	for want := 1; want <= 3; want++ {
		otp, err := repo.IncrementOTPAttempts(ctx, "a@x.com", clock.Now(), 3)
		require.NoError(t, err)
		assert.Equal(t, want, otp.Attempts)
	}

	// never increments past max
	_, err := repo.IncrementOTPAttempts(ctx, "a@x.com", clock.Now(), 3)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := repo.GetOTPByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
}

func TestIncrementOTPAttempts_Concurrent(t *testing.T) {
	_, repo := testutil.NewTestFileDB(t)
	ctx := context.Background()
	clock := testutil.NewClock()

	require.NoError(t, repo.CreateOTP(ctx, newOTP("a@x.com", "111111", clock.Now())))

	const callers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		attempts []int
		rejected int
	)
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			otp, err := repo.IncrementOTPAttempts(ctx, "a@x.com", clock.Now(), 3)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, repository.ErrNotFound) {
				rejected++
				return
			}
			if assert.NoError(t, err) {
				attempts = append(attempts, otp.Attempts)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.ElementsMatch(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, callers-3, rejected)

	got, err := repo.GetOTPByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
}

func TestIncrementOTPAttempts_Expired(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	clock := testutil.NewClock()

	require.NoError(t, repo.CreateOTP(ctx, newOTP("a@x.com", "111111", clock.Now())))
	clock.Advance(5 * time.Minute)

	_, err := repo.IncrementOTPAttempts(ctx, "a@x.com", clock.Now(), 3)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := repo.GetOTPByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Zero(t, got.Attempts)
}

func TestMarkOTPVerifiedAndFind(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	clock := testutil.NewClock()

	otp := newOTP("a@x.com", "482193", clock.Now())
	require.NoError(t, repo.CreateOTP(ctx, otp))

	_, err := repo.FindVerifiedOTP(ctx, "a@x.com", "482193", clock.Now())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.MarkOTPVerified(ctx, otp.ID, clock.Now()))

	got, err := repo.FindVerifiedOTP(ctx, "a@x.com", "482193", clock.Now())
	require.NoError(t, err)
	assert.True(t, got.Verified)
	require.NotNil(t, got.VerifiedAt)

	_, err = repo.FindVerifiedOTP(ctx, "a@x.com", "000000", clock.Now())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	clock.Advance(10 * time.Minute)
	_, err = repo.FindVerifiedOTP(ctx, "a@x.com", "482193", clock.Now())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMarkOTPVerified_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	err := repo.MarkOTPVerified(context.Background(), "nope", time.Now())

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteExpiredOTPs(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	clock := testutil.NewClock()

	require.NoError(t, repo.CreateOTP(ctx, newOTP("old@x.com", "111111", clock.Now())))
	clock.Advance(3 * time.Minute)
	require.NoError(t, repo.CreateOTP(ctx, newOTP("new@x.com", "222222", clock.Now())))
	clock.Advance(3 * time.Minute)

	n, err := repo.DeleteExpiredOTPs(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetOTPByEmail(ctx, "old@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.GetOTPByEmail(ctx, "new@x.com")
	assert.NoError(t, err)
}

func TestHitRateLimit(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	clock := testutil.NewClock()
	start := clock.Now()

	for want := 1; want <= 3; want++ {
		rl, err := repo.HitRateLimit(ctx, "a@x.com", time.Hour, clock.Now())
		require.NoError(t, err)
		assert.Equal(t, want, rl.Count)
		assert.WithinDuration(t, start.Add(time.Hour), rl.ResetTime, time.Millisecond)
		clock.Advance(time.Minute)
	}

	clock.Advance(time.Hour)
	rl, err := repo.HitRateLimit(ctx, "a@x.com", time.Hour, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, rl.Count, "counter restarts after the window")
	assert.WithinDuration(t, clock.Now().Add(time.Hour), rl.ResetTime, time.Millisecond)

	require.NoError(t, repo.DeleteRateLimit(ctx, "a@x.com"))
	rl, err = repo.HitRateLimit(ctx, "a@x.com", time.Hour, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, rl.Count)
}
