package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-petition/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) Take(ctx context.Context, bucket string, r Rule, now time.Time) (bool, error) {
	args := m.Called(ctx, bucket, r, now)
	return args.Bool(0), args.Error(1)
}

var rule = Rule{Name: "otp:email", Max: 2, Window: time.Minute}

func TestNewPolicy_FromConfig(t *testing.T) {
	p := NewPolicy(&config.Config{RateLimits: config.RateLimits{
		OTPPerEmail: config.Limit{Max: 5, Window: 15 * time.Minute},
		SignPerIP:   config.Limit{Max: 10, Window: time.Hour},
	}})
	assert.Equal(t, Rule{Name: "otp:email", Max: 5, Window: 15 * time.Minute}, p.OTPPerEmail)
	assert.Equal(t, "sign:ip", p.SignPerIP.Name)
	assert.Equal(t, "otp-verify:email", p.OTPVerifyPerEmail.Name)
}

func TestLimiter_UsesPrimary(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	primary.On("Take", mock.Anything, "otp:email:a@x.com", rule, mock.Anything).Return(false, nil)

	ok, err := New(primary, fallback).Allow(context.Background(), rule, "a@x.com")
	require.NoError(t, err)
	assert.False(t, ok)
	fallback.AssertNotCalled(t, "Take", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLimiter_FallsBackOnStoreError(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	primary.On("Take", mock.Anything, mock.Anything, rule, mock.Anything).Return(false, errors.New("throttled"))
	fallback.On("Take", mock.Anything, "otp:email:a@x.com", rule, mock.Anything).Return(true, nil)

	ok, err := New(primary, fallback).Allow(context.Background(), rule, "a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
	fallback.AssertExpectations(t)
}

func TestLimiter_NoFallbackReturnsError(t *testing.T) {
	primary := new(mockStore)
	primary.On("Take", mock.Anything, mock.Anything, rule, mock.Anything).Return(false, errors.New("down"))

	_, err := New(primary, nil).Allow(context.Background(), rule, "a@x.com")
	assert.Error(t, err)
}

func TestDisabled_AlwaysAllows(t *testing.T) {
	l := Disabled()
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(context.Background(), rule, "a@x.com")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestLocalStore_EnforcesMaxPerWindow(t *testing.T) {
	s := NewLocalStore(128, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < rule.Max; i++ {
		ok, err := s.Take(ctx, "b", rule, now)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := s.Take(ctx, "b", rule, now)
	assert.False(t, ok, "third hit inside the window")

	ok, _ = s.Take(ctx, "other", rule, now)
	assert.True(t, ok, "buckets are independent")

	ok, _ = s.Take(ctx, "b", rule, now.Add(2*rule.Window))
	assert.True(t, ok, "an idle window resets the count")
}

func TestLocalStore_NoBurstBeyondMaxAcrossWindow(t *testing.T) {
	s := NewLocalStore(128, time.Hour)
	r := Rule{Name: "otp:email", Max: 5, Window: 15 * time.Minute}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// One hit per minute for a full window: only Max get through.
	allowed := 0
	for i := 0; i < 15; i++ {
		if ok, _ := s.Take(ctx, "b", r, start.Add(time.Duration(i)*time.Minute)); ok {
			allowed++
		}
	}
	assert.Equal(t, r.Max, allowed)
}

func TestLocalStore_PreviousWindowStillCounts(t *testing.T) {
	s := NewLocalStore(128, time.Hour)
	r := Rule{Name: "sign:ip", Max: 4, Window: time.Hour}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < r.Max; i++ {
		ok, _ := s.Take(ctx, "b", r, start.Add(50*time.Minute))
		require.True(t, ok)
	}
	// 15 minutes into the next window, 3/4 of the previous 4 hits still weigh in.
	ok, _ := s.Take(ctx, "b", r, start.Add(75*time.Minute))
	assert.True(t, ok)
	ok, _ = s.Take(ctx, "b", r, start.Add(75*time.Minute))
	assert.False(t, ok)
}

func TestSlidingEstimate(t *testing.T) {
	w := time.Hour
	assert.InDelta(t, 10.0, SlidingEstimate(10, 0, 0, w), 1e-9)
	assert.InDelta(t, 5.0+2.0, SlidingEstimate(10, 2, 30*time.Minute, w), 1e-9)
	assert.InDelta(t, 2.0, SlidingEstimate(10, 2, w, w), 1e-9)
}

func TestLimiter_WithLocalStoreAsPrimary(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(NewLocalStore(16, time.Hour), nil).WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok1, _ := l.Allow(ctx, rule, "a")
	ok2, _ := l.Allow(ctx, rule, "a")
	ok3, _ := l.Allow(ctx, rule, "a")
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
}
