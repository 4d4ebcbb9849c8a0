// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCheckFailures(t *testing.T) {
	now := time.Now()

	t.Run("no failures returns no delay", func(t *testing.T) {
		result := CheckFailures(0, nil, now)
		assert.Zero(t, result.Delay)
		assert.False(t, result.IsLockedOut)
	})

	t.Run("delay doubles per failure", func(t *testing.T) {
		assert.Equal(t, time.Second, CheckFailures(1, nil, now).Delay)
		assert.Equal(t, 2*time.Second, CheckFailures(2, nil, now).Delay)
		assert.Equal(t, 4*time.Second, CheckFailures(3, nil, now).Delay)
		assert.Equal(t, 32*time.Second, CheckFailures(6, nil, now).Delay)
	})

	t.Run("threshold causes lockout", func(t *testing.T) {
		result := CheckFailures(LockoutThreshold, nil, now)
		assert.True(t, result.IsLockedOut)
		assert.Equal(t, LockoutDuration, result.LockoutRemaining)
	})

	t.Run("existing lockout is detected", func(t *testing.T) {
		future := now.Add(10 * time.Minute)
		result := CheckFailures(0, &future, now)
		assert.True(t, result.IsLockedOut)
		assert.Equal(t, 10*time.Minute, result.LockoutRemaining)
	})

	t.Run("past lockout is ignored", func(t *testing.T) {
		past := now.Add(-time.Minute)
		assert.False(t, CheckFailures(0, &past, now).IsLockedOut)
	})

	t.Run("past lockout clears a count at the threshold", func(t *testing.T) {
		past := now.Add(-time.Minute)
		result := CheckFailures(LockoutThreshold, &past, now)
		assert.False(t, result.IsLockedOut)
		assert.Zero(t, result.Delay)
		assert.Zero(t, result.LockoutRemaining)
	})
}

func TestLoginThrottle_ProgressiveDelay(t *testing.T) {
	clock := newClock()
	throttle := newLoginThrottle(clock.Now)

	allowed, _ := throttle.Allow("alice")
	require.True(t, allowed)

	throttle.RecordFailure("alice")
	allowed, wait := throttle.Allow("alice")
	assert.False(t, allowed)
	assert.Equal(t, time.Second, wait)

	clock.Advance(time.Second)
	allowed, _ = throttle.Allow("alice")
	assert.True(t, allowed)

	throttle.RecordFailure("alice")
	_, wait = throttle.Allow("alice")
	assert.Equal(t, 2*time.Second, wait)

	allowed, _ = throttle.Allow("bob")
	assert.True(t, allowed, "other usernames are unaffected")
}

func TestLoginThrottle_LockoutAndExpiry(t *testing.T) {
	clock := newClock()
	throttle := newLoginThrottle(clock.Now)

	var result RateLimitResult
	for range LockoutThreshold {
		result = throttle.RecordFailure("alice")
	}
	require.True(t, result.IsLockedOut)

	allowed, wait := throttle.Allow("alice")
	assert.False(t, allowed)
	assert.Equal(t, LockoutDuration, wait)

	clock.Advance(LockoutDuration)
	allowed, _ = throttle.Allow("alice")
	assert.True(t, allowed, "lockout expires")

	throttle.RecordFailure("alice")
	_, wait = throttle.Allow("alice")
	assert.Equal(t, time.Second, wait, "failure count restarts after lockout")
}

func TestLoginThrottle_LockoutEndsEvenWhenLongIdle(t *testing.T) {
	clock := newClock()
	throttle := newLoginThrottle(clock.Now)

	for range LockoutThreshold {
		throttle.RecordFailure("victim")
	}
	clock.Advance(24 * time.Hour)

	allowed, wait := throttle.Allow("victim")
	assert.True(t, allowed)
	assert.Zero(t, wait)
}

func TestLoginThrottle_FailureAfterExpiredLockoutStartsOver(t *testing.T) {
	clock := newClock()
	throttle := newLoginThrottle(clock.Now)

	for range LockoutThreshold {
		throttle.RecordFailure("alice")
	}
	clock.Advance(LockoutDuration + time.Minute)

	result := throttle.RecordFailure("alice")
	assert.False(t, result.IsLockedOut)
	assert.Equal(t, time.Second, result.Delay)
}

func TestLoginThrottle_SuccessClears(t *testing.T) {
	clock := newClock()
	throttle := newLoginThrottle(clock.Now)

	throttle.RecordFailure("alice")
	throttle.RecordFailure("alice")
	throttle.RecordSuccess("alice")

	allowed, _ := throttle.Allow("alice")
	assert.True(t, allowed)
}

func TestLoginThrottle_PrunesStaleRecords(t *testing.T) {
	clock := newClock()
	throttle := newLoginThrottle(clock.Now)

	for i := range throttlePruneSize {
		throttle.RecordFailure(fmt.Sprintf("user%d", i))
	}
	clock.Advance(LockoutDuration + time.Second)
	throttle.RecordFailure("fresh")

	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	assert.Len(t, throttle.records, 1)
}

func TestLoginThrottle_Concurrent(t *testing.T) {
	throttle := NewLoginThrottle()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			throttle.RecordFailure("alice")
			throttle.Allow("alice")
		}()
	}
	wg.Wait()

	allowed, wait := throttle.Allow("alice")
	assert.False(t, allowed)
	assert.Equal(t, LockoutDuration, wait.Round(time.Minute))
}
