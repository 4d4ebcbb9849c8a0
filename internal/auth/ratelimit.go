// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"sync"
	"time"
)

// Rate limiting configuration.
const (
	// LockoutDuration is the time a username is locked out after too many failures.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of failures that triggers a lockout.
	LockoutThreshold = 7

	// maxDelay caps the progressive delay between attempts.
	maxDelay = 32 * time.Second

	// throttlePruneSize is the tracked-username count above which stale
	// records are dropped.
	throttlePruneSize = 10_000
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	// Delay is the minimum gap after the last failure before another attempt.
	Delay time.Duration

	// IsLockedOut indicates the username is temporarily locked.
	IsLockedOut bool

	// LockoutRemaining is the time until the lockout expires.
	LockoutRemaining time.Duration
}

// CheckFailures evaluates the rate limit state for a failure count.
// lockedUntil is the current lockout timestamp (nil if not locked). Once it
// has passed the caller is unrestricted; a new lockout is only ever set by
// counting further failures.
func CheckFailures(failures int, lockedUntil *time.Time, now time.Time) RateLimitResult {
	result := RateLimitResult{}

	if lockedUntil != nil {
		if lockedUntil.After(now) {
			result.IsLockedOut = true
			result.LockoutRemaining = lockedUntil.Sub(now)
		}
		return result
	}

	// Progressive delay: 2^(failures-1) seconds.
	if failures > 0 && failures < LockoutThreshold {
		result.Delay = min(time.Duration(1<<(failures-1))*time.Second, maxDelay)
	}

	if failures >= LockoutThreshold {
		result.IsLockedOut = true
		result.LockoutRemaining = LockoutDuration
	}

	return result
}

type failureRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil *time.Time
}

// LoginThrottle tracks failed logins per username in memory and refuses
// attempts that arrive during a lockout or inside the progressive delay.
//
// LoginThrottle is safe for concurrent use.
type LoginThrottle struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	now     func() time.Time
}

// NewLoginThrottle creates an empty throttle.
func NewLoginThrottle() *LoginThrottle {
	return newLoginThrottle(time.Now)
}

func newLoginThrottle(now func() time.Time) *LoginThrottle {
	return &LoginThrottle{records: make(map[string]*failureRecord), now: now}
}

// Allow reports whether username may attempt a login now. When it may not,
// retryAfter is how long the caller should wait.
func (t *LoginThrottle) Allow(username string) (allowed bool, retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[username]
	if !ok {
		return true, 0
	}
	now := t.now()
	result := CheckFailures(rec.failures, rec.lockedUntil, now)
	if result.IsLockedOut {
		return false, result.LockoutRemaining
	}
	if rec.lockedUntil != nil {
		// Lockout expired; start over.
		delete(t.records, username)
		return true, 0
	}
	if wait := rec.lastFailure.Add(result.Delay).Sub(now); wait > 0 {
		return false, wait
	}
	return true, 0
}

// RecordFailure counts a failed attempt for username.
func (t *LoginThrottle) RecordFailure(username string) RateLimitResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if len(t.records) >= throttlePruneSize {
		t.pruneLocked(now)
	}

	rec, ok := t.records[username]
	if !ok || (rec.lockedUntil != nil && !rec.lockedUntil.After(now)) {
		rec = &failureRecord{}
		t.records[username] = rec
	}
	rec.failures++
	rec.lastFailure = now
	if rec.failures >= LockoutThreshold && rec.lockedUntil == nil {
		lockout := now.Add(LockoutDuration)
		rec.lockedUntil = &lockout
	}
	return CheckFailures(rec.failures, rec.lockedUntil, now)
}

// RecordSuccess clears the failure history for username.
func (t *LoginThrottle) RecordSuccess(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, username)
}

// pruneLocked drops records that no longer restrict anything.
func (t *LoginThrottle) pruneLocked(now time.Time) {
	for name, rec := range t.records {
		expired := rec.lockedUntil != nil && !rec.lockedUntil.After(now)
		stale := rec.lockedUntil == nil && now.Sub(rec.lastFailure) > LockoutDuration
		if expired || stale {
			delete(t.records, name)
		}
	}
}
