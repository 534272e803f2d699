package auth

import (
	"sync"
	"time"
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// attemptLimiter はクライアントIPごとのログイン失敗回数を数え、上限でロックします。
type attemptLimiter struct {
	window      time.Duration
	lockFor     time.Duration
	maxAttempts int
	now         func() time.Time

	mu       sync.Mutex
	attempts map[string]*attemptState
}

func newAttemptLimiter(window, lockFor time.Duration, maxAttempts int) *attemptLimiter {
	return &attemptLimiter{
		window:      window,
		lockFor:     lockFor,
		maxAttempts: maxAttempts,
		now:         time.Now,
		attempts:    make(map[string]*attemptState),
	}
}

// check はロック中なら *LockedError を返します。
func (l *attemptLimiter) check(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.attempts[ip]
	if !ok {
		return nil
	}
	now := l.now()
	if !now.Before(state.lockedUntil) {
		return nil
	}
	return &LockedError{RetryAfter: state.lockedUntil.Sub(now)}
}

// fail は失敗を記録し、残りの試行回数を返します。
func (l *attemptLimiter) fail(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	state, ok := l.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > l.window {
		state = &attemptState{firstAttempt: now}
		l.attempts[ip] = state
	}

	state.count++
	if state.count >= l.maxAttempts {
		state.lockedUntil = now.Add(l.lockFor)
		state.count = l.maxAttempts
	}
	return l.maxAttempts - state.count
}

func (l *attemptLimiter) reset(ip string) {
	l.mu.Lock()
	delete(l.attempts, ip)
	l.mu.Unlock()
}

// pruneLocked は窓もロックも過ぎた記録を捨てます。呼び出し側でロックを取ってください。
func (l *attemptLimiter) pruneLocked(now time.Time) {
	for ip, state := range l.attempts {
		if now.Sub(state.firstAttempt) > l.window && !now.Before(state.lockedUntil) {
			delete(l.attempts, ip)
		}
	}
}
