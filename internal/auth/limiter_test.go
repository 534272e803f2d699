package auth

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter() (*attemptLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newAttemptLimiter(15*time.Minute, 10*time.Minute, 3)
	l.now = clock.Now
	return l, clock
}

func TestAttemptLimiterLocksAndExpires(t *testing.T) {
	l, clock := newTestLimiter()

	if got := l.fail("10.0.0.1"); got != 2 {
		t.Fatalf("remaining = %d, want 2", got)
	}
	l.fail("10.0.0.1")
	if got := l.fail("10.0.0.1"); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}

	var locked *LockedError
	if err := l.check("10.0.0.1"); !errors.As(err, &locked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if locked.RetryAfter != 10*time.Minute {
		t.Fatalf("RetryAfter = %s", locked.RetryAfter)
	}
	if err := l.check("10.0.0.2"); err != nil {
		t.Fatalf("other client should not be locked: %v", err)
	}

	clock.advance(10 * time.Minute)
	if err := l.check("10.0.0.1"); err != nil {
		t.Fatalf("lock should expire: %v", err)
	}
}

func TestAttemptLimiterWindowResets(t *testing.T) {
	l, clock := newTestLimiter()

	l.fail("10.0.0.1")
	l.fail("10.0.0.1")
	clock.advance(16 * time.Minute)

	if got := l.fail("10.0.0.1"); got != 2 {
		t.Fatalf("remaining after window = %d, want 2", got)
	}
}

func TestAttemptLimiterPrunesStaleClients(t *testing.T) {
	l, clock := newTestLimiter()

	l.fail("10.0.0.1")
	l.fail("10.0.0.2")
	clock.advance(20 * time.Minute)
	l.fail("10.0.0.3")

	l.mu.Lock()
	tracked := len(l.attempts)
	l.mu.Unlock()
	if tracked != 1 {
		t.Fatalf("tracked clients = %d, want 1", tracked)
	}

	l.reset("10.0.0.3")
	if err := l.check("10.0.0.3"); err != nil {
		t.Fatalf("reset client should not be locked: %v", err)
	}
}
