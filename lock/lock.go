/*
Package lock provides the per-member distributed mutual-exclusion guard.

PURPOSE:
  Every mutating command against one member runs under this lock, so all
  such commands are totally ordered. Commands for different members are
  fully independent.

ACQUISITION:
  Up to MaxAttempts tries with an increasing backoff schedule between them
  (default 0ms, 200ms, 500ms, 1000ms). Each attempt polls SET-NX for a
  bounded wait. Exhaustion fails with ErrLockAcquisitionFailed, which is
  retryable from the caller's perspective (service busy), never silently
  dropped.

RELEASE:
  The lock value is a per-acquisition holder token; release is a
  compare-and-delete, so only the holder that acquired the lease releases
  it. A lease that expired and was taken by someone else is left alone.
  WithLock releases on every exit path, panics included.
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warp/point-engine/kv"
)

// ErrLockAcquisitionFailed is returned when every attempt to take the lock
// timed out. Infrastructure contention; callers may retry.
var ErrLockAcquisitionFailed = errors.New("lock acquisition failed")

const memberKeyPrefix = "lock:point:member:"

// Options tunes acquisition behavior. The zero value is not usable;
// construct with DefaultOptions and override as needed.
type Options struct {
	MaxAttempts  int
	RetryDelays  []time.Duration // delay before each attempt after the first
	WaitPerTry   time.Duration   // bounded wait inside one attempt
	PollInterval time.Duration
	Lease        time.Duration // lock TTL; self-heals a crashed holder
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:  4,
		RetryDelays:  []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond, time.Second},
		WaitPerTry:   3 * time.Second,
		PollInterval: 50 * time.Millisecond,
		Lease:        5 * time.Second,
	}
}

// Locker acquires and releases member locks against a shared KV store.
type Locker struct {
	store kv.Store
	opts  Options
}

func NewLocker(store kv.Store, opts Options) *Locker {
	if opts.MaxAttempts <= 0 {
		opts = DefaultOptions()
	}
	return &Locker{store: store, opts: opts}
}

// WithMemberLock runs fn while holding the member's exclusive lock.
func (l *Locker) WithMemberLock(ctx context.Context, memberID uuid.UUID, fn func(ctx context.Context) error) error {
	return l.WithLock(ctx, memberKeyPrefix+memberID.String(), fn)
}

// WithLock acquires key, runs fn, and releases on every exit path. The lock
// is released only if this holder still owns it.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token, err := l.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer l.release(key, token)

	return fn(ctx)
}

// acquire runs the retry schedule and returns the holder token on success.
func (l *Locker) acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < l.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := l.opts.RetryDelays[min(attempt, len(l.opts.RetryDelays)-1)]
			log.Printf("lock: retrying acquisition. key=%s attempt=%d delay=%s", key, attempt+1, delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return "", err
			}
		}

		ok, err := l.tryOnce(ctx, key, token)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
	}

	log.Printf("lock: acquisition failed after all attempts. key=%s attempts=%d", key, l.opts.MaxAttempts)
	return "", fmt.Errorf("%w: %s", ErrLockAcquisitionFailed, key)
}

// tryOnce polls SET-NX for at most WaitPerTry.
func (l *Locker) tryOnce(ctx context.Context, key, token string) (bool, error) {
	deadline := time.Now().Add(l.opts.WaitPerTry)
	for {
		ok, err := l.store.SetNX(ctx, key, token, l.opts.Lease)
		if err != nil {
			return false, fmt.Errorf("lock acquire: %w", err)
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		if err := sleepCtx(ctx, l.opts.PollInterval); err != nil {
			return false, err
		}
	}
}

// release deletes the key only if it still holds this acquisition's token.
// Uses a background context so release still happens when the caller's
// context is already canceled.
func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	released, err := l.store.CompareAndDelete(ctx, key, token)
	if err != nil {
		log.Printf("lock: release failed. key=%s err=%v", key, err)
		return
	}
	if !released {
		// Lease expired and someone else holds the lock now; nothing to do.
		log.Printf("lock: lease no longer held at release. key=%s", key)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
