/*
Package idempotency guards mutating operations with at-most-once effect per
caller-supplied key.

PROTOCOL (three states, backed by a shared KV store with TTL):
  1. tryAcquire: SET-NX an in-flight marker with a short TTL. A crashed
     worker's marker expires on its own, so no permanent deadlock.
  2. On success: store the serialized response under the key with a longer
     TTL, overwriting the marker.
  3. On failure: delete the key so the client can retry.

A caller that misses the cached result but finds the key already completed
(the race between Get and SetNX) re-polls the stored result rather than
executing twice.
*/
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/warp/point-engine/kv"
)

const (
	keyPrefix       = "idempotency:"
	processingValue = "PROCESSING"
)

var (
	// ErrRequestInProgress is returned when another caller is currently
	// executing the same key.
	ErrRequestInProgress = errors.New("request in progress")

	// ErrDuplicateRequest is returned when a key is marked completed but the
	// stored result can no longer be read.
	ErrDuplicateRequest = errors.New("duplicate request")
)

// AcquireResult is the outcome of tryAcquire.
type AcquireResult int

const (
	Acquired AcquireResult = iota
	Processing
	AlreadyCompleted
)

// Coordinator implements the three-state idempotency protocol.
type Coordinator struct {
	store       kv.Store
	inflightTTL time.Duration
	resultTTL   time.Duration
}

// NewCoordinator builds a coordinator. Zero TTLs fall back to 30s in-flight
// and 24h result retention.
func NewCoordinator(store kv.Store, inflightTTL, resultTTL time.Duration) *Coordinator {
	if inflightTTL <= 0 {
		inflightTTL = 30 * time.Second
	}
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	return &Coordinator{store: store, inflightTTL: inflightTTL, resultTTL: resultTTL}
}

// TryAcquire marks the key in-flight if it is absent.
func (c *Coordinator) TryAcquire(ctx context.Context, key string) (AcquireResult, error) {
	ok, err := c.store.SetNX(ctx, keyPrefix+key, processingValue, c.inflightTTL)
	if err != nil {
		return Processing, fmt.Errorf("idempotency acquire: %w", err)
	}
	if ok {
		return Acquired, nil
	}

	val, exists, err := c.store.Get(ctx, keyPrefix+key)
	if err != nil {
		return Processing, fmt.Errorf("idempotency acquire: %w", err)
	}
	if !exists {
		// Marker expired between SetNX and Get; treat as contended and let
		// the caller retry.
		return Processing, nil
	}
	if val == processingValue {
		return Processing, nil
	}
	return AlreadyCompleted, nil
}

// SaveResult stores the serialized response, overwriting the in-flight marker.
func (c *Coordinator) SaveResult(ctx context.Context, key string, result []byte) error {
	return c.store.Set(ctx, keyPrefix+key, string(result), c.resultTTL)
}

// Result returns the stored response only when the key is in the completed
// state (never while in-flight).
func (c *Coordinator) Result(ctx context.Context, key string) ([]byte, bool, error) {
	val, exists, err := c.store.Get(ctx, keyPrefix+key)
	if err != nil {
		return nil, false, err
	}
	if !exists || val == processingValue {
		return nil, false, nil
	}
	return []byte(val), true, nil
}

// Remove deletes the key, allowing retry after a failed execution.
func (c *Coordinator) Remove(ctx context.Context, key string) error {
	return c.store.Del(ctx, keyPrefix+key)
}

// Execute runs op with the full protocol around it. An empty key disables
// idempotency protection for the call. The returned bytes are the JSON
// response, either freshly produced or replayed from the completed state.
func (c *Coordinator) Execute(ctx context.Context, key string, op func(ctx context.Context) (any, error)) ([]byte, error) {
	if key == "" {
		result, err := op(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}

	// Fast path: a completed result is already stored.
	if cached, ok, err := c.Result(ctx, key); err == nil && ok {
		return cached, nil
	}

	acquired, err := c.TryAcquire(ctx, key)
	if err != nil {
		return nil, err
	}
	switch acquired {
	case Processing:
		return nil, ErrRequestInProgress
	case AlreadyCompleted:
		// Race: completed between the cache miss and the acquire attempt.
		cached, ok, err := c.Result(ctx, key)
		if err == nil && ok {
			return cached, nil
		}
		return nil, ErrDuplicateRequest
	}

	result, err := op(ctx)
	if err != nil {
		// Business or infrastructure failure: clear the marker so the
		// client can safely retry.
		if removeErr := c.Remove(ctx, key); removeErr != nil {
			log.Printf("idempotency: failed to remove key after error. key=%s err=%v", key, removeErr)
		}
		return nil, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		if removeErr := c.Remove(ctx, key); removeErr != nil {
			log.Printf("idempotency: failed to remove key after marshal error. key=%s err=%v", key, removeErr)
		}
		return nil, fmt.Errorf("marshal idempotent result: %w", err)
	}
	if err := c.SaveResult(ctx, key, payload); err != nil {
		// The mutation committed; losing the cached result only costs a
		// replayed client a DuplicateRequest instead of the stored response.
		log.Printf("idempotency: failed to save result. key=%s err=%v", key, err)
	}
	return payload, nil
}
