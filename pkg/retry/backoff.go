// Package retry computes exponential backoff delays with deterministic
// jitter and runs bounded retry loops.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Params identifies one attempt. Jitter is a pure function of these fields
// so a schedule can be reproduced from logs.
type Params struct {
	Operation string
	Key       string
	Attempt   int
}

type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultPolicy is used by the remote function client.
var DefaultPolicy = Policy{
	BaseMs:      100,
	MaxMs:       2000,
	MaxJitterMs: 50,
	MaxAttempts: 3,
}

// Backoff returns the delay before the given attempt.
// Attempt 0 is the first call and has no delay.
func Backoff(params Params, policy Policy) time.Duration {
	if params.Attempt <= 0 {
		return 0
	}
	exp := params.Attempt - 1
	if exp > 30 {
		exp = 30
	}
	delay := policy.BaseMs << exp
	if policy.MaxMs > 0 && delay > policy.MaxMs {
		delay = policy.MaxMs
	}
	return time.Duration(delay+Jitter(params, policy)) * time.Millisecond
}

// Jitter derives the jitter for params from a hash of its fields.
func Jitter(params Params, policy Policy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%d", params.Operation, params.Key, params.Attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is positive here
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Do calls fn until it succeeds, returns an error for which retryable is
// false, or the policy's attempts are used up. The last error is returned.
func Do(ctx context.Context, params Params, policy Policy, sleep Sleeper, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if sleep == nil {
		sleep = ContextSleep
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		p := params
		p.Attempt = i
		if err := sleep(ctx, Backoff(p, policy)); err != nil {
			return err
		}
		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}
