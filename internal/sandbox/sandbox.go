// Package sandbox runs dynamically supplied fact logic under restricted
// capabilities and a wall-clock time budget. Two kinds exist: a single
// side-effect-free expression, and a short code body with an implicit
// (deps, ctx) -> output contract. Both run in-process on interpreters with
// no import mechanism and no ambient I/O; the only capabilities a code
// body sees beyond arithmetic are the query handles explicitly injected.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single logic invocation when no budget is
// configured.
const DefaultTimeout = 5 * time.Second

// QueryFunc is a read-only query primitive injected into code logic as an
// opaque handle (e.g. ledger feeds). It must not mutate anything.
type QueryFunc func(ctx context.Context, filter map[string]any) ([]map[string]any, error)

// Options configures compiled logic.
type Options struct {
	// Timeout is the wall-clock budget per invocation.
	Timeout time.Duration

	// Queries are the named read-only handles exposed to code logic
	// under the global `ledger` object. Expression logic never sees
	// them.
	Queries map[string]QueryFunc
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Logic is a compiled, invocable fact producer. Compiled once at registry
// build, invoked per resolution.
type Logic interface {
	Invoke(ctx context.Context, deps map[string]any, params map[string]any) (any, error)
}

// TimeoutError reports that logic exceeded its time budget. The
// invocation is cancelled and never returns a value.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sandbox: execution exceeded %s budget", e.Budget)
}

// IsTimeout reports whether err (or its chain) is a sandbox timeout.
func IsTimeout(err error) bool {
	for err != nil {
		if _, ok := err.(*TimeoutError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
