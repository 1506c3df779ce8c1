// Package flight collapses concurrent calls for the same key into a single
// outbound operation. It is the coordinator behind token refresh and CSRF
// token fetches: however many goroutines race on an expired session, only
// one network round-trip is made and every caller sees the same outcome.
package flight

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/singleflight"
)

// PanicError is returned to every waiter when the shared call panicked.
type PanicError struct {
	Key   string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("flight: call for %q panicked: %v", e.Key, e.Value)
}

// Group de-duplicates calls by key. The zero value is ready to use and a
// Group must not be copied after first use.
type Group[T any] struct {
	g singleflight.Group
}

// Do runs fn for key unless a call for key is already live, in which case it
// waits for that call instead. The entry for key is released as soon as fn
// returns, so a caller arriving afterwards starts a fresh call and never sees
// a stale result.
//
// fn runs detached from ctx cancellation: a caller that gives up gets
// ctx.Err() while the shared call carries on for the remaining waiters.
func (g *Group[T]) Do(
	ctx context.Context,
	key string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	callCtx := context.WithoutCancel(ctx)

	ch := g.g.DoChan(key, func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Key: key, Value: r, Stack: debug.Stack()}
			}
		}()
		return fn(callCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Forget drops key so the next Do starts a new call even if one is live.
// Only test teardown should need this.
func (g *Group[T]) Forget(key string) {
	g.g.Forget(key)
}
