package tracker

import (
	"context"
	"sync"
	"time"
)

// WaitFor blocks until an emission made after the call satisfies pred and
// returns the emitted value. The value held at call time is never tested;
// callers that need it to count should ForceUpdate after WaitFor has
// registered, or check Get first.
//
// The deadline is enforced by a timer, so a tracker that never emits again
// still fails with a *TimeoutError once timeout has elapsed. The internal
// observer is removed exactly once, on whichever of success, timeout or
// context cancellation comes first.
//
// WaitFor must not be called from an observer of the same tracker. The
// emission it waits for is queued behind the one being delivered, so the
// call can only end by timeout or cancellation, and every queued emission
// stalls until it does.
func (v *Value[T]) WaitFor(ctx context.Context, pred func(T) bool, timeout time.Duration) (T, error) {
	var zero T
	if timeout <= 0 {
		return zero, ErrInvalidTimeout
	}

	satisfied := make(chan T, 1)
	var hook *Hook[T]
	release := sync.OnceFunc(func() { v.RemoveHook(hook) })
	hook = NewHook(func(c Change[T]) error {
		if !pred(c.Current) {
			return nil
		}
		select {
		case satisfied <- c.Current:
		default:
		}
		release()
		return nil
	})

	v.AddHook(hook)
	defer release()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case val := <-satisfied:
		return val, nil
	case <-timer.C:
		// A satisfying emission racing the timer still wins.
		select {
		case val := <-satisfied:
			return val, nil
		default:
		}
		return zero, &TimeoutError{Name: v.name, Timeout: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
