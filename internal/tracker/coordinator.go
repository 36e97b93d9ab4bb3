package tracker

import (
	"sync"
	"sync/atomic"
)

// RunWhenReady runs action exactly once, as soon as ready holds for the
// tracker's value. If it already holds, action runs immediately on the
// calling goroutine and nothing is registered. Otherwise a transient observer
// waits for the first satisfying emission, removes itself and then runs
// action, so a Set issued by action is not seen by that observer.
//
// The returned cancel func deregisters the observer without running action.
// It is safe to call after action has run.
func (v *Value[T]) RunWhenReady(ready func(T) bool, action func()) (cancel func()) {
	if ready(v.Get()) {
		action()
		return func() {}
	}

	c := v.once(func(c Change[T]) bool { return ready(c.Current) }, func(Change[T]) { action() })

	// Catch a Set that landed between the check above and registration.
	if ready(v.Get()) {
		c.fire(Change[T]{})
	}
	return c.cancel
}

// Once runs action for the first future emission matching match, then
// deregisters. Unlike RunWhenReady the current value is not consulted, which
// makes it suitable for transitions such as "offline right after queueing".
func (v *Value[T]) Once(match func(Change[T]) bool, action func(Change[T])) (cancel func()) {
	return v.once(match, action).cancel
}

type oneShot[T any] struct {
	fired   atomic.Bool
	release func()
	action  func(Change[T])
}

func (o *oneShot[T]) fire(c Change[T]) {
	if !o.fired.CompareAndSwap(false, true) {
		return
	}
	o.release()
	o.action(c)
}

func (o *oneShot[T]) cancel() {
	if o.fired.CompareAndSwap(false, true) {
		o.release()
	}
}

func (v *Value[T]) once(match func(Change[T]) bool, action func(Change[T])) *oneShot[T] {
	o := &oneShot[T]{action: action}
	var hook *Hook[T]
	o.release = sync.OnceFunc(func() { v.RemoveHook(hook) })
	hook = NewHook(func(c Change[T]) error {
		if match(c) {
			o.fire(c)
		}
		return nil
	})
	v.AddHook(hook)
	return o
}
