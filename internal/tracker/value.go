// Package tracker provides named, observable state slots with validation,
// change detection, forced re-emission and blocking waits.
//
// Every Value serialises its own mutations and notifications. The goroutine
// whose Set starts a delivery run becomes the dispatcher: it calls the
// observers of each emission in registration order, with the value unlocked,
// and keeps draining until no emission is pending. Emissions are never
// interleaved.
//
// A Set made while a run is in progress, whether from an observer or from
// another goroutine, stores the value and queues its emission, then returns
// before any observer has seen it. The dispatcher delivers it later.
//
// Observers may Get and Set their own tracker. They must not block waiting
// for a later emission of it, such as by calling WaitFor on it: that
// emission can only be delivered by the goroutine the observer is blocking.
// Hand such waits to another goroutine.
package tracker

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Change is the payload delivered to observers for one emission.
type Change[T any] struct {
	Current     T
	Previous    T
	HasPrevious bool
	Forced      bool
}

// Hook is an observer. Its identity is the pointer returned by NewHook, so
// the same *Hook can be removed later and is never registered twice.
type Hook[T any] struct {
	fn func(Change[T]) error
}

// NewHook wraps fn as an observer.
func NewHook[T any](fn func(Change[T]) error) *Hook[T] {
	return &Hook[T]{fn: fn}
}

// subscriber holds either a typed hook or an untyped relay hook so both kinds
// share one registration order.
type subscriber[T any] struct {
	typed   *Hook[T]
	untyped *Hook[any]
}

func (s subscriber[T]) call(c Change[T]) error {
	if s.typed != nil {
		return s.typed.fn(c)
	}
	ac := Change[any]{Current: c.Current, HasPrevious: c.HasPrevious, Forced: c.Forced}
	if c.HasPrevious {
		ac.Previous = c.Previous
	}
	return s.untyped.fn(ac)
}

type options[T any] struct {
	initial    T
	hasInitial bool
	policy     Policy[T]
	equal      Equality[T]
}

// Option configures a Value at construction.
type Option[T any] func(*options[T])

// WithInitial sets the value held before the first Set.
func WithInitial[T any](v T) Option[T] {
	return func(o *options[T]) {
		o.initial = v
		o.hasInitial = true
	}
}

// WithPolicy restricts the values the tracker accepts.
func WithPolicy[T any](p Policy[T]) Option[T] {
	return func(o *options[T]) { o.policy = p }
}

// WithEquality selects the change-detection policy. Deep is used when unset.
func WithEquality[T any](eq Equality[T]) Option[T] {
	return func(o *options[T]) { o.equal = eq }
}

// Value is a single named, observable state slot.
type Value[T any] struct {
	name    string
	policy  Policy[T]
	equal   Equality[T]
	onError func(name string, err error)

	mu          sync.Mutex
	current     T
	hasCurrent  bool
	previous    T
	hasPrevious bool
	subs        []subscriber[T]
	pending     []Change[T]
	dispatching bool
}

// New creates a standalone Value. Most callers go through a Registry instead.
// onError receives observer failures; it may be nil.
func New[T any](name string, onError func(name string, err error), opts ...Option[T]) (*Value[T], error) {
	o := options[T]{policy: Unrestricted[T]()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.equal == nil {
		o.equal = Deep[T]()
	}
	if o.hasInitial && !o.policy.allows(o.initial) {
		return nil, &InvalidValueError{Name: name, Value: o.initial}
	}

	return &Value[T]{
		name:       name,
		policy:     o.policy,
		equal:      o.equal,
		onError:    onError,
		current:    o.initial,
		hasCurrent: o.hasInitial,
	}, nil
}

// Name returns the tracker name.
func (v *Value[T]) Name() string {
	return v.name
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Previous returns the value held before the last successful Set, and whether
// there was one.
func (v *Value[T]) Previous() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.previous, v.hasPrevious
}

// Set validates and stores val. Observers are notified when force is true or
// val differs from the old value under the equality policy.
func (v *Value[T]) Set(val T, force bool) error {
	return v.apply(func(T) T { return val }, force)
}

// ForceUpdate re-emits the current value unconditionally.
func (v *Value[T]) ForceUpdate() error {
	return v.apply(func(cur T) T { return cur }, true)
}

func (v *Value[T]) apply(next func(current T) T, force bool) error {
	v.mu.Lock()
	val := next(v.current)
	if !v.policy.allows(val) {
		v.mu.Unlock()
		return &InvalidValueError{Name: v.name, Value: val}
	}

	v.previous, v.hasPrevious = v.current, v.hasCurrent
	v.current, v.hasCurrent = val, true

	if !force && v.hasPrevious && v.equal(v.current, v.previous) {
		v.mu.Unlock()
		return nil
	}

	v.pending = append(v.pending, Change[T]{
		Current:     v.current,
		Previous:    v.previous,
		HasPrevious: v.hasPrevious,
		Forced:      force,
	})
	if v.dispatching {
		// The goroutine already dispatching delivers this emission in order.
		v.mu.Unlock()
		return nil
	}

	v.dispatching = true
	for len(v.pending) > 0 {
		c := v.pending[0]
		v.pending = v.pending[1:]
		subs := slices.Clone(v.subs)

		v.mu.Unlock()
		v.dispatch(c, subs)
		v.mu.Lock()
	}
	v.pending = nil
	v.dispatching = false
	v.mu.Unlock()
	return nil
}

func (v *Value[T]) dispatch(c Change[T], subs []subscriber[T]) {
	for _, s := range subs {
		if err := v.notify(s, c); err != nil && v.onError != nil {
			v.onError(v.name, err)
		}
	}
}

// notify isolates a failing observer from the rest of the emission.
func (v *Value[T]) notify(s subscriber[T], c Change[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return s.call(c)
}

// AddHook registers h. Registering the same hook twice has no effect.
func (v *Value[T]) AddHook(h *Hook[T]) {
	if h == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if slices.ContainsFunc(v.subs, func(s subscriber[T]) bool { return s.typed == h }) {
		return
	}
	v.subs = append(v.subs, subscriber[T]{typed: h})
}

// RemoveHook deregisters h. Delivery already in progress is not affected.
func (v *Value[T]) RemoveHook(h *Hook[T]) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subs = slices.DeleteFunc(v.subs, func(s subscriber[T]) bool { return s.typed == h })
}

// AddAnyHook registers an untyped observer, used by relays that handle every
// tracker the same way.
func (v *Value[T]) AddAnyHook(h *Hook[any]) {
	if h == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if slices.ContainsFunc(v.subs, func(s subscriber[T]) bool { return s.untyped == h }) {
		return
	}
	v.subs = append(v.subs, subscriber[T]{untyped: h})
}

// RemoveAllHooks clears every observer. Current and previous values are kept.
func (v *Value[T]) RemoveAllHooks() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subs = nil
}

// HookCount returns the number of registered observers.
func (v *Value[T]) HookCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

func (v *Value[T]) currentAny() any {
	return v.Get()
}

func (v *Value[T]) typeName() string {
	return reflect.TypeFor[T]().String()
}
