package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// entry is the type-erased view of a Value the registry keeps.
type entry interface {
	Name() string
	ForceUpdate() error
	RemoveAllHooks()
	HookCount() int
	AddAnyHook(*Hook[any])
	currentAny() any
	typeName() string
}

// Registry is a named collection of trackers. It is the only access path
// calling code uses; trackers are addressed by name.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]entry
	logger   *log.Logger
}

// NewRegistry creates an empty registry. Observer failures are reported on
// logger, or on a default "tracker" logger when nil.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default().WithPrefix("tracker")
	}
	return &Registry{
		trackers: make(map[string]entry),
		logger:   logger,
	}
}

func (r *Registry) observerFailed(name string, err error) {
	r.logger.Error("observer failed", "tracker", name, "err", err)
}

func (r *Registry) get(name string) (entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.trackers[name]
	if !ok {
		return nil, &UnknownNameError{Name: name}
	}
	return e, nil
}

// AddTracker creates a tracker of type T under name.
func AddTracker[T any](r *Registry, name string, opts ...Option[T]) (*Value[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.trackers[name]; exists {
		return nil, &DuplicateNameError{Name: name}
	}
	v, err := New(name, r.observerFailed, opts...)
	if err != nil {
		return nil, err
	}
	r.trackers[name] = v
	return v, nil
}

func lookup[T any](r *Registry, name string) (*Value[T], error) {
	e, err := r.get(name)
	if err != nil {
		return nil, err
	}
	v, ok := e.(*Value[T])
	if !ok {
		var want Value[T]
		return nil, &TypeMismatchError{Name: name, Want: want.typeName(), Got: e.typeName()}
	}
	return v, nil
}

// GetStatus returns the current value of the named tracker.
func GetStatus[T any](r *Registry, name string) (T, error) {
	v, err := lookup[T](r, name)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.Get(), nil
}

// SetStatus assigns val to the named tracker.
func SetStatus[T any](r *Registry, name string, val T, force bool) error {
	v, err := lookup[T](r, name)
	if err != nil {
		return err
	}
	return v.Set(val, force)
}

// AddHook registers h on the named tracker.
func AddHook[T any](r *Registry, name string, h *Hook[T]) error {
	v, err := lookup[T](r, name)
	if err != nil {
		return err
	}
	v.AddHook(h)
	return nil
}

// RemoveHook deregisters h from the named tracker.
func RemoveHook[T any](r *Registry, name string, h *Hook[T]) error {
	v, err := lookup[T](r, name)
	if err != nil {
		return err
	}
	v.RemoveHook(h)
	return nil
}

// WaitFor blocks until an emission of the named tracker satisfies pred. See
// Value.WaitFor, including why observers of that tracker must not call it.
func WaitFor[T any](ctx context.Context, r *Registry, name string, pred func(T) bool, timeout time.Duration) (T, error) {
	v, err := lookup[T](r, name)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.WaitFor(ctx, pred, timeout)
}

// RunWhenReady runs action once the named tracker satisfies ready. See
// Value.RunWhenReady.
func RunWhenReady[T any](r *Registry, name string, ready func(T) bool, action func()) (cancel func(), err error) {
	v, err := lookup[T](r, name)
	if err != nil {
		return nil, err
	}
	return v.RunWhenReady(ready, action), nil
}

// Once runs action for the first future emission of the named tracker that
// matches. See Value.Once.
func Once[T any](r *Registry, name string, match func(Change[T]) bool, action func(Change[T])) (cancel func(), err error) {
	v, err := lookup[T](r, name)
	if err != nil {
		return nil, err
	}
	return v.Once(match, action), nil
}

// RemoveTracker detaches every observer from the named tracker and removes it.
func (r *Registry) RemoveTracker(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.trackers[name]
	if !ok {
		return &UnknownNameError{Name: name}
	}
	e.RemoveAllHooks()
	delete(r.trackers, name)
	return nil
}

// RemoveAllTrackers removes every tracker.
func (r *Registry) RemoveAllTrackers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.trackers {
		e.RemoveAllHooks()
		delete(r.trackers, name)
	}
}

// RemoveAllHooks clears the observers of the named tracker.
func (r *Registry) RemoveAllHooks(name string) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}
	e.RemoveAllHooks()
	return nil
}

// ForceStatusUpdate re-emits the named tracker's current value.
func (r *Registry) ForceStatusUpdate(name string) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}
	return e.ForceUpdate()
}

// AddAnyHook registers an untyped observer on the named tracker.
func (r *Registry) AddAnyHook(name string, h *Hook[any]) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}
	e.AddAnyHook(h)
	return nil
}

// HookCount reports how many observers the named tracker has.
func (r *Registry) HookCount(name string) (int, error) {
	e, err := r.get(name)
	if err != nil {
		return 0, err
	}
	return e.HookCount(), nil
}

// Status returns the named tracker's current value without static typing.
func (r *Registry) Status(name string) (any, error) {
	e, err := r.get(name)
	if err != nil {
		return nil, err
	}
	return e.currentAny(), nil
}

// Snapshot returns the current value of every tracker.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	entries := make([]entry, 0, len(r.trackers))
	for _, e := range r.trackers {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make(map[string]any, len(entries))
	for _, e := range entries {
		out[e.Name()] = e.currentAny()
	}
	return out
}

// Names returns the registered tracker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.trackers))
	for name := range r.trackers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
