package tracker

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type light string

const (
	lightRed   light = "red"
	lightGreen light = "green"
)

func (l light) Validate() error {
	switch l {
	case lightRed, lightGreen:
		return nil
	}
	return errors.New("not a light")
}

type record struct {
	A int
	B int
}

// recorder collects emissions for assertions.
type recorder[T any] struct {
	mu      sync.Mutex
	changes []Change[T]
}

func (r *recorder[T]) hook() *Hook[T] {
	return NewHook(func(c Change[T]) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.changes = append(r.changes, c)
		return nil
	})
}

func (r *recorder[T]) all() []Change[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Change[T], len(r.changes))
	copy(out, r.changes)
	return out
}

func TestNewStartsWithoutPrevious(t *testing.T) {
	v, err := New("s", nil, WithInitial("offline"))
	require.NoError(t, err)

	assert.Equal(t, "s", v.Name())
	assert.Equal(t, "offline", v.Get())
	_, ok := v.Previous()
	assert.False(t, ok)
	assert.Zero(t, v.HookCount())
}

func TestNewRejectsInvalidInitial(t *testing.T) {
	_, err := New("flag", nil, WithInitial("maybe"), WithPolicy(AllowedSet("on", "off")))

	var invalid *InvalidValueError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "flag", invalid.Name)
	assert.Equal(t, "maybe", invalid.Value)
}

func TestSetRejectsValueOutsideAllowedSet(t *testing.T) {
	v, err := New("maintenance", nil, WithInitial(false), WithPolicy(AllowedSet(true, false)))
	require.NoError(t, err)
	rec := &recorder[bool]{}
	v.AddHook(rec.hook())

	require.NoError(t, v.Set(true, false))

	assert.True(t, v.Get())
	prev, ok := v.Previous()
	assert.True(t, ok)
	assert.False(t, prev)
	assert.Len(t, rec.all(), 1)
}

func TestSetRejectsForeignValueInAllowedSet(t *testing.T) {
	v, err := New("maintenance", nil, WithInitial[any](true), WithPolicy(AllowedSet[any](true, false)))
	require.NoError(t, err)
	rec := &recorder[any]{}
	v.AddHook(rec.hook())

	err = v.Set("maybe", false)
	assert.ErrorIs(t, err, ErrInvalidValue)

	assert.Equal(t, true, v.Get())
	_, ok := v.Previous()
	assert.False(t, ok)
	assert.Empty(t, rec.all())
}

func TestSetRejectsValueOutsideEnum(t *testing.T) {
	v, err := New("light", nil, WithInitial(lightRed), WithPolicy(AllowedEnum[light]()))
	require.NoError(t, err)
	rec := &recorder[light]{}
	v.AddHook(rec.hook())

	err = v.Set(light("blue"), false)
	require.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "light")
	assert.Contains(t, err.Error(), "blue")

	assert.Equal(t, lightRed, v.Get())
	_, ok := v.Previous()
	assert.False(t, ok)
	assert.Empty(t, rec.all())

	require.NoError(t, v.Set(lightGreen, false))
	assert.Equal(t, lightGreen, v.Get())
}

func TestRepeatedSetEmitsOnce(t *testing.T) {
	v, err := New[string]("status", nil, WithEquality(Shallow[string]()))
	require.NoError(t, err)
	rec := &recorder[string]{}
	v.AddHook(rec.hook())

	for range 3 {
		require.NoError(t, v.Set("online", false))
	}

	changes := rec.all()
	require.Len(t, changes, 1)
	assert.Equal(t, "online", changes[0].Current)
	assert.False(t, changes[0].Forced)
}

func TestFirstSetWithoutInitialEmitsWithoutPrevious(t *testing.T) {
	v, err := New[string]("status", nil)
	require.NoError(t, err)
	rec := &recorder[string]{}
	v.AddHook(rec.hook())

	require.NoError(t, v.Set("", false))

	changes := rec.all()
	require.Len(t, changes, 1)
	assert.False(t, changes[0].HasPrevious)
}

func TestPreviousTracksLastSet(t *testing.T) {
	v, err := New("status", nil, WithInitial("a"))
	require.NoError(t, err)

	require.NoError(t, v.Set("b", false))
	require.NoError(t, v.Set("c", false))

	prev, ok := v.Previous()
	require.True(t, ok)
	assert.Equal(t, "b", prev)

	// A non-emitting Set still shifts previous.
	require.NoError(t, v.Set("c", false))
	prev, _ = v.Previous()
	assert.Equal(t, "c", prev)
}

func TestForceUpdateAlwaysEmits(t *testing.T) {
	v, err := New("status", nil, WithInitial("online"))
	require.NoError(t, err)
	rec := &recorder[string]{}
	v.AddHook(rec.hook())

	require.NoError(t, v.ForceUpdate())
	require.NoError(t, v.ForceUpdate())

	changes := rec.all()
	require.Len(t, changes, 2)
	assert.Equal(t, Change[string]{Current: "online", Previous: "online", HasPrevious: true, Forced: true}, changes[1])
}

func TestForcedSetEmitsEqualValue(t *testing.T) {
	v, err := New("status", nil, WithInitial("online"))
	require.NoError(t, err)
	rec := &recorder[string]{}
	v.AddHook(rec.hook())

	require.NoError(t, v.Set("online", true))
	require.NoError(t, v.Set("online", false))

	assert.Len(t, rec.all(), 1)
}

func TestDeepEqualitySuppressesIdenticalComposite(t *testing.T) {
	v, err := New("full", nil, WithInitial(&record{A: 1, B: 2}), WithEquality(Deep[*record]()))
	require.NoError(t, err)
	rec := &recorder[*record]{}
	v.AddHook(rec.hook())

	require.NoError(t, v.Set(&record{A: 1, B: 2}, false))
	assert.Empty(t, rec.all())

	require.NoError(t, v.Set(&record{A: 1, B: 3}, false))
	changes := rec.all()
	require.Len(t, changes, 1)
	assert.Equal(t, 3, changes[0].Current.B)
	assert.Equal(t, 2, changes[0].Previous.B)
}

func TestShallowEqualityComparesIdentity(t *testing.T) {
	v, err := New("full", nil, WithInitial(&record{A: 1}), WithEquality(Shallow[*record]()))
	require.NoError(t, err)
	rec := &recorder[*record]{}
	v.AddHook(rec.hook())

	require.NoError(t, v.Set(&record{A: 1}, false))
	assert.Len(t, rec.all(), 1)
}

func TestAddHookIsIdempotent(t *testing.T) {
	v, err := New("status", nil, WithInitial(0))
	require.NoError(t, err)
	rec := &recorder[int]{}
	h := rec.hook()

	v.AddHook(h)
	v.AddHook(h)
	assert.Equal(t, 1, v.HookCount())

	require.NoError(t, v.Set(1, false))
	assert.Len(t, rec.all(), 1)

	v.RemoveHook(h)
	require.NoError(t, v.Set(2, false))
	assert.Len(t, rec.all(), 1)
}

func TestRemoveAllHooksKeepsValues(t *testing.T) {
	v, err := New("status", nil, WithInitial(0))
	require.NoError(t, err)
	rec := &recorder[int]{}
	v.AddHook(rec.hook())
	v.AddAnyHook(NewHook(func(Change[any]) error { return nil }))
	require.NoError(t, v.Set(5, false))

	v.RemoveAllHooks()
	assert.Zero(t, v.HookCount())
	assert.Equal(t, 5, v.Get())
	prev, ok := v.Previous()
	assert.True(t, ok)
	assert.Equal(t, 0, prev)

	require.NoError(t, v.Set(6, false))
	assert.Len(t, rec.all(), 1)
}

func TestHooksFireInRegistrationOrder(t *testing.T) {
	v, err := New("status", nil, WithInitial(0))
	require.NoError(t, err)

	var order []string
	v.AddHook(NewHook(func(Change[int]) error { order = append(order, "first"); return nil }))
	v.AddAnyHook(NewHook(func(Change[any]) error { order = append(order, "any"); return nil }))
	v.AddHook(NewHook(func(Change[int]) error { order = append(order, "last"); return nil }))

	require.NoError(t, v.Set(1, false))
	assert.Equal(t, []string{"first", "any", "last"}, order)
}

func TestFailingObserverDoesNotStopDelivery(t *testing.T) {
	var failures []error
	v, err := New("status", func(_ string, err error) { failures = append(failures, err) }, WithInitial(0))
	require.NoError(t, err)
	rec := &recorder[int]{}

	v.AddHook(NewHook(func(Change[int]) error { panic("boom") }))
	v.AddHook(NewHook(func(Change[int]) error { return errors.New("bad") }))
	v.AddHook(rec.hook())

	require.NoError(t, v.Set(1, false))
	assert.Len(t, rec.all(), 1)
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0].Error(), "boom")
	assert.EqualError(t, failures[1], "bad")
}

func TestRemovalDuringDispatchKeepsCurrentEmission(t *testing.T) {
	v, err := New("status", nil, WithInitial(0))
	require.NoError(t, err)
	rec := &recorder[int]{}
	later := rec.hook()

	v.AddHook(NewHook(func(Change[int]) error {
		v.RemoveHook(later)
		return nil
	}))
	v.AddHook(later)

	require.NoError(t, v.Set(1, false))
	require.NoError(t, v.Set(2, false))

	changes := rec.all()
	require.Len(t, changes, 1)
	assert.Equal(t, 1, changes[0].Current)
}

func TestReentrantSetIsDeliveredAfterCurrentEmission(t *testing.T) {
	v, err := New("status", nil, WithInitial(0))
	require.NoError(t, err)

	var seen [][2]int
	v.AddHook(NewHook(func(c Change[int]) error {
		seen = append(seen, [2]int{1, c.Current})
		if c.Current == 1 {
			return v.Set(2, false)
		}
		return nil
	}))
	v.AddHook(NewHook(func(c Change[int]) error {
		seen = append(seen, [2]int{2, c.Current})
		return nil
	}))

	require.NoError(t, v.Set(1, false))

	assert.Equal(t, [][2]int{{1, 1}, {2, 1}, {1, 2}, {2, 2}}, seen)
	assert.Equal(t, 2, v.Get())
}

func TestSetDuringDeliveryReturnsBeforeObservers(t *testing.T) {
	v, err := New("status", nil, WithInitial(0))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder[int]{}
	v.AddHook(NewHook(func(c Change[int]) error {
		if c.Current == 1 {
			close(entered)
			<-release
		}
		return nil
	}))
	v.AddHook(rec.hook())

	first := make(chan error, 1)
	go func() { first <- v.Set(1, false) }()
	<-entered

	// the dispatcher is busy with 1, so this only queues 2
	require.NoError(t, v.Set(2, false))
	assert.Equal(t, 2, v.Get())
	assert.Empty(t, rec.all())

	close(release)
	require.NoError(t, <-first)

	got := rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Current)
	assert.Equal(t, 2, got[1].Current)
	assert.Equal(t, 1, got[1].Previous)
}

func TestAnyHookReceivesUntypedChange(t *testing.T) {
	v, err := New("light", nil, WithInitial(lightRed))
	require.NoError(t, err)
	var got Change[any]
	v.AddAnyHook(NewHook(func(c Change[any]) error { got = c; return nil }))

	require.NoError(t, v.Set(lightGreen, false))
	assert.Equal(t, lightGreen, got.Current)
	assert.Equal(t, lightRed, got.Previous)
	assert.True(t, got.HasPrevious)
}

func TestConcurrentSetsKeepPreviousConsistent(t *testing.T) {
	v, err := New("counter", nil, WithInitial(0), WithEquality(Shallow[int]()))
	require.NoError(t, err)

	var mu sync.Mutex
	var bad int
	v.AddHook(NewHook(func(c Change[int]) error {
		if c.HasPrevious && c.Current == c.Previous {
			mu.Lock()
			bad++
			mu.Unlock()
		}
		return nil
	}))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = v.Set(i%5, false)
		}()
	}
	wg.Wait()

	assert.Zero(t, bad)
}
