package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isReady(s string) bool { return s == "ready" }

func TestRunWhenReadyRunsImmediately(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := AddTracker(reg, "manager", WithInitial("ready"))
	require.NoError(t, err)

	runs := 0
	cancel, err := RunWhenReady(reg, "manager", isReady, func() { runs++ })
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, 1, runs)
	n, err := reg.HookCount("manager")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunWhenReadyRunsExactlyOnce(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := AddTracker(reg, "manager", WithInitial("initializing"))
	require.NoError(t, err)

	runs := 0
	_, err = RunWhenReady(reg, "manager", isReady, func() { runs++ })
	require.NoError(t, err)
	assert.Zero(t, runs)

	require.NoError(t, SetStatus(reg, "manager", "ready", false))
	require.NoError(t, SetStatus(reg, "manager", "ready", true))
	require.NoError(t, reg.ForceStatusUpdate("manager"))

	assert.Equal(t, 1, runs)
	n, _ := reg.HookCount("manager")
	assert.Zero(t, n)
}

func TestRunWhenReadyRemovesItselfBeforeAction(t *testing.T) {
	reg := NewRegistry(nil)
	v, err := AddTracker(reg, "manager", WithInitial("initializing"))
	require.NoError(t, err)

	runs := 0
	_, err = RunWhenReady(reg, "manager", isReady, func() {
		runs++
		assert.Zero(t, v.HookCount())
		// Re-entrant Set must not fire this coordinator a second time.
		require.NoError(t, v.Set("ready", true))
	})
	require.NoError(t, err)

	require.NoError(t, v.Set("ready", false))
	assert.Equal(t, 1, runs)
}

func TestRunWhenReadyCoordinatorsAreIndependent(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := AddTracker(reg, "manager", WithInitial("initializing"))
	require.NoError(t, err)

	var order []string
	var laterObserved []string
	require.NoError(t, AddHook(reg, "manager", NewHook(func(c Change[string]) error {
		laterObserved = append(laterObserved, c.Current)
		return nil
	})))
	_, err = RunWhenReady(reg, "manager", isReady, func() { order = append(order, "a") })
	require.NoError(t, err)
	cancelB, err := RunWhenReady(reg, "manager", isReady, func() { order = append(order, "b") })
	require.NoError(t, err)
	_, err = RunWhenReady(reg, "manager", func(s string) bool { return s == "stopping" }, func() { order = append(order, "c") })
	require.NoError(t, err)

	cancelB()
	require.NoError(t, SetStatus(reg, "manager", "ready", false))
	require.NoError(t, SetStatus(reg, "manager", "stopping", false))

	assert.Equal(t, []string{"a", "c"}, order)
	assert.Equal(t, []string{"ready", "stopping"}, laterObserved)
	n, _ := reg.HookCount("manager")
	assert.Equal(t, 1, n)
}

func TestOnceMatchesTransition(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := AddTracker(reg, "server", WithInitial("waiting in queue"))
	require.NoError(t, err)

	var got []Change[string]
	_, err = Once(reg, "server", func(c Change[string]) bool {
		return c.Current == "offline" && c.Previous == "waiting in queue"
	}, func(c Change[string]) { got = append(got, c) })
	require.NoError(t, err)

	require.NoError(t, SetStatus(reg, "server", "offline", false))
	require.NoError(t, SetStatus(reg, "server", "waiting in queue", false))
	require.NoError(t, SetStatus(reg, "server", "offline", false))

	require.Len(t, got, 1)
	assert.Equal(t, "offline", got[0].Current)
}

func TestCancelAfterFireIsHarmless(t *testing.T) {
	v, err := New("manager", nil, WithInitial("initializing"))
	require.NoError(t, err)

	runs := 0
	cancel := v.RunWhenReady(isReady, func() { runs++ })
	require.NoError(t, v.Set("ready", false))
	cancel()
	cancel()
	assert.Equal(t, 1, runs)
}
