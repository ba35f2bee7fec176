package clockstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) handle(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func TestMemory_SharedAcrossViews(t *testing.T) {
	m := NewMemory()
	a := m.Open("alice")
	b := m.Open("alice")
	other := m.Open("bob")

	a.Set(KeySticky, "1")

	v, ok := b.Get(KeySticky)
	require.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = other.Get(KeySticky)
	assert.False(t, ok, "namespaces must not leak")
}

func TestMemory_NotifiesOtherViewsOnly(t *testing.T) {
	m := NewMemory()
	a := m.Open("u")
	b := m.Open("u")

	var own, remote recorder
	defer a.Subscribe(KeyForceLockNext, own.handle)()
	defer b.Subscribe(KeyForceLockNext, remote.handle)()

	a.Set(KeyForceLockNext, "1")
	a.Delete(KeyForceLockNext)

	require.Eventually(t, func() bool { return len(remote.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	got := remote.snapshot()
	assert.Equal(t, Change{Key: KeyForceLockNext, Value: "1"}, got[0])
	assert.Equal(t, Change{Key: KeyForceLockNext, Deleted: true}, got[1])

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, own.snapshot(), "writer must not see its own change")
}

func TestMemory_UnchangedValueIsSilent(t *testing.T) {
	m := NewMemory()
	a := m.Open("u")
	b := m.Open("u")

	var rec recorder
	defer b.Subscribe(KeySticky, rec.handle)()

	a.Set(KeySticky, "1")
	a.Set(KeySticky, "1")
	a.Delete(KeyLastActiveAt) // absent key

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestMemory_UnsubscribeAndClose(t *testing.T) {
	m := NewMemory()
	a := m.Open("u")
	b := m.Open("u")

	var first, second recorder
	unsub := b.Subscribe(KeySticky, first.handle)
	b.Subscribe(KeyLastActiveAt, second.handle)

	unsub()
	unsub() // idempotent
	require.NoError(t, b.Close())

	a.Set(KeySticky, "1")
	a.Set(KeyLastActiveAt, "42")

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, first.snapshot())
	assert.Empty(t, second.snapshot())
}

func TestMemory_HandlerMayWrite(t *testing.T) {
	m := NewMemory()
	a := m.Open("u")
	b := m.Open("u")

	var rec recorder
	defer a.Subscribe(KeyUnlockedAt, rec.handle)()
	defer b.Subscribe(KeySticky, func(c Change) {
		// writing from inside a handler must not deadlock
		b.Set(KeyUnlockedAt, "7")
	})()

	a.Set(KeySticky, "1")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "7", rec.snapshot()[0].Value)
}

func TestMemory_Disabled(t *testing.T) {
	m := NewMemory()
	a := m.OpenView("u")
	a.Disabled = true

	a.Set(KeySticky, "1")
	_, ok := a.Get(KeySticky)
	assert.False(t, ok)

	b := m.Open("u")
	_, ok = b.Get(KeySticky)
	assert.False(t, ok, "disabled view must drop writes")
}
