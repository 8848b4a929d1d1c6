package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	id     uint64
	closes int
	err    error
	order  *[]uint64
}

func (f *fakeResource) ID() uint64 { return f.id }

func (f *fakeResource) Close() error {
	f.closes++
	if f.order != nil {
		*f.order = append(*f.order, f.id)
	}
	return f.err
}

func TestRegistryCloseAllInCreationOrder(t *testing.T) {
	r := New(nil)
	var order []uint64

	a := &fakeResource{id: 3, order: &order}
	b := &fakeResource{id: 1, order: &order, err: errors.New("already gone")}
	c := &fakeResource{id: 2, order: &order}
	r.Register(a)
	r.Register(b)
	r.Register(c)
	assert.True(t, r.Register(a), "re-registering MUST succeed and keep the position")
	require.Equal(t, 3, r.Len())

	assert.Equal(t, 3, r.CloseAll())
	assert.Equal(t, []uint64{3, 1, 2}, order, "resources MUST close oldest first")
	assert.Equal(t, 0, r.Len())

	assert.Equal(t, 0, r.CloseAll(), "second CloseAll MUST be a no-op")
	assert.Equal(t, 1, a.closes)
}

func TestRegisterAfterCloseAll(t *testing.T) {
	r := New(nil)
	r.Register(&fakeResource{id: 1})
	r.CloseAll()

	late := &fakeResource{id: 2}
	assert.False(t, r.Register(late), "a closed registry MUST refuse new resources")
	assert.Equal(t, 1, late.closes, "a refused resource MUST be closed at once")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.CloseAll())
}

func TestRegistryRemove(t *testing.T) {
	r := New(nil)
	a := &fakeResource{id: 1}
	b := &fakeResource{id: 2}
	r.Register(a)
	r.Register(b)

	assert.True(t, r.Remove(a))
	assert.False(t, r.Remove(a))
	assert.False(t, r.Remove(nil))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Same(t, b, snap[0])

	r.CloseAll()
	assert.Equal(t, 0, a.closes, "removed resources MUST NOT be closed by cleanup")
	assert.Equal(t, 1, b.closes)
}

func TestRegistryConcurrentRegister(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			r.Register(&fakeResource{id: id})
		}(uint64(i))
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}

func TestRegisterNilPanics(t *testing.T) {
	assert.Panics(t, func() { New(nil).Register(nil) })
}
