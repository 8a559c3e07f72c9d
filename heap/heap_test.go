package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObject is a minimal heap.Object for exercising Alloc/Retain/Release/
// Mark/Sweep without depending on the object package's concrete types.
type fakeObject struct {
	header   Header
	children []Object
}

func (f *fakeObject) Header() *Header     { return &f.header }
func (f *fakeObject) Children() []Object { return f.children }

func newFake(h *Heap, children ...Object) *fakeObject {
	f := &fakeObject{children: children}
	h.Alloc(f)
	return f
}

func TestAllocLinksIntoLiveList(t *testing.T) {
	h := New()
	a := newFake(h)
	require.Equal(t, 1, h.Len())
	require.Equal(t, Object(a), h.Head())

	b := newFake(h)
	require.Equal(t, 2, h.Len())
	require.Equal(t, Object(b), h.Head())
}

func TestReleaseReclaimsAtZeroRefCount(t *testing.T) {
	h := New()
	a := newFake(h)
	Retain(a)
	require.Equal(t, 1, h.Len())

	h.Release(a)
	assert.Equal(t, 0, h.Len())
}

func TestReleaseCascadesToChildren(t *testing.T) {
	h := New()
	child := newFake(h)
	Retain(child)
	parent := newFake(h, child)
	Retain(parent)

	require.Equal(t, 2, h.Len())

	h.Release(parent)
	assert.Equal(t, 0, h.Len(), "releasing the parent should cascade to release its only reference to the child")
}

func TestMarkSweepReclaimsUnreachableCycle(t *testing.T) {
	h := New()

	a := newFake(h)
	b := newFake(h, a)
	a.children = []Object{b}

	Retain(a)
	Retain(b)
	require.Equal(t, 2, h.Len())

	// Dropping both external references leaves each object referencing
	// the other, so ref counts never reach zero. Only mark-sweep can
	// reclaim the cycle.
	a.header.RefCount--
	b.header.RefCount--

	h.Mark(nil)
	reclaimed := h.Sweep()

	assert.Equal(t, 2, reclaimed)
	assert.Equal(t, 0, h.Len())
}

func TestMarkSweepKeepsReachableObjects(t *testing.T) {
	h := New()
	a := newFake(h)
	root := newFake(h, a)

	h.Mark([]Object{root})
	reclaimed := h.Sweep()

	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, 2, h.Len())
	assert.False(t, root.header.Marked, "Sweep must clear the mark bit for the next cycle")
}

func TestRegistryNamesRegisteredTags(t *testing.T) {
	r := NewRegistry()
	r.Register(1, "String")

	assert.Equal(t, "String", r.Name(1))
	assert.Equal(t, "unknown", r.Name(99))
}
