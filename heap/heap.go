// Package heap implements Belalang's object heap: an intrusive linked list of
// live allocations reclaimed by a hybrid of reference counting and
// mark-sweep.
//
// Reference counting reclaims acyclic garbage the moment its last reference
// disappears. Mark-sweep exists only to catch cycles a refcount can never
// see on its own (an array that, directly or transitively, holds a
// reference back to itself). Go's runtime GC is never involved in managing
// these objects' lifetimes: Belalang values allocated here are released
// explicitly by the VM, not by falling out of scope.
package heap

// Header is embedded (via the [Object] interface) in every heap-allocated
// value. It carries the bookkeeping the heap needs and nothing else -
// payload types add their own fields alongside it.
type Header struct {
	// TypeTag identifies the concrete type for the [Registry], independent
	// of Go's own type identity.
	TypeTag uint32

	// RefCount is the number of live references to this object. An object
	// reaching zero is reclaimed immediately by [Heap.Release].
	RefCount int

	// Marked is set by [Heap.Mark] and cleared by [Heap.Sweep]; it never
	// persists between collection cycles.
	Marked bool

	// Next links this object into its Heap's intrusive live-object list.
	Next Object
}

// Object is implemented by every heap-allocated payload type (String,
// Array, Function). Children reports the other heap objects a value
// directly references, so Mark can trace the object graph.
type Object interface {
	Header() *Header
	Children() []Object
}

// Heap owns the intrusive singly linked list of every object it has
// allocated. It is not safe for concurrent use; Belalang is single-threaded.
type Heap struct {
	head Object
	size int
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{}
}

// Alloc links obj into the heap's live list with an initial ref count of
// zero; the caller is expected to Retain it immediately (typically by
// pushing it onto the VM stack).
func (h *Heap) Alloc(obj Object) Object {
	hdr := obj.Header()
	hdr.Next = h.head
	h.head = obj
	h.size++
	return obj
}

// Retain increments obj's reference count and returns obj, so it can be
// used inline at the point a new reference is created (a stack push, a
// store into a global/local slot, an element added to an array).
func Retain(obj Object) Object {
	if obj == nil {
		return obj
	}
	obj.Header().RefCount++
	return obj
}

// Release drops a reference to obj. When the count reaches zero the object
// is reclaimed immediately: its children are released in turn and it is
// unlinked from the heap's live list. Safe to call with a nil obj.
func (h *Heap) Release(obj Object) {
	if obj == nil {
		return
	}

	hdr := obj.Header()
	hdr.RefCount--
	if hdr.RefCount > 0 {
		return
	}
	if hdr.RefCount < 0 {
		// Double-release of an object already reclaimed by the sweep below.
		return
	}

	h.reclaim(obj)
}

// reclaim unlinks obj from the live list and releases the references it
// held on its children. It assumes obj's ref count has already reached
// zero; unlinking happens at whatever position obj occupies in the
// singly-linked list, which in the worst case is an O(size) walk.
func (h *Heap) reclaim(obj Object) {
	hdr := obj.Header()

	var prev Object
	cur := h.head
	for cur != nil {
		if cur == obj {
			if prev == nil {
				h.head = hdr.Next
			} else {
				prev.Header().Next = hdr.Next
			}
			h.size--
			break
		}
		prev = cur
		cur = cur.Header().Next
	}
	hdr.Next = nil

	for _, child := range obj.Children() {
		h.Release(child)
	}
}

// Mark walks the reachable object graph from roots, setting Marked on
// every object it visits. Called before Sweep to identify cycles that
// reference counting alone would never collect.
func (h *Heap) Mark(roots []Object) {
	for _, root := range roots {
		markOne(root)
	}
}

func markOne(obj Object) {
	if obj == nil {
		return
	}
	hdr := obj.Header()
	if hdr.Marked {
		return
	}
	hdr.Marked = true
	for _, child := range obj.Children() {
		markOne(child)
	}
}

// Sweep unlinks and finalizes every unmarked object in the live list, then
// clears the mark bit on every object that survives for the next cycle.
// Call after Mark. Returns the number of objects reclaimed.
func (h *Heap) Sweep() int {
	reclaimed := 0

	var prev Object
	cur := h.head
	for cur != nil {
		hdr := cur.Header()
		next := hdr.Next

		if !hdr.Marked {
			if prev == nil {
				h.head = next
			} else {
				prev.Header().Next = next
			}
			hdr.Next = nil
			h.size--
			reclaimed++
		} else {
			hdr.Marked = false
			prev = cur
		}

		cur = next
	}

	return reclaimed
}

// Head returns the first object in the live list, or nil if the heap is
// empty. Exposed for tests that need to walk the live set directly.
func (h *Heap) Head() Object {
	return h.head
}

// Len returns the number of objects currently live on the heap.
func (h *Heap) Len() int {
	return h.size
}
