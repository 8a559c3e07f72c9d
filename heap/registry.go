package heap

// Registry maps a type tag to the human-readable name of the type it
// identifies, without the heap package importing object's concrete types -
// object registers its tags at init time instead. The VM's runtime errors
// name a value's type through the value's own Type method, not through a
// Registry.
type Registry struct {
	names map[uint32]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[uint32]string)}
}

// Register associates a type tag with a name. Called once per built-in
// type at package init; re-registering an existing tag overwrites it.
func (r *Registry) Register(tag uint32, name string) {
	r.names[tag] = name
}

// Name returns the registered name for tag, or "unknown" if it was never
// registered.
func (r *Registry) Name(tag uint32) string {
	if name, ok := r.names[tag]; ok {
		return name
	}
	return "unknown"
}

// DefaultRegistry is the process-wide type registry populated by the
// object package at init time with Belalang's fixed set of heap types.
var DefaultRegistry = NewRegistry()
