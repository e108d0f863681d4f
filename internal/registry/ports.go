package registry

import "sync"

// PortAllocator issues strictly increasing port numbers for bridge
// endpoints. A number is never reused within the process lifetime, even
// after the bridge that held it is stopped and deleted.
type PortAllocator struct {
	mu   sync.Mutex
	next int
}

// NewPortAllocator returns an allocator starting at base.
func NewPortAllocator(base int) *PortAllocator {
	return &PortAllocator{next: base}
}

// Seed advances the allocator past any port already present in the given
// records, so that a restart does not hand out a port still referenced by a
// bridge that survived via persisted state.
func (a *PortAllocator) Seed(bridges []*TranslationRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range bridges {
		if b.Port >= a.next {
			a.next = b.Port + 1
		}
	}
}

// Next returns the next port number. Exhaustion is not handled; the range is
// effectively unbounded for the lifetime of a single process.
func (a *PortAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	port := a.next
	a.next++
	return port
}
