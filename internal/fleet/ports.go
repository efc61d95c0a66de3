package fleet

import (
	"fmt"
	"sync"

	"github.com/dgnsrekt/browser_fleet/internal/netutil"
)

// PortAllocator hands out host ports for workers from a bounded range. Its
// lock is independent of the registry lock so supervisor calls never nest
// inside it.
type PortAllocator struct {
	mu     sync.Mutex
	base   int
	count  int
	inUse  map[int]bool
	cursor int // offset of the slot after the most recent grant

	// probe confirms a candidate is bindable before it is granted. Replaced
	// in tests; defaults to a loopback bind check.
	probe func(port int) bool
}

// NewPortAllocator builds an allocator over [base, base+count).
func NewPortAllocator(base, count int) *PortAllocator {
	return &PortAllocator{
		base:  base,
		count: count,
		inUse: make(map[int]bool),
		probe: netutil.IsPortFree,
	}
}

// Allocate grants a port that is neither tracked as in use nor currently
// bindable-refused. Scanning starts after the most recent grant, so released
// ports come back at the end of the order rather than immediately. Returns
// PORT_EXHAUSTED when the whole range is taken or unbindable.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.count; i++ {
		slot := (a.cursor + i) % a.count
		port := a.base + slot
		if a.inUse[port] {
			continue
		}
		if !a.probe(port) {
			continue
		}
		a.inUse[port] = true
		a.cursor = slot + 1
		return port, nil
	}
	return 0, NewError(CodePortExhausted,
		fmt.Sprintf("no free worker ports in [%d, %d)", a.base, a.base+a.count), nil)
}

// Release returns a port to the free set. Releasing a port that was never
// allocated is a no-op, which keeps teardown paths idempotent.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}

// InUse returns the number of currently granted ports.
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

// Capacity returns the size of the managed range.
func (a *PortAllocator) Capacity() int {
	return a.count
}
