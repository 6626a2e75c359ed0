package handleapi

import "sync"

// Handle is an opaque id backed by an arena slot: the low 32 bits are a
// slot index, the high 32 bits a generation counter. It is never a
// pointer and a stale value (one whose generation no longer matches the
// slot's current occupant) is rejected rather than dereferenced.
type Handle uint64

// InvalidHandle is returned alongside an error from every *_create call
// that fails.
const InvalidHandle Handle = 0

func newHandle(index, generation uint32) Handle {
	return Handle(generation)<<32 | Handle(index)
}

func (h Handle) index() uint32      { return uint32(h) }
func (h Handle) generation() uint32 { return uint32(h >> 32) }

type slot struct {
	generation uint32
	value      any
}

// arena is a generation-checked slot table: Alloc hands out a Handle
// whose generation must match the slot's current occupant for Get/Free
// to succeed, so a Handle outliving its Free never aliases whatever
// later reuses that slot.
type arena struct {
	mu       sync.Mutex
	slots    []slot
	freeList []uint32
}

func (a *arena) alloc(v any) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freeList); n > 0 {
		idx := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.slots[idx].value = v
		return newHandle(idx, a.slots[idx].generation)
	}

	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot{generation: 1, value: v})
	return newHandle(idx, 1)
}

func (a *arena) get(h Handle) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := h.index()
	if int(idx) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[idx]
	if s.generation != h.generation() || s.value == nil {
		return nil, false
	}
	return s.value, true
}

// free invalidates h's slot (bumping its generation so a stale copy of
// h can never match again) and returns the value it held.
func (a *arena) free(h Handle) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := h.index()
	if int(idx) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[idx]
	if s.generation != h.generation() || s.value == nil {
		return nil, false
	}

	v := s.value
	s.value = nil
	s.generation++
	a.freeList = append(a.freeList, idx)
	return v, true
}
