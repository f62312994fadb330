package vm

// ---------------------------------------------------------------------------
// Heap: arena of tracked objects addressed by generational handles
// ---------------------------------------------------------------------------

// Handle is a stable reference to a tracked object. A handle goes stale
// when its slot is swept; Resolve then fails instead of returning a
// different object that reused the slot.
type Handle struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether h refers to no tracked object.
func (h Handle) IsZero() bool { return h.Index == 0 }

type heapSlot struct {
	obj Object
	gen uint32
}

// Heap owns every collectable object. Slot 0 is reserved so the zero
// Handle never resolves.
type Heap struct {
	slots []heapSlot
	free  []uint32
	live  int
}

func newHeap() *Heap {
	return &Heap{slots: make([]heapSlot, 1, 1024)}
}

func (h *Heap) add(o Object) Handle {
	var idx uint32
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		h.slots = append(h.slots, heapSlot{gen: 1})
		idx = uint32(len(h.slots) - 1)
	}
	h.slots[idx].obj = o
	h.live++
	return Handle{Index: idx, Gen: h.slots[idx].gen}
}

func (h *Heap) release(idx uint32) {
	s := &h.slots[idx]
	s.obj = nil
	s.gen++
	h.free = append(h.free, idx)
	h.live--
}

func (h *Heap) resolve(hd Handle) (Object, bool) {
	if hd.Index == 0 || int(hd.Index) >= len(h.slots) {
		return nil, false
	}
	s := h.slots[hd.Index]
	if s.obj == nil || s.gen != hd.Gen {
		return nil, false
	}
	return s.obj, true
}

// Len returns the number of live tracked objects.
func (h *Heap) Len() int { return h.live }

// each calls fn for every occupied slot.
func (h *Heap) each(fn func(idx uint32, o Object)) {
	for i := 1; i < len(h.slots); i++ {
		if o := h.slots[i].obj; o != nil {
			fn(uint32(i), o)
		}
	}
}

func (h *Heap) reset() {
	h.slots = h.slots[:1]
	h.free = h.free[:0]
	h.live = 0
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func (vm *VM) assignID(o Object) {
	vm.nextID++
	o.header().id = vm.nextID
}

// track registers a new object. The collection check runs before the
// object joins the heap so an allocation never sweeps itself.
func (vm *VM) track(o Object, class *Class) {
	h := o.header()
	h.class = class
	vm.assignID(o)
	vm.maybeCollect()
	h.handle = vm.heap.add(o)
	vm.gc.allocated += o.Size()
}

// Resolve maps a handle back to its object.
func (vm *VM) Resolve(h Handle) (Object, bool) {
	return vm.heap.resolve(h)
}
