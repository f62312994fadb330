package vm

import (
	"time"

	"github.com/tliron/commonlog"
)

var gcLog = commonlog.GetLogger("atom.gc")

// ---------------------------------------------------------------------------
// Collector state
// ---------------------------------------------------------------------------

type collector struct {
	enabled    int // > 0 means collections may run
	epoch      uint32
	running    bool
	allocated  int // bytes since the last collection, plus the live set
	threshold  int
	minimum    int
	original   int
	ratio      float64
	runs       int
	temps      []Object
	finalizers []*Instance
}

// Stats is a snapshot of the collector counters.
type Stats struct {
	Allocated   int // accounted bytes
	Threshold   int // next collection trigger
	Objects     int // live tracked objects
	Collections int
}

// Stats returns collector counters.
func (vm *VM) Stats() Stats {
	return Stats{
		Allocated:   vm.gc.allocated,
		Threshold:   vm.gc.threshold,
		Objects:     vm.heap.Len(),
		Collections: vm.gc.runs,
	}
}

func (vm *VM) gcDisable() { vm.gc.enabled-- }
func (vm *VM) gcEnable()  { vm.gc.enabled++ }

// GCDisable suspends collection. Calls nest with GCEnable.
func (vm *VM) GCDisable() { vm.gcDisable() }

// GCEnable undoes one GCDisable.
func (vm *VM) GCEnable() { vm.gcEnable() }

// GCEnabled reports whether collections may run.
func (vm *VM) GCEnabled() bool { return vm.gc.enabled > 0 }

// PushTemp roots o until the matching PopTemp.
func (vm *VM) PushTemp(o Object) {
	vm.gc.temps = append(vm.gc.temps, o)
}

// PopTemp drops the most recent temp root.
func (vm *VM) PopTemp() {
	if n := len(vm.gc.temps); n > 0 {
		vm.gc.temps[n-1] = nil
		vm.gc.temps = vm.gc.temps[:n-1]
	}
}

// Pin makes c a GC root until a balancing Unpin.
func (vm *VM) Pin(c *Closure) {
	if c.refcount == 0 {
		vm.pinned[c] = struct{}{}
	}
	c.refcount++
}

// Unpin releases one Pin.
func (vm *VM) Unpin(c *Closure) {
	if c.refcount == 0 {
		return
	}
	c.refcount--
	if c.refcount == 0 {
		delete(vm.pinned, c)
	}
}

func (vm *VM) maybeCollect() {
	if vm.gc.enabled > 0 && !vm.gc.running && vm.gc.allocated >= vm.gc.threshold {
		vm.collect()
	}
}

// GC forces a full collection and runs queued finalizers.
func (vm *VM) GC() {
	vm.collect()
	vm.runFinalizers()
}

// ---------------------------------------------------------------------------
// Tracer
// ---------------------------------------------------------------------------

// Tracer carries the gray list during marking.
type Tracer struct {
	epoch uint32
	gray  []Object
}

// Mark grays o unless it is already marked in this cycle.
func (t *Tracer) Mark(o Object) {
	if o == nil {
		return
	}
	h := o.header()
	if h.mark == t.epoch {
		return
	}
	h.mark = t.epoch
	t.gray = append(t.gray, o)
}

// MarkValue grays the object referenced by v, if any.
func (t *Tracer) MarkValue(v Value) {
	if v.kind == KindObject {
		t.Mark(v.o)
	}
}

// drain blackens gray objects until none are left and returns the bytes
// they account for.
func (t *Tracer) drain() int {
	live := 0
	for len(t.gray) > 0 {
		n := len(t.gray) - 1
		o := t.gray[n]
		t.gray = t.gray[:n]
		t.Mark(o.header().class)
		o.Trace(t)
		live += o.Size()
	}
	return live
}

// markTable grays every key and value of a table.
func (t *Tracer) markTable(ht *HashTable) {
	ht.Iterate(func(k, v Value) bool {
		t.MarkValue(k)
		t.MarkValue(v)
		return true
	})
}

// ---------------------------------------------------------------------------
// Mark and sweep
// ---------------------------------------------------------------------------

func (vm *VM) collect() {
	if vm.gc.running {
		return
	}
	vm.gc.running = true
	defer func() { vm.gc.running = false }()

	start := time.Now()
	before := vm.gc.allocated

	vm.gc.epoch++
	t := &Tracer{epoch: vm.gc.epoch}
	vm.markRoots(t)

	live := t.drain()
	live += vm.resurrect(t)

	swept := vm.sweep(t.epoch)

	vm.gc.allocated = live
	vm.gc.runs++
	vm.recomputeThreshold()

	gcLog.Debugf("collection %d: %d -> %d bytes, %d swept, next at %d (%s)",
		vm.gc.runs, before, live, swept, vm.gc.threshold, time.Since(start))
}

func (vm *VM) markRoots(t *Tracer) {
	for _, o := range vm.gc.temps {
		t.Mark(o)
	}
	if vm.fiber != nil {
		t.Mark(vm.fiber)
	}
	if vm.main != nil {
		t.Mark(vm.main)
	}
	t.markTable(vm.globals)
	for _, c := range vm.coreClasses {
		t.Mark(c)
	}
	for c := range vm.pinned {
		t.Mark(c)
	}
	for _, k := range vm.opKeys {
		t.Mark(k)
	}
	for _, inst := range vm.gc.finalizers {
		t.Mark(inst)
	}
}

// resurrect queues unreachable instances whose class binds deinit and
// keeps them, and everything they reach, alive until deinit has run. A
// queued instance is freed by the first sweep that finds it unreachable
// again.
func (vm *VM) resurrect(t *Tracer) int {
	queued := len(vm.gc.finalizers)
	vm.heap.each(func(_ uint32, o Object) {
		inst, ok := o.(*Instance)
		if !ok || inst.finalized || inst.mark == t.epoch {
			return
		}
		if inst.class == nil || inst.class.LookupClosure("deinit") == nil {
			return
		}
		inst.finalized = true
		vm.gc.finalizers = append(vm.gc.finalizers, inst)
		t.Mark(inst)
	})
	if len(vm.gc.finalizers) == queued {
		return 0
	}
	return t.drain()
}

func (vm *VM) sweep(epoch uint32) int {
	swept := 0
	vm.heap.each(func(idx uint32, o Object) {
		if o.header().mark == epoch {
			return
		}
		if inst, ok := o.(*Instance); ok {
			vm.releaseInstance(inst)
		}
		vm.heap.release(idx)
		swept++
	})
	return swept
}

func (vm *VM) releaseInstance(inst *Instance) {
	if inst.XData != nil && vm.delegate.BridgeFree != nil {
		vm.delegate.BridgeFree(vm, inst)
	}
}

// recomputeThreshold sets the next trigger from the surviving live set.
// The result never drops below the minimum or the configured threshold.
func (vm *VM) recomputeThreshold() {
	next := vm.gc.allocated + int(float64(vm.gc.allocated)*vm.gc.ratio)
	if next < vm.gc.minimum {
		next = vm.gc.minimum
	}
	if next < vm.gc.original {
		next = vm.gc.original
	}
	vm.gc.threshold = next
}

// runFinalizers calls deinit on instances queued by the last collection. Called only where no
// interpreter frame of the host call is in flight.
func (vm *VM) runFinalizers() {
	if len(vm.gc.finalizers) == 0 || vm.aborted {
		return
	}
	pending := vm.gc.finalizers
	vm.gc.finalizers = nil
	vm.gcDisable()
	defer vm.gcEnable()
	for _, inst := range pending {
		if c := inst.class.LookupClosure("deinit"); c != nil {
			if _, err := vm.RunClosure(c, FromObject(inst)); err != nil {
				gcLog.Warningf("deinit of %s: %s", inst.class.Name, err)
				return
			}
		}
	}
}
