package vm

import "time"

// ---------------------------------------------------------------------------
// Fiber: an execution context with its own stack and frames
// ---------------------------------------------------------------------------

// FiberStatus is the lifecycle state of a Fiber.
type FiberStatus int

const (
	FiberNeverExecuted FiberStatus = iota
	FiberAbortedWithError
	FiberTerminated
	FiberRunning
	FiberTrying
)

var fiberStatusNames = [...]string{"never-executed", "aborted", "terminated", "running", "trying"}

func (s FiberStatus) String() string {
	if int(s) < len(fiberStatusNames) {
		return fiberStatusNames[s]
	}
	return "unknown"
}

// CallFrame is one activation record. Registers live in the owning fiber's
// stack starting at base; frames never hold slices into the stack so that
// stack growth only needs to re-point open upvalues.
type CallFrame struct {
	closure *Closure
	ip      int
	base    int    // absolute stack index of register 0 (self)
	dest    uint32 // caller register receiving the result
	nargs   int
	args    *List // implicit _args list, nil unless the function uses it
	outloop bool  // return to the host when this frame returns
	depth   int   // consecutive self-recursion count
}

// Closure returns the closure executing in this frame.
func (fr *CallFrame) Closure() *Closure { return fr.closure }

// Line returns the source line of the instruction being executed.
func (fr *CallFrame) Line() uint32 {
	return fr.closure.Function.LineAt(fr.ip - 1)
}

// Fiber is a coroutine. Only one fiber runs at a time; control moves
// between them through call/try/yield.
type Fiber struct {
	objHeader

	closure      *Closure // entry closure
	stack        []Value
	top          int
	frames       []*CallFrame
	openUpvalues *Upvalue // sorted by descending stack index

	caller   *Fiber
	result   Value
	err      string
	failed   bool
	status   FiberStatus
	resumeAt int // absolute slot receiving the next value passed in
	cdepth   int // host call depth at which the fiber was entered

	timewait  float64   // seconds a yieldWaitTime asked to sleep
	lastYield time.Time // when the fiber last gave up control
	started   time.Time
	elapsed   time.Duration
	reallocs  int
}

// NewFiber allocates a fiber ready to run c. c may be nil for the main
// fiber, which only hosts re-entrant calls.
func (vm *VM) NewFiber(c *Closure) *Fiber {
	size := defaultStackSize
	if c != nil {
		for size < c.Function.frameSize()+1 {
			size *= 2
		}
	}
	f := &Fiber{closure: c, stack: make([]Value, size)}
	vm.track(f, vm.core.Fiber)
	return f
}

// Status returns the lifecycle state as reported by Fiber.status.
func (f *Fiber) Status() FiberStatus {
	if f.failed {
		return FiberAbortedWithError
	}
	if f.status != FiberNeverExecuted && len(f.frames) == 0 {
		return FiberTerminated
	}
	return f.status
}

// IsDone reports whether the fiber can no longer run.
func (f *Fiber) IsDone() bool {
	return f.failed || (f.status != FiberNeverExecuted && len(f.frames) == 0)
}

// Err returns the error message recorded by a failed try.
func (f *Fiber) Err() string { return f.err }

// Result returns the last value produced by the fiber.
func (f *Fiber) Result() Value { return f.result }

// Reallocations returns how many times the stack grew.
func (f *Fiber) Reallocations() int { return f.reallocs }

// StackLen returns the current stack capacity in slots.
func (f *Fiber) StackLen() int { return len(f.stack) }

// Depth returns the number of active frames.
func (f *Fiber) Depth() int { return len(f.frames) }

func (f *Fiber) frame() *CallFrame {
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func (f *Fiber) popFrame() *CallFrame {
	n := len(f.frames) - 1
	fr := f.frames[n]
	f.frames[n] = nil
	f.frames = f.frames[:n]
	return fr
}

// reset drops all frames and open upvalues.
func (f *Fiber) reset() {
	f.closeUpvalues(0)
	for i := range f.frames {
		f.frames[i] = nil
	}
	f.frames = f.frames[:0]
	f.top = 0
	f.caller = nil
}

// ensure grows the stack so that n slots are addressable. The backing
// array is replaced, so open upvalues are re-pointed into the new one.
func (f *Fiber) ensure(n, max int) bool {
	if n <= len(f.stack) {
		return true
	}
	if n > max {
		return false
	}
	size := len(f.stack)
	if size == 0 {
		size = defaultStackSize
	}
	for size < n {
		size *= 2
	}
	if size > max {
		size = max
	}
	stack := make([]Value, size)
	copy(stack, f.stack)
	f.stack = stack
	for u := f.openUpvalues; u != nil; u = u.next {
		u.ptr = &f.stack[u.index]
	}
	f.reallocs++
	return true
}

// clearWindow nulls the slots in [from, to) so returned frames do not
// keep their registers alive.
func (f *Fiber) clearWindow(from, to int) {
	if to > len(f.stack) {
		to = len(f.stack)
	}
	if from < to {
		clear(f.stack[from:to])
	}
}

// liveTop is the end of the highest live window: top, or the end of the
// current frame when a callee left top below it.
func (f *Fiber) liveTop() int {
	top := f.top
	if fr := f.frame(); fr != nil && top < fr.base+fr.size() {
		top = fr.base + fr.size()
	}
	if top > len(f.stack) {
		top = len(f.stack)
	}
	return top
}

// captureUpvalue returns the open upvalue for stack slot index, creating
// it in list order if needed.
func (vm *VM) captureUpvalue(f *Fiber, index int) *Upvalue {
	var prev *Upvalue
	u := f.openUpvalues
	for u != nil && u.index > index {
		prev = u
		u = u.next
	}
	if u != nil && u.index == index {
		return u
	}

	nu := &Upvalue{index: index, open: true}
	vm.track(nu, vm.core.Upvalue)
	// track may collect; the stack slice is unchanged by collection
	nu.ptr = &f.stack[index]
	nu.next = u
	if prev == nil {
		f.openUpvalues = nu
	} else {
		prev.next = nu
	}
	return nu
}

// closeUpvalues closes every open upvalue at or above level.
func (f *Fiber) closeUpvalues(level int) {
	for f.openUpvalues != nil && f.openUpvalues.index >= level {
		u := f.openUpvalues
		u.close()
		f.openUpvalues = u.next
		u.next = nil
	}
}

func (f *Fiber) Trace(t *Tracer) {
	if f.closure != nil {
		t.Mark(f.closure)
	}
	// slots at or above top belong to no live window
	for _, v := range f.stack[:f.liveTop()] {
		t.MarkValue(v)
	}
	for _, fr := range f.frames {
		t.Mark(fr.closure)
		if fr.args != nil {
			t.Mark(fr.args)
		}
	}
	for u := f.openUpvalues; u != nil; u = u.next {
		t.Mark(u)
	}
	if f.caller != nil {
		t.Mark(f.caller)
	}
	t.MarkValue(f.result)
}

func (f *Fiber) Size() int {
	return headerSize + 160 + len(f.stack)*valueSize + len(f.frames)*80
}
