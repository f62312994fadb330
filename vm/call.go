package vm

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// regCount is the register need of fn called with nargs arguments.
func regCount(fn *Function, nargs int) int {
	n := fn.NParams
	if nargs > n {
		n = nargs
	}
	return n + fn.NLocals + fn.NTemps
}

func (fr *CallFrame) size() int {
	return regCount(fr.closure.Function, fr.nargs)
}

// pushFrame activates Native closure c with nargs arguments already placed
// at absolute stack index base of f.
func (vm *VM) pushFrame(f *Fiber, c *Closure, base, nargs int, dest uint32) (*CallFrame, bool) {
	fn := c.Function
	if len(f.frames) >= vm.maxFrames {
		return nil, vm.stackOverflow()
	}
	size := regCount(fn, nargs)
	if !f.ensure(base+size+1, vm.maxStack) {
		return nil, vm.stackOverflow()
	}

	st := f.stack
	for i := nargs; i < fn.NParams; i++ {
		st[base+i] = Undefined
	}
	for n := 1; n < fn.NParams && n-1 < len(fn.ParamDefaults); n++ {
		if st[base+n].IsUndefined() {
			st[base+n] = fn.ParamDefaults[n-1]
		}
	}
	first := nargs
	if fn.NParams > first {
		first = fn.NParams
	}
	for i := first; i < size; i++ {
		st[base+i] = Null
	}

	fr := &CallFrame{closure: c, base: base, dest: dest, nargs: nargs}
	if caller := f.frame(); caller != nil && caller.closure.Function == fn {
		fr.depth = caller.depth + 1
		if vm.maxRecursion > 0 && fr.depth >= vm.maxRecursion {
			return nil, vm.Errorf("Max recursion depth exceeded for func %s (limit is set to %d)", fn.DisplayName(), vm.maxRecursion)
		}
	}
	if f.top < base+size {
		f.top = base + size
	}
	if fn.UseArgs {
		vm.PushTemp(c)
		fr.args = vm.NewListFrom(st[base+1 : base+nargs])
		vm.PopTemp()
	}

	f.frames = append(f.frames, fr)
	if f.status == FiberNeverExecuted {
		f.status = FiberRunning
	}
	return fr, true
}

func (vm *VM) stackOverflow() bool {
	return vm.Errorf("Infinite loop detected. Current execution must be aborted.")
}

// ---------------------------------------------------------------------------
// Invocation from the interpreter
// ---------------------------------------------------------------------------

// invoke calls c with nargs arguments at absolute index base of the running
// fiber. The result lands in register dest of the current frame: at once for
// internal functions, on return for Native ones. It returns false when the
// execute loop must stop.
func (vm *VM) invoke(c *Closure, base, nargs int, dest uint32) bool {
	for {
		f := vm.fiber
		fn := c.Function
		switch fn.Tag {
		case ExecNative:
			if _, ok := vm.pushFrame(f, c, base, nargs, dest); !ok {
				return vm.recover()
			}
			return true

		case ExecInternal:
			retBase := 0
			if fr := f.frame(); fr != nil {
				retBase = fr.base
			}
			if vm.callInternal(fn, f, base, nargs, retBase, dest) {
				return true
			}
			if r, ok := vm.takeRedirect(); ok {
				if r.closure == nil {
					vm.Errorf("Unable to call object (in function %s)", fn.DisplayName())
					return vm.recover()
				}
				if len(r.args) > 0 {
					if !f.ensure(base+len(r.args), vm.maxStack) {
						vm.stackOverflow()
						return vm.recover()
					}
					copy(f.stack[base:], r.args)
					nargs = len(r.args)
				}
				c = r.closure
				continue
			}
			return vm.recover()

		case ExecBridged:
			if vm.delegate.BridgeExecute == nil {
				vm.Errorf("Unable to execute bridged function %s", fn.DisplayName())
				return vm.recover()
			}
			fr := f.frame()
			saved := vm.ret
			vm.ret = retTarget{fiber: f, base: fr.base}
			args := append([]Value(nil), f.stack[base:base+nargs]...)
			ok := vm.delegate.BridgeExecute(vm, fn.XData, args[0], args, dest)
			vm.ret = saved
			if !ok {
				return vm.recover()
			}
			return true

		case ExecSpecial:
			next := fn.Getter
			if nargs >= 3 && fn.Setter != nil {
				next = fn.Setter
			}
			if next == nil {
				vm.Errorf("Unable to handle a special function in current context")
				return vm.recover()
			}
			c = next
			continue
		}
		vm.Errorf("Unable to call object (in function %s)", fn.DisplayName())
		return vm.recover()
	}
}

// callInternal runs a Go function with its arguments in the stack window
// at base. Return writes relative to retBase.
func (vm *VM) callInternal(fn *Function, f *Fiber, base, nargs, retBase int, dest uint32) bool {
	if !f.ensure(base+nargs+1, vm.maxStack) {
		return vm.stackOverflow()
	}
	if nargs == 0 {
		f.stack[base] = Null
		nargs = 1
	}
	top := f.top
	if f.top < base+nargs {
		f.top = base + nargs
	}
	saved := vm.ret
	vm.ret = retTarget{fiber: f, base: retBase}
	ok := fn.Internal(vm, f.stack[base:base+nargs:base+nargs], dest)
	vm.ret = saved
	f.top = top
	return ok
}

// ---------------------------------------------------------------------------
// Host entry points
// ---------------------------------------------------------------------------

// trampolineFor returns the host-call shim for n arguments. Its frame holds
// the callee in register 1 and the arguments from register 2, and runs
// CALL 0 1 n; RET 0.
func (vm *VM) trampolineFor(n int) *Closure {
	if c, ok := vm.trampoline[n]; ok {
		return c
	}
	vm.gcDisable()
	defer vm.gcEnable()
	f := vm.NewFunction("$host", 0, n+2, 0)
	f.Bytecode = []uint32{
		EncodeABC(OpCALL, 0, 1, uint32(n)),
		EncodeABC(OpRET, 0, 0, 0),
	}
	c := vm.NewClosure(f)
	vm.Pin(c)
	vm.trampoline[n] = c
	return c
}

// RunClosure calls c with self and args and runs it to completion. It may
// be called from internal functions; nesting is bounded by MaxCCalls.
func (vm *VM) RunClosure(c *Closure, self Value, args ...Value) (Value, error) {
	if c == nil {
		return Null, ErrNotCallable
	}
	return vm.Call(FromObject(c), self, args...)
}

// Call invokes any callable value: closures, classes (construction) and
// objects whose class binds exec.
func (vm *VM) Call(callee Value, self Value, args ...Value) (result Value, err error) {
	if vm.closed || vm.aborted {
		return Null, ErrAborted
	}
	if vm.exiting {
		return Null, ErrExit
	}
	if vm.nccalls >= vm.maxCCalls {
		vm.Errorf("Maximum number of nested C calls reached (%d).", vm.maxCCalls)
		return Null, vm.failure()
	}
	if vm.fiber == nil {
		vm.fiber = vm.main
	}

	vm.nccalls++
	defer func() {
		if r := recover(); r != nil {
			vm.abort(ErrorRuntime, fmt.Sprintf("internal error: %v", r))
			result, err = Null, vm.failure()
		}
		vm.nccalls--
		if vm.nccalls == 0 && err == nil {
			vm.runFinalizers()
		}
	}()

	f := vm.fiber
	n := 1 + len(args)
	tr := vm.trampolineFor(n)
	base := f.top
	if fr := f.frame(); fr != nil && base < fr.base+fr.size() {
		base = fr.base + fr.size()
	}
	fr, ok := vm.pushFrame(f, tr, base, 0, 0)
	if !ok {
		return Null, vm.failure()
	}
	fr.outloop = true
	f.stack[base+1] = callee
	f.stack[base+2] = self
	copy(f.stack[base+3:], args)

	if !vm.execute() {
		return Null, vm.failure()
	}
	return vm.fiber.result, nil
}

// ErrExit is returned after System.exit until Reset.
var ErrExit = errors.New("vm: exit requested")

func (vm *VM) failure() error {
	switch {
	case vm.aborted && vm.lastErr != nil:
		return vm.lastErr
	case vm.aborted:
		return ErrAborted
	case vm.exiting:
		return ErrExit
	}
	return errUnwinding
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Errorf raises a runtime error and returns false, so internal functions
// can write `return vm.Errorf(...)`.
func (vm *VM) Errorf(format string, args ...any) bool {
	return vm.raise(ErrorRuntime, fmt.Sprintf(format, args...))
}

// raise records an error on a trying fiber, or aborts the VM.
func (vm *VM) raise(kind ErrorKind, msg string) bool {
	if vm.aborted {
		return false
	}
	if f := vm.fiber; f != nil && f.status == FiberTrying && vm.unwinding == nil {
		f.failed = true
		f.err = msg
		f.status = FiberAbortedWithError
		vm.unwinding = f
		vmLog.Debugf("fiber error caught by try: %s", msg)
		return false
	}
	vm.abort(kind, msg)
	return false
}

func (vm *VM) abort(kind ErrorKind, msg string) {
	if vm.aborted {
		return
	}
	vm.aborted = true
	e := &RuntimeError{Kind: kind, Message: msg}
	if f := vm.fiber; f != nil {
		if fr := f.frame(); fr != nil {
			e.Line = fr.Line()
			e.Function = fr.closure.Function.DisplayName()
		}
	}
	if kind == ErrorRuntime && errorsIsOverflow(msg) {
		e.wrapped = ErrStackOverflow
	}
	vm.lastErr = e
	vmLog.Debugf("abort: %s", e)
	if vm.delegate.Error != nil {
		vm.delegate.Error(vm, kind, msg, e.Line)
	}
}

func errorsIsOverflow(msg string) bool {
	return msg == "Infinite loop detected. Current execution must be aborted."
}

// recover decides whether the execute loop can go on after a call returned
// false. A pending try error unwinds its fiber once control is back at the
// host depth the fiber was entered at.
func (vm *VM) recover() bool {
	if vm.aborted || vm.exiting || vm.closed {
		return false
	}
	f := vm.unwinding
	if f == nil {
		return vm.fiber != nil
	}
	if vm.nccalls != f.cdepth {
		return false
	}
	vm.unwinding = nil
	caller := f.caller
	f.reset()
	f.elapsed += time.Since(f.started)
	vm.fiber = caller
	if caller == nil {
		return false
	}
	caller.stack[caller.resumeAt] = Null
	return true
}
