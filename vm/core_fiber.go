package vm

import "time"

// ---------------------------------------------------------------------------
// Fiber
// ---------------------------------------------------------------------------

// Control moves between fibers by changing vm.fiber inside an internal
// function; the execute loop picks the new fiber up on its next
// instruction. A pending value travels through resumeAt, the absolute
// slot that receives it when the fiber is next resumed.

func (vm *VM) initFiber() {
	c := vm.core.Fiber
	vm.bind(c.meta, "create", fiberCreate)
	vm.bind(c, "call", func(vm *VM, args []Value, dest uint32) bool {
		return fiberRun(vm, args, dest, false)
	})
	vm.bind(c, "try", func(vm *VM, args []Value, dest uint32) bool {
		return fiberRun(vm, args, dest, true)
	})
	vm.bind(c.meta, "yield", func(vm *VM, args []Value, dest uint32) bool {
		return fiberYield(vm, argAt(args, 1), dest, 0)
	})
	vm.bind(c.meta, "yieldWaitTime", fiberYieldWaitTime)
	vm.bind(c, "status", fiberStatus)
	vm.bind(c, "isDone", fiberIsDone)
	vm.bind(c, "elapsedTime", fiberElapsedTime)
	vm.bind(c.meta, "abort", fiberAbort)
}

func fiberCreate(vm *VM, args []Value, dest uint32) bool {
	c, ok := vm.closureArg(args, 1, "A function is expected as argument to Fiber.create.")
	if !ok {
		return false
	}
	return vm.Return(dest, FromObject(vm.NewFiber(c)))
}

// fiberRun transfers control into the target fiber. A fiber that hasn't
// run yet gets its root frame with the call arguments; a suspended one
// receives the first argument as the result of its pending yield.
func fiberRun(vm *VM, args []Value, dest uint32, trying bool) bool {
	fib := args[0].AsFiber()
	if fib == nil {
		return vm.Errorf("Unable to call a non fiber object.")
	}
	vm.ReturnNull(dest)

	caller := vm.fiber
	if fib.caller != nil || fib.IsDone() || fib == caller {
		return vm.Errorf("Fiber has already been called.")
	}
	now := time.Now()
	if fib.timewait > 0 && now.Sub(fib.lastYield).Seconds() < fib.timewait {
		// still sleeping: the call is a no-op
		return true
	}

	if fib.status == FiberNeverExecuted {
		c := fib.closure
		if c == nil {
			return vm.Errorf("A function is expected as argument to Fiber.create.")
		}
		self := Null
		if c.Context != nil {
			self = FromObject(c.Context)
		}
		if c.Function.Tag != ExecNative {
			return vm.runFiberSync(fib, self, args[1:], dest)
		}
		n := len(args)
		if !fib.ensure(n+1, vm.maxStack) {
			return vm.stackOverflow()
		}
		fib.stack[0] = self
		copy(fib.stack[1:], args[1:])
		if _, ok := vm.pushFrame(fib, c, 0, n, 0); !ok {
			return false
		}
	} else {
		fib.stack[fib.resumeAt] = argAt(args, 1)
	}

	caller.resumeAt = vm.ret.base + int(dest)
	fib.caller = caller
	fib.status = FiberRunning
	if trying {
		fib.status = FiberTrying
	}
	fib.cdepth = vm.nccalls
	fib.timewait = 0
	fib.started = now
	vm.fiber = fib
	return true
}

// runFiberSync runs a fiber whose entry is a Go function. Such a fiber
// cannot yield, so it completes within the call.
func (vm *VM) runFiberSync(fib *Fiber, self Value, args []Value, dest uint32) bool {
	fib.status = FiberRunning
	fib.started = time.Now()
	res, err := vm.RunClosure(fib.closure, self, append([]Value(nil), args...)...)
	fib.elapsed += time.Since(fib.started)
	if err != nil {
		return false
	}
	fib.result = res
	return vm.Return(dest, res)
}

// fiberYield suspends the running fiber and hands v to its caller. With
// no caller it does nothing.
func fiberYield(vm *VM, v Value, dest uint32, wait float64) bool {
	fib := vm.fiber
	vm.ReturnNull(dest)
	fib.timewait = wait
	fib.lastYield = time.Now()

	caller := fib.caller
	if caller == nil {
		return true
	}
	if vm.nccalls != fib.cdepth {
		return vm.Errorf("Unable to yield a fiber from inside a nested native call.")
	}
	fib.resumeAt = vm.ret.base + int(dest)
	fib.elapsed += fib.lastYield.Sub(fib.started)
	fib.caller = nil
	caller.stack[caller.resumeAt] = v
	vm.fiber = caller
	return true
}

func fiberYieldWaitTime(vm *VM, args []Value, dest uint32) bool {
	wait := 0.0
	switch v := argAt(args, 1); {
	case v.IsFloat():
		wait = v.Float64()
	case v.IsInt():
		wait = float64(v.Int())
	}
	return fiberYield(vm, Null, dest, wait)
}

// fiberStatus reports 0 never executed, 1 aborted with error, 2
// terminated, 3 running, 4 trying.
func fiberStatus(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, FromInt(int64(args[0].AsFiber().Status())))
}

func fiberIsDone(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, FromBool(args[0].AsFiber().IsDone()))
}

// fiberElapsedTime reports the seconds the fiber has spent running.
func fiberElapsedTime(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, FromFloat64(args[0].AsFiber().elapsed.Seconds()))
}

func fiberAbort(vm *VM, args []Value, dest uint32) bool {
	s := argAt(args, 1).AsString()
	if s == nil {
		return vm.Errorf("Fiber.abort expects a string as argument.")
	}
	return vm.Errorf("%s", s.s)
}
