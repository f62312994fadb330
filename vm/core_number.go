package vm

import (
	"math"
	"math/rand/v2"
	"time"
)

// ---------------------------------------------------------------------------
// Operand conversion
// ---------------------------------------------------------------------------

// The interpreter evaluates scalar arithmetic inline; these methods run
// when an operand is an object (or when a script calls them directly), so
// the right-hand side is first converted to the receiver's type.

func (vm *VM) intOperand(v Value) (int64, bool) {
	r, ok := vm.convertInt(v)
	if !ok || !r.IsInt() {
		return 0, vm.Errorf("Unable to convert object to Int.")
	}
	return r.Int(), true
}

func (vm *VM) floatOperand(v Value) (float64, bool) {
	r, ok := vm.convertFloat(v)
	if !ok {
		return 0, vm.Errorf("Unable to convert object to Float.")
	}
	if r.IsInt() {
		return float64(r.Int()), true
	}
	if !r.IsFloat() {
		return 0, vm.Errorf("Unable to convert object to Float.")
	}
	return r.Float64(), true
}

func (vm *VM) boolOperand(v Value) (bool, bool) {
	r, ok := vm.convertBool(v)
	if !ok || !r.IsBool() {
		return false, vm.Errorf("Unable to convert object to Bool.")
	}
	return r.Bool(), true
}

// failed reports whether a conversion callback raised.
func (vm *VM) failed() bool {
	return vm.aborted || vm.unwinding != nil
}

// compareInts orders an Int receiver against any value. Values that do not
// convert order below the receiver.
func compareInts(vm *VM, x, y Value, dest uint32) bool {
	if y.IsFloat() {
		return compareFloats(vm, FromFloat64(float64(x.Int())), y, dest)
	}
	r, ok := vm.convertInt(y)
	if !ok || !r.IsInt() {
		if vm.failed() {
			return false
		}
		return vm.Return(dest, FromInt(-1))
	}
	return vm.Return(dest, FromInt(compareNumbers(FromInt(x.Int()), r)))
}

func compareFloats(vm *VM, x, y Value, dest uint32) bool {
	r, ok := vm.convertFloat(y)
	if !ok || !r.IsNumber() {
		if vm.failed() {
			return false
		}
		return vm.Return(dest, FromInt(-1))
	}
	return vm.Return(dest, FromInt(compareNumbers(x, r)))
}

// ---------------------------------------------------------------------------
// Int
// ---------------------------------------------------------------------------

func (vm *VM) initInt() {
	c := vm.core.Int
	vm.bind(c, OperAdd.Key(), intArith(func(a, b int64) int64 { return a + b }))
	vm.bind(c, OperSub.Key(), intArith(func(a, b int64) int64 { return a - b }))
	vm.bind(c, OperMul.Key(), intArith(func(a, b int64) int64 { return a * b }))
	vm.bind(c, OperDiv.Key(), intDiv)
	vm.bind(c, OperRem.Key(), intRem)
	vm.bind(c, OperAnd.Key(), numberAnd)
	vm.bind(c, OperOr.Key(), numberOr)
	vm.bind(c, OperCmp.Key(), intCmp)
	vm.bind(c, OperNeg.Key(), func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(-args[0].Int()))
	})
	vm.bind(c, OperNot.Key(), func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromBool(args[0].Int() == 0))
	})
	vm.bind(c, "loop", intLoop)
	vm.bindProperty(c, "radians", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromFloat64(float64(args[0].Int())*math.Pi/180))
	}, nil)
	vm.bindProperty(c, "degrees", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromFloat64(float64(args[0].Int())*180/math.Pi))
	}, nil)

	m := c.meta
	vm.bind(m, "random", intRandom)
	vm.bind(m, OperExec.Key(), intExec)
	vm.bindProperty(m, "min", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(math.MinInt64))
	}, nil)
	vm.bindProperty(m, "max", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(math.MaxInt64))
	}, nil)
}

func intArith(op func(a, b int64) int64) InternalFunc {
	return func(vm *VM, args []Value, dest uint32) bool {
		b, ok := vm.intOperand(argAt(args, 1))
		if !ok {
			return false
		}
		return vm.Return(dest, FromInt(op(args[0].Int(), b)))
	}
}

func intDiv(vm *VM, args []Value, dest uint32) bool {
	b, ok := vm.intOperand(argAt(args, 1))
	if !ok {
		return false
	}
	if b == 0 {
		return vm.Errorf("Division by 0 error.")
	}
	return vm.Return(dest, FromInt(args[0].Int()/b))
}

func intRem(vm *VM, args []Value, dest uint32) bool {
	b, ok := vm.intOperand(argAt(args, 1))
	if !ok {
		return false
	}
	if b == 0 {
		return vm.Errorf("Reminder by 0 error.")
	}
	return vm.Return(dest, FromInt(args[0].Int()%b))
}

func numberAnd(vm *VM, args []Value, dest uint32) bool {
	a, ok := vm.boolOperand(args[0])
	if !ok {
		return false
	}
	b, ok := vm.boolOperand(argAt(args, 1))
	if !ok {
		return false
	}
	return vm.Return(dest, FromBool(a && b))
}

func numberOr(vm *VM, args []Value, dest uint32) bool {
	a, ok := vm.boolOperand(args[0])
	if !ok {
		return false
	}
	b, ok := vm.boolOperand(argAt(args, 1))
	if !ok {
		return false
	}
	return vm.Return(dest, FromBool(a || b))
}

func intCmp(vm *VM, args []Value, dest uint32) bool {
	return compareInts(vm, args[0], argAt(args, 1), dest)
}

// intLoop calls the closure n times with the iteration index and returns
// the elapsed time in nanoseconds.
func intLoop(vm *VM, args []Value, dest uint32) bool {
	if len(args) < 2 {
		return vm.Errorf("Incorrect number of arguments.")
	}
	c := args[1].AsClosure()
	if c == nil {
		return vm.Errorf("Argument must be a Closure.")
	}
	self := args[0]
	n := self.Int()
	start := time.Now()
	for i := int64(0); i < n; i++ {
		if _, err := vm.RunClosure(c, self, FromInt(i)); err != nil {
			return false
		}
	}
	return vm.Return(dest, FromInt(time.Since(start).Nanoseconds()))
}

// intRandom returns an integer in the closed interval spanned by its two
// arguments, in either order.
func intRandom(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 3 {
		return vm.Errorf("Int.random() expects 2 integer arguments")
	}
	if !args[1].IsInt() || !args[2].IsInt() {
		return vm.Errorf("Int.random() arguments must be integers")
	}
	lo, hi := args[1].Int(), args[2].Int()
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == hi {
		return vm.Return(dest, FromInt(lo))
	}
	return vm.Return(dest, FromInt(lo+rand.Int64N(hi-lo+1)))
}

func intExec(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 {
		return vm.Errorf("A single argument is expected in Int casting.")
	}
	v, ok := vm.convertInt(args[1])
	if !ok {
		return vm.Errorf("Unable to convert object to Int.")
	}
	return vm.Return(dest, v)
}

// ---------------------------------------------------------------------------
// Float
// ---------------------------------------------------------------------------

func (vm *VM) initFloat() {
	c := vm.core.Float
	vm.bind(c, OperAdd.Key(), floatArith(func(a, b float64) float64 { return a + b }))
	vm.bind(c, OperSub.Key(), floatArith(func(a, b float64) float64 { return a - b }))
	vm.bind(c, OperMul.Key(), floatArith(func(a, b float64) float64 { return a * b }))
	vm.bind(c, OperDiv.Key(), floatDiv)
	vm.bind(c, OperRem.Key(), floatRem)
	vm.bind(c, OperAnd.Key(), numberAnd)
	vm.bind(c, OperOr.Key(), numberOr)
	vm.bind(c, OperCmp.Key(), func(vm *VM, args []Value, dest uint32) bool {
		return compareFloats(vm, args[0], argAt(args, 1), dest)
	})
	vm.bind(c, OperNeg.Key(), func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromFloat64(-args[0].Float64()))
	})
	vm.bind(c, OperNot.Key(), func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromBool(args[0].Float64() == 0))
	})
	vm.bind(c, "round", floatUnary(math.Round))
	vm.bind(c, "floor", floatUnary(math.Floor))
	vm.bind(c, "ceil", floatUnary(math.Ceil))
	vm.bind(c, "isClose", floatIsClose)
	vm.bindProperty(c, "radians", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromFloat64(args[0].Float64()*math.Pi/180))
	}, nil)
	vm.bindProperty(c, "degrees", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromFloat64(args[0].Float64()*180/math.Pi))
	}, nil)

	m := c.meta
	vm.bind(m, OperExec.Key(), floatExec)
	vm.bindProperty(m, "min", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromFloat64(math.SmallestNonzeroFloat64))
	}, nil)
	vm.bindProperty(m, "max", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromFloat64(math.MaxFloat64))
	}, nil)
}

func floatArith(op func(a, b float64) float64) InternalFunc {
	return func(vm *VM, args []Value, dest uint32) bool {
		b, ok := vm.floatOperand(argAt(args, 1))
		if !ok {
			return false
		}
		return vm.Return(dest, FromFloat64(op(args[0].Float64(), b)))
	}
}

func floatDiv(vm *VM, args []Value, dest uint32) bool {
	b, ok := vm.floatOperand(argAt(args, 1))
	if !ok {
		return false
	}
	if b == 0 {
		return vm.Errorf("Division by 0 error.")
	}
	return vm.Return(dest, FromFloat64(args[0].Float64()/b))
}

func floatRem(vm *VM, args []Value, dest uint32) bool {
	b, ok := vm.floatOperand(argAt(args, 1))
	if !ok {
		return false
	}
	if b == 0 {
		return vm.Errorf("Reminder by 0 error.")
	}
	return vm.Return(dest, FromFloat64(math.Mod(args[0].Float64(), b)))
}

func floatUnary(fn func(float64) float64) InternalFunc {
	return func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromFloat64(fn(args[0].Float64())))
	}
}

// floatIsClose reports abs(a-b) <= max(rel * max(abs(a), abs(b)), abs).
// The tolerances are optional Float arguments.
func floatIsClose(vm *VM, args []Value, dest uint32) bool {
	if len(args) < 2 {
		return vm.Return(dest, True)
	}
	b, ok := vm.floatOperand(args[1])
	if !ok {
		return false
	}
	a := args[0].Float64()
	rel, abs := 1e-9, 0.0
	if v := argAt(args, 2); v.IsFloat() {
		rel = v.Float64()
	}
	if v := argAt(args, 3); v.IsFloat() {
		abs = v.Float64()
	}
	limit := math.Max(rel*math.Max(math.Abs(a), math.Abs(b)), abs)
	return vm.Return(dest, FromBool(math.Abs(a-b) <= limit))
}

func floatExec(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 {
		return vm.Errorf("A single argument is expected in Float casting.")
	}
	v, ok := vm.convertFloat(args[1])
	if !ok {
		return vm.Errorf("Unable to convert object to Float.")
	}
	return vm.Return(dest, v)
}

// ---------------------------------------------------------------------------
// Bool
// ---------------------------------------------------------------------------

// Bool arithmetic treats true and false as 1 and 0.
func (vm *VM) initBool() {
	c := vm.core.Bool
	vm.bind(c, OperAdd.Key(), intArith(func(a, b int64) int64 { return a + b }))
	vm.bind(c, OperSub.Key(), intArith(func(a, b int64) int64 { return a - b }))
	vm.bind(c, OperMul.Key(), intArith(func(a, b int64) int64 { return a * b }))
	vm.bind(c, OperDiv.Key(), intDiv)
	vm.bind(c, OperRem.Key(), intRem)
	vm.bind(c, OperAnd.Key(), boolLogic(func(a, b bool) bool { return a && b }))
	vm.bind(c, OperOr.Key(), boolLogic(func(a, b bool) bool { return a || b }))
	vm.bind(c, OperBAnd.Key(), boolLogic(func(a, b bool) bool { return a && b }))
	vm.bind(c, OperBOr.Key(), boolLogic(func(a, b bool) bool { return a || b }))
	vm.bind(c, OperBXor.Key(), boolLogic(func(a, b bool) bool { return a != b }))
	vm.bind(c, OperCmp.Key(), intCmp)
	vm.bind(c, OperNeg.Key(), func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(-args[0].Int()))
	})
	vm.bind(c, OperNot.Key(), func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromBool(!args[0].Bool()))
	})
	vm.bind(c.meta, OperExec.Key(), boolExec)
}

func boolLogic(op func(a, b bool) bool) InternalFunc {
	return func(vm *VM, args []Value, dest uint32) bool {
		b, ok := vm.boolOperand(argAt(args, 1))
		if !ok {
			return false
		}
		return vm.Return(dest, FromBool(op(args[0].Bool(), b)))
	}
}

func boolExec(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 {
		return vm.Errorf("A single argument is expected in Bool casting.")
	}
	v, ok := vm.convertBool(args[1])
	if !ok {
		return vm.Errorf("Unable to convert object to Bool.")
	}
	return vm.Return(dest, v)
}
