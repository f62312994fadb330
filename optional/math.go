// Package optional holds host modules an embedder may register on a VM.
// They use only the public binding API, the same way any host would.
package optional

import (
	"math"

	"github.com/chazu/atom/vm"
)

// MathClassName is the global the Math module registers.
const MathClassName = "Math"

// RegisterMath defines the Math class. Its members are static: Math.sqrt(2).
func RegisterMath(v *vm.VM) *vm.Class {
	c := v.NewClass(MathClassName, nil, 0, 0)
	meta := c.Meta()

	v.BindMethod(meta, "abs", mathAbs)
	v.BindMethod(meta, "ceil", unary(math.Ceil))
	v.BindMethod(meta, "floor", unary(math.Floor))
	v.BindMethod(meta, "round", unary(math.Round))
	v.BindMethod(meta, "sqrt", unary(math.Sqrt))
	v.BindMethod(meta, "cbrt", unary(math.Cbrt))
	v.BindMethod(meta, "exp", unary(math.Exp))
	v.BindMethod(meta, "log", unary(math.Log))
	v.BindMethod(meta, "log10", unary(math.Log10))
	v.BindMethod(meta, "sin", unary(math.Sin))
	v.BindMethod(meta, "cos", unary(math.Cos))
	v.BindMethod(meta, "tan", unary(math.Tan))
	v.BindMethod(meta, "pow", mathPow)
	v.BindMethod(meta, "min", func(v *vm.VM, args []vm.Value, dest uint32) bool {
		return extreme(v, args, dest, func(a, b float64) bool { return a < b })
	})
	v.BindMethod(meta, "max", func(v *vm.VM, args []vm.Value, dest uint32) bool {
		return extreme(v, args, dest, func(a, b float64) bool { return a > b })
	})

	for name, k := range map[string]float64{
		"PI":      math.Pi,
		"E":       math.E,
		"LN2":     math.Ln2,
		"LN10":    math.Ln10,
		"LOG2E":   math.Log2E,
		"LOG10E":  math.Log10E,
		"SQRT2":   math.Sqrt2,
		"SQRT1_2": 1 / math.Sqrt2,
	} {
		v.BindProperty(meta, name, func(v *vm.VM, args []vm.Value, dest uint32) bool {
			return v.Return(dest, vm.FromFloat64(k))
		}, nil)
	}

	v.RegisterClass(c)
	return c
}

func number(x vm.Value) (float64, bool) {
	switch {
	case x.IsInt():
		return float64(x.Int()), true
	case x.IsFloat():
		return x.Float64(), true
	}
	return 0, false
}

func arg(args []vm.Value, i int) vm.Value {
	if i < len(args) {
		return args[i]
	}
	return vm.Undefined
}

// mathAbs keeps the argument's kind. Null counts as 0.
func mathAbs(v *vm.VM, args []vm.Value, dest uint32) bool {
	x := arg(args, 1)
	switch {
	case x.IsNull():
		return v.Return(dest, vm.FromInt(0))
	case x.IsInt():
		n := x.Int()
		if n < 0 {
			n = -n
		}
		return v.Return(dest, vm.FromInt(n))
	case x.IsFloat():
		return v.Return(dest, vm.FromFloat64(math.Abs(x.Float64())))
	}
	return v.ReturnUndefined(dest)
}

// unary lifts a float function. Null counts as 0 and other non-numbers
// give Undefined.
func unary(fn func(float64) float64) vm.InternalFunc {
	return func(v *vm.VM, args []vm.Value, dest uint32) bool {
		x := arg(args, 1)
		if x.IsNull() {
			return v.Return(dest, vm.FromFloat64(fn(0)))
		}
		f, ok := number(x)
		if !ok {
			return v.ReturnUndefined(dest)
		}
		return v.Return(dest, vm.FromFloat64(fn(f)))
	}
}

func mathPow(v *vm.VM, args []vm.Value, dest uint32) bool {
	base, ok1 := number(arg(args, 1))
	exp, ok2 := number(arg(args, 2))
	if !ok1 || !ok2 {
		return v.ReturnUndefined(dest)
	}
	return v.Return(dest, vm.FromFloat64(math.Pow(base, exp)))
}

// extreme returns the winning argument itself, so Int stays Int.
// Non-numbers are skipped; with none left the result is Null.
func extreme(v *vm.VM, args []vm.Value, dest uint32, better func(a, b float64) bool) bool {
	best := -1
	var bestVal float64
	for i := 1; i < len(args); i++ {
		f, ok := number(args[i])
		if !ok {
			continue
		}
		if best < 0 || better(f, bestVal) {
			best, bestVal = i, f
		}
	}
	if best < 0 {
		return v.ReturnNull(dest)
	}
	return v.Return(dest, args[best])
}
