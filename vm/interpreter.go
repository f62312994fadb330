package vm

import (
	"math"
	"time"
)

// ---------------------------------------------------------------------------
// Interpreter: register bytecode execution
// ---------------------------------------------------------------------------

// execute runs the current fiber until an outloop frame returns, HALT is
// reached or an error stops execution. The running fiber and frame are
// reloaded for every instruction because calls, returns and fiber switches
// all change them.
func (vm *VM) execute() bool {
	for {
		if vm.aborted || vm.exiting {
			return false
		}
		f := vm.fiber
		fr := f.frame()
		if fr == nil {
			return true
		}
		fn := fr.closure.Function
		code := fn.Bytecode
		if fr.ip >= len(code) {
			if vm.popReturn(Null) {
				return true
			}
			continue
		}
		w := code[fr.ip]
		fr.ip++

		st := f.stack
		base := fr.base
		op := decodeOp(w)

		switch op {
		case OpNOP:

		case OpRET0:
			if vm.popReturn(Null) {
				return true
			}

		case OpRET:
			if vm.popReturn(st[base+int(decodeA(w))]) {
				return true
			}

		case OpHALT:
			return vm.halt()

		case OpMOVE:
			st[base+int(decodeA(w))] = st[base+int(decodeN18(w))]

		case OpLOADI:
			n := int64(decodeN17(w))
			if decodeS(w) {
				n = -n
			}
			st[base+int(decodeA(w))] = FromInt(n)

		case OpLOADK:
			a, idx := decodeA(w), decodeN18(w)
			v, ok := vm.loadConstant(fr, st, idx)
			if !ok {
				if !vm.throw("Unknown LOADK index %d", idx) {
					return false
				}
				continue
			}
			st[base+int(a)] = v

		case OpLOADG:
			a, idx := decodeA(w), decodeN18(w)
			key := operand(fn, st, base, ConstBase+idx)
			v, ok := vm.globals.Lookup(key)
			if !ok {
				if !vm.throw("Unable to find object %s", vm.keyName(key)) {
					return false
				}
				continue
			}
			st[base+int(a)] = v

		case OpSTOREG:
			a, idx := decodeA(w), decodeN18(w)
			key := operand(fn, st, base, ConstBase+idx)
			vm.globals.Insert(key, st[base+int(a)])

		case OpLOADU:
			a, idx := decodeA(w), int(decodeN18(w))
			up := fr.closure.Upvalues
			if idx >= len(up) || up[idx] == nil {
				if !vm.throw("Unable to find upvalue %d", idx) {
					return false
				}
				continue
			}
			st[base+int(a)] = up[idx].Get()

		case OpSTOREU:
			a, idx := decodeA(w), int(decodeN18(w))
			up := fr.closure.Upvalues
			if idx >= len(up) || up[idx] == nil {
				if !vm.throw("Unable to find upvalue %d", idx) {
					return false
				}
				continue
			}
			up[idx].Set(st[base+int(a)])

		case OpLOADS:
			a, b, c := decodeA(w), decodeB(w), decodeC(w)
			name := st[base+int(b)].Str()
			key := operand(fn, st, base, c)
			self := st[base]
			target := vm.ClassOf(self)
			for target != nil && target.Name != name {
				target = target.Super
			}
			if target == nil {
				if !vm.throw("Unable to find superclass %s in self object", name) {
					return false
				}
				continue
			}
			v, ok := target.Lookup(key)
			if !ok {
				if !vm.throw("Unable to find %s in superclass %s", vm.keyName(key), target.Name) {
					return false
				}
				continue
			}
			st[base+int(a)] = v

		case OpLOAD, OpLOADAT:
			a, b, c := decodeA(w), decodeB(w), decodeC(w)
			target := st[base+int(b)]
			key := operand(fn, st, base, c)
			oper := OperLoad
			if op == OpLOADAT {
				oper = OperLoadAt
			}
			if !vm.dispatchOperator(oper, a, target, key) {
				return false
			}

		case OpSTORE, OpSTOREAT:
			a, b, c := decodeA(w), decodeB(w), decodeC(w)
			value := st[base+int(a)]
			target := st[base+int(b)]
			key := operand(fn, st, base, c)
			oper := OperStore
			if op == OpSTOREAT {
				oper = OperStoreAt
			}
			if !vm.dispatchOperator(oper, uint32(fr.size()), target, key, value) {
				return false
			}

		case OpJUMP:
			fr.ip = int(decodeN26(w))

		case OpJUMPF:
			a, target := decodeA(w), int(decodeN17(w))
			v := st[base+int(a)]
			if decodeS(w) {
				if v.IsBool() && !v.Bool() {
					fr.ip = target
				}
				continue
			}
			falsy, decided := isFalsyScalar(v)
			if !decided {
				c := vm.lookupOperator(v, OperBool)
				if c != nil {
					res, ok := vm.callSync(c, v)
					if !ok {
						if !vm.recover() {
							return false
						}
						continue
					}
					falsy, _ = isFalsyScalar(res)
				}
			}
			if falsy {
				vm.fiber.frame().ip = target
			}

		case OpADD, OpSUB, OpMUL, OpDIV, OpREM, OpAND, OpOR,
			OpLSHIFT, OpRSHIFT, OpBAND, OpBOR, OpBXOR:
			a, b, c := decodeA(w), decodeB(w), decodeC(w)
			x := st[base+int(b)]
			y := operand(fn, st, base, c)
			if r, handled, ok := fastBinary(op, x, y); handled {
				if !ok {
					msg := "Division by 0 error."
					if op == OpREM {
						msg = "Reminder by 0 error."
					}
					if !vm.throw("%s", msg) {
						return false
					}
					continue
				}
				st[base+int(a)] = r
				continue
			}
			if !vm.dispatchOperator(binaryOperator[op], a, x, y) {
				return false
			}

		case OpNEG, OpNOT, OpBNOT:
			a, b := decodeA(w), decodeB(w)
			x := st[base+int(b)]
			if r, handled := fastUnary(op, x); handled {
				st[base+int(a)] = r
				continue
			}
			if !vm.dispatchOperator(binaryOperator[op], a, x) {
				return false
			}

		case OpLT, OpGT, OpEQ, OpLEQ, OpGEQ, OpNEQ:
			a, b, c := decodeA(w), decodeB(w), decodeC(w)
			x := st[base+int(b)]
			y := operand(fn, st, base, c)

			if (x.IsBool() && y.IsBool()) || x.IsUndefined() || y.IsUndefined() {
				// no ordering here: every operator but EQ reports inequality
				eq := x.kind == y.kind && x.n == y.n
				st[base+int(a)] = FromBool(eq == (op == OpEQ))
				continue
			}

			var r int64
			if x.IsNumber() && y.IsNumber() {
				r = compareNumbers(x, y)
			} else {
				c := vm.lookupOperator(x, OperCmp)
				if c == nil {
					if !vm.throw("Unable to perform operator %s on object", OperCmp.Key()) {
						return false
					}
					continue
				}
				res, ok := vm.callSync(c, x, y)
				if !ok {
					if !vm.recover() {
						return false
					}
					continue
				}
				r = compareResult(res)
				f = vm.fiber
				fr = f.frame()
				st = f.stack
				base = fr.base
			}

			result := compareHolds(op, r)
			st[base+int(a)] = FromBool(result)
			if !result && fr.ip < len(code) && decodeOp(code[fr.ip]) == OpJUMPF {
				fr.ip = int(decodeN17(code[fr.ip]))
			}

		case OpEQQ, OpNEQQ:
			a, b, c := decodeA(w), decodeB(w), decodeC(w)
			x := st[base+int(b)]
			y := operand(fn, st, base, c)
			cl := vm.lookupOperator(x, OperEqq)
			if cl == nil {
				if !vm.throw("Unable to perform operator %s on object", OperEqq.Key()) {
					return false
				}
				continue
			}
			res, ok := vm.callSync(cl, x, y)
			if !ok {
				if !vm.recover() {
					return false
				}
				continue
			}
			falsy, decided := isFalsyScalar(res)
			truth := decided && !falsy || !decided
			if op == OpNEQQ {
				truth = !truth
			}
			f = vm.fiber
			f.stack[f.frame().base+int(a)] = FromBool(truth)

		case OpISA, OpMATCH:
			a, b, c := decodeA(w), decodeB(w), decodeC(w)
			x := st[base+int(b)]
			y := operand(fn, st, base, c)
			oper := OperIs
			if op == OpMATCH {
				oper = OperMatch
			}
			if !vm.dispatchOperator(oper, a, x, y) {
				return false
			}

		case OpCALL:
			if !vm.execCall(f, fr, w) {
				return false
			}

		case OpMAPNEW:
			a, n := decodeA(w), int(decodeN18(w))
			if !vm.checkBlock(n * valueSize) {
				if !vm.recover() {
					return false
				}
				continue
			}
			st[base+int(a)] = FromObject(vm.NewMap(n))

		case OpLISTNEW:
			a, n := decodeA(w), int(decodeN18(w))
			if !vm.checkBlock(n * valueSize) {
				if !vm.recover() {
					return false
				}
				continue
			}
			st[base+int(a)] = FromObject(vm.NewList(n))

		case OpRANGENEW:
			a, b, c := decodeA(w), decodeB(w), decodeC8(w)
			from, to := st[base+int(b)], st[base+int(c)]
			if !from.IsInt() || !to.IsInt() {
				if !vm.throw("Unable to build Range from a non Int value") {
					return false
				}
				continue
			}
			st[base+int(a)] = FromObject(vm.NewRange(from.Int(), to.Int(), decodeF(w) == 0))

		case OpSETLIST:
			if !vm.execSetList(fn, st, base, w) {
				if !vm.recover() {
					return false
				}
			}

		case OpCLOSURE:
			if !vm.execClosure(f, fr, w) {
				if !vm.recover() {
					return false
				}
			}

		case OpCLOSE:
			f.closeUpvalues(base + int(decodeA(w)))

		case OpCHECK:
			a := decodeA(w)
			if inst := st[base+int(a)].AsInstance(); inst != nil && inst.class.isStruct {
				st[base+int(a)] = FromObject(vm.cloneInstance(inst))
			}

		default:
			if !vm.throw("Opcode not implemented in this VM version.") {
				return false
			}
		}
	}
}

// throw raises a runtime error from the execute loop and reports whether
// execution can go on.
func (vm *VM) throw(format string, args ...any) bool {
	vm.Errorf(format, args...)
	return vm.recover()
}

// operand decodes a C operand: a register below ConstBase, a constant pool
// entry at or above it.
func operand(fn *Function, st []Value, base int, c uint32) Value {
	if c >= ConstBase {
		i := int(c - ConstBase)
		if i < len(fn.Constants) {
			return fn.Constants[i]
		}
		return Null
	}
	return st[base+int(c)]
}

func (vm *VM) loadConstant(fr *CallFrame, st []Value, idx uint32) (Value, bool) {
	fn := fr.closure.Function
	if int(idx) < len(fn.Constants) {
		return fn.Constants[idx], true
	}
	switch idx {
	case CpoolSuper:
		if s := vm.ClassOf(st[fr.base]).Super; s != nil {
			return FromObject(s), true
		}
		return Null, true
	case CpoolArguments:
		if fr.args != nil {
			return FromObject(fr.args), true
		}
		return Null, true
	case CpoolNull:
		return Null, true
	case CpoolUndefined:
		return Undefined, true
	case CpoolTrue:
		return True, true
	case CpoolFalse:
		return False, true
	case CpoolFunc:
		return FromObject(fr.closure), true
	}
	return Null, false
}

// ---------------------------------------------------------------------------
// Returns
// ---------------------------------------------------------------------------

// popReturn finishes the current frame with value v. It reports true when
// control goes back to the host.
func (vm *VM) popReturn(v Value) bool {
	f := vm.fiber
	fr := f.popFrame()
	f.closeUpvalues(fr.base)
	f.clearWindow(fr.base, fr.base+fr.size())

	if fr.outloop {
		f.result = v
		f.top = fr.base
		return true
	}

	caller := f.frame()
	if caller == nil {
		// the fiber's root frame returned
		f.result = v
		f.top = 0
		if !f.started.IsZero() {
			f.elapsed += time.Since(f.started)
		}
		next := f.caller
		f.caller = nil
		if next == nil {
			return true
		}
		vm.fiber = next
		next.stack[next.resumeAt] = v
		return false
	}

	f.top = caller.base + caller.size()
	f.stack[caller.base+int(fr.dest)] = v
	return false
}

// halt unwinds to the nearest outloop frame, leaving fibers in between
// finished.
func (vm *VM) halt() bool {
	f := vm.fiber
	for f != nil {
		for len(f.frames) > 0 {
			fr := f.popFrame()
			f.closeUpvalues(fr.base)
			f.clearWindow(fr.base, fr.base+fr.size())
			if fr.outloop {
				f.top = fr.base
				f.result = Null
				vm.fiber = f
				return true
			}
		}
		f.top = 0
		next := f.caller
		f.caller = nil
		f = next
	}
	vm.fiber = vm.main
	vm.main.result = Null
	return true
}

// ---------------------------------------------------------------------------
// Operator dispatch
// ---------------------------------------------------------------------------

// dispatchOperator calls the operator method of vals[0]'s class with the
// result going to register dest. It returns false when execution stops.
func (vm *VM) dispatchOperator(op Operator, dest uint32, vals ...Value) bool {
	c := vm.lookupOperator(vals[0], op)
	if c == nil {
		return vm.throw("Unable to perform operator %s on object", op.Key())
	}
	return vm.dispatch(c, dest, vals...)
}

// dispatch copies vals into the scratch window above the current frame
// and invokes c there.
func (vm *VM) dispatch(c *Closure, dest uint32, vals ...Value) bool {
	f := vm.fiber
	fr := f.frame()
	win := fr.base + fr.size()
	if !f.ensure(win+len(vals)+1, vm.maxStack) {
		vm.stackOverflow()
		return vm.recover()
	}
	copy(f.stack[win:], vals)
	// the scratch window is live while the callee runs
	top := f.top
	if f.top < win+len(vals) {
		f.top = win + len(vals)
	}
	depth := len(f.frames)
	ok := vm.invoke(c, win, len(vals), dest)
	if vm.fiber == f && len(f.frames) == depth {
		f.clearWindow(win, win+len(vals))
		f.top = top
	}
	return ok
}

// callSync runs c to completion with self vals[0] and returns its result.
func (vm *VM) callSync(c *Closure, vals ...Value) (Value, bool) {
	res, err := vm.Call(FromObject(c), vals[0], vals[1:]...)
	if err != nil {
		return Null, false
	}
	return res, true
}

// ---------------------------------------------------------------------------
// CALL
// ---------------------------------------------------------------------------

func (vm *VM) execCall(f *Fiber, fr *CallFrame, w uint32) bool {
	a, b, nargs := decodeA(w), decodeB(w), int(decodeC(w))
	base := fr.base
	rwin := base + int(b) + 1
	callee := f.stack[base+int(b)]

	c := callee.AsClosure()
	if c == nil {
		c = vm.lookupOperator(callee, OperExec)
	}
	if c == nil {
		return vm.throw("Unable to call object (in function %s)", fr.closure.Function.DisplayName())
	}

	need := rwin + regCount(c.Function, nargs) + 1
	if !f.ensure(need, vm.maxStack) {
		vm.stackOverflow()
		return vm.recover()
	}
	st := f.stack
	for nargs < c.Function.NParams {
		st[rwin+nargs] = Undefined
		nargs++
	}
	if nargs == 0 {
		st[rwin] = Null
		nargs = 1
	}

	if callee.IsClass() {
		st[rwin] = callee
	} else if c.Context != nil {
		st[rwin] = FromObject(c.Context)
	}
	return vm.invoke(c, rwin, nargs, a)
}

// ---------------------------------------------------------------------------
// Collections and closures
// ---------------------------------------------------------------------------

func (vm *VM) execSetList(fn *Function, st []Value, base int, w uint32) bool {
	a, b, c := decodeA(w), int(decodeB(w)), decodeC(w)
	target := st[base+int(a)]

	if l := target.AsList(); l != nil {
		if b == 0 {
			src := operand(fn, st, base, c).AsList()
			if src == nil {
				return vm.Errorf("Unable to build List from a non List constant")
			}
			if !vm.checkBlock((len(l.Items) + len(src.Items)) * valueSize) {
				return false
			}
			l.Items = append(l.Items, src.Items...)
			return true
		}
		if !vm.checkBlock((len(l.Items) + b) * valueSize) {
			return false
		}
		start := base + int(a) + 1
		l.Items = append(l.Items, st[start:start+b]...)
		return true
	}

	if m := target.AsMap(); m != nil {
		if b == 0 {
			src := operand(fn, st, base, c).AsMap()
			if src == nil {
				return vm.Errorf("Unable to build Map from a non Map constant")
			}
			src.Table.Iterate(func(k, v Value) bool {
				m.Table.Insert(k, v)
				return true
			})
			return true
		}
		start := base + int(a) + 1
		for i := 0; i < b; i++ {
			k, v := st[start+2*i], st[start+2*i+1]
			if !k.IsString() {
				return vm.Errorf("Unable to build Map from a non String key")
			}
			m.Table.Insert(k, v)
		}
		return true
	}
	return vm.Errorf("Unable to build a collection from a non List or Map object")
}

func (vm *VM) execClosure(f *Fiber, fr *CallFrame, w uint32) bool {
	a, idx := decodeA(w), int(decodeN18(w))
	fn := fr.closure.Function
	var proto *Function
	if idx < len(fn.Constants) {
		proto = fn.Constants[idx].AsFunction()
	}
	if proto == nil {
		return vm.Errorf("Unable to create a closure from a non function object.")
	}

	vm.gcDisable()
	defer vm.gcEnable()

	c := vm.NewClosure(proto)
	self := f.stack[fr.base]
	if self.IsClass() || self.IsInstance() {
		c.Context = self.o
	}
	for i := 0; i < proto.NUpvalues; i++ {
		if fr.ip >= len(fn.Bytecode) {
			return vm.Errorf("Wrong OPCODE in CLOSURE statement")
		}
		uw := fn.Bytecode[fr.ip]
		fr.ip++
		if decodeOp(uw) != OpMOVE {
			return vm.Errorf("Wrong OPCODE in CLOSURE statement")
		}
		p1, p2 := int(decodeA(uw)), decodeN18(uw)
		if p2 != 0 {
			c.Upvalues[i] = vm.captureUpvalue(f, fr.base+p1)
			continue
		}
		if p1 >= len(fr.closure.Upvalues) {
			return vm.Errorf("Wrong OPCODE in CLOSURE statement")
		}
		c.Upvalues[i] = fr.closure.Upvalues[p1]
	}
	f.stack[fr.base+int(a)] = FromObject(c)
	return true
}

// ---------------------------------------------------------------------------
// Fast paths
// ---------------------------------------------------------------------------

// fastBinary evaluates op on scalar operands. handled is false when the
// operands need dispatch; ok is false on division by zero.
func fastBinary(op Opcode, x, y Value) (r Value, handled, ok bool) {
	switch op {
	case OpAND, OpOR:
		if x.IsBool() && y.IsBool() {
			if op == OpAND {
				return FromBool(x.Bool() && y.Bool()), true, true
			}
			return FromBool(x.Bool() || y.Bool()), true, true
		}
		return Null, false, true

	case OpLSHIFT, OpRSHIFT, OpBAND, OpBOR, OpBXOR:
		if x.IsInt() && y.IsInt() {
			i, j := x.Int(), y.Int()
			switch op {
			case OpLSHIFT:
				return FromInt(i << uint64(j)), true, true
			case OpRSHIFT:
				return FromInt(i >> uint64(j)), true, true
			case OpBAND:
				return FromInt(i & j), true, true
			case OpBOR:
				return FromInt(i | j), true, true
			default:
				return FromInt(i ^ j), true, true
			}
		}
		if x.IsBool() && y.IsBool() && op != OpLSHIFT && op != OpRSHIFT {
			i, j := x.Bool(), y.Bool()
			switch op {
			case OpBAND:
				return FromBool(i && j), true, true
			case OpBOR:
				return FromBool(i || j), true, true
			default:
				return FromBool(i != j), true, true
			}
		}
		return Null, false, true
	}

	if x.IsInt() && y.IsInt() {
		i, j := x.Int(), y.Int()
		switch op {
		case OpADD:
			return FromInt(i + j), true, true
		case OpSUB:
			return FromInt(i - j), true, true
		case OpMUL:
			return FromInt(i * j), true, true
		case OpDIV:
			if j == 0 {
				return Null, true, false
			}
			return FromInt(i / j), true, true
		case OpREM:
			if j == 0 {
				return Null, true, false
			}
			return FromInt(i % j), true, true
		}
	}
	if x.IsNumber() && y.IsNumber() {
		i, j := toFloat(x), toFloat(y)
		switch op {
		case OpADD:
			return FromFloat64(i + j), true, true
		case OpSUB:
			return FromFloat64(i - j), true, true
		case OpMUL:
			return FromFloat64(i * j), true, true
		case OpDIV:
			if j == 0 {
				return Null, true, false
			}
			return FromFloat64(i / j), true, true
		case OpREM:
			if j == 0 {
				return Null, true, false
			}
			return FromFloat64(math.Mod(i, j)), true, true
		}
	}
	return Null, false, true
}

func fastUnary(op Opcode, x Value) (Value, bool) {
	switch op {
	case OpNEG:
		if x.IsInt() {
			return FromInt(-x.Int()), true
		}
		if x.IsFloat() {
			return FromFloat64(-x.Float64()), true
		}
	case OpNOT:
		if x.IsBool() {
			return FromBool(!x.Bool()), true
		}
	case OpBNOT:
		if x.IsInt() {
			return FromInt(^x.Int()), true
		}
	}
	return Null, false
}

func toFloat(v Value) float64 {
	if v.IsInt() {
		return float64(v.Int())
	}
	return v.Float64()
}

// compareNumbers orders two numbers as -1, 0 or 1. Floats equal within
// floatEpsilon compare as 0.
func compareNumbers(x, y Value) int64 {
	if x.IsInt() && y.IsInt() {
		switch i, j := x.Int(), y.Int(); {
		case i == j:
			return 0
		case i > j:
			return 1
		}
		return -1
	}
	i, j := toFloat(x), toFloat(y)
	switch {
	case math.Abs(i-j) < floatEpsilon:
		return 0
	case i > j:
		return 1
	}
	return -1
}

// compareResult maps the value returned by an == method to an ordering.
// Bool results mean equal (true) or different (false).
func compareResult(v Value) int64 {
	switch v.kind {
	case KindInt:
		return v.Int()
	case KindBool:
		if v.Bool() {
			return 0
		}
		return 1
	case KindFloat:
		switch f := v.Float64(); {
		case f == 0:
			return 0
		case f > 0:
			return 1
		}
		return -1
	}
	return 1
}

func compareHolds(op Opcode, r int64) bool {
	switch op {
	case OpLT:
		return r < 0
	case OpGT:
		return r > 0
	case OpEQ:
		return r == 0
	case OpLEQ:
		return r <= 0
	case OpGEQ:
		return r >= 0
	}
	return r != 0
}
