package vm

// ---------------------------------------------------------------------------
// Operator protocol
// ---------------------------------------------------------------------------

// Operator identifies a dispatchable method name. Every class caches the
// closure bound to each operator.
type Operator uint8

const (
	OperNotFound Operator = iota
	OperAdd
	OperSub
	OperDiv
	OperMul
	OperRem
	OperAnd
	OperOr
	OperCmp
	OperEqq
	OperIs
	OperMatch
	OperNeg
	OperNot
	OperLShift
	OperRShift
	OperBAnd
	OperBOr
	OperBXor
	OperBNot
	OperLoad
	OperLoads
	OperLoadAt
	OperStore
	OperStoreAt
	OperInt
	OperFloat
	OperBool
	OperString
	OperExec

	numOperators
)

var operatorKeys = [numOperators]string{
	OperNotFound: "notfound",
	OperAdd:      "+",
	OperSub:      "-",
	OperDiv:      "/",
	OperMul:      "*",
	OperRem:      "%",
	OperAnd:      "&&",
	OperOr:       "||",
	OperCmp:      "==",
	OperEqq:      "===",
	OperIs:       "is",
	OperMatch:    "=~",
	OperNeg:      "neg",
	OperNot:      "!",
	OperLShift:   "<<",
	OperRShift:   ">>",
	OperBAnd:     "&",
	OperBOr:      "|",
	OperBXor:     "^",
	OperBNot:     "~",
	OperLoad:     "load",
	OperLoads:    "loads",
	OperLoadAt:   "loadat",
	OperStore:    "store",
	OperStoreAt:  "storeat",
	OperInt:      "Int",
	OperFloat:    "Float",
	OperBool:     "Bool",
	OperString:   "String",
	OperExec:     "exec",
}

// Key returns the method name of the operator.
func (op Operator) Key() string { return operatorKeys[op] }

func (op Operator) String() string { return operatorKeys[op] }

// binaryOperator maps arithmetic and bit opcodes to operators.
var binaryOperator = map[Opcode]Operator{
	OpADD:    OperAdd,
	OpSUB:    OperSub,
	OpDIV:    OperDiv,
	OpMUL:    OperMul,
	OpREM:    OperRem,
	OpAND:    OperAnd,
	OpOR:     OperOr,
	OpLSHIFT: OperLShift,
	OpRSHIFT: OperRShift,
	OpBAND:   OperBAnd,
	OpBOR:    OperBOr,
	OpBXOR:   OperBXor,
	OpNEG:    OperNeg,
	OpNOT:    OperNot,
	OpBNOT:   OperBNot,
}

// ClassOf returns the runtime class of v. A Class value reports its
// metaclass; a metaclass reports the core Class class.
func (vm *VM) ClassOf(v Value) *Class {
	switch v.kind {
	case KindNull, KindUndefined:
		return vm.core.Null
	case KindBool:
		return vm.core.Bool
	case KindInt:
		return vm.core.Int
	case KindFloat:
		return vm.core.Float
	}
	return v.o.header().class
}

// lookupOperator returns the closure bound to op for v's class.
func (vm *VM) lookupOperator(v Value, op Operator) *Closure {
	return vm.ClassOf(v).operator(op)
}

// keyName renders a lookup key for error messages.
func (vm *VM) keyName(key Value) string {
	if s := key.AsString(); s != nil {
		return s.s
	}
	return vm.ValueString(key)
}

// ---------------------------------------------------------------------------
// Redirect
// ---------------------------------------------------------------------------

type redirect struct {
	closure *Closure
	args    []Value
	set     bool
}

// Redirect asks the interpreter to run c in place of the current internal
// callee, reusing its register window and destination. When args is
// empty the current window (self first) is passed unchanged. It always
// returns false, which the internal hands back.
func (vm *VM) Redirect(c *Closure, args ...Value) bool {
	vm.redirect = redirect{closure: c, args: args, set: true}
	return false
}

func (vm *VM) takeRedirect() (redirect, bool) {
	r := vm.redirect
	if !r.set {
		return r, false
	}
	vm.redirect = redirect{}
	return r, true
}

// ---------------------------------------------------------------------------
// Host ABI helpers
// ---------------------------------------------------------------------------

// Return stores v in register dest of the frame that invoked the current
// internal function and reports success.
func (vm *VM) Return(dest uint32, v Value) bool {
	f := vm.ret.fiber
	if f == nil {
		return true
	}
	i := vm.ret.base + int(dest)
	if i >= 0 && i < len(f.stack) {
		f.stack[i] = v
	}
	return true
}

// ReturnNull is Return(dest, Null).
func (vm *VM) ReturnNull(dest uint32) bool { return vm.Return(dest, Null) }

// ReturnUndefined is Return(dest, Undefined).
func (vm *VM) ReturnUndefined(dest uint32) bool { return vm.Return(dest, Undefined) }

// retTarget records where Return writes for the running internal.
type retTarget struct {
	fiber *Fiber
	base  int
}
