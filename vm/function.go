package vm

import "strings"

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

// ExecTag selects how a Function is executed.
type ExecTag uint8

const (
	ExecNative   ExecTag = iota // bytecode run by the interpreter
	ExecInternal                // Go callback
	ExecBridged                 // delegated to the host bridge
	ExecSpecial                 // property accessor (getter/setter pair or ivar index)
)

var execTagNames = [...]string{"native", "internal", "bridged", "special"}

func (t ExecTag) String() string {
	if int(t) < len(execTagNames) {
		return execTagNames[t]
	}
	return "unknown"
}

// ComputedIndex marks a Special function whose accessors are closures
// rather than an ivar slot.
const ComputedIndex = 0xFFFE

// InternalFunc is a native Go method. args[0] is self. dest is the
// register that receives the result; the callback stores it with
// vm.Return. Returning false signals that an error was raised or that the
// callback redirected execution (vm.Redirect); the interpreter then stops
// treating the call as completed.
type InternalFunc func(vm *VM, args []Value, dest uint32) bool

// Function is a compiled or native callable.
type Function struct {
	objHeader

	Name      string
	Tag       ExecTag
	NParams   int // includes self
	NLocals   int
	NTemps    int
	NUpvalues int
	UseArgs   bool // function reads the implicit arguments list
	Purity    float64

	// ExecNative
	Bytecode      []uint32
	Lines         []uint32
	Constants     []Value
	ParamNames    []string
	ParamDefaults []Value

	// ExecInternal
	Internal InternalFunc

	// ExecBridged
	XData any

	// ExecSpecial
	Index  int
	Getter *Closure
	Setter *Closure
}

// DisplayName returns the function name, or "$anon" for anonymous ones.
func (f *Function) DisplayName() string {
	if f.Name == "" {
		return "$anon"
	}
	return f.Name
}

// IsAnonymous reports whether the function has no declared name.
func (f *Function) IsAnonymous() bool {
	return f.Name == "" || strings.HasPrefix(f.Name, "$anon")
}

// LineAt returns the source line recorded for instruction index ip.
func (f *Function) LineAt(ip int) uint32 {
	if ip < 0 || ip >= len(f.Lines) {
		return 0
	}
	return f.Lines[ip]
}

// IsDefaultAccessor reports whether f is a Special ivar accessor with no
// getter closure.
func (f *Function) IsDefaultAccessor() bool {
	return f.Tag == ExecSpecial && f.Getter == nil && f.Index < ComputedIndex
}

// frameSize is the number of registers a Native frame needs.
func (f *Function) frameSize() int {
	return f.NParams + f.NLocals + f.NTemps
}

func (f *Function) Trace(t *Tracer) {
	for _, v := range f.Constants {
		t.MarkValue(v)
	}
	for _, v := range f.ParamDefaults {
		t.MarkValue(v)
	}
	if f.Getter != nil {
		t.Mark(f.Getter)
	}
	if f.Setter != nil {
		t.Mark(f.Setter)
	}
}

func (f *Function) Size() int {
	n := headerSize + 160 + len(f.Name)
	n += len(f.Bytecode)*4 + len(f.Lines)*4
	n += (len(f.Constants) + len(f.ParamDefaults)) * valueSize
	for _, p := range f.ParamNames {
		n += 16 + len(p)
	}
	return n
}

// NewFunction allocates an empty Native function.
func (vm *VM) NewFunction(name string, nparams, nlocals, ntemps int) *Function {
	f := &Function{Name: name, Tag: ExecNative, NParams: nparams, NLocals: nlocals, NTemps: ntemps}
	vm.track(f, vm.core.Func)
	return f
}

// NewInternal allocates a Function backed by a Go callback.
func (vm *VM) NewInternal(name string, fn InternalFunc) *Function {
	f := &Function{Name: name, Tag: ExecInternal, Internal: fn}
	vm.track(f, vm.core.Func)
	return f
}

// NewBridged allocates a Function executed by the host bridge.
func (vm *VM) NewBridged(name string, xdata any) *Function {
	f := &Function{Name: name, Tag: ExecBridged, XData: xdata}
	vm.track(f, vm.core.Func)
	return f
}

// NewSpecial allocates a property accessor. A negative index with nil
// closures is invalid; callers pass ComputedIndex for computed properties.
func (vm *VM) NewSpecial(name string, index int, getter, setter *Closure) *Function {
	f := &Function{Name: name, Tag: ExecSpecial, Index: index, Getter: getter, Setter: setter}
	vm.track(f, vm.core.Func)
	return f
}

// ---------------------------------------------------------------------------
// Closure
// ---------------------------------------------------------------------------

// Closure is a Function plus captured upvalues and an optional bound self.
type Closure struct {
	objHeader
	Function *Function
	Upvalues []*Upvalue
	Context  Object // bound self, nil when unbound

	refcount int // host pins; a pinned closure is a GC root
}

func (c *Closure) Trace(t *Tracer) {
	t.Mark(c.Function)
	for _, up := range c.Upvalues {
		if up != nil {
			t.Mark(up)
		}
	}
	if c.Context != nil {
		t.Mark(c.Context)
	}
}

func (c *Closure) Size() int { return headerSize + 56 + len(c.Upvalues)*8 }

// NewClosure wraps f with room for its declared upvalues.
func (vm *VM) NewClosure(f *Function) *Closure {
	c := &Closure{Function: f}
	if f.NUpvalues > 0 {
		c.Upvalues = make([]*Upvalue, f.NUpvalues)
	}
	vm.track(c, vm.core.Closure)
	return c
}

// NewInternalClosure is shorthand for NewClosure(NewInternal(name, fn)).
func (vm *VM) NewInternalClosure(name string, fn InternalFunc) *Closure {
	vm.gcDisable()
	defer vm.gcEnable()
	return vm.NewClosure(vm.NewInternal(name, fn))
}

// ---------------------------------------------------------------------------
// Upvalue
// ---------------------------------------------------------------------------

// Upvalue is a captured variable. While open it aliases a fiber stack slot;
// once closed it owns the value.
type Upvalue struct {
	objHeader
	ptr    *Value // points at stack[index] while open, at closed afterwards
	index  int    // absolute stack slot while open
	open   bool
	closed Value
	next   *Upvalue // open list, descending index
}

// Get returns the current value.
func (u *Upvalue) Get() Value { return *u.ptr }

// Set stores through the upvalue.
func (u *Upvalue) Set(v Value) { *u.ptr = v }

// IsOpen reports whether the upvalue still aliases the stack.
func (u *Upvalue) IsOpen() bool { return u.open }

func (u *Upvalue) close() {
	u.closed = *u.ptr
	u.ptr = &u.closed
	u.open = false
}

func (u *Upvalue) Trace(t *Tracer) {
	t.MarkValue(*u.ptr)
}

func (u *Upvalue) Size() int { return headerSize + 64 }
