package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("atom.vm")

// ---------------------------------------------------------------------------
// VM: the atom virtual machine
// ---------------------------------------------------------------------------

// VM is one isolated runtime. A VM is not safe for concurrent use; run
// separate VMs on separate goroutines instead.
type VM struct {
	delegate *Delegate

	// Heap and collector
	heap     *Heap
	gc       collector
	nextID   uint64
	pinned   map[*Closure]struct{}
	classGen uint64

	// Well-known classes
	core        coreClasses
	coreClasses []*Class
	opKeys      [numOperators]*String

	// Global context
	globals *HashTable

	// Execution state
	main       *Fiber // host fiber for re-entrant calls
	fiber      *Fiber // running fiber
	nccalls    int
	ret        retTarget
	redirect   redirect
	trampoline map[int]*Closure
	unwinding  *Fiber

	// Limits, adjustable through System
	maxCCalls    int
	maxBlock     int
	maxRecursion int
	maxFrames    int
	maxStack     int
	nullSilent   bool

	// Abort and exit state
	aborted  bool
	closed   bool
	lastErr  *RuntimeError
	exiting  bool
	exitCode int
}

type coreClasses struct {
	Object   *Class
	Class    *Class
	Null     *Class
	Bool     *Class
	Int      *Class
	Float    *Class
	String   *Class
	List     *Class
	Map      *Class
	Range    *Class
	Func     *Class
	Closure  *Class
	Fiber    *Class
	Instance *Class
	Upvalue  *Class
	System   *Class
}

// New creates and bootstraps a VM.
func New(opts Options) *VM {
	opts.normalize()

	vm := &VM{
		delegate:     opts.Delegate,
		heap:         newHeap(),
		pinned:       make(map[*Closure]struct{}),
		trampoline:   make(map[int]*Closure),
		maxCCalls:    opts.MaxCCalls,
		maxBlock:     opts.MaxBlock,
		maxRecursion: opts.MaxRecursion,
		maxFrames:    opts.MaxFrames,
		maxStack:     opts.MaxStack,
		nullSilent:   opts.NullSilent,
	}
	if vm.delegate == nil {
		vm.delegate = &Delegate{}
	}
	vm.gc.threshold = opts.GCThreshold
	vm.gc.original = opts.GCThreshold
	vm.gc.minimum = opts.GCMinThreshold
	vm.gc.ratio = opts.GCRatio
	if opts.GCEnabled {
		vm.gc.enabled = 1
	}

	vm.gcDisable()
	vm.bootstrap()
	vm.main = vm.NewFiber(nil)
	vm.main.status = FiberRunning
	vm.fiber = vm.main
	vm.gcEnable()

	vmLog.Debugf("vm ready: %d core classes, gc threshold %d", len(vm.coreClasses), vm.gc.threshold)
	return vm
}

// NewDefault creates a VM with DefaultOptions.
func NewDefault() *VM {
	return New(DefaultOptions())
}

// ---------------------------------------------------------------------------
// Bootstrap: core classes
// ---------------------------------------------------------------------------

func (vm *VM) bootstrap() {
	c := &vm.core
	c.Object = vm.newCorePair("Object")
	c.Class = vm.newCorePair("Class")
	c.Null = vm.newCorePair("Null")
	c.Bool = vm.newCorePair("Bool")
	c.Int = vm.newCorePair("Int")
	c.Float = vm.newCorePair("Float")
	c.String = vm.newCorePair("String")
	c.List = vm.newCorePair("List")
	c.Map = vm.newCorePair("Map")
	c.Range = vm.newCorePair("Range")
	c.Func = vm.newCorePair("Func")
	c.Closure = vm.newCorePair("Closure")
	c.Fiber = vm.newCorePair("Fiber")
	c.Instance = vm.newCorePair("Instance")
	c.Upvalue = vm.newCorePair("Upvalue")
	c.System = vm.newCorePair("System")

	vm.coreClasses = []*Class{
		c.Object, c.Class, c.Null, c.Bool, c.Int, c.Float, c.String, c.List,
		c.Map, c.Range, c.Func, c.Closure, c.Fiber, c.Instance, c.Upvalue, c.System,
	}

	for _, k := range vm.coreClasses {
		k.class = k.meta
		k.meta.class = c.Class
		if k != c.Object {
			vm.setSuper(k, c.Object)
		}
	}
	// the metaclass chain ends in Class
	c.Object.meta.Super = c.Class

	for op := Operator(0); op < numOperators; op++ {
		key := operatorKeys[op]
		s := &String{s: key, hash: hashString(key)}
		s.class = c.String
		vm.assignID(s)
		vm.opKeys[op] = s
	}

	vm.globals = NewHashTable(defaultGlobals)

	vm.initObject()
	vm.initClass()
	vm.initNull()
	vm.initBool()
	vm.initInt()
	vm.initFloat()
	vm.initString()
	vm.initList()
	vm.initMap()
	vm.initRange()
	vm.initFunc()
	vm.initClosure()
	vm.initFiber()
	vm.initSystem()

	for _, k := range vm.coreClasses {
		vm.SetGlobal(k.Name, FromObject(k))
	}
}

// bind installs an internal method on c.
func (vm *VM) bind(c *Class, name string, fn InternalFunc) {
	c.Bind(name, FromObject(vm.NewInternalClosure(name, fn)), vm)
}

// bindProperty installs a computed property backed by internal getter and
// setter functions. Either may be nil.
func (vm *VM) bindProperty(c *Class, name string, get, set InternalFunc) {
	vm.gcDisable()
	defer vm.gcEnable()
	var g, s *Closure
	if get != nil {
		g = vm.NewInternalClosure(name, get)
	}
	if set != nil {
		s = vm.NewInternalClosure(name, set)
	}
	fn := vm.NewSpecial(name, ComputedIndex, g, s)
	c.Bind(name, FromObject(vm.NewClosure(fn)), vm)
}

// BindMethod installs a Go method on c. Static methods go on c.Meta().
func (vm *VM) BindMethod(c *Class, name string, fn InternalFunc) { vm.bind(c, name, fn) }

// BindProperty installs a computed property on c. Either accessor may be
// nil; the getter receives the target as args[0], the setter also gets
// the new value as args[1].
func (vm *VM) BindProperty(c *Class, name string, get, set InternalFunc) {
	vm.bindProperty(c, name, get, set)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close releases every object. The VM is unusable afterwards.
func (vm *VM) Close() {
	if vm.closed {
		return
	}
	vm.closed = true
	vm.heap.each(func(_ uint32, o Object) {
		if inst, ok := o.(*Instance); ok && inst.XData != nil && vm.delegate.BridgeFree != nil {
			vm.delegate.BridgeFree(vm, inst)
		}
	})
	vm.heap.reset()
	vm.globals = NewHashTable(hashDefaultSize)
	vm.pinned = make(map[*Closure]struct{})
	vm.gc.temps = nil
	vm.gc.finalizers = nil
	vm.fiber = nil
	vm.main = nil
	vmLog.Debug("vm closed")
}

// Reset clears an aborted or exited state so the VM can run again.
// Globals and loaded classes survive.
func (vm *VM) Reset() {
	if vm.closed {
		return
	}
	vm.aborted = false
	vm.lastErr = nil
	vm.exiting = false
	vm.exitCode = 0
	vm.unwinding = nil
	vm.redirect = redirect{}
	vm.ret = retTarget{}
	vm.nccalls = 0
	vm.main.reset()
	vm.main.failed = false
	vm.main.err = ""
	vm.main.status = FiberRunning
	vm.fiber = vm.main
	vm.gc.temps = vm.gc.temps[:0]
}

// Aborted reports whether a runtime error stopped the VM.
func (vm *VM) Aborted() bool { return vm.aborted }

// LastError returns the error that aborted the VM, if any.
func (vm *VM) LastError() *RuntimeError { return vm.lastErr }

// Exited reports whether System.exit was called, and with which code.
func (vm *VM) Exited() (bool, int) { return vm.exiting, vm.exitCode }

// Fiber returns the running fiber.
func (vm *VM) Fiber() *Fiber { return vm.fiber }

// MainFiber returns the host fiber.
func (vm *VM) MainFiber() *Fiber { return vm.main }

// Core returns a core class by name, or nil.
func (vm *VM) Core(name string) *Class {
	for _, c := range vm.coreClasses {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// SetGlobal binds name in the global context.
func (vm *VM) SetGlobal(name string, v Value) {
	vm.gcDisable()
	defer vm.gcEnable()
	vm.globals.Insert(vm.StringValue(name), v)
}

// Global looks up name in the global context.
func (vm *VM) Global(name string) (Value, bool) {
	return vm.globals.LookupString(name)
}

// RegisterClass binds c in the global context under its name.
func (vm *VM) RegisterClass(c *Class) {
	vm.SetGlobal(c.Name, FromObject(c))
}

// Globals returns the global table.
func (vm *VM) Globals() *HashTable { return vm.globals }

// ---------------------------------------------------------------------------
// Limits
// ---------------------------------------------------------------------------

// checkBlock reports whether an allocation of n bytes is allowed, raising
// otherwise.
func (vm *VM) checkBlock(n int) bool {
	if n > vm.maxBlock {
		return vm.Errorf("Maximum memory block size reached (max %d, requested %d).", vm.maxBlock, n)
	}
	return true
}

// ---------------------------------------------------------------------------
// String conversion
// ---------------------------------------------------------------------------

// ValueString renders v without dispatching to script code.
func (vm *VM) ValueString(v Value) string {
	var b strings.Builder
	vm.writeValue(&b, v, 0)
	return b.String()
}

func (vm *VM) writeValue(b *strings.Builder, v Value, depth int) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
		return
	case KindUndefined:
		b.WriteString("undefined")
		return
	case KindBool:
		if v.Bool() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return
	case KindInt:
		b.WriteString(strconv.FormatInt(v.Int(), 10))
		return
	case KindFloat:
		b.WriteString(formatFloat(v.Float64()))
		return
	}
	if depth > 8 {
		b.WriteString("...")
		return
	}
	switch x := v.o.(type) {
	case *String:
		if depth > 0 {
			b.WriteString(strconv.Quote(x.s))
		} else {
			b.WriteString(x.s)
		}
	case *List:
		b.WriteByte('[')
		for i, item := range x.Items {
			if i > 0 {
				b.WriteByte(',')
			}
			vm.writeValue(b, item, depth+1)
		}
		b.WriteByte(']')
	case *Map:
		b.WriteByte('[')
		if x.Table.Count() == 0 {
			b.WriteByte(':')
		}
		i := 0
		x.Table.Iterate(func(k, val Value) bool {
			if i > 0 {
				b.WriteByte(',')
			}
			vm.writeValue(b, k, depth+1)
			b.WriteByte(':')
			vm.writeValue(b, val, depth+1)
			i++
			return true
		})
		b.WriteByte(']')
	case *Range:
		fmt.Fprintf(b, "%d...%d", x.From, x.To)
	case *Class:
		b.WriteString(x.Name)
	case *Instance:
		name := x.class.Name
		if x.XData != nil && vm.delegate.BridgeName != nil {
			name = vm.delegate.BridgeName(vm, x.XData)
		}
		b.WriteString("instance of ")
		b.WriteString(name)
	case *Function:
		b.WriteString("func ")
		b.WriteString(x.DisplayName())
	case *Closure:
		b.WriteString("closure ")
		b.WriteString(x.Function.DisplayName())
	case *Fiber:
		b.WriteString("fiber")
	case *Upvalue:
		b.WriteString("upvalue")
	default:
		b.WriteString(objectName(v.o))
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".en") {
		s += ".0"
	}
	return s
}

// Stringify converts v to a Go string, calling a String method bound by
// script classes. It reports false when that call failed.
func (vm *VM) Stringify(v Value) (string, bool) {
	if inst := v.AsInstance(); inst != nil {
		if c := inst.class.LookupClosure("String"); c != nil && !vm.isCoreMethod(c) {
			res, err := vm.RunClosure(c, v)
			if err != nil {
				return "", false
			}
			if s := res.AsString(); s != nil {
				return s.s, true
			}
			return vm.ValueString(res), true
		}
	}
	return vm.ValueString(v), true
}

// isCoreMethod reports whether c is Object's own String conversion.
func (vm *VM) isCoreMethod(c *Closure) bool {
	own, ok := vm.core.Object.htable.LookupString("String")
	return ok && own.AsClosure() == c
}
