package vm

// ---------------------------------------------------------------------------
// Class: class/metaclass pair with a member table
// ---------------------------------------------------------------------------

// Class holds methods and properties. Every class has a metaclass that
// holds its static members; the metaclass chain mirrors the class chain and
// the root metaclass inherits from the core Class class.
type Class struct {
	objHeader

	Name  string
	Super *Class

	superLook string // unresolved superclass name, resolved on first exec
	meta      *Class
	isMeta    bool

	NIvars int     // instance slots, inherited slots included
	Ivars  []Value // static storage when the class itself is the target

	htable   *HashTable
	XData    any
	isStruct bool
	isInited bool
	anon     bool // per-instance subclass created by bind

	// operator vtable, valid while cacheGen == *gen
	cache    [numOperators]opEntry
	cacheGen uint64
	gen      *uint64
}

type opEntry struct {
	closure *Closure
	done    bool
}

// Meta returns the metaclass, or nil for a metaclass.
func (c *Class) Meta() *Class { return c.meta }

// IsMeta reports whether c is a metaclass.
func (c *Class) IsMeta() bool { return c.isMeta }

// IsStruct reports whether instances have value semantics.
func (c *Class) IsStruct() bool { return c.isStruct }

// SetStruct toggles value semantics for instances of c.
func (c *Class) SetStruct(on bool) { c.isStruct = on }

// Table exposes the member table.
func (c *Class) Table() *HashTable { return c.htable }

// SuperLook returns the unresolved superclass name, if any.
func (c *Class) SuperLook() string { return c.superLook }

// SetSuperLook defers superclass resolution until the class is executed.
func (c *Class) SetSuperLook(name string) { c.superLook = name }

func (c *Class) String() string { return c.Name }

// newClassSingle creates one half of a pair.
func (vm *VM) newClassSingle(name string, nivar int, meta bool) *Class {
	c := &Class{
		Name:   name,
		NIvars: nivar,
		isMeta: meta,
		htable: NewHashTable(hashDefaultSize),
		gen:    &vm.classGen,
	}
	return c
}

// NewClass creates a class/metaclass pair. nivar is the number of instance
// slots declared by this class, nsvar the number of static slots. A nil
// super defaults to Object.
func (vm *VM) NewClass(name string, super *Class, nivar, nsvar int) *Class {
	vm.gcDisable()
	defer vm.gcEnable()

	meta := vm.newClassSingle(name+" meta", nsvar, true)
	c := vm.newClassSingle(name, nivar, false)
	c.meta = meta
	vm.track(meta, vm.core.Class)
	vm.track(c, meta)

	if super == nil {
		super = vm.core.Object
	}
	vm.setSuper(c, super)
	c.Ivars = newNullSlots(meta.NIvars)
	return c
}

// newCorePair is NewClass without heap tracking, used during bootstrap.
func (vm *VM) newCorePair(name string) *Class {
	meta := vm.newClassSingle(name+" meta", 0, true)
	c := vm.newClassSingle(name, 0, false)
	c.meta = meta
	vm.assignID(meta)
	vm.assignID(c)
	return c
}

// setSuper links c under super and keeps the metaclass chain consistent.
// Instance slot counts accumulate along the chain.
func (vm *VM) setSuper(c, super *Class) {
	c.Super = super
	if super == nil {
		return
	}
	c.NIvars += super.NIvars
	if c.meta != nil && super.meta != nil {
		c.meta.Super = super.meta
		c.meta.NIvars += super.meta.NIvars
	}
	vm.classGen++
}

// Bind stores a member under key.
func (c *Class) Bind(key string, v Value, vm *VM) {
	vm.gcDisable()
	defer vm.gcEnable()
	c.htable.Insert(vm.StringValue(key), v)
	*c.gen++
}

// BindValue stores a member under an arbitrary key value.
func (c *Class) BindValue(key, v Value) {
	c.htable.Insert(key, v)
	*c.gen++
}

// Unbind removes a member from c only.
func (c *Class) Unbind(key Value) bool {
	ok := c.htable.Remove(key)
	if ok {
		*c.gen++
	}
	return ok
}

// Lookup searches c and its superclasses for key.
func (c *Class) Lookup(key Value) (Value, bool) {
	for k := c; k != nil; k = k.Super {
		if v, ok := k.htable.Lookup(key); ok {
			return v, true
		}
	}
	return Null, false
}

// LookupString is Lookup by Go string.
func (c *Class) LookupString(key string) (Value, bool) {
	for k := c; k != nil; k = k.Super {
		if v, ok := k.htable.LookupString(key); ok {
			return v, true
		}
	}
	return Null, false
}

// LookupClosure returns the closure bound to key, or nil.
func (c *Class) LookupClosure(key string) *Closure {
	v, ok := c.LookupString(key)
	if !ok {
		return nil
	}
	return v.AsClosure()
}

// IsSubclassOf returns true if c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
	}
	return false
}

// Depth returns the number of superclasses.
func (c *Class) Depth() int {
	n := 0
	for k := c.Super; k != nil; k = k.Super {
		n++
	}
	return n
}

// operator returns the cached closure for op, walking the hierarchy on a
// miss. Negative lookups are cached too.
func (c *Class) operator(op Operator) *Closure {
	if c.cacheGen != *c.gen {
		c.cache = [numOperators]opEntry{}
		c.cacheGen = *c.gen
	}
	e := &c.cache[op]
	if !e.done {
		e.closure = c.LookupClosure(op.Key())
		e.done = true
	}
	return e.closure
}

func (c *Class) Trace(t *Tracer) {
	if c.meta != nil {
		t.Mark(c.meta)
	}
	if c.Super != nil {
		t.Mark(c.Super)
	}
	c.htable.Iterate(func(k, v Value) bool {
		t.MarkValue(k)
		t.MarkValue(v)
		return true
	})
	for _, v := range c.Ivars {
		t.MarkValue(v)
	}
}

func (c *Class) Size() int {
	return headerSize + 200 + len(c.Name) + c.htable.Size() + len(c.Ivars)*valueSize
}

// ---------------------------------------------------------------------------
// Instance
// ---------------------------------------------------------------------------

// Instance is an object of a user class.
type Instance struct {
	objHeader
	Ivars []Value
	XData any // host payload for bridged classes

	finalized bool // deinit already queued; the next sweep frees it
}

func (i *Instance) Trace(t *Tracer) {
	for _, v := range i.Ivars {
		t.MarkValue(v)
	}
}

func (i *Instance) Size() int { return headerSize + 40 + len(i.Ivars)*valueSize }

// NewInstance allocates an instance of c with Null slots.
func (vm *VM) NewInstance(c *Class) *Instance {
	inst := &Instance{Ivars: newNullSlots(c.NIvars)}
	vm.track(inst, c)
	return inst
}

// cloneInstance copies a struct instance.
func (vm *VM) cloneInstance(src *Instance) *Instance {
	inst := &Instance{Ivars: append([]Value(nil), src.Ivars...), XData: src.XData}
	vm.track(inst, src.class)
	return inst
}

func newNullSlots(n int) []Value {
	if n <= 0 {
		return nil
	}
	s := make([]Value, n)
	for i := range s {
		s[i] = Null
	}
	return s
}
