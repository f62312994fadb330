package vm

import (
	"fmt"
	"strings"

	"fortio.org/safecast"
	"github.com/chazu/atom/artifact"
	"github.com/tliron/commonlog"
)

var loaderLog = commonlog.GetLogger("atom.loader")

// ---------------------------------------------------------------------------
// Loader: artifact.Unit to live objects
// ---------------------------------------------------------------------------

// loader turns plain artifact data into heap objects. Superclass names are
// collected while building and resolved once every class exists.
type loader struct {
	vm      *VM
	classes map[string]*Class
	pending []pendingSuper
	funcs   []*Function
}

type pendingSuper struct {
	class *Class
	super string
}

// Load builds the unit's objects. Named top-level objects become
// globals; the returned closure wraps the unit's $moduleinit
// function, or is nil when the unit has none. The collector is off for the
// whole load.
func (vm *VM) Load(u *artifact.Unit) (*Closure, error) {
	if vm.closed {
		return nil, ErrAborted
	}
	if u == nil {
		return nil, fmt.Errorf("vm: load: %w", artifact.ErrMalformed)
	}
	vm.gcDisable()
	defer vm.gcEnable()

	l := &loader{vm: vm, classes: make(map[string]*Class)}
	var entry *Closure
	for i := range u.Objects {
		obj := &u.Objects[i]
		v, err := l.object(obj)
		if err != nil {
			return nil, err
		}
		switch {
		case v.IsClosure():
			c := v.AsClosure()
			if c.Function.Name == artifact.InitModuleName {
				entry = c
				continue
			}
			if !c.Function.IsAnonymous() {
				vm.SetGlobal(c.Function.Name, v)
			}
		case v.IsClass():
			vm.RegisterClass(v.AsClass())
		default:
			if name := obj.Name(); name != "" {
				vm.SetGlobal(name, v)
			}
		}
		loaderLog.Debugf("loaded %s %s", obj.Type, obj.Name())
	}
	if err := l.resolveSupers(); err != nil {
		return nil, err
	}
	return entry, nil
}

// LoadJSON decodes a JSON executable and loads it.
func (vm *VM) LoadJSON(data []byte) (*Closure, error) {
	u, err := artifact.DecodeJSON(data)
	if err != nil {
		return nil, &RuntimeError{Kind: ErrorCompile, Message: "Unable to parse JSON executable file.", wrapped: err}
	}
	return vm.Load(u)
}

// RunMain runs a unit's entry closure, then the global main function if
// the unit defined one, returning main's result.
func (vm *VM) RunMain(entry *Closure) (Value, error) {
	res := Null
	if entry != nil {
		v, err := vm.RunClosure(entry, Null)
		if err != nil {
			return Null, err
		}
		res = v
	}
	mv, ok := vm.Global("main")
	if !ok || !mv.IsClosure() {
		return res, nil
	}
	return vm.RunClosure(mv.AsClosure(), Null)
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

func (l *loader) object(o *artifact.Object) (Value, error) {
	switch {
	case o.Function != nil:
		f, err := l.function(o.Function)
		if err != nil {
			return Null, err
		}
		return FromObject(l.vm.NewClosure(f)), nil
	case o.Class != nil:
		c, err := l.class(o.Class)
		if err != nil {
			return Null, err
		}
		return FromObject(c), nil
	case o.Map != nil:
		return l.literalMap(o.Map)
	case o.Range != nil:
		return FromObject(l.vm.NewRange(o.Range.From, o.Range.To, true)), nil
	}
	return Null, fmt.Errorf("vm: load: %w: %s", artifact.ErrUnknownType, o.Type)
}

func (l *loader) function(af *artifact.Function) (*Function, error) {
	vm := l.vm
	switch af.Tag {
	case artifact.TagSpecial:
		return l.special(af)
	case artifact.TagInternal, artifact.TagBridged:
		// host functions are bound by the embedder; keep a bridged stub
		f := vm.NewBridged(af.Name, nil)
		f.NParams = int(af.NParams)
		return f, nil
	}

	f := vm.NewFunction(af.Name, int(af.NParams), int(af.NLocals), int(af.NTemps))
	f.NUpvalues = int(af.NUpvalues)
	f.UseArgs = af.UseArgs
	f.Purity = af.Purity
	f.Bytecode = append([]uint32(nil), af.Bytecode...)
	f.Lines = append([]uint32(nil), af.Lines...)
	f.ParamNames = append([]string(nil), af.ParamNames...)
	if n := f.frameSize(); n > 0xFF+1 {
		return nil, fmt.Errorf("vm: load %s: %w: %d registers", f.DisplayName(), artifact.ErrMalformed, n)
	}
	l.funcs = append(l.funcs, f)

	f.Constants = make([]Value, 0, len(af.Constants))
	for i := range af.Constants {
		v, err := l.constant(&af.Constants[i])
		if err != nil {
			return nil, fmt.Errorf("vm: load %s constant %d: %w", f.DisplayName(), i, err)
		}
		f.Constants = append(f.Constants, v)
	}
	if len(af.ParamDefaults) > 0 {
		f.ParamDefaults = make([]Value, len(af.ParamDefaults))
		for i := range af.ParamDefaults {
			v, err := l.constant(&af.ParamDefaults[i])
			if err != nil {
				return nil, err
			}
			f.ParamDefaults[i] = v
		}
	}
	return f, nil
}

// special builds a property accessor. Accessor functions make the
// property computed; otherwise Index names the ivar slot.
func (l *loader) special(af *artifact.Function) (*Function, error) {
	var get, set *Closure
	for _, acc := range []struct {
		src *artifact.Function
		dst **Closure
	}{{af.Getter, &get}, {af.Setter, &set}} {
		if acc.src == nil {
			continue
		}
		f, err := l.function(acc.src)
		if err != nil {
			return nil, err
		}
		*acc.dst = l.vm.NewClosure(f)
	}
	index := ComputedIndex
	if get == nil && set == nil {
		n, err := safecast.Conv[int](af.Index)
		if err != nil || n >= ComputedIndex {
			return nil, fmt.Errorf("vm: load %s: %w: ivar index %d", af.Name, artifact.ErrMalformed, af.Index)
		}
		index = n
	}
	return l.vm.NewSpecial(af.Name, index, get, set), nil
}

func (l *loader) class(ac *artifact.Class) (*Class, error) {
	vm := l.vm
	nivar, err := safecast.Conv[int](ac.NIvar)
	if err != nil {
		return nil, fmt.Errorf("vm: load class %s: %w", ac.Name, err)
	}
	nsvar, err := safecast.Conv[int](ac.NSvar)
	if err != nil {
		return nil, fmt.Errorf("vm: load class %s: %w", ac.Name, err)
	}

	c := vm.NewClass(ac.Name, nil, nivar, nsvar)
	c.SetStruct(ac.Struct)
	if _, dup := l.classes[ac.Name]; !dup {
		l.classes[ac.Name] = c
	}
	if ac.Super != "" {
		l.pending = append(l.pending, pendingSuper{class: c, super: ac.Super})
	}

	if err := l.members(c, ac.Members); err != nil {
		return nil, fmt.Errorf("vm: load class %s: %w", ac.Name, err)
	}
	if err := l.members(c.meta, ac.Meta); err != nil {
		return nil, fmt.Errorf("vm: load class %s meta: %w", ac.Name, err)
	}
	return c, nil
}

func (l *loader) members(c *Class, objs []artifact.Object) error {
	for i := range objs {
		o := &objs[i]
		v, err := l.object(o)
		if err != nil {
			return err
		}
		name := o.Name()
		if name == "" {
			continue
		}
		c.Bind(name, v, l.vm)
	}
	return nil
}

func (l *loader) literalMap(am *artifact.Map) (Value, error) {
	vm := l.vm
	m := vm.NewMap(len(am.Entries))
	for i := range am.Entries {
		e := &am.Entries[i]
		v, err := l.constant(&e.Value)
		if err != nil {
			return Null, err
		}
		m.Table.Insert(vm.StringValue(e.Key), v)
	}
	return FromObject(m), nil
}

// constant converts a pool entry. Nested functions stay bare Functions,
// which CLOSURE wraps at run time.
func (l *loader) constant(c *artifact.Constant) (Value, error) {
	vm := l.vm
	switch c.Kind {
	case artifact.ConstNull:
		return Null, nil
	case artifact.ConstUndefined:
		return Undefined, nil
	case artifact.ConstBool:
		return FromBool(c.Bool), nil
	case artifact.ConstInt:
		return FromInt(c.Int), nil
	case artifact.ConstFloat:
		return FromFloat64(c.Float), nil
	case artifact.ConstString:
		return vm.StringValue(c.String), nil
	case artifact.ConstList:
		items := make([]Value, 0, len(c.List))
		for i := range c.List {
			v, err := l.constant(&c.List[i])
			if err != nil {
				return Null, err
			}
			items = append(items, v)
		}
		return FromObject(vm.NewListFrom(items)), nil
	case artifact.ConstObject:
		if c.Object == nil {
			return Null, nil
		}
		if c.Object.Function != nil {
			f, err := l.function(c.Object.Function)
			if err != nil {
				return Null, err
			}
			return FromObject(f), nil
		}
		return l.object(c.Object)
	}
	return Null, fmt.Errorf("%w: constant kind %d", artifact.ErrMalformed, c.Kind)
}

// ---------------------------------------------------------------------------
// Superclasses
// ---------------------------------------------------------------------------

// resolveSupers links every class that named a superclass. Loaded classes
// win over globals. A superclass is linked before its subclasses so
// inherited slot counts are final when they are added.
func (l *loader) resolveSupers() error {
	byClass := make(map[*Class]string, len(l.pending))
	for _, p := range l.pending {
		byClass[p.class] = p.super
	}
	done := make(map[*Class]bool, len(l.pending))

	var link func(c *Class, depth int) error
	link = func(c *Class, depth int) error {
		name, ok := byClass[c]
		if !ok || done[c] {
			return nil
		}
		if depth > len(byClass) {
			return fmt.Errorf("vm: load: %w: superclass cycle at %s", artifact.ErrMalformed, c.Name)
		}
		super := l.lookupClass(name)
		if super == nil {
			return &RuntimeError{
				Kind:    ErrorCompile,
				Message: fmt.Sprintf("Unable to find superclass %s of class %s.", name, c.Name),
			}
		}
		if err := link(super, depth+1); err != nil {
			return err
		}
		done[c] = true
		l.vm.setSuper(c, super)
		c.Ivars = append(c.Ivars, newNullSlots(c.meta.NIvars-len(c.Ivars))...)
		loaderLog.Debugf("class %s inherits from %s", c.Name, super.Name)
		return nil
	}

	for _, p := range l.pending {
		if err := link(p.class, 0); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) lookupClass(name string) *Class {
	if c, ok := l.classes[name]; ok {
		return c
	}
	v, _ := l.vm.Global(name)
	return v.AsClass()
}

// ---------------------------------------------------------------------------
// Disassembly of whole units
// ---------------------------------------------------------------------------

// DisassembleUnit loads u into the VM and renders every bytecode function
// it contains, nested ones included.
func (vm *VM) DisassembleUnit(u *artifact.Unit) (string, error) {
	vm.gcDisable()
	defer vm.gcEnable()

	l := &loader{vm: vm, classes: make(map[string]*Class)}
	for i := range u.Objects {
		if _, err := l.object(&u.Objects[i]); err != nil {
			return "", err
		}
	}
	var b strings.Builder
	for i, f := range l.funcs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(vm.Disassemble(f))
	}
	return b.String(), nil
}
