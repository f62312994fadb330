package vm

import "strconv"

// ---------------------------------------------------------------------------
// Helpers shared by the core classes
// ---------------------------------------------------------------------------

// argAt returns args[i], or Undefined when fewer arguments were passed.
func argAt(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

// ivarSlots returns the slot storage addressed by an ivar index: instance
// slots for an instance, static slots for a class.
func ivarSlots(target Value) []Value {
	switch x := target.o.(type) {
	case *Instance:
		return x.Ivars
	case *Class:
		return x.Ivars
	}
	return nil
}

// isCoreClass reports whether c (or the class owning metaclass c) is one
// of the bootstrap classes.
func (vm *VM) isCoreClass(c *Class) bool {
	for _, k := range vm.coreClasses {
		if k == c || k.meta == c {
			return true
		}
	}
	return false
}

// initMeta runs the static initializer of c once, before the first static
// member access.
func (vm *VM) initMeta(c *Class) bool {
	meta := c.meta
	if meta == nil || meta.isInited {
		return true
	}
	meta.isInited = true
	v, ok := meta.htable.LookupString("init")
	if !ok {
		return true
	}
	init := v.AsClosure()
	if init == nil {
		return true
	}
	_, err := vm.Call(FromObject(init), FromObject(c))
	return err == nil
}

// notFound hands a failed member lookup to the class's notfound method.
func (vm *VM) notFound(c *Class, target, key Value) bool {
	nf := c.operator(OperNotFound)
	if nf == nil {
		return vm.Errorf("Unable to find %s into class %s", keyOrNA(key), c.Name)
	}
	return vm.Redirect(nf, target, key)
}

func keyOrNA(key Value) string {
	if s := key.AsString(); s != nil {
		return s.s
	}
	return "N/A"
}

// ValueEquals is Equals extended with the bridge equality callback for two
// host-backed instances.
func (vm *VM) ValueEquals(a, b Value) bool {
	x, y := a.AsInstance(), b.AsInstance()
	if x != nil && y != nil && x.XData != nil && y.XData != nil && vm.delegate.BridgeEquals != nil {
		return vm.delegate.BridgeEquals(vm, x.XData, y.XData)
	}
	return Equals(a, b)
}

// convertVia calls the conversion method op of v's class when a script
// class overrides it. found is false when only Object's version applies.
func (vm *VM) convertVia(v Value, op Operator) (res Value, found, ok bool) {
	c := vm.lookupOperator(v, op)
	if c == nil || c == vm.core.Object.operator(op) {
		return Null, false, true
	}
	r, err := vm.Call(FromObject(c), v)
	if err != nil {
		return Null, true, false
	}
	return r, true, true
}

// convertInt implements Int(v).
func (vm *VM) convertInt(v Value) (Value, bool) {
	switch v.kind {
	case KindInt:
		return v, true
	case KindFloat:
		return FromInt(int64(v.Float64())), true
	case KindBool:
		return FromInt(int64(v.n)), true
	case KindNull, KindUndefined:
		return FromInt(0), true
	}
	if s := v.AsString(); s != nil {
		return parseNumber(s.s, numberInt), true
	}
	res, found, ok := vm.convertVia(v, OperInt)
	if !found || !ok {
		return Null, false
	}
	return res, true
}

// convertFloat implements Float(v).
func (vm *VM) convertFloat(v Value) (Value, bool) {
	switch v.kind {
	case KindFloat:
		return v, true
	case KindInt, KindBool:
		return FromFloat64(float64(int64(v.n))), true
	case KindNull, KindUndefined:
		return FromFloat64(0), true
	}
	if s := v.AsString(); s != nil {
		return parseNumber(s.s, numberFloat), true
	}
	res, found, ok := vm.convertVia(v, OperFloat)
	if !found || !ok {
		return Null, false
	}
	return res, true
}

// convertBool implements Bool(v). Objects without a Bool method are true.
func (vm *VM) convertBool(v Value) (Value, bool) {
	switch v.kind {
	case KindBool:
		return v, true
	case KindInt:
		return FromBool(v.Int() != 0), true
	case KindFloat:
		return FromBool(v.Float64() != 0), true
	case KindNull, KindUndefined:
		return False, true
	}
	if s := v.AsString(); s != nil {
		return FromBool(s.s != "" && s.s != "false"), true
	}
	res, found, ok := vm.convertVia(v, OperBool)
	if !ok {
		return Null, false
	}
	if !found {
		return True, true
	}
	return res, true
}

// convertString implements String(v).
func (vm *VM) convertString(v Value) (Value, bool) {
	if v.IsString() {
		return v, true
	}
	s, ok := vm.Stringify(v)
	if !ok {
		return Null, false
	}
	return vm.StringValue(s), true
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

func (vm *VM) initObject() {
	o := vm.core.Object
	vm.bindProperty(o, "class", objectClass, nil)
	vm.bindProperty(o, "meta", objectMeta, nil)
	vm.bind(o, OperIs.Key(), objectIs)
	vm.bind(o, OperCmp.Key(), objectCmp)
	vm.bind(o, OperEqq.Key(), objectEqq)
	vm.bind(o, "!==", objectNeqq)
	vm.bind(o, OperInt.Key(), objectInt)
	vm.bind(o, OperFloat.Key(), objectFloat)
	vm.bind(o, OperBool.Key(), objectBool)
	vm.bind(o, OperString.Key(), objectString)
	vm.bind(o, OperLoad.Key(), objectLoad)
	vm.bind(o, OperStore.Key(), objectStore)
	vm.bind(o, OperNotFound.Key(), objectNotFound)
	vm.bind(o, OperNot.Key(), objectNot)
	vm.bind(o, OperExec.Key(), objectExec)
	vm.bind(o, "_size", objectSize)
	vm.bind(o, "bind", objectBind)
	vm.bind(o, "unbind", objectUnbind)
	vm.bind(o, "clone", objectClone)
	vm.bind(o, "respondTo", objectRespondTo)
	vm.bind(o, "methods", func(vm *VM, args []Value, dest uint32) bool {
		return objectIntrospect(vm, args, dest, introspectMethods)
	})
	vm.bind(o, "properties", func(vm *VM, args []Value, dest uint32) bool {
		return objectIntrospect(vm, args, dest, introspectProperties)
	})
	vm.bind(o, "introspection", func(vm *VM, args []Value, dest uint32) bool {
		return objectIntrospect(vm, args, dest, introspectAll)
	})
}

func objectClass(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, FromObject(vm.ClassOf(args[0])))
}

func objectMeta(vm *VM, args []Value, dest uint32) bool {
	m := vm.ClassOf(args[0]).meta
	if m == nil {
		return vm.ReturnNull(dest)
	}
	return vm.Return(dest, FromObject(m))
}

func objectIs(vm *VM, args []Value, dest uint32) bool {
	other := argAt(args, 1).AsClass()
	if other == nil {
		return vm.Return(dest, False)
	}
	return vm.Return(dest, FromBool(vm.ClassOf(args[0]).IsSubclassOf(other)))
}

func objectCmp(vm *VM, args []Value, dest uint32) bool {
	if vm.ValueEquals(args[0], argAt(args, 1)) {
		return vm.Return(dest, FromInt(0))
	}
	return vm.Return(dest, FromInt(1))
}

func objectEqq(vm *VM, args []Value, dest uint32) bool {
	a, b := args[0], argAt(args, 1)
	if vm.ClassOf(a) != vm.ClassOf(b) || a.IsNull() != b.IsNull() {
		return vm.Return(dest, False)
	}
	return vm.Return(dest, FromBool(vm.ValueEquals(a, b)))
}

func objectNeqq(vm *VM, args []Value, dest uint32) bool {
	a, b := args[0], argAt(args, 1)
	if vm.ClassOf(a) != vm.ClassOf(b) || a.IsNull() != b.IsNull() {
		return vm.Return(dest, True)
	}
	return vm.Return(dest, FromBool(!vm.ValueEquals(a, b)))
}

func objectInt(vm *VM, args []Value, dest uint32) bool {
	v, ok := vm.convertInt(args[0])
	if !ok {
		return vm.Errorf("Unable to convert object to Int.")
	}
	return vm.Return(dest, v)
}

func objectFloat(vm *VM, args []Value, dest uint32) bool {
	v, ok := vm.convertFloat(args[0])
	if !ok {
		return vm.Errorf("Unable to convert object to Float.")
	}
	return vm.Return(dest, v)
}

func objectBool(vm *VM, args []Value, dest uint32) bool {
	v, ok := vm.convertBool(args[0])
	if !ok {
		return vm.Errorf("Unable to convert object to Bool.")
	}
	return vm.Return(dest, v)
}

func objectString(vm *VM, args []Value, dest uint32) bool {
	v, ok := vm.convertString(args[0])
	if !ok {
		return vm.Errorf("Unable to convert object to String.")
	}
	return vm.Return(dest, v)
}

// objectLoad resolves target.key: ivar fast path for Int keys, then the
// class chain, the bridge, and finally notfound.
func objectLoad(vm *VM, args []Value, dest uint32) bool {
	target, key := args[0], argAt(args, 1)
	if c := target.AsClass(); c != nil {
		if !vm.initMeta(c) {
			return false
		}
	}
	c := vm.ClassOf(target)

	if key.IsInt() {
		slots := ivarSlots(target)
		i := key.Int()
		if i < 0 || i >= int64(len(slots)) {
			return vm.Errorf("Out of bounds ivar index in load operation (1).")
		}
		return vm.Return(dest, slots[i])
	}
	if !key.IsString() {
		return vm.Errorf("Unable to lookup non string value into class %s", c.Name)
	}

	v, ok := c.Lookup(key)
	if !ok {
		inst := target.AsInstance()
		if inst != nil && inst.XData != nil && vm.delegate.BridgeGet != nil {
			if vm.delegate.BridgeGet(vm, inst.XData, target, key.Str(), dest) {
				return true
			}
		}
		return vm.notFound(c, target, key)
	}

	if cl := v.AsClosure(); cl != nil && cl.Function.Tag == ExecSpecial {
		fn := cl.Function
		if fn.IsDefaultAccessor() {
			slots := ivarSlots(target)
			if fn.Index >= len(slots) {
				return vm.Errorf("Out of bounds ivar index in load operation (2).")
			}
			return vm.Return(dest, slots[fn.Index])
		}
		if fn.Getter != nil {
			return vm.Redirect(fn.Getter, target)
		}
		return vm.notFound(c, target, key)
	}
	return vm.Return(dest, v)
}

func copyStruct(vm *VM, v Value) Value {
	if inst := v.AsInstance(); inst != nil && inst.class.isStruct {
		return FromObject(vm.cloneInstance(inst))
	}
	return v
}

// objectStore is the store counterpart of objectLoad.
func objectStore(vm *VM, args []Value, dest uint32) bool {
	target, key, value := args[0], argAt(args, 1), argAt(args, 2)
	if c := target.AsClass(); c != nil {
		if !vm.initMeta(c) {
			return false
		}
	}
	c := vm.ClassOf(target)

	if key.IsInt() {
		slots := ivarSlots(target)
		i := key.Int()
		if i < 0 || i >= int64(len(slots)) {
			return vm.Errorf("Out of bounds ivar index in store operation (1).")
		}
		slots[i] = copyStruct(vm, value)
		return true
	}
	if !key.IsString() {
		return vm.Errorf("Unable to lookup non string value into class %s", c.Name)
	}

	v, ok := c.Lookup(key)
	if !ok {
		inst := target.AsInstance()
		if inst != nil && inst.XData != nil && vm.delegate.BridgeSet != nil {
			if vm.delegate.BridgeSet(vm, inst.XData, target, key.Str(), value) {
				return true
			}
		}
		return vm.notFound(c, target, key)
	}

	if cl := v.AsClosure(); cl != nil && cl.Function.Tag == ExecSpecial {
		fn := cl.Function
		if fn.Setter == nil && fn.Index < ComputedIndex {
			slots := ivarSlots(target)
			if fn.Index >= len(slots) {
				return vm.Errorf("Out of bounds ivar index in store operation (2).")
			}
			slots[fn.Index] = copyStruct(vm, value)
			return true
		}
		if fn.Setter != nil {
			return vm.Redirect(fn.Setter, target, value)
		}
		return vm.notFound(c, target, key)
	}
	return true
}

func objectNotFound(vm *VM, args []Value, dest uint32) bool {
	c := vm.ClassOf(args[0])
	return vm.Errorf("Unable to find %s into class %s", keyOrNA(argAt(args, 1)), c.Name)
}

func objectNot(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, FromBool(args[0].IsNullLike()))
}

func objectExec(vm *VM, args []Value, dest uint32) bool {
	return vm.Errorf("Forbidden Object execution.")
}

func objectSize(vm *VM, args []Value, dest uint32) bool {
	if o := args[0].Object(); o != nil {
		return vm.Return(dest, FromInt(int64(o.Size())))
	}
	return vm.Return(dest, FromInt(valueSize))
}

// objectBind adds a method to a single instance through an anonymous
// subclass, or a static method to a class.
func objectBind(vm *VM, args []Value, dest uint32) bool {
	if len(args) < 3 {
		return vm.Errorf("Incorrect number of arguments.")
	}
	key := args[1].AsString()
	if key == nil {
		return vm.Errorf("First argument must be a String.")
	}
	if !args[2].IsClosure() {
		return vm.Errorf("Second argument must be a Closure.")
	}

	var c *Class
	switch x := args[0].o.(type) {
	case *Instance:
		c = x.class
		if vm.isCoreClass(c) {
			return vm.Errorf("Unable to bind method to a core class.")
		}
		if !c.anon {
			anon := vm.NewClass("$anon"+strconv.FormatUint(x.id, 10), c, 0, 0)
			anon.anon = true
			x.class = anon
			c = anon
		}
	case *Class:
		if vm.isCoreClass(x) {
			return vm.Errorf("Unable to bind method to a core class.")
		}
		c = x.meta
	default:
		return vm.Errorf("bind method can be applied only to instances or classes.")
	}
	c.Bind(key.s, args[2], vm)
	return vm.ReturnNull(dest)
}

func objectUnbind(vm *VM, args []Value, dest uint32) bool {
	if len(args) < 2 {
		return vm.Errorf("Incorrect number of arguments.")
	}
	key := args[1]
	if !key.IsString() {
		return vm.Errorf("Argument must be a String.")
	}
	c := vm.ClassOf(args[0])
	if v, ok := c.Lookup(key); ok {
		if cl := v.AsClosure(); cl != nil {
			cl.Context = nil
		}
	}
	c.Unbind(key)
	return vm.ReturnNull(dest)
}

func objectClone(vm *VM, args []Value, dest uint32) bool {
	inst := args[0].AsInstance()
	if inst == nil {
		return vm.Errorf("Unable to clone non instance object.")
	}
	return vm.Return(dest, FromObject(vm.cloneInstance(inst)))
}

func objectRespondTo(vm *VM, args []Value, dest uint32) bool {
	key := argAt(args, 1)
	if !key.IsString() {
		return vm.Return(dest, False)
	}
	_, ok := vm.ClassOf(args[0]).Lookup(key)
	return vm.Return(dest, FromBool(ok))
}

type introspectMask int

const (
	introspectAll introspectMask = iota
	introspectMethods
	introspectProperties
)

// objectIntrospect lists member names. With a true first argument it
// returns a Map of descriptions; a true second argument includes
// superclasses.
func objectIntrospect(vm *VM, args []Value, dest uint32, mask introspectMask) bool {
	extended := argAt(args, 1).IsBool() && argAt(args, 1).Bool()
	scanSuper := argAt(args, 2).IsBool() && argAt(args, 2).Bool()

	vm.gcDisable()
	defer vm.gcEnable()

	var list *List
	var info *Map
	if extended {
		info = vm.NewMap(hashDefaultSize)
	} else {
		list = vm.NewList(0)
	}

	c := args[0].AsClass()
	if c == nil {
		c = vm.ClassOf(args[0])
	}
	for ; c != nil; c = c.Super {
		c.htable.Iterate(func(k, v Value) bool {
			cl := v.AsClosure()
			if cl == nil {
				return true
			}
			isVar := cl.Function.Tag == ExecSpecial
			switch mask {
			case introspectMethods:
				if isVar {
					return true
				}
			case introspectProperties:
				if !isVar {
					return true
				}
			}
			if !extended {
				list.Items = append(list.Items, k)
				return true
			}
			d := vm.NewMap(8)
			d.Table.Insert(vm.StringValue("name"), k)
			d.Table.Insert(vm.StringValue("isvar"), FromBool(isVar))
			fn := cl.Function
			if isVar {
				if fn.Index < ComputedIndex {
					d.Table.Insert(vm.StringValue("index"), FromInt(int64(fn.Index)))
				}
				d.Table.Insert(vm.StringValue("readonly"), FromBool(fn.Getter != nil && fn.Setter == nil))
			} else if len(fn.ParamNames) > 0 {
				params := vm.NewList(len(fn.ParamNames))
				for _, p := range fn.ParamNames {
					params.Items = append(params.Items, vm.StringValue(p))
				}
				d.Table.Insert(vm.StringValue("params"), FromObject(params))
			}
			info.Table.Insert(k, FromObject(d))
			return true
		})
		if !scanSuper {
			break
		}
	}
	if extended {
		return vm.Return(dest, FromObject(info))
	}
	return vm.Return(dest, FromObject(list))
}

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

func (vm *VM) initClass() {
	c := vm.core.Class
	vm.bind(c, "name", className)
	vm.bind(c, OperExec.Key(), classExec)
}

func className(vm *VM, args []Value, dest uint32) bool {
	c := args[0].AsClass()
	if c == nil {
		return vm.ReturnNull(dest)
	}
	return vm.Return(dest, vm.StringValue(c.Name))
}

// classExec constructs an instance: the superclass is resolved on first use,
// then the instance is allocated and init runs with the call arguments.
func classExec(vm *VM, args []Value, dest uint32) bool {
	c := args[0].AsClass()
	if c == nil {
		return vm.Errorf("Unable to execute non class object.")
	}
	if vm.isCoreClass(c) {
		if ex := c.LookupClosure(OperExec.Key()); ex != nil {
			return vm.Redirect(ex)
		}
	}

	if c.superLook != "" {
		sv, _ := vm.Global(c.superLook)
		super := sv.AsClass()
		if super == nil {
			return vm.Errorf("Unable to find superclass %s for class %s.", c.superLook, c.Name)
		}
		c.superLook = ""
		vm.setSuper(c, super)
		c.Ivars = append(c.Ivars, newNullSlots(c.meta.NIvars-len(c.Ivars))...)
	}
	if !vm.initMeta(c) {
		return false
	}

	inst := vm.NewInstance(c)
	init := c.LookupClosure("init")
	if init == nil {
		return vm.Return(dest, FromObject(inst))
	}
	vm.PushTemp(inst)
	_, err := vm.Call(FromObject(init), FromObject(inst), args[1:]...)
	vm.PopTemp()
	if err != nil {
		return false
	}
	return vm.Return(dest, FromObject(inst))
}
