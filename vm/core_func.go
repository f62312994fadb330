package vm

// ---------------------------------------------------------------------------
// Func
// ---------------------------------------------------------------------------

func (vm *VM) initFunc() {
	c := vm.core.Func
	vm.bind(c, OperExec.Key(), funcExec)
	vm.bind(c, "closure", funcClosure)
}

// funcExec runs a bare Function by wrapping it in a fresh closure that
// takes over the register window.
func funcExec(vm *VM, args []Value, dest uint32) bool {
	fn := args[0].AsFunction()
	if fn == nil {
		return vm.Errorf("Unable to convert Object to closure")
	}
	return vm.Redirect(vm.NewClosure(fn))
}

func funcClosure(vm *VM, args []Value, dest uint32) bool {
	fn := args[0].AsFunction()
	if fn == nil {
		return vm.Errorf("Unable to convert Object to closure")
	}
	return vm.Return(dest, FromObject(vm.NewClosure(fn)))
}

// ---------------------------------------------------------------------------
// Closure
// ---------------------------------------------------------------------------

func (vm *VM) initClosure() {
	c := vm.core.Closure
	vm.bind(c, "disassemble", closureDisassemble)
	vm.bind(c, "apply", closureApply)
	vm.bind(c, "bind", closureBind)
}

func closureDisassemble(vm *VM, args []Value, dest uint32) bool {
	c := args[0].AsClosure()
	if c == nil || c.Function.Tag != ExecNative {
		return vm.ReturnNull(dest)
	}
	return vm.Return(dest, vm.StringValue(vm.Disassemble(c.Function)))
}

// closureApply implements c.apply(self, list).
func closureApply(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 3 {
		return vm.Errorf("Two arguments are needed by the apply function.")
	}
	l := args[2].AsList()
	if l == nil {
		return vm.Errorf("A list of arguments is required in the apply function.")
	}
	items := append([]Value(nil), l.Items...)
	res, err := vm.RunClosure(args[0].AsClosure(), args[1], items...)
	if err != nil {
		return false
	}
	return vm.Return(dest, res)
}

// closureBind sets the closure's self context. Null clears it.
func closureBind(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 {
		return vm.Errorf("An argument is required by the bind function.")
	}
	c := args[0].AsClosure()
	switch v := args[1]; {
	case v.IsNullLike():
		c.Context = nil
	case v.IsObject():
		c.Context = v.Object()
	}
	return true
}
