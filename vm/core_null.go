package vm

// ---------------------------------------------------------------------------
// Null (shared by Undefined)
// ---------------------------------------------------------------------------

// Every register starts out as Null, so Null answers the arithmetic
// operators as if it were zero.
func (vm *VM) initNull() {
	c := vm.core.Null
	vm.bind(c, OperAdd.Key(), nullAdd)
	vm.bind(c, OperSub.Key(), nullSub)
	vm.bind(c, OperDiv.Key(), nullZero)
	vm.bind(c, OperMul.Key(), nullZero)
	vm.bind(c, OperRem.Key(), nullZero)
	vm.bind(c, OperAnd.Key(), nullAnd)
	vm.bind(c, OperOr.Key(), nullOr)
	vm.bind(c, OperCmp.Key(), nullCmp)
	vm.bind(c, OperNeg.Key(), nullAnd)
	vm.bind(c, OperNot.Key(), nullNot)
	if vm.nullSilent {
		vm.bind(c, OperExec.Key(), nullSilent)
		vm.bind(c, OperLoad.Key(), nullSilent)
		vm.bind(c, OperStore.Key(), nullStoreSilent)
		vm.bind(c, OperNotFound.Key(), nullSilent)
	}
	vm.bind(c, "iterate", nullAnd)

	vm.bind(c.meta, OperExec.Key(), func(vm *VM, args []Value, dest uint32) bool {
		return vm.ReturnNull(dest)
	})
}

func nullAdd(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, argAt(args, 1))
}

func nullSub(vm *VM, args []Value, dest uint32) bool {
	n, ok := vm.intOperand(argAt(args, 1))
	if !ok {
		return false
	}
	return vm.Return(dest, FromInt(-n))
}

func nullZero(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, FromInt(0))
}

func nullAnd(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, False)
}

func nullOr(vm *VM, args []Value, dest uint32) bool {
	b, ok := vm.boolOperand(argAt(args, 1))
	if !ok {
		return false
	}
	return vm.Return(dest, FromBool(b))
}

func nullNot(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, True)
}

// nullCmp treats Null as 0. Undefined only equals Undefined.
func nullCmp(vm *VM, args []Value, dest uint32) bool {
	other := argAt(args, 1)
	if args[0].IsUndefined() {
		return vm.Return(dest, FromBool(other.IsUndefined()))
	}
	return compareInts(vm, FromInt(0), other, dest)
}

// nullSilent makes member access on Null yield Null, unless the host asked
// for such accesses to be reported.
func nullSilent(vm *VM, args []Value, dest uint32) bool {
	key := argAt(args, 1)
	if key.IsString() {
		if v, ok := vm.core.Null.Lookup(key); ok {
			return vm.Return(dest, v)
		}
	}
	if vm.delegate.ReportNullErrors {
		return vm.Errorf("Unable to find %s into null object", keyOrNA(key))
	}
	return vm.ReturnNull(dest)
}

func nullStoreSilent(vm *VM, args []Value, dest uint32) bool {
	if vm.delegate.ReportNullErrors {
		return vm.Errorf("Unable to find %s into null object", keyOrNA(argAt(args, 1)))
	}
	return true
}
