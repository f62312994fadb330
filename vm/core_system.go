package vm

import (
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// System
// ---------------------------------------------------------------------------

// systemSetting is a VM knob scripts can read and write through System.
// set reports false when the value has the wrong type.
type systemSetting struct {
	name string
	get  func(vm *VM) Value
	set  func(vm *VM, v Value) bool
}

var systemSettings = []systemSetting{
	{
		name: "gcEnabled",
		get:  func(vm *VM) Value { return FromBool(vm.GCEnabled()) },
		set: func(vm *VM, v Value) bool {
			if !v.IsBool() {
				return false
			}
			switch on := v.Bool(); {
			case on && !vm.GCEnabled():
				vm.gcEnable()
			case !on && vm.GCEnabled():
				vm.gcDisable()
			}
			return true
		},
	},
	{
		name: "gcMinThreshold",
		get:  func(vm *VM) Value { return FromInt(int64(vm.gc.minimum)) },
		set:  intSetting(func(vm *VM, n int) { vm.gc.minimum = n }),
	},
	{
		name: "gcThreshold",
		get:  func(vm *VM) Value { return FromInt(int64(vm.gc.threshold)) },
		set: intSetting(func(vm *VM, n int) {
			vm.gc.threshold = n
			vm.gc.original = n
		}),
	},
	{
		name: "gcRatio",
		get:  func(vm *VM) Value { return FromFloat64(vm.gc.ratio) },
		set: func(vm *VM, v Value) bool {
			if !v.IsNumber() {
				return false
			}
			vm.gc.ratio = toFloat(v)
			return true
		},
	},
	{
		name: "maxCCalls",
		get:  func(vm *VM) Value { return FromInt(int64(vm.maxCCalls)) },
		set:  intSetting(func(vm *VM, n int) { vm.maxCCalls = n }),
	},
	{
		name: "maxBlock",
		get:  func(vm *VM) Value { return FromInt(int64(vm.maxBlock)) },
		set:  intSetting(func(vm *VM, n int) { vm.maxBlock = n }),
	},
	{
		name: "maxRecursionDepth",
		get:  func(vm *VM) Value { return FromInt(int64(vm.maxRecursion)) },
		set:  intSetting(func(vm *VM, n int) { vm.maxRecursion = n }),
	},
}

// intSetting accepts non-negative Int values only.
func intSetting(apply func(vm *VM, n int)) func(vm *VM, v Value) bool {
	return func(vm *VM, v Value) bool {
		if !v.IsInt() || v.Int() < 0 || v.Int() > int64(^uint32(0)>>1) {
			return false
		}
		apply(vm, int(v.Int()))
		return true
	}
}

func findSetting(name string) *systemSetting {
	for i := range systemSettings {
		if systemSettings[i].name == name {
			return &systemSettings[i]
		}
	}
	return nil
}

func (vm *VM) initSystem() {
	meta := vm.core.System.meta
	vm.bind(meta, "print", func(vm *VM, args []Value, dest uint32) bool {
		return systemPrint(vm, args, dest, true)
	})
	vm.bind(meta, "put", func(vm *VM, args []Value, dest uint32) bool {
		return systemPrint(vm, args, dest, false)
	})
	vm.bind(meta, "input", systemInput)
	vm.bind(meta, "nanotime", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(time.Now().UnixNano()))
	})
	vm.bind(meta, "exit", systemExit)
	vm.bind(meta, "get", systemGet)
	vm.bind(meta, "set", systemSet)

	for i := range systemSettings {
		s := &systemSettings[i]
		vm.bindProperty(meta, s.name,
			func(vm *VM, args []Value, dest uint32) bool {
				return vm.Return(dest, s.get(vm))
			},
			func(vm *VM, args []Value, dest uint32) bool {
				if !s.set(vm, argAt(args, 1)) {
					return vm.Errorf("Invalid value for %s.", s.name)
				}
				return true
			})
	}
}

// systemPrint writes the string form of every argument with no separator.
func systemPrint(vm *VM, args []Value, dest uint32, newline bool) bool {
	var b strings.Builder
	for _, v := range args[1:] {
		s, ok := vm.convertString(v)
		if !ok {
			return false
		}
		b.WriteString(s.Str())
	}
	if newline {
		b.WriteByte('\n')
	}
	vm.delegate.write(b.String())
	return vm.ReturnNull(dest)
}

func systemInput(vm *VM, args []Value, dest uint32) bool {
	line, err := vm.delegate.read()
	if err != nil {
		return vm.ReturnNull(dest)
	}
	return vm.Return(dest, vm.StringValue(line))
}

// systemExit stops the VM with a code. The host sees it through Exited
// and the Exit callback.
func systemExit(vm *VM, args []Value, dest uint32) bool {
	code := 0
	if v := argAt(args, 1); v.IsInt() {
		code = int(v.Int())
	}
	vm.exiting = true
	vm.exitCode = code
	vmLog.Debugf("exit requested with code %d", code)
	if vm.delegate.Exit != nil {
		vm.delegate.Exit(code)
	}
	return false
}

func systemGet(vm *VM, args []Value, dest uint32) bool {
	key := argAt(args, 1)
	if !key.IsString() {
		return vm.ReturnNull(dest)
	}
	s := findSetting(key.Str())
	if s == nil {
		return vm.ReturnNull(dest)
	}
	return vm.Return(dest, s.get(vm))
}

func systemSet(vm *VM, args []Value, dest uint32) bool {
	key := argAt(args, 1)
	if !key.IsString() {
		return true
	}
	s := findSetting(key.Str())
	if s == nil {
		return vm.Errorf("Unable to apply System setting.")
	}
	if !s.set(vm, argAt(args, 2)) {
		return vm.Errorf("Invalid value for %s.", s.name)
	}
	return true
}
