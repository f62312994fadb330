package vm

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestVM(t *testing.T, configure ...func(*Options)) *VM {
	t.Helper()
	opts := DefaultOptions()
	for _, fn := range configure {
		fn(&opts)
	}
	v := New(opts)
	t.Cleanup(v.Close)
	return v
}

// send calls the method name found on recv's class.
func send(t *testing.T, v *VM, recv Value, name string, args ...Value) Value {
	t.Helper()
	res, err := trySend(v, recv, name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func trySend(v *VM, recv Value, name string, args ...Value) (Value, error) {
	c := v.ClassOf(recv).LookupClosure(name)
	if c == nil {
		return Null, errors.New("no method " + name)
	}
	return v.RunClosure(c, recv, args...)
}

// runBuilt assembles b and runs it with a Null self.
func runBuilt(t *testing.T, v *VM, b *FunctionBuilder, args ...Value) Value {
	t.Helper()
	res, err := v.RunClosure(b.BuildClosure(v), Null, args...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res
}

func wantRuntimeError(t *testing.T, err error, msg string) *RuntimeError {
	t.Helper()
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want a RuntimeError", err)
	}
	if !strings.Contains(rerr.Message, msg) {
		t.Fatalf("message = %q, want it to contain %q", rerr.Message, msg)
	}
	return rerr
}

// countdown(n) returns n by recursing n times.
func countdown(v *VM) *Closure {
	b := NewFunctionBuilder("countdown", 2).SetTemps(4)
	one := b.Const(FromInt(1))
	zero := b.Const(FromInt(0))
	rec := b.NewLabel()
	b.ABC(OpEQ, 2, 1, K(zero))
	b.JumpF(2, false, rec)
	b.AN(OpLOADK, 2, zero)
	b.Ret(2)
	b.Mark(rec)
	b.AN(OpLOADK, 3, CpoolFunc)
	b.Move(4, 0)
	b.ABC(OpSUB, 5, 1, K(one))
	b.Call(2, 3, 2)
	b.ABC(OpADD, 2, 2, K(one))
	b.Ret(2)
	return b.BuildClosure(v)
}

// staticCall loads global class name, then calls its static method with
// one argument.
func staticCall(v *VM, class, method string, arg Value) *FunctionBuilder {
	b := NewFunctionBuilder("caller", 1).SetTemps(5)
	kc := b.Const(v.StringValue(class))
	km := b.Const(v.StringValue(method))
	ka := b.Const(arg)
	b.AN(OpLOADG, 1, kc)
	b.ABC(OpLOAD, 2, 1, K(km))
	b.Move(3, 1)
	b.AN(OpLOADK, 4, ka)
	b.Call(5, 2, 2)
	b.Ret(5)
	return b
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

func TestCoreClassesAreGlobals(t *testing.T) {
	v := newTestVM(t)
	names := []string{"Object", "Class", "Null", "Bool", "Int", "Float", "String", "List",
		"Map", "Range", "Func", "Closure", "Fiber", "Instance", "Upvalue", "System"}
	for _, name := range names {
		g, ok := v.Global(name)
		if !ok || !g.IsClass() {
			t.Errorf("global %s = %v, want a class", name, g)
			continue
		}
		if g.AsClass() != v.Core(name) {
			t.Errorf("global %s is not the core class", name)
		}
		if name != "Object" && g.AsClass().Super != v.Core("Object") {
			t.Errorf("%s super = %v, want Object", name, g.AsClass().Super)
		}
	}
	if v.Core("Nope") != nil {
		t.Error("Core(Nope) should be nil")
	}
}

func TestClassOf(t *testing.T) {
	v := newTestVM(t)
	tests := []struct {
		val  Value
		want string
	}{
		{Null, "Null"},
		{Undefined, "Null"},
		{True, "Bool"},
		{FromInt(1), "Int"},
		{FromFloat64(1.5), "Float"},
		{v.StringValue("s"), "String"},
		{FromObject(v.NewList(0)), "List"},
		{FromObject(v.NewMap(0)), "Map"},
		{FromObject(v.NewRange(1, 2, true)), "Range"},
	}
	for _, tt := range tests {
		if got := v.ClassOf(tt.val).Name; got != tt.want {
			t.Errorf("ClassOf(%s) = %s, want %s", v.ValueString(tt.val), got, tt.want)
		}
	}
	list := v.Core("List")
	if v.ClassOf(FromObject(list)) != list.Meta() {
		t.Error("class of a class should be its metaclass")
	}
}

// ---------------------------------------------------------------------------
// Errors, abort and reset
// ---------------------------------------------------------------------------

func TestAbortAndReset(t *testing.T) {
	var reported []string
	v := newTestVM(t, func(o *Options) {
		o.Delegate = &Delegate{Error: func(_ *VM, kind ErrorKind, msg string, _ uint32) {
			reported = append(reported, kind.String()+": "+msg)
		}}
	})

	b := NewFunctionBuilder("divide", 1).SetTemps(3)
	b.LoadI(1, 1).LoadI(2, 0)
	b.ABC(OpDIV, 3, 1, 2)
	b.Ret(3)
	c := b.BuildClosure(v)

	_, err := v.RunClosure(c, Null)
	rerr := wantRuntimeError(t, err, "Division by 0 error.")
	if rerr.Kind != ErrorRuntime || rerr.Function != "divide" {
		t.Errorf("error = %+v", rerr)
	}
	if !v.Aborted() || v.LastError() != rerr {
		t.Error("VM should record the abort")
	}
	if len(reported) != 1 || reported[0] != "runtime: Division by 0 error." {
		t.Errorf("reported = %v", reported)
	}

	if _, err := v.RunClosure(countdown(v), Null, FromInt(3)); !errors.Is(err, ErrAborted) {
		t.Errorf("run after abort = %v, want ErrAborted", err)
	}

	v.Reset()
	res, err := v.RunClosure(countdown(v), Null, FromInt(3))
	if err != nil || res.Int() != 3 {
		t.Errorf("run after Reset = %v, %v, want 3", res, err)
	}
}

func TestRemainderByZero(t *testing.T) {
	v := newTestVM(t)
	b := NewFunctionBuilder("rem", 1).SetTemps(3)
	b.LoadI(1, 7).LoadI(2, 0)
	b.ABC(OpREM, 3, 1, 2)
	b.Ret(3)
	_, err := v.RunClosure(b.BuildClosure(v), Null)
	wantRuntimeError(t, err, "Reminder by 0 error.")
}

func TestMissingGlobal(t *testing.T) {
	v := newTestVM(t)
	b := NewFunctionBuilder("main", 1).SetTemps(1)
	k := b.Const(v.StringValue("nothing"))
	b.AN(OpLOADG, 1, k)
	b.Ret(1)
	_, err := v.RunClosure(b.BuildClosure(v), Null)
	wantRuntimeError(t, err, "Unable to find object nothing")
}

func TestRuntimeErrorString(t *testing.T) {
	tests := []struct {
		err  RuntimeError
		want string
	}{
		{RuntimeError{Kind: ErrorRuntime, Message: "boom"}, "runtime error: boom"},
		{RuntimeError{Kind: ErrorCompile, Message: "bad", Function: "f"}, "compile error: bad (in f)"},
		{RuntimeError{Kind: ErrorIO, Message: "x", Function: "f", Line: 3}, "io error: x (f:3)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestClosedVM(t *testing.T) {
	v := NewDefault()
	c := countdown(v)
	v.Close()
	if _, err := v.RunClosure(c, Null, FromInt(1)); !errors.Is(err, ErrAborted) {
		t.Errorf("run on closed VM = %v, want ErrAborted", err)
	}
	v.Close()
}

// ---------------------------------------------------------------------------
// Limits
// ---------------------------------------------------------------------------

func TestMaxRecursion(t *testing.T) {
	v := newTestVM(t, func(o *Options) { o.MaxRecursion = 10 })
	if res, err := v.RunClosure(countdown(v), Null, FromInt(5)); err != nil || res.Int() != 5 {
		t.Fatalf("shallow recursion = %v, %v", res, err)
	}
	_, err := v.RunClosure(countdown(v), Null, FromInt(50))
	wantRuntimeError(t, err, "Max recursion depth exceeded for func countdown (limit is set to 10)")
}

func TestStackOverflow(t *testing.T) {
	v := newTestVM(t, func(o *Options) { o.MaxFrames = 64 })
	_, err := v.RunClosure(countdown(v), Null, FromInt(1000))
	wantRuntimeError(t, err, "Infinite loop detected")
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("errors.Is(err, ErrStackOverflow) = false for %v", err)
	}
}

func TestDeepRecursionGrowsStack(t *testing.T) {
	v := newTestVM(t)
	res, err := v.RunClosure(countdown(v), Null, FromInt(10000))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Int() != 10000 {
		t.Errorf("countdown(10000) = %d, want 10000", res.Int())
	}
	if n := v.MainFiber().Reallocations(); n < 3 {
		t.Errorf("stack reallocations = %d, want at least 3", n)
	}
	if d := v.MainFiber().Depth(); d != 0 {
		t.Errorf("frames left after return = %d, want 0", d)
	}
}

// ---------------------------------------------------------------------------
// System
// ---------------------------------------------------------------------------

func TestSystemPrint(t *testing.T) {
	var out strings.Builder
	v := newTestVM(t, func(o *Options) {
		o.Delegate = &Delegate{Write: func(s string) { out.WriteString(s) }}
	})
	runBuilt(t, v, staticCall(v, "System", "print", FromInt(42)))
	runBuilt(t, v, staticCall(v, "System", "put", v.StringValue("x")))
	if got := out.String(); got != "42\nx" {
		t.Errorf("output = %q, want %q", got, "42\nx")
	}
}

func TestSystemExit(t *testing.T) {
	exitCode := -1
	v := newTestVM(t, func(o *Options) {
		o.Delegate = &Delegate{Exit: func(code int) { exitCode = code }}
	})
	_, err := v.RunClosure(staticCall(v, "System", "exit", FromInt(3)).BuildClosure(v), Null)
	if !errors.Is(err, ErrExit) {
		t.Fatalf("err = %v, want ErrExit", err)
	}
	if exited, code := v.Exited(); !exited || code != 3 {
		t.Errorf("Exited() = %v, %d, want true, 3", exited, code)
	}
	if exitCode != 3 {
		t.Errorf("Exit callback got %d, want 3", exitCode)
	}
	v.Reset()
	if exited, _ := v.Exited(); exited {
		t.Error("Reset should clear the exit state")
	}
}

func TestSystemSettings(t *testing.T) {
	v := newTestVM(t)
	sys := FromObject(v.Core("System"))

	send(t, v, sys, "set", v.StringValue("maxCCalls"), FromInt(50))
	if got := send(t, v, sys, "get", v.StringValue("maxCCalls")); got.Int() != 50 {
		t.Errorf("maxCCalls = %v, want 50", got)
	}
	send(t, v, sys, "set", v.StringValue("gcEnabled"), False)
	if v.GCEnabled() {
		t.Error("gcEnabled false should disable the collector")
	}
	send(t, v, sys, "set", v.StringValue("gcEnabled"), True)
	if !v.GCEnabled() {
		t.Error("gcEnabled true should enable the collector")
	}
	if got := send(t, v, sys, "get", v.StringValue("nope")); !got.IsNull() {
		t.Errorf("unknown setting = %v, want null", got)
	}
}

func TestSystemSettingErrors(t *testing.T) {
	tests := []struct {
		key  string
		val  func(v *VM) Value
		want string
	}{
		{"nope", func(*VM) Value { return FromInt(1) }, "Unable to apply System setting."},
		{"gcRatio", func(v *VM) Value { return v.StringValue("x") }, "Invalid value for gcRatio."},
		{"maxBlock", func(*VM) Value { return FromInt(-1) }, "Invalid value for maxBlock."},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := newTestVM(t)
			_, err := trySend(v, FromObject(v.Core("System")), "set", v.StringValue(tt.key), tt.val(v))
			wantRuntimeError(t, err, tt.want)
		})
	}
}

func TestSystemProperty(t *testing.T) {
	v := newTestVM(t)
	b := NewFunctionBuilder("props", 1).SetTemps(3)
	ks := b.Const(v.StringValue("System"))
	kp := b.Const(v.StringValue("maxCCalls"))
	b.AN(OpLOADG, 1, ks)
	b.LoadI(3, 77)
	b.ABC(OpSTORE, 3, 1, K(kp))
	b.ABC(OpLOAD, 2, 1, K(kp))
	b.Ret(2)
	if got := runBuilt(t, v, b); got.Int() != 77 {
		t.Errorf("System.maxCCalls after store = %v, want 77", got)
	}
}

// ---------------------------------------------------------------------------
// Null handling
// ---------------------------------------------------------------------------

// nullLoad builds fn() { return null.missing }.
func nullLoad(v *VM) *Closure {
	b := NewFunctionBuilder("nullLoad", 1).SetTemps(2)
	k := b.Const(v.StringValue("missing"))
	b.ABC(OpLOAD, 2, 1, K(k))
	b.Ret(2)
	return b.BuildClosure(v)
}

func TestNullSilent(t *testing.T) {
	v := newTestVM(t)
	res, err := v.RunClosure(nullLoad(v), Null)
	if err != nil || !res.IsNull() {
		t.Errorf("null.missing = %v, %v, want null", res, err)
	}
}

func TestNullReportErrors(t *testing.T) {
	v := newTestVM(t, func(o *Options) { o.Delegate = &Delegate{ReportNullErrors: true} })
	_, err := v.RunClosure(nullLoad(v), Null)
	wantRuntimeError(t, err, "Unable to find missing into null object")
}

func TestNullNotSilent(t *testing.T) {
	v := newTestVM(t, func(o *Options) { o.NullSilent = false })
	_, err := v.RunClosure(nullLoad(v), Null)
	wantRuntimeError(t, err, "Unable to find missing into class Null")
}

// ---------------------------------------------------------------------------
// Host calls
// ---------------------------------------------------------------------------

func TestCallClassConstructs(t *testing.T) {
	v := newTestVM(t)
	point := v.NewClass("Point", nil, 2, 0)
	v.RegisterClass(point)

	init := NewFunctionBuilder("init", 3)
	init.ABC(OpSTORE, 1, 0, K(init.Const(FromInt(0))))
	init.ABC(OpSTORE, 2, 0, K(init.Const(FromInt(1))))
	init.Ret0()
	point.Bind("init", FromObject(init.BuildClosure(v)), v)

	res, err := v.Call(FromObject(point), Null, FromInt(3), FromInt(4))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	inst := res.AsInstance()
	if inst == nil || inst.Class() != point {
		t.Fatalf("result = %s, want a Point", v.ValueString(res))
	}
	if inst.Ivars[0].Int() != 3 || inst.Ivars[1].Int() != 4 {
		t.Errorf("ivars = %v, want [3 4]", inst.Ivars)
	}
}

func TestCallNotCallable(t *testing.T) {
	v := newTestVM(t)
	if _, err := v.RunClosure(nil, Null); !errors.Is(err, ErrNotCallable) {
		t.Errorf("RunClosure(nil) = %v, want ErrNotCallable", err)
	}
}

func TestNestedHostCalls(t *testing.T) {
	v := newTestVM(t)
	depth := 0
	var inner *Closure
	inner = v.NewInternalClosure("nest", func(vm *VM, args []Value, dest uint32) bool {
		depth++
		if depth == 3 {
			return vm.Return(dest, FromInt(int64(depth)))
		}
		res, err := vm.RunClosure(inner, Null)
		if err != nil {
			return false
		}
		return vm.Return(dest, res)
	})
	res, err := v.RunClosure(inner, Null)
	if err != nil || res.Int() != 3 {
		t.Errorf("nested calls = %v, %v, want 3", res, err)
	}
}

func TestMaxCCalls(t *testing.T) {
	v := newTestVM(t, func(o *Options) { o.MaxCCalls = 5 })
	var loop *Closure
	loop = v.NewInternalClosure("loop", func(vm *VM, args []Value, dest uint32) bool {
		_, err := vm.RunClosure(loop, Null)
		return err == nil
	})
	_, err := v.RunClosure(loop, Null)
	wantRuntimeError(t, err, "Maximum number of nested C calls reached (5).")
}
