package vm

import (
	"math"
	"testing"
)

func ints(v *VM, ns ...int64) Value {
	items := make([]Value, len(ns))
	for i, n := range ns {
		items[i] = FromInt(n)
	}
	return FromObject(v.NewListFrom(items))
}

// binaryFn returns a two-argument closure computing op(a, b).
func binaryFn(v *VM, name string, op Opcode) *Closure {
	b := NewFunctionBuilder(name, 3).SetTemps(1)
	b.ABC(op, 3, 1, 2)
	b.Ret(3)
	return b.BuildClosure(v)
}

// constOpFn returns a one-argument closure computing op(x, n).
func constOpFn(v *VM, name string, op Opcode, n int64) *Closure {
	b := NewFunctionBuilder(name, 2).SetTemps(1)
	k := b.Const(FromInt(n))
	b.ABC(op, 2, 1, K(k))
	b.Ret(2)
	return b.BuildClosure(v)
}

type sendCase struct {
	name string
	recv Value
	args []Value
	want string
}

func runSendCases(t *testing.T, v *VM, tests []sendCase) {
	t.Helper()
	for _, tt := range tests {
		got := send(t, v, tt.recv, tt.name, tt.args...)
		if s := v.ValueString(got); s != tt.want {
			t.Errorf("%s.%s%v = %q, want %q", v.ValueString(tt.recv), tt.name, tt.args, s, tt.want)
		}
	}
}

type sendErrCase struct {
	name string
	recv Value
	args []Value
	msg  string
}

// runSendErrors expects each send to abort with msg, resetting the VM in
// between.
func runSendErrors(t *testing.T, v *VM, tests []sendErrCase) {
	t.Helper()
	for _, tt := range tests {
		_, err := trySend(v, tt.recv, tt.name, tt.args...)
		wantRuntimeError(t, err, tt.msg)
		v.Reset()
	}
}

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

func TestStringMethods(t *testing.T) {
	v := newTestVM(t)
	s := v.StringValue
	runSendCases(t, v, []sendCase{
		{"length", s("héllo"), nil, "5"},
		{"bytes", s("héllo"), nil, "6"},
		{"raw", s("A"), nil, "65"},
		{"raw", s("éa"), nil, "2119"},
		{"raw", s(""), nil, "0"},
		{"upper", s("hello"), nil, "HELLO"},
		{"upper", s("hello"), []Value{FromInt(0)}, "Hello"},
		{"lower", s("HeLLo"), nil, "hello"},
		{"split", s("a,b,c"), []Value{s(",")}, `["a","b","c"]`},
		{"split", s("ab"), []Value{s("")}, `["a","b"]`},
		{"index", s("hello"), []Value{s("ll")}, "2"},
		{"index", s("hello"), []Value{s("z")}, "null"},
		{"contains", s("hello"), []Value{s("ell")}, "true"},
		{"count", s("aaaa"), []Value{s("aa")}, "2"},
		{"count", s("aaaa"), []Value{s("")}, "0"},
		{"repeat", s("ab"), []Value{FromInt(3)}, "ababab"},
		{"replace", s("a-b-a"), []Value{s("a"), s("c")}, "c-b-c"},
		{"trim", s("  x  "), nil, "x"},
		{"trim", s("  x  "), []Value{FromInt(1)}, "x  "},
		{"trim", s("  x  "), []Value{FromInt(2)}, "  x"},
		{"number", s("0x1F"), nil, "31"},
		{"number", s("2.5"), nil, "2.5"},
		{"number", s("12abc"), nil, "12"},
		{"toClass", s("Int"), nil, "Int"},
		{"toClass", s("Nothing"), nil, "null"},
	})
}

func TestStringOperators(t *testing.T) {
	v := newTestVM(t)
	s := v.StringValue
	runSendCases(t, v, []sendCase{
		{OperAdd.Key(), s("hello"), []Value{s("!")}, "hello!"},
		{OperAdd.Key(), s("n="), []Value{FromInt(4)}, "n=4"},
		{OperSub.Key(), s("hello"), []Value{s("l")}, "helo"},
		{OperNeg.Key(), s("abc"), nil, "cba"},
		{OperCmp.Key(), s("a"), []Value{s("b")}, "-1"},
		{OperLoadAt.Key(), s("hello"), []Value{FromInt(1)}, "e"},
		{OperLoadAt.Key(), s("hello"), []Value{FromInt(-1)}, "o"},
		{OperLoadAt.Key(), s("hello"), []Value{FromObject(v.NewRange(1, 3, true))}, "ell"},
		{OperLoadAt.Key(), s("hello"), []Value{FromObject(v.NewRange(3, 1, true))}, "lle"},
	})
}

func TestStringStoreAt(t *testing.T) {
	v := newTestVM(t)
	str := v.NewString("hello")
	before := str.HashCode()
	send(t, v, FromObject(str), OperStoreAt.Key(), FromInt(1), v.StringValue("EL"))
	if got := v.ValueString(FromObject(str)); got != "hELlo" {
		t.Errorf("after store = %q, want hELlo", got)
	}
	if str.HashCode() == before || str.HashCode() != v.NewString("hELlo").HashCode() {
		t.Error("hash was not recomputed after an in-place store")
	}
}

func TestStringErrors(t *testing.T) {
	v := newTestVM(t)
	s := v.StringValue
	runSendErrors(t, v, []sendErrCase{
		{"index", s("abc"), nil, "String.index() expects a string as an argument"},
		{"repeat", s("abc"), []Value{FromInt(0)}, "String.repeat() expects a value >= 1"},
		{"split", s("abc"), []Value{FromInt(1)}, "String.split() expects 1 string separator."},
		{OperLoadAt.Key(), s("hello"), []Value{FromInt(10)}, "Out of bounds error: first_index 10 beyond bounds 0...4"},
		{OperLoadAt.Key(), s("hello"), []Value{s("x")}, "An integer index or index range is required"},
		{OperStoreAt.Key(), s("hi"), []Value{FromInt(1), s("long")}, "End of inserted string exceeds"},
		{"upper", s("abc"), []Value{s("x")}, "upper() expects either no arguments, or integer arguments."},
	})
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in     string
		format numberFormat
		want   Value
	}{
		{"", numberAny, FromInt(0)},
		{"", numberFloat, FromFloat64(0)},
		{"42", numberAny, FromInt(42)},
		{"-17", numberInt, FromInt(-17)},
		{"012", numberInt, FromInt(10)},
		{"0b101", numberAny, FromInt(5)},
		{"-0x10", numberAny, FromInt(-16)},
		{"0o17", numberFloat, FromFloat64(15)},
		{"3.25", numberAny, FromFloat64(3.25)},
		{"1e3", numberFloat, FromFloat64(1000)},
		{"1e", numberFloat, FromFloat64(1)},
		{"abc", numberAny, FromInt(0)},
		{"99999999999999999999", numberInt, FromInt(math.MaxInt64)},
	}
	for _, tt := range tests {
		if got := parseNumber(tt.in, tt.format); got != tt.want {
			t.Errorf("parseNumber(%q, %d) = %v, want %v", tt.in, tt.format, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestListMethods(t *testing.T) {
	v := newTestVM(t)
	s := v.StringValue
	runSendCases(t, v, []sendCase{
		{"count", ints(v, 1, 2, 3), nil, "3"},
		{"push", ints(v, 1), []Value{FromInt(2)}, "2"},
		{"pop", ints(v, 1, 2), nil, "2"},
		{"contains", ints(v, 1, 2), []Value{FromInt(2)}, "true"},
		{"contains", ints(v, 1, 2), []Value{s("2")}, "false"},
		{"indexOf", ints(v, 5, 6), []Value{FromInt(6)}, "1"},
		{"indexOf", ints(v, 5, 6), []Value{FromInt(7)}, "-1"},
		{"remove", ints(v, 1, 2, 3), []Value{FromInt(0)}, "[2,3]"},
		{"reverse", ints(v, 1, 2, 3), nil, "[3,2,1]"},
		{"join", ints(v, 1, 2, 3), []Value{s("-")}, "1-2-3"},
		{"join", ints(v, 1, 2), nil, "12"},
		{"sort", ints(v, 3, 1, 2), nil, "[1,2,3]"},
		{"sort", FromObject(v.NewListFrom([]Value{s("b"), s("a")})), nil, `["a","b"]`},
		{"sort", ints(v, 1, 3, 2), []Value{FromObject(binaryFn(v, "desc", OpLT))}, "[3,2,1]"},
		{"map", ints(v, 1, 2, 3), []Value{FromObject(constOpFn(v, "double", OpMUL, 2))}, "[2,4,6]"},
		{"filter", ints(v, 1, 2, 3), []Value{FromObject(constOpFn(v, "big", OpGT, 1))}, "[2,3]"},
		{"reduce", ints(v, 1, 2, 3), []Value{FromInt(10), FromObject(binaryFn(v, "sum", OpADD))}, "16"},
		{OperLoadAt.Key(), ints(v, 4, 5, 6), []Value{FromInt(-1)}, "6"},
	})
}

func TestListCopiesDoNotAlias(t *testing.T) {
	v := newTestVM(t)
	src := ints(v, 1, 2, 3)
	rev := send(t, v, src, "reversed")
	sorted := send(t, v, rev, "sorted")
	if got := v.ValueString(rev); got != "[3,2,1]" {
		t.Errorf("reversed = %s, want [3,2,1]", got)
	}
	if got := v.ValueString(sorted); got != "[1,2,3]" {
		t.Errorf("sorted = %s, want [1,2,3]", got)
	}
	if got := v.ValueString(src); got != "[1,2,3]" {
		t.Errorf("source changed to %s", got)
	}
}

func TestListStoreAtGrows(t *testing.T) {
	v := newTestVM(t)
	l := ints(v, 1)
	send(t, v, l, OperStoreAt.Key(), FromInt(3), FromInt(9))
	if got := v.ValueString(l); got != "[1,null,null,9]" {
		t.Errorf("after store = %s, want [1,null,null,9]", got)
	}
}

func TestListIteration(t *testing.T) {
	v := newTestVM(t)
	l := ints(v, 7, 8)
	it := send(t, v, l, "iterate", Null)
	var got []int64
	for it.IsInt() {
		got = append(got, send(t, v, l, "next", it).Int())
		it = send(t, v, l, "iterate", it)
	}
	if len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Errorf("iterated %v, want [7 8]", got)
	}
	if it != False {
		t.Errorf("final iterator = %s, want false", v.ValueString(it))
	}
	if r := send(t, v, ints(v), "iterate", Null); r != False {
		t.Errorf("empty list iterate = %s, want false", v.ValueString(r))
	}
}

func TestListErrors(t *testing.T) {
	v := newTestVM(t)
	runSendErrors(t, v, []sendErrCase{
		{"pop", ints(v), nil, "Unable to pop a value from an empty list."},
		{"remove", ints(v, 1), []Value{FromInt(4)}, "Out of bounds index."},
		{"map", ints(v, 1), []Value{FromInt(1)}, "Argument must be a Closure."},
		{"reduce", ints(v, 1), []Value{FromInt(0)}, "Two arguments are needed by the reduce function."},
		{OperLoadAt.Key(), ints(v, 1), []Value{FromInt(3)}, "Out of bounds error: index 3 beyond bounds 0...0"},
	})
}

func TestListExec(t *testing.T) {
	v := newTestVM(t)
	got := send(t, v, FromObject(v.Core("List")), OperExec.Key(), FromInt(2))
	if s := v.ValueString(got); s != "[null,null]" {
		t.Errorf("List(2) = %s, want [null,null]", s)
	}
}

// ---------------------------------------------------------------------------
// Map and Range
// ---------------------------------------------------------------------------

func TestMapMethods(t *testing.T) {
	v := newTestVM(t)
	m := v.NewMap(0)
	m.Table.Insert(v.StringValue("a"), FromInt(1))
	m.Table.Insert(v.StringValue("b"), FromInt(2))
	mv := FromObject(m)

	runSendCases(t, v, []sendCase{
		{"count", mv, nil, "2"},
		{"hasKey", mv, []Value{v.StringValue("a")}, "true"},
		{"hasKey", mv, []Value{v.StringValue("z")}, "false"},
		{OperLoadAt.Key(), mv, []Value{v.StringValue("b")}, "2"},
		{OperLoadAt.Key(), mv, []Value{v.StringValue("z")}, "null"},
	})

	keys := send(t, v, mv, "keys").AsList()
	if keys == nil || keys.Len() != 2 {
		t.Fatalf("keys = %v, want two keys", keys)
	}
	if got := loadKey(t, v, mv, "b"); got.Int() != 2 {
		t.Errorf("m.b = %s, want 2", v.ValueString(got))
	}
	if got := loadKey(t, v, mv, "count"); got.Int() != 2 {
		t.Errorf("m.count = %s, want the count property", v.ValueString(got))
	}
	if got := send(t, v, mv, "remove", v.StringValue("a")); got != True {
		t.Error("remove of a present key should return true")
	}
	if m.Table.Count() != 1 {
		t.Errorf("count after remove = %d, want 1", m.Table.Count())
	}
}

func TestMapStoreCeiling(t *testing.T) {
	v := newTestVM(t)
	m := v.NewMap(0)
	m.Table.SetMaxEntries(1)
	mv := FromObject(m)
	send(t, v, mv, OperStoreAt.Key(), v.StringValue("a"), FromInt(1))
	send(t, v, mv, OperStoreAt.Key(), v.StringValue("a"), FromInt(2))
	if got, _ := m.Table.LookupString("a"); got.Int() != 2 {
		t.Errorf("a = %s, want the replaced 2", v.ValueString(got))
	}
	_, err := trySend(v, mv, OperStoreAt.Key(), v.StringValue("b"), FromInt(3))
	wantRuntimeError(t, err, "Maximum number of entries reached in Map.")
}

func TestRangeMethods(t *testing.T) {
	v := newTestVM(t)
	r := FromObject(v.NewRange(2, 5, true))
	runSendCases(t, v, []sendCase{
		{"count", r, nil, "4"},
		{"from", r, nil, "2"},
		{"to", r, nil, "5"},
		{"contains", r, []Value{FromInt(3)}, "true"},
		{"contains", r, []Value{FromInt(9)}, "false"},
		{"iterate", r, []Value{Null}, "2"},
		{"iterate", r, []Value{FromInt(4)}, "5"},
		{"iterate", r, []Value{FromInt(5)}, "false"},
		{"iterate", FromObject(v.NewRange(5, 2, true)), []Value{Null}, "false"},
		{"count", FromObject(v.NewRange(5, 2, true)), nil, "4"},
		{OperExec.Key(), FromObject(v.Core("Range")), []Value{FromInt(1), FromInt(4)}, "1...4"},
	})
}

// ---------------------------------------------------------------------------
// Numbers
// ---------------------------------------------------------------------------

func TestIntLoop(t *testing.T) {
	v := newTestVM(t)
	v.SetGlobal("n", FromInt(0))
	b := NewFunctionBuilder("tick", 2).SetTemps(1)
	kn := b.Const(v.StringValue("n"))
	one := b.Const(FromInt(1))
	b.AN(OpLOADG, 2, kn)
	b.ABC(OpADD, 2, 2, K(one))
	b.AN(OpSTOREG, 2, kn)
	b.Ret0()

	elapsed := send(t, v, FromInt(4), "loop", FromObject(b.BuildClosure(v)))
	if !elapsed.IsInt() || elapsed.Int() < 0 {
		t.Errorf("loop returned %s, want elapsed nanoseconds", v.ValueString(elapsed))
	}
	if n, _ := v.Global("n"); n.Int() != 4 {
		t.Errorf("callback ran %s times, want 4", v.ValueString(n))
	}
}

func TestNumberMethods(t *testing.T) {
	v := newTestVM(t)
	intClass := FromObject(v.Core("Int"))
	floatClass := FromObject(v.Core("Float"))
	runSendCases(t, v, []sendCase{
		{"random", intClass, []Value{FromInt(3), FromInt(3)}, "3"},
		{OperExec.Key(), intClass, []Value{v.StringValue("42")}, "42"},
		{OperExec.Key(), intClass, []Value{FromFloat64(2.9)}, "2"},
		{OperExec.Key(), floatClass, []Value{v.StringValue("2.5")}, "2.5"},
		{"round", FromFloat64(2.4), nil, "2.0"},
		{"floor", FromFloat64(2.7), nil, "2.0"},
		{"ceil", FromFloat64(2.1), nil, "3.0"},
		{"isClose", FromFloat64(1), []Value{FromFloat64(1 + 1e-12)}, "true"},
		{"isClose", FromFloat64(1), []Value{FromFloat64(1.1)}, "false"},
		{"isClose", FromFloat64(1), []Value{FromFloat64(1.1), FromFloat64(0.2)}, "true"},
		{OperDiv.Key(), FromInt(7), []Value{v.StringValue("2")}, "3"},
		{OperAdd.Key(), FromFloat64(0.5), []Value{FromInt(1)}, "1.5"},
	})

	for i := 0; i < 20; i++ {
		n := send(t, v, intClass, "random", FromInt(5), FromInt(1)).Int()
		if n < 1 || n > 5 {
			t.Fatalf("Int.random(5, 1) = %d, outside 1...5", n)
		}
	}
	if r := send(t, v, FromInt(180), "radians").Float64(); math.Abs(r-math.Pi) > 1e-12 {
		t.Errorf("180.radians = %v, want pi", r)
	}
	if got := send(t, v, intClass, "max"); got.Int() != math.MaxInt64 {
		t.Errorf("Int.max = %s", v.ValueString(got))
	}
}

func TestNumberErrors(t *testing.T) {
	v := newTestVM(t)
	intClass := FromObject(v.Core("Int"))
	runSendErrors(t, v, []sendErrCase{
		{OperDiv.Key(), FromInt(1), []Value{FromInt(0)}, "Division by 0 error."},
		{OperRem.Key(), FromFloat64(1), []Value{FromFloat64(0)}, "Reminder by 0 error."},
		{"random", intClass, []Value{FromInt(1)}, "Int.random() expects 2 integer arguments"},
		{"random", intClass, []Value{FromInt(1), FromFloat64(2)}, "Int.random() arguments must be integers"},
		{OperAdd.Key(), FromInt(1), []Value{FromObject(v.NewList(0))}, "Unable to convert object to Int."},
	})
}

// ---------------------------------------------------------------------------
// Object and Class
// ---------------------------------------------------------------------------

func TestObjectIntrospection(t *testing.T) {
	v := newTestVM(t)
	c := v.NewClass("Holder", nil, 1, 0)
	v.RegisterClass(c)
	v.BindMethod(c, "greet", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, vm.StringValue("hi"))
	})
	v.BindProperty(c, "size", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(1))
	}, nil)
	cv := FromObject(c)
	inst := FromObject(v.NewInstance(c))

	runSendCases(t, v, []sendCase{
		{"name", cv, nil, "Holder"},
		{"methods", cv, nil, `["greet"]`},
		{"properties", cv, nil, `["size"]`},
		{"respondTo", inst, []Value{v.StringValue("greet")}, "true"},
		{"respondTo", inst, []Value{v.StringValue("String")}, "true"},
		{"respondTo", inst, []Value{v.StringValue("nope")}, "false"},
		{OperIs.Key(), inst, []Value{cv}, "true"},
		{OperIs.Key(), inst, []Value{FromObject(v.Core("Object"))}, "true"},
		{OperIs.Key(), inst, []Value{FromObject(v.Core("Int"))}, "false"},
		{OperEqq.Key(), FromInt(1), []Value{FromFloat64(1)}, "false"},
		{"!==", FromInt(1), []Value{FromFloat64(1)}, "true"},
		{OperEqq.Key(), v.StringValue("a"), []Value{v.StringValue("a")}, "true"},
	})
	if n := send(t, v, inst, "_size"); !n.IsInt() || n.Int() <= 0 {
		t.Errorf("_size = %s, want a positive Int", v.ValueString(n))
	}
}

func TestObjectClone(t *testing.T) {
	v := newTestVM(t)
	c := v.NewClass("Pair", nil, 1, 0)
	orig := v.NewInstance(c)
	orig.Ivars[0] = FromInt(5)
	cp := send(t, v, FromObject(orig), "clone").AsInstance()
	if cp == nil || cp == orig {
		t.Fatal("clone should return a distinct instance")
	}
	if cp.Ivars[0].Int() != 5 || cp.Class() != c {
		t.Errorf("clone = %s of %s, want slot 5 of Pair", v.ValueString(cp.Ivars[0]), cp.Class().Name)
	}

	_, err := trySend(v, FromInt(1), "clone")
	wantRuntimeError(t, err, "Unable to clone non instance object.")
}

func TestObjectBindPerInstance(t *testing.T) {
	v := newTestVM(t)
	c := v.NewClass("Widget", nil, 0, 0)
	a, b := FromObject(v.NewInstance(c)), FromObject(v.NewInstance(c))
	hello := v.NewInternalClosure("hello", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, vm.StringValue("hello"))
	})

	send(t, v, a, "bind", v.StringValue("hello"), FromObject(hello))
	if got := send(t, v, a, "respondTo", v.StringValue("hello")); got != True {
		t.Error("bound instance should respond to the new method")
	}
	if got := send(t, v, b, "respondTo", v.StringValue("hello")); got != False {
		t.Error("bind leaked to a sibling instance")
	}
	if sub := a.AsInstance().Class(); sub == c || sub.Super != c {
		t.Errorf("bound instance class = %s, want an anonymous subclass of Widget", sub.Name)
	}

	_, err := trySend(v, FromObject(v.Core("Int")), "bind", v.StringValue("x"), FromObject(hello))
	wantRuntimeError(t, err, "Unable to bind method to a core class.")
	v.Reset()
	_, err = trySend(v, FromInt(3), "bind", v.StringValue("x"), FromObject(hello))
	wantRuntimeError(t, err, "bind method can be applied only to instances or classes.")
}
