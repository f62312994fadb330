package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/atom/artifact"
)

func fnObject(f *artifact.Function) artifact.Object {
	return artifact.Object{Type: artifact.TypeFunction, Function: f}
}

// constFn returns a function that loads pool entry 0 and returns it.
func constFn(name string, c artifact.Constant) *artifact.Function {
	return &artifact.Function{
		Name:      name,
		NParams:   1,
		NTemps:    1,
		Bytecode:  []uint32{EncodeAN(OpLOADK, 1, 0), EncodeABC(OpRET, 1, 0, 0)},
		Constants: []artifact.Constant{c},
	}
}

// shapes declares Point with a superclass declared after it, an ivar
// accessor and a computed property.
func shapes() *artifact.Unit {
	point := &artifact.Class{
		Name:  "Point",
		Super: "Shape",
		NIvar: 2,
		Members: []artifact.Object{
			fnObject(&artifact.Function{Name: "y", Tag: artifact.TagSpecial, Index: 2}),
			fnObject(&artifact.Function{
				Name:   "area",
				Tag:    artifact.TagSpecial,
				Index:  ComputedIndex,
				Getter: constFn("$get", artifact.Int(42)),
			}),
		},
		Meta: []artifact.Object{fnObject(constFn("origin", artifact.String("o")))},
	}
	shape := &artifact.Class{Name: "Shape", NIvar: 1}
	return &artifact.Unit{Objects: []artifact.Object{
		{Type: artifact.TypeClass, Class: point},
		{Type: artifact.TypeClass, Class: shape},
	}}
}

// loadKey runs LOAD recv.key through the interpreter.
func loadKey(t *testing.T, v *VM, recv Value, key string) Value {
	t.Helper()
	b := NewFunctionBuilder("get", 2).SetTemps(1)
	k := b.Const(v.StringValue(key))
	b.ABC(OpLOAD, 2, 1, K(k))
	b.Ret(2)
	return runBuilt(t, v, b, recv)
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoadClasses(t *testing.T) {
	v := newTestVM(t)
	if _, err := v.Load(shapes()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pv, ok := v.Global("Point")
	if !ok || !pv.IsClass() {
		t.Fatal("Point is not a global class")
	}
	point := pv.AsClass()
	if point.Super == nil || point.Super.Name != "Shape" {
		t.Fatalf("Point super = %v, want Shape", point.Super)
	}
	if point.NIvars != 3 {
		t.Errorf("Point ivars = %d, want 3 including the inherited one", point.NIvars)
	}

	inst := v.NewInstance(point)
	if len(inst.Ivars) != 3 {
		t.Fatalf("instance has %d slots, want 3", len(inst.Ivars))
	}
	inst.Ivars[2] = FromInt(9)
	if got := loadKey(t, v, FromObject(inst), "y"); got.Int() != 9 {
		t.Errorf("inst.y = %s, want 9", v.ValueString(got))
	}
	if got := loadKey(t, v, FromObject(inst), "area"); got.Int() != 42 {
		t.Errorf("inst.area = %s, want 42", v.ValueString(got))
	}
	if got := loadKey(t, v, pv, "origin"); !got.IsClosure() {
		t.Errorf("Point.origin = %s, want the static method", v.ValueString(got))
	}
}

func TestLoadGlobalsAndEntry(t *testing.T) {
	v := newTestVM(t)
	init := &artifact.Function{
		Name:    artifact.InitModuleName,
		NParams: 1,
		NTemps:  1,
		Bytecode: []uint32{
			EncodeAN(OpLOADK, 1, 0),
			EncodeAN(OpSTOREG, 1, 1),
			EncodeABC(OpRET, 1, 0, 0),
		},
		Constants: []artifact.Constant{artifact.Int(5), artifact.String("initialized")},
	}
	u := &artifact.Unit{Objects: []artifact.Object{
		fnObject(init),
		fnObject(constFn("main", artifact.Int(7))),
		{Type: artifact.TypeMap, Map: &artifact.Map{
			Name:    "colors",
			Entries: []artifact.MapEntry{{Key: "red", Value: artifact.Int(1)}},
		}},
		{Type: artifact.TypeRange, Range: &artifact.Range{Name: "span", From: 1, To: 10}},
		fnObject(constFn("$anon_3", artifact.Null())),
	}}

	entry, err := v.Load(u)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry == nil || entry.Function.Name != artifact.InitModuleName {
		t.Fatalf("entry = %v, want the module init closure", entry)
	}
	if _, ok := v.Global(artifact.InitModuleName); ok {
		t.Error("module init should not become a global")
	}
	if _, ok := v.Global("$anon_3"); ok {
		t.Error("anonymous function should not become a global")
	}

	colors, ok := v.Global("colors")
	if !ok || colors.AsMap() == nil {
		t.Fatal("colors is not a global map")
	}
	if got, _ := colors.AsMap().Table.LookupString("red"); got.Int() != 1 {
		t.Errorf("colors.red = %s, want 1", v.ValueString(got))
	}
	span, _ := v.Global("span")
	if s := v.ValueString(span); s != "1...10" {
		t.Errorf("span = %q, want 1...10", s)
	}

	res, err := v.RunMain(entry)
	if err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	if res.Int() != 7 {
		t.Errorf("RunMain = %s, want main's 7", v.ValueString(res))
	}
	if g, _ := v.Global("initialized"); g.Int() != 5 {
		t.Errorf("initialized = %s, want 5 stored by the entry", v.ValueString(g))
	}
}

func TestRunMainWithoutMain(t *testing.T) {
	v := newTestVM(t)
	entry, err := v.Load(&artifact.Unit{Objects: []artifact.Object{
		fnObject(constFn(artifact.InitModuleName, artifact.Int(3))),
	}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	res, err := v.RunMain(entry)
	if err != nil || res.Int() != 3 {
		t.Errorf("RunMain = %s, %v, want the entry's 3", v.ValueString(res), err)
	}
	if res, err := v.RunMain(nil); err != nil || !res.IsNull() {
		t.Errorf("RunMain(nil) = %s, %v, want null", v.ValueString(res), err)
	}
}

func TestLoadSuperFromEarlierUnit(t *testing.T) {
	v := newTestVM(t)
	base := &artifact.Unit{Objects: []artifact.Object{
		{Type: artifact.TypeClass, Class: &artifact.Class{Name: "Base", NIvar: 2}},
	}}
	if _, err := v.Load(base); err != nil {
		t.Fatalf("Load base: %v", err)
	}
	derived := &artifact.Unit{Objects: []artifact.Object{
		{Type: artifact.TypeClass, Class: &artifact.Class{Name: "Derived", Super: "Base", NIvar: 1}},
	}}
	if _, err := v.Load(derived); err != nil {
		t.Fatalf("Load derived: %v", err)
	}
	d, _ := v.Global("Derived")
	if c := d.AsClass(); c.Super == nil || c.Super.Name != "Base" || c.NIvars != 3 {
		t.Errorf("Derived = super %v with %d ivars, want Base with 3", c.Super, c.NIvars)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestLoadUnknownSuper(t *testing.T) {
	v := newTestVM(t)
	_, err := v.Load(&artifact.Unit{Objects: []artifact.Object{
		{Type: artifact.TypeClass, Class: &artifact.Class{Name: "Orphan", Super: "Missing"}},
	}})
	rerr := wantRuntimeError(t, err, "Unable to find superclass Missing of class Orphan.")
	if rerr.Kind != ErrorCompile {
		t.Errorf("kind = %v, want compile", rerr.Kind)
	}
}

func TestLoadJSONErrors(t *testing.T) {
	v := newTestVM(t)
	_, err := v.LoadJSON([]byte(`{"broken": `))
	rerr := wantRuntimeError(t, err, "Unable to parse JSON executable file.")
	if rerr.Kind != ErrorCompile {
		t.Errorf("kind = %v, want compile", rerr.Kind)
	}
	if !errors.Is(err, artifact.ErrMalformed) {
		t.Errorf("error %v should wrap the decode error", err)
	}
}

func TestLoadJSON(t *testing.T) {
	v := newTestVM(t)
	doc := `{
		"main": {"type": "function", "identifier": "main", "tag": 0, "nparam": 1, "ntemp": 1,
			"bytecode": "` + artifact.EncodeHex([]uint32{EncodeAN(OpLOADK, 1, 0), EncodeABC(OpRET, 1, 0, 0)}) + `",
			"pool": ["hello"]}
	}`
	entry, err := v.LoadJSON([]byte(doc))
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	res, err := v.RunMain(entry)
	if err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	if s := v.ValueString(res); s != "hello" {
		t.Errorf("main = %q, want hello", s)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		unit *artifact.Unit
	}{
		{"nil unit", nil},
		{"oversized frame", &artifact.Unit{Objects: []artifact.Object{
			fnObject(&artifact.Function{Name: "big", NParams: 1, NLocals: 200, NTemps: 100}),
		}}},
		{"bad ivar index", &artifact.Unit{Objects: []artifact.Object{
			{Type: artifact.TypeClass, Class: &artifact.Class{Name: "C", Members: []artifact.Object{
				fnObject(&artifact.Function{Name: "v", Tag: artifact.TagSpecial, Index: 70000}),
			}}},
		}}},
		{"empty object", &artifact.Unit{Objects: []artifact.Object{{Type: artifact.TypeMap}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVM(t)
			if _, err := v.Load(tt.unit); err == nil {
				t.Error("Load succeeded, want an error")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

func TestDisassembleUnit(t *testing.T) {
	v := newTestVM(t)
	out, err := v.DisassembleUnit(shapes())
	if err != nil {
		t.Fatalf("DisassembleUnit: %v", err)
	}
	for _, want := range []string{
		"func $get (native) params=1 locals=0 temps=1 upvalues=0",
		"func origin (native)",
		"0000  LOADK 1 0",
		"0001  RET 1",
		"K0 = 42",
		`K0 = "o"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
	if _, ok := v.Global("Point"); ok {
		t.Error("DisassembleUnit should not register classes")
	}
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

// vecUnit declares Vec with x and y accessors, an init storing both and a
// + that builds a new Vec, plus a main returning Vec(1,2) + Vec(3,4).
func vecUnit() *artifact.Unit {
	x, y := artifact.String("x"), artifact.String("y")
	init := &artifact.Function{
		Name:    "init",
		NParams: 3,
		Bytecode: []uint32{
			EncodeABC(OpSTORE, 1, 0, K(0)),
			EncodeABC(OpSTORE, 2, 0, K(1)),
			EncodeN(OpRET0, 0),
		},
		Constants: []artifact.Constant{x, y},
	}
	plus := &artifact.Function{
		Name:    "+",
		NParams: 2,
		NTemps:  6,
		Bytecode: []uint32{
			EncodeABC(OpLOAD, 2, 0, K(0)),
			EncodeABC(OpLOAD, 3, 1, K(0)),
			EncodeABC(OpADD, 2, 2, 3),
			EncodeABC(OpLOAD, 3, 0, K(1)),
			EncodeABC(OpLOAD, 4, 1, K(1)),
			EncodeABC(OpADD, 3, 3, 4),
			EncodeAN(OpLOADG, 4, 2),
			EncodeAN(OpMOVE, 5, 4),
			EncodeAN(OpMOVE, 6, 2),
			EncodeAN(OpMOVE, 7, 3),
			EncodeABC(OpCALL, 2, 4, 3),
			EncodeABC(OpRET, 2, 0, 0),
		},
		Constants: []artifact.Constant{x, y, artifact.String("Vec")},
	}
	vec := &artifact.Class{
		Name:  "Vec",
		NIvar: 2,
		Members: []artifact.Object{
			fnObject(&artifact.Function{Name: "x", Tag: artifact.TagSpecial, Index: 0}),
			fnObject(&artifact.Function{Name: "y", Tag: artifact.TagSpecial, Index: 1}),
			fnObject(init),
			fnObject(plus),
		},
	}
	newVec := func(a, b int32) []uint32 {
		return []uint32{
			EncodeAN(OpLOADG, 1, 0),
			EncodeAN(OpMOVE, 2, 1),
			EncodeASN(OpLOADI, 3, false, uint32(a)),
			EncodeASN(OpLOADI, 4, false, uint32(b)),
		}
	}
	code := append(newVec(1, 2), EncodeABC(OpCALL, 5, 1, 3))
	code = append(code, newVec(3, 4)...)
	code = append(code,
		EncodeABC(OpCALL, 6, 1, 3),
		EncodeABC(OpADD, 1, 5, 6),
		EncodeABC(OpRET, 1, 0, 0),
	)
	main := &artifact.Function{
		Name:      "main",
		NParams:   1,
		NTemps:    6,
		Bytecode:  code,
		Constants: []artifact.Constant{artifact.String("Vec")},
	}
	return &artifact.Unit{Objects: []artifact.Object{
		{Type: artifact.TypeClass, Class: vec},
		fnObject(main),
	}}
}

func TestVecEndToEnd(t *testing.T) {
	v := newTestVM(t)
	entry, err := v.Load(vecUnit())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	res, err := v.RunMain(entry)
	if err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	inst := res.AsInstance()
	if inst == nil || v.ClassOf(res).Name != "Vec" {
		t.Fatalf("result = %s, want a Vec", v.ValueString(res))
	}
	if x, y := loadKey(t, v, res, "x"), loadKey(t, v, res, "y"); x.Int() != 4 || y.Int() != 6 {
		t.Errorf("Vec(1,2) + Vec(3,4) = (%s, %s), want (4, 6)", v.ValueString(x), v.ValueString(y))
	}
}
