package vm

import (
	"testing"
)

func alive(v *VM, o Object) bool {
	_, ok := v.Resolve(o.header().Handle())
	return ok
}

// ---------------------------------------------------------------------------
// Roots
// ---------------------------------------------------------------------------

func TestGCSweepsUnreachable(t *testing.T) {
	v := newTestVM(t)
	garbage := v.NewString("garbage")
	kept := v.NewString("kept")
	v.SetGlobal("kept", FromObject(kept))
	if !alive(v, garbage) {
		t.Fatal("a fresh object should resolve")
	}

	v.GC()
	if alive(v, garbage) {
		t.Error("unreachable string survived a collection")
	}
	if !alive(v, kept) {
		t.Error("global string was collected")
	}
}

func TestGCTempRoots(t *testing.T) {
	v := newTestVM(t)
	l := v.NewList(0)
	v.PushTemp(l)
	v.GC()
	if !alive(v, l) {
		t.Fatal("temp-rooted list was collected")
	}
	v.PopTemp()
	v.GC()
	if alive(v, l) {
		t.Error("list survived after its temp root was popped")
	}
}

func TestGCPinnedClosures(t *testing.T) {
	v := newTestVM(t)
	c := countdown(v)
	v.Pin(c)
	v.Pin(c)
	v.GC()
	v.Unpin(c)
	v.GC()
	if !alive(v, c) || !alive(v, c.Function) {
		t.Fatal("closure pinned twice and unpinned once was collected")
	}
	v.Unpin(c)
	v.GC()
	if alive(v, c) {
		t.Error("closure survived after its last Unpin")
	}
}

func TestGCReachableThroughClasses(t *testing.T) {
	v := newTestVM(t)
	c := v.NewClass("Holder", nil, 0, 1)
	v.RegisterClass(c)
	inner := v.NewString("static")
	c.Ivars[0] = FromObject(inner)
	v.GC()
	if !alive(v, c) || !alive(v, c.Meta()) || !alive(v, inner) {
		t.Error("class, metaclass or static slot value was collected")
	}
}

func TestGCCoreObjectsSurvive(t *testing.T) {
	v := newTestVM(t)
	v.GC()
	if _, err := v.RunClosure(countdown(v), Null, FromInt(5)); err != nil {
		t.Fatalf("run after collection: %v", err)
	}
	got := send(t, v, v.StringValue("abc"), "upper")
	if s := v.ValueString(got); s != "ABC" {
		t.Errorf("upper after collection = %q, want ABC", s)
	}
}

// ---------------------------------------------------------------------------
// Collection during execution
// ---------------------------------------------------------------------------

// churn builds a list of 0..n-1, allocating a throwaway list per step.
func churn(v *VM, n int64) *Closure {
	b := NewFunctionBuilder("churn", 1).SetLocals(2).SetTemps(2)
	limit := b.Const(FromInt(n))
	one := b.Const(FromInt(1))
	loop, end := b.NewLabel(), b.NewLabel()
	b.AN(OpLISTNEW, 1, 0)
	b.LoadI(2, 0)
	b.Mark(loop)
	b.ABC(OpLT, 4, 2, K(limit))
	b.JumpF(4, false, end)
	b.AN(OpLISTNEW, 3, 64)
	b.ABC(OpSETLIST, 1, 1, 0)
	b.ABC(OpADD, 2, 2, K(one))
	b.Jump(loop)
	b.Mark(end)
	b.Ret(1)
	return b.BuildClosure(v)
}

func TestGCDuringExecution(t *testing.T) {
	v := newTestVM(t, func(o *Options) {
		o.GCThreshold = 16 * 1024
		o.GCMinThreshold = 16 * 1024
	})
	res, err := v.RunClosure(churn(v, 500), Null)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	l := res.AsList()
	if l == nil || l.Len() != 500 {
		t.Fatalf("result = %s, want a list of 500", v.ValueString(res))
	}
	for i, item := range l.Items {
		if item.Int() != int64(i) {
			t.Fatalf("item %d = %s", i, v.ValueString(item))
		}
	}
	st := v.Stats()
	if st.Collections == 0 {
		t.Error("no collection ran during an allocation-heavy loop")
	}
	if st.Threshold < 16*1024 {
		t.Errorf("threshold = %d, want at least the configured 16384", st.Threshold)
	}
}

func TestGCDisabled(t *testing.T) {
	v := newTestVM(t, func(o *Options) {
		o.GCEnabled = false
		o.GCThreshold = 4 * 1024
	})
	if v.GCEnabled() {
		t.Fatal("GCEnabled() = true, want false")
	}
	if _, err := v.RunClosure(churn(v, 200), Null); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := v.Stats().Collections; n != 0 {
		t.Errorf("collections = %d with the collector disabled", n)
	}
}

func TestGCDisableNests(t *testing.T) {
	v := newTestVM(t)
	v.GCDisable()
	v.GCDisable()
	v.GCEnable()
	if v.GCEnabled() {
		t.Error("collector enabled after unbalanced GCEnable")
	}
	v.GCEnable()
	if !v.GCEnabled() {
		t.Error("collector still disabled after balanced GCEnable")
	}
}

// ---------------------------------------------------------------------------
// Stats and finalizers
// ---------------------------------------------------------------------------

func TestGCStats(t *testing.T) {
	v := newTestVM(t)
	for i := 0; i < 100; i++ {
		v.NewString("x")
	}
	before := v.Stats()
	v.GC()
	after := v.Stats()
	if after.Collections != before.Collections+1 {
		t.Errorf("collections = %d, want %d", after.Collections, before.Collections+1)
	}
	if after.Objects > before.Objects-100 {
		t.Errorf("objects %d -> %d, want at least 100 swept", before.Objects, after.Objects)
	}
	if after.Threshold < DefaultOptions().GCThreshold {
		t.Errorf("threshold = %d, below the configured %d", after.Threshold, DefaultOptions().GCThreshold)
	}
}

func TestGCRunsDeinit(t *testing.T) {
	v := newTestVM(t)
	c := v.NewClass("Resource", nil, 0, 0)
	v.RegisterClass(c)
	freed := 0
	v.BindMethod(c, "deinit", func(vm *VM, args []Value, dest uint32) bool {
		freed++
		return true
	})
	for i := 0; i < 3; i++ {
		v.NewInstance(c)
	}
	v.GC()
	if freed != 3 {
		t.Errorf("deinit ran %d times, want 3", freed)
	}
	v.GC()
	if freed != 3 {
		t.Errorf("deinit ran again on a later collection: %d", freed)
	}
}

func TestHandleGoesStale(t *testing.T) {
	v := newTestVM(t)
	s := v.NewString("stale")
	h := s.Handle()
	v.GC()
	replacement := v.NewString("fresh")
	if _, ok := v.Resolve(h); ok {
		t.Error("stale handle resolved after its slot was reused")
	}
	if rh := replacement.Handle(); rh.Index == h.Index && rh.Gen == h.Gen {
		t.Error("reused slot kept the old generation")
	}
	if !(Handle{}).IsZero() {
		t.Error("zero handle should report IsZero")
	}
	if _, ok := v.Resolve(Handle{}); ok {
		t.Error("zero handle resolved")
	}
}

// ---------------------------------------------------------------------------
// Dead registers
// ---------------------------------------------------------------------------

// scratchList allocates a large list into r1 and drops it.
func scratchList(v *VM) *Closure {
	b := NewFunctionBuilder("scratch", 1).SetTemps(1)
	b.AN(OpLISTNEW, 1, 1000)
	b.Ret0()
	return b.BuildClosure(v)
}

func TestGCFreesReturnedFrameRegisters(t *testing.T) {
	noop := func(v *VM) *Closure {
		return NewFunctionBuilder("noop", 1).SetTemps(1).Ret0().BuildClosure(v)
	}
	nested := func(v *VM) *Closure {
		b := NewFunctionBuilder("outer", 1).SetTemps(3)
		k := b.Const(FromObject(scratchList(v)))
		b.AN(OpLOADK, 1, k)
		b.Move(2, 0)
		b.Call(1, 1, 1)
		b.Ret0()
		return b.BuildClosure(v)
	}
	tests := []struct {
		name string
		fn   func(v *VM) *Closure
	}{
		{"host call", scratchList},
		{"called from bytecode", nested},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVM(t)
			warm, c := noop(v), tt.fn(v)
			v.Pin(warm)
			v.Pin(c)
			if _, err := v.RunClosure(warm, Null); err != nil {
				t.Fatalf("run: %v", err)
			}
			v.GC()
			before := v.Stats()

			if _, err := v.RunClosure(c, Null); err != nil {
				t.Fatalf("run: %v", err)
			}
			v.GC()
			after := v.Stats()
			if after.Objects != before.Objects || after.Allocated > before.Allocated {
				t.Errorf("objects %d -> %d, bytes %d -> %d, want the dropped list freed",
					before.Objects, after.Objects, before.Allocated, after.Allocated)
			}
		})
	}
}

func TestGCLiveBytesAfterShortLivedObjects(t *testing.T) {
	v := newTestVM(t)
	c := scratchList(v)
	v.Pin(c)
	if _, err := v.RunClosure(c, Null); err != nil {
		t.Fatalf("run: %v", err)
	}
	v.GC()
	before := v.Stats().Allocated

	for i := 0; i < 5; i++ {
		if _, err := v.RunClosure(c, Null); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if grown := v.Stats().Allocated; grown < before+5*1000*valueSize {
		t.Fatalf("allocated = %d after five lists, want at least %d", grown, before+5*1000*valueSize)
	}
	v.GC()
	if after := v.Stats().Allocated; after != before {
		t.Errorf("live bytes = %d after collection, want %d as before the calls", after, before)
	}
}

// ---------------------------------------------------------------------------
// deinit ordering
// ---------------------------------------------------------------------------

func TestGCDeinitSeesLiveReferences(t *testing.T) {
	v := newTestVM(t)
	res := v.NewClass("Res", nil, 1, 0)
	v.RegisterClass(res)

	var payload *List
	var selfAlive, payloadAlive bool
	v.BindMethod(res, "deinit", func(vm *VM, args []Value, dest uint32) bool {
		inst := args[0].AsInstance()
		selfAlive, payloadAlive = alive(vm, inst), alive(vm, payload)
		vm.SetGlobal("keep", inst.Ivars[0])
		return true
	})
	inst := v.NewInstance(res)
	payload = v.NewList(0)
	inst.Ivars[0] = FromObject(payload)

	v.GC()
	if !selfAlive || !payloadAlive {
		t.Fatalf("during deinit: instance alive %v, payload alive %v, want both", selfAlive, payloadAlive)
	}
	if !alive(v, payload) {
		t.Fatal("payload stored by deinit was freed")
	}
	if g, _ := v.Global("keep"); g.AsList() != payload {
		t.Fatal("keep does not hold the payload")
	}

	v.GC()
	if alive(v, inst) {
		t.Error("finalized instance survived a second collection")
	}
	if !alive(v, payload) {
		t.Error("payload held by a global was freed")
	}

	v.SetGlobal("keep", Null)
	v.GC()
	if alive(v, payload) {
		t.Error("payload survived after its last reference was dropped")
	}
}
