package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Object: common interface of every heap entity
// ---------------------------------------------------------------------------

// Object is implemented by every heap type (String, List, Map, Range,
// Function, Closure, Upvalue, Class, Instance, Fiber). The set is closed:
// only this package can add variants.
type Object interface {
	header() *objHeader

	// Trace pushes every object referenced by the receiver onto t.
	Trace(t *Tracer)

	// Size returns the number of bytes accounted to the receiver.
	Size() int
}

// objHeader is embedded in every heap object.
type objHeader struct {
	class  *Class // runtime class (isa)
	id     uint64 // unique per VM, used for identity hashing
	handle Handle // arena slot, zero when untracked
	mark   uint32 // GC epoch of the last mark
}

func (h *objHeader) header() *objHeader { return h }

// Class returns the object's runtime class.
func (h *objHeader) Class() *Class { return h.class }

// Handle returns the arena handle of the object. Core objects created during
// bootstrap are untracked and return the zero handle.
func (h *objHeader) Handle() Handle { return h.handle }

// Approximate accounted sizes of the Go structures.
const (
	valueSize  = 32
	headerSize = 40
)

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

// String is an immutable byte string with a cached hash.
type String struct {
	objHeader
	s    string
	hash uint32
}

func (s *String) String() string { return s.s }

// Len returns the length in bytes.
func (s *String) Len() int { return len(s.s) }

// HashCode returns the cached content hash.
func (s *String) HashCode() uint32 { return s.hash }

func (s *String) Trace(t *Tracer) {}

func (s *String) Size() int { return headerSize + 24 + len(s.s) }

// NewString allocates a String on the VM heap.
func (vm *VM) NewString(s string) *String {
	str := &String{s: s, hash: hashString(s)}
	vm.track(str, vm.core.String)
	return str
}

// StringValue allocates a String and returns it as a Value.
func (vm *VM) StringValue(s string) Value {
	return FromObject(vm.NewString(s))
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

// List is a growable array of Values.
type List struct {
	objHeader
	Items []Value
}

func (l *List) Trace(t *Tracer) {
	for _, v := range l.Items {
		t.MarkValue(v)
	}
}

func (l *List) Size() int { return headerSize + 24 + cap(l.Items)*valueSize }

// Len returns the number of items.
func (l *List) Len() int { return len(l.Items) }

// NewList allocates a List with capacity n.
func (vm *VM) NewList(n int) *List {
	if n < 0 {
		n = 0
	}
	l := &List{Items: make([]Value, 0, n)}
	vm.track(l, vm.core.List)
	return l
}

// NewListFrom allocates a List holding a copy of items.
func (vm *VM) NewListFrom(items []Value) *List {
	l := &List{Items: append([]Value(nil), items...)}
	vm.track(l, vm.core.List)
	return l
}

// ---------------------------------------------------------------------------
// Map
// ---------------------------------------------------------------------------

// Map is the language dictionary type.
type Map struct {
	objHeader
	Table *HashTable
}

func (m *Map) Trace(t *Tracer) {
	m.Table.Iterate(func(k, v Value) bool {
		t.MarkValue(k)
		t.MarkValue(v)
		return true
	})
}

func (m *Map) Size() int { return headerSize + 8 + m.Table.Size() }

// NewMap allocates a Map sized for n entries.
func (vm *VM) NewMap(n int) *Map {
	m := &Map{Table: NewHashTable(n)}
	vm.track(m, vm.core.Map)
	return m
}

// ---------------------------------------------------------------------------
// Range
// ---------------------------------------------------------------------------

// Range is an integer interval. Both bounds are inclusive once built.
type Range struct {
	objHeader
	From int64
	To   int64
}

func (r *Range) Trace(t *Tracer) {}

func (r *Range) Size() int { return headerSize + 16 }

// Count returns the number of integers covered.
func (r *Range) Count() int64 {
	if r.From > r.To {
		return r.From - r.To + 1
	}
	return r.To - r.From + 1
}

// NewRange allocates a Range. An exclusive range drops its upper bound.
func (vm *VM) NewRange(from, to int64, inclusive bool) *Range {
	if !inclusive {
		if to >= from {
			to--
		} else {
			to++
		}
	}
	r := &Range{From: from, To: to}
	vm.track(r, vm.core.Range)
	return r
}

// ---------------------------------------------------------------------------
// Debug rendering
// ---------------------------------------------------------------------------

// objectName returns a short description used in error messages.
func objectName(o Object) string {
	switch x := o.(type) {
	case *String:
		return "String"
	case *List:
		return "List"
	case *Map:
		return "Map"
	case *Range:
		return "Range"
	case *Function:
		return "Func " + x.DisplayName()
	case *Closure:
		return "Closure " + x.Function.DisplayName()
	case *Class:
		return "Class " + x.Name
	case *Instance:
		return "Instance of " + x.class.Name
	case *Fiber:
		return "Fiber"
	case *Upvalue:
		return "Upvalue"
	}
	return "Object"
}

// joinValues renders vs with sep using the VM string conversion.
func (vm *VM) joinValues(vs []Value, sep string) string {
	var b strings.Builder
	for i, v := range vs {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(vm.ValueString(v))
	}
	return b.String()
}
