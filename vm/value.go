package vm

import (
	"math"
	"strconv"
)

// Value represents an atom value as a closed sum type.
//
// Scalars (Null, Undefined, Bool, Int, Float) are stored inline in the
// 64-bit payload. Everything else is a reference to a heap Object. Type
// identity for scalars is the kind; for objects it is the object's class.
//
// Encoding scheme:
//   - Null:      kind KindNull, payload 0
//   - Undefined: kind KindUndefined, payload 1 (same class as Null)
//   - Bool:      kind KindBool, payload 0 or 1
//   - Int:       kind KindInt, payload is the two's complement int64
//   - Float:     kind KindFloat, payload is the IEEE 754 bit pattern
//   - Object:    kind KindObject, o holds the reference
type Value struct {
	kind Kind
	n    uint64
	o    Object
}

// Kind is the discriminant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindUndefined
	KindBool
	KindInt
	KindFloat
	KindObject
)

var kindNames = [...]string{"null", "undefined", "bool", "int", "float", "object"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Pre-defined scalar values
var (
	Null      = Value{kind: KindNull}
	Undefined = Value{kind: KindUndefined, n: 1}
	True      = Value{kind: KindBool, n: 1}
	False     = Value{kind: KindBool, n: 0}
)

// floatEpsilon is the tolerance used by Float equality.
const floatEpsilon = 1e-9

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromInt creates an Int value.
func FromInt(n int64) Value {
	return Value{kind: KindInt, n: uint64(n)}
}

// FromFloat64 creates a Float value.
func FromFloat64(f float64) Value {
	return Value{kind: KindFloat, n: math.Float64bits(f)}
}

// FromBool converts a Go bool to True or False.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromObject wraps a heap object. A nil object becomes Null.
func FromObject(o Object) Value {
	if o == nil {
		return Null
	}
	return Value{kind: KindObject, o: o}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsBool() bool      { return v.kind == KindBool }
func (v Value) IsInt() bool       { return v.kind == KindInt }
func (v Value) IsFloat() bool     { return v.kind == KindFloat }
func (v Value) IsObject() bool    { return v.kind == KindObject }

// IsNullLike returns true for both Null and Undefined, which share a class.
func (v Value) IsNullLike() bool {
	return v.kind == KindNull || v.kind == KindUndefined
}

// IsNumber returns true for Int and Float.
func (v Value) IsNumber() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// IsString returns true if v references a String object.
func (v Value) IsString() bool {
	_, ok := v.o.(*String)
	return v.kind == KindObject && ok
}

// IsClosure returns true if v references a Closure.
func (v Value) IsClosure() bool {
	_, ok := v.o.(*Closure)
	return v.kind == KindObject && ok
}

// IsClass returns true if v references a Class.
func (v Value) IsClass() bool {
	_, ok := v.o.(*Class)
	return v.kind == KindObject && ok
}

// IsInstance returns true if v references an Instance.
func (v Value) IsInstance() bool {
	_, ok := v.o.(*Instance)
	return v.kind == KindObject && ok
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Int returns the integer payload. Only meaningful when IsInt or IsBool.
func (v Value) Int() int64 {
	return int64(v.n)
}

// Float64 returns the float payload. Only meaningful when IsFloat.
func (v Value) Float64() float64 {
	return math.Float64frombits(v.n)
}

// Bool returns the boolean payload. Only meaningful when IsBool.
func (v Value) Bool() bool {
	return v.n != 0
}

// Object returns the referenced object, or nil for scalars.
func (v Value) Object() Object {
	if v.kind != KindObject {
		return nil
	}
	return v.o
}

// AsString returns the String object or nil.
func (v Value) AsString() *String {
	s, _ := v.o.(*String)
	return s
}

// AsList returns the List object or nil.
func (v Value) AsList() *List {
	l, _ := v.o.(*List)
	return l
}

// AsMap returns the Map object or nil.
func (v Value) AsMap() *Map {
	m, _ := v.o.(*Map)
	return m
}

// AsRange returns the Range object or nil.
func (v Value) AsRange() *Range {
	r, _ := v.o.(*Range)
	return r
}

// AsClosure returns the Closure object or nil.
func (v Value) AsClosure() *Closure {
	c, _ := v.o.(*Closure)
	return c
}

// AsFunction returns the Function object or nil.
func (v Value) AsFunction() *Function {
	f, _ := v.o.(*Function)
	return f
}

// AsClass returns the Class object or nil.
func (v Value) AsClass() *Class {
	c, _ := v.o.(*Class)
	return c
}

// AsInstance returns the Instance object or nil.
func (v Value) AsInstance() *Instance {
	i, _ := v.o.(*Instance)
	return i
}

// AsFiber returns the Fiber object or nil.
func (v Value) AsFiber() *Fiber {
	f, _ := v.o.(*Fiber)
	return f
}

// Str returns the Go string of a String value, or "" otherwise.
func (v Value) Str() string {
	if s := v.AsString(); s != nil {
		return s.s
	}
	return ""
}

// ---------------------------------------------------------------------------
// Equality and hashing
// ---------------------------------------------------------------------------

// Equals reports structural equality. Values of different kinds or classes
// are never equal.
func Equals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull, KindUndefined, KindBool, KindInt:
		return a.n == b.n
	case KindFloat:
		return math.Abs(a.Float64()-b.Float64()) < floatEpsilon
	}

	switch x := a.o.(type) {
	case *String:
		y, ok := b.o.(*String)
		if !ok {
			return false
		}
		if x.hash != y.hash || len(x.s) != len(y.s) {
			return false
		}
		return x.s == y.s
	case *Range:
		y, ok := b.o.(*Range)
		return ok && x.From == y.From && x.To == y.To
	case *List:
		y, ok := b.o.(*List)
		if !ok || len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !Equals(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	case *Map:
		y, ok := b.o.(*Map)
		return ok && x.Table.Compare(y.Table, Equals)
	}
	return a.o == b.o
}

// Hash returns the table hash of v. String hashes are cached on the object.
// Lists, Ranges and Maps hash by content so that keys equal under Equals
// share a bucket; mutating such a key after insertion loses its entry.
// Floats hash their six-decimal text, so two floats within the Equals
// epsilon that round apart at the sixth decimal land in different buckets.
func Hash(v Value) uint32 {
	return hashValue(v, 0)
}

// maxHashDepth bounds the walk into nested containers. Deeper levels add
// only their kind, which also stops self-referencing lists.
const maxHashDepth = 8

func hashValue(v Value, depth int) uint32 {
	switch v.kind {
	case KindNull, KindUndefined, KindBool, KindInt:
		return hashBytes(strconv.AppendInt(nil, int64(v.n), 10))
	case KindFloat:
		return hashBytes(strconv.AppendFloat(nil, v.Float64(), 'f', 6, 64))
	}
	switch x := v.o.(type) {
	case *String:
		return x.hash
	case *Range:
		var buf [16]byte
		putUint64(buf[:8], uint64(x.From))
		putUint64(buf[8:], uint64(x.To))
		return hashBytes(buf[:])
	case *List:
		h := uint32(len(x.Items)) + 0x9e3779b9
		if depth >= maxHashDepth {
			return h
		}
		for _, item := range x.Items {
			h = h*31 + hashValue(item, depth+1)
		}
		return h
	case *Map:
		h := uint32(x.Table.Count()) + 0x85ebca6b
		if depth >= maxHashDepth {
			return h
		}
		// entry order depends on insertion history, so combine commutatively
		x.Table.Iterate(func(k, e Value) bool {
			h += hashValue(k, depth+1)*31 ^ hashValue(e, depth+1)
			return true
		})
		return h
	}
	var buf [8]byte
	putUint64(buf[:], v.o.header().id)
	return hashBytes(buf[:])
}

func putUint64(b []byte, n uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(n >> (8 * i))
	}
}

// ---------------------------------------------------------------------------
// Truthiness
// ---------------------------------------------------------------------------

// isFalsyScalar implements the scalar part of JUMPF truthiness. The second
// result is false when v needs a Bool conversion through its class.
func isFalsyScalar(v Value) (falsy bool, decided bool) {
	switch v.kind {
	case KindNull, KindUndefined:
		return true, true
	case KindBool, KindInt:
		return v.n == 0, true
	case KindFloat:
		return v.Float64() == 0.0, true
	}
	if s, ok := v.o.(*String); ok {
		return len(s.s) == 0, true
	}
	return false, false
}
