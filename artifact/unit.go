// Package artifact describes compiled atom programs as plain data and
// converts them to and from their on-disk forms: the JSON executable
// format, a CBOR binary image, and a msgpack decode cache.
//
// The package has no dependency on the runtime; vm.Load turns a Unit into
// live objects.
package artifact

import "errors"

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrMalformed    = errors.New("malformed artifact")
	ErrBytecode     = errors.New("invalid bytecode encoding")
	ErrUnknownType  = errors.New("unknown object type")
	ErrImageMagic   = errors.New("invalid image magic: expected ATMI")
	ErrImageVersion = errors.New("image version mismatch")
)

// ---------------------------------------------------------------------------
// Unit
// ---------------------------------------------------------------------------

// InitModuleName is the identifier of a unit's entry function.
const InitModuleName = "$moduleinit"

// Unit is one compiled program: an ordered list of top-level objects,
// normally functions and classes.
type Unit struct {
	Objects []Object `cbor:"1,keyasint" msgpack:"objects"`
}

// ObjectType tags the variant held by an Object.
type ObjectType uint8

const (
	TypeFunction ObjectType = iota + 1
	TypeClass
	TypeMap
	TypeRange
)

var objectTypeNames = [...]string{"", "function", "class", "map", "range"}

func (t ObjectType) String() string {
	if int(t) < len(objectTypeNames) && t != 0 {
		return objectTypeNames[t]
	}
	return "unknown"
}

// Object is a tagged union: exactly the field matching Type is set.
type Object struct {
	Type     ObjectType `cbor:"1,keyasint" msgpack:"type"`
	Function *Function  `cbor:"2,keyasint,omitempty" msgpack:"function,omitempty"`
	Class    *Class     `cbor:"3,keyasint,omitempty" msgpack:"class,omitempty"`
	Map      *Map       `cbor:"4,keyasint,omitempty" msgpack:"map,omitempty"`
	Range    *Range     `cbor:"5,keyasint,omitempty" msgpack:"range,omitempty"`
}

// Name returns the identifier of a function or class entry.
func (o *Object) Name() string {
	switch {
	case o.Function != nil:
		return o.Function.Name
	case o.Class != nil:
		return o.Class.Name
	case o.Map != nil:
		return o.Map.Name
	case o.Range != nil:
		return o.Range.Name
	}
	return ""
}

// Tag mirrors the runtime execution kinds.
type Tag uint8

const (
	TagNative Tag = iota
	TagInternal
	TagBridged
	TagSpecial
)

// Function is a compiled function. Special functions (property accessors)
// carry Index and optional Getter/Setter instead of bytecode.
type Function struct {
	Name      string  `cbor:"1,keyasint" msgpack:"name"`
	Tag       Tag     `cbor:"2,keyasint" msgpack:"tag"`
	NParams   uint16  `cbor:"3,keyasint" msgpack:"nparams"`
	NLocals   uint16  `cbor:"4,keyasint" msgpack:"nlocals"`
	NTemps    uint16  `cbor:"5,keyasint" msgpack:"ntemps"`
	NUpvalues uint16  `cbor:"6,keyasint" msgpack:"nupvalues"`
	UseArgs   bool    `cbor:"7,keyasint" msgpack:"useargs"`
	Purity    float64 `cbor:"8,keyasint" msgpack:"purity"`

	Bytecode      []uint32   `cbor:"9,keyasint" msgpack:"bytecode"`
	Lines         []uint32   `cbor:"10,keyasint,omitempty" msgpack:"lines,omitempty"`
	Constants     []Constant `cbor:"11,keyasint" msgpack:"constants"`
	ParamNames    []string   `cbor:"12,keyasint,omitempty" msgpack:"pnames,omitempty"`
	ParamDefaults []Constant `cbor:"13,keyasint,omitempty" msgpack:"pvalues,omitempty"`

	Index  uint32    `cbor:"14,keyasint,omitempty" msgpack:"index,omitempty"`
	Getter *Function `cbor:"15,keyasint,omitempty" msgpack:"getter,omitempty"`
	Setter *Function `cbor:"16,keyasint,omitempty" msgpack:"setter,omitempty"`
}

// Class is a compiled class. Super names the superclass, resolved by the
// loader; an empty Super means Object.
type Class struct {
	Name    string   `cbor:"1,keyasint" msgpack:"name"`
	Super   string   `cbor:"2,keyasint,omitempty" msgpack:"super,omitempty"`
	NIvar   uint32   `cbor:"3,keyasint" msgpack:"nivar"`
	NSvar   uint32   `cbor:"4,keyasint" msgpack:"nsvar"`
	Struct  bool     `cbor:"5,keyasint,omitempty" msgpack:"struct,omitempty"`
	Members []Object `cbor:"6,keyasint,omitempty" msgpack:"members,omitempty"`
	Meta    []Object `cbor:"7,keyasint,omitempty" msgpack:"meta,omitempty"`
}

// Map is a literal map with String keys, in source order. Name is the
// key the map was declared under, empty for anonymous maps.
type Map struct {
	Entries []MapEntry `cbor:"1,keyasint" msgpack:"entries"`
	Name    string     `cbor:"2,keyasint,omitempty" msgpack:"name,omitempty"`
}

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   string   `cbor:"1,keyasint" msgpack:"key"`
	Value Constant `cbor:"2,keyasint" msgpack:"value"`
}

// Range is a literal inclusive integer range.
type Range struct {
	From int64  `cbor:"1,keyasint" msgpack:"from"`
	To   int64  `cbor:"2,keyasint" msgpack:"to"`
	Name string `cbor:"3,keyasint,omitempty" msgpack:"name,omitempty"`
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// ConstKind tags the variant held by a Constant.
type ConstKind uint8

const (
	ConstNull ConstKind = iota
	ConstUndefined
	ConstBool
	ConstInt
	ConstFloat
	ConstString
	ConstList
	ConstObject
)

// Constant is a constant-pool or default-parameter value.
type Constant struct {
	Kind   ConstKind  `cbor:"1,keyasint" msgpack:"kind"`
	Bool   bool       `cbor:"2,keyasint,omitempty" msgpack:"bool,omitempty"`
	Int    int64      `cbor:"3,keyasint,omitempty" msgpack:"int,omitempty"`
	Float  float64    `cbor:"4,keyasint,omitempty" msgpack:"float,omitempty"`
	String string     `cbor:"5,keyasint,omitempty" msgpack:"string,omitempty"`
	List   []Constant `cbor:"6,keyasint,omitempty" msgpack:"list,omitempty"`
	Object *Object    `cbor:"7,keyasint,omitempty" msgpack:"object,omitempty"`
}

// Constructors for the scalar kinds.
func Null() Constant { return Constant{Kind: ConstNull} }
func Undefined() Constant { return Constant{Kind: ConstUndefined} }
func Bool(b bool) Constant { return Constant{Kind: ConstBool, Bool: b} }
func Int(n int64) Constant { return Constant{Kind: ConstInt, Int: n} }
func Float(f float64) Constant { return Constant{Kind: ConstFloat, Float: f} }
func String(s string) Constant { return Constant{Kind: ConstString, String: s} }
func List(cs ...Constant) Constant { return Constant{Kind: ConstList, List: cs} }

// FunctionConst wraps a nested function, as used by CLOSURE.
func FunctionConst(f *Function) Constant {
	return Constant{Kind: ConstObject, Object: &Object{Type: TypeFunction, Function: f}}
}

// ClassConst wraps a nested class.
func ClassConst(c *Class) Constant {
	return Constant{Kind: ConstObject, Object: &Object{Type: TypeClass, Class: c}}
}

// ---------------------------------------------------------------------------
// Traversal
// ---------------------------------------------------------------------------

// Functions calls fn for every function in the unit, nested ones
// included, depth first. Returning false stops the walk.
func (u *Unit) Functions(fn func(f *Function) bool) {
	for i := range u.Objects {
		if !walkObject(&u.Objects[i], fn) {
			return
		}
	}
}

func walkObject(o *Object, fn func(f *Function) bool) bool {
	switch {
	case o.Function != nil:
		return walkFunction(o.Function, fn)
	case o.Class != nil:
		for i := range o.Class.Members {
			if !walkObject(&o.Class.Members[i], fn) {
				return false
			}
		}
		for i := range o.Class.Meta {
			if !walkObject(&o.Class.Meta[i], fn) {
				return false
			}
		}
	case o.Map != nil:
		for i := range o.Map.Entries {
			if !walkConstant(&o.Map.Entries[i].Value, fn) {
				return false
			}
		}
	}
	return true
}

func walkFunction(f *Function, fn func(f *Function) bool) bool {
	if !fn(f) {
		return false
	}
	for _, acc := range []*Function{f.Getter, f.Setter} {
		if acc != nil && !walkFunction(acc, fn) {
			return false
		}
	}
	for i := range f.Constants {
		if !walkConstant(&f.Constants[i], fn) {
			return false
		}
	}
	return true
}

func walkConstant(c *Constant, fn func(f *Function) bool) bool {
	if c.Object != nil {
		return walkObject(c.Object, fn)
	}
	for i := range c.List {
		if !walkConstant(&c.List[i], fn) {
			return false
		}
	}
	return true
}
