package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// ---------------------------------------------------------------------------
// JSON executable format
// ---------------------------------------------------------------------------

// The JSON form is a top-level object whose values are entries tagged by
// "type". Member order is significant (the tag comes first, a class's
// identifier second), so documents are read into an ordered tree rather
// than Go maps. Bytecode and line tables are hex strings of packed 32-bit
// words, 8 uppercase digits per word.

const (
	labelType       = "type"
	labelIdentifier = "identifier"
	labelTag        = "tag"
	labelIndex      = "index"
	labelNParam     = "nparam"
	labelNLocal     = "nlocal"
	labelNTemp      = "ntemp"
	labelNUpvalue   = "nup"
	labelArgs       = "args"
	labelPurity     = "purity"
	labelBytecode   = "bytecode"
	labelLineNo     = "lineno"
	labelPool       = "pool"
	labelPNames     = "pnames"
	labelPValues    = "pvalues"
	labelSuper      = "super"
	labelNIvar      = "nivar"
	labelSIvar      = "sivar"
	labelStruct     = "struct"
	labelMeta       = "meta"
	labelFrom       = "from"
	labelTo         = "to"
	labelGetter     = "$get"
	labelSetter     = "$set"

	typeEnum = "enum"
)

// ---------------------------------------------------------------------------
// Ordered tree
// ---------------------------------------------------------------------------

type nodeKind uint8

const (
	nodeNull nodeKind = iota
	nodeBool
	nodeNumber
	nodeString
	nodeArray
	nodeObject
)

type member struct {
	key string
	val *node
}

type node struct {
	kind    nodeKind
	b       bool
	num     json.Number
	str     string
	items   []*node
	members []member
}

func (n *node) isInt() bool {
	return n.kind == nodeNumber && !strings.ContainsAny(string(n.num), ".eE")
}

func readNode(dec *json.Decoder) (*node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case nil:
		return &node{kind: nodeNull}, nil
	case bool:
		return &node{kind: nodeBool, b: t}, nil
	case json.Number:
		return &node{kind: nodeNumber, num: t}, nil
	case string:
		return &node{kind: nodeString, str: t}, nil
	case json.Delim:
		switch t {
		case '[':
			n := &node{kind: nodeArray}
			for dec.More() {
				item, err := readNode(dec)
				if err != nil {
					return nil, err
				}
				n.items = append(n.items, item)
			}
			_, err := dec.Token()
			return n, err
		case '{':
			n := &node{kind: nodeObject}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := kt.(string)
				val, err := readNode(dec)
				if err != nil {
					return nil, err
				}
				n.members = append(n.members, member{key: key, val: val})
			}
			_, err := dec.Token()
			return n, err
		}
	}
	return nil, fmt.Errorf("%w: unexpected token %v", ErrMalformed, tok)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// DecodeJSON parses a JSON executable.
func DecodeJSON(data []byte) (*Unit, error) {
	return ReadJSON(bytes.NewReader(data))
}

// ReadJSON parses a JSON executable from r.
func ReadJSON(r io.Reader) (*Unit, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	root, err := readNode(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if root.kind != nodeObject {
		return nil, fmt.Errorf("%w: top level is not an object", ErrMalformed)
	}

	u := &Unit{}
	for _, m := range root.members {
		if m.val.kind != nodeObject {
			return nil, fmt.Errorf("%w: entry %q is not an object", ErrMalformed, m.key)
		}
		if len(m.val.members) == 0 {
			continue
		}
		obj, err := decodeObject(m.val)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", m.key, err)
		}
		obj.setName(m.key)
		u.Objects = append(u.Objects, *obj)
	}
	return u, nil
}

func decodeObject(n *node) (*Object, error) {
	if n.kind != nodeObject || len(n.members) == 0 {
		return nil, fmt.Errorf("%w: empty object", ErrMalformed)
	}
	first := n.members[0]
	if first.key != labelType {
		m, err := decodeMap(n.members)
		if err != nil {
			return nil, err
		}
		return &Object{Type: TypeMap, Map: m}, nil
	}
	if first.val.kind != nodeString {
		return nil, fmt.Errorf("%w: type is not a string", ErrMalformed)
	}

	switch first.val.str {
	case TypeFunction.String():
		f, err := decodeFunction(n)
		if err != nil {
			return nil, err
		}
		return &Object{Type: TypeFunction, Function: f}, nil
	case TypeClass.String():
		c, err := decodeClass(n)
		if err != nil {
			return nil, err
		}
		return &Object{Type: TypeClass, Class: c}, nil
	case TypeMap.String(), typeEnum:
		m, err := decodeMap(n.members[1:])
		if err != nil {
			return nil, err
		}
		return &Object{Type: TypeMap, Map: m}, nil
	case TypeRange.String():
		r, err := decodeRange(n)
		if err != nil {
			return nil, err
		}
		return &Object{Type: TypeRange, Range: r}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, first.val.str)
}

func intField(key string, n *node) (int64, error) {
	if !n.isInt() {
		return 0, fmt.Errorf("%w: %s is not an integer", ErrMalformed, key)
	}
	v, err := n.num.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return v, nil
}

func u16Field(key string, n *node) (uint16, error) {
	v, err := intField(key, n)
	if err != nil {
		return 0, err
	}
	out, err := safecast.Conv[uint16](v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s out of range: %v", ErrMalformed, key, err)
	}
	return out, nil
}

func u32Field(key string, n *node) (uint32, error) {
	v, err := intField(key, n)
	if err != nil {
		return 0, err
	}
	out, err := safecast.Conv[uint32](v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s out of range: %v", ErrMalformed, key, err)
	}
	return out, nil
}

func decodeFunction(n *node) (*Function, error) {
	f := &Function{}
	seen := make(map[string]bool)
	for _, m := range n.members[1:] {
		if seen[m.key] {
			return nil, fmt.Errorf("%w: duplicate %s", ErrMalformed, m.key)
		}
		seen[m.key] = true

		var err error
		switch m.key {
		case labelIdentifier:
			if m.val.kind != nodeString {
				return nil, fmt.Errorf("%w: identifier is not a string", ErrMalformed)
			}
			if !strings.HasPrefix(m.val.str, "$anon") {
				f.Name = m.val.str
			}
		case labelTag:
			var t uint16
			t, err = u16Field(m.key, m.val)
			if err == nil && t > uint16(TagSpecial) {
				err = fmt.Errorf("%w: tag %d", ErrMalformed, t)
			}
			f.Tag = Tag(t)
		case labelIndex:
			if f.Tag != TagSpecial {
				return nil, fmt.Errorf("%w: index on a non special function", ErrMalformed)
			}
			f.Index, err = u32Field(m.key, m.val)
		case labelGetter, labelSetter:
			if f.Tag != TagSpecial {
				return nil, fmt.Errorf("%w: accessor on a non special function", ErrMalformed)
			}
			var acc *Function
			acc, err = decodeFunction(m.val)
			if m.key == labelGetter {
				f.Getter = acc
			} else {
				f.Setter = acc
			}
		case labelNParam:
			f.NParams, err = u16Field(m.key, m.val)
		case labelNLocal:
			f.NLocals, err = u16Field(m.key, m.val)
		case labelNTemp:
			f.NTemps, err = u16Field(m.key, m.val)
		case labelNUpvalue:
			f.NUpvalues, err = u16Field(m.key, m.val)
		case labelArgs:
			if m.val.kind != nodeBool {
				return nil, fmt.Errorf("%w: args is not a boolean", ErrMalformed)
			}
			f.UseArgs = m.val.b
		case labelPurity:
			if m.val.kind == nodeNumber {
				f.Purity, _ = m.val.num.Float64()
			}
		case labelBytecode:
			if m.val.kind == nodeNull {
				f.Bytecode = []uint32{}
				continue
			}
			if m.val.kind != nodeString || f.Tag != TagNative {
				return nil, fmt.Errorf("%w: bytecode", ErrMalformed)
			}
			f.Bytecode, err = DecodeHex(m.val.str)
		case labelLineNo:
			if m.val.kind == nodeString {
				f.Lines, err = DecodeHex(m.val.str)
			}
		case labelPNames:
			if m.val.kind != nodeArray {
				return nil, fmt.Errorf("%w: pnames is not an array", ErrMalformed)
			}
			for _, item := range m.val.items {
				if item.kind != nodeString {
					return nil, fmt.Errorf("%w: pnames entry is not a string", ErrMalformed)
				}
				f.ParamNames = append(f.ParamNames, item.str)
			}
		case labelPValues:
			if m.val.kind != nodeArray {
				return nil, fmt.Errorf("%w: pvalues is not an array", ErrMalformed)
			}
			for _, item := range m.val.items {
				f.ParamDefaults = append(f.ParamDefaults, decodeDefault(item))
			}
		case labelPool:
			if m.val.kind != nodeArray {
				return nil, fmt.Errorf("%w: pool is not an array", ErrMalformed)
			}
			f.Constants = make([]Constant, 0, len(m.val.items))
			for _, item := range m.val.items {
				var c Constant
				c, err = decodeConstant(item)
				if err != nil {
					break
				}
				f.Constants = append(f.Constants, c)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

func decodeScalar(n *node) (Constant, bool) {
	switch n.kind {
	case nodeNull:
		return Null(), true
	case nodeBool:
		return Bool(n.b), true
	case nodeString:
		return String(n.str), true
	case nodeNumber:
		if n.isInt() {
			if v, err := n.num.Int64(); err == nil {
				return Int(v), true
			}
		}
		v, err := n.num.Float64()
		if err != nil {
			return Constant{}, false
		}
		return Float(v), true
	}
	return Constant{}, false
}

// decodeDefault reads a default parameter value. An object marks a
// parameter without a default.
func decodeDefault(n *node) Constant {
	if c, ok := decodeScalar(n); ok {
		return c
	}
	if n.kind == nodeObject {
		return Undefined()
	}
	return Null()
}

func decodeConstant(n *node) (Constant, error) {
	if c, ok := decodeScalar(n); ok {
		return c, nil
	}
	switch n.kind {
	case nodeObject:
		obj, err := decodeObject(n)
		if err != nil {
			return Constant{}, err
		}
		return Constant{Kind: ConstObject, Object: obj}, nil
	case nodeArray:
		items := make([]Constant, 0, len(n.items))
		for _, item := range n.items {
			c, ok := decodeScalar(item)
			if !ok || c.Kind == ConstNull {
				return Constant{}, fmt.Errorf("%w: list constants hold scalars only", ErrMalformed)
			}
			items = append(items, c)
		}
		return List(items...), nil
	}
	return Constant{}, fmt.Errorf("%w: bad constant", ErrMalformed)
}

func decodeClass(n *node) (*Class, error) {
	if len(n.members) < 2 || n.members[1].key != labelIdentifier || n.members[1].val.kind != nodeString {
		return nil, fmt.Errorf("%w: class without identifier", ErrMalformed)
	}
	c := &Class{Name: n.members[1].val.str}

	for _, m := range n.members[2:] {
		if m.val.kind == nodeObject {
			obj, err := decodeObject(m.val)
			if err != nil {
				return nil, fmt.Errorf("class %s member %s: %w", c.Name, m.key, err)
			}
			obj.setName(m.key)
			c.Members = append(c.Members, *obj)
			continue
		}

		var err error
		switch m.key {
		case labelSuper:
			if m.val.kind != nodeString {
				return nil, fmt.Errorf("%w: super is not a string", ErrMalformed)
			}
			if m.val.str != "Object" {
				c.Super = m.val.str
			}
		case labelNIvar:
			c.NIvar, err = u32Field(m.key, m.val)
		case labelSIvar:
			c.NSvar, err = u32Field(m.key, m.val)
		case labelStruct:
			c.Struct = m.val.kind != nodeBool || m.val.b
		case labelMeta:
			if m.val.kind != nodeArray {
				return nil, fmt.Errorf("%w: meta is not an array", ErrMalformed)
			}
			for _, item := range m.val.items {
				if item.kind != nodeObject {
					continue
				}
				obj, err := decodeObject(item)
				if err != nil {
					return nil, fmt.Errorf("class %s meta: %w", c.Name, err)
				}
				c.Meta = append(c.Meta, *obj)
			}
		default:
			err = fmt.Errorf("%w: unexpected class field %q", ErrMalformed, m.key)
		}
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// setName gives maps and ranges the key they were declared under.
// Functions and classes carry their own identifier.
func (o *Object) setName(key string) {
	if strings.HasPrefix(key, "$anon") {
		key = ""
	}
	switch {
	case o.Map != nil:
		o.Map.Name = key
	case o.Range != nil:
		o.Range.Name = key
	}
}

func decodeMap(members []member) (*Map, error) {
	m := &Map{Entries: make([]MapEntry, 0, len(members))}
	for _, mb := range members {
		var v Constant
		if mb.val.kind == nodeObject {
			obj, err := decodeObject(mb.val)
			if err != nil {
				v = Null()
			} else {
				v = Constant{Kind: ConstObject, Object: obj}
			}
		} else {
			c, ok := decodeScalar(mb.val)
			if !ok {
				return nil, fmt.Errorf("%w: map value for %q", ErrMalformed, mb.key)
			}
			v = c
		}
		m.Entries = append(m.Entries, MapEntry{Key: mb.key, Value: v})
	}
	return m, nil
}

func decodeRange(n *node) (*Range, error) {
	r := &Range{}
	for _, m := range n.members[1:] {
		var err error
		switch m.key {
		case labelFrom:
			r.From, err = intField(m.key, m.val)
		case labelTo:
			r.To, err = intField(m.key, m.val)
		}
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DecodeHex unpacks 8 hex digits per 32-bit word.
func DecodeHex(s string) ([]uint32, error) {
	if len(s)%8 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 8", ErrBytecode, len(s))
	}
	out := make([]uint32, len(s)/8)
	for i := range out {
		w, err := strconv.ParseUint(s[i*8:i*8+8], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: word %d: %v", ErrBytecode, i, err)
		}
		out[i] = uint32(w)
	}
	return out, nil
}

// EncodeHex packs words as 8 uppercase hex digits each.
func EncodeHex(words []uint32) string {
	var b strings.Builder
	b.Grow(len(words) * 8)
	for _, w := range words {
		fmt.Fprintf(&b, "%08X", w)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// jsonWriter emits ordered JSON. The first error sticks.
type jsonWriter struct {
	buf  bytes.Buffer
	err  error
	anon int
}

// EncodeJSON renders u in the JSON executable format.
func EncodeJSON(u *Unit) ([]byte, error) {
	w := &jsonWriter{}
	w.buf.WriteByte('{')
	for i := range u.Objects {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		w.key(w.label(&u.Objects[i]))
		w.object(&u.Objects[i])
	}
	w.buf.WriteByte('}')
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

func (w *jsonWriter) label(o *Object) string {
	if name := o.Name(); name != "" {
		return name
	}
	w.anon++
	return fmt.Sprintf("$anon_%d", w.anon)
}

func (w *jsonWriter) str(s string) {
	b, err := json.Marshal(s)
	if err != nil && w.err == nil {
		w.err = err
	}
	w.buf.Write(b)
}

func (w *jsonWriter) key(k string) {
	w.str(k)
	w.buf.WriteByte(':')
}

func (w *jsonWriter) field(k string, write func()) {
	w.buf.WriteByte(',')
	w.key(k)
	write()
}

func (w *jsonWriter) int(n int64) { w.buf.WriteString(strconv.FormatInt(n, 10)) }

func (w *jsonWriter) float(f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		if w.err == nil {
			w.err = fmt.Errorf("%w: %v has no JSON form", ErrMalformed, f)
		}
		w.buf.WriteByte('0')
		return
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	w.buf.WriteString(s)
}

func (w *jsonWriter) bool(b bool) { w.buf.WriteString(strconv.FormatBool(b)) }

func (w *jsonWriter) object(o *Object) {
	switch {
	case o.Function != nil:
		w.function(o.Function, o.Function.Name)
	case o.Class != nil:
		w.class(o.Class)
	case o.Map != nil:
		w.buf.WriteByte('{')
		w.key(labelType)
		w.str(TypeMap.String())
		for _, e := range o.Map.Entries {
			w.field(e.Key, func() { w.constant(&e.Value) })
		}
		w.buf.WriteByte('}')
	case o.Range != nil:
		w.buf.WriteByte('{')
		w.key(labelType)
		w.str(TypeRange.String())
		w.field(labelFrom, func() { w.int(o.Range.From) })
		w.field(labelTo, func() { w.int(o.Range.To) })
		w.buf.WriteByte('}')
	default:
		if w.err == nil {
			w.err = fmt.Errorf("%w: empty object", ErrUnknownType)
		}
		w.buf.WriteString("{}")
	}
}

func (w *jsonWriter) function(f *Function, identifier string) {
	w.buf.WriteByte('{')
	w.key(labelType)
	w.str(TypeFunction.String())
	if identifier == "" {
		w.anon++
		identifier = fmt.Sprintf("$anon_%d", w.anon)
	}
	w.field(labelIdentifier, func() { w.str(identifier) })
	w.field(labelTag, func() { w.int(int64(f.Tag)) })
	w.field(labelNParam, func() { w.int(int64(f.NParams)) })
	w.field(labelArgs, func() { w.bool(f.UseArgs) })

	if f.Tag == TagSpecial {
		w.field(labelIndex, func() { w.int(int64(f.Index)) })
		if f.Getter != nil {
			w.field(labelGetter, func() { w.function(f.Getter, labelGetter) })
		}
		if f.Setter != nil {
			w.field(labelSetter, func() { w.function(f.Setter, labelSetter) })
		}
	}
	if f.Tag == TagNative {
		w.field(labelNLocal, func() { w.int(int64(f.NLocals)) })
		w.field(labelNTemp, func() { w.int(int64(f.NTemps)) })
		w.field(labelNUpvalue, func() { w.int(int64(f.NUpvalues)) })
		w.field(labelPurity, func() { w.float(f.Purity) })
		if len(f.Bytecode) == 0 {
			w.field(labelBytecode, func() { w.buf.WriteString("null") })
		} else {
			w.field(labelBytecode, func() { w.str(EncodeHex(f.Bytecode)) })
			if len(f.Lines) > 0 {
				w.field(labelLineNo, func() { w.str(EncodeHex(f.Lines)) })
			}
		}
		w.field(labelPool, func() { w.constants(f.Constants) })
		if len(f.ParamDefaults) > 0 {
			w.field(labelPValues, func() { w.constants(f.ParamDefaults) })
		}
		if len(f.ParamNames) > 0 {
			w.field(labelPNames, func() {
				w.buf.WriteByte('[')
				for i, p := range f.ParamNames {
					if i > 0 {
						w.buf.WriteByte(',')
					}
					w.str(p)
				}
				w.buf.WriteByte(']')
			})
		}
	}
	w.buf.WriteByte('}')
}

func (w *jsonWriter) class(c *Class) {
	w.buf.WriteByte('{')
	w.key(labelType)
	w.str(TypeClass.String())
	w.field(labelIdentifier, func() { w.str(c.Name) })
	if c.Super != "" {
		w.field(labelSuper, func() { w.str(c.Super) })
	}
	w.field(labelNIvar, func() { w.int(int64(c.NIvar)) })
	w.field(labelSIvar, func() { w.int(int64(c.NSvar)) })
	if c.Struct {
		w.field(labelStruct, func() { w.bool(true) })
	}
	for i := range c.Members {
		m := &c.Members[i]
		w.field(w.label(m), func() { w.object(m) })
	}
	if len(c.Meta) > 0 {
		w.field(labelMeta, func() {
			w.buf.WriteByte('[')
			for i := range c.Meta {
				if i > 0 {
					w.buf.WriteByte(',')
				}
				w.object(&c.Meta[i])
			}
			w.buf.WriteByte(']')
		})
	}
	w.buf.WriteByte('}')
}

func (w *jsonWriter) constants(cs []Constant) {
	w.buf.WriteByte('[')
	for i := range cs {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		w.constant(&cs[i])
	}
	w.buf.WriteByte(']')
}

func (w *jsonWriter) constant(c *Constant) {
	switch c.Kind {
	case ConstNull:
		w.buf.WriteString("null")
	case ConstUndefined:
		w.buf.WriteString("{}")
	case ConstBool:
		w.bool(c.Bool)
	case ConstInt:
		w.int(c.Int)
	case ConstFloat:
		w.float(c.Float)
	case ConstString:
		w.str(c.String)
	case ConstList:
		w.constants(c.List)
	case ConstObject:
		if c.Object == nil {
			w.buf.WriteString("null")
			return
		}
		w.object(c.Object)
	}
}
