package optional

import (
	"bytes"
	"errors"
	"io"
	"math"
	"sort"

	"github.com/goccy/go-json"

	"github.com/chazu/atom/vm"
)

// JSONClassName is the global the JSON module registers.
const JSONClassName = "JSON"

// maxJSONDepth bounds nesting in both directions.
const maxJSONDepth = 64

var errJSONDepth = errors.New("nesting too deep")

// RegisterJSON defines the JSON class with stringify and parse.
func RegisterJSON(v *vm.VM) *vm.Class {
	c := v.NewClass(JSONClassName, nil, 0, 0)
	meta := c.Meta()

	v.BindMethod(meta, "stringify", jsonStringify)
	v.BindMethod(meta, "parse", jsonParse)

	v.RegisterClass(c)
	return c
}

// jsonStringify encodes a value as JSON text, indented when the optional
// second argument is true. Lists become arrays and maps objects keyed by
// the string form of each key; Null and Undefined are null.
func jsonStringify(v *vm.VM, args []vm.Value, dest uint32) bool {
	tree, err := toJSON(v, arg(args, 1), 0)
	if err != nil {
		return v.Errorf("JSON.stringify: %s.", err)
	}
	var out []byte
	if pretty := arg(args, 2); pretty.IsBool() && pretty.Bool() {
		out, err = json.MarshalIndent(tree, "", "    ")
	} else {
		out, err = json.Marshal(tree)
	}
	if err != nil {
		return v.Errorf("JSON.stringify: %s.", err)
	}
	return v.Return(dest, v.StringValue(string(out)))
}

// toJSON lowers a value to the tree encoding/json style encoders accept.
// Floats keep their script spelling so 1.0 does not come back as an Int.
func toJSON(v *vm.VM, val vm.Value, depth int) (any, error) {
	if depth > maxJSONDepth {
		return nil, errJSONDepth
	}
	switch {
	case val.IsNullLike():
		return nil, nil
	case val.IsBool():
		return val.Bool(), nil
	case val.IsInt():
		return val.Int(), nil
	case val.IsFloat():
		f := val.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return json.Number(v.ValueString(val)), nil
	case val.IsString():
		return val.Str(), nil
	}
	if l := val.AsList(); l != nil {
		items := make([]any, len(l.Items))
		for i, item := range l.Items {
			x, err := toJSON(v, item, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = x
		}
		return items, nil
	}
	if m := val.AsMap(); m != nil {
		obj := make(map[string]any, m.Table.Count())
		var err error
		m.Table.Iterate(func(k, item vm.Value) bool {
			var x any
			if x, err = toJSON(v, item, depth+1); err != nil {
				return false
			}
			key := v.ValueString(k)
			if k.IsString() {
				key = k.Str()
			}
			obj[key] = x
			return true
		})
		if err != nil {
			return nil, err
		}
		return obj, nil
	}
	s, ok := v.Stringify(val)
	if !ok {
		return nil, errors.New("String conversion failed")
	}
	return s, nil
}

// jsonParse decodes JSON text. Arrays become Lists, objects Maps with
// String keys, and numbers Int when they are integral. Anything that is
// not a String holding exactly one JSON value gives Null.
func jsonParse(v *vm.VM, args []vm.Value, dest uint32) bool {
	src := arg(args, 1)
	if !src.IsString() {
		return v.ReturnNull(dest)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(src.Str())))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return v.ReturnNull(dest)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return v.ReturnNull(dest)
	}

	v.GCDisable()
	defer v.GCEnable()
	val, err := fromJSON(v, tree, 0)
	if err != nil {
		return v.ReturnNull(dest)
	}
	return v.Return(dest, val)
}

func fromJSON(v *vm.VM, x any, depth int) (vm.Value, error) {
	if depth > maxJSONDepth {
		return vm.Null, errJSONDepth
	}
	switch x := x.(type) {
	case nil:
		return vm.Null, nil
	case bool:
		return vm.FromBool(x), nil
	case string:
		return v.StringValue(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return vm.FromInt(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return vm.Null, err
		}
		return vm.FromFloat64(f), nil
	case []any:
		items := make([]vm.Value, len(x))
		for i, e := range x {
			item, err := fromJSON(v, e, depth+1)
			if err != nil {
				return vm.Null, err
			}
			items[i] = item
		}
		return vm.FromObject(v.NewListFrom(items)), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := v.NewMap(len(keys))
		for _, k := range keys {
			item, err := fromJSON(v, x[k], depth+1)
			if err != nil {
				return vm.Null, err
			}
			m.Table.Insert(v.StringValue(k), item)
		}
		return vm.FromObject(m), nil
	}
	return vm.Null, errors.New("unexpected JSON value")
}
