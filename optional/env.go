package optional

import (
	"os"
	"sort"
	"strings"

	"github.com/chazu/atom/vm"
)

// EnvClassName is the global the Env module registers.
const EnvClassName = "Env"

// RegisterEnv defines the Env class over the process environment. argv
// is exposed as Env.argv and its length as Env.argc; a nil argv leaves
// both Null.
func RegisterEnv(v *vm.VM, argv []string) *vm.Class {
	c := v.NewClass(EnvClassName, nil, 0, 0)
	meta := c.Meta()

	v.BindMethod(meta, "get", envGet)
	v.BindMethod(meta, "set", envSet)
	v.BindMethod(meta, "keys", envKeys)
	v.BindMethod(meta, vm.OperLoadAt.Key(), envGet)
	v.BindMethod(meta, vm.OperStoreAt.Key(), envSet)

	args := append([]string(nil), argv...)
	v.BindProperty(meta, "argc", func(v *vm.VM, _ []vm.Value, dest uint32) bool {
		if argv == nil {
			return v.ReturnNull(dest)
		}
		return v.Return(dest, vm.FromInt(int64(len(args))))
	}, nil)
	v.BindProperty(meta, "argv", func(v *vm.VM, _ []vm.Value, dest uint32) bool {
		if argv == nil {
			return v.ReturnNull(dest)
		}
		v.GCDisable()
		defer v.GCEnable()
		items := make([]vm.Value, len(args))
		for i, a := range args {
			items[i] = v.StringValue(a)
		}
		return v.Return(dest, vm.FromObject(v.NewListFrom(items)))
	}, nil)

	v.RegisterClass(c)
	return c
}

// envGet returns Undefined for an unset variable.
func envGet(v *vm.VM, args []vm.Value, dest uint32) bool {
	key := arg(args, 1)
	if !key.IsString() {
		return v.Errorf("Environment variable key must be a string.")
	}
	val, ok := os.LookupEnv(key.Str())
	if !ok {
		return v.ReturnUndefined(dest)
	}
	return v.Return(dest, v.StringValue(val))
}

// envSet sets a variable, or unsets it for a Null value. The result is 0
// on success and -1 on failure.
func envSet(v *vm.VM, args []vm.Value, dest uint32) bool {
	key, val := arg(args, 1), arg(args, 2)
	if !key.IsString() || !(val.IsString() || val.IsNull()) {
		return v.Errorf("Environment variable key and value must both be strings.")
	}
	var err error
	if val.IsNull() {
		err = os.Unsetenv(key.Str())
	} else {
		err = os.Setenv(key.Str(), val.Str())
	}
	if err != nil {
		return v.Return(dest, vm.FromInt(-1))
	}
	return v.Return(dest, vm.FromInt(0))
}

func envKeys(v *vm.VM, args []vm.Value, dest uint32) bool {
	env := os.Environ()
	names := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		names = append(names, name)
	}
	sort.Strings(names)
	v.GCDisable()
	defer v.GCEnable()
	items := make([]vm.Value, len(names))
	for i, n := range names {
		items[i] = v.StringValue(n)
	}
	return v.Return(dest, vm.FromObject(v.NewListFrom(items)))
}
