package vm

import "time"

// ---------------------------------------------------------------------------
// Map
// ---------------------------------------------------------------------------

func (vm *VM) initMap() {
	c := vm.core.Map
	vm.bind(c, "keys", mapKeys)
	vm.bind(c, "remove", mapRemove)
	vm.bindProperty(c, "count", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(int64(args[0].AsMap().Table.Count())))
	}, nil)
	vm.bind(c, "loop", mapLoop)
	vm.bind(c, OperLoadAt.Key(), mapLoadAt)
	vm.bind(c, OperStoreAt.Key(), mapStoreAt)
	vm.bind(c, "hasKey", mapHasKey)
	vm.bind(c, "iterate", mapIterate)
	vm.bind(c, "next", mapNext)
	vm.bind(c, OperLoad.Key(), mapLoad)
	vm.bind(c, OperStore.Key(), mapStoreAt)
}

func mapKeys(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, FromObject(vm.NewListFrom(args[0].AsMap().Table.Keys())))
}

func mapRemove(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, FromBool(args[0].AsMap().Table.Remove(argAt(args, 1))))
}

func mapLoadAt(vm *VM, args []Value, dest uint32) bool {
	v, ok := args[0].AsMap().Table.Lookup(argAt(args, 1))
	if !ok {
		return vm.ReturnNull(dest)
	}
	return vm.Return(dest, v)
}

func mapStoreAt(vm *VM, args []Value, dest uint32) bool {
	m := args[0].AsMap()
	key := argAt(args, 1)
	if _, exists := m.Table.Lookup(key); !exists && m.Table.Count() >= m.Table.maxEntries {
		return vm.Errorf("Maximum number of entries reached in Map.")
	}
	m.Table.Insert(key, argAt(args, 2))
	return true
}

func mapHasKey(vm *VM, args []Value, dest uint32) bool {
	_, ok := args[0].AsMap().Table.Lookup(argAt(args, 1))
	return vm.Return(dest, FromBool(ok))
}

// mapLoad handles map.key: Map members win so scripts cannot shadow
// them, then the entries are searched.
func mapLoad(vm *VM, args []Value, dest uint32) bool {
	key := argAt(args, 1)
	if v, ok := vm.core.Map.Lookup(key); ok {
		if cl := v.AsClosure(); cl != nil && cl.Function.Tag == ExecSpecial && cl.Function.Getter != nil {
			return vm.Redirect(cl.Function.Getter, args[0])
		}
		return vm.Return(dest, v)
	}
	return mapLoadAt(vm, args, dest)
}

func mapLoop(vm *VM, args []Value, dest uint32) bool {
	if len(args) < 2 {
		return vm.Errorf("Incorrect number of arguments.")
	}
	c, ok := vm.closureArg(args, 1, "Argument must be a Closure.")
	if !ok {
		return false
	}
	self := args[0]
	keys := vm.NewListFrom(self.AsMap().Table.Keys())
	vm.PushTemp(keys)
	defer vm.PopTemp()
	start := time.Now()
	for _, k := range keys.Items {
		if _, err := vm.RunClosure(c, self, k); err != nil {
			return false
		}
	}
	return vm.Return(dest, FromInt(time.Since(start).Nanoseconds()))
}

// Map iteration walks the key order of Keys; the iterator is the position.
func mapIterate(vm *VM, args []Value, dest uint32) bool {
	n := int64(args[0].AsMap().Table.Count())
	if n == 0 {
		return vm.Return(dest, False)
	}
	it := argAt(args, 1)
	if it.IsNullLike() {
		return vm.Return(dest, FromInt(0))
	}
	if !it.IsInt() {
		return vm.Errorf("Iterator expects a numeric value here.")
	}
	next := it.Int() + 1
	if next < 0 || next >= n {
		return vm.Return(dest, False)
	}
	return vm.Return(dest, FromInt(next))
}

// mapNext yields the key at the iterator position.
func mapNext(vm *VM, args []Value, dest uint32) bool {
	keys := args[0].AsMap().Table.Keys()
	i := argAt(args, 1).Int()
	if i < 0 || i >= int64(len(keys)) {
		return vm.ReturnNull(dest)
	}
	return vm.Return(dest, keys[i])
}

// ---------------------------------------------------------------------------
// Range
// ---------------------------------------------------------------------------

func (vm *VM) initRange() {
	c := vm.core.Range
	vm.bindProperty(c, "count", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(args[0].AsRange().Count()))
	}, nil)
	vm.bindProperty(c, "from", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(args[0].AsRange().From))
	}, nil)
	vm.bindProperty(c, "to", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(args[0].AsRange().To))
	}, nil)
	vm.bind(c, "iterate", rangeIterate)
	vm.bind(c, "next", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, argAt(args, 1))
	})
	vm.bind(c, "contains", rangeContains)
	vm.bind(c, "loop", rangeLoop)
	vm.bind(c.meta, OperExec.Key(), rangeExec)
}

// rangeIterate steps from From towards To. Descending ranges do not
// iterate.
func rangeIterate(vm *VM, args []Value, dest uint32) bool {
	r := args[0].AsRange()
	if r.To < r.From {
		return vm.Return(dest, False)
	}
	it := argAt(args, 1)
	if it.IsNullLike() {
		return vm.Return(dest, FromInt(r.From))
	}
	if !it.IsInt() {
		return vm.Errorf("Iterator expects a numeric value here.")
	}
	n := it.Int() + 1
	if n > r.To {
		return vm.Return(dest, False)
	}
	return vm.Return(dest, FromInt(n))
}

func rangeContains(vm *VM, args []Value, dest uint32) bool {
	r := args[0].AsRange()
	v := argAt(args, 1)
	if !v.IsInt() {
		return vm.Errorf("A numeric value is expected.")
	}
	n := v.Int()
	return vm.Return(dest, FromBool(n >= r.From && n <= r.To))
}

// rangeLoop calls the closure for every integer, walking down for a
// descending range.
func rangeLoop(vm *VM, args []Value, dest uint32) bool {
	if len(args) < 2 {
		return vm.Errorf("Incorrect number of arguments.")
	}
	c, ok := vm.closureArg(args, 1, "Argument must be a Closure.")
	if !ok {
		return false
	}
	self := args[0]
	r := self.AsRange()
	start := time.Now()
	if r.From <= r.To {
		for i := r.From; i <= r.To; i++ {
			if _, err := vm.RunClosure(c, self, FromInt(i)); err != nil {
				return false
			}
		}
	} else {
		for i := r.From; i >= r.To; i-- {
			if _, err := vm.RunClosure(c, self, FromInt(i)); err != nil {
				return false
			}
		}
	}
	return vm.Return(dest, FromInt(time.Since(start).Nanoseconds()))
}

func rangeExec(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 3 || !args[1].IsInt() || !args[2].IsInt() {
		return vm.Errorf("Two Int values are expected as argument of Range creation.")
	}
	return vm.Return(dest, FromObject(vm.NewRange(args[1].Int(), args[2].Int(), true)))
}
