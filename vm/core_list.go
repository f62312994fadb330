package vm

import (
	"slices"
	"strings"
	"time"

	"fortio.org/safecast"
)

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func (vm *VM) initList() {
	c := vm.core.List
	vm.bindProperty(c, "count", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(int64(len(args[0].AsList().Items))))
	}, nil)
	vm.bind(c, "iterate", listIterate)
	vm.bind(c, "next", listNext)
	vm.bind(c, OperLoadAt.Key(), listLoadAt)
	vm.bind(c, OperStoreAt.Key(), listStoreAt)
	vm.bind(c, "loop", listLoop)
	vm.bind(c, "join", listJoin)
	vm.bind(c, "push", listPush)
	vm.bind(c, "pop", listPop)
	vm.bind(c, "contains", listContains)
	vm.bind(c, "remove", listRemove)
	vm.bind(c, "indexOf", listIndexOf)
	vm.bind(c, "reverse", listReverse)
	vm.bind(c, "reversed", listReversed)
	vm.bind(c, "sort", listSort)
	vm.bind(c, "sorted", listSorted)
	vm.bind(c, "map", listMap)
	vm.bind(c, "filter", listFilter)
	vm.bind(c, "reduce", listReduce)
	vm.bind(c.meta, OperExec.Key(), listExec)
}

// listIndex resolves an Int index against n items, counting negative
// indices from the end. The result may be n or more.
func (vm *VM) listIndex(v Value, n int) (int, bool) {
	if !v.IsInt() {
		return 0, vm.Errorf("An integer index is required to access a list item.")
	}
	i, err := safecast.Conv[int](v.Int())
	if err != nil {
		return 0, vm.Errorf("Out of bounds error: index %d beyond bounds 0...%d", v.Int(), n-1)
	}
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0, vm.Errorf("Out of bounds error: index %d beyond bounds 0...%d", i, n-1)
	}
	return i, true
}

func listLoadAt(vm *VM, args []Value, dest uint32) bool {
	l := args[0].AsList()
	i, ok := vm.listIndex(argAt(args, 1), len(l.Items))
	if !ok {
		return false
	}
	if i >= len(l.Items) {
		return vm.Errorf("Out of bounds error: index %d beyond bounds 0...%d", i, len(l.Items)-1)
	}
	return vm.Return(dest, l.Items[i])
}

// listStoreAt grows the list with Null when the index is past the end.
func listStoreAt(vm *VM, args []Value, dest uint32) bool {
	l := args[0].AsList()
	i, ok := vm.listIndex(argAt(args, 1), len(l.Items))
	if !ok {
		return false
	}
	if i >= len(l.Items) {
		if !vm.checkBlock((i + 1) * valueSize) {
			return false
		}
		l.Items = append(l.Items, newNullSlots(i+1-len(l.Items))...)
	}
	l.Items[i] = argAt(args, 2)
	return true
}

func listPush(vm *VM, args []Value, dest uint32) bool {
	l := args[0].AsList()
	l.Items = append(l.Items, argAt(args, 1))
	return vm.Return(dest, FromInt(int64(len(l.Items))))
}

func listPop(vm *VM, args []Value, dest uint32) bool {
	l := args[0].AsList()
	n := len(l.Items)
	if n == 0 {
		return vm.Errorf("Unable to pop a value from an empty list.")
	}
	v := l.Items[n-1]
	l.Items[n-1] = Null
	l.Items = l.Items[:n-1]
	return vm.Return(dest, v)
}

func (vm *VM) listFind(l *List, v Value) int {
	for i, item := range l.Items {
		if vm.ValueEquals(item, v) {
			return i
		}
	}
	return -1
}

func listContains(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, FromBool(vm.listFind(args[0].AsList(), argAt(args, 1)) >= 0))
}

func listIndexOf(vm *VM, args []Value, dest uint32) bool {
	return vm.Return(dest, FromInt(int64(vm.listFind(args[0].AsList(), argAt(args, 1)))))
}

func listRemove(vm *VM, args []Value, dest uint32) bool {
	l := args[0].AsList()
	idx := argAt(args, 1)
	if !idx.IsInt() {
		return vm.Errorf("Parameter must be of type Int.")
	}
	i := idx.Int()
	if i < 0 || i >= int64(len(l.Items)) {
		return vm.Errorf("Out of bounds index.")
	}
	l.Items = slices.Delete(l.Items, int(i), int(i)+1)
	return vm.Return(dest, args[0])
}

func listIterate(vm *VM, args []Value, dest uint32) bool {
	l := args[0].AsList()
	if len(l.Items) == 0 {
		return vm.Return(dest, False)
	}
	it := argAt(args, 1)
	if it.IsNullLike() {
		return vm.Return(dest, FromInt(0))
	}
	if !it.IsInt() {
		return vm.Errorf("Iterator expects a numeric value here.")
	}
	n := it.Int() + 1
	if n >= int64(len(l.Items)) || n < 0 {
		return vm.Return(dest, False)
	}
	return vm.Return(dest, FromInt(n))
}

func listNext(vm *VM, args []Value, dest uint32) bool {
	l := args[0].AsList()
	i := argAt(args, 1).Int()
	if i < 0 || i >= int64(len(l.Items)) {
		return vm.ReturnNull(dest)
	}
	return vm.Return(dest, l.Items[i])
}

// closureArg validates the callback argument at position i.
func (vm *VM) closureArg(args []Value, i int, msg string) (*Closure, bool) {
	c := argAt(args, i).AsClosure()
	if c == nil {
		return nil, vm.Errorf("%s", msg)
	}
	return c, true
}

func listLoop(vm *VM, args []Value, dest uint32) bool {
	if len(args) < 2 {
		return vm.Errorf("Incorrect number of arguments.")
	}
	c, ok := vm.closureArg(args, 1, "Argument must be a Closure.")
	if !ok {
		return false
	}
	self := args[0]
	l := self.AsList()
	start := time.Now()
	for i := 0; i < len(l.Items); i++ {
		if _, err := vm.RunClosure(c, self, l.Items[i]); err != nil {
			return false
		}
	}
	return vm.Return(dest, FromInt(time.Since(start).Nanoseconds()))
}

func listReverse(vm *VM, args []Value, dest uint32) bool {
	if len(args) > 1 {
		return vm.Errorf("Incorrect number of arguments.")
	}
	slices.Reverse(args[0].AsList().Items)
	return vm.Return(dest, args[0])
}

func listReversed(vm *VM, args []Value, dest uint32) bool {
	if len(args) > 1 {
		return vm.Errorf("Incorrect number of arguments.")
	}
	l := vm.NewListFrom(args[0].AsList().Items)
	slices.Reverse(l.Items)
	return vm.Return(dest, FromObject(l))
}

// sortItems orders items ascending. A predicate closure p(a, b) returns
// true when a belongs after b. Without one, numbers compare numerically
// and anything else by its string form, chosen by the first item.
func (vm *VM) sortItems(self Value, items []Value, pred *Closure) bool {
	if len(items) < 2 {
		return true
	}
	failed := false
	after := func(a, b Value) bool {
		if failed {
			return false
		}
		if pred != nil {
			r, err := vm.RunClosure(pred, self, a, b)
			if err != nil {
				failed = true
				return false
			}
			t, ok := vm.convertBool(r)
			return ok && t.Bool()
		}
		if items[0].IsNumber() {
			x, _ := vm.convertFloat(a)
			y, _ := vm.convertFloat(b)
			return toFloat(x) > toFloat(y)
		}
		x, _ := vm.Stringify(a)
		y, _ := vm.Stringify(b)
		return x > y
	}
	slices.SortStableFunc(items, func(a, b Value) int {
		switch {
		case after(a, b):
			return 1
		case after(b, a):
			return -1
		}
		return 0
	})
	return !failed
}

func listSort(vm *VM, args []Value, dest uint32) bool {
	pred := argAt(args, 1).AsClosure()
	if !vm.sortItems(args[0], args[0].AsList().Items, pred) {
		return false
	}
	return vm.Return(dest, args[0])
}

func listSorted(vm *VM, args []Value, dest uint32) bool {
	pred := argAt(args, 1).AsClosure()
	l := vm.NewListFrom(args[0].AsList().Items)
	vm.PushTemp(l)
	defer vm.PopTemp()
	if !vm.sortItems(args[0], l.Items, pred) {
		return false
	}
	return vm.Return(dest, FromObject(l))
}

func listMap(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 {
		return vm.Errorf("One argument is needed by the map function.")
	}
	c, ok := vm.closureArg(args, 1, "Argument must be a Closure.")
	if !ok {
		return false
	}
	self := args[0]
	src := self.AsList()
	out := vm.NewList(len(src.Items))
	vm.PushTemp(out)
	defer vm.PopTemp()
	for i := 0; i < len(src.Items); i++ {
		r, err := vm.RunClosure(c, self, src.Items[i])
		if err != nil {
			return false
		}
		out.Items = append(out.Items, r)
	}
	return vm.Return(dest, FromObject(out))
}

func listFilter(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 {
		return vm.Errorf("One argument is needed by the filter function.")
	}
	c, ok := vm.closureArg(args, 1, "Argument must be a Closure.")
	if !ok {
		return false
	}
	self := args[0]
	src := self.AsList()
	out := vm.NewList(0)
	vm.PushTemp(out)
	defer vm.PopTemp()
	for i := 0; i < len(src.Items); i++ {
		item := src.Items[i]
		r, err := vm.RunClosure(c, self, item)
		if err != nil {
			return false
		}
		if t, ok := vm.convertBool(r); ok && t.Bool() {
			out.Items = append(out.Items, item)
		}
	}
	return vm.Return(dest, FromObject(out))
}

func listReduce(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 3 {
		return vm.Errorf("Two arguments are needed by the reduce function.")
	}
	c, ok := vm.closureArg(args, 2, "Argument 2 must be a Closure.")
	if !ok {
		return false
	}
	self := args[0]
	src := self.AsList()
	acc := args[1]
	for i := 0; i < len(src.Items); i++ {
		if o := acc.Object(); o != nil {
			vm.PushTemp(o)
		}
		r, err := vm.RunClosure(c, self, acc, src.Items[i])
		if acc.Object() != nil {
			vm.PopTemp()
		}
		if err != nil {
			return false
		}
		acc = r
	}
	return vm.Return(dest, acc)
}

// listJoin concatenates the string form of every item, with an optional
// String separator.
func listJoin(vm *VM, args []Value, dest uint32) bool {
	l := args[0].AsList()
	sep := ""
	if s := argAt(args, 1).AsString(); s != nil {
		sep = s.s
	}
	var b strings.Builder
	for i := 0; i < len(l.Items); i++ {
		v, ok := vm.convertString(l.Items[i])
		if !ok {
			return vm.Errorf("Unable to convert object to String.")
		}
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(v.Str())
		if !vm.checkBlock(b.Len()) {
			return false
		}
	}
	return vm.Return(dest, vm.StringValue(b.String()))
}

// listExec implements List(n): a list of n Nulls.
func listExec(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 || !args[1].IsInt() {
		return vm.Errorf("An Int value is expected as argument of List allocation.")
	}
	n := args[1].Int()
	if n < 0 || n*valueSize > int64(vm.maxBlock) {
		return vm.Errorf("Maximum List allocation size reached (%d).", vm.maxBlock/valueSize)
	}
	l := vm.NewList(int(n))
	l.Items = append(l.Items, newNullSlots(int(n))...)
	return vm.Return(dest, FromObject(l))
}
