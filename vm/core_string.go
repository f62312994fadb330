package vm

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"fortio.org/safecast"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ---------------------------------------------------------------------------
// Number parsing
// ---------------------------------------------------------------------------

type numberFormat int

const (
	numberAny numberFormat = iota
	numberInt
	numberFloat
)

// parseNumber converts the leading numeric part of s. The empty string is
// zero; 0b, 0o and 0x prefixes select a base; with numberAny a '.' anywhere
// makes the result a Float. Trailing garbage is ignored.
func parseNumber(s string, format numberFormat) Value {
	zero := func(n int64) Value {
		if format == numberFloat {
			return FromFloat64(float64(n))
		}
		return FromInt(n)
	}
	if s == "" {
		return zero(0)
	}

	body, neg := s, false
	if body[0] == '-' || body[0] == '+' {
		neg = body[0] == '-'
		body = body[1:]
	}
	if len(body) > 2 && body[0] == '0' {
		base := 0
		switch body[1] {
		case 'b', 'B':
			base = 2
		case 'o', 'O':
			base = 8
		case 'x', 'X':
			base = 16
		}
		if base != 0 {
			n := parseDigits(body[2:], base)
			if neg {
				n = -n
			}
			return zero(n)
		}
	}

	if format == numberAny && strings.IndexByte(s, '.') >= 0 {
		format = numberFloat
	}
	if format == numberFloat {
		return FromFloat64(parseFloatPrefix(s))
	}
	return FromInt(parseIntPrefix(s))
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return 99
}

// parseDigits reads digits of base until the first invalid one.
func parseDigits(s string, base int) int64 {
	end := 0
	for end < len(s) && digitValue(s[end]) < base {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.ParseUint(s[:end], base, 64)
	if err != nil || n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

// parseIntPrefix mirrors strtoll with base 0: a leading 0 means octal.
func parseIntPrefix(s string) int64 {
	s = strings.TrimLeft(s, " \t\n\v\f\r")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	var n int64
	if len(s) > 1 && s[0] == '0' {
		n = parseDigits(s[1:], 8)
	} else {
		n = parseDigits(s, 10)
	}
	if neg {
		return -n
	}
	return n
}

// parseFloatPrefix mirrors strtod for decimal input.
func parseFloatPrefix(s string) float64 {
	s = strings.TrimLeft(s, " \t\n\v\f\r")
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '-' || s[j] == '+') {
			j++
		}
		if j < len(s) && s[j] >= '0' && s[j] <= '9' {
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			i = j
		}
	}
	f, _ := strconv.ParseFloat(s[:i], 64)
	return f
}

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

func (vm *VM) initString() {
	c := vm.core.String
	vm.bind(c, OperAdd.Key(), stringAdd)
	vm.bind(c, OperSub.Key(), stringSub)
	vm.bind(c, OperAnd.Key(), numberAnd)
	vm.bind(c, OperOr.Key(), numberOr)
	vm.bind(c, OperCmp.Key(), stringCmp)
	vm.bind(c, OperNeg.Key(), stringNeg)
	vm.bind(c, OperLoadAt.Key(), stringLoadAt)
	vm.bind(c, OperStoreAt.Key(), stringStoreAt)
	vm.bindProperty(c, "length", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(int64(utf8.RuneCountInString(args[0].Str()))))
	}, nil)
	vm.bindProperty(c, "bytes", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, FromInt(int64(len(args[0].Str()))))
	}, nil)
	vm.bind(c, "raw", stringRaw)
	vm.bind(c, "index", stringIndex)
	vm.bind(c, "contains", stringContains)
	vm.bind(c, "replace", stringReplace)
	vm.bind(c, "count", stringCount)
	vm.bind(c, "repeat", stringRepeat)
	vm.bind(c, "upper", stringCase(cases.Upper(language.Und), "upper"))
	vm.bind(c, "lower", stringCase(cases.Lower(language.Und), "lower"))
	vm.bind(c, "split", stringSplit)
	vm.bind(c, "trim", stringTrim)
	vm.bind(c, "number", func(vm *VM, args []Value, dest uint32) bool {
		return vm.Return(dest, parseNumber(args[0].Str(), numberAny))
	})
	vm.bind(c, "toClass", func(vm *VM, args []Value, dest uint32) bool {
		if v, ok := vm.Global(args[0].Str()); ok && v.IsClass() {
			return vm.Return(dest, v)
		}
		return vm.ReturnNull(dest)
	})
	vm.bind(c, "loop", stringLoop)
	vm.bind(c, "iterate", stringIterate)
	vm.bind(c, "next", stringNext)
	vm.bind(c.meta, OperExec.Key(), stringExec)
}

// stringOperand converts a right-hand side to a Go string.
func (vm *VM) stringOperand(v Value) (string, bool) {
	r, ok := vm.convertString(v)
	if !ok || !r.IsString() {
		return "", vm.Errorf("Unable to convert object to String.")
	}
	return r.Str(), true
}

func stringAdd(vm *VM, args []Value, dest uint32) bool {
	b, ok := vm.stringOperand(argAt(args, 1))
	if !ok {
		return false
	}
	a := args[0].Str()
	if !vm.checkBlock(len(a) + len(b)) {
		return false
	}
	return vm.Return(dest, vm.StringValue(a+b))
}

// stringSub removes the first occurrence of its argument.
func stringSub(vm *VM, args []Value, dest uint32) bool {
	b, ok := vm.stringOperand(argAt(args, 1))
	if !ok {
		return false
	}
	a := args[0].Str()
	if b == "" {
		return vm.Return(dest, vm.StringValue(a))
	}
	return vm.Return(dest, vm.StringValue(strings.Replace(a, b, "", 1)))
}

func stringCmp(vm *VM, args []Value, dest uint32) bool {
	r, ok := vm.convertString(argAt(args, 1))
	if !ok || !r.IsString() {
		if vm.failed() {
			return false
		}
		return vm.Return(dest, FromInt(-1))
	}
	return vm.Return(dest, FromInt(int64(strings.Compare(args[0].Str(), r.Str()))))
}

// stringNeg reverses the characters.
func stringNeg(vm *VM, args []Value, dest uint32) bool {
	s := args[0].Str()
	if !utf8.ValidString(s) {
		return vm.Errorf("Unable to reverse a malformed string.")
	}
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return vm.Return(dest, vm.StringValue(string(r)))
}

// stringIndexArg converts an Int index into a byte offset of s, counting
// negative indices from the end.
func (vm *VM) stringIndexArg(v Value, n int, label string) (int, bool) {
	i, err := safecast.Conv[int](v.Int())
	if err != nil {
		return 0, vm.Errorf("Out of bounds error: %s %d beyond bounds 0...%d", label, v.Int(), n-1)
	}
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, vm.Errorf("Out of bounds error: %s %d beyond bounds 0...%d", label, i, n-1)
	}
	return i, true
}

// stringLoadAt returns the byte at an Int index, or the bytes covered by a
// Range. A descending Range yields the slice reversed.
func stringLoadAt(vm *VM, args []Value, dest uint32) bool {
	s := args[0].Str()
	key := argAt(args, 1)
	var first, second Value
	switch {
	case key.IsInt():
		first, second = key, key
	case key.AsRange() != nil:
		r := key.AsRange()
		first, second = FromInt(r.From), FromInt(r.To)
	default:
		return vm.Errorf("An integer index or index range is required to access string items.")
	}
	i, ok := vm.stringIndexArg(first, len(s), "first_index")
	if !ok {
		return false
	}
	j, ok := vm.stringIndexArg(second, len(s), "second_index")
	if !ok {
		return false
	}
	if i <= j {
		return vm.Return(dest, vm.StringValue(s[i:j+1]))
	}
	sub := []byte(s[j : i+1])
	for a, b := 0, len(sub)-1; a < b; a, b = a+1, b-1 {
		sub[a], sub[b] = sub[b], sub[a]
	}
	return vm.Return(dest, vm.StringValue(string(sub)))
}

// stringStoreAt overwrites bytes in place starting at an Int index. The
// string keeps its identity; its hash is recomputed.
func stringStoreAt(vm *VM, args []Value, dest uint32) bool {
	str := args[0].AsString()
	idx := argAt(args, 1)
	if !idx.IsInt() {
		return vm.Errorf("An integer index is required to access a string item.")
	}
	val := argAt(args, 2).AsString()
	if val == nil {
		return vm.Errorf("A string needs to be assigned to a string index")
	}
	i, ok := vm.stringIndexArg(idx, len(str.s), "index")
	if !ok {
		return false
	}
	if i+len(val.s) > len(str.s) {
		return vm.Errorf("Out of bounds error: End of inserted string exceeds the length of the initial string")
	}
	str.s = str.s[:i] + val.s + str.s[i+len(val.s):]
	str.hash = hashString(str.s)
	return true
}

func stringIndex(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 || !args[1].IsString() {
		return vm.Errorf("String.index() expects a string as an argument")
	}
	i := strings.Index(args[0].Str(), args[1].Str())
	if i < 0 {
		return vm.ReturnNull(dest)
	}
	return vm.Return(dest, FromInt(int64(i)))
}

func stringContains(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 || !args[1].IsString() {
		return vm.Errorf("String.contains() expects a string as an argument")
	}
	return vm.Return(dest, FromBool(strings.Contains(args[0].Str(), args[1].Str())))
}

func stringReplace(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 3 || !args[1].IsString() || !args[2].IsString() {
		return vm.Errorf("String.replace() expects 2 string arguments.")
	}
	s := strings.ReplaceAll(args[0].Str(), args[1].Str(), args[2].Str())
	if !vm.checkBlock(len(s)) {
		return false
	}
	return vm.Return(dest, vm.StringValue(s))
}

// stringRaw folds the bytes of the first character into one decimal
// number, most significant byte first: "é" (0xC3 0xA9) gives 195*10+169.
func stringRaw(vm *VM, args []Value, dest uint32) bool {
	s := args[0].Str()
	if s == "" {
		return vm.Return(dest, FromInt(0))
	}
	_, n := utf8.DecodeRuneInString(s)
	var raw int64
	for i := 0; i < n; i++ {
		raw = raw*10 + int64(s[i])
	}
	return vm.Return(dest, FromInt(raw))
}

// stringCount counts non-overlapping occurrences.
func stringCount(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 || !args[1].IsString() {
		return vm.Errorf("String.count() expects a string as an argument")
	}
	sub := args[1].Str()
	if sub == "" {
		return vm.Return(dest, FromInt(0))
	}
	return vm.Return(dest, FromInt(int64(strings.Count(args[0].Str(), sub))))
}

func stringRepeat(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 || !args[1].IsInt() {
		return vm.Errorf("String.repeat() expects an integer argument")
	}
	n := args[1].Int()
	if n < 1 || n > int64(vm.maxBlock) {
		return vm.Errorf("String.repeat() expects a value >= 1 and < %d", vm.maxBlock)
	}
	s := args[0].Str()
	if !vm.checkBlock(len(s) * int(n)) {
		return false
	}
	return vm.Return(dest, vm.StringValue(strings.Repeat(s, int(n))))
}

// stringCase maps the whole string, or only the characters starting at
// the Int byte offsets passed as arguments.
func stringCase(caser cases.Caser, name string) InternalFunc {
	return func(vm *VM, args []Value, dest uint32) bool {
		s := args[0].Str()
		if len(args) == 1 {
			return vm.Return(dest, vm.StringValue(caser.String(s)))
		}
		marked := make(map[int]bool, len(args)-1)
		for _, v := range args[1:] {
			if !v.IsInt() {
				return vm.Errorf("%s() expects either no arguments, or integer arguments.", name)
			}
			i, ok := vm.stringIndexArg(v, len(s), "index")
			if !ok {
				return false
			}
			marked[i] = true
		}
		var b strings.Builder
		for i, r := range s {
			if marked[i] {
				b.WriteString(caser.String(string(r)))
				continue
			}
			b.WriteRune(r)
		}
		return vm.Return(dest, vm.StringValue(b.String()))
	}
}

// stringSplit splits around a separator, or into characters when the
// separator is empty.
func stringSplit(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 || !args[1].IsString() {
		return vm.Errorf("String.split() expects 1 string separator.")
	}
	s, sep := args[0].Str(), args[1].Str()
	var parts []string
	if sep == "" {
		parts = make([]string, 0, len(s))
		for _, r := range s {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(s, sep)
	}

	vm.gcDisable()
	defer vm.gcEnable()
	list := vm.NewList(len(parts))
	for _, p := range parts {
		list.Items = append(list.Items, vm.StringValue(p))
	}
	return vm.Return(dest, FromObject(list))
}

const asciiSpace = " \t\n\v\f\r"

// stringTrim strips ASCII white space: both sides by default, the left
// side with 1, the right side with 2.
func stringTrim(vm *VM, args []Value, dest uint32) bool {
	dir := int64(0)
	if len(args) == 2 && args[1].IsInt() {
		if v := args[1].Int(); v >= 0 && v <= 2 {
			dir = v
		}
	}
	s := args[0].Str()
	if dir == 0 || dir == 1 {
		s = strings.TrimLeft(s, asciiSpace)
	}
	if dir == 0 || dir == 2 {
		s = strings.TrimRight(s, asciiSpace)
	}
	return vm.Return(dest, vm.StringValue(s))
}

// stringLoop calls the closure once per character.
func stringLoop(vm *VM, args []Value, dest uint32) bool {
	if len(args) < 2 {
		return vm.Errorf("Incorrect number of arguments.")
	}
	c := args[1].AsClosure()
	if c == nil {
		return vm.Errorf("Argument must be a Closure.")
	}
	self := args[0]
	start := time.Now()
	for _, r := range self.Str() {
		if _, err := vm.RunClosure(c, self, vm.StringValue(string(r))); err != nil {
			return false
		}
	}
	return vm.Return(dest, FromInt(time.Since(start).Nanoseconds()))
}

// stringIterate advances a byte offset one character at a time.
func stringIterate(vm *VM, args []Value, dest uint32) bool {
	s := args[0].Str()
	if s == "" {
		return vm.Return(dest, False)
	}
	it := argAt(args, 1)
	if it.IsNullLike() {
		return vm.Return(dest, FromInt(0))
	}
	if !it.IsInt() {
		return vm.Errorf("Iterator expects a numeric value here.")
	}
	i := it.Int()
	if i < 0 || i+1 >= int64(len(s)) {
		return vm.Return(dest, False)
	}
	_, n := utf8.DecodeRuneInString(s[i:])
	if i+int64(n) >= int64(len(s)) {
		return vm.Return(dest, False)
	}
	return vm.Return(dest, FromInt(i+int64(n)))
}

func stringNext(vm *VM, args []Value, dest uint32) bool {
	s := args[0].Str()
	i := argAt(args, 1).Int()
	if i < 0 || i >= int64(len(s)) {
		return vm.ReturnNull(dest)
	}
	_, n := utf8.DecodeRuneInString(s[i:])
	return vm.Return(dest, vm.StringValue(s[i:i+int64(n)]))
}

func stringExec(vm *VM, args []Value, dest uint32) bool {
	if len(args) != 2 {
		return vm.Errorf("A single argument is expected in String casting.")
	}
	v, ok := vm.convertString(args[1])
	if !ok {
		return vm.Errorf("Unable to convert object to String.")
	}
	return vm.Return(dest, v)
}
