package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the instruction word w found at index pc.
func DisassembleInstruction(pc int, w uint32) string {
	op := decodeOp(w)
	info := op.Info()

	switch info.Format {
	case FmtNone:
		return fmt.Sprintf("%04d  %s", pc, info.Name)

	case FmtA:
		return fmt.Sprintf("%04d  %s %d", pc, info.Name, decodeA(w))

	case FmtAB:
		return fmt.Sprintf("%04d  %s %d %d", pc, info.Name, decodeA(w), decodeB(w))

	case FmtABC:
		c := decodeC(w)
		if c >= ConstBase {
			return fmt.Sprintf("%04d  %s %d %d K%d", pc, info.Name, decodeA(w), decodeB(w), c-ConstBase)
		}
		return fmt.Sprintf("%04d  %s %d %d %d", pc, info.Name, decodeA(w), decodeB(w), c)

	case FmtAN:
		return fmt.Sprintf("%04d  %s %d %d", pc, info.Name, decodeA(w), decodeN18(w))

	case FmtASN:
		n := decodeN17(w)
		switch op {
		case OpLOADI:
			v := int64(n)
			if decodeS(w) {
				v = -v
			}
			return fmt.Sprintf("%04d  %s %d %d", pc, info.Name, decodeA(w), v)
		case OpJUMPF:
			flag := ""
			if decodeS(w) {
				flag = " bool"
			}
			return fmt.Sprintf("%04d  %s %d%s (-> %04d)", pc, info.Name, decodeA(w), flag, n)
		}
		return fmt.Sprintf("%04d  %s %d %t %d", pc, info.Name, decodeA(w), decodeS(w), n)

	case FmtN:
		return fmt.Sprintf("%04d  %s (-> %04d)", pc, info.Name, decodeN26(w))

	case FmtABCF:
		return fmt.Sprintf("%04d  %s %d %d %d %d", pc, info.Name, decodeA(w), decodeB(w), decodeC8(w), decodeF(w))
	}
	return fmt.Sprintf("%04d  %s", pc, info.Name)
}

// DisassembleCode renders a bytecode slice, one instruction per line.
func DisassembleCode(code []uint32) string {
	var b strings.Builder
	for pc, w := range code {
		if pc > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(DisassembleInstruction(pc, w))
	}
	return b.String()
}

// Disassemble renders a Native function: a header line, the instructions
// annotated with source lines, and the constant pool. Other function kinds
// render as the header alone.
func (vm *VM) Disassemble(f *Function) string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s (%s) params=%d locals=%d temps=%d upvalues=%d",
		f.DisplayName(), f.Tag, f.NParams, f.NLocals, f.NTemps, f.NUpvalues)
	if f.Tag != ExecNative {
		return b.String()
	}
	line := uint32(0)
	for pc, w := range f.Bytecode {
		b.WriteByte('\n')
		b.WriteString(DisassembleInstruction(pc, w))
		if l := f.LineAt(pc); l != 0 && l != line {
			fmt.Fprintf(&b, "\t; line %d", l)
			line = l
		}
	}
	for i, k := range f.Constants {
		fmt.Fprintf(&b, "\nK%d = %s", i, vm.constantString(k))
	}
	return b.String()
}

func (vm *VM) constantString(v Value) string {
	if fn := v.AsFunction(); fn != nil {
		return "func " + fn.DisplayName()
	}
	if v.IsString() {
		return fmt.Sprintf("%q", v.Str())
	}
	return vm.ValueString(v)
}
