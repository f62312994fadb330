package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the 6-bit operation code stored in bits 31..26 of an
// instruction word.
type Opcode uint8

const (
	OpRET0 Opcode = iota
	OpHALT
	OpNOP
	OpRET
	OpCALL
	OpLOAD
	OpLOADS
	OpLOADAT
	OpLOADK
	OpLOADG
	OpLOADI
	OpLOADU
	OpMOVE
	OpSTORE
	OpSTOREAT
	OpSTOREG
	OpSTOREU
	OpJUMP
	OpJUMPF
	OpSWITCH
	OpADD
	OpSUB
	OpDIV
	OpMUL
	OpREM
	OpAND
	OpOR
	OpLT
	OpGT
	OpEQ
	OpLEQ
	OpGEQ
	OpNEQ
	OpEQQ
	OpNEQQ
	OpISA
	OpMATCH
	OpNEG
	OpNOT
	OpLSHIFT
	OpRSHIFT
	OpBAND
	OpBOR
	OpBXOR
	OpBNOT
	OpMAPNEW
	OpLISTNEW
	OpRANGENEW
	OpSETLIST
	OpCLOSURE
	OpCLOSE
	OpCHECK
	OpRESERVED1
	OpRESERVED2
	OpRESERVED3
	OpRESERVED4
	OpRESERVED5
	OpRESERVED6

	opCount
)

// Special LOADK indices above the constant pool.
const (
	CpoolSuper     = 4097
	CpoolNull      = 4098
	CpoolUndefined = 4099
	CpoolArguments = 4100
	CpoolTrue      = 4101
	CpoolFalse     = 4102
	CpoolFunc      = 4103
)

// ConstBase is added to a constant index in the C operand of an A8 B8 C10
// instruction.
const ConstBase = 256

// Format describes the operand packing of an instruction.
type Format uint8

const (
	FmtNone Format = iota
	FmtA           // A8
	FmtAB          // A8 B8
	FmtABC         // A8 B8 C10
	FmtAN          // A8 N18
	FmtASN         // A8 S1 N17
	FmtN           // N26
	FmtABCF        // A8 B8 C8 F2
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name   string
	Format Format
}

var opcodeTable = [opCount]OpcodeInfo{
	OpRET0:      {"RET0", FmtNone},
	OpHALT:      {"HALT", FmtNone},
	OpNOP:       {"NOP", FmtNone},
	OpRET:       {"RET", FmtA},
	OpCALL:      {"CALL", FmtABC},
	OpLOAD:      {"LOAD", FmtABC},
	OpLOADS:     {"LOADS", FmtABC},
	OpLOADAT:    {"LOADAT", FmtABC},
	OpLOADK:     {"LOADK", FmtAN},
	OpLOADG:     {"LOADG", FmtAN},
	OpLOADI:     {"LOADI", FmtASN},
	OpLOADU:     {"LOADU", FmtAN},
	OpMOVE:      {"MOVE", FmtAN},
	OpSTORE:     {"STORE", FmtABC},
	OpSTOREAT:   {"STOREAT", FmtABC},
	OpSTOREG:    {"STOREG", FmtAN},
	OpSTOREU:    {"STOREU", FmtAN},
	OpJUMP:      {"JUMP", FmtN},
	OpJUMPF:     {"JUMPF", FmtASN},
	OpSWITCH:    {"SWITCH", FmtNone},
	OpADD:       {"ADD", FmtABC},
	OpSUB:       {"SUB", FmtABC},
	OpDIV:       {"DIV", FmtABC},
	OpMUL:       {"MUL", FmtABC},
	OpREM:       {"REM", FmtABC},
	OpAND:       {"AND", FmtABC},
	OpOR:        {"OR", FmtABC},
	OpLT:        {"LT", FmtABC},
	OpGT:        {"GT", FmtABC},
	OpEQ:        {"EQ", FmtABC},
	OpLEQ:       {"LEQ", FmtABC},
	OpGEQ:       {"GEQ", FmtABC},
	OpNEQ:       {"NEQ", FmtABC},
	OpEQQ:       {"EQQ", FmtABC},
	OpNEQQ:      {"NEQQ", FmtABC},
	OpISA:       {"ISA", FmtABC},
	OpMATCH:     {"MATCH", FmtABC},
	OpNEG:       {"NEG", FmtAB},
	OpNOT:       {"NOT", FmtAB},
	OpLSHIFT:    {"LSHIFT", FmtABC},
	OpRSHIFT:    {"RSHIFT", FmtABC},
	OpBAND:      {"BAND", FmtABC},
	OpBOR:       {"BOR", FmtABC},
	OpBXOR:      {"BXOR", FmtABC},
	OpBNOT:      {"BNOT", FmtAB},
	OpMAPNEW:    {"MAPNEW", FmtAN},
	OpLISTNEW:   {"LISTNEW", FmtAN},
	OpRANGENEW:  {"RANGENEW", FmtABCF},
	OpSETLIST:   {"SETLIST", FmtABC},
	OpCLOSURE:   {"CLOSURE", FmtAN},
	OpCLOSE:     {"CLOSE", FmtA},
	OpCHECK:     {"CHECK", FmtA},
	OpRESERVED1: {"RESERVED1", FmtNone},
	OpRESERVED2: {"RESERVED2", FmtNone},
	OpRESERVED3: {"RESERVED3", FmtNone},
	OpRESERVED4: {"RESERVED4", FmtNone},
	OpRESERVED5: {"RESERVED5", FmtNone},
	OpRESERVED6: {"RESERVED6", FmtNone},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op < opCount {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint8(op))}
}

func (op Opcode) String() string { return op.Info().Name }

// OpcodeByName maps a mnemonic back to its opcode.
func OpcodeByName(name string) (Opcode, bool) {
	for i := range opcodeTable {
		if opcodeTable[i].Name == name {
			return Opcode(i), true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// EncodeABC packs A8 B8 C10. Formats with fewer operands pass zero.
func EncodeABC(op Opcode, a, b, c uint32) uint32 {
	return uint32(op)<<26 | (a&0xFF)<<18 | (b&0xFF)<<10 | c&0x3FF
}

// EncodeAN packs A8 N18.
func EncodeAN(op Opcode, a, n uint32) uint32 {
	return uint32(op)<<26 | (a&0xFF)<<18 | n&0x3FFFF
}

// EncodeASN packs A8 S1 N17.
func EncodeASN(op Opcode, a uint32, s bool, n uint32) uint32 {
	w := uint32(op)<<26 | (a&0xFF)<<18 | n&0x1FFFF
	if s {
		w |= 1 << 17
	}
	return w
}

// EncodeN packs N26.
func EncodeN(op Opcode, n uint32) uint32 {
	return uint32(op)<<26 | n&0x3FFFFFF
}

// EncodeABCF packs A8 B8 C8 F2.
func EncodeABCF(op Opcode, a, b, c, f uint32) uint32 {
	return uint32(op)<<26 | (a&0xFF)<<18 | (b&0xFF)<<10 | (c&0xFF)<<2 | f&0x3
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func decodeOp(w uint32) Opcode { return Opcode(w >> 26) }

func decodeA(w uint32) uint32 { return (w >> 18) & 0xFF }

func decodeB(w uint32) uint32 { return (w >> 10) & 0xFF }

func decodeC(w uint32) uint32 { return w & 0x3FF }

func decodeN18(w uint32) uint32 { return w & 0x3FFFF }

func decodeS(w uint32) bool { return w&(1<<17) != 0 }

func decodeN17(w uint32) uint32 { return w & 0x1FFFF }

func decodeN26(w uint32) uint32 { return w & 0x3FFFFFF }

func decodeC8(w uint32) uint32 { return (w >> 2) & 0xFF }

func decodeF(w uint32) uint32 { return w & 0x3 }

// ---------------------------------------------------------------------------
// FunctionBuilder: assembler for Native functions
// ---------------------------------------------------------------------------

// Label is a jump target resolved by Mark.
type Label struct {
	resolved bool
	position int
	refs     []int
}

// FunctionBuilder assembles a Native function. Jumps are absolute
// instruction indices.
type FunctionBuilder struct {
	name      string
	nparams   int
	nlocals   int
	ntemps    int
	nup       int
	useArgs   bool
	code      []uint32
	lines     []uint32
	line      uint32
	constants []Value
	defaults  []Value
	names     []string
}

// NewFunctionBuilder starts a function with nparams parameters, self
// included.
func NewFunctionBuilder(name string, nparams int) *FunctionBuilder {
	return &FunctionBuilder{name: name, nparams: nparams}
}

// SetLocals sets the number of local registers.
func (b *FunctionBuilder) SetLocals(n int) *FunctionBuilder { b.nlocals = n; return b }

// SetTemps sets the number of temporary registers.
func (b *FunctionBuilder) SetTemps(n int) *FunctionBuilder { b.ntemps = n; return b }

// SetUpvalues sets the number of captured variables.
func (b *FunctionBuilder) SetUpvalues(n int) *FunctionBuilder { b.nup = n; return b }

// UseArgs makes the function receive the implicit arguments list.
func (b *FunctionBuilder) UseArgs() *FunctionBuilder { b.useArgs = true; return b }

// SetDefaults sets default values for parameters 1..n.
func (b *FunctionBuilder) SetDefaults(vs ...Value) *FunctionBuilder { b.defaults = vs; return b }

// SetParamNames records parameter names.
func (b *FunctionBuilder) SetParamNames(names ...string) *FunctionBuilder { b.names = names; return b }

// Line sets the source line recorded for following instructions.
func (b *FunctionBuilder) Line(n uint32) *FunctionBuilder { b.line = n; return b }

// Const adds a constant and returns its pool index.
func (b *FunctionBuilder) Const(v Value) uint32 {
	b.constants = append(b.constants, v)
	return uint32(len(b.constants) - 1)
}

// K returns the C operand addressing constant index i.
func K(i uint32) uint32 { return i + ConstBase }

// Len returns the number of emitted instructions.
func (b *FunctionBuilder) Len() int { return len(b.code) }

// Emit appends a raw instruction word.
func (b *FunctionBuilder) Emit(w uint32) *FunctionBuilder {
	b.code = append(b.code, w)
	b.lines = append(b.lines, b.line)
	return b
}

// ABC emits an A8 B8 C10 instruction.
func (b *FunctionBuilder) ABC(op Opcode, a, bb, c uint32) *FunctionBuilder {
	return b.Emit(EncodeABC(op, a, bb, c))
}

// AN emits an A8 N18 instruction.
func (b *FunctionBuilder) AN(op Opcode, a, n uint32) *FunctionBuilder {
	return b.Emit(EncodeAN(op, a, n))
}

// LoadI emits LOADI with a signed immediate.
func (b *FunctionBuilder) LoadI(a uint32, v int32) *FunctionBuilder {
	if v < 0 {
		return b.Emit(EncodeASN(OpLOADI, a, true, uint32(-v)))
	}
	return b.Emit(EncodeASN(OpLOADI, a, false, uint32(v)))
}

// Ret emits RET a.
func (b *FunctionBuilder) Ret(a uint32) *FunctionBuilder { return b.ABC(OpRET, a, 0, 0) }

// Ret0 emits RET0.
func (b *FunctionBuilder) Ret0() *FunctionBuilder { return b.Emit(EncodeN(OpRET0, 0)) }

// Move emits MOVE a <- src.
func (b *FunctionBuilder) Move(a, src uint32) *FunctionBuilder { return b.AN(OpMOVE, a, src) }

// Call emits CALL dest callee nargs.
func (b *FunctionBuilder) Call(dest, callee, nargs uint32) *FunctionBuilder {
	return b.ABC(OpCALL, dest, callee, nargs)
}

// Closure emits CLOSURE followed by one capture word per upvalue. Each
// capture is (index, local): local captures a register of this frame,
// otherwise an upvalue of the enclosing closure.
func (b *FunctionBuilder) Closure(a, fnConst uint32, captures ...Capture) *FunctionBuilder {
	b.AN(OpCLOSURE, a, fnConst)
	for _, c := range captures {
		n := uint32(0)
		if c.Local {
			n = 1
		}
		b.AN(OpMOVE, c.Index, n)
	}
	return b
}

// Capture describes one upvalue setup word after CLOSURE.
type Capture struct {
	Index uint32
	Local bool
}

// NewLabel creates an unresolved label.
func (b *FunctionBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the next instruction.
func (b *FunctionBuilder) Mark(l *Label) {
	if l.resolved {
		panic("label already resolved")
	}
	l.resolved = true
	l.position = len(b.code)
	for _, ref := range l.refs {
		b.code[ref] = patchTarget(b.code[ref], uint32(l.position))
	}
	l.refs = nil
}

// Jump emits JUMP to l.
func (b *FunctionBuilder) Jump(l *Label) *FunctionBuilder {
	return b.jump(EncodeN(OpJUMP, 0), l)
}

// JumpF emits JUMPF a to l. With boolOnly set only a Bool false jumps.
func (b *FunctionBuilder) JumpF(a uint32, boolOnly bool, l *Label) *FunctionBuilder {
	return b.jump(EncodeASN(OpJUMPF, a, boolOnly, 0), l)
}

func (b *FunctionBuilder) jump(w uint32, l *Label) *FunctionBuilder {
	if l.resolved {
		return b.Emit(patchTarget(w, uint32(l.position)))
	}
	l.refs = append(l.refs, len(b.code))
	return b.Emit(w)
}

func patchTarget(w uint32, target uint32) uint32 {
	if decodeOp(w) == OpJUMP {
		return EncodeN(OpJUMP, target)
	}
	return w&^0x1FFFF | target&0x1FFFF
}

// Build allocates the Function on vm's heap.
func (b *FunctionBuilder) Build(vm *VM) *Function {
	vm.gcDisable()
	defer vm.gcEnable()
	f := vm.NewFunction(b.name, b.nparams, b.nlocals, b.ntemps)
	f.NUpvalues = b.nup
	f.UseArgs = b.useArgs
	f.Bytecode = append([]uint32(nil), b.code...)
	f.Lines = append([]uint32(nil), b.lines...)
	f.Constants = append([]Value(nil), b.constants...)
	f.ParamDefaults = append([]Value(nil), b.defaults...)
	f.ParamNames = append([]string(nil), b.names...)
	return f
}

// BuildClosure is Build followed by NewClosure.
func (b *FunctionBuilder) BuildClosure(vm *VM) *Closure {
	vm.gcDisable()
	defer vm.gcEnable()
	return vm.NewClosure(b.Build(vm))
}
