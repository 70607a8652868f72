package arm

import (
	"fmt"
	"math/bits"

	"github.com/slowlang/armjit/compiler/asm"
	"tlog.app/go/errors"
)

type (
	// operand shape of an opcode, used to check instruction arity
	shape struct {
		name string

		in, out int
		op2     bool // has a flexible second operand
		offset  bool // has a memory offset operand
		fixed   bool // in and out are exact, no addressing mode adds to them
	}
)

const (
	Add asm.Opcode = asm.ArchLast + iota
	And
	Bic
	Cmp
	Cmn
	Tst
	Teq
	Orr
	Eor
	Sub
	Rsb
	Mov
	Mvn
	Mul
	Mla
	Mls
	Sdiv
	Udiv
	Bfc
	Ubfx

	VcmpF64
	VaddF64
	VsubF64
	VmulF64
	VmlaF64
	VmlsF64
	VdivF64
	VcvtF64S32
	VcvtF64U32
	VcvtS32F64
	VcvtU32F64

	Ldrb
	Ldrsb
	Strb
	Ldrh
	Ldrsh
	Strh
	Ldr
	Str
	VldrF64
	VstrF64
	StoreWriteBarrier

	opLast
)

const (
	ModeNone asm.AddrMode = iota
	Offset_RI
	Offset_RR
	Operand2_I
	Operand2_R
	Operand2_R_ASR_I
	Operand2_R_LSL_I
	Operand2_R_LSR_I
	Operand2_R_ROR_I
	Operand2_R_ASR_R
	Operand2_R_LSL_R
	Operand2_R_LSR_R
	Operand2_R_ROR_R

	modeLast
)

var shapes = [opLast - asm.ArchLast]shape{
	Add - asm.ArchLast: {name: "add", in: 1, out: 1, op2: true},
	And - asm.ArchLast: {name: "and", in: 1, out: 1, op2: true},
	Bic - asm.ArchLast: {name: "bic", in: 1, out: 1, op2: true},
	Cmp - asm.ArchLast: {name: "cmp", in: 1, out: 0, op2: true},
	Cmn - asm.ArchLast: {name: "cmn", in: 1, out: 0, op2: true},
	Tst - asm.ArchLast: {name: "tst", in: 1, out: 0, op2: true},
	Teq - asm.ArchLast: {name: "teq", in: 1, out: 0, op2: true},
	Orr - asm.ArchLast: {name: "orr", in: 1, out: 1, op2: true},
	Eor - asm.ArchLast: {name: "eor", in: 1, out: 1, op2: true},
	Sub - asm.ArchLast: {name: "sub", in: 1, out: 1, op2: true},
	Rsb - asm.ArchLast: {name: "rsb", in: 1, out: 1, op2: true},
	Mov - asm.ArchLast: {name: "mov", in: 0, out: 1, op2: true},
	Mvn - asm.ArchLast: {name: "mvn", in: 0, out: 1, op2: true},
	Mul - asm.ArchLast: {name: "mul", in: 2, out: 1},
	Mla - asm.ArchLast: {name: "mla", in: 3, out: 1},
	Mls - asm.ArchLast: {name: "mls", in: 3, out: 1},

	Sdiv - asm.ArchLast: {name: "sdiv", in: 2, out: 1},
	Udiv - asm.ArchLast: {name: "udiv", in: 2, out: 1},
	Bfc - asm.ArchLast:  {name: "bfc", in: 3, out: 1},
	Ubfx - asm.ArchLast: {name: "ubfx", in: 3, out: 1},

	VcmpF64 - asm.ArchLast:    {name: "vcmp.f64", in: 2, out: 0},
	VaddF64 - asm.ArchLast:    {name: "vadd.f64", in: 2, out: 1},
	VsubF64 - asm.ArchLast:    {name: "vsub.f64", in: 2, out: 1},
	VmulF64 - asm.ArchLast:    {name: "vmul.f64", in: 2, out: 1},
	VmlaF64 - asm.ArchLast:    {name: "vmla.f64", in: 3, out: 1},
	VmlsF64 - asm.ArchLast:    {name: "vmls.f64", in: 3, out: 1},
	VdivF64 - asm.ArchLast:    {name: "vdiv.f64", in: 2, out: 1},
	VcvtF64S32 - asm.ArchLast: {name: "vcvt.f64.s32", in: 1, out: 1},
	VcvtF64U32 - asm.ArchLast: {name: "vcvt.f64.u32", in: 1, out: 1},
	VcvtS32F64 - asm.ArchLast: {name: "vcvt.s32.f64", in: 1, out: 1},
	VcvtU32F64 - asm.ArchLast: {name: "vcvt.u32.f64", in: 1, out: 1},

	Ldrb - asm.ArchLast:    {name: "ldrb", in: 0, out: 1, offset: true},
	Ldrsb - asm.ArchLast:   {name: "ldrsb", in: 0, out: 1, offset: true},
	Strb - asm.ArchLast:    {name: "strb", in: 1, out: 0, offset: true},
	Ldrh - asm.ArchLast:    {name: "ldrh", in: 0, out: 1, offset: true},
	Ldrsh - asm.ArchLast:   {name: "ldrsh", in: 0, out: 1, offset: true},
	Strh - asm.ArchLast:    {name: "strh", in: 1, out: 0, offset: true},
	Ldr - asm.ArchLast:     {name: "ldr", in: 0, out: 1, offset: true},
	Str - asm.ArchLast:     {name: "str", in: 1, out: 0, offset: true},
	VldrF64 - asm.ArchLast: {name: "vldr.f64", in: 0, out: 1, offset: true},
	VstrF64 - asm.ArchLast: {name: "vstr.f64", in: 1, out: 0, offset: true},

	StoreWriteBarrier - asm.ArchLast: {name: "str_wb", in: 3, out: 0, fixed: true},
}

var modeNames = [modeLast]string{
	ModeNone:         "",
	Offset_RI:        "Offset_RI",
	Offset_RR:        "Offset_RR",
	Operand2_I:       "Operand2_I",
	Operand2_R:       "Operand2_R",
	Operand2_R_ASR_I: "Operand2_R_ASR_I",
	Operand2_R_LSL_I: "Operand2_R_LSL_I",
	Operand2_R_LSR_I: "Operand2_R_LSR_I",
	Operand2_R_ROR_I: "Operand2_R_ROR_I",
	Operand2_R_ASR_R: "Operand2_R_ASR_R",
	Operand2_R_LSL_R: "Operand2_R_LSL_R",
	Operand2_R_LSR_R: "Operand2_R_LSR_R",
	Operand2_R_ROR_R: "Operand2_R_ROR_R",
}

func Name(op asm.Opcode) string {
	if op.IsArch() {
		return asm.ArchName(op)
	}

	if op < opLast {
		return shapes[op-asm.ArchLast].name
	}

	return fmt.Sprintf("op(%d)", int(op))
}

func ModeName(m asm.AddrMode) string {
	if m >= 0 && m < modeLast {
		return modeNames[m]
	}

	return fmt.Sprintf("mode(%d)", int(m))
}

// ImmediateFits reports whether v can be encoded as an 8-bit value
// rotated right by an even amount.
func ImmediateFits(v uint32) bool {
	for rot := 0; rot < 32; rot += 2 {
		if bits.RotateLeft32(v, rot) <= 0xff {
			return true
		}
	}

	return false
}

// CanBeImmediate reports whether v fits the immediate slot of op.
// Some opcodes have an equivalent counterpart taking the inverted or negated value.
func CanBeImmediate(op asm.Opcode, v int32) bool {
	switch op {
	case And, Mov, Mvn, Bic:
		return ImmediateFits(uint32(v)) || ImmediateFits(^uint32(v))
	case Add, Sub, Cmp, Cmn:
		return ImmediateFits(uint32(v)) || ImmediateFits(uint32(-v))
	case Tst, Teq, Orr, Eor, Rsb:
		return ImmediateFits(uint32(v))
	case VldrF64, VstrF64:
		return v >= -1020 && v <= 1020 && v%4 == 0
	case Ldrb, Ldrsb, Strb, Ldr, Str:
		return v >= -4095 && v <= 4095
	case Ldrh, Ldrsh, Strh:
		return v >= -255 && v <= 255
	}

	return false
}

// Operand2Inputs is the number of inputs the flexible operand takes in mode m.
func Operand2Inputs(m asm.AddrMode) int {
	switch m {
	case Operand2_I, Operand2_R:
		return 1
	case Operand2_R_ASR_I, Operand2_R_LSL_I, Operand2_R_LSR_I, Operand2_R_ROR_I,
		Operand2_R_ASR_R, Operand2_R_LSL_R, Operand2_R_LSR_R, Operand2_R_ROR_R:
		return 2
	}

	return -1
}

// Check validates operand counts of i against its opcode and addressing mode.
func Check(i *asm.Instr) error {
	if i.Op.IsArch() {
		return checkArch(i)
	}

	if i.Op < asm.ArchLast || i.Op >= opLast {
		return errors.New("unknown opcode %d", int(i.Op))
	}

	sh := shapes[i.Op-asm.ArchLast]

	in, out := sh.in, sh.out

	switch {
	case sh.fixed:
	case sh.op2:
		n := Operand2Inputs(i.Mode)
		if n < 0 {
			return errors.New("%v: bad addressing mode %v", sh.name, ModeName(i.Mode))
		}

		in += n
	case sh.offset:
		if i.Mode != Offset_RI && i.Mode != Offset_RR {
			return errors.New("%v: bad addressing mode %v", sh.name, ModeName(i.Mode))
		}

		in += 2
	default:
		if i.Mode != ModeNone {
			return errors.New("%v: unexpected addressing mode %v", sh.name, ModeName(i.Mode))
		}
	}

	switch i.Flags {
	case asm.FlagsSet:
		out++
	case asm.FlagsBranch:
		in += 2
	}

	if len(i.In) != in || len(i.Out) != out {
		return errors.New("%v %v: want %d inputs %d outputs, got %d %d", sh.name, ModeName(i.Mode), in, out, len(i.In), len(i.Out))
	}

	return nil
}

func checkArch(i *asm.Instr) error {
	switch i.Op {
	case asm.ArchNop:
		if len(i.In) != 0 || len(i.Out) > 1 {
			return errors.New("arch_nop: bad operands")
		}
	case asm.ArchJmp:
		if len(i.In) != 1 || i.In[0].Kind != asm.Label || len(i.Out) != 0 {
			return errors.New("arch_jmp: want one label")
		}
	case asm.ArchRet:
		if len(i.Out) != 0 {
			return errors.New("arch_ret: unexpected outputs")
		}
	case asm.ArchCall:
		if len(i.In) == 0 || i.In[0].Kind != asm.ConstantRef {
			return errors.New("arch_call: want call target")
		}
	case asm.ArchTruncateDoubleToI:
		if len(i.In) != 1 || len(i.Out) != 1 {
			return errors.New("arch_truncate_double_to_i: want one input and one output")
		}
	}

	return nil
}
