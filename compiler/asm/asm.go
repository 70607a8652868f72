package asm

import (
	"fmt"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Opcode is an architecture opcode.
	// Values below ArchLast are shared by every architecture.
	Opcode int

	// AddrMode is the shape of an instruction's flexible operand.
	// Its values are defined by the architecture.
	AddrMode int

	FlagsMode int

	Cond int

	OperandKind int

	Policy int

	Operand struct {
		Kind   OperandKind
		Index  int // vreg, immediate index, constant vreg or block
		Policy Policy
		Reg    int // fixed register or stack slot
	}

	Instr struct {
		Op    Opcode
		Mode  AddrMode
		Flags FlagsMode
		Cond  Cond

		Out  []Operand
		In   []Operand
		Temp []Operand
	}
)

const (
	ArchNop Opcode = iota
	ArchJmp
	ArchRet
	ArchCall
	ArchTruncateDoubleToI

	ArchLast
)

const (
	FlagsNone FlagsMode = iota
	FlagsSet
	FlagsBranch
)

const (
	Equal Cond = iota
	NotEqual
	SignedLessThan
	SignedGreaterThanOrEqual
	SignedLessThanOrEqual
	SignedGreaterThan
	UnsignedLessThan
	UnsignedGreaterThanOrEqual
	UnsignedLessThanOrEqual
	UnsignedGreaterThan
	UnorderedEqual
	UnorderedNotEqual
	UnorderedLessThan
	UnorderedGreaterThanOrEqual
	UnorderedLessThanOrEqual
	UnorderedGreaterThan
	Overflow
	NotOverflow
)

const (
	Unallocated OperandKind = iota
	Immediate
	ConstantRef
	Label
)

const (
	PolicyAny Policy = iota
	PolicyRegister
	PolicySameAsFirst
	PolicyFixedRegister
	PolicyFixedDouble
	PolicyFixedSlot
)

var (
	archNames  = []string{"arch_nop", "arch_jmp", "arch_ret", "arch_call", "arch_truncate_double_to_i"}
	flagsNames = []string{"", "set", "branch"}
	condNames  = []string{
		"eq", "ne", "lt", "ge", "le", "gt", "lo", "hs", "ls", "hi",
		"ueq", "une", "ult", "uge", "ule", "ugt", "vs", "vc",
	}
)

// Negate returns the condition that holds exactly when c does not.
// Condition pairs are laid out next to each other.
func (c Cond) Negate() Cond {
	return c ^ 1
}

// Commute returns the condition to use when compare operands are swapped.
func (c Cond) Commute() Cond {
	switch c {
	case SignedLessThan:
		return SignedGreaterThan
	case SignedGreaterThan:
		return SignedLessThan
	case SignedLessThanOrEqual:
		return SignedGreaterThanOrEqual
	case SignedGreaterThanOrEqual:
		return SignedLessThanOrEqual
	case UnsignedLessThan:
		return UnsignedGreaterThan
	case UnsignedGreaterThan:
		return UnsignedLessThan
	case UnsignedLessThanOrEqual:
		return UnsignedGreaterThanOrEqual
	case UnsignedGreaterThanOrEqual:
		return UnsignedLessThanOrEqual
	case UnorderedLessThan:
		return UnorderedGreaterThan
	case UnorderedGreaterThan:
		return UnorderedLessThan
	case UnorderedLessThanOrEqual:
		return UnorderedGreaterThanOrEqual
	case UnorderedGreaterThanOrEqual:
		return UnorderedLessThanOrEqual
	}

	return c
}

func (c Cond) String() string {
	if c >= 0 && int(c) < len(condNames) {
		return condNames[c]
	}

	return fmt.Sprintf("cond(%d)", int(c))
}

func (f FlagsMode) String() string {
	if f >= 0 && int(f) < len(flagsNames) {
		return flagsNames[f]
	}

	return fmt.Sprintf("flags(%d)", int(f))
}

// IsArch reports whether op is an architecture independent pseudo instruction.
func (op Opcode) IsArch() bool { return op < ArchLast }

func ArchName(op Opcode) string {
	if op >= 0 && op < ArchLast {
		return archNames[op]
	}

	return fmt.Sprintf("op(%d)", int(op))
}

func Vreg(v int, p Policy) Operand { return Operand{Kind: Unallocated, Index: v, Policy: p} }

func Fixed(v int, p Policy, reg int) Operand {
	return Operand{Kind: Unallocated, Index: v, Policy: p, Reg: reg}
}

func Imm(index int) Operand { return Operand{Kind: Immediate, Index: index} }

func ConstRef(vreg int) Operand { return Operand{Kind: ConstantRef, Index: vreg} }

func LabelRef(block int) Operand { return Operand{Kind: Label, Index: block} }

func (o Operand) String() string {
	switch o.Kind {
	case Immediate:
		return fmt.Sprintf("#%d", o.Index)
	case ConstantRef:
		return fmt.Sprintf("=v%d", o.Index)
	case Label:
		return fmt.Sprintf("B%d", o.Index)
	}

	switch o.Policy {
	case PolicyFixedRegister:
		return fmt.Sprintf("v%d(r%d)", o.Index, o.Reg)
	case PolicyFixedDouble:
		return fmt.Sprintf("v%d(d%d)", o.Index, o.Reg)
	case PolicyFixedSlot:
		return fmt.Sprintf("v%d(s%d)", o.Index, o.Reg)
	case PolicySameAsFirst:
		return fmt.Sprintf("v%d(=0)", o.Index)
	}

	return fmt.Sprintf("v%d", o.Index)
}

func (o Operand) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendString(b, o.String())
}

func (i *Instr) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, -1)

	b = e.AppendKeyInt(b, "op", int(i.Op))
	b = e.AppendKeyInt(b, "mode", int(i.Mode))

	if i.Flags != FlagsNone {
		b = e.AppendKey(b, "flags")
		b = e.AppendFormat(b, "%v_%v", i.Flags, i.Cond)
	}

	b = e.AppendKey(b, "out")
	b = e.AppendArray(b, len(i.Out))

	for _, o := range i.Out {
		b = o.TlogAppend(b)
	}

	b = e.AppendKey(b, "in")
	b = e.AppendArray(b, len(i.In))

	for _, o := range i.In {
		b = o.TlogAppend(b)
	}

	b = e.AppendBreak(b)

	return b
}
