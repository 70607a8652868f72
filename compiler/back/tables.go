package back

import (
	"github.com/slowlang/armjit/compiler/asm"
	"github.com/slowlang/armjit/compiler/asm/arm"
	"github.com/slowlang/armjit/compiler/graph"
)

type (
	// dpi is a data processing instruction family.
	// reverse takes the operands swapped, test only sets flags.
	dpi struct {
		op, reverse, test asm.Opcode
	}

	// odpi is an operation with an overflow projection.
	odpi struct {
		op, reverse asm.Opcode
	}

	// shift folds into the flexible second operand.
	// An immediate amount in [lo, hi] uses mode imm, anything else reg.
	shift struct {
		imm, reg asm.AddrMode
		lo, hi   int32
	}
)

var dpis = [graph.NumOps]dpi{
	graph.Word32And: {arm.And, arm.And, arm.Tst},
	graph.Word32Or:  {arm.Orr, arm.Orr, arm.Orr},
	graph.Word32Xor: {arm.Eor, arm.Eor, arm.Teq},
	graph.Int32Add:  {arm.Add, arm.Add, arm.Cmn},
	graph.Int32Sub:  {arm.Sub, arm.Rsb, arm.Cmp},
}

var odpis = [graph.NumOps]odpi{
	graph.Int32AddWithOverflow: {arm.Add, arm.Add},
	graph.Int32SubWithOverflow: {arm.Sub, arm.Rsb},
}

var shifts = [graph.NumOps]shift{
	graph.Word32Sar: {arm.Operand2_R_ASR_I, arm.Operand2_R_ASR_R, 1, 32},
	graph.Word32Shl: {arm.Operand2_R_LSL_I, arm.Operand2_R_LSL_R, 0, 31},
	graph.Word32Shr: {arm.Operand2_R_LSR_I, arm.Operand2_R_LSR_R, 1, 32},
	graph.Word32Ror: {arm.Operand2_R_ROR_I, arm.Operand2_R_ROR_R, 1, 31},
}
