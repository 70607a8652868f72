package back

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/armjit/compiler/asm"
	"github.com/slowlang/armjit/compiler/asm/arm"
	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/sched"
	"github.com/slowlang/armjit/compiler/target"
)

type result struct {
	*asm.Stream

	s []*asm.Instr
}

var immediates = []int32{
	-2147483617, -2147483606, -2113929216, -2080374784, -1996488704,
	-1879048192, -1459617792, -1358954496, -1342177265, -1275068414,
	-1073741818, -1073741777, -855638016, -805306368, -402653184,
	-268435444, -16777216, 0, 35, 61,
	105, 116, 171, 245, 255,
	692, 1216, 1248, 1520, 1600,
	1888, 3744, 4080, 5888, 8384,
	9344, 9472, 9792, 13312, 15040,
	15360, 20736, 22272, 23296, 32000,
	33536, 37120, 45824, 47872, 56320,
	59392, 65280, 72704, 101376, 147456,
	161792, 164864, 167936, 173056, 195584,
	209920, 212992, 356352, 655360, 704512,
	716800, 851968, 901120, 1044480, 1523712,
	2572288, 3211264, 3588096, 3833856, 3866624,
	4325376, 5177344, 6488064, 7012352, 7471104,
	14090240, 16711680, 19398656, 22282240, 28573696,
	30408704, 30670848, 43253760, 54525952, 55312384,
	56623104, 68157440, 115343360, 131072000, 187695104,
	188743680, 195035136, 197132288, 203423744, 218103808,
	267386880, 268435470, 285212672, 402653185, 415236096,
	595591168, 603979776, 603979778, 629145600, 1073741835,
	1073741855, 1073741861, 1073741884, 1157627904, 1476395008,
	1476395010, 1610612741, 2030043136, 2080374785, 2097152000,
}

func selectCode(t *testing.T, a *sched.Assembler, fs ...target.Feature) result {
	t.Helper()

	g, s := a.Finish()
	require.NoError(t, g.Verify())

	st, err := Select(context.Background(), g, s, target.NewFeatures(fs...))
	require.NoError(t, err)

	return result{Stream: st, s: st.Target()}
}

func params(n int) *sched.Assembler {
	ps := make([]graph.MachineType, n)

	for i := range ps {
		ps[i] = graph.MachInt32
	}

	return sched.NewAssembler(ps...)
}

// branch tests cond and returns 1 or 0.
func branch(a *sched.Assembler, cond graph.ID) {
	var yes, no sched.Label

	a.Branch(cond, &yes, &no)

	a.Bind(&yes)
	a.Return(a.Int32Constant(1))

	a.Bind(&no)
	a.Return(a.Int32Constant(0))
}

func notEqual(a *sched.Assembler, l, r graph.ID) graph.ID {
	return a.Word32Equal(a.Word32Equal(l, r), a.Int32Constant(0))
}

func dpiOps() (r []graph.Op) {
	for op, d := range dpis {
		if d.op != 0 {
			r = append(r, graph.Op(op))
		}
	}

	return r
}

func odpiOps() (r []graph.Op) {
	for op, d := range odpis {
		if d.op != 0 {
			r = append(r, graph.Op(op))
		}
	}

	return r
}

func shiftOps() (r []graph.Op) {
	for op, sh := range shifts {
		if sh.imm != arm.ModeNone {
			r = append(r, graph.Op(op))
		}
	}

	return r
}

func shiftImmediates(sh shift) (r []int32) {
	for v := sh.lo; v <= sh.hi; v++ {
		r = append(r, v)
	}

	return r
}

func requireInstr(t *testing.T, i *asm.Instr, op asm.Opcode, mode asm.AddrMode, in, out int) {
	t.Helper()

	require.Equal(t, arm.Name(op), arm.Name(i.Op))
	require.Equal(t, arm.ModeName(mode), arm.ModeName(i.Mode))
	require.Len(t, i.In, in)
	require.Len(t, i.Out, out)
}

func TestDPI(t *testing.T) {
	for _, op := range dpiOps() {
		d := dpis[op]

		t.Run(op.String(), func(t *testing.T) {
			t.Run("Parameters", func(t *testing.T) {
				a := params(2)
				a.Return(a.Binop(op, a.Parameter(0), a.Parameter(1)))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], d.op, arm.Operand2_R, 2, 1)
			})

			t.Run("Immediate", func(t *testing.T) {
				for _, imm := range immediates {
					a := params(1)
					a.Return(a.Binop(op, a.Parameter(0), a.Int32Constant(imm)))

					r := selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], d.op, arm.Operand2_I, 2, 1)
					assert.Equal(t, imm, r.ToInt32(r.s[0].In[1]))

					a = params(1)
					a.Return(a.Binop(op, a.Int32Constant(imm), a.Parameter(0)))

					r = selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], d.reverse, arm.Operand2_I, 2, 1)
					assert.Equal(t, imm, r.ToInt32(r.s[0].In[1]))
				}
			})

			for _, sop := range shiftOps() {
				sh := shifts[sop]

				t.Run("ShiftByParameter/"+sop.String(), func(t *testing.T) {
					a := params(3)
					a.Return(a.Binop(op, a.Parameter(0), a.Binop(sop, a.Parameter(1), a.Parameter(2))))

					r := selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], d.op, sh.reg, 3, 1)

					a = params(3)
					a.Return(a.Binop(op, a.Binop(sop, a.Parameter(0), a.Parameter(1)), a.Parameter(2)))

					r = selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], d.reverse, sh.reg, 3, 1)
				})

				t.Run("ShiftByImmediate/"+sop.String(), func(t *testing.T) {
					for _, imm := range shiftImmediates(sh) {
						a := params(2)
						a.Return(a.Binop(op, a.Parameter(0), a.Binop(sop, a.Parameter(1), a.Int32Constant(imm))))

						r := selectCode(t, a)
						require.Len(t, r.s, 1)
						requireInstr(t, r.s[0], d.op, sh.imm, 3, 1)
						assert.Equal(t, imm, r.ToInt32(r.s[0].In[2]))

						a = params(2)
						a.Return(a.Binop(op, a.Binop(sop, a.Parameter(0), a.Int32Constant(imm)), a.Parameter(1)))

						r = selectCode(t, a)
						require.Len(t, r.s, 1)
						requireInstr(t, r.s[0], d.reverse, sh.imm, 3, 1)
						assert.Equal(t, imm, r.ToInt32(r.s[0].In[2]))
					}
				})

				t.Run("BranchWithShiftByParameter/"+sop.String(), func(t *testing.T) {
					a := params(3)
					branch(a, a.Binop(op, a.Parameter(0), a.Binop(sop, a.Parameter(1), a.Parameter(2))))

					r := selectCode(t, a)
					require.Len(t, r.s, 1)
					assert.Equal(t, arm.Name(d.test), arm.Name(r.s[0].Op))
					assert.Equal(t, arm.ModeName(sh.reg), arm.ModeName(r.s[0].Mode))
					assert.Len(t, r.s[0].In, 5)
					assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
					assert.Equal(t, asm.NotEqual, r.s[0].Cond)
				})

				t.Run("BranchWithShiftByImmediate/"+sop.String(), func(t *testing.T) {
					for _, imm := range shiftImmediates(sh) {
						a := params(2)
						branch(a, a.Binop(op, a.Binop(sop, a.Parameter(0), a.Int32Constant(imm)), a.Parameter(1)))

						r := selectCode(t, a)
						require.Len(t, r.s, 1)
						assert.Equal(t, arm.Name(d.test), arm.Name(r.s[0].Op))
						assert.Equal(t, arm.ModeName(sh.imm), arm.ModeName(r.s[0].Mode))
						assert.Len(t, r.s[0].In, 5)
						assert.Equal(t, imm, r.ToInt32(r.s[0].In[2]))
						assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
						assert.Equal(t, asm.NotEqual, r.s[0].Cond)
					}
				})
			}

			t.Run("BranchWithParameters", func(t *testing.T) {
				a := params(2)
				branch(a, a.Binop(op, a.Parameter(0), a.Parameter(1)))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				assert.Equal(t, arm.Name(d.test), arm.Name(r.s[0].Op))
				assert.Equal(t, arm.ModeName(arm.Operand2_R), arm.ModeName(r.s[0].Mode))
				assert.Len(t, r.s[0].In, 4)
				assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
				assert.Equal(t, asm.NotEqual, r.s[0].Cond)
			})

			t.Run("BranchWithImmediate", func(t *testing.T) {
				for _, imm := range immediates {
					for _, swap := range []bool{false, true} {
						a := params(1)

						l, rr := a.Parameter(0), a.Int32Constant(imm)
						if swap {
							l, rr = rr, l
						}

						branch(a, a.Binop(op, l, rr))

						r := selectCode(t, a)
						require.Len(t, r.s, 1)
						assert.Equal(t, arm.Name(d.test), arm.Name(r.s[0].Op))
						assert.Equal(t, arm.ModeName(arm.Operand2_I), arm.ModeName(r.s[0].Mode))
						assert.Len(t, r.s[0].In, 4)
						assert.Equal(t, imm, r.ToInt32(r.s[0].In[1]))
						assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
						assert.Equal(t, asm.NotEqual, r.s[0].Cond)
					}
				}
			})

			t.Run("BranchIfZeroWithParameters", func(t *testing.T) {
				a := params(2)
				branch(a, a.Word32Equal(a.Binop(op, a.Parameter(0), a.Parameter(1)), a.Int32Constant(0)))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				assert.Equal(t, arm.Name(d.test), arm.Name(r.s[0].Op))
				assert.Equal(t, arm.ModeName(arm.Operand2_R), arm.ModeName(r.s[0].Mode))
				assert.Len(t, r.s[0].In, 4)
				assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
				assert.Equal(t, asm.Equal, r.s[0].Cond)
			})

			t.Run("BranchIfNotZeroWithParameters", func(t *testing.T) {
				a := params(2)
				branch(a, notEqual(a, a.Binop(op, a.Parameter(0), a.Parameter(1)), a.Int32Constant(0)))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				assert.Equal(t, arm.Name(d.test), arm.Name(r.s[0].Op))
				assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
				assert.Equal(t, asm.NotEqual, r.s[0].Cond)
			})

			t.Run("BranchIfZeroWithImmediate", func(t *testing.T) {
				for _, imm := range immediates {
					a := params(1)
					branch(a, a.Word32Equal(a.Binop(op, a.Int32Constant(imm), a.Parameter(0)), a.Int32Constant(0)))

					r := selectCode(t, a)
					require.Len(t, r.s, 1)
					assert.Equal(t, arm.Name(d.test), arm.Name(r.s[0].Op))
					assert.Equal(t, arm.ModeName(arm.Operand2_I), arm.ModeName(r.s[0].Mode))
					assert.Equal(t, imm, r.ToInt32(r.s[0].In[1]))
					assert.Equal(t, asm.Equal, r.s[0].Cond)
				}
			})
		})
	}
}

func TestODPI(t *testing.T) {
	for _, op := range odpiOps() {
		d := odpis[op]

		t.Run(op.String(), func(t *testing.T) {
			t.Run("OvfWithParameters", func(t *testing.T) {
				a := params(2)
				a.Return(a.Projection(1, a.Binop(op, a.Parameter(0), a.Parameter(1))))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], d.op, arm.Operand2_R, 2, 2)
				assert.Equal(t, asm.FlagsSet, r.s[0].Flags)
				assert.Equal(t, asm.Overflow, r.s[0].Cond)
			})

			t.Run("OvfWithImmediate", func(t *testing.T) {
				for _, imm := range immediates {
					a := params(1)
					a.Return(a.Projection(1, a.Binop(op, a.Parameter(0), a.Int32Constant(imm))))

					r := selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], d.op, arm.Operand2_I, 2, 2)
					assert.Equal(t, imm, r.ToInt32(r.s[0].In[1]))
					assert.Equal(t, asm.Overflow, r.s[0].Cond)

					a = params(1)
					a.Return(a.Projection(1, a.Binop(op, a.Int32Constant(imm), a.Parameter(0))))

					r = selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], d.reverse, arm.Operand2_I, 2, 2)
					assert.Equal(t, imm, r.ToInt32(r.s[0].In[1]))
				}
			})

			t.Run("OvfWithShiftByParameter", func(t *testing.T) {
				for _, sop := range shiftOps() {
					a := params(3)
					a.Return(a.Projection(1, a.Binop(op, a.Parameter(0), a.Binop(sop, a.Parameter(1), a.Parameter(2)))))

					r := selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], d.op, shifts[sop].reg, 3, 2)

					a = params(3)
					a.Return(a.Projection(1, a.Binop(op, a.Binop(sop, a.Parameter(0), a.Parameter(1)), a.Parameter(2))))

					r = selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], d.reverse, shifts[sop].reg, 3, 2)
				}
			})

			t.Run("ValWithParameters", func(t *testing.T) {
				a := params(2)
				a.Return(a.Projection(0, a.Binop(op, a.Parameter(0), a.Parameter(1))))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], d.op, arm.Operand2_R, 2, 1)
				assert.Equal(t, asm.FlagsNone, r.s[0].Flags)
			})

			t.Run("BothWithParameters", func(t *testing.T) {
				a := params(2)
				n := a.Binop(op, a.Parameter(0), a.Parameter(1))
				a.Return(a.Word32Equal(a.Projection(0, n), a.Projection(1, n)))

				r := selectCode(t, a)
				require.Len(t, r.s, 2)
				requireInstr(t, r.s[0], d.op, arm.Operand2_R, 2, 2)
				assert.Equal(t, asm.FlagsSet, r.s[0].Flags)
				assert.Equal(t, asm.Overflow, r.s[0].Cond)

				// the compare reads both outputs
				assert.Equal(t, r.s[0].Out[0].Index, r.s[1].In[0].Index)
				assert.Equal(t, r.s[0].Out[1].Index, r.s[1].In[1].Index)
			})

			t.Run("BranchWithParameters", func(t *testing.T) {
				a := params(2)
				n := a.Binop(op, a.Parameter(0), a.Parameter(1))

				var yes, no sched.Label

				a.Branch(a.Projection(1, n), &yes, &no)

				a.Bind(&yes)
				a.Return(a.Int32Constant(0))

				a.Bind(&no)
				a.Return(a.Projection(0, n))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], d.op, arm.Operand2_R, 4, 1)
				assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
				assert.Equal(t, asm.Overflow, r.s[0].Cond)
			})

			t.Run("BranchIfZeroWithParameters", func(t *testing.T) {
				a := params(2)
				n := a.Binop(op, a.Parameter(0), a.Parameter(1))
				branch(a, a.Word32Equal(a.Projection(1, n), a.Int32Constant(0)))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], d.op, arm.Operand2_R, 4, 1)
				assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
				assert.Equal(t, asm.NotOverflow, r.s[0].Cond)
			})

			t.Run("BranchIfNotZeroWithParameters", func(t *testing.T) {
				a := params(2)
				n := a.Binop(op, a.Parameter(0), a.Parameter(1))
				branch(a, notEqual(a, a.Projection(1, n), a.Int32Constant(0)))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
				assert.Equal(t, asm.Overflow, r.s[0].Cond)
			})

			t.Run("ValueUsedBeforeBranch", func(t *testing.T) {
				a := params(2)
				n := a.Binop(op, a.Parameter(0), a.Parameter(1))
				a.Store(graph.RepWord32, graph.NoWriteBarrier, a.Parameter(0), a.Int32Constant(0), a.Projection(0, n))
				branch(a, a.Projection(1, n))

				r := selectCode(t, a)
				require.Len(t, r.s, 3)
				assert.Equal(t, asm.FlagsSet, r.s[0].Flags)
				assert.Equal(t, arm.Name(arm.Str), arm.Name(r.s[1].Op))
				assert.Equal(t, arm.Name(arm.Tst), arm.Name(r.s[2].Op))
			})
		})
	}
}

func TestShift(t *testing.T) {
	for _, op := range shiftOps() {
		sh := shifts[op]

		t.Run(op.String(), func(t *testing.T) {
			t.Run("Parameters", func(t *testing.T) {
				a := params(2)
				a.Return(a.Binop(op, a.Parameter(0), a.Parameter(1)))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Mov, sh.reg, 2, 1)
			})

			t.Run("Immediate", func(t *testing.T) {
				for _, imm := range shiftImmediates(sh) {
					a := params(1)
					a.Return(a.Binop(op, a.Parameter(0), a.Int32Constant(imm)))

					r := selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], arm.Mov, sh.imm, 2, 1)
					assert.Equal(t, imm, r.ToInt32(r.s[0].In[1]))
				}
			})

			t.Run("OutOfRangeAmount", func(t *testing.T) {
				a := params(1)
				a.Return(a.Binop(op, a.Parameter(0), a.Int32Constant(sh.hi+1)))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Mov, sh.reg, 2, 1)
			})

			t.Run("Word32EqualWithParameter", func(t *testing.T) {
				a := params(3)
				a.Return(a.Word32Equal(a.Parameter(0), a.Binop(op, a.Parameter(1), a.Parameter(2))))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Cmp, sh.reg, 3, 1)
				assert.Equal(t, asm.FlagsSet, r.s[0].Flags)
				assert.Equal(t, asm.Equal, r.s[0].Cond)

				a = params(3)
				a.Return(a.Word32Equal(a.Binop(op, a.Parameter(1), a.Parameter(2)), a.Parameter(0)))

				r = selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Cmp, sh.reg, 3, 1)
				assert.Equal(t, asm.Equal, r.s[0].Cond)
			})

			t.Run("Word32EqualWithParameterAndImmediate", func(t *testing.T) {
				for _, imm := range shiftImmediates(sh) {
					a := params(2)
					a.Return(a.Word32Equal(a.Binop(op, a.Parameter(1), a.Int32Constant(imm)), a.Parameter(0)))

					r := selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], arm.Cmp, sh.imm, 3, 1)
					assert.Equal(t, imm, r.ToInt32(r.s[0].In[2]))
					assert.Equal(t, asm.Equal, r.s[0].Cond)
				}
			})

			t.Run("Word32EqualToZeroWithParameters", func(t *testing.T) {
				a := params(2)
				a.Return(a.Word32Equal(a.Int32Constant(0), a.Binop(op, a.Parameter(0), a.Parameter(1))))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Mov, sh.reg, 2, 2)
				assert.Equal(t, asm.FlagsSet, r.s[0].Flags)
				assert.Equal(t, asm.Equal, r.s[0].Cond)
			})

			t.Run("Word32NotWithParameters", func(t *testing.T) {
				a := params(2)
				a.Return(a.Word32Not(a.Binop(op, a.Parameter(0), a.Parameter(1))))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Mvn, sh.reg, 2, 1)
			})

			t.Run("Word32NotWithImmediate", func(t *testing.T) {
				for _, imm := range shiftImmediates(sh) {
					a := params(1)
					a.Return(a.Word32Not(a.Binop(op, a.Parameter(0), a.Int32Constant(imm))))

					r := selectCode(t, a)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], arm.Mvn, sh.imm, 2, 1)
					assert.Equal(t, imm, r.ToInt32(r.s[0].In[1]))
				}
			})

			t.Run("Word32AndWithWord32NotWithParameters", func(t *testing.T) {
				a := params(3)
				a.Return(a.Word32And(a.Parameter(0), a.Word32Not(a.Binop(op, a.Parameter(1), a.Parameter(2)))))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Bic, sh.reg, 3, 1)
			})
		})
	}
}

func TestInt32AddWithInt32Mul(t *testing.T) {
	for _, swap := range []bool{false, true} {
		a := params(3)

		mul := a.Int32Mul(a.Parameter(1), a.Parameter(2))

		if swap {
			a.Return(a.Int32Add(mul, a.Parameter(0)))
		} else {
			a.Return(a.Int32Add(a.Parameter(0), mul))
		}

		r := selectCode(t, a)
		require.Len(t, r.s, 1)
		requireInstr(t, r.s[0], arm.Mla, arm.ModeNone, 3, 1)

		assert.Equal(t, r.s[0].In[2].Index, paramVreg(r, 0))
	}
}

// paramVreg finds the vreg of the parameter passed in reg.
func paramVreg(r result, reg int) int {
	for _, i := range r.Code {
		if i.Op == asm.ArchNop && len(i.Out) == 1 && i.Out[0].Policy == asm.PolicyFixedRegister && i.Out[0].Reg == reg {
			return i.Out[0].Index
		}
	}

	return -1
}

func TestDivMod(t *testing.T) {
	type divCase struct {
		op         graph.Op
		div        asm.Opcode
		toDouble   asm.Opcode
		fromDouble asm.Opcode
	}

	for _, tc := range []divCase{
		{graph.Int32Div, arm.Sdiv, arm.VcvtF64S32, arm.VcvtS32F64},
		{graph.Int32UDiv, arm.Udiv, arm.VcvtF64U32, arm.VcvtU32F64},
	} {
		t.Run(tc.op.String(), func(t *testing.T) {
			a := params(2)
			a.Return(a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r := selectCode(t, a)
			require.Len(t, r.s, 4)

			requireInstr(t, r.s[0], tc.toDouble, arm.ModeNone, 1, 1)
			requireInstr(t, r.s[1], tc.toDouble, arm.ModeNone, 1, 1)
			requireInstr(t, r.s[2], arm.VdivF64, arm.ModeNone, 2, 1)
			assert.Equal(t, r.s[0].Out[0].Index, r.s[2].In[0].Index)
			assert.Equal(t, r.s[1].Out[0].Index, r.s[2].In[1].Index)
			requireInstr(t, r.s[3], tc.fromDouble, arm.ModeNone, 1, 1)
			assert.Equal(t, r.s[2].Out[0].Index, r.s[3].In[0].Index)

			assert.True(t, r.IsDouble(r.s[2].Out[0].Index))
		})

		t.Run(tc.op.String()+"/SUDIV", func(t *testing.T) {
			a := params(2)
			a.Return(a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r := selectCode(t, a, target.SUDIV)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], tc.div, arm.ModeNone, 2, 1)
		})
	}

	for _, tc := range []divCase{
		{graph.Int32Mod, arm.Sdiv, arm.VcvtF64S32, arm.VcvtS32F64},
		{graph.Int32UMod, arm.Udiv, arm.VcvtF64U32, arm.VcvtU32F64},
	} {
		t.Run(tc.op.String(), func(t *testing.T) {
			a := params(2)
			a.Return(a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r := selectCode(t, a)
			require.Len(t, r.s, 6)

			requireInstr(t, r.s[0], tc.toDouble, arm.ModeNone, 1, 1)
			requireInstr(t, r.s[1], tc.toDouble, arm.ModeNone, 1, 1)
			requireInstr(t, r.s[2], arm.VdivF64, arm.ModeNone, 2, 1)
			requireInstr(t, r.s[3], tc.fromDouble, arm.ModeNone, 1, 1)
			requireInstr(t, r.s[4], arm.Mul, arm.ModeNone, 2, 1)
			assert.Equal(t, r.s[3].Out[0].Index, r.s[4].In[0].Index)
			assert.Equal(t, r.s[1].In[0].Index, r.s[4].In[1].Index)
			requireInstr(t, r.s[5], arm.Sub, arm.Operand2_R, 2, 1)
			assert.Equal(t, r.s[0].In[0].Index, r.s[5].In[0].Index)
			assert.Equal(t, r.s[4].Out[0].Index, r.s[5].In[1].Index)
		})

		t.Run(tc.op.String()+"/SUDIV", func(t *testing.T) {
			a := params(2)
			a.Return(a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r := selectCode(t, a, target.SUDIV)
			require.Len(t, r.s, 3)

			requireInstr(t, r.s[0], tc.div, arm.ModeNone, 2, 1)
			requireInstr(t, r.s[1], arm.Mul, arm.ModeNone, 2, 1)
			assert.Equal(t, r.s[0].Out[0].Index, r.s[1].In[0].Index)
			assert.Equal(t, r.s[0].In[1].Index, r.s[1].In[1].Index)
			requireInstr(t, r.s[2], arm.Sub, arm.Operand2_R, 2, 1)
			assert.Equal(t, r.s[0].In[0].Index, r.s[2].In[0].Index)
			assert.Equal(t, r.s[1].Out[0].Index, r.s[2].In[1].Index)
		})

		t.Run(tc.op.String()+"/MLS_SUDIV", func(t *testing.T) {
			a := params(2)
			a.Return(a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r := selectCode(t, a, target.MLS, target.SUDIV)
			require.Len(t, r.s, 2)

			requireInstr(t, r.s[0], tc.div, arm.ModeNone, 2, 1)
			requireInstr(t, r.s[1], arm.Mls, arm.ModeNone, 3, 1)
			assert.Equal(t, r.s[0].Out[0].Index, r.s[1].In[0].Index)
			assert.Equal(t, r.s[0].In[1].Index, r.s[1].In[1].Index)
			assert.Equal(t, r.s[0].In[0].Index, r.s[1].In[2].Index)
		})

		t.Run(tc.op.String()+"/MLS", func(t *testing.T) {
			a := params(2)
			a.Return(a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r := selectCode(t, a, target.MLS)
			require.Len(t, r.s, 5)

			requireInstr(t, r.s[2], arm.VdivF64, arm.ModeNone, 2, 1)
			requireInstr(t, r.s[4], arm.Mls, arm.ModeNone, 3, 1)
			assert.Equal(t, r.s[3].Out[0].Index, r.s[4].In[0].Index)
		})
	}
}

func TestInt32Mul(t *testing.T) {
	t.Run("Parameters", func(t *testing.T) {
		a := params(2)
		a.Return(a.Int32Mul(a.Parameter(0), a.Parameter(1)))

		r := selectCode(t, a)
		require.Len(t, r.s, 1)
		requireInstr(t, r.s[0], arm.Mul, arm.ModeNone, 2, 1)
	})

	t.Run("PowerOf2Plus1", func(t *testing.T) {
		for k := 1; k <= 30; k++ {
			for _, swap := range []bool{false, true} {
				a := params(1)

				l, rr := a.Parameter(0), a.Int32Constant(int32(1)<<k+1)
				if swap {
					l, rr = rr, l
				}

				a.Return(a.Int32Mul(l, rr))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Add, arm.Operand2_R_LSL_I, 3, 1)
				assert.Equal(t, r.s[0].In[0].Index, r.s[0].In[1].Index)
				assert.Equal(t, int32(k), r.ToInt32(r.s[0].In[2]))
			}
		}
	})

	t.Run("PowerOf2Minus1", func(t *testing.T) {
		for k := 3; k <= 30; k++ {
			a := params(1)
			a.Return(a.Int32Mul(a.Int32Constant(int32(1)<<k-1), a.Parameter(0)))

			r := selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], arm.Rsb, arm.Operand2_R_LSL_I, 3, 1)
			assert.Equal(t, int32(k), r.ToInt32(r.s[0].In[2]))
		}
	})
}

func TestInt32SubWithInt32Mul(t *testing.T) {
	a := params(3)
	a.Return(a.Int32Sub(a.Parameter(0), a.Int32Mul(a.Parameter(1), a.Parameter(2))))

	r := selectCode(t, a)
	require.Len(t, r.s, 2)
	requireInstr(t, r.s[0], arm.Mul, arm.ModeNone, 2, 1)
	requireInstr(t, r.s[1], arm.Sub, arm.Operand2_R, 2, 1)
	assert.Equal(t, r.s[0].Out[0].Index, r.s[1].In[1].Index)

	a = params(3)
	a.Return(a.Int32Sub(a.Parameter(0), a.Int32Mul(a.Parameter(1), a.Parameter(2))))

	r = selectCode(t, a, target.MLS)
	require.Len(t, r.s, 1)
	requireInstr(t, r.s[0], arm.Mls, arm.ModeNone, 3, 1)
}

func TestBitfield(t *testing.T) {
	t.Run("AndWithUbfx", func(t *testing.T) {
		for w := 1; w <= 32; w++ {
			for _, swap := range []bool{false, true} {
				a := params(1)

				l, rr := a.Parameter(0), a.Int32Constant(int32(uint32(0xffffffff)>>(32-w)))
				if swap {
					l, rr = rr, l
				}

				a.Return(a.Word32And(l, rr))

				r := selectCode(t, a, target.ARMv7)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Ubfx, arm.ModeNone, 3, 1)
				assert.Equal(t, int32(0), r.ToInt32(r.s[0].In[1]))
				assert.Equal(t, int32(w), r.ToInt32(r.s[0].In[2]))
			}
		}
	})

	t.Run("AndWithBfc", func(t *testing.T) {
		for lsb := 0; lsb <= 31; lsb++ {
			for w := 1; w < 32-lsb; w++ {
				a := params(1)
				a.Return(a.Word32And(a.Parameter(0), a.Int32Constant(int32(^(uint32(0xffffffff) >> (32 - w) << lsb)))))

				r := selectCode(t, a, target.ARMv7)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Bfc, arm.ModeNone, 3, 1)
				assert.Equal(t, asm.PolicySameAsFirst, r.s[0].Out[0].Policy)
				assert.Equal(t, int32(lsb), r.ToInt32(r.s[0].In[1]))
				assert.Equal(t, int32(w), r.ToInt32(r.s[0].In[2]))
			}
		}
	})

	t.Run("ShrWithAnd", func(t *testing.T) {
		for lsb := 0; lsb <= 31; lsb++ {
			for w := 1; w <= 32-lsb; w++ {
				msk := uint32(0xffffffff) >> (32 - w) << lsb
				junk := uint32(1)<<lsb - 1

				a := params(1)
				a.Return(a.Word32Shr(a.Word32And(a.Int32Constant(int32(msk|junk)), a.Parameter(0)), a.Int32Constant(int32(lsb))))

				r := selectCode(t, a, target.ARMv7)
				require.Len(t, r.s, 1, "lsb %d width %d", lsb, w)
				requireInstr(t, r.s[0], arm.Ubfx, arm.ModeNone, 3, 1)
				assert.Equal(t, int32(lsb), r.ToInt32(r.s[0].In[1]))
				assert.Equal(t, int32(w), r.ToInt32(r.s[0].In[2]))
			}
		}
	})

	t.Run("AndWithShr", func(t *testing.T) {
		for lsb := 0; lsb <= 31; lsb++ {
			for w := 1; w <= 32-lsb; w++ {
				for _, swap := range []bool{false, true} {
					a := params(1)

					l := a.Word32Shr(a.Parameter(0), a.Int32Constant(int32(lsb)))
					rr := a.Int32Constant(int32(uint32(0xffffffff) >> (32 - w)))
					if swap {
						l, rr = rr, l
					}

					a.Return(a.Word32And(l, rr))

					r := selectCode(t, a, target.ARMv7)
					require.Len(t, r.s, 1)
					requireInstr(t, r.s[0], arm.Ubfx, arm.ModeNone, 3, 1)
					assert.Equal(t, int32(lsb), r.ToInt32(r.s[0].In[1]))
					assert.Equal(t, int32(w), r.ToInt32(r.s[0].In[2]))
				}
			}
		}
	})

	t.Run("NoARMv7", func(t *testing.T) {
		a := params(1)
		a.Return(a.Word32And(a.Parameter(0), a.Int32Constant(0xff)))

		r := selectCode(t, a)
		require.Len(t, r.s, 1)
		requireInstr(t, r.s[0], arm.And, arm.Operand2_I, 2, 1)
	})
}

func TestWord32AndWithWord32Not(t *testing.T) {
	for _, swap := range []bool{false, true} {
		a := params(2)

		l, rr := a.Parameter(0), a.Word32Not(a.Parameter(1))
		if swap {
			l, rr = rr, l
		}

		a.Return(a.Word32And(l, rr))

		r := selectCode(t, a)
		require.Len(t, r.s, 1)
		requireInstr(t, r.s[0], arm.Bic, arm.Operand2_R, 2, 1)
	}
}

func TestWord32Equal(t *testing.T) {
	t.Run("Parameters", func(t *testing.T) {
		a := params(2)
		a.Return(a.Word32Equal(a.Parameter(0), a.Parameter(1)))

		r := selectCode(t, a)
		require.Len(t, r.s, 1)
		requireInstr(t, r.s[0], arm.Cmp, arm.Operand2_R, 2, 1)
		assert.Equal(t, asm.FlagsSet, r.s[0].Flags)
		assert.Equal(t, asm.Equal, r.s[0].Cond)
	})

	t.Run("Immediate", func(t *testing.T) {
		for _, imm := range immediates {
			if imm == 0 {
				continue
			}

			for _, swap := range []bool{false, true} {
				a := params(1)

				l, rr := a.Parameter(0), a.Int32Constant(imm)
				if swap {
					l, rr = rr, l
				}

				a.Return(a.Word32Equal(l, rr))

				r := selectCode(t, a)
				require.Len(t, r.s, 1)
				requireInstr(t, r.s[0], arm.Cmp, arm.Operand2_I, 2, 1)
				assert.Equal(t, imm, r.ToInt32(r.s[0].In[1]))
				assert.Equal(t, asm.Equal, r.s[0].Cond)
			}
		}
	})

	t.Run("Zero", func(t *testing.T) {
		for _, swap := range []bool{false, true} {
			a := params(1)

			l, rr := a.Parameter(0), a.Int32Constant(0)
			if swap {
				l, rr = rr, l
			}

			a.Return(a.Word32Equal(l, rr))

			r := selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], arm.Tst, arm.Operand2_R, 2, 1)
			assert.Equal(t, r.s[0].In[0].Index, r.s[0].In[1].Index)
			assert.Equal(t, asm.FlagsSet, r.s[0].Flags)
			assert.Equal(t, asm.Equal, r.s[0].Cond)
		}
	})
}

func TestWord32Not(t *testing.T) {
	a := params(1)
	a.Return(a.Word32Not(a.Parameter(0)))

	r := selectCode(t, a)
	require.Len(t, r.s, 1)
	requireInstr(t, r.s[0], arm.Mvn, arm.Operand2_R, 1, 1)
}

func TestCompare(t *testing.T) {
	for _, tc := range []struct {
		op   graph.Op
		cond asm.Cond
	}{
		{graph.Int32LessThan, asm.SignedLessThan},
		{graph.Int32LessThanOrEqual, asm.SignedLessThanOrEqual},
		{graph.Uint32LessThan, asm.UnsignedLessThan},
		{graph.Uint32LessThanOrEqual, asm.UnsignedLessThanOrEqual},
	} {
		t.Run(tc.op.String(), func(t *testing.T) {
			a := params(2)
			a.Return(a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r := selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], arm.Cmp, arm.Operand2_R, 2, 1)
			assert.Equal(t, tc.cond, r.s[0].Cond)

			a = params(1)
			a.Return(a.Binop(tc.op, a.Int32Constant(35), a.Parameter(0)))

			r = selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], arm.Cmp, arm.Operand2_I, 2, 1)
			assert.Equal(t, tc.cond.Commute(), r.s[0].Cond)

			a = params(2)
			branch(a, a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r = selectCode(t, a)
			require.Len(t, r.s, 1)
			assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
			assert.Equal(t, tc.cond, r.s[0].Cond)

			a = params(2)
			branch(a, a.Word32Equal(a.Binop(tc.op, a.Parameter(0), a.Parameter(1)), a.Int32Constant(0)))

			r = selectCode(t, a)
			require.Len(t, r.s, 1)
			assert.Equal(t, tc.cond.Negate(), r.s[0].Cond)
		})
	}
}

func TestBranchOnValue(t *testing.T) {
	a := params(2)

	x := a.Int32Add(a.Parameter(0), a.Parameter(1))
	a.Store(graph.RepWord32, graph.NoWriteBarrier, a.Parameter(0), a.Int32Constant(4), x)
	branch(a, x)

	r := selectCode(t, a)
	require.Len(t, r.s, 3)

	requireInstr(t, r.s[0], arm.Add, arm.Operand2_R, 2, 1)
	requireInstr(t, r.s[1], arm.Str, arm.Offset_RI, 3, 0)
	requireInstr(t, r.s[2], arm.Tst, arm.Operand2_R, 4, 0)
	assert.Equal(t, r.s[0].Out[0].Index, r.s[2].In[0].Index)
	assert.Equal(t, r.s[2].In[0].Index, r.s[2].In[1].Index)
}

func TestFloat64(t *testing.T) {
	fparams := func() *sched.Assembler {
		return sched.NewAssembler(graph.MachFloat64, graph.MachFloat64, graph.MachFloat64)
	}

	t.Run("Binop", func(t *testing.T) {
		for _, tc := range []struct {
			op  graph.Op
			arm asm.Opcode
		}{
			{graph.Float64Add, arm.VaddF64},
			{graph.Float64Sub, arm.VsubF64},
			{graph.Float64Mul, arm.VmulF64},
			{graph.Float64Div, arm.VdivF64},
		} {
			a := fparams()
			a.Return(a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r := selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], tc.arm, arm.ModeNone, 2, 1)
			assert.True(t, r.IsDouble(r.s[0].Out[0].Index))
		}
	})

	t.Run("AddWithMul", func(t *testing.T) {
		for _, swap := range []bool{false, true} {
			a := fparams()

			mul := a.Float64Mul(a.Parameter(1), a.Parameter(2))

			l, rr := a.Parameter(0), mul
			if swap {
				l, rr = rr, l
			}

			a.Return(a.Float64Add(l, rr))

			r := selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], arm.VmlaF64, arm.ModeNone, 3, 1)
			assert.Equal(t, asm.PolicySameAsFirst, r.s[0].Out[0].Policy)
		}
	})

	t.Run("SubWithMul", func(t *testing.T) {
		a := fparams()
		a.Return(a.Float64Sub(a.Parameter(0), a.Float64Mul(a.Parameter(1), a.Parameter(2))))

		r := selectCode(t, a)
		require.Len(t, r.s, 1)
		requireInstr(t, r.s[0], arm.VmlsF64, arm.ModeNone, 3, 1)

		a = fparams()
		a.Return(a.Float64Sub(a.Float64Mul(a.Parameter(1), a.Parameter(2)), a.Parameter(0)))

		r = selectCode(t, a)
		require.Len(t, r.s, 2)
		requireInstr(t, r.s[1], arm.VsubF64, arm.ModeNone, 2, 1)
	})

	t.Run("Compare", func(t *testing.T) {
		for _, tc := range []struct {
			op   graph.Op
			cond asm.Cond
		}{
			{graph.Float64Equal, asm.UnorderedEqual},
			{graph.Float64LessThan, asm.UnorderedLessThan},
			{graph.Float64LessThanOrEqual, asm.UnorderedLessThanOrEqual},
		} {
			a := fparams()
			a.Return(a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r := selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], arm.VcmpF64, arm.ModeNone, 2, 1)
			assert.Equal(t, asm.FlagsSet, r.s[0].Flags)
			assert.Equal(t, tc.cond, r.s[0].Cond)

			a = fparams()
			branch(a, a.Binop(tc.op, a.Parameter(0), a.Parameter(1)))

			r = selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], arm.VcmpF64, arm.ModeNone, 4, 0)
			assert.Equal(t, asm.FlagsBranch, r.s[0].Flags)
			assert.Equal(t, tc.cond, r.s[0].Cond)
		}
	})

	t.Run("Conversions", func(t *testing.T) {
		for _, tc := range []struct {
			op    graph.Op
			param graph.MachineType
			instr asm.Opcode
		}{
			{graph.ChangeInt32ToFloat64, graph.MachInt32, arm.VcvtF64S32},
			{graph.ChangeUint32ToFloat64, graph.MachUint32, arm.VcvtF64U32},
			{graph.ChangeFloat64ToInt32, graph.MachFloat64, arm.VcvtS32F64},
			{graph.ChangeFloat64ToUint32, graph.MachFloat64, arm.VcvtU32F64},
		} {
			a := sched.NewAssembler(tc.param)
			a.Return(a.Unop(tc.op, a.Parameter(0)))

			r := selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], tc.instr, arm.ModeNone, 1, 1)
		}

		a := sched.NewAssembler(graph.MachFloat64)
		a.Return(a.TruncateFloat64ToInt32(a.Parameter(0)))

		r := selectCode(t, a)
		assert.Empty(t, r.s)

		var ops []asm.Opcode
		for _, i := range r.Code {
			ops = append(ops, i.Op)
		}

		assert.Equal(t, []asm.Opcode{asm.ArchNop, asm.ArchTruncateDoubleToI, asm.ArchRet}, ops)
	})
}

func TestLoadStore(t *testing.T) {
	for _, tc := range []struct {
		rep   graph.Rep
		mach  graph.MachineType
		load  asm.Opcode
		store asm.Opcode
		imm   int32
	}{
		{graph.RepWord8, graph.MachUint32, arm.Ldrb, arm.Strb, 4095},
		{graph.RepWord8, graph.MachInt32, arm.Ldrsb, arm.Strb, -4095},
		{graph.RepWord16, graph.MachUint32, arm.Ldrh, arm.Strh, 255},
		{graph.RepWord16, graph.MachInt32, arm.Ldrsh, arm.Strh, -255},
		{graph.RepWord32, graph.MachInt32, arm.Ldr, arm.Str, 4095},
		{graph.RepTagged, graph.MachTagged, arm.Ldr, arm.Str, 12},
		{graph.RepFloat64, graph.MachFloat64, arm.VldrF64, arm.VstrF64, 1020},
	} {
		load := func(a *sched.Assembler, base, index graph.ID) graph.ID {
			ld := a.Load(tc.rep, base, index)
			a.Graph().Node(ld).Mach = tc.mach

			return ld
		}

		t.Run(fmt.Sprintf("%v_%v", tc.rep, tc.mach), func(t *testing.T) {
			a := params(2)
			a.Return(load(a, a.Parameter(0), a.Parameter(1)))

			r := selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], tc.load, arm.Offset_RR, 2, 1)
			assert.Equal(t, tc.rep == graph.RepFloat64, r.IsDouble(r.s[0].Out[0].Index))
			assert.Equal(t, tc.rep == graph.RepTagged, r.IsReference(r.s[0].Out[0].Index))

			a = params(1)
			a.Return(load(a, a.Parameter(0), a.Int32Constant(tc.imm)))

			r = selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], tc.load, arm.Offset_RI, 2, 1)
			assert.Equal(t, tc.imm, r.ToInt32(r.s[0].In[1]))

			a = params(1)
			a.Return(load(a, a.Int32Constant(tc.imm), a.Parameter(0)))

			r = selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], tc.load, arm.Offset_RI, 2, 1)

			a = params(1)
			a.Return(load(a, a.Parameter(0), a.Int32Constant(4096)))

			r = selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], tc.load, arm.Offset_RR, 2, 1)

			a = sched.NewAssembler(graph.MachTagged, tc.mach)
			a.Store(tc.rep, graph.NoWriteBarrier, a.Parameter(0), a.Int32Constant(tc.imm), a.Parameter(1))
			a.Return(a.Int32Constant(0))

			r = selectCode(t, a)
			require.Len(t, r.s, 1)
			requireInstr(t, r.s[0], tc.store, arm.Offset_RI, 3, 0)
			assert.Equal(t, tc.imm, r.ToInt32(r.s[0].In[1]))
		})
	}
}

func TestStoreWriteBarrier(t *testing.T) {
	a := sched.NewAssembler(graph.MachTagged, graph.MachInt32, graph.MachTagged)
	a.Store(graph.RepTagged, graph.FullWriteBarrier, a.Parameter(0), a.Parameter(1), a.Parameter(2))
	a.Return(a.Parameter(0))

	r := selectCode(t, a)
	require.Len(t, r.s, 1)

	i := r.s[0]
	requireInstr(t, i, arm.StoreWriteBarrier, arm.ModeNone, 3, 0)

	for n, reg := range []int{wbObject, wbIndex, wbValue} {
		assert.Equal(t, asm.PolicyFixedRegister, i.In[n].Policy)
		assert.Equal(t, reg, i.In[n].Reg)
	}

	require.Len(t, i.Temp, 2)
	assert.Equal(t, wbIndex, i.Temp[0].Reg)
	assert.Equal(t, wbValue, i.Temp[1].Reg)
}

func TestStoreWriteBarrierUntagged(t *testing.T) {
	a := params(3)
	a.Store(graph.RepWord32, graph.FullWriteBarrier, a.Parameter(0), a.Parameter(1), a.Parameter(2))
	a.Return(a.Parameter(0))

	g, s := a.Finish()

	_, err := Select(context.Background(), g, s, 0)
	assert.ErrorIs(t, err, graph.ErrMalformed)
}

func TestLinkage(t *testing.T) {
	a := sched.NewAssembler(graph.MachInt32, graph.MachFloat64, graph.MachTagged, graph.MachInt32, graph.MachInt32, graph.MachInt32)

	sum := a.Int32Add(a.Parameter(0), a.Parameter(5))
	call := a.Call(a.ExternalConstant("callee"), sum, a.Parameter(1), a.Parameter(2))
	a.Return(call)

	r := selectCode(t, a)

	type loc struct {
		p   asm.Policy
		reg int
	}

	var locs []loc
	var calls, rets []*asm.Instr

	for _, i := range r.Code {
		switch i.Op {
		case asm.ArchNop:
			o := i.Out[0]
			locs = append(locs, loc{o.Policy, o.Reg})

			switch o.Policy {
			case asm.PolicyFixedDouble:
				assert.True(t, r.IsDouble(o.Index))
			case asm.PolicyFixedRegister:
				assert.Equal(t, o.Reg == 1, r.IsReference(o.Index))
			}
		case asm.ArchCall:
			calls = append(calls, i)
		case asm.ArchRet:
			rets = append(rets, i)
		}
	}

	// unused parameters are not defined, the sixth one is on the stack
	assert.ElementsMatch(t, []loc{
		{asm.PolicyFixedRegister, 0},
		{asm.PolicyFixedDouble, 0},
		{asm.PolicyFixedRegister, 1},
		{asm.PolicyFixedSlot, 0},
	}, locs)

	require.Len(t, calls, 1)
	c := calls[0]

	require.Len(t, c.In, 4)
	assert.Equal(t, asm.ConstantRef, c.In[0].Kind)
	assert.Equal(t, asm.ConstExternal, r.ToConstant(c.In[0]).Kind)
	assert.Equal(t, "callee", r.ToConstant(c.In[0]).Name)

	assert.Equal(t, loc{asm.PolicyFixedRegister, 0}, loc{c.In[1].Policy, c.In[1].Reg})
	assert.Equal(t, loc{asm.PolicyFixedDouble, 0}, loc{c.In[2].Policy, c.In[2].Reg})
	assert.Equal(t, loc{asm.PolicyFixedRegister, 1}, loc{c.In[3].Policy, c.In[3].Reg})

	require.Len(t, c.Out, 1)
	assert.True(t, r.IsReference(c.Out[0].Index))

	require.Len(t, rets, 1)
	assert.Equal(t, c.Out[0].Index, rets[0].In[0].Index)
	assert.Equal(t, 0, rets[0].In[0].Reg)
}

func TestDiamondStream(t *testing.T) {
	a := params(2)

	var yes, no, done sched.Label

	a.Branch(a.Int32LessThan(a.Parameter(0), a.Parameter(1)), &yes, &no)

	a.Bind(&yes)
	x := a.Int32Sub(a.Parameter(1), a.Parameter(0))
	a.Goto(&done)

	a.Bind(&no)
	a.Goto(&done)

	a.Bind(&done)
	a.Return(a.Phi(graph.RepWord32, x, a.Int32Constant(0)))

	r := selectCode(t, a)

	require.Len(t, r.Blocks, 4)

	entry := r.Blocks[0]
	require.Len(t, entry.Succ, 2)

	br := r.Code[entry.End-1]
	assert.Equal(t, arm.Name(arm.Cmp), arm.Name(br.Op))
	assert.Equal(t, asm.FlagsBranch, br.Flags)
	assert.Equal(t, asm.SignedLessThan, br.Cond)
	assert.Equal(t, asm.LabelRef(entry.Succ[0]), br.In[2])
	assert.Equal(t, asm.LabelRef(entry.Succ[1]), br.In[3])

	for _, b := range r.Blocks[1:3] {
		jmp := r.Code[b.End-1]
		assert.Equal(t, asm.ArchJmp, jmp.Op)
		assert.Equal(t, asm.LabelRef(r.Blocks[3].ID), jmp.In[0])
	}

	merge := r.Blocks[3]
	require.Len(t, merge.Phis, 1)

	phi := merge.Phis[0]
	require.Len(t, phi.In, 2)

	sub := r.Code[r.Blocks[1].Start]
	assert.Equal(t, arm.Name(arm.Sub), arm.Name(sub.Op))
	assert.Equal(t, sub.Out[0].Index, phi.In[0])
	assert.Equal(t, int32(0), r.ToInt32(asm.Vreg(phi.In[1], asm.PolicyRegister)))

	ret := r.Code[merge.End-1]
	assert.Equal(t, asm.ArchRet, ret.Op)
	assert.Equal(t, phi.Out, ret.In[0].Index)
}

func TestConstantsShareVregs(t *testing.T) {
	a := params(1)

	x := a.Int32Mul(a.Parameter(0), a.Int32Constant(1000))
	y := a.Int32Mul(x, a.Int32Constant(1000))
	a.Return(y)

	r := selectCode(t, a)
	require.Len(t, r.s, 2)

	assert.Equal(t, r.s[0].In[1].Index, r.s[1].In[1].Index)
	assert.Equal(t, int32(1000), r.ToInt32(r.s[0].In[1]))
	assert.Len(t, r.Constants, 1)
}

func TestUnsupported(t *testing.T) {
	a := sched.NewAssembler(graph.MachInt64, graph.MachInt64)
	a.Return(a.Binop(graph.Word64And, a.Parameter(0), a.Parameter(1)))

	g, s := a.Finish()

	_, err := Select(context.Background(), g, s, 0)
	assert.ErrorIs(t, err, ErrUnsupported)

	a = sched.NewAssembler(graph.MachInt32)
	a.Return(a.Change(graph.ChangeInt32ToTagged, a.Parameter(0)))

	g, s = a.Finish()

	_, err = Select(context.Background(), g, s, 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}
