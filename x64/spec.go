// Package x64 declares the x86-64 machine specification: every
// instruction form as a constrained sequence of generic operations,
// flag effects as ordinary fixed-register outputs, and memory
// operands as a five-way variant set over ordinary add/shift steps.
package x64

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Vurich/asmquery/lir"
	"github.com/Vurich/asmquery/machine"
)

// memOperand is the address width of every memory operand.
const memOperand lir.Bits = 64

type table struct {
	b *machine.Builder

	intReg, fpReg machine.Class

	rax, rcx, rdx  machine.Reg
	cf, of, zf, sf machine.Reg
}

// New builds a fresh specification table.
func New() (*machine.Spec, error) {
	b := machine.NewBuilder()
	t := newTable(b)

	t.arith("add", lir.Add, lir.AddOverflowS, lir.AddOverflowU)
	t.arithCarry("adc", lir.AddCarry, lir.AddCarryOverflowS, lir.AddCarryOverflowU)
	t.arith("sub", lir.Sub, lir.SubOverflowS, lir.SubOverflowU)
	t.arithCarry("sbb", lir.SubCarry, lir.SubCarryOverflowS, lir.SubCarryOverflowU)

	t.logical("and", lir.And)
	t.logical("or", lir.Or)
	t.logical("xor", lir.Xor)

	t.shift("shl", lir.ShiftL, lir.ShiftLOverflow)
	t.shift("sar", lir.ShiftArithR, lir.ShiftArithRUnderflowS)
	t.shift("shr", lir.ShiftLogicalR, lir.ShiftLogicalRUnderflowU)

	t.smul()
	t.umul()

	t.mov()
	t.movTransfer()
	t.packedMov()
	t.lea()

	t.cmp()
	t.test()

	t.fpArith("addss", "addsd", lir.AddFp)
	t.fpArith("subss", "subsd", lir.SubFp)
	t.fpArith("mulss", "mulsd", lir.MulFp)
	t.fpArith("divss", "divsd", lir.DivFp)
	t.fpArith("minss", "minsd", lir.MinFp)
	t.fpArith("maxss", "maxsd", lir.MaxFp)
	t.fpPacked("andps", "andpd", lir.PackedAnd)
	t.fpPacked("orps", "orpd", lir.PackedOr)
	t.fpPacked("xorps", "xorpd", lir.PackedXor)
	t.sqrt()

	t.jmp()

	return b.Build()
}

var shared = sync.OnceValues(New)

// Spec returns the process-wide table, built on first use and shared
// read-only afterwards.
func Spec() (*machine.Spec, error) { return shared() }

func newTable(b *machine.Builder) *table {
	t := &table{b: b}

	names := []string{
		"RAX", "RBX", "RCX", "RDX", "RBP", "RSI", "RDI", "RSP",
		"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
	}

	var ints []machine.Reg

	for _, name := range names {
		r := b.Reg(name)
		ints = append(ints, r)

		switch name {
		case "RAX":
			t.rax = r
		case "RCX":
			t.rcx = r
		case "RDX":
			t.rdx = r
		}
	}

	t.cf = b.Reg("CF")
	t.of = b.Reg("OF")
	t.zf = b.Reg("ZF")
	t.sf = b.Reg("SF")

	var fps []machine.Reg

	for i := 0; i < 8; i++ {
		fps = append(fps, b.Reg(fmt.Sprintf("XMM%d", i)))
	}

	t.intReg = b.Class("int_reg", ints...)
	t.fpReg = b.Class("fp_reg", fps...)

	return t
}

var sizes = []lir.Bits{32, 64}

// memory declares a memory operand: a variant set over the five ways
// an address is computed on x86. Each alternative is ordinary
// add/shift steps feeding an internal output, so address folding is
// plain matching, not a special case.
func (t *table) memory(n *machine.InstrBuilder) machine.Var {
	return n.NewVariants(1).
		Or(func(out []machine.Var, n *machine.InstrBuilder) {
			addr := n.Param(t.intReg)
			n.Eq(out[0], addr)
		}).
		Or(func(out []machine.Var, n *machine.InstrBuilder) {
			base := n.Param(t.intReg)
			index := n.Param(t.intReg)
			n.ActionInto(out[0], lir.Add(memOperand), base, index)
		}).
		Or(func(out []machine.Var, n *machine.InstrBuilder) {
			base := n.Param(t.intReg)
			disp := n.Param(machine.Imm{Bits: 32})
			n.ActionInto(out[0], lir.Add(memOperand), base, disp)
		}).
		Or(func(out []machine.Var, n *machine.InstrBuilder) {
			base := n.Param(t.intReg)
			index := n.Param(t.intReg)
			disp := n.Param(machine.Imm{Bits: 32})
			inter := n.Action(lir.Add(memOperand), base, index)
			n.ActionInto(out[0], lir.Add(memOperand), inter, disp)
		}).
		Or(func(out []machine.Var, n *machine.InstrBuilder) {
			base := n.Param(t.intReg)
			index := n.Param(t.intReg)
			scale := n.Param(machine.Imm{Bits: 3})
			disp := n.Param(machine.Imm{Bits: 32})
			shifted := n.Action(lir.ShiftL(memOperand), index, scale)
			inter := n.Action(lir.Add(memOperand), base, shifted)
			n.ActionInto(out[0], lir.Add(memOperand), inter, disp)
		}).
		Finish()[0]
}

// load declares a memory operand and the load through it. The
// address slot is returned too, so read-modify-write forms can store
// back through the same address.
func (t *table) load(n *machine.InstrBuilder, sz lir.Bits) (val, addr machine.Var) {
	addr = t.memory(n)
	val = n.Action(lir.Load(sz, memOperand), addr)

	return val, addr
}

// flags declares the CF/OF/ZF/SF results of a sz-bit arithmetic
// output as ordinary action steps.
func (t *table) flags(n *machine.InstrBuilder, out machine.Var, sz lir.Bits, ovfS, ovfU lir.Op) {
	n.ActionInto(t.cf, ovfU, out)
	n.ActionInto(t.of, ovfS, out)
	n.ActionInto(t.zf, lir.IsZero(sz), out)
	n.ActionInto(t.sf, lir.LtZero(sz), out)
}

// arith declares the rr/rm/mr/ri/mi family of a flag-setting
// two-operand instruction.
func (t *table) arith(name string, op, ovfS, ovfU func(lir.Bits) lir.Op) {
	for _, sz := range sizes {
		sz := sz

		t.b.Instr(fmt.Sprintf("%s r%d, r%d", name, sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(t.intReg)
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
			t.flags(n, out, sz, ovfS(sz), ovfU(sz))
		}).Instr(fmt.Sprintf("%s r%d, m%d", name, sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right, _ := t.load(n, sz)
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
			t.flags(n, out, sz, ovfS(sz), ovfU(sz))
		}).Instr(fmt.Sprintf("%s m%d, r%d", name, sz, sz), func(n *machine.InstrBuilder) {
			right := n.Param(t.intReg)
			left, addr := t.load(n, sz)
			out := n.Action(op(sz), left, right)
			n.Action(lir.Store(sz, memOperand), out, addr)
			t.flags(n, out, sz, ovfS(sz), ovfU(sz))
		}).Instr(fmt.Sprintf("%s r%d, i32", name, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(machine.Imm{Bits: 32})
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
			t.flags(n, out, sz, ovfS(sz), ovfU(sz))
		}).Instr(fmt.Sprintf("%s m%d, i32", name, sz), func(n *machine.InstrBuilder) {
			left, addr := t.load(n, sz)
			right := n.Param(machine.Imm{Bits: 32})
			out := n.Action(op(sz), left, right)
			n.Action(lir.Store(sz, memOperand), out, addr)
			t.flags(n, out, sz, ovfS(sz), ovfU(sz))
		})
	}
}

// arithCarry declares the carry-consuming family (adc/sbb): the same
// shapes as arith plus a CF input parameter.
func (t *table) arithCarry(name string, op, ovfS, ovfU func(lir.Bits) lir.Op) {
	for _, sz := range sizes {
		sz := sz

		t.b.Instr(fmt.Sprintf("%s r%d, r%d", name, sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(t.intReg)
			carry := n.Param(t.cf)
			out := n.Action(op(sz), left, right, carry)
			n.Eq(left, out)
			t.flags(n, out, sz, ovfS(sz), ovfU(sz))
		}).Instr(fmt.Sprintf("%s r%d, m%d", name, sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			carry := n.Param(t.cf)
			right, _ := t.load(n, sz)
			out := n.Action(op(sz), left, right, carry)
			n.Eq(left, out)
			t.flags(n, out, sz, ovfS(sz), ovfU(sz))
		}).Instr(fmt.Sprintf("%s m%d, r%d", name, sz, sz), func(n *machine.InstrBuilder) {
			right := n.Param(t.intReg)
			carry := n.Param(t.cf)
			left, addr := t.load(n, sz)
			out := n.Action(op(sz), left, right, carry)
			n.Action(lir.Store(sz, memOperand), out, addr)
			t.flags(n, out, sz, ovfS(sz), ovfU(sz))
		}).Instr(fmt.Sprintf("%s r%d, i32", name, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(machine.Imm{Bits: 32})
			carry := n.Param(t.cf)
			out := n.Action(op(sz), left, right, carry)
			n.Eq(left, out)
			t.flags(n, out, sz, ovfS(sz), ovfU(sz))
		}).Instr(fmt.Sprintf("%s m%d, i32", name, sz), func(n *machine.InstrBuilder) {
			right := n.Param(machine.Imm{Bits: 32})
			carry := n.Param(t.cf)
			left, addr := t.load(n, sz)
			out := n.Action(op(sz), left, right, carry)
			n.Action(lir.Store(sz, memOperand), out, addr)
			t.flags(n, out, sz, ovfS(sz), ovfU(sz))
		})
	}
}

// logical declares and/or/xor: same shapes as arith, but CF and OF
// are cleared instead of reporting overflow.
func (t *table) logical(name string, op func(lir.Bits) lir.Op) {
	clearFlags := func(n *machine.InstrBuilder, out machine.Var, sz lir.Bits) {
		n.ActionInto(t.cf, lir.Clear())
		n.ActionInto(t.of, lir.Clear())
		n.ActionInto(t.zf, lir.IsZero(sz), out)
		n.ActionInto(t.sf, lir.LtZero(sz), out)
	}

	for _, sz := range sizes {
		sz := sz

		t.b.Instr(fmt.Sprintf("%s r%d, r%d", name, sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(t.intReg)
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
			clearFlags(n, out, sz)
		}).Instr(fmt.Sprintf("%s r%d, m%d", name, sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right, _ := t.load(n, sz)
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
			clearFlags(n, out, sz)
		}).Instr(fmt.Sprintf("%s m%d, r%d", name, sz, sz), func(n *machine.InstrBuilder) {
			right := n.Param(t.intReg)
			left, addr := t.load(n, sz)
			out := n.Action(op(sz), left, right)
			n.Action(lir.Store(sz, memOperand), out, addr)
			clearFlags(n, out, sz)
		}).Instr(fmt.Sprintf("%s r%d, i32", name, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(machine.Imm{Bits: 32})
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
			clearFlags(n, out, sz)
		}).Instr(fmt.Sprintf("%s m%d, i32", name, sz), func(n *machine.InstrBuilder) {
			left, addr := t.load(n, sz)
			right := n.Param(machine.Imm{Bits: 32})
			out := n.Action(op(sz), left, right)
			n.Action(lir.Store(sz, memOperand), out, addr)
			clearFlags(n, out, sz)
		})
	}
}

// shift declares the CL and imm8 shift forms. CF takes the shifted-out
// bit, OF is left undefined.
func (t *table) shift(name string, op, carry func(lir.Bits) lir.Op) {
	for _, sz := range sizes {
		sz := sz

		t.b.Instr(fmt.Sprintf("%s r%d, cl", name, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(t.rcx)
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
			t.flags(n, out, sz, lir.Undef(sz), carry(sz))
		}).Instr(fmt.Sprintf("%s r%d, i8", name, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(machine.Imm{Bits: 8})
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
			t.flags(n, out, sz, lir.Undef(sz), carry(sz))
		}).Instr(fmt.Sprintf("%s m%d, cl", name, sz), func(n *machine.InstrBuilder) {
			right := n.Param(t.rcx)
			left, addr := t.load(n, sz)
			out := n.Action(op(sz), left, right)
			n.Action(lir.Store(sz, memOperand), out, addr)
			t.flags(n, out, sz, lir.Undef(sz), carry(sz))
		}).Instr(fmt.Sprintf("%s m%d, i8", name, sz), func(n *machine.InstrBuilder) {
			right := n.Param(machine.Imm{Bits: 8})
			left, addr := t.load(n, sz)
			out := n.Action(op(sz), left, right)
			n.Action(lir.Store(sz, memOperand), out, addr)
			t.flags(n, out, sz, lir.Undef(sz), carry(sz))
		})
	}
}

// smul declares imul. The three-operand immediate form is the one
// x86 instruction here whose destination is a free register.
func (t *table) smul() {
	mulFlags := func(n *machine.InstrBuilder, out machine.Var, sz lir.Bits) {
		n.ActionInto(t.cf, lir.MulTrunc(sz), out)
		n.ActionInto(t.of, lir.MulTrunc(sz), out)
		n.ActionInto(t.zf, lir.Undef(sz), out)
		n.ActionInto(t.sf, lir.Undef(sz), out)
	}

	for _, sz := range sizes {
		sz := sz

		t.b.Instr(fmt.Sprintf("imul r%d, r%d", sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(t.intReg)
			out := n.Action(lir.SMul(sz), left, right)
			n.Eq(left, out)
			mulFlags(n, out, sz)
		}).Instr(fmt.Sprintf("imul r%d, m%d", sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right, _ := t.load(n, sz)
			out := n.Action(lir.SMul(sz), left, right)
			n.Eq(left, out)
			mulFlags(n, out, sz)
		}).Instr(fmt.Sprintf("imul r%d, r%d, i32", sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(machine.Imm{Bits: 32})
			out := n.ActionOut(t.intReg, lir.SMul(sz), left, right)
			mulFlags(n, out, sz)
		}).Instr(fmt.Sprintf("imul r%d, m%d, i32", sz, sz), func(n *machine.InstrBuilder) {
			left, _ := t.load(n, sz)
			right := n.Param(machine.Imm{Bits: 32})
			out := n.ActionOut(t.intReg, lir.SMul(sz), left, right)
			mulFlags(n, out, sz)
		})
	}
}

// umul declares the widening mul: the product lands in RAX, RDX is
// left undefined, CF and OF report a nonzero high half.
func (t *table) umul() {
	for _, sz := range sizes {
		sz := sz

		t.b.Instr(fmt.Sprintf("mul r%d", sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(t.intReg)
			out := n.Action(lir.UMul(sz), left, right)
			dest := n.Param(t.rax)
			n.Eq(dest, out)
			n.ActionInto(t.cf, lir.IsNonZero(sz), out)
			n.ActionInto(t.of, lir.IsNonZero(sz), out)
			n.ActionInto(t.zf, lir.Undef(sz), out)
			n.ActionInto(t.sf, lir.Undef(sz), out)
			n.ActionInto(t.rdx, lir.Undef(sz), out)
		}).Instr(fmt.Sprintf("mul m%d", sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right, _ := t.load(n, sz)
			out := n.Action(lir.UMul(sz), left, right)
			dest := n.Param(t.rax)
			n.Eq(dest, out)
			n.ActionInto(t.cf, lir.IsNonZero(sz), out)
			n.ActionInto(t.of, lir.IsNonZero(sz), out)
			n.ActionInto(t.zf, lir.Undef(sz), out)
			n.ActionInto(t.sf, lir.Undef(sz), out)
			n.ActionInto(t.rdx, lir.Undef(sz), out)
		})
	}
}

// mov declares register, immediate, load and store moves. Loads and
// stores carry the memory variant set; their data path is direct, not
// read-modify-write.
func (t *table) mov() {
	for _, sz := range []lir.Bits{8, 16, 32, 64} {
		sz := sz

		isz := sz
		if isz == 64 {
			isz = 32
		}

		t.b.Instr(fmt.Sprintf("mov r%d, r%d", sz, sz), func(n *machine.InstrBuilder) {
			src := n.Param(t.intReg)
			n.ActionOut(t.intReg, lir.Move(sz), src)
		}).Instr(fmt.Sprintf("mov r%d, i%d", sz, isz), func(n *machine.InstrBuilder) {
			src := n.Param(machine.Imm{Bits: isz})
			n.ActionOut(t.intReg, lir.Move(sz), src)
		}).Instr(fmt.Sprintf("mov r%d, m%d", sz, sz), func(n *machine.InstrBuilder) {
			addr := t.memory(n)
			n.ActionOut(t.intReg, lir.Load(sz, memOperand), addr)
		}).Instr(fmt.Sprintf("mov m%d, r%d", sz, sz), func(n *machine.InstrBuilder) {
			val := n.Param(t.intReg)
			addr := t.memory(n)
			n.Action(lir.Store(sz, memOperand), val, addr)
		}).Instr(fmt.Sprintf("mov m%d, i%d", sz, isz), func(n *machine.InstrBuilder) {
			val := n.Param(machine.Imm{Bits: isz})
			addr := t.memory(n)
			n.Action(lir.Store(sz, memOperand), val, addr)
		})
	}
}

// movTransfer declares the movd/movq int<->fp transfers.
func (t *table) movTransfer() {
	for _, sz := range sizes {
		sz := sz

		name := "movd"
		if sz == 64 {
			name = "movq"
		}

		t.b.Instr(fmt.Sprintf("%s f%d, r%d", name, sz, sz), func(n *machine.InstrBuilder) {
			src := n.Param(t.intReg)
			n.ActionOut(t.fpReg, lir.Move(sz), src)
		}).Instr(fmt.Sprintf("%s r%d, f%d", name, sz, sz), func(n *machine.InstrBuilder) {
			src := n.Param(t.fpReg)
			n.ActionOut(t.intReg, lir.Move(sz), src)
		}).Instr(fmt.Sprintf("%s f%d, m%d", name, sz, sz), func(n *machine.InstrBuilder) {
			addr := t.memory(n)
			n.ActionOut(t.fpReg, lir.Load(sz, memOperand), addr)
		}).Instr(fmt.Sprintf("%s m%d, f%d", name, sz, sz), func(n *machine.InstrBuilder) {
			val := n.Param(t.fpReg)
			addr := t.memory(n)
			n.Action(lir.Store(sz, memOperand), val, addr)
		})
	}
}

// packedMov declares the aligned 128-bit moves. movapd transfers the
// same bits; one spelling is enough at this level.
func (t *table) packedMov() {
	t.b.Instr("movaps r128, r128", func(n *machine.InstrBuilder) {
		src := n.Param(t.fpReg)
		n.ActionOut(t.fpReg, lir.Move(128), src)
	}).Instr("movaps r128, m128", func(n *machine.InstrBuilder) {
		addr := t.memory(n)
		n.ActionOut(t.fpReg, lir.Load(128, memOperand), addr)
	}).Instr("movaps m128, r128", func(n *machine.InstrBuilder) {
		val := n.Param(t.fpReg)
		addr := t.memory(n)
		n.Action(lir.Store(128, memOperand), val, addr)
	})
}

// lea declares the address-arithmetic forms: adds whose destination
// is a free register and whose flags are untouched.
func (t *table) lea() {
	t.b.Instr("lea r64, [r64+r64]", func(n *machine.InstrBuilder) {
		base := n.Param(t.intReg)
		index := n.Param(t.intReg)
		n.ActionOut(t.intReg, lir.Add(64), base, index)
	}).Instr("lea r64, [r64+i32]", func(n *machine.InstrBuilder) {
		base := n.Param(t.intReg)
		disp := n.Param(machine.Imm{Bits: 32})
		n.ActionOut(t.intReg, lir.Add(64), base, disp)
	}).Instr("lea r64, [r64+r64*s]", func(n *machine.InstrBuilder) {
		base := n.Param(t.intReg)
		index := n.Param(t.intReg)
		scale := n.Param(machine.Imm{Bits: 3})
		shifted := n.Action(lir.ShiftL(64), index, scale)
		n.ActionOut(t.intReg, lir.Add(64), base, shifted)
	})
}

// cmp performs a subtract for its flags only; the difference itself
// is internal and must be dead for the form to be emittable.
func (t *table) cmp() {
	for _, sz := range sizes {
		sz := sz

		t.b.Instr(fmt.Sprintf("cmp r%d, r%d", sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(t.intReg)
			out := n.Action(lir.Sub(sz), left, right)
			t.flags(n, out, sz, lir.SubOverflowS(sz), lir.SubOverflowU(sz))
		}).Instr(fmt.Sprintf("cmp r%d, m%d", sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right, _ := t.load(n, sz)
			out := n.Action(lir.Sub(sz), left, right)
			t.flags(n, out, sz, lir.SubOverflowS(sz), lir.SubOverflowU(sz))
		}).Instr(fmt.Sprintf("cmp m%d, r%d", sz, sz), func(n *machine.InstrBuilder) {
			right := n.Param(t.intReg)
			left, _ := t.load(n, sz)
			out := n.Action(lir.Sub(sz), left, right)
			t.flags(n, out, sz, lir.SubOverflowS(sz), lir.SubOverflowU(sz))
		}).Instr(fmt.Sprintf("cmp r%d, i32", sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.intReg)
			right := n.Param(machine.Imm{Bits: 32})
			out := n.Action(lir.Sub(sz), left, right)
			t.flags(n, out, sz, lir.SubOverflowS(sz), lir.SubOverflowU(sz))
		})
	}
}

// test gives the zero and sign checks a single-operation floor: it
// reads one register and produces only flags.
func (t *table) test() {
	for _, sz := range sizes {
		sz := sz

		t.b.Instr(fmt.Sprintf("test r%d, r%d", sz, sz), func(n *machine.InstrBuilder) {
			src := n.Param(t.intReg)
			n.ActionInto(t.zf, lir.IsZero(sz), src)
			n.ActionInto(t.sf, lir.LtZero(sz), src)
			n.ActionInto(t.cf, lir.Clear())
			n.ActionInto(t.of, lir.Clear())
		})
	}
}

// fpArith declares the scalar SSE arithmetic rr and rm forms.
func (t *table) fpArith(name32, name64 string, op func(lir.Bits) lir.Op) {
	for _, sz := range sizes {
		sz := sz

		name := name32
		if sz == 64 {
			name = name64
		}

		t.b.Instr(fmt.Sprintf("%s r%d, r%d", name, sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.fpReg)
			right := n.Param(t.fpReg)
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
		}).Instr(fmt.Sprintf("%s r%d, m%d", name, sz, sz), func(n *machine.InstrBuilder) {
			left := n.Param(t.fpReg)
			right, _ := t.load(n, sz)
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
		})
	}
}

// fpPacked declares the 128-bit packed logical forms.
func (t *table) fpPacked(name32, name64 string, op func(lir.Bits) lir.Op) {
	for _, sz := range sizes {
		sz := sz

		name := name32
		if sz == 64 {
			name = name64
		}

		t.b.Instr(fmt.Sprintf("%s r128, r128", name), func(n *machine.InstrBuilder) {
			left := n.Param(t.fpReg)
			right := n.Param(t.fpReg)
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
		}).Instr(fmt.Sprintf("%s r128, m128", name), func(n *machine.InstrBuilder) {
			left := n.Param(t.fpReg)
			right, _ := t.load(n, 128)
			out := n.Action(op(sz), left, right)
			n.Eq(left, out)
		})
	}
}

func (t *table) sqrt() {
	for _, sz := range sizes {
		sz := sz

		name := "sqrtss"
		if sz == 64 {
			name = "sqrtsd"
		}

		t.b.Instr(fmt.Sprintf("%s r%d, r%d", name, sz, sz), func(n *machine.InstrBuilder) {
			src := n.Param(t.fpReg)
			n.ActionOut(t.fpReg, lir.SqrtFp(sz), src)
		})
	}
}

// jmp is never selected by the matcher; calling code emits it
// directly, usually with a label placeholder to be patched once the
// target is known.
func (t *table) jmp() {
	t.b.Instr("jmp rel32", func(n *machine.InstrBuilder) {
		_ = n.Param(machine.Imm{Bits: 32})

		n.Encoding(func(args []machine.Loc) []byte {
			b := []byte{0xe9, 0, 0, 0, 0}
			binary.LittleEndian.PutUint32(b[1:], uint32(args[0].Imm))

			return b
		})
	})
}
