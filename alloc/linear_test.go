package alloc

import (
	"testing"

	"github.com/Vurich/asmquery/lir"
	"github.com/Vurich/asmquery/machine"
)

func testSpec(t *testing.T) (*machine.Spec, machine.Class) {
	b := machine.NewBuilder()

	r0 := b.Reg("R0")
	r1 := b.Reg("R1")
	gp := b.Class("gp", r0, r1)

	b.Instr("nop", func(n *machine.InstrBuilder) {
		n.ActionOut(gp, lir.Move(64), n.Param(gp))
	})

	s, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	return s, gp
}

func TestLinearAlloc(t *testing.T) {
	s, gp := testSpec(t)
	a := New(s)

	con := machine.Constraint{Kind: machine.ConClass, Class: gp}

	l, ok := a.Alloc(con, 1)
	if !ok || l != machine.RegLoc(0) {
		t.Fatalf("alloc: %v %v", l, ok)
	}

	// alloc is a pure query until Bind
	if !a.ClobberOK(0) {
		t.Errorf("speculative alloc reserved the register")
	}

	a.Bind(1, l)

	if a.ClobberOK(0) {
		t.Errorf("bound register reported clobberable")
	}

	l2, ok := a.Alloc(con, 2)
	if !ok || l2 != machine.RegLoc(1) {
		t.Errorf("second alloc: %v %v", l2, ok)
	}

	a.Bind(2, l2)

	if _, ok = a.Alloc(con, 3); ok {
		t.Errorf("alloc succeeded with no free register")
	}

	// an already placed value allocs to its own location
	if l, ok = a.Alloc(con, 1); !ok || l != machine.RegLoc(0) {
		t.Errorf("realloc: %v %v", l, ok)
	}

	a.Retire(1)

	if !a.ClobberOK(0) {
		t.Errorf("retired register still reserved")
	}
}

func TestLinearSatisfy(t *testing.T) {
	s, gp := testSpec(t)
	a := New(s)

	a.SetConst(5, 100)

	imm8 := machine.Constraint{Kind: machine.ConImm, Bits: 8}
	imm4 := machine.Constraint{Kind: machine.ConImm, Bits: 4}

	if l, ok := a.Satisfy(imm8, 5); !ok || l != machine.ImmLoc(100) {
		t.Errorf("imm: %v %v", l, ok)
	}

	if _, ok := a.Satisfy(imm4, 5); ok {
		t.Errorf("100 fit in a signed 4 bit immediate")
	}

	a.Bind(6, machine.RegLoc(1))

	fixed := machine.Constraint{Kind: machine.ConFixed, Reg: 1}

	if _, ok := a.Satisfy(fixed, 6); !ok {
		t.Errorf("fixed reg not satisfied")
	}

	if _, ok := a.Satisfy(fixed, 5); ok {
		t.Errorf("constant satisfied a register constraint")
	}

	con := machine.Constraint{Kind: machine.ConClass, Class: gp}

	if l, ok := a.Satisfy(con, 6); !ok || l != machine.RegLoc(1) {
		t.Errorf("class: %v %v", l, ok)
	}
}
