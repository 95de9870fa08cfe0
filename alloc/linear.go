// Package alloc provides a simple linear-scan location allocator for
// driving the selector: registers are handed out in class order and a
// value keeps its register until it is retired.
package alloc

import (
	"github.com/Vurich/asmquery/lir"
	"github.com/Vurich/asmquery/machine"
)

// Linear is a first-fit register allocator. The selector probes it
// both while weighing candidates and when committing a winner, so all
// three interface methods are pure queries; state changes only through
// Bind, SetConst and Retire.
type Linear struct {
	spec *machine.Spec

	consts map[lir.Var]int64
	locs   map[lir.Var]machine.Loc
	used   map[machine.Reg]lir.Var
}

func New(s *machine.Spec) *Linear {
	return &Linear{
		spec:   s,
		consts: map[lir.Var]int64{},
		locs:   map[lir.Var]machine.Loc{},
		used:   map[machine.Reg]lir.Var{},
	}
}

// SetConst registers v as a known constant, satisfiable by immediate
// constraints of sufficient width.
func (a *Linear) SetConst(v lir.Var, val int64) {
	a.consts[v] = val
}

// Bind records a concrete location for v. The selector reports output
// locations in Match.Outs; the driver feeds them back here.
func (a *Linear) Bind(v lir.Var, l machine.Loc) {
	a.locs[v] = l

	if l.Kind == machine.LocReg {
		a.used[l.Reg] = v
	}
}

// Retire releases v's register, if it holds one.
func (a *Linear) Retire(v lir.Var) {
	l, ok := a.locs[v]
	if !ok {
		return
	}

	delete(a.locs, v)

	if l.Kind == machine.LocReg && a.used[l.Reg] == v {
		delete(a.used, l.Reg)
	}
}

// Loc returns v's current location.
func (a *Linear) Loc(v lir.Var) (machine.Loc, bool) {
	l, ok := a.locs[v]
	return l, ok
}

func (a *Linear) Satisfy(c machine.Constraint, v lir.Var) (machine.Loc, bool) {
	switch c.Kind {
	case machine.ConImm:
		val, ok := a.consts[v]
		if !ok || !fitsImm(val, c.Bits) {
			return machine.Loc{}, false
		}

		return machine.ImmLoc(val), true
	case machine.ConFixed:
		l, ok := a.locs[v]
		if !ok || l.Kind != machine.LocReg || l.Reg != c.Reg {
			return machine.Loc{}, false
		}

		return l, true
	case machine.ConClass:
		l, ok := a.locs[v]
		if !ok || l.Kind != machine.LocReg || !a.inClass(c.Class, l.Reg) {
			return machine.Loc{}, false
		}

		return l, true
	}

	return machine.Loc{}, false
}

func (a *Linear) Alloc(c machine.Constraint, v lir.Var) (machine.Loc, bool) {
	if v != lir.NoVar {
		if l, ok := a.locs[v]; ok {
			return l, true
		}
	}

	switch c.Kind {
	case machine.ConImm:
		// an immediate slot cannot be invented for an unknown value
		val, ok := a.consts[v]
		if !ok || !fitsImm(val, c.Bits) {
			return machine.Loc{}, false
		}

		return machine.ImmLoc(val), true
	case machine.ConFixed:
		if _, taken := a.used[c.Reg]; taken {
			return machine.Loc{}, false
		}

		return machine.RegLoc(c.Reg), true
	case machine.ConClass:
		for _, r := range a.spec.ClassRegs(c.Class) {
			if _, taken := a.used[r]; !taken {
				return machine.RegLoc(r), true
			}
		}
	}

	return machine.Loc{}, false
}

func (a *Linear) ClobberOK(r machine.Reg) bool {
	_, taken := a.used[r]
	return !taken
}

// Apply binds a committed match's outputs and retires values whose
// last use the match consumed. Binding happens first, so an output
// inheriting a dying operand's register keeps it.
func (a *Linear) Apply(m *machine.Match, last map[lir.Var]int) {
	outs := map[lir.Var]bool{}

	for _, o := range m.Outs {
		outs[o.Var] = true

		if _, ok := a.locs[o.Var]; !ok {
			a.Bind(o.Var, o.Loc)
		}
	}

	for v, lu := range last {
		if !outs[v] && lu >= m.Pos && lu < m.Pos+m.Len {
			a.Retire(v)
		}
	}
}

func (a *Linear) inClass(c machine.Class, r machine.Reg) bool {
	for _, cr := range a.spec.ClassRegs(c) {
		if cr == r {
			return true
		}
	}

	return false
}

func fitsImm(v int64, bits lir.Bits) bool {
	if bits >= 64 {
		return true
	}

	lim := int64(1) << (bits - 1)

	return v >= -lim && v < lim
}
