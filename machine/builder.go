package machine

import (
	"strconv"
	"strings"

	"tlog.app/go/errors"

	"github.com/Vurich/asmquery/lir"
	"github.com/Vurich/asmquery/set"
)

type (
	// Builder assembles a Spec incrementally. The target table is
	// static data, so any declaration error is fatal: it is recorded
	// at the first point of failure and returned by Build.
	Builder struct {
		regs    []string
		classes []classDef
		defs    []*InstrDef

		err error
	}

	// InstrBuilder declares the steps of one instruction form.
	// Steps are declared in dependency order: an action may only
	// consume outputs that already exist.
	InstrBuilder struct {
		b    *Builder
		name string

		nvars  int
		steps  []bstep
		shared []sharedOut
		eqs    []beq
		groups int

		group, alt int // current variant context, -1/-1 outside

		enc EncodeFunc
	}

	// Variants declares one variant set: a closed group of
	// alternative step sequences all producing the same logical
	// outputs.
	Variants struct {
		n    *InstrBuilder
		outs []Var
		alts int
	}

	bstep struct {
		step
		out        Var
		group, alt int
	}

	beq struct {
		a, b       Var
		group, alt int
	}

	sharedOut struct {
		v     Var
		group int
	}
)

// maxImmBits bounds declarable immediate widths.
const maxImmBits = 64

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Reg declares one machine register.
func (b *Builder) Reg(name string) Reg {
	b.regs = append(b.regs, name)

	return Reg(len(b.regs) - 1)
}

// Class declares a register class. Classes must not share members.
func (b *Builder) Class(name string, rr ...Reg) Class {
	for _, r := range rr {
		for _, c := range b.classes {
			for _, x := range c.regs {
				if x == r {
					b.fail(errors.New("class %v: register %v already in class %v", name, b.regs[r], c.name))
				}
			}
		}
	}

	b.classes = append(b.classes, classDef{name: name, regs: rr})

	return Class(len(b.classes) - 1)
}

// Instr declares one instruction form and closes it under name.
func (b *Builder) Instr(name string, f func(new *InstrBuilder)) *Builder {
	if b.err != nil {
		return b
	}

	n := &InstrBuilder{b: b, name: name, group: -1, alt: -1}

	f(n)

	d := &InstrDef{Name: name, Encode: n.enc}

	err := n.flatten(d)
	if err != nil {
		b.fail(errors.Wrap(err, "instr %v", name))

		return b
	}

	b.defs = append(b.defs, d)

	return b
}

func (n *InstrBuilder) newVar() Var {
	v := Var(n.nvars)
	n.nvars++

	return v
}

// Param declares an input slot. The constraint is a Reg, a Class or
// an Imm.
func (n *InstrBuilder) Param(con any) Var {
	var c Constraint

	switch con := con.(type) {
	case Reg:
		c = fixedCon(con)
	case Class:
		c = classCon(con)
	case Imm:
		if con.Bits <= 0 || con.Bits > maxImmBits {
			n.b.fail(errors.New("instr %v: unsupported immediate width %v", n.name, con.Bits))
		}

		c = immCon(con.Bits)
	default:
		n.b.fail(errors.New("instr %v: bad parameter constraint %T", n.name, con))
	}

	v := n.newVar()

	n.steps = append(n.steps, bstep{
		step:  step{Param: true, Con: c, Fixed: NoReg, Located: true},
		out:   v,
		group: n.group,
		alt:   n.alt,
	})

	return v
}

// Action declares an operation step whose output takes part in
// matching but has no location of its own unless an equality
// constraint ties it to a parameter.
func (n *InstrBuilder) Action(op lir.Op, in ...Var) Var {
	return n.action(op, in, NoReg, Class(-1))
}

// ActionOut is Action with the output allocatable in a register class.
func (n *InstrBuilder) ActionOut(c Class, op lir.Op, in ...Var) Var {
	return n.action(op, in, NoReg, c)
}

// ActionInto directs the output into a fixed register (Reg) — the way
// flag and clobber outputs are declared — or into a variant set's
// shared output (Var).
func (n *InstrBuilder) ActionInto(dst any, op lir.Op, in ...Var) {
	switch dst := dst.(type) {
	case Reg:
		n.action(op, in, dst, Class(-1))
	case Var:
		v := n.action(op, in, NoReg, Class(-1))
		n.assign(dst, v)
	default:
		n.b.fail(errors.New("instr %v: bad action destination %T", n.name, dst))
	}
}

func (n *InstrBuilder) action(op lir.Op, in []Var, fixed Reg, class Class) Var {
	for _, v := range in {
		if int(v) >= n.nvars {
			n.b.fail(errors.New("instr %v: input %v not declared", n.name, v))
		}
	}

	v := n.newVar()

	n.steps = append(n.steps, bstep{
		step:  step{Op: op, In: append([]Var{}, in...), Fixed: fixed, Class: class},
		out:   v,
		group: n.group,
		alt:   n.alt,
	})

	return v
}

// Eq constrains two step outputs to the same concrete location. It is
// how read-modify-write operands are expressed: eq(left, out) makes
// the instruction write its result back into the left operand.
func (n *InstrBuilder) Eq(a, b Var) {
	n.eqs = append(n.eqs, beq{a: a, b: b, group: n.group, alt: n.alt})
}

// Encoding sets the byte encoder for this form. Without one, a
// size-stable placeholder encoder is installed.
func (n *InstrBuilder) Encoding(f EncodeFunc) {
	n.enc = f
}

// NewVariants opens a variant set producing nouts logical outputs.
func (n *InstrBuilder) NewVariants(nouts int) *Variants {
	if n.group >= 0 {
		n.b.fail(errors.New("instr %v: nested variant sets", n.name))
	}

	v := &Variants{n: n}

	for i := 0; i < nouts; i++ {
		sv := n.newVar()
		n.shared = append(n.shared, sharedOut{v: sv, group: n.groups})
		v.outs = append(v.outs, sv)
	}

	n.groups++

	return v
}

// Or declares one alternative. Inside f, ActionInto or Eq against the
// shared outputs states how this alternative produces them.
func (v *Variants) Or(f func(out []Var, new *InstrBuilder)) *Variants {
	n := v.n

	n.group, n.alt = n.groups-1, v.alts
	v.alts++

	f(v.outs, n)

	n.group, n.alt = -1, -1

	return v
}

// Finish closes the set and hands back the shared outputs.
func (v *Variants) Finish() []Var {
	if v.alts == 0 {
		v.n.b.fail(errors.New("instr %v: empty variant set", v.n.name))
	}

	return v.outs
}

// assign records that, in the current alternative, shared output dst
// is produced by step output src.
func (n *InstrBuilder) assign(dst, src Var) {
	for _, s := range n.shared {
		if s.v != dst {
			continue
		}

		if s.group != n.group {
			n.b.fail(errors.New("instr %v: assigning shared output of another set", n.name))
		}

		n.eqs = append(n.eqs, beq{a: dst, b: src, group: n.group, alt: n.alt})

		return
	}

	n.b.fail(errors.New("instr %v: %v is not a shared output", n.name, dst))
}

// flatten expands the declared steps into one template per variant
// alternative combination and resolves shared outputs to real slots.
func (n *InstrBuilder) flatten(d *InstrDef) error {
	combos := [][]int{nil}

	for g := 0; g < n.groups; g++ {
		nalts := 0

		for _, s := range n.steps {
			if s.group == g && s.alt+1 > nalts {
				nalts = s.alt + 1
			}
		}
		for _, e := range n.eqs {
			if e.group == g && e.alt+1 > nalts {
				nalts = e.alt + 1
			}
		}

		if nalts == 0 {
			return errors.New("variant set %d has no alternatives", g)
		}

		var next [][]int

		for _, c := range combos {
			for a := 0; a < nalts; a++ {
				next = append(next, append(append([]int{}, c...), a))
			}
		}

		combos = next
	}

	for _, alts := range combos {
		t, err := n.flattenOne(d, alts)
		if err != nil {
			return err
		}

		d.tmpls = append(d.tmpls, t)
	}

	return nil
}

func (n *InstrBuilder) flattenOne(d *InstrDef, alts []int) (*tmpl, error) {
	t := &tmpl{def: d, alts: alts}

	taken := func(group, alt int) bool {
		return group < 0 || alts[group] == alt
	}

	slotOf := make([]int, n.nvars)
	for i := range slotOf {
		slotOf[i] = -1
	}

	// aliases: shared output -> producing var for the chosen
	// alternatives, resolved before slot lookup.
	alias := make([]Var, n.nvars)
	for i := range alias {
		alias[i] = Var(i)
	}

	isShared := func(v Var) bool {
		for _, s := range n.shared {
			if s.v == v {
				return true
			}
		}

		return false
	}

	var eqs [][2]Var

	for _, e := range n.eqs {
		if !taken(e.group, e.alt) {
			continue
		}

		if isShared(e.a) {
			alias[e.a] = e.b
		} else {
			eqs = append(eqs, [2]Var{e.a, e.b})
		}
	}

	resolve := func(v Var) (int, error) {
		for alias[v] != v {
			v = alias[v]
		}

		s := slotOf[v]
		if s < 0 {
			return 0, errors.New("step consumes undeclared or later output %v", v)
		}

		return s, nil
	}

	for _, bs := range n.steps {
		if !taken(bs.group, bs.alt) {
			continue
		}

		s := bs.step
		s.In = nil

		for _, v := range bs.In {
			slot, err := resolve(v)
			if err != nil {
				return nil, err
			}

			s.In = append(s.In, Var(slot))
		}

		slotOf[bs.out] = len(t.steps)
		t.steps = append(t.steps, s)

		if s.Param {
			t.nparams++
		}
	}

	for _, e := range eqs {
		a, err := resolve(e[0])
		if err != nil {
			return nil, err
		}

		b, err := resolve(e[1])
		if err != nil {
			return nil, err
		}

		t.eqs = append(t.eqs, [2]Var{Var(a), Var(b)})
	}

	if len(t.steps) > 64 {
		return nil, errors.New("form has %d steps, limit 64", len(t.steps))
	}

	t.locate()

	return t, nil
}

// locate decides which action outputs are addressable: those with a
// fixed register, those with an output class, and those tied by an
// equality constraint to a parameter. Everything else is internal and
// may never receive a concrete location.
func (t *tmpl) locate() {
	for i := range t.steps {
		s := &t.steps[i]
		if s.Param {
			continue
		}

		s.Located = s.Fixed != NoReg || s.Class >= 0

		for _, e := range t.eqs {
			var o Var

			switch {
			case int(e[0]) == i:
				o = e[1]
			case int(e[1]) == i:
				o = e[0]
			default:
				continue
			}

			if t.steps[o].Param {
				s.Located = true
			}
		}

		s.Internal = !s.Located
	}
}

// eqLoc returns the parameter slot an action output is location-tied
// to, or -1.
func (t *tmpl) eqLoc(slot int) int {
	for _, e := range t.eqs {
		var o Var

		switch {
		case int(e[0]) == slot:
			o = e[1]
		case int(e[1]) == slot:
			o = e[0]
		default:
			continue
		}

		if t.steps[o].Param {
			return int(o)
		}
	}

	return -1
}

// Build validates and freezes the specification: flat candidates are
// numbered, per-operation masks are precomputed, and every encoder is
// probed twice to check its output length is argument-independent.
func (b *Builder) Build() (*Spec, error) {
	if b.err != nil {
		return nil, errors.Wrap(b.err, "machine spec")
	}

	s := &Spec{
		regs:    b.regs,
		classes: b.classes,
		defs:    b.defs,
		byName:  make(map[string]*InstrDef, len(b.defs)),
		lead:    map[lir.Op]set.Bitmap{},
		mask:    map[lir.Op]set.Bitmap{},
	}

	for _, d := range b.defs {
		if s.byName[d.Name] != nil {
			return nil, errors.New("machine spec: duplicate instr %v", d.Name)
		}

		s.byName[d.Name] = d

		if d.Encode == nil {
			d.Encode = stubEncode(d.Name)
		}

		for _, t := range d.tmpls {
			t.index = len(s.cands)
			s.cands = append(s.cands, t)

			err := checkEncodeSize(d, t)
			if err != nil {
				return nil, errors.Wrap(err, "machine spec: instr %v", d.Name)
			}
		}
	}

	n := len(s.cands)

	opmask := func(m map[lir.Op]set.Bitmap, op lir.Op) set.Bitmap {
		bm, ok := m[op]
		if !ok {
			bm = set.MakeBitmap(n)
			m[op] = bm
		}

		return bm
	}

	for _, t := range s.cands {
		for _, st := range t.steps {
			if st.Param {
				continue
			}

			opmask(s.mask, st.Op).Set(t.index)

			entry := true

			for _, in := range st.In {
				if !t.steps[in].Param {
					entry = false
				}
			}

			if entry {
				opmask(s.lead, st.Op).Set(t.index)
			}
		}
	}

	return s, nil
}

// checkEncodeSize enforces the relocation contract: a form's byte
// length is fixed per name, whatever fills the slots.
func checkEncodeSize(d *InstrDef, t *tmpl) error {
	zero := make([]Loc, t.nparams)
	poke := make([]Loc, t.nparams)

	for i := range poke {
		poke[i] = Loc{Kind: LocImm, Imm: int64(0x5a5a + i), Reg: Reg(i % 8)}
	}

	size := len(d.Encode(zero))

	if len(d.Encode(poke)) != size {
		return errors.New("encoding size depends on argument values")
	}

	if d.Size == 0 {
		d.Size = size
	}

	if d.Size != size {
		return errors.New("encoding size differs between variants: %v != %v", size, d.Size)
	}

	if size == 0 {
		return errors.New("empty encoding")
	}

	return nil
}

// stubEncode is the placeholder encoder for forms declared without
// one: four bytes derived from the name and argument values, length
// fixed.
func stubEncode(name string) EncodeFunc {
	var h byte

	for i := 0; i < len(name); i++ {
		h = h*31 + name[i]
	}

	return func(args []Loc) []byte {
		b := []byte{h, byte(len(args)), 0, 0}

		for i, a := range args {
			b[2+i%2] ^= byte(a.Kind)<<6 ^ byte(a.Reg) ^ byte(a.Imm)
		}

		return b
	}
}

func (s *Spec) String() string {
	var w strings.Builder

	for _, d := range s.defs {
		w.WriteString(d.Name)
		w.WriteString("  size ")
		w.WriteString(strconv.Itoa(d.Size))

		if len(d.tmpls) > 1 {
			w.WriteString("  variants ")
			w.WriteString(strconv.Itoa(len(d.tmpls)))
		}

		w.WriteByte('\n')

		for _, t := range d.tmpls {
			for i, st := range t.steps {
				w.WriteString("    ")
				w.WriteString(strconv.Itoa(i))
				w.WriteString(": ")
				w.WriteString(s.stepString(t, st))
				w.WriteByte('\n')
			}

			if len(d.tmpls) > 1 {
				w.WriteString("    --\n")
			}
		}
	}

	return w.String()
}

func (s *Spec) stepString(t *tmpl, st step) string {
	if st.Param {
		switch st.Con.Kind {
		case ConFixed:
			return "param " + s.RegName(st.Con.Reg)
		case ConClass:
			return "param " + s.ClassName(st.Con.Class)
		case ConImm:
			return "param imm" + strconv.Itoa(int(st.Con.Bits))
		}

		return "param ?"
	}

	r := st.Op.String()

	for _, in := range st.In {
		r += " %" + strconv.Itoa(int(in))
	}

	switch {
	case st.Fixed != NoReg:
		r += " -> " + s.RegName(st.Fixed)
	case st.Class >= 0:
		r += " -> " + s.ClassName(st.Class)
	case st.Internal:
		r += " -> internal"
	}

	return r
}
