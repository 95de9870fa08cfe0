package machine

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/Vurich/asmquery/lir"
)

type (
	// Allocator is the external location allocator. It owns liveness:
	// the engine asks, never caches, because liveness can change
	// between refinement steps. Implementations must be deterministic
	// for identical state and arguments.
	Allocator interface {
		// Satisfy places an existing value under a constraint.
		Satisfy(c Constraint, v lir.Var) (Loc, bool)

		// Alloc produces a fresh location under a constraint, for an
		// output or an unbound parameter. v may be lir.NoVar.
		Alloc(c Constraint, v lir.Var) (Loc, bool)

		// ClobberOK reports whether r holds nothing live, so an
		// instruction may incidentally overwrite it.
		ClobberOK(r Reg) bool
	}

	// Policy reports whether match a is better than b. Both have
	// consumed the same number of instructions; the tie-break is
	// target policy, not mechanism.
	Policy func(a, b *Match) bool

	// Selector matches one Low IR stream against a Spec. Its state
	// is private to one function compilation; the Spec it reads is
	// shared and immutable.
	Selector struct {
		spec   *Spec
		alloc  Allocator
		better Policy

		// OnMatch, if set, runs after every committed match, before
		// the cursor advances. It is where the allocator learns the
		// match's output locations and retires dead values.
		OnMatch func(m *Match, lastUse map[lir.Var]int) error
	}

	// Match is one committed selection: an instruction form, the
	// instructions it absorbed, and the concrete locations filled in.
	Match struct {
		Def  *InstrDef
		Alts []int // chosen variant alternatives
		Pos  int   // first Low IR instruction consumed
		Len  int   // instructions consumed

		Args     []Loc    // one per parameter slot, declaration order
		Outs     []OutLoc // located outputs
		Clobbers []Reg    // incidental writes left unmatched

		t   *tmpl
		bnd *binding
	}

	OutLoc struct {
		Var lir.Var
		Loc Loc
	}

	// binding is the per-candidate routing of template slots to Low
	// IR vars accumulated during one match.
	binding struct {
		t       *tmpl
		varOf   []lir.Var
		matched uint64
	}
)

// ErrUnrealizable reports a Low IR operation no instruction form can
// perform in its context. It is fatal for the enclosing function.
var ErrUnrealizable = errors.New("unrealizable operation")

func NewSelector(s *Spec, a Allocator, p Policy) *Selector {
	if p == nil {
		p = Default
	}

	return &Selector{spec: s, alloc: a, better: p}
}

// Default prefers fewer parameters to allocate, then a smaller
// encoding, then declaration order.
func Default(a, b *Match) bool {
	if a.t.nparams != b.t.nparams {
		return a.t.nparams < b.t.nparams
	}

	if a.Def.Size != b.Def.Size {
		return a.Def.Size < b.Def.Size
	}

	return a.t.index < b.t.index
}

// NumParams reports how many parameter slots the chosen form has.
func (m *Match) NumParams() int { return m.t.nparams }

// SelectFunc matches every block of f. Block boundaries are hard
// resets: no candidate survives across them.
func (sel *Selector) SelectFunc(ctx context.Context, f *lir.Func) (res [][]*Match, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "select func", "name", f.Name)
	defer tr.Finish("err", &err)

	for i, code := range f.Blocks {
		ms, err := sel.SelectBlock(ctx, code)
		if err != nil {
			return nil, errors.Wrap(err, "block %d", i)
		}

		res = append(res, ms)
	}

	return res, nil
}

// SelectBlock runs the match loop over one straight-line block,
// committing the best realizable form at each cursor position.
func (sel *Selector) SelectBlock(ctx context.Context, code lir.Block) (res []*Match, err error) {
	tr := tlog.SpanFromContext(ctx)

	last := lir.LastUse(code)

	for c := 0; c < len(code); {
		m, err := sel.matchAt(tr, code, c, last)
		if err != nil {
			return nil, errors.Wrap(err, "pos %d (%v)", c, code[c].Op)
		}

		tr.V("match").Printw("match", "pos", c, "len", m.Len, "def", m.Def.Name, "args", len(m.Args))

		if sel.OnMatch != nil {
			err = sel.OnMatch(m, last)
			if err != nil {
				return nil, errors.Wrap(err, "pos %d: apply match", c)
			}
		}

		res = append(res, m)
		c += m.Len
	}

	return res, nil
}

// matchAt refines the candidate set instruction by instruction until
// it would die, then commits the best of the last emittable set. The
// cursor only ever advances over instructions the winner consumed.
func (sel *Selector) matchAt(tr tlog.Span, code lir.Block, c int, last map[lir.Var]int) (*Match, error) {
	q := code[c]

	lead, ok := sel.spec.lead[q.Op]
	if !ok {
		return nil, errors.Wrap(ErrUnrealizable, "no form performs %v", q.Op)
	}

	m := lead.Copy()

	var cand []*binding

	m.Range(func(i int) bool {
		b := newBinding(sel.spec.cands[i])

		if b.match(q) {
			cand = append(cand, b)
		} else {
			m.Clear(i)
		}

		return true
	})

	var best []*binding
	bestLen := 0

	for length := 1; len(cand) > 0; length++ {
		if em := sel.emittable(cand, c+length, last); len(em) > 0 {
			best, bestLen = em, length
		}

		if c+length == len(code) {
			break
		}

		q := code[c+length]

		// stateless refinement is a mask intersection; only binding
		// consistency is checked per candidate.
		mask, ok := sel.spec.mask[q.Op]
		if !ok {
			break
		}

		m.And(mask)

		var next []*binding

		for _, b := range cand {
			if !m.IsSet(b.t.index) {
				continue
			}

			nb := b.clone()

			if nb.match(q) {
				next = append(next, nb)
			} else {
				m.Clear(b.t.index)
			}
		}

		cand = next
	}

	if bestLen == 0 {
		return nil, errors.Wrap(ErrUnrealizable, "no emittable form")
	}

	win := best[0]
	wm := &Match{Def: win.t.def, Alts: win.t.alts, Pos: c, Len: bestLen, t: win.t, bnd: win}

	for _, b := range best[1:] {
		alt := &Match{Def: b.t.def, Alts: b.t.alts, Pos: c, Len: bestLen, t: b.t, bnd: b}

		if sel.better(alt, wm) {
			win, wm = b, alt
		}
	}

	err := sel.commit(wm)
	if err != nil {
		return nil, err
	}

	return wm, nil
}

// emittable filters candidates that could be legally emitted if the
// match stopped before end.
func (sel *Selector) emittable(cand []*binding, end int, last map[lir.Var]int) (em []*binding) {
	for _, b := range cand {
		if sel.canEmit(b, end, last) {
			em = append(em, b)
		}
	}

	return em
}

// canEmit applies the legality rules: bound parameters must be
// satisfiable, internal outputs must not be needed past the match,
// located outputs must be placeable, and anything left unmatched may
// only be an incidental fixed-register write over a dead register.
// The same rules reject an unintended clobber of a live value and an
// intended overwrite of one.
func (sel *Selector) canEmit(b *binding, end int, last map[lir.Var]int) bool {
	t := b.t

	// registers whose value this match consumes for the last time are
	// fair to overwrite: the carry chain depends on it.
	var dying map[Reg]bool

	for i := range t.steps {
		s := &t.steps[i]
		if !s.Param {
			continue
		}

		v := b.varOf[i]

		var l Loc
		var ok bool

		if v != lir.NoVar {
			l, ok = sel.alloc.Satisfy(s.Con, v)
		} else {
			_, ok = sel.alloc.Alloc(s.Con, lir.NoVar)
		}

		if !ok {
			return false
		}

		if v != lir.NoVar && l.Kind == LocReg {
			if lu, used := last[v]; used && lu < end {
				if dying == nil {
					dying = map[Reg]bool{}
				}

				dying[l.Reg] = true
			}
		}
	}

	clobberOK := func(r Reg) bool {
		return dying[r] || sel.alloc.ClobberOK(r)
	}

	for i := range t.steps {
		s := &t.steps[i]
		v := b.varOf[i]

		if s.Param {
			continue
		}

		if b.matched&(1<<i) == 0 {
			if s.Fixed == NoReg || !clobberOK(s.Fixed) {
				return false
			}

			continue
		}

		if s.Internal {
			if lu, ok := last[v]; ok && lu >= end {
				return false
			}

			continue
		}

		switch p := t.eqLoc(i); {
		case s.Fixed != NoReg:
			if !clobberOK(s.Fixed) {
				return false
			}
		case p >= 0:
			// the output lands in the eq partner's location,
			// destroying the value there
			if pv := b.varOf[p]; pv != lir.NoVar {
				if lu, ok := last[pv]; ok && lu >= end {
					return false
				}
			}
		default:
			if _, ok := sel.alloc.Alloc(classCon(s.Class), v); !ok {
				return false
			}
		}
	}

	return true
}

// commit fills the winner's parameter slots and output locations
// through the allocator. Parameters fill first: an eq-tied output must
// be able to find its partner's location even when the partner is a
// parameter declared after the action step.
func (sel *Selector) commit(m *Match) error {
	t, b := m.t, m.bnd

	m.Args = make([]Loc, 0, t.nparams)

	// Alloc is a pure query, so it answers two fresh requests within
	// one commit identically. Track what this commit already handed
	// out and fail loudly instead of aliasing two values.
	taken := map[Loc]bool{}

	fresh := func(c Constraint, v lir.Var, slot int) (Loc, error) {
		l, ok := sel.alloc.Alloc(c, v)
		if !ok {
			return l, errors.New("allocator refused form %v slot %d", t.def.Name, slot)
		}

		if taken[l] {
			return l, errors.New("allocator repeated %v within form %v slot %d", l, t.def.Name, slot)
		}

		taken[l] = true

		return l, nil
	}

	for i := range t.steps {
		s := &t.steps[i]
		if !s.Param {
			continue
		}

		var l Loc

		if v := b.varOf[i]; v != lir.NoVar {
			var ok bool

			l, ok = sel.alloc.Satisfy(s.Con, v)
			if !ok {
				return errors.New("allocator refused committed form %v slot %d", t.def.Name, i)
			}
		} else {
			var err error

			l, err = fresh(s.Con, lir.NoVar, i)
			if err != nil {
				return err
			}
		}

		m.Args = append(m.Args, l)
	}

	for i := range t.steps {
		s := &t.steps[i]
		v := b.varOf[i]

		if s.Param {
			continue
		}

		if b.matched&(1<<i) == 0 {
			if s.Fixed != NoReg {
				m.Clobbers = append(m.Clobbers, s.Fixed)
			}

			continue
		}

		if s.Internal {
			continue
		}

		switch p := t.eqLoc(i); {
		case s.Fixed != NoReg:
			m.Outs = append(m.Outs, OutLoc{Var: v, Loc: RegLoc(s.Fixed)})
		case p >= 0:
			m.Outs = append(m.Outs, OutLoc{Var: v, Loc: m.Args[t.paramIndex(p)]})
		default:
			l, err := fresh(classCon(s.Class), v, i)
			if err != nil {
				return err
			}

			m.Outs = append(m.Outs, OutLoc{Var: v, Loc: l})
		}
	}

	return nil
}

// paramIndex maps a parameter step slot to its argument position.
func (t *tmpl) paramIndex(slot int) int {
	n := 0

	for i := 0; i < slot; i++ {
		if t.steps[i].Param {
			n++
		}
	}

	return n
}

func newBinding(t *tmpl) *binding {
	vo := make([]lir.Var, len(t.steps))

	for i := range vo {
		vo[i] = lir.NoVar
	}

	return &binding{t: t, varOf: vo}
}

func (b *binding) clone() *binding {
	vo := make([]lir.Var, len(b.varOf))
	copy(vo, b.varOf)

	return &binding{t: b.t, varOf: vo, matched: b.matched}
}

func (b *binding) slotOf(v lir.Var) int {
	for i, x := range b.varOf {
		if x == v {
			return i
		}
	}

	return -1
}

// match absorbs q into the first structurally compatible unmatched
// action step. Steps are in dependency order, so first-fit is
// deterministic and needs no backtracking across steps.
func (b *binding) match(q lir.Instr) bool {
	if b.slotOf(q.Out) >= 0 {
		return false
	}

	for i := range b.t.steps {
		s := &b.t.steps[i]

		if s.Param || b.matched&(1<<i) != 0 {
			continue
		}

		if s.Op != q.Op || len(s.In) != len(q.In) {
			continue
		}

		if b.tryStep(i, q) {
			return true
		}
	}

	return false
}

// tryStep binds q's operands against step slot. A Low IR var reused
// across queries must route to the same template slot every time.
func (b *binding) tryStep(slot int, q lir.Instr) bool {
	var added []int

	bind := func(slot int, v lir.Var) bool {
		if b.varOf[slot] == v {
			return true
		}

		if b.varOf[slot] != lir.NoVar || b.slotOf(v) >= 0 {
			return false
		}

		b.varOf[slot] = v
		added = append(added, slot)

		return true
	}

	ok := true

	for i, v := range q.In {
		in := int(b.t.steps[slot].In[i])

		switch {
		case b.varOf[in] == v:
		case b.t.steps[in].Param:
			ok = bind(in, v)
		default:
			// an unbound action output cannot carry a value produced
			// outside the match
			ok = false
		}

		if !ok {
			break
		}
	}

	if ok {
		ok = bind(slot, q.Out)
	}

	if !ok {
		for _, s := range added {
			b.varOf[s] = lir.NoVar
		}

		return false
	}

	b.matched |= 1 << slot

	return true
}
