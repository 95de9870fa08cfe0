// Package machine holds the declarative machine specification model
// and the query/match engine that selects instruction forms for runs
// of Low IR instructions.
//
// A specification is built once per target (see Builder), is immutable
// afterwards, and may be shared by any number of concurrent selections.
package machine

import (
	"strconv"

	"github.com/Vurich/asmquery/lir"
	"github.com/Vurich/asmquery/set"
)

type (
	// Reg is one fixed machine storage location. Registers never
	// overlap; aliasing effects are expressed as extra template
	// outputs, not through register identity.
	Reg int

	// Class is a fixed, non-overlapping set of registers usable
	// interchangeably for a parameter slot.
	Class int

	// Imm constrains a parameter to an immediate of the given width.
	Imm struct {
		Bits lir.Bits
	}

	// Var names one step output inside a single instruction form
	// under construction. It is only meaningful to the Builder that
	// issued it.
	Var int

	ConKind uint8

	// Constraint restricts what concrete location may fill a
	// parameter slot.
	Constraint struct {
		Kind  ConKind
		Reg   Reg
		Class Class
		Bits  lir.Bits
	}

	LocKind uint8

	// Loc is a concrete location decided by the external allocator:
	// a register, a stack slot, an immediate value, or a label
	// placeholder to be patched later.
	Loc struct {
		Kind  LocKind
		Reg   Reg
		Slot  int
		Imm   int64
		Label Label
	}

	Label int

	// EncodeFunc turns filled parameter slots into machine bytes.
	// The length of the result must depend only on the instruction
	// form, never on the argument values.
	EncodeFunc func(args []Loc) []byte

	step struct {
		Param    bool
		Con      Constraint // parameter constraint
		Op       lir.Op     // action operation
		In       []Var      // action inputs, earlier steps only
		Fixed    Reg        // fixed output register, or NoReg
		Class    Class      // output class for located action outputs
		Located  bool       // output may receive a real location
		Internal bool       // output may never receive one
	}

	// InstrDef is one named instruction form. Variant sets are
	// expanded at build time, so a def carries one template per
	// alternative combination.
	InstrDef struct {
		Name   string
		Size   int
		Encode EncodeFunc

		tmpls []*tmpl
	}

	// tmpl is one flattened candidate: a def with every variant
	// choice pinned. Candidate bitmasks index tmpls, not defs.
	tmpl struct {
		def   *InstrDef
		index int   // position in Spec.cands
		alts  []int // chosen alternative per variant set

		steps   []step
		eqs     [][2]Var
		nparams int
	}

	// Spec is the built, immutable machine specification.
	Spec struct {
		regs    []string
		classes []classDef
		defs    []*InstrDef
		byName  map[string]*InstrDef

		cands []*tmpl

		// lead masks candidates owning an entry action (an action
		// reading params only) with the given operation; it seeds a
		// fresh match. mask is the per-operation refinement mask:
		// the operation appears somewhere in the candidate.
		lead map[lir.Op]set.Bitmap
		mask map[lir.Op]set.Bitmap
	}

	classDef struct {
		name string
		regs []Reg
	}
)

const NoReg Reg = -1

const (
	ConNone ConKind = iota
	ConFixed
	ConClass
	ConImm
)

const (
	LocNone LocKind = iota
	LocReg
	LocStack
	LocImm
	LocLabel
)

func (s *Spec) Def(name string) *InstrDef {
	return s.byName[name]
}

func (s *Spec) Defs() []*InstrDef { return s.defs }

func (s *Spec) RegName(r Reg) string {
	if r < 0 || int(r) >= len(s.regs) {
		return "r?" + strconv.Itoa(int(r))
	}

	return s.regs[r]
}

func (s *Spec) ClassName(c Class) string {
	if c < 0 || int(c) >= len(s.classes) {
		return "class?" + strconv.Itoa(int(c))
	}

	return s.classes[c].name
}

func (s *Spec) ClassRegs(c Class) []Reg {
	return s.classes[c].regs
}

// Candidates reports how many flattened candidates the table holds.
func (s *Spec) Candidates() int { return len(s.cands) }

func (d *InstrDef) Variants() int { return len(d.tmpls) }

func (l Loc) String() string {
	switch l.Kind {
	case LocReg:
		return "r" + strconv.Itoa(int(l.Reg))
	case LocStack:
		return "[sp+" + strconv.Itoa(l.Slot) + "]"
	case LocImm:
		return "#" + strconv.FormatInt(l.Imm, 10)
	case LocLabel:
		return "@" + strconv.Itoa(int(l.Label))
	}

	return "?"
}

// RegLoc, StackLoc, ImmLoc and LabelLoc build the common locations.
func RegLoc(r Reg) Loc      { return Loc{Kind: LocReg, Reg: r} }
func StackLoc(slot int) Loc { return Loc{Kind: LocStack, Slot: slot} }
func ImmLoc(v int64) Loc    { return Loc{Kind: LocImm, Imm: v} }
func LabelLoc(l Label) Loc  { return Loc{Kind: LocLabel, Label: l} }

func fixedCon(r Reg) Constraint    { return Constraint{Kind: ConFixed, Reg: r} }
func classCon(c Class) Constraint  { return Constraint{Kind: ConClass, Class: c} }
func immCon(b lir.Bits) Constraint { return Constraint{Kind: ConImm, Bits: b} }
