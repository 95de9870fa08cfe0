// Package lir defines the Low IR: a target-independent, infinite
// virtual register form where every instruction performs one generic
// operation and produces exactly one output.
//
// Flag-like operations (IsZero, LtZero, overflow checks) take the
// result they inspect as input. They ask what a machine would put in
// the corresponding flag, they do not perform the arithmetic again.
package lir

import "strconv"

type (
	// Var is a virtual register. It is bound to exactly one
	// instruction output for its entire lifetime and is never reused.
	Var int

	// Bits is an operand width.
	Bits int

	kind uint8

	// Op is a generic operation tag, parameterized by width where
	// it matters. Ops are pure: same tag and same inputs always
	// produce the same value.
	Op struct {
		Kind kind
		Bits Bits
		Mem  Bits // memory operand width for Load and Store
	}

	Instr struct {
		Out Var
		Op  Op
		In  []Var
	}

	// Block is a straight-line run of instructions. Selection never
	// crosses a block boundary.
	Block []Instr

	Func struct {
		Name   string
		Blocks []Block
	}
)

// NoVar marks an absent operand.
const NoVar Var = -1

const (
	kNop kind = iota
	kAdd
	kAddCarry
	kAddOverflowS
	kAddOverflowU
	kAddCarryOverflowS
	kAddCarryOverflowU
	kSub
	kSubCarry
	kSubOverflowS
	kSubOverflowU
	kSubCarryOverflowS
	kSubCarryOverflowU
	kSMul
	kUMul
	kMulTrunc
	kAnd
	kOr
	kXor
	kShiftL
	kShiftLOverflow
	kShiftArithR
	kShiftArithRUnderflowS
	kShiftLogicalR
	kShiftLogicalRUnderflowU
	kMove
	kLoad
	kStore
	kIsZero
	kIsNonZero
	kLtZero
	kClear
	kUndef
	kAddFp
	kSubFp
	kMulFp
	kDivFp
	kMinFp
	kMaxFp
	kSqrtFp
	kPackedAnd
	kPackedOr
	kPackedXor
)

func Add(b Bits) Op          { return Op{Kind: kAdd, Bits: b} }
func AddCarry(b Bits) Op     { return Op{Kind: kAddCarry, Bits: b} }
func AddOverflowS(b Bits) Op { return Op{Kind: kAddOverflowS, Bits: b} }
func AddOverflowU(b Bits) Op { return Op{Kind: kAddOverflowU, Bits: b} }

func AddCarryOverflowS(b Bits) Op { return Op{Kind: kAddCarryOverflowS, Bits: b} }
func AddCarryOverflowU(b Bits) Op { return Op{Kind: kAddCarryOverflowU, Bits: b} }

func Sub(b Bits) Op          { return Op{Kind: kSub, Bits: b} }
func SubCarry(b Bits) Op     { return Op{Kind: kSubCarry, Bits: b} }
func SubOverflowS(b Bits) Op { return Op{Kind: kSubOverflowS, Bits: b} }
func SubOverflowU(b Bits) Op { return Op{Kind: kSubOverflowU, Bits: b} }

func SubCarryOverflowS(b Bits) Op { return Op{Kind: kSubCarryOverflowS, Bits: b} }
func SubCarryOverflowU(b Bits) Op { return Op{Kind: kSubCarryOverflowU, Bits: b} }

func SMul(b Bits) Op     { return Op{Kind: kSMul, Bits: b} }
func UMul(b Bits) Op     { return Op{Kind: kUMul, Bits: b} }
func MulTrunc(b Bits) Op { return Op{Kind: kMulTrunc, Bits: b} }

func And(b Bits) Op { return Op{Kind: kAnd, Bits: b} }
func Or(b Bits) Op  { return Op{Kind: kOr, Bits: b} }
func Xor(b Bits) Op { return Op{Kind: kXor, Bits: b} }

func ShiftL(b Bits) Op                  { return Op{Kind: kShiftL, Bits: b} }
func ShiftLOverflow(b Bits) Op          { return Op{Kind: kShiftLOverflow, Bits: b} }
func ShiftArithR(b Bits) Op             { return Op{Kind: kShiftArithR, Bits: b} }
func ShiftArithRUnderflowS(b Bits) Op   { return Op{Kind: kShiftArithRUnderflowS, Bits: b} }
func ShiftLogicalR(b Bits) Op           { return Op{Kind: kShiftLogicalR, Bits: b} }
func ShiftLogicalRUnderflowU(b Bits) Op { return Op{Kind: kShiftLogicalRUnderflowU, Bits: b} }

func Move(b Bits) Op { return Op{Kind: kMove, Bits: b} }

// Load reads out bits through a mem-bit address. Input is the address.
func Load(out, mem Bits) Op { return Op{Kind: kLoad, Bits: out, Mem: mem} }

// Store writes in bits through a mem-bit address. Inputs are the value
// and the address. Its output is a dummy and must not be used.
func Store(in, mem Bits) Op { return Op{Kind: kStore, Bits: in, Mem: mem} }

// Flag checks inspect a result of the given width. The width matters:
// the zero bit of a 64-bit result is not the zero bit of its low 32
// bits, and a form for one must not answer a query for the other.
func IsZero(b Bits) Op    { return Op{Kind: kIsZero, Bits: b} }
func IsNonZero(b Bits) Op { return Op{Kind: kIsNonZero, Bits: b} }
func LtZero(b Bits) Op    { return Op{Kind: kLtZero, Bits: b} }

// Clear and Undef only appear in machine templates, as clobber
// markers. A front end never emits them.
func Clear() Op { return Op{Kind: kClear} }

func Undef(b Bits) Op { return Op{Kind: kUndef, Bits: b} }

func AddFp(b Bits) Op  { return Op{Kind: kAddFp, Bits: b} }
func SubFp(b Bits) Op  { return Op{Kind: kSubFp, Bits: b} }
func MulFp(b Bits) Op  { return Op{Kind: kMulFp, Bits: b} }
func DivFp(b Bits) Op  { return Op{Kind: kDivFp, Bits: b} }
func MinFp(b Bits) Op  { return Op{Kind: kMinFp, Bits: b} }
func MaxFp(b Bits) Op  { return Op{Kind: kMaxFp, Bits: b} }
func SqrtFp(b Bits) Op { return Op{Kind: kSqrtFp, Bits: b} }

func PackedAnd(b Bits) Op { return Op{Kind: kPackedAnd, Bits: b} }
func PackedOr(b Bits) Op  { return Op{Kind: kPackedOr, Bits: b} }
func PackedXor(b Bits) Op { return Op{Kind: kPackedXor, Bits: b} }

var kindNames = map[kind]string{
	kNop:                     "nop",
	kAdd:                     "add",
	kAddCarry:                "adc",
	kAddOverflowS:            "add_overflow_s",
	kAddOverflowU:            "add_overflow_u",
	kAddCarryOverflowS:       "adc_overflow_s",
	kAddCarryOverflowU:       "adc_overflow_u",
	kSub:                     "sub",
	kSubCarry:                "sbb",
	kSubOverflowS:            "sub_overflow_s",
	kSubOverflowU:            "sub_overflow_u",
	kSubCarryOverflowS:       "sbb_overflow_s",
	kSubCarryOverflowU:       "sbb_overflow_u",
	kSMul:                    "smul",
	kUMul:                    "umul",
	kMulTrunc:                "mul_trunc",
	kAnd:                     "and",
	kOr:                      "or",
	kXor:                     "xor",
	kShiftL:                  "shl",
	kShiftLOverflow:          "shl_overflow",
	kShiftArithR:             "sar",
	kShiftArithRUnderflowS:   "sar_underflow_s",
	kShiftLogicalR:           "shr",
	kShiftLogicalRUnderflowU: "shr_underflow_u",
	kMove:                    "move",
	kLoad:                    "load",
	kStore:                   "store",
	kIsZero:                  "is_zero",
	kIsNonZero:               "is_nonzero",
	kLtZero:                  "lt_zero",
	kClear:                   "clear",
	kUndef:                   "undef",
	kAddFp:                   "add_fp",
	kSubFp:                   "sub_fp",
	kMulFp:                   "mul_fp",
	kDivFp:                   "div_fp",
	kMinFp:                   "min_fp",
	kMaxFp:                   "max_fp",
	kSqrtFp:                  "sqrt_fp",
	kPackedAnd:               "packed_and",
	kPackedOr:                "packed_or",
	kPackedXor:               "packed_xor",
}

func (o Op) String() string {
	name := kindNames[o.Kind]

	if o.Bits == 0 {
		return name
	}

	name += strconv.Itoa(int(o.Bits))

	if o.Mem != 0 && o.Mem != o.Bits {
		name += "_m" + strconv.Itoa(int(o.Mem))
	}

	return name
}

// LastUse returns, per Var, the index of the last instruction in the
// block reading it. Vars never read map to -1 implicitly (absent).
func LastUse(code Block) map[Var]int {
	last := make(map[Var]int, len(code))

	for i, x := range code {
		for _, v := range x.In {
			last[v] = i
		}
	}

	return last
}
