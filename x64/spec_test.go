package x64

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vurich/asmquery/alloc"
	"github.com/Vurich/asmquery/lir"
	"github.com/Vurich/asmquery/machine"
)

func spec(t *testing.T) *machine.Spec {
	s, err := Spec()
	require.NoError(t, err)

	return s
}

func regByName(t *testing.T, s *machine.Spec, name string) machine.Reg {
	for r := machine.Reg(0); r < 64; r++ {
		if s.RegName(r) == name {
			return r
		}
	}

	t.Fatalf("no register %v", name)

	return machine.NoReg
}

func sel(t *testing.T, s *machine.Spec) (*machine.Selector, *alloc.Linear) {
	la := alloc.New(s)

	x := machine.NewSelector(s, la, nil)
	x.OnMatch = func(m *machine.Match, last map[lir.Var]int) error {
		la.Apply(m, last)
		return nil
	}

	return x, la
}

func run(t *testing.T, s *machine.Spec, text string) ([]*machine.Match, *alloc.Linear, error) {
	code, consts, err := lir.Parse([]byte(text))
	require.NoError(t, err)

	x, la := sel(t, s)

	for v, val := range consts {
		la.SetConst(v, val)
	}

	ms, err := x.SelectBlock(context.Background(), code)

	return ms, la, err
}

func TestSpecBuilds(t *testing.T) {
	s := spec(t)

	require.NotNil(t, s.Def("add r64, r64"))
	require.NotNil(t, s.Def("mov r64, m64"))
	require.NotNil(t, s.Def("jmp rel32"))

	// every memory operand flattens into its five addressing shapes
	assert.Equal(t, 5, s.Def("add r64, m64").Variants())
	assert.Equal(t, 5, s.Def("mov m32, r32").Variants())
	assert.Equal(t, 1, s.Def("add r64, r64").Variants())

	// the read-modify-write and memory-operand shapes of every family
	for _, name := range []string{
		"add m64, i32", "adc m64, r64", "adc m64, i32",
		"sbb m32, r32", "sbb m64, i32",
		"and m64, i32", "or m32, i32", "xor m64, i32",
		"shl m64, cl", "sar m64, i8",
		"imul r64, m64, i32", "mul m64",
		"cmp m64, r64",
		"movq f64, m64", "movd m32, f32",
		"movaps r128, m128", "movaps m128, r128",
	} {
		require.NotNil(t, s.Def(name), name)
		assert.Equal(t, 5, s.Def(name).Variants(), name)
	}

	assert.Greater(t, s.Candidates(), 300)
}

func TestSelectAdd(t *testing.T) {
	s := spec(t)

	ms, la, err := run(t, s, `
const %0 = 5
%1 = move64 %0
const %2 = 3
%3 = move64 %2
%4 = add64 %1, %3
`)
	require.NoError(t, err)
	require.Len(t, ms, 3)

	assert.Equal(t, "mov r64, i32", ms[0].Def.Name)
	assert.Equal(t, "add r64, r64", ms[2].Def.Name)

	// destination is the left operand's register
	l, ok := la.Loc(4)
	require.True(t, ok)
	assert.Equal(t, ms[2].Args[0], l)
}

func TestSelectImmediateAdd(t *testing.T) {
	s := spec(t)

	ms, _, err := run(t, s, `
const %0 = 5
%1 = move64 %0
const %2 = 3
%4 = add64 %1, %2
`)
	require.NoError(t, err)
	require.Len(t, ms, 2)

	assert.Equal(t, "add r64, i32", ms[1].Def.Name)
	assert.Equal(t, machine.ImmLoc(3), ms[1].Args[1])
}

func TestFuseFlags(t *testing.T) {
	s := spec(t)

	ms, la, err := run(t, s, `
const %0 = 5
%1 = move64 %0
const %2 = 3
%3 = move64 %2
%4 = add64 %1, %3
%5 = is_zero64 %4
`)
	require.NoError(t, err)
	require.Len(t, ms, 3)

	m := ms[2]
	assert.Equal(t, "add r64, r64", m.Def.Name)
	assert.Equal(t, 2, m.Len)

	zf := regByName(t, s, "ZF")

	l, ok := la.Loc(5)
	require.True(t, ok)
	assert.Equal(t, machine.RegLoc(zf), l)

	// CF, OF and SF were written but matched nothing
	assert.Contains(t, m.Clobbers, regByName(t, s, "CF"))
	assert.NotContains(t, m.Clobbers, zf)
}

func TestFuseFlagsWithLiveResult(t *testing.T) {
	s := spec(t)

	// the sum is stored after the flag check: its output is a located
	// register, so the fuse must survive the later use
	ms, la, err := run(t, s, `
const %0 = 5
%1 = move64 %0
const %2 = 3
%3 = move64 %2
%4 = add64 %1, %3
%5 = is_zero64 %4
%6 = store64 %4, %3
`)
	require.NoError(t, err)
	require.Len(t, ms, 4)

	m := ms[2]
	assert.Equal(t, "add r64, r64", m.Def.Name)
	assert.Equal(t, 2, m.Len)

	l, ok := la.Loc(5)
	require.True(t, ok)
	assert.Equal(t, machine.RegLoc(regByName(t, s, "ZF")), l)

	// the store reads the sum from the register the add produced it in
	require.Len(t, m.Outs, 1)
	assert.Equal(t, "mov m64, r64", ms[3].Def.Name)
	assert.Equal(t, m.Outs[0].Loc, ms[3].Args[0])
}

func TestRmwFold(t *testing.T) {
	s := spec(t)

	// load, mask and store through one address collapse into a single
	// read-modify-write instruction
	ms, _, err := run(t, s, `
const %0 = 1024
%1 = move64 %0
const %2 = 240
%3 = load64 %1
%4 = and64 %3, %2
%5 = store64 %4, %1
`)
	require.NoError(t, err)
	require.Len(t, ms, 2)

	m := ms[1]
	assert.Equal(t, "and m64, i32", m.Def.Name)
	assert.Equal(t, 3, m.Len)
	assert.Equal(t, []int{0}, m.Alts)
	assert.Equal(t, machine.ImmLoc(240), m.Args[1])
	assert.Empty(t, m.Outs)
}

func TestStandaloneIsZero(t *testing.T) {
	s := spec(t)

	// the flag check far from its producer still has a form of its own
	ms, la, err := run(t, s, `
const %0 = 5
%1 = move64 %0
const %2 = 3
%3 = move64 %2
%4 = add64 %1, %3
%6 = move64 %3
%5 = is_zero64 %4
`)
	require.NoError(t, err)
	require.Len(t, ms, 5)

	assert.Equal(t, "test r64, r64", ms[4].Def.Name)

	l, ok := la.Loc(5)
	require.True(t, ok)
	assert.Equal(t, machine.RegLoc(regByName(t, s, "ZF")), l)
}

func TestAddressingFold(t *testing.T) {
	s := spec(t)

	ms, _, err := run(t, s, `
const %0 = 5
%1 = move64 %0
const %2 = 3
%3 = move64 %2
%4 = add64 %1, %3
%5 = load64 %4
`)
	require.NoError(t, err)
	require.Len(t, ms, 3)

	m := ms[2]
	assert.Equal(t, "mov r64, m64", m.Def.Name)
	assert.Equal(t, 2, m.Len)
	assert.Equal(t, []int{1}, m.Alts)
}

func TestAddressingFoldDisp(t *testing.T) {
	s := spec(t)

	ms, _, err := run(t, s, `
const %0 = 5
%1 = move64 %0
const %2 = 24
%4 = add64 %1, %2
%5 = load64 %4
`)
	require.NoError(t, err)
	require.Len(t, ms, 2)

	m := ms[1]
	assert.Equal(t, "mov r64, m64", m.Def.Name)
	assert.Equal(t, []int{2}, m.Alts)
	assert.Equal(t, machine.ImmLoc(24), m.Args[1])
}

func TestFoldRejectedOnReuse(t *testing.T) {
	s := spec(t)

	ms, _, err := run(t, s, `
const %0 = 5
%1 = move64 %0
const %2 = 3
%3 = move64 %2
%4 = add64 %1, %3
%5 = load64 %4
%6 = add64 %4, %3
`)
	require.NoError(t, err)
	require.Len(t, ms, 5)

	// the address is live past the load, so no fold
	assert.Equal(t, "add r64, r64", ms[2].Def.Name)
	assert.Equal(t, 1, ms[2].Len)
	assert.Equal(t, "mov r64, m64", ms[3].Def.Name)
	assert.Equal(t, []int{0}, ms[3].Alts)
}

func TestCarryChain(t *testing.T) {
	s := spec(t)

	ms, _, err := run(t, s, `
const %0 = 5
%1 = move64 %0
const %2 = 3
%3 = move64 %2
%7 = move64 %2
%9 = move64 %0
%4 = add64 %1, %3
%5 = add_overflow_u64 %4
%6 = adc64 %7, %9, %5
`)
	require.NoError(t, err)
	require.Len(t, ms, 6)

	assert.Equal(t, "add r64, r64", ms[4].Def.Name)
	assert.Equal(t, 2, ms[4].Len)

	last := ms[5]
	assert.Equal(t, "adc r64, r64", last.Def.Name)
	assert.Equal(t, machine.RegLoc(regByName(t, s, "CF")), last.Args[2])
}

func TestLiveFlagBlocksClobber(t *testing.T) {
	s := spec(t)

	// the carry is produced but never consumed, so it stays live in
	// CF and no flag-writing form may run
	_, _, err := run(t, s, `
const %0 = 5
%1 = move64 %0
const %2 = 3
%3 = move64 %2
%7 = move64 %2
%4 = add64 %1, %3
%5 = add_overflow_u64 %4
%6 = and64 %7, %4
%8 = adc64 %6, %4, %5
`)
	require.ErrorIs(t, err, machine.ErrUnrealizable)
}

func TestUnrealizableOp(t *testing.T) {
	s := spec(t)

	_, _, err := run(t, s, `
const %0 = 5
%1 = move64 %0
%2 = is_nonzero64 %1
`)
	require.ErrorIs(t, err, machine.ErrUnrealizable)
}

func TestWideningMul(t *testing.T) {
	s := spec(t)

	code := lir.Block{
		{Out: 3, Op: lir.UMul(64), In: []lir.Var{1, 2}},
	}

	x, la := sel(t, s)

	la.Bind(1, machine.RegLoc(regByName(t, s, "RBX")))
	la.Bind(2, machine.RegLoc(regByName(t, s, "RCX")))

	ms, err := x.SelectBlock(context.Background(), code)
	require.NoError(t, err)
	require.Len(t, ms, 1)

	m := ms[0]
	assert.Equal(t, "mul r64", m.Def.Name)

	require.Len(t, m.Outs, 1)
	assert.Equal(t, machine.RegLoc(regByName(t, s, "RAX")), m.Outs[0].Loc)

	assert.Contains(t, m.Clobbers, regByName(t, s, "RDX"))
	assert.Contains(t, m.Clobbers, regByName(t, s, "CF"))
}

func TestDeterministic(t *testing.T) {
	s := spec(t)

	text := `
const %0 = 5
%1 = move64 %0
const %2 = 3
%3 = move64 %2
%4 = add64 %1, %3
%5 = is_zero64 %4
%6 = load64 %4
`

	a, _, err := run(t, s, text)
	require.NoError(t, err)

	b, _, err := run(t, s, text)
	require.NoError(t, err)

	require.Len(t, b, len(a))

	for i := range a {
		assert.Equal(t, a[i].Def.Name, b[i].Def.Name)
		assert.Equal(t, a[i].Alts, b[i].Alts)
		assert.Equal(t, a[i].Args, b[i].Args)
		assert.Equal(t, a[i].Outs, b[i].Outs)
	}
}

func TestJmpRelocation(t *testing.T) {
	s := spec(t)

	jmp := s.Def("jmp rel32")
	require.Equal(t, 5, jmp.Size)

	e := machine.NewEmitter()
	l := e.NewLabel()

	off, err := e.EmitForm(jmp, []machine.Loc{machine.LabelLoc(l)})
	require.NoError(t, err)
	require.Equal(t, 0, off)
	require.Equal(t, 1, e.Pending())

	err = e.Resolve(l, 0x11223344)
	require.NoError(t, err)
	require.Equal(t, 0, e.Pending())

	assert.Equal(t, []byte{0xe9, 0x44, 0x33, 0x22, 0x11}, e.Bytes())

	direct := jmp.Encode([]machine.Loc{machine.ImmLoc(0x11223344)})
	assert.Equal(t, direct, e.Bytes())
}
