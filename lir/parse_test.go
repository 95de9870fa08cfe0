package lir

import "testing"

func TestParse(t *testing.T) {
	code, consts, err := Parse([]byte(`
# sum with a folded address
const %0 = 40
const %1 = 2
%2 = add64 %0, %1   ; comment
%3 = load32_m64 %2
%4 = is_zero32 %3
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(code) != 3 {
		t.Fatalf("instrs: %d", len(code))
	}

	if v, ok := consts[0]; !ok || v != 40 {
		t.Errorf("consts: %v", consts)
	}

	if code[0].Op != Add(64) || code[0].Out != 2 || len(code[0].In) != 2 {
		t.Errorf("instr 0: %+v", code[0])
	}

	if code[1].Op != Load(32, 64) {
		t.Errorf("instr 1 op: %v", code[1].Op)
	}

	if code[2].Op != IsZero(32) || code[2].In[0] != 3 {
		t.Errorf("instr 2: %+v", code[2])
	}
}

func TestParseShortLoad(t *testing.T) {
	code, _, err := Parse([]byte("const %0 = 1\n%1 = load64 %0\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if code[0].Op != Load(64, 64) {
		t.Errorf("default memory width: %v", code[0].Op)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		text string
	}{
		{"redefine", "const %0 = 1\n%0 = add64 %0, %0\n"},
		{"forward", "%1 = add64 %0, %0\n"},
		{"unknown op", "const %0 = 1\n%1 = frobnicate64 %0\n"},
		{"no assignment", "add64 %0, %1\n"},
		{"bad var", "%x = add64 %0, %1\n"},
	} {
		_, _, err := Parse([]byte(tc.text))
		if err == nil {
			t.Errorf("%v: accepted", tc.name)
		}
	}
}

func TestOpString(t *testing.T) {
	for _, tc := range []struct {
		op   Op
		want string
	}{
		{Add(64), "add64"},
		{AddOverflowU(32), "add_overflow_u32"},
		{Load(32, 64), "load32_m64"},
		{Store(64, 64), "store64"},
		{IsZero(64), "is_zero64"},
		{Clear(), "clear"},
	} {
		if got := tc.op.String(); got != tc.want {
			t.Errorf("%v: got %q", tc.want, got)
		}
	}
}

func TestLastUse(t *testing.T) {
	code, _, err := Parse([]byte(`
const %0 = 8
const %1 = 2
%2 = add64 %0, %1
%3 = add64 %2, %1
%4 = is_zero64 %2
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	last := LastUse(code)

	if last[2] != 2 {
		t.Errorf("last use of %%2: %d", last[2])
	}

	if last[1] != 1 {
		t.Errorf("last use of %%1: %d", last[1])
	}

	if _, ok := last[4]; ok {
		t.Errorf("unread var has a last use")
	}
}
