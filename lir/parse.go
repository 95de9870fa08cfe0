package lir

import (
	"strconv"
	"strings"

	"tlog.app/go/errors"
)

// Parse reads a textual Low IR listing, one instruction per line:
//
//	const %0 = 40
//	%2 = add64 %0, %1
//	%3 = is_zero64 %2
//	%4 = load32_m64 %2
//
// const lines do not produce instructions; they seed the returned
// constant table, which a location allocator may consult to satisfy
// immediate constraints. Single assignment and no-forward-reference
// are checked here so the matcher can rely on them.
func Parse(text []byte) (Block, map[Var]int64, error) {
	var code Block

	consts := map[Var]int64{}
	defined := map[Var]struct{}{}

	def := func(v Var) error {
		if _, ok := defined[v]; ok {
			return errors.New("var %%%d redefined", v)
		}

		defined[v] = struct{}{}

		return nil
	}

	for lnum, line := range strings.Split(string(text), "\n") {
		if i := strings.IndexAny(line, "#;"); i >= 0 {
			line = line[:i]
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "const "); ok {
			v, val, err := parseConst(rest)
			if err != nil {
				return nil, nil, errors.Wrap(err, "line %d", lnum+1)
			}

			if err = def(v); err != nil {
				return nil, nil, errors.Wrap(err, "line %d", lnum+1)
			}

			consts[v] = val

			continue
		}

		x, err := parseInstr(line)
		if err != nil {
			return nil, nil, errors.Wrap(err, "line %d", lnum+1)
		}

		for _, in := range x.In {
			if _, ok := defined[in]; !ok {
				return nil, nil, errors.New("line %d: %%%d used before definition", lnum+1, in)
			}
		}

		if err = def(x.Out); err != nil {
			return nil, nil, errors.Wrap(err, "line %d", lnum+1)
		}

		code = append(code, x)
	}

	return code, consts, nil
}

func parseConst(s string) (Var, int64, error) {
	l, r, ok := strings.Cut(s, "=")
	if !ok {
		return 0, 0, errors.New("const: no value")
	}

	v, err := parseVar(strings.TrimSpace(l))
	if err != nil {
		return 0, 0, err
	}

	val, err := strconv.ParseInt(strings.TrimSpace(r), 0, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "const value")
	}

	return v, val, nil
}

func parseInstr(s string) (Instr, error) {
	l, r, ok := strings.Cut(s, "=")
	if !ok {
		return Instr{}, errors.New("no assignment")
	}

	out, err := parseVar(strings.TrimSpace(l))
	if err != nil {
		return Instr{}, err
	}

	fields := strings.Fields(r)
	if len(fields) == 0 {
		return Instr{}, errors.New("no operation")
	}

	op, err := parseOp(fields[0])
	if err != nil {
		return Instr{}, err
	}

	var in []Var

	for _, f := range fields[1:] {
		v, err := parseVar(strings.TrimSuffix(f, ","))
		if err != nil {
			return Instr{}, err
		}

		in = append(in, v)
	}

	return Instr{Out: out, Op: op, In: in}, nil
}

func parseVar(s string) (Var, error) {
	num, ok := strings.CutPrefix(s, "%")
	if !ok {
		return 0, errors.New("bad operand: %q", s)
	}

	v, err := strconv.Atoi(num)
	if err != nil || v < 0 {
		return 0, errors.New("bad var: %q", s)
	}

	return Var(v), nil
}

var parseKinds = func() map[string]kind {
	m := make(map[string]kind, len(kindNames))

	for k, name := range kindNames {
		m[name] = k
	}

	return m
}()

// parseOp splits a mnemonic like "add64" or "load32_m64" into base
// name, width and memory width.
func parseOp(s string) (Op, error) {
	base := s
	var bits, mem Bits

	if i := strings.IndexAny(s, "0123456789"); i >= 0 {
		base = s[:i]

		w := s[i:]
		if b, m, ok := strings.Cut(w, "_m"); ok {
			x, err := strconv.Atoi(m)
			if err != nil {
				return Op{}, errors.New("bad op: %q", s)
			}

			mem = Bits(x)
			w = b
		}

		x, err := strconv.Atoi(w)
		if err != nil {
			return Op{}, errors.New("bad op: %q", s)
		}

		bits = Bits(x)
	}

	k, ok := parseKinds[base]
	if !ok {
		return Op{}, errors.New("unknown op: %q", s)
	}

	o := Op{Kind: k, Bits: bits}

	if k == kLoad || k == kStore {
		if mem == 0 {
			mem = 64
		}

		o.Mem = mem
	}

	return o, nil
}
