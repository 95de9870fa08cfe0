package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/Vurich/asmquery/alloc"
	"github.com/Vurich/asmquery/lir"
	"github.com/Vurich/asmquery/machine"
	"github.com/Vurich/asmquery/x64"
)

func main() {
	specCmd := &cli.Command{
		Name:   "spec",
		Action: specAct,
		Args:   cli.Args{},
	}

	matchCmd := &cli.Command{
		Name:   "match",
		Action: matchAct,
		Args:   cli.Args{},
	}

	app := &cli.Command{
		Name:        "asmquery",
		Description: "asmquery matches generic operation streams against a machine instruction table",
		Commands: []*cli.Command{
			specCmd,
			matchCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func specAct(c *cli.Command) (err error) {
	s, err := x64.Spec()
	if err != nil {
		return errors.Wrap(err, "build spec")
	}

	fmt.Printf("%v", s)

	return nil
}

func matchAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	s, err := x64.Spec()
	if err != nil {
		return errors.Wrap(err, "build spec")
	}

	for _, a := range c.Args {
		err = matchFile(ctx, s, a)
		if err != nil {
			return errors.Wrap(err, "match %v", a)
		}
	}

	return nil
}

func matchFile(ctx context.Context, s *machine.Spec, name string) (err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return errors.Wrap(err, "read")
	}

	code, consts, err := lir.Parse(text)
	if err != nil {
		return errors.Wrap(err, "parse")
	}

	la := alloc.New(s)

	for v, val := range consts {
		la.SetConst(v, val)
	}

	sel := machine.NewSelector(s, la, nil)
	sel.OnMatch = func(m *machine.Match, last map[lir.Var]int) error {
		la.Apply(m, last)
		return nil
	}

	ms, err := sel.SelectBlock(ctx, code)
	if err != nil {
		return errors.Wrap(err, "select")
	}

	e := machine.NewEmitter()

	for _, m := range ms {
		fmt.Printf("%4d +%d  %v", m.Pos, m.Len, m.Def.Name)

		for i, l := range m.Args {
			if i != 0 {
				fmt.Printf(",")
			}

			fmt.Printf("  %v", l)
		}

		for _, o := range m.Outs {
			fmt.Printf("  %%%d->%v", o.Var, o.Loc)
		}

		for _, r := range m.Clobbers {
			fmt.Printf("  !%v", s.RegName(r))
		}

		fmt.Printf("\n")

		_, err = e.Emit(m)
		if err != nil {
			return errors.Wrap(err, "emit %v", m.Def.Name)
		}
	}

	fmt.Printf("code: % x\n", e.Bytes())

	return nil
}
