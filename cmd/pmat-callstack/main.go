// Command pmat-callstack prints a dump's context-stack frames in order.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gitpan/Devel-MAT/internal/diag"
	"github.com/gitpan/Devel-MAT/internal/pmat"
)

func main() {
	fs := flag.NewFlagSet("pmat-callstack", flag.ExitOnError)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: pmat-callstack <dump-file>")
		os.Exit(2)
	}
	if err := run(fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "pmat-callstack: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	d, err := pmat.Load(data, diag.Options{Mode: diag.ModeBestEffort})
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	for _, diagEntry := range d.Diags.Items() {
		fmt.Fprintf(os.Stderr, "pmat-callstack: %s\n", diagEntry)
	}

	for i, ctx := range d.Contexts {
		fmt.Printf("#%d %s gimme=%s %s:%d\n", i, contextTypeName(ctx.Type), gimmeName(ctx.Gimme), ctx.File, ctx.Line)
		switch ctx.Type {
		case pmat.ContextSub:
			fmt.Printf("    code=0x%x args=0x%x\n", ctx.CodeAddr, ctx.ArgsAddr)
		case pmat.ContextEval:
			fmt.Printf("    source-text=0x%x\n", ctx.SourceTextAddr)
		}
	}
	return nil
}

func contextTypeName(t pmat.ContextType) string {
	switch t {
	case pmat.ContextSub:
		return "SUB"
	case pmat.ContextTry:
		return "TRY"
	case pmat.ContextEval:
		return "EVAL"
	default:
		return "UNKNOWN"
	}
}

func gimmeName(g pmat.Gimme) string {
	switch g {
	case pmat.GimmeVoid:
		return "void"
	case pmat.GimmeScalar:
		return "scalar"
	case pmat.GimmeArray:
		return "array"
	default:
		return "unknown"
	}
}
