// Command pmat-identify-sv resolves an address or symbol within a dump
// and prints its reverse-reference tree.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gitpan/Devel-MAT/internal/diag"
	"github.com/gitpan/Devel-MAT/internal/pmat"
)

func main() {
	fs := flag.NewFlagSet("pmat-identify-sv", flag.ExitOnError)
	depth := fs.Int("depth", 0, "maximum reverse-trace depth (0 = unlimited)")
	weak := fs.Bool("weak", false, "include weak inrefs")
	all := fs.Bool("all", false, "disable the default strong/direct filter")
	dot := fs.Bool("dot", false, "emit Graphviz DOT instead of a text tree")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: pmat-identify-sv [--depth N] [--weak] [--all] [--dot] <dump-file> <address-or-symbol>")
		os.Exit(2)
	}
	if err := run(fs.Arg(0), fs.Arg(1), *depth, *weak, *all, *dot); err != nil {
		fmt.Fprintf(os.Stderr, "pmat-identify-sv: %v\n", err)
		os.Exit(1)
	}
}

func run(path, target string, depth int, weak, all, dot bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	d, err := pmat.Load(data, diag.Options{Mode: diag.ModeBestEffort})
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	for _, diagEntry := range d.Diags.Items() {
		fmt.Fprintf(os.Stderr, "pmat-identify-sv: %s\n", diagEntry)
	}

	obj, err := resolve(d, target)
	if err != nil {
		return err
	}

	opts := pmat.TraceOptions{MaxDepth: depth}
	if !all {
		if weak {
			opts.Strengths = []pmat.Strength{pmat.Strong, pmat.Weak}
		} else {
			opts.Strengths = []pmat.Strength{pmat.Strong}
		}
	}

	trace := pmat.ReverseTrace(d, obj, opts)
	if dot {
		fmt.Print(trace.RenderDOT())
		return nil
	}
	printTree(trace)
	return nil
}

func resolve(d *pmat.Dump, target string) (*pmat.Object, error) {
	if strings.HasPrefix(target, "0x") || strings.HasPrefix(target, "0X") {
		addr, err := strconv.ParseUint(target[2:], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad address %q: %w", target, err)
		}
		return d.MustLookup(addr)
	}
	if len(target) > 0 {
		switch target[0] {
		case '$', '@', '%', '&':
			return pmat.ResolveSymbol(d, target)
		}
	}
	addr, err := strconv.ParseUint(target, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("bad address or symbol %q: %w", target, err)
	}
	return d.MustLookup(addr)
}

func printTree(t *pmat.Trace) {
	fmt.Printf("0x%x\n", t.Root)
	for _, e := range t.Edges {
		fmt.Printf("  0x%x --[%s %s]--> 0x%x\n", e.From, e.Strength, e.Role, e.To)
	}
	for _, re := range t.RootEdges {
		name := t.Roots[re.RootIndex].Name
		fmt.Printf("  %s --[%s %s]--> 0x%x\n", name, re.Strength, re.Role, re.To)
	}
	for _, r := range t.Roots {
		fmt.Printf("root: %s\n", r.Name)
	}
}
