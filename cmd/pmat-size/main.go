// Command pmat-size prints a kind/count/bytes table for a dump's heap.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/gitpan/Devel-MAT/internal/diag"
	"github.com/gitpan/Devel-MAT/internal/pmat"
)

type sizeRow struct {
	kind  pmat.Kind
	count int
	bytes uint64
}

func main() {
	fs := flag.NewFlagSet("pmat-size", flag.ExitOnError)
	sizeMode := fs.String("size", "structure", "size mode: structure or owned")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: pmat-size [--size=structure|owned] <dump-file>")
		os.Exit(2)
	}
	if err := run(fs.Arg(0), *sizeMode); err != nil {
		fmt.Fprintf(os.Stderr, "pmat-size: %v\n", err)
		os.Exit(1)
	}
}

func run(path, sizeMode string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	d, err := pmat.Load(data, diag.Options{Mode: diag.ModeBestEffort})
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	for _, diagEntry := range d.Diags.Items() {
		fmt.Fprintf(os.Stderr, "pmat-size: %s\n", diagEntry)
	}

	rows := make(map[pmat.Kind]*sizeRow)
	for _, o := range d.Objects() {
		r, ok := rows[o.Kind]
		if !ok {
			r = &sizeRow{kind: o.Kind}
			rows[o.Kind] = r
		}
		r.count++
		switch sizeMode {
		case "owned":
			r.bytes += retainedSize(d, o)
		default:
			r.bytes += o.OwnedSize
		}
	}

	out := make([]*sizeRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].bytes > out[j].bytes })

	fmt.Printf("%-10s %10s %14s\n", "KIND", "COUNT", "BYTES")
	for _, r := range out {
		fmt.Printf("%-10s %10d %14d\n", r.kind.String(), r.count, r.bytes)
	}
	return nil
}

// retainedSize approximates a retained-size figure by summing the owned
// size reachable through strong outrefs only, bounded to each object's own
// subtree (no cross-object memoization, so shared substructure is counted
// once for every object whose subtree reaches it — an approximation, not
// exact retained size).
func retainedSize(d *pmat.Dump, root *pmat.Object) uint64 {
	seen := map[uint64]bool{root.Address: true}
	total := root.OwnedSize
	stack := []uint64{root.Address}
	for len(stack) > 0 {
		addr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		o, ok := d.Lookup(addr)
		if !ok {
			continue
		}
		for _, ref := range pmat.Outrefs(d, o) {
			if ref.Strength != pmat.Strong || seen[ref.Target] {
				continue
			}
			seen[ref.Target] = true
			if tgt, ok := d.Lookup(ref.Target); ok {
				total += tgt.OwnedSize
				stack = append(stack, ref.Target)
			}
		}
	}
	return total
}
