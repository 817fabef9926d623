package pmat

import (
	"fmt"
	"strings"
)

// traceDepthExhausted is the sentinel root name attached when a reverse
// trace's depth bound cuts off a branch before it reaches a real root
// (§4.6).
const traceDepthExhausted = "EDEPTH"

// TraceNode is one object in a reverse-trace graph.
type TraceNode struct {
	Address uint64
	Kind    Kind
}

// TraceRoot is a root (or sentinel) a trace path terminates at.
type TraceRoot struct {
	Name string
	// Immortal is true when this root represents an immortal singleton
	// rather than a named root entry.
	Immortal bool
}

// TraceEdge is one forward edge in the trace graph, owner -> child,
// labeled with the role/strength of the underlying inref.
type TraceEdge struct {
	From     uint64
	To       uint64
	Role     string
	Strength Strength
	// BackEdge marks an edge that closes a cycle rather than descending
	// further (§4.6 "already in the graph... add a back-edge only").
	BackEdge bool
}

// RootEdge connects a root (or sentinel) to the heap object it was
// discovered from, i.e. edges point RootIndex -> To, consistent with
// TraceEdge's owner -> child direction.
type RootEdge struct {
	To        uint64
	RootIndex int
	Role      string
	Strength  Strength
}

// Trace is a reverse-reference graph rooted at a single object, built by
// walking inrefs toward named roots (§4.6).
type Trace struct {
	Root      uint64
	Nodes     map[uint64]TraceNode
	Roots     []TraceRoot
	Edges     []TraceEdge
	RootEdges []RootEdge
}

// TraceOptions bounds a reverse-trace walk (§4.6, §6 "Identify-SV").
type TraceOptions struct {
	MaxDepth int // 0 means unlimited
	// Strengths restricts which inrefs are followed; nil means all.
	Strengths []Strength
}

// ReverseTrace builds the inref-graph for obj (§4.6).
func ReverseTrace(d *Dump, obj *Object, opts TraceOptions) *Trace {
	t := &Trace{
		Root:  obj.Address,
		Nodes: make(map[uint64]TraceNode),
	}
	visiting := make(map[uint64]bool)
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = -1 // unlimited: walkTrace cuts a branch only when depth reaches 0
	}
	walkTrace(d, t, obj.Address, depth, opts.Strengths, visiting)
	return t
}

// walkTrace visits addr, adding either a node (returned isNode=true) or a
// root/sentinel entry (isNode=false, rootIdx names its slot in t.Roots) per
// the §4.6 algorithm, and returns which it was so the caller can wire the
// correct forward edge.
func walkTrace(d *Dump, t *Trace, addr uint64, depth int, strengths []Strength, visiting map[uint64]bool) (isNode bool, rootIdx int) {
	if d.IsImmortal(addr) {
		return false, addRoot(t, TraceRoot{Name: "(immortal)", Immortal: true})
	}
	if names := namedRootsAt(d, addr); len(names) > 0 {
		return false, addRoot(t, TraceRoot{Name: names[0]})
	}

	o, ok := d.Lookup(addr)
	if !ok {
		return false, addRoot(t, TraceRoot{Name: "(unresolved)"})
	}
	if _, already := t.Nodes[addr]; !already {
		t.Nodes[addr] = TraceNode{Address: addr, Kind: o.Kind}
	}
	visiting[addr] = true
	defer delete(visiting, addr)

	edges := Inrefs(d, o)
	if len(strengths) > 0 {
		edges = FilterStrength(edges, strengths...)
	}

	if depth == 0 {
		if len(edges) > 0 {
			addRoot(t, TraceRoot{Name: traceDepthExhausted})
		}
		return true, -1
	}

	for _, e := range edges {
		if e.RootName != "" {
			idx := addRoot(t, TraceRoot{Name: e.RootName})
			t.RootEdges = append(t.RootEdges, RootEdge{To: addr, RootIndex: idx, Role: e.Role, Strength: e.Strength})
			continue
		}
		if e.FromStack {
			idx := addRoot(t, TraceRoot{Name: "the stack"})
			t.RootEdges = append(t.RootEdges, RootEdge{To: addr, RootIndex: idx, Role: e.Role, Strength: e.Strength})
			continue
		}
		if e.Owner == 0 {
			continue
		}
		if visiting[e.Owner] {
			t.Edges = append(t.Edges, TraceEdge{From: e.Owner, To: addr, Role: e.Role, Strength: e.Strength, BackEdge: true})
			continue
		}
		if _, already := t.Nodes[e.Owner]; already {
			t.Edges = append(t.Edges, TraceEdge{From: e.Owner, To: addr, Role: e.Role, Strength: e.Strength, BackEdge: true})
			continue
		}
		nextDepth := depth
		if nextDepth > 0 {
			nextDepth--
		}
		childIsNode, childRootIdx := walkTrace(d, t, e.Owner, nextDepth, strengths, visiting)
		if childIsNode {
			t.Edges = append(t.Edges, TraceEdge{From: e.Owner, To: addr, Role: e.Role, Strength: e.Strength})
		} else {
			t.RootEdges = append(t.RootEdges, RootEdge{To: addr, RootIndex: childRootIdx, Role: e.Role, Strength: e.Strength})
		}
	}

	return true, -1
}

func addRoot(t *Trace, r TraceRoot) int {
	t.Roots = append(t.Roots, r)
	return len(t.Roots) - 1
}

func namedRootsAt(d *Dump, addr uint64) []string {
	var names []string
	for _, name := range d.RootNames {
		if d.Roots[name] == addr {
			names = append(names, name)
		}
	}
	return names
}

// dotEscape escapes a string for use in a DOT label.
func dotEscape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return s
}

// dotID creates a safe DOT node identifier from a heap address.
func dotID(addr uint64) string {
	return fmt.Sprintf("n_%x", addr)
}

// traceTheme holds the edge colors RenderDOT uses per strength.
type traceTheme struct {
	Strong   string
	Weak     string
	Indirect string
	Inferred string
	RootFill string
	NodeFill string
}

var defaultTraceTheme = traceTheme{
	Strong:   "black",
	Weak:     "gray60",
	Indirect: "steelblue",
	Inferred: "darkorange",
	RootFill: "lightyellow",
	NodeFill: "white",
}

func (th traceTheme) edgeColor(s Strength) string {
	switch s {
	case Weak:
		return th.Weak
	case Indirect:
		return th.Indirect
	case Inferred:
		return th.Inferred
	default:
		return th.Strong
	}
}

// RenderDOT renders a Trace as Graphviz DOT source (§4.6, §6 "--dot").
func (t *Trace) RenderDOT() string {
	th := defaultTraceTheme
	var b strings.Builder
	b.WriteString("digraph trace {\n")
	b.WriteString("  rankdir=LR;\n")

	for addr, node := range t.Nodes {
		label := fmt.Sprintf("%s\\n0x%x", node.Kind.String(), addr)
		fmt.Fprintf(&b, "  %s [label=\"%s\", shape=box, style=filled, fillcolor=%q];\n",
			dotID(addr), dotEscape(label), th.NodeFill)
	}

	for i, r := range t.Roots {
		id := fmt.Sprintf("root_%d", i)
		fmt.Fprintf(&b, "  %s [label=\"%s\", shape=hexagon, style=filled, fillcolor=%q];\n",
			id, dotEscape(r.Name), th.RootFill)
	}

	for _, e := range t.Edges {
		style := ""
		if e.BackEdge {
			style = ", style=dashed"
		}
		fmt.Fprintf(&b, "  %s -> %s [label=\"%s\", color=%q%s];\n",
			dotID(e.From), dotID(e.To), dotEscape(e.Role), th.edgeColor(e.Strength), style)
	}

	for _, re := range t.RootEdges {
		fmt.Fprintf(&b, "  root_%d -> %s [label=\"%s\", color=%q];\n",
			re.RootIndex, dotID(re.To), dotEscape(re.Role), th.edgeColor(re.Strength))
	}

	b.WriteString("}\n")
	return b.String()
}
