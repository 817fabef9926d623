package pmat

// Inrefs returns every reference pointing at o, building the inverse index
// on first call (§4.4). The index is cached on Dump; callers never rebuild
// it themselves.
func Inrefs(d *Dump, o *Object) []Edge {
	buildInrefs(d)
	return d.inrefs[o.Address]
}

// buildInrefs iterates every heap object once, pushing each of its outrefs
// onto the target's inref list, then adds the contributions from named
// roots and the operand stack (§4.4). Immortal singletons are never
// targeted by this walk's root/stack contributions, per §4.4, since callers
// are expected to special-case them before consulting inrefs.
func buildInrefs(d *Dump) {
	if d.inrefsBuilt {
		return
	}
	d.inrefs = make(map[uint64][]Edge)

	for _, o := range d.Objects() {
		for _, ref := range Outrefs(d, o) {
			d.inrefs[ref.Target] = append(d.inrefs[ref.Target], Edge{
				Role:     ref.Role,
				Strength: ref.Strength,
				Target:   ref.Target,
				Owner:    o.Address,
			})
		}
	}

	for _, name := range d.RootNames {
		addr := d.Roots[name]
		if d.IsImmortal(addr) {
			continue
		}
		d.inrefs[addr] = append(d.inrefs[addr], Edge{
			Role:     name,
			Strength: Strong,
			Target:   addr,
			RootName: name,
		})
	}

	for _, addr := range d.Stack {
		if d.IsImmortal(addr) {
			continue
		}
		d.inrefs[addr] = append(d.inrefs[addr], Edge{
			Role:      "a value on the stack",
			Strength:  Strong,
			Target:    addr,
			FromStack: true,
		})
	}

	d.inrefsBuilt = true
}

// FilterStrength returns the subset of edges whose Strength is in want.
func FilterStrength(edges []Edge, want ...Strength) []Edge {
	set := make(map[Strength]bool, len(want))
	for _, s := range want {
		set[s] = true
	}
	var out []Edge
	for _, e := range edges {
		if set[e.Strength] {
			out = append(out, e)
		}
	}
	return out
}

// Direct returns the strong-or-weak subset of edges (§4.4 "direct").
func Direct(edges []Edge) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Strength.direct() {
			out = append(out, e)
		}
	}
	return out
}
