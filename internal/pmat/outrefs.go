package pmat

import "fmt"

// Outrefs returns every outgoing reference from o (§4.4), in a fixed,
// deterministic order matching the per-kind listing below.
func Outrefs(d *Dump, o *Object) []Edge {
	var out []Edge
	add := func(role string, strength Strength, target uint64) {
		if target == 0 {
			return
		}
		out = append(out, Edge{Role: role, Strength: strength, Target: target})
	}
	addRV := func(role string, strength Strength, target uint64) {
		add(role, strength, target)
		if tgt, ok := d.Lookup(target); ok && tgt.Kind == KindRef && len(tgt.Magic) == 0 {
			add(role+" via RV", Indirect, tgt.Ref().Target)
		}
	}

	switch o.Kind {
	case KindGlob:
		g := o.Glob()
		add("the scalar", Strong, g.Scalar)
		add("the array", Strong, g.Array)
		add("the hash", Strong, g.Hash)
		add("the code", Strong, g.Code)
		add("the io", Strong, g.IOAddr)
		add("the form", Strong, g.FormAddr)
		if g.EGV == o.Address {
			add("the egv", Weak, g.EGV)
		} else {
			add("the egv", Strong, g.EGV)
		}

	case KindScalar:
		sc := o.Scalar()
		add("the our stash", Strong, sc.OurStash)

	case KindRef:
		r := o.Ref()
		if r.IsWeak {
			addRV("the referrant", Weak, r.Target)
		} else {
			addRV("the referrant", Strong, r.Target)
		}
		add("the our stash", Strong, r.OurStash)

	case KindArray, KindPadlist, KindPadnames, KindPad:
		arrayOutrefs(d, o, add, addRV)

	case KindHash, KindStash:
		hashOutrefs(d, o, add, addRV)
		if o.Kind == KindStash {
			s := o.Stash()
			add("the mro linear all HV", Strong, s.MROLinearAll)
			add("the mro linear current", Strong, s.MROLinearCurrent)
			add("the mro next::method", Strong, s.MRONextMethod)
			add("the mro ISA cache", Strong, s.MROISACache)
		}

	case KindCode:
		codeOutrefs(d, o, add)

	case KindIO:
		io := o.IO()
		add("the top GV", Strong, io.TopGV)
		add("the format GV", Strong, io.FormatGV)
		add("the bottom GV", Strong, io.BottomGV)

	case KindLvalue:
		lv := o.Lvalue()
		add("the target", Strong, lv.Target)
	}

	for _, m := range o.Magic {
		add(fmt.Sprintf("%q magic object", rune(m.Type)), Strong, m.ObjAddr)
		if m.Refcounted {
			add(fmt.Sprintf("%q magic pointer", rune(m.Type)), Strong, m.PtrAddr)
		} else {
			add(fmt.Sprintf("%q magic pointer", rune(m.Type)), Weak, m.PtrAddr)
		}
	}

	if o.Blessed != 0 {
		add("the bless package", Weak, o.Blessed)
	}

	return out
}

func arrayOutrefs(d *Dump, o *Object, add func(string, Strength, uint64), addRV func(string, Strength, uint64)) {
	a := o.Array()

	switch o.Kind {
	case KindArray:
		for i, elem := range a.Elements {
			role := fmt.Sprintf("element [%d]", i)
			if a.IsReal {
				addRV(role, Strong, elem)
			} else {
				addRV(role, Weak, elem)
			}
		}

	case KindPadlist:
		if len(a.Elements) > 0 {
			add("the padnames", Strong, a.Elements[0])
		}
		for depth, elem := range a.Elements[minInt(1, len(a.Elements)):] {
			add(fmt.Sprintf("pad at depth %d", depth+1), Strong, elem)
		}

	case KindPadnames:
		for i, elem := range a.Elements {
			if i == 0 {
				continue
			}
			addRV(fmt.Sprintf("padname [%d]", i), Strong, elem)
		}

	case KindPad:
		padnames := padnamesFor(d, a.OwnerCode)
		for i, elem := range a.Elements {
			if i == 0 {
				add("the @_ av", Strong, elem)
				continue
			}
			role := padNameRole(d, padnames, i)
			addRV(role, Strong, elem)
		}
	}
}

func padnamesFor(d *Dump, ownerCode uint64) *Array {
	code, ok := d.Lookup(ownerCode)
	if !ok || code.Kind != KindCode {
		return nil
	}
	pn, ok := d.Lookup(code.Code().PadnamesAddr)
	if !ok {
		return nil
	}
	return pn.Array()
}

func padNameRole(d *Dump, padnames *Array, i int) string {
	if padnames == nil || i >= len(padnames.Elements) {
		return fmt.Sprintf("elem [%d]", i)
	}
	nameObj, ok := d.Lookup(padnames.Elements[i])
	if !ok || nameObj.Kind != KindScalar {
		return fmt.Sprintf("elem [%d]", i)
	}
	sc := nameObj.Scalar()
	if !sc.HasPV || len(sc.PV) == 0 {
		return fmt.Sprintf("elem [%d]", i)
	}
	return string(sc.PV)
}

func hashOutrefs(d *Dump, o *Object, add func(string, Strength, uint64), addRV func(string, Strength, uint64)) {
	h := o.Hash()
	if h.Backrefs != 0 {
		if target, ok := d.Lookup(h.Backrefs); ok && target.Kind == KindArray {
			add("the backrefs list", Strong, h.Backrefs)
			for _, elem := range target.Array().Elements {
				add("a backref", Indirect, elem)
			}
		} else {
			add("a backref", Weak, h.Backrefs)
		}
	}
	if o.IsStringTable {
		return
	}
	for _, key := range h.Keys {
		addRV(fmt.Sprintf("value {%s}", key), Strong, h.Values[key])
	}
}

func codeOutrefs(d *Dump, o *Object, add func(string, Strength, uint64)) {
	c := o.Code()

	if c.Flags.WeakOutside {
		add("the scope", Weak, c.Outside)
	} else {
		add("the scope", Strong, c.Outside)
	}
	add("the stash", Weak, c.StashAddr)
	if c.Flags.GlobRefcounted {
		add("the glob", Strong, c.GlobAddr)
	} else {
		add("the glob", Weak, c.GlobAddr)
	}
	add("the constant value", Strong, c.ConstValue)

	if proto := protosubFor(d, o, c); proto != 0 {
		add("the protosub", Inferred, proto)
	}

	for _, addr := range c.Constants {
		add("a constant", Strong, addr)
	}
	for _, addr := range c.GlobRefs {
		add("a referenced glob", Strong, addr)
	}

	hasPadlist := c.Padlist != 0
	add("the padlist", Strong, c.Padlist)

	padlistStrength := Indirect
	if !hasPadlist {
		padlistStrength = Strong
	}
	add("the padnames", padlistStrength, c.PadnamesAddr)

	if padlistObj, ok := d.Lookup(c.Padlist); ok && padlistObj.Kind == KindPadlist {
		for depth, elem := range padlistObj.Array().Elements[minInt(1, len(padlistObj.Array().Elements)):] {
			add(fmt.Sprintf("pad at depth %d", depth+1), padlistStrength, elem)
		}
	}
}

// protosubFor implements the §4.4 CODE "protosub" inferred relation: a
// cloned closure's link back to the anonymous-sub template it was cloned
// from. The wire format carries no such pointer, so it is reconstructed by
// matching a cloned CODE (is-cloned) to an unclosed prototype CODE
// (is-clone) declared at the same source location (§4.4 scenario 6).
func protosubFor(d *Dump, self *Object, c *Code) uint64 {
	if !c.Flags.IsCloned {
		return 0
	}
	for _, other := range d.Objects() {
		if other.Address == self.Address || other.Kind != KindCode {
			continue
		}
		oc := other.Code()
		if oc.Flags.IsClone && oc.File == c.File && oc.Line == c.Line {
			return other.Address
		}
	}
	return 0
}
