package pmat

// fixup runs the cross-object repairs of §4.3, once, after every record has
// been loaded. It is idempotent (§3.4, §8): running it twice must not
// change any field, which the code below achieves by only ever assigning
// computed values rather than accumulating into them.
func fixup(d *Dump) {
	if d.fixedUp {
		return
	}

	for _, o := range d.Objects() {
		if o.Kind == KindGlob {
			fixupGlob(d, o)
		}
	}
	for _, o := range d.Objects() {
		if o.Kind == KindHash {
			fixupHashBackrefs(d, o)
		}
	}
	for _, o := range d.Objects() {
		if o.Kind == KindCode {
			fixupCode(d, o)
		}
	}

	fixupStringTable(d)

	d.fixedUp = true
}

// fixupGlob propagates the owning glob's address back onto each of its
// present scalar/array/hash/code slots (§3.3, §4.3 GLOB bullet).
func fixupGlob(d *Dump, glob *Object) {
	g := glob.Glob()
	for _, target := range []uint64{g.Scalar, g.Array, g.Hash, g.Code} {
		if tgt, ok := d.Lookup(target); ok {
			tgt.GlobAddr = glob.Address
		}
	}
}

// fixupHashBackrefs marks an ARRAY reached through a HASH's backrefs link
// as IsBackrefs (§3.3, §4.3 HASH bullet). The array's RefCount is left as
// read from the dump; neither this pass nor the reference engine adjusts it.
func fixupHashBackrefs(d *Dump, hash *Object) {
	h := hash.Hash()
	if h.Backrefs == 0 {
		return
	}
	if target, ok := d.Lookup(h.Backrefs); ok && target.Kind == KindArray {
		target.IsBackrefs = true
	}
}

// padlistFormatMinor is the format-minor threshold at or above which a
// producer emits explicit padnames/pad pointers (CODEx tags 7/8) instead of
// relying on padlist element order (§4.3 "Version >= 5.18" bullet). This
// loader keys that branch on format-minor rather than the interpreter
// version triple, since format-minor is what actually governs wire shape
// (§9 Open Questions).
const padlistFormatMinor = 2

// fixupCode reclassifies a CODE's padlist/padnames/pads, resolves
// ithreads-embedded constants and glob-refs, and records owner links
// (§4.3 CODE bullet).
func fixupCode(d *Dump, code *Object) {
	c := code.Code()
	padlistObj, ok := d.Lookup(c.Padlist)
	if !ok {
		return
	}
	padlistObj.Kind = KindPadlist
	padlist := padlistObj.Array()
	padlist.OwnerCode = code.Address

	var padnamesObj *Object
	var pads []*Object

	if d.Header.FormatMinor >= padlistFormatMinor && c.PadnamesAddr != 0 {
		padnamesObj, ok = d.Lookup(c.PadnamesAddr)
		if ok {
			padnamesObj.Kind = KindPadnames
		}
		for _, addr := range padlist.Elements {
			if pad, ok := d.Lookup(addr); ok {
				pad.Kind = KindPad
				pads = append(pads, pad)
			}
		}
	} else {
		if len(padlist.Elements) > 0 {
			if obj, ok := d.Lookup(padlist.Elements[0]); ok {
				padnamesObj = obj
				padnamesObj.Kind = KindPadnames
				c.PadnamesAddr = obj.Address
			}
		}
		for _, addr := range padlist.Elements[minInt(1, len(padlist.Elements)):] {
			if pad, ok := d.Lookup(addr); ok {
				pad.Kind = KindPad
				pads = append(pads, pad)
			}
		}
	}

	if padnamesObj != nil {
		padnamesObj.Array().OwnerCode = code.Address
	}
	for _, pad := range pads {
		pad.Array().OwnerCode = code.Address
	}

	if d.Header.Ithreads {
		resolveIthreadsSlots(d, c, pads)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// resolveIthreadsSlots resolves CODEx tag-2/4 padlist indices against pad 0
// (the argument pad, conventionally reused as the constant pool under
// ithreads) and blanks the originating slots in padnames/every pad so
// reachability cannot double-count them as user data (§4.3 ithreads
// bullet, §9 "Compile-time-embedded constants").
func resolveIthreadsSlots(d *Dump, c *Code, pads []*Object) {
	if len(pads) == 0 {
		return
	}
	pad0 := pads[0].Array()
	var padnames *Array
	if pn, ok := d.Lookup(c.PadnamesAddr); ok && pn.Kind == KindPadnames {
		padnames = pn.Array()
	}

	resolve := func(slots []uint64) []uint64 {
		out := make([]uint64, len(slots))
		for i, slot := range slots {
			if slot&padIndexTag == 0 {
				out[i] = slot
				continue
			}
			idx := slot &^ padIndexTag
			if int(idx) < len(pad0.Elements) {
				out[i] = pad0.Elements[idx]
				pad0.Elements[idx] = 0
				if padnames != nil && int(idx) < len(padnames.Elements) {
					padnames.Elements[idx] = 0
				}
				for _, pad := range pads {
					pa := pad.Array()
					if int(idx) < len(pa.Elements) {
						pa.Elements[idx] = 0
					}
				}
			} else {
				out[i] = 0
			}
		}
		return out
	}

	c.Constants = resolve(c.Constants)
	c.GlobRefs = resolve(c.GlobRefs)
}

// fixupStringTable locates the shared-string table — the distinguished
// HASH named by the "strtab" root, if the producer emits one — and marks
// it so the reference engine exposes its values as absent (§3.3, §9).
func fixupStringTable(d *Dump) {
	addr, ok := d.Roots["strtab"]
	if !ok {
		return
	}
	if obj, ok := d.Lookup(addr); ok && obj.Kind == KindHash {
		obj.IsStringTable = true
	}
}
