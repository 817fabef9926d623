package pmat

// walkQueue is a FIFO of pending object addresses for the user-data and
// internal walks (§4.5).
type walkQueue struct {
	items []uint64
}

func (q *walkQueue) push(addr uint64) {
	if addr != 0 {
		q.items = append(q.items, addr)
	}
}

func (q *walkQueue) pop() (uint64, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	addr := q.items[0]
	q.items = q.items[1:]
	return addr, true
}

// Classify assigns every reachable heap object exactly one Color (§4.5),
// returning the full address→Color map. Unreached objects are absent
// (treated as ColorNone by Color(addr)).
func Classify(d *Dump) map[uint64]Color {
	if d.colors != nil {
		return d.colors
	}
	colors := make(map[uint64]Color)
	set := func(addr uint64, c Color) bool {
		if addr == 0 || d.IsImmortal(addr) {
			return false
		}
		if _, ok := colors[addr]; ok {
			return false
		}
		colors[addr] = c
		return true
	}

	var userQueue, internalQueue walkQueue

	defStashAddr, hasDefStash := d.Roots[RootDefStash]
	if hasDefStash {
		symtabWalk(d, defStashAddr, colors, set, &userQueue, &internalQueue)
	}
	if main, ok := d.Roots[RootMainCode]; ok {
		if o, ok := d.Lookup(main); ok && o.Kind == KindCode {
			userQueue.push(main)
		}
	}

	for {
		addr, ok := userQueue.pop()
		if !ok {
			break
		}
		userDataWalk(d, addr, colors, set, &userQueue, &internalQueue)
	}

	for _, name := range d.RootNames {
		if _, colored := colors[d.Roots[name]]; !colored {
			internalQueue.push(d.Roots[name])
		}
	}
	for {
		addr, ok := internalQueue.pop()
		if !ok {
			break
		}
		if !set(addr, ColorInternal) {
			continue
		}
		if o, ok := d.Lookup(addr); ok {
			for _, ref := range Outrefs(d, o) {
				internalQueue.push(ref.Target)
			}
		}
	}

	d.colors = colors
	return colors
}

// ColorOf reports addr's classification, ColorNone if unreached or absent.
func ColorOf(d *Dump, addr uint64) Color {
	colors := Classify(d)
	return colors[addr]
}

func symtabWalk(d *Dump, stashAddr uint64, colors map[uint64]Color, set func(uint64, Color) bool, userQueue, internalQueue *walkQueue) {
	stashObj, ok := d.Lookup(stashAddr)
	if !ok || stashObj.Kind != KindStash {
		return
	}
	h := stashObj.Hash()
	internalQueue.push(h.Backrefs)
	for _, m := range stashObj.Magic {
		internalQueue.push(m.ObjAddr)
		internalQueue.push(m.PtrAddr)
	}

	for _, key := range h.Keys {
		target := h.Values[key]
		if len(key) >= 2 && key[len(key)-2:] == "::" {
			// A "::"-suffixed key's value is a GLOB whose hash slot is the
			// child stash (mirrors symbols.go's stash-tree walk); a few
			// producers emit the child stash address directly.
			obj, ok := d.Lookup(target)
			if !ok {
				continue
			}
			switch obj.Kind {
			case KindGlob:
				symtabWalk(d, obj.Glob().Hash, colors, set, userQueue, internalQueue)
			case KindStash:
				symtabWalk(d, target, colors, set, userQueue, internalQueue)
			}
			continue
		}
		obj, ok := d.Lookup(target)
		if !ok {
			continue
		}
		if obj.Kind == KindGlob {
			if set(target, ColorSymtab) {
				g := obj.Glob()
				for _, slot := range []uint64{g.Scalar, g.Array, g.Hash, g.Code, g.FormAddr} {
					userQueue.push(slot)
				}
				internalQueue.push(g.IOAddr)
			}
		} else {
			userQueue.push(target)
		}
	}
}

func userDataWalk(d *Dump, addr uint64, colors map[uint64]Color, set func(uint64, Color) bool, userQueue, internalQueue *walkQueue) {
	o, ok := d.Lookup(addr)
	if !ok || !set(addr, ColorUser) {
		return
	}

	switch o.Kind {
	case KindScalar:
		// The wire format has no direct scalar→target pointer beyond
		// our-stash, which this walk does not enqueue; scalars referencing
		// another value do so as a REF, a distinct object.
	case KindRef:
		userQueue.push(o.Ref().Target)
	case KindArray:
		for _, e := range o.Array().Elements {
			userQueue.push(e)
		}
	case KindHash, KindStash:
		h := o.Hash()
		for _, v := range h.Values {
			userQueue.push(v)
		}
		internalQueue.push(h.Backrefs)
	case KindGlob:
		// Terminal from this seed: expected to own only an IO slot.
		internalQueue.push(o.Glob().IOAddr)
	case KindCode:
		classifyCodeScope(d, o, colors, set, userQueue, internalQueue)
		internalQueue.push(o.Code().Outside)
		internalQueue.push(o.Code().ConstValue)
		for _, a := range o.Code().Constants {
			internalQueue.push(a)
		}
		for _, a := range o.Code().GlobRefs {
			internalQueue.push(a)
		}
	case KindLvalue:
		internalQueue.push(o.Lvalue().Target)
	}

	for _, m := range o.Magic {
		internalQueue.push(m.ObjAddr)
		internalQueue.push(m.PtrAddr)
	}
}

// classifyCodeScope colors a CODE's padlist/padnames/pads Padlist, its
// implicit @_ slots Internal, its named pad slots Lexical (enqueued as
// user data), and unnamed slots Internal (§4.5 bullet 2, CODE rule).
func classifyCodeScope(d *Dump, codeObj *Object, colors map[uint64]Color, set func(uint64, Color) bool, userQueue, internalQueue *walkQueue) {
	c := codeObj.Code()
	padlistObj, ok := d.Lookup(c.Padlist)
	if !ok || padlistObj.Kind != KindPadlist {
		return
	}
	if !set(padlistObj.Address, ColorPadlist) {
		return
	}
	pl := padlistObj.Array()
	if len(pl.Elements) == 0 {
		return
	}
	padnamesAddr := pl.Elements[0]
	if padnamesObj, ok := d.Lookup(padnamesAddr); ok {
		set(padnamesObj.Address, ColorPadlist)
	}

	for _, padAddr := range pl.Elements[minInt(1, len(pl.Elements)):] {
		padObj, ok := d.Lookup(padAddr)
		if !ok || !set(padAddr, ColorPadlist) {
			continue
		}
		pad := padObj.Array()
		for i, slot := range pad.Elements {
			if slot == 0 {
				continue
			}
			if i == 0 {
				internalQueue.push(slot)
				continue
			}
			if padNameNonEmpty(d, padnamesAddr, i) {
				set(slot, ColorLexical)
				userQueue.push(slot)
			} else {
				internalQueue.push(slot)
			}
		}
	}
}

func padNameNonEmpty(d *Dump, padnamesAddr uint64, i int) bool {
	pn, ok := d.Lookup(padnamesAddr)
	if !ok {
		return false
	}
	a := pn.Array()
	if i >= len(a.Elements) {
		return false
	}
	return a.Elements[i] != 0
}
