package pmat

import (
	"strings"

	"github.com/gitpan/Devel-MAT/internal/diag"
)

// ResolveSymbol resolves a single-sigil-prefixed dotted name, e.g.
// "$Foo::Bar::baz", to the heap object it names (§4.6). An empty leading
// segment (a name starting with "::") names the default package.
func ResolveSymbol(d *Dump, name string) (*Object, error) {
	if len(name) == 0 {
		return nil, diag.New(diag.KindNoSuchSymbol, 0, "empty symbol name")
	}
	sigil := name[0]
	switch sigil {
	case '$', '@', '%', '&':
	default:
		return nil, diag.New(diag.KindNoSuchSymbol, 0, "symbol %q has no recognized sigil", name)
	}

	segments := strings.Split(name[1:], "::")
	if len(segments) == 0 {
		return nil, diag.New(diag.KindNoSuchSymbol, 0, "symbol %q has no name", name)
	}
	if segments[0] == "" {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return nil, diag.New(diag.KindNoSuchSymbol, 0, "symbol %q names no glob", name)
	}

	stashAddr, ok := d.Roots[RootDefStash]
	if !ok {
		return nil, diag.New(diag.KindNoSuchSymbol, 0, "no default stash root")
	}

	for _, seg := range segments[:len(segments)-1] {
		stashObj, ok := d.Lookup(stashAddr)
		if !ok || stashObj.Kind != KindStash {
			return nil, diag.New(diag.KindNoSuchSymbol, 0, "%q: %q is not a stash", name, seg)
		}
		h := stashObj.Hash()
		childAddr, ok := h.Values[seg+"::"]
		if !ok {
			return nil, diag.New(diag.KindNoSuchSymbol, 0, "%q: no package %q", name, seg)
		}
		globObj, ok := d.Lookup(childAddr)
		if !ok || globObj.Kind != KindGlob {
			return nil, diag.New(diag.KindNoSuchSymbol, 0, "%q: %q is not a glob", name, seg)
		}
		stashAddr = globObj.Glob().Hash
		if stashAddr == 0 {
			return nil, diag.New(diag.KindNoSuchSymbol, 0, "%q: package %q has no stash", name, seg)
		}
	}

	final := segments[len(segments)-1]
	stashObj, ok := d.Lookup(stashAddr)
	if !ok || stashObj.Kind != KindStash {
		return nil, diag.New(diag.KindNoSuchSymbol, 0, "%q: final package is not a stash", name)
	}
	h := stashObj.Hash()
	globAddr, ok := h.Values[final]
	if !ok {
		return nil, diag.New(diag.KindNoSuchSymbol, 0, "%q: no symbol %q", name, final)
	}
	globObj, ok := d.Lookup(globAddr)
	if !ok || globObj.Kind != KindGlob {
		return nil, diag.New(diag.KindNoSuchSymbol, 0, "%q: %q is not a glob", name, final)
	}
	g := globObj.Glob()

	var slotAddr uint64
	switch sigil {
	case '$':
		slotAddr = g.Scalar
	case '@':
		slotAddr = g.Array
	case '%':
		slotAddr = g.Hash
	case '&':
		slotAddr = g.Code
	}
	if slotAddr == 0 {
		return nil, diag.New(diag.KindNoSuchSymbol, 0, "%q: glob has no %c slot", name, sigil)
	}
	obj, ok := d.Lookup(slotAddr)
	if !ok {
		return nil, diag.New(diag.KindNoSuchAddress, 0, "%q: slot points to unknown address", name)
	}
	return obj, nil
}
