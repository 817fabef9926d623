package pmat

import (
	"github.com/gitpan/Devel-MAT/internal/binstream"
	"github.com/gitpan/Devel-MAT/internal/diag"
)

const (
	tagHeapEnd    = 0x00
	tagMagicEntry = 0x80

	tagGlob    = 1
	tagScalar  = 2
	tagRef     = 3
	tagArray   = 4
	tagHash    = 5
	tagStash   = 6
	tagCode    = 7
	tagIO      = 8
	tagLvalue  = 9
	tagRegexp  = 10
	tagFormat  = 11
	tagInvlist = 12

	codexConst      = 1
	codexConstIndex = 2
	codexGV         = 3
	codexGVIndex    = 4
	codexLegacy5    = 5
	codexLegacy6    = 6
	codexPadnames   = 7
	codexPad        = 8

	ctxSub  = 1
	ctxTry  = 2
	ctxEval = 3
)

type pendingMagic struct {
	owner   uint64
	mgType  byte
	rc      bool
	objAddr uint64
	ptrAddr uint64
}

// Load decodes a complete PMAT dump from data (§4.2, §6.1). On success every
// heap object is present in the returned Dump and Fixup has already run
// (§4.3) — callers never see a partially-fixed-up graph.
func Load(data []byte, opts diag.Options) (*Dump, error) {
	d := newDump()
	r := binstream.New(data, binstream.Config{IntWidth: 4, PtrWidth: 4, FloatWidth: 8})

	magic, err := r.ReadExact(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != "PMAT" {
		return nil, diag.New(diag.KindBadMagic, 0, "expected PMAT magic, got %q", magic)
	}

	flags, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if flags&^0x1f != 0 {
		return nil, diag.New(diag.KindUnknownFlag, int64(r.Pos()-1), "flags byte 0x%02x has bits set above bit 4", flags)
	}
	cfg := binstream.Config{
		Order:      binstream.LittleEndian,
		IntWidth:   4,
		PtrWidth:   4,
		FloatWidth: 8,
	}
	if flags&0x01 != 0 {
		cfg.Order = binstream.BigEndian
	}
	if flags&0x02 != 0 {
		cfg.IntWidth = 8
	}
	if flags&0x04 != 0 {
		cfg.PtrWidth = 8
	}
	if flags&0x08 != 0 {
		cfg.FloatWidth = 10
	}
	ithreads := flags&0x10 != 0

	// Re-anchor the reader at the configured width/endian for everything
	// past the flags byte; the magic and flags byte themselves are
	// width-independent single bytes.
	r = binstream.New(data, cfg).At(r.Pos())

	reserved, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	_ = reserved // must be zero; not worth a hard failure on its own

	major, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	minor, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if major != supportedFormatMajor {
		return nil, diag.New(diag.KindBadVersion, int64(r.Pos()), "unsupported format major %d (want %d)", major, supportedFormatMajor)
	}
	if minor != supportedFormatMinor {
		if opts.Mode == diag.ModeStrict && minor < magicFormatMinor {
			return nil, diag.New(diag.KindBadVersion, int64(r.Pos()), "format minor %d predates the earliest shape this strict loader decodes (want >= %d)", minor, magicFormatMinor)
		}
		d.Diags.Addf(int64(r.Pos()), diag.KindBadVersion,
			"format minor %d differs from %d; version-gated fields (magic shape, padlist layout) are loaded best-effort", minor, supportedFormatMinor)
	}

	interpVersion, err := r.ReadU32()
	if err != nil {
		return nil, err
	}

	nTypes, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	typeSizes := make(map[byte]TypeSizeEntry, nTypes)
	for i := 0; i < int(nTypes); i++ {
		hdrBytes, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		nPtrs, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		nStrs, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		typeSizes[byte(i+1)] = TypeSizeEntry{HeaderBytes: int(hdrBytes), NumPtrs: int(nPtrs), NumStrs: int(nStrs)}
	}

	d.Header = Header{
		BigEndian:          cfg.Order == binstream.BigEndian,
		IntWidth:           cfg.IntWidth,
		PtrWidth:           cfg.PtrWidth,
		FloatWidth:         cfg.FloatWidth,
		Ithreads:           ithreads,
		FormatMajor:        major,
		FormatMinor:        minor,
		InterpreterVersion: interpVersion,
		TypeSizes:          typeSizes,
	}

	undef, err := r.ReadPointer()
	if err != nil {
		return nil, err
	}
	yes, err := r.ReadPointer()
	if err != nil {
		return nil, err
	}
	no, err := r.ReadPointer()
	if err != nil {
		return nil, err
	}
	d.Immortals = Immortals{Undef: undef, Yes: yes, No: no}

	nRoots, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	maxSteps := opts.EffectiveMaxSteps()
	if int(nRoots) > maxSteps {
		return nil, diag.New(diag.KindTruncated, int64(r.Pos()), "root count %d exceeds max steps %d", nRoots, maxSteps)
	}
	for i := 0; i < int(nRoots); i++ {
		name, ok, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if !ok {
			name = ""
		}
		addr, err := r.ReadPointer()
		if err != nil {
			return nil, err
		}
		d.RootNames = append(d.RootNames, name)
		d.Roots[name] = addr
	}

	nStack, err := r.ReadUint()
	if err != nil {
		return nil, err
	}
	if int(nStack) > maxSteps {
		return nil, diag.New(diag.KindTruncated, int64(r.Pos()), "stack count %d exceeds max steps %d", nStack, maxSteps)
	}
	d.Stack, err = r.ReadPointerArrayOfN(int(nStack))
	if err != nil {
		return nil, err
	}

	var pendingMagics []pendingMagic
	steps := 0
	for {
		steps++
		if steps > maxSteps {
			return nil, diag.New(diag.KindTruncated, int64(r.Pos()), "heap body exceeds max steps %d", maxSteps)
		}
		tag, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		if tag == tagHeapEnd {
			break
		}
		if tag == tagMagicEntry {
			pm, err := decodeMagic(r, d.Header.FormatMinor)
			if err != nil {
				return nil, err
			}
			pendingMagics = append(pendingMagics, pm)
			continue
		}

		entry, ok := typeSizes[tag]
		if !ok {
			return nil, diag.New(diag.KindUnknownTag, int64(r.Pos()-1), "unknown heap tag %d", tag)
		}
		obj, err := decodeSV(r, tag, entry)
		if err != nil {
			return nil, err
		}
		d.addObject(obj)
	}

	for _, pm := range pendingMagics {
		if owner, ok := d.Lookup(pm.owner); ok {
			owner.Magic = append(owner.Magic, Magic{
				Type: pm.mgType, Refcounted: pm.rc, ObjAddr: pm.objAddr, PtrAddr: pm.ptrAddr,
			})
		}
	}

	contexts, err := loadContexts(r, maxSteps)
	if err != nil {
		return nil, err
	}
	d.Contexts = contexts

	fixup(d)
	return d, nil
}

const supportedFormatMajor = 2

// supportedFormatMinor is the latest format-minor this loader was written
// against. A dump with a different minor loads with a recorded Diag, except
// that diag.ModeStrict rejects a minor below magicFormatMinor with
// KindBadVersion — the type-size table already makes per-record decoding
// forward/backward compatible; only the version-gated branches keyed on
// magicFormatMinor and padlistFormatMinor change behavior across minors.
const supportedFormatMinor = padlistFormatMinor

// magicFormatMinor is the format-minor threshold at or above which a
// producer's magic-annotation record carries the refcounted flag as its
// own byte and emits an optional pointer-typed target. Below this
// threshold, the refcounted bit is packed into the magic type byte's high
// bit and no pointer-typed target is ever emitted (§9 Open Questions:
// "position of the refcounted flag; whether a pointer-typed magic target
// is emitted").
const magicFormatMinor = 2

// decodeMagic reads one magic-annotation record (§4.2 item 9, tag 0x80),
// choosing the wire shape by the dump's format-minor version.
func decodeMagic(r *binstream.Reader, minor byte) (pendingMagic, error) {
	owner, err := r.ReadPointer()
	if err != nil {
		return pendingMagic{}, err
	}

	if minor >= magicFormatMinor {
		mgType, err := r.ReadU8()
		if err != nil {
			return pendingMagic{}, err
		}
		mgFlags, err := r.ReadU8()
		if err != nil {
			return pendingMagic{}, err
		}
		objAddr, err := r.ReadPointer()
		if err != nil {
			return pendingMagic{}, err
		}
		ptrAddr, err := r.ReadPointer()
		if err != nil {
			return pendingMagic{}, err
		}
		return pendingMagic{owner: owner, mgType: mgType, rc: mgFlags&0x01 != 0, objAddr: objAddr, ptrAddr: ptrAddr}, nil
	}

	// Legacy shape: no separate flags byte and no pointer-typed target;
	// the refcounted bit rides in the type byte's high bit.
	rawType, err := r.ReadU8()
	if err != nil {
		return pendingMagic{}, err
	}
	objAddr, err := r.ReadPointer()
	if err != nil {
		return pendingMagic{}, err
	}
	return pendingMagic{owner: owner, mgType: rawType &^ 0x80, rc: rawType&0x80 != 0, objAddr: objAddr}, nil
}

// decodeSV reads one SV record body for the given tag, per §6.1's per-type
// table. entry gives the wire-declared (header bytes, pointer count, string
// count) for this tag, enabling forward/backward compatibility: known
// fields are mapped positionally, shortfalls yield absent (zero) values,
// and surplus pointers/strings/header bytes are read and discarded.
func decodeSV(r *binstream.Reader, tag byte, entry TypeSizeEntry) (*Object, error) {
	hdr, err := newBoundedHeader(r, entry.HeaderBytes)
	if err != nil {
		return nil, err
	}

	var (
		obj *Object
		err2 error
	)
	switch tag {
	case tagGlob:
		obj, err2 = decodeGlob(hdr)
	case tagScalar:
		obj, err2 = decodeScalar(hdr)
	case tagRef:
		obj, err2 = decodeRef(hdr)
	case tagArray:
		obj, err2 = decodeArray(hdr, r)
	case tagHash:
		obj, err2 = decodeHash(hdr, r)
	case tagStash:
		obj, err2 = decodeStash(hdr, r)
	case tagCode:
		obj, err2 = decodeCode(hdr, r)
	case tagIO:
		obj, err2 = decodeIO(hdr)
	case tagLvalue:
		obj, err2 = decodeLvalue(hdr)
	case tagRegexp, tagFormat, tagInvlist:
		obj, err2 = decodeOpaque(tag)
	default:
		return nil, diag.New(diag.KindUnknownTag, int64(r.Pos()), "unhandled SV tag %d", tag)
	}
	if err2 != nil {
		return nil, err2
	}

	if err := hdr.skipToEnd(); err != nil {
		return nil, err
	}

	addr, err := r.ReadPointer()
	if err != nil {
		return nil, err
	}
	refcount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	ownedSize, err := r.ReadUint()
	if err != nil {
		return nil, err
	}
	blessed, err := r.ReadPointer()
	if err != nil {
		return nil, err
	}
	obj.Address = addr
	obj.RefCount = refcount
	obj.OwnedSize = ownedSize
	obj.Blessed = blessed

	ptrs, err := r.ReadPointerArrayOfN(entry.NumPtrs)
	if err != nil {
		return nil, err
	}
	strs := make([]stringSlot, entry.NumStrs)
	for i := range strs {
		s, ok, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		strs[i] = stringSlot{value: s, ok: ok}
	}

	applyPtrsAndStrs(obj, tag, ptrs, strs)
	return obj, nil
}

type stringSlot struct {
	value string
	ok    bool
}

func strAt(strs []stringSlot, i int) string {
	if i < len(strs) && strs[i].ok {
		return strs[i].value
	}
	return ""
}

func ptrAt(ptrs []uint64, i int) uint64 {
	if i < len(ptrs) {
		return ptrs[i]
	}
	return 0
}

// applyPtrsAndStrs maps the table-declared trailing pointers/strings onto
// each variant's fixed named slots, per §6.1's per-tag Pointers/Strings
// columns. Positions beyond what a variant names are silently ignored
// (forward compatibility); positions a variant names but the producer
// omitted stay zero/absent (backward compatibility).
func applyPtrsAndStrs(o *Object, tag byte, ptrs []uint64, strs []stringSlot) {
	switch tag {
	case tagGlob:
		g := o.Glob()
		g.StashAddr = ptrAt(ptrs, 0)
		g.Scalar = ptrAt(ptrs, 1)
		g.Array = ptrAt(ptrs, 2)
		g.Hash = ptrAt(ptrs, 3)
		g.Code = ptrAt(ptrs, 4)
		g.EGV = ptrAt(ptrs, 5)
		g.IOAddr = ptrAt(ptrs, 6)
		g.FormAddr = ptrAt(ptrs, 7)
		g.Name = strAt(strs, 0)
		g.File = strAt(strs, 1)
	case tagScalar:
		sc := o.Scalar()
		sc.OurStash = ptrAt(ptrs, 0)
		if sc.HasPV && len(strs) > 0 && strs[0].ok {
			sc.PV = []byte(strs[0].value)
		}
	case tagRef:
		ref := o.Ref()
		ref.Target = ptrAt(ptrs, 0)
		ref.OurStash = ptrAt(ptrs, 1)
	case tagHash:
		o.Hash().Backrefs = ptrAt(ptrs, 0)
	case tagStash:
		st := o.Stash()
		st.Backrefs = ptrAt(ptrs, 0)
		st.MROLinearAll = ptrAt(ptrs, 1)
		st.MROLinearCurrent = ptrAt(ptrs, 2)
		st.MRONextMethod = ptrAt(ptrs, 3)
		st.MROISACache = ptrAt(ptrs, 4)
		st.ClassName = strAt(strs, 0)
	case tagCode:
		c := o.Code()
		c.StashAddr = ptrAt(ptrs, 0)
		c.GlobAddr = ptrAt(ptrs, 1)
		c.Outside = ptrAt(ptrs, 2)
		c.Padlist = ptrAt(ptrs, 3)
		c.ConstValue = ptrAt(ptrs, 4)
		c.File = strAt(strs, 0)
	case tagIO:
		io := o.IO()
		io.TopGV = ptrAt(ptrs, 0)
		io.FormatGV = ptrAt(ptrs, 1)
		io.BottomGV = ptrAt(ptrs, 2)
	case tagLvalue:
		o.Lvalue().Target = ptrAt(ptrs, 0)
	}
}

func decodeGlob(hdr *boundedHeader) (*Object, error) {
	line, _ := hdr.tryUint()
	return &Object{Kind: KindGlob, variant: &Glob{Line: line}}, nil
}

func decodeScalar(hdr *boundedHeader) (*Object, error) {
	flags, _ := hdr.tryU8()
	uv, _ := hdr.tryUint()
	nv, _ := hdr.tryFloat()
	_, _ = hdr.tryUint() // pvlen: a size hint only; the bytes themselves travel as a declared string (§6.1)
	s := &Scalar{
		HasUV: flags&0x01 != 0,
		UV:    uv,
		HasIV: flags&0x02 != 0,
		IV:    int64(uv),
		HasNV: flags&0x08 != 0,
		NV:    nv,
		HasPV: flags&0x04 != 0,
		UTF8:  flags&0x10 != 0,
	}
	return &Object{Kind: KindScalar, variant: s}, nil
}

func decodeRef(hdr *boundedHeader) (*Object, error) {
	flags, _ := hdr.tryU8()
	return &Object{Kind: KindRef, variant: &Ref{IsWeak: flags&0x01 != 0}}, nil
}

func decodeArray(hdr *boundedHeader, r *binstream.Reader) (*Object, error) {
	n, _ := hdr.tryUint()
	flags, _ := hdr.tryU8()
	elems, err := r.ReadPointerArrayOfN(int(n))
	if err != nil {
		return nil, err
	}
	return &Object{Kind: KindArray, variant: &Array{Elements: elems, IsReal: flags&0x01 == 0}}, nil
}

func decodeHash(hdr *boundedHeader, r *binstream.Reader) (*Object, error) {
	n, _ := hdr.tryUint()
	keys := make([]string, 0, n)
	values := make(map[string]uint64, n)
	for i := uint64(0); i < n; i++ {
		key, ok, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if !ok {
			key = ""
		}
		val, err := r.ReadPointer()
		if err != nil {
			return nil, err
		}
		if _, dup := values[key]; !dup {
			keys = append(keys, key)
		}
		values[key] = val
	}
	return &Object{Kind: KindHash, variant: &Hash{Keys: keys, Values: values}}, nil
}

func decodeStash(hdr *boundedHeader, r *binstream.Reader) (*Object, error) {
	base, err := decodeHash(hdr, r)
	if err != nil {
		return nil, err
	}
	h := base.variant.(*Hash)
	base.Kind = KindStash
	base.variant = &Stash{Hash: *h}
	return base, nil
}

func decodeCode(hdr *boundedHeader, r *binstream.Reader) (*Object, error) {
	line, _ := hdr.tryUint()
	flags, _ := hdr.tryU8()
	oproot, _ := hdr.tryPointer()

	c := &Code{
		Line:   line,
		Oproot: oproot,
		Flags: CodeFlags{
			IsClone:        flags&0x01 != 0,
			IsCloned:       flags&0x02 != 0,
			IsXSub:         flags&0x04 != 0,
			WeakOutside:    flags&0x08 != 0,
			GlobRefcounted: flags&0x10 != 0,
		},
	}

	steps := 0
	for {
		steps++
		if steps > diag.DefaultMaxSteps {
			return nil, diag.New(diag.KindTruncated, int64(r.Pos()), "CODEx stream exceeds max steps")
		}
		subtag, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		if subtag == 0 {
			break
		}
		switch subtag {
		case codexConst:
			p, err := r.ReadPointer()
			if err != nil {
				return nil, err
			}
			c.Constants = append(c.Constants, p)
		case codexConstIndex:
			idx, err := r.ReadUint()
			if err != nil {
				return nil, err
			}
			// Resolved against pad 0 during Fixup (§4.3 ithreads bullet);
			// stash the raw index, high bit tagged so Fixup can
			// distinguish it from an already-resolved address.
			c.Constants = append(c.Constants, padIndexTag|idx)
		case codexGV:
			p, err := r.ReadPointer()
			if err != nil {
				return nil, err
			}
			c.GlobRefs = append(c.GlobRefs, p)
		case codexGVIndex:
			idx, err := r.ReadUint()
			if err != nil {
				return nil, err
			}
			c.GlobRefs = append(c.GlobRefs, padIndexTag|idx)
		case codexPadnames:
			p, err := r.ReadPointer()
			if err != nil {
				return nil, err
			}
			c.PadnamesAddr = p
		case codexPad:
			if _, err := r.ReadUint(); err != nil { // depth, unused: pads are resolved from padlist order
				return nil, err
			}
			if _, err := r.ReadPointer(); err != nil { // pad addr, recovered via padlist during Fixup
				return nil, err
			}
		case codexLegacy5:
			if _, err := r.ReadUint(); err != nil {
				return nil, err
			}
			if _, _, err := r.ReadString(); err != nil {
				return nil, err
			}
		case codexLegacy6:
			if _, err := r.ReadUint(); err != nil {
				return nil, err
			}
			if _, err := r.ReadUint(); err != nil {
				return nil, err
			}
			if _, err := r.ReadPointer(); err != nil {
				return nil, err
			}
		default:
			return nil, diag.New(diag.KindUnknownTag, int64(r.Pos()-1), "unknown CODEx tag %d", subtag)
		}
	}

	return &Object{Kind: KindCode, variant: c}, nil
}

// padIndexTag marks a Constants/GlobRefs slot that still holds a raw
// padlist index rather than a resolved address; Fixup clears this tag once
// it resolves the index against pad 0 (§4.3).
const padIndexTag = uint64(1) << 63

func decodeIO(hdr *boundedHeader) (*Object, error) {
	return &Object{Kind: KindIO, variant: &IO{}}, nil
}

func decodeLvalue(hdr *boundedHeader) (*Object, error) {
	typeChar, _ := hdr.tryU8()
	off, _ := hdr.tryUint()
	length, _ := hdr.tryUint()
	return &Object{Kind: KindLvalue, variant: &Lvalue{Type: typeChar, Offset: off, Length: length}}, nil
}

func decodeOpaque(tag byte) (*Object, error) {
	k := KindRegexp
	switch tag {
	case tagFormat:
		k = KindFormat
	case tagInvlist:
		k = KindInvlist
	}
	return &Object{Kind: k, variant: &Opaque{}}, nil
}

func loadContexts(r *binstream.Reader, maxSteps int) ([]Context, error) {
	var out []Context
	steps := 0
	for {
		steps++
		if steps > maxSteps {
			return nil, diag.New(diag.KindTruncated, int64(r.Pos()), "context stream exceeds max steps")
		}
		tag, err := r.ReadU8()
		if err != nil {
			// The context stack is a trailing, optional section (§4.7);
			// EOF here just means the producer didn't emit one.
			return out, nil
		}
		if tag == 0 {
			return out, nil
		}
		gimmeByte, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		file, _, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		line, err := r.ReadUint()
		if err != nil {
			return nil, err
		}
		ctx := Context{Gimme: Gimme(gimmeByte), File: file, Line: line}
		switch tag {
		case ctxSub:
			ctx.Type = ContextSub
			cv, err := r.ReadPointer()
			if err != nil {
				return nil, err
			}
			ctx.CodeAddr = cv
			args, err := r.ReadPointer()
			if err != nil {
				return nil, err
			}
			ctx.ArgsAddr = args
		case ctxTry:
			ctx.Type = ContextTry
		case ctxEval:
			ctx.Type = ContextEval
			src, err := r.ReadPointer()
			if err != nil {
				return nil, err
			}
			ctx.SourceTextAddr = src
		default:
			return nil, diag.New(diag.KindUnknownTag, int64(r.Pos()-1), "unknown context tag %d", tag)
		}
		out = append(out, ctx)
	}
}
