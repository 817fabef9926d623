package pmat

// Kind tags the variant an Object carries. Three of these (Padlist,
// Padnames, Pad) are never emitted by the producer; they are assigned by
// Fixup (§3.2, §4.3).
type Kind uint8

const (
	KindGlob Kind = iota + 1
	KindScalar
	KindRef
	KindArray
	KindHash
	KindStash
	KindCode
	KindIO
	KindLvalue
	KindRegexp
	KindFormat
	KindInvlist

	// Synthetic subtypes, assigned during Fixup. They reuse the ARRAY
	// wire representation; Kind is reclassified once the owning CODE's
	// padlist structure is known.
	KindPadlist
	KindPadnames
	KindPad
)

func (k Kind) String() string {
	switch k {
	case KindGlob:
		return "GLOB"
	case KindScalar:
		return "SCALAR"
	case KindRef:
		return "REF"
	case KindArray:
		return "ARRAY"
	case KindHash:
		return "HASH"
	case KindStash:
		return "STASH"
	case KindCode:
		return "CODE"
	case KindIO:
		return "IO"
	case KindLvalue:
		return "LVALUE"
	case KindRegexp:
		return "REGEXP"
	case KindFormat:
		return "FORMAT"
	case KindInvlist:
		return "INVLIST"
	case KindPadlist:
		return "PADLIST"
	case KindPadnames:
		return "PADNAMES"
	case KindPad:
		return "PAD"
	default:
		return "UNKNOWN"
	}
}

// Magic is a post-facto decoration attached to an object (§3.2). Magic
// annotations are not objects themselves and do not appear in the
// address→object map.
type Magic struct {
	Type       byte // single-character magic type, e.g. 'P', 'B', '~'
	Refcounted bool
	ObjAddr    uint64 // 0 if absent
	PtrAddr    uint64 // 0 if absent
}

// Object is a single heap value. Common fields always apply; the variant
// payload is reached through the accessor matching Kind (Glob(), Scalar(),
// etc.), which panics if called against the wrong Kind — mirroring how
// callers are expected to switch on Kind first, exactly as every consumer
// of the wire format must.
type Object struct {
	Address   uint64
	Kind      Kind
	RefCount  uint32
	OwnedSize uint64
	Blessed   uint64 // stash address; 0 if not blessed
	Magic     []Magic

	// GlobAddr is the address of the owning GLOB, set by Fixup for
	// scalar/array/hash/code slots (§3.3, §4.3). 0 if never owned by a glob.
	GlobAddr uint64

	// Set by Fixup; relevant only to Kind == KindHash / KindArray.
	IsBackrefs bool

	// IsStringTable marks the distinguished shared-string HASH whose
	// value map is exposed as empty regardless of wire content (§3.3, §9).
	IsStringTable bool

	variant any
}

func (o *Object) mustVariant(k Kind) any {
	if o.Kind != k {
		panic("pmat: Object.variant accessed as " + k.String() + " but Kind is " + o.Kind.String())
	}
	return o.variant
}

// Glob holds GLOB record data (§3.2, §6.1 tag 1).
type Glob struct {
	StashAddr uint64
	Scalar    uint64
	Array     uint64
	Hash      uint64
	Code      uint64
	EGV       uint64
	IOAddr    uint64
	FormAddr  uint64
	Name      string
	File      string
	Line      uint64
}

func (o *Object) Glob() *Glob { return o.mustVariant(KindGlob).(*Glob) }

// Scalar holds SCALAR record data (§3.2, §6.1 tag 2).
type Scalar struct {
	HasUV   bool
	UV      uint64
	HasIV   bool
	IV      int64
	HasNV   bool
	NV      float64
	HasPV   bool
	PV      []byte
	UTF8    bool
	OurStash uint64
}

func (o *Object) Scalar() *Scalar { return o.mustVariant(KindScalar).(*Scalar) }

// Ref holds REF record data (§3.2, §6.1 tag 3).
type Ref struct {
	Target   uint64
	IsWeak   bool
	OurStash uint64
}

func (o *Object) Ref() *Ref { return o.mustVariant(KindRef).(*Ref) }

// Array holds ARRAY record data (§3.2, §6.1 tag 4), and is reused verbatim
// for the synthetic Padlist/Padnames/Pad subtypes after Fixup.
type Array struct {
	Elements []uint64
	IsReal   bool // !flags.bit0 per §6.1, for every format-minor; IsBackrefs does not change it

	// OwnerCode is set by Fixup for PADLIST/PADNAMES/PAD (§4.3 final bullet).
	OwnerCode uint64
}

func (o *Object) Array() *Array {
	switch o.Kind {
	case KindArray, KindPadlist, KindPadnames, KindPad:
		return o.variant.(*Array)
	default:
		panic("pmat: Object.Array accessed but Kind is " + o.Kind.String())
	}
}

// Hash holds HASH record data (§3.2, §6.1 tag 5). Keys are unique byte
// strings; order is not significant but Keys preserves wire order for
// deterministic iteration in outrefs/tests.
type Hash struct {
	Keys     []string
	Values   map[string]uint64
	Backrefs uint64 // 0 if absent
}

func (o *Object) Hash() *Hash {
	switch o.Kind {
	case KindHash:
		return o.variant.(*Hash)
	case KindStash:
		return &o.variant.(*Stash).Hash
	default:
		panic("pmat: Object.Hash accessed but Kind is " + o.Kind.String())
	}
}

// Stash extends Hash with class metadata (§3.2, §6.1 tag 6). Composition,
// not inheritance, per §9: Stash embeds its Hash body.
type Stash struct {
	Hash
	ClassName       string
	MROLinearAll    uint64
	MROLinearCurrent uint64
	MRONextMethod   uint64
	MROISACache     uint64
}

func (o *Object) Stash() *Stash { return o.mustVariant(KindStash).(*Stash) }

// CodeFlags bit meanings (§3.2, §6.1).
type CodeFlags struct {
	IsClone       bool
	IsCloned      bool
	IsXSub        bool
	WeakOutside   bool
	GlobRefcounted bool
}

// Code holds CODE record data (§3.2, §6.1 tag 7).
type Code struct {
	StashAddr  uint64
	GlobAddr   uint64
	Outside    uint64
	Padlist    uint64
	ConstValue uint64
	File       string
	Line       uint64
	Oproot     uint64 // nonzero iff implemented in bytecode (§3.2); never decoded
	Flags      CodeFlags

	// Embedded constants/globrefs. Resolved in two ways depending on
	// producer version and ithreads mode (§4.3): direct pointers from
	// CODEx tags 1/3, or index-resolved-against-pad-0 under ithreads
	// (CODEx tags 2/4), merged into these same slices by Fixup.
	Constants []uint64
	GlobRefs  []uint64

	// PadnamesAddr is recorded by Fixup: either the explicit padnames
	// pointer (producer >= 5.18, CODEx tag 7) or padlist element 0
	// (legacy producers) (§4.3).
	PadnamesAddr uint64
}

func (o *Object) Code() *Code { return o.mustVariant(KindCode).(*Code) }

// IO holds IO record data (§3.2, §6.1 tag 8).
type IO struct {
	TopGV    uint64
	FormatGV uint64
	BottomGV uint64
}

func (o *Object) IO() *IO { return o.mustVariant(KindIO).(*IO) }

// Lvalue holds LVALUE record data (§3.2, §6.1 tag 9).
type Lvalue struct {
	Type   byte
	Offset uint64
	Length uint64
	Target uint64
}

func (o *Object) Lvalue() *Lvalue { return o.mustVariant(KindLvalue).(*Lvalue) }

// Opaque holds REGEXP/FORMAT/INVLIST record data: byte size only (§3.2).
type Opaque struct{}

func (o *Object) Opaque() *Opaque { return o.variant.(*Opaque) }
