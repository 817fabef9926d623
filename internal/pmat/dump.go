package pmat

import "github.com/gitpan/Devel-MAT/internal/diag"

// Root names well-known in §6's roots table. Unknown names are retained
// verbatim (§4.2 item 7, §9 "global mutable state").
const (
	RootMainCode    = "main_cv"
	RootDefStash    = "defstash"
	RootBeginList   = "beginav"
	RootCheckList   = "checkav"
	RootInitList    = "initav"
	RootEndList     = "endav"
	RootIncGV       = "incgv"
	RootStatName    = "statname"
	RootStashCache  = "stashcache"
	RootMRORegistry = "mro_registry"
)

// TypeSizeEntry is one row of the type-size table read from the header
// (§4.2 item 5): it tells the loader exactly how many header bytes,
// trailing pointers, and trailing strings follow for SV records of one
// tag, enabling forward compatibility.
type TypeSizeEntry struct {
	HeaderBytes int
	NumPtrs     int
	NumStrs     int
}

// Header holds the parsed PMAT header fields (§6.1).
type Header struct {
	BigEndian          bool
	IntWidth           int // 4 or 8
	PtrWidth           int // 4 or 8
	FloatWidth         int // 8, 10, or 16
	Ithreads           bool // compile-time-embedded constants in pads
	FormatMajor        byte
	FormatMinor        byte
	InterpreterVersion uint32 // rev<<24 | ver<<16 | subver
	TypeSizes          map[byte]TypeSizeEntry
}

// Immortals holds the three singleton addresses read from the header
// (§3.1, §4.2 item 6).
type Immortals struct {
	Undef uint64
	Yes   uint64
	No    uint64
}

// Context is one entry of the context stack (§4.7, §6.1 "contexts").
type Context struct {
	Type ContextType
	Gimme Gimme
	File string
	Line uint64

	// SUB-specific.
	CodeAddr uint64
	ArgsAddr uint64 // 0 if absent

	// EVAL-specific.
	SourceTextAddr uint64
}

type ContextType byte

const (
	ContextSub ContextType = iota + 1
	ContextTry
	ContextEval
)

type Gimme byte

const (
	GimmeVoid Gimme = iota
	GimmeScalar
	GimmeArray
)

// Dump is the fully loaded, fixed-up object graph for one PMAT file. It is
// the sole owner of every Object; all other code holds addresses and looks
// them up through Dump (§3.1, §5).
type Dump struct {
	Header    Header
	Immortals Immortals

	// Roots preserves wire order for deterministic iteration (e.g. the
	// reverse-trace's root-name labeling, §4.6).
	RootNames []string
	Roots     map[string]uint64

	Stack []uint64

	Contexts []Context

	// Diags accumulates non-fatal findings recorded during Load, e.g. a
	// format-minor mismatch accepted under best-effort loading (§4.2 item 3).
	Diags diag.Diags

	objects map[uint64]*Object
	order   []uint64 // load order, for deterministic iteration

	fixedUp bool

	inrefsBuilt bool
	inrefs      map[uint64][]Edge

	colors map[uint64]Color
}

func newDump() *Dump {
	return &Dump{
		Roots:   make(map[string]uint64),
		objects: make(map[uint64]*Object),
	}
}

// Lookup resolves an address to its Object. It returns (nil, false) for any
// address not present in the heap, including unresolved/dangling pointers
// — a non-fatal condition per §3.3 and §7 (NoSuchAddress is yielded to the
// caller as an absent result, not raised).
func (d *Dump) Lookup(addr uint64) (*Object, bool) {
	if addr == 0 {
		return nil, false
	}
	o, ok := d.objects[addr]
	return o, ok
}

// MustLookup is Lookup but returns a *diag.Error of KindNoSuchAddress
// instead of ok=false, for the few call sites that need a typed error
// (§7: "yielded ... as an absent result rather than raised" is the default;
// this is for callers that explicitly ask for a value that must exist).
func (d *Dump) MustLookup(addr uint64) (*Object, error) {
	o, ok := d.Lookup(addr)
	if !ok {
		return nil, diag.New(diag.KindNoSuchAddress, 0, "no object at address 0x%x", addr)
	}
	return o, nil
}

// IsImmortal reports whether addr is one of the three singleton addresses.
func (d *Dump) IsImmortal(addr uint64) bool {
	return addr != 0 && (addr == d.Immortals.Undef || addr == d.Immortals.Yes || addr == d.Immortals.No)
}

// Objects returns every heap object in load order.
func (d *Dump) Objects() []*Object {
	out := make([]*Object, len(d.order))
	for i, a := range d.order {
		out[i] = d.objects[a]
	}
	return out
}

// addObject inserts a freshly decoded object, keyed by address.
func (d *Dump) addObject(o *Object) {
	d.objects[o.Address] = o
	d.order = append(d.order, o.Address)
}
