package pmat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitpan/Devel-MAT/internal/diag"
)

// buildSymtabDump constructs:
//   defstash (0x100: "main") --Foo::--> (0x200: "Foo")
//     main::bar (glob 0x300) -> scalar 0x310 "hello"
//     Foo::baz  (glob 0x400) -> scalar 0x410 (IV 42)
func buildSymtabDump(t *testing.T) *Dump {
	t.Helper()
	b := newDumpBuilder()
	b.header(
		map[string]uint64{"defstash": 0x100, "mainstash": 0x100},
		[]string{"defstash", "mainstash"},
		nil,
	)
	b.stash(0x100, []string{"Foo::", "bar"}, map[string]uint64{"Foo::": 0x250, "bar": 0x300}, 0, "main")
	b.stash(0x200, []string{"baz"}, map[string]uint64{"baz": 0x400}, 0, "Foo")
	b.glob(0x250, 0x100, 0, 0, 0x200, 0, 0, 0, 0, "Foo::", "main.pl", 1)
	b.glob(0x300, 0x100, 0x310, 0, 0, 0, 0, 0, 0, "bar", "main.pl", 1)
	b.scalarPV(0x310, "hello", 0)
	b.glob(0x400, 0x200, 0x410, 0, 0, 0, 0, 0, 0, "baz", "main.pl", 2)
	b.scalarIV(0x410, 42, 0)
	b.heapEnd()
	b.contextsEnd()

	d, err := Load(b.bytes(), diag.Options{})
	require.NoError(t, err)
	return d
}

func TestLoadHeaderAndImmortals(t *testing.T) {
	d := buildSymtabDump(t)
	assert.Equal(t, 2, int(d.Header.FormatMajor))
	assert.Equal(t, 4, d.Header.IntWidth)
	assert.Equal(t, 4, d.Header.PtrWidth)
	assert.Equal(t, uint64(1), d.Immortals.Undef)
	assert.Equal(t, uint64(2), d.Immortals.Yes)
	assert.Equal(t, uint64(3), d.Immortals.No)
	assert.True(t, d.IsImmortal(2))
	assert.False(t, d.IsImmortal(0x100))
}

func TestLoadDecodesGlobAndScalars(t *testing.T) {
	d := buildSymtabDump(t)

	bar, ok := d.Lookup(0x300)
	require.True(t, ok)
	assert.Equal(t, KindGlob, bar.Kind)
	assert.Equal(t, "bar", bar.Glob().Name)

	hello, ok := d.Lookup(0x310)
	require.True(t, ok)
	assert.True(t, hello.Scalar().HasPV)
	assert.Equal(t, "hello", string(hello.Scalar().PV))

	baz42, ok := d.Lookup(0x410)
	require.True(t, ok)
	assert.True(t, baz42.Scalar().HasIV)
	assert.Equal(t, int64(42), baz42.Scalar().IV)
}

func TestFixupSetsGlobOwnerBackLink(t *testing.T) {
	d := buildSymtabDump(t)
	hello, ok := d.Lookup(0x310)
	require.True(t, ok)
	assert.Equal(t, uint64(0x300), hello.GlobAddr)

	baz42, ok := d.Lookup(0x410)
	require.True(t, ok)
	assert.Equal(t, uint64(0x400), baz42.GlobAddr)
}

func TestFixupIsIdempotent(t *testing.T) {
	d := buildSymtabDump(t)
	before, ok := d.Lookup(0x310)
	require.True(t, ok)
	beforeGlob := before.GlobAddr

	fixup(d) // second run must not change anything
	after, ok := d.Lookup(0x310)
	require.True(t, ok)
	assert.Equal(t, beforeGlob, after.GlobAddr)
}

func TestResolveSymbol(t *testing.T) {
	d := buildSymtabDump(t)

	obj, err := ResolveSymbol(d, "$bar")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x310), obj.Address)

	obj, err = ResolveSymbol(d, "$Foo::baz")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x410), obj.Address)

	_, err = ResolveSymbol(d, "$Foo::nonexistent")
	require.Error(t, err)
	var diagErr *diag.Error
	require.ErrorAs(t, err, &diagErr)
	assert.Equal(t, diag.KindNoSuchSymbol, diagErr.Kind)
}

func TestOutrefsGlobAndScalar(t *testing.T) {
	d := buildSymtabDump(t)
	bar, ok := d.Lookup(0x300)
	require.True(t, ok)

	refs := Outrefs(d, bar)
	var sawScalar bool
	for _, r := range refs {
		if r.Role == "the scalar" {
			sawScalar = true
			assert.Equal(t, Strong, r.Strength)
			assert.Equal(t, uint64(0x310), r.Target)
		}
	}
	assert.True(t, sawScalar, "expected glob to have a 'the scalar' outref")
}

func TestInrefsAreInverseOfOutrefs(t *testing.T) {
	d := buildSymtabDump(t)
	hello, ok := d.Lookup(0x310)
	require.True(t, ok)

	inrefs := Inrefs(d, hello)
	require.Len(t, inrefs, 1)
	assert.Equal(t, uint64(0x300), inrefs[0].Owner)
	assert.Equal(t, "the scalar", inrefs[0].Role)
	assert.Equal(t, Strong, inrefs[0].Strength)
}

func TestReachabilityClassifiesGlobsAsSymtab(t *testing.T) {
	d := buildSymtabDump(t)
	colors := Classify(d)
	assert.Equal(t, ColorSymtab, colors[0x300])
	assert.Equal(t, ColorSymtab, colors[0x400])
	assert.Equal(t, ColorUser, colors[0x310])
	assert.Equal(t, ColorUser, colors[0x410])
}

func TestReverseTraceReachesNamedRoot(t *testing.T) {
	d := buildSymtabDump(t)
	baz42, ok := d.Lookup(0x410)
	require.True(t, ok)

	tr := ReverseTrace(d, baz42, TraceOptions{})
	var rootNames []string
	for _, r := range tr.Roots {
		rootNames = append(rootNames, r.Name)
	}
	assert.Contains(t, rootNames, "defstash")

	dot := tr.RenderDOT()
	assert.Contains(t, dot, "digraph trace")
}

func TestReverseTraceDepthBoundEmitsSentinel(t *testing.T) {
	d := buildSymtabDump(t)
	baz42, ok := d.Lookup(0x410)
	require.True(t, ok)

	tr := ReverseTrace(d, baz42, TraceOptions{MaxDepth: 1})
	var rootNames []string
	for _, r := range tr.Roots {
		rootNames = append(rootNames, r.Name)
	}
	assert.Contains(t, rootNames, traceDepthExhausted)
}

// buildBackrefsDump constructs a HASH whose backrefs link is an ARRAY of
// weak referrers (the common case for weak-reference invalidation).
func buildBackrefsDump(t *testing.T) *Dump {
	t.Helper()
	b := newDumpBuilder()
	b.header(map[string]uint64{"defstash": 0x900}, []string{"defstash"}, nil)
	b.stash(0x900, nil, nil, 0, "main")
	b.array(0x20, []uint64{0x30}, true, 0) // backrefs list containing one REF
	b.ref(0x30, 0x10, true, 0)
	b.hash(0x10, nil, nil, 0x20, 0)
	b.heapEnd()
	b.contextsEnd()

	d, err := Load(b.bytes(), diag.Options{})
	require.NoError(t, err)
	return d
}

func TestFixupMarksBackrefsArray(t *testing.T) {
	d := buildBackrefsDump(t)
	arr, ok := d.Lookup(0x20)
	require.True(t, ok)
	assert.True(t, arr.IsBackrefs)
}

func TestOutrefsHashBackrefsIndirect(t *testing.T) {
	d := buildBackrefsDump(t)
	h, ok := d.Lookup(0x10)
	require.True(t, ok)

	refs := Outrefs(d, h)
	var sawList, sawBackref bool
	for _, r := range refs {
		if r.Role == "the backrefs list" {
			sawList = true
			assert.Equal(t, Strong, r.Strength)
		}
		if r.Role == "a backref" {
			sawBackref = true
			assert.Equal(t, Indirect, r.Strength)
		}
	}
	assert.True(t, sawList)
	assert.True(t, sawBackref)
}

// buildCodeDump constructs a CODE with an explicit (format-minor >= 2)
// padnames pointer (CODEx tag 7) and PADLIST -> [PAD-depth1].
func buildCodeDump(t *testing.T) *Dump {
	t.Helper()
	b := newDumpBuilder()
	b.header(map[string]uint64{"defstash": 0x900, "mainstash": 0x900}, []string{"defstash", "mainstash"}, nil)
	b.stash(0x900, nil, nil, 0, "main")
	b.array(0x50, []uint64{0x60}, true, 0) // padnames: elem0 unused(0 omitted), padname[1] unused
	b.array(0x70, []uint64{0, 0x80}, true, 0) // pad at depth 1: elem0 = @_, elem1 = a lexical scalar
	b.scalarIV(0x80, 7, 0)
	b.array(0x40, []uint64{0x70}, true, 0) // padlist: [pad depth1] (modern: no padnames slot inline)
	b.code(codeSpec{
		addr:     0x30,
		line:     10,
		outside:  0,
		padlist:  0x40,
		file:     "main.pl",
		padnames: 0x50,
	})
	b.heapEnd()
	b.contextsEnd()

	d, err := Load(b.bytes(), diag.Options{})
	require.NoError(t, err)
	return d
}

func TestFixupReclassifiesPadlistFamily(t *testing.T) {
	d := buildCodeDump(t)

	padlist, ok := d.Lookup(0x40)
	require.True(t, ok)
	assert.Equal(t, KindPadlist, padlist.Kind)
	assert.Equal(t, uint64(0x30), padlist.Array().OwnerCode)

	padnames, ok := d.Lookup(0x50)
	require.True(t, ok)
	assert.Equal(t, KindPadnames, padnames.Kind)

	pad, ok := d.Lookup(0x70)
	require.True(t, ok)
	assert.Equal(t, KindPad, pad.Kind)
	assert.Equal(t, uint64(0x30), pad.Array().OwnerCode)
}
