package pmat

import (
	"bytes"
	"encoding/binary"
)

// dumpBuilder assembles a synthetic little-endian, 4-byte-int/ptr,
// 8-byte-float PMAT byte stream for exercising Load/fixup/outrefs without
// an external dumper. It mirrors the wire layout loader.go decodes.
type dumpBuilder struct {
	buf         bytes.Buffer
	typeSizes   [12]TypeSizeEntry
	ithreads    bool
	formatMinor byte
}

func newDumpBuilder() *dumpBuilder {
	b := &dumpBuilder{formatMinor: padlistFormatMinor}
	// (hdr_bytes, n_ptrs, n_strs) per tag, matching object.go's field sets.
	b.typeSizes[0] = TypeSizeEntry{HeaderBytes: 4, NumPtrs: 8, NumStrs: 2}  // GLOB: line
	b.typeSizes[1] = TypeSizeEntry{HeaderBytes: 17, NumPtrs: 1, NumStrs: 1} // SCALAR: flags+uv+nv+pvlen
	b.typeSizes[2] = TypeSizeEntry{HeaderBytes: 1, NumPtrs: 2, NumStrs: 0}  // REF: flags
	b.typeSizes[3] = TypeSizeEntry{HeaderBytes: 5, NumPtrs: 0, NumStrs: 0}  // ARRAY: n+flags
	b.typeSizes[4] = TypeSizeEntry{HeaderBytes: 4, NumPtrs: 1, NumStrs: 0}  // HASH: n
	b.typeSizes[5] = TypeSizeEntry{HeaderBytes: 4, NumPtrs: 5, NumStrs: 1}  // STASH: n
	b.typeSizes[6] = TypeSizeEntry{HeaderBytes: 9, NumPtrs: 5, NumStrs: 1}  // CODE: line+flags+oproot
	b.typeSizes[7] = TypeSizeEntry{HeaderBytes: 0, NumPtrs: 3, NumStrs: 0}  // IO
	b.typeSizes[8] = TypeSizeEntry{HeaderBytes: 9, NumPtrs: 1, NumStrs: 0}  // LVALUE: type+offset+length
	b.typeSizes[9] = TypeSizeEntry{HeaderBytes: 0, NumPtrs: 0, NumStrs: 0}  // REGEXP
	b.typeSizes[10] = TypeSizeEntry{HeaderBytes: 0, NumPtrs: 0, NumStrs: 0} // FORMAT
	b.typeSizes[11] = TypeSizeEntry{HeaderBytes: 0, NumPtrs: 0, NumStrs: 0} // INVLIST
	return b
}

func (b *dumpBuilder) u8(v byte)    { b.buf.WriteByte(v) }
func (b *dumpBuilder) u32(v uint32) { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *dumpBuilder) ptr(v uint64) { binary.Write(&b.buf, binary.LittleEndian, uint32(v)) }
func (b *dumpBuilder) uint(v uint64) { binary.Write(&b.buf, binary.LittleEndian, uint32(v)) }
func (b *dumpBuilder) f64(v float64) { binary.Write(&b.buf, binary.LittleEndian, v) }

func (b *dumpBuilder) str(s string, present bool) {
	if !present {
		b.uint(0xFFFFFFFF)
		return
	}
	b.uint(uint64(len(s)))
	b.buf.WriteString(s)
}

// header writes the magic/flags/version/type-size-table/immortals/roots/
// stack preamble. roots and stack are supplied by the caller.
func (b *dumpBuilder) header(roots map[string]uint64, rootOrder []string, stack []uint64) {
	b.buf.WriteString("PMAT")
	flags := byte(0)
	if b.ithreads {
		flags |= 0x10
	}
	b.u8(flags)
	b.u8(0) // reserved
	b.u8(supportedFormatMajor)
	b.u8(b.formatMinor)
	b.u32(5 << 24)
	b.u8(byte(len(b.typeSizes)))
	for _, ts := range b.typeSizes {
		b.u8(byte(ts.HeaderBytes))
		b.u8(byte(ts.NumPtrs))
		b.u8(byte(ts.NumStrs))
	}
	b.ptr(1) // undef
	b.ptr(2) // yes
	b.ptr(3) // no
	b.u32(uint32(len(rootOrder)))
	for _, name := range rootOrder {
		b.str(name, true)
		b.ptr(roots[name])
	}
	b.uint(uint64(len(stack)))
	for _, a := range stack {
		b.ptr(a)
	}
}

// common writes the trailing common-header fields every SV record shares.
func (b *dumpBuilder) common(addr uint64, refcount uint32, ownedSize uint64, blessed uint64) {
	b.ptr(addr)
	b.u32(refcount)
	b.uint(ownedSize)
	b.ptr(blessed)
}

func (b *dumpBuilder) glob(addr uint64, stash, scalar, array, hash, code, egv, io, form uint64, name, file string, line uint64) {
	b.u8(tagGlob)
	b.uint(line)
	b.common(addr, 1, 0, 0)
	for _, p := range []uint64{stash, scalar, array, hash, code, egv, io, form} {
		b.ptr(p)
	}
	b.str(name, true)
	b.str(file, true)
}

func (b *dumpBuilder) scalarIV(addr uint64, iv int64, ourStash uint64) {
	b.u8(tagScalar)
	b.u8(0x02) // HasIV
	b.uint(uint64(iv))
	b.f64(0)
	b.uint(0) // pvlen (unused; no PV)
	b.common(addr, 1, 16, 0)
	b.ptr(ourStash)
	b.str("", false)
}

func (b *dumpBuilder) scalarPV(addr uint64, pv string, ourStash uint64) {
	b.u8(tagScalar)
	b.u8(0x04) // HasPV
	b.uint(0)
	b.f64(0)
	b.uint(uint64(len(pv)))
	b.common(addr, 1, uint64(16+len(pv)), 0)
	b.ptr(ourStash)
	b.str(pv, true)
}

func (b *dumpBuilder) ref(addr uint64, target uint64, isWeak bool, ourStash uint64) {
	b.u8(tagRef)
	flags := byte(0)
	if isWeak {
		flags |= 0x01
	}
	b.u8(flags)
	b.common(addr, 1, 8, 0)
	b.ptr(target)
	b.ptr(ourStash)
}

func (b *dumpBuilder) array(addr uint64, elems []uint64, isReal bool, blessed uint64) {
	b.u8(tagArray)
	b.uint(uint64(len(elems)))
	flags := byte(0)
	if !isReal {
		flags |= 0x01
	}
	b.u8(flags)
	for _, e := range elems {
		b.ptr(e)
	}
	b.common(addr, 1, uint64(8*len(elems)), blessed)
}

func (b *dumpBuilder) hash(addr uint64, keys []string, values map[string]uint64, backrefs uint64, blessed uint64) {
	b.u8(tagHash)
	b.uint(uint64(len(keys)))
	for _, k := range keys {
		b.str(k, true)
		b.ptr(values[k])
	}
	b.common(addr, 1, uint64(16*len(keys)), blessed)
	b.ptr(backrefs)
}

func (b *dumpBuilder) stash(addr uint64, keys []string, values map[string]uint64, backrefs uint64, className string) {
	b.u8(tagStash)
	b.uint(uint64(len(keys)))
	for _, k := range keys {
		b.str(k, true)
		b.ptr(values[k])
	}
	b.common(addr, 1, uint64(16*len(keys)), 0)
	b.ptr(backrefs)
	b.ptr(0) // mro_linear_all
	b.ptr(0) // mro_linear_current
	b.ptr(0) // mro_nextmethod
	b.ptr(0) // mro_isa
	b.str(className, true)
}

type codeSpec struct {
	addr       uint64
	line       uint64
	flags      byte
	stashAddr  uint64
	globAddr   uint64
	outside    uint64
	padlist    uint64
	constValue uint64
	file       string
	constants  []uint64
	globrefs   []uint64
	padnames   uint64
}

func (b *dumpBuilder) code(c codeSpec) {
	b.u8(tagCode)
	b.uint(c.line)
	b.u8(c.flags)
	b.ptr(0) // oproot
	for _, p := range c.constants {
		b.u8(codexConst)
		b.ptr(p)
	}
	for _, p := range c.globrefs {
		b.u8(codexGV)
		b.ptr(p)
	}
	if c.padnames != 0 {
		b.u8(codexPadnames)
		b.ptr(c.padnames)
	}
	b.u8(0) // end of CODEx stream
	b.common(c.addr, 1, 0, 0)
	b.ptr(c.stashAddr)
	b.ptr(c.globAddr)
	b.ptr(c.outside)
	b.ptr(c.padlist)
	b.ptr(c.constValue)
	b.str(c.file, true)
}

func (b *dumpBuilder) heapEnd() { b.u8(tagHeapEnd) }

func (b *dumpBuilder) subContext(file string, line uint64, code, args uint64) {
	b.u8(ctxSub)
	b.u8(byte(GimmeScalar))
	b.str(file, true)
	b.uint(line)
	b.ptr(code)
	b.ptr(args)
}

func (b *dumpBuilder) contextsEnd() { b.u8(0) }

func (b *dumpBuilder) bytes() []byte { return b.buf.Bytes() }
