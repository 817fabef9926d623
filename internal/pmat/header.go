package pmat

import "github.com/gitpan/Devel-MAT/internal/binstream"

// boundedHeader reads a type's per-type fixed header (the hdr_bytes the
// type-size table declares for one tag, §4.2 item 5). It is deliberately
// tolerant: a read past the declared length returns ok=false instead of an
// error, giving the caller the "shortfall yields None" behavior the format
// requires for fields an older producer never wrote. Bytes the known
// fields don't consume (a newer producer's appended fields) are skipped by
// skipToEnd rather than erroring, giving forward compatibility.
type boundedHeader struct {
	r       *binstream.Reader
	sub     *binstream.Reader
	declLen int
	start   int
}

func newBoundedHeader(r *binstream.Reader, declLen int) (*boundedHeader, error) {
	buf, err := r.ReadExact(declLen)
	if err != nil {
		return nil, err
	}
	return &boundedHeader{
		r:       r,
		sub:     r.Sub(buf),
		declLen: declLen,
	}, nil
}

func (h *boundedHeader) remaining() int { return h.sub.Remaining() }

func (h *boundedHeader) tryU8() (byte, bool) {
	if h.remaining() < 1 {
		return 0, false
	}
	v, err := h.sub.ReadU8()
	return v, err == nil
}

func (h *boundedHeader) tryUint() (uint64, bool) {
	v, err := h.sub.ReadUint()
	return v, err == nil
}

func (h *boundedHeader) tryPointer() (uint64, bool) {
	v, err := h.sub.ReadPointer()
	return v, err == nil
}

func (h *boundedHeader) tryFloat() (float64, bool) {
	v, err := h.sub.ReadFloat()
	return v, err == nil
}

func (h *boundedHeader) tryBytes(n int) ([]byte, bool) {
	if n < 0 || h.remaining() < n {
		return nil, false
	}
	b, err := h.sub.ReadExact(n)
	return b, err == nil
}

// skipToEnd discards any header bytes the known fields didn't consume
// (newer producer, extra fields this loader doesn't know about yet). It
// never errors: the sub-reader is already bounded to declLen.
func (h *boundedHeader) skipToEnd() error {
	return nil
}
