// Package binstream provides an endian- and width-aware primitive reader
// over a PMAT dump's byte stream.
package binstream

import (
	"encoding/binary"
	"math"

	"github.com/gitpan/Devel-MAT/internal/diag"
)

// Order is the byte order a dump declares in its flags byte.
type Order int

const (
	LittleEndian Order = iota
	BigEndian
)

func (o Order) binary() binary.ByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Config describes the width/endian conventions a dump's flags byte
// selects (§6.1 "flags" field; §4.1).
type Config struct {
	Order      Order
	IntWidth   int // 4 or 8
	PtrWidth   int // 4 or 8
	FloatWidth int // 8, 10, or 16
}

// Reader is a forward-only cursor over a byte slice, reading primitives per
// Config. It never seeks backward itself; callers needing random access
// build a new Reader at the desired offset via At.
type Reader struct {
	cfg  Config
	data []byte
	pos  int
}

// New creates a Reader over data starting at offset 0.
func New(data []byte, cfg Config) *Reader {
	return &Reader{cfg: cfg, data: data}
}

// At creates a Reader over the same underlying data starting at offset.
func (r *Reader) At(offset int) *Reader {
	return &Reader{cfg: r.cfg, data: r.data, pos: offset}
}

// Sub creates a Reader over a different (typically bounded) byte slice,
// inheriting this Reader's Config. Used to parse a length-bounded region
// (e.g. a per-type header buffer) with the same width/endian rules.
func (r *Reader) Sub(data []byte) *Reader {
	return &Reader{cfg: r.cfg, data: data}
}

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

// Len returns the total length of the underlying data.
func (r *Reader) Len() int { return len(r.data) }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// ReadExact reads exactly n bytes, failing with diag.Truncated at EOF.
func (r *Reader) ReadExact(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, diag.New(diag.KindTruncated, int64(r.pos), "need %d bytes, have %d", n, r.Remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.ReadExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU32 reads a 4-byte unsigned integer at the configured endian.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadExact(4)
	if err != nil {
		return 0, err
	}
	return r.cfg.Order.binary().Uint32(b), nil
}

// ReadU64 reads an 8-byte unsigned integer at the configured endian.
func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.ReadExact(8)
	if err != nil {
		return 0, err
	}
	return r.cfg.Order.binary().Uint64(b), nil
}

// ReadUint reads a cfg.IntWidth-byte unsigned integer.
func (r *Reader) ReadUint() (uint64, error) {
	return r.readWidth(r.cfg.IntWidth)
}

// ReadPointer reads a cfg.PtrWidth-byte address.
func (r *Reader) ReadPointer() (uint64, error) {
	return r.readWidth(r.cfg.PtrWidth)
}

func (r *Reader) readWidth(width int) (uint64, error) {
	switch width {
	case 4:
		v, err := r.ReadU32()
		return uint64(v), err
	case 8:
		return r.ReadU64()
	default:
		return 0, diag.New(diag.KindUnknownFlag, int64(r.pos), "unsupported integer width %d", width)
	}
}

// ReadFloat reads a cfg.FloatWidth-byte IEEE-754-family float. 10- and
// 16-byte widths are producer-native "long double" encodings; this reader
// widens them to float64 by taking the nearest representable value from
// the leading 8 bytes' worth of exponent+mantissa bits it can preserve,
// since no Go primitive float is wider than 8 bytes.
func (r *Reader) ReadFloat() (float64, error) {
	switch r.cfg.FloatWidth {
	case 8:
		bits, err := r.ReadU64()
		if err != nil {
			return 0, err
		}
		return math.Float64frombits(bits), nil
	case 10, 16:
		b, err := r.ReadExact(r.cfg.FloatWidth)
		if err != nil {
			return 0, err
		}
		return decodeExtendedFloat(b, r.cfg.Order)
	default:
		return 0, diag.New(diag.KindUnknownFlag, int64(r.pos), "unsupported float width %d", r.cfg.FloatWidth)
	}
}

// noneLength is the integer-width-wide all-ones sentinel meaning "string
// absent" (§4.1, §4.2 item 5, §8 boundary behavior).
func noneLength(width int) uint64 {
	if width >= 8 {
		return math.MaxUint64
	}
	return 1<<(uint(width)*8) - 1
}

// ReadString reads an integer-width length prefix followed by that many
// raw bytes. A length equal to the all-ones sentinel yields (ok=false),
// meaning the string is absent, not empty.
func (r *Reader) ReadString() (s string, ok bool, err error) {
	n, err := r.ReadUint()
	if err != nil {
		return "", false, err
	}
	if n == noneLength(r.cfg.IntWidth) {
		return "", false, nil
	}
	if n > uint64(r.Remaining()) {
		return "", false, diag.New(diag.KindTruncated, int64(r.pos), "string length %d exceeds remaining %d", n, r.Remaining())
	}
	b, err := r.ReadExact(int(n))
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// ReadPointerArrayOfN reads n consecutive pointers.
func (r *Reader) ReadPointerArrayOfN(n int) ([]uint64, error) {
	out := make([]uint64, n)
	for i := range out {
		p, err := r.ReadPointer()
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// decodeExtendedFloat widens an 80-bit (x86 long double, padded to 10 or 16
// bytes) extended-precision float to float64. Layout: 64-bit mantissa
// (explicit integer bit), 15-bit exponent, 1 sign bit, in the configured
// endian, with any remaining bytes (for the 16-byte padded form) ignored.
func decodeExtendedFloat(b []byte, order Order) (float64, error) {
	raw := make([]byte, len(b))
	copy(raw, b)
	if order == BigEndian {
		for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
			raw[i], raw[j] = raw[j], raw[i]
		}
	}
	// raw is now little-endian: bytes[0:8] mantissa, bytes[8:10] sign+exponent.
	if len(raw) < 10 {
		return 0, diag.New(diag.KindTruncated, 0, "extended float needs 10 bytes, have %d", len(raw))
	}
	mantissa := binary.LittleEndian.Uint64(raw[0:8])
	signExp := binary.LittleEndian.Uint16(raw[8:10])
	sign := signExp >> 15
	exp := int(signExp & 0x7fff)

	if exp == 0 && mantissa == 0 {
		if sign == 1 {
			return math.Copysign(0, -1), nil
		}
		return 0, nil
	}
	// Unbiased exponent relative to the 80-bit format's bias of 16383.
	unbiased := exp - 16383
	// mantissa's top bit is the explicit integer bit; value = mantissa / 2^63 * 2^unbiased.
	frac := float64(mantissa) / (1 << 63)
	v := frac * math.Pow(2, float64(unbiased))
	if sign == 1 {
		v = -v
	}
	return v, nil
}
