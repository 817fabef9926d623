package binstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitpan/Devel-MAT/internal/diag"
)

func cfg32le() Config { return Config{Order: LittleEndian, IntWidth: 4, PtrWidth: 4, FloatWidth: 8} }
func cfg64be() Config { return Config{Order: BigEndian, IntWidth: 8, PtrWidth: 8, FloatWidth: 8} }

func TestReadU8U32U64(t *testing.T) {
	data := []byte{0x2a, 0x01, 0x00, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0, 1}
	r := New(data, cfg32le())

	b, err := r.ReadU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x2a), b)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), u32)

	u64, err := r.ReadU64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<56, u64)
}

func TestReadUintBigEndian(t *testing.T) {
	data := []byte{0, 0, 0, 0, 0, 0, 0, 42}
	r := New(data, cfg64be())
	v, err := r.ReadUint()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}

func TestReadExactTruncated(t *testing.T) {
	r := New([]byte{1, 2}, cfg32le())
	_, err := r.ReadExact(3)
	require.Error(t, err)
	var derr *diag.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, diag.KindTruncated, derr.Kind)
}

func TestReadStringNoneSentinel(t *testing.T) {
	// 4-byte all-ones length == "absent", per §4.1/§8.
	data := []byte{0xff, 0xff, 0xff, 0xff}
	r := New(data, cfg32le())
	s, ok, err := r.ReadString()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", s)
}

func TestReadStringZeroLengthIsNotAbsent(t *testing.T) {
	data := []byte{0, 0, 0, 0}
	r := New(data, cfg32le())
	s, ok, err := r.ReadString()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", s)
}

func TestReadStringRoundTrip(t *testing.T) {
	payload := "don't"
	data := []byte{byte(len(payload)), 0, 0, 0}
	data = append(data, payload...)
	r := New(data, cfg32le())
	s, ok, err := r.ReadString()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, s)
}

func TestReadPointerArrayOfN(t *testing.T) {
	data := []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0}
	r := New(data, cfg32le())
	ptrs, err := r.ReadPointerArrayOfN(3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ptrs)
}

func TestReadFloat64(t *testing.T) {
	// 1.5 as IEEE-754 double, little-endian.
	data := []byte{0, 0, 0, 0, 0, 0, 0xf8, 0x3f}
	r := New(data, cfg32le())
	v, err := r.ReadFloat()
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}

func TestAtCreatesIndependentCursor(t *testing.T) {
	data := []byte{0xaa, 0xbb, 0xcc}
	r := New(data, cfg32le())
	r2 := r.At(2)
	b, err := r2.ReadU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xcc), b)
	// original cursor unaffected
	assert.Equal(t, 0, r.Pos())
}
