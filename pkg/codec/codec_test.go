package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedRoundTrip(t *testing.T) {
	var buf []byte
	buf = PutFixed32(buf, 0xdeadbeef)
	buf = PutFixed64(buf, 0x0102030405060708)

	v32, rest, err := GetFixed32(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), v32)

	v64, rest, err := GetFixed64(rest)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), v64)
	require.Empty(t, rest)
}

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<64 - 1}
	var buf []byte
	for _, v := range values {
		buf = PutUvarint(buf, v)
	}
	for _, want := range values {
		got, rest, err := GetUvarint64(buf)
		require.NoError(t, err)
		require.Equal(t, want, got)
		buf = rest
	}
	require.Empty(t, buf)
}

func TestUvarint32Overflow(t *testing.T) {
	buf := PutUvarint(nil, 1<<33)
	_, _, err := GetUvarint32(buf)
	require.ErrorIs(t, err, ErrVarintOverflow)
}

func TestGetUvarintShortBuffer(t *testing.T) {
	_, _, err := GetUvarint64([]byte{0x80, 0x80})
	require.ErrorIs(t, err, ErrBufferTooShort)
}

func TestBytesRoundTrip(t *testing.T) {
	buf := PutBytes(nil, []byte("hello world"))
	got, rest, err := GetBytes(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
	require.Empty(t, rest)
}

func TestGetBytesShort(t *testing.T) {
	buf := PutUvarint(nil, 10)
	_, _, err := GetBytes(buf)
	require.ErrorIs(t, err, ErrBufferTooShort)
}
