package footer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/kv"
)

func sample() *Footer {
	return &Footer{
		MinEntry:       kv.NewValue([]byte("a"), 1, []byte("1")),
		MaxEntry:       kv.NewValue([]byte("z"), 2, []byte("26")),
		DataBlockEnd:   100,
		DataBlockCount: 3,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := sample()
	raw := f.Encode()

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, f.MinEntry, got.MinEntry)
	require.Equal(t, f.MaxEntry, got.MaxEntry)
	require.Equal(t, f.DataBlockEnd, got.DataBlockEnd)
	require.Equal(t, f.DataBlockCount, got.DataBlockCount)
}

func TestDecodeTrailerMatchesEncode(t *testing.T) {
	f := sample()
	raw := f.Encode()

	size, crc, err := DecodeTrailer(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(len(raw)), size)
	require.NotZero(t, crc)
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	raw := sample().Encode()
	raw[0] ^= 0xFF

	_, err := Decode(raw)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	raw := sample().Encode()
	truncated := raw[:len(raw)-1]

	_, err := Decode(truncated)
	require.Error(t, err)
}

func TestValidateRejectsZeroDataBlockCount(t *testing.T) {
	f := sample()
	f.DataBlockCount = 0
	err := Validate(f, 1000, comparator.Default)
	require.ErrorIs(t, err, ErrInvalidStructure)
}

func TestValidateRejectsDataBlockEndBeyondFile(t *testing.T) {
	f := sample()
	f.DataBlockEnd = 10000
	err := Validate(f, 1000, comparator.Default)
	require.ErrorIs(t, err, ErrInvalidStructure)
}

func TestValidateRejectsInvertedEntryRange(t *testing.T) {
	f := sample()
	f.MinEntry, f.MaxEntry = f.MaxEntry, f.MinEntry
	err := Validate(f, 1000, comparator.Default)
	require.ErrorIs(t, err, ErrInvalidStructure)
}

func TestValidateAcceptsWellFormedFooter(t *testing.T) {
	f := sample()
	err := Validate(f, 1000, comparator.Default)
	require.NoError(t, err)
}
