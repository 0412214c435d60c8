package crc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumResidue(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for n := 0; n < 300; n++ {
		p := make([]byte, n)
		r.Read(p)
		full := Append(append([]byte(nil), p...))
		require.Len(t, full, n+Size)
		require.Zero(t, Checksum(full), "length %d", n)
		require.True(t, Valid(full))
	}
}

func TestUpdateByteMatchesUpdate(t *testing.T) {
	p := []byte("measurement while drilling\x10\x01\x02\x03")
	c := Init
	for _, b := range p {
		c = UpdateByte(c, b)
	}
	require.Equal(t, Checksum(p), c)
	require.Equal(t, Update(Update(Init, p[:5]), p[5:]), c)
}

func TestStampAndCorruption(t *testing.T) {
	buf := make([]byte, 16+Size)
	copy(buf, "storage unit 01")
	Stamp(buf)
	require.True(t, Valid(buf))
	buf[3] ^= 0x40
	require.False(t, Valid(buf))
	require.False(t, Valid([]byte{1, 2}))
}
