// Package crc provides the checksum shared by RASP framing and NVRAM storage units.
package crc

import "hash/crc32"

// The checksum is a reflected CRC-32 (IEEE polynomial) without final
// inversion. Appending the checksum little-endian to the data it covers
// makes the checksum of the whole span zero.

// Size is the checksum size in bytes.
const Size = 4

// Init is the initial register value.
const Init uint32 = 0xffffffff

var table = crc32.MakeTable(crc32.IEEE)

// Update folds p into a running checksum.
func Update(c uint32, p []byte) uint32 {
	return ^crc32.Update(^c, table, p)
}

// UpdateByte folds a single byte into a running checksum.
func UpdateByte(c uint32, b byte) uint32 {
	return table[byte(c)^b] ^ (c >> 8)
}

// Checksum computes the checksum of p.
func Checksum(p []byte) uint32 {
	return Update(Init, p)
}

// Put stores c into dst little-endian.
func Put(dst []byte, c uint32) {
	_ = dst[Size-1]
	dst[0], dst[1], dst[2], dst[3] = byte(c), byte(c>>8), byte(c>>16), byte(c>>24)
}

// Append appends the checksum of p to p.
func Append(p []byte) []byte {
	var b [Size]byte
	Put(b[:], Checksum(p))
	return append(p, b[:]...)
}

// Stamp computes the checksum over all but the last Size bytes of p
// and stores it in the trailing Size bytes.
func Stamp(p []byte) {
	n := len(p) - Size
	Put(p[n:], Checksum(p[:n]))
}

// Valid reports whether p ends with its own checksum.
func Valid(p []byte) bool {
	return len(p) >= Size && Checksum(p) == 0
}
