// Package byteconv converts between big-endian wire integers and bytes.
package byteconv

import "encoding/binary"

// Uint32ToBytes encodes v as 4 big-endian bytes.
func Uint32ToBytes(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// BytesToUint32 decodes the first 4 bytes of b as a big-endian uint32.
func BytesToUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// Uint64ToBytes encodes v as 8 big-endian bytes.
func Uint64ToBytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// BytesToUint64 decodes the first 8 bytes of b as a big-endian uint64.
func BytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
