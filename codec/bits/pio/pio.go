// Package pio provides plain big-endian integer packing helpers used by the
// codec parsers. It mirrors the small helper surface the original streamer
// codebase pulled in from its utils/bits/pio package: fixed-width
// big-endian get/put functions with no allocation and no error return,
// matching how NAL length prefixes and decoder configuration record fields
// are framed.
package pio

// U16BE reads a 16-bit big-endian unsigned integer from b.
func U16BE(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// U24BE reads a 24-bit big-endian unsigned integer from b.
func U24BE(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// U32BE reads a 32-bit big-endian unsigned integer from b.
func U32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// U64BE reads a 64-bit big-endian unsigned integer from b.
func U64BE(b []byte) uint64 {
	return uint64(U32BE(b))<<32 | uint64(U32BE(b[4:]))
}

// PutU16BE writes v into b as a 16-bit big-endian unsigned integer.
func PutU16BE(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// PutU24BE writes v into b as a 24-bit big-endian unsigned integer.
func PutU24BE(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// PutU32BE writes v into b as a 32-bit big-endian unsigned integer.
func PutU32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// PutU64BE writes v into b as a 64-bit big-endian unsigned integer.
func PutU64BE(b []byte, v uint64) {
	PutU32BE(b, uint32(v>>32))
	PutU32BE(b[4:], uint32(v))
}
