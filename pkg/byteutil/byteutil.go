// Package byteutil provides fixed-width integer packing and byte formatting
// helpers shared by the key derivation and sealing code.
package byteutil

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// StoreInt16BE writes v into b[off:off+2] in big-endian order.
func StoreInt16BE(v uint16, b []byte, off int) {
	binary.BigEndian.PutUint16(b[off:off+2], v)
}

// StoreInt32BE writes v into b[off:off+4] in big-endian order.
// The caller must guarantee off+4 <= len(b).
func StoreInt32BE(v uint32, b []byte, off int) {
	binary.BigEndian.PutUint32(b[off:off+4], v)
}

// StoreInt32LE writes v into b[off:off+4] in little-endian order.
func StoreInt32LE(v uint32, b []byte, off int) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// StoreInt64BE writes v into b[off:off+8] in big-endian order.
func StoreInt64BE(v uint64, b []byte, off int) {
	binary.BigEndian.PutUint64(b[off:off+8], v)
}

// StoreInt64LE writes v into b[off:off+8] in little-endian order.
func StoreInt64LE(v uint64, b []byte, off int) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// LoadInt16BE reads a big-endian 16-bit value from b[off:off+2].
func LoadInt16BE(b []byte, off int) uint16 {
	return binary.BigEndian.Uint16(b[off : off+2])
}

// LoadInt32BE reads a big-endian 32-bit value from b[off:off+4].
func LoadInt32BE(b []byte, off int) uint32 {
	return binary.BigEndian.Uint32(b[off : off+4])
}

// LoadInt32LE reads a little-endian 32-bit value from b[off:off+4].
func LoadInt32LE(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// LoadInt64BE reads a big-endian 64-bit value from b[off:off+8].
func LoadInt64BE(b []byte, off int) uint64 {
	return binary.BigEndian.Uint64(b[off : off+8])
}

// LoadInt64LE reads a little-endian 64-bit value from b[off:off+8].
func LoadInt64LE(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+8])
}

// BytesToHex returns the lower-case hex encoding of b.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// HexToBytes decodes a hex string. Odd lengths and non-hex digits are errors.
func HexToBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return b, nil
}

// HumanReadableByteCount formats n using 1024-based units,
// e.g. 512 -> "512 B", 1536 -> "1.5 KB".
func HumanReadableByteCount(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
