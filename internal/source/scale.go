package source

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var errShortInput = errors.New("scale: input too short")

// decodeCompact reads a SCALE compact integer and returns it with the number
// of bytes consumed. Values above 64 bits are rejected.
func decodeCompact(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, errShortInput
	}
	switch b[0] & 0b11 {
	case 0b00:
		return uint64(b[0] >> 2), 1, nil
	case 0b01:
		if len(b) < 2 {
			return 0, 0, errShortInput
		}
		return uint64(binary.LittleEndian.Uint16(b[:2]) >> 2), 2, nil
	case 0b10:
		if len(b) < 4 {
			return 0, 0, errShortInput
		}
		return uint64(binary.LittleEndian.Uint32(b[:4]) >> 2), 4, nil
	default:
		n := int(b[0]>>2) + 4
		if n > 8 {
			return 0, 0, fmt.Errorf("scale: compact integer of %d bytes", n)
		}
		if len(b) < 1+n {
			return 0, 0, errShortInput
		}
		var buf [8]byte
		copy(buf[:], b[1:1+n])
		return binary.LittleEndian.Uint64(buf[:]), 1 + n, nil
	}
}

// decodeUint64LE reads a fixed-width little-endian u64 storage value
func decodeUint64LE(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, errShortInput
	}
	return binary.LittleEndian.Uint64(b[:8]), nil
}

// decodeUint128LE reads a fixed-width little-endian u128 storage value
func decodeUint128LE(b []byte) (*uint256.Int, error) {
	if len(b) < 16 {
		return nil, errShortInput
	}
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = b[15-i]
	}
	return new(uint256.Int).SetBytes(be), nil
}
