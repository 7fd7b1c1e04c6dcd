package source

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCompact(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected uint64
		size     int
	}{
		{name: "single byte", input: []byte{0x04}, expected: 1, size: 1},
		{name: "single byte max", input: []byte{0xfc}, expected: 63, size: 1},
		{name: "two bytes", input: []byte{0x15, 0x01}, expected: 69, size: 2},
		{name: "four bytes", input: []byte{0x02, 0x00, 0x01, 0x00}, expected: 16384, size: 4},
		{name: "big integer", input: []byte{0x03, 0x00, 0x00, 0x00, 0x40}, expected: 1 << 30, size: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, n, err := decodeCompact(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
			assert.Equal(t, tt.size, n)
		})
	}
}

func TestDecodeCompactRejectsBadInput(t *testing.T) {
	_, _, err := decodeCompact(nil)
	assert.ErrorIs(t, err, errShortInput)
	_, _, err = decodeCompact([]byte{0x01})
	assert.ErrorIs(t, err, errShortInput)
	// 13 byte big integer does not fit in 64 bits
	_, _, err = decodeCompact([]byte{0x27})
	assert.Error(t, err)
}

func TestDecodeFixedWidth(t *testing.T) {
	v, err := decodeUint64LE([]byte{0x00, 0x10, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), v)

	big, err := decodeUint128LE([]byte{1, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551617", big.Dec())

	_, err = decodeUint128LE([]byte{1, 2, 3})
	assert.ErrorIs(t, err, errShortInput)
}

func TestSerializeExtrinsic(t *testing.T) {
	// unsigned: length, version 4, pallet 3, call 0
	unsigned := hexutil.Encode([]byte{0x0c, 0x04, 0x03, 0x00})
	tx, err := serializeExtrinsic(2, unsigned)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tx.Index)
	assert.Equal(t, "3.0", tx.Method)
	assert.Empty(t, tx.From)
	assert.Len(t, tx.Hash, 66)
	assert.True(t, tx.Success)

	signer := make([]byte, 32)
	signer[31] = 0xaa
	body := append([]byte{0x84, 0x00}, signer...)
	signed := hexutil.Encode(append([]byte{byte(len(body) << 2)}, body...))
	tx, err = serializeExtrinsic(0, signed)
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("00", 31)+"aa", tx.From)
	assert.Empty(t, tx.Method)

	_, err = serializeExtrinsic(0, "zz")
	assert.Error(t, err)
}

func TestParseCoin(t *testing.T) {
	amount, denom := parseCoin("5000uatom,10ibc/27394FB092")
	require.NotNil(t, amount)
	assert.Equal(t, uint64(5000), amount.Uint64())
	assert.Equal(t, "uatom", denom)

	amount, denom = parseCoin("12ibc/27394FB092")
	require.NotNil(t, amount)
	assert.Equal(t, "ibc/27394FB092", denom)

	amount, denom = parseCoin("")
	assert.Nil(t, amount)
	assert.Empty(t, denom)

	amount, _ = parseCoin("uatom")
	assert.Nil(t, amount)
}
