package rpc

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

func HeightParam(height uint64) string {
	return hexutil.EncodeUint64(height)
}

// HexToUint64 decodes a 0x quantity. Empty values decode to zero.
func HexToUint64(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return hexutil.DecodeUint64(s)
}

// HexToUint256 decodes a 0x quantity of up to 256 bits. Empty values decode to nil.
func HexToUint256(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := uint256.FromHex(s)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return v, nil
}

// DecimalToUint64 parses the base-10 strings CometBFT uses for int64 fields
func DecimalToUint64(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
