package common

import (
	"github.com/holiman/uint256"
)

type Transaction struct {
	Network     string       `json:"network"`
	Hash        string       `json:"hash"`
	BlockHeight uint64       `json:"block_height"`
	Index       uint64       `json:"index"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Value       *uint256.Int `json:"value,omitempty"`
	Fee         *uint256.Int `json:"fee,omitempty"`
	GasUsed     uint64       `json:"gas_used"`
	GasLimit    uint64       `json:"gas_limit"`
	GasPrice    *uint256.Int `json:"gas_price,omitempty"`
	Success     bool         `json:"success"`
	ResultCode  uint32       `json:"result_code"`
	Method      string       `json:"method,omitempty"`
}

// Addresses returns the non-empty participants of the transaction
func (t *Transaction) Addresses() []string {
	addrs := make([]string, 0, 2)
	if t.From != "" {
		addrs = append(addrs, t.From)
	}
	if t.To != "" && t.To != t.From {
		addrs = append(addrs, t.To)
	}
	return addrs
}
