package common

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

type Family string

const (
	FamilyEthereum Family = "ethereum"
	FamilyL2       Family = "l2"
	FamilyCosmos   Family = "cosmos"
	FamilyPolkadot Family = "polkadot"
)

// BlockExt carries the attributes only one network family has. The concrete
// variants are EthereumBlockExt, CosmosBlockExt and PolkadotBlockExt.
type BlockExt interface {
	Family() Family
	isBlockExt()
}

type EthereumBlockExt struct {
	Miner         string       `json:"miner"`
	GasUsed       uint64       `json:"gas_used"`
	GasLimit      uint64       `json:"gas_limit"`
	BaseFeePerGas *uint256.Int `json:"base_fee_per_gas,omitempty"`
	L2            *L2BlockExt  `json:"l2,omitempty"`
}

// L2BlockExt holds rollup settlement data
type L2BlockExt struct {
	L1BlockNumber    uint64       `json:"l1_block_number"`
	L1GasFees        *uint256.Int `json:"l1_gas_fees,omitempty"`
	L2GasFees        *uint256.Int `json:"l2_gas_fees,omitempty"`
	SequencerFees    *uint256.Int `json:"sequencer_fees,omitempty"`
	CompressionRatio float64      `json:"compression_ratio"`
	FinalityTime     int64        `json:"finality_time_ms"`
}

type CosmosBlockExt struct {
	Proposer  string       `json:"proposer"`
	AppHash   string       `json:"app_hash"`
	GasWanted uint64       `json:"gas_wanted"`
	GasUsed   uint64       `json:"gas_used"`
	TotalFees *uint256.Int `json:"total_fees,omitempty"`
	FeeDenom  string       `json:"fee_denom,omitempty"`
}

type PolkadotBlockExt struct {
	StateRoot       string       `json:"state_root"`
	ExtrinsicsRoot  string       `json:"extrinsics_root"`
	ExtrinsicsCount uint64       `json:"extrinsics_count"`
	SpecVersion     uint32       `json:"spec_version"`
	TotalIssuance   *uint256.Int `json:"total_issuance,omitempty"`
}

func (e *EthereumBlockExt) Family() Family {
	if e.L2 != nil {
		return FamilyL2
	}
	return FamilyEthereum
}
func (*CosmosBlockExt) Family() Family   { return FamilyCosmos }
func (*PolkadotBlockExt) Family() Family { return FamilyPolkadot }

func (*EthereumBlockExt) isBlockExt() {}
func (*CosmosBlockExt) isBlockExt()   {}
func (*PolkadotBlockExt) isBlockExt() {}

type taggedExt struct {
	Family Family          `json:"family"`
	Data   json.RawMessage `json:"data"`
}

// MarshalBlockExt encodes an extension with its family tag. A nil extension
// encodes to nil.
func MarshalBlockExt(ext BlockExt) ([]byte, error) {
	if ext == nil {
		return nil, nil
	}
	data, err := json.Marshal(ext)
	if err != nil {
		return nil, fmt.Errorf("error marshalling %s block extension: %w", ext.Family(), err)
	}
	return json.Marshal(taggedExt{Family: ext.Family(), Data: data})
}

func UnmarshalBlockExt(raw []byte) (BlockExt, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var tagged taggedExt
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, fmt.Errorf("error decoding block extension: %w", err)
	}

	var ext BlockExt
	switch tagged.Family {
	case FamilyEthereum, FamilyL2:
		ext = &EthereumBlockExt{}
	case FamilyCosmos:
		ext = &CosmosBlockExt{}
	case FamilyPolkadot:
		ext = &PolkadotBlockExt{}
	default:
		return nil, fmt.Errorf("unknown block extension family %q", tagged.Family)
	}
	if err := json.Unmarshal(tagged.Data, ext); err != nil {
		return nil, fmt.Errorf("error decoding %s block extension: %w", tagged.Family, err)
	}
	return ext, nil
}
