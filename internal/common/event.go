package common

// Event is data emitted below the transaction level: an EVM log, a Cosmos ABCI
// event or a Substrate runtime event.
type Event struct {
	Network     string   `json:"network"`
	BlockHeight uint64   `json:"block_height"`
	TxHash      string   `json:"tx_hash,omitempty"`
	Index       uint64   `json:"index"`
	Source      string   `json:"source"`
	Name        string   `json:"name"`
	Topics      []string `json:"topics,omitempty"`
	Data        string   `json:"data,omitempty"`
}
