package source

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/thirdweb-dev/ledgersync/internal/rpc"
)

const (
	evmBlocksPerRequest   = 100
	evmReceiptsPerRequest = 50
)

type evmHeader struct {
	Number hexutil.Uint64 `json:"number"`
	Hash   string         `json:"hash"`
}

type evmBlock struct {
	Number        hexutil.Uint64   `json:"number"`
	Hash          string           `json:"hash"`
	ParentHash    string           `json:"parentHash"`
	Timestamp     hexutil.Uint64   `json:"timestamp"`
	Miner         string           `json:"miner"`
	GasUsed       hexutil.Uint64   `json:"gasUsed"`
	GasLimit      hexutil.Uint64   `json:"gasLimit"`
	BaseFeePerGas *hexutil.Big     `json:"baseFeePerGas"`
	L1BlockNumber *hexutil.Uint64  `json:"l1BlockNumber"`
	Transactions  []evmTransaction `json:"transactions"`
}

type evmTransaction struct {
	Hash             string         `json:"hash"`
	From             string         `json:"from"`
	To               *string        `json:"to"`
	TransactionIndex hexutil.Uint64 `json:"transactionIndex"`
	Value            *hexutil.Big   `json:"value"`
	Gas              hexutil.Uint64 `json:"gas"`
	GasPrice         *hexutil.Big   `json:"gasPrice"`
	Input            string         `json:"input"`
}

type evmReceipt struct {
	TransactionHash   string          `json:"transactionHash"`
	Status            *hexutil.Uint64 `json:"status"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	L1Fee             *hexutil.Big    `json:"l1Fee"`
	L1GasUsed         *hexutil.Big    `json:"l1GasUsed"`
	GasUsedForL1      *hexutil.Big    `json:"gasUsedForL1"`
	Logs              []evmLog        `json:"logs"`
}

type evmLog struct {
	Address         string         `json:"address"`
	Topics          []string       `json:"topics"`
	Data            string         `json:"data"`
	LogIndex        hexutil.Uint64 `json:"logIndex"`
	TransactionHash string         `json:"transactionHash"`
}

// EVMSource reads Ethereum and EVM rollups over JSON-RPC. Blocks and receipts
// are fetched in batched calls; rollup fee fields are filled for the l2 family.
type EVMSource struct {
	client  *rpc.Client
	eth     *ethclient.Client
	network string
	chainID string
	isL2    bool

	chainMu       sync.Mutex
	chainVerified bool
}

func NewEVMSource(client *rpc.Client, cfg config.NetworkConfig) *EVMSource {
	return &EVMSource{
		client:  client,
		eth:     ethclient.NewClient(client.RPCClient),
		network: cfg.Name,
		chainID: cfg.ChainID,
		isL2:    cfg.Family == config.FamilyL2,
	}
}

func (s *EVMSource) Network() string { return s.network }

func (s *EVMSource) Close() { s.client.Close() }

func (s *EVMSource) Family() common.Family {
	if s.isL2 {
		return common.FamilyL2
	}
	return common.FamilyEthereum
}

// verifyChain fails permanently when the endpoint serves another chain than configured
func (s *EVMSource) verifyChain(ctx context.Context) error {
	if s.chainID == "" {
		return nil
	}
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	if s.chainVerified {
		return nil
	}
	id, err := s.eth.ChainID(ctx)
	if err != nil {
		return rpc.Classify("eth_chainId", err)
	}
	if id.String() != s.chainID {
		return &common.PermanentSourceError{Op: "eth_chainId", Err: fmt.Errorf("endpoint serves chain %s, expected %s", id, s.chainID)}
	}
	s.chainVerified = true
	return nil
}

func (s *EVMSource) GetHead(ctx context.Context) (uint64, error) {
	if err := s.verifyChain(ctx); err != nil {
		return 0, err
	}
	head, err := s.eth.BlockNumber(ctx)
	if err != nil {
		return 0, rpc.Classify("eth_blockNumber", err)
	}
	return head, nil
}

func (s *EVMSource) GetBlockHashes(ctx context.Context, from, to uint64) (map[uint64]string, error) {
	heights := heightRange(from, to)
	results := rpc.FetchInBatches[uint64, *evmHeader](ctx, s.client, heights, evmBlocksPerRequest, "eth_getBlockByNumber", func(h uint64) []interface{} {
		return []interface{}{rpc.HeightParam(h), false}
	})
	hashes := make(map[uint64]string, len(results))
	for _, r := range results {
		if r.Error != nil {
			return nil, r.Error
		}
		if r.Result == nil {
			return nil, &common.HeightNotFoundError{Height: r.Key}
		}
		hashes[r.Key] = r.Result.Hash
	}
	return hashes, nil
}

func (s *EVMSource) GetBlockRange(ctx context.Context, from, to uint64) ([]common.BlockData, error) {
	heights := heightRange(from, to)
	if len(heights) == 0 {
		return nil, nil
	}

	var wg sync.WaitGroup
	var blocks []rpc.BatchResult[uint64, *evmBlock]
	var receipts []rpc.BatchResult[uint64, []evmReceipt]
	wg.Add(2)

	go func() {
		defer wg.Done()
		blocks = rpc.FetchInBatches[uint64, *evmBlock](ctx, s.client, heights, evmBlocksPerRequest, "eth_getBlockByNumber", func(h uint64) []interface{} {
			return []interface{}{rpc.HeightParam(h), true}
		})
	}()

	go func() {
		defer wg.Done()
		receipts = rpc.FetchInBatches[uint64, []evmReceipt](ctx, s.client, heights, evmReceiptsPerRequest, "eth_getBlockReceipts", func(h uint64) []interface{} {
			return []interface{}{rpc.HeightParam(h)}
		})
	}()

	wg.Wait()

	out := make([]common.BlockData, 0, len(heights))
	for i, h := range heights {
		if blocks[i].Error != nil {
			return nil, blocks[i].Error
		}
		if blocks[i].Result == nil {
			return nil, &common.HeightNotFoundError{Height: h}
		}
		if receipts[i].Error != nil {
			return nil, receipts[i].Error
		}
		bd, err := s.serializeBlock(blocks[i].Result, receipts[i].Result)
		if err != nil {
			return nil, err
		}
		if bd.Block.Height != h {
			return nil, &common.TransientSourceError{Op: "eth_getBlockByNumber", Err: fmt.Errorf("requested height %d, got %d", h, bd.Block.Height)}
		}
		out = append(out, bd)
	}
	return out, nil
}

func (s *EVMSource) serializeBlock(raw *evmBlock, rawReceipts []evmReceipt) (common.BlockData, error) {
	if len(rawReceipts) != len(raw.Transactions) {
		// receipts lag behind blocks on some load-balanced endpoints
		return common.BlockData{}, &common.TransientSourceError{
			Op:  "eth_getBlockReceipts",
			Err: fmt.Errorf("block %d has %d transactions but %d receipts", uint64(raw.Number), len(raw.Transactions), len(rawReceipts)),
		}
	}
	receiptsByHash := make(map[string]*evmReceipt, len(rawReceipts))
	for i := range rawReceipts {
		receiptsByHash[strings.ToLower(rawReceipts[i].TransactionHash)] = &rawReceipts[i]
	}

	ext := &common.EthereumBlockExt{
		Miner:         strings.ToLower(raw.Miner),
		GasUsed:       uint64(raw.GasUsed),
		GasLimit:      uint64(raw.GasLimit),
		BaseFeePerGas: hexBigToUint256(raw.BaseFeePerGas),
	}
	bd := common.BlockData{
		Block: common.Block{
			Height:     uint64(raw.Number),
			Hash:       raw.Hash,
			ParentHash: raw.ParentHash,
			Timestamp:  unixSeconds(uint64(raw.Timestamp)),
			Ext:        ext,
		},
		Transactions: make([]common.Transaction, 0, len(raw.Transactions)),
	}

	l2 := newL2Accumulator(ext.BaseFeePerGas)
	for _, rawTx := range raw.Transactions {
		receipt, ok := receiptsByHash[strings.ToLower(rawTx.Hash)]
		if !ok {
			return common.BlockData{}, &common.TransientSourceError{Op: "eth_getBlockReceipts", Err: fmt.Errorf("missing receipt for %s", rawTx.Hash)}
		}
		tx := serializeTransaction(rawTx, receipt)
		bd.Transactions = append(bd.Transactions, tx)
		for _, l := range receipt.Logs {
			bd.Events = append(bd.Events, serializeLog(l))
		}
		if s.isL2 {
			l2.add(rawTx, receipt)
		}
	}

	if s.isL2 {
		ext.L2 = l2.result()
		if raw.L1BlockNumber != nil {
			ext.L2.L1BlockNumber = uint64(*raw.L1BlockNumber)
		}
	}
	bd.Normalize(s.network)
	return bd, nil
}

func serializeTransaction(raw evmTransaction, receipt *evmReceipt) common.Transaction {
	tx := common.Transaction{
		Hash:     raw.Hash,
		Index:    uint64(raw.TransactionIndex),
		From:     strings.ToLower(raw.From),
		Value:    hexBigToUint256(raw.Value),
		GasLimit: uint64(raw.Gas),
		GasPrice: hexBigToUint256(raw.GasPrice),
		GasUsed:  uint64(receipt.GasUsed),
		Success:  true,
	}
	if raw.To != nil {
		tx.To = strings.ToLower(*raw.To)
	}
	if len(raw.Input) >= 10 {
		tx.Method = raw.Input[:10]
	}
	if receipt.Status != nil {
		tx.ResultCode = uint32(*receipt.Status)
		tx.Success = *receipt.Status == 1
	}

	price := hexBigToUint256(receipt.EffectiveGasPrice)
	if price == nil {
		price = tx.GasPrice
	}
	fee := new(uint256.Int)
	if price != nil {
		fee.Mul(uint256.NewInt(tx.GasUsed), price)
	}
	if l1Fee := hexBigToUint256(receipt.L1Fee); l1Fee != nil {
		fee.Add(fee, l1Fee)
	}
	tx.Fee = fee
	return tx
}

func serializeLog(raw evmLog) common.Event {
	ev := common.Event{
		TxHash: raw.TransactionHash,
		Index:  uint64(raw.LogIndex),
		Source: strings.ToLower(raw.Address),
		Topics: raw.Topics,
		Data:   raw.Data,
	}
	if len(raw.Topics) > 0 {
		ev.Name = raw.Topics[0]
	}
	return ev
}

// l2Accumulator sums the rollup fee split of one block
type l2Accumulator struct {
	baseFee      *uint256.Int
	l1Fees       *uint256.Int
	l2Fees       *uint256.Int
	tips         *uint256.Int
	l1DataGas    uint64
	calldataGas  uint64
	sawL1Details bool
}

func newL2Accumulator(baseFee *uint256.Int) *l2Accumulator {
	return &l2Accumulator{
		baseFee: baseFee,
		l1Fees:  new(uint256.Int),
		l2Fees:  new(uint256.Int),
		tips:    new(uint256.Int),
	}
}

func (a *l2Accumulator) add(tx evmTransaction, receipt *evmReceipt) {
	gasUsed := uint256.NewInt(uint64(receipt.GasUsed))
	price := hexBigToUint256(receipt.EffectiveGasPrice)
	if price == nil {
		price = hexBigToUint256(tx.GasPrice)
	}
	if price != nil {
		a.l2Fees.Add(a.l2Fees, new(uint256.Int).Mul(gasUsed, price))
		if a.baseFee != nil && price.Gt(a.baseFee) {
			tip := new(uint256.Int).Sub(price, a.baseFee)
			a.tips.Add(a.tips, tip.Mul(tip, gasUsed))
		}
	}

	switch {
	case receipt.L1Fee != nil:
		a.l1Fees.Add(a.l1Fees, hexBigToUint256(receipt.L1Fee))
	case receipt.GasUsedForL1 != nil && price != nil:
		forL1 := hexBigToUint256(receipt.GasUsedForL1)
		a.l1Fees.Add(a.l1Fees, forL1.Mul(forL1, price))
	}

	if receipt.L1GasUsed != nil {
		a.sawL1Details = true
		a.l1DataGas += (*big.Int)(receipt.L1GasUsed).Uint64()
		a.calldataGas += calldataGas(tx.Input)
	}
}

func (a *l2Accumulator) result() *common.L2BlockExt {
	ext := &common.L2BlockExt{
		L1GasFees:     a.l1Fees,
		L2GasFees:     a.l2Fees,
		SequencerFees: a.tips,
	}
	if a.sawL1Details && a.calldataGas > 0 {
		ext.CompressionRatio = float64(a.l1DataGas) / float64(a.calldataGas)
	}
	return ext
}

// calldataGas is the L1 gas the input would cost uncompressed: 16 per non-zero
// byte and 4 per zero byte
func calldataGas(input string) uint64 {
	data, err := hexutil.Decode(input)
	if err != nil {
		log.Debug().Err(err).Msg("Undecodable transaction input")
		return 0
	}
	var gas uint64
	for _, b := range data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas
}

func hexBigToUint256(b *hexutil.Big) *uint256.Int {
	if b == nil {
		return nil
	}
	v, overflow := uint256.FromBig((*big.Int)(b))
	if overflow {
		return nil
	}
	return v
}
