package source

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/thirdweb-dev/ledgersync/internal/rpc"
	"github.com/thirdweb-dev/ledgersync/internal/worker"
)

// CometBFT caps the blockchain method at 20 headers per call
const cosmosHeadersPerRequest = 20

type cosmosStatus struct {
	NodeInfo struct {
		Network string `json:"network"`
	} `json:"node_info"`
	SyncInfo struct {
		LatestBlockHeight string `json:"latest_block_height"`
	} `json:"sync_info"`
}

type cosmosBlockID struct {
	Hash string `json:"hash"`
}

type cosmosHeader struct {
	ChainID         string        `json:"chain_id"`
	Height          string        `json:"height"`
	Time            time.Time     `json:"time"`
	LastBlockID     cosmosBlockID `json:"last_block_id"`
	AppHash         string        `json:"app_hash"`
	ProposerAddress string        `json:"proposer_address"`
}

type cosmosBlock struct {
	BlockID cosmosBlockID `json:"block_id"`
	Block   struct {
		Header cosmosHeader `json:"header"`
		Data   struct {
			Txs []string `json:"txs"`
		} `json:"data"`
	} `json:"block"`
}

type cosmosBlockchain struct {
	BlockMetas []struct {
		BlockID cosmosBlockID `json:"block_id"`
		Header  cosmosHeader  `json:"header"`
	} `json:"block_metas"`
}

type cosmosAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type cosmosEvent struct {
	Type       string            `json:"type"`
	Attributes []cosmosAttribute `json:"attributes"`
}

type cosmosTxResult struct {
	Code      uint32        `json:"code"`
	Codespace string        `json:"codespace"`
	GasWanted string        `json:"gas_wanted"`
	GasUsed   string        `json:"gas_used"`
	Events    []cosmosEvent `json:"events"`
}

type cosmosBlockResults struct {
	Height              string           `json:"height"`
	TxsResults          []cosmosTxResult `json:"txs_results"`
	BeginBlockEvents    []cosmosEvent    `json:"begin_block_events"`
	EndBlockEvents      []cosmosEvent    `json:"end_block_events"`
	FinalizeBlockEvents []cosmosEvent    `json:"finalize_block_events"`
}

var coinPattern = regexp.MustCompile(`^([0-9]+)([a-zA-Z][a-zA-Z0-9/:._-]*)$`)

// CosmosSource reads CometBFT chains through the node's JSON-RPC endpoint.
// CometBFT has no range call for full blocks, so heights are fetched in
// parallel through a worker.
type CosmosSource struct {
	client  *rpc.Client
	worker  *worker.Worker
	network string
	chainID string
}

func NewCosmosSource(client *rpc.Client, cfg config.NetworkConfig) *CosmosSource {
	return &CosmosSource{
		client:  client,
		worker:  worker.NewWorker(cfg.MaxConcurrentRequests),
		network: cfg.Name,
		chainID: cfg.ChainID,
	}
}

func (s *CosmosSource) Network() string { return s.network }

func (s *CosmosSource) Close() { s.client.Close() }

func (s *CosmosSource) Family() common.Family { return common.FamilyCosmos }

func (s *CosmosSource) GetHead(ctx context.Context) (uint64, error) {
	var status cosmosStatus
	if err := s.client.Call(ctx, &status, "status"); err != nil {
		return 0, err
	}
	if s.chainID != "" && status.NodeInfo.Network != "" && status.NodeInfo.Network != s.chainID {
		return 0, &common.PermanentSourceError{Op: "status", Err: fmt.Errorf("endpoint serves chain %s, expected %s", status.NodeInfo.Network, s.chainID)}
	}
	head, err := rpc.DecimalToUint64(status.SyncInfo.LatestBlockHeight)
	if err != nil {
		return 0, &common.TransientSourceError{Op: "status", Err: err}
	}
	return head, nil
}

func (s *CosmosSource) GetBlockHashes(ctx context.Context, from, to uint64) (map[uint64]string, error) {
	hashes := make(map[uint64]string, to-from+1)
	for lo := from; lo <= to; lo += cosmosHeadersPerRequest {
		hi := min(lo+cosmosHeadersPerRequest-1, to)
		var chain cosmosBlockchain
		err := s.client.Call(ctx, &chain, "blockchain", strconv.FormatUint(lo, 10), strconv.FormatUint(hi, 10))
		if err != nil {
			return nil, s.heightError(lo, err)
		}
		for _, meta := range chain.BlockMetas {
			h, err := rpc.DecimalToUint64(meta.Header.Height)
			if err != nil {
				return nil, &common.TransientSourceError{Op: "blockchain", Err: err}
			}
			hashes[h] = meta.BlockID.Hash
		}
	}
	for h := from; h <= to; h++ {
		if _, ok := hashes[h]; !ok {
			return nil, &common.HeightNotFoundError{Height: h}
		}
	}
	return hashes, nil
}

func (s *CosmosSource) GetBlockRange(ctx context.Context, from, to uint64) ([]common.BlockData, error) {
	return worker.Run(ctx, s.worker, heightRange(from, to), s.getBlock)
}

func (s *CosmosSource) getBlock(ctx context.Context, height uint64) (common.BlockData, error) {
	param := strconv.FormatUint(height, 10)

	var block cosmosBlock
	if err := s.client.Call(ctx, &block, "block", param); err != nil {
		return common.BlockData{}, s.heightError(height, err)
	}
	var results cosmosBlockResults
	if err := s.client.Call(ctx, &results, "block_results", param); err != nil {
		return common.BlockData{}, s.heightError(height, err)
	}
	return s.serializeBlock(height, &block, &results)
}

// heightError turns the node's "height is not available yet" replies into a
// HeightNotFoundError
func (s *CosmosSource) heightError(height uint64, err error) error {
	var rpcErr gethRpc.Error
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "must be less than or equal to the current blockchain height") ||
			strings.Contains(msg, "could not find results for height") {
			return &common.HeightNotFoundError{Height: height}
		}
	}
	return err
}

func (s *CosmosSource) serializeBlock(height uint64, raw *cosmosBlock, results *cosmosBlockResults) (common.BlockData, error) {
	header := raw.Block.Header
	h, err := rpc.DecimalToUint64(header.Height)
	if err != nil || h != height {
		return common.BlockData{}, &common.TransientSourceError{Op: "block", Err: fmt.Errorf("requested height %d, got %q", height, header.Height)}
	}
	if len(results.TxsResults) != len(raw.Block.Data.Txs) {
		return common.BlockData{}, &common.TransientSourceError{
			Op:  "block_results",
			Err: fmt.Errorf("block %d has %d txs but %d results", height, len(raw.Block.Data.Txs), len(results.TxsResults)),
		}
	}

	ext := &common.CosmosBlockExt{
		Proposer:  header.ProposerAddress,
		AppHash:   header.AppHash,
		TotalFees: new(uint256.Int),
	}
	bd := common.BlockData{
		Block: common.Block{
			Height:     height,
			Hash:       raw.BlockID.Hash,
			ParentHash: header.LastBlockID.Hash,
			Timestamp:  header.Time,
			Ext:        ext,
		},
		Transactions: make([]common.Transaction, 0, len(raw.Block.Data.Txs)),
	}

	var eventIndex uint64
	appendEvents := func(txHash string, events []cosmosEvent) {
		for _, ev := range events {
			bd.Events = append(bd.Events, serializeCosmosEvent(txHash, eventIndex, ev))
			eventIndex++
		}
	}
	appendEvents("", results.BeginBlockEvents)

	for i, encoded := range raw.Block.Data.Txs {
		txBytes, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return common.BlockData{}, &common.TransientSourceError{Op: "block", Err: fmt.Errorf("undecodable tx %d at height %d: %w", i, height, err)}
		}
		sum := sha256.Sum256(txBytes)
		txHash := strings.ToUpper(hex.EncodeToString(sum[:]))

		res := results.TxsResults[i]
		tx, err := serializeCosmosTx(txHash, uint64(i), res)
		if err != nil {
			return common.BlockData{}, &common.TransientSourceError{Op: "block_results", Err: fmt.Errorf("tx %d at height %d: %w", i, height, err)}
		}
		if tx.Fee != nil {
			ext.TotalFees.Add(ext.TotalFees, tx.Fee)
			if ext.FeeDenom == "" {
				ext.FeeDenom = feeDenom(res.Events)
			}
		}
		ext.GasWanted += tx.GasLimit
		ext.GasUsed += tx.GasUsed
		bd.Transactions = append(bd.Transactions, tx)
		appendEvents(txHash, res.Events)
	}

	appendEvents("", results.EndBlockEvents)
	appendEvents("", results.FinalizeBlockEvents)

	bd.Normalize(s.network)
	return bd, nil
}

func serializeCosmosTx(hash string, index uint64, res cosmosTxResult) (common.Transaction, error) {
	tx := common.Transaction{
		Hash:       hash,
		Index:      index,
		Success:    res.Code == 0,
		ResultCode: res.Code,
	}
	var err error
	if tx.GasLimit, err = rpc.DecimalToUint64(res.GasWanted); err != nil {
		return common.Transaction{}, fmt.Errorf("bad gas_wanted %q: %w", res.GasWanted, err)
	}
	if tx.GasUsed, err = rpc.DecimalToUint64(res.GasUsed); err != nil {
		return common.Transaction{}, fmt.Errorf("bad gas_used %q: %w", res.GasUsed, err)
	}

	for _, ev := range res.Events {
		switch ev.Type {
		case "tx":
			if fee := attribute(ev, "fee"); fee != "" {
				if tx.Fee, _ = parseCoin(fee); tx.Fee == nil {
					return common.Transaction{}, fmt.Errorf("bad fee %q", fee)
				}
			}
			if payer := attribute(ev, "fee_payer"); payer != "" && tx.From == "" {
				tx.From = payer
			}
		case "message":
			if tx.Method == "" {
				tx.Method = attribute(ev, "action")
			}
			if sender := attribute(ev, "sender"); sender != "" && tx.From == "" {
				tx.From = sender
			}
		case "transfer":
			if tx.To == "" {
				tx.To = attribute(ev, "recipient")
				if amount, denom := parseCoin(attribute(ev, "amount")); amount != nil && denom != "" {
					tx.Value = amount
				}
			}
		}
	}
	return tx, nil
}

func serializeCosmosEvent(txHash string, index uint64, ev cosmosEvent) common.Event {
	out := common.Event{
		TxHash: txHash,
		Index:  index,
		Source: attribute(ev, "module"),
		Name:   ev.Type,
	}
	pairs := make([]string, 0, len(ev.Attributes))
	for _, a := range ev.Attributes {
		pairs = append(pairs, a.Key+"="+a.Value)
	}
	out.Topics = pairs
	return out
}

func attribute(ev cosmosEvent, key string) string {
	for _, a := range ev.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func feeDenom(events []cosmosEvent) string {
	for _, ev := range events {
		if ev.Type != "tx" {
			continue
		}
		if _, denom := parseCoin(attribute(ev, "fee")); denom != "" {
			return denom
		}
	}
	return ""
}

// parseCoin reads the first coin of a "5000uatom,10ibc/..." list
func parseCoin(s string) (*uint256.Int, string) {
	first, _, _ := strings.Cut(s, ",")
	m := coinPattern.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return nil, ""
	}
	amount, err := uint256.FromDecimal(m[1])
	if err != nil {
		return nil, ""
	}
	return amount, m[2]
}
