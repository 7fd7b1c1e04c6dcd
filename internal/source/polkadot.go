package source

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethRpc "github.com/ethereum/go-ethereum/rpc"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/thirdweb-dev/ledgersync/internal/rpc"
	"github.com/thirdweb-dev/ledgersync/internal/worker"
	"golang.org/x/crypto/blake2b"
)

// twox128("Balances") ++ twox128("TotalIssuance") and twox128("Timestamp") ++ twox128("Now")
const (
	totalIssuanceStorageKey = "0xc2261276cc9d1f8598ea4b6a74b15c2f57c875e4cff74148e4628f264b974c80"
	timestampNowStorageKey  = "0xf0c365c3cf59d671eb72da0e7a4113c49f1f0515f462cdcf84e0f1d6045dfcbb"
)

const polkadotHashesPerRequest = 100

type polkadotHeader struct {
	ParentHash     string `json:"parentHash"`
	Number         string `json:"number"`
	StateRoot      string `json:"stateRoot"`
	ExtrinsicsRoot string `json:"extrinsicsRoot"`
}

type polkadotSignedBlock struct {
	Block struct {
		Header     polkadotHeader `json:"header"`
		Extrinsics []string       `json:"extrinsics"`
	} `json:"block"`
}

type polkadotRuntimeVersion struct {
	SpecName    string `json:"specName"`
	SpecVersion uint32 `json:"specVersion"`
}

// PolkadotSource reads Substrate chains over JSON-RPC. Extrinsics become
// transactions; runtime events need chain metadata to decode and are not read.
type PolkadotSource struct {
	client  *rpc.Client
	worker  *worker.Worker
	network string
}

func NewPolkadotSource(client *rpc.Client, cfg config.NetworkConfig) *PolkadotSource {
	return &PolkadotSource{
		client:  client,
		worker:  worker.NewWorker(cfg.MaxConcurrentRequests),
		network: cfg.Name,
	}
}

func (s *PolkadotSource) Network() string { return s.network }

func (s *PolkadotSource) Close() { s.client.Close() }

func (s *PolkadotSource) Family() common.Family { return common.FamilyPolkadot }

func (s *PolkadotSource) GetHead(ctx context.Context) (uint64, error) {
	var header polkadotHeader
	if err := s.client.Call(ctx, &header, "chain_getHeader"); err != nil {
		return 0, err
	}
	head, err := rpc.HexToUint64(header.Number)
	if err != nil {
		return 0, &common.TransientSourceError{Op: "chain_getHeader", Err: err}
	}
	return head, nil
}

func (s *PolkadotSource) GetBlockHashes(ctx context.Context, from, to uint64) (map[uint64]string, error) {
	heights := heightRange(from, to)
	results := rpc.FetchInBatches[uint64, *string](ctx, s.client, heights, polkadotHashesPerRequest, "chain_getBlockHash", func(h uint64) []interface{} {
		return []interface{}{h}
	})
	hashes := make(map[uint64]string, len(results))
	for _, r := range results {
		if r.Error != nil {
			return nil, r.Error
		}
		if r.Result == nil {
			return nil, &common.HeightNotFoundError{Height: r.Key}
		}
		hashes[r.Key] = *r.Result
	}
	return hashes, nil
}

func (s *PolkadotSource) GetBlockRange(ctx context.Context, from, to uint64) ([]common.BlockData, error) {
	return worker.Run(ctx, s.worker, heightRange(from, to), s.getBlock)
}

func (s *PolkadotSource) getBlock(ctx context.Context, height uint64) (common.BlockData, error) {
	var hash *string
	if err := s.client.Call(ctx, &hash, "chain_getBlockHash", height); err != nil {
		return common.BlockData{}, err
	}
	if hash == nil {
		return common.BlockData{}, &common.HeightNotFoundError{Height: height}
	}

	var block *polkadotSignedBlock
	var timestamp, issuance *string
	var runtime polkadotRuntimeVersion
	batch := []gethRpc.BatchElem{
		{Method: "chain_getBlock", Args: []interface{}{*hash}, Result: &block},
		{Method: "state_getStorage", Args: []interface{}{timestampNowStorageKey, *hash}, Result: &timestamp},
		{Method: "state_getStorage", Args: []interface{}{totalIssuanceStorageKey, *hash}, Result: &issuance},
		{Method: "state_getRuntimeVersion", Args: []interface{}{*hash}, Result: &runtime},
	}
	if err := s.client.BatchCall(ctx, batch); err != nil {
		return common.BlockData{}, err
	}
	for _, elem := range batch {
		if elem.Error != nil {
			return common.BlockData{}, rpc.Classify(elem.Method, elem.Error)
		}
	}
	if block == nil {
		return common.BlockData{}, &common.HeightNotFoundError{Height: height}
	}
	return s.serializeBlock(height, *hash, block, timestamp, issuance, runtime)
}

func (s *PolkadotSource) serializeBlock(height uint64, hash string, raw *polkadotSignedBlock, timestamp, issuance *string, runtime polkadotRuntimeVersion) (common.BlockData, error) {
	header := raw.Block.Header
	number, err := rpc.HexToUint64(header.Number)
	if err != nil || number != height {
		return common.BlockData{}, &common.TransientSourceError{Op: "chain_getBlock", Err: fmt.Errorf("requested height %d, got %q", height, header.Number)}
	}

	ext := &common.PolkadotBlockExt{
		StateRoot:       header.StateRoot,
		ExtrinsicsRoot:  header.ExtrinsicsRoot,
		ExtrinsicsCount: uint64(len(raw.Block.Extrinsics)),
		SpecVersion:     runtime.SpecVersion,
	}
	if issuance != nil {
		b, err := hexutil.Decode(*issuance)
		if err != nil {
			return common.BlockData{}, &common.TransientSourceError{Op: "state_getStorage", Err: err}
		}
		if ext.TotalIssuance, err = decodeUint128LE(b); err != nil {
			return common.BlockData{}, &common.TransientSourceError{Op: "state_getStorage", Err: fmt.Errorf("total issuance: %w", err)}
		}
	}

	var blockTime time.Time
	if timestamp != nil {
		b, err := hexutil.Decode(*timestamp)
		if err != nil {
			return common.BlockData{}, &common.TransientSourceError{Op: "state_getStorage", Err: err}
		}
		ms, err := decodeUint64LE(b)
		if err != nil {
			return common.BlockData{}, &common.TransientSourceError{Op: "state_getStorage", Err: err}
		}
		blockTime = time.UnixMilli(int64(ms)).UTC()
	}

	bd := common.BlockData{
		Block: common.Block{
			Height:     height,
			Hash:       hash,
			ParentHash: header.ParentHash,
			Timestamp:  blockTime,
			Ext:        ext,
		},
		Transactions: make([]common.Transaction, 0, len(raw.Block.Extrinsics)),
	}
	for i, encoded := range raw.Block.Extrinsics {
		tx, err := serializeExtrinsic(uint64(i), encoded)
		if err != nil {
			return common.BlockData{}, &common.TransientSourceError{Op: "chain_getBlock", Err: fmt.Errorf("extrinsic %d at height %d: %w", i, height, err)}
		}
		bd.Transactions = append(bd.Transactions, tx)
	}

	bd.Normalize(s.network)
	return bd, nil
}

// serializeExtrinsic hashes an extrinsic and reads what the envelope exposes
// without metadata: the signer of signed extrinsics and the call index of
// unsigned ones. Dispatch results live in System.Events and are not decoded,
// so extrinsics are reported as successful.
func serializeExtrinsic(index uint64, encoded string) (common.Transaction, error) {
	data, err := hexutil.Decode(encoded)
	if err != nil {
		return common.Transaction{}, err
	}
	sum := blake2b.Sum256(data)
	tx := common.Transaction{
		Hash:    hexutil.Encode(sum[:]),
		Index:   index,
		Success: true,
	}

	_, n, err := decodeCompact(data)
	if err != nil {
		return common.Transaction{}, err
	}
	body := data[n:]
	if len(body) == 0 {
		return tx, nil
	}

	version := body[0]
	body = body[1:]
	if version&0x80 != 0 {
		// MultiAddress::Id followed by a 32 byte account
		if len(body) >= 33 && body[0] == 0x00 {
			tx.From = "0x" + hex.EncodeToString(body[1:33])
		}
		return tx, nil
	}
	if len(body) >= 2 {
		tx.Method = fmt.Sprintf("%d.%d", body[0], body[1])
	}
	return tx, nil
}
