package rpc

import (
	"context"
	"sync"

	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
)

type BatchResult[K any, T any] struct {
	Key    K
	Error  error
	Result T
}

// FetchInBatches splits keys into batches of at most batchSize requests and
// sends them concurrently. Results keep the order of keys.
func FetchInBatches[K any, T any](ctx context.Context, c *Client, keys []K, batchSize int, method string, argsFunc func(K) []interface{}) []BatchResult[K, T] {
	if batchSize <= 0 || len(keys) <= batchSize {
		return FetchSingleBatch[K, T](ctx, c, keys, method, argsFunc)
	}
	chunks := chunk(keys, batchSize)

	log.Debug().Msgf("Fetching %s for %d keys in %d chunks of max %d requests", method, len(keys), len(chunks), batchSize)

	var wg sync.WaitGroup
	chunkResults := make([][]BatchResult[K, T], len(chunks))
	for i, ch := range chunks {
		wg.Add(1)
		go func(i int, ch []K) {
			defer wg.Done()
			chunkResults[i] = FetchSingleBatch[K, T](ctx, c, ch, method, argsFunc)
		}(i, ch)
	}
	wg.Wait()

	results := make([]BatchResult[K, T], 0, len(keys))
	for _, r := range chunkResults {
		results = append(results, r...)
	}
	return results
}

func FetchSingleBatch[K any, T any](ctx context.Context, c *Client, keys []K, method string, argsFunc func(K) []interface{}) []BatchResult[K, T] {
	batch := make([]gethRpc.BatchElem, len(keys))
	results := make([]BatchResult[K, T], len(keys))

	for i, key := range keys {
		results[i] = BatchResult[K, T]{Key: key}
		batch[i] = gethRpc.BatchElem{
			Method: method,
			Args:   argsFunc(key),
			Result: new(T),
		}
	}

	if err := c.BatchCall(ctx, batch); err != nil {
		for i := range results {
			results[i].Error = err
		}
		return results
	}

	for i, elem := range batch {
		if elem.Error != nil {
			results[i].Error = Classify(method, elem.Error)
		} else {
			results[i].Result = *elem.Result.(*T)
		}
	}
	return results
}

func chunk[K any](keys []K, size int) [][]K {
	var chunks [][]K
	for size < len(keys) {
		keys, chunks = keys[size:], append(chunks, keys[:size])
	}
	return append(chunks, keys)
}
