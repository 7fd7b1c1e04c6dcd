package rpc

import (
	"context"
	"fmt"
	"strings"

	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const DEFAULT_MAX_CONCURRENT_REQUESTS = 10

// Client is a JSON-RPC 2.0 client shared by every network family. The number
// of in-flight requests is bounded per network.
type Client struct {
	RPCClient   *gethRpc.Client
	url         string
	isWebsocket bool
	sem         *semaphore.Weighted
}

func Dial(ctx context.Context, url string, maxConcurrent int) (*Client, error) {
	if url == "" {
		return nil, &permanentDialError{msg: "rpc url is not set"}
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DEFAULT_MAX_CONCURRENT_REQUESTS
	}
	log.Debug().Str("url", redactURL(url)).Msg("Initializing RPC")
	rpcClient, err := gethRpc.DialContext(ctx, url)
	if err != nil {
		return nil, &permanentDialError{msg: err.Error()}
	}
	return NewClient(rpcClient, url, maxConcurrent), nil
}

// NewClient wraps an existing connection, e.g. one created by rpc.DialInProc in tests
func NewClient(rpcClient *gethRpc.Client, url string, maxConcurrent int) *Client {
	if maxConcurrent <= 0 {
		maxConcurrent = DEFAULT_MAX_CONCURRENT_REQUESTS
	}
	return &Client{
		RPCClient:   rpcClient,
		url:         url,
		isWebsocket: strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://"),
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) IsWebsocket() bool {
	return c.isWebsocket
}

// Call performs one request. Failures are classified into transient and
// permanent source errors.
func (c *Client) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	if err := c.RPCClient.CallContext(ctx, result, method, args...); err != nil {
		return Classify(method, err)
	}
	return nil
}

// BatchCall sends the elements as one batch. Only transport failures are
// returned; per-element errors are left in the elements.
func (c *Client) BatchCall(ctx context.Context, batch []gethRpc.BatchElem) error {
	if len(batch) == 0 {
		return nil
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	if err := c.RPCClient.BatchCallContext(ctx, batch); err != nil {
		return Classify(batch[0].Method, err)
	}
	return nil
}

func (c *Client) Close() {
	c.RPCClient.Close()
}

type permanentDialError struct {
	msg string
}

func (e *permanentDialError) Error() string {
	return fmt.Sprintf("invalid rpc endpoint: %s", e.msg)
}

// redactURL drops the path and query, where providers put API keys
func redactURL(url string) string {
	scheme := ""
	rest := url
	if i := strings.Index(url, "://"); i >= 0 {
		scheme = url[:i+3]
		rest = url[i+3:]
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	return scheme + rest
}
