package rpc

import (
	"context"
	"errors"
	"net/http"

	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

// JSON-RPC error codes that no retry will fix
var permanentRPCCodes = map[int]struct{}{
	-32600: {}, // invalid request
	-32601: {}, // method not found
	-32602: {}, // invalid params
}

// Classify maps a transport or JSON-RPC error to a TransientSourceError or a
// PermanentSourceError. Cancellation is passed through untouched.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if common.IsTransient(err) || common.IsPermanent(err) {
		return err
	}
	if isPermanent(err) {
		return &common.PermanentSourceError{Op: op, Err: err}
	}
	return &common.TransientSourceError{Op: op, Err: err}
}

func isPermanent(err error) bool {
	var dialErr *permanentDialError
	if errors.As(err, &dialErr) {
		return true
	}

	var httpErr gethRpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests,
			httpErr.StatusCode == http.StatusRequestTimeout,
			httpErr.StatusCode >= 500:
			return false
		case httpErr.StatusCode >= 400:
			return true
		}
		return false
	}

	var rpcErr gethRpc.Error
	if errors.As(err, &rpcErr) {
		_, ok := permanentRPCCodes[rpcErr.ErrorCode()]
		return ok
	}

	// timeouts, resets and unknown failures are worth another attempt
	return false
}
