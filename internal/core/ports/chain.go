package ports

import (
	"context"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

var (
	ErrChainUnavailable = errors.New("chain client unavailable")
	ErrTxNotFound       = errors.New("transaction not found")
)

type ChainClient interface {
	Broadcast(ctx context.Context, txHex string) (string, error)
	// GetConfirmationStatus returns 0 for unconfirmed txs and ErrTxNotFound
	// for unknown ones.
	GetConfirmationStatus(ctx context.Context, txid string) (int64, error)
	GetCurrentTime(ctx context.Context) (time.Time, error)
	GetFeeRate(ctx context.Context) (chainfee.SatPerKVByte, error)
}
