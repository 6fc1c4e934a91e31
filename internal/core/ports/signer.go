package ports

import (
	"context"
	"errors"

	"github.com/ark-network/dlc/pkg/adaptor"
	"github.com/btcsuite/btcd/btcec/v2"
)

// ErrNonceReuse is returned when signing would release a nonce already
// used for another message. It must never be retried.
var ErrNonceReuse = errors.New("refusing to sign: nonce reuse detected")

// Signer gives access to signing keys identified by key id without exposing
// private key material.
type Signer interface {
	Sign(ctx context.Context, msgHash []byte, keyId string) ([]byte, error)
	GetPublicKey(ctx context.Context, keyId string) (*btcec.PublicKey, error)
	AdaptorSign(
		ctx context.Context, msgHash []byte, keyId string, encPoint *btcec.PublicKey,
	) (*adaptor.Signature, error)
}
