package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/adaptor"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/go-bip39"
)

// DefaultKeyId is the first key of the default account.
const DefaultKeyId = "m/86'/0'/0'/0/0"

type service struct {
	masterKey *hdkeychain.ExtendedKey

	lock *sync.Mutex
	// adaptor nonce (key id + R'.x) -> signed message
	nonces map[string][]byte
}

// NewSigner returns an in-memory HD signer. Key ids are BIP32 derivation
// paths like m/86'/0'/0'/0/1.
func NewSigner(mnemonic, password string, net *chaincfg.Params) (ports.Signer, error) {
	if len(mnemonic) <= 0 {
		return nil, fmt.Errorf("missing mnemonic")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	if net == nil {
		net = &chaincfg.MainNetParams
	}

	seed := bip39.NewSeed(mnemonic, password)
	masterKey, err := hdkeychain.NewMaster(seed, net)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %s", err)
	}

	return &service{
		masterKey: masterKey,
		lock:      &sync.Mutex{},
		nonces:    make(map[string][]byte),
	}, nil
}

func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func (s *service) GetPublicKey(_ context.Context, keyId string) (*btcec.PublicKey, error) {
	key, err := s.deriveKey(keyId)
	if err != nil {
		return nil, err
	}
	defer key.Zero()
	return key.PubKey(), nil
}

func (s *service) Sign(_ context.Context, msgHash []byte, keyId string) ([]byte, error) {
	key, err := s.deriveKey(keyId)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	sig, err := schnorr.Sign(key, msgHash)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// AdaptorSign refuses to release an adaptor signature whose nonce was
// already used for a different message with the same key.
func (s *service) AdaptorSign(
	_ context.Context, msgHash []byte, keyId string, encPoint *btcec.PublicKey,
) (*adaptor.Signature, error) {
	key, err := s.deriveKey(keyId)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	sig, err := adaptor.Create(msgHash, key, encPoint)
	if err != nil {
		return nil, err
	}

	nonceKey := fmt.Sprintf(
		"%s:%s", keyId, hex.EncodeToString(sig.NoncePoint().SerializeCompressed()[1:]),
	)

	s.lock.Lock()
	defer s.lock.Unlock()

	if signed, ok := s.nonces[nonceKey]; ok && !bytes.Equal(signed, msgHash) {
		log.Errorf("nonce reuse detected for key %s, refusing to sign", keyId)
		return nil, ports.ErrNonceReuse
	}
	s.nonces[nonceKey] = append([]byte{}, msgHash...)
	return sig, nil
}

func (s *service) deriveKey(keyId string) (*btcec.PrivateKey, error) {
	path, err := parseDerivationPath(keyId)
	if err != nil {
		return nil, err
	}

	key := s.masterKey
	for _, index := range path {
		if key, err = key.Derive(index); err != nil {
			return nil, fmt.Errorf("failed to derive key %s: %s", keyId, err)
		}
	}
	return key.ECPrivKey()
}

func parseDerivationPath(keyId string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(keyId), "/")
	if len(parts) < 2 || parts[0] != "m" {
		return nil, fmt.Errorf("invalid key id %q, must be a derivation path", keyId)
	}

	path := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		part = strings.TrimRight(part, "'h")
		index, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid key id %q: %s", keyId, err)
		}
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		path = append(path, uint32(index))
	}
	return path, nil
}
