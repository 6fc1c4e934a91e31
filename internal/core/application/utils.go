package application

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/pkg/adaptor"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// contractLocks serializes state transitions of the same contract.
type contractLocks struct {
	lock  sync.Mutex
	locks map[string]*sync.Mutex
}

func newContractLocks() *contractLocks {
	return &contractLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *contractLocks) acquire(contractId string) func() {
	l.lock.Lock()
	mtx, ok := l.locks[contractId]
	if !ok {
		mtx = &sync.Mutex{}
		l.locks[contractId] = mtx
	}
	l.lock.Unlock()

	mtx.Lock()
	return mtx.Unlock
}

func parsePubKey(str string) (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(str)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(buf)
}

func parseAdaptorSig(str string) (*adaptor.Signature, error) {
	sig := &adaptor.Signature{}
	if err := sig.UnmarshalText([]byte(str)); err != nil {
		return nil, err
	}
	return sig, nil
}

func parseSchnorrSig(str string) (*schnorr.Signature, error) {
	buf, err := hex.DecodeString(str)
	if err != nil {
		return nil, err
	}
	return schnorr.ParseSignature(buf)
}

// sortSigs returns the signatures in offerer, accepter order.
func sortSigs(
	role domain.Role, own, counterparty *schnorr.Signature,
) (*schnorr.Signature, *schnorr.Signature) {
	if role == domain.RoleOfferer {
		return own, counterparty
	}
	return counterparty, own
}

func sameOutcomes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sortedA := append([]string{}, a...)
	sortedB := append([]string{}, b...)
	sort.Strings(sortedA)
	sort.Strings(sortedB)
	for i := range sortedA {
		if sortedA[i] != sortedB[i] {
			return false
		}
	}
	return true
}

func rawData(v interface{}) string {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(buf)
}

// parseXOnlyKey accepts both x-only and compressed keys.
func parseXOnlyKey(str string) (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(str)
	if err != nil {
		return nil, err
	}
	if len(buf) == btcec.PubKeyBytesLenCompressed {
		buf = buf[1:]
	}
	return schnorr.ParsePubKey(buf)
}

func sameXOnlyKey(a, b string) bool {
	keyA, err := parseXOnlyKey(a)
	if err != nil {
		return false
	}
	keyB, err := parseXOnlyKey(b)
	if err != nil {
		return false
	}
	return keyA.IsEqual(keyB)
}
