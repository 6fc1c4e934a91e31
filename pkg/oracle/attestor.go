package oracle

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Attestor signs announcements and attestations with the oracle key. The
// nonce of an event is derived from the key and the event id, so an event
// must be attested at most once: signing two outcomes of the same event
// leaks the key. Callers are responsible for persisting attestations.
type Attestor struct {
	key *btcec.PrivateKey
}

func NewAttestor(key *btcec.PrivateKey) *Attestor {
	return &Attestor{key}
}

func (a *Attestor) PublicKey() *btcec.PublicKey {
	return a.key.PubKey()
}

func (a *Attestor) Info(name, endpoint string, eventTypes []string) Info {
	return Info{
		Name:          name,
		PublicKey:     hex.EncodeToString(schnorr.SerializePubKey(a.key.PubKey())),
		Endpoint:      endpoint,
		EventTypes:    eventTypes,
		SchemeVersion: SchemeVersion,
	}
}

// Announce creates and signs the announcement of a new event. An empty
// eventId is replaced by EventId(description, maturity).
func (a *Attestor) Announce(
	eventId, description, eventType string, outcomes []string,
	maturity, now time.Time, metadata map[string]string,
) (*Announcement, error) {
	if len(eventId) <= 0 {
		eventId = EventId(description, maturity.Unix())
	}

	k := a.nonce(eventId)
	defer k.Zero()
	var R btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(k, &R)
	R.ToAffine()
	nonce := btcec.NewPublicKey(&R.X, &R.Y)

	ann := Announcement{
		EventId:          eventId,
		Description:      description,
		EventType:        eventType,
		Nonce:            hex.EncodeToString(schnorr.SerializePubKey(nonce)),
		Outcomes:         outcomes,
		MaturityTime:     maturity.Unix(),
		AnnouncementTime: now.Unix(),
		Metadata:         metadata,
		SchemeVersion:    SchemeVersion,
	}
	if err := ann.Validate(); err != nil {
		return nil, err
	}

	hash, err := ann.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(a.key, hash[:])
	if err != nil {
		return nil, err
	}
	ann.Signature = hex.EncodeToString(sig.Serialize())
	return &ann, nil
}

// Attest signs the outcome of the announced event with the event nonce.
func (a *Attestor) Attest(ann Announcement, outcome string) (*Attestation, error) {
	if !ann.HasOutcome(outcome) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOutcome, outcome)
	}
	return a.attest(ann.EventId, outcome)
}

func (a *Attestor) attest(eventId, outcome string) (*Attestation, error) {
	k := a.nonce(eventId)
	defer k.Zero()

	var R btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(k, &R)
	R.ToAffine()
	if R.Y.IsOdd() {
		k.Negate()
	}

	x := new(btcec.ModNScalar).Set(&a.key.Key)
	defer x.Zero()
	pubKey := a.key.PubKey()
	if pubKey.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		x.Negate()
	}

	msg := OutcomeMessage(outcome)
	rBytes := R.X.Bytes()
	commitment := chainhash.TaggedHash(
		chainhash.TagBIP0340Challenge,
		rBytes[:], schnorr.SerializePubKey(pubKey), msg[:],
	)
	var e btcec.ModNScalar
	e.SetByteSlice(commitment[:])

	s := new(btcec.ModNScalar).Mul2(&e, x).Add(k)
	sig := schnorr.NewSignature(&R.X, s)
	if !sig.Verify(msg[:], pubKey) {
		return nil, ErrInvalidAttestationSignature
	}

	return &Attestation{
		EventId:       eventId,
		Outcome:       outcome,
		Signature:     hex.EncodeToString(sig.Serialize()),
		SchemeVersion: SchemeVersion,
	}, nil
}

func (a *Attestor) nonce(eventId string) *btcec.ModNScalar {
	keyBytes := a.key.Key.Bytes()
	defer func() {
		for i := range keyBytes {
			keyBytes[i] = 0
		}
	}()
	hash := chainhash.TaggedHash(tagNonce, []byte(eventId))
	return secp256k1.NonceRFC6979(keyBytes[:], hash[:], nil, nil, 0)
}
