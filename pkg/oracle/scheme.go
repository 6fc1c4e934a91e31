package oracle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrSchemeVersionMismatch       = fmt.Errorf("oracle scheme version mismatch")
	ErrInvalidPublicKey            = fmt.Errorf("invalid oracle public key")
	ErrInvalidNonce                = fmt.Errorf("invalid announcement nonce")
	ErrInvalidMaturity             = fmt.Errorf("announcement time is after maturity time")
	ErrMissingEventId              = fmt.Errorf("missing event id")
	ErrMissingOutcomes             = fmt.Errorf("missing outcomes")
	ErrDuplicatedOutcome           = fmt.Errorf("duplicated outcome")
	ErrUnknownOutcome              = fmt.Errorf("outcome not part of the announcement")
	ErrEventMismatch               = fmt.Errorf("attestation does not refer to the announced event")
	ErrInvalidAnnouncementSig      = fmt.Errorf("invalid announcement signature")
	ErrInvalidAttestationSignature = fmt.Errorf("invalid attestation signature")

	tagAttestation  = []byte("DLC/oracle/attestation/" + SchemeVersion)
	tagAnnouncement = []byte("DLC/oracle/announcement/" + SchemeVersion)
	tagNonce        = []byte("DLC/oracle/nonce/" + SchemeVersion)
)

// OutcomeMessage is the message the oracle signs to attest outcome.
func OutcomeMessage(outcome string) *chainhash.Hash {
	return chainhash.TaggedHash(tagAttestation, []byte(outcome))
}

// OutcomePoint returns S = R + e*P with e the BIP340 challenge of the outcome
// message. A valid attestation (R.x, s) of the outcome satisfies s*G == S, so
// S is the encryption point of the adaptor signatures of that outcome.
func OutcomePoint(
	oraclePubKey, nonce *btcec.PublicKey, outcome string,
) (*btcec.PublicKey, error) {
	if oraclePubKey == nil || nonce == nil {
		return nil, ErrInvalidPublicKey
	}

	pubKeyBytes := schnorr.SerializePubKey(oraclePubKey)
	P, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPublicKey, err)
	}
	nonceBytes := schnorr.SerializePubKey(nonce)
	R, err := schnorr.ParsePubKey(nonceBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidNonce, err)
	}

	msg := OutcomeMessage(outcome)
	commitment := chainhash.TaggedHash(
		chainhash.TagBIP0340Challenge, nonceBytes, pubKeyBytes, msg[:],
	)
	var e btcec.ModNScalar
	e.SetByteSlice(commitment[:])

	var pJ, rJ, eP, sJ btcec.JacobianPoint
	P.AsJacobian(&pJ)
	R.AsJacobian(&rJ)
	btcec.ScalarMultNonConst(&e, &pJ, &eP)
	btcec.AddNonConst(&rJ, &eP, &sJ)
	if (sJ.X.IsZero() && sJ.Y.IsZero()) || sJ.Z.IsZero() {
		return nil, fmt.Errorf("outcome point for %q is the point at infinity", outcome)
	}
	sJ.ToAffine()
	return btcec.NewPublicKey(&sJ.X, &sJ.Y), nil
}

// OutcomePoints maps every announced outcome to its encryption point.
func OutcomePoints(
	oraclePubKey *btcec.PublicKey, ann Announcement,
) (map[string]*btcec.PublicKey, error) {
	nonce, err := ann.NoncePoint()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidNonce, err)
	}
	points := make(map[string]*btcec.PublicKey, len(ann.Outcomes))
	for _, outcome := range ann.Outcomes {
		point, err := OutcomePoint(oraclePubKey, nonce, outcome)
		if err != nil {
			return nil, err
		}
		points[outcome] = point
	}
	return points, nil
}

// Hash returns the tagged hash committed to by the announcement signature.
func (a Announcement) Hash() (*chainhash.Hash, error) {
	var buf bytes.Buffer
	for _, field := range []string{
		a.SchemeVersion, a.EventId, a.Description, a.EventType, a.Nonce,
	} {
		if err := wire.WriteVarString(&buf, 0, field); err != nil {
			return nil, err
		}
	}
	if err := wire.WriteVarInt(&buf, 0, uint64(len(a.Outcomes))); err != nil {
		return nil, err
	}
	for _, outcome := range a.Outcomes {
		if err := wire.WriteVarString(&buf, 0, outcome); err != nil {
			return nil, err
		}
	}
	if err := wire.WriteVarInt(&buf, 0, uint64(a.MaturityTime)); err != nil {
		return nil, err
	}
	if err := wire.WriteVarInt(&buf, 0, uint64(a.AnnouncementTime)); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(a.Metadata))
	for k := range a.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := wire.WriteVarInt(&buf, 0, uint64(len(keys))); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := wire.WriteVarString(&buf, 0, k); err != nil {
			return nil, err
		}
		if err := wire.WriteVarString(&buf, 0, a.Metadata[k]); err != nil {
			return nil, err
		}
	}

	return chainhash.TaggedHash(tagAnnouncement, buf.Bytes()), nil
}

// VerifyAnnouncement checks the announcement is well formed and signed by
// the oracle key.
func VerifyAnnouncement(ann Announcement, oraclePubKey *btcec.PublicKey) error {
	if err := ann.Validate(); err != nil {
		return err
	}
	hash, err := ann.Hash()
	if err != nil {
		return err
	}
	buf, err := hex.DecodeString(ann.Signature)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAnnouncementSig, err)
	}
	sig, err := schnorr.ParseSignature(buf)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAnnouncementSig, err)
	}
	if !sig.Verify(hash[:], oraclePubKey) {
		return ErrInvalidAnnouncementSig
	}
	return nil
}

// VerifyAttestation checks the attestation signs its outcome with the
// oracle key and the nonce committed to in the announcement. Whether the
// outcome belongs to the announced set is left to the caller.
func VerifyAttestation(
	ann Announcement, oraclePubKey *btcec.PublicKey, att Attestation,
) error {
	if att.SchemeVersion != SchemeVersion {
		return fmt.Errorf(
			"%w: got %q, expected %q", ErrSchemeVersionMismatch, att.SchemeVersion, SchemeVersion,
		)
	}
	if att.EventId != ann.EventId {
		return ErrEventMismatch
	}

	sig, err := att.schnorrSignature()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAttestationSignature, err)
	}

	nonce, err := hex.DecodeString(ann.Nonce)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidNonce, err)
	}
	sigBytes := sig.Serialize()
	if !bytes.Equal(sigBytes[:32], nonce) {
		return fmt.Errorf("%w: nonce differs from announcement", ErrInvalidAttestationSignature)
	}

	msg := OutcomeMessage(att.Outcome)
	if !sig.Verify(msg[:], oraclePubKey) {
		return ErrInvalidAttestationSignature
	}
	return nil
}

// AttestationBatch groups an attestation with what it must be checked
// against.
type AttestationBatch struct {
	Announcement Announcement
	PubKey       *btcec.PublicKey
	Attestation  Attestation
}

// VerifyAttestations verifies a batch of attestations and returns the index
// of the first invalid one together with its error.
func VerifyAttestations(batch []AttestationBatch) (int, error) {
	for i, b := range batch {
		if err := VerifyAttestation(b.Announcement, b.PubKey, b.Attestation); err != nil {
			return i, err
		}
	}
	return -1, nil
}

// EventId derives an event identifier from its description and maturity.
func EventId(description string, maturityTime int64) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", description, maturityTime)))
	return hex.EncodeToString(hash[:])
}
