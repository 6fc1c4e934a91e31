package oracle

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// SchemeVersion identifies the tagged hash scheme used to derive outcome
// points. Every payload exchanged with an oracle carries it.
const SchemeVersion = "v0"

// Info is the capability record of an oracle.
type Info struct {
	Name          string   `json:"name"`
	PublicKey     string   `json:"public_key"`
	Endpoint      string   `json:"endpoint"`
	EventTypes    []string `json:"event_types"`
	SchemeVersion string   `json:"scheme_version"`
}

func (i Info) PubKey() (*btcec.PublicKey, error) {
	return parseXOnly(i.PublicKey)
}

func (i Info) Supports(eventType string) bool {
	if len(i.EventTypes) == 0 {
		return true
	}
	for _, t := range i.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

func (i Info) Validate() error {
	if i.SchemeVersion != SchemeVersion {
		return fmt.Errorf(
			"%w: got %q, expected %q", ErrSchemeVersionMismatch, i.SchemeVersion, SchemeVersion,
		)
	}
	if _, err := i.PubKey(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPublicKey, err)
	}
	return nil
}

// Announcement is the oracle's commitment to an upcoming event.
type Announcement struct {
	EventId          string            `json:"event_id"`
	Description      string            `json:"description"`
	EventType        string            `json:"event_type,omitempty"`
	Nonce            string            `json:"nonce"`
	Outcomes         []string          `json:"outcomes"`
	MaturityTime     int64             `json:"maturity_time"`
	AnnouncementTime int64             `json:"announcement_time"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	SchemeVersion    string            `json:"scheme_version"`
	Signature        string            `json:"signature"`
}

func (a Announcement) Maturity() time.Time {
	return time.Unix(a.MaturityTime, 0)
}

func (a Announcement) IsMature(now time.Time) bool {
	return now.Unix() >= a.MaturityTime
}

func (a Announcement) HasOutcome(outcome string) bool {
	return a.OutcomeIndex(outcome) >= 0
}

func (a Announcement) OutcomeIndex(outcome string) int {
	for i, o := range a.Outcomes {
		if o == outcome {
			return i
		}
	}
	return -1
}

// NoncePoint returns R, lifted to even y.
func (a Announcement) NoncePoint() (*btcec.PublicKey, error) {
	return parseXOnly(a.Nonce)
}

// Validate checks the structural invariants of the announcement.
func (a Announcement) Validate() error {
	if a.SchemeVersion != SchemeVersion {
		return fmt.Errorf(
			"%w: got %q, expected %q", ErrSchemeVersionMismatch, a.SchemeVersion, SchemeVersion,
		)
	}
	if len(a.EventId) <= 0 {
		return ErrMissingEventId
	}
	if a.AnnouncementTime > a.MaturityTime {
		return ErrInvalidMaturity
	}
	if len(a.Outcomes) <= 0 {
		return ErrMissingOutcomes
	}
	seen := make(map[string]struct{}, len(a.Outcomes))
	for _, o := range a.Outcomes {
		if _, ok := seen[o]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicatedOutcome, o)
		}
		seen[o] = struct{}{}
	}
	if _, err := a.NoncePoint(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidNonce, err)
	}
	return nil
}

// Attestation reveals the outcome of an event together with the oracle
// signature whose scalar unlocks the adaptor signatures of that outcome.
type Attestation struct {
	EventId       string `json:"event_id"`
	Outcome       string `json:"outcome"`
	Signature     string `json:"signature"`
	SchemeVersion string `json:"scheme_version"`
}

func (a Attestation) schnorrSignature() (*schnorr.Signature, error) {
	buf, err := hex.DecodeString(a.Signature)
	if err != nil {
		return nil, err
	}
	return schnorr.ParseSignature(buf)
}

// Scalar returns the s value of the attestation signature.
func (a Attestation) Scalar() (*btcec.ModNScalar, error) {
	buf, err := hex.DecodeString(a.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAttestationSignature, err)
	}
	if len(buf) != schnorr.SignatureSize {
		return nil, ErrInvalidAttestationSignature
	}
	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(buf[32:]); overflow {
		return nil, ErrInvalidAttestationSignature
	}
	return &s, nil
}

// Equal reports whether two attestations reveal the same outcome with the
// same signature.
func (a Attestation) Equal(other Attestation) bool {
	return a.EventId == other.EventId &&
		a.Outcome == other.Outcome &&
		a.Signature == other.Signature
}

func parseXOnly(key string) (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(key)
	if err != nil {
		return nil, err
	}
	switch len(buf) {
	case schnorr.PubKeyBytesLen:
		return schnorr.ParsePubKey(buf)
	case btcec.PubKeyBytesLenCompressed:
		pubkey, err := btcec.ParsePubKey(buf)
		if err != nil {
			return nil, err
		}
		return schnorr.ParsePubKey(schnorr.SerializePubKey(pubkey))
	default:
		return nil, fmt.Errorf("invalid key length %d", len(buf))
	}
}
