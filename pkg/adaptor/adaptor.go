// Package adaptor implements BIP340 compatible Schnorr adaptor signatures.
//
// An adaptor signature (R', T, s') over a message m by the key P satisfies
// s'G == R' - T + e*P with e = BIP340Challenge(R'.x || P.x || m). Adding the
// discrete log t of the encryption point T to s' yields a regular BIP340
// signature (R'.x, s'+t) of m under P.
package adaptor

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// SignatureSize is the size of a serialized adaptor signature:
	// 33 bytes R' || 33 bytes T || 32 bytes s'.
	SignatureSize = 2*btcec.PubKeyBytesLenCompressed + 32

	// maxNonceIterations bounds the search for a nonce that makes R' even.
	maxNonceIterations = 256
)

var (
	ErrInvalidMessage      = fmt.Errorf("message hash must be 32 bytes")
	ErrInvalidKey          = fmt.Errorf("invalid signing key")
	ErrInvalidPoint        = fmt.Errorf("invalid encryption point")
	ErrInvalidSignature    = fmt.Errorf("invalid adaptor signature")
	ErrInvalidSecret       = fmt.Errorf("invalid secret scalar")
	ErrDecryptionMismatch  = fmt.Errorf("secret does not match the adaptor signature encryption point")
	ErrNonceDerivation     = fmt.Errorf("failed to derive a valid nonce")
	ErrInvalidSchnorrInput = fmt.Errorf("invalid schnorr signature")

	tagNonce = []byte("DLC/adaptor/nonce/v0")
)

// Signature is an encrypted Schnorr signature bound to an encryption point.
type Signature struct {
	// R' = kG + T, always with even Y.
	noncePoint btcec.JacobianPoint
	// T, the encryption point.
	encPoint btcec.JacobianPoint
	// s' = k + e*x
	s btcec.ModNScalar
}

// NoncePoint returns R', the public nonce the decrypted signature commits to.
func (s *Signature) NoncePoint() *btcec.PublicKey {
	p := s.noncePoint
	return btcec.NewPublicKey(&p.X, &p.Y)
}

// EncryptionPoint returns T.
func (s *Signature) EncryptionPoint() *btcec.PublicKey {
	p := s.encPoint
	return btcec.NewPublicKey(&p.X, &p.Y)
}

func (s *Signature) Serialize() []byte {
	buf := make([]byte, 0, SignatureSize)
	buf = append(buf, s.NoncePoint().SerializeCompressed()...)
	buf = append(buf, s.EncryptionPoint().SerializeCompressed()...)
	sBytes := s.s.Bytes()
	return append(buf, sBytes[:]...)
}

func (s *Signature) String() string {
	return hex.EncodeToString(s.Serialize())
}

func (s *Signature) IsEqual(other *Signature) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(s.Serialize(), other.Serialize())
}

func (s *Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	buf, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	sig, err := ParseSignature(buf)
	if err != nil {
		return err
	}
	*s = *sig
	return nil
}

// ParseSignature decodes a serialized adaptor signature.
func ParseSignature(buf []byte) (*Signature, error) {
	if len(buf) != SignatureSize {
		return nil, fmt.Errorf(
			"%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureSize, len(buf),
		)
	}

	nonce, err := btcec.ParsePubKey(buf[:33])
	if err != nil {
		return nil, fmt.Errorf("%w: nonce point: %s", ErrInvalidSignature, err)
	}
	// R' is committed to by its x coordinate only.
	if buf[0] != secp256k1.PubKeyFormatCompressedEven {
		return nil, fmt.Errorf("%w: nonce point must have even y", ErrInvalidSignature)
	}
	encPoint, err := btcec.ParsePubKey(buf[33:66])
	if err != nil {
		return nil, fmt.Errorf("%w: encryption point: %s", ErrInvalidSignature, err)
	}

	sig := &Signature{}
	if overflow := sig.s.SetByteSlice(buf[66:]); overflow {
		return nil, fmt.Errorf("%w: scalar overflows curve order", ErrInvalidSignature)
	}
	nonce.AsJacobian(&sig.noncePoint)
	encPoint.AsJacobian(&sig.encPoint)
	return sig, nil
}

// Create returns an adaptor signature of msgHash by key, encrypted under
// encPoint. The nonce is derived with RFC6979 from the key, the message and
// the encryption point, so identical inputs always produce identical output.
func Create(
	msgHash []byte, key *btcec.PrivateKey, encPoint *btcec.PublicKey,
) (*Signature, error) {
	if len(msgHash) != chainhash.HashSize {
		return nil, ErrInvalidMessage
	}
	if key == nil || key.Key.IsZero() {
		return nil, ErrInvalidKey
	}
	if encPoint == nil || !encPoint.IsOnCurve() {
		return nil, ErrInvalidPoint
	}

	// BIP340 keys are x-only: sign with the even-y representative.
	x := new(btcec.ModNScalar).Set(&key.Key)
	pubKey := key.PubKey()
	if pubKey.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		x.Negate()
	}
	pubKeyBytes := schnorr.SerializePubKey(pubKey)

	var T btcec.JacobianPoint
	encPoint.AsJacobian(&T)

	privKeyBytes := key.Key.Bytes()
	defer zero(privKeyBytes[:])
	extra := chainhash.TaggedHash(tagNonce, encPoint.SerializeCompressed())

	for iteration := uint32(0); iteration < maxNonceIterations; iteration++ {
		k := secp256k1.NonceRFC6979(
			privKeyBytes[:], msgHash, extra[:], nil, iteration,
		)

		var R, noncePoint btcec.JacobianPoint
		btcec.ScalarBaseMultNonConst(k, &R)
		btcec.AddNonConst(&R, &T, &noncePoint)
		if isInfinity(&noncePoint) {
			k.Zero()
			continue
		}
		noncePoint.ToAffine()
		if noncePoint.Y.IsOdd() {
			k.Zero()
			continue
		}

		e := challenge(&noncePoint.X, pubKeyBytes, msgHash)
		s := new(btcec.ModNScalar).Mul2(e, x).Add(k)
		k.Zero()

		return &Signature{
			noncePoint: noncePoint,
			encPoint:   affine(&T),
			s:          *s,
		}, nil
	}

	return nil, ErrNonceDerivation
}

// Verify checks s'G == R' - T + e*P without knowledge of the encryption
// secret.
func Verify(
	sig *Signature, msgHash []byte, pubKey, encPoint *btcec.PublicKey,
) bool {
	if sig == nil || pubKey == nil || encPoint == nil {
		return false
	}
	if len(msgHash) != chainhash.HashSize {
		return false
	}
	if !sig.EncryptionPoint().IsEqual(encPoint) {
		return false
	}
	if sig.noncePoint.Y.IsOdd() {
		return false
	}

	pubKeyBytes := schnorr.SerializePubKey(pubKey)
	evenPubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}
	var P btcec.JacobianPoint
	evenPubKey.AsJacobian(&P)

	e := challenge(&sig.noncePoint.X, pubKeyBytes, msgHash)

	var eP, negT, sum, expected, lhs btcec.JacobianPoint
	btcec.ScalarMultNonConst(e, &P, &eP)
	negT = sig.encPoint
	negT.Y.Negate(1).Normalize()
	btcec.AddNonConst(&sig.noncePoint, &negT, &sum)
	btcec.AddNonConst(&sum, &eP, &expected)
	btcec.ScalarBaseMultNonConst(&sig.s, &lhs)

	if isInfinity(&expected) || isInfinity(&lhs) {
		return false
	}
	expected.ToAffine()
	lhs.ToAffine()
	return expected.X.Equals(&lhs.X) && expected.Y.Equals(&lhs.Y)
}

// Decrypt turns the adaptor signature into a BIP340 signature using the
// discrete log of its encryption point.
func Decrypt(sig *Signature, secret *btcec.ModNScalar) (*schnorr.Signature, error) {
	if sig == nil {
		return nil, ErrInvalidSignature
	}
	if secret == nil || secret.IsZero() {
		return nil, ErrInvalidSecret
	}

	var tG btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(secret, &tG)
	tG.ToAffine()
	if !tG.X.Equals(&sig.encPoint.X) || !tG.Y.Equals(&sig.encPoint.Y) {
		return nil, ErrDecryptionMismatch
	}

	s := new(btcec.ModNScalar).Add2(&sig.s, secret)
	r := sig.noncePoint.X
	return schnorr.NewSignature(&r, s), nil
}

// Encrypt is the inverse of Decrypt: it re-encrypts a BIP340 signature under
// the point secret*G.
func Encrypt(realSig *schnorr.Signature, secret *btcec.ModNScalar) (*Signature, error) {
	if realSig == nil {
		return nil, ErrInvalidSchnorrInput
	}
	if secret == nil || secret.IsZero() {
		return nil, ErrInvalidSecret
	}

	r, s, err := splitSchnorr(realSig)
	if err != nil {
		return nil, err
	}

	noncePub, err := schnorr.ParsePubKey(r[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchnorrInput, err)
	}

	var T btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(secret, &T)
	T.ToAffine()

	negT := new(btcec.ModNScalar).NegateVal(secret)
	sig := &Signature{encPoint: T}
	sig.s.Add2(s, negT)
	noncePub.AsJacobian(&sig.noncePoint)
	return sig, nil
}

// RecoverSecret extracts the encryption secret from an adaptor signature and
// the signature obtained by decrypting it.
func RecoverSecret(
	realSig *schnorr.Signature, sig *Signature,
) (*btcec.ModNScalar, error) {
	if realSig == nil || sig == nil {
		return nil, ErrInvalidSignature
	}
	r, s, err := splitSchnorr(realSig)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(r[:], sig.noncePoint.X.Bytes()[:]) {
		return nil, ErrDecryptionMismatch
	}

	negS := new(btcec.ModNScalar).NegateVal(&sig.s)
	secret := new(btcec.ModNScalar).Add2(s, negS)

	var tG btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(secret, &tG)
	tG.ToAffine()
	if !tG.X.Equals(&sig.encPoint.X) || !tG.Y.Equals(&sig.encPoint.Y) {
		return nil, ErrDecryptionMismatch
	}
	return secret, nil
}

func challenge(rX *btcec.FieldVal, pubKey, msg []byte) *btcec.ModNScalar {
	rBytes := rX.Bytes()
	commitment := chainhash.TaggedHash(
		chainhash.TagBIP0340Challenge, rBytes[:], pubKey, msg,
	)
	var e btcec.ModNScalar
	e.SetByteSlice(commitment[:])
	return &e
}

func splitSchnorr(sig *schnorr.Signature) (*[32]byte, *btcec.ModNScalar, error) {
	buf := sig.Serialize()
	if len(buf) != schnorr.SignatureSize {
		return nil, nil, ErrInvalidSchnorrInput
	}
	var r [32]byte
	copy(r[:], buf[:32])
	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(buf[32:]); overflow {
		return nil, nil, ErrInvalidSchnorrInput
	}
	return &r, &s, nil
}

func isInfinity(p *btcec.JacobianPoint) bool {
	return (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero()
}

func affine(p *btcec.JacobianPoint) btcec.JacobianPoint {
	res := *p
	res.ToAffine()
	return res
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
