package txbuilder

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

// x-only key with no known discrete log, used as taproot internal key so
// that the funding output can only be spent through the multisig leaf.
var unspendablePoint = []byte{
	0x02, 0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54, 0xb7, 0x8b, 0x4b, 0x60, 0x35, 0xe9, 0x7a,
	0x5e, 0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96, 0xd5, 0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
}

func unspendableKey() *btcec.PublicKey {
	key, _ := btcec.ParsePubKey(unspendablePoint)
	return key
}

// multisigClosure is the only leaf of the funding output:
// <offer key> OP_CHECKSIGVERIFY <accept key> OP_CHECKSIG
type multisigClosure struct {
	offerPubKey  *btcec.PublicKey
	acceptPubKey *btcec.PublicKey
}

func (c *multisigClosure) leaf() (*txscript.TapLeaf, error) {
	script, err := txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(c.offerPubKey)).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddData(schnorr.SerializePubKey(c.acceptPubKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, err
	}
	tapLeaf := txscript.NewBaseTapLeaf(script)
	return &tapLeaf, nil
}

func (c *multisigClosure) decode(script []byte) error {
	if len(script) != 68 ||
		script[0] != txscript.OP_DATA_32 ||
		script[33] != txscript.OP_CHECKSIGVERIFY ||
		script[34] != txscript.OP_DATA_32 ||
		script[67] != txscript.OP_CHECKSIG {
		return fmt.Errorf("invalid multisig script")
	}

	offerPubKey, err := schnorr.ParsePubKey(script[1:33])
	if err != nil {
		return err
	}
	acceptPubKey, err := schnorr.ParsePubKey(script[35:67])
	if err != nil {
		return err
	}
	c.offerPubKey = offerPubKey
	c.acceptPubKey = acceptPubKey

	rebuilt, err := c.leaf()
	if err != nil {
		return err
	}
	if !bytes.Equal(rebuilt.Script, script) {
		return fmt.Errorf("invalid multisig script")
	}
	return nil
}

// witness returns the stack spending the leaf, the offer signature must be
// on top since it's checked first.
func (c *multisigClosure) witness(
	controlBlock []byte, offerSig, acceptSig *schnorr.Signature,
) ([][]byte, error) {
	tapLeaf, err := c.leaf()
	if err != nil {
		return nil, err
	}
	return [][]byte{
		acceptSig.Serialize(),
		offerSig.Serialize(),
		tapLeaf.Script,
		controlBlock,
	}, nil
}

type fundingOutput struct {
	pkScript     []byte
	leaf         *txscript.TapLeaf
	controlBlock []byte
}

func newFundingOutput(offerPubKey, acceptPubKey *btcec.PublicKey) (*fundingOutput, error) {
	closure := &multisigClosure{offerPubKey, acceptPubKey}
	leaf, err := closure.leaf()
	if err != nil {
		return nil, err
	}

	tapTree := txscript.AssembleTaprootScriptTree(*leaf)
	root := tapTree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(unspendableKey(), root[:])
	pkScript, err := txscript.PayToTaprootScript(outputKey)
	if err != nil {
		return nil, err
	}

	proof := tapTree.LeafMerkleProofs[0]
	controlBlock := proof.ToControlBlock(unspendableKey())
	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return nil, err
	}

	return &fundingOutput{pkScript, leaf, controlBlockBytes}, nil
}
