package txbuilder

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	txVersion    = 2
	fundingIndex = 0

	// 2 schnorr sigs, the 68 bytes multisig script and the 33 bytes control
	// block, each with its length prefix, plus the item count.
	multisigWitnessSize = 1 + 2*(1+schnorr.SignatureSize) + (1 + 68) + (1 + 33)
)

type txBuilder struct{}

func NewTxBuilder() ports.TxBuilder {
	return &txBuilder{}
}

func (b *txBuilder) BuildContractTxs(
	offer domain.Offer, accepter domain.Party,
	offerPubKey, acceptPubKey *btcec.PublicKey,
) (*ports.ContractTxs, error) {
	if len(offer.Offerer.FundingInputs) <= 0 || len(accepter.FundingInputs) <= 0 {
		return nil, fmt.Errorf("missing funding inputs")
	}

	output, err := newFundingOutput(offerPubKey, acceptPubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create funding output: %s", err)
	}

	fundingPtx, err := b.createFundingTx(offer, accepter, output.pkScript)
	if err != nil {
		return nil, err
	}
	fundingTx, err := fundingPtx.B64Encode()
	if err != nil {
		return nil, err
	}
	funding := domain.FundingTx{
		Tx:     fundingTx,
		Txid:   fundingPtx.UnsignedTx.TxHash().String(),
		VOut:   fundingIndex,
		Amount: offer.TotalCollateral(),
		Script: hex.EncodeToString(output.pkScript),
	}

	offerScript, err := hex.DecodeString(offer.Offerer.PayoutScript)
	if err != nil {
		return nil, fmt.Errorf("invalid offerer payout script: %s", err)
	}
	acceptScript, err := hex.DecodeString(accepter.PayoutScript)
	if err != nil {
		return nil, fmt.Errorf("invalid accepter payout script: %s", err)
	}

	cets := make([]domain.Cet, 0, len(offer.Payouts))
	for _, payout := range offer.Payouts {
		ptx, err := b.createSpendingTx(
			funding, output, offer.FeeRate, 0,
			[]*wire.TxOut{
				wire.NewTxOut(int64(payout.Offer), offerScript),
				wire.NewTxOut(int64(payout.Accept), acceptScript),
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create cet for outcome %s: %s", payout.Outcome, err)
		}
		tx, err := ptx.B64Encode()
		if err != nil {
			return nil, err
		}
		cets = append(cets, domain.Cet{
			Outcome: payout.Outcome,
			Tx:      tx,
			Txid:    ptx.UnsignedTx.TxHash().String(),
		})
	}

	refundPtx, err := b.createSpendingTx(
		funding, output, offer.FeeRate, uint32(offer.RefundLocktime),
		[]*wire.TxOut{
			wire.NewTxOut(int64(offer.Offerer.Collateral), offerScript),
			wire.NewTxOut(int64(offer.AcceptCollateral), acceptScript),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund tx: %s", err)
	}
	refundTx, err := refundPtx.B64Encode()
	if err != nil {
		return nil, err
	}

	return &ports.ContractTxs{
		Funding: funding,
		Cets:    cets,
		Refund: domain.RefundTx{
			Tx:   refundTx,
			Txid: refundPtx.UnsignedTx.TxHash().String(),
		},
	}, nil
}

func (b *txBuilder) SigHash(tx string, funding domain.FundingTx) ([]byte, error) {
	ptx, leafScript, err := decodeSpendingTx(tx, funding)
	if err != nil {
		return nil, err
	}

	prevoutFetcher := txscript.NewCannedPrevOutputFetcher(
		ptx.Inputs[0].WitnessUtxo.PkScript, ptx.Inputs[0].WitnessUtxo.Value,
	)
	return txscript.CalcTapscriptSignaturehash(
		txscript.NewTxSigHashes(ptx.UnsignedTx, prevoutFetcher),
		txscript.SigHashDefault,
		ptx.UnsignedTx,
		0,
		prevoutFetcher,
		txscript.NewBaseTapLeaf(leafScript),
	)
}

func (b *txBuilder) FinalizeTx(
	tx string, funding domain.FundingTx, offerSig, acceptSig *schnorr.Signature,
) (string, string, error) {
	ptx, leafScript, err := decodeSpendingTx(tx, funding)
	if err != nil {
		return "", "", err
	}

	closure := &multisigClosure{}
	if err := closure.decode(leafScript); err != nil {
		return "", "", err
	}

	sigHash, err := b.SigHash(tx, funding)
	if err != nil {
		return "", "", err
	}
	if !offerSig.Verify(sigHash, closure.offerPubKey) {
		return "", "", fmt.Errorf("invalid offerer signature")
	}
	if !acceptSig.Verify(sigHash, closure.acceptPubKey) {
		return "", "", fmt.Errorf("invalid accepter signature")
	}

	witness, err := closure.witness(
		ptx.Inputs[0].TaprootLeafScript[0].ControlBlock, offerSig, acceptSig,
	)
	if err != nil {
		return "", "", err
	}
	var witnessBuf bytes.Buffer
	if err := psbt.WriteTxWitness(&witnessBuf, witness); err != nil {
		return "", "", err
	}
	ptx.Inputs[0].FinalScriptWitness = witnessBuf.Bytes()

	signed, err := psbt.Extract(ptx)
	if err != nil {
		return "", "", err
	}
	var serialized bytes.Buffer
	if err := signed.Serialize(&serialized); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(serialized.Bytes()), signed.TxHash().String(), nil
}

// createFundingTx spends the inputs of both parties to the 2-of-2 output.
// The fee is split in half, each party paying its share from its change.
func (b *txBuilder) createFundingTx(
	offer domain.Offer, accepter domain.Party, fundingScript []byte,
) (*psbt.Packet, error) {
	parties := []domain.Party{offer.Offerer, accepter}
	changeScripts := make([][]byte, 0, len(parties))

	weightEstimator := &input.TxWeightEstimator{}
	weightEstimator.AddOutput(fundingScript)
	for _, party := range parties {
		for range party.FundingInputs {
			weightEstimator.AddTaprootKeySpendInput(txscript.SigHashDefault)
		}
		changeScript, err := hex.DecodeString(party.ChangeScript)
		if err != nil {
			return nil, fmt.Errorf("invalid change script: %s", err)
		}
		changeScripts = append(changeScripts, changeScript)
		if len(changeScript) > 0 {
			weightEstimator.AddOutput(changeScript)
		}
	}
	fees := computeFees(offer.FeeRate, weightEstimator)
	feeShares := []uint64{fees - fees/2, fees / 2}

	tx := wire.NewMsgTx(txVersion)
	tx.AddTxOut(wire.NewTxOut(int64(offer.TotalCollateral()), fundingScript))

	prevouts := make([]*wire.TxOut, 0)
	for i, party := range parties {
		for _, in := range party.FundingInputs {
			hash, err := chainhash.NewHashFromStr(in.Txid)
			if err != nil {
				return nil, fmt.Errorf("invalid funding input txid: %s", err)
			}
			script, err := hex.DecodeString(in.Script)
			if err != nil {
				return nil, fmt.Errorf("invalid funding input script: %s", err)
			}
			tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.VOut), nil, nil))
			prevouts = append(prevouts, wire.NewTxOut(int64(in.Amount), script))
		}

		required := party.Collateral + feeShares[i]
		total := party.TotalInputAmount()
		if total < required {
			return nil, fmt.Errorf(
				"insufficient funding inputs: got %d, need %d", total, required,
			)
		}
		change := total - required
		if change <= 0 || len(changeScripts[i]) <= 0 {
			continue
		}
		if isDust(change, changeScripts[i]) {
			continue
		}
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScripts[i]))
	}

	ptx, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	for i, prevout := range prevouts {
		ptx.Inputs[i].WitnessUtxo = prevout
	}
	return ptx, nil
}

// createSpendingTx spends the funding output to the given outputs. The fee
// is subtracted from outputs proportionally to their amount, and zero or
// dust outputs are dropped.
func (b *txBuilder) createSpendingTx(
	funding domain.FundingTx, output *fundingOutput, feeRate uint64,
	locktime uint32, outputs []*wire.TxOut,
) (*psbt.Packet, error) {
	fundingHash, err := chainhash.NewHashFromStr(funding.Txid)
	if err != nil {
		return nil, err
	}

	nonEmpty := make([]*wire.TxOut, 0, len(outputs))
	for _, out := range outputs {
		if out.Value > 0 {
			nonEmpty = append(nonEmpty, out)
		}
	}
	if len(nonEmpty) <= 0 {
		return nil, fmt.Errorf("missing outputs")
	}

	weightEstimator := &input.TxWeightEstimator{}
	weightEstimator.AddWitnessInput(lntypes.WeightUnit(multisigWitnessSize))
	for _, out := range nonEmpty {
		weightEstimator.AddOutput(out.PkScript)
	}
	fees := computeFees(feeRate, weightEstimator)

	tx := wire.NewMsgTx(txVersion)
	tx.LockTime = locktime
	txIn := wire.NewTxIn(wire.NewOutPoint(fundingHash, funding.VOut), nil, nil)
	if locktime > 0 {
		txIn.Sequence = wire.MaxTxInSequenceNum - 1
	}
	tx.AddTxIn(txIn)

	total := uint64(0)
	for _, out := range nonEmpty {
		total += uint64(out.Value)
	}
	if total <= fees {
		return nil, fmt.Errorf("outputs amount %d can't cover fees %d", total, fees)
	}

	remainingFees := fees
	for i, out := range nonEmpty {
		share := fees * uint64(out.Value) / total
		if i == len(nonEmpty)-1 {
			share = remainingFees
		}
		remainingFees -= share

		amount := uint64(out.Value) - share
		if isDust(amount, out.PkScript) {
			continue
		}
		tx.AddTxOut(wire.NewTxOut(int64(amount), out.PkScript))
	}
	if len(tx.TxOut) <= 0 {
		return nil, fmt.Errorf("all outputs are dust")
	}

	ptx, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	ptx.Inputs[0].WitnessUtxo = wire.NewTxOut(int64(funding.Amount), output.pkScript)
	ptx.Inputs[0].TaprootInternalKey = schnorr.SerializePubKey(unspendableKey())
	ptx.Inputs[0].TaprootLeafScript = []*psbt.TaprootTapLeafScript{
		{
			ControlBlock: output.controlBlock,
			Script:       output.leaf.Script,
			LeafVersion:  txscript.BaseLeafVersion,
		},
	}
	return ptx, nil
}

func decodeSpendingTx(tx string, funding domain.FundingTx) (*psbt.Packet, []byte, error) {
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(tx), true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode tx: %s", err)
	}
	if len(ptx.UnsignedTx.TxIn) != 1 {
		return nil, nil, fmt.Errorf("expected 1 input, got %d", len(ptx.UnsignedTx.TxIn))
	}
	prevout := ptx.UnsignedTx.TxIn[0].PreviousOutPoint
	if prevout.Hash.String() != funding.Txid || prevout.Index != funding.VOut {
		return nil, nil, fmt.Errorf("tx does not spend the funding output")
	}
	in := ptx.Inputs[0]
	if in.WitnessUtxo == nil {
		return nil, nil, fmt.Errorf("missing witness utxo")
	}
	if hex.EncodeToString(in.WitnessUtxo.PkScript) != funding.Script {
		return nil, nil, fmt.Errorf("witness utxo script differs from funding output")
	}
	if len(in.TaprootLeafScript) <= 0 {
		return nil, nil, fmt.Errorf("missing taproot leaf script")
	}
	return ptx, in.TaprootLeafScript[0].Script, nil
}

func computeFees(satPerVByte uint64, weightEstimator *input.TxWeightEstimator) uint64 {
	feeRate := chainfee.SatPerKVByte(satPerVByte * 1000)
	fees := feeRate.FeeForVSize(lntypes.VByte(weightEstimator.VSize()))
	return uint64(fees.ToUnit(btcutil.AmountSatoshi))
}

func isDust(amount uint64, script []byte) bool {
	return txrules.IsDustOutput(
		wire.NewTxOut(int64(amount), script), txrules.DefaultRelayFeePerKb,
	)
}
