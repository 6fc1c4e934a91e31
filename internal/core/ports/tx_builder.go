package ports

import (
	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ContractTxs are the unsigned transactions of a contract.
type ContractTxs struct {
	Funding domain.FundingTx
	// Cets follow the order of the offered payouts.
	Cets   []domain.Cet
	Refund domain.RefundTx
}

type TxBuilder interface {
	BuildContractTxs(
		offer domain.Offer, accepter domain.Party,
		offerPubKey, acceptPubKey *btcec.PublicKey,
	) (*ContractTxs, error)
	// SigHash returns the tapscript sighash of the funding input of the
	// given cet or refund tx.
	SigHash(tx string, funding domain.FundingTx) ([]byte, error)
	// FinalizeTx completes the witness of the funding input and returns the
	// serialized tx in hex with its txid.
	FinalizeTx(
		tx string, funding domain.FundingTx,
		offerSig, acceptSig *schnorr.Signature,
	) (txHex, txid string, err error)
}
