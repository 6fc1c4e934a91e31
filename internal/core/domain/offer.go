package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/txscript"
)

// FundingInput is a wallet utxo a party commits to the funding transaction.
type FundingInput struct {
	Txid   string
	VOut   uint32
	Amount uint64
	Script string
}

// Party groups what a contract participant brings to the contract.
type Party struct {
	FundingPubKey string
	PayoutScript  string
	ChangeScript  string
	Collateral    uint64
	FundingInputs []FundingInput
}

// TotalInputAmount saturates at math.MaxUint64.
func (p Party) TotalInputAmount() uint64 {
	tot := uint64(0)
	for _, in := range p.FundingInputs {
		tot = addSaturating(tot, in.Amount)
	}
	return tot
}

func (p Party) validate() error {
	if len(p.FundingPubKey) <= 0 {
		return fmt.Errorf("missing funding pubkey")
	}
	if len(p.PayoutScript) <= 0 {
		return fmt.Errorf("missing payout script")
	}
	if len(p.FundingInputs) > 0 && p.TotalInputAmount() < p.Collateral {
		return fmt.Errorf(
			"funding inputs amount %d lower than collateral %d",
			p.TotalInputAmount(), p.Collateral,
		)
	}
	return nil
}

// Payout is the split of the total collateral for one outcome.
type Payout struct {
	Outcome string
	Offer   uint64
	Accept  uint64
}

// Offer holds the terms proposed by the offering party.
type Offer struct {
	OracleEndpoint   string
	OraclePubKey     string
	EventId          string
	Payouts          []Payout
	AcceptCollateral uint64
	RefundLocktime   int64
	FeeRate          uint64
	Offerer          Party
	Timestamp        int64
}

// ContractId derives the contract identifier from the offered terms, so
// that both parties compute the same id.
func (o Offer) ContractId() string {
	buf, _ := json.Marshal(o)
	hash := sha256.Sum256(buf)
	return hex.EncodeToString(hash[:])
}

// TotalCollateral saturates at math.MaxUint64, Validate rejects offers
// whose collaterals overflow.
func (o Offer) TotalCollateral() uint64 {
	return addSaturating(o.Offerer.Collateral, o.AcceptCollateral)
}

func (o Offer) Outcomes() []string {
	outcomes := make([]string, 0, len(o.Payouts))
	for _, p := range o.Payouts {
		outcomes = append(outcomes, p.Outcome)
	}
	return outcomes
}

func (o Offer) PayoutFor(outcome string) (Payout, bool) {
	for _, p := range o.Payouts {
		if p.Outcome == outcome {
			return p, true
		}
	}
	return Payout{}, false
}

func (o Offer) Validate() error {
	if len(o.OracleEndpoint) <= 0 {
		return fmt.Errorf("missing oracle endpoint")
	}
	if len(o.OraclePubKey) <= 0 {
		return fmt.Errorf("missing oracle pubkey")
	}
	if len(o.EventId) <= 0 {
		return fmt.Errorf("missing event id")
	}
	if len(o.Payouts) <= 0 {
		return fmt.Errorf("missing payouts")
	}
	if o.RefundLocktime <= 0 {
		return fmt.Errorf("missing refund locktime")
	}
	// the refund tx nLockTime is a unix timestamp
	if o.RefundLocktime < txscript.LockTimeThreshold || o.RefundLocktime > math.MaxUint32 {
		return fmt.Errorf(
			"refund locktime %d out of range [%d, %d]",
			o.RefundLocktime, int64(txscript.LockTimeThreshold), uint32(math.MaxUint32),
		)
	}
	if o.FeeRate <= 0 {
		return fmt.Errorf("missing fee rate")
	}
	if o.TotalCollateral() <= 0 {
		return fmt.Errorf("missing collateral")
	}
	if o.Offerer.Collateral > math.MaxUint64-o.AcceptCollateral {
		return fmt.Errorf("total collateral overflows")
	}
	if err := o.Offerer.validate(); err != nil {
		return fmt.Errorf("invalid offerer: %s", err)
	}

	total := o.TotalCollateral()
	seen := make(map[string]struct{})
	for _, p := range o.Payouts {
		if _, ok := seen[p.Outcome]; ok {
			return fmt.Errorf("duplicated payout for outcome %s", p.Outcome)
		}
		seen[p.Outcome] = struct{}{}
		if p.Offer > total || p.Accept != total-p.Offer {
			return fmt.Errorf(
				"payout for outcome %s does not match total collateral %d", p.Outcome, total,
			)
		}
	}
	return nil
}

func addSaturating(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// AcceptMessage is what the accepting party sends back to the offerer.
type AcceptMessage struct {
	ContractId  string
	Accepter    Party
	AdaptorSigs map[string]string
	RefundSig   string
}

// SignMessage is the offerer's answer to an AcceptMessage.
type SignMessage struct {
	ContractId  string
	AdaptorSigs map[string]string
	RefundSig   string
}
