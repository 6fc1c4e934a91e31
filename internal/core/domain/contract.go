package domain

import (
	"fmt"
	"time"

	"github.com/ark-network/dlc/pkg/oracle"
)

const (
	ContractStatusUndefined ContractStatus = iota
	ContractStatusOffered
	ContractStatusAccepted
	ContractStatusFunded
	ContractStatusExecuted
	ContractStatusRefunded
	ContractStatusFailed
)

type ContractStatus int

func (s ContractStatus) String() string {
	switch s {
	case ContractStatusOffered:
		return "OFFERED"
	case ContractStatusAccepted:
		return "ACCEPTED"
	case ContractStatusFunded:
		return "FUNDED"
	case ContractStatusExecuted:
		return "EXECUTED"
	case ContractStatusRefunded:
		return "REFUNDED"
	case ContractStatusFailed:
		return "DISPUTED_FAILED"
	default:
		return "UNDEFINED"
	}
}

func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusExecuted ||
		s == ContractStatusRefunded ||
		s == ContractStatusFailed
}

func ParseContractStatus(str string) (ContractStatus, error) {
	for s := ContractStatusOffered; s <= ContractStatusFailed; s++ {
		if s.String() == str {
			return s, nil
		}
	}
	return ContractStatusUndefined, fmt.Errorf("unknown contract status %s", str)
}

const (
	RoleUndefined Role = iota
	RoleOfferer
	RoleAccepter
)

type Role int

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAccepter:
		return "accepter"
	default:
		return "undefined"
	}
}

const (
	SettlementKindUndefined SettlementKind = iota
	SettlementKindCet
	SettlementKindRefund
)

type SettlementKind int

func (k SettlementKind) String() string {
	switch k {
	case SettlementKindCet:
		return "cet"
	case SettlementKindRefund:
		return "refund"
	default:
		return "undefined"
	}
}

// Cet is the contract execution transaction of one outcome.
type Cet struct {
	Outcome                string
	Tx                     string
	Txid                   string
	OutcomePoint           string
	OwnAdaptorSig          string
	CounterpartyAdaptorSig string
}

type FundingTx struct {
	Tx     string
	Txid   string
	VOut   uint32
	Amount uint64
	Script string
}

type RefundTx struct {
	Tx              string
	Txid            string
	OwnSig          string
	CounterpartySig string
}

// Settlement is a fully signed transaction ready to be broadcast. It is
// persisted before broadcasting so that a restart re-broadcasts the very
// same transaction.
type Settlement struct {
	Kind        SettlementKind
	Outcome     string
	Tx          string
	Txid        string
	Attestation *oracle.Attestation
}

// Failure carries what's needed to reconcile a failed contract manually.
type Failure struct {
	Code      string
	Reason    string
	Data      string
	Timestamp int64
}

type Contract struct {
	Id                   string
	Role                 Role
	KeyId                string
	Offer                Offer
	Accepter             Party
	Announcement         oracle.Announcement
	Cets                 []Cet
	Funding              FundingTx
	Refund               RefundTx
	Status               ContractStatus
	CounterpartySigned   bool
	FundingConfirmations int64
	Settlement           *Settlement
	SettlementTxid       string
	SettlementConfirmed  bool
	Attestation          *oracle.Attestation
	Conflicts            []oracle.Attestation
	Failure              *Failure
	CreatedAt            int64
	UpdatedAt            int64
	Version              uint
	changes              []Event
}

func NewContract() *Contract {
	return &Contract{
		changes: make([]Event, 0),
	}
}

func NewContractFromEvents(events []Event) *Contract {
	c := &Contract{}

	for _, event := range events {
		c.on(event, true)
	}

	c.changes = append([]Event{}, events...)

	return c
}

func (c *Contract) Events() []Event {
	return c.changes
}

// Propose opens the contract with the given terms.
func (c *Contract) Propose(offer Offer, role Role, keyId string) (Event, error) {
	if c.Status != ContractStatusUndefined {
		return nil, fmt.Errorf("contract already proposed")
	}
	if role != RoleOfferer && role != RoleAccepter {
		return nil, fmt.Errorf("invalid role")
	}
	if len(keyId) <= 0 {
		return nil, fmt.Errorf("missing key id")
	}
	if err := offer.Validate(); err != nil {
		return nil, err
	}

	event := ContractOffered{
		ContractEvent: ContractEvent{
			Id:   offer.ContractId(),
			Type: EventTypeContractOffered,
		},
		Offer:     offer,
		Role:      role,
		KeyId:     keyId,
		Timestamp: time.Now().Unix(),
	}
	c.raise(event)
	return event, nil
}

// Accept fixes both parties and the pre-built transactions. The cets carry
// the local adaptor signatures.
func (c *Contract) Accept(
	accepter Party, announcement oracle.Announcement,
	cets []Cet, funding FundingTx, refund RefundTx,
) (Event, error) {
	if c.Status != ContractStatusOffered {
		return nil, fmt.Errorf("not in a valid status to accept contract")
	}
	if err := accepter.validate(); err != nil {
		return nil, fmt.Errorf("invalid accepter: %s", err)
	}
	if accepter.Collateral != c.Offer.AcceptCollateral {
		return nil, fmt.Errorf(
			"accepter collateral %d differs from offered %d",
			accepter.Collateral, c.Offer.AcceptCollateral,
		)
	}
	if len(cets) != len(c.Offer.Payouts) {
		return nil, fmt.Errorf(
			"expected %d cets, got %d", len(c.Offer.Payouts), len(cets),
		)
	}
	for _, cet := range cets {
		if _, ok := c.Offer.PayoutFor(cet.Outcome); !ok {
			return nil, fmt.Errorf("cet for unknown outcome %s", cet.Outcome)
		}
		if len(cet.OwnAdaptorSig) <= 0 {
			return nil, fmt.Errorf("missing adaptor signature for outcome %s", cet.Outcome)
		}
	}
	if len(funding.Txid) <= 0 {
		return nil, fmt.Errorf("missing funding txid")
	}
	if len(refund.Tx) <= 0 || len(refund.OwnSig) <= 0 {
		return nil, fmt.Errorf("missing signed refund tx")
	}

	event := ContractAccepted{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractAccepted,
		},
		Accepter:     accepter,
		Announcement: announcement,
		Cets:         cets,
		Funding:      funding,
		Refund:       refund,
		Timestamp:    time.Now().Unix(),
	}
	c.raise(event)
	return event, nil
}

func (c *Contract) AddCounterpartySigs(
	adaptorSigs map[string]string, refundSig string,
) (Event, error) {
	if c.Status != ContractStatusAccepted {
		return nil, fmt.Errorf("not in a valid status to add counterparty signatures")
	}
	if c.CounterpartySigned {
		return nil, fmt.Errorf("counterparty signatures already added")
	}
	if len(refundSig) <= 0 {
		return nil, fmt.Errorf("missing counterparty refund signature")
	}
	if len(adaptorSigs) != len(c.Cets) {
		return nil, fmt.Errorf(
			"expected %d adaptor signatures, got %d", len(c.Cets), len(adaptorSigs),
		)
	}
	for _, cet := range c.Cets {
		if len(adaptorSigs[cet.Outcome]) <= 0 {
			return nil, fmt.Errorf("missing adaptor signature for outcome %s", cet.Outcome)
		}
	}

	event := CounterpartySigsReceived{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeCounterpartySigsReceived,
		},
		AdaptorSigs: adaptorSigs,
		RefundSig:   refundSig,
	}
	c.raise(event)
	return event, nil
}

func (c *Contract) ConfirmFunding(confirmations int64) (Event, error) {
	if c.Status != ContractStatusAccepted {
		return nil, fmt.Errorf("not in a valid status to confirm funding")
	}
	if !c.CounterpartySigned {
		return nil, fmt.Errorf("missing counterparty signatures")
	}
	if confirmations <= 0 {
		return nil, fmt.Errorf("funding tx not confirmed")
	}

	event := ContractFunded{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractFunded,
		},
		Confirmations: confirmations,
		Timestamp:     time.Now().Unix(),
	}
	c.raise(event)
	return event, nil
}

// PrepareSettlement records the signed settlement tx before broadcasting.
// A prepared cet can be superseded by the refund, never the opposite.
func (c *Contract) PrepareSettlement(settlement Settlement) (Event, error) {
	if c.Status != ContractStatusFunded {
		return nil, fmt.Errorf("not in a valid status to prepare settlement")
	}
	if settlement.Kind != SettlementKindCet && settlement.Kind != SettlementKindRefund {
		return nil, fmt.Errorf("invalid settlement kind")
	}
	if len(settlement.Tx) <= 0 || len(settlement.Txid) <= 0 {
		return nil, fmt.Errorf("missing settlement tx")
	}
	if settlement.Kind == SettlementKindCet {
		if _, idx := c.CetFor(settlement.Outcome); idx < 0 {
			return nil, fmt.Errorf("no cet for outcome %s", settlement.Outcome)
		}
		if settlement.Attestation == nil {
			return nil, fmt.Errorf("missing attestation for cet settlement")
		}
	}
	if c.Settlement != nil {
		if c.Settlement.Kind == SettlementKindRefund && settlement.Kind == SettlementKindCet {
			return nil, fmt.Errorf("refund already prepared")
		}
		if c.Settlement.Kind == SettlementKindCet &&
			settlement.Kind == SettlementKindCet &&
			c.Settlement.Outcome != settlement.Outcome {
			return nil, fmt.Errorf(
				"settlement already prepared for outcome %s", c.Settlement.Outcome,
			)
		}
	}

	event := SettlementPrepared{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeSettlementPrepared,
		},
		Settlement: settlement,
	}
	c.raise(event)
	return event, nil
}

func (c *Contract) Execute(txid string, attestation oracle.Attestation) (Event, error) {
	if c.Status != ContractStatusFunded {
		return nil, fmt.Errorf("not in a valid status to execute contract")
	}
	if c.Settlement == nil || c.Settlement.Kind != SettlementKindCet {
		return nil, fmt.Errorf("missing prepared cet")
	}
	if c.Settlement.Txid != txid {
		return nil, fmt.Errorf("txid %s differs from prepared cet %s", txid, c.Settlement.Txid)
	}

	event := ContractExecuted{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractExecuted,
		},
		Outcome:     c.Settlement.Outcome,
		Txid:        txid,
		Attestation: attestation,
		Timestamp:   time.Now().Unix(),
	}
	c.raise(event)
	return event, nil
}

func (c *Contract) MarkRefunded(txid string) (Event, error) {
	if c.Status != ContractStatusFunded {
		return nil, fmt.Errorf("not in a valid status to refund contract")
	}
	if c.Settlement == nil || c.Settlement.Kind != SettlementKindRefund {
		return nil, fmt.Errorf("missing prepared refund")
	}
	if c.Settlement.Txid != txid {
		return nil, fmt.Errorf("txid %s differs from prepared refund %s", txid, c.Settlement.Txid)
	}

	event := ContractRefunded{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractRefunded,
		},
		Txid:      txid,
		Timestamp: time.Now().Unix(),
	}
	c.raise(event)
	return event, nil
}

// Fail moves a non terminal contract to the disputed-failed status.
func (c *Contract) Fail(code, reason, data string) (Event, error) {
	if c.Status == ContractStatusUndefined {
		return nil, fmt.Errorf("contract not proposed")
	}
	if c.Status.IsTerminal() {
		return nil, fmt.Errorf("contract already in terminal status %s", c.Status)
	}

	event := ContractFailed{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeContractFailed,
		},
		Failure: Failure{
			Code:      code,
			Reason:    reason,
			Data:      data,
			Timestamp: time.Now().Unix(),
		},
	}
	c.raise(event)
	return event, nil
}

// RecordAttestationConflict returns an event only when the attestation conflicts
// with the first verified one, which stays authoritative.
func (c *Contract) RecordAttestationConflict(attestation oracle.Attestation) (Event, bool) {
	if c.Attestation == nil || c.Attestation.Equal(attestation) {
		return nil, false
	}
	for _, conflict := range c.Conflicts {
		if conflict.Equal(attestation) {
			return nil, false
		}
	}

	event := AttestationConflictDetected{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeAttestationConflictDetected,
		},
		Authoritative: *c.Attestation,
		Conflicting:   attestation,
		Timestamp:     time.Now().Unix(),
	}
	c.raise(event)
	return event, true
}

// Reconcile aligns the status with the settlement tx the chain confirmed.
func (c *Contract) Reconcile(kind SettlementKind, outcome, txid string) (Event, error) {
	switch c.Status {
	case ContractStatusFunded, ContractStatusExecuted, ContractStatusRefunded:
	default:
		return nil, fmt.Errorf("not in a valid status to reconcile settlement")
	}
	switch kind {
	case SettlementKindRefund:
		if txid != c.Refund.Txid {
			return nil, fmt.Errorf("txid %s is not the refund tx", txid)
		}
	case SettlementKindCet:
		cet, _ := c.CetFor(outcome)
		if cet == nil || cet.Txid != txid {
			return nil, fmt.Errorf("txid %s is not the cet of outcome %s", txid, outcome)
		}
	default:
		return nil, fmt.Errorf("invalid settlement kind")
	}

	event := SettlementReconciled{
		ContractEvent: ContractEvent{
			Id:   c.Id,
			Type: EventTypeSettlementReconciled,
		},
		Kind:      kind,
		Outcome:   outcome,
		Txid:      txid,
		Timestamp: time.Now().Unix(),
	}
	c.raise(event)
	return event, nil
}

func (c *Contract) CetFor(outcome string) (*Cet, int) {
	for i := range c.Cets {
		if c.Cets[i].Outcome == outcome {
			return &c.Cets[i], i
		}
	}
	return nil, -1
}

// PendingSettlement returns the settlement prepared but not yet recorded as
// broadcast.
func (c *Contract) PendingSettlement() *Settlement {
	if c.Status != ContractStatusFunded {
		return nil
	}
	return c.Settlement
}

func (c *Contract) OwnParty() Party {
	if c.Role == RoleOfferer {
		return c.Offer.Offerer
	}
	return c.Accepter
}

func (c *Contract) CounterParty() Party {
	if c.Role == RoleOfferer {
		return c.Accepter
	}
	return c.Offer.Offerer
}

func (c *Contract) IsFunded() bool {
	return c.Status == ContractStatusFunded
}

func (c *Contract) IsTerminal() bool {
	return c.Status.IsTerminal()
}

func (c *Contract) on(event Event, replayed bool) {
	switch e := event.(type) {
	case ContractOffered:
		c.Id = e.Id
		c.Status = ContractStatusOffered
		c.Offer = e.Offer
		c.Role = e.Role
		c.KeyId = e.KeyId
		c.CreatedAt = e.Timestamp
		c.UpdatedAt = e.Timestamp
	case ContractAccepted:
		c.Status = ContractStatusAccepted
		c.Accepter = e.Accepter
		c.Announcement = e.Announcement
		c.Cets = append([]Cet{}, e.Cets...)
		c.Funding = e.Funding
		c.Refund = e.Refund
		c.UpdatedAt = e.Timestamp
	case CounterpartySigsReceived:
		c.CounterpartySigned = true
		for i := range c.Cets {
			c.Cets[i].CounterpartyAdaptorSig = e.AdaptorSigs[c.Cets[i].Outcome]
		}
		c.Refund.CounterpartySig = e.RefundSig
	case ContractFunded:
		c.Status = ContractStatusFunded
		c.FundingConfirmations = e.Confirmations
		c.UpdatedAt = e.Timestamp
	case SettlementPrepared:
		settlement := e.Settlement
		c.Settlement = &settlement
		if settlement.Attestation != nil && c.Attestation == nil {
			attestation := *settlement.Attestation
			c.Attestation = &attestation
		}
	case ContractExecuted:
		c.Status = ContractStatusExecuted
		c.SettlementTxid = e.Txid
		if c.Attestation == nil {
			attestation := e.Attestation
			c.Attestation = &attestation
		}
		c.UpdatedAt = e.Timestamp
	case ContractRefunded:
		c.Status = ContractStatusRefunded
		c.SettlementTxid = e.Txid
		c.UpdatedAt = e.Timestamp
	case ContractFailed:
		c.Status = ContractStatusFailed
		failure := e.Failure
		c.Failure = &failure
		c.UpdatedAt = e.Failure.Timestamp
	case AttestationConflictDetected:
		c.Conflicts = append(c.Conflicts, e.Conflicting)
		c.UpdatedAt = e.Timestamp
	case SettlementReconciled:
		switch e.Kind {
		case SettlementKindRefund:
			c.Status = ContractStatusRefunded
		case SettlementKindCet:
			c.Status = ContractStatusExecuted
		}
		c.SettlementTxid = e.Txid
		c.SettlementConfirmed = true
		c.UpdatedAt = e.Timestamp
	}

	if replayed {
		c.Version++
	}
}

func (c *Contract) raise(event Event) {
	if c.changes == nil {
		c.changes = make([]Event, 0)
	}
	c.changes = append(c.changes, event)
	c.on(event, false)
}
