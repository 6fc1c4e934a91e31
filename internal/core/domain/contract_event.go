package domain

import (
	"encoding/json"
	"fmt"

	"github.com/ark-network/dlc/pkg/oracle"
)

const ContractTopic = "contract"

type EventType int

const (
	EventTypeUndefined EventType = iota
	EventTypeContractOffered
	EventTypeContractAccepted
	EventTypeCounterpartySigsReceived
	EventTypeContractFunded
	EventTypeSettlementPrepared
	EventTypeContractExecuted
	EventTypeContractRefunded
	EventTypeContractFailed
	EventTypeAttestationConflictDetected
	EventTypeSettlementReconciled
)

type Event interface {
	GetTopic() string
	GetType() EventType
}

type ContractEvent struct {
	Id   string
	Type EventType
}

func (e ContractEvent) GetTopic() string   { return ContractTopic }
func (e ContractEvent) GetType() EventType { return e.Type }

type ContractOffered struct {
	ContractEvent
	Offer     Offer
	Role      Role
	KeyId     string
	Timestamp int64
}

type ContractAccepted struct {
	ContractEvent
	Accepter     Party
	Announcement oracle.Announcement
	Cets         []Cet
	Funding      FundingTx
	Refund       RefundTx
	Timestamp    int64
}

type CounterpartySigsReceived struct {
	ContractEvent
	AdaptorSigs map[string]string
	RefundSig   string
}

type ContractFunded struct {
	ContractEvent
	Confirmations int64
	Timestamp     int64
}

type SettlementPrepared struct {
	ContractEvent
	Settlement Settlement
}

type ContractExecuted struct {
	ContractEvent
	Outcome     string
	Txid        string
	Attestation oracle.Attestation
	Timestamp   int64
}

type ContractRefunded struct {
	ContractEvent
	Txid      string
	Timestamp int64
}

type ContractFailed struct {
	ContractEvent
	Failure Failure
}

type AttestationConflictDetected struct {
	ContractEvent
	Authoritative oracle.Attestation
	Conflicting   oracle.Attestation
	Timestamp     int64
}

type SettlementReconciled struct {
	ContractEvent
	Kind      SettlementKind
	Outcome   string
	Txid      string
	Timestamp int64
}

// UnmarshalEvent decodes a json serialized contract event, using its Type
// to pick the concrete event.
func UnmarshalEvent(buf []byte) (Event, error) {
	var header ContractEvent
	if err := json.Unmarshal(buf, &header); err != nil {
		return nil, fmt.Errorf("invalid event: %s", err)
	}

	switch header.Type {
	case EventTypeContractOffered:
		return unmarshalEvent[ContractOffered](buf)
	case EventTypeContractAccepted:
		return unmarshalEvent[ContractAccepted](buf)
	case EventTypeCounterpartySigsReceived:
		return unmarshalEvent[CounterpartySigsReceived](buf)
	case EventTypeContractFunded:
		return unmarshalEvent[ContractFunded](buf)
	case EventTypeSettlementPrepared:
		return unmarshalEvent[SettlementPrepared](buf)
	case EventTypeContractExecuted:
		return unmarshalEvent[ContractExecuted](buf)
	case EventTypeContractRefunded:
		return unmarshalEvent[ContractRefunded](buf)
	case EventTypeContractFailed:
		return unmarshalEvent[ContractFailed](buf)
	case EventTypeAttestationConflictDetected:
		return unmarshalEvent[AttestationConflictDetected](buf)
	case EventTypeSettlementReconciled:
		return unmarshalEvent[SettlementReconciled](buf)
	default:
		return nil, fmt.Errorf("unknown event type %d", header.Type)
	}
}

func unmarshalEvent[T Event](buf []byte) (Event, error) {
	var event T
	if err := json.Unmarshal(buf, &event); err != nil {
		return nil, err
	}
	return event, nil
}
