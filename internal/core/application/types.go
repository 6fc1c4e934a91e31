package application

import (
	"context"
	"time"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/pkg/oracle"
)

type Service interface {
	Start() error
	Stop()
	OfferContract(ctx context.Context, req OfferRequest) (*domain.Contract, error)
	AcceptOffer(
		ctx context.Context, offer domain.Offer, req AcceptRequest,
	) (*domain.Contract, *domain.AcceptMessage, error)
	SignContract(
		ctx context.Context, contractId string, msg domain.AcceptMessage,
	) (*domain.Contract, *domain.SignMessage, error)
	FinalizeContract(
		ctx context.Context, contractId string, msg domain.SignMessage,
	) (*domain.Contract, error)
	CheckFunding(ctx context.Context, contractId string) (*domain.Contract, error)
	ExecuteContract(
		ctx context.Context, contractId string, attestation oracle.Attestation,
	) (*domain.Contract, error)
	RefundContract(ctx context.Context, contractId string) (*domain.Contract, error)
	ReconcileSettlement(ctx context.Context, contractId string) (*domain.Contract, error)
	GetContract(ctx context.Context, contractId string) (*domain.Contract, error)
	ListContracts(
		ctx context.Context, statuses ...domain.ContractStatus,
	) ([]domain.Contract, error)
}

type Config struct {
	MinFundingConfirmations int64
	// RefundSafetyMargin is subtracted from the refund locktime to get the
	// horizon of attestation polling.
	RefundSafetyMargin  time.Duration
	FundingPollInterval time.Duration
	ReconcileInterval   time.Duration
	PollInitialInterval time.Duration
	PollMaxInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinFundingConfirmations <= 0 {
		c.MinFundingConfirmations = 1
	}
	if c.RefundSafetyMargin <= 0 {
		c.RefundSafetyMargin = time.Hour
	}
	if c.FundingPollInterval <= 0 {
		c.FundingPollInterval = time.Minute
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 10 * time.Minute
	}
	if c.PollInitialInterval <= 0 {
		c.PollInitialInterval = 5 * time.Second
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = 10 * time.Minute
	}
	return c
}

// OfferRequest are the terms the local party proposes.
type OfferRequest struct {
	OracleEndpoint   string
	EventId          string
	Payouts          []domain.Payout
	Collateral       uint64
	AcceptCollateral uint64
	RefundLocktime   int64
	// FeeRate in sat/vbyte, estimated by the chain client if zero.
	FeeRate       uint64
	KeyId         string
	PayoutScript  string
	ChangeScript  string
	FundingInputs []domain.FundingInput
}

type AcceptRequest struct {
	KeyId         string
	PayoutScript  string
	ChangeScript  string
	FundingInputs []domain.FundingInput
}
