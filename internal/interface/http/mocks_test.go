package httpservice_test

import (
	"context"

	"github.com/ark-network/dlc/internal/core/application"
	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/stretchr/testify/mock"
)

type mockedAppService struct {
	mock.Mock
}

func (m *mockedAppService) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockedAppService) Stop() {
	m.Called()
}

func (m *mockedAppService) OfferContract(
	ctx context.Context, req application.OfferRequest,
) (*domain.Contract, error) {
	args := m.Called(ctx, req)
	return contractArg(args, 0), args.Error(1)
}

func (m *mockedAppService) AcceptOffer(
	ctx context.Context, offer domain.Offer, req application.AcceptRequest,
) (*domain.Contract, *domain.AcceptMessage, error) {
	args := m.Called(ctx, offer, req)

	var msg *domain.AcceptMessage
	if a := args.Get(1); a != nil {
		msg = a.(*domain.AcceptMessage)
	}
	return contractArg(args, 0), msg, args.Error(2)
}

func (m *mockedAppService) SignContract(
	ctx context.Context, contractId string, msg domain.AcceptMessage,
) (*domain.Contract, *domain.SignMessage, error) {
	args := m.Called(ctx, contractId, msg)

	var res *domain.SignMessage
	if a := args.Get(1); a != nil {
		res = a.(*domain.SignMessage)
	}
	return contractArg(args, 0), res, args.Error(2)
}

func (m *mockedAppService) FinalizeContract(
	ctx context.Context, contractId string, msg domain.SignMessage,
) (*domain.Contract, error) {
	args := m.Called(ctx, contractId, msg)
	return contractArg(args, 0), args.Error(1)
}

func (m *mockedAppService) CheckFunding(
	ctx context.Context, contractId string,
) (*domain.Contract, error) {
	args := m.Called(ctx, contractId)
	return contractArg(args, 0), args.Error(1)
}

func (m *mockedAppService) ExecuteContract(
	ctx context.Context, contractId string, attestation oracle.Attestation,
) (*domain.Contract, error) {
	args := m.Called(ctx, contractId, attestation)
	return contractArg(args, 0), args.Error(1)
}

func (m *mockedAppService) RefundContract(
	ctx context.Context, contractId string,
) (*domain.Contract, error) {
	args := m.Called(ctx, contractId)
	return contractArg(args, 0), args.Error(1)
}

func (m *mockedAppService) ReconcileSettlement(
	ctx context.Context, contractId string,
) (*domain.Contract, error) {
	args := m.Called(ctx, contractId)
	return contractArg(args, 0), args.Error(1)
}

func (m *mockedAppService) GetContract(
	ctx context.Context, contractId string,
) (*domain.Contract, error) {
	args := m.Called(ctx, contractId)
	return contractArg(args, 0), args.Error(1)
}

func (m *mockedAppService) ListContracts(
	ctx context.Context, statuses ...domain.ContractStatus,
) ([]domain.Contract, error) {
	args := m.Called(ctx, statuses)

	var res []domain.Contract
	if a := args.Get(0); a != nil {
		res = a.([]domain.Contract)
	}
	return res, args.Error(1)
}

func contractArg(args mock.Arguments, i int) *domain.Contract {
	if a := args.Get(i); a != nil {
		return a.(*domain.Contract)
	}
	return nil
}

type mockedOracleClient struct {
	mock.Mock
}

func (m *mockedOracleClient) GetOracleInfo(
	ctx context.Context, endpoint string,
) (*oracle.Info, error) {
	args := m.Called(ctx, endpoint)

	var res *oracle.Info
	if a := args.Get(0); a != nil {
		res = a.(*oracle.Info)
	}
	return res, args.Error(1)
}

func (m *mockedOracleClient) GetAnnouncement(
	ctx context.Context, endpoint, eventId string,
) (*oracle.Announcement, error) {
	args := m.Called(ctx, endpoint, eventId)

	var res *oracle.Announcement
	if a := args.Get(0); a != nil {
		res = a.(*oracle.Announcement)
	}
	return res, args.Error(1)
}

func (m *mockedOracleClient) GetAttestation(
	ctx context.Context, endpoint, eventId string,
) (*oracle.Attestation, error) {
	args := m.Called(ctx, endpoint, eventId)

	var res *oracle.Attestation
	if a := args.Get(0); a != nil {
		res = a.(*oracle.Attestation)
	}
	return res, args.Error(1)
}
