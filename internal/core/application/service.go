package application

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/adaptor"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type service struct {
	cfg Config

	signer      ports.Signer
	chain       ports.ChainClient
	oracle      ports.OracleClient
	builder     ports.TxBuilder
	scheduler   ports.SchedulerService
	repoManager ports.RepoManager

	locks   *contractLocks
	watcher *watcher
}

func NewService(
	cfg Config,
	signer ports.Signer, chain ports.ChainClient, oracleClient ports.OracleClient,
	builder ports.TxBuilder, scheduler ports.SchedulerService,
	repoManager ports.RepoManager,
) (Service, error) {
	if signer == nil {
		return nil, fmt.Errorf("missing signer")
	}
	if chain == nil {
		return nil, fmt.Errorf("missing chain client")
	}
	if oracleClient == nil {
		return nil, fmt.Errorf("missing oracle client")
	}
	if builder == nil {
		return nil, fmt.Errorf("missing tx builder")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("missing scheduler")
	}
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}

	svc := &service{
		cfg:         cfg.withDefaults(),
		signer:      signer,
		chain:       chain,
		oracle:      oracleClient,
		builder:     builder,
		scheduler:   scheduler,
		repoManager: repoManager,
		locks:       newContractLocks(),
	}
	svc.watcher = newWatcher(svc)

	repoManager.Events().RegisterEventsHandler(
		domain.ContractTopic, func(events []domain.Event) {
			if len(events) <= 0 {
				return
			}
			last := events[len(events)-1]
			log.Debugf("contract event %T stored", last)
		},
	)
	return svc, nil
}

func (s *service) Start() error {
	log.Debug("starting scheduler")
	s.scheduler.Start()
	s.watcher.start()

	ctx := context.Background()
	contracts, err := s.repoManager.Contracts().GetContracts(
		ctx,
		domain.ContractStatusAccepted, domain.ContractStatusFunded,
		domain.ContractStatusExecuted, domain.ContractStatusRefunded,
	)
	if err != nil {
		return fmt.Errorf("failed to restore contracts: %s", err)
	}

	for i := range contracts {
		contract := contracts[i]
		switch contract.Status {
		case domain.ContractStatusAccepted:
			if contract.CounterpartySigned {
				s.watcher.watchFunding(contract.Id)
			}
		case domain.ContractStatusFunded:
			if contract.PendingSettlement() != nil {
				go s.rebroadcast(contract.Id)
				continue
			}
			s.watcher.watchAttestation(contract)
			s.watcher.scheduleRefund(contract)
		default:
			if !contract.SettlementConfirmed {
				s.watcher.watchSettlement(contract.Id)
			}
		}
	}
	log.Infof("restored %d contracts", len(contracts))
	return nil
}

func (s *service) Stop() {
	s.watcher.stop()
	s.scheduler.Stop()
	log.Debug("stopped scheduler")
	s.repoManager.Close()
	log.Debug("closed connection to db")
}

func (s *service) OfferContract(
	ctx context.Context, req OfferRequest,
) (*domain.Contract, error) {
	if len(req.KeyId) <= 0 {
		return nil, newError(ErrInvalidRequest, "missing key id", nil, nil)
	}
	errCtx := map[string]string{"event_id": req.EventId}

	info, ann, _, err := s.resolveEvent(ctx, req.OracleEndpoint, req.EventId)
	if err != nil {
		return nil, err
	}

	payoutOutcomes := make([]string, 0, len(req.Payouts))
	for _, p := range req.Payouts {
		payoutOutcomes = append(payoutOutcomes, p.Outcome)
	}
	if !sameOutcomes(ann.Outcomes, payoutOutcomes) {
		errCtx["expected"] = fmt.Sprintf("%v", ann.Outcomes)
		errCtx["actual"] = fmt.Sprintf("%v", payoutOutcomes)
		return nil, newError(ErrOutcomeSetMismatch, "payouts do not match announced outcomes", nil, errCtx)
	}
	if req.RefundLocktime <= ann.MaturityTime {
		return nil, newError(
			ErrInvalidRequest, "refund locktime must be after event maturity", nil, errCtx,
		)
	}

	pubkey, err := s.signer.GetPublicKey(ctx, req.KeyId)
	if err != nil {
		return nil, fmt.Errorf("failed to get funding pubkey: %w", err)
	}

	feeRate := req.FeeRate
	if feeRate <= 0 {
		if feeRate, err = s.estimateFeeRate(ctx); err != nil {
			return nil, err
		}
	}

	offer := domain.Offer{
		OracleEndpoint:   req.OracleEndpoint,
		OraclePubKey:     info.PublicKey,
		EventId:          req.EventId,
		Payouts:          req.Payouts,
		AcceptCollateral: req.AcceptCollateral,
		RefundLocktime:   req.RefundLocktime,
		FeeRate:          feeRate,
		Offerer: domain.Party{
			FundingPubKey: hex.EncodeToString(pubkey.SerializeCompressed()),
			PayoutScript:  req.PayoutScript,
			ChangeScript:  req.ChangeScript,
			Collateral:    req.Collateral,
			FundingInputs: req.FundingInputs,
		},
		Timestamp: time.Now().Unix(),
	}

	contract := domain.NewContract()
	if _, err := contract.Propose(offer, domain.RoleOfferer, req.KeyId); err != nil {
		return nil, newError(ErrInvalidRequest, "", err, errCtx)
	}

	unlock := s.locks.acquire(contract.Id)
	defer unlock()

	if err := s.save(ctx, contract); err != nil {
		return nil, err
	}

	log.WithField("contract", contract.Id).Infof(
		"offered contract on event %s with %d outcomes", offer.EventId, len(offer.Payouts),
	)
	return contract, nil
}

func (s *service) AcceptOffer(
	ctx context.Context, offer domain.Offer, req AcceptRequest,
) (*domain.Contract, *domain.AcceptMessage, error) {
	if len(req.KeyId) <= 0 {
		return nil, nil, newError(ErrInvalidRequest, "missing key id", nil, nil)
	}
	if err := offer.Validate(); err != nil {
		return nil, nil, newError(ErrInvalidRequest, "", err, nil)
	}

	contractId := offer.ContractId()
	unlock := s.locks.acquire(contractId)
	defer unlock()

	existing, err := s.load(ctx, contractId)
	if err != nil && !errors.Is(err, ErrContractNotFound) {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, newError(
			ErrInvalidStatus, "contract already exists", nil,
			map[string]string{"contract": contractId},
		)
	}

	info, ann, oraclePubKey, err := s.resolveEvent(ctx, offer.OracleEndpoint, offer.EventId)
	if err != nil {
		return nil, nil, err
	}
	// the refund must not become valid before the oracle can attest
	if offer.RefundLocktime <= ann.MaturityTime {
		return nil, nil, newError(
			ErrInvalidRequest, "refund locktime must be after event maturity", nil,
			map[string]string{"contract": contractId, "event_id": offer.EventId},
		)
	}

	pubkey, err := s.signer.GetPublicKey(ctx, req.KeyId)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get funding pubkey: %w", err)
	}

	contract := domain.NewContract()
	if _, err := contract.Propose(offer, domain.RoleAccepter, req.KeyId); err != nil {
		return nil, nil, newError(ErrInvalidRequest, "", err, nil)
	}
	errCtx := map[string]string{"contract": contract.Id, "event_id": offer.EventId}

	if !sameXOnlyKey(info.PublicKey, offer.OraclePubKey) {
		errCtx["expected"] = offer.OraclePubKey
		errCtx["actual"] = info.PublicKey
		return nil, nil, s.fail(
			ctx, contract,
			newError(ErrOracleMismatch, "oracle key differs from offered one", nil, errCtx),
			rawData(info),
		)
	}
	if !sameOutcomes(ann.Outcomes, offer.Outcomes()) {
		errCtx["expected"] = fmt.Sprintf("%v", ann.Outcomes)
		errCtx["actual"] = fmt.Sprintf("%v", offer.Outcomes())
		return nil, nil, s.fail(
			ctx, contract,
			newError(ErrOutcomeSetMismatch, "offered outcomes do not match announcement", nil, errCtx),
			rawData(ann),
		)
	}

	accepter := domain.Party{
		FundingPubKey: hex.EncodeToString(pubkey.SerializeCompressed()),
		PayoutScript:  req.PayoutScript,
		ChangeScript:  req.ChangeScript,
		Collateral:    offer.AcceptCollateral,
		FundingInputs: req.FundingInputs,
	}

	txs, points, err := s.buildTxs(offer, accepter, *ann, oraclePubKey)
	if err != nil {
		return nil, nil, err
	}
	cets, refund, err := s.signTxs(ctx, req.KeyId, txs, points)
	if err != nil {
		return nil, nil, err
	}

	if _, err := contract.Accept(accepter, *ann, cets, txs.Funding, refund); err != nil {
		return nil, nil, newError(ErrInvalidRequest, "", err, errCtx)
	}
	if err := s.save(ctx, contract); err != nil {
		return nil, nil, err
	}

	adaptorSigs := make(map[string]string, len(cets))
	for _, cet := range cets {
		adaptorSigs[cet.Outcome] = cet.OwnAdaptorSig
	}

	log.WithField("contract", contract.Id).Infof(
		"accepted contract, funding tx %s", contract.Funding.Txid,
	)
	return contract, &domain.AcceptMessage{
		ContractId:  contract.Id,
		Accepter:    accepter,
		AdaptorSigs: adaptorSigs,
		RefundSig:   refund.OwnSig,
	}, nil
}

func (s *service) SignContract(
	ctx context.Context, contractId string, msg domain.AcceptMessage,
) (*domain.Contract, *domain.SignMessage, error) {
	unlock := s.locks.acquire(contractId)
	defer unlock()

	contract, err := s.load(ctx, contractId)
	if err != nil {
		return nil, nil, err
	}
	errCtx := map[string]string{"contract": contractId}
	if msg.ContractId != contractId {
		return nil, nil, newError(ErrInvalidRequest, "contract id mismatch", nil, errCtx)
	}
	if contract.Role != domain.RoleOfferer || contract.Status != domain.ContractStatusOffered {
		errCtx["status"] = contract.Status.String()
		return nil, nil, newError(ErrInvalidStatus, "contract can't be signed", nil, errCtx)
	}
	if msg.Accepter.Collateral != contract.Offer.AcceptCollateral {
		return nil, nil, newError(ErrInvalidRequest, "accepter collateral mismatch", nil, errCtx)
	}

	info, ann, oraclePubKey, err := s.resolveEvent(
		ctx, contract.Offer.OracleEndpoint, contract.Offer.EventId,
	)
	if err != nil {
		return nil, nil, err
	}
	if !sameXOnlyKey(info.PublicKey, contract.Offer.OraclePubKey) {
		return nil, nil, s.fail(
			ctx, contract,
			newError(ErrOracleMismatch, "oracle key changed since offer", nil, errCtx),
			rawData(info),
		)
	}

	txs, points, err := s.buildTxs(contract.Offer, msg.Accepter, *ann, oraclePubKey)
	if err != nil {
		return nil, nil, err
	}

	acceptPubKey, err := parsePubKey(msg.Accepter.FundingPubKey)
	if err != nil {
		return nil, nil, newError(ErrInvalidRequest, "invalid accepter funding pubkey", err, errCtx)
	}
	if err := s.verifyCounterpartySigs(
		txs.Cets, txs.Funding, txs.Refund.Tx, acceptPubKey, msg.AdaptorSigs, msg.RefundSig,
	); err != nil {
		return nil, nil, s.fail(ctx, contract, classify(err, errCtx), rawData(msg))
	}

	cets, refund, err := s.signTxs(ctx, contract.KeyId, txs, points)
	if err != nil {
		return nil, nil, err
	}

	if _, err := contract.Accept(msg.Accepter, *ann, cets, txs.Funding, refund); err != nil {
		return nil, nil, newError(ErrInvalidRequest, "", err, errCtx)
	}
	if _, err := contract.AddCounterpartySigs(msg.AdaptorSigs, msg.RefundSig); err != nil {
		return nil, nil, newError(ErrInvalidRequest, "", err, errCtx)
	}
	if err := s.save(ctx, contract); err != nil {
		return nil, nil, err
	}
	s.watcher.watchFunding(contract.Id)

	adaptorSigs := make(map[string]string, len(cets))
	for _, cet := range cets {
		adaptorSigs[cet.Outcome] = cet.OwnAdaptorSig
	}

	log.WithField("contract", contractId).Infof(
		"signed contract, waiting for funding tx %s", contract.Funding.Txid,
	)
	return contract, &domain.SignMessage{
		ContractId:  contractId,
		AdaptorSigs: adaptorSigs,
		RefundSig:   refund.OwnSig,
	}, nil
}

func (s *service) FinalizeContract(
	ctx context.Context, contractId string, msg domain.SignMessage,
) (*domain.Contract, error) {
	unlock := s.locks.acquire(contractId)
	defer unlock()

	contract, err := s.load(ctx, contractId)
	if err != nil {
		return nil, err
	}
	errCtx := map[string]string{"contract": contractId}
	if msg.ContractId != contractId {
		return nil, newError(ErrInvalidRequest, "contract id mismatch", nil, errCtx)
	}
	if contract.Role != domain.RoleAccepter ||
		contract.Status != domain.ContractStatusAccepted ||
		contract.CounterpartySigned {
		errCtx["status"] = contract.Status.String()
		return nil, newError(ErrInvalidStatus, "contract can't be finalized", nil, errCtx)
	}

	offerPubKey, err := parsePubKey(contract.Offer.Offerer.FundingPubKey)
	if err != nil {
		return nil, newError(ErrInvalidRequest, "invalid offerer funding pubkey", err, errCtx)
	}
	if err := s.verifyCounterpartySigs(
		contract.Cets, contract.Funding, contract.Refund.Tx,
		offerPubKey, msg.AdaptorSigs, msg.RefundSig,
	); err != nil {
		return nil, s.fail(ctx, contract, classify(err, errCtx), rawData(msg))
	}

	if _, err := contract.AddCounterpartySigs(msg.AdaptorSigs, msg.RefundSig); err != nil {
		return nil, newError(ErrInvalidRequest, "", err, errCtx)
	}
	if err := s.save(ctx, contract); err != nil {
		return nil, err
	}
	s.watcher.watchFunding(contract.Id)

	log.WithField("contract", contractId).Infof(
		"finalized contract, waiting for funding tx %s", contract.Funding.Txid,
	)
	return contract, nil
}

func (s *service) CheckFunding(
	ctx context.Context, contractId string,
) (*domain.Contract, error) {
	unlock := s.locks.acquire(contractId)
	defer unlock()

	contract, err := s.load(ctx, contractId)
	if err != nil {
		return nil, err
	}
	if contract.Status == domain.ContractStatusFunded {
		return contract, nil
	}
	errCtx := map[string]string{
		"contract": contractId, "status": contract.Status.String(),
	}
	if contract.Status != domain.ContractStatusAccepted || !contract.CounterpartySigned {
		return nil, newError(ErrInvalidStatus, "contract not waiting for funding", nil, errCtx)
	}

	confirmations, err := s.confirmations(ctx, contract.Funding.Txid)
	if err != nil {
		return nil, classify(err, errCtx)
	}
	if confirmations < s.cfg.MinFundingConfirmations {
		errCtx["confirmations"] = fmt.Sprintf("%d", confirmations)
		return nil, newError(ErrFundingNotFound, "", nil, errCtx)
	}

	if _, err := contract.ConfirmFunding(confirmations); err != nil {
		return nil, newError(ErrInvalidStatus, "", err, errCtx)
	}
	if err := s.save(ctx, contract); err != nil {
		return nil, err
	}
	s.watcher.watchAttestation(*contract)
	s.watcher.scheduleRefund(*contract)

	log.WithField("contract", contractId).Infof(
		"funding tx %s confirmed (%d confs)", contract.Funding.Txid, confirmations,
	)
	return contract, nil
}

func (s *service) ExecuteContract(
	ctx context.Context, contractId string, attestation oracle.Attestation,
) (*domain.Contract, error) {
	unlock := s.locks.acquire(contractId)
	defer unlock()

	contract, err := s.load(ctx, contractId)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, contract, attestation)
}

func (s *service) RefundContract(
	ctx context.Context, contractId string,
) (*domain.Contract, error) {
	unlock := s.locks.acquire(contractId)
	defer unlock()

	contract, err := s.load(ctx, contractId)
	if err != nil {
		return nil, err
	}
	errCtx := map[string]string{
		"contract": contractId, "status": contract.Status.String(),
	}
	if contract.Status == domain.ContractStatusRefunded {
		return contract, nil
	}
	if contract.Status != domain.ContractStatusFunded {
		return contract, newError(ErrInvalidStatus, "contract can't be refunded", nil, errCtx)
	}

	now, err := s.chain.GetCurrentTime(ctx)
	if err != nil {
		return contract, classify(err, errCtx)
	}
	if now.Unix() < contract.Offer.RefundLocktime {
		errCtx["refund_locktime"] = fmt.Sprintf("%d", contract.Offer.RefundLocktime)
		return contract, newError(ErrRefundNotAvailable, "refund timelock not expired", nil, errCtx)
	}

	if settlement := contract.PendingSettlement(); settlement != nil &&
		settlement.Kind == domain.SettlementKindRefund {
		return s.broadcastSettlement(ctx, contract)
	}

	ownSig, err := parseSchnorrSig(contract.Refund.OwnSig)
	if err != nil {
		return contract, fmt.Errorf("invalid own refund signature: %s", err)
	}
	counterpartySig, err := parseSchnorrSig(contract.Refund.CounterpartySig)
	if err != nil {
		return contract, fmt.Errorf("invalid counterparty refund signature: %s", err)
	}
	offerSig, acceptSig := sortSigs(contract.Role, ownSig, counterpartySig)

	txHex, txid, err := s.builder.FinalizeTx(
		contract.Refund.Tx, contract.Funding, offerSig, acceptSig,
	)
	if err != nil {
		return contract, fmt.Errorf("failed to finalize refund tx: %s", err)
	}

	if _, err := contract.PrepareSettlement(domain.Settlement{
		Kind: domain.SettlementKindRefund,
		Tx:   txHex,
		Txid: txid,
	}); err != nil {
		return contract, newError(ErrInvalidStatus, "", err, errCtx)
	}
	if err := s.save(ctx, contract); err != nil {
		return contract, err
	}

	log.WithField("contract", contractId).Infof("broadcasting refund tx %s", txid)
	return s.broadcastSettlement(ctx, contract)
}

// ReconcileSettlement looks for the settlement tx confirmed onchain and
// aligns the contract status with it, whatever was recorded locally.
func (s *service) ReconcileSettlement(
	ctx context.Context, contractId string,
) (*domain.Contract, error) {
	unlock := s.locks.acquire(contractId)
	defer unlock()

	contract, err := s.load(ctx, contractId)
	if err != nil {
		return nil, err
	}
	errCtx := map[string]string{
		"contract": contractId, "status": contract.Status.String(),
	}
	switch contract.Status {
	case domain.ContractStatusFunded,
		domain.ContractStatusExecuted,
		domain.ContractStatusRefunded:
	default:
		return contract, newError(ErrInvalidStatus, "contract has no settlement", nil, errCtx)
	}
	if contract.SettlementConfirmed {
		return contract, nil
	}

	if settlement := contract.PendingSettlement(); settlement != nil {
		if _, err := s.chain.Broadcast(ctx, settlement.Tx); err != nil {
			log.WithError(err).WithField("contract", contractId).Debug(
				"failed to re-broadcast settlement tx",
			)
		}
	}

	confirmations, err := s.confirmations(ctx, contract.Refund.Txid)
	if err != nil {
		return contract, classify(err, errCtx)
	}
	if confirmations > 0 {
		prevStatus := contract.Status
		if _, err := contract.Reconcile(
			domain.SettlementKindRefund, "", contract.Refund.Txid,
		); err != nil {
			return contract, newError(ErrInvalidStatus, "", err, errCtx)
		}
		if err := s.save(ctx, contract); err != nil {
			return contract, err
		}
		if prevStatus != domain.ContractStatusRefunded {
			log.WithField("contract", contractId).Warnf(
				"refund tx confirmed onchain, forcing %s contract to refunded", prevStatus,
			)
		}
		return contract, nil
	}

	for _, cet := range contract.Cets {
		confirmations, err := s.confirmations(ctx, cet.Txid)
		if err != nil {
			return contract, classify(err, errCtx)
		}
		if confirmations <= 0 {
			continue
		}

		prevStatus := contract.Status
		if _, err := contract.Reconcile(
			domain.SettlementKindCet, cet.Outcome, cet.Txid,
		); err != nil {
			return contract, newError(ErrInvalidStatus, "", err, errCtx)
		}
		if err := s.save(ctx, contract); err != nil {
			return contract, err
		}
		if prevStatus != domain.ContractStatusExecuted {
			log.WithField("contract", contractId).Warnf(
				"cet of outcome %s confirmed onchain, forcing %s contract to executed",
				cet.Outcome, prevStatus,
			)
		}
		return contract, nil
	}

	return contract, nil
}

func (s *service) GetContract(
	ctx context.Context, contractId string,
) (*domain.Contract, error) {
	contract, err := s.repoManager.Contracts().GetContract(ctx, contractId)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, newError(
			ErrContractNotFound, "", nil, map[string]string{"contract": contractId},
		)
	}
	return contract, nil
}

func (s *service) ListContracts(
	ctx context.Context, statuses ...domain.ContractStatus,
) ([]domain.Contract, error) {
	return s.repoManager.Contracts().GetContracts(ctx, statuses...)
}

// execute must be called with the contract lock held.
func (s *service) execute(
	ctx context.Context, contract *domain.Contract, attestation oracle.Attestation,
) (*domain.Contract, error) {
	errCtx := map[string]string{
		"contract": contract.Id,
		"event_id": contract.Offer.EventId,
		"outcome":  attestation.Outcome,
		"status":   contract.Status.String(),
	}

	if contract.IsTerminal() || contract.Settlement != nil {
		if contract.Attestation != nil {
			if contract.Attestation.Equal(attestation) {
				if contract.Status == domain.ContractStatusFunded {
					return s.broadcastSettlement(ctx, contract)
				}
				if contract.Status == domain.ContractStatusExecuted {
					return contract, nil
				}
			} else {
				s.recordConflict(ctx, contract, attestation)
			}
		}
		if contract.Status == domain.ContractStatusFunded &&
			contract.Settlement.Kind == domain.SettlementKindCet {
			return s.broadcastSettlement(ctx, contract)
		}
		return contract, newError(ErrInvalidStatus, "contract already settled", nil, errCtx)
	}
	if contract.Status != domain.ContractStatusFunded {
		return contract, newError(ErrInvalidStatus, "contract not funded", nil, errCtx)
	}

	oraclePubKey, err := parseXOnlyKey(contract.Offer.OraclePubKey)
	if err != nil {
		return contract, fmt.Errorf("invalid oracle pubkey: %s", err)
	}
	if err := oracle.VerifyAttestation(
		contract.Announcement, oraclePubKey, attestation,
	); err != nil {
		cerr := classify(err, errCtx)
		if KindOf(cerr) == ErrKindProtocolViolation {
			return contract, s.fail(ctx, contract, cerr, rawData(attestation))
		}
		return contract, cerr
	}

	cet, _ := contract.CetFor(attestation.Outcome)
	if cet == nil {
		errCtx["expected"] = fmt.Sprintf("%v", contract.Offer.Outcomes())
		return contract, s.fail(
			ctx, contract,
			newError(ErrUnanticipatedOutcome, "attested outcome not part of the contract", nil, errCtx),
			rawData(attestation),
		)
	}

	secret, err := attestation.Scalar()
	if err != nil {
		return contract, s.fail(ctx, contract, classify(err, errCtx), rawData(attestation))
	}
	sigHash, err := s.builder.SigHash(cet.Tx, contract.Funding)
	if err != nil {
		return contract, fmt.Errorf("failed to compute cet sighash: %s", err)
	}

	ownPubKey, err := parsePubKey(contract.OwnParty().FundingPubKey)
	if err != nil {
		return contract, fmt.Errorf("invalid own funding pubkey: %s", err)
	}
	counterpartyPubKey, err := parsePubKey(contract.CounterParty().FundingPubKey)
	if err != nil {
		return contract, fmt.Errorf("invalid counterparty funding pubkey: %s", err)
	}

	ownSig, err := s.decryptCetSig(cet.OwnAdaptorSig, secret, sigHash, ownPubKey)
	if err != nil {
		return contract, s.fail(ctx, contract, classify(err, errCtx), rawData(attestation))
	}
	counterpartySig, err := s.decryptCetSig(
		cet.CounterpartyAdaptorSig, secret, sigHash, counterpartyPubKey,
	)
	if err != nil {
		return contract, s.fail(ctx, contract, classify(err, errCtx), rawData(attestation))
	}

	offerSig, acceptSig := sortSigs(contract.Role, ownSig, counterpartySig)
	txHex, txid, err := s.builder.FinalizeTx(cet.Tx, contract.Funding, offerSig, acceptSig)
	if err != nil {
		return contract, fmt.Errorf("failed to finalize cet: %s", err)
	}

	if _, err := contract.PrepareSettlement(domain.Settlement{
		Kind:        domain.SettlementKindCet,
		Outcome:     attestation.Outcome,
		Tx:          txHex,
		Txid:        txid,
		Attestation: &attestation,
	}); err != nil {
		return contract, newError(ErrInvalidStatus, "", err, errCtx)
	}
	if err := s.save(ctx, contract); err != nil {
		return contract, err
	}

	log.WithField("contract", contract.Id).Infof(
		"broadcasting cet %s for outcome %s", txid, attestation.Outcome,
	)
	return s.broadcastSettlement(ctx, contract)
}

func (s *service) decryptCetSig(
	sigStr string, secret *btcec.ModNScalar, sigHash []byte, pubkey *btcec.PublicKey,
) (*schnorr.Signature, error) {
	adaptorSig, err := parseAdaptorSig(sigStr)
	if err != nil {
		return nil, newError(ErrDecryptionMismatch, "invalid adaptor signature", err, nil)
	}
	sig, err := adaptor.Decrypt(adaptorSig, secret)
	if err != nil {
		return nil, err
	}
	if !sig.Verify(sigHash, pubkey) {
		return nil, newError(
			ErrDecryptionMismatch, "decrypted signature does not verify", nil, nil,
		)
	}
	return sig, nil
}

// broadcastSettlement must be called with the contract lock held. The
// settlement is recorded as broadcast only once the chain client accepts
// it, a restart re-broadcasts the very same tx otherwise.
func (s *service) broadcastSettlement(
	ctx context.Context, contract *domain.Contract,
) (*domain.Contract, error) {
	settlement := contract.PendingSettlement()
	if settlement == nil {
		return contract, nil
	}
	errCtx := map[string]string{
		"contract": contract.Id, "txid": settlement.Txid, "kind": settlement.Kind.String(),
	}

	if _, err := s.chain.Broadcast(ctx, settlement.Tx); err != nil {
		// The counterparty may have settled first.
		s.watcher.watchSettlement(contract.Id)
		return contract, classify(err, errCtx)
	}

	var err error
	switch settlement.Kind {
	case domain.SettlementKindCet:
		_, err = contract.Execute(settlement.Txid, *settlement.Attestation)
	case domain.SettlementKindRefund:
		_, err = contract.MarkRefunded(settlement.Txid)
	}
	if err != nil {
		return contract, newError(ErrInvalidStatus, "", err, errCtx)
	}
	if err := s.save(ctx, contract); err != nil {
		return contract, err
	}
	s.watcher.watchSettlement(contract.Id)

	log.WithField("contract", contract.Id).Infof(
		"contract %s, settlement tx %s", contract.Status, settlement.Txid,
	)
	return contract, nil
}

func (s *service) rebroadcast(contractId string) {
	ctx := context.Background()
	unlock := s.locks.acquire(contractId)
	defer unlock()

	contract, err := s.load(ctx, contractId)
	if err != nil {
		log.WithError(err).Warnf("failed to load contract %s", contractId)
		return
	}
	if _, err := s.broadcastSettlement(ctx, contract); err != nil {
		log.WithError(err).Warnf("failed to re-broadcast settlement of contract %s", contractId)
	}
}

// recordConflict stores a verified attestation that differs from the
// authoritative one. It never changes the contract status.
func (s *service) recordConflict(
	ctx context.Context, contract *domain.Contract, attestation oracle.Attestation,
) {
	oraclePubKey, err := parseXOnlyKey(contract.Offer.OraclePubKey)
	if err != nil {
		return
	}
	if err := oracle.VerifyAttestation(
		contract.Announcement, oraclePubKey, attestation,
	); err != nil {
		log.WithError(err).WithField("contract", contract.Id).Warn(
			"ignoring invalid conflicting attestation",
		)
		return
	}
	if _, ok := contract.RecordAttestationConflict(attestation); !ok {
		return
	}
	if err := s.save(ctx, contract); err != nil {
		log.WithError(err).WithField("contract", contract.Id).Warn(
			"failed to record attestation conflict",
		)
		return
	}
	log.WithField("contract", contract.Id).Warnf(
		"oracle attested conflicting outcomes for event %s: %s (authoritative) and %s",
		contract.Offer.EventId, contract.Attestation.Outcome, attestation.Outcome,
	)
}

// fail moves the contract to disputed-failed and returns the given error.
func (s *service) fail(
	ctx context.Context, contract *domain.Contract, cause error, data string,
) error {
	code := string(KindOf(cause))
	var e *Error
	if errors.As(cause, &e) {
		code = e.Code
	}

	if _, err := contract.Fail(code, cause.Error(), data); err != nil {
		log.WithError(err).WithField("contract", contract.Id).Warn("failed to fail contract")
		return cause
	}
	if err := s.save(ctx, contract); err != nil {
		log.WithError(err).WithField("contract", contract.Id).Warn("failed to store failed contract")
		return cause
	}

	log.WithField("contract", contract.Id).Errorf("contract failed: %s", cause)
	return cause
}

func (s *service) resolveEvent(
	ctx context.Context, endpoint, eventId string,
) (*oracle.Info, *oracle.Announcement, *btcec.PublicKey, error) {
	errCtx := map[string]string{"oracle": endpoint, "event_id": eventId}

	info, err := s.oracle.GetOracleInfo(ctx, endpoint)
	if err != nil {
		return nil, nil, nil, classify(err, errCtx)
	}
	if info.SchemeVersion != oracle.SchemeVersion {
		errCtx["expected"] = oracle.SchemeVersion
		errCtx["actual"] = info.SchemeVersion
		return nil, nil, nil, newError(ErrSchemeVersionMismatch, "", nil, errCtx)
	}
	pubkey, err := info.PubKey()
	if err != nil {
		return nil, nil, nil, newError(ErrOracleMalformedResponse, "invalid oracle pubkey", err, errCtx)
	}

	ann, err := s.oracle.GetAnnouncement(ctx, endpoint, eventId)
	if err != nil {
		return nil, nil, nil, classify(err, errCtx)
	}
	if ann.EventId != eventId {
		return nil, nil, nil, newError(ErrOracleMalformedResponse, "event id mismatch", nil, errCtx)
	}
	return info, ann, pubkey, nil
}

func (s *service) buildTxs(
	offer domain.Offer, accepter domain.Party,
	ann oracle.Announcement, oraclePubKey *btcec.PublicKey,
) (*ports.ContractTxs, map[string]*btcec.PublicKey, error) {
	offerPubKey, err := parsePubKey(offer.Offerer.FundingPubKey)
	if err != nil {
		return nil, nil, newError(ErrInvalidRequest, "invalid offerer funding pubkey", err, nil)
	}
	acceptPubKey, err := parsePubKey(accepter.FundingPubKey)
	if err != nil {
		return nil, nil, newError(ErrInvalidRequest, "invalid accepter funding pubkey", err, nil)
	}

	points, err := oracle.OutcomePoints(oraclePubKey, ann)
	if err != nil {
		return nil, nil, newError(ErrOracleMalformedResponse, "", err, nil)
	}

	txs, err := s.builder.BuildContractTxs(offer, accepter, offerPubKey, acceptPubKey)
	if err != nil {
		return nil, nil, newError(ErrInvalidRequest, "failed to build contract txs", err, nil)
	}
	for i := range txs.Cets {
		point, ok := points[txs.Cets[i].Outcome]
		if !ok {
			return nil, nil, newError(
				ErrOutcomeSetMismatch, "", nil,
				map[string]string{"outcome": txs.Cets[i].Outcome},
			)
		}
		txs.Cets[i].OutcomePoint = hex.EncodeToString(point.SerializeCompressed())
	}
	return txs, points, nil
}

// signTxs adaptor signs every cet under its outcome point and signs the
// refund tx. Cets are signed in parallel.
func (s *service) signTxs(
	ctx context.Context, keyId string,
	txs *ports.ContractTxs, points map[string]*btcec.PublicKey,
) ([]domain.Cet, domain.RefundTx, error) {
	cets := append([]domain.Cet{}, txs.Cets...)

	g, gctx := errgroup.WithContext(ctx)
	for i := range cets {
		g.Go(func() error {
			sigHash, err := s.builder.SigHash(cets[i].Tx, txs.Funding)
			if err != nil {
				return fmt.Errorf("failed to compute sighash of cet %s: %s", cets[i].Outcome, err)
			}
			sig, err := s.signer.AdaptorSign(gctx, sigHash, keyId, points[cets[i].Outcome])
			if err != nil {
				return classify(
					fmt.Errorf("failed to sign cet %s: %w", cets[i].Outcome, err), nil,
				)
			}
			cets[i].OwnAdaptorSig = sig.String()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.RefundTx{}, err
	}

	refund := txs.Refund
	sigHash, err := s.builder.SigHash(refund.Tx, txs.Funding)
	if err != nil {
		return nil, domain.RefundTx{}, fmt.Errorf("failed to compute refund sighash: %s", err)
	}
	sig, err := s.signer.Sign(ctx, sigHash, keyId)
	if err != nil {
		return nil, domain.RefundTx{}, classify(
			fmt.Errorf("failed to sign refund tx: %w", err), nil,
		)
	}
	refund.OwnSig = hex.EncodeToString(sig)
	return cets, refund, nil
}

func (s *service) verifyCounterpartySigs(
	cets []domain.Cet, funding domain.FundingTx, refundTx string,
	pubkey *btcec.PublicKey, adaptorSigs map[string]string, refundSig string,
) error {
	if len(adaptorSigs) != len(cets) {
		return newError(
			ErrInvalidCounterpartySig,
			fmt.Sprintf("expected %d adaptor signatures, got %d", len(cets), len(adaptorSigs)),
			nil, nil,
		)
	}

	g := &errgroup.Group{}
	for _, cet := range cets {
		g.Go(func() error {
			errCtx := map[string]string{"outcome": cet.Outcome}
			sig, err := parseAdaptorSig(adaptorSigs[cet.Outcome])
			if err != nil {
				return newError(ErrInvalidCounterpartySig, "", err, errCtx)
			}
			point, err := parsePubKey(cet.OutcomePoint)
			if err != nil {
				return fmt.Errorf("invalid outcome point: %s", err)
			}
			sigHash, err := s.builder.SigHash(cet.Tx, funding)
			if err != nil {
				return fmt.Errorf("failed to compute cet sighash: %s", err)
			}
			if !adaptor.Verify(sig, sigHash, pubkey, point) {
				return newError(ErrInvalidCounterpartySig, "invalid adaptor signature", nil, errCtx)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sig, err := parseSchnorrSig(refundSig)
	if err != nil {
		return newError(ErrInvalidCounterpartySig, "invalid refund signature", err, nil)
	}
	sigHash, err := s.builder.SigHash(refundTx, funding)
	if err != nil {
		return fmt.Errorf("failed to compute refund sighash: %s", err)
	}
	if !sig.Verify(sigHash, pubkey) {
		return newError(ErrInvalidCounterpartySig, "invalid refund signature", nil, nil)
	}
	return nil
}

func (s *service) confirmations(ctx context.Context, txid string) (int64, error) {
	confirmations, err := s.chain.GetConfirmationStatus(ctx, txid)
	if err != nil {
		if errors.Is(err, ports.ErrTxNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return confirmations, nil
}

func (s *service) estimateFeeRate(ctx context.Context) (uint64, error) {
	feeRate, err := s.chain.GetFeeRate(ctx)
	if err != nil {
		return 0, classify(err, nil)
	}
	satPerVByte := uint64(feeRate) / 1000
	if satPerVByte < 1 {
		satPerVByte = 1
	}
	return satPerVByte, nil
}

func (s *service) save(ctx context.Context, contract *domain.Contract) error {
	if err := s.repoManager.Events().Save(
		ctx, domain.ContractTopic, contract.Id, contract.Events(),
	); err != nil {
		return fmt.Errorf("failed to store contract events: %s", err)
	}
	if err := s.repoManager.Contracts().AddOrUpdateContract(ctx, *contract); err != nil {
		return fmt.Errorf("failed to store contract: %s", err)
	}
	return nil
}

func (s *service) load(ctx context.Context, contractId string) (*domain.Contract, error) {
	events, err := s.repoManager.Events().Load(ctx, domain.ContractTopic, contractId)
	if err != nil {
		return nil, fmt.Errorf("failed to load contract events: %w", err)
	}
	if len(events) <= 0 {
		return nil, newError(
			ErrContractNotFound, "", nil, map[string]string{"contract": contractId},
		)
	}
	return domain.NewContractFromEvents(events), nil
}
