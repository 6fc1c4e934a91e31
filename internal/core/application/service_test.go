package application_test

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ark-network/dlc/internal/core/application"
	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	inmemorycache "github.com/ark-network/dlc/internal/infrastructure/announcement-cache/inmemory"
	oracleclient "github.com/ark-network/dlc/internal/infrastructure/oracle"
	txbuilder "github.com/ark-network/dlc/internal/infrastructure/tx-builder"
	oracleserver "github.com/ark-network/dlc/internal/interface/oracle"
	"github.com/ark-network/dlc/pkg/adaptor"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "http://oracle.test"

func TestElectionContract(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	oracleKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	clock := &atomic.Int64{}
	clock.Store(time.Now().Add(-2 * time.Hour).Unix())
	oracleSvc := oracleserver.NewService(
		oracle.NewAttestor(oracleKey), "election-oracle", "", []string{"enum"},
		oracleserver.WithClock(func() time.Time { return time.Unix(clock.Load(), 0) }),
	)
	server := httptest.NewServer(oracleSvc)
	t.Cleanup(server.Close)

	_, err = oracleSvc.Announce(oracleserver.AnnounceRequest{
		EventId:      "election-2025",
		Description:  "who wins the 2025 election",
		EventType:    "enum",
		Outcomes:     []string{"A-wins", "B-wins"},
		MaturityTime: time.Now().Add(-time.Hour).Unix(),
	})
	require.NoError(t, err)

	newOracleClient := func() ports.OracleClient {
		client, err := oracleclient.NewClient(
			oracleclient.Config{RequestsPerSecond: 100, Burst: 10},
			inmemorycache.NewAnnouncementCache(),
		)
		require.NoError(t, err)
		return client
	}

	chain := newFakeChain()
	aliceOracle, bobOracle := newOracleClient(), newOracleClient()
	alice := newParty(t, "alice", offerCollateral, chain, aliceOracle, application.Config{})
	bob := newParty(t, "bob", acceptCollateral, chain, bobOracle, application.Config{})

	payouts := []domain.Payout{
		{Outcome: "A-wins", Offer: totalCollateral},
		{Outcome: "B-wins", Accept: totalCollateral},
	}
	contractId := negotiate(t, alice, bob, server.URL, "election-2025", payouts)
	fund(t, chain, contractId, alice, bob)

	// Oracle can't attest before its clock reaches maturity.
	_, err = aliceOracle.GetAttestation(ctx, server.URL, "election-2025")
	require.Error(t, err)

	clock.Store(time.Now().Unix())
	_, err = oracleSvc.Attest(oracleserver.AttestRequest{
		EventId: "election-2025", Outcome: "A-wins",
	})
	require.NoError(t, err)

	attestation, err := aliceOracle.GetAttestation(ctx, server.URL, "election-2025")
	require.NoError(t, err)
	require.Equal(t, "A-wins", attestation.Outcome)

	contract, err := alice.svc.ExecuteContract(ctx, contractId, *attestation)
	require.NoError(t, err)
	require.Equal(t, domain.ContractStatusExecuted, contract.Status)
	require.NotEmpty(t, contract.SettlementTxid)

	cet := chain.tx(contract.SettlementTxid)
	require.NotNil(t, cet)
	require.Len(t, cet.TxIn, 1)
	require.Equal(t, contract.Funding.Txid, cet.TxIn[0].PreviousOutPoint.Hash.String())
	require.Len(t, cet.TxOut, 1)
	require.Equal(t, alice.payoutScript, cet.TxOut[0].PkScript)
	fee := int64(totalCollateral) - cet.TxOut[0].Value
	require.Greater(t, fee, int64(0))
	require.Less(t, fee, int64(10_000))

	t.Run("decrypting with the wrong outcome scalar fails", func(t *testing.T) {
		cetB, _ := contract.CetFor("B-wins")
		require.NotNil(t, cetB)

		var sig adaptor.Signature
		require.NoError(t, sig.UnmarshalText([]byte(cetB.CounterpartyAdaptorSig)))
		scalarA, err := attestation.Scalar()
		require.NoError(t, err)

		_, err = adaptor.Decrypt(&sig, scalarA)
		require.ErrorIs(t, err, adaptor.ErrDecryptionMismatch)
	})

	t.Run("counterparty settles with the same cet", func(t *testing.T) {
		bobAttestation, err := bobOracle.GetAttestation(ctx, server.URL, "election-2025")
		require.NoError(t, err)
		require.True(t, attestation.Equal(*bobAttestation))

		bobContract, err := bob.svc.ExecuteContract(ctx, contractId, *bobAttestation)
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusExecuted, bobContract.Status)
		require.Equal(t, contract.SettlementTxid, bobContract.SettlementTxid)
	})

	t.Run("settlement is reconciled once confirmed", func(t *testing.T) {
		chain.confirm(contract.SettlementTxid)

		reconciled, err := alice.svc.ReconcileSettlement(ctx, contractId)
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusExecuted, reconciled.Status)
		require.True(t, reconciled.SettlementConfirmed)

		// Executing again with the same attestation is a no-op.
		again, err := alice.svc.ExecuteContract(ctx, contractId, *attestation)
		require.NoError(t, err)
		require.Equal(t, contract.SettlementTxid, again.SettlementTxid)
	})
}

func TestOutcomeCoverage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := newFakeChain()
	o := newFakeOracle(t)
	outcomes := []string{"A", "B", "C"}
	ann := o.announce(t, "three-outcomes", outcomes...)

	alice := newParty(t, "alice", offerCollateral, chain, o, application.Config{})
	bob := newParty(t, "bob", acceptCollateral, chain, o, application.Config{})

	contractId := negotiate(t, alice, bob, testEndpoint, ann.EventId, winnerTakesAll(outcomes...))
	fund(t, chain, contractId, alice, bob)

	builder := txbuilder.NewTxBuilder()
	for _, p := range []*party{alice, bob} {
		contract, err := p.svc.GetContract(ctx, contractId)
		require.NoError(t, err)
		require.Len(t, contract.Cets, len(outcomes))

		counterpartyKey, err := hexPubKey(contract.CounterParty().FundingPubKey)
		require.NoError(t, err)

		for _, outcome := range outcomes {
			cet, _ := contract.CetFor(outcome)
			require.NotNil(t, cet)
			require.NotEmpty(t, cet.OwnAdaptorSig)
			require.NotEmpty(t, cet.CounterpartyAdaptorSig)

			scalar, err := o.sign(t, ann.EventId, outcome).Scalar()
			require.NoError(t, err)
			var adaptorSig adaptor.Signature
			require.NoError(t, adaptorSig.UnmarshalText([]byte(cet.CounterpartyAdaptorSig)))
			sig, err := adaptor.Decrypt(&adaptorSig, scalar)
			require.NoError(t, err)

			sigHash, err := builder.SigHash(cet.Tx, contract.Funding)
			require.NoError(t, err)
			require.True(t, sig.Verify(sigHash, counterpartyKey))
		}
	}

	contract, err := alice.svc.ExecuteContract(ctx, contractId, o.sign(t, ann.EventId, "C"))
	require.NoError(t, err)
	require.Equal(t, domain.ContractStatusExecuted, contract.Status)
	require.Equal(t, "C", contract.Attestation.Outcome)

	// D is validly signed by the oracle but no cet pays it.
	contract, err = bob.svc.ExecuteContract(ctx, contractId, o.sign(t, ann.EventId, "D"))
	require.ErrorIs(t, err, application.ErrUnanticipatedOutcome)
	require.Equal(t, application.ErrKindProtocolViolation, application.KindOf(err))
	require.Equal(t, domain.ContractStatusFailed, contract.Status)
	require.NotNil(t, contract.Failure)
	require.Equal(t, application.ErrUnanticipatedOutcome.Code, contract.Failure.Code)

	failed, err := bob.svc.ListContracts(ctx, domain.ContractStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestRefund(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("expired timelock wins over late attestation", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		o := newFakeOracle(t)
		ann := o.announce(t, "late-event", "A", "B")
		alice := newParty(t, "alice", offerCollateral, chain, o, application.Config{})
		bob := newParty(t, "bob", acceptCollateral, chain, o, application.Config{})

		contractId := negotiate(t, alice, bob, testEndpoint, ann.EventId, winnerTakesAll("A", "B"))
		fund(t, chain, contractId, alice, bob)

		_, err := alice.svc.RefundContract(ctx, contractId)
		require.ErrorIs(t, err, application.ErrRefundNotAvailable)
		require.True(t, application.IsNotReady(err))

		contract, err := alice.svc.GetContract(ctx, contractId)
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusFunded, contract.Status)

		chain.setNow(time.Unix(contract.Offer.RefundLocktime, 0).Add(time.Second))

		contract, err = alice.svc.RefundContract(ctx, contractId)
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusRefunded, contract.Status)
		require.Equal(t, contract.Refund.Txid, contract.SettlementTxid)

		refund := chain.tx(contract.SettlementTxid)
		require.NotNil(t, refund)
		require.Equal(t, uint32(contract.Offer.RefundLocktime), refund.LockTime)
		require.Len(t, refund.TxOut, 2)

		contract, err = alice.svc.ExecuteContract(ctx, contractId, o.sign(t, ann.EventId, "A"))
		require.ErrorIs(t, err, application.ErrInvalidStatus)
		require.Equal(t, domain.ContractStatusRefunded, contract.Status)

		// Refunding twice is idempotent.
		contract, err = alice.svc.RefundContract(ctx, contractId)
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusRefunded, contract.Status)
	})

	t.Run("refund supersedes unbroadcast cet", func(t *testing.T) {
		t.Parallel()

		chain := newFakeChain()
		o := newFakeOracle(t)
		ann := o.announce(t, "flaky-chain", "A", "B")
		alice := newParty(t, "alice", offerCollateral, chain, o, application.Config{})
		bob := newParty(t, "bob", acceptCollateral, chain, o, application.Config{})

		contractId := negotiate(t, alice, bob, testEndpoint, ann.EventId, winnerTakesAll("A", "B"))
		fund(t, chain, contractId, alice, bob)
		attestation := o.sign(t, ann.EventId, "A")

		chain.setUnavailable(true)
		contract, err := bob.svc.ExecuteContract(ctx, contractId, attestation)
		require.ErrorIs(t, err, application.ErrChainClientUnavailable)
		require.True(t, application.IsTransient(err))
		require.Equal(t, domain.ContractStatusFunded, contract.Status)
		require.NotNil(t, contract.PendingSettlement())
		require.Equal(t, domain.SettlementKindCet, contract.PendingSettlement().Kind)
		chain.setUnavailable(false)

		chain.setNow(time.Unix(contract.Offer.RefundLocktime, 0).Add(time.Second))
		contract, err = bob.svc.RefundContract(ctx, contractId)
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusRefunded, contract.Status)

		// Alice settled with the cet that ends up confirmed.
		aliceContract, err := alice.svc.ExecuteContract(ctx, contractId, attestation)
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusExecuted, aliceContract.Status)
		chain.confirm(aliceContract.SettlementTxid)

		contract, err = bob.svc.ReconcileSettlement(ctx, contractId)
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusExecuted, contract.Status)
		require.Equal(t, aliceContract.SettlementTxid, contract.SettlementTxid)
		require.True(t, contract.SettlementConfirmed)
	})
}

func TestConflictingAttestation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := newFakeChain()
	o := newFakeOracle(t)
	ann := o.announce(t, "equivocation", "A", "B")
	alice := newParty(t, "alice", offerCollateral, chain, o, application.Config{})
	bob := newParty(t, "bob", acceptCollateral, chain, o, application.Config{})

	contractId := negotiate(t, alice, bob, testEndpoint, ann.EventId, winnerTakesAll("A", "B"))
	fund(t, chain, contractId, alice)

	attA, attB := o.sign(t, ann.EventId, "A"), o.sign(t, ann.EventId, "B")

	contract, err := alice.svc.ExecuteContract(ctx, contractId, attA)
	require.NoError(t, err)
	require.Equal(t, domain.ContractStatusExecuted, contract.Status)
	txid := contract.SettlementTxid

	contract, err = alice.svc.ExecuteContract(ctx, contractId, attB)
	require.ErrorIs(t, err, application.ErrInvalidStatus)
	require.Equal(t, domain.ContractStatusExecuted, contract.Status)
	require.Equal(t, txid, contract.SettlementTxid)
	require.Len(t, contract.Conflicts, 1)
	require.Equal(t, "B", contract.Conflicts[0].Outcome)

	// The same conflict is recorded once.
	_, err = alice.svc.ExecuteContract(ctx, contractId, attB)
	require.Error(t, err)
	contract, err = alice.svc.GetContract(ctx, contractId)
	require.NoError(t, err)
	require.Len(t, contract.Conflicts, 1)
	require.Equal(t, "A", contract.Attestation.Outcome)
}

func TestContractErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	setup := func(t *testing.T) (*fakeChain, *fakeOracle, oracle.Announcement, *party, *party) {
		chain := newFakeChain()
		o := newFakeOracle(t)
		ann := o.announce(t, "event", "A", "B")
		alice := newParty(t, "alice", offerCollateral, chain, o, application.Config{})
		bob := newParty(t, "bob", acceptCollateral, chain, o, application.Config{})
		return chain, o, ann, alice, bob
	}

	t.Run("offer", func(t *testing.T) {
		t.Parallel()

		_, o, ann, alice, _ := setup(t)

		_, err := alice.svc.OfferContract(
			ctx, alice.offerRequest(testEndpoint, ann.EventId, winnerTakesAll("A", "B", "C")),
		)
		require.ErrorIs(t, err, application.ErrOutcomeSetMismatch)

		req := alice.offerRequest(testEndpoint, ann.EventId, winnerTakesAll("A", "B"))
		req.RefundLocktime = ann.MaturityTime - 1
		_, err = alice.svc.OfferContract(ctx, req)
		require.ErrorIs(t, err, application.ErrInvalidRequest)

		_, err = alice.svc.OfferContract(
			ctx, alice.offerRequest(testEndpoint, "unknown", winnerTakesAll("A", "B")),
		)
		require.ErrorIs(t, err, application.ErrEventNotFound)

		o.setUnreachable(true)
		_, err = alice.svc.OfferContract(
			ctx, alice.offerRequest(testEndpoint, ann.EventId, winnerTakesAll("A", "B")),
		)
		require.ErrorIs(t, err, application.ErrOracleUnreachable)
		require.True(t, application.IsTransient(err))
		o.setUnreachable(false)

		o.lock.Lock()
		o.info.SchemeVersion = "v1"
		o.lock.Unlock()
		_, err = alice.svc.OfferContract(
			ctx, alice.offerRequest(testEndpoint, ann.EventId, winnerTakesAll("A", "B")),
		)
		require.ErrorIs(t, err, application.ErrSchemeVersionMismatch)
		require.Equal(t, application.ErrKindFatal, application.KindOf(err))

		contracts, err := alice.svc.ListContracts(ctx)
		require.NoError(t, err)
		require.Empty(t, contracts)
	})

	t.Run("accept", func(t *testing.T) {
		t.Parallel()

		_, _, ann, alice, bob := setup(t)

		offered, err := alice.svc.OfferContract(
			ctx, alice.offerRequest(testEndpoint, ann.EventId, winnerTakesAll("A", "B")),
		)
		require.NoError(t, err)

		otherKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		forged := offered.Offer
		forged.OraclePubKey = hex.EncodeToString(schnorr.SerializePubKey(otherKey.PubKey()))

		_, _, err = bob.svc.AcceptOffer(ctx, forged, bob.acceptRequest())
		require.ErrorIs(t, err, application.ErrOracleMismatch)
		contract, err := bob.svc.GetContract(ctx, forged.ContractId())
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusFailed, contract.Status)
		require.Equal(t, application.ErrOracleMismatch.Code, contract.Failure.Code)

		early := offered.Offer
		early.RefundLocktime = ann.MaturityTime - 60
		_, _, err = bob.svc.AcceptOffer(ctx, early, bob.acceptRequest())
		require.ErrorIs(t, err, application.ErrInvalidRequest)
		_, err = bob.svc.GetContract(ctx, early.ContractId())
		require.ErrorIs(t, err, application.ErrContractNotFound)

		bob.events.down.Store(true)
		_, _, err = bob.svc.AcceptOffer(ctx, offered.Offer, bob.acceptRequest())
		require.ErrorContains(t, err, "event store unavailable")
		require.NotErrorIs(t, err, application.ErrInvalidStatus)
		bob.events.down.Store(false)

		_, _, err = bob.svc.AcceptOffer(ctx, offered.Offer, bob.acceptRequest())
		require.NoError(t, err)
		_, _, err = bob.svc.AcceptOffer(ctx, offered.Offer, bob.acceptRequest())
		require.ErrorIs(t, err, application.ErrInvalidStatus)

		_, err = bob.svc.ExecuteContract(ctx, offered.Id, oracle.Attestation{})
		require.ErrorIs(t, err, application.ErrInvalidStatus)
	})

	t.Run("invalid counterparty signature", func(t *testing.T) {
		t.Parallel()

		_, _, ann, alice, bob := setup(t)

		offered, err := alice.svc.OfferContract(
			ctx, alice.offerRequest(testEndpoint, ann.EventId, winnerTakesAll("A", "B")),
		)
		require.NoError(t, err)
		_, acceptMsg, err := bob.svc.AcceptOffer(ctx, offered.Offer, bob.acceptRequest())
		require.NoError(t, err)

		acceptMsg.AdaptorSigs["A"], acceptMsg.AdaptorSigs["B"] =
			acceptMsg.AdaptorSigs["B"], acceptMsg.AdaptorSigs["A"]

		_, _, err = alice.svc.SignContract(ctx, offered.Id, *acceptMsg)
		require.ErrorIs(t, err, application.ErrInvalidCounterpartySig)

		contract, err := alice.svc.GetContract(ctx, offered.Id)
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusFailed, contract.Status)
	})

	t.Run("funding and attestation", func(t *testing.T) {
		t.Parallel()

		chain, o, ann, alice, bob := setup(t)
		contractId := negotiate(t, alice, bob, testEndpoint, ann.EventId, winnerTakesAll("A", "B"))

		_, err := alice.svc.CheckFunding(ctx, contractId)
		require.ErrorIs(t, err, application.ErrFundingNotFound)
		require.True(t, application.IsNotReady(err))

		chain.setUnavailable(true)
		_, err = alice.svc.CheckFunding(ctx, contractId)
		require.True(t, application.IsTransient(err))
		chain.setUnavailable(false)

		fund(t, chain, contractId, alice)

		attestation := o.sign(t, ann.EventId, "A")
		sig := []byte(attestation.Signature)
		if sig[len(sig)-1] == '0' {
			sig[len(sig)-1] = '1'
		} else {
			sig[len(sig)-1] = '0'
		}
		attestation.Signature = string(sig)

		contract, err := alice.svc.ExecuteContract(ctx, contractId, attestation)
		require.ErrorIs(t, err, application.ErrInvalidAttestationSignature)
		require.Equal(t, domain.ContractStatusFailed, contract.Status)
		require.Equal(t, application.ErrInvalidAttestationSignature.Code, contract.Failure.Code)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		_, _, _, alice, _ := setup(t)
		_, err := alice.svc.GetContract(ctx, "unknown")
		require.ErrorIs(t, err, application.ErrContractNotFound)
		require.Equal(t, application.ErrKindInvalid, application.KindOf(err))

		var serviceErr *application.Error
		require.True(t, errors.As(err, &serviceErr))
		require.Equal(t, "unknown", serviceErr.Context["contract"])
	})
}

func TestWatcher(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := application.Config{
		FundingPollInterval: time.Second,
		ReconcileInterval:   time.Second,
		PollInitialInterval: 100 * time.Millisecond,
		PollMaxInterval:     time.Second,
	}

	chain := newFakeChain()
	o := newFakeOracle(t)
	ann := o.announce(t, "watched", "A", "B")
	alice := newParty(t, "alice", offerCollateral, chain, o, cfg)
	bob := newParty(t, "bob", acceptCollateral, chain, o, cfg)
	require.NoError(t, alice.svc.Start())

	// the refund locktime is within the default safety margin: polling is
	// past its horizon but still makes one attempt
	contractId := negotiate(t, alice, bob, testEndpoint, ann.EventId, winnerTakesAll("A", "B"))
	o.publish(o.sign(t, ann.EventId, "B"))

	contract, err := alice.svc.GetContract(ctx, contractId)
	require.NoError(t, err)
	chain.confirm(contract.Funding.Txid)

	require.Eventually(t, func() bool {
		contract, err := alice.svc.GetContract(ctx, contractId)
		return err == nil && contract.Status == domain.ContractStatusExecuted
	}, 20*time.Second, 200*time.Millisecond)

	contract, err = alice.svc.GetContract(ctx, contractId)
	require.NoError(t, err)
	require.Equal(t, "B", contract.Attestation.Outcome)

	cet := chain.tx(contract.SettlementTxid)
	require.NotNil(t, cet)
	require.Len(t, cet.TxOut, 1)
	require.Equal(t, bob.payoutScript, cet.TxOut[0].PkScript)

	chain.confirm(contract.SettlementTxid)
	require.Eventually(t, func() bool {
		contract, err := alice.svc.GetContract(ctx, contractId)
		return err == nil && contract.SettlementConfirmed
	}, 20*time.Second, 200*time.Millisecond)
}

func TestWatcherRetriesUntilAttested(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := application.Config{
		FundingPollInterval: time.Second,
		ReconcileInterval:   time.Second,
		PollInitialInterval: 100 * time.Millisecond,
		PollMaxInterval:     500 * time.Millisecond,
		RefundSafetyMargin:  time.Minute,
	}

	chain := newFakeChain()
	o := newFakeOracle(t)
	ann := o.announce(t, "late", "A", "B")
	alice := newParty(t, "alice", offerCollateral, chain, o, cfg)
	bob := newParty(t, "bob", acceptCollateral, chain, o, cfg)
	require.NoError(t, bob.svc.Start())

	contractId := negotiate(t, alice, bob, testEndpoint, ann.EventId, winnerTakesAll("A", "B"))
	contract, err := bob.svc.GetContract(ctx, contractId)
	require.NoError(t, err)
	chain.confirm(contract.Funding.Txid)

	require.Eventually(t, func() bool {
		contract, err := bob.svc.GetContract(ctx, contractId)
		return err == nil && contract.Status == domain.ContractStatusFunded
	}, 10*time.Second, 100*time.Millisecond)

	// attested while the watcher is already polling
	time.Sleep(500 * time.Millisecond)
	o.publish(o.sign(t, ann.EventId, "A"))

	require.Eventually(t, func() bool {
		contract, err := bob.svc.GetContract(ctx, contractId)
		return err == nil && contract.Status == domain.ContractStatusExecuted
	}, 10*time.Second, 100*time.Millisecond)

	contract, err = bob.svc.GetContract(ctx, contractId)
	require.NoError(t, err)
	require.Equal(t, "A", contract.Attestation.Outcome)
	cet := chain.tx(contract.SettlementTxid)
	require.NotNil(t, cet)
	require.Equal(t, alice.payoutScript, cet.TxOut[0].PkScript)
}

func hexPubKey(str string) (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(str)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(buf)
}
