package application_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ark-network/dlc/internal/core/application"
	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/internal/infrastructure/db"
	scheduler "github.com/ark-network/dlc/internal/infrastructure/scheduler/gocron"
	"github.com/ark-network/dlc/internal/infrastructure/signer"
	txbuilder "github.com/ark-network/dlc/internal/infrastructure/tx-builder"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
)

const (
	offerCollateral  = 1_000_000
	acceptCollateral = 500_000
	totalCollateral  = offerCollateral + acceptCollateral
)

type fakeChain struct {
	lock          sync.Mutex
	now           time.Time
	unavailable   bool
	confirmations map[string]int64
	txs           map[string]*wire.MsgTx
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		confirmations: make(map[string]int64),
		txs:           make(map[string]*wire.MsgTx),
	}
}

func (c *fakeChain) Broadcast(_ context.Context, txHex string) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.unavailable {
		return "", ports.ErrChainUnavailable
	}
	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return "", err
	}
	txid := tx.TxHash().String()
	c.txs[txid] = tx
	return txid, nil
}

func (c *fakeChain) GetConfirmationStatus(_ context.Context, txid string) (int64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.unavailable {
		return 0, ports.ErrChainUnavailable
	}
	if confirmations, ok := c.confirmations[txid]; ok {
		return confirmations, nil
	}
	if _, ok := c.txs[txid]; ok {
		return 0, nil
	}
	return 0, ports.ErrTxNotFound
}

func (c *fakeChain) GetCurrentTime(_ context.Context) (time.Time, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.unavailable {
		return time.Time{}, ports.ErrChainUnavailable
	}
	if c.now.IsZero() {
		return time.Now(), nil
	}
	return c.now, nil
}

func (c *fakeChain) GetFeeRate(_ context.Context) (chainfee.SatPerKVByte, error) {
	return chainfee.SatPerKVByte(3000), nil
}

func (c *fakeChain) setNow(now time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = now
}

func (c *fakeChain) setUnavailable(unavailable bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.unavailable = unavailable
}

func (c *fakeChain) confirm(txid string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.confirmations[txid] = 1
}

func (c *fakeChain) tx(txid string) *wire.MsgTx {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.txs[txid]
}

// fakeOracle serves announcements and attestations produced by a local
// attestor.
type fakeOracle struct {
	lock          sync.Mutex
	attestor      *oracle.Attestor
	info          oracle.Info
	unreachable   bool
	announcements map[string]oracle.Announcement
	attestations  map[string]oracle.Attestation
}

func newFakeOracle(t *testing.T) *fakeOracle {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	attestor := oracle.NewAttestor(key)
	return &fakeOracle{
		attestor:      attestor,
		info:          attestor.Info("fake-oracle", "http://oracle.test", nil),
		announcements: make(map[string]oracle.Announcement),
		attestations:  make(map[string]oracle.Attestation),
	}
}

func (o *fakeOracle) GetOracleInfo(_ context.Context, _ string) (*oracle.Info, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.unreachable {
		return nil, ports.ErrOracleUnreachable
	}
	info := o.info
	return &info, nil
}

func (o *fakeOracle) GetAnnouncement(
	_ context.Context, _, eventId string,
) (*oracle.Announcement, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.unreachable {
		return nil, ports.ErrOracleUnreachable
	}
	ann, ok := o.announcements[eventId]
	if !ok {
		return nil, ports.ErrEventNotFound
	}
	return &ann, nil
}

func (o *fakeOracle) GetAttestation(
	_ context.Context, _, eventId string,
) (*oracle.Attestation, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.unreachable {
		return nil, ports.ErrOracleUnreachable
	}
	if _, ok := o.announcements[eventId]; !ok {
		return nil, ports.ErrEventNotFound
	}
	att, ok := o.attestations[eventId]
	if !ok {
		return nil, ports.ErrNotYetMature
	}
	return &att, nil
}

func (o *fakeOracle) announce(t *testing.T, eventId string, outcomes ...string) oracle.Announcement {
	o.lock.Lock()
	defer o.lock.Unlock()

	now := time.Now()
	ann, err := o.attestor.Announce(
		eventId, "test event", "", outcomes, now.Add(-time.Hour), now.Add(-2*time.Hour), nil,
	)
	require.NoError(t, err)
	o.announcements[ann.EventId] = *ann
	return *ann
}

// sign attests any outcome, announced or not, with the event nonce.
func (o *fakeOracle) sign(t *testing.T, eventId, outcome string) oracle.Attestation {
	o.lock.Lock()
	defer o.lock.Unlock()

	ann := o.announcements[eventId]
	if !ann.HasOutcome(outcome) {
		ann.Outcomes = append(append([]string{}, ann.Outcomes...), outcome)
	}
	att, err := o.attestor.Attest(ann, outcome)
	require.NoError(t, err)
	return *att
}

// publish makes the attestation available through GetAttestation.
func (o *fakeOracle) publish(att oracle.Attestation) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.attestations[att.EventId] = att
}

func (o *fakeOracle) setUnreachable(unreachable bool) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.unreachable = unreachable
}

// unreliableEvents makes reads of the event store fail on demand.
type unreliableEvents struct {
	domain.EventRepository
	down atomic.Bool
}

func (r *unreliableEvents) Load(
	ctx context.Context, topic, id string,
) ([]domain.Event, error) {
	if r.down.Load() {
		return nil, errors.New("event store unavailable")
	}
	return r.EventRepository.Load(ctx, topic, id)
}

type repoManager struct {
	ports.RepoManager
	events *unreliableEvents
}

func (m *repoManager) Events() domain.EventRepository {
	return m.events
}

type party struct {
	name          string
	svc           application.Service
	events        *unreliableEvents
	pubkey        *btcec.PublicKey
	payoutScript  []byte
	fundingInputs []domain.FundingInput
}

func newParty(
	t *testing.T, name string, collateral uint64,
	chain ports.ChainClient, oracleClient ports.OracleClient, cfg application.Config,
) *party {
	mnemonic, err := signer.NewMnemonic()
	require.NoError(t, err)
	walletSigner, err := signer.NewSigner(mnemonic, "", &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	pubkey, err := walletSigner.GetPublicKey(context.Background(), signer.DefaultKeyId)
	require.NoError(t, err)

	repo, err := db.NewService(db.ServiceConfig{
		EventStoreType:   "badger",
		DataStoreType:    "badger",
		EventStoreConfig: []interface{}{"", nil},
		DataStoreConfig:  []interface{}{"", nil},
	})
	require.NoError(t, err)
	events := &unreliableEvents{EventRepository: repo.Events()}

	svc, err := application.NewService(
		cfg, walletSigner, chain, oracleClient,
		txbuilder.NewTxBuilder(), scheduler.NewScheduler(), &repoManager{repo, events},
	)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)

	payoutKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	payoutScript, err := txscript.PayToTaprootScript(payoutKey.PubKey())
	require.NoError(t, err)

	return &party{
		name:         name,
		svc:          svc,
		events:       events,
		pubkey:       pubkey,
		payoutScript: payoutScript,
		fundingInputs: []domain.FundingInput{
			{
				Txid:   chainhash.HashH([]byte(fmt.Sprintf("%s-%d", name, time.Now().UnixNano()))).String(),
				VOut:   0,
				Amount: collateral + 100_000,
				Script: hex.EncodeToString(payoutScript),
			},
		},
	}
}

func (p *party) offerRequest(endpoint, eventId string, payouts []domain.Payout) application.OfferRequest {
	return application.OfferRequest{
		OracleEndpoint:   endpoint,
		EventId:          eventId,
		Payouts:          payouts,
		Collateral:       offerCollateral,
		AcceptCollateral: acceptCollateral,
		RefundLocktime:   time.Now().Add(time.Hour).Unix(),
		FeeRate:          2,
		KeyId:            signer.DefaultKeyId,
		PayoutScript:     hex.EncodeToString(p.payoutScript),
		ChangeScript:     hex.EncodeToString(p.payoutScript),
		FundingInputs:    p.fundingInputs,
	}
}

func (p *party) acceptRequest() application.AcceptRequest {
	return application.AcceptRequest{
		KeyId:         signer.DefaultKeyId,
		PayoutScript:  hex.EncodeToString(p.payoutScript),
		ChangeScript:  hex.EncodeToString(p.payoutScript),
		FundingInputs: p.fundingInputs,
	}
}

// negotiate runs offer, accept, sign and finalize between offerer and
// accepter and returns the contract id.
func negotiate(
	t *testing.T, offerer, accepter *party, endpoint, eventId string, payouts []domain.Payout,
) string {
	ctx := context.Background()

	offered, err := offerer.svc.OfferContract(ctx, offerer.offerRequest(endpoint, eventId, payouts))
	require.NoError(t, err)
	require.Equal(t, domain.ContractStatusOffered, offered.Status)

	accepted, acceptMsg, err := accepter.svc.AcceptOffer(ctx, offered.Offer, accepter.acceptRequest())
	require.NoError(t, err)
	require.Equal(t, offered.Id, accepted.Id)
	require.Equal(t, domain.ContractStatusAccepted, accepted.Status)
	require.Len(t, acceptMsg.AdaptorSigs, len(payouts))

	signed, signMsg, err := offerer.svc.SignContract(ctx, offered.Id, *acceptMsg)
	require.NoError(t, err)
	require.Equal(t, domain.ContractStatusAccepted, signed.Status)
	require.True(t, signed.CounterpartySigned)
	require.Len(t, signMsg.AdaptorSigs, len(payouts))
	require.Equal(t, accepted.Funding.Txid, signed.Funding.Txid)

	finalized, err := accepter.svc.FinalizeContract(ctx, offered.Id, *signMsg)
	require.NoError(t, err)
	require.True(t, finalized.CounterpartySigned)

	return offered.Id
}

func fund(t *testing.T, chain *fakeChain, contractId string, parties ...*party) {
	ctx := context.Background()
	for _, p := range parties {
		contract, err := p.svc.GetContract(ctx, contractId)
		require.NoError(t, err)
		chain.confirm(contract.Funding.Txid)

		contract, err = p.svc.CheckFunding(ctx, contractId)
		require.NoError(t, err)
		require.Equal(t, domain.ContractStatusFunded, contract.Status)
	}
}

func winnerTakesAll(outcomes ...string) []domain.Payout {
	payouts := make([]domain.Payout, 0, len(outcomes))
	for i, outcome := range outcomes {
		if i%2 == 0 {
			payouts = append(payouts, domain.Payout{Outcome: outcome, Offer: totalCollateral})
			continue
		}
		payouts = append(payouts, domain.Payout{Outcome: outcome, Accept: totalCollateral})
	}
	return payouts
}
