package oracleclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ark-network/dlc/internal/core/ports"
	inmemorycache "github.com/ark-network/dlc/internal/infrastructure/announcement-cache/inmemory"
	oracleclient "github.com/ark-network/dlc/internal/infrastructure/oracle"
	oracleserver "github.com/ark-network/dlc/internal/interface/oracle"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

type testOracle struct {
	key    *btcec.PrivateKey
	svc    *oracleserver.Service
	server *httptest.Server
	clock  *atomic.Int64
}

func newTestOracle(t *testing.T) *testOracle {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	clock := &atomic.Int64{}
	clock.Store(time.Now().Add(-2 * time.Hour).Unix())
	svc := oracleserver.NewService(
		oracle.NewAttestor(key), "test-oracle", "", nil,
		oracleserver.WithClock(func() time.Time { return time.Unix(clock.Load(), 0) }),
	)
	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)
	return &testOracle{key, svc, server, clock}
}

func newClient(t *testing.T, cache ports.AnnouncementCache) ports.OracleClient {
	client, err := oracleclient.NewClient(oracleclient.Config{RequestsPerSecond: 100, Burst: 10}, cache)
	require.NoError(t, err)
	return client
}

func TestGetAttestation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o := newTestOracle(t)
	cache := inmemorycache.NewAnnouncementCache()
	client := newClient(t, cache)

	past, err := o.svc.Announce(oracleserver.AnnounceRequest{
		EventId:      "election-2025",
		Description:  "who wins the election",
		Outcomes:     []string{"A-wins", "B-wins"},
		MaturityTime: time.Now().Add(-time.Hour).Unix(),
	})
	require.NoError(t, err)
	future, err := o.svc.Announce(oracleserver.AnnounceRequest{
		Description:  "who wins the next election",
		Outcomes:     []string{"A-wins", "B-wins"},
		MaturityTime: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	info, err := client.GetOracleInfo(ctx, o.server.URL)
	require.NoError(t, err)
	require.Equal(t, o.svc.Info().PublicKey, info.PublicKey)

	ann, err := client.GetAnnouncement(ctx, o.server.URL, past.EventId)
	require.NoError(t, err)
	require.Equal(t, *past, *ann)

	_, err = client.GetAnnouncement(ctx, o.server.URL, "unknown")
	require.ErrorIs(t, err, ports.ErrEventNotFound)

	_, err = client.GetAttestation(ctx, o.server.URL, future.EventId)
	require.ErrorIs(t, err, ports.ErrNotYetMature)

	// mature but not attested yet is reported by the oracle with 425
	_, err = client.GetAttestation(ctx, o.server.URL, past.EventId)
	require.ErrorIs(t, err, ports.ErrNotYetMature)

	o.clock.Store(time.Now().Unix())
	expected, err := o.svc.Attest(oracleserver.AttestRequest{EventId: past.EventId, Outcome: "A-wins"})
	require.NoError(t, err)

	att, err := client.GetAttestation(ctx, o.server.URL, past.EventId)
	require.NoError(t, err)
	require.True(t, att.Equal(*expected))

	cached, err := cache.GetAttestation(ctx, o.server.URL, past.EventId)
	require.NoError(t, err)
	require.NotNil(t, cached)

	// immutable data and verified attestations survive the oracle going away
	o.server.Close()
	ann, err = client.GetAnnouncement(ctx, o.server.URL, past.EventId)
	require.NoError(t, err)
	require.Equal(t, past.EventId, ann.EventId)
	att, err = client.GetAttestation(ctx, o.server.URL, past.EventId)
	require.NoError(t, err)
	require.True(t, att.Equal(*expected))
}

func TestConflictingAttestation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o := newTestOracle(t)
	cache := inmemorycache.NewAnnouncementCache()
	client := newClient(t, cache)

	ann, err := o.svc.Announce(oracleserver.AnnounceRequest{
		EventId:      "election-2025",
		Outcomes:     []string{"A-wins", "B-wins"},
		MaturityTime: time.Now().Add(-time.Hour).Unix(),
	})
	require.NoError(t, err)
	o.clock.Store(time.Now().Unix())

	// the client already verified a B-wins attestation from the same oracle
	first, err := oracle.NewAttestor(o.key).Attest(*ann, "B-wins")
	require.NoError(t, err)
	require.NoError(t, cache.AddAttestation(ctx, o.server.URL, *first))

	_, err = o.svc.Attest(oracleserver.AttestRequest{EventId: ann.EventId, Outcome: "A-wins"})
	require.NoError(t, err)

	_, err = client.GetAttestation(ctx, o.server.URL, ann.EventId)
	require.Error(t, err)

	var conflict *ports.ConflictingAttestationError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, "B-wins", conflict.Authoritative.Outcome)
	require.Equal(t, "A-wins", conflict.Conflicting.Outcome)
}

func TestInvalidOracleResponses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	forger, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	attestor := oracle.NewAttestor(key)
	info := attestor.Info("test-oracle", "", nil)
	now := time.Now()
	forged, err := oracle.NewAttestor(forger).Announce(
		"election-2025", "", "", []string{"A-wins", "B-wins"}, now.Add(-time.Hour), now.Add(-2*time.Hour), nil,
	)
	require.NoError(t, err)

	newServer := func(info, ann any) string {
		mux := http.NewServeMux()
		mux.HandleFunc("/v0/info", func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(info) // nolint
		})
		mux.HandleFunc("/v0/announcements/election-2025", func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(ann) // nolint
		})
		server := httptest.NewServer(mux)
		t.Cleanup(server.Close)
		return server.URL
	}

	futureInfo := info
	futureInfo.SchemeVersion = "v1"

	fixtures := []struct {
		name     string
		endpoint string
		err      error
	}{
		{"unknown scheme version", newServer(futureInfo, forged), oracle.ErrSchemeVersionMismatch},
		{"missing scheme version", newServer(map[string]string{"name": "x"}, forged), ports.ErrOracleMalformedResponse},
		{"forged announcement", newServer(info, forged), ports.ErrOracleMalformedResponse},
		{"unreachable", "http://127.0.0.1:1", ports.ErrOracleUnreachable},
	}
	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			client := newClient(t, inmemorycache.NewAnnouncementCache())
			_, err := client.GetAnnouncement(ctx, f.endpoint, "election-2025")
			require.ErrorIs(t, err, f.err)
		})
	}
}
