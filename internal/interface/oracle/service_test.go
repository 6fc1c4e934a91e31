package oracleserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	oracleserver "github.com/ark-network/dlc/internal/interface/oracle"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestOracleService(t *testing.T) {
	t.Parallel()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var clock atomic.Int64
	clock.Store(time.Now().Unix())
	svc := oracleserver.NewService(
		oracle.NewAttestor(key), "test-oracle", "http://localhost", nil,
		oracleserver.WithClock(func() time.Time { return time.Unix(clock.Load(), 0) }),
	)

	maturity := time.Now().Add(time.Hour).Unix()

	t.Run("info", func(t *testing.T) {
		rec := do(t, svc, http.MethodGet, "/v0/info", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var info oracle.Info
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		require.NoError(t, info.Validate())
		require.Equal(t, "test-oracle", info.Name)
	})

	var ann oracle.Announcement
	t.Run("announce", func(t *testing.T) {
		req := oracleserver.AnnounceRequest{
			EventId:      "election-2025",
			Description:  "who wins the election",
			Outcomes:     []string{"A-wins", "B-wins"},
			MaturityTime: maturity,
		}
		rec := do(t, svc, http.MethodPost, "/v0/announcements", req)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ann))
		require.NoError(t, oracle.VerifyAnnouncement(ann, key.PubKey()))

		rec = do(t, svc, http.MethodPost, "/v0/announcements", req)
		require.Equal(t, http.StatusConflict, rec.Code)

		req.EventId = ""
		req.Outcomes = nil
		rec = do(t, svc, http.MethodPost, "/v0/announcements", req)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(t, svc, http.MethodGet, "/v0/announcements/election-2025", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = do(t, svc, http.MethodGet, "/v0/announcements/unknown", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("attest", func(t *testing.T) {
		fixtures := []struct {
			name   string
			path   string
			method string
			body   any
			status int
		}{
			{"unknown event", "/v0/attestations/unknown", http.MethodGet, nil, http.StatusNotFound},
			{"not mature", "/v0/attestations/election-2025", http.MethodGet, nil, http.StatusTooEarly},
			{
				"attest before maturity", "/v0/attestations", http.MethodPost,
				oracleserver.AttestRequest{EventId: "election-2025", Outcome: "A-wins"},
				http.StatusTooEarly,
			},
		}
		for _, f := range fixtures {
			rec := do(t, svc, f.method, f.path, f.body)
			require.Equal(t, f.status, rec.Code, f.name)
		}

		clock.Store(maturity + 1)

		rec := do(t, svc, http.MethodGet, "/v0/attestations/election-2025", nil)
		require.Equal(t, http.StatusTooEarly, rec.Code)

		rec = do(t, svc, http.MethodPost, "/v0/attestations", oracleserver.AttestRequest{
			EventId: "election-2025", Outcome: "C-wins",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(t, svc, http.MethodPost, "/v0/attestations", oracleserver.AttestRequest{
			EventId: "election-2025", Outcome: "A-wins",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var att oracle.Attestation
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &att))
		require.NoError(t, oracle.VerifyAttestation(ann, key.PubKey(), att))

		rec = do(t, svc, http.MethodPost, "/v0/attestations", oracleserver.AttestRequest{
			EventId: "election-2025", Outcome: "A-wins",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, svc, http.MethodPost, "/v0/attestations", oracleserver.AttestRequest{
			EventId: "election-2025", Outcome: "B-wins",
		})
		require.Equal(t, http.StatusConflict, rec.Code)

		rec = do(t, svc, http.MethodGet, "/v0/attestations/election-2025", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var served oracle.Attestation
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &served))
		require.True(t, served.Equal(att))
	})
}

func do(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
