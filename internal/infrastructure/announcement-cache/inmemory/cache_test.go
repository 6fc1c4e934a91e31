package inmemorycache_test

import (
	"context"
	"testing"
	"time"

	"github.com/ark-network/dlc/internal/core/ports"
	inmemorycache "github.com/ark-network/dlc/internal/infrastructure/announcement-cache/inmemory"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const endpoint = "http://oracle.test"

func TestAnnouncementCache(t *testing.T) {
	t.Parallel()

	cache := inmemorycache.NewAnnouncementCache()
	defer cache.Close()
	testCache(t, cache)
}

func testCache(t *testing.T, cache ports.AnnouncementCache) {
	ctx := context.Background()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	attestor := oracle.NewAttestor(key)
	// random endpoint so that runs against a shared redis don't collide
	oracleEndpoint := endpoint + "/" + uuid.New().String()

	info, err := cache.GetInfo(ctx, oracleEndpoint)
	require.NoError(t, err)
	require.Nil(t, info)

	require.NoError(t, cache.AddInfo(ctx, oracleEndpoint, attestor.Info("test", oracleEndpoint, nil)))
	info, err = cache.GetInfo(ctx, oracleEndpoint)
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, oracle.SchemeVersion, info.SchemeVersion)

	now := time.Now()
	ann, err := attestor.Announce(
		"", "election-2025", "", []string{"A-wins", "B-wins"}, now.Add(time.Hour), now, nil,
	)
	require.NoError(t, err)

	got, err := cache.GetAnnouncement(ctx, oracleEndpoint, ann.EventId)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, cache.AddAnnouncement(ctx, oracleEndpoint, *ann))
	got, err = cache.GetAnnouncement(ctx, oracleEndpoint, ann.EventId)
	require.NoError(t, err)
	require.Equal(t, *ann, *got)

	attA, err := attestor.Attest(*ann, "A-wins")
	require.NoError(t, err)
	attB, err := attestor.Attest(*ann, "B-wins")
	require.NoError(t, err)

	require.NoError(t, cache.AddAttestation(ctx, oracleEndpoint, *attA))
	require.NoError(t, cache.AddAttestation(ctx, oracleEndpoint, *attB))

	att, err := cache.GetAttestation(ctx, oracleEndpoint, ann.EventId)
	require.NoError(t, err)
	require.NotNil(t, att)
	require.True(t, att.Equal(*attA))
}
