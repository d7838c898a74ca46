package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmsense/hub/internal/domain"
	"github.com/farmsense/hub/internal/forensic"
	"github.com/farmsense/hub/internal/infrastructure/storage"
)

// testDSN returns the Postgres DSN for integration tests, skipping the
// calling test when it is not configured: these tests need a real
// database and are not run by default, mirroring the teacher's
// skip-when-no-database convention.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("HUB_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test requiring database (set HUB_TEST_DATABASE_DSN to run)")
	}
	return dsn
}

func TestBunStore_MeasurementChain_ShouldAppendAndVerify(t *testing.T) {
	dsn := testDSN(t)
	hasher := forensic.NewHasher("")
	store := storage.NewBunStore(dsn, hasher)
	ctx := context.Background()
	require.NoError(t, store.InitSchema(ctx))
	defer store.Close()

	prev := domain.GenesisHash
	for i := 0; i < 3; i++ {
		m := domain.Measurement{SensorID: "bun-sensor-1", Timestamp: time.Now().Add(time.Duration(i) * time.Minute), VWC: 0.2}
		hash, err := hasher.ChainHash(prev, m)
		require.NoError(t, err)
		m.PreviousHash = prev
		m.OwnHash = hash

		stored, err := store.Append(ctx, m)
		require.NoError(t, err)
		prev = stored.OwnHash
	}

	assert.NoError(t, store.VerifyChainIntegrity(ctx, "bun-sensor-1"))

	last, err := store.LastHash(ctx, "bun-sensor-1")
	require.NoError(t, err)
	assert.Equal(t, prev, last)
}

func TestBunStore_GridStore_ShouldRoundtripLatestSnapshot(t *testing.T) {
	dsn := testDSN(t)
	store := storage.NewBunStore(dsn, forensic.NewHasher(""))
	ctx := context.Background()
	require.NoError(t, store.InitSchema(ctx))
	defer store.Close()

	now := time.Now()
	cells := []domain.GridCell{{FieldID: "field-1", Depth: 18, CellHash: "cell-a", EstimatedVWC: 0.25}}
	require.NoError(t, store.PutGrid(ctx, "field-1", now, cells))

	got, err := store.GetLatest(ctx, "field-1", 18)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.25, got[0].EstimatedVWC)
}

func TestBunStore_AuditLog_ShouldChainAndQueryByKind(t *testing.T) {
	dsn := testDSN(t)
	store := storage.NewBunStore(dsn, forensic.NewHasher(""))
	ctx := context.Background()
	require.NoError(t, store.InitSchema(ctx))
	defer store.Close()

	_, err := store.Audit().Append(ctx, domain.NewAuditEvent(domain.AuditEmergencyStop, "operator-1", nil, time.Now()))
	require.NoError(t, err)

	found, err := store.Audit().Query(ctx, domain.AuditEmergencyStop, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
