package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/config"
	"rollcall/internal/domain/reconcile"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Storage.Driver = config.DriverMemory
	cfg.Sync.MaxOperations = 2
	cfg.Sync.LedgerRetention = 24 * time.Hour
	cfg.Sync.PruneInterval = time.Hour
	return cfg
}

func TestOpenStorage_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()

	s, err := OpenStorage(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, config.DriverMemory, s.Driver)
	assert.Nil(t, s.Pool)
	assert.Nil(t, s.PoolStats())
	require.NoError(t, s.Pinger.Ping(ctx))

	svc := s.NewService(cfg, nil)
	resp, err := svc.Reconcile(ctx, &reconcile.Request{})
	require.NoError(t, err)
	assert.Empty(t, resp.AckOpIDs)

	stats, err := s.NewRetention(cfg).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Ops)
	assert.Zero(t, stats.Batches)
}

func TestStorage_RetentionPrunesBatchLog(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()

	s, err := OpenStorage(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Recorder.RecordBatch(ctx, reconcile.BatchRecord{ServerNowMs: 1}))

	stats, err := s.NewRetention(cfg).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Batches)
}

func TestOpenStorage_UnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Driver = "sqlite"

	_, err := OpenStorage(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestOpenPool_RequiresPostgres(t *testing.T) {
	_, err := OpenPool(context.Background(), memoryConfig())
	assert.ErrorContains(t, err, "has no database")
}
