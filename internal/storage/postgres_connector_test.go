package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:         "localhost",
		Port:         5432,
		Username:     "test",
		Password:     "test",
		Database:     "test_ledgersync",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := testPostgresConfig()
	cfg.ConnectTimeout = 5
	assert.Equal(t, "host=localhost port=5432 user=test password=test dbname=test_ledgersync sslmode=disable connect_timeout=5", PostgresDSN(cfg))

	cfg.SSLMode = ""
	cfg.ConnectTimeout = 0
	assert.Contains(t, PostgresDSN(cfg), "sslmode=require")
}

func TestPostgresConnector_Checkpoints(t *testing.T) {
	// Skip if no Postgres is available
	t.Skip("Skipping Postgres tests - requires running Postgres instance")

	conn, err := NewPostgresConnector(testPostgresConfig())
	require.NoError(t, err)
	defer conn.Close()

	testCheckpointStore(t, conn)
}

func TestPostgresConnector_LedgerOverwrite(t *testing.T) {
	// Skip if no Postgres is available
	t.Skip("Skipping Postgres tests - requires running Postgres instance")

	ctx := context.Background()
	conn, err := NewPostgresConnector(testPostgresConfig())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteBatch(ctx, testNetworkName, []common.BlockData{testBlock(1, "a", 1), testBlock(2, "a", 4)}))
	require.NoError(t, conn.WriteBatch(ctx, testNetworkName, []common.BlockData{testBlock(2, "b", 1)}))

	blocks, err := conn.GetBlockRange(ctx, testNetworkName, 1, 2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "0xb000002", blocks[1].Block.Hash)
	assert.Len(t, blocks[1].Transactions, 1)
	assert.Len(t, blocks[1].Events, 1)

	stats, err := conn.DeleteRange(ctx, testNetworkName, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, common.DeleteStats{Events: 2, Transactions: 2, Blocks: 2}, stats)
}

func TestPgxAggregateStore(t *testing.T) {
	// Skip if no Postgres is available
	t.Skip("Skipping Postgres tests - requires running Postgres instance")

	ctx := context.Background()
	store, err := NewPgxAggregateStore(ctx, testPostgresConfig())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetWatermark(ctx, testNetworkName, 42))
	h, ok, err := store.GetWatermark(ctx, testNetworkName)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), h)
}
