package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	config "github.com/thirdweb-dev/ledgersync/configs"
)

func TestBadgerCheckpointStore(t *testing.T) {
	store, err := NewBadgerCheckpointStore(&config.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	testCheckpointStore(t, store)
}

func TestPebbleColdStore(t *testing.T) {
	store, err := NewPebbleColdStore(&config.PebbleConfig{Path: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	testColdStore(t, store)
}
