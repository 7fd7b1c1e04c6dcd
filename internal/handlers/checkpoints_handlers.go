package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/thirdweb-dev/ledgersync/api"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

// GetCheckpoints lists the sync progress of every network that has one
func GetCheckpoints(c *gin.Context) {
	store, err := getMainStorage()
	if err != nil {
		api.InternalErrorHandler(c)
		return
	}

	snapshots, err := store.Checkpoints.ListCheckpoints(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Error listing checkpoints")
		api.InternalErrorHandler(c)
		return
	}

	sendJSONResponse(c, api.QueryResponse{
		Meta: api.Meta{TotalItems: len(snapshots)},
		Data: snapshots,
	})
}

func GetCheckpoint(c *gin.Context) {
	network, err := api.GetNetwork(c)
	if err != nil {
		api.NotFoundErrorHandler(c, err)
		return
	}

	store, err := getMainStorage()
	if err != nil {
		api.InternalErrorHandler(c)
		return
	}

	cp, err := store.Checkpoints.GetCheckpoint(c.Request.Context(), network.Name)
	if errors.Is(err, common.ErrCheckpointNotFound) {
		api.NotFoundErrorHandler(c, err)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("network", network.Name).Msg("Error reading checkpoint")
		api.InternalErrorHandler(c)
		return
	}

	sendJSONResponse(c, api.QueryResponse{
		Meta: api.Meta{Network: network.Name, TotalItems: 1},
		Data: cp.Snapshot(),
	})
}
