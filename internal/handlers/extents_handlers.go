package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/thirdweb-dev/ledgersync/api"
)

// GetExtents lists the cold extents of a network
func GetExtents(c *gin.Context) {
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

	records, err := store.Extents.ListExtents(c.Request.Context(), network.Name)
	if err != nil {
		log.Error().Err(err).Str("network", network.Name).Msg("Error listing extents")
		api.InternalErrorHandler(c)
		return
	}

	sendJSONResponse(c, api.QueryResponse{
		Meta: api.Meta{Network: network.Name, TotalItems: len(records)},
		Data: records,
	})
}
