package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/thirdweb-dev/ledgersync/api"
)

var now = time.Now

// GetAggregates returns the stored buckets of a network, oldest first.
// Query: granularity=hour|day, from, to, limit.
func GetAggregates(c *gin.Context) {
	network, err := api.GetNetwork(c)
	if err != nil {
		api.NotFoundErrorHandler(c, err)
		return
	}

	params, err := api.ParseAggregateParams(c.Request)
	if err != nil {
		api.BadRequestErrorHandler(c, err)
		return
	}
	q, err := params.ToQuery(network.Name, now())
	if err != nil {
		api.BadRequestErrorHandler(c, err)
		return
	}

	store, err := getMainStorage()
	if err != nil {
		api.InternalErrorHandler(c)
		return
	}

	buckets, err := store.Aggregates.ListBuckets(c.Request.Context(), q)
	if err != nil {
		log.Error().Err(err).Str("network", network.Name).Msg("Error listing aggregates")
		api.InternalErrorHandler(c)
		return
	}

	sendJSONResponse(c, api.QueryResponse{
		Meta: api.Meta{Network: network.Name, Limit: q.Limit, TotalItems: len(buckets)},
		Data: buckets,
	})
}
