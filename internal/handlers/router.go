package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/middleware"
)

// NewRouter wires the read-only operational API
func NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logger())
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(200, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	if config.Cfg.API.BasicAuth.Username != "" {
		v1.Use(middleware.Authorization)
	}
	{
		v1.GET("/checkpoints", GetCheckpoints)
		v1.GET("/checkpoints/:network", GetCheckpoint)
		v1.GET("/aggregates/:network", GetAggregates)
		v1.GET("/extents/:network", GetExtents)
	}
	return r
}
