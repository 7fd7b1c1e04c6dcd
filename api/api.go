package api

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/schema"
	"github.com/rs/zerolog/log"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

const (
	DEFAULT_LIMIT = 100
	MAX_LIMIT     = 5000
)

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AggregateParams are the query parameters of the aggregates endpoint. Times
// are RFC 3339 or unix seconds.
type AggregateParams struct {
	Granularity string    `schema:"granularity"`
	From        time.Time `schema:"from"`
	To          time.Time `schema:"to"`
	Limit       int       `schema:"limit"`
}

type Meta struct {
	Network    string `json:"network,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	TotalItems int    `json:"total_items"`
}

type QueryResponse struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data"`
}

func writeError(c *gin.Context, message string, code int) {
	c.JSON(code, Error{Code: code, Message: message})
}

var (
	BadRequestErrorHandler = func(c *gin.Context, err error) {
		writeError(c, err.Error(), http.StatusBadRequest)
	}
	NotFoundErrorHandler = func(c *gin.Context, err error) {
		writeError(c, err.Error(), http.StatusNotFound)
	}
	InternalErrorHandler = func(c *gin.Context) {
		writeError(c, "An unexpected error occurred.", http.StatusInternalServerError)
	}
	UnauthorizedErrorHandler = func(c *gin.Context, err error) {
		writeError(c, err.Error(), http.StatusUnauthorized)
	}
)

var decoder = newDecoder()

func newDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	d.RegisterConverter(time.Time{}, func(value string) reflect.Value {
		t, err := ParseTime(value)
		if err != nil {
			return reflect.Value{}
		}
		return reflect.ValueOf(t)
	})
	return d
}

// ParseTime accepts RFC 3339 timestamps and unix seconds
func ParseTime(value string) (time.Time, error) {
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", value)
	}
	return t.UTC(), nil
}

func ParseAggregateParams(r *http.Request) (AggregateParams, error) {
	var params AggregateParams
	if err := decoder.Decode(&params, r.URL.Query()); err != nil {
		log.Debug().Err(err).Msg("Error parsing query params")
		return AggregateParams{}, err
	}
	return params, nil
}

// ToQuery validates the parameters and fills in defaults: hourly buckets and,
// without a from bound, the configured default time range.
func (p AggregateParams) ToQuery(network string, now time.Time) (common.AggregateQuery, error) {
	q := common.AggregateQuery{Network: network, From: p.From, To: p.To, Limit: p.Limit}

	q.Granularity = common.GranularityHour
	if p.Granularity != "" {
		g, err := common.ParseGranularity(p.Granularity)
		if err != nil {
			return q, err
		}
		q.Granularity = g
	}

	if q.Limit < 0 || q.Limit > MAX_LIMIT {
		return q, fmt.Errorf("limit must be between 1 and %d", MAX_LIMIT)
	}
	if q.Limit == 0 {
		q.Limit = DEFAULT_LIMIT
	}

	if q.From.IsZero() && config.Cfg.API.DefaultTimeRangeDays > 0 {
		end := q.To
		if end.IsZero() {
			end = now.UTC()
		}
		q.From = end.AddDate(0, 0, -config.Cfg.API.DefaultTimeRangeDays)
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return q, fmt.Errorf("from must be before to")
	}
	return q, nil
}

// GetNetwork returns the configured network named in the path
func GetNetwork(c *gin.Context) (config.NetworkConfig, error) {
	name := c.Param("network")
	network, ok := config.Cfg.Network(name)
	if !ok {
		return config.NetworkConfig{}, fmt.Errorf("unknown network %q", name)
	}
	return network, nil
}
