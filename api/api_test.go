package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

func TestParseTime(t *testing.T) {
	ts, err := ParseTime("1714521600")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), ts)

	ts, err = ParseTime("2024-05-01T02:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), ts)

	_, err = ParseTime("May 1st")
	assert.Error(t, err)
}

func TestParseAggregateParams(t *testing.T) {
	req, _ := http.NewRequest("GET", "/v1/aggregates/testnet?granularity=day&from=1714521600&limit=5&unknown=1", nil)
	params, err := ParseAggregateParams(req)
	require.NoError(t, err)
	assert.Equal(t, "day", params.Granularity)
	assert.Equal(t, 5, params.Limit)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), params.From)
	assert.True(t, params.To.IsZero())
}

func TestToQuery_Defaults(t *testing.T) {
	config.Cfg = config.Config{}
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	q, err := AggregateParams{}.ToQuery("testnet", now)
	require.NoError(t, err)
	assert.Equal(t, common.GranularityHour, q.Granularity)
	assert.Equal(t, DEFAULT_LIMIT, q.Limit)
	assert.True(t, q.From.IsZero())

	config.Cfg.API.DefaultTimeRangeDays = 7
	q, err = AggregateParams{}.ToQuery("testnet", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -7), q.From)

	to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	q, err = AggregateParams{To: to}.ToQuery("testnet", now)
	require.NoError(t, err)
	assert.Equal(t, to.AddDate(0, 0, -7), q.From)
	config.Cfg = config.Config{}
}

func TestToQuery_Invalid(t *testing.T) {
	now := time.Now()
	_, err := AggregateParams{Granularity: "minute"}.ToQuery("testnet", now)
	assert.Error(t, err)

	_, err = AggregateParams{Limit: MAX_LIMIT + 1}.ToQuery("testnet", now)
	assert.Error(t, err)

	_, err = AggregateParams{Limit: -1}.ToQuery("testnet", now)
	assert.Error(t, err)

	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err = AggregateParams{From: ts, To: ts}.ToQuery("testnet", now)
	assert.Error(t, err)
}
