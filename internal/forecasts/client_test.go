package forecasts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheringest/internal/external"
	"weatheringest/internal/types"
)

// providerStub serves scripted responses and counts requests.
type providerStub struct {
	hits    atomic.Int32
	handler func(n int32, w http.ResponseWriter, r *http.Request)
}

func (p *providerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := p.hits.Add(1)
	p.handler(n, w, r)
}

func serveBody(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(providerBody))
}

func newTestClient(t *testing.T, url string, cache Cache) *Client {
	t.Helper()
	base := external.NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		external.DefaultRetryPolicy(),
		"weather-ingestion-test",
		external.WithSleepFunc(func(time.Duration) {}),
	)
	return NewClient(ClientConfig{
		APIURL:   url,
		Timezone: "Europe/Berlin",
		Cache:    cache,
	}, base)
}

func TestFetch_InvalidCadenceMakesNoCall(t *testing.T) {
	stub := &providerStub{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) { serveBody(w) }}
	server := httptest.NewServer(stub)
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	for _, c := range []types.Cadence{"weekly", "", "CURRENT"} {
		_, err := client.Fetch(context.Background(), 52.52, 13.41, c)
		require.Error(t, err)
		assert.Equal(t, types.ErrCodeValidationInvalidCadence, types.CodeOf(err))
	}
	assert.Zero(t, stub.hits.Load())
}

func TestFetch_InvalidCoordinatesMakesNoCall(t *testing.T) {
	stub := &providerStub{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) { serveBody(w) }}
	server := httptest.NewServer(stub)
	defer server.Close()

	_, err := newTestClient(t, server.URL, nil).Fetch(context.Background(), 91, 0, types.CadenceCurrent)
	require.Error(t, err)
	assert.True(t, types.CodeOf(err).IsValidation())
	assert.Zero(t, stub.hits.Load())
}

func TestFetch_Success(t *testing.T) {
	var query string
	stub := &providerStub{handler: func(_ int32, w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		serveBody(w)
	}}
	server := httptest.NewServer(stub)
	defer server.Close()

	records, err := newTestClient(t, server.URL, nil).Fetch(context.Background(), 52.52, 13.41, types.CadenceHourly)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Contains(t, query, "timeformat=unixtime")
	assert.Contains(t, query, "timezone=Europe%2FBerlin")
}

func TestFetch_TransientThenSuccess(t *testing.T) {
	stub := &providerStub{handler: func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		serveBody(w)
	}}
	server := httptest.NewServer(stub)
	defer server.Close()

	records, err := newTestClient(t, server.URL, nil).Fetch(context.Background(), 52.52, 13.41, types.CadenceCurrent)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(2), stub.hits.Load())
}

func TestFetch_RetryExhausted(t *testing.T) {
	stub := &providerStub{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}}
	server := httptest.NewServer(stub)
	defer server.Close()

	_, err := newTestClient(t, server.URL, nil).Fetch(context.Background(), 52.52, 13.41, types.CadenceDaily)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamRetryExhausted, types.CodeOf(err))
	assert.True(t, types.IsUpstream(err))

	var te *external.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Equal(t, int32(2), stub.hits.Load())
}

func TestFetch_RejectedNotRetried(t *testing.T) {
	stub := &providerStub{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"reason":"Cannot initialize WeatherVariable from invalid String value"}`))
	}}
	server := httptest.NewServer(stub)
	defer server.Close()

	_, err := newTestClient(t, server.URL, nil).Fetch(context.Background(), 52.52, 13.41, types.CadenceCurrent)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamRejected, types.CodeOf(err))
	assert.Contains(t, err.Error(), "Cannot initialize WeatherVariable")
	assert.Equal(t, int32(1), stub.hits.Load())
}

func TestFetch_MalformedNotRetried(t *testing.T) {
	stub := &providerStub{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"latitude":1}`))
	}}
	server := httptest.NewServer(stub)
	defer server.Close()

	cache := NewMemoryCache(0)
	_, err := newTestClient(t, server.URL, cache).Fetch(context.Background(), 52.52, 13.41, types.CadenceCurrent)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamMalformed, types.CodeOf(err))
	assert.Equal(t, int32(1), stub.hits.Load())
	assert.Zero(t, cache.Len(), "malformed bodies are not cached")
}

func TestFetch_CacheServesAllCadences(t *testing.T) {
	stub := &providerStub{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) { serveBody(w) }}
	server := httptest.NewServer(stub)
	defer server.Close()

	client := newTestClient(t, server.URL, NewMemoryCache(0))
	ctx := context.Background()
	for _, c := range types.Cadences {
		_, err := client.Fetch(ctx, 52.52, 13.41, c)
		require.NoError(t, err)
	}
	// Same location after rounding.
	_, err := client.Fetch(ctx, 52.520001, 13.410001, types.CadenceCurrent)
	require.NoError(t, err)

	assert.Equal(t, int32(1), stub.hits.Load())
}
