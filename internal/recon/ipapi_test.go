package recon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPAPIEnricher_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/203.0.113.5", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("fields"), "asname")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","as":"AS64500 Example Networks Inc.","asname":"ExampleNet"}`))
	}))
	defer srv.Close()

	e := NewIPAPIEnricher(srv.URL, 6000, 2*time.Second, "test-agent")
	n, err := e.Enrich(context.Background(), "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, "AS64500", n.ID)
	assert.Equal(t, "ExampleNet", n.Name)
}

func TestIPAPIEnricher_FailStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	}))
	defer srv.Close()

	_, err := NewIPAPIEnricher(srv.URL, 6000, 2*time.Second, "").Enrich(context.Background(), "10.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved range")
}

func TestIPAPIEnricher_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewIPAPIEnricher(srv.URL, 6000, 2*time.Second, "").Enrich(context.Background(), "203.0.113.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestIPAPIEnricher_PacesRequests(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"status":"success","as":"AS64500 ExampleNet","asname":""}`))
	}))
	defer srv.Close()

	// 600 per minute is one request every 100ms.
	e := NewIPAPIEnricher(srv.URL, 600, 2*time.Second, "")
	start := time.Now()
	for i := 0; i < 3; i++ {
		n, err := e.Enrich(context.Background(), "203.0.113.5")
		require.NoError(t, err)
		assert.Equal(t, "ExampleNet", n.Name)
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.EqualValues(t, 3, hits.Load())
}

func TestIPAPIEnricher_CancelledWhileWaiting(t *testing.T) {
	e := NewIPAPIEnricher("http://127.0.0.1:1/", 1, time.Second, "")
	e.limiter.Allow() // drain the single token

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.Enrich(ctx, "203.0.113.5")
	assert.Error(t, err)
}

func TestParseIPAPINetwork(t *testing.T) {
	n, err := parseIPAPINetwork(ipapiResponse{AS: "AS13335 Cloudflare, Inc."})
	require.NoError(t, err)
	assert.Equal(t, "AS13335", n.ID)
	assert.Equal(t, "Cloudflare, Inc.", n.Name)

	_, err = parseIPAPINetwork(ipapiResponse{})
	assert.Error(t, err)
}
