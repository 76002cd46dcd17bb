package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Fern-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	resp, err := client.PostJSON(context.Background(), server.URL, map[string]string{"kind": "week_ahead"}, map[string]string{"X-Fern-Token": "secret"})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, "week_ahead", received["kind"])
}

func TestPostJSONNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	resp, err := client.PostJSON(context.Background(), server.URL, nil, nil)
	require.NoError(t, err)
	assert.False(t, resp.IsSuccess())
}

func TestPostJSONUnreachable(t *testing.T) {
	client := NewClient(DefaultConfig(), ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	_, err := client.PostJSON(context.Background(), "http://127.0.0.1:1", nil, nil)
	assert.Error(t, err)
}
