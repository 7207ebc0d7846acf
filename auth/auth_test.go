package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"token123","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenAndSetAuthHeader(t *testing.T) {
	var hits int32
	server := tokenServer(t, &hits)
	client := NewClientCred(Conf{ClientID: "id", ClientSecret: "secret", AuthURL: server.URL})

	tok, err := client.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token123", tok.AccessToken)

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, client.SetAuthHeader(req))
	assert.Equal(t, "Bearer token123", req.Header.Get("Authorization"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "token should be cached")

	_, err = client.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestTokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()
	client := NewClientCred(Conf{ClientID: "id", AuthURL: srv.URL})
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	assert.Error(t, client.SetAuthHeader(req))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestConfEnabled(t *testing.T) {
	assert.False(t, Conf{}.Enabled())
	assert.True(t, Conf{ClientID: "a", AuthURL: "http://x"}.Enabled())
}
