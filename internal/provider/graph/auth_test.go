package graph

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenHandler serves client-credentials tokens. token builds the access
// token for the n-th request.
func tokenHandler(calls *atomic.Int32, expiresIn int, token func(n int32) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": token(n),
			"expires_in":   expiresIn,
			"token_type":   "Bearer",
		})
	}
}

func fixedToken(tok string) func(int32) string {
	return func(int32) string { return tok }
}

func TestTokenCache_AcquiresToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		assert.Equal(t, "test-client-id", r.FormValue("client_id"))
		assert.Equal(t, "test-client-secret", r.FormValue("client_secret"))
		assert.Equal(t, graphScope, r.FormValue("scope"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"access_token":"test-access-token","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer server.Close()

	tc := newTokenCache(server.URL, "test-client-id", "test-client-secret", server.Client())

	token, err := tc.Token()
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", token)
}

func TestTokenCache_CachesToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(tokenHandler(&calls, 3600, fixedToken("cached-token")))
	defer server.Close()

	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())

	_, err := tc.Token()
	require.NoError(t, err)
	token, err := tc.Token()
	require.NoError(t, err)

	assert.Equal(t, "cached-token", token)
	assert.Equal(t, int32(1), calls.Load(), "token should be cached")
}

func TestTokenCache_RefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(tokenHandler(&calls, 1, func(n int32) string { return fmt.Sprintf("token-%d", n) }))
	defer server.Close()

	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())

	first, err := tc.Token()
	require.NoError(t, err)
	second, err := tc.Token()
	require.NoError(t, err)

	assert.Equal(t, "token-1", first)
	assert.Equal(t, "token-2", second)
	assert.Equal(t, int32(2), calls.Load(), "a token about to expire is not reused")
}

func TestTokenCache_ForceRefresh(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(tokenHandler(&calls, 3600, func(n int32) string { return fmt.Sprintf("force-token-%d", n) }))
	defer server.Close()

	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())

	_, err := tc.Token()
	require.NoError(t, err)

	token, err := tc.ForceRefresh()
	require.NoError(t, err)
	assert.Equal(t, "force-token-2", token)

	token, err = tc.Token()
	require.NoError(t, err)
	assert.Equal(t, "force-token-2", token)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := tokenHandler(&calls, 3600, fixedToken("concurrent-token"))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		handler(w, r)
	}))
	defer server.Close()

	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())

	const goroutines = 10
	var wg sync.WaitGroup
	tokens := make([]string, goroutines)
	errs := make([]error, goroutines)
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = tc.Token()
		}()
	}
	wg.Wait()

	for i := range goroutines {
		require.NoError(t, errs[i])
		assert.Equal(t, "concurrent-token", tokens[i])
	}
	assert.Equal(t, int32(1), calls.Load(), "concurrent callers share one token request")
}

func TestTokenCache_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "internal server error"}`))
	}))
	defer server.Close()

	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())

	_, err := tc.Token()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token request failed")
}

func TestTokenCache_EmptyAccessToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(tokenHandler(&calls, 3600, fixedToken("")))
	defer server.Close()

	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())

	_, err := tc.Token()
	assert.Error(t, err)
}
