package graph

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// graphScope requests every application permission granted to the client.
const graphScope = "https://graph.microsoft.com/.default"

// tokenCache hands out client-credentials access tokens. Tokens are reused
// until shortly before they expire.
type tokenCache struct {
	mu         sync.Mutex
	config     *clientcredentials.Config
	httpClient *http.Client
	source     oauth2.TokenSource
}

// newTokenCache creates a new token cache for the given OAuth2 client credentials.
func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

// Token returns a valid access token, acquiring one if necessary.
// This method is safe for concurrent use.
func (tc *tokenCache) Token() (string, error) {
	tc.mu.Lock()
	if tc.source == nil {
		tc.source = tc.newSource()
	}
	source := tc.source
	tc.mu.Unlock()

	return accessToken(source)
}

// ForceRefresh discards the current token and acquires a new one.
// This is used when a 401 response indicates the token is invalid.
func (tc *tokenCache) ForceRefresh() (string, error) {
	tc.mu.Lock()
	tc.source = tc.newSource()
	source := tc.source
	tc.mu.Unlock()

	return accessToken(source)
}

// newSource returns a fresh reusing token source. Token requests are not
// tied to any one send, so they run under a background context.
func (tc *tokenCache) newSource() oauth2.TokenSource {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, tc.httpClient)
	return tc.config.TokenSource(ctx)
}

func accessToken(source oauth2.TokenSource) (string, error) {
	tok, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	return tok.AccessToken, nil
}
