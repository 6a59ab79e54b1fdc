package push

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// fcmScope is the OAuth scope required to call the FCM v1 send endpoint.
const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// TokenManager implements spec §4.5: it loads service-account credentials
// from GOOGLE_APPLICATION_CREDENTIALS at init, caches the access token, and
// refreshes proactively (oauth2's expiry check) or reactively on 401 via
// UpdateToken. Safe for concurrent readers; one refresh happens at a time.
type TokenManager struct {
	source oauth2.TokenSource

	mu      sync.Mutex
	cached  *oauth2.Token
	refresh sync.Mutex // serializes UpdateToken callers
}

// NewTokenManager builds a TokenManager from the ambient service-account
// credentials (GOOGLE_APPLICATION_CREDENTIALS).
func NewTokenManager(ctx context.Context) (*TokenManager, error) {
	creds, err := google.FindDefaultCredentials(ctx, fcmScope)
	if err != nil {
		return nil, err
	}
	return &TokenManager{source: creds.TokenSource}, nil
}

// GetToken returns a cached, unexpired access token, refreshing it if
// missing or expired.
func (tm *TokenManager) GetToken() (string, error) {
	tm.mu.Lock()
	tok := tm.cached
	tm.mu.Unlock()

	if tok.Valid() {
		return tok.AccessToken, nil
	}
	return tm.UpdateToken()
}

// UpdateToken forces a refresh, used reactively after a 401 from FCM. Only
// one refresh runs at a time; concurrent callers serialize on the refresh
// lock rather than racing the token source.
func (tm *TokenManager) UpdateToken() (string, error) {
	tm.refresh.Lock()
	defer tm.refresh.Unlock()

	fresh, err := tm.source.Token()
	if err != nil {
		return "", err
	}

	tm.mu.Lock()
	tm.cached = fresh
	tm.mu.Unlock()
	return fresh.AccessToken, nil
}
