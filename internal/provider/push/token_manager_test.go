package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestTokenManager_GetTokenCachesUntilExpiry(t *testing.T) {
	src := &swappingSource{tokens: []string{"tok-a", "tok-b"}}
	tm := &TokenManager{source: src}

	first, err := tm.GetToken()
	require.NoError(t, err)
	assert.Equal(t, "tok-a", first)

	second, err := tm.GetToken()
	require.NoError(t, err)
	assert.Equal(t, "tok-a", second, "cached token should be reused without calling the source again")
}

func TestTokenManager_GetTokenRefreshesExpiredToken(t *testing.T) {
	tm := &TokenManager{
		source: &swappingSource{tokens: []string{"tok-b"}},
		cached: &oauth2.Token{AccessToken: "tok-a", Expiry: time.Now().Add(-time.Minute)},
	}

	tok, err := tm.GetToken()
	require.NoError(t, err)
	assert.Equal(t, "tok-b", tok)
}

func TestTokenManager_UpdateTokenAlwaysRefreshes(t *testing.T) {
	tm := &TokenManager{
		source: &swappingSource{tokens: []string{"tok-b"}},
		cached: &oauth2.Token{AccessToken: "tok-a"},
	}

	tok, err := tm.UpdateToken()
	require.NoError(t, err)
	assert.Equal(t, "tok-b", tok)
}
