package authn_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivo-us/request-handler/internal/authn"
	"github.com/vivo-us/request-handler/internal/rtransport"
)

func newTestTransport(t *testing.T) *rtransport.Transport {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return rtransport.New(client, "test:")
}

func TestBasicHeaders(t *testing.T) {
	a := authn.New(authn.Spec{Kind: authn.KindBasic, Username: "alice", Password: "hunter2"}, nil)

	headers, err := a.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Basic YWxpY2U6aHVudGVyMg==", headers["Authorization"])
}

func TestTokenHeadersDefaultBearerPrefix(t *testing.T) {
	a := authn.New(authn.Spec{Kind: authn.KindToken, Token: "abc123"}, nil)

	headers, err := a.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc123", headers["Authorization"])
}

func TestTokenHeadersExcludePrefix(t *testing.T) {
	a := authn.New(authn.Spec{Kind: authn.KindToken, Token: "abc123", ExcludePrefix: true}, nil)

	headers, err := a.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", headers["Authorization"])
}

func TestOAuth2RefreshesOnceThenReadsCache(t *testing.T) {
	var refreshCount int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCount++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	transport := newTestTransport(t)
	cipher, err := authn.NewAESGCMCipher(make([]byte, 32))
	require.NoError(t, err)
	cache := authn.NewTokenCache(transport, cipher, server.Client())

	spec := authn.Spec{
		Kind:         authn.KindOAuth2ClientCreds,
		ClientID:     "client-a",
		ClientSecret: "secret",
		TokenURL:     server.URL,
		DataLocation: authn.DataLocationURLEncodedForm,
	}
	a := authn.New(spec, cache)

	headers, err := a.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", headers["Authorization"])
	assert.Equal(t, 1, refreshCount)

	// second call within validity window must not refresh again.
	headers, err = a.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", headers["Authorization"])
	assert.Equal(t, 1, refreshCount)
}

func TestOAuth2RefreshesAgainAfterExpirySkew(t *testing.T) {
	var refreshCount int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCount++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"expires_in":   60, // within the 5-minute skew window immediately
		})
	}))
	defer server.Close()

	transport := newTestTransport(t)
	cipher, err := authn.NewAESGCMCipher(make([]byte, 32))
	require.NoError(t, err)
	cache := authn.NewTokenCache(transport, cipher, server.Client())

	spec := authn.Spec{
		Kind:         authn.KindOAuth2ClientCreds,
		ClientID:     "client-b",
		ClientSecret: "secret",
		TokenURL:     server.URL,
		DataLocation: authn.DataLocationJSONBody,
	}
	a := authn.New(spec, cache)

	_, err = a.Headers(context.Background())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = a.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, refreshCount)
}

func TestAESGCMCipherRoundTrip(t *testing.T) {
	c, err := authn.NewAESGCMCipher(make([]byte, 32))
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("hello world")
	require.NoError(t, err)
	assert.NotEqual(t, "hello world", ciphertext)

	plaintext, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hello world", plaintext)
}
