package authn

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	xoauth2 "golang.org/x/oauth2"

	"github.com/vivo-us/request-handler/internal/rtransport"
)

// expirySkew matches §4.6: "OAuth2 token considered expired ≤ 5 min
// before nominal expiry."
const expirySkew = 5 * time.Minute

// Cipher encrypts/decrypts the cached token blob. Credential encryption
// primitives are an explicit non-goal collaborator (§1); Coordinator
// callers may supply their own, or use NewAESGCMCipher for a stdlib
// default.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// TokenCache persists one encrypted oauth2.Token per client under the
// Redis hash key "<clientRedisKey>:oauth2" (§4.1, §4.6).
type TokenCache struct {
	transport *rtransport.Transport
	cipher    Cipher
	client    *http.Client
}

func NewTokenCache(transport *rtransport.Transport, cipher Cipher, client *http.Client) *TokenCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenCache{transport: transport, cipher: cipher, client: client}
}

func (a *Authenticator) oauth2Headers(ctx context.Context) (map[string]string, error) {
	if a.cache == nil {
		return nil, fmt.Errorf("authn: oauth2 authenticator requires a token cache")
	}

	key := a.spec.oauth2CacheKey()

	tok, err := a.cache.load(ctx, key)
	if err != nil {
		return nil, err
	}

	if tok == nil || time.Until(tok.Expiry) <= expirySkew {
		tok, err = a.cache.refresh(ctx, a.spec)
		if err != nil {
			return nil, fmt.Errorf("authn: oauth2 refresh: %w", err)
		}
		if err := a.cache.store(ctx, key, tok); err != nil {
			return nil, fmt.Errorf("authn: oauth2 cache store: %w", err)
		}
	}

	prefix := "Bearer"
	return map[string]string{a.spec.headerName(): a.prefixed(prefix, tok.AccessToken)}, nil
}

func (s Spec) oauth2CacheKey() string {
	return s.ClientID + ":" + string(s.Kind)
}

func (c *TokenCache) load(ctx context.Context, clientKey string) (*xoauth2.Token, error) {
	fields, err := c.transport.HGetAllEncrypted(ctx, c.transport.OAuth2Key(clientKey))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	blob, ok := fields["token"]
	if !ok {
		return nil, nil
	}

	plaintext, err := c.cipher.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("authn: decrypt cached token: %w", err)
	}

	var tok xoauth2.Token
	if err := json.Unmarshal([]byte(plaintext), &tok); err != nil {
		return nil, fmt.Errorf("authn: unmarshal cached token: %w", err)
	}
	return &tok, nil
}

func (c *TokenCache) store(ctx context.Context, clientKey string, tok *xoauth2.Token) error {
	plaintext, err := json.Marshal(tok)
	if err != nil {
		return err
	}

	ciphertext, err := c.cipher.Encrypt(string(plaintext))
	if err != nil {
		return fmt.Errorf("authn: encrypt token: %w", err)
	}

	return c.transport.HSetEncrypted(ctx, c.transport.OAuth2Key(clientKey), map[string]string{"token": ciphertext})
}

// refresh performs the token-refresh POST. Transient network failures are
// retried a handful of times locally (not the distributed freeze/thaw
// machinery of §4.5, which governs request-path retries, not auth
// refresh) via Rican7/retry's attempt-limit strategy.
func (c *TokenCache) refresh(ctx context.Context, spec Spec) (*xoauth2.Token, error) {
	data := map[string]string{
		"grant_type": grantTypeFor(spec.Kind),
		"client_id":  spec.ClientID,
	}
	if !spec.UseBasicAuth {
		data["client_secret"] = spec.ClientSecret
	}
	if spec.Kind == KindOAuth2GrantType {
		data["refresh_token"] = spec.RefreshToken
	}
	if spec.Scope != "" {
		data["scope"] = spec.Scope
	}
	for k, v := range spec.ExtraData {
		data[k] = v
	}

	var body []byte

	err := retry.Retry(func(attempt uint) error {
		req, err := buildRefreshRequest(ctx, spec, data)
		if err != nil {
			return err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("authn: refresh endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Stop(fmt.Errorf("authn: refresh endpoint returned %d: %s", resp.StatusCode, string(body)))
		}
		return nil
	}, strategy.Limit(3))
	if err != nil {
		return nil, err
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("authn: decode refresh response: %w", err)
	}

	tok := &xoauth2.Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = spec.RefreshToken
	}
	return tok, nil
}

func grantTypeFor(kind Kind) string {
	if kind == KindOAuth2GrantType {
		return "refresh_token"
	}
	return "client_credentials"
}

func buildRefreshRequest(ctx context.Context, spec Spec, data map[string]string) (*http.Request, error) {
	var req *http.Request
	var err error

	switch spec.DataLocation {
	case DataLocationURLQuery:
		u, perr := url.Parse(spec.TokenURL)
		if perr != nil {
			return nil, perr
		}
		q := u.Query()
		for k, v := range data {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)

	case DataLocationJSONBody:
		payload, merr := json.Marshal(data)
		if merr != nil {
			return nil, merr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, spec.TokenURL, bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}

	default: // urlEncodedForm
		form := url.Values{}
		for k, v := range data {
			form.Set(k, v)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, spec.TokenURL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}

	if spec.UseBasicAuth {
		req.SetBasicAuth(spec.ClientID, spec.ClientSecret)
	}

	return req, nil
}

// NewAESGCMCipher builds the stdlib default Cipher (AES-256-GCM), used
// when the Coordinator caller doesn't supply its own encryption
// primitive. key must be 32 bytes.
func NewAESGCMCipher(key []byte) (Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aesGCMCipher{gcm: gcm}, nil
}

type aesGCMCipher struct {
	gcm cipher.AEAD
}

func (c *aesGCMCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(strings.TrimSpace(plaintext)), nil)
	return hex.EncodeToString(sealed), nil
}

func (c *aesGCMCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	n := c.gcm.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("authn: ciphertext too short")
	}
	nonce, sealed := raw[:n], raw[n:]
	plaintext, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
