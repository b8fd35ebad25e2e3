// Package authn builds the {headerName: "<prefix> <value>"} header map for
// the four authenticator variants of §4.6, and the Redis-backed encrypted
// OAuth2 token cache that backs the client-credentials and grant-type
// variants.
package authn

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Kind discriminates the authenticator variant (mirrors
// recordtypes.RateLimitKind's tagged-union pattern, §4.1 Design Note).
type Kind string

const (
	KindBasic             Kind = "basic"
	KindToken             Kind = "token"
	KindOAuth2ClientCreds Kind = "oauth2ClientCredentials"
	KindOAuth2GrantType   Kind = "oauth2GrantType"
)

// DataLocation says where the token-refresh POST carries its templated
// payload (§4.6).
type DataLocation string

const (
	DataLocationJSONBody       DataLocation = "jsonBody"
	DataLocationURLQuery       DataLocation = "urlQuery"
	DataLocationURLEncodedForm DataLocation = "urlEncodedForm"
)

// Spec is the generator-authored authentication configuration attached to
// a client.Spec (§6 External Interfaces).
type Spec struct {
	Kind Kind

	HeaderName    string // default "Authorization"
	ExcludePrefix bool

	// Basic
	Username string
	Password string

	// Token
	Token          string
	Base64Encode   bool
	TokenPrefix    string // default "Bearer"

	// OAuth2 (both variants)
	TokenURL       string
	ClientID       string
	ClientSecret   string
	RefreshToken   string // grant-type variant
	Scope          string
	DataLocation   DataLocation
	UseBasicAuth   bool // send clientId:clientSecret via HTTP Basic instead of templated body
	ExtraData      map[string]string
}

func (s Spec) headerName() string {
	if s.HeaderName != "" {
		return s.HeaderName
	}
	return "Authorization"
}

// Authenticator produces the auth header map for one client.
type Authenticator struct {
	spec  Spec
	cache *TokenCache
}

// New builds an Authenticator. cache may be nil for Basic/Token variants.
func New(spec Spec, cache *TokenCache) *Authenticator {
	return &Authenticator{spec: spec, cache: cache}
}

// Headers returns the header map to merge into the outgoing request
// (§4.4 step 4: "apply authentication header").
func (a *Authenticator) Headers(ctx context.Context) (map[string]string, error) {
	switch a.spec.Kind {
	case KindBasic:
		return a.basicHeaders(), nil
	case KindToken:
		return a.tokenHeaders(), nil
	case KindOAuth2ClientCreds, KindOAuth2GrantType:
		return a.oauth2Headers(ctx)
	default:
		return nil, fmt.Errorf("authn: unknown kind %q", a.spec.Kind)
	}
}

func (a *Authenticator) basicHeaders() map[string]string {
	raw := strings.TrimSpace(a.spec.Username) + ":" + strings.TrimSpace(a.spec.Password)
	value := base64.StdEncoding.EncodeToString([]byte(raw))
	return map[string]string{a.spec.headerName(): a.prefixed("Basic", value)}
}

func (a *Authenticator) tokenHeaders() map[string]string {
	value := strings.TrimSpace(a.spec.Token)
	if a.spec.Base64Encode {
		value = base64.StdEncoding.EncodeToString([]byte(value))
	}
	prefix := a.spec.TokenPrefix
	if prefix == "" {
		prefix = "Bearer"
	}
	return map[string]string{a.spec.headerName(): a.prefixed(prefix, value)}
}

func (a *Authenticator) prefixed(prefix, value string) string {
	if a.spec.ExcludePrefix || prefix == "" {
		return value
	}
	return prefix + " " + value
}
