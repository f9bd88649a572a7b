// Package issuer mints and persists access and refresh tokens.
package issuer

import (
	"context"
	"fmt"
	"time"

	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

const (
	DefaultTokenType            = "bearer"
	DefaultAccessLifetime       = 3600
	DefaultRefreshTokenLifetime = 1209600
)

// Config is fixed per Issuer. Lifetimes are in seconds; zero or less means
// the token never expires.
type Config struct {
	TokenType            string
	AccessLifetime       int
	RefreshTokenLifetime int
}

func DefaultConfig() Config {
	return Config{
		TokenType:            DefaultTokenType,
		AccessLifetime:       DefaultAccessLifetime,
		RefreshTokenLifetime: DefaultRefreshTokenLifetime,
	}
}

// Generator produces token strings.
type Generator interface {
	Generate() (string, error)
}

// Token is the minted-token payload.
type Token struct {
	AccessToken  string  `json:"access_token"`
	ExpiresIn    *int64  `json:"expires_in,omitempty"`
	TokenType    string  `json:"token_type"`
	Scope        *string `json:"scope"`
	RefreshToken string  `json:"refresh_token,omitempty"`
	IDToken      string  `json:"id_token,omitempty"`
	// AuthID identifies the principal. It is not part of the wire response.
	AuthID string `json:"-"`
}

type Issuer struct {
	cfg     Config
	gen     Generator
	access  storage.AccessTokenStore
	refresh storage.RefreshTokenStore
	now     func() time.Time
}

type Option func(*Issuer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// New returns an Issuer. A nil refresh store disables refresh tokens.
func New(cfg Config, gen Generator, access storage.AccessTokenStore, refresh storage.RefreshTokenStore, opts ...Option) *Issuer {
	if cfg.TokenType == "" {
		cfg.TokenType = DefaultTokenType
	}
	i := &Issuer{cfg: cfg, gen: gen, access: access, refresh: refresh, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Issuer) Config() Config { return i.cfg }

// RefreshEnabled reports whether a refresh store is configured.
func (i *Issuer) RefreshEnabled() bool { return i.refresh != nil }

func (i *Issuer) expiry(lifetime int) *int64 {
	if lifetime <= 0 {
		return nil
	}
	at := i.now().Unix() + int64(lifetime)
	return &at
}

// CreateAccessToken mints an access token for authID on behalf of clientID
// and, when includeRefresh is set and a refresh store exists, a refresh token.
func (i *Issuer) CreateAccessToken(ctx context.Context, clientID, authID, scope string, includeRefresh bool) (*Token, error) {
	withRefresh := includeRefresh && i.refresh != nil

	// Both strings are drawn before anything is written, so a generator
	// failure leaves no token behind.
	access, err := i.gen.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	var refresh string
	if withRefresh {
		if refresh, err = i.gen.Generate(); err != nil {
			return nil, fmt.Errorf("generate refresh token: %w", err)
		}
	}

	err = i.access.SetAccessToken(ctx, storage.AccessToken{
		Token:    access,
		ClientID: clientID,
		AuthID:   authID,
		Expires:  i.expiry(i.cfg.AccessLifetime),
		Scope:    scope,
	})
	if err != nil {
		return nil, oauth.Storage("set access token", err)
	}

	t := &Token{AccessToken: access, TokenType: i.cfg.TokenType, AuthID: authID}
	if i.cfg.AccessLifetime > 0 {
		in := int64(i.cfg.AccessLifetime)
		t.ExpiresIn = &in
	}
	if scope != "" {
		t.Scope = &scope
	}

	// A failed refresh write leaves the access token stored but never
	// returned to the caller; it lapses at its expiry.
	if withRefresh {
		err = i.refresh.SetRefreshToken(ctx, storage.RefreshToken{
			Token:    refresh,
			ClientID: clientID,
			AuthID:   authID,
			Expires:  i.expiry(i.cfg.RefreshTokenLifetime),
			Scope:    scope,
		})
		if err != nil {
			return nil, oauth.Storage("set refresh token", err)
		}
		t.RefreshToken = refresh
	}
	return t, nil
}
