// Package idtoken signs OpenID Connect ID tokens with the key pair a client
// is configured with.
package idtoken

import (
	"context"
	"crypto"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

const DefaultLifetime = time.Hour

// Signer builds ID tokens. It holds no per-request state.
type Signer struct {
	keys     storage.KeyStore
	claims   storage.ClaimsStore
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

type Option func(*Signer)

func WithLifetime(d time.Duration) Option {
	return func(s *Signer) { s.lifetime = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

func NewSigner(keys storage.KeyStore, claims storage.ClaimsStore, issuer string, opts ...Option) *Signer {
	s := &Signer{keys: keys, claims: claims, issuer: issuer, lifetime: DefaultLifetime, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign returns a compact JWT for userID issued to clientID. Claims released
// follow the claim groups named in scope (profile, email, address, phone).
func (s *Signer) Sign(ctx context.Context, clientID, userID, nonce, scope string) (string, error) {
	alg, err := s.keys.GetEncryptionAlgorithm(ctx, clientID)
	if err != nil {
		return "", oauth.Storage("get encryption algorithm", err)
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", fmt.Errorf("idtoken: unsupported signing algorithm %q", alg)
	}
	pem, err := s.keys.GetPrivateKey(ctx, clientID)
	if err != nil {
		return "", oauth.Storage("get private key", err)
	}
	if pem == "" {
		return "", &oauth.IntegrationError{Component: "KeyStore", Reason: "no private key for client " + clientID}
	}
	key, err := parsePrivateKey(method, pem)
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": userID,
		"aud": clientID,
		"iat": now.Unix(),
		"exp": now.Add(s.lifetime).Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	if userID != "" && hasClaimGroup(scope) {
		user, err := s.claims.GetUserClaims(ctx, userID, scope)
		if err != nil {
			return "", oauth.Storage("get user claims", err)
		}
		for k, v := range user {
			if _, reserved := claims[k]; !reserved {
				claims[k] = v
			}
		}
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("idtoken: sign: %w", err)
	}
	return signed, nil
}

func hasClaimGroup(scope string) bool {
	for _, s := range strings.Fields(scope) {
		switch s {
		case "profile", "email", "address", "phone":
			return true
		}
	}
	return false
}

func parsePrivateKey(method jwt.SigningMethod, pem string) (crypto.PrivateKey, error) {
	var (
		key crypto.PrivateKey
		err error
	)
	switch method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		key, err = jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
	case *jwt.SigningMethodECDSA:
		key, err = jwt.ParseECPrivateKeyFromPEM([]byte(pem))
	case *jwt.SigningMethodEd25519:
		key, err = jwt.ParseEdPrivateKeyFromPEM([]byte(pem))
	case *jwt.SigningMethodHMAC:
		return []byte(pem), nil
	default:
		return nil, fmt.Errorf("idtoken: unsupported signing method %s", method.Alg())
	}
	if err != nil {
		return nil, &oauth.IntegrationError{Component: "KeyStore", Reason: "unparseable private key: " + err.Error()}
	}
	return key, nil
}
