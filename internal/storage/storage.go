// Package storage defines the persistence contract of the token issuance core
// and ships in-memory, SQLite and PostgreSQL backends.
//
// Lookups that find nothing return a nil value and a nil error. Errors are
// reserved for backend failures.
package storage

import (
	"context"
	"errors"
	"sort"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate key")
)

// DefaultEncryptionAlgorithm is used when no key pair row names one.
const DefaultEncryptionAlgorithm = "RS256"

type ClientStore interface {
	GetClientDetails(ctx context.Context, clientID string) (*Client, error)
	SetClientDetails(ctx context.Context, c Client) error
	// CheckClientCredentials compares secret against the stored bcrypt hash.
	CheckClientCredentials(ctx context.Context, clientID, secret string) (bool, error)
	IsPublicClient(ctx context.Context, clientID string) (bool, error)
	CheckRestrictedGrantType(ctx context.Context, clientID, grantType string) (bool, error)
}

type AccessTokenStore interface {
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)
	SetAccessToken(ctx context.Context, t AccessToken) error
}

type RefreshTokenStore interface {
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	SetRefreshToken(ctx context.Context, t RefreshToken) error
	UnsetRefreshToken(ctx context.Context, token string) error
	// ConsumeRefreshToken fetches and deletes the token in one atomic step.
	// Of two concurrent callers at most one receives the token.
	ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
}

type TokenStore interface {
	AccessTokenStore
	RefreshTokenStore
}

type CodeStore interface {
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
	SetAuthorizationCode(ctx context.Context, c AuthorizationCode) error
	ExpireAuthorizationCode(ctx context.Context, code string) error
	// ConsumeAuthorizationCode fetches and deletes the code in one atomic step.
	// Of two concurrent callers at most one receives the code.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

type LoginStore interface {
	CheckLogin(ctx context.Context, login string) (bool, error)
	GetDetails(ctx context.Context, login string) (Profile, error)
	CheckCredentials(ctx context.Context, login, secret string) (bool, error)
	CheckSecondarySecret(ctx context.Context, login, secret string) (SecretCheck, error)
	// SetPrincipal creates or updates the principal and returns its auth_id.
	SetPrincipal(ctx context.Context, p Principal, secret string) (string, error)
	SetSecondarySecret(ctx context.Context, login, secret string) error
}

type ScopeStore interface {
	ScopeExists(ctx context.Context, scope string) (bool, error)
	// GetDefaultScope returns the space-joined default scopes, or "" when none.
	GetDefaultScope(ctx context.Context, clientID string) (string, error)
	SetScope(ctx context.Context, s Scope) error
}

type AssertionStore interface {
	GetClientKey(ctx context.Context, clientID, subject string) (string, error)
	SetClientKey(ctx context.Context, clientID, subject, publicKey string) error
	GetClientScope(ctx context.Context, clientID string) (string, error)
	GetJti(ctx context.Context, r JtiRecord) (*JtiRecord, error)
	SetJti(ctx context.Context, r JtiRecord) error
	// RegisterJti records r unless the identical tuple is already present.
	// It reports false on replay and is atomic under concurrent callers.
	RegisterJti(ctx context.Context, r JtiRecord) (bool, error)
}

type KeyStore interface {
	GetPublicKey(ctx context.Context, clientID string) (string, error)
	GetPrivateKey(ctx context.Context, clientID string) (string, error)
	GetEncryptionAlgorithm(ctx context.Context, clientID string) (string, error)
	SetKeyPair(ctx context.Context, k KeyPair) error
}

type ClaimsStore interface {
	// GetUserClaims returns the fields of the requested claim groups for the
	// principal, or nil when the principal does not exist.
	GetUserClaims(ctx context.Context, authID, claims string) (map[string]any, error)
}

// Store is the union implemented by the bundled backends.
type Store interface {
	ClientStore
	TokenStore
	CodeStore
	LoginStore
	ScopeStore
	AssertionStore
	KeyStore
	ClaimsStore

	Ping(ctx context.Context) error
	Close() error
}

func sortedCopy(items []string) []string {
	out := append([]string(nil), items...)
	sort.Strings(out)
	return out
}
