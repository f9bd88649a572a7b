package storage

import "strings"

// Client represents a registered OAuth client
type Client struct {
	ID          string
	SecretHash  string // bcrypt; empty for public clients
	RedirectURI string
	GrantTypes  []string // empty means unrestricted
	Scope       string
	UserID      string
}

// AccessToken represents an issued access token
type AccessToken struct {
	Token    string
	ClientID string
	AuthID   string
	Expires  *int64 // epoch seconds, nil = never
	Scope    string
}

// RefreshToken represents an issued refresh token
type RefreshToken struct {
	Token    string
	ClientID string
	AuthID   string
	Expires  *int64
	Scope    string
}

// AuthorizationCode is a one-time credential created by the authorize step.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      string
	RedirectURI string
	Expires     *int64
	Scope       string
	IDToken     string // optional OpenID id_token issued alongside the code
}

// Scope represents a permission scope
type Scope struct {
	Name      string
	IsDefault bool
}

// JtiRecord marks a signed assertion as used.
type JtiRecord struct {
	Issuer   string
	Subject  string
	Audience string
	Expires  int64
	JTI      string
}

// KeyPair holds signing keys. An empty ClientID is the global default row.
type KeyPair struct {
	ClientID            string
	PublicKey           string
	PrivateKey          string
	EncryptionAlgorithm string
}

// Principal is an authenticatable subject and its stored credentials.
type Principal struct {
	AuthID        string
	Login         string
	PasswordHash  string
	SecondaryHash string
	UserID        string
	Scope         string
	Claims        map[string]any
}

// SecretCheck is the result of a secondary secret comparison.
type SecretCheck int

const (
	SecretMismatch SecretCheck = iota
	SecretMatch
	SecretNotConfigured
)

func (c SecretCheck) String() string {
	switch c {
	case SecretMatch:
		return "match"
	case SecretNotConfigured:
		return "not_configured"
	default:
		return "mismatch"
	}
}

// Profile is the principal view handed to grant strategies. Secret hashes are
// never part of it.
type Profile map[string]any

// Profile field names.
const (
	FieldAuthID = "auth_id"
	FieldLogin  = "login"
	FieldUserID = "user_id"
	FieldScope  = "scope"
)

// AuthID returns the principal identifier, if the profile carries one.
func (p Profile) AuthID() (string, bool) {
	v, ok := p[FieldAuthID].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Scope returns the profile's scope or "".
func (p Profile) Scope() string {
	v, _ := p[FieldScope].(string)
	return v
}

// Profile builds the public view of a principal.
func (p *Principal) Profile() Profile {
	out := Profile{}
	for k, v := range p.Claims {
		out[k] = v
	}
	out[FieldAuthID] = p.AuthID
	out[FieldLogin] = p.Login
	if p.UserID != "" {
		out[FieldUserID] = p.UserID
	}
	if p.Scope != "" {
		out[FieldScope] = p.Scope
	}
	return out
}

func splitSet(s string) []string {
	return strings.Fields(s)
}

func joinSet(items []string) string {
	return strings.Join(items, " ")
}

func contains(set []string, item string) bool {
	for _, s := range set {
		if s == item {
			return true
		}
	}
	return false
}
