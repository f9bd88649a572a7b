package storage

import (
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the client or principal does not exist,
// so lookups of unknown and known identifiers cost the same.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashSecret hashes a client secret or principal password with bcrypt.
func HashSecret(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	return string(b), err
}

func compareSecret(hash, secret string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(secret))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

func checkClientSecret(c *Client, secret string) bool {
	if c == nil {
		compareSecret("", secret)
		return false
	}
	if c.SecretHash == "" {
		return secret == ""
	}
	return compareSecret(c.SecretHash, secret)
}

func checkSecondary(p *Principal, secret string) SecretCheck {
	if p == nil {
		compareSecret("", secret)
		return SecretMismatch
	}
	if p.SecondaryHash == "" {
		return SecretNotConfigured
	}
	if compareSecret(p.SecondaryHash, secret) {
		return SecretMatch
	}
	return SecretMismatch
}

// Option configures a backend.
type Option func(*options)

type options struct {
	hashCost int
}

// WithHashCost sets the bcrypt cost used when the store hashes secrets.
func WithHashCost(cost int) Option {
	return func(o *options) { o.hashCost = cost }
}

func buildOptions(opts []Option) options {
	o := options{hashCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
