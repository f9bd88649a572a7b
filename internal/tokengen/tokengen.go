// Package tokengen produces unguessable access and refresh token strings.
package tokengen

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// TokenBytes is the entropy per token; the hex form is twice as long.
const TokenBytes = 20

// ErrInsecureSource is returned when the secure random source cannot be read.
// There is no weaker fallback.
var ErrInsecureSource = errors.New("tokengen: secure random source unavailable")

// Generator reads token entropy from a cryptographically secure source.
type Generator struct {
	source io.Reader
}

type Option func(*Generator)

// WithSource replaces crypto/rand.Reader. Only tests should need this.
func WithSource(r io.Reader) Option {
	return func(g *Generator) { g.source = r }
}

// New returns a Generator after probing its source once, so a host without a
// working secure source refuses to start instead of issuing weak tokens.
func New(opts ...Option) (*Generator, error) {
	g := &Generator{source: rand.Reader}
	for _, opt := range opts {
		opt(g)
	}
	if _, err := g.Generate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Generate returns a 40 character lowercase hex token.
func (g *Generator) Generate() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := io.ReadFull(g.source, b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInsecureSource, err)
	}
	return hex.EncodeToString(b), nil
}
