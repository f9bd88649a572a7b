package grant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/oauth2core/internal/issuer"
	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

const JWTBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// JWTBearer accepts a signed assertion (RFC 7523). The issuer of the
// assertion is the client; its subject is the principal.
type JWTBearer struct {
	store    storage.AssertionStore
	audience string
	now      func() time.Time
}

type JWTBearerOption func(*JWTBearer)

func WithAssertionClock(now func() time.Time) JWTBearerOption {
	return func(j *JWTBearer) { j.now = now }
}

// NewJWTBearer accepts assertions whose aud claim contains audience,
// normally the token endpoint URL.
func NewJWTBearer(store storage.AssertionStore, audience string, opts ...JWTBearerOption) *JWTBearer {
	j := &JWTBearer{store: store, audience: audience, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *JWTBearer) Identifier() string { return JWTBearerGrantType }

func (j *JWTBearer) AuthenticatesClient() bool { return true }

func (j *JWTBearer) ValidateRequest(ctx context.Context, req oauth.Request, sink oauth.ErrorSink) (*Grant, error) {
	assertion := req.Param("assertion")
	if assertion == "" {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidRequest, `Missing parameters: "assertion" required`)
		return nil, nil
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(assertion, claims); err != nil {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidRequest, "JWT is malformed")
		return nil, nil
	}

	iss, _ := claims["iss"].(string)
	if iss == "" {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Invalid issuer (iss) provided")
		return nil, nil
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Invalid subject (sub) provided")
		return nil, nil
	}

	now := j.now()
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Expiration (exp) time must be present")
		return nil, nil
	}
	if !exp.After(now) {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "JWT has expired")
		return nil, nil
	}
	nbf, err := claims.GetNotBefore()
	if err != nil {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Not Before (nbf) time must be a unix time stamp")
		return nil, nil
	}
	if nbf != nil && nbf.After(now) {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "JWT cannot be used before the Not Before (nbf) time")
		return nil, nil
	}
	aud, err := claims.GetAudience()
	if err != nil || !containsString(aud, j.audience) {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Invalid audience (aud)")
		return nil, nil
	}

	key, err := j.store.GetClientKey(ctx, iss, sub)
	if err != nil {
		return nil, oauth.Storage("get client key", err)
	}
	if key == "" {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Invalid issuer (iss) or subject (sub) provided")
		return nil, nil
	}
	if _, err := parser.Parse(assertion, func(t *jwt.Token) (any, error) { return verificationKey(t.Method, key) }); err != nil {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "JWT failed signature verification")
		return nil, nil
	}

	// The tuple is registered only once the signature holds, so forged
	// assertions cannot burn identifiers. An assertion without jti is
	// recorded with an empty one and is just as single-use.
	jti, _ := claims["jti"].(string)
	fresh, err := j.store.RegisterJti(ctx, storage.JtiRecord{
		Issuer:   iss,
		Subject:  sub,
		Audience: j.audience,
		Expires:  exp.Unix(),
		JTI:      jti,
	})
	if err != nil {
		return nil, oauth.Storage("register jti", err)
	}
	if !fresh {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "JSON Token Identifier (jti) has already been used")
		return nil, nil
	}

	scope, err := j.store.GetClientScope(ctx, iss)
	if err != nil {
		return nil, oauth.Storage("get client scope", err)
	}
	return &Grant{ClientID: iss, UserID: sub, Scope: scope}, nil
}

// CreateAccessToken never includes a refresh token; a new assertion can be
// signed at any time.
func (j *JWTBearer) CreateAccessToken(ctx context.Context, creator TokenCreator, g *Grant) (*issuer.Token, error) {
	return creator.CreateAccessToken(ctx, g.ClientID, g.UserID, g.Scope, false)
}

var errUnsupportedMethod = errors.New("unsupported signing method")

// verificationKey parses the registered public key for the assertion's
// algorithm. Symmetric algorithms are refused since the key is public.
func verificationKey(method jwt.SigningMethod, pem string) (any, error) {
	switch method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		return jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	case *jwt.SigningMethodECDSA:
		return jwt.ParseECPublicKeyFromPEM([]byte(pem))
	case *jwt.SigningMethodEd25519:
		return jwt.ParseEdPublicKeyFromPEM([]byte(pem))
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedMethod, method.Alg())
	}
}

func containsString(set []string, item string) bool {
	for _, s := range set {
		if s == item {
			return true
		}
	}
	return false
}
