package grant

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/example/oauth2core/internal/issuer"
	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

// AuthorizationCode redeems a one-time code issued by the authorize step.
type AuthorizationCode struct {
	store  storage.CodeStore
	signer IDTokenSigner
	now    func() time.Time
}

type AuthorizationCodeOption func(*AuthorizationCode)

// WithIDTokenSigner signs an ID token for openid requests whose code does
// not already carry one.
func WithIDTokenSigner(s IDTokenSigner) AuthorizationCodeOption {
	return func(a *AuthorizationCode) { a.signer = s }
}

func WithCodeClock(now func() time.Time) AuthorizationCodeOption {
	return func(a *AuthorizationCode) { a.now = now }
}

func NewAuthorizationCode(store storage.CodeStore, opts ...AuthorizationCodeOption) *AuthorizationCode {
	a := &AuthorizationCode{store: store, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AuthorizationCode) Identifier() string { return "authorization_code" }

// ValidateRequest consumes the code. A code that fails any later check is
// gone all the same.
func (a *AuthorizationCode) ValidateRequest(ctx context.Context, req oauth.Request, sink oauth.ErrorSink) (*Grant, error) {
	code := req.Param("code")
	if code == "" {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidRequest, `Missing parameter: "code" is required`)
		return nil, nil
	}

	stored, err := a.store.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		return nil, oauth.Storage("consume authorization code", err)
	}
	if stored == nil {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Authorization code doesn't exist or is invalid for the client")
		return nil, nil
	}

	if stored.RedirectURI != "" && req.Param("redirect_uri") != stored.RedirectURI {
		sink.SetError(http.StatusBadRequest, oauth.ErrorRedirectURIMismatch, "The redirect URI is missing or do not match")
		return nil, nil
	}
	if stored.Expires != nil && *stored.Expires < a.now().Unix() {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "The authorization code has expired")
		return nil, nil
	}

	return &Grant{
		ClientID: stored.ClientID,
		UserID:   stored.UserID,
		Scope:    stored.Scope,
		IDToken:  stored.IDToken,
	}, nil
}

func (a *AuthorizationCode) CreateAccessToken(ctx context.Context, creator TokenCreator, g *Grant) (*issuer.Token, error) {
	t, err := creator.CreateAccessToken(ctx, g.ClientID, g.UserID, g.Scope, true)
	if err != nil {
		return nil, err
	}
	switch {
	case g.IDToken != "":
		t.IDToken = g.IDToken
	case a.signer != nil && hasScope(g.Scope, "openid"):
		if t.IDToken, err = a.signer.Sign(ctx, g.ClientID, g.UserID, "", g.Scope); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}
