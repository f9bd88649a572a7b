// Package grant validates token requests, one strategy per grant type, and
// dispatches them through a grant-agnostic Controller.
//
// Strategies are stateless: ValidateRequest returns the resolved identity as
// a *Grant instead of keeping it on the strategy, so one instance serves
// concurrent requests.
package grant

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/example/oauth2core/internal/issuer"
	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

// Grant is the outcome of a successful validation.
type Grant struct {
	ClientID string
	UserID   string
	// Scope is "" when the grant defers to the default scope.
	Scope string

	// RefreshToken is the token being redeemed by a refresh_token grant.
	RefreshToken string
	// IDToken is an OpenID ID token stored with an authorization code.
	IDToken string
}

// TokenCreator mints tokens. *issuer.Issuer implements it.
type TokenCreator interface {
	CreateAccessToken(ctx context.Context, clientID, userID, scope string, includeRefresh bool) (*issuer.Token, error)
}

// Strategy validates one grant type.
type Strategy interface {
	// Identifier is the grant_type value the strategy answers to.
	Identifier() string
	// ValidateRequest returns a nil Grant and nil error after setting the
	// sink when the request is rejected. A non-nil error is a storage or
	// integration failure.
	ValidateRequest(ctx context.Context, req oauth.Request, sink oauth.ErrorSink) (*Grant, error)
	CreateAccessToken(ctx context.Context, creator TokenCreator, g *Grant) (*issuer.Token, error)
}

// Redeemer is implemented by strategies whose credential is spent by a
// successful request. The Controller calls Redeem after every other check
// and right before minting; false means the sink was set.
type Redeemer interface {
	Redeem(ctx context.Context, g *Grant, sink oauth.ErrorSink) (bool, error)
}

// ClientAuthenticator is implemented by strategies that authenticate the
// client as part of validation. The Controller skips its own client check
// for them.
type ClientAuthenticator interface {
	AuthenticatesClient() bool
}

// IDTokenSigner signs OpenID ID tokens. *idtoken.Signer implements it.
type IDTokenSigner interface {
	Sign(ctx context.Context, clientID, userID, nonce, scope string) (string, error)
}

// CaptchaVerifier checks a captcha solution for a login. Without one the
// captcha grant only requires the parameter to be present.
type CaptchaVerifier interface {
	VerifyCaptcha(ctx context.Context, login, captcha string) (bool, error)
}

// grantFromProfile loads the principal profile of login and turns it into a
// Grant. A profile without an auth_id is a defect of the LoginStore.
func grantFromProfile(ctx context.Context, store storage.LoginStore, login, component string, sink oauth.ErrorSink) (*Grant, error) {
	profile, err := store.GetDetails(ctx, login)
	if err != nil {
		return nil, oauth.Storage("get user details", err)
	}
	if len(profile) == 0 {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Unable to retrieve user information")
		return nil, nil
	}
	authID, ok := profile.AuthID()
	if !ok {
		ierr := &oauth.IntegrationError{Component: component, Reason: "GetDetails returned a profile without " + storage.FieldAuthID}
		log.Ctx(ctx).Error().Err(ierr).Str("login", login).Msg("login store returned malformed profile")
		return nil, ierr
	}
	return &Grant{UserID: authID, Scope: profile.Scope()}, nil
}

// clientCredentialsFromRequest extracts client credentials from HTTP Basic auth, or
// from the client_id and client_secret body parameters.
func clientCredentialsFromRequest(req oauth.Request) (clientID, secret string, ok bool) {
	if id, pw, basic := req.BasicAuth(); basic && id != "" {
		return id, pw, true
	}
	if id := req.Param("client_id"); id != "" {
		return id, req.Param("client_secret"), true
	}
	return "", "", false
}

// authenticateClient verifies the credentials carried by req. Public
// clients may omit the secret only when allowPublic is set.
func authenticateClient(ctx context.Context, store storage.ClientStore, req oauth.Request, allowPublic bool, sink oauth.ErrorSink) (string, error) {
	clientID, secret, ok := clientCredentialsFromRequest(req)
	if !ok {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidClient, "Client credentials were not found in the headers or body")
		return "", nil
	}
	if secret == "" {
		if !allowPublic {
			sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidClient, "client credentials are required")
			return "", nil
		}
		public, err := store.IsPublicClient(ctx, clientID)
		if err != nil {
			return "", oauth.Storage("is public client", err)
		}
		if !public {
			sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidClient, "The client credentials are invalid")
			return "", nil
		}
		return clientID, nil
	}
	valid, err := store.CheckClientCredentials(ctx, clientID, secret)
	if err != nil {
		return "", oauth.Storage("check client credentials", err)
	}
	if !valid {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidClient, "The client credentials are invalid")
		return "", nil
	}
	return clientID, nil
}
