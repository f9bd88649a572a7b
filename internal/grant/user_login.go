package grant

import (
	"context"
	"fmt"
	"net/http"

	"github.com/example/oauth2core/internal/issuer"
	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

// UserLogin grants a token to a principal identified by login (a mobile
// number) that has passed a captcha challenge.
type UserLogin struct {
	store    storage.LoginStore
	verifier CaptchaVerifier
}

type UserLoginOption func(*UserLogin)

// WithCaptchaVerifier plugs in real captcha verification.
func WithCaptchaVerifier(v CaptchaVerifier) UserLoginOption {
	return func(u *UserLogin) { u.verifier = v }
}

func NewUserLogin(store storage.LoginStore, opts ...UserLoginOption) *UserLogin {
	u := &UserLogin{store: store}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *UserLogin) Identifier() string { return "captcha" }

func (u *UserLogin) ValidateRequest(ctx context.Context, req oauth.Request, sink oauth.ErrorSink) (*Grant, error) {
	captcha, login := req.Param("captcha"), req.Param("username")
	if captcha == "" || login == "" {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidRequest, `Missing parameters: "username" and "captcha" required`)
		return nil, nil
	}

	exists, err := u.store.CheckLogin(ctx, login)
	if err != nil {
		return nil, oauth.Storage("check login", err)
	}
	if !exists {
		sink.SetError(http.StatusUnauthorized, oauth.ErrorInvalidGrant, "The user does not exist")
		return nil, nil
	}

	if u.verifier != nil {
		ok, err := u.verifier.VerifyCaptcha(ctx, login, captcha)
		if err != nil {
			return nil, fmt.Errorf("verify captcha: %w", err)
		}
		if !ok {
			sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Invalid captcha")
			return nil, nil
		}
	}

	return grantFromProfile(ctx, u.store, login, "LoginStore", sink)
}

func (u *UserLogin) CreateAccessToken(ctx context.Context, creator TokenCreator, g *Grant) (*issuer.Token, error) {
	return creator.CreateAccessToken(ctx, g.ClientID, g.UserID, g.Scope, true)
}
