package grant

import (
	"context"
	"net/http"

	"github.com/example/oauth2core/internal/issuer"
	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

// Password is the resource owner password credentials grant.
type Password struct {
	store storage.LoginStore
}

func NewPassword(store storage.LoginStore) *Password {
	return &Password{store: store}
}

func (p *Password) Identifier() string { return "password" }

func (p *Password) ValidateRequest(ctx context.Context, req oauth.Request, sink oauth.ErrorSink) (*Grant, error) {
	login, password := req.Param("username"), req.Param("password")
	if login == "" || password == "" {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidRequest, `Missing parameters: "username" and "password" required`)
		return nil, nil
	}

	ok, err := p.store.CheckCredentials(ctx, login, password)
	if err != nil {
		return nil, oauth.Storage("check credentials", err)
	}
	if !ok {
		sink.SetError(http.StatusUnauthorized, oauth.ErrorInvalidGrant, "Invalid username and password combination")
		return nil, nil
	}

	return grantFromProfile(ctx, p.store, login, "LoginStore", sink)
}

func (p *Password) CreateAccessToken(ctx context.Context, creator TokenCreator, g *Grant) (*issuer.Token, error) {
	return creator.CreateAccessToken(ctx, g.ClientID, g.UserID, g.Scope, true)
}
