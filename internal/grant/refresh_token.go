package grant

import (
	"context"
	"net/http"
	"time"

	"github.com/example/oauth2core/internal/issuer"
	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

// RefreshOptions control refresh token rotation.
type RefreshOptions struct {
	// AlwaysIssueNewRefreshToken mints a new refresh token with every
	// redemption.
	AlwaysIssueNewRefreshToken bool
	// UnsetRefreshTokenAfterUse deletes the redeemed refresh token.
	UnsetRefreshTokenAfterUse bool
}

func DefaultRefreshOptions() RefreshOptions {
	return RefreshOptions{UnsetRefreshTokenAfterUse: true}
}

type RefreshToken struct {
	store storage.RefreshTokenStore
	opts  RefreshOptions
	now   func() time.Time
}

func NewRefreshToken(store storage.RefreshTokenStore, opts RefreshOptions) *RefreshToken {
	return &RefreshToken{store: store, opts: opts, now: time.Now}
}

func (r *RefreshToken) Identifier() string { return "refresh_token" }

func (r *RefreshToken) ValidateRequest(ctx context.Context, req oauth.Request, sink oauth.ErrorSink) (*Grant, error) {
	token := req.Param("refresh_token")
	if token == "" {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidRequest, `Missing parameter: "refresh_token" is required`)
		return nil, nil
	}

	stored, err := r.store.GetRefreshToken(ctx, token)
	if err != nil {
		return nil, oauth.Storage("get refresh token", err)
	}
	if stored == nil {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Invalid refresh token")
		return nil, nil
	}
	if stored.Expires != nil && *stored.Expires < r.now().Unix() {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Refresh token has expired")
		return nil, nil
	}

	return &Grant{
		ClientID:     stored.ClientID,
		UserID:       stored.AuthID,
		Scope:        stored.Scope,
		RefreshToken: stored.Token,
	}, nil
}

// Redeem deletes the refresh token when it is single-use. Of two concurrent
// redemptions only the one that deletes the row goes on to mint.
func (r *RefreshToken) Redeem(ctx context.Context, g *Grant, sink oauth.ErrorSink) (bool, error) {
	if !r.opts.UnsetRefreshTokenAfterUse {
		return true, nil
	}
	consumed, err := r.store.ConsumeRefreshToken(ctx, g.RefreshToken)
	if err != nil {
		return false, oauth.Storage("consume refresh token", err)
	}
	if consumed == nil {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, "Invalid refresh token")
		return false, nil
	}
	return true, nil
}

func (r *RefreshToken) CreateAccessToken(ctx context.Context, creator TokenCreator, g *Grant) (*issuer.Token, error) {
	return creator.CreateAccessToken(ctx, g.ClientID, g.UserID, g.Scope, r.opts.AlwaysIssueNewRefreshToken)
}
