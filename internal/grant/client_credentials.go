package grant

import (
	"context"

	"github.com/example/oauth2core/internal/issuer"
	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

// ClientCredentials issues tokens to confidential clients acting on their
// own behalf.
type ClientCredentials struct {
	store storage.ClientStore
}

func NewClientCredentials(store storage.ClientStore) *ClientCredentials {
	return &ClientCredentials{store: store}
}

func (c *ClientCredentials) Identifier() string { return "client_credentials" }

func (c *ClientCredentials) AuthenticatesClient() bool { return true }

func (c *ClientCredentials) ValidateRequest(ctx context.Context, req oauth.Request, sink oauth.ErrorSink) (*Grant, error) {
	clientID, err := authenticateClient(ctx, c.store, req, false, sink)
	if err != nil || clientID == "" {
		return nil, err
	}
	client, err := c.store.GetClientDetails(ctx, clientID)
	if err != nil {
		return nil, oauth.Storage("get client details", err)
	}
	if client == nil {
		return nil, &oauth.IntegrationError{Component: "ClientStore", Reason: "authenticated client " + clientID + " has no details"}
	}
	return &Grant{ClientID: clientID, UserID: client.UserID, Scope: client.Scope}, nil
}

// CreateAccessToken never includes a refresh token: the client can always
// authenticate again.
func (c *ClientCredentials) CreateAccessToken(ctx context.Context, creator TokenCreator, g *Grant) (*issuer.Token, error) {
	return creator.CreateAccessToken(ctx, g.ClientID, g.UserID, g.Scope, false)
}
