package grant

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/example/oauth2core/internal/issuer"
	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/scope"
	"github.com/example/oauth2core/internal/storage"
)

// Controller is the token endpoint core: it picks the strategy named by
// grant_type, authenticates the client, resolves the scope and mints.
type Controller struct {
	strategies map[string]Strategy
	clients    storage.ClientStore
	scopes     *scope.Validator
	creator    TokenCreator
}

func NewController(creator TokenCreator, clients storage.ClientStore, scopes *scope.Validator, strategies ...Strategy) *Controller {
	c := &Controller{
		strategies: make(map[string]Strategy, len(strategies)),
		clients:    clients,
		scopes:     scopes,
		creator:    creator,
	}
	for _, s := range strategies {
		c.strategies[s.Identifier()] = s
	}
	return c
}

// GrantTypes lists the registered grant_type values.
func (c *Controller) GrantTypes() []string {
	out := make([]string, 0, len(c.strategies))
	for id := range c.strategies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GrantAccessToken handles one token request. A nil token with a nil error
// means the request was rejected and sink holds the reason.
func (c *Controller) GrantAccessToken(ctx context.Context, req oauth.Request, sink oauth.ErrorSink) (*issuer.Token, error) {
	grantType := req.Param("grant_type")
	if grantType == "" {
		sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidRequest, "The grant type was not specified in the request")
		return nil, nil
	}
	strategy, ok := c.strategies[grantType]
	if !ok {
		sink.SetError(http.StatusBadRequest, oauth.ErrorUnsupportedGrantType, fmt.Sprintf("Grant type %q not supported", grantType))
		return nil, nil
	}

	g, err := strategy.ValidateRequest(ctx, req, sink)
	if err != nil || g == nil {
		return nil, err
	}

	if !authenticatesClient(strategy) {
		if _, _, supplied := clientCredentialsFromRequest(req); supplied || g.ClientID != "" {
			clientID, err := authenticateClient(ctx, c.clients, req, true, sink)
			if err != nil || clientID == "" {
				return nil, err
			}
			if g.ClientID != "" && g.ClientID != clientID {
				sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidGrant, fmt.Sprintf("%s was issued to another client", grantType))
				return nil, nil
			}
			g.ClientID = clientID
		}
	}

	if g.ClientID != "" {
		allowed, err := c.clients.CheckRestrictedGrantType(ctx, g.ClientID, grantType)
		if err != nil {
			return nil, oauth.Storage("check restricted grant type", err)
		}
		if !allowed {
			sink.SetError(http.StatusBadRequest, oauth.ErrorUnauthorizedClient, "The grant type is unauthorized for this client_id")
			return nil, nil
		}
	}

	resolved, ok, err := c.scopes.Resolve(ctx, c.scopes.ScopeFromRequest(req), g.Scope, g.ClientID, sink)
	if err != nil || !ok {
		return nil, err
	}
	g.Scope = resolved

	if r, ok := strategy.(Redeemer); ok {
		redeemed, err := r.Redeem(ctx, g, sink)
		if err != nil || !redeemed {
			return nil, err
		}
	}

	return strategy.CreateAccessToken(ctx, c.creator, g)
}

func authenticatesClient(s Strategy) bool {
	a, ok := s.(ClientAuthenticator)
	return ok && a.AuthenticatesClient()
}
