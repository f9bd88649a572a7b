package issuer

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

// AuthorizeParams are the validated parameters of an implicit grant.
type AuthorizeParams struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
}

// Redirect is the implicit-flow response. Token fields travel in the URL
// fragment only.
type Redirect struct {
	URI      string
	Fragment url.Values
}

func (r *Redirect) String() string {
	base := r.URI
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	return base + "#" + r.Fragment.Encode()
}

// AuthorizeResponse mints an access token for the implicit flow. No refresh
// token is ever issued here, whatever the configuration says.
func (i *Issuer) AuthorizeResponse(ctx context.Context, p AuthorizeParams, authID string) (*Redirect, error) {
	t, err := i.CreateAccessToken(ctx, p.ClientID, authID, p.Scope, false)
	if err != nil {
		return nil, err
	}
	frag := url.Values{}
	frag.Set("access_token", t.AccessToken)
	frag.Set("token_type", t.TokenType)
	if t.ExpiresIn != nil {
		frag.Set("expires_in", strconv.FormatInt(*t.ExpiresIn, 10))
	}
	if t.Scope != nil {
		frag.Set("scope", *t.Scope)
	}
	if p.State != "" {
		frag.Set("state", p.State)
	}
	return &Redirect{URI: p.RedirectURI, Fragment: frag}, nil
}
