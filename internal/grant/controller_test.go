package grant

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/scope"
	"github.com/example/oauth2core/internal/storage"
)

func TestControllerGrantTypeDispatch(t *testing.T) {
	f := newFixture(t)
	c := f.controller(f.allGrants()...)

	require.Equal(t, []string{"authorization_code", "captcha", "client_credentials", "password", "refresh_token", JWTBearerGrantType}, c.GrantTypes())

	_, e := grantToken(t, c, oauth.Params{})
	requireError(t, e, http.StatusBadRequest, oauth.ErrorInvalidRequest)
	require.Equal(t, "The grant type was not specified in the request", e.Description)

	_, e = grantToken(t, c, oauth.Params{"grant_type": "implicit"})
	requireError(t, e, http.StatusBadRequest, oauth.ErrorUnsupportedGrantType)
}

func TestControllerRestrictedGrantType(t *testing.T) {
	f := newFixture(t)
	c := f.controller(f.allGrants()...)

	_, e := grantToken(t, c, oauth.BasicParams{
		Params:   oauth.Params{"grant_type": "password", "username": "13800000000", "password": "pw"},
		Username: "restricted",
		Password: "s3cret",
	})
	requireError(t, e, http.StatusBadRequest, oauth.ErrorUnauthorizedClient)

	tok, e := grantToken(t, c, oauth.BasicParams{
		Params:   oauth.Params{"grant_type": "client_credentials"},
		Username: "restricted",
		Password: "s3cret",
	})
	require.Nil(t, e)
	require.Equal(t, "basic", *tok.Scope)
}

func TestControllerRequestedScopeMustExist(t *testing.T) {
	f := newFixture(t)
	c := f.controller(NewUserLogin(f.store))
	ctx := context.Background()
	_, err := f.store.SetPrincipal(ctx, storage.Principal{Login: "no-scope"}, "pw")
	require.NoError(t, err)

	_, e := grantToken(t, c, oauth.Params{"grant_type": "captcha", "captcha": "1", "username": "no-scope", "scope": "read admin"})
	requireError(t, e, http.StatusBadRequest, oauth.ErrorInvalidScope)
	require.Equal(t, "An unsupported scope was requested", e.Description)

	tok, e := grantToken(t, c, oauth.Params{"grant_type": "captcha", "captcha": "1", "username": "no-scope", "scope": "read write"})
	require.Nil(t, e)
	require.Equal(t, "read write", *tok.Scope)
}

type downClients struct{ storage.ClientStore }

func (downClients) CheckClientCredentials(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestControllerStorageFailureIsNotARequestError(t *testing.T) {
	f := newFixture(t)
	c := NewController(f.issuer, downClients{}, scope.NewValidator(f.store), NewPassword(f.store))

	var resp oauth.Response
	tok, err := c.GrantAccessToken(context.Background(), oauth.Params{
		"grant_type": "password", "username": "13800000000", "password": "pw",
		"client_id": "client1", "client_secret": "s3cret",
	}, &resp)
	require.Nil(t, tok)
	var se *oauth.StorageError
	require.ErrorAs(t, err, &se)
	require.Nil(t, resp.Err())
}
