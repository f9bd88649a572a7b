package grant

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

func codeRequest(code string) oauth.Params {
	return oauth.Params{
		"grant_type":    "authorization_code",
		"code":          code,
		"redirect_uri":  "https://app.example/cb",
		"client_id":     "client1",
		"client_secret": "s3cret",
	}
}

func (f *fixture) setCode(t *testing.T, c storage.AuthorizationCode) {
	t.Helper()
	if c.ClientID == "" {
		c.ClientID = "client1"
	}
	if c.RedirectURI == "" {
		c.RedirectURI = "https://app.example/cb"
	}
	require.NoError(t, f.store.SetAuthorizationCode(context.Background(), c))
}

func TestAuthorizationCodeRedeemsOnce(t *testing.T) {
	f := newFixture(t)
	c := f.controller(f.allGrants()...)
	f.setCode(t, storage.AuthorizationCode{Code: "abc", UserID: f.authID, Expires: future(time.Minute), Scope: "openid read", IDToken: "stored.id.token"})

	tok, e := grantToken(t, c, codeRequest("abc"))
	require.Nil(t, e)
	require.Equal(t, f.authID, tok.AuthID)
	require.Equal(t, "openid read", *tok.Scope)
	require.Equal(t, "stored.id.token", tok.IDToken)
	require.NotEmpty(t, tok.RefreshToken)

	_, e = grantToken(t, c, codeRequest("abc"))
	requireError(t, e, http.StatusBadRequest, oauth.ErrorInvalidGrant)
	require.Equal(t, "Authorization code doesn't exist or is invalid for the client", e.Description)
}

func TestAuthorizationCodeConcurrentRedemption(t *testing.T) {
	f := newFixture(t)
	c := f.controller(f.allGrants()...)
	f.setCode(t, storage.AuthorizationCode{Code: "race", UserID: f.authID})

	var issued int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var resp oauth.Response
			tok, err := c.GrantAccessToken(context.Background(), codeRequest("race"), &resp)
			if err == nil && tok != nil {
				atomic.AddInt32(&issued, 1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, issued)
}

func TestAuthorizationCodeChecks(t *testing.T) {
	f := newFixture(t)
	c := f.controller(f.allGrants()...)
	past := time.Now().Add(-time.Minute).Unix()

	f.setCode(t, storage.AuthorizationCode{Code: "expired", Expires: &past})
	_, e := grantToken(t, c, codeRequest("expired"))
	requireError(t, e, http.StatusBadRequest, oauth.ErrorInvalidGrant)
	require.Equal(t, "The authorization code has expired", e.Description)

	f.setCode(t, storage.AuthorizationCode{Code: "elsewhere"})
	req := codeRequest("elsewhere")
	req["redirect_uri"] = "https://evil.example/cb"
	_, e = grantToken(t, c, req)
	requireError(t, e, http.StatusBadRequest, oauth.ErrorRedirectURIMismatch)

	f.setCode(t, storage.AuthorizationCode{Code: "for-spa", ClientID: "spa"})
	_, e = grantToken(t, c, codeRequest("for-spa"))
	requireError(t, e, http.StatusBadRequest, oauth.ErrorInvalidGrant)

	_, e = grantToken(t, c, oauth.Params{"grant_type": "authorization_code"})
	requireError(t, e, http.StatusBadRequest, oauth.ErrorInvalidRequest)

	f.setCode(t, storage.AuthorizationCode{Code: "anonymous"})
	req = codeRequest("anonymous")
	delete(req, "client_id")
	delete(req, "client_secret")
	_, e = grantToken(t, c, req)
	requireError(t, e, http.StatusBadRequest, oauth.ErrorInvalidClient)
}

func TestAuthorizationCodePublicClient(t *testing.T) {
	f := newFixture(t)
	c := f.controller(f.allGrants()...)
	f.setCode(t, storage.AuthorizationCode{Code: "pkce-less", ClientID: "spa", RedirectURI: "https://spa.example/cb", UserID: f.authID})

	tok, e := grantToken(t, c, oauth.Params{"grant_type": "authorization_code", "code": "pkce-less", "client_id": "spa", "redirect_uri": "https://spa.example/cb"})
	require.Nil(t, e)
	require.NotEmpty(t, tok.AccessToken)
}

type fakeSigner struct{ calls int32 }

func (s *fakeSigner) Sign(_ context.Context, clientID, userID, _, scope string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return "signed." + clientID + "." + userID, nil
}

func TestAuthorizationCodeSignsIDTokenForOpenID(t *testing.T) {
	f := newFixture(t)
	signer := &fakeSigner{}
	c := f.controller(NewAuthorizationCode(f.store, WithIDTokenSigner(signer)))

	f.setCode(t, storage.AuthorizationCode{Code: "oidc", UserID: f.authID, Scope: "openid email"})
	tok, e := grantToken(t, c, codeRequest("oidc"))
	require.Nil(t, e)
	require.Equal(t, "signed.client1."+f.authID, tok.IDToken)

	f.setCode(t, storage.AuthorizationCode{Code: "plain", UserID: f.authID, Scope: "read"})
	tok, e = grantToken(t, c, codeRequest("plain"))
	require.Nil(t, e)
	require.Empty(t, tok.IDToken)
	require.EqualValues(t, 1, signer.calls)
}
