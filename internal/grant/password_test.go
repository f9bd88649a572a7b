package grant

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/oauth2core/internal/oauth"
)

func TestPasswordGrant(t *testing.T) {
	f := newFixture(t)
	c := f.controller(f.allGrants()...)

	_, e := grantToken(t, c, oauth.Params{"grant_type": "password", "username": "13800000000"})
	requireError(t, e, http.StatusBadRequest, oauth.ErrorInvalidRequest)

	_, e = grantToken(t, c, oauth.Params{"grant_type": "password", "username": "13800000000", "password": "nope"})
	requireError(t, e, http.StatusUnauthorized, oauth.ErrorInvalidGrant)
	require.Equal(t, "Invalid username and password combination", e.Description)

	_, e = grantToken(t, c, oauth.Params{"grant_type": "password", "username": "ghost", "password": "pw"})
	requireError(t, e, http.StatusUnauthorized, oauth.ErrorInvalidGrant)

	tok, e := grantToken(t, c, oauth.BasicParams{
		Params:   oauth.Params{"grant_type": "password", "username": "13800000000", "password": "pw"},
		Username: "client1",
		Password: "s3cret",
	})
	require.Nil(t, e)
	require.Equal(t, f.authID, tok.AuthID)
	require.NotEmpty(t, tok.RefreshToken)
}

func TestPasswordGrantRejectsBadClientSecret(t *testing.T) {
	f := newFixture(t)
	_, e := grantToken(t, f.controller(f.allGrants()...), oauth.Params{
		"grant_type": "password", "username": "13800000000", "password": "pw",
		"client_id": "client1", "client_secret": "wrong",
	})
	requireError(t, e, http.StatusBadRequest, oauth.ErrorInvalidClient)
}
