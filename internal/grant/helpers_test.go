package grant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/oauth2core/internal/issuer"
	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/scope"
	"github.com/example/oauth2core/internal/storage"
	"github.com/example/oauth2core/internal/tokengen"
)

const testAudience = "https://as.example/token"

type fixture struct {
	store  *storage.MemoryStore
	issuer *issuer.Issuer
	authID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore(storage.WithHashCost(bcrypt.MinCost))

	secret, err := storage.HashSecret("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.SetClientDetails(ctx, storage.Client{ID: "client1", SecretHash: secret, Scope: "read write", UserID: "service-user"}))
	require.NoError(t, store.SetClientDetails(ctx, storage.Client{ID: "spa", RedirectURI: "https://spa.example/cb"}))
	require.NoError(t, store.SetClientDetails(ctx, storage.Client{ID: "restricted", SecretHash: secret, GrantTypes: []string{"client_credentials"}}))

	for _, s := range []storage.Scope{{Name: "basic", IsDefault: true}, {Name: "read"}, {Name: "write"}, {Name: "openid"}, {Name: "email"}} {
		require.NoError(t, store.SetScope(ctx, s))
	}

	authID, err := store.SetPrincipal(ctx, storage.Principal{Login: "13800000000", Scope: "read", Claims: map[string]any{"email": "ada@example.com"}}, "pw")
	require.NoError(t, err)

	gen, err := tokengen.New()
	require.NoError(t, err)
	return &fixture{
		store:  store,
		issuer: issuer.New(issuer.DefaultConfig(), gen, store, store),
		authID: authID,
	}
}

func (f *fixture) controller(strategies ...Strategy) *Controller {
	return NewController(f.issuer, f.store, scope.NewValidator(f.store), strategies...)
}

func (f *fixture) allGrants() []Strategy {
	return []Strategy{
		NewUserLogin(f.store),
		NewPassword(f.store),
		NewClientCredentials(f.store),
		NewAuthorizationCode(f.store),
		NewRefreshToken(f.store, DefaultRefreshOptions()),
		NewJWTBearer(f.store, testAudience),
	}
}

func grantToken(t *testing.T, c *Controller, req oauth.Request) (*issuer.Token, *oauth.Error) {
	t.Helper()
	var resp oauth.Response
	tok, err := c.GrantAccessToken(context.Background(), req, &resp)
	require.NoError(t, err)
	if tok == nil {
		require.NotNil(t, resp.Err(), "rejected request must populate the sink")
	}
	return tok, resp.Err()
}

func requireError(t *testing.T, got *oauth.Error, status int, code string) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, status, got.Status)
	require.Equal(t, code, got.Code)
}

func future(d time.Duration) *int64 {
	v := time.Now().Add(d).Unix()
	return &v
}
