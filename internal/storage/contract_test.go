package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func ptr(v int64) *int64 { return &v }

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("clients", func(t *testing.T) {
		hash, err := HashSecret("s3cret", bcrypt.MinCost)
		require.NoError(t, err)
		require.NoError(t, s.SetClientDetails(ctx, Client{ID: "confidential", SecretHash: hash, Scope: "read write", GrantTypes: []string{"password", "refresh_token"}, UserID: "owner"}))
		require.NoError(t, s.SetClientDetails(ctx, Client{ID: "public", RedirectURI: "https://app.example/cb"}))

		c, err := s.GetClientDetails(ctx, "confidential")
		require.NoError(t, err)
		require.NotNil(t, c)
		require.Equal(t, []string{"password", "refresh_token"}, c.GrantTypes)
		require.Equal(t, "owner", c.UserID)

		missing, err := s.GetClientDetails(ctx, "nope")
		require.NoError(t, err)
		require.Nil(t, missing)

		ok, err := s.CheckClientCredentials(ctx, "confidential", "s3cret")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.CheckClientCredentials(ctx, "confidential", "wrong")
		require.NoError(t, err)
		require.False(t, ok)
		ok, err = s.CheckClientCredentials(ctx, "nope", "s3cret")
		require.NoError(t, err)
		require.False(t, ok)
		ok, err = s.CheckClientCredentials(ctx, "public", "")
		require.NoError(t, err)
		require.True(t, ok)

		public, err := s.IsPublicClient(ctx, "public")
		require.NoError(t, err)
		require.True(t, public)
		public, err = s.IsPublicClient(ctx, "confidential")
		require.NoError(t, err)
		require.False(t, public)

		allowed, err := s.CheckRestrictedGrantType(ctx, "confidential", "client_credentials")
		require.NoError(t, err)
		require.False(t, allowed)
		allowed, err = s.CheckRestrictedGrantType(ctx, "confidential", "password")
		require.NoError(t, err)
		require.True(t, allowed)
		allowed, err = s.CheckRestrictedGrantType(ctx, "public", "anything")
		require.NoError(t, err)
		require.True(t, allowed)

		scope, err := s.GetClientScope(ctx, "confidential")
		require.NoError(t, err)
		require.Equal(t, "read write", scope)
	})

	t.Run("access tokens", func(t *testing.T) {
		require.NoError(t, s.SetAccessToken(ctx, AccessToken{Token: "at-1", ClientID: "c1", AuthID: "7", Expires: ptr(1900000000), Scope: "read"}))
		require.NoError(t, s.SetAccessToken(ctx, AccessToken{Token: "at-2", ClientID: "c1"}))

		got, err := s.GetAccessToken(ctx, "at-1")
		require.NoError(t, err)
		require.Equal(t, &AccessToken{Token: "at-1", ClientID: "c1", AuthID: "7", Expires: ptr(1900000000), Scope: "read"}, got)

		never, err := s.GetAccessToken(ctx, "at-2")
		require.NoError(t, err)
		require.Nil(t, never.Expires)

		require.NoError(t, s.SetAccessToken(ctx, AccessToken{Token: "at-1", ClientID: "c2", Scope: "write"}))
		got, err = s.GetAccessToken(ctx, "at-1")
		require.NoError(t, err)
		require.Equal(t, "c2", got.ClientID)
		require.Equal(t, "write", got.Scope)
	})

	t.Run("refresh tokens", func(t *testing.T) {
		rt := RefreshToken{Token: "rt-1", ClientID: "c1", AuthID: "7", Expires: ptr(1900000000), Scope: "read"}
		require.NoError(t, s.SetRefreshToken(ctx, rt))
		require.Error(t, s.SetRefreshToken(ctx, rt))

		got, err := s.GetRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		require.Equal(t, &rt, got)

		require.NoError(t, s.UnsetRefreshToken(ctx, "rt-1"))
		got, err = s.GetRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		require.Nil(t, got)
		require.NoError(t, s.UnsetRefreshToken(ctx, "rt-1"))

		require.NoError(t, s.SetRefreshToken(ctx, rt))
		consumed, err := s.ConsumeRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		require.Equal(t, &rt, consumed)
		again, err := s.ConsumeRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		require.Nil(t, again)
	})

	t.Run("concurrent refresh token consumption", func(t *testing.T) {
		require.NoError(t, s.SetRefreshToken(ctx, RefreshToken{Token: "rt-race", ClientID: "c1"}))
		var winners int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rt, err := s.ConsumeRefreshToken(ctx, "rt-race")
				if err == nil && rt != nil {
					atomic.AddInt32(&winners, 1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, winners)
	})

	t.Run("authorization codes", func(t *testing.T) {
		code := AuthorizationCode{Code: "code-1", ClientID: "c1", UserID: "7", RedirectURI: "https://app.example/cb", Expires: ptr(1900000000), Scope: "openid", IDToken: "header.payload.sig"}
		require.NoError(t, s.SetAuthorizationCode(ctx, code))

		got, err := s.GetAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		require.Equal(t, &code, got)

		consumed, err := s.ConsumeAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		require.Equal(t, &code, consumed)
		again, err := s.ConsumeAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		require.Nil(t, again)

		require.NoError(t, s.SetAuthorizationCode(ctx, AuthorizationCode{Code: "code-2", ClientID: "c1"}))
		require.NoError(t, s.ExpireAuthorizationCode(ctx, "code-2"))
		got, err = s.GetAuthorizationCode(ctx, "code-2")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("concurrent code consumption", func(t *testing.T) {
		require.NoError(t, s.SetAuthorizationCode(ctx, AuthorizationCode{Code: "race", ClientID: "c1"}))
		var winners int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c, err := s.ConsumeAuthorizationCode(ctx, "race")
				if err == nil && c != nil {
					atomic.AddInt32(&winners, 1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, winners)
	})

	t.Run("principals", func(t *testing.T) {
		id, err := s.SetPrincipal(ctx, Principal{Login: "13800000000", UserID: "u-1", Scope: "basic", Claims: map[string]any{"name": "Ada", "email": "ada@example.com"}}, "pw")
		require.NoError(t, err)
		require.NotEmpty(t, id)

		exists, err := s.CheckLogin(ctx, "13800000000")
		require.NoError(t, err)
		require.True(t, exists)
		exists, err = s.CheckLogin(ctx, "unknown")
		require.NoError(t, err)
		require.False(t, exists)

		profile, err := s.GetDetails(ctx, "13800000000")
		require.NoError(t, err)
		authID, ok := profile.AuthID()
		require.True(t, ok)
		require.Equal(t, id, authID)
		require.Equal(t, "basic", profile.Scope())
		require.Equal(t, "u-1", profile[FieldUserID])
		require.Equal(t, "Ada", profile["name"])
		for _, v := range profile {
			require.NotEqual(t, "pw", v)
		}

		none, err := s.GetDetails(ctx, "unknown")
		require.NoError(t, err)
		require.Nil(t, none)

		ok, err = s.CheckCredentials(ctx, "13800000000", "pw")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.CheckCredentials(ctx, "13800000000", "bad")
		require.NoError(t, err)
		require.False(t, ok)
		ok, err = s.CheckCredentials(ctx, "unknown", "pw")
		require.NoError(t, err)
		require.False(t, ok)

		check, err := s.CheckSecondarySecret(ctx, "13800000000", "123456")
		require.NoError(t, err)
		require.Equal(t, SecretNotConfigured, check)
		require.NoError(t, s.SetSecondarySecret(ctx, "13800000000", "123456"))
		check, err = s.CheckSecondarySecret(ctx, "13800000000", "123456")
		require.NoError(t, err)
		require.Equal(t, SecretMatch, check)
		check, err = s.CheckSecondarySecret(ctx, "13800000000", "654321")
		require.NoError(t, err)
		require.Equal(t, SecretMismatch, check)
		require.ErrorIs(t, s.SetSecondarySecret(ctx, "unknown", "x"), ErrNotFound)

		again, err := s.SetPrincipal(ctx, Principal{Login: "13800000000", UserID: "u-1"}, "pw2")
		require.NoError(t, err)
		require.Equal(t, id, again)
		ok, err = s.CheckCredentials(ctx, "13800000000", "pw2")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("user claims", func(t *testing.T) {
		id, err := s.SetPrincipal(ctx, Principal{Login: "claims-user", Claims: map[string]any{
			"email":   "c@example.com",
			"address": map[string]any{"locality": "Springfield"},
		}}, "pw")
		require.NoError(t, err)

		claims, err := s.GetUserClaims(ctx, id, "email address")
		require.NoError(t, err)
		require.Equal(t, "c@example.com", claims["email"])
		require.Contains(t, claims, "email_verified")
		require.Nil(t, claims["email_verified"])
		addr, ok := claims["address"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "Springfield", addr["locality"])
		require.NotContains(t, claims, "name")

		missing, err := s.GetUserClaims(ctx, "999999", "email")
		require.NoError(t, err)
		require.Nil(t, missing)
	})

	t.Run("scopes", func(t *testing.T) {
		require.NoError(t, s.SetScope(ctx, Scope{Name: "read", IsDefault: true}))
		require.NoError(t, s.SetScope(ctx, Scope{Name: "write"}))
		require.NoError(t, s.SetScope(ctx, Scope{Name: "basic", IsDefault: true}))

		for scope, want := range map[string]bool{
			"read":           true,
			"read write":     true,
			"read read":      true,
			"read admin":     false,
			"":               false,
			"basic write  ":  true,
			"nothing at all": false,
		} {
			got, err := s.ScopeExists(ctx, scope)
			require.NoError(t, err)
			require.Equal(t, want, got, scope)
		}

		def, err := s.GetDefaultScope(ctx, "")
		require.NoError(t, err)
		require.Equal(t, "basic read", def)

		require.NoError(t, s.SetScope(ctx, Scope{Name: "basic"}))
		def, err = s.GetDefaultScope(ctx, "")
		require.NoError(t, err)
		require.Equal(t, "read", def)
	})

	t.Run("client keys", func(t *testing.T) {
		require.NoError(t, s.SetClientKey(ctx, "issuer-1", "sub-1", "PEM-1"))
		key, err := s.GetClientKey(ctx, "issuer-1", "sub-1")
		require.NoError(t, err)
		require.Equal(t, "PEM-1", key)

		require.NoError(t, s.SetClientKey(ctx, "issuer-1", "sub-1", "PEM-2"))
		key, err = s.GetClientKey(ctx, "issuer-1", "sub-1")
		require.NoError(t, err)
		require.Equal(t, "PEM-2", key)

		key, err = s.GetClientKey(ctx, "issuer-1", "other")
		require.NoError(t, err)
		require.Empty(t, key)
	})

	t.Run("jti", func(t *testing.T) {
		r := JtiRecord{Issuer: "issuer-1", Subject: "sub-1", Audience: "https://as.example/token", Expires: 1900000000, JTI: "j-1"}
		got, err := s.GetJti(ctx, r)
		require.NoError(t, err)
		require.Nil(t, got)

		require.NoError(t, s.SetJti(ctx, r))
		got, err = s.GetJti(ctx, r)
		require.NoError(t, err)
		require.Equal(t, &r, got)

		fresh, err := s.RegisterJti(ctx, r)
		require.NoError(t, err)
		require.False(t, fresh)

		other := r
		other.JTI = "j-2"
		fresh, err = s.RegisterJti(ctx, other)
		require.NoError(t, err)
		require.True(t, fresh)
	})

	t.Run("concurrent jti registration", func(t *testing.T) {
		r := JtiRecord{Issuer: "issuer-1", Subject: "sub-1", Expires: 1900000000, JTI: "contended"}
		var winners int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fresh, err := s.RegisterJti(ctx, r)
				if err == nil && fresh {
					atomic.AddInt32(&winners, 1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, winners)
	})

	t.Run("key pairs", func(t *testing.T) {
		alg, err := s.GetEncryptionAlgorithm(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, DefaultEncryptionAlgorithm, alg)

		require.NoError(t, s.SetKeyPair(ctx, KeyPair{PublicKey: "global-pub", PrivateKey: "global-priv"}))
		require.NoError(t, s.SetKeyPair(ctx, KeyPair{ClientID: "c1", PublicKey: "c1-pub", PrivateKey: "c1-priv", EncryptionAlgorithm: "ES256"}))

		pub, err := s.GetPublicKey(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, "c1-pub", pub)
		priv, err := s.GetPrivateKey(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, "c1-priv", priv)
		alg, err = s.GetEncryptionAlgorithm(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, "ES256", alg)

		pub, err = s.GetPublicKey(ctx, "c2")
		require.NoError(t, err)
		require.Equal(t, "global-pub", pub)
		alg, err = s.GetEncryptionAlgorithm(ctx, "c2")
		require.NoError(t, err)
		require.Equal(t, "RS256", alg)

		require.NoError(t, s.SetKeyPair(ctx, KeyPair{PublicKey: "global-pub-2", PrivateKey: "global-priv-2"}))
		priv, err = s.GetPrivateKey(ctx, "")
		require.NoError(t, err)
		require.Equal(t, "global-priv-2", priv)
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, s.Ping(ctx))
	})
}
