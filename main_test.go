package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	cfg "github.com/example/oauth2core/internal/config"
	"github.com/example/oauth2core/internal/httpapi"
	"github.com/example/oauth2core/internal/storage"
)

func testConfig(adapter, sqliteFile string) *cfg.Config {
	return &cfg.Config{
		DBAdapter:                 adapter,
		SQLiteFile:                sqliteFile,
		TokenType:                 "bearer",
		AccessLifetime:            3600,
		RefreshTokenLifetime:      1209600,
		UnsetRefreshTokenAfterUse: true,
		Issuer:                    "http://localhost:8080",
		JWTBearerAudience:         "http://localhost:8080/token",
		IDTokenLifetime:           3600,
	}
}

func TestWiringEndToEnd(t *testing.T) {
	for _, adapter := range []string{"memory", "sqlite"} {
		t.Run(adapter, func(t *testing.T) {
			ctx := context.Background()
			c := testConfig(adapter, filepath.Join(t.TempDir(), "oauth.db"))

			store, err := openStore(ctx, c)
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })

			require.NoError(t, store.SetScope(ctx, storage.Scope{Name: "basic", IsDefault: true}))
			_, err = store.SetPrincipal(ctx, storage.Principal{Login: "13800000000", Scope: "basic"}, "pw")
			require.NoError(t, err)

			controller, err := newController(c, store)
			require.NoError(t, err)
			require.Equal(t, []string{
				"authorization_code", "captcha", "client_credentials", "password",
				"refresh_token", "urn:ietf:params:oauth:grant-type:jwt-bearer",
			}, controller.GrantTypes())

			ts := httptest.NewServer(httpapi.New(controller, store).Handler())
			t.Cleanup(ts.Close)

			form := url.Values{"grant_type": {"password"}, "username": {"13800000000"}, "password": {"pw"}}
			resp, err := http.Post(ts.URL+"/token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var tok map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
			require.Equal(t, "basic", tok["scope"])

			// the refresh token redeems once
			refresh := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tok["refresh_token"].(string)}}
			for i, want := range []int{http.StatusOK, http.StatusBadRequest} {
				r, err := http.Post(ts.URL+"/token", "application/x-www-form-urlencoded", strings.NewReader(refresh.Encode()))
				require.NoError(t, err)
				r.Body.Close()
				require.Equal(t, want, r.StatusCode, "attempt %d", i)
			}
		})
	}
}
