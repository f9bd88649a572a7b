// Package scope implements scope membership checks and default-scope
// resolution for the token endpoint.
package scope

import (
	"context"
	"net/http"
	"strings"

	"github.com/example/oauth2core/internal/oauth"
	"github.com/example/oauth2core/internal/storage"
)

// Validator resolves scopes against a ScopeStore.
type Validator struct {
	store storage.ScopeStore
}

func NewValidator(store storage.ScopeStore) *Validator {
	return &Validator{store: store}
}

// CheckScope reports whether every token of required is present in available.
func CheckScope(required, available string) bool {
	have := strings.Fields(available)
	for _, r := range strings.Fields(required) {
		found := false
		for _, a := range have {
			if a == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (v *Validator) CheckScope(required, available string) bool {
	return CheckScope(required, available)
}

func (v *Validator) ScopeExists(ctx context.Context, scope string) (bool, error) {
	ok, err := v.store.ScopeExists(ctx, scope)
	return ok, oauth.Storage("scope exists", err)
}

// GetDefaultScope returns the default scope, or "" when none is configured.
func (v *Validator) GetDefaultScope(ctx context.Context, clientID string) (string, error) {
	s, err := v.store.GetDefaultScope(ctx, clientID)
	return s, oauth.Storage("default scope", err)
}

// ScopeFromRequest returns the scope parameter of req.
func (v *Validator) ScopeFromRequest(req oauth.Request) string {
	return req.Param("scope")
}

// Resolve picks the scope of a token request.
//
// A requested scope must lie within available when the grant restricts it,
// and must otherwise be registered. Without a request the grant's scope is
// used, then the configured default. ok is false when the sink was set.
func (v *Validator) Resolve(ctx context.Context, requested, available, clientID string, sink oauth.ErrorSink) (scope string, ok bool, err error) {
	requested = strings.TrimSpace(requested)
	available = strings.TrimSpace(available)

	switch {
	case requested != "" && available != "":
		if !CheckScope(requested, available) {
			sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidScope, "The scope requested is invalid for this request")
			return "", false, nil
		}
		return requested, true, nil
	case requested != "":
		exists, err := v.ScopeExists(ctx, requested)
		if err != nil {
			return "", false, err
		}
		if !exists {
			sink.SetError(http.StatusBadRequest, oauth.ErrorInvalidScope, "An unsupported scope was requested")
			return "", false, nil
		}
		return requested, true, nil
	case available != "":
		return available, true, nil
	default:
		def, err := v.GetDefaultScope(ctx, clientID)
		if err != nil {
			return "", false, err
		}
		return def, true, nil
	}
}
