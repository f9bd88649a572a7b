package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/example/oauth2core/internal/oauth"
)

// formRequest exposes a parsed form body to the strategies.
type formRequest struct {
	r *http.Request
}

func (f formRequest) Param(name string) string { return f.r.PostForm.Get(name) }

func (f formRequest) BasicAuth() (string, string, bool) { return f.r.BasicAuth() }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write json")
	}
}

func writeError(w http.ResponseWriter, e *oauth.Error) {
	writeJSON(w, e.Status, e)
}

// writeFailure logs err and answers with a bare server_error.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	ev := log.Ctx(r.Context()).Error().Err(err)
	var se *oauth.StorageError
	var ie *oauth.IntegrationError
	switch {
	case errors.As(err, &se):
		ev = ev.Str("kind", "storage").Str("op", se.Op)
	case errors.As(err, &ie):
		ev = ev.Str("kind", "integration").Str("component", ie.Component)
	}
	ev.Msg("request.failed")
	writeError(w, oauth.ServerError())
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	if err := r.ParseForm(); err != nil {
		s.metrics.observe(r.PostForm.Get("grant_type"), oauth.ErrorInvalidRequest, time.Since(start))
		writeError(w, &oauth.Error{Status: http.StatusBadRequest, Code: oauth.ErrorInvalidRequest, Description: "The request body could not be parsed"})
		return
	}
	grantType := r.PostForm.Get("grant_type")

	var resp oauth.Response
	tok, err := s.controller.GrantAccessToken(r.Context(), formRequest{r: r}, &resp)
	if err != nil {
		s.metrics.observe(grantType, oauth.ErrorServerError, time.Since(start))
		writeFailure(w, r, err)
		return
	}
	if tok == nil {
		e := resp.Err()
		s.metrics.observe(grantType, e.Code, time.Since(start))
		log.Ctx(r.Context()).Info().Str("grant_type", grantType).Str("error", e.Code).Msg("token.rejected")
		writeError(w, e)
		return
	}
	s.metrics.observe(grantType, "", time.Since(start))
	writeJSON(w, http.StatusOK, tok)
}

// bearerToken reads the access token from the Authorization header or the
// access_token form field.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	if r.Method == http.MethodPost {
		return r.PostFormValue("access_token")
	}
	return ""
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	unauthorized := func(desc string) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
		writeError(w, &oauth.Error{Status: http.StatusUnauthorized, Code: oauth.ErrorInvalidToken, Description: desc})
	}

	raw := bearerToken(r)
	if raw == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo"`)
		writeError(w, &oauth.Error{Status: http.StatusUnauthorized, Code: oauth.ErrorInvalidRequest, Description: "The access token was not found"})
		return
	}

	ctx := r.Context()
	at, err := s.backend.GetAccessToken(ctx, raw)
	if err != nil {
		writeFailure(w, r, oauth.Storage("get access token", err))
		return
	}
	if at == nil {
		unauthorized("The access token provided is invalid")
		return
	}
	if at.Expires != nil && time.Now().Unix() > *at.Expires {
		unauthorized("The access token provided has expired")
		return
	}
	if !containsScope(at.Scope, "openid") {
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="openid"`)
		writeError(w, &oauth.Error{Status: http.StatusForbidden, Code: oauth.ErrorInsufficientScope, Description: "The request requires higher privileges than provided by the access token"})
		return
	}
	if at.AuthID == "" {
		writeFailure(w, r, &oauth.IntegrationError{Component: "access token", Reason: "openid token carries no auth_id"})
		return
	}

	claims, err := s.backend.GetUserClaims(ctx, at.AuthID, at.Scope)
	if err != nil {
		writeFailure(w, r, oauth.Storage("get user claims", err))
		return
	}
	out := make(map[string]any, len(claims)+1)
	for k, v := range claims {
		out[k] = v
	}
	out["sub"] = at.AuthID
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Ping(r.Context()); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func containsScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}
