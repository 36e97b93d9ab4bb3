package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ernie/konsole/internal/auth"
	"github.com/ernie/konsole/internal/manager"
)

type claimsKey struct{}

// LoginRequest is the request body for login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for later requests
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// handleLogin checks a username and password and issues a token
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var login LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&login); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if login.Username == "" || login.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := r.store.GetUserByUsername(req.Context(), login.Username)
	if err != nil || !auth.CheckPassword(login.Password, user.PasswordHash) {
		r.logger.Warn("login rejected", "user", login.Username, "addr", clientIP(req))
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	token, err := r.auth.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	if err := r.store.UpdateUserLastLogin(req.Context(), user.ID); err != nil {
		r.logger.Warn("failed to update last login", "user", user.Username, "err", err)
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Username: user.Username, IsAdmin: user.IsAdmin})
}

// handleAuthCheck reports who the bearer token belongs to, if anyone
func (r *Router) handleAuthCheck(w http.ResponseWriter, req *http.Request) {
	claims := r.bearerClaims(req)
	if claims == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      claims.Username,
		"is_admin":      claims.IsAdmin,
		"expires_at":    claims.ExpiresAt,
	})
}

// authenticated runs next only for a valid bearer token, and only for admins
// when adminOnly is set. The claims are passed on in the request context.
func (r *Router) authenticated(adminOnly bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		claims := r.bearerClaims(req)
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if adminOnly && !claims.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, req.WithContext(context.WithValue(req.Context(), claimsKey{}, claims)))
	}
}

func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return r.authenticated(false, next)
}

func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return r.authenticated(true, next)
}

func (r *Router) bearerClaims(req *http.Request) *auth.Claims {
	token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil
	}
	claims, err := r.auth.ValidateToken(token)
	if err != nil {
		return nil
	}
	return claims
}

// caller returns the manager caller for a request that passed authenticated
func caller(req *http.Request) manager.Caller {
	claims, ok := req.Context().Value(claimsKey{}).(*auth.Claims)
	if !ok {
		return manager.Caller{Name: "anonymous"}
	}
	return manager.Caller{Name: claims.Username, Admin: claims.IsAdmin}
}
