package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"regdesk.org/internal/audit"
	"regdesk.org/internal/auth"
	"regdesk.org/internal/obs"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type loginResponse struct {
	User      auth.Identity `json:"user"`
	ExpiresAt time.Time     `json:"expires_at"`
}

type sessionResponse struct {
	User        auth.Identity `json:"user"`
	Admin       bool          `json:"admin"`
	Permissions []string      `json:"permissions"`
}

type permissionResponse struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	username := req.Username

	sess, err := a.svc.Login(r.Context(), username, req.Password, req.RememberMe)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			a.audit(r, audit.EventLoginFailed, map[string]string{
				"username": username,
			})
		} else {
			obs.Logger().Error("login failed", zap.Error(err))
		}
		handleAuthError(w, r, err)
		return
	}

	a.cookies.Persist(w, sess.Token, sess.RememberMe)
	a.audit(r, audit.EventLoginSucceeded, map[string]string{
		"user_id":     sess.User.ID,
		"username":    sess.User.Username,
		"remember_me": strconv.FormatBool(sess.RememberMe),
		"expires_at":  sess.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, loginResponse{
		User:      sess.User,
		ExpiresAt: sess.ExpiresAt,
	})
}

// handleLogout clears the cookie. Tokens are stateless, so a copy of the
// token kept elsewhere stays valid until it expires.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	fields := map[string]string{}
	if token, ok := a.cookies.TokenFromRequest(r); ok {
		if claims, ok := a.svc.Tokens().Verify(token); ok {
			fields["user_id"] = claims.UserID
		}
	}
	a.cookies.Clear(w)
	a.audit(r, audit.EventLogout, fields)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, r)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		User:        principal.Identity,
		Admin:       principal.Role.IsAdmin(),
		Permissions: principal.PermissionList(),
	})
}

func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "permission name is required")
		return
	}
	writeJSON(w, http.StatusOK, permissionResponse{
		Permission: name,
		Allowed:    a.guard.HasPermission(r, name),
	})
}

func (a *API) audit(r *http.Request, event string, fields map[string]string) {
	if fields == nil {
		fields = map[string]string{}
	}
	fields["remote_ip"] = clientIP(r)
	if err := audit.LogEvent(r.Context(), event, fields); err != nil {
		obs.Logger().Warn("audit event dropped", zap.String("event", event), zap.Error(err))
	}
}
