package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"regdesk.org/internal/auth"
	"regdesk.org/internal/obs"
	"regdesk.org/internal/session"
)

// ReadyProbe checks that the backing store answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options configures the HTTP layer.
type Options struct {
	Service *auth.Service
	Cookies *session.Cookies
	Ready   ReadyProbe
	Version string

	// LoginBurst and LoginPerSecond bound login attempts per client IP.
	LoginBurst     int
	LoginPerSecond int
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	cookies    *session.Cookies
	guard      *Guard
	readyProbe ReadyProbe
	version    string

	loginLimiter *rateLimiter
}

func New(opts Options) (*API, error) {
	if opts.Service == nil {
		return nil, errors.New("httpapi: auth service is required")
	}
	if opts.Cookies == nil {
		return nil, errors.New("httpapi: session cookies are required")
	}
	if opts.LoginBurst <= 0 {
		opts.LoginBurst = 5
	}
	if opts.LoginPerSecond <= 0 {
		opts.LoginPerSecond = 1
	}

	a := &API{
		mux:          http.NewServeMux(),
		svc:          opts.Service,
		cookies:      opts.Cookies,
		guard:        NewGuard(opts.Service, opts.Cookies),
		readyProbe:   opts.Ready,
		version:      opts.Version,
		loginLimiter: newRateLimiter(opts.LoginBurst, opts.LoginPerSecond),
	}
	a.loginLimiter.onThrottle = func(*http.Request) { obs.RecordLogin(obs.LoginThrottled) }

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/v1/auth/login", a.loginLimiter.Middleware(http.HandlerFunc(a.handleLogin)))
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.Handle("/v1/auth/session", a.guard.WithAuth(http.HandlerFunc(a.handleSession), ""))
	a.mux.HandleFunc("/v1/auth/permissions/{name}", a.handlePermissionCheck)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a, nil
}

// Guard exposes the authorization guard for handlers mounted elsewhere.
func (a *API) Guard() *Guard { return a.guard }

// Protect mounts handler at pattern behind the guard. An empty permission
// only requires a valid session.
func (a *API) Protect(pattern string, handler http.Handler, permission string) {
	a.mux.Handle(pattern, a.guard.WithAuth(handler, permission))
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	return RequestID(LoggingJSON(SecurityHeaders(obs.Instrument(a.mux))))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "regdesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "regdesk-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeUnauthorized(w, r)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "Forbidden")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
