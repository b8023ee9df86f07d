package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/audit"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/auth"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/obs"
)

const serviceName = "fms-auth"

// Readiness reports whether the service can take traffic.
type Readiness interface {
	Check(ctx context.Context) error
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// ReadyProbe pings the database. A nil DB (in-memory stores) is always ready.
type ReadyProbe struct {
	DB pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over auth.Service.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	ready      Readiness
	version    string
	limiter    Limiter
	maxBody    int64
	trustProxy bool
	log        *zap.Logger
	now        func() time.Time
}

// Option configures API.
type Option func(*API)

// WithLimiter throttles /auth/login and /auth/register per client IP.
func WithLimiter(l Limiter) Option {
	return func(a *API) { a.limiter = l }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithTrustProxy takes the client IP from X-Forwarded-For.
func WithTrustProxy(trust bool) Option {
	return func(a *API) { a.trustProxy = trust }
}

// WithLogger sets the access and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock overrides the time used to verify tokens.
func WithClock(fn func() time.Time) Option {
	return func(a *API) {
		if fn != nil {
			a.now = fn
		}
	}
}

func New(svc *auth.Service, ready Readiness, version string, opts ...Option) *API {
	if ready == nil {
		ready = ReadyProbe{}
	}
	a := &API{
		mux:     http.NewServeMux(),
		svc:     svc,
		ready:   ready,
		version: version,
		maxBody: 1 << 20,
		log:     obs.Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/auth/login", a.throttle(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/auth/register", a.throttle(http.HandlerFunc(a.handleRegister)))

	a.mux.HandleFunc("/admin/users", a.requireAction(auth.ActionManageUsers, resourceUsers, a.handleListUsers))
	a.mux.HandleFunc("/admin/users/", a.requireAction(auth.ActionManageUsers, resourceUsers, a.handleUserResource))
	a.mux.HandleFunc("/admin/audit", a.requireAction(auth.ActionManageUsers, resourceAuditLog, a.handleAuditTrail))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = SecurityHeaders(h)
	h = Logging(h, a.log)
	return RequestID(h)
}

func (a *API) throttle(next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	return RateLimit(next, a.limiter, a.trustProxy, a.log)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		a.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) requestMeta(r *http.Request) audit.RequestMeta {
	return audit.RequestMeta{
		IP:        clientIP(r, a.trustProxy),
		UserAgent: r.UserAgent(),
		RequestID: RequestIDFromContext(r.Context()),
	}
}

// handleServiceError maps auth errors to status codes. Anything unclassified is
// logged in full and reported as a generic 500.
func (a *API) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "))
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "User already exists")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	default:
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

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
