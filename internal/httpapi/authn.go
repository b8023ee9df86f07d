package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/auth"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authorize checks the bearer token against action. On rejection it writes
// 401 or 403 and returns false. Forbidden decisions are audited against resource.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, action auth.Action, resource string) (auth.Principal, bool) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		obs.AuthorizeDecision(auth.Unauthenticated.String())
		unauthorized(w, r)
		return auth.Principal{}, false
	}

	d := a.svc.Authorize(token, action, a.now())
	obs.AuthorizeDecision(d.Outcome.String())
	switch d.Outcome {
	case auth.Allowed:
		p, _ := d.Principal()
		return p, true
	case auth.Forbidden:
		a.svc.RecordDenied(r.Context(), d, resource, a.requestMeta(r))
		writeError(w, r, http.StatusForbidden, "forbidden")
	default:
		unauthorized(w, r)
	}
	return auth.Principal{}, false
}

// requireAction runs next only for tokens allowed to perform action, with the
// principal attached to the request context.
func (a *API) requireAction(action auth.Action, resource string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.authorize(w, r, action, resource)
		if !ok {
			return
		}
		next(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), p)))
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
	writeError(w, r, http.StatusUnauthorized, "unauthorized")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
