package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/audit"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/auth"
)

const (
	resourceUsers    = "user"
	resourceAuditLog = "audit_log"

	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

type usersResponse struct {
	Users []*auth.User `json:"users"`
}

type auditResponse struct {
	Entries []audit.Entry `json:"entries"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	users, err := a.svc.ListUsers(r.Context())
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: users})
}

// handleUserResource serves POST /admin/users/{id}/activate and /deactivate.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	var active bool
	switch parts[1] {
	case "activate":
		active = true
	case "deactivate":
		active = false
	default:
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}

	user, err := a.svc.SetActive(r.Context(), principal.UserID, parts[0], active, a.requestMeta(r))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

func (a *API) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultAuditLimit, maxAuditLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := a.svc.AuditTrail(r.Context(), limit)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}

func parseLimit(raw string, def, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < 1 || val > max {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(max))
	}
	return val, nil
}
