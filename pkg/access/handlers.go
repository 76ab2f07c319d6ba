package access

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rolegate/pkg/audit"
	"github.com/platinummonkey/rolegate/pkg/httputil"
	"github.com/platinummonkey/rolegate/pkg/policy"
)

// DefaultSearchLimit caps access log searches that do not set a limit
const DefaultSearchLimit = 100

// Handlers exposes the controller over HTTP
type Handlers struct {
	controller *Controller
	adminGuard func(http.Handler) http.Handler
}

// NewHandlers creates HTTP handlers for controller. A non-nil adminGuard wraps
// every route except the access check.
func NewHandlers(controller *Controller, adminGuard func(http.Handler) http.Handler) *Handlers {
	return &Handlers{controller: controller, adminGuard: adminGuard}
}

// RegisterRoutes registers the access API under /v1
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/check", h.checkAccess).Methods("POST")

	admin := v1.NewRoute().Subrouter()
	if h.adminGuard != nil {
		admin.Use(mux.MiddlewareFunc(h.adminGuard))
	}
	admin.HandleFunc("/roles", h.createRole).Methods("POST")
	admin.HandleFunc("/roles/{role_id}/parent", h.setRoleParent).Methods("PUT")
	admin.HandleFunc("/roles/{role_id}", h.deactivateRole).Methods("DELETE")
	admin.HandleFunc("/roles/{role_id}/permissions", h.getRolePermissions).Methods("GET")
	admin.HandleFunc("/roles/{role_id}/permissions", h.grantPermission).Methods("POST")
	admin.HandleFunc("/roles/{role_id}/permissions/{permission_id}", h.revokePermission).Methods("DELETE")
	admin.HandleFunc("/permissions", h.createPermission).Methods("POST")
	admin.HandleFunc("/users/{user_id}/roles", h.getUserRoles).Methods("GET")
	admin.HandleFunc("/users/{user_id}/roles", h.assignRole).Methods("POST")
	admin.HandleFunc("/users/{user_id}/roles/{role_id}", h.revokeRole).Methods("DELETE")
	admin.HandleFunc("/users/{user_id}/permissions", h.effectivePermissions).Methods("GET")
	admin.HandleFunc("/policies", h.createPolicy).Methods("POST")
	admin.HandleFunc("/policies/{policy_id}", h.deactivatePolicy).Methods("DELETE")
	admin.HandleFunc("/stats", h.statistics).Methods("GET")
	admin.HandleFunc("/audit", h.searchAudit).Methods("GET")
	admin.HandleFunc("/sweep", h.sweep).Methods("POST")
}

// CheckResponse is the body returned by POST /v1/check
type CheckResponse struct {
	Result  audit.Result `json:"result"`
	Message string       `json:"message"`
}

func (h *Handlers) checkAccess(w http.ResponseWriter, r *http.Request) {
	var req AccessRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = clientIP(r)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	result, message := h.controller.CheckAccess(r.Context(), req)
	httputil.WriteSuccess(w, CheckResponse{Result: result, Message: message})
}

// CreateRoleRequest is the body of POST /v1/roles
type CreateRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    *int64 `json:"parent_id,omitempty"`
}

func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	id, err := h.controller.CreateRole(r.Context(), req.Name, req.Description, req.ParentID)
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]int64{"id": id})
}

// SetParentRequest is the body of PUT /v1/roles/{role_id}/parent
type SetParentRequest struct {
	ParentID *int64 `json:"parent_id"`
}

func (h *Handlers) setRoleParent(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	var req SetParentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.controller.SetRoleParent(r.Context(), roleID, req.ParentID); err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) deactivateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	if err := h.controller.DeactivateRole(r.Context(), roleID); err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) getRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	perms, err := h.controller.GetRolePermissions(r.Context(), roleID)
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// GrantRequest is the body of POST /v1/roles/{role_id}/permissions
type GrantRequest struct {
	PermissionID int64 `json:"permission_id"`
	GrantedBy    int64 `json:"granted_by"`
}

func (h *Handlers) grantPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if _, err := h.controller.AssignPermissionToRole(r.Context(), roleID, req.PermissionID, req.GrantedBy); err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) revokePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	permID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return
	}
	revoked, err := h.controller.RevokePermissionFromRole(r.Context(), roleID, permID)
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	if !revoked {
		httputil.WriteNotFoundError(w, "no active grant")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePermissionRequest is the body of POST /v1/permissions
type CreatePermissionRequest struct {
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

func (h *Handlers) createPermission(w http.ResponseWriter, r *http.Request) {
	var req CreatePermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	id, err := h.controller.CreatePermission(r.Context(), req.Resource, req.Action, req.Description)
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"id": id})
}

func (h *Handlers) getUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	roles, err := h.controller.GetUserRoles(r.Context(), userID)
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// AssignRoleRequest is the body of POST /v1/users/{user_id}/roles
type AssignRoleRequest struct {
	RoleID    int64      `json:"role_id"`
	GrantedBy int64      `json:"granted_by"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req AssignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if _, err := h.controller.AssignRoleToUser(r.Context(), userID, req.RoleID, req.GrantedBy, req.ExpiresAt); err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	revoked, err := h.controller.RevokeRoleFromUser(r.Context(), userID, roleID)
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	if !revoked {
		httputil.WriteNotFoundError(w, "no active assignment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	perms, err := h.controller.EffectivePermissions(r.Context(), userID)
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

func (h *Handlers) createPolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if !httputil.ParseJSONOrError(w, r, &p) {
		return
	}
	id, err := h.controller.CreatePolicy(r.Context(), p)
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]int64{"id": id})
}

func (h *Handlers) deactivatePolicy(w http.ResponseWriter, r *http.Request) {
	policyID, ok := httputil.ParsePathInt64OrError(w, r, "policy_id")
	if !ok {
		return
	}
	if err := h.controller.DeactivatePolicy(r.Context(), policyID); err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) statistics(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.ParseQueryInt64Ptr(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	days, err := httputil.ParseQueryInt(r, "days", 30)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.controller.GetAccessStatistics(r.Context(), userID, days)
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

func (h *Handlers) searchAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	format := audit.ExportFormat(httputil.ParseQueryString(r, "format", string(audit.FormatJSON)))
	if !format.Valid() {
		httputil.WriteBadRequest(w, "unsupported export format: "+string(format))
		return
	}

	ctx, cancel := h.controller.storeContext(r.Context())
	defer cancel()
	entries, err := h.controller.AuditLog().Search(ctx, filter)
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}

	body, err := audit.Export(entries, format)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteBody(w, http.StatusOK, format.ContentType(), body)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	var filter audit.Filter
	var err error

	if filter.UserID, err = httputil.ParseQueryInt64Ptr(r, "user_id"); err != nil {
		return filter, err
	}
	if filter.StartTime, err = httputil.ParseQueryTime(r, "start"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = httputil.ParseQueryTime(r, "end"); err != nil {
		return filter, err
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultSearchLimit); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	filter.Resource = httputil.ParseQueryString(r, "resource", "")
	filter.Action = httputil.ParseQueryString(r, "action", "")
	filter.Result = audit.Result(httputil.ParseQueryString(r, "result", ""))
	return filter, nil
}

func (h *Handlers) sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.controller.CleanupExpiredAssignments(r.Context())
	if err != nil {
		httputil.WriteStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"expired": n})
}
