package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/services/auth-service/internal/domain"
)

type roleRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// permissionRequest право по имени или существующее право по permissionId
type permissionRequest struct {
	Permission   string `json:"permission"`
	PermissionID string `json:"permissionId"`
}

type permissionResponse struct {
	RoleID     string `json:"roleId"`
	Permission string `json:"permission"`
}

type assignRoleRequest struct {
	RoleID string `json:"roleId"`
}

type assignRoleResponse struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type seedRequest struct {
	UserID string `json:"userId"`
}

// ListRoles GET /roles
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.rbac.ListRoles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

// CreateRole POST /roles
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	role, err := h.rbac.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// UpdateRole PUT /roles/{id}
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	role, err := h.rbac.UpdateRole(r.Context(), chi.URLParam(r, "id"), req.Name, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// DeleteRole DELETE /roles/{id}
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.rbac.DeleteRole(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Role deleted"})
}

// AssignPermission POST /roles/{id}/permissions
func (h *Handler) AssignPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	roleID := chi.URLParam(r, "id")
	var (
		permission *domain.Permission
		err        error
	)
	if req.PermissionID != "" {
		permission, err = h.rbac.AssignPermissionByID(r.Context(), roleID, req.PermissionID)
	} else {
		permission, err = h.rbac.AssignPermission(r.Context(), roleID, req.Permission)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionResponse{RoleID: roleID, Permission: permission.Name})
}

// ListUsers GET /users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.rbac.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response := make([]userResponse, 0, len(users))
	for _, user := range users {
		response = append(response, userResponse{ID: user.ID, Email: user.Email})
	}
	writeJSON(w, http.StatusOK, response)
}

// AssignRole POST /users/{id}/roles
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	userID := chi.URLParam(r, "id")
	if err := h.rbac.AssignRole(r.Context(), userID, req.RoleID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignRoleResponse{UserID: userID, RoleID: req.RoleID})
}

// UnassignRole DELETE /users/{id}/roles/{roleId}
func (h *Handler) UnassignRole(w http.ResponseWriter, r *http.Request) {
	if err := h.rbac.UnassignRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "roleId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Role unassigned"})
}

// UserPermissions GET /users/{id}/permissions
func (h *Handler) UserPermissions(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.rbac.UserPermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, permissions)
}

// ListAuditLogs GET /audit-logs?page&limit&event_type
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	result, err := h.auditLogs.List(r.Context(), page, limit, query.Get("event_type"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Seed POST /seed создает роль admin, требует заголовок X-Setup-Token
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	if !h.validSetupToken(r.Header.Get("X-Setup-Token")) {
		h.writeError(w, r, pkgErrors.Unauthorized("Invalid setup token"))
		return
	}

	var req seedRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.rbac.Bootstrap(r.Context(), req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
