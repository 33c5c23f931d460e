package handler

import (
	"net/http"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/service"
	"github.com/bcnelson/membership-manager/internal/validation"
)

// PrincipalHandler handles principal endpoints.
type PrincipalHandler struct {
	principals *service.PrincipalService
}

// NewPrincipalHandler creates a new PrincipalHandler.
func NewPrincipalHandler(principals *service.PrincipalService) *PrincipalHandler {
	return &PrincipalHandler{principals: principals}
}

// Upsert creates a principal or updates the one matching the email or handle.
func (h *PrincipalHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req domain.UpsertPrincipalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}

	if errs := validation.ValidateUpsertPrincipal(&req); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	principal, err := h.principals.Upsert(r.Context(), req.Email, req.Handle)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, principal)
}

// Get looks a principal up by the handle query parameter.
func (h *PrincipalHandler) Get(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "handle is required")
		return
	}

	principal, err := h.principals.GetByHandle(r.Context(), handle)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, principal)
}
