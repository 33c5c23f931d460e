package handler

import (
	"net/http"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/service"
	"github.com/bcnelson/membership-manager/internal/validation"
	"github.com/go-chi/chi/v5"
)

// GroupHandler handles group endpoints.
type GroupHandler struct {
	groups   *service.GroupService
	deletion *service.GroupDeletionService
}

// NewGroupHandler creates a new GroupHandler.
func NewGroupHandler(groups *service.GroupService, deletion *service.GroupDeletionService) *GroupHandler {
	return &GroupHandler{groups: groups, deletion: deletion}
}

// Create creates a group owned by the requester.
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if errs := validation.ValidateCreateGroup(&req); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	group, err := h.groups.Create(r.Context(), req.Name, requesterID(r))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, group)
}

// List lists all groups.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.List(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, groups)
}

// Get gets a group with its creator and members.
func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, err := h.groups.Get(r.Context(), chi.URLParam(r, "group_id"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, group)
}

// Delete deletes a group owned by the requester after notifying the owners
// of its members.
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	resp, err := h.deletion.DeleteGroup(r.Context(), chi.URLParam(r, "group_id"), requesterID(r))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}
