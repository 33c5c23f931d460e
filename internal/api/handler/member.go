package handler

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"

	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/service"
	"github.com/bcnelson/membership-manager/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const exportFilename = "members_export.csv"

var exportHeader = []string{"ID", "First Name", "Last Name", "Creator ID"}

// MemberHandler handles member and membership endpoints.
type MemberHandler struct {
	members *service.MembershipService
}

// NewMemberHandler creates a new MemberHandler.
func NewMemberHandler(members *service.MembershipService) *MemberHandler {
	return &MemberHandler{members: members}
}

// Create creates a member owned by the requester, with no memberships.
func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if errs := validation.ValidateCreateMember(&req); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	member, err := h.members.CreateMember(r.Context(), req.FirstName, req.LastName, requesterID(r))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, member)
}

// CreateInGroup creates a member owned by the requester directly inside a group.
func (h *MemberHandler) CreateInGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")

	var req domain.CreateMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if errs := validation.ValidateCreateMember(&req); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	member, err := h.members.CreateMemberInGroup(r.Context(), req.FirstName, req.LastName, groupID, requesterID(r))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, member)
}

// AddToGroup associates an existing member with a group.
func (h *MemberHandler) AddToGroup(w http.ResponseWriter, r *http.Request) {
	var req domain.AddMembershipRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if errs := validation.ValidateAddMembership(&req); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	m, err := h.members.AddAssociation(r.Context(), req.MemberID, req.GroupID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, &domain.MembershipResponse{
		Message:  "Member added to group.",
		MemberID: m.MemberID,
		GroupID:  m.GroupID,
	})
}

// RemoveFromGroup removes a member from a group. The member is deleted when
// this was its last group.
func (h *MemberHandler) RemoveFromGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	memberID := chi.URLParam(r, "member_id")

	result, err := h.members.RemoveAssociation(r.Context(), memberID, groupID, requesterID(r))
	if err != nil {
		handleError(w, err)
		return
	}

	message := "Member removed from group."
	if result.MemberDeleted {
		message = "Member removed from its last group and deleted."
	}
	respondJSON(w, http.StatusOK, &domain.MembershipResponse{
		Message:       message,
		MemberID:      result.MemberID,
		GroupID:       result.GroupID,
		MemberDeleted: &result.MemberDeleted,
	})
}

// ListByGroup lists the members of a group.
func (h *MemberHandler) ListByGroup(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.ListMembersOfGroup(r.Context(), chi.URLParam(r, "group_id"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, members)
}

// Export writes members as CSV, ordered by last name. The optional group_id
// query parameter restricts the export to one group.
func (h *MemberHandler) Export(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.ListMembers(r.Context(), r.URL.Query().Get("group_id"))
	if err != nil {
		handleError(w, err)
		return
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportHeader); err != nil {
		log.Error().Err(err).Msg("writing export header")
		respondError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "export failed")
		return
	}
	for _, m := range members {
		if err := writer.Write([]string{m.ID, m.FirstName, m.LastName, m.CreatorID}); err != nil {
			log.Error().Err(err).Msg("writing export row")
			respondError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "export failed")
			return
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		log.Error().Err(err).Msg("flushing export")
		respondError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
