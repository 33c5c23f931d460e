package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bcnelson/membership-manager/internal/api/middleware"
	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/bcnelson/membership-manager/internal/validation"
	"github.com/rs/zerolog/log"
)

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &domain.StandardErrorResponse{
		Error: domain.StandardError{Code: code, Message: message},
	})
}

// handleError converts domain errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, domain.ErrCodeResourceNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		respondError(w, http.StatusConflict, domain.ErrCodeConflict, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		respondError(w, http.StatusForbidden, domain.ErrCodeForbidden, "forbidden")
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, domain.ErrTransaction):
		log.Error().Err(err).Msg("transaction failed")
		respondError(w, http.StatusInternalServerError, domain.ErrCodeTransactionFailed, "transaction failed")
	default:
		log.Error().Err(err).Msg("unhandled error")
		respondError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "internal server error")
	}
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// respondValidationErrors writes a JSON response for validation errors.
func respondValidationErrors(w http.ResponseWriter, errs validation.ValidationErrors) {
	respondJSON(w, http.StatusBadRequest, &domain.StandardErrorResponse{Error: errs.StandardError()})
}

// requesterID returns the id of the principal resolved by middleware.Identity,
// or "" for anonymous requests.
func requesterID(r *http.Request) string {
	if p := middleware.GetPrincipalFromContext(r.Context()); p != nil {
		return p.ID
	}
	return ""
}
