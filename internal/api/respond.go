package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	apperrors "github.com/hackgods/token-queue-scheduling/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusForKind maps an error kind onto the HTTP status returned to callers.
func statusForKind(k apperrors.Kind) int {
	switch k {
	case apperrors.KindNotFound, apperrors.KindNoPatients:
		return http.StatusNotFound
	case apperrors.KindUnauthorized:
		return http.StatusForbidden
	case apperrors.KindInvalidState, apperrors.KindCapacity, apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders an engine error. Domain errors keep their code
// and message; anything else is logged and reported as internal.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		log.Printf("request failed request_id=%s err=%v", GetRequestID(r.Context()), err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, statusForKind(appErr.Kind()), ErrorResponse{
		Error:    string(appErr.Code),
		Details:  appErr.Message,
		Metadata: appErr.Metadata,
	})
}
