package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// On failure it writes a 400 and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", formatValidationError(err))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", e.Namespace(), e.Tag(), e.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
	}
	return strings.Join(msgs, ", ")
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch apperr.Kind(err) {
	case apperr.ErrConflict:
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case apperr.ErrNotFound:
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case apperr.ErrForbidden:
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case apperr.ErrValidation:
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case apperr.ErrInvalidState:
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		log.Printf("internal error method=%s path=%s request_id=%s err=%v", r.Method, r.URL.Path, GetRequestID(r.Context()), err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
