package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/export"
	"fleet-monitor/asset-tracking/internal/logging"
	"fleet-monitor/asset-tracking/internal/tracking"
	"fleet-monitor/asset-tracking/internal/validation"
)

type errorResponse struct {
	Error  string                  `json:"error"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and reported as a bare 500.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, domain.ErrAssetNotFound):
		writeError(w, http.StatusNotFound, domain.ErrAssetNotFound.Error())
	case errors.Is(err, domain.ErrNoLocation):
		writeError(w, http.StatusNotFound, domain.ErrNoLocation.Error())
	case errors.Is(err, domain.ErrAssetExists):
		writeError(w, http.StatusConflict, domain.ErrAssetExists.Error())
	case errors.Is(err, domain.ErrInvalidLocation),
		errors.Is(err, domain.ErrInvalidZone),
		errors.Is(err, tracking.ErrInvalidRange),
		errors.Is(err, export.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
	default:
		logging.Ctx(ctx).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON decodes the body into dst and runs struct validation on it.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &validation.RequestValidationError{Fields: []validation.FieldError{{
			Field: "body", Tag: "json", Message: "invalid JSON body: " + err.Error(),
		}}}
	}
	return validation.ValidateStruct(dst)
}
