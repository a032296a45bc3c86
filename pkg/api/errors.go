package api

import (
	"errors"
	"net/http"

	"github.com/fleetsim/fleetsim/pkg/device"
	"github.com/fleetsim/fleetsim/pkg/engine"
	"github.com/fleetsim/fleetsim/pkg/httputil"
)

// writeJSON writes a JSON response using the shared httputil package.
func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError writes a typed error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	httputil.WriteJSON(w, status, ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// writeDomainError maps a manager error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrModelNotFound):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, engine.ErrNotProxy),
		errors.Is(err, device.ErrNotStartable),
		errors.Is(err, device.ErrAlreadyBound),
		errors.Is(err, device.ErrNotBound):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, engine.ErrDeviceNotFound),
		errors.Is(err, engine.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, engine.ErrDeviceExists):
		writeError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, engine.ErrCapacity):
		writeError(w, http.StatusServiceUnavailable, "resource_exhausted", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
