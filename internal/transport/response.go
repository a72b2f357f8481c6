package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/fieldmesh/internal/device"
)

// WriteJSON writes a JSON response with the given status code and payload.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes a structured error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// WriteInternalError writes a 500 error response.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, message)
}

// WriteDeviceError maps an error returned by a device.Sensor or
// device.Actuator to a response.
//
//	ErrNoUpstream, transport failure   503 not_available
//	ErrNotAvailable                    422 not_available
//	*Rejection                         409 rejected
//	anything else                      500
func WriteDeviceError(w http.ResponseWriter, err error) {
	var rej *device.Rejection
	switch {
	case errors.Is(err, ErrNoUpstream) || device.IsTransport(err):
		WriteError(w, http.StatusServiceUnavailable, CodeNotAvailable, err.Error())
	case errors.Is(err, device.ErrNotAvailable):
		WriteError(w, http.StatusUnprocessableEntity, CodeNotAvailable, err.Error())
	case errors.As(err, &rej):
		WriteError(w, http.StatusConflict, CodeRejected, rej.Reason)
	default:
		WriteInternalError(w, "internal server error")
	}
}
