package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/faden/pkg/api"
)

// codeStatus holds the codes whose status differs from their type's.
var codeStatus = map[string]int{
	api.CodeBodyTooLarge:         http.StatusRequestEntityTooLarge,
	api.CodeUnsupportedMediaType: http.StatusUnsupportedMediaType,
	api.CodeNotImplemented:       http.StatusNotImplemented,
}

// HTTPStatusFromError maps an APIError to its HTTP status. Engine failures
// surface as 502 since the gateway itself is healthy.
func HTTPStatusFromError(err *api.APIError) int {
	if status, ok := codeStatus[err.Code]; ok {
		return status
	}
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeModelError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteAPIError writes apiErr in the {"error": {...}} envelope with the
// status derived from it.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatusFromError(apiErr))
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}
