package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"puzzlepass/internal/domain"
)

var httpStatus = map[domain.Code]int{
	domain.CodeInvalidArgument:    http.StatusBadRequest,
	domain.CodeFailedPrecondition: http.StatusBadRequest,
	domain.CodeUnauthenticated:    http.StatusUnauthorized,
	domain.CodePermissionDenied:   http.StatusForbidden,
	domain.CodeNotFound:           http.StatusNotFound,
	domain.CodeResourceExhausted:  http.StatusTooManyRequests,
	domain.CodeInternal:           http.StatusInternalServerError,
}

// wireStatus turns "failed-precondition" into "FAILED_PRECONDITION".
func wireStatus(c domain.Code) string {
	return strings.ToUpper(strings.ReplaceAll(string(c), "-", "_"))
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// writeError reports err in the callable envelope. Uncoded errors become
// internal and their text is not exposed.
func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status, ok := httpStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]errorBody{
		"error": {Status: wireStatus(code), Message: domain.MessageOf(err)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
