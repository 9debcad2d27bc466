package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ukydev/vehicle-care/internal/httputil"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into v. On failure it writes a 400 and
// returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		httputil.WriteError(w, http.StatusBadRequest, "Request body required")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}
