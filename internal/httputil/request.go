package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// maxBodyBytes caps request bodies. The largest legitimate payload is a
// player action carrying an attached text file for summarization; 1MB
// covers that with room to spare.
const maxBodyBytes = 1 << 20

// ParseJSON decodes JSON from the request body into the given destination.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	// MaxBytesReader needs w to emit a proper 413
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	// Unknown fields are tolerated: patch payloads and turn meta are
	// free-form maps, validated downstream by the services.

	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}
