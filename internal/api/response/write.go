package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// JSON writes a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// NoContent writes a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// SetETag sets a strong ETag carrying a lobby version
func SetETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", FormatETag(version))
}

// FormatETag renders a lobby version as an ETag value
func FormatETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// ParseETag reads a lobby version out of an If-Match style value. An empty
// value or "*" yields zero, meaning no version check.
func ParseETag(value string) (int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" || value == "*" {
		return 0, true
	}
	value = strings.TrimPrefix(value, "W/")
	value = strings.Trim(value, `"`)
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
