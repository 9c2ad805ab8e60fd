//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// maxBodyBytes bounds request bodies accepted by Decode.
const maxBodyBytes = 64 << 10

// ErrBadRequest wraps every decoding failure.
var ErrBadRequest = errors.New("bad request")

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// IsForm reports whether the request body is an HTML form post.
func IsForm(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}

// WantsJSON reports whether the caller expects a JSON answer rather than a redirect.
// Scripts send Accept: application/json; plain HTML forms do not.
func WantsJSON(r *http.Request) bool {
	if !IsForm(r) {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// Field reads one string field from a JSON object or form body.
// A missing body yields an empty string.
func Field(r *http.Request, name string) (string, error) {
	if IsForm(r) {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return r.PostForm.Get(name), nil
	}

	var body map[string]json.RawMessage
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", fmt.Errorf("%w: invalid JSON body", ErrBadRequest)
	}
	raw, ok := body[name]
	if !ok {
		return "", nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("%w: field %q must be a string", ErrBadRequest, name)
	}
	return value, nil
}
