//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusNotFound, "unknown widget")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "unknown widget" {
		t.Errorf("Expected error message, got %v", got)
	}
}

func TestField(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
		wantErr     bool
	}{
		{name: "json", contentType: "application/json", body: `{"content":"hello"}`, want: "hello"},
		{name: "json missing field", contentType: "application/json", body: `{"other":"x"}`, want: ""},
		{name: "empty body", contentType: "application/json", body: "", want: ""},
		{name: "form", contentType: "application/x-www-form-urlencoded", body: "content=hi+there", want: "hi there"},
		{name: "form with charset", contentType: "application/x-www-form-urlencoded; charset=UTF-8", body: "content=x", want: "x"},
		{name: "invalid json", contentType: "application/json", body: `{"content":`, wantErr: true},
		{name: "non-string field", contentType: "application/json", body: `{"content":42}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.contentType)

			got, err := Field(r, "content")
			if tt.wantErr {
				if !errors.Is(err, ErrBadRequest) {
					t.Fatalf("Expected ErrBadRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestWantsJSON(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		accept      string
		want        bool
	}{
		{name: "json body", contentType: "application/json", want: true},
		{name: "no body", want: true},
		{name: "plain form", contentType: "application/x-www-form-urlencoded", accept: "text/html", want: false},
		{name: "scripted form", contentType: "application/x-www-form-urlencoded", accept: "application/json", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			if tt.accept != "" {
				r.Header.Set("Accept", tt.accept)
			}
			if got := WantsJSON(r); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
