package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest["name"])
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expectOK   bool
		expectCode int
	}{
		{
			name:     "valid JSON",
			body:     `{"name": "test"}`,
			expectOK: true,
		},
		{
			name:       "invalid JSON",
			body:       `{invalid}`,
			expectOK:   false,
			expectCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			ok := ParseJSONOrError(w, req, &dest)

			assert.Equal(t, tt.expectOK, ok)
			if !tt.expectOK {
				assert.Equal(t, tt.expectCode, w.Code)
			}
		})
	}
}

func TestParseJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(""))

	var dest map[string]string
	err := ParseJSON(req, &dest)

	assert.Error(t, err)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?limit=5", nil)

	val, err := ParseQueryInt(req, "limit", 50)

	assert.NoError(t, err)
	assert.Equal(t, 5, val)
}

func TestParseQueryInt_Default(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)

	val, err := ParseQueryInt(req, "limit", 50)

	assert.NoError(t, err)
	assert.Equal(t, 50, val)
}

func TestParseQueryInt_Invalid(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?limit=abc", nil)

	_, err := ParseQueryInt(req, "limit", 50)

	assert.Error(t, err)
}

func TestParseQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?service=github.com", nil)

	val := ParseQueryString(req, "service", "")

	assert.Equal(t, "github.com", val)
}

func TestParseQueryString_Default(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)

	val := ParseQueryString(req, "service", "all")

	assert.Equal(t, "all", val)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()

	ok := RequireNonEmpty(w, "", "owner_email")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "owner_email is required")
}

func TestRequireNonEmpty_Present(t *testing.T) {
	w := httptest.NewRecorder()

	ok := RequireNonEmpty(w, "owner@example.com", "owner_email")

	assert.True(t, ok)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetPathVars(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/passports/ap_0123456789ab", nil)
	req = mux.SetURLVars(req, map[string]string{
		"id": "ap_0123456789ab",
	})

	vars := GetPathVars(req)

	assert.Equal(t, "ap_0123456789ab", vars["id"])
}
