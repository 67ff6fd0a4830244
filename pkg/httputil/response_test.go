package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	err := errors.New("test error")

	WriteError(w, http.StatusBadRequest, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "test error")
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusTeapot, "custom message")

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Contains(t, w.Body.String(), "custom message")
}

func TestWriteValidationError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteValidationError(w, "field is required")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "field is required")
}

func TestWriteNotFoundError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNotFoundError(w, "passport not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "passport not found")
}

func TestWriteInternalError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalError(w, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "boom")
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteCreated(w, map[string]string{"id": "ap_0123456789ab"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "ap_0123456789ab")
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteSuccess(w, map[string]bool{"valid": true})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "valid")
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteForbidden(t *testing.T) {
	w := httptest.NewRecorder()

	WriteForbidden(w, "passport revoked")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "passport revoked")
}

func TestWriteServiceUnavailable(t *testing.T) {
	w := httptest.NewRecorder()

	WriteServiceUnavailable(w, "webhooks disabled")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "webhooks disabled")
}
