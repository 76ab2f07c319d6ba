package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rolegate/pkg/rbac"
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

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusNotFound, "resource not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "resource not found", resp.Error)
}

func TestWriteInternalError_HidesDetails(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalError(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestWriteBody(t *testing.T) {
	w := httptest.NewRecorder()

	WriteBody(w, http.StatusOK, "text/csv", []byte("a,b\n"))

	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "a,b\n", w.Body.String())
}

func TestWriteStoreError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &rbac.ValidationError{Field: "name", Message: "required"}, http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("seed: %w", &rbac.ValidationError{Message: "bad"}), http.StatusBadRequest},
		{"cycle", &rbac.CycleError{RoleID: 1}, http.StatusBadRequest},
		{"not found", &rbac.NotFoundError{Kind: "role", Key: "7"}, http.StatusNotFound},
		{"storage", &rbac.StorageError{Op: "get role", Err: errors.New("conn reset")}, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteStoreError(w, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "conn reset")
		})
	}

	w := httptest.NewRecorder()
	WriteStoreError(w, &rbac.ValidationError{Field: "name", Message: "required"})
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "name", resp.Field)
	assert.Equal(t, "required", resp.Error)
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "x") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "x") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "x") }, http.StatusForbidden},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "x") }, http.StatusNotFound},
		{"created", func(w http.ResponseWriter) { WriteCreated(w, "x") }, http.StatusCreated},
		{"success", func(w http.ResponseWriter) { WriteSuccess(w, "x") }, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
