package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaiya/internal/types"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestJSON_SuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/quota-status", nil)

	JSON(rec, req, http.StatusOK, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Error)
	assert.Empty(t, resp.ErrorCode)
}

func TestError_AppErrorMapsStatusAndCode(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)

	Error(rec, req, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, string(types.ErrCodeNotFoundOrder), resp.ErrorCode)
	assert.Equal(t, "order not found", resp.Error)
}

func TestError_AppErrorCarriesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/quota-use", nil)

	Error(rec, req, types.NewAppErrorWithDetails(types.ErrCodeQuotaExceeded, "quota exceeded", nil,
		map[string]any{"reset_at": "2025-06-16T00:00:00Z"}))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, "2025-06-16T00:00:00Z", resp.Details["reset_at"])
}

func TestError_GenericErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)

	Error(rec, req, errors.New("pq: connection refused to 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.ErrorCode)
	assert.NotContains(t, resp.Error, "10.0.0.5")
}

func TestDecodeJSON_Valid(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth-signin",
		strings.NewReader(`{"email":"a@example.com"}`))
	var dst struct {
		Email string `json:"email"`
	}

	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, "a@example.com", dst.Email)
}

func TestDecodeJSON_UnknownField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth-signin",
		strings.NewReader(`{"email":"a@example.com","admin":true}`))
	var dst struct {
		Email string `json:"email"`
	}

	err := DecodeJSON(httptest.NewRecorder(), req, &dst)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidJSON, appErr.Code)
	assert.Contains(t, appErr.Message, "admin")
}

func TestDecodeJSON_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth-signin", strings.NewReader(""))
	var dst struct{}

	err := DecodeJSON(httptest.NewRecorder(), req, &dst)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidJSON, appErr.Code)
	assert.Contains(t, appErr.Message, "empty")
}

func TestDecodeJSON_MalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth-signin", strings.NewReader(`{"email":`))
	var dst struct{}

	err := DecodeJSON(httptest.NewRecorder(), req, &dst)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidJSON, appErr.Code)
}

func TestDecodeJSON_TypeMismatchNamesField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/quota-use",
		strings.NewReader(`{"units":"three"}`))
	var dst struct {
		Units int `json:"units"`
	}

	err := DecodeJSON(httptest.NewRecorder(), req, &dst)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "units", appErr.Details["field"])
}

func TestDecodeJSON_RejectsTrailingValues(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth-signin",
		strings.NewReader(`{"email":"a@example.com"}{"email":"b@example.com"}`))
	var dst struct {
		Email string `json:"email"`
	}

	err := DecodeJSON(httptest.NewRecorder(), req, &dst)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Message, "single JSON")
}
