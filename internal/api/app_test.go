package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/npezzotti/securechat/internal/config"
	"github.com/npezzotti/securechat/internal/filestore"
	"github.com/npezzotti/securechat/internal/server"
	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/stats"
	"github.com/npezzotti/securechat/internal/testutil"
	"github.com/npezzotti/securechat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:     "localhost:8000",
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"http://localhost:3000"},
		TokenTTL:       time.Hour,
		MaxUploadBytes: 1024,
	}
}

// newTestApp wires an app around a mock service and file store. The chat
// server's run loop is not started.
func newTestApp(t *testing.T) (*SecureChatApp, *service.MockService, *filestore.MockStore) {
	t.Helper()

	svc := &service.MockService{}
	files := &filestore.MockStore{}
	t.Cleanup(func() {
		svc.AssertExpectations(t)
		files.AssertExpectations(t)
	})

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	cs, err := server.NewChatServer(testutil.TestLogger(t), svc, su)
	require.NoError(t, err, "failed to create chat server")

	app := NewSecureChatApp(mux.NewRouter(), testutil.TestLogger(t), cs, svc, files, testConfig())
	return app, svc, files
}

func tokenFor(t *testing.T, app *SecureChatApp, userId int) string {
	t.Helper()
	token, err := app.createJwtForSession(userId)
	require.NoError(t, err, "failed to create token")
	return token
}

// doRequest sends a request through the full handler stack. A non-empty
// token is sent as a bearer token.
func doRequest(t *testing.T, app *SecureChatApp, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(v)
	default:
		b, err := json.Marshal(v)
		require.NoError(t, err, "failed to marshal request body")
		r = bytes.NewBuffer(b)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	app.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()
	var apiErr ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr), "failed to decode error response")
	assert.Equal(t, apiErr.StatusCode, rr.Code, "expected status code to match body")
	return apiErr
}

// findCookie is a helper function to find a cookie by name in the response recorder.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestNewSecureChatApp(t *testing.T) {
	app, svc, files := newTestApp(t)
	cfg := testConfig()

	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr)
	assert.Equal(t, cfg.SigningKey, app.signingKey)
	assert.Equal(t, cfg.TokenTTL, app.tokenTTL)
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins)
	assert.Equal(t, svc, app.svc)
	assert.Equal(t, files, app.files)

	t.Run("defaults", func(t *testing.T) {
		app := NewSecureChatApp(mux.NewRouter(), testutil.TestLogger(t), nil, &service.MockService{}, nil, &config.Config{})
		assert.Equal(t, config.DefaultTokenTTL, app.tokenTTL)
		assert.Equal(t, int64(config.DefaultMaxUploadBytes), app.maxUploadBytes)
	})
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
		code    int
	}{
		{name: "successful health check", code: http.StatusOK},
		{name: "failed health check", mockErr: errors.New("db error"), code: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, svc, _ := newTestApp(t)
			svc.On("Ping").Return(tc.mockErr).Once()

			rr := doRequest(t, app, http.MethodGet, "/healthz", nil, "")
			assert.Equal(t, tc.code, rr.Code)
			if tc.mockErr == nil {
				assert.Equal(t, "OK", rr.Body.String())
			}
		})
	}
}

func TestRouting(t *testing.T) {
	app, _, _ := newTestApp(t)

	t.Run("unknown route", func(t *testing.T) {
		rr := doRequest(t, app, http.MethodGet, "/api/nope", nil, "")
		assert.Equal(t, *NewNotFoundError(), decodeApiError(t, rr))
	})

	t.Run("wrong method", func(t *testing.T) {
		rr := doRequest(t, app, http.MethodDelete, "/api/chats", nil, tokenFor(t, app, 1))
		assert.Equal(t, *NewMethodNotAllowedError(), decodeApiError(t, rr))
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/chats", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rr := httptest.NewRecorder()
		app.srv.Handler.ServeHTTP(rr, req)

		assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestFromServiceError(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		want *ApiError
	}{
		{
			name: "validation",
			err: &service.ValidationError{Message: "invalid message", Fields: []types.FieldError{
				{Field: "content", Message: "content or file is required"},
			}},
			want: NewValidationError("invalid message", []types.FieldError{
				{Field: "content", Message: "content or file is required"},
			}),
		},
		{
			name: "conflict",
			err:  &service.ConflictError{Message: "email already registered"},
			want: &ApiError{StatusCode: http.StatusBadRequest, Message: "email already registered"},
		},
		{name: "not found", err: service.ErrNotFound, want: NewNotFoundError()},
		{name: "forbidden", err: service.ErrForbidden, want: NewForbiddenError()},
		{
			name: "registration disabled",
			err:  service.ErrRegistrationDisabled,
			want: &ApiError{StatusCode: http.StatusForbidden, Message: "registration is disabled"},
		},
		{
			name: "bad credentials",
			err:  service.ErrInvalidCredentials,
			want: &ApiError{StatusCode: http.StatusUnauthorized, Message: "invalid email or password"},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, fromServiceError(tc.err))
		})
	}

	t.Run("internal", func(t *testing.T) {
		err := errors.New("db error")
		got := fromServiceError(err)
		assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
		assert.ErrorIs(t, got, err)
	})
}
