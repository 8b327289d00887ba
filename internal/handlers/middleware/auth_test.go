package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/crud"
	"github.com/nkiryanov/pgtemplate/internal/handlers/userctx"
	"github.com/nkiryanov/pgtemplate/internal/logger"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/service/auth"
)

// Session is never used for a statement in these tests
type noDB struct{}

func (noDB) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("no db in this test")
}

func TestAuthMiddleware_Auth(t *testing.T) {
	// Simple handler that try to get user from context
	// If ok write it username to response
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Must always be true cause middleware has to set user to response or write error to response
		session, ok := userctx.FromContext(r.Context())
		require.True(t, ok)

		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(session.User.Username))
		require.NoError(t, err, "should write username to response")
	})

	newServer := func(t *testing.T, fn AuthFunc) *httptest.Server {
		srv := httptest.NewServer(Session(noDB{})(Auth(fn, logger.NewNoOpLogger())(handler)))
		t.Cleanup(srv.Close)
		return srv
	}

	get := func(t *testing.T, url string, authorization string) (*http.Response, string) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		require.NoError(t, err)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		defer resp.Body.Close() // nolint:errcheck

		return resp, string(body)
	}

	t.Run("auth ok", func(t *testing.T) {
		var gotBearer string
		srv := newServer(t, func(ctx context.Context, s crud.Session, bearer string) (auth.UserSession, error) {
			require.NotNil(t, s, "request session has to be passed")
			gotBearer = bearer
			return auth.UserSession{User: models.User{Username: "test-user"}}, nil
		})

		resp, body := get(t, srv.URL+"/test", "Bearer some.jwt.token")

		require.Equalf(t, http.StatusOK, resp.StatusCode, "should return status OK. Resp: %s", body)
		require.Equal(t, "test-user", body, "should return username in response")
		require.Equal(t, "some.jwt.token", gotBearer)
	})

	t.Run("auth fail", func(t *testing.T) {
		srv := newServer(t, func(ctx context.Context, s crud.Session, bearer string) (auth.UserSession, error) {
			return auth.UserSession{}, apperrors.BadToken("some reason")
		})

		resp, body := get(t, srv.URL+"/test", "Bearer some.jwt.token")

		require.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "should return status Unauthorized. Resp: %s", body)
		require.JSONEq(t,
			`{
				"error": "bad_token",
				"message": "Could not validate credentials"
			}`,
			body,
		)
	})

	t.Run("not admin", func(t *testing.T) {
		srv := newServer(t, func(ctx context.Context, s crud.Session, bearer string) (auth.UserSession, error) {
			return auth.UserSession{}, apperrors.New(apperrors.ErrPermissionDenied, nil)
		})

		resp, _ := get(t, srv.URL+"/test", "Bearer some.jwt.token")

		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("no bearer", func(t *testing.T) {
		called := false
		srv := newServer(t, func(ctx context.Context, s crud.Session, bearer string) (auth.UserSession, error) {
			called = true
			return auth.UserSession{}, nil
		})

		for _, header := range []string{"", "Basic dXNlcjpwd2Q=", "Bearer ", "Bearer"} {
			resp, _ := get(t, srv.URL+"/test", header)
			assert.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "header %q", header)
		}
		require.False(t, called, "auth func must not be called without token")
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc ", "abc", true},
		{"Token abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", tc.header)

			token, err := BearerToken(r)

			if !tc.ok {
				require.ErrorIs(t, err, apperrors.ErrBadToken)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.token, token)
		})
	}
}
