package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/crud"
	"github.com/nkiryanov/pgtemplate/internal/handlers/render"
	"github.com/nkiryanov/pgtemplate/internal/handlers/userctx"
	"github.com/nkiryanov/pgtemplate/internal/logger"
	"github.com/nkiryanov/pgtemplate/internal/service/auth"
)

// AuthFunc resolves bearer token into user session: auth.Service.ActiveUser or ActiveAdmin
type AuthFunc func(ctx context.Context, s crud.Session, bearer string) (auth.UserSession, error)

// Auth middleware requires Session middleware to be applied first
func Auth(authenticate AuthFunc, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := DBSession(r.Context())
			if !ok {
				render.ServiceError(w, "No db session", http.StatusInternalServerError)
				return
			}

			bearer, err := BearerToken(r)
			if err != nil {
				render.Error(w, err, log)
				return
			}

			session, err := authenticate(r.Context(), s, bearer)
			if err != nil {
				render.Error(w, err, log)
				return
			}

			ctx := userctx.New(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken reads token from 'Authorization: Bearer <token>' header
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", apperrors.BadToken("no bearer token in authorization header")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperrors.BadToken("empty bearer token")
	}
	return token, nil
}
