package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/pgtemplate/internal/db"
)

type sessionKey struct{}

// Session gives every request its own db session.
// Whatever handler did not commit is rolled back when the request is done.
func Session(beginner db.Beginner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = db.WithSession(r.Context(), beginner, func(s *db.Session) error {
				ctx := context.WithValue(r.Context(), sessionKey{}, s)
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil
			})
		})
	}
}

// DBSession returns request session set by Session middleware
func DBSession(ctx context.Context) (*db.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*db.Session)
	return s, ok
}
