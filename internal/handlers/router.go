package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/pgtemplate/internal/crud"
	"github.com/nkiryanov/pgtemplate/internal/db"
	"github.com/nkiryanov/pgtemplate/internal/handlers/middleware"
	"github.com/nkiryanov/pgtemplate/internal/handlers/render"
	"github.com/nkiryanov/pgtemplate/internal/logger"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/query"
	"github.com/nkiryanov/pgtemplate/internal/service/auth"
	"github.com/nkiryanov/pgtemplate/internal/service/user"
)

// NewRouter builds application handler.
// Every API request gets its own db session from beginner (pool in production, test tx in tests).
func NewRouter(
	authService authService,
	userService userService,
	beginner db.Beginner,
	logger logger.Logger,
) http.Handler {
	authHandler := NewAuth(authService, logger)
	userHandler := NewUser(userService, logger)
	adminHandler := NewAdmin(userService, logger)

	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		middleware.Metrics(),
		middleware.LoggerMiddleware(logger),
	)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Session(beginner))

		r.Route("/auth", authHandler.Routes)

		// No open sign up, new users are registered by the active ones
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authService.ActiveUser, logger))
			r.Post("/user/register", userHandler.register)
			r.Get("/user/me", userHandler.me)
			r.Patch("/user/me", userHandler.updateMe)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(middleware.Auth(authService.ActiveAdmin, logger))
			adminHandler.Routes(r)
		})
	})

	return r
}

type authService interface {
	// Login has to return apperrors.ErrBadLoginCredentials for unknown user and wrong password alike
	Login(ctx context.Context, s crud.Session, username string, password string) (models.TokenPair, error)

	// Refresh consumes refresh token and returns new pair
	Refresh(ctx context.Context, s crud.Session, bearer string) (models.TokenPair, error)

	// Logout revokes pair of access token
	Logout(ctx context.Context, s crud.Session, bearer string) error

	ActiveUser(ctx context.Context, s crud.Session, bearer string) (auth.UserSession, error)
	ActiveAdmin(ctx context.Context, s crud.Session, bearer string) (auth.UserSession, error)
}

type userService interface {
	// Register has to return apperrors.ErrUserAlreadyExists if username is taken
	Register(ctx context.Context, s crud.Session, username string, password string) (models.User, error)
	BulkCreate(ctx context.Context, s crud.Session, users []user.NewUser) ([]models.User, error)
	UpdateMe(ctx context.Context, s crud.Session, u models.User, upd user.ProfileUpdate) (models.User, error)
	AdminPatch(ctx context.Context, s crud.Session, username string, upd user.AdminUpdate) (models.User, error)
	List(ctx context.Context, s crud.Session, f query.Filter, orderBy []string, page *query.Page) (user.ListResult, error)
	Delete(ctx context.Context, s crud.Session, ids []uuid.UUID) (int64, error)

	Paginator() *query.Paginator
	Ordering() *query.Ordering
}

// dbSession returns request session or renders internal error
func dbSession(w http.ResponseWriter, r *http.Request, log logger.Logger) (*db.Session, bool) {
	s, ok := middleware.DBSession(r.Context())
	if !ok {
		log.Error("no db session in request context", "uri", r.RequestURI)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
	return s, ok
}
