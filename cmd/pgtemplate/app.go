package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/pgtemplate/internal/db"
	"github.com/nkiryanov/pgtemplate/internal/handlers"
	"github.com/nkiryanov/pgtemplate/internal/logger"
	"github.com/nkiryanov/pgtemplate/internal/query"
	"github.com/nkiryanov/pgtemplate/internal/repository"
	"github.com/nkiryanov/pgtemplate/internal/service/auth"
	"github.com/nkiryanov/pgtemplate/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/pgtemplate/internal/service/purger"
	"github.com/nkiryanov/pgtemplate/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger logger.Logger
	pool   *pgxpool.Pool
	purger *purger.Purger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Repositories are stateless and live as long as the process
	storage := repository.NewStorage(query.NewCompiler())

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		Issuer:     c.AppName,
		AccessTTL:  c.AccessTokenTTL,
		RefreshTTL: c.RefreshTokenTTL,
		Leeway:     c.TokenLeeway,
	}, storage.Tokens)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	authService, err := auth.NewService(auth.Config{Logger: logger}, tokenManager, storage)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	// Password change time has to come from the clock tokens are issued with
	userService := user.NewService(user.Config{
		Hasher:    authService.Hasher(),
		Paginator: query.NewPaginator(c.MaxPageSize),
		Now:       tokenManager.Now,
	}, storage)

	if c.AdminUsername != "" {
		err := db.WithSession(ctx, pool, func(s *db.Session) error {
			created, err := userService.EnsureAdmin(ctx, s, c.AdminUsername, c.AdminPassword)
			if created {
				logger.Info("Admin created", "username", c.AdminUsername)
			}
			return err
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("error while creating admin. Err: %w", err)
		}
	}

	router := handlers.NewRouter(authService, userService, pool, logger)

	// Pair is dead when its refresh token expired
	tokenPurger := purger.New(purger.Config{
		MaxAge: c.RefreshTokenTTL + c.TokenLeeway,
		Now:    tokenManager.Now,
	}, pool, storage.Tokens, logger)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    router,
		logger:     logger,
		pool:       pool,
		purger:     tokenPurger,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ErrorLog:          logger.NewStdLogger(s.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	purgerStopped := s.purger.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-purgerStopped

	return err
}

// Close releases db connections; call after Run returned
func (s *ServerApp) Close() {
	s.pool.Close()
}
