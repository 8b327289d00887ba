package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/crud"
	"github.com/nkiryanov/pgtemplate/internal/logger"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/repository"
	"github.com/nkiryanov/pgtemplate/internal/service/auth/tokenmanager"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

// PostLoginHook runs after a pair is issued on login or refresh and before it is committed.
// It may extend the pair (pair.Extra); an error aborts issuance.
type PostLoginHook func(ctx context.Context, s crud.Session, user models.User, pair *models.TokenPair) error

// UserSession is an authenticated request: decoded claims, registry row and freshly loaded user
type UserSession struct {
	Claims *tokenmanager.Claims
	Token  models.Token
	User   models.User
}

type Config struct {
	// Hasher to compare user passwords on login
	// BcryptHasher if not set
	Hasher PasswordHasher

	PostLogin PostLoginHook

	Logger logger.Logger
}

// Auth service
// Every method takes the caller's session; methods that change the registry commit it
type Service struct {
	tokens  *tokenmanager.TokenManager
	storage *repository.Storage

	hasher    PasswordHasher
	postLogin PostLoginHook
	logger    logger.Logger

	// Compared against when user does not exist, so both login failures take the same time
	dummyHash string
}

func NewService(cfg Config, tokens *tokenmanager.TokenManager, storage *repository.Storage) (*Service, error) {
	if tokens == nil || storage == nil {
		return nil, errors.New("token manager and storage must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	dummyHash, err := hasher.Hash("login-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("hasher is not usable. Err: %w", err)
	}

	return &Service{
		tokens:    tokens,
		storage:   storage,
		hasher:    hasher,
		postLogin: cfg.PostLogin,
		logger:    log.With("service", "auth"),
		dummyHash: dummyHash,
	}, nil
}

func (svc *Service) Hasher() PasswordHasher {
	return svc.hasher
}

// Login checks credentials and issues a new pair.
// Unknown username and wrong password are the same error.
func (svc *Service) Login(ctx context.Context, s crud.Session, username string, password string) (models.TokenPair, error) {
	user, err := svc.storage.Users.GetByUsernameOrNone(ctx, s, username)
	if err != nil {
		return models.TokenPair{}, err
	}

	hash := svc.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	cmpErr := svc.hasher.Compare(hash, password)

	switch {
	case user == nil:
		svc.logger.Debug("login with unregistered username", "username", username)
		countEvent("rejected", "bad_credentials")
		return models.TokenPair{}, apperrors.ErrBadLoginCredentials
	case cmpErr != nil:
		svc.logger.Debug("login with wrong password", "username", user.Username)
		countEvent("rejected", "bad_credentials")
		return models.TokenPair{}, apperrors.ErrBadLoginCredentials
	}

	return svc.issue(ctx, s, *user, "issued")
}

// Auth resolves access token into user session.
// Stale token (password changed after issue) revokes its pair.
func (svc *Service) Auth(ctx context.Context, s crud.Session, bearer string) (UserSession, error) {
	return svc.verify(ctx, s, bearer, models.TokenAccess)
}

// Refresh consumes refresh token and issues a new pair in the same transaction.
// Refresh token is single use: the second call fails with bad token.
func (svc *Service) Refresh(ctx context.Context, s crud.Session, bearer string) (models.TokenPair, error) {
	session, err := svc.verify(ctx, s, bearer, models.TokenRefresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	n, err := svc.storage.Tokens.DeleteBase(ctx, s, session.Token.BaseID, false)
	if err != nil {
		return models.TokenPair{}, err
	}
	// Concurrent refresh already consumed the pair
	if n == 0 {
		return models.TokenPair{}, svc.reject("pair consumed concurrently", session.Claims)
	}

	return svc.issue(ctx, s, session.User, "rotated")
}

// Logout revokes the pair of the access token
func (svc *Service) Logout(ctx context.Context, s crud.Session, bearer string) error {
	claims, err := svc.parse(bearer, models.TokenAccess)
	if err != nil {
		return err
	}

	row, err := svc.storage.Tokens.Lookup(ctx, s, claims.TokenID(), models.TokenAccess)
	if err != nil {
		return err
	}
	if row == nil {
		return svc.reject("token is not registered", claims)
	}

	n, err := svc.storage.Tokens.DeleteBase(ctx, s, row.BaseID, true)
	if err != nil {
		return err
	}

	svc.logger.Debug("pair revoked", "base_id", row.BaseID, "deleted", n)
	countEvent("revoked", "logout")
	return nil
}

// ActiveUser is Auth for users that are not deactivated
func (svc *Service) ActiveUser(ctx context.Context, s crud.Session, bearer string) (UserSession, error) {
	session, err := svc.Auth(ctx, s, bearer)
	if err != nil {
		return session, err
	}
	if !session.User.IsActive {
		return UserSession{}, svc.reject("user is not active", session.Claims)
	}
	return session, nil
}

// ActiveAdmin is ActiveUser with admin rights
func (svc *Service) ActiveAdmin(ctx context.Context, s crud.Session, bearer string) (UserSession, error) {
	session, err := svc.ActiveUser(ctx, s, bearer)
	if err != nil {
		return session, err
	}
	if !session.User.IsAdmin {
		return UserSession{}, apperrors.New(apperrors.ErrPermissionDenied, nil)
	}
	return session, nil
}

func (svc *Service) issue(ctx context.Context, s crud.Session, user models.User, event string) (models.TokenPair, error) {
	pair, err := svc.tokens.IssuePair(ctx, s, user)
	if err != nil {
		return models.TokenPair{}, err
	}

	if svc.postLogin != nil {
		if err := svc.postLogin(ctx, s, user, &pair); err != nil {
			return models.TokenPair{}, fmt.Errorf("post login hook failed. Err: %w", err)
		}
	}

	if err := s.Commit(ctx); err != nil {
		return models.TokenPair{}, apperrors.DataAccess("tokens", err)
	}

	countEvent(event, "")
	return pair, nil
}

func (svc *Service) parse(bearer string, want models.TokenType) (*tokenmanager.Claims, error) {
	claims, err := svc.tokens.Parse(bearer)
	if err != nil {
		svc.logger.Debug("token parse failed", "error", err)
		countEvent("rejected", "parse")
		return nil, err
	}

	if claims.TokenType != want {
		return nil, svc.reject(fmt.Sprintf("%s token expected, got %s", want, claims.TokenType), claims)
	}
	return claims, nil
}

// Parse, type check, registry lookup and freshness check
func (svc *Service) verify(ctx context.Context, s crud.Session, bearer string, want models.TokenType) (UserSession, error) {
	claims, err := svc.parse(bearer, want)
	if err != nil {
		return UserSession{}, err
	}

	row, err := svc.storage.Tokens.Lookup(ctx, s, claims.TokenID(), want)
	if err != nil {
		return UserSession{}, err
	}
	if row == nil {
		return UserSession{}, svc.reject("token is not registered", claims)
	}

	user, err := svc.storage.Users.GetByID(ctx, s, row.UserID)
	if err != nil {
		return UserSession{}, err
	}

	if user.PasswordUpdatedAt.After(row.IssuedAt) {
		if _, err := svc.storage.Tokens.DeleteBase(ctx, s, row.BaseID, true); err != nil {
			return UserSession{}, err
		}
		countEvent("revoked", "stale")
		return UserSession{}, svc.reject("password changed after token was issued", claims)
	}

	return UserSession{Claims: claims, Token: *row, User: user}, nil
}

// Reason is logged and counted, client gets plain bad token
func (svc *Service) reject(reason string, claims *tokenmanager.Claims) error {
	svc.logger.Debug("token rejected", "reason", reason, "jti", claims.ID, "sub", claims.Subject)
	countEvent("rejected", "bad_token")
	return apperrors.BadToken(reason)
}
