package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/crud"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/repository"
)

const (
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 24 * time.Hour
	defaultIssuer          = "pgtemplate"
)

// Claims of both access and refresh tokens.
// Subject is the username, ID (jti) is the registry row id.
type Claims struct {
	jwt.RegisteredClaims
	TokenType models.TokenType `json:"ttype"`
	IsAdmin   bool             `json:"is_admin"`
}

// TokenID returns jti as uuid. Claims returned by Parse always have a valid one.
func (c *Claims) TokenID() uuid.UUID {
	id, _ := uuid.Parse(c.ID)
	return id
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Issuer and audience, both must match exactly on parse
	// Audience defaults to issuer
	Issuer   string
	Audience string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock skew tolerance on parse, zero by default
	Leeway time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

type TokenManager struct {
	// Secret key to sign tokens
	key []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	issuer   string
	audience string

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	leeway time.Duration
	now    func() time.Time

	parser *jwt.Parser

	// Token registry
	tokens repository.TokenRepo
}

func New(cfg Config, tokens repository.TokenRepo) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method %q", cfg.Alg)
	}

	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.Issuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &TokenManager{
		key:        []byte(cfg.SecretKey),
		alg:        alg,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		leeway:     cfg.Leeway,
		now:        cfg.Now,
		tokens:     tokens,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{alg.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithTimeFunc(cfg.Now),
		),
	}, nil
}

// Now is the manager clock truncated to storage precision
func (m *TokenManager) Now() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

// IssuePair registers access and refresh tokens under a new base id and signs them.
// Registry rows are not committed: caller commits together with the rest of its work.
func (m *TokenManager) IssuePair(ctx context.Context, s crud.Session, user models.User) (models.TokenPair, error) {
	var pair models.TokenPair

	now := m.Now()
	baseID := uuid.New()

	rows, err := m.tokens.BulkCreateWithReturn(ctx, s, []any{
		models.TokenCreate{ID: uuid.New(), BaseID: baseID, UserID: user.ID, TokenType: models.TokenAccess, IssuedAt: now},
		models.TokenCreate{ID: uuid.New(), BaseID: baseID, UserID: user.ID, TokenType: models.TokenRefresh, IssuedAt: now},
	}, false)
	if err != nil {
		return pair, fmt.Errorf("error while registering token pair. Err: %w", err)
	}

	access, err := m.sign(user, rows[0], m.accessTTL)
	if err != nil {
		return pair, err
	}
	refresh, err := m.sign(user, rows[1], m.refreshTTL)
	if err != nil {
		return pair, err
	}

	return models.TokenPair{
		BaseID:  baseID,
		Access:  access,
		Refresh: refresh,
	}, nil
}

func (m *TokenManager) sign(user models.User, row models.Token, ttl time.Duration) (models.IssuedToken, error) {
	// Numeric dates are whole seconds in the payload
	issuedAt := jwt.NewNumericDate(row.IssuedAt)
	expiresAt := jwt.NewNumericDate(row.IssuedAt.Add(ttl))

	token := jwt.NewWithClaims(m.alg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        row.ID.String(),
			Issuer:    m.issuer,
			Subject:   user.Username,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
		TokenType: row.TokenType,
		IsAdmin:   user.IsAdmin,
	})

	value, err := token.SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing %s token. Err: %w", row.TokenType, err)
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt.Time}, nil
}

// Parse verifies signature and claims (method, issuer, audience, expiration, issued at).
// Any failure is token parse error.
func (m *TokenManager) Parse(raw string) (*Claims, error) {
	claims := &Claims{}

	_, err := m.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return m.key, nil
	})
	if err != nil {
		return nil, apperrors.TokenParse(err)
	}

	if _, err := uuid.Parse(claims.ID); err != nil {
		return nil, apperrors.TokenParse(fmt.Errorf("malformed jti: %w", err))
	}
	if claims.Subject == "" {
		return nil, apperrors.TokenParse(errors.New("subject is missing"))
	}
	if claims.TokenType != models.TokenAccess && claims.TokenType != models.TokenRefresh {
		return nil, apperrors.TokenParse(fmt.Errorf("unknown token type %q", claims.TokenType))
	}

	return claims, nil
}
