package models

import (
	"time"

	"github.com/google/uuid"
)

type TokenType string

const (
	TokenAccess  TokenType = "ACCESS"
	TokenRefresh TokenType = "REFRESH"
)

// Token is a registry row of one outstanding credential.
// Access and refresh tokens issued together share BaseID.
type Token struct {
	ID        uuid.UUID `db:"id"`
	BaseID    uuid.UUID `db:"base_id"`
	UserID    uuid.UUID `db:"user_id"`
	TokenType TokenType `db:"token_type"`
	IssuedAt  time.Time `db:"issued_at"`
}

func (Token) TableName() string          { return "tokens" }
func (Token) PrimaryKeyFields() []string { return []string{"id"} }
func (Token) OrderableFields() []string  { return []string{"issued_at", "id"} }
func (Token) DefaultOrder() []string     { return nil }
func (Token) DateColumn() string         { return "issued_at" }

func (Token) Columns() []string {
	return []string{"id", "base_id", "user_id", "token_type", "issued_at"}
}

type TokenCreate struct {
	ID        uuid.UUID
	BaseID    uuid.UUID
	UserID    uuid.UUID
	TokenType TokenType
	IssuedAt  time.Time
}

func (t TokenCreate) ToDB() map[string]any {
	return map[string]any{
		"id":         t.ID,
		"base_id":    t.BaseID,
		"user_id":    t.UserID,
		"token_type": string(t.TokenType),
		"issued_at":  t.IssuedAt,
	}
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued on login or refresh
// Extra is filled by post login hooks
type TokenPair struct {
	BaseID  uuid.UUID
	Access  IssuedToken
	Refresh IssuedToken
	Extra   map[string]any
}
