package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

var userColumns = []string{
	"id",
	"created_at",
	"updated_at",
	"username",
	"password_hash",
	"password_updated_at",
	"is_admin",
	"is_active",
	"attributes",
}

type User struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
	Username          string         `db:"username" json:"username"`
	PasswordHash      string         `db:"password_hash" json:"-"`
	PasswordUpdatedAt time.Time      `db:"password_updated_at" json:"password_updated_at"`
	IsAdmin           bool           `db:"is_admin" json:"is_admin"`
	IsActive          bool           `db:"is_active" json:"is_active"`
	Attributes        map[string]any `db:"attributes" json:"attributes"`
}

func (User) TableName() string          { return "users" }
func (User) Columns() []string          { return userColumns }
func (User) PrimaryKeyFields() []string { return []string{"id"} }
func (User) DateColumn() string         { return "created_at" }

// Id is the last sort key so pages are stable
func (User) OrderableFields() []string {
	return []string{"created_at", "updated_at", "username", "is_admin", "is_active", "id"}
}

func (User) DefaultOrder() []string {
	return []string{"-created_at", "-id"}
}

// Usernames are stored lowercased
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Data to create user with
type UserCreate struct {
	ID                uuid.UUID
	Username          string
	PasswordHash      string
	PasswordUpdatedAt time.Time
	IsAdmin           bool
	IsActive          bool
	Attributes        map[string]any
}

func (u UserCreate) ToDB() map[string]any {
	id := u.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	attributes := u.Attributes
	if attributes == nil {
		attributes = map[string]any{}
	}

	data := map[string]any{
		"id":            id,
		"username":      NormalizeUsername(u.Username),
		"password_hash": u.PasswordHash,
		"is_admin":      u.IsAdmin,
		"is_active":     u.IsActive,
		"attributes":    attributes,
	}
	if !u.PasswordUpdatedAt.IsZero() {
		data["password_updated_at"] = u.PasswordUpdatedAt
	}

	return data
}
