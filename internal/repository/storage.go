// Package repository binds entities to the generic data access engine.
// Storage is built once at process start; every call takes the caller's own session.
package repository

import (
	"github.com/nkiryanov/pgtemplate/internal/crud"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/query"
)

type Storage struct {
	Users  UserRepo
	Tokens TokenRepo
}

func NewStorage(compiler *query.Compiler) *Storage {
	return &Storage{
		Users:  UserRepo{Repo: crud.New[models.User, models.UserCreate](compiler)},
		Tokens: TokenRepo{Repo: crud.New[models.Token, models.TokenCreate](compiler)},
	}
}
