package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/crud"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/query"
)

type UserRepo struct {
	*crud.Repo[models.User, models.UserCreate]
}

func (r UserRepo) GetByID(ctx context.Context, s crud.Session, id uuid.UUID) (models.User, error) {
	return r.GetOne(ctx, s, query.Where{r.Eq("id", id)})
}

// Username is normalized before lookup
func (r UserRepo) GetByUsername(ctx context.Context, s crud.Session, username string) (models.User, error) {
	return r.GetOne(ctx, s, query.Where{r.Eq("username", models.NormalizeUsername(username))})
}

func (r UserRepo) GetByUsernameOrNone(ctx context.Context, s crud.Session, username string) (*models.User, error) {
	return r.GetOneOrNone(ctx, s, query.Where{r.Eq("username", models.NormalizeUsername(username))})
}

// PatchByID updates one user and returns its new state
func (r UserRepo) PatchByID(ctx context.Context, s crud.Session, id uuid.UUID, fields map[string]any, commit bool) (models.User, error) {
	where := query.Where{r.Eq("id", id)}

	_, err := r.Patch(ctx, s, where, fields, false)
	if err != nil {
		return models.User{}, err
	}

	user, err := r.GetOne(ctx, s, where)
	if err != nil {
		return user, err
	}

	if commit {
		if err := s.Commit(ctx); err != nil {
			return user, apperrors.DataAccess(r.Table(), err)
		}
	}
	return user, nil
}

// DeleteByIDs removes users, their tokens are removed by cascade
func (r UserRepo) DeleteByIDs(ctx context.Context, s crud.Session, ids []uuid.UUID, commit bool) (int64, error) {
	return r.Delete(ctx, s, query.Where{query.Expr(`"id" = ANY(?)`, ids)}, commit)
}
