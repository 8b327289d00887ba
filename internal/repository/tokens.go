package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/pgtemplate/internal/crud"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/query"
)

// TokenRepo is the registry of outstanding credentials
type TokenRepo struct {
	*crud.Repo[models.Token, models.TokenCreate]
}

// Lookup returns registry row by jti and type or nil if it was revoked, consumed or never existed
func (r TokenRepo) Lookup(ctx context.Context, s crud.Session, id uuid.UUID, tokenType models.TokenType) (*models.Token, error) {
	return r.GetOneOrNone(ctx, s, query.Where{
		r.Eq("id", id),
		r.Eq("token_type", string(tokenType)),
	})
}

// DeleteBase removes both halves of the pair and returns number of removed rows
func (r TokenRepo) DeleteBase(ctx context.Context, s crud.Session, baseID uuid.UUID, commit bool) (int64, error) {
	return r.Delete(ctx, s, query.Where{r.Eq("base_id", baseID)}, commit)
}

// DeleteForUser revokes every pair of the user
func (r TokenRepo) DeleteForUser(ctx context.Context, s crud.Session, userID uuid.UUID, commit bool) (int64, error) {
	return r.Delete(ctx, s, query.Where{r.Eq("user_id", userID)}, commit)
}

// DeleteIssuedBefore removes rows of every token issued before the moment
func (r TokenRepo) DeleteIssuedBefore(ctx context.Context, s crud.Session, before time.Time, commit bool) (int64, error) {
	return r.Delete(ctx, s, query.Where{query.Expr(`"issued_at" < ?`, before)}, commit)
}
