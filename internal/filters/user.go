// Package filters holds request filter schemas.
// Fields are tagged with `query:"field__operator"`; the same tag drives query string decoding.
package filters

import (
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/pgtemplate/internal/query"
)

// UserFilter is the admin users listing filter.
// Locale is kept in users.attributes jsonb and compared as text.
type UserFilter struct {
	ID    []uuid.UUID `query:"id__in"`
	IDNot []uuid.UUID `query:"id__not_in"`

	Username       *string  `query:"username"`
	UsernameNeq    *string  `query:"username__neq"`
	UsernameILike  *string  `query:"username__ilike" validate:"omitnil,min=1"`
	UsernameNotILk *string  `query:"username__not_ilike" validate:"omitnil,min=1"`
	UsernameIn     []string `query:"username__in"`
	UsernameNotIn  []string `query:"username__not_in"`

	IsAdmin  *bool `query:"is_admin"`
	IsActive *bool `query:"is_active"`

	CreatedFrom *time.Time `query:"created_at__from"`
	CreatedTill *time.Time `query:"created_at__till"`
	UpdatedFrom *time.Time `query:"updated_at__from"`
	UpdatedTill *time.Time `query:"updated_at__till"`

	Locale      *string  `query:"locale"`
	LocaleILike *string  `query:"locale__ilike" validate:"omitnil,min=1"`
	LocaleIn    []string `query:"locale__in"`
	LocaleNull  *bool    `query:"locale__null"`
}

func (f UserFilter) FilterValues() map[string]any {
	return query.Values(f)
}

func (f UserFilter) FilterOverrides(kind string) map[string]query.Operators {
	if kind != query.KindPostgres {
		return nil
	}
	return map[string]query.Operators{
		"locale": query.JSONTextOperators("attributes"),
	}
}
