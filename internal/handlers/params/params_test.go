package params

import (
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/filters"
	"github.com/nkiryanov/pgtemplate/internal/query"
)

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	return values
}

func fieldOf(t *testing.T, err error) any {
	t.Helper()
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	return appErr.Context["field"]
}

func TestFilter(t *testing.T) {
	t.Run("decoded by query tags", func(t *testing.T) {
		id1, id2 := uuid.New(), uuid.New()
		raw := "username__ilike=an&is_active=true&created_at__from=2025-01-02T03:04:05Z" +
			"&id__in=" + id1.String() + "," + id2.String() + "&locale__in=en&locale__in=de&unknown=1"

		f, err := Filter[filters.UserFilter]("users", mustQuery(t, raw))

		require.NoError(t, err)
		require.NotNil(t, f.UsernameILike)
		assert.Equal(t, "an", *f.UsernameILike)
		require.NotNil(t, f.IsActive)
		assert.True(t, *f.IsActive)
		require.NotNil(t, f.CreatedFrom)
		assert.True(t, f.CreatedFrom.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
		assert.Equal(t, []uuid.UUID{id1, id2}, f.ID)
		assert.Equal(t, []string{"en", "de"}, f.LocaleIn)
		assert.Nil(t, f.Username, "not requested field is left unset")
	})

	t.Run("nothing requested", func(t *testing.T) {
		f, err := Filter[filters.UserFilter]("users", url.Values{})

		require.NoError(t, err)
		assert.Empty(t, f.FilterValues())
	})

	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"bad bool", "is_admin=maybe", "is_admin"},
		{"bad time", "updated_at__till=yesterday", "updated_at__till"},
		{"bad uuid", "id__not_in=123", "id__not_in"},
		{"empty ilike", "username__ilike=", "username__ilike"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Filter[filters.UserFilter]("users", mustQuery(t, tt.raw))

			require.ErrorIs(t, err, apperrors.ErrBadFilter)
			assert.Equal(t, tt.field, fieldOf(t, err))
		})
	}
}

func TestListing(t *testing.T) {
	ordering := query.NewOrdering("users", []string{"created_at", "username"}, nil)

	t.Run("page and order", func(t *testing.T) {
		l, err := Listing("users", mustQuery(t, "page=2&limit=10&order_by=-created_at,%2Busername"), ordering)

		require.NoError(t, err)
		assert.Equal(t, []string{"-created_at", "+username"}, l.OrderBy)
		assert.Equal(t, &query.Page{Page: 2, Limit: 10}, l.PageRequest(100))
	})

	t.Run("no page requested", func(t *testing.T) {
		l, err := Listing("users", url.Values{}, ordering)

		require.NoError(t, err)
		assert.Equal(t, &query.Page{Page: 1, Limit: 100}, l.PageRequest(100), "first page of max size")
		assert.Empty(t, l.OrderBy)
	})

	t.Run("only page uses max limit", func(t *testing.T) {
		l, err := Listing("users", mustQuery(t, "page=3"), ordering)

		require.NoError(t, err)
		assert.Equal(t, &query.Page{Page: 3, Limit: 100}, l.PageRequest(100))
	})

	t.Run("unknown order field", func(t *testing.T) {
		_, err := Listing("users", mustQuery(t, "order_by=-password_hash"), ordering)

		require.ErrorIs(t, err, apperrors.ErrBadOrdering)
	})

	t.Run("zero page", func(t *testing.T) {
		_, err := Listing("users", mustQuery(t, "page=0"), ordering)

		require.ErrorIs(t, err, apperrors.ErrBadFilter)
		assert.Equal(t, "page", fieldOf(t, err))
	})
}

func TestIDs(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()

	ids, err := IDs("users", "ids", mustQuery(t, "ids="+id1.String()+"&ids="+id2.String()))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id1, id2}, ids)

	ids, err = IDs("users", "ids", url.Values{})
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = IDs("users", "ids", mustQuery(t, "ids=nope"))
	require.ErrorIs(t, err, apperrors.ErrBadFilter)
}
