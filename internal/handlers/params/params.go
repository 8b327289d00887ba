// Package params decodes query string into filter and listing params.
// Filters are decoded by their `query` tags, the same tags the query compiler reads.
package params

import (
	"errors"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/form/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/query"
)

var (
	decoder  = newDecoder()
	validate = newValidator()
)

func newDecoder() *form.Decoder {
	d := form.NewDecoder()
	d.SetTagName(query.TagName)
	d.RegisterCustomTypeFunc(func(vals []string) (any, error) {
		return time.Parse(time.RFC3339Nano, vals[0])
	}, time.Time{})
	d.RegisterCustomTypeFunc(func(vals []string) (any, error) {
		return uuid.Parse(vals[0])
	}, uuid.UUID{})
	return d
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get(query.TagName), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// List is page, limit and ordering of a listing request
type List struct {
	Page    *int     `query:"page" validate:"omitnil,min=1"`
	Limit   *int     `query:"limit" validate:"omitnil,min=1"`
	OrderBy []string `query:"order_by"`
}

// PageRequest is always a page, listings are never unbounded.
// Missing limit is max page size, missing page is the first one.
func (l List) PageRequest(maxLimit int) *query.Page {
	page := query.Page{Page: 1, Limit: maxLimit}
	if l.Page != nil {
		page.Page = *l.Page
	}
	if l.Limit != nil {
		page.Limit = *l.Limit
	}
	return &page
}

// Filter decodes and validates query string into filter schema T
func Filter[T any](entity string, values url.Values) (T, error) {
	var f T

	if err := decode(entity, &f, values); err != nil {
		return f, err
	}
	return f, nil
}

// Listing decodes page params and checks every order_by token is allowed
func Listing(entity string, values url.Values, ordering *query.Ordering) (List, error) {
	var l List

	if err := decode(entity, &l, values); err != nil {
		return l, err
	}

	for _, token := range l.OrderBy {
		if !ordering.Allowed(token) {
			return l, apperrors.BadOrdering(entity, token)
		}
	}
	return l, nil
}

// IDs decodes repeated or comma separated uuid param
func IDs(entity string, key string, values url.Values) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values[key]))
	for _, v := range splitList(values[key]) {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, apperrors.BadFilter(entity, key, err.Error())
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func decode(entity string, dst any, values url.Values) error {
	if err := decoder.Decode(dst, expandLists(values)); err != nil {
		var decodeErrs form.DecodeErrors
		if errors.As(err, &decodeErrs) {
			key := firstKey(decodeErrs)
			field, _, _ := strings.Cut(key, "[")
			return apperrors.BadFilter(entity, field, decodeErrs[key].Error())
		}
		return apperrors.BadFilter(entity, "", err.Error())
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			fe := validationErrs[0]
			return apperrors.BadFilter(entity, fe.Field(), fe.Error())
		}
		return apperrors.BadFilter(entity, "", err.Error())
	}

	return nil
}

// List params may be repeated (?id__in=1&id__in=2) or comma separated (?id__in=1,2)
func expandLists(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for key, vals := range values {
		if isListKey(key) {
			vals = splitList(vals)
		}
		out[key] = vals
	}
	return out
}

func isListKey(key string) bool {
	return key == "order_by" || strings.HasSuffix(key, "__in") || strings.HasSuffix(key, "__not_in")
}

func splitList(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Deterministic error for the same query
func firstKey(errs form.DecodeErrors) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys[0]
}
