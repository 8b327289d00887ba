package query

import (
	"errors"
	"strings"
)

const KeySeparator = "__"

var errEmptyKey = errors.New("empty filter key")

// Key is a parsed filter key 'field__operator'
type Key struct {
	Raw      string
	Field    string
	Operator string
}

// ParseKey splits raw key on the last separator whose suffix is a known operator.
// Without such suffix the whole key is the field and operator is "" (equality).
func ParseKey(raw string, known func(op string) bool) (Key, error) {
	if raw == "" || raw == KeySeparator {
		return Key{}, errEmptyKey
	}

	idx := strings.LastIndex(raw, KeySeparator)
	if idx > 0 {
		op := raw[idx+len(KeySeparator):]
		if op != "" && known(op) {
			return Key{Raw: raw, Field: raw[:idx], Operator: op}, nil
		}
	}

	return Key{Raw: raw, Field: raw, Operator: ""}, nil
}
