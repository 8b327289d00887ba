package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	validaterules "github.com/nkiryanov/pgtemplate/internal/service/validate"
)

func configureValidator(v *validator.Validate) {
	if err := validaterules.Register(v); err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}
