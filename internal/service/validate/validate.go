// Package validate holds user input rules shared by services and request validation
package validate

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

const (
	UsernameMinLen = 3
	UsernameMaxLen = 64
	PasswordMinLen = 3
)

var usernameRe = regexp.MustCompile(`^[0-9a-zA-Z_.-]+$`)

func Username(username string) error {
	switch {
	case len(username) < UsernameMinLen || len(username) > UsernameMaxLen:
		return fmt.Errorf("username length must be from %d to %d", UsernameMinLen, UsernameMaxLen)
	case !usernameRe.MatchString(username):
		return errors.New("username may contain latin letters, digits, '_', '.' and '-' only")
	default:
		return nil
	}
}

func Password(password string) error {
	if len(password) < PasswordMinLen {
		return fmt.Errorf("password must be at least %d characters", PasswordMinLen)
	}
	return nil
}

// Register adds 'username' and 'password' tags to validator
func Register(v *validator.Validate) error {
	err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return Username(fl.Field().String()) == nil
	})
	if err != nil {
		return err
	}

	return v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return Password(fl.Field().String()) == nil
	})
}
