package session

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLength applies to every password a user chooses.
const MinPasswordLength = 8

type inputValidator struct {
	v *validator.Validate
}

func newInputValidator() *inputValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if label := f.Tag.Get("label"); label != "" {
			return label
		}
		return f.Name
	})
	return &inputValidator{v: v}
}

func (iv *inputValidator) credentials(c Credentials) error {
	email := strings.TrimSpace(c.Email)
	username := strings.TrimSpace(c.Username)

	switch {
	case email == "" && username == "":
		return errors.New("Email or username is required")
	case email != "" && username != "":
		return errors.New("Use either email or username, not both")
	}

	c.Email, c.Username = email, username
	return iv.structure(c)
}

func (iv *inputValidator) emailAndCode(email string, code string) error {
	if err := iv.email(email); err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return errors.New("Verification code is required")
	}
	return nil
}

func (iv *inputValidator) email(email string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("Email is required")
	}
	if err := iv.v.Var(strings.TrimSpace(email), "email"); err != nil {
		return errors.New("Email must be a valid email address")
	}
	return nil
}

// structure runs tag validation and returns the first failure as a
// user-facing message.
func (iv *inputValidator) structure(s any) error {
	err := iv.v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	return errors.New(describe(fieldErrs[0]))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "eqfield":
		return "Passwords do not match"
	case "nefield":
		return "New password must be different from the current password"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
