// Package validation checks request payloads with go-playground/validator
// and turns failures into the client-facing messages JetVein has always
// returned.
package validation

import (
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Get returns the shared validator with the custom tags registered.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("password", validatePassword)
		_ = validate.RegisterValidation("trimmed_max100", validateTrimmedMax100)
	})
	return validate
}

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Name     string `json:"name" validate:"required,trimmed_max100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password"`
}

// Normalize trims the name and lower-cases the email.
func (r *SignupRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

// ValidateSignup returns the list of problems with r, empty when valid.
func ValidateSignup(r *SignupRequest) []string {
	err := Get().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"Invalid request body"}
	}

	var msgs []string
	for _, fe := range verrs {
		switch fe.Field() {
		case "Name":
			msgs = append(msgs, nameMessage(r.Name, fe.Tag()))
		case "Email":
			if fe.Tag() == "required" {
				msgs = append(msgs, "Email is required")
			} else {
				msgs = append(msgs, "Invalid email address")
			}
		case "Password":
			if fe.Tag() == "required" {
				msgs = append(msgs, "Password is required")
			} else {
				msgs = append(msgs, PasswordProblems(r.Password)...)
			}
		}
	}
	return msgs
}

// ValidEmail reports whether email is a syntactically valid address.
func ValidEmail(email string) bool {
	return Get().Var(email, "required,email") == nil
}

func nameMessage(name, tag string) string {
	switch {
	case tag == "required":
		return "Name is required"
	case strings.TrimSpace(name) == "":
		return "Name cannot be empty"
	default:
		return "Name must be less than 100 characters"
	}
}

func validateTrimmedMax100(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	return s != "" && len([]rune(s)) <= 100
}

func validatePassword(fl validator.FieldLevel) bool {
	return len(PasswordProblems(fl.Field().String())) == 0
}

// PasswordProblems lists every password rule p breaks.
func PasswordProblems(p string) []string {
	var out []string
	if len(p) < 8 {
		out = append(out, "Password must be at least 8 characters")
	}
	if len(p) > 128 {
		out = append(out, "Password must be less than 128 characters")
	}

	var lower, upper, digit bool
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			digit = true
		}
	}
	if !lower {
		out = append(out, "Password must contain at least one lowercase letter")
	}
	if !upper {
		out = append(out, "Password must contain at least one uppercase letter")
	}
	if !digit {
		out = append(out, "Password must contain at least one number")
	}
	return out
}
