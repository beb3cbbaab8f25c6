package httpapi

import (
	"regexp"
	"strings"

	"alyanspace.org/adminauth/internal/auth"
)

const minPasswordLength = 6

var scriptBlock = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)

// sanitize trims s and strips script blocks.
func sanitize(s string) string {
	return strings.TrimSpace(scriptBlock.ReplaceAllString(s, ""))
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// validate normalizes the request and reports field problems.
func (req *loginRequest) validate() []fieldError {
	req.Email = auth.NormalizeEmail(sanitize(req.Email))

	var errs []fieldError
	switch {
	case req.Email == "":
		errs = append(errs, fieldError{"email", "Email is required"})
	case !auth.ValidEmail(req.Email):
		errs = append(errs, fieldError{"email", "Please provide a valid email address"})
	}
	switch {
	case strings.TrimSpace(req.Password) == "":
		errs = append(errs, fieldError{"password", "Password is required"})
	case len(req.Password) < minPasswordLength:
		errs = append(errs, fieldError{"password", "Password must be at least 6 characters long"})
	}
	return errs
}
