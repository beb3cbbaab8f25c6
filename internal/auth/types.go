package auth

import (
	"net/mail"
	"strings"
	"time"
)

// Role is a fixed enumeration of identity roles.
type Role string

const RoleAdmin Role = "admin"

// Identity is a stored account. PasswordHash never leaves the auth package
// through Profile.
type Identity struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshRecord anchors a refresh token server-side. A refresh token is
// usable only while its record exists.
type RefreshRecord struct {
	Token     string
	CreatedAt time.Time
}

// Profile is the sanitized view of an Identity returned to callers.
type Profile struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLogin,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Profile strips secret material from the identity.
func (i *Identity) Profile() Profile {
	p := Profile{
		ID:        i.ID,
		Email:     i.Email,
		Role:      i.Role,
		IsActive:  i.IsActive,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
	if i.LastLoginAt != nil {
		t := *i.LastLoginAt
		p.LastLoginAt = &t
	}
	return p
}

// Subject returns the token subject for the identity.
func (i *Identity) Subject() Subject {
	return Subject{UserID: i.ID, Email: i.Email, Role: i.Role}
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Session is the result of a successful login or rotation.
type Session struct {
	User   Profile
	Tokens TokenPair
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email is a bare address (no display name).
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(email[strings.LastIndexByte(email, '@')+1:], ".")
}
