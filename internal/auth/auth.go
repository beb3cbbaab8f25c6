package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer     = "alyanspace"
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	// DefaultExpiringSoonWindow is how close to expiry a token counts as expiring soon.
	DefaultExpiringSoonWindow = 2 * time.Minute

	bearerPrefix = "Bearer "
)

// TokenType discriminates access from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the signed token payload.
type Claims struct {
	UserID string    `json:"userId"`
	Email  string    `json:"email"`
	Role   Role      `json:"role"`
	Type   TokenType `json:"type"`
	jwt.RegisteredClaims
}

// Subject is the identity data embedded into tokens.
type Subject struct {
	UserID string
	Email  string
	Role   Role
}

// CodecConfig holds key material and lifetimes for the token codec.
type CodecConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Now           func() time.Time
}

// Codec signs and verifies HS256 tokens. Access and refresh tokens use
// separate keys and lifetimes. It holds no mutable state.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// NewCodec validates cfg and builds a Codec. Missing or shared secrets are
// reported as ErrMisconfigured.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	access := strings.TrimSpace(cfg.AccessSecret)
	refresh := strings.TrimSpace(cfg.RefreshSecret)
	if access == "" || refresh == "" {
		return nil, fmt.Errorf("%w: access and refresh secrets are required", ErrMisconfigured)
	}
	if access == refresh {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrMisconfigured)
	}
	c := &Codec{
		accessSecret:  []byte(access),
		refreshSecret: []byte(refresh),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        strings.TrimSpace(cfg.Issuer),
		now:           cfg.Now,
	}
	if c.accessTTL <= 0 {
		c.accessTTL = DefaultAccessTTL
	}
	if c.refreshTTL <= 0 {
		c.refreshTTL = DefaultRefreshTTL
	}
	if c.issuer == "" {
		c.issuer = DefaultIssuer
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// TTL returns the configured lifetime for typ.
func (c *Codec) TTL(typ TokenType) time.Duration {
	if typ == TokenRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

func (c *Codec) key(typ TokenType) ([]byte, error) {
	switch typ {
	case TokenAccess:
		return c.accessSecret, nil
	case TokenRefresh:
		return c.refreshSecret, nil
	default:
		return nil, fmt.Errorf("unknown token type %q", typ)
	}
}

// Issue signs a token of type typ for sub and returns it with its expiry.
func (c *Codec) Issue(typ TokenType, sub Subject) (string, time.Time, error) {
	key, err := c.key(typ)
	if err != nil {
		return "", time.Time{}, err
	}
	if strings.TrimSpace(sub.UserID) == "" {
		return "", time.Time{}, errors.New("userID is required")
	}

	now := c.now().UTC()
	claims := Claims{
		UserID: sub.UserID,
		Email:  sub.Email,
		Role:   sub.Role,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(typ))),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, expiry and type. Errors are ErrTokenExpired,
// ErrWrongTokenType or ErrTokenInvalid.
func (c *Codec) Verify(token string, expected TokenType) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	key, err := c.key(expected)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Type != expected {
		return nil, ErrWrongTokenType
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func validateClaims(claims *Claims) error {
	if strings.TrimSpace(claims.UserID) == "" {
		return errors.New("userId missing")
	}
	if claims.Subject != "" && claims.Subject != claims.UserID {
		return errors.New("subject mismatch")
	}
	if claims.IssuedAt == nil {
		return errors.New("issued-at missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// ExpiresAt reads the exp claim without verifying the signature.
func (c *Codec) ExpiresAt(token string) (time.Time, bool) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ExpiringSoon reports whether token expires within window. Unreadable
// tokens count as expiring.
func (c *Codec) ExpiringSoon(token string, window time.Duration) bool {
	exp, ok := c.ExpiresAt(token)
	if !ok {
		return true
	}
	return !c.now().Add(window).Before(exp)
}

// ExtractBearer returns the token from an Authorization header value.
// The scheme match is case-insensitive; anything else yields false.
func ExtractBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
