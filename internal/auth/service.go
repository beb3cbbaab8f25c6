package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"alyanspace.org/adminauth/internal/ids"
	"alyanspace.org/adminauth/internal/obs"
)

// DefaultAdminEmail is the administrative address used when none is configured.
const DefaultAdminEmail = "admin@alyanspace.com"

// Service runs the session lifecycle: login, rotation, logout and the
// per-request authentication decision.
type Service struct {
	store  Store
	codec  *Codec
	now    func() time.Time
	logger *slog.Logger

	adminEmail        string
	adminPassword     string
	adminPasswordHash string
	passwordCost      int

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAdminEmail sets the one address allowed to log in.
func WithAdminEmail(email string) ServiceOption {
	return func(s *Service) error {
		email = NormalizeEmail(email)
		if email == "" {
			return nil
		}
		if !ValidEmail(email) {
			return fmt.Errorf("%w: invalid admin email %q", ErrMisconfigured, email)
		}
		s.adminEmail = email
		return nil
	}
}

// WithAdminPassword sets the bootstrap credential. A bcrypt digest is stored
// as-is; anything else is hashed on first use.
func WithAdminPassword(secret string) ServiceOption {
	return func(s *Service) error {
		if secret == "" {
			return nil
		}
		if IsPasswordHash(secret) {
			s.adminPasswordHash = secret
			return nil
		}
		s.adminPassword = secret
		return nil
	}
}

// WithPasswordCost overrides the bcrypt cost for newly hashed credentials.
func WithPasswordCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost > 0 {
			s.passwordCost = cost
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger overrides the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil || codec == nil {
		return nil, fmt.Errorf("%w: store and codec are required", ErrMisconfigured)
	}
	svc := &Service{
		store:        store,
		codec:        codec,
		now:          time.Now,
		logger:       obs.Logger(),
		adminEmail:   DefaultAdminEmail,
		passwordCost: DefaultPasswordCost,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Codec exposes the token codec used by the service.
func (s *Service) Codec() *Codec { return s.codec }

// Ping checks the credential store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// Login authenticates the administrative identity and opens a new session.
// Every rejection is ErrInvalidCredentials regardless of cause.
func (s *Service) Login(ctx context.Context, email, password, clientAddr string) (Session, error) {
	email = NormalizeEmail(email)
	log := s.logger.With("op", "login", "email", email, "ip", clientAddr)

	if email == "" || password == "" || email != s.adminEmail {
		s.burnCompare(password)
		log.WarnContext(ctx, "login rejected", "reason", "email mismatch")
		obs.ObserveLogin("rejected")
		return Session{}, ErrInvalidCredentials
	}

	ident, err := s.loadOrBootstrap(ctx, email)
	if err != nil {
		log.ErrorContext(ctx, "login failed", "error", err)
		obs.ObserveLogin("error")
		return Session{}, err
	}
	if !VerifyPassword(ident.PasswordHash, password) || !ident.IsActive {
		log.WarnContext(ctx, "login rejected", "reason", "credentials", "user_id", ident.ID)
		obs.ObserveLogin("rejected")
		return Session{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	pair, err := s.issuePair(ident)
	if err != nil {
		log.ErrorContext(ctx, "issue tokens", "error", err)
		obs.ObserveLogin("error")
		return Session{}, err
	}
	rec := RefreshRecord{Token: pair.RefreshToken, CreatedAt: now}
	if err := s.store.RefreshTokens(ctx).Create(ctx, ident.ID, rec); err != nil {
		log.ErrorContext(ctx, "persist refresh token", "error", err)
		obs.ObserveLogin("error")
		return Session{}, err
	}
	if err := s.store.Identities(ctx).TouchLogin(ctx, ident.ID, now); err != nil {
		log.ErrorContext(ctx, "update last login", "error", err)
		obs.ObserveLogin("error")
		return Session{}, err
	}
	ident.LastLoginAt = &now
	ident.UpdatedAt = now

	log.InfoContext(ctx, "login succeeded", "user_id", ident.ID)
	obs.ObserveLogin("success")
	return Session{User: ident.Profile(), Tokens: pair}, nil
}

// loadOrBootstrap returns the identity for email, creating it from the
// configured credential when no such identity exists yet.
func (s *Service) loadOrBootstrap(ctx context.Context, email string) (*Identity, error) {
	identities := s.store.Identities(ctx)
	ident, err := identities.FindByEmail(ctx, email)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash := s.adminPasswordHash
	if hash == "" {
		if s.adminPassword == "" {
			return nil, fmt.Errorf("%w: admin credential is not configured", ErrMisconfigured)
		}
		if hash, err = HashPassword(s.adminPassword, s.passwordCost); err != nil {
			return nil, fmt.Errorf("hash admin credential: %w", err)
		}
	}
	now := s.now().UTC()
	ident = &Identity{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := identities.Create(ctx, ident); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return identities.FindByEmail(ctx, email)
		}
		return nil, err
	}
	s.logger.WarnContext(ctx, "bootstrapped admin identity", "user_id", ident.ID, "email", email)
	return ident, nil
}

// burnCompare spends one bcrypt comparison so rejected emails cost about
// as much as a wrong password.
func (s *Service) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = HashPassword("not-a-real-credential", s.passwordCost)
	})
	if password == "" {
		password = "x"
	}
	_ = VerifyPassword(s.dummyHash, password)
}

func (s *Service) issuePair(ident *Identity) (TokenPair, error) {
	sub := ident.Subject()
	access, accessExp, err := s.codec.Issue(TokenAccess, sub)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.Issue(TokenRefresh, sub)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Rotate exchanges a refresh token for a new pair. The old token is
// single-use: its record is replaced atomically, and a second exchange of
// the same token fails with ErrTokenRevoked.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, ErrTokenRequired
	}
	log := s.logger.With("op", "refresh")

	claims, err := s.codec.Verify(refreshToken, TokenRefresh)
	if err != nil {
		log.WarnContext(ctx, "refresh rejected", "error", err)
		if errors.Is(err, ErrTokenExpired) {
			obs.ObserveRefresh("expired")
		} else {
			obs.ObserveRefresh("invalid")
		}
		return Session{}, err
	}
	log = log.With("user_id", claims.UserID)

	ident, err := s.store.Identities(ctx).Find(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.WarnContext(ctx, "refresh rejected", "reason", "unknown identity")
			obs.ObserveRefresh("invalid")
			return Session{}, ErrTokenInvalid
		}
		log.ErrorContext(ctx, "refresh failed", "error", err)
		obs.ObserveRefresh("error")
		return Session{}, err
	}
	if !ident.IsActive {
		log.WarnContext(ctx, "refresh rejected", "reason", "inactive identity")
		obs.ObserveRefresh("invalid")
		return Session{}, ErrTokenInvalid
	}

	pair, err := s.issuePair(ident)
	if err != nil {
		obs.ObserveRefresh("error")
		return Session{}, err
	}
	next := RefreshRecord{Token: pair.RefreshToken, CreatedAt: s.now().UTC()}
	if err := s.store.RefreshTokens(ctx).Rotate(ctx, ident.ID, refreshToken, next); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			log.WarnContext(ctx, "refresh rejected", "reason", "no matching record")
			obs.ObserveRefresh("revoked")
			return Session{}, ErrTokenRevoked
		}
		log.ErrorContext(ctx, "refresh failed", "error", err)
		obs.ObserveRefresh("error")
		return Session{}, err
	}

	obs.ObserveRefresh("success")
	return Session{User: ident.Profile(), Tokens: pair}, nil
}

// Logout drops one refresh record. Missing tokens and unknown records are
// not errors. When identityID is empty it is taken from the refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken, identityID string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	if identityID == "" {
		claims, err := s.codec.Verify(refreshToken, TokenRefresh)
		if err != nil {
			return nil
		}
		identityID = claims.UserID
	}
	if err := s.store.RefreshTokens(ctx).Remove(ctx, identityID, refreshToken); err != nil {
		s.logger.ErrorContext(ctx, "logout failed", "op", "logout", "user_id", identityID, "error", err)
		return err
	}
	return nil
}

// LogoutAll drops every refresh record of the identity. Access tokens
// already issued stay valid until they expire.
func (s *Service) LogoutAll(ctx context.Context, identityID string) error {
	if identityID == "" {
		return ErrInvalidInput
	}
	if err := s.store.RefreshTokens(ctx).RemoveAll(ctx, identityID); err != nil {
		s.logger.ErrorContext(ctx, "logout all failed", "op", "logout_all", "user_id", identityID, "error", err)
		return err
	}
	return nil
}

// Profile returns the sanitized identity, or ErrNotFound when it is absent
// or inactive.
func (s *Service) Profile(ctx context.Context, identityID string) (Profile, error) {
	ident, err := s.store.Identities(ctx).Find(ctx, identityID)
	if err != nil {
		return Profile{}, err
	}
	if !ident.IsActive {
		return Profile{}, ErrNotFound
	}
	return ident.Profile(), nil
}

// Authenticate verifies an access token and loads its identity. Absent or
// inactive identities are ErrUnauthorized even when the token verifies.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Principal{}, ErrTokenRequired
	}
	claims, err := s.codec.Verify(accessToken, TokenAccess)
	if err != nil {
		return Principal{}, err
	}
	ident, err := s.store.Identities(ctx).Find(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrUnauthorized
		}
		return Principal{}, err
	}
	if !ident.IsActive {
		return Principal{}, ErrUnauthorized
	}
	return Principal{User: ident.Profile(), Claims: claims, Token: accessToken}, nil
}

// PurgeExpired removes refresh records older than the refresh lifetime.
// Verification never relies on this having run.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.codec.TTL(TokenRefresh))
	n, err := s.store.RefreshTokens(ctx).PurgeCreatedBefore(ctx, cutoff)
	if err != nil {
		return n, err
	}
	obs.ObservePurged(n)
	if n > 0 {
		s.logger.InfoContext(ctx, "purged expired refresh tokens", "count", n)
	}
	return n, nil
}

// RunSweeper calls PurgeExpired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "refresh token sweep failed", "error", err)
			}
		}
	}
}
