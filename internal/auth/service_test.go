package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "correct-secret"
)

type serviceFixture struct {
	svc   *Service
	store *MemoryStore
	clock *fakeClock
}

func newServiceFixture(t *testing.T, opts ...ServiceOption) *serviceFixture {
	t.Helper()
	clock := newClock()
	store := NewMemoryStore()
	base := []ServiceOption{
		WithAdminEmail(testAdminEmail),
		WithAdminPassword(testAdminPassword),
		WithPasswordCost(4),
		WithClock(clock.Now),
	}
	svc, err := NewService(store, newTestCodec(t, clock), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &serviceFixture{svc: svc, store: store, clock: clock}
}

func (f *serviceFixture) login(t *testing.T) Session {
	t.Helper()
	sess, err := f.svc.Login(context.Background(), testAdminEmail, testAdminPassword, "127.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return sess
}

func TestLoginBootstrapsAdminAndIssuesPair(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, "  ADMIN@example.com ", testAdminPassword, "10.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.User.Email != testAdminEmail || sess.User.Role != RoleAdmin || !sess.User.IsActive {
		t.Fatalf("unexpected profile: %+v", sess.User)
	}
	if sess.User.LastLoginAt == nil || !sess.User.LastLoginAt.Equal(f.clock.Now()) {
		t.Fatalf("expected last login to be set, got %v", sess.User.LastLoginAt)
	}
	if want := f.clock.Now().Add(15 * time.Minute); !sess.Tokens.AccessExpiresAt.Equal(want) {
		t.Fatalf("access expiry %v, want %v", sess.Tokens.AccessExpiresAt, want)
	}
	if want := f.clock.Now().Add(7 * 24 * time.Hour); !sess.Tokens.RefreshExpiresAt.Equal(want) {
		t.Fatalf("refresh expiry %v, want %v", sess.Tokens.RefreshExpiresAt, want)
	}
	if n := f.store.count(sess.User.ID); n != 1 {
		t.Fatalf("expected one refresh record, got %d", n)
	}

	ident, err := f.store.Identities(ctx).FindByEmail(ctx, testAdminEmail)
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if ident.PasswordHash == testAdminPassword || !VerifyPassword(ident.PasswordHash, testAdminPassword) {
		t.Fatal("expected hashed bootstrap credential")
	}

	second := f.login(t)
	if second.User.ID != sess.User.ID {
		t.Fatal("second login must reuse the bootstrapped identity")
	}
	if n := f.store.count(sess.User.ID); n != 2 {
		t.Fatalf("expected two refresh records, got %d", n)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.login(t)

	cases := []struct{ email, password string }{
		{"someone@example.com", testAdminPassword},
		{testAdminEmail, "wrong"},
		{"", ""},
		{testAdminEmail, ""},
	}
	for _, tc := range cases {
		_, err := f.svc.Login(ctx, tc.email, tc.password, "10.0.0.2")
		if err != ErrInvalidCredentials {
			t.Fatalf("Login(%q, %q) = %v, want ErrInvalidCredentials", tc.email, tc.password, err)
		}
	}
}

func TestLoginWithoutBootstrapCredentialIsMisconfigured(t *testing.T) {
	clock := newClock()
	svc, err := NewService(NewMemoryStore(), newTestCodec(t, clock), WithAdminEmail(testAdminEmail), WithPasswordCost(4))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.Login(context.Background(), testAdminEmail, "anything", ""); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}

func TestLoginAcceptsPrehashedCredential(t *testing.T) {
	hash, err := HashPassword("hashed-secret", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	clock := newClock()
	svc, err := NewService(NewMemoryStore(), newTestCodec(t, clock),
		WithAdminEmail(testAdminEmail), WithAdminPassword(hash), WithPasswordCost(4))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.Login(context.Background(), testAdminEmail, "hashed-secret", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestLoginRejectsInactiveIdentity(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess := f.login(t)
	if err := f.store.Identities(ctx).SetActive(ctx, sess.User.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := f.svc.Login(ctx, testAdminEmail, testAdminPassword, ""); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRotateIsSingleUse(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess := f.login(t)

	f.clock.Advance(time.Second)
	next, err := f.svc.Rotate(ctx, sess.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if next.Tokens.RefreshToken == sess.Tokens.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if n := f.store.count(sess.User.ID); n != 1 {
		t.Fatalf("rotation must replace, not append; got %d records", n)
	}

	_, err = f.svc.Rotate(ctx, sess.Tokens.RefreshToken)
	if !errors.Is(err, ErrTokenRevoked) || !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replay must fail as revoked, got %v", err)
	}
	if _, err := f.svc.Rotate(ctx, next.Tokens.RefreshToken); err != nil {
		t.Fatalf("rotating the fresh token: %v", err)
	}
}

func TestRotateConcurrentHasOneWinner(t *testing.T) {
	f := newServiceFixture(t)
	sess := f.login(t)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		revoked int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Rotate(context.Background(), sess.Tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrTokenRevoked):
				revoked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || revoked != workers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d revoked=%d", wins, revoked)
	}
	if n := f.store.count(sess.User.ID); n != 1 {
		t.Fatalf("expected one live record, got %d", n)
	}
}

func TestRotateExpiredTokenReportsExpiry(t *testing.T) {
	f := newServiceFixture(t)
	sess := f.login(t)

	f.clock.Advance(7*24*time.Hour + time.Second)
	_, err := f.svc.Rotate(context.Background(), sess.Tokens.RefreshToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatal("expiry must not be reported as generic invalid")
	}
}

func TestRotateRejectsAccessTokenAndMissingToken(t *testing.T) {
	f := newServiceFixture(t)
	sess := f.login(t)

	if _, err := f.svc.Rotate(context.Background(), sess.Tokens.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := f.svc.Rotate(context.Background(), " "); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired, got %v", err)
	}
}

func TestRotateRejectsInactiveIdentity(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess := f.login(t)
	_ = f.store.Identities(ctx).SetActive(ctx, sess.User.ID, false)

	if _, err := f.svc.Rotate(ctx, sess.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess := f.login(t)

	for i := 0; i < 2; i++ {
		if err := f.svc.Logout(ctx, sess.Tokens.RefreshToken, sess.User.ID); err != nil {
			t.Fatalf("Logout #%d: %v", i+1, err)
		}
	}
	if n := f.store.count(sess.User.ID); n != 0 {
		t.Fatalf("expected no records, got %d", n)
	}
	if err := f.svc.Logout(ctx, "", ""); err != nil {
		t.Fatalf("Logout without token: %v", err)
	}
	if err := f.svc.Logout(ctx, "garbage", ""); err != nil {
		t.Fatalf("Logout with garbage token: %v", err)
	}
	if _, err := f.svc.Rotate(ctx, sess.Tokens.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked after logout, got %v", err)
	}
}

func TestLogoutDerivesIdentityFromRefreshToken(t *testing.T) {
	f := newServiceFixture(t)
	sess := f.login(t)

	if err := f.svc.Logout(context.Background(), sess.Tokens.RefreshToken, ""); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if n := f.store.count(sess.User.ID); n != 0 {
		t.Fatalf("expected record removed, got %d", n)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.login(t)
	second := f.login(t)

	if err := f.svc.LogoutAll(ctx, first.User.ID); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	for _, tok := range []string{first.Tokens.RefreshToken, second.Tokens.RefreshToken} {
		if _, err := f.svc.Rotate(ctx, tok); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("expected revoked, got %v", err)
		}
	}
	// Outstanding access tokens stay valid until they expire.
	if _, err := f.svc.Authenticate(ctx, first.Tokens.AccessToken); err != nil {
		t.Fatalf("Authenticate after LogoutAll: %v", err)
	}
	f.login(t)
	if err := f.svc.LogoutAll(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestProfile(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess := f.login(t)

	p, err := f.svc.Profile(ctx, sess.User.ID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.Email != testAdminEmail {
		t.Fatalf("unexpected profile %+v", p)
	}
	if _, err := f.svc.Profile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = f.store.Identities(ctx).SetActive(ctx, sess.User.ID, false)
	if _, err := f.svc.Profile(ctx, sess.User.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive identity, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess := f.login(t)

	p, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.User.ID != sess.User.ID || p.Claims.Type != TokenAccess || !p.HasRole(RoleAdmin) || !p.HasRole() {
		t.Fatalf("unexpected principal %+v", p)
	}
	if p.HasRole(Role("auditor")) {
		t.Fatal("unexpected role match")
	}

	if _, err := f.svc.Authenticate(ctx, ""); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for refresh token, got %v", err)
	}

	_ = f.store.Identities(ctx).SetActive(ctx, sess.User.ID, false)
	if _, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for inactive identity, got %v", err)
	}

	_ = f.store.Identities(ctx).SetActive(ctx, sess.User.ID, true)
	f.clock.Advance(16 * time.Minute)
	if _, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	old := f.login(t)

	f.clock.Advance(6 * 24 * time.Hour)
	f.login(t)
	f.clock.Advance(2 * 24 * time.Hour)

	n, err := f.svc.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one purged record, got %d", n)
	}
	if c := f.store.count(old.User.ID); c != 1 {
		t.Fatalf("expected one remaining record, got %d", c)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	f := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestNewServiceValidation(t *testing.T) {
	codec := newTestCodec(t, newClock())
	if _, err := NewService(nil, codec); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
	if _, err := NewService(NewMemoryStore(), codec, WithAdminEmail("not-an-email")); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}
