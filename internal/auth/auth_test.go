package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func newTestCodec(t *testing.T, clock *fakeClock) *Codec {
	t.Helper()
	c, err := NewCodec(CodecConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

var testSubject = Subject{UserID: "01HZX3J7Q0M4S8V2E6K9T1B5RN", Email: "admin@example.com", Role: RoleAdmin}

func TestCodecRoundTrip(t *testing.T) {
	clock := newClock()
	codec := newTestCodec(t, clock)

	for _, typ := range []TokenType{TokenAccess, TokenRefresh} {
		token, exp, err := codec.Issue(typ, testSubject)
		if err != nil {
			t.Fatalf("Issue(%s): %v", typ, err)
		}
		if want := clock.Now().Add(codec.TTL(typ)); !exp.Equal(want) {
			t.Fatalf("%s expiry = %v, want %v", typ, exp, want)
		}
		claims, err := codec.Verify(token, typ)
		if err != nil {
			t.Fatalf("Verify(%s): %v", typ, err)
		}
		if claims.UserID != testSubject.UserID || claims.Email != testSubject.Email || claims.Role != RoleAdmin || claims.Type != typ {
			t.Fatalf("unexpected claims: %+v", claims)
		}
		if !claims.IssuedAt.Time.Equal(clock.Now()) {
			t.Fatalf("unexpected iat %v", claims.IssuedAt)
		}
	}
}

func TestCodecRejectsSwappedType(t *testing.T) {
	codec := newTestCodec(t, newClock())
	access, _, err := codec.Issue(TokenAccess, testSubject)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Verify(access, TokenRefresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	refresh, _, _ := codec.Issue(TokenRefresh, testSubject)
	if _, err := codec.Verify(refresh, TokenAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestCodecDetectsWrongTypeUnderSharedKey(t *testing.T) {
	clock := newClock()
	codec := newTestCodec(t, clock)
	// Same key on both sides isolates the type discriminator check.
	codec.refreshSecret = codec.accessSecret

	access, _, _ := codec.Issue(TokenAccess, testSubject)
	_, err := codec.Verify(access, TokenRefresh)
	if !errors.Is(err, ErrWrongTokenType) || !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestCodecExpiry(t *testing.T) {
	clock := newClock()
	codec := newTestCodec(t, clock)
	token, _, _ := codec.Issue(TokenRefresh, testSubject)

	clock.Advance(codec.TTL(TokenRefresh) + time.Second)
	if _, err := codec.Verify(token, TokenRefresh); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(ErrTokenExpired, ErrTokenInvalid) {
		t.Fatal("expired must stay distinguishable from invalid")
	}
}

func TestCodecRejectsTampering(t *testing.T) {
	clock := newClock()
	codec := newTestCodec(t, clock)
	token, _, _ := codec.Issue(TokenAccess, testSubject)

	other, err := NewCodec(CodecConfig{AccessSecret: "other", RefreshSecret: "other-refresh", Now: clock.Now})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if _, err := other.Verify(token, TokenAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	parts := strings.Split(token, ".")
	forged := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := codec.Verify(forged, TokenAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := codec.Verify("", TokenAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid for empty token, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u", Type: TokenAccess})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := codec.Verify(unsigned, TokenAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected alg none to be rejected, got %v", err)
	}
}

func TestCodecExpiredWithBadSignatureIsInvalid(t *testing.T) {
	clock := newClock()
	codec := newTestCodec(t, clock)
	token, _, _ := codec.Issue(TokenAccess, testSubject)
	clock.Advance(time.Hour)

	other, _ := NewCodec(CodecConfig{AccessSecret: "x1", RefreshSecret: "x2", Now: clock.Now})
	if _, err := other.Verify(token, TokenAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestIssueProducesDistinctTokens(t *testing.T) {
	codec := newTestCodec(t, newClock())
	a, _, _ := codec.Issue(TokenRefresh, testSubject)
	b, _, _ := codec.Issue(TokenRefresh, testSubject)
	if a == b {
		t.Fatal("expected distinct tokens for separate issues")
	}
}

func TestNewCodecRequiresDistinctSecrets(t *testing.T) {
	cases := []CodecConfig{
		{AccessSecret: "", RefreshSecret: "r"},
		{AccessSecret: "a", RefreshSecret: " "},
		{AccessSecret: "same", RefreshSecret: "same"},
	}
	for _, cfg := range cases {
		if _, err := NewCodec(cfg); !errors.Is(err, ErrMisconfigured) {
			t.Fatalf("NewCodec(%+v) = %v, want ErrMisconfigured", cfg, err)
		}
	}
}

func TestExpiresAtAndExpiringSoon(t *testing.T) {
	clock := newClock()
	codec := newTestCodec(t, clock)
	token, exp, _ := codec.Issue(TokenAccess, testSubject)

	got, ok := codec.ExpiresAt(token)
	if !ok || !got.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, %v; want %v", got, ok, exp)
	}
	if codec.ExpiringSoon(token, DefaultExpiringSoonWindow) {
		t.Fatal("fresh token should not be expiring soon")
	}
	clock.Advance(14 * time.Minute)
	if !codec.ExpiringSoon(token, DefaultExpiringSoonWindow) {
		t.Fatal("token one minute from expiry should be expiring soon")
	}
	if _, ok := codec.ExpiresAt("garbage"); ok {
		t.Fatal("expected no expiry for garbage")
	}
	if !codec.ExpiringSoon("garbage", time.Minute) {
		t.Fatal("unreadable tokens count as expiring")
	}
}

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer   tok ", "tok", true},
		{"BEARER tok", "tok", true},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"", "", false},
		{"Bearertok", "", false},
		{"tok", "", false},
	}
	for _, tc := range cases {
		token, ok := ExtractBearer(tc.header)
		if token != tc.token || ok != tc.ok {
			t.Fatalf("ExtractBearer(%q) = %q, %v; want %q, %v", tc.header, token, ok, tc.token, tc.ok)
		}
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct-secret", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !IsPasswordHash(hash) {
		t.Fatalf("expected bcrypt digest, got %q", hash)
	}
	if !VerifyPassword(hash, "correct-secret") {
		t.Fatal("expected password to verify")
	}
	if VerifyPassword(hash, "wrong") {
		t.Fatal("wrong password verified")
	}
	if VerifyPassword("not-a-digest", "correct-secret") || VerifyPassword("", "x") {
		t.Fatal("malformed digest must not verify")
	}
	if _, err := HashPassword("", 4); err == nil {
		t.Fatal("expected error for empty password")
	}
	if IsPasswordHash("plain-password") {
		t.Fatal("plain text detected as digest")
	}
}

func TestEmailHelpers(t *testing.T) {
	if got := NormalizeEmail("  Admin@Example.COM "); got != "admin@example.com" {
		t.Fatalf("NormalizeEmail = %q", got)
	}
	for _, ok := range []string{"admin@example.com", "a.b+c@sub.example.org"} {
		if !ValidEmail(ok) {
			t.Fatalf("ValidEmail(%q) = false", ok)
		}
	}
	for _, bad := range []string{"", "admin", "admin@", "Admin <admin@example.com>", "admin@localhost"} {
		if ValidEmail(bad) {
			t.Fatalf("ValidEmail(%q) = true", bad)
		}
	}
}
