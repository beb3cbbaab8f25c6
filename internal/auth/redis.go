package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"alyanspace.org/adminauth/internal/ids"
)

// rotateRefreshScript removes ARGV[1] from the identity's refresh set and adds
// ARGV[2] only when the removal happened. Returns 1 on rotation, 0 otherwise.
const rotateRefreshScript = `
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
  redis.call("ZADD", KEYS[1], ARGV[3], ARGV[2])
  return 1
end
return 0
`

// hsetIfExistsScript updates hash fields only when the hash exists.
const hsetIfExistsScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`

// createIdentityScript claims the email index KEYS[1] for ARGV[1] and, in the
// same step, writes the identity hash KEYS[2] from the field/value pairs in
// ARGV[2:] and indexes the id in KEYS[3]. Returns 0 when the email is taken.
const createIdentityScript = `
if not redis.call("SET", KEYS[1], ARGV[1], "NX") then
  return 0
end
redis.call("HSET", KEYS[2], unpack(ARGV, 2))
redis.call("SADD", KEYS[3], ARGV[1])
return 1
`

var (
	rotateRefreshLua  = redis.NewScript(rotateRefreshScript)
	hsetIfExistsLua   = redis.NewScript(hsetIfExistsScript)
	createIdentityLua = redis.NewScript(createIdentityScript)
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each identity in a hash, an email index key and the
// refresh records in a sorted set scored by creation time (unix ms).
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store namespaced under prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "adminauth"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Identities(context.Context) IdentityStore        { return redisIdentities{s} }
func (s *RedisStore) RefreshTokens(context.Context) RefreshTokenStore { return redisRefreshTokens{s} }
func (s *RedisStore) Ping(ctx context.Context) error                  { return s.rdb.Ping(ctx).Err() }

func (s *RedisStore) identityKey(id string) string { return s.prefix + ":identity:" + id }
func (s *RedisStore) emailKey(email string) string { return s.prefix + ":email:" + email }
func (s *RedisStore) refreshKey(id string) string  { return s.prefix + ":refresh:" + id }
func (s *RedisStore) identitiesKey() string        { return s.prefix + ":identities" }

// Identity store -----------------------------------------------------------
type redisIdentities struct{ s *RedisStore }

func (r redisIdentities) Create(ctx context.Context, ident *Identity) error {
	if ident == nil || ident.Email == "" {
		return ErrInvalidInput
	}
	if ident.ID == "" {
		ident.ID = ids.New()
	}
	now := time.Now().UTC()
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = now
	}
	if ident.UpdatedAt.IsZero() {
		ident.UpdatedAt = ident.CreatedAt
	}
	args := []any{ident.ID}
	for k, v := range identityFields(ident) {
		args = append(args, k, v)
	}
	keys := []string{r.s.emailKey(ident.Email), r.s.identityKey(ident.ID), r.s.identitiesKey()}
	created, err := createIdentityLua.Run(ctx, r.s.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("store identity: %w", err)
	}
	if created == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func identityFields(ident *Identity) map[string]any {
	fields := map[string]any{
		"id":            ident.ID,
		"email":         ident.Email,
		"password_hash": ident.PasswordHash,
		"role":          string(ident.Role),
		"is_active":     boolField(ident.IsActive),
		"created_at":    ident.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    ident.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"last_login_at": "",
	}
	if ident.LastLoginAt != nil {
		fields["last_login_at"] = ident.LastLoginAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (r redisIdentities) Find(ctx context.Context, id string) (*Identity, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	vals, err := r.s.rdb.HGetAll(ctx, r.s.identityKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return parseIdentity(vals)
}

func parseIdentity(vals map[string]string) (*Identity, error) {
	ident := &Identity{
		ID:           vals["id"],
		Email:        vals["email"],
		PasswordHash: vals["password_hash"],
		Role:         Role(vals["role"]),
		IsActive:     vals["is_active"] == "1",
	}
	var err error
	if ident.CreatedAt, err = time.Parse(time.RFC3339Nano, vals["created_at"]); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if ident.UpdatedAt, err = time.Parse(time.RFC3339Nano, vals["updated_at"]); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if raw := vals["last_login_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse last_login_at: %w", err)
		}
		ident.LastLoginAt = &t
	}
	return ident, nil
}

func (r redisIdentities) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	id, err := r.s.rdb.Get(ctx, r.s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	return r.Find(ctx, id)
}

func (r redisIdentities) TouchLogin(ctx context.Context, id string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	return r.hsetIfExists(ctx, id, "last_login_at", ts, "updated_at", ts)
}

func (r redisIdentities) SetActive(ctx context.Context, id string, active bool) error {
	return r.hsetIfExists(ctx, id,
		"is_active", boolField(active),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano))
}

func (r redisIdentities) hsetIfExists(ctx context.Context, id string, fieldValues ...any) error {
	n, err := hsetIfExistsLua.Run(ctx, r.s.rdb, []string{r.s.identityKey(id)}, fieldValues...).Int64()
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Refresh token store ------------------------------------------------------
type redisRefreshTokens struct{ s *RedisStore }

func score(t time.Time) float64 { return float64(t.UTC().UnixMilli()) }

func (r redisRefreshTokens) Create(ctx context.Context, identityID string, rec RefreshRecord) error {
	if rec.Token == "" {
		return ErrInvalidInput
	}
	err := r.s.rdb.ZAdd(ctx, r.s.refreshKey(identityID), redis.Z{Score: score(rec.CreatedAt), Member: rec.Token}).Err()
	if err != nil {
		return fmt.Errorf("add refresh token: %w", err)
	}
	return nil
}

func (r redisRefreshTokens) Rotate(ctx context.Context, identityID, oldToken string, next RefreshRecord) error {
	if next.Token == "" {
		return ErrInvalidInput
	}
	n, err := rotateRefreshLua.Run(ctx, r.s.rdb,
		[]string{r.s.refreshKey(identityID)},
		oldToken, next.Token, strconv.FormatInt(next.CreatedAt.UTC().UnixMilli(), 10),
	).Int64()
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if n == 0 {
		return ErrTokenRevoked
	}
	return nil
}

func (r redisRefreshTokens) Remove(ctx context.Context, identityID, token string) error {
	if err := r.s.rdb.ZRem(ctx, r.s.refreshKey(identityID), token).Err(); err != nil {
		return fmt.Errorf("remove refresh token: %w", err)
	}
	return nil
}

func (r redisRefreshTokens) RemoveAll(ctx context.Context, identityID string) error {
	if err := r.s.rdb.Del(ctx, r.s.refreshKey(identityID)).Err(); err != nil {
		return fmt.Errorf("remove refresh tokens: %w", err)
	}
	return nil
}

func (r redisRefreshTokens) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	idents, err := r.s.rdb.SMembers(ctx, r.s.identitiesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list identities: %w", err)
	}
	max := "(" + strconv.FormatInt(cutoff.UTC().UnixMilli(), 10)
	var total int64
	for _, id := range idents {
		n, err := r.s.rdb.ZRemRangeByScore(ctx, r.s.refreshKey(id), "-inf", max).Result()
		if err != nil {
			return total, fmt.Errorf("purge refresh tokens: %w", err)
		}
		total += n
	}
	return total, nil
}
