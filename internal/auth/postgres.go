package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"alyanspace.org/adminauth/internal/ids"
)

const uniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Identities(context.Context) IdentityStore        { return &pgIdentities{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore { return &pgRefreshTokens{db: s.db} }
func (s *PGStore) Ping(ctx context.Context) error                  { return s.db.PingContext(ctx) }

// Identity store -----------------------------------------------------------
type pgIdentities struct{ db *sql.DB }

const identityColumns = `id, email, password_hash, role, is_active, last_login_at, created_at, updated_at`

func (s *pgIdentities) Create(ctx context.Context, ident *Identity) error {
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
	_, err := s.db.ExecContext(ctx,
		`insert into identities(id, email, password_hash, role, is_active, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		ident.ID, ident.Email, ident.PasswordHash, string(ident.Role), ident.IsActive, ident.CreatedAt, ident.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *pgIdentities) Find(ctx context.Context, id string) (*Identity, error) {
	if !ids.Valid(id) {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where id=$1`, id)
	return scanIdentity(row)
}

func (s *pgIdentities) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where email=$1`, email)
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		ident     Identity
		role      string
		lastLogin sql.NullTime
	)
	err := row.Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &role, &ident.IsActive,
		&lastLogin, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	ident.Role = Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		ident.LastLoginAt = &t
	}
	return &ident, nil
}

func (s *pgIdentities) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx,
		`update identities set last_login_at=$2, updated_at=$2 where id=$1`, id, at.UTC())
}

func (s *pgIdentities) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx,
		`update identities set is_active=$2, updated_at=now() where id=$1`, id, active)
}

func (s *pgIdentities) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Refresh token store ------------------------------------------------------
type pgRefreshTokens struct{ db *sql.DB }

func (s *pgRefreshTokens) Create(ctx context.Context, identityID string, rec RefreshRecord) error {
	if rec.Token == "" {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(token, identity_id, created_at) values($1,$2,$3)`,
		rec.Token, identityID, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Rotate deletes the old row and inserts its replacement in one statement.
// Concurrent callers serialize on the row lock; only the first sees a row.
func (s *pgRefreshTokens) Rotate(ctx context.Context, identityID, oldToken string, next RefreshRecord) error {
	if next.Token == "" {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`with removed as (
			delete from refresh_tokens where identity_id=$1 and token=$2 returning identity_id
		)
		insert into refresh_tokens(token, identity_id, created_at)
		select $3, identity_id, $4 from removed`,
		identityID, oldToken, next.Token, next.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenRevoked
	}
	return nil
}

func (s *pgRefreshTokens) Remove(ctx context.Context, identityID, token string) error {
	if _, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where identity_id=$1 and token=$2`, identityID, token); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (s *pgRefreshTokens) RemoveAll(ctx context.Context, identityID string) error {
	if _, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where identity_id=$1`, identityID); err != nil {
		return fmt.Errorf("delete refresh tokens: %w", err)
	}
	return nil
}

func (s *pgRefreshTokens) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return res.RowsAffected()
}
