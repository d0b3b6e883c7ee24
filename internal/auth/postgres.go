package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore { return &userStore{db: s.db} }

func (s *PGStore) Sessions(context.Context) SessionStore { return &sessionStore{db: s.db} }

func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}
func (s *PGStore) ExternalLogins(context.Context) ExternalLoginStore {
	return &externalLoginStore{db: s.db}
}
func (s *PGStore) VerificationCodes(context.Context) VerificationCodeStore {
	return &verificationCodeStore{db: s.db}
}
func (s *PGStore) Settings(context.Context) SettingsStore { return &settingsStore{db: s.db} }

const userColumns = `id, email, username, password_hash, email_verified, is_active,
	coalesce(first_name,''), coalesce(last_name,''), coalesce(display_name,''), coalesce(avatar_url,''),
	created_at, updated_at, deleted_at`

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertUser(ctx, tx, u); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *userStore) CreateWithExternalLogin(ctx context.Context, u *User, el *ExternalLogin) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertUser(ctx, tx, u); err != nil {
		return err
	}
	if err := insertExternalLogin(ctx, tx, el); err != nil {
		return err
	}
	return tx.Commit()
}

func insertUser(ctx context.Context, tx *sql.Tx, u *User) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`select exists(select 1 from users where lower(email)=lower($1) or lower(username)=lower($2))`,
		u.Email, u.Username,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err = tx.ExecContext(ctx,
		`insert into users(id, email, username, password_hash, email_verified, is_active,
			first_name, last_name, display_name, avatar_url, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.EmailVerified, u.IsActive,
		u.FirstName, u.LastName, u.DisplayName, u.AvatarURL, u.CreatedAt,
	)
	if err != nil {
		return err
	}
	for _, role := range u.Roles {
		if _, err := tx.ExecContext(ctx,
			`insert into user_roles(user_id, role_id)
			 select $1, id from roles where name=$2
			 on conflict do nothing`, u.ID, role); err != nil {
			return err
		}
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.findWhere(ctx, `id=$1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findWhere(ctx, `lower(email)=lower($1)`, email)
}

func (s *userStore) FindByIdentifier(ctx context.Context, emailOrUsername string) (*User, error) {
	return s.findWhere(ctx, `lower(email)=lower($1) or lower(username)=lower($1)`, emailOrUsername)
}

func (s *userStore) findWhere(ctx context.Context, where string, arg any) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where `+where, arg)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.EmailVerified, &u.IsActive,
		&u.FirstName, &u.LastName, &u.DisplayName, &u.AvatarURL,
		&u.CreatedAt, &u.UpdatedAt, &u.DeletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	roles, err := s.rolesFor(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (s *userStore) rolesFor(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.name from roles r join user_roles ur on ur.role_id=r.id where ur.user_id=$1 order by r.name`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

func (s *userStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where lower(username)=lower($1))`, username,
	).Scan(&exists)
	return exists, err
}

func (s *userStore) SetEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set email_verified=true, updated_at=$2 where id=$1`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Session store ------------------------------------------------------------

type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Open(ctx context.Context, sess *Session, tok *RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`insert into sessions(id, user_id, auth_method, user_agent, ip_address, created_at, last_seen_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		sess.ID, sess.UserID, sess.AuthMethod, sess.UserAgent, sess.IPAddress, sess.CreatedAt, sess.LastSeenAt,
	); err != nil {
		return err
	}
	if err := insertRefreshToken(ctx, tx, tok); err != nil {
		return err
	}
	return tx.Commit()
}

const sessionColumns = `id, user_id, auth_method, user_agent, ip_address, created_at, last_seen_at, revoked_at`

func (s *sessionStore) Find(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id)
	return scanSession(row)
}

func (s *sessionStore) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions
		 where user_id=$1 and revoked_at is null
		 order by last_seen_at desc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.AuthMethod, &sess.UserAgent, &sess.IPAddress,
		&sess.CreatedAt, &sess.LastSeenAt, &sess.RevokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set last_seen_at=$2 where id=$1 and revoked_at is null`, id, at)
	return err
}

func (s *sessionStore) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update sessions set revoked_at=$2 where id=$1 and revoked_at is null`, id, at); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where session_id=$1 and revoked_at is null`, id, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sessionStore) RevokeAllExcept(ctx context.Context, userID, keep uuid.UUID, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update sessions set revoked_at=$3 where user_id=$1 and revoked_at is null and id<>$2`,
		userID, keep, at)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$3 where user_id=$1 and revoked_at is null and session_id<>$2`,
		userID, keep, at); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Refresh token store ------------------------------------------------------

type refreshTokenStore struct{ db *sql.DB }

const refreshTokenColumns = `id, user_id, session_id, token_hash, family_id, issued_at, expires_at, revoked_at, replaced_by_id`

func insertRefreshToken(ctx context.Context, tx *sql.Tx, tok *RefreshToken) error {
	_, err := tx.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, session_id, token_hash, family_id, issued_at, expires_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		tok.ID, tok.UserID, tok.SessionID, tok.TokenHash, tok.FamilyID, tok.IssuedAt, tok.ExpiresAt)
	return err
}

func (s *refreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+refreshTokenColumns+` from refresh_tokens where token_hash=$1`, tokenHash)
	var t RefreshToken
	if err := row.Scan(&t.ID, &t.UserID, &t.SessionID, &t.TokenHash, &t.FamilyID,
		&t.IssuedAt, &t.ExpiresAt, &t.RevokedAt, &t.ReplacedByID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Rotate is the single point of truth for which of two concurrent refresh
// calls wins. The conditional update claims the old token only while its
// revoked_at is still null; zero rows affected means the race was lost and
// the whole transaction, including the new token row, rolls back.
func (s *refreshTokenStore) Rotate(ctx context.Context, oldID uuid.UUID, newTok *RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertRefreshToken(ctx, tx, newTok); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2, replaced_by_id=$3
		 where id=$1 and revoked_at is null`,
		oldID, newTok.IssuedAt, newTok.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenRevoked
	}
	return tx.Commit()
}

func (s *refreshTokenStore) RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where family_id=$1 and revoked_at is null`,
		familyID, at)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// External login store -----------------------------------------------------

type externalLoginStore struct{ db *sql.DB }

func insertExternalLogin(ctx context.Context, tx *sql.Tx, el *ExternalLogin) error {
	if el.ID == uuid.Nil {
		el.ID = uuid.New()
	}
	_, err := tx.ExecContext(ctx,
		`insert into external_logins(id, user_id, provider, provider_user_id, provider_email, linked_at)
		 values($1,$2,$3,$4,$5,$6)
		 on conflict (provider, provider_user_id) do nothing`,
		el.ID, el.UserID, el.Provider, el.ProviderUserID, el.ProviderEmail, el.LinkedAt)
	return err
}

func (s *externalLoginStore) Find(ctx context.Context, provider, providerUserID string) (*ExternalLogin, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, provider, provider_user_id, provider_email, linked_at
		 from external_logins where provider=$1 and provider_user_id=$2`,
		provider, providerUserID)
	var el ExternalLogin
	if err := row.Scan(&el.ID, &el.UserID, &el.Provider, &el.ProviderUserID, &el.ProviderEmail, &el.LinkedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &el, nil
}

func (s *externalLoginStore) Create(ctx context.Context, el *ExternalLogin) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertExternalLogin(ctx, tx, el); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *externalLoginStore) ExistsForUser(ctx context.Context, userID uuid.UUID, provider string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from external_logins where user_id=$1 and provider=$2)`,
		userID, provider,
	).Scan(&exists)
	return exists, err
}

// Verification code store --------------------------------------------------

type verificationCodeStore struct{ db *sql.DB }

func (s *verificationCodeStore) Create(ctx context.Context, c *VerificationCode) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into verification_codes(id, email, code_hash, purpose, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6)`,
		c.ID, c.Email, c.CodeHash, c.Purpose, c.ExpiresAt, c.CreatedAt)
	return err
}

func (s *verificationCodeStore) FindByHash(ctx context.Context, email, codeHash, purpose string) (*VerificationCode, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, code_hash, purpose, expires_at, consumed_at, created_at
		 from verification_codes
		 where lower(email)=lower($1) and code_hash=$2 and purpose=$3
		 order by created_at desc limit 1`,
		email, codeHash, purpose)
	var c VerificationCode
	if err := row.Scan(&c.ID, &c.Email, &c.CodeHash, &c.Purpose, &c.ExpiresAt, &c.ConsumedAt, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *verificationCodeStore) Consume(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update verification_codes set consumed_at=$2 where id=$1 and consumed_at is null`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Settings store -----------------------------------------------------------

type settingsStore struct{ db *sql.DB }

func (s *settingsStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`select value from app_config where key=$1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// Compound operations ------------------------------------------------------

func (s *PGStore) ResetPassword(ctx context.Context, userID uuid.UUID, newHash string, markVerified bool, codeID uuid.UUID, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if markVerified {
		if _, err := tx.ExecContext(ctx,
			`update users set password_hash=$2, email_verified=true, updated_at=$3 where id=$1`,
			userID, newHash, at); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`update users set password_hash=$2, updated_at=$3 where id=$1`,
			userID, newHash, at); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx,
		`update verification_codes set consumed_at=$2 where id=$1 and consumed_at is null`, codeID, at)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		// Another request consumed the code first; the whole reset loses.
		return fmt.Errorf("consume reset code: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where user_id=$1 and revoked_at is null`, userID, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) ChangePassword(ctx context.Context, userID uuid.UUID, newHash string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=$3 where id=$1`, userID, newHash, at); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where user_id=$1 and revoked_at is null`, userID, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) DeleteAccount(ctx context.Context, userID uuid.UUID, anonEmail, anonUsername, priorEmail string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update users set deleted_at=$2, is_active=false, email=$3, username=$4,
			first_name=null, last_name=null, display_name=null, avatar_url=null, updated_at=$2
		 where id=$1`,
		userID, at, anonEmail, anonUsername); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update sessions set revoked_at=$2 where user_id=$1 and revoked_at is null`, userID, at); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where user_id=$1 and revoked_at is null`, userID, at); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update verification_codes set consumed_at=$2 where lower(email)=lower($1) and consumed_at is null`,
		priorEmail, at); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
