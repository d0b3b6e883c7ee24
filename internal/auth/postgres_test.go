package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPGStore(db), mock
}

func sampleToken(now time.Time) *RefreshToken {
	return &RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		SessionID: uuid.New(),
		TokenHash: HashSecret("secret"),
		FamilyID:  uuid.New(),
		IssuedAt:  now,
		ExpiresAt: now.Add(RefreshShortWindow),
	}
}

func TestRotateClaimsOldToken(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	oldID := uuid.New()
	newTok := sampleToken(now)

	mock.ExpectBegin()
	mock.ExpectExec("insert into refresh_tokens").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked_at").
		WithArgs(oldID, newTok.IssuedAt, newTok.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.RefreshTokens(context.Background()).Rotate(context.Background(), oldID, newTok); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateLostRaceRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	oldID := uuid.New()
	newTok := sampleToken(now)

	mock.ExpectBegin()
	mock.ExpectExec("insert into refresh_tokens").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// zero rows affected: a concurrent caller already claimed the token
	mock.ExpectExec("update refresh_tokens set revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.RefreshTokens(context.Background()).Rotate(context.Background(), oldID, newTok)
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByHashNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from refresh_tokens where token_hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.RefreshTokens(context.Background()).FindByHash(context.Background(), HashSecret("nope"))
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestSessionRevokeCascadesInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	sessionID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update sessions set revoked_at").
		WithArgs(sessionID, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked_at").
		WithArgs(sessionID, now).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	if err := store.Sessions(context.Background()).Revoke(context.Background(), sessionID, now); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserCreateConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := store.Users(context.Background()).Create(context.Background(), &User{
		Email:    "bob@example.com",
		Username: "bobby",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSettingsGetMissingKey(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select value from app_config").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err := store.Settings(context.Background()).Get(context.Background(), "auth.password_min_length")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
