package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"linqyard.app/internal/mail"
	"linqyard.app/internal/obs"
)

// DeleteConfirmationPhrase must be typed verbatim to delete an account.
const DeleteConfirmationPhrase = "DELETE MY ACCOUNT"

// VerifyEmail consumes a Signup code and marks the account verified. The
// welcome email is best-effort.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	vc, err := s.findUsableCode(ctx, email, code, PurposeSignup)
	if err != nil {
		return err
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: invalid or expired code", ErrValidation)
		}
		return err
	}
	now := s.now().UTC()
	if err := s.store.VerificationCodes(ctx).Consume(ctx, vc.ID, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: invalid or expired code", ErrValidation)
		}
		return err
	}
	if !user.EmailVerified {
		if err := s.store.Users(ctx).SetEmailVerified(ctx, user.ID, now); err != nil {
			return err
		}
	}
	if err := s.mailer.Publish(ctx, mail.Event{
		Kind:    mail.KindSecurity,
		Email:   email,
		Subject: "Welcome to Linqyard",
	}); err != nil {
		obs.Event("warn", "welcome email not queued", map[string]any{"error": err.Error()})
	}
	return nil
}

// findUsableCode validates a presented code: it must hash to the newest
// matching row, be unconsumed, and be unexpired. All failures collapse into
// the same validation error.
func (s *Service) findUsableCode(ctx context.Context, email, code, purpose string) (*VerificationCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if email == "" || code == "" {
		return nil, fmt.Errorf("%w: invalid or expired code", ErrValidation)
	}
	vc, err := s.store.VerificationCodes(ctx).FindByHash(ctx, email, HashSecret(code), purpose)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid or expired code", ErrValidation)
		}
		return nil, err
	}
	if vc.Consumed() || s.now().UTC().After(vc.ExpiresAt) {
		return nil, fmt.Errorf("%w: invalid or expired code", ErrValidation)
	}
	return vc, nil
}

// ResendVerification issues a fresh Signup code for still-unverified accounts.
// Like ForgotPassword it responds identically whether or not the account
// exists or is already verified.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if user.EmailVerified || user.DeletedAt != nil {
		return nil
	}
	if err := s.sendCode(ctx, email, PurposeSignup, resendCodeTTL, mail.KindVerification); err != nil {
		obs.Event("warn", "verification email not queued", map[string]any{"error": err.Error()})
	}
	return nil
}

// ForgotPassword issues a PasswordReset code when the account exists. The
// response to the caller is identical either way; only the internal side
// effect differs.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if user.DeletedAt != nil || !user.IsActive {
		return nil
	}
	if err := s.sendCode(ctx, email, PurposePasswordReset, resetCodeTTL, mail.KindPasswordReset); err != nil {
		obs.Event("warn", "password reset email not queued", map[string]any{"error": err.Error()})
	}
	return nil
}

// ResetPassword consumes a PasswordReset code, replaces the password hash and
// revokes every outstanding refresh token. Proving mailbox access also
// verifies a previously unverified email.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.settings.ValidatePassword(ctx, newPassword); err != nil {
		return err
	}
	vc, err := s.findUsableCode(ctx, email, code, PurposePasswordReset)
	if err != nil {
		return err
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: invalid or expired code", ErrValidation)
		}
		return err
	}
	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.ResetPassword(ctx, user.ID, hash, !user.EmailVerified, vc.ID, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: invalid or expired code", ErrValidation)
		}
		return err
	}
	obs.CountSessionsRevoked("password_reset", 1)
	return nil
}

// ChangePassword replaces the password of an authenticated user. Accounts
// with a linked external login set their first password without presenting a
// current one; everyone else must verify it. All refresh tokens are revoked.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.settings.ValidatePassword(ctx, newPassword); err != nil {
		return err
	}
	hasExternal, err := s.store.ExternalLogins(ctx).ExistsForUser(ctx, userID, MethodGoogle)
	if err != nil {
		return err
	}
	if !hasExternal {
		if !VerifyPassword(user.PasswordHash, currentPassword) {
			return ErrInvalidCredentials
		}
	}
	if VerifyPassword(user.PasswordHash, newPassword) {
		return fmt.Errorf("%w: new password must differ from the current one", ErrValidation)
	}
	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.store.ChangePassword(ctx, userID, hash, s.now().UTC()); err != nil {
		return err
	}
	obs.CountSessionsRevoked("password_change", 1)
	if err := s.mailer.Publish(ctx, mail.Event{
		Kind:    mail.KindSecurity,
		Email:   user.Email,
		Subject: "Your password was changed",
	}); err != nil {
		obs.Event("warn", "security email not queued", map[string]any{"error": err.Error()})
	}
	return nil
}

// DeleteAccount anonymizes the user after verifying the confirmation phrase
// and password. Email and username are derived from the user id so the
// anonymized values are deterministic and cannot collide with live accounts.
func (s *Service) DeleteAccount(ctx context.Context, userID uuid.UUID, confirmation, password string) error {
	if strings.TrimSpace(confirmation) != DeleteConfirmationPhrase {
		return fmt.Errorf("%w: confirmation text does not match", ErrValidation)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if user.DeletedAt != nil {
		return ErrNotFound
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return ErrInvalidCredentials
	}

	anonEmail := fmt.Sprintf("deleted_%s@deleted.local", userID)
	anonUsername := fmt.Sprintf("deleted_%s", userID)
	if err := s.store.DeleteAccount(ctx, userID, anonEmail, anonUsername, user.Email, s.now().UTC()); err != nil {
		return err
	}
	obs.CountSessionsRevoked("account_deleted", 1)
	return nil
}
