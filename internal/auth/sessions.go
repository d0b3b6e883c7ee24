package auth

import (
	"context"

	"github.com/google/uuid"

	"linqyard.app/internal/obs"
)

// ListSessions returns the user's active sessions, most recently seen first,
// and bumps the current session's last-seen-at when it can be identified.
func (s *Service) ListSessions(ctx context.Context, userID uuid.UUID, current uuid.UUID) ([]*Session, error) {
	if current != uuid.Nil {
		if err := s.store.Sessions(ctx).Touch(ctx, current, s.now().UTC()); err != nil {
			obs.Event("warn", "session touch failed", map[string]any{"error": err.Error()})
		}
	}
	return s.store.Sessions(ctx).ListActiveByUser(ctx, userID)
}

// RevokeSession revokes one of the user's own sessions and its refresh
// tokens. An already-revoked session is a caller error here, unlike internal
// cascades where re-revocation is a no-op.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	sess, err := s.store.Sessions(ctx).Find(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrForbidden
	}
	if sess.Revoked() {
		return ErrSessionRevoked
	}
	if err := s.store.Sessions(ctx).Revoke(ctx, sessionID, s.now().UTC()); err != nil {
		return err
	}
	obs.CountSessionsRevoked("user_request", 1)
	return nil
}

// RevokeOtherSessions revokes every active session of the user except the
// current one and reports how many were revoked.
func (s *Service) RevokeOtherSessions(ctx context.Context, userID, keep uuid.UUID) (int, error) {
	n, err := s.store.Sessions(ctx).RevokeAllExcept(ctx, userID, keep, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		obs.CountSessionsRevoked("user_request", n)
	}
	return n, nil
}

// ResolveCurrentSession identifies which of the user's sessions issued the
// current request. Best-effort identification, not authorization: each tier
// is tried in order and the first hit wins.
//
//  1. The sid claim, when that session is active and owned by the user.
//  2. The refresh cookie, hashed and matched to an active token's session.
//  3. The most recent active session whose IP and user-agent both match.
//  4. The most recently seen active session.
func (s *Service) ResolveCurrentSession(ctx context.Context, userID uuid.UUID, claimSessionID uuid.UUID, refreshCookie string, origin Origin) (*Session, error) {
	if claimSessionID != uuid.Nil {
		sess, err := s.store.Sessions(ctx).Find(ctx, claimSessionID)
		if err == nil && !sess.Revoked() && sess.UserID == userID {
			return sess, nil
		}
	}

	if refreshCookie != "" {
		tok, err := s.store.RefreshTokens(ctx).FindByHash(ctx, HashSecret(refreshCookie))
		if err == nil && !tok.Revoked() && tok.UserID == userID {
			sess, err := s.store.Sessions(ctx).Find(ctx, tok.SessionID)
			if err == nil && !sess.Revoked() {
				return sess, nil
			}
		}
	}

	sessions, err := s.store.Sessions(ctx).ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, ErrNotFound
	}
	if origin.IPAddress != "" || origin.UserAgent != "" {
		for _, sess := range sessions {
			if sess.IPAddress == origin.IPAddress && sess.UserAgent == origin.UserAgent {
				return sess, nil
			}
		}
	}
	return sessions[0], nil
}
