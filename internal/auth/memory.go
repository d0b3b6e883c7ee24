package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used when the API runs without a
// database and as a backend for tests. All operations take the same lock,
// which gives the same claim semantics as the SQL implementation.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*User
	sessions map[uuid.UUID]*Session
	tokens   map[uuid.UUID]*RefreshToken
	logins   map[uuid.UUID]*ExternalLogin
	codes    map[uuid.UUID]*VerificationCode
	config   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]*User),
		sessions: make(map[uuid.UUID]*Session),
		tokens:   make(map[uuid.UUID]*RefreshToken),
		logins:   make(map[uuid.UUID]*ExternalLogin),
		codes:    make(map[uuid.UUID]*VerificationCode),
		config:   make(map[string]string),
	}
}

// SetConfig seeds a tunable value, replacing whatever was there.
func (s *MemoryStore) SetConfig(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
}

func (s *MemoryStore) Users(context.Context) UserStore { return (*memUsers)(s) }

func (s *MemoryStore) Sessions(context.Context) SessionStore { return (*memSessions)(s) }

func (s *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore {
	return (*memTokens)(s)
}
func (s *MemoryStore) ExternalLogins(context.Context) ExternalLoginStore {
	return (*memLogins)(s)
}
func (s *MemoryStore) VerificationCodes(context.Context) VerificationCodeStore {
	return (*memCodes)(s)
}
func (s *MemoryStore) Settings(context.Context) SettingsStore { return (*memSettings)(s) }

// Users ---------------------------------------------------------------------

type memUsers MemoryStore

func (m *memUsers) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(u)
}

func (m *memUsers) CreateWithExternalLogin(ctx context.Context, u *User, el *ExternalLogin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertLocked(u); err != nil {
		return err
	}
	if el.ID == uuid.Nil {
		el.ID = uuid.New()
	}
	cp := *el
	m.logins[el.ID] = &cp
	return nil
}

func (m *memUsers) insertLocked(u *User) error {
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) || strings.EqualFold(existing.Username, u.Username) {
			return ErrConflict
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(ctx context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByIdentifier(ctx context.Context, emailOrUsername string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, emailOrUsername) || strings.EqualFold(u.Username, emailOrUsername) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) UsernameExists(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) SetEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.EmailVerified = true
	u.UpdatedAt = at
	return nil
}

// Sessions ------------------------------------------------------------------

type memSessions MemoryStore

func (m *memSessions) Open(ctx context.Context, sess *Session, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scp := *sess
	m.sessions[sess.ID] = &scp
	tcp := *tok
	m.tokens[tok.ID] = &tcp
	return nil
}

func (m *memSessions) Find(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *memSessions) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, sess := range m.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

func (m *memSessions) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok && sess.RevokedAt == nil {
		sess.LastSeenAt = at
	}
	return nil
}

func (m *memSessions) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok && sess.RevokedAt == nil {
		t := at
		sess.RevokedAt = &t
	}
	for _, tok := range m.tokens {
		if tok.SessionID == id && tok.RevokedAt == nil {
			t := at
			tok.RevokedAt = &t
		}
	}
	return nil
}

func (m *memSessions) RevokeAllExcept(ctx context.Context, userID, keep uuid.UUID, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sess := range m.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil && sess.ID != keep {
			t := at
			sess.RevokedAt = &t
			n++
		}
	}
	for _, tok := range m.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil && tok.SessionID != keep {
			t := at
			tok.RevokedAt = &t
		}
	}
	return n, nil
}

// Refresh tokens ------------------------------------------------------------

type memTokens MemoryStore

func (m *memTokens) FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.tokens {
		if tok.TokenHash == tokenHash {
			cp := *tok
			return &cp, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (m *memTokens) Rotate(ctx context.Context, oldID uuid.UUID, newTok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldID]
	if !ok {
		return ErrTokenNotFound
	}
	if old.RevokedAt != nil {
		return ErrTokenRevoked
	}
	t := newTok.IssuedAt
	old.RevokedAt = &t
	id := newTok.ID
	old.ReplacedByID = &id
	cp := *newTok
	m.tokens[newTok.ID] = &cp
	return nil
}

func (m *memTokens) RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tok := range m.tokens {
		if tok.FamilyID == familyID && tok.RevokedAt == nil {
			t := at
			tok.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

// External logins -----------------------------------------------------------

type memLogins MemoryStore

func (m *memLogins) Find(ctx context.Context, provider, providerUserID string) (*ExternalLogin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, el := range m.logins {
		if el.Provider == provider && el.ProviderUserID == providerUserID {
			cp := *el
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memLogins) Create(ctx context.Context, el *ExternalLogin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.logins {
		if existing.Provider == el.Provider && existing.ProviderUserID == el.ProviderUserID {
			return nil
		}
	}
	if el.ID == uuid.Nil {
		el.ID = uuid.New()
	}
	cp := *el
	m.logins[el.ID] = &cp
	return nil
}

func (m *memLogins) ExistsForUser(ctx context.Context, userID uuid.UUID, provider string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, el := range m.logins {
		if el.UserID == userID && el.Provider == provider {
			return true, nil
		}
	}
	return false, nil
}

// Verification codes --------------------------------------------------------

type memCodes MemoryStore

func (m *memCodes) Create(ctx context.Context, c *VerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	m.codes[c.ID] = &cp
	return nil
}

func (m *memCodes) FindByHash(ctx context.Context, email, codeHash, purpose string) (*VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *VerificationCode
	for _, c := range m.codes {
		if strings.EqualFold(c.Email, email) && c.CodeHash == codeHash && c.Purpose == purpose {
			if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
				newest = c
			}
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *memCodes) Consume(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[id]
	if !ok || c.ConsumedAt != nil {
		return ErrNotFound
	}
	t := at
	c.ConsumedAt = &t
	return nil
}

// Settings ------------------------------------------------------------------

type memSettings MemoryStore

func (m *memSettings) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.config[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Compound operations -------------------------------------------------------

func (s *MemoryStore) ResetPassword(ctx context.Context, userID uuid.UUID, newHash string, markVerified bool, codeID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	c, ok := s.codes[codeID]
	if !ok || c.ConsumedAt != nil {
		return ErrNotFound
	}
	u.PasswordHash = newHash
	if markVerified {
		u.EmailVerified = true
	}
	u.UpdatedAt = at
	t := at
	c.ConsumedAt = &t
	for _, tok := range s.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil {
			rt := at
			tok.RevokedAt = &rt
		}
	}
	return nil
}

func (s *MemoryStore) ChangePassword(ctx context.Context, userID uuid.UUID, newHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = newHash
	u.UpdatedAt = at
	for _, tok := range s.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil {
			t := at
			tok.RevokedAt = &t
		}
	}
	return nil
}

func (s *MemoryStore) DeleteAccount(ctx context.Context, userID uuid.UUID, anonEmail, anonUsername, priorEmail string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.DeletedAt = &t
	u.IsActive = false
	u.Email = anonEmail
	u.Username = anonUsername
	u.FirstName, u.LastName, u.DisplayName, u.AvatarURL = "", "", "", ""
	u.UpdatedAt = at
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			rt := at
			sess.RevokedAt = &rt
		}
	}
	for _, tok := range s.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil {
			rt := at
			tok.RevokedAt = &rt
		}
	}
	for _, c := range s.codes {
		if strings.EqualFold(c.Email, priorEmail) && c.ConsumedAt == nil {
			rt := at
			c.ConsumedAt = &rt
		}
	}
	return nil
}
