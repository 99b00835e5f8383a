package auth

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	refreshdomain "cloudbalance/backend/internal/refreshtoken/domain"
	refreshrepo "cloudbalance/backend/internal/refreshtoken/repository"
	"cloudbalance/backend/internal/security"
	sessiondomain "cloudbalance/backend/internal/session/domain"
	"cloudbalance/backend/internal/session/store"
	userdomain "cloudbalance/backend/internal/user/domain"
)

type memUserRepo struct {
	mu      sync.Mutex
	byID    map[int64]*userdomain.User
	byEmail map[string]*userdomain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[int64]*userdomain.User{}, byEmail: map[string]*userdomain.User{}}
}

func (r *memUserRepo) add(u *userdomain.User) {
	r.byID[u.ID] = u
	r.byEmail[u.Email] = u
}

func (r *memUserRepo) GetByID(_ context.Context, id int64) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEmail[email], nil
}

func (r *memUserRepo) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.LastLogin = &at
	}
	return nil
}

func (r *memUserRepo) SetTokenVersion(_ context.Context, id int64, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.TokenVersion = version
	}
	return nil
}

type memSessionStore struct {
	mu     sync.Mutex
	m      map[string]*sessiondomain.Session
	max    int
	nextID int
}

func newMemSessionStore(max int) *memSessionStore {
	return &memSessionStore{m: map[string]*sessiondomain.Session{}, max: max}
}

func (r *memSessionStore) Create(ctx context.Context, userID int64, deviceLabel, ip string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var live []*sessiondomain.Session
	for _, s := range r.m {
		if s.UserID == userID && s.Active {
			live = append(live, s)
		}
	}
	if len(live) >= r.max {
		return nil, &store.LimitError{Active: live}
	}
	r.nextID++
	now := time.Now().UTC()
	s := &sessiondomain.Session{
		ID:               "sess-" + strconv.Itoa(r.nextID),
		UserID:           userID,
		DeviceLabel:      deviceLabel,
		IPAddress:        ip,
		LoginTime:        now,
		LastActivityTime: now,
		Active:           true,
	}
	r.m[s.ID] = s
	return s, nil
}

func (r *memSessionStore) Get(_ context.Context, id string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[id], nil
}

func (r *memSessionStore) GetActive(_ context.Context, id string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok || !s.Active {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (r *memSessionStore) ListActiveByUser(_ context.Context, userID int64) ([]*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*sessiondomain.Session
	for _, s := range r.m {
		if s.UserID == userID && s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSessionStore) Touch(_ context.Context, id string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok && s.UserID == userID {
		s.LastActivityTime = time.Now().UTC()
	}
	return nil
}

func (r *memSessionStore) Invalidate(_ context.Context, id string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok && s.UserID == userID {
		delete(r.m, id)
	}
	return nil
}

func (r *memSessionStore) InvalidateAllForUser(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.m {
		if s.UserID == userID {
			delete(r.m, id)
		}
	}
	return nil
}

type memRefreshRepo struct {
	mu     sync.Mutex
	byVal  map[string]*refreshdomain.Token
	nextID int64
}

func newMemRefreshRepo() *memRefreshRepo {
	return &memRefreshRepo{byVal: map[string]*refreshdomain.Token{}}
}

func (r *memRefreshRepo) CreateOrReuse(_ context.Context, userID int64, deviceLabel, ip string, tokenVersion int, ttl time.Duration) (*refreshdomain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, t := range r.byVal {
		if t.UserID == userID && t.DeviceLabel == deviceLabel && !t.Revoked && !t.Expired(now) {
			t.ExpiresAt = now.Add(ttl)
			t.LastActivityAt = now
			t.TokenVersionAtIssue = tokenVersion
			return t, nil
		}
	}
	r.nextID++
	t := &refreshdomain.Token{
		ID:                  r.nextID,
		UserID:              userID,
		Value:               security.NewRefreshTokenValue(),
		DeviceLabel:         deviceLabel,
		IPAddress:           ip,
		TokenVersionAtIssue: tokenVersion,
		ExpiresAt:           now.Add(ttl),
		LastActivityAt:      now,
		CreatedAt:           now,
	}
	r.byVal[t.Value] = t
	return t, nil
}

func (r *memRefreshRepo) Verify(_ context.Context, value string, now time.Time) (*refreshdomain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byVal[value]
	if !ok {
		return nil, nil
	}
	if t.Expired(now) {
		delete(r.byVal, value)
		return nil, refreshrepo.ErrExpired
	}
	if t.Revoked {
		return nil, refreshrepo.ErrRevoked
	}
	return t, nil
}

func (r *memRefreshRepo) Touch(_ context.Context, value string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byVal[value]; ok {
		t.LastActivityAt = at
	}
	return nil
}

func (r *memRefreshRepo) RevokeAllForUser(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byVal {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (r *memRefreshRepo) RevokeForDevice(_ context.Context, userID int64, deviceLabel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byVal {
		if t.UserID == userID && t.DeviceLabel == deviceLabel {
			t.Revoked = true
		}
	}
	return nil
}

type memRevocation struct {
	mu        sync.Mutex
	blacklist map[string]bool
	versions  map[int64]int
}

func newMemRevocation() *memRevocation {
	return &memRevocation{blacklist: map[string]bool{}, versions: map[int64]int{}}
}

func (r *memRevocation) Blacklist(_ context.Context, token string, remaining time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if remaining > 0 {
		r.blacklist[token] = true
	}
	return nil
}

func (r *memRevocation) CurrentVersion(_ context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions[userID], nil
}

func (r *memRevocation) InitVersion(_ context.Context, userID int64, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.versions[userID]; !ok {
		r.versions[userID] = version
	}
	return nil
}

func (r *memRevocation) IncrementVersion(_ context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[userID]++
	return r.versions[userID], nil
}

type nopAudit struct{}

func (nopAudit) LogEvent(context.Context, int64, string, string, string) {}

type testDeps struct {
	users      *memUserRepo
	sessions   *memSessionStore
	refresh    *memRefreshRepo
	revocation *memRevocation
	tokens     *security.TokenProvider
}

func newTestService(t *testing.T, maxSessions int) (*Service, *testDeps) {
	t.Helper()
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte("correct horse"))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	deps := &testDeps{
		users:      newMemUserRepo(),
		sessions:   newMemSessionStore(maxSessions),
		refresh:    newMemRefreshRepo(),
		revocation: newMemRevocation(),
		tokens:     security.NewTokenProvider([]byte("test-secret"), "iss", "aud", 15*time.Minute),
	}
	deps.users.add(&userdomain.User{
		ID:           1,
		Email:        "alice@example.com",
		PasswordHash: hash,
		Role:         userdomain.RoleCustomer,
		Active:       true,
	})
	svc := NewService(deps.users, deps.sessions, deps.refresh, deps.revocation,
		hasher, deps.tokens, 24*time.Hour, nopAudit{})
	return svc, deps
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, 1)

	res, err := svc.Login(ctx, "Alice@Example.com", "correct horse", "Firefox on Linux", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" || res.SessionID == "" {
		t.Fatalf("incomplete result: %+v", res)
	}
	if res.ActiveSessions != nil {
		t.Error("successful login should not carry ActiveSessions")
	}

	claims, err := deps.tokens.Decode(res.AccessToken)
	if err != nil {
		t.Fatalf("Decode issued token: %v", err)
	}
	if claims.UserID != 1 || claims.SessionID != res.SessionID || claims.Role != userdomain.RoleCustomer {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if u, _ := deps.users.GetByID(ctx, 1); u.LastLogin == nil {
		t.Error("last login should be recorded")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1)

	if _, err := svc.Login(ctx, "alice@example.com", "wrong", "d1", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "correct horse", "d1", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogin_InactiveUser(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, 1)
	deps.users.byID[1].Active = false

	if _, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogin_LimitConflict(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1)

	if _, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", ""); err != nil {
		t.Fatalf("first login: %v", err)
	}
	res, err := svc.Login(ctx, "alice@example.com", "correct horse", "d2", "")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if res.AccessToken != "" || res.RefreshToken != "" {
		t.Error("conflict outcome must not issue tokens")
	}
	if len(res.ActiveSessions) != 1 {
		t.Fatalf("ActiveSessions has %d entries, want 1", len(res.ActiveSessions))
	}
	if res.ActiveSessions[0].DeviceLabel != "d1" {
		t.Errorf("conflict should list the existing session, got %+v", res.ActiveSessions[0])
	}
}

func TestLogin_ReusesRefreshTokenPerDevice(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 2)

	first, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", "")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if err := svc.Logout(ctx, 1, first.SessionID, "", ""); err != nil {
		t.Fatalf("logout: %v", err)
	}
	// The device token was revoked at logout, so a new value is minted.
	second, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", "")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("revoked refresh token must not be handed out again")
	}

	// Same device, still logged in: the value stays stable.
	third, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", "")
	if err != nil {
		t.Fatalf("third login: %v", err)
	}
	if third.RefreshToken != second.RefreshToken {
		t.Error("repeat login on the same device should reuse the refresh token")
	}
}

func TestForceLogin(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, 1)

	old, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	res, err := svc.ForceLogin(ctx, "alice@example.com", "correct horse", "d2", "")
	if err != nil {
		t.Fatalf("ForceLogin: %v", err)
	}
	if res.AccessToken == "" || res.ActiveSessions != nil {
		t.Fatalf("force login should always issue tokens, got %+v", res)
	}

	// Old session is gone.
	if _, err := deps.sessions.GetActive(ctx, old.SessionID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old session should be invalidated, err=%v", err)
	}
	// Old refresh token is dead.
	if _, err := deps.refresh.Verify(ctx, old.RefreshToken, time.Now().UTC()); !errors.Is(err, refreshrepo.ErrRevoked) {
		t.Errorf("old refresh token err = %v, want ErrRevoked", err)
	}
	// Version was bumped: the old access token now carries a stale version.
	oldClaims, decErr := deps.tokens.Decode(old.AccessToken)
	if decErr != nil {
		t.Fatalf("decode old token: %v", decErr)
	}
	current, _ := deps.revocation.CurrentVersion(ctx, 1)
	if oldClaims.TokenVersion >= current {
		t.Errorf("old token version %d should be below current %d", oldClaims.TokenVersion, current)
	}
	newClaims, decErr := deps.tokens.Decode(res.AccessToken)
	if decErr != nil {
		t.Fatalf("decode new token: %v", decErr)
	}
	if newClaims.TokenVersion != current {
		t.Errorf("new token version = %d, want %d", newClaims.TokenVersion, current)
	}
	// The bump is persisted for re-seeding after a Redis wipe.
	if deps.users.byID[1].TokenVersion != current {
		t.Errorf("persisted version = %d, want %d", deps.users.byID[1].TokenVersion, current)
	}
}

func TestForceLogin_WrongPassword(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, 1)

	existing, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.ForceLogin(ctx, "alice@example.com", "wrong", "d2", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	// A failed force login must not displace anything.
	if _, err := deps.sessions.GetActive(ctx, existing.SessionID); err != nil {
		t.Errorf("existing session should survive failed force login: %v", err)
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, 1)

	login, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	res, err := svc.Refresh(ctx, login.RefreshToken, login.SessionID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.SessionID != login.SessionID {
		t.Errorf("refresh should stay on the same session, got %s", res.SessionID)
	}
	claims, err := deps.tokens.Decode(res.AccessToken)
	if err != nil {
		t.Fatalf("decode refreshed token: %v", err)
	}
	if claims.UserID != 1 {
		t.Errorf("claims.UserID = %d, want 1", claims.UserID)
	}
	// The refresh value itself is unchanged.
	if res.RefreshToken != login.RefreshToken {
		t.Error("refresh must not rotate the refresh token value")
	}
}

func TestRefresh_NoSessionHint(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1)

	login, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	res, err := svc.Refresh(ctx, login.RefreshToken, "")
	if err != nil {
		t.Fatalf("Refresh without hint: %v", err)
	}
	if res.SessionID != login.SessionID {
		t.Errorf("refresh should land on the live session, got %s", res.SessionID)
	}
}

func TestRefresh_UnknownOrRevoked(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1)

	if _, err := svc.Refresh(ctx, "no-such-value", ""); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("unknown value err = %v, want ErrSessionExpired", err)
	}

	login, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.ForceLogin(ctx, "alice@example.com", "correct horse", "d2", ""); err != nil {
		t.Fatalf("force login: %v", err)
	}
	if _, err := svc.Refresh(ctx, login.RefreshToken, ""); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("revoked value err = %v, want ErrTokenRevoked", err)
	}
}

func TestRefresh_DeadSession(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, 1)

	login, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := deps.sessions.InvalidateAllForUser(ctx, 1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	// Refresh token is fine but there is no session to hang the access token on.
	if _, err := svc.Refresh(ctx, login.RefreshToken, login.SessionID); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, 1)

	login, err := svc.Login(ctx, "alice@example.com", "correct horse", "d1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.Logout(ctx, 1, login.SessionID, login.AccessToken, "10.0.0.1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if !deps.revocation.blacklist[login.AccessToken] {
		t.Error("access token should be blacklisted for its remaining lifetime")
	}
	if _, err := deps.sessions.GetActive(ctx, login.SessionID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("session should be invalidated, err=%v", err)
	}
	if _, err := deps.refresh.Verify(ctx, login.RefreshToken, time.Now().UTC()); !errors.Is(err, refreshrepo.ErrRevoked) {
		t.Errorf("device refresh token err = %v, want ErrRevoked", err)
	}

	// Logging out again is a no-op, not an error.
	if err := svc.Logout(ctx, 1, login.SessionID, login.AccessToken, ""); err != nil {
		t.Errorf("repeat logout: %v", err)
	}
}

func TestLogout_ForeignSessionUntouched(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestService(t, 1)

	hasher := security.NewHasher(4)
	hash, _ := hasher.Hash([]byte("other pw"))
	deps.users.add(&userdomain.User{ID: 2, Email: "bob@example.com", PasswordHash: hash, Role: userdomain.RoleAdmin, Active: true})

	bob, err := svc.Login(ctx, "bob@example.com", "other pw", "d1", "")
	if err != nil {
		t.Fatalf("bob login: %v", err)
	}
	// Alice presents Bob's session id; nothing of Bob's may die.
	if err := svc.Logout(ctx, 1, bob.SessionID, "", ""); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := deps.sessions.GetActive(ctx, bob.SessionID); err != nil {
		t.Errorf("bob's session should survive: %v", err)
	}
}
