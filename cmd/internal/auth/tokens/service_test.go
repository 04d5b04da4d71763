package tokens

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"tether/cmd/internal/errs"
	"tether/cmd/security/token"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingStore counts Rotate writes and widens the race window.
type countingStore struct {
	*MemoryStore
	rotations atomic.Int32
}

func (c *countingStore) Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) error {
	c.rotations.Add(1)
	time.Sleep(5 * time.Millisecond)
	return c.MemoryStore.Rotate(ctx, id, oldHash, newHash, expiresAt, now)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	cfg.RefreshSecret = []byte(strings.Repeat("r", 32))
	return cfg
}

func newTestService(t *testing.T, cfg Config) (*Service, *countingStore, *testClock) {
	t.Helper()
	d, err := token.NewDigester(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewDigester: %v", err)
	}
	st := &countingStore{MemoryStore: NewMemoryStore()}
	clk := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	svc, err := NewService(nil, cfg, st, d, WithClock(clk.Now), WithTokenHasher(token.HashSHA256Hex))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, st, clk
}

func TestIssueAndVerifyAccess(t *testing.T) {
	t.Parallel()

	svc, st, clk := newTestService(t, testConfig())
	ctx := context.Background()

	p, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if p.AccessToken == "" || p.RefreshToken == "" || !p.RefreshExpiresAt.After(p.AccessExpiresAt) {
		t.Fatalf("unexpected pair: %+v", p)
	}

	rec, err := st.GetByTokenHash(ctx, token.HashSHA256Hex(p.RefreshToken))
	if err != nil {
		t.Fatalf("refresh record not persisted: %v", err)
	}
	if rec.Status != StatusValid || rec.UserID != "user-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	c, err := svc.VerifyAccess(p.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if c.UserID != "user-1" || c.Issuer != "tether" {
		t.Fatalf("unexpected claims: %+v", c)
	}

	clk.Advance(DefaultConfig().AccessTokenTTL + time.Minute)
	if _, err := svc.VerifyAccess(p.AccessToken); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("expired access token accepted: %v", err)
	}
	if _, err := svc.VerifyAccess("v4.public.garbage"); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("garbage accepted: %v", err)
	}
	if _, err := svc.Issue(ctx, " "); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("blank user id: %v", err)
	}
}

func TestRotateReplacesRefreshInPlace(t *testing.T) {
	t.Parallel()

	svc, st, clk := newTestService(t, testConfig())
	ctx := context.Background()

	p1, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	old, _ := st.GetByTokenHash(ctx, token.HashSHA256Hex(p1.RefreshToken))

	// An expired access token is still good for rotation.
	clk.Advance(DefaultConfig().AccessTokenTTL + time.Minute)

	p2, err := svc.Rotate(ctx, p1.AccessToken, p1.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if p2.AccessToken == p1.AccessToken || p2.RefreshToken == p1.RefreshToken {
		t.Fatalf("rotation did not mint new tokens")
	}

	if _, err := st.GetByTokenHash(ctx, token.HashSHA256Hex(p1.RefreshToken)); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("old hash still stored: %v", err)
	}
	cur, err := st.GetByTokenHash(ctx, token.HashSHA256Hex(p2.RefreshToken))
	if err != nil {
		t.Fatalf("new hash not stored: %v", err)
	}
	if cur.ID != old.ID {
		t.Fatalf("rotation appended a record instead of replacing: %s != %s", cur.ID, old.ID)
	}

	// The stale refresh token cannot be paired with anything else.
	if _, err := svc.Rotate(ctx, p2.AccessToken, p1.RefreshToken); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("stale refresh accepted: %v", err)
	}
	if _, err := svc.VerifyAccess(p2.AccessToken); err != nil {
		t.Fatalf("rotated access token invalid: %v", err)
	}
}

func TestConcurrentRotationCollapsesToOne(t *testing.T) {
	t.Parallel()

	svc, st, _ := newTestService(t, testConfig())
	ctx := context.Background()

	p, err := svc.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const n = 16
	var (
		wg      sync.WaitGroup
		results = make([]Pair, n)
		errsOut = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errsOut[i] = svc.Rotate(ctx, p.AccessToken, p.RefreshToken)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errsOut[i] != nil {
			t.Fatalf("call %d: %v", i, errsOut[i])
		}
		if results[i] != results[0] {
			t.Fatalf("call %d returned a different pair", i)
		}
	}
	if got := st.rotations.Load(); got != 1 {
		t.Fatalf("rotation writes=%d want=1", got)
	}
}

func TestRetriedRotationSharesResult(t *testing.T) {
	t.Parallel()

	svc, st, _ := newTestService(t, testConfig())
	ctx := context.Background()

	p, _ := svc.Issue(ctx, "user-1")
	a, err := svc.Rotate(ctx, p.AccessToken, p.RefreshToken)
	if err != nil {
		t.Fatalf("first Rotate: %v", err)
	}
	b, err := svc.Rotate(ctx, p.AccessToken, p.RefreshToken)
	if err != nil {
		t.Fatalf("retried Rotate: %v", err)
	}
	if a != b {
		t.Fatalf("retry returned a different pair")
	}
	if got := st.rotations.Load(); got != 1 {
		t.Fatalf("rotation writes=%d want=1", got)
	}
}

func TestRotationCacheExpires(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RotationCacheTTL = 20 * time.Millisecond
	svc, _, _ := newTestService(t, cfg)
	ctx := context.Background()

	p, _ := svc.Issue(ctx, "user-1")
	if _, err := svc.Rotate(ctx, p.AccessToken, p.RefreshToken); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if _, err := svc.Rotate(ctx, p.AccessToken, p.RefreshToken); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("expected stale pair to fail once the cache entry expired, got %v", err)
	}
}

func TestRotateRejections(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, testConfig())
	ctx := context.Background()

	alice, _ := svc.Issue(ctx, "alice")
	bob, _ := svc.Issue(ctx, "bob")

	other, _, _ := newTestService(t, testConfig())
	foreign, _ := other.Issue(ctx, "alice")

	cases := map[string][2]string{
		"empty":              {"", alice.RefreshToken},
		"garbage access":     {"nope", alice.RefreshToken},
		"garbage refresh":    {alice.AccessToken, "nope"},
		"subject mismatch":   {alice.AccessToken, bob.RefreshToken},
		"foreign signatures": {foreign.AccessToken, foreign.RefreshToken},
		"swapped tokens":     {alice.RefreshToken, alice.AccessToken},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Rotate(ctx, tc[0], tc[1]); !errors.Is(err, errs.ErrAuthentication) {
				t.Fatalf("expected authentication error, got %v", err)
			}
		})
	}
}

func TestRotateExpiredRefreshMarksRecord(t *testing.T) {
	t.Parallel()

	svc, st, clk := newTestService(t, testConfig())
	ctx := context.Background()

	p, _ := svc.Issue(ctx, "user-1")
	clk.Advance(DefaultConfig().RefreshTokenTTL + time.Hour)

	if _, err := svc.Rotate(ctx, p.AccessToken, p.RefreshToken); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	rec, err := st.GetByTokenHash(ctx, token.HashSHA256Hex(p.RefreshToken))
	if err != nil {
		t.Fatalf("GetByTokenHash: %v", err)
	}
	if rec.Status != StatusExpired {
		t.Fatalf("status=%s want=expired", rec.Status)
	}
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	svc, st, _ := newTestService(t, testConfig())
	ctx := context.Background()

	p, _ := svc.Issue(ctx, "user-1")
	if err := svc.Revoke(ctx, p.AccessToken, p.RefreshToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, p.AccessToken, p.RefreshToken); err != nil {
		t.Fatalf("second Revoke must be a no-op: %v", err)
	}
	rec, _ := st.GetByTokenHash(ctx, token.HashSHA256Hex(p.RefreshToken))
	if rec.Status != StatusRevoked {
		t.Fatalf("status=%s want=revoked", rec.Status)
	}
	if _, err := svc.Rotate(ctx, p.AccessToken, p.RefreshToken); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("revoked token rotated: %v", err)
	}

	other, _, _ := newTestService(t, testConfig())
	unknown, _ := other.Issue(ctx, "user-1")
	if err := svc.Revoke(ctx, "", unknown.RefreshToken); !errors.Is(err, errs.ErrAuthentication) {
		t.Fatalf("unknown token: expected authentication error, got %v", err)
	}
}

func TestSweeperExpiresAndPurges(t *testing.T) {
	t.Parallel()

	svc, st, clk := newTestService(t, testConfig())
	ctx := context.Background()

	stale, _ := svc.Issue(ctx, "a")
	revoked, _ := svc.Issue(ctx, "b")
	if err := svc.Revoke(ctx, revoked.AccessToken, revoked.RefreshToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	clk.Advance(DefaultConfig().RefreshTokenTTL + time.Second)
	fresh, _ := svc.Issue(ctx, "c")

	n, err := svc.ExpireStale(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ExpireStale: n=%d err=%v", n, err)
	}
	n, err = svc.PurgeInactive(ctx)
	if err != nil || n != 2 {
		t.Fatalf("PurgeInactive: n=%d err=%v", n, err)
	}

	if _, err := st.GetByTokenHash(ctx, token.HashSHA256Hex(stale.RefreshToken)); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expired record not purged")
	}
	if _, err := st.GetByTokenHash(ctx, token.HashSHA256Hex(fresh.RefreshToken)); err != nil {
		t.Fatalf("valid record purged: %v", err)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.RunSweeper(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunSweeper: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}

	if err := svc.RunSweeper(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}
