//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/ledger"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/repositories"
)

var (
	testDB    *TestDB
	testRedis *TestRedis
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres setup failed: %v\n", err)
		os.Exit(1)
	}

	testRedis, err = SetupTestRedis(ctx)
	if err != nil {
		testDB.Teardown(ctx)
		fmt.Fprintf(os.Stderr, "redis setup failed: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testRedis.Teardown(ctx)
	testDB.Teardown(ctx)
	os.Exit(code)
}

func newServer(t *testing.T, revocations ledger.Ledger) *TestServer {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))

	ts := NewTestServer(testDB.DB, revocations)
	t.Cleanup(ts.Close)
	return ts
}

func register(t *testing.T, ts *TestServer, email, password string) Session {
	t.Helper()

	resp, err := ts.Request(http.MethodPost, "/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"name":     "Integration Principal",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session Session
	require.NoError(t, ParseJSONResponse(resp, &session))
	return session
}

func login(t *testing.T, ts *TestServer, email, password, code string) (*http.Response, Session) {
	t.Helper()

	body := map[string]string{"email": email, "password": password}
	if code != "" {
		body["two_factor_code"] = code
	}
	resp, err := ts.Request(http.MethodPost, "/auth/login", body, nil)
	require.NoError(t, err)

	var session Session
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, ParseJSONResponse(resp, &session))
	}
	return resp, session
}

func refresh(t *testing.T, ts *TestServer, refreshToken string) (*http.Response, Session) {
	t.Helper()

	resp, err := ts.Request(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": refreshToken}, nil)
	require.NoError(t, err)

	var session Session
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, ParseJSONResponse(resp, &session))
	}
	return resp, session
}

// ============================================================================
// Session lifecycle
// ============================================================================

func TestRegisterLoginMe(t *testing.T) {
	ts := newServer(t, nil)
	email, password := TestPrincipal("me")

	register(t, ts, email, password)

	resp, session := login(t, ts, email, password, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, session.AccessToken)

	me, err := ts.RequestWithAuth(http.MethodGet, "/auth/me", session.AccessToken, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, me.StatusCode)

	var principal struct {
		Email string `json:"email"`
	}
	require.NoError(t, ParseJSONResponse(me, &principal))
	assert.Equal(t, email, principal.Email)
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	ts := newServer(t, nil)
	email, password := TestPrincipal("dup")

	register(t, ts, email, password)

	resp, err := ts.Request(http.MethodPost, "/auth/register", map[string]string{
		"email": email, "password": password, "name": "Again",
	}, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLogin_WrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	ts := newServer(t, nil)
	email, password := TestPrincipal("enum")
	_, err := SeedPrincipal(context.Background(), testDB.DB, email, password)
	require.NoError(t, err)

	wrong, _ := login(t, ts, email, "WrongPassword123!", "")
	unknown, _ := login(t, ts, "nobody@example.com", password, "")

	require.Equal(t, http.StatusUnauthorized, wrong.StatusCode)
	require.Equal(t, http.StatusUnauthorized, unknown.StatusCode)

	wrongBody, err := GetError(wrong)
	require.NoError(t, err)
	unknownBody, err := GetError(unknown)
	require.NoError(t, err)
	assert.Equal(t, wrongBody, unknownBody)
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	ts := newServer(t, nil)
	email, password := TestPrincipal("rotate")
	first := register(t, ts, email, password)

	resp, second := refresh(t, ts, first.RefreshToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Replaying the consumed token revokes the whole family
	replay, _ := refresh(t, ts, first.RefreshToken)
	replay.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, replay.StatusCode)

	descendant, _ := refresh(t, ts, second.RefreshToken)
	descendant.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, descendant.StatusCode)
}

func TestRefresh_ConcurrentRotationHasOneWinner(t *testing.T) {
	ts := newServer(t, nil)
	email, password := TestPrincipal("race")
	session := register(t, ts, email, password)

	const attempts = 8
	statuses := make([]int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := ts.Request(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": session.RefreshToken}, nil)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, s := range statuses {
		if s == http.StatusOK {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
}

func TestLogout_RevokesAccessAndRefresh(t *testing.T) {
	ts := newServer(t, nil)
	email, password := TestPrincipal("logout")
	session := register(t, ts, email, password)

	resp, err := ts.RequestWithAuth(http.MethodPost, "/auth/logout", session.AccessToken,
		map[string]string{"refresh_token": session.RefreshToken})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	me, err := ts.RequestWithAuth(http.MethodGet, "/auth/me", session.AccessToken, nil)
	require.NoError(t, err)
	me.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, me.StatusCode)

	again, _ := refresh(t, ts, session.RefreshToken)
	again.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, again.StatusCode)
}

func TestSessionLifecycle_RedisLedger(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testRedis.Addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.FlushDB(context.Background()).Err())

	ts := newServer(t, ledger.NewRedisLedger(client, clock.System{}, testRefreshTTL, "warden-it:"))
	email, password := TestPrincipal("redis")
	first := register(t, ts, email, password)

	resp, second := refresh(t, ts, first.RefreshToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	replay, _ := refresh(t, ts, first.RefreshToken)
	replay.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, replay.StatusCode)

	descendant, _ := refresh(t, ts, second.RefreshToken)
	descendant.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, descendant.StatusCode)
}

// ============================================================================
// Second factor
// ============================================================================

func enable(t *testing.T, ts *TestServer, accessToken, password string) (string, []string) {
	t.Helper()

	resp, err := ts.RequestWithAuth(http.MethodPost, "/2fa/generate", accessToken, map[string]string{"password": password})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var setup struct {
		Seed string `json:"seed"`
	}
	require.NoError(t, ParseJSONResponse(resp, &setup))
	require.NotEmpty(t, setup.Seed)

	code, err := CurrentCode(setup.Seed)
	require.NoError(t, err)

	resp, err = ts.RequestWithAuth(http.MethodPost, "/2fa/confirm", accessToken, map[string]string{"code": code})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var codes struct {
		RecoveryCodes []string `json:"recovery_codes"`
	}
	require.NoError(t, ParseJSONResponse(resp, &codes))
	require.NotEmpty(t, codes.RecoveryCodes)
	return setup.Seed, codes.RecoveryCodes
}

func TestSecondFactor_EnableThenLoginRequiresCode(t *testing.T) {
	ts := newServer(t, nil)
	email, password := TestPrincipal("2fa")
	session := register(t, ts, email, password)

	seed, _ := enable(t, ts, session.AccessToken, password)
	assert.Contains(t, ts.Notifier.Events(), "second_factor_enabled")

	resp, challenge := login(t, ts, email, password, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(models.KindSecondFactorRequired), challenge.State)
	assert.Empty(t, challenge.AccessToken)

	bad, _ := login(t, ts, email, password, "000000")
	require.Equal(t, http.StatusUnauthorized, bad.StatusCode)
	body, err := GetError(bad)
	require.NoError(t, err)
	assert.Equal(t, string(models.KindInvalidSecondFactor), body.Error)

	code, err := CurrentCode(seed)
	require.NoError(t, err)
	ok, full := login(t, ts, email, password, code)
	require.Equal(t, http.StatusOK, ok.StatusCode)
	assert.NotEmpty(t, full.AccessToken)
}

func TestSecondFactor_RecoveryCodeIsSingleUse(t *testing.T) {
	ts := newServer(t, nil)
	email, password := TestPrincipal("recovery")
	session := register(t, ts, email, password)

	_, codes := enable(t, ts, session.AccessToken, password)

	first, _ := login(t, ts, email, password, codes[0])
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, _ := login(t, ts, email, password, codes[0])
	defer second.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, second.StatusCode)
}

// ============================================================================
// Identity store
// ============================================================================

func TestPrincipalRepository_VersionedUpdate(t *testing.T) {
	require.NoError(t, testDB.CleanupTables(context.Background()))
	ctx := context.Background()
	email, password := TestPrincipal("cas")

	p, err := SeedPrincipal(ctx, testDB.DB, email, password)
	require.NoError(t, err)

	repo := repositories.NewPrincipalRepository(testDB.DB)

	updated, err := repo.UpdateSecondFactorState(ctx, p.ID, p.SecondFactorVersion, models.PendingSecondFactor([]byte("sealed")))
	require.NoError(t, err)
	assert.Equal(t, p.SecondFactorVersion+1, updated.SecondFactorVersion)

	_, err = repo.UpdateSecondFactorState(ctx, p.ID, p.SecondFactorVersion, models.DisabledSecondFactor())
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = repo.UpdateSecondFactorState(ctx, "6f1c1f0e-0000-4000-8000-000000000000", 0, models.DisabledSecondFactor())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostgresLedger_PurgeRemovesExpired(t *testing.T) {
	require.NoError(t, testDB.CleanupTables(context.Background()))
	ctx := context.Background()

	clk := clock.NewManual(time.Now().UTC())
	l := ledger.NewPostgresLedger(testDB.DB, clk, time.Hour)

	require.NoError(t, l.Record(ctx, ledger.Entry{ID: "jti-1", PrincipalID: "p1", Family: "jti-1", ExpiresAt: clk.Now().Add(time.Minute)}))

	clk.Advance(2 * time.Hour)
	removed, err := l.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
