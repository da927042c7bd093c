package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

// ============================================================================
// GenerateSecret / Confirm
// ============================================================================

func TestSecondFactorService_GenerateSecret_StoresPendingSeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")

	setup, err := env.secondFactor.GenerateSecret(ctx, p.ID)
	require.NoError(t, err)

	assert.NotEmpty(t, setup.Seed)
	assert.Contains(t, setup.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, setup.QRCode, "data:image/png;base64,")

	stored, err := env.store.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, stored.SecondFactorEnabled)
	assert.True(t, stored.HasPendingSecondFactor())
	assert.NotContains(t, string(stored.SecondFactorSeed), setup.Seed)

	status, err := env.secondFactor.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, status.Pending)
	assert.False(t, status.Enabled)
}

func TestSecondFactorService_GenerateSecret_AlreadyEnabled(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPrincipal(t, "user@example.com")
	env.enableSecondFactor(t, p.ID)

	_, err := env.secondFactor.GenerateSecret(context.Background(), p.ID)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestSecondFactorService_GenerateSecret_UnknownPrincipal(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.secondFactor.GenerateSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSecondFactorService_Confirm_EnablesAndReturnsCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")

	_, codes := env.enableSecondFactor(t, p.ID)
	assert.Len(t, codes.Codes, models.RecoveryCodeCount)
	for _, code := range codes.Codes {
		assert.Len(t, code, models.RecoveryCodeLength)
	}

	status, err := env.secondFactor.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.False(t, status.Pending)
	require.NotNil(t, status.ConfirmedAt)
	assert.Equal(t, testEpoch, *status.ConfirmedAt)
	assert.Equal(t, models.RecoveryCodeCount, status.RecoveryCodesRemaining)

	assert.Equal(t, []string{EventSecondFactorEnabled}, env.notifier.Events)
}

func TestSecondFactorService_Confirm_WrongCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")

	setup, err := env.secondFactor.GenerateSecret(ctx, p.ID)
	require.NoError(t, err)

	// A code from two steps ago is outside the window
	stale, err := env.totp.CodeAt(setup.Seed, env.clock.Now().Add(-60*time.Second))
	require.NoError(t, err)

	_, err = env.secondFactor.Confirm(ctx, p.ID, stale)
	assert.ErrorIs(t, err, models.ErrInvalidCode)

	stored, err := env.store.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, stored.SecondFactorEnabled)
	assert.Empty(t, env.notifier.Events)
}

func TestSecondFactorService_Confirm_WithoutPendingSeed(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPrincipal(t, "user@example.com")

	_, err := env.secondFactor.Confirm(context.Background(), p.ID, "123456")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestSecondFactorService_Confirm_NotificationFailureIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.NotifyFunc = func(ctx context.Context, email, event string, at time.Time) error {
		return errors.New("ses unavailable")
	}
	p := env.createPrincipal(t, "user@example.com")

	_, codes := env.enableSecondFactor(t, p.ID)
	assert.Len(t, codes.Codes, models.RecoveryCodeCount)
}

// ============================================================================
// Verify
// ============================================================================

func TestSecondFactorService_Verify_TOTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")
	seed, _ := env.enableSecondFactor(t, p.ID)

	now := env.clock.Now()
	for _, tc := range []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"current step", 0, true},
		{"previous step", -30 * time.Second, true},
		{"next step", 30 * time.Second, true},
		{"two steps back", -60 * time.Second, false},
		{"two steps ahead", 60 * time.Second, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, err := env.totp.CodeAt(seed, now.Add(tc.offset))
			require.NoError(t, err)
			assert.Equal(t, tc.want, env.secondFactor.Verify(ctx, p.ID, code))
		})
	}
}

func TestSecondFactorService_Verify_PendingSeedIsNotActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")

	setup, err := env.secondFactor.GenerateSecret(ctx, p.ID)
	require.NoError(t, err)

	assert.False(t, env.secondFactor.Verify(ctx, p.ID, env.currentCode(t, setup.Seed)))
}

func TestSecondFactorService_Verify_UnknownPrincipal(t *testing.T) {
	env := newTestEnv(t)

	assert.False(t, env.secondFactor.Verify(context.Background(), "missing", "123456"))
	assert.False(t, env.secondFactor.Verify(context.Background(), "missing", "ABCDEFGH"))
}

func TestSecondFactorService_Verify_RecoveryCodeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")
	_, codes := env.enableSecondFactor(t, p.ID)

	third := codes.Codes[2]
	assert.True(t, env.secondFactor.Verify(ctx, p.ID, third))
	assert.False(t, env.secondFactor.Verify(ctx, p.ID, third))

	status, err := env.secondFactor.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecoveryCodeCount-1, status.RecoveryCodesRemaining)

	for i, code := range codes.Codes {
		if i == 2 {
			continue
		}
		assert.True(t, env.secondFactor.Verify(ctx, p.ID, code), "code %d", i)
	}
}

func TestSecondFactorService_Verify_RecoveryCodeNormalized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")
	_, codes := env.enableSecondFactor(t, p.ID)

	code := codes.Codes[0]
	lower := []byte(code)
	for i, c := range lower {
		if c >= 'A' && c <= 'Z' {
			lower[i] = c + ('a' - 'A')
		}
	}
	assert.True(t, env.secondFactor.Verify(ctx, p.ID, string(lower[:4])+"-"+string(lower[4:])))
}

func TestSecondFactorService_Verify_ConcurrentRecoveryCodesAreNotLost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")
	_, codes := env.enableSecondFactor(t, p.ID)

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.secondFactor.Verify(ctx, p.ID, codes.Codes[i])
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "code %d", i)
	}

	status, err := env.secondFactor.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecoveryCodeCount-4, status.RecoveryCodesRemaining)
	for i := 0; i < 4; i++ {
		assert.False(t, env.secondFactor.Verify(ctx, p.ID, codes.Codes[i]))
	}
}

func TestSecondFactorService_Verify_GivesUpAfterPersistentConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")
	_, codes := env.enableSecondFactor(t, p.ID)

	attempts := 0
	store := &MockIdentityStore{
		FindByIDFunc: env.store.FindByID,
		UpdateSecondFactorStateFunc: func(ctx context.Context, id string, expectedVersion int64, state models.SecondFactorState) (*models.Principal, error) {
			attempts++
			return nil, models.ErrConflict
		},
	}
	sf := NewSecondFactorService(store, env.secrets, env.totp, nil, env.clock, nil, newTestLogger(), nil, nil,
		SecondFactorConfig{RecoveryCASAttempts: 3})

	assert.False(t, sf.Verify(ctx, p.ID, codes.Codes[0]))
	assert.Equal(t, 3, attempts)
}

func TestSecondFactorService_Verify_RecoversFromPanic(t *testing.T) {
	env := newTestEnv(t)
	store := &MockIdentityStore{
		FindByIDFunc: func(ctx context.Context, id string) (*models.Principal, error) {
			panic("store exploded")
		},
	}
	sf := NewSecondFactorService(store, env.secrets, env.totp, nil, env.clock, nil, newTestLogger(), nil, nil, SecondFactorConfig{})

	assert.NotPanics(t, func() {
		assert.False(t, sf.Verify(context.Background(), "p1", "123456"))
	})
}

func TestSecondFactorService_Verify_TimingFloor(t *testing.T) {
	env := newTestEnv(t)
	floor := auth.NewTimingFloor(auth.TimingConfig{Floor: 20 * time.Millisecond})
	sf := NewSecondFactorService(env.store, env.secrets, env.totp, floor, env.clock, nil, newTestLogger(), nil, nil, SecondFactorConfig{})

	for _, code := range []string{"123456", "ABCDEFGH", ""} {
		start := time.Now()
		assert.False(t, sf.Verify(context.Background(), "missing", code))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	}
}

// ============================================================================
// Regenerate / Disable
// ============================================================================

func TestSecondFactorService_Regenerate_InvalidatesOldCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")
	_, old := env.enableSecondFactor(t, p.ID)

	fresh, err := env.secondFactor.Regenerate(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, fresh.Codes, models.RecoveryCodeCount)

	assert.False(t, env.secondFactor.Verify(ctx, p.ID, old.Codes[0]))
	assert.True(t, env.secondFactor.Verify(ctx, p.ID, fresh.Codes[0]))
	assert.Contains(t, env.notifier.Events, EventRecoveryCodesRegenerated)
}

func TestSecondFactorService_Regenerate_RequiresEnabled(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPrincipal(t, "user@example.com")

	_, err := env.secondFactor.Regenerate(context.Background(), p.ID)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestSecondFactorService_Disable_ClearsEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")
	seed, codes := env.enableSecondFactor(t, p.ID)
	totpCode := env.currentCode(t, seed)

	require.NoError(t, env.secondFactor.Disable(ctx, p.ID))

	assert.False(t, env.secondFactor.Verify(ctx, p.ID, totpCode))
	for _, code := range codes.Codes {
		assert.False(t, env.secondFactor.Verify(ctx, p.ID, code))
	}

	stored, err := env.store.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, stored.SecondFactorEnabled)
	assert.Nil(t, stored.SecondFactorSeed)
	assert.Nil(t, stored.RecoveryCodes)
	assert.Nil(t, stored.SecondFactorConfirmedAt)

	status, err := env.secondFactor.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SecondFactorStatus{}, *status)
	assert.Contains(t, env.notifier.Events, EventSecondFactorDisabled)
}

func TestSecondFactorService_Disable_NotEnabled(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPrincipal(t, "user@example.com")

	err := env.secondFactor.Disable(context.Background(), p.ID)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestSecondFactorService_Disable_AbandonedSetup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPrincipal(t, "user@example.com")

	_, err := env.secondFactor.GenerateSecret(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, env.secondFactor.Disable(ctx, p.ID))
	assert.Empty(t, env.notifier.Events)
}
