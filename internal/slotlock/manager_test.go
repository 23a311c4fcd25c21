package slotlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caremesh/scheduling/internal/clock"
)

type fakeAppointments struct {
	booked bool
}

func (f *fakeAppointments) HasActiveOverlap(_ context.Context, _ uuid.UUID, _, _ time.Time) (bool, error) {
	return f.booked, nil
}

func newTestManager(t *testing.T, clk clock.Clock, appts *fakeAppointments) *Manager {
	t.Helper()
	if appts == nil {
		appts = &fakeAppointments{}
	}
	return NewManager(NewMemoryStore(), NewInProcessMutex(), appts, clk, zap.NewNop(), 5*time.Minute, 5*time.Minute)
}

func TestAcquire_GrantsFreshLock(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	res, err := m.Acquire(context.Background(), uuid.New(), now.Add(time.Hour), 30, uuid.New())
	require.NoError(t, err)

	assert.True(t, res.Granted)
	assert.NotEqual(t, uuid.Nil, res.Token)
	assert.Equal(t, now.Add(5*time.Minute), res.ExpiresAt)
}

func TestAcquire_OtherHolderBlocked(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	practitionerID := uuid.New()
	start := now.Add(time.Hour)

	first, err := m.Acquire(context.Background(), practitionerID, start, 30, uuid.New())
	require.NoError(t, err)
	require.True(t, first.Granted)

	second, err := m.Acquire(context.Background(), practitionerID, start, 30, uuid.New())
	require.NoError(t, err)

	assert.False(t, second.Granted)
	assert.Equal(t, "slot is temporarily held by another user", second.Message)
}

func TestAcquire_OverlappingWindowBlocked(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	practitionerID := uuid.New()
	start := now.Add(time.Hour)

	first, err := m.Acquire(context.Background(), practitionerID, start, 60, uuid.New())
	require.NoError(t, err)
	require.True(t, first.Granted)

	// Partially overlapping window, different holder.
	second, err := m.Acquire(context.Background(), practitionerID, start.Add(30*time.Minute), 60, uuid.New())
	require.NoError(t, err)
	assert.False(t, second.Granted)
}

func TestAcquire_SameHolderReentryExtends(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	practitionerID := uuid.New()
	holderID := uuid.New()
	start := now.Add(time.Hour)

	first, err := m.Acquire(context.Background(), practitionerID, start, 30, holderID)
	require.NoError(t, err)
	require.True(t, first.Granted)

	clk.Advance(2 * time.Minute)

	second, err := m.Acquire(context.Background(), practitionerID, start, 30, holderID)
	require.NoError(t, err)

	assert.True(t, second.Granted)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, "existing lock extended", second.Message)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
}

func TestAcquire_BookedWindowRejected(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, &fakeAppointments{booked: true})

	res, err := m.Acquire(context.Background(), uuid.New(), now.Add(time.Hour), 30, uuid.New())
	require.NoError(t, err)

	assert.False(t, res.Granted)
	assert.Equal(t, "slot is already booked", res.Message)
}

func TestAcquire_ExpiredLockIsReclaimable(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	practitionerID := uuid.New()
	start := now.Add(time.Hour)

	first, err := m.Acquire(context.Background(), practitionerID, start, 30, uuid.New())
	require.NoError(t, err)
	require.True(t, first.Granted)

	// Past the 5-minute TTL the hold no longer counts.
	clk.Advance(6 * time.Minute)

	second, err := m.Acquire(context.Background(), practitionerID, start, 30, uuid.New())
	require.NoError(t, err)

	assert.True(t, second.Granted)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestAcquire_ConcurrentSameWindow(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	practitionerID := uuid.New()
	start := now.Add(time.Hour)

	const attempts = 20
	results := make([]AcquireResult, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Acquire(context.Background(), practitionerID, start, 30, uuid.New())
		}(i)
	}
	wg.Wait()

	granted := 0
	for i, r := range results {
		require.NoError(t, errs[i])
		if r.Granted {
			granted++
		}
	}
	assert.Equal(t, 1, granted, "exactly one of %d concurrent attempts must win", attempts)
}

func TestValidate(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	holderID := uuid.New()
	res, err := m.Acquire(context.Background(), uuid.New(), now.Add(time.Hour), 30, holderID)
	require.NoError(t, err)
	require.True(t, res.Granted)

	t.Run("valid for the holder", func(t *testing.T) {
		ok, err := m.Validate(context.Background(), res.Token, holderID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("invalid for another holder", func(t *testing.T) {
		ok, err := m.Validate(context.Background(), res.Token, uuid.New())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid for an unknown token", func(t *testing.T) {
		ok, err := m.Validate(context.Background(), uuid.New(), holderID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid once expired", func(t *testing.T) {
		clk.Advance(6 * time.Minute)
		ok, err := m.Validate(context.Background(), res.Token, holderID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRelease(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	practitionerID := uuid.New()
	holderID := uuid.New()
	start := now.Add(time.Hour)

	res, err := m.Acquire(context.Background(), practitionerID, start, 30, holderID)
	require.NoError(t, err)
	require.True(t, res.Granted)

	t.Run("wrong holder cannot release", func(t *testing.T) {
		released, err := m.Release(context.Background(), res.Token, uuid.New())
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("holder releases", func(t *testing.T) {
		released, err := m.Release(context.Background(), res.Token, holderID)
		require.NoError(t, err)
		assert.True(t, released)
	})

	t.Run("releasing again is not an error", func(t *testing.T) {
		released, err := m.Release(context.Background(), res.Token, holderID)
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("window is free afterwards", func(t *testing.T) {
		again, err := m.Acquire(context.Background(), practitionerID, start, 30, uuid.New())
		require.NoError(t, err)
		assert.True(t, again.Granted)
	})
}

func TestExtend(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	holderID := uuid.New()
	res, err := m.Acquire(context.Background(), uuid.New(), now.Add(time.Hour), 30, holderID)
	require.NoError(t, err)
	require.True(t, res.Granted)

	t.Run("holder extends", func(t *testing.T) {
		ok, err := m.Extend(context.Background(), res.Token, holderID, 0)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("still valid past the original expiry", func(t *testing.T) {
		clk.Advance(7 * time.Minute)
		ok, err := m.Validate(context.Background(), res.Token, holderID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired lock cannot be extended", func(t *testing.T) {
		clk.Advance(10 * time.Minute)
		ok, err := m.Extend(context.Background(), res.Token, holderID, 0)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSweep(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	practitionerID := uuid.New()
	for i := 0; i < 3; i++ {
		res, err := m.Acquire(context.Background(), practitionerID, now.Add(time.Duration(i+1)*time.Hour), 30, uuid.New())
		require.NoError(t, err)
		require.True(t, res.Granted)
	}

	clk.Advance(6 * time.Minute)

	count, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestIsLocked(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	m := newTestManager(t, clk, nil)

	practitionerID := uuid.New()
	holderID := uuid.New()
	start := now.Add(time.Hour)

	res, err := m.Acquire(context.Background(), practitionerID, start, 30, holderID)
	require.NoError(t, err)
	require.True(t, res.Granted)

	t.Run("locked for everyone", func(t *testing.T) {
		locked, err := m.IsLocked(context.Background(), practitionerID, start, 30, uuid.Nil)
		require.NoError(t, err)
		assert.True(t, locked)
	})

	t.Run("not locked when the holder is excluded", func(t *testing.T) {
		locked, err := m.IsLocked(context.Background(), practitionerID, start, 30, holderID)
		require.NoError(t, err)
		assert.False(t, locked)
	})

	t.Run("adjacent window is free", func(t *testing.T) {
		locked, err := m.IsLocked(context.Background(), practitionerID, start.Add(30*time.Minute), 30, uuid.Nil)
		require.NoError(t, err)
		assert.False(t, locked)
	})

	t.Run("not locked once expired", func(t *testing.T) {
		clk.Advance(6 * time.Minute)
		locked, err := m.IsLocked(context.Background(), practitionerID, start, 30, uuid.Nil)
		require.NoError(t, err)
		assert.False(t, locked)
	})
}

func TestMemoryStoreInsert_IgnoresExpiredRows(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	store := NewMemoryStore()

	practitionerID := uuid.New()
	start := now.Add(time.Hour)

	stale := SlotLock{
		ID:              uuid.New(),
		PractitionerID:  practitionerID,
		StartTime:       start,
		DurationMinutes: 30,
		HolderID:        uuid.New(),
		Token:           uuid.New(),
		ExpiresAt:       now.Add(-time.Minute),
		CreatedAt:       now.Add(-10 * time.Minute),
	}
	require.NoError(t, store.Insert(context.Background(), stale))

	// No sweep has run; the stale row alone must not block the window.
	fresh := SlotLock{
		ID:              uuid.New(),
		PractitionerID:  practitionerID,
		StartTime:       start,
		DurationMinutes: 30,
		HolderID:        uuid.New(),
		Token:           uuid.New(),
		ExpiresAt:       now.Add(5 * time.Minute),
		CreatedAt:       now,
	}
	require.NoError(t, store.Insert(context.Background(), fresh))

	// A live row still does.
	competing := SlotLock{
		ID:              uuid.New(),
		PractitionerID:  practitionerID,
		StartTime:       start.Add(15 * time.Minute),
		DurationMinutes: 30,
		HolderID:        uuid.New(),
		Token:           uuid.New(),
		ExpiresAt:       now.Add(5 * time.Minute),
		CreatedAt:       now,
	}
	assert.ErrorIs(t, store.Insert(context.Background(), competing), ErrWindowTaken)
}

func TestAcquire_StampsCreationFromClock(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock.Fixed{Instant: now}
	store := NewMemoryStore()
	m := NewManager(store, NewInProcessMutex(), &fakeAppointments{}, clk, zap.NewNop(), 5*time.Minute, 5*time.Minute)

	res, err := m.Acquire(context.Background(), uuid.New(), now.Add(time.Hour), 30, uuid.New())
	require.NoError(t, err)
	require.True(t, res.Granted)

	lock, err := store.GetByToken(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, now, lock.CreatedAt)
}

func TestAcquire_NonPositiveDuration(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	m := newTestManager(t, &clock.Fixed{Instant: now}, nil)

	res, err := m.Acquire(context.Background(), uuid.New(), now.Add(time.Hour), 0, uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Granted)
}
