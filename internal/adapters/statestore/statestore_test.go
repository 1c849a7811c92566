package statestore

import (
	"context"
	"errors"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/ports"
	"med-delivery-routing/internal/services"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() domain.StabilityState {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	temp := 9.5
	return domain.StabilityState{
		OrderID:          "o-1",
		Status:           domain.StabilityTimerRunning,
		Active:           true,
		MaxExcursionTemp: 25,
		MaxTimeExertionS: 9000,
		TimerStarted:     true,
		TimerStartedAt:   &started,
		LastTemp:         &temp,
		UpdatedAt:        started.Add(time.Minute),
	}
}

func exerciseStore(t *testing.T, store ports.StabilityStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "o-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	want := sampleState()
	require.NoError(t, store.Put(ctx, want))

	got, err := store.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.MaxTimeExertionS, got.MaxTimeExertionS)
	require.NotNil(t, got.TimerStartedAt)
	assert.True(t, want.TimerStartedAt.Equal(*got.TimerStartedAt))
	require.NotNil(t, got.LastTemp)
	assert.Equal(t, 9.5, *got.LastTemp)
	assert.Nil(t, got.LastLat)

	updated, err := store.Update(ctx, "o-1", func(st *domain.StabilityState) error {
		st.Active = false
		st.Status = domain.StabilityExceeded
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "o-1", updated.OrderID)
	assert.False(t, updated.Active)

	errAbort := errors.New("abort")
	_, err = store.Update(ctx, "o-1", func(st *domain.StabilityState) error {
		st.Active = true
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	got, err = store.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, domain.StabilityExceeded, got.Status)

	require.NoError(t, store.Delete(ctx, "o-1"))
	_, err = store.Get(ctx, "o-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.Update(ctx, "o-1", func(*domain.StabilityState) error { return nil })
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.Error(t, store.Put(ctx, domain.StabilityState{}))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	exerciseStore(t, NewRedisStore(client, "", 0))
}

func TestRedisStoreExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client, "test:", time.Hour)
	require.NoError(t, store.Put(context.Background(), sampleState()))
	assert.True(t, mr.Exists("test:o-1"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(context.Background(), "o-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	client.Close()

	_, err = NewRedisClient(context.Background(), "not a url")
	require.Error(t, err)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStoreUpdateRetriesAfterConcurrentWrite(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	mine := NewRedisStore(client, "", 0)
	other := NewRedisStore(client, "", 0)
	require.NoError(t, mine.Put(ctx, sampleState()))

	var seen []domain.StabilityStatus
	saved, err := mine.Update(ctx, "o-1", func(st *domain.StabilityState) error {
		seen = append(seen, st.Status)
		if len(seen) == 1 {
			competing := *st
			competing.Active = false
			competing.Status = domain.StabilityExceeded
			require.NoError(t, other.Put(ctx, competing))
		}
		if st.Active {
			st.Status = domain.StabilityTimerRunning
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.StabilityStatus{domain.StabilityTimerRunning, domain.StabilityExceeded}, seen)
	assert.Equal(t, domain.StabilityExceeded, saved.Status)

	got, err := other.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, domain.StabilityExceeded, got.Status)
}

func TestRedisStoreUpdateGivesUpUnderConstantContention(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	mine := NewRedisStore(client, "", 0)
	other := NewRedisStore(client, "", 0)
	require.NoError(t, mine.Put(ctx, sampleState()))

	calls := 0
	_, err := mine.Update(ctx, "o-1", func(st *domain.StabilityState) error {
		calls++
		require.NoError(t, other.Put(ctx, *st))
		return nil
	})
	require.ErrorIs(t, err, domain.ErrStateConflict)
	assert.Equal(t, maxTxAttempts, calls)
}

type fixedMeds map[string]domain.MedicationLimits

func (m fixedMeds) GetMedicationLimits(_ context.Context, orderID string) (domain.MedicationLimits, error) {
	l, ok := m[orderID]
	if !ok {
		return domain.MedicationLimits{}, domain.ErrNotFound
	}
	return l, nil
}

type discardSink struct{}

func (discardSink) RecordRemainingStability(context.Context, string, int) error { return nil }

// barrierStore holds each replica's first update after its read until every replica has
// read, so all of them decide on the same stored state.
type barrierStore struct {
	ports.StabilityStore
	barrier *sync.WaitGroup
	once    sync.Once
}

func (s *barrierStore) Update(ctx context.Context, orderID string, fn func(*domain.StabilityState) error) (domain.StabilityState, error) {
	return s.StabilityStore.Update(ctx, orderID, func(st *domain.StabilityState) error {
		s.once.Do(func() {
			s.barrier.Done()
			s.barrier.Wait()
		})
		return fn(st)
	})
}

func TestSharedRedisKeepsExceededAcrossMonitors(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	meds := fixedMeds{"o-1": {OrderID: "o-1", MaxExcursionTemp: 15, MaxTimeExertion: 1800 * time.Second}}
	opts := services.StabilityOptions{FridgeMaxC: 8}

	var barrier sync.WaitGroup
	barrier.Add(2)
	storeA := &barrierStore{StabilityStore: NewRedisStore(client, "", 0), barrier: &barrier}
	storeB := &barrierStore{StabilityStore: NewRedisStore(client, "", 0), barrier: &barrier}
	replicaA := services.NewStabilityMonitor(storeA, meds, discardSink{}, nil, opts, nil, nil)
	replicaB := services.NewStabilityMonitor(storeB, meds, discardSink{}, nil, opts, nil, nil)

	_, err := replicaA.Start(ctx, "o-1")
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		outA, outB domain.StabilityOutcome
		errA, errB error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		outA, errA = replicaA.Update(ctx, "o-1", domain.Telemetry{Temp: 16})
	}()
	go func() {
		defer wg.Done()
		outB, errB = replicaB.Update(ctx, "o-1", domain.Telemetry{Temp: 9})
	}()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, domain.OutcomeExceeded, outA.Kind)
	assert.Contains(t, []domain.StabilityOutcomeKind{domain.OutcomeTimerStarted, domain.OutcomeInactive}, outB.Kind)

	state, err := replicaB.State(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, state.Active)
	assert.Equal(t, domain.StabilityExceeded, state.Status)

	out, err := replicaB.Update(ctx, "o-1", domain.Telemetry{Temp: 9})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInactive, out.Kind)
}
