package services

import (
	"context"
	"errors"
	"med-delivery-routing/internal/domain"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type monitorFixture struct {
	monitor *StabilityMonitor
	clock   *fakeClock
	store   *memStore
	sink    *fakeSink
	alerts  *fakeAlerts
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()

	f := &monitorFixture{
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		store:  newMemStore(),
		sink:   &fakeSink{},
		alerts: &fakeAlerts{},
	}
	meds := fakeMeds{
		"order-1": {OrderID: "order-1", MaxExcursionTemp: 15, MaxTimeExertion: 1800 * time.Second},
		"order-2": {OrderID: "order-2", MaxExcursionTemp: 25, MaxTimeExertion: time.Hour},
	}
	f.monitor = NewStabilityMonitor(f.store, meds, f.sink, f.alerts,
		StabilityOptions{FridgeMaxC: 8, Now: f.clock.Now}, nil, nil)
	return f
}

func (f *monitorFixture) update(t *testing.T, orderID string, temp float64) domain.StabilityOutcome {
	t.Helper()
	out, err := f.monitor.Update(context.Background(), orderID, domain.Telemetry{Temp: temp, Lat: 30.1, Lon: 31.2})
	require.NoError(t, err)
	return out
}

func TestStabilityExpiryScenario(t *testing.T) {
	f := newMonitorFixture(t)

	state, err := f.monitor.Start(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StabilityReady, state.Status)
	assert.Equal(t, 1800, state.MaxTimeExertionS)

	out := f.update(t, "order-1", 6)
	assert.Equal(t, domain.OutcomeSafe, out.Kind)
	assert.Equal(t, sinkWrite{orderID: "order-1", remaining: 1800}, f.sink.last())

	out = f.update(t, "order-1", 9)
	assert.Equal(t, domain.OutcomeTimerStarted, out.Kind)
	assert.Equal(t, 1800, f.sink.last().remaining)

	f.clock.Advance(1900 * time.Second)
	out = f.update(t, "order-1", 9)
	assert.Equal(t, domain.OutcomeExpired, out.Kind)
	assert.Equal(t, domain.AlertStabilityExpired, out.Alert())
	assert.True(t, out.Persisted)
	assert.Equal(t, 0, f.sink.last().remaining)

	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, domain.AlertStabilityExpired, f.alerts.alerts[0].Alert)

	state, err = f.monitor.State(context.Background(), "order-1")
	require.NoError(t, err)
	assert.False(t, state.Active)
	assert.Equal(t, domain.StabilityExpired, state.Status)

	out = f.update(t, "order-1", 5)
	assert.Equal(t, domain.OutcomeInactive, out.Kind)
}

func TestStabilityExceededHasPriority(t *testing.T) {
	for _, timerRunning := range []bool{false, true} {
		f := newMonitorFixture(t)
		_, err := f.monitor.Start(context.Background(), "order-1")
		require.NoError(t, err)

		if timerRunning {
			f.update(t, "order-1", 10)
		}

		out := f.update(t, "order-1", 16)
		assert.Equal(t, domain.OutcomeExceeded, out.Kind, "timer running=%v", timerRunning)
		assert.Equal(t, domain.AlertMaxExcursionExceeded, out.Alert())
		assert.Equal(t, 0, f.sink.last().remaining)

		state, err := f.monitor.State(context.Background(), "order-1")
		require.NoError(t, err)
		assert.False(t, state.Active)
		assert.Equal(t, domain.StabilityExceeded, state.Status)
	}
}

func TestStabilityTimerNeverResets(t *testing.T) {
	f := newMonitorFixture(t)
	_, err := f.monitor.Start(context.Background(), "order-1")
	require.NoError(t, err)

	f.update(t, "order-1", 9)
	state, err := f.monitor.State(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, state.TimerStartedAt)
	startedAt := *state.TimerStartedAt

	prev := 1800
	for i := 0; i < 5; i++ {
		f.clock.Advance(100 * time.Second)
		temp := 4.0
		if i%2 == 1 {
			temp = 10
		}
		out := f.update(t, "order-1", temp)

		assert.Equal(t, domain.OutcomeRemaining, out.Kind)
		assert.Less(t, out.RemainingSeconds, prev)
		prev = out.RemainingSeconds
	}
	assert.Equal(t, 1300, prev)

	state, err = f.monitor.State(context.Background(), "order-1")
	require.NoError(t, err)
	assert.True(t, state.TimerStartedAt.Equal(startedAt))
	assert.True(t, state.TimerStarted)
}

func TestStabilityExpiresAtExactBudget(t *testing.T) {
	f := newMonitorFixture(t)
	_, err := f.monitor.Start(context.Background(), "order-1")
	require.NoError(t, err)

	f.update(t, "order-1", 9)
	f.clock.Advance(1800 * time.Second)

	out := f.update(t, "order-1", 7)
	assert.Equal(t, domain.OutcomeExpired, out.Kind)
}

func TestStabilityUpdateBeforeStart(t *testing.T) {
	f := newMonitorFixture(t)

	_, err := f.monitor.Update(context.Background(), "order-1", domain.Telemetry{Temp: 5})
	require.ErrorIs(t, err, domain.ErrMonitoringNotStarted)
}

func TestStabilityStartWithoutMedication(t *testing.T) {
	f := newMonitorFixture(t)

	_, err := f.monitor.Start(context.Background(), "unknown")
	require.ErrorIs(t, err, domain.ErrMedicationNotFound)
}

func TestStabilitySinkFailureIsReported(t *testing.T) {
	f := newMonitorFixture(t)
	_, err := f.monitor.Start(context.Background(), "order-1")
	require.NoError(t, err)

	f.sink.err = errors.New("dashboard missing")

	out := f.update(t, "order-1", 16)
	assert.Equal(t, domain.OutcomeExceeded, out.Kind)
	assert.False(t, out.Persisted)
	require.Len(t, f.alerts.alerts, 1)
}

func TestStabilityStop(t *testing.T) {
	f := newMonitorFixture(t)
	_, err := f.monitor.Start(context.Background(), "order-2")
	require.NoError(t, err)

	state, err := f.monitor.Stop(context.Background(), "order-2")
	require.NoError(t, err)
	assert.False(t, state.Active)
	assert.Equal(t, domain.StabilityStopped, state.Status)

	out := f.update(t, "order-2", 30)
	assert.Equal(t, domain.OutcomeInactive, out.Kind)
	assert.Empty(t, f.alerts.alerts)

	_, err = f.monitor.Stop(context.Background(), "order-1")
	require.ErrorIs(t, err, domain.ErrMonitoringNotStarted)
}

func TestStabilityConcurrentUpdatesStartTimerOnce(t *testing.T) {
	f := newMonitorFixture(t)
	_, err := f.monitor.Start(context.Background(), "order-2")
	require.NoError(t, err)
	_, err = f.monitor.Start(context.Background(), "order-1")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := "order-2"
			if i%4 == 0 {
				orderID = "order-1"
			}
			out, err := f.monitor.Update(context.Background(), orderID, domain.Telemetry{Temp: 12})
			assert.NoError(t, err)
			if orderID == "order-2" && out.Kind == domain.OutcomeTimerStarted {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Empty(t, f.monitor.locks.locks)
}

func TestStabilityZeroFridgeMaxIsHonored(t *testing.T) {
	meds := fakeMeds{"order-1": {OrderID: "order-1", MaxExcursionTemp: 15, MaxTimeExertion: 1800 * time.Second}}
	monitor := NewStabilityMonitor(newMemStore(), meds, &fakeSink{}, nil,
		StabilityOptions{FridgeMaxC: 0}, nil, nil)

	_, err := monitor.Start(context.Background(), "order-1")
	require.NoError(t, err)

	out, err := monitor.Update(context.Background(), "order-1", domain.Telemetry{Temp: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTimerStarted, out.Kind)
}

func TestStabilityStoreFailure(t *testing.T) {
	f := newMonitorFixture(t)
	_, err := f.monitor.Start(context.Background(), "order-1")
	require.NoError(t, err)
	f.store.saveErr = errors.New("redis down")

	_, err = f.monitor.Update(context.Background(), "order-1", domain.Telemetry{Temp: 9})
	require.ErrorContains(t, err, "redis down")
	assert.Empty(t, f.sink.writes)

	// An exceeded reading is reported even when it could not be saved.
	out := f.update(t, "order-1", 16)
	assert.Equal(t, domain.OutcomeExceeded, out.Kind)
	require.Len(t, f.alerts.alerts, 1)
}

func TestStabilityInactiveUpdateDoesNotWrite(t *testing.T) {
	f := newMonitorFixture(t)
	_, err := f.monitor.Start(context.Background(), "order-2")
	require.NoError(t, err)
	stopped, err := f.monitor.Stop(context.Background(), "order-2")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	out := f.update(t, "order-2", 12)
	assert.Equal(t, domain.OutcomeInactive, out.Kind)

	state, err := f.monitor.State(context.Background(), "order-2")
	require.NoError(t, err)
	assert.Equal(t, stopped.UpdatedAt, state.UpdatedAt)
	assert.Nil(t, state.LastTemp)
}

func TestStabilityConfig(t *testing.T) {
	f := newMonitorFixture(t)

	limits, err := f.monitor.Config(context.Background(), "order-2")
	require.NoError(t, err)
	assert.Equal(t, 25.0, limits.MaxExcursionTemp)
	assert.Equal(t, time.Hour, limits.MaxTimeExertion)
}
