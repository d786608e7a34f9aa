package sim

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsim/odotelem/internal/telemetry"
)

type collectingSink struct {
	mu     sync.Mutex
	events []telemetry.ViolationEvent
}

func (c *collectingSink) Record(ev telemetry.ViolationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collectingSink) all() []telemetry.ViolationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]telemetry.ViolationEvent(nil), c.events...)
}

func speedingScenario() Scenario {
	limit := 10.0
	return Scenario{
		Meta: Meta{Name: "speeding", TimeStep: 0.1, RunTime: 12},
		Route: []Segment{
			{LengthM: 250, Zone: "urban", LimitMPS: &limit},
			{LengthM: 100},
		},
		Vehicles: []VehicleSpec{
			{
				ID:        "veh-1",
				Name:      "test vehicle",
				AccelMPS2: 2,
				DecelMPS2: 4,
				Phases: []Phase{
					{DurationS: 10, TargetSpeedMPS: 15},
					{DurationS: 5, TargetSpeedMPS: 5},
				},
			},
		},
	}
}

func newTestRunner(t *testing.T, scenario Scenario, sink telemetry.EventSink) *Runner {
	t.Helper()
	runner, err := NewRunner(scenario, RunnerConfig{
		PublishHz:    10,
		DistanceUnit: "m",
		Sink:         sink,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return runner
}

func TestRunnerRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	scenario := speedingScenario()
	_, err := NewRunner(scenario, RunnerConfig{PublishHz: 0, DistanceUnit: "m"})
	require.Error(t, err)

	scenario.Meta.TimeStep = 0
	_, err = NewRunner(scenario, RunnerConfig{PublishHz: 10, DistanceUnit: "m"})
	require.Error(t, err)
}

func TestRunnerDetectsSpeedingEpisode(t *testing.T) {
	t.Parallel()

	sink := &collectingSink{}
	runner := newTestRunner(t, speedingScenario(), sink)

	require.NoError(t, runner.RunSync(context.Background()))
	assert.True(t, runner.Completed())
	assert.True(t, runner.Ready())
	assert.InDelta(t, 12, runner.SimTime(), 1e-6)

	events := sink.all()
	require.Len(t, events, 1, "one violation episode expected")

	ev := events[0]
	assert.Equal(t, "veh-1", ev.VehicleID)
	assert.Equal(t, "urban", ev.Zone)
	assert.InDelta(t, 10, ev.LimitMPS, 1e-9)
	assert.InDelta(t, 15, ev.MaxSpeedMPS, 1e-9)
	assert.Greater(t, ev.Duration, 5.0)
	assert.Greater(t, ev.SimEnd, ev.SimStart)
	assert.NotEmpty(t, ev.ID)

	status, ok := runner.Status("veh-1")
	require.True(t, ok)
	assert.Equal(t, 1, status.Violations)
	assert.True(t, status.HasSnapshot)
	assert.Greater(t, status.Distance, 100.0)
	require.NotNil(t, status.StartPos)
}

func TestRunnerStatusBeforeFirstTick(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, speedingScenario(), nil)

	status, ok := runner.Status("veh-1")
	require.True(t, ok)
	assert.False(t, status.HasSnapshot)
	assert.False(t, runner.Ready())

	_, ok = runner.Status("ghost")
	assert.False(t, ok)

	assert.Equal(t, []string{"veh-1"}, runner.VehicleIDs())
}

func TestRunnerPublishesOnlyToSubscribers(t *testing.T) {
	t.Parallel()

	// Without a subscriber the transport is disconnected: the run produces
	// no publish side effects, but introspection state is live.
	runner := newTestRunner(t, speedingScenario(), nil)
	require.NoError(t, runner.RunSync(context.Background()))
	status, _ := runner.Status("veh-1")
	assert.True(t, status.HasSnapshot)

	// With a subscriber attached, published snapshots flow out.
	runner2 := newTestRunner(t, speedingScenario(), nil)
	ch, unsubscribe, err := runner2.Subscribe("veh-1")
	require.NoError(t, err)
	defer unsubscribe()

	evCh, unsubEvents, err := runner2.SubscribeViolations("veh-1")
	require.NoError(t, err)
	defer unsubEvents()

	require.NoError(t, runner2.RunSync(context.Background()))

	select {
	case snap := <-ch:
		assert.Equal(t, "veh-1", snap.VehicleID)
	default:
		t.Fatal("expected at least one published snapshot")
	}

	select {
	case ev := <-evCh:
		assert.Equal(t, "urban", ev.Zone)
	default:
		t.Fatal("expected a broadcast violation event")
	}

	_, _, err = runner2.Subscribe("ghost")
	require.Error(t, err)
}

func TestRunnerPublishRateReconfiguration(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, speedingScenario(), nil)

	require.Error(t, runner.SetPublishFrequency("ghost", 5))
	require.Error(t, runner.SetPublishFrequency("veh-1", 0))
	require.NoError(t, runner.SetPublishFrequency("veh-1", 5))

	hz, err := runner.PublishFrequency("veh-1")
	require.NoError(t, err)
	assert.InDelta(t, 5, hz, 1e-9)
}
