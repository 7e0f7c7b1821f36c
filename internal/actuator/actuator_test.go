package actuator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

type fakeOutput struct {
	writes []bool
	fail   bool
}

func (f *fakeOutput) Write(on bool) error {
	if f.fail {
		return errors.New("relay not responding")
	}
	f.writes = append(f.writes, on)
	return nil
}

func TestSetWritesOnlyOnChange(t *testing.T) {
	out := &fakeOutput{}
	store, err := NewStore([]Actuator{{ID: model.PSUControl, Writer: out}})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.Init(nil, now))
	require.NoError(t, store.Set(model.PSUControl, model.On, now))
	require.NoError(t, store.Set(model.PSUControl, model.On, now))
	require.NoError(t, store.Set(model.PSUControl, model.Off, now))

	assert.Equal(t, []bool{false, true, false}, out.writes)
	st, ok := store.State(model.PSUControl)
	assert.True(t, ok)
	assert.Equal(t, model.Off, st)
}

func TestFailedWriteKeepsState(t *testing.T) {
	out := &fakeOutput{}
	store, err := NewStore([]Actuator{{ID: model.UVLight, Writer: out}})
	require.NoError(t, err)
	require.NoError(t, store.Init(nil, time.Now()))

	out.fail = true
	assert.Error(t, store.Set(model.UVLight, model.On, time.Now()))
	st, _ := store.State(model.UVLight)
	assert.Equal(t, model.Off, st)

	out.fail = false
	require.NoError(t, store.Set(model.UVLight, model.On, time.Now()))
	st, _ = store.State(model.UVLight)
	assert.Equal(t, model.On, st)
}

func TestPulsedToggles(t *testing.T) {
	out := &fakeOutput{}
	store, err := NewStore([]Actuator{{ID: model.Buzzer, Kind: KindPulsed, Pulse: 500 * time.Millisecond, Writer: out}})
	require.NoError(t, err)

	start := time.Unix(1000, 0)
	require.NoError(t, store.Init(nil, start))
	require.NoError(t, store.Set(model.Buzzer, model.On, start))

	store.Refresh(start.Add(200 * time.Millisecond))
	assert.True(t, store.Level(model.Buzzer))

	store.Refresh(start.Add(500 * time.Millisecond))
	assert.False(t, store.Level(model.Buzzer))

	store.Refresh(start.Add(1000 * time.Millisecond))
	assert.True(t, store.Level(model.Buzzer))

	st, _ := store.State(model.Buzzer)
	assert.Equal(t, model.On, st, "logical state stays on while pulsing")

	require.NoError(t, store.Set(model.Buzzer, model.Off, start.Add(1100*time.Millisecond)))
	store.Refresh(start.Add(3 * time.Second))
	assert.False(t, store.Level(model.Buzzer))
	assert.Equal(t, []bool{false, true, false, true, false}, out.writes)
}

func TestPulsedRequiresPeriod(t *testing.T) {
	_, err := NewStore([]Actuator{{ID: model.Buzzer, Kind: KindPulsed, Writer: &fakeOutput{}}})
	assert.Error(t, err)
}

func TestAllOffAttemptsEveryOutput(t *testing.T) {
	bad := &fakeOutput{}
	good := &fakeOutput{}
	store, err := NewStore([]Actuator{
		{ID: model.PSUControl, Writer: bad},
		{ID: model.Humidifier, Writer: good},
	})
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, store.Init(map[model.ActuatorID]model.State{model.PSUControl: model.On, model.Humidifier: model.On}, now))

	bad.fail = true
	err = store.AllOff(now)
	assert.Error(t, err)
	assert.Equal(t, []bool{true, false}, good.writes)

	st, _ := store.State(model.Humidifier)
	assert.Equal(t, model.Off, st)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("pulsed")
	require.NoError(t, err)
	assert.Equal(t, KindPulsed, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindOnOff, k)

	_, err = ParseKind("pwm")
	assert.Error(t, err)
}
