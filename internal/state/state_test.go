package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

func snapshotAt(tick uint64) *model.Snapshot {
	sensors := make(map[model.SensorID]float64, len(model.SensorIDs))
	for _, id := range model.SensorIDs {
		sensors[id] = float64(tick)
	}
	actuators := make(map[model.ActuatorID]model.State, len(model.ActuatorIDs))
	for _, id := range model.ActuatorIDs {
		actuators[id] = model.StateOf(tick%2 == 1)
	}
	return model.NewSnapshot(tick, time.Now(), model.ModeManual, sensors, nil, actuators)
}

func TestLatestBeforePublish(t *testing.T) {
	c := NewChannel(nil)
	assert.Nil(t, c.Latest())

	c.Publish(snapshotAt(1))
	require.NotNil(t, c.Latest())
	assert.Equal(t, uint64(1), c.Latest().Tick())
}

func TestLastWriterWins(t *testing.T) {
	c := NewChannel(nil)
	c.SubmitOverride(model.Buzzer, model.On)
	c.SubmitOverride(model.Buzzer, model.Off)
	c.SubmitOverride(model.UVLight, model.On)

	p := c.Take()
	assert.Equal(t, map[model.ActuatorID]model.State{model.Buzzer: model.Off, model.UVLight: model.On}, p.Overrides)
	assert.Nil(t, p.Mode)

	assert.True(t, c.Take().Empty(), "take drains the queue")
}

func TestModeSwitchQueued(t *testing.T) {
	c := NewChannel(nil)
	c.SubmitModeSwitch(model.ModeAuto)
	c.SubmitModeSwitch(model.ModeManual)

	p := c.Take()
	require.NotNil(t, p.Mode)
	assert.Equal(t, model.ModeManual, *p.Mode)
}

func TestNoSubmissionDropped(t *testing.T) {
	c := NewChannel(nil)

	var wg sync.WaitGroup
	for _, id := range model.ActuatorIDs {
		wg.Add(1)
		go func(id model.ActuatorID) {
			defer wg.Done()
			c.SubmitOverride(id, model.On)
		}(id)
	}
	wg.Wait()

	assert.Len(t, c.Take().Overrides, len(model.ActuatorIDs))
}

func TestSnapshotsAreNeverTorn(t *testing.T) {
	c := NewChannel(snapshotAt(0))

	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				s := c.Latest()
				want := float64(s.Tick())
				for _, id := range model.SensorIDs {
					if s.Sensor(id) != want {
						t.Errorf("tick %d: sensor %s = %v", s.Tick(), id, s.Sensor(id))
						return
					}
				}
				on := model.StateOf(s.Tick()%2 == 1)
				for _, id := range model.ActuatorIDs {
					if s.Actuator(id) != on {
						t.Errorf("tick %d: actuator %s = %v", s.Tick(), id, s.Actuator(id))
						return
					}
				}
			}
		}()
	}

	for tick := uint64(1); tick <= 2000; tick++ {
		c.Publish(snapshotAt(tick))
	}
	close(done)
	wg.Wait()

	assert.Equal(t, uint64(2000), c.Latest().Tick())
}
