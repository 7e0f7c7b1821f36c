package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		input    string
		expected State
		wantErr  bool
	}{
		{"on", On, false},
		{"off", Off, false},
		{"ON", Off, true},
		{"", Off, true},
		{"1", Off, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			st, err := ParseState(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, st)
		})
	}
}

func TestModeSwitchMapping(t *testing.T) {
	assert.Equal(t, On, ModeAuto.SwitchState())
	assert.Equal(t, Off, ModeManual.SwitchState())
	assert.Equal(t, ModeAuto, ModeFromSwitch(On))
	assert.Equal(t, ModeManual, ModeFromSwitch(Off))
}

func TestSnapshotCopiesInputs(t *testing.T) {
	sensors := map[SensorID]float64{Temperature: 37.2}
	actuators := map[ActuatorID]State{Buzzer: On}

	snap := NewSnapshot(3, time.Now(), ModeManual, sensors, nil, actuators)

	sensors[Temperature] = 99
	actuators[Buzzer] = Off
	assert.Equal(t, 37.2, snap.Sensor(Temperature))
	assert.Equal(t, On, snap.Actuator(Buzzer))

	out := snap.Sensors()
	out[Temperature] = 0
	assert.Equal(t, 37.2, snap.Sensor(Temperature))
}

func TestSnapshotValuesShape(t *testing.T) {
	snap := NewSnapshot(1, time.Now(), ModeAuto,
		map[SensorID]float64{Temperature: 37.5, Humidity: 55, CoverClosed: 1},
		map[SensorID]bool{Humidity: true},
		map[ActuatorID]State{PSUControl: On})

	values := snap.Values()
	assert.Len(t, values, 12)

	for _, id := range SensorIDs {
		_, ok := values[string(id)].(float64)
		assert.True(t, ok, "sensor %s should be numeric", id)
	}
	for _, id := range ActuatorIDs {
		_, ok := values[string(id)].(string)
		assert.True(t, ok, "actuator %s should be textual", id)
	}
	assert.Equal(t, "on", values[ModeSwitchKey])
	assert.Equal(t, "on", values[string(PSUControl)])
	assert.Equal(t, "off", values[string(Buzzer)])
	assert.True(t, snap.Stale(Humidity))
	assert.False(t, snap.Stale(Temperature))
}
