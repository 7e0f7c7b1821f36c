package db

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

func TestSystemModeRoundTrip(t *testing.T) {
	dbConn, err := Open(":memory:")
	require.NoError(t, err)
	defer dbConn.Close()

	_, ok, err := GetSystemMode(dbConn)
	require.NoError(t, err)
	assert.False(t, ok, "fresh database has no mode")

	require.NoError(t, UpdateSystemMode(dbConn, model.ModeAuto))
	require.NoError(t, UpdateSystemMode(dbConn, model.ModeManual))

	mode, ok, err := GetSystemMode(dbConn)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.ModeManual, mode)
}

func TestActuatorStates(t *testing.T) {
	dbConn, err := Open(":memory:")
	require.NoError(t, err)
	defer dbConn.Close()

	p := Persister{DB: dbConn}
	require.NoError(t, p.SaveActuatorState(model.UVLight, model.On))
	require.NoError(t, p.SaveActuatorState(model.Buzzer, model.On))
	require.NoError(t, p.SaveActuatorState(model.Buzzer, model.Off))

	_, err = dbConn.Exec(`INSERT INTO actuator_states (id, state, updated_at) VALUES ('retired', 'on', '')`)
	require.NoError(t, err)

	states, err := GetActuatorStates(dbConn)
	require.NoError(t, err)
	assert.Equal(t, map[model.ActuatorID]model.State{
		model.UVLight: model.On,
		model.Buzzer:  model.Off,
	}, states)

	require.NoError(t, ClearActuatorStates(dbConn))
	states, err = GetActuatorStates(dbConn)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestCorruptModeIsAnError(t *testing.T) {
	dbConn, err := Open(":memory:")
	require.NoError(t, err)
	defer dbConn.Close()

	_, err = dbConn.Exec(`INSERT INTO system (id, system_mode, updated_at) VALUES (1, 'turbo', '')`)
	require.NoError(t, err)

	_, _, err = GetSystemMode(dbConn)
	assert.Error(t, err)
}

func TestCLIHelpers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	require.NoError(t, SetSystemModeCLI(path, "auto"))
	require.NoError(t, SetActuatorStateCLI(path, "humidifier", "on"))
	assert.Error(t, SetActuatorStateCLI(path, "heater", "on"))
	assert.Error(t, SetActuatorStateCLI(path, "humidifier", "maybe"))
	assert.Error(t, SetSystemModeCLI(path, "turbo"))

	var out bytes.Buffer
	require.NoError(t, ShowStateCLI(path, &out))
	assert.Equal(t, "mode: auto\nhumidifier: on\n", out.String())
}
