package gpio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

func mockPins(t *testing.T) map[int]bool {
	t.Helper()
	ResetGPIO()
	t.Cleanup(ResetGPIO)

	fakeState := map[int]bool{}
	MockGPIO(
		func(pin int, state bool) { fakeState[pin] = state },
		func(pin int) bool { return fakeState[pin] },
	)
	return fakeState
}

func TestValidateStartupPins_Valid(t *testing.T) {
	fakeState := mockPins(t)

	fakeState[17] = true  // active-low relay, high is off
	fakeState[23] = false // active-high, low is off

	err := ValidateStartupPins(map[string]model.GPIOPin{
		"psuControl": {Number: 17, ActiveHigh: false},
		"buzzer":     {Number: 23, ActiveHigh: true},
	})
	assert.NoError(t, err)
}

func TestValidateStartupPins_Mismatch(t *testing.T) {
	fakeState := mockPins(t)
	fakeState[23] = true

	err := ValidateStartupPins(map[string]model.GPIOPin{
		"buzzer": {Number: 23, ActiveHigh: true},
	})
	require.Error(t, err)

	var hwErr *HardwareInitError
	require.True(t, errors.As(err, &hwErr))
	assert.Equal(t, "buzzer", hwErr.Name)
	assert.Equal(t, 23, hwErr.Pin)
}

func TestValidateStartupPins_SafeModeSkips(t *testing.T) {
	fakeState := mockPins(t)
	fakeState[23] = true
	SetSafeMode(true)

	err := ValidateStartupPins(map[string]model.GPIOPin{
		"buzzer": {Number: 23, ActiveHigh: true},
	})
	assert.NoError(t, err)
}

func TestWritePolarity(t *testing.T) {
	fakeState := mockPins(t)

	lowSide := model.GPIOPin{Number: 5, ActiveHigh: false}
	highSide := model.GPIOPin{Number: 6, ActiveHigh: true}

	require.NoError(t, Activate(lowSide))
	require.NoError(t, Activate(highSide))
	assert.False(t, fakeState[5])
	assert.True(t, fakeState[6])

	active, err := CurrentlyActive(lowSide)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, Deactivate(lowSide))
	assert.True(t, fakeState[5])
}

func TestSafeModeSkipsWrites(t *testing.T) {
	fakeState := mockPins(t)
	SetSafeMode(true)

	require.NoError(t, Activate(model.GPIOPin{Number: 9, ActiveHigh: true}))
	_, touched := fakeState[9]
	assert.False(t, touched)
}
