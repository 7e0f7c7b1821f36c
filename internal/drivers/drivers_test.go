package drivers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/incubator-controller/internal/config"
	"github.com/thatsimonsguy/incubator-controller/internal/gpio"
	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func TestW1Thermometer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "w1_slave"), "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=37250\n")

	v, err := W1Thermometer{Path: dir}.Read()
	require.NoError(t, err)
	assert.InDelta(t, 37.25, v, 1e-9)
}

func TestW1ThermometerCRCFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "w1_slave"), "72 01 4b 46 7f ff 0e 10 57 : crc=57 NO\n72 01 4b 46 7f ff 0e 10 57 t=37250\n")

	_, err := W1Thermometer{Path: dir}.Read()
	assert.Error(t, err)
}

func TestThermistorCelsius(t *testing.T) {
	th := Thermistor{Vcc: 3.3, RDivider: 10000, RNominal: 10000, BFactor: 3950, NominalC: 25}

	c, err := th.Celsius(1.65)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, c, 1e-6, "equal divider is the nominal temperature")

	warm, err := th.Celsius(1.2)
	require.NoError(t, err)
	assert.Greater(t, warm, 25.0)

	_, err = th.Celsius(0)
	assert.Error(t, err, "zero voltage gives a zero resistance ratio")

	_, err = th.Celsius(3.3)
	assert.Error(t, err)
}

func TestThermistorReadAverages(t *testing.T) {
	raw := filepath.Join(t.TempDir(), "in_voltage0_raw")
	writeFile(t, raw, "2047.5\n")

	th := Thermistor{RawPath: raw, MaxRaw: 4095, Vcc: 3.3, RDivider: 10000, RNominal: 10000, BFactor: 3950, NominalC: 25, NumSamples: 4}
	c, err := th.Read()
	require.NoError(t, err)
	assert.InDelta(t, 25.0, c, 1e-6)
}

func TestDHTProbeSharedAndCached(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "in_temp_input"), "37100\n")
	writeFile(t, filepath.Join(dir, "in_humidityrelative_input"), "55500\n")

	now := time.Unix(100, 0)
	p := NewDHTProbe(dir)
	p.now = func() time.Time { return now }

	temp, err := p.Temperature().Read()
	require.NoError(t, err)
	assert.InDelta(t, 37.1, temp, 1e-9)

	writeFile(t, filepath.Join(dir, "in_humidityrelative_input"), "60000\n")
	hum, err := p.Humidity().Read()
	require.NoError(t, err)
	assert.InDelta(t, 55.5, hum, 1e-9, "second logical sensor reuses the cached reading")

	now = now.Add(MinDHTInterval)
	hum, err = p.Humidity().Read()
	require.NoError(t, err)
	assert.InDelta(t, 60.0, hum, 1e-9)
}

func TestDigitalInputAndRelay(t *testing.T) {
	gpio.ResetGPIO()
	t.Cleanup(gpio.ResetGPIO)
	levels := map[int]bool{}
	gpio.MockGPIO(
		func(pin int, level bool) { levels[pin] = level },
		func(pin int) bool { return levels[pin] },
	)

	cover := DigitalInput{Pin: model.GPIOPin{Number: 5, ActiveHigh: true}}
	v, err := cover.Read()
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	levels[5] = true
	v, err = cover.Read()
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	relay := Relay{Pin: model.GPIOPin{Number: 17, ActiveHigh: false}}
	require.NoError(t, relay.Write(true))
	assert.False(t, levels[17], "active-low relay pulls the pin low when on")
}

func intPtr(i int) *int { return &i }

func TestBuildSensorsSharesDHT(t *testing.T) {
	sensors, err := BuildSensors([]config.SensorConfig{
		{ID: "temperature", Driver: "dht_temperature", Path: "/sys/bus/iio/devices/iio:device0"},
		{ID: "humidity", Driver: "dht_humidity", Path: "/sys/bus/iio/devices/iio:device0"},
		{ID: "o2Level", Driver: "sim", Value: 21},
	})
	require.NoError(t, err)
	require.Len(t, sensors, 3)

	a := sensors[0].Reader.(dhtChannel)
	b := sensors[1].Reader.(dhtChannel)
	assert.Same(t, a.probe, b.probe)

	v, err := sensors[2].Reader.Read()
	require.NoError(t, err)
	assert.Equal(t, 21.0, v)
}

func TestBuildActuators(t *testing.T) {
	acts, initial, err := BuildActuators([]config.ActuatorConfig{
		{ID: "buzzer", Pin: intPtr(23), Kind: "pulsed", PulseMs: 250},
		{ID: "psuControl", Pin: intPtr(17), InitialState: "on"},
	})
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, 250*time.Millisecond, acts[0].Pulse)
	assert.Equal(t, model.On, initial[model.PSUControl])

	_, _, err = BuildActuators([]config.ActuatorConfig{{ID: "uvLight"}})
	assert.Error(t, err)
}
