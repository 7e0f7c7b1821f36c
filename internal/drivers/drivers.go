// Package drivers holds the transducer and relay implementations behind
// sensor.Reader and actuator.Writer.
package drivers

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/thatsimonsguy/incubator-controller/internal/gpio"
	"github.com/thatsimonsguy/incubator-controller/internal/model"
	"github.com/thatsimonsguy/incubator-controller/internal/sensor"
)

func readNumber(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// W1Thermometer reads a DS18B20 style 1-wire probe in degrees C.
type W1Thermometer struct {
	Path string // device directory under /sys/bus/w1/devices
}

func (w W1Thermometer) Read() (float64, error) {
	data, err := os.ReadFile(filepath.Join(w.Path, "w1_slave"))
	if err != nil {
		return 0, fmt.Errorf("failed to read sensor data: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 || !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("crc check failed or data missing")
	}

	parts := strings.Split(lines[1], "t=")
	if len(parts) != 2 {
		return 0, fmt.Errorf("could not parse temperature line %q", lines[1])
	}

	tempMilliC, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("failed to convert temperature to int: %w", err)
	}
	return float64(tempMilliC) / 1000.0, nil
}

// Thermistor converts an ADC voltage divider reading to degrees C with the
// B-parameter equation.
type Thermistor struct {
	RawPath    string  // IIO in_voltageN_raw
	MaxRaw     float64 // full scale count, e.g. 4095
	Vcc        float64
	RDivider   float64 // series resistor, ohms
	RNominal   float64 // thermistor resistance at NominalC
	BFactor    float64
	NominalC   float64
	NumSamples int
}

func (t Thermistor) voltage() (float64, error) {
	n := t.NumSamples
	if n <= 0 {
		n = 1
	}
	var sum float64
	for i := 0; i < n; i++ {
		raw, err := readNumber(t.RawPath)
		if err != nil {
			return 0, err
		}
		sum += raw * t.Vcc / t.MaxRaw
	}
	return sum / float64(n), nil
}

func (t Thermistor) Read() (float64, error) {
	v, err := t.voltage()
	if err != nil {
		return 0, err
	}
	return t.Celsius(v)
}

// Celsius fails when the divider voltage gives a non-positive resistance ratio.
func (t Thermistor) Celsius(v float64) (float64, error) {
	if v >= t.Vcc {
		return 0, fmt.Errorf("divider voltage %.3f at or above supply %.3f", v, t.Vcc)
	}
	r := t.RDivider * v / (t.Vcc - v)
	ratio := r / t.RNominal
	if ratio <= 0 {
		return 0, fmt.Errorf("math domain error: resistance ratio %.4f", ratio)
	}
	kelvin := 1 / (1/(t.NominalC+273.15) + math.Log(ratio)/t.BFactor)
	return kelvin - 273.15, nil
}

// DigitalInput reports 1 when the pin reads active.
type DigitalInput struct {
	Pin model.GPIOPin
}

func (d DigitalInput) Read() (float64, error) {
	active, err := gpio.CurrentlyActive(d.Pin)
	if err != nil {
		return 0, err
	}
	if active {
		return 1, nil
	}
	return 0, nil
}

// MinDHTInterval is the fastest a DHT22 can be polled.
const MinDHTInterval = 2 * time.Second

// DHTProbe is one combined humidity/temperature device exposed by the dht11
// IIO driver. Both logical sensors share the cached reading.
type DHTProbe struct {
	Path     string
	Interval time.Duration

	now      func() time.Time
	readAt   time.Time
	tempC    float64
	humidity float64
	err      error
}

func NewDHTProbe(path string) *DHTProbe {
	return &DHTProbe{Path: path, Interval: MinDHTInterval, now: time.Now}
}

func (p *DHTProbe) refresh() error {
	now := p.now()
	if !p.readAt.IsZero() && now.Sub(p.readAt) < p.Interval {
		return p.err
	}
	p.readAt = now

	temp, err := readNumber(filepath.Join(p.Path, "in_temp_input"))
	if err != nil {
		p.err = err
		return err
	}
	hum, err := readNumber(filepath.Join(p.Path, "in_humidityrelative_input"))
	if err != nil {
		p.err = err
		return err
	}
	p.tempC = temp / 1000
	p.humidity = hum / 1000
	p.err = nil
	return nil
}

type dhtChannel struct {
	probe *DHTProbe
	pick  func(p *DHTProbe) float64
}

func (c dhtChannel) Read() (float64, error) {
	if err := c.probe.refresh(); err != nil {
		return 0, err
	}
	return c.pick(c.probe), nil
}

func (p *DHTProbe) Temperature() sensor.Reader {
	return dhtChannel{probe: p, pick: func(p *DHTProbe) float64 { return p.tempC }}
}

func (p *DHTProbe) Humidity() sensor.Reader {
	return dhtChannel{probe: p, pick: func(p *DHTProbe) float64 { return p.humidity }}
}

// ADCChannel scales a raw IIO count, used for the O2 cell.
type ADCChannel struct {
	RawPath string
	Scale   float64
}

func (a ADCChannel) Read() (float64, error) {
	raw, err := readNumber(a.RawPath)
	if err != nil {
		return 0, err
	}
	scale := a.Scale
	if scale == 0 {
		scale = 1
	}
	return raw * scale, nil
}

// Simulated returns a fixed value for bench runs without hardware.
type Simulated struct {
	Value float64
}

func (s Simulated) Read() (float64, error) { return s.Value, nil }

// Relay drives an actuator through a GPIO output.
type Relay struct {
	Pin model.GPIOPin
}

func (r Relay) Write(on bool) error {
	if on {
		return gpio.Activate(r.Pin)
	}
	return gpio.Deactivate(r.Pin)
}
