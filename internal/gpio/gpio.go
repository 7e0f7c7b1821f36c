package gpio

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
	"github.com/thatsimonsguy/incubator-controller/internal/pinctrl"
)

var safeMode bool

// HardwareInitError is returned when outputs cannot be brought to a known state at startup.
type HardwareInitError struct {
	Name string
	Pin  int
	Err  error
}

func (e *HardwareInitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hardware init failed for %s (GPIO %d): %v", e.Name, e.Pin, e.Err)
	}
	return fmt.Sprintf("hardware init failed for %s (GPIO %d)", e.Name, e.Pin)
}

func (e *HardwareInitError) Unwrap() error { return e.Err }

func pinctrlSet(pin int, level bool) error {
	drive := "dl"
	if level {
		drive = "dh"
	}
	return pinctrl.SetPin(pin, "op", "pn", drive)
}

var (
	setLevel = pinctrlSet
	getLevel = pinctrl.ReadLevel
)

// MockGPIO swaps the hardware backend for in-memory functions.
func MockGPIO(set func(pin int, level bool), get func(pin int) bool) {
	setLevel = func(pin int, level bool) error {
		set(pin, level)
		return nil
	}
	getLevel = func(pin int) (bool, error) {
		return get(pin), nil
	}
}

// ResetGPIO restores the pinctrl backend and clears safe mode.
func ResetGPIO() {
	setLevel = pinctrlSet
	getLevel = pinctrl.ReadLevel
	safeMode = false
}

func SetSafeMode(enabled bool) {
	safeMode = enabled
}

func SafeMode() bool {
	return safeMode
}

func Read(pin model.GPIOPin) (bool, error) {
	level, err := getLevel(pin.Number)
	if err != nil {
		return false, fmt.Errorf("failed to read pin level for pin %d: %w", pin.Number, err)
	}
	return level, nil
}

var Activate = func(pin model.GPIOPin) error {
	return Write(pin, true)
}

var Deactivate = func(pin model.GPIOPin) error {
	return Write(pin, false)
}

// Write drives pin to its active or inactive level, honouring polarity.
func Write(pin model.GPIOPin, active bool) error {
	if safeMode {
		log.Debug().Int("pin", pin.Number).Bool("active", active).Msg("Safe mode: GPIO write skipped")
		return nil
	}
	level := active == pin.ActiveHigh
	if err := setLevel(pin.Number, level); err != nil {
		return fmt.Errorf("failed to drive pin %d active=%v: %w", pin.Number, active, err)
	}
	return nil
}

var CurrentlyActive = func(pin model.GPIOPin) (bool, error) {
	level, err := Read(pin)
	if err != nil {
		return false, err
	}
	return pin.ActiveHigh == level, nil
}

// ValidateStartupPins checks that every output reads inactive before the control
// loop takes ownership of it.
func ValidateStartupPins(pins map[string]model.GPIOPin) error {
	if safeMode {
		log.Warn().Msg("Safe mode: skipping startup pin validation")
		return nil
	}

	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pin := pins[name]
		active, err := CurrentlyActive(pin)
		if err != nil {
			return &HardwareInitError{Name: name, Pin: pin.Number, Err: err}
		}
		if active {
			return &HardwareInitError{
				Name: name,
				Pin:  pin.Number,
				Err:  fmt.Errorf("pin is active at startup (expected inactive)"),
			}
		}
	}
	return nil
}
