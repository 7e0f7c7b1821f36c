package model

import (
	"fmt"
	"time"
)

type SensorID string

const (
	SkinTemperature SensorID = "skinTemperature"
	CoverClosed     SensorID = "coverClosed"
	Humidity        SensorID = "humidity"
	Temperature     SensorID = "temperature"
	MotionSensor    SensorID = "motionSensor"
	O2Level         SensorID = "o2Level"
)

// SensorIDs is the fixed sensor set reported by the control plane.
var SensorIDs = []SensorID{SkinTemperature, CoverClosed, Humidity, Temperature, MotionSensor, O2Level}

type ActuatorID string

const (
	PSUControl ActuatorID = "psuControl"
	BlueLight  ActuatorID = "blueLight"
	UVLight    ActuatorID = "uvLight"
	Buzzer     ActuatorID = "buzzer"
	Humidifier ActuatorID = "humidifier"
)

// ModeSwitchKey is reported alongside the actuators but maps to the operating mode.
const ModeSwitchKey = "autoManualSwitch"

// ActuatorIDs is the fixed set of physical outputs.
var ActuatorIDs = []ActuatorID{PSUControl, BlueLight, UVLight, Buzzer, Humidifier}

func IsSensorID(id string) bool {
	for _, s := range SensorIDs {
		if string(s) == id {
			return true
		}
	}
	return false
}

func IsActuatorID(id string) bool {
	for _, a := range ActuatorIDs {
		if string(a) == id {
			return true
		}
	}
	return false
}

type State int

const (
	Off State = 0
	On  State = 1
)

// switchValues is the textual-to-numeric table used by the browser client.
var switchValues = map[string]State{"on": On, "off": Off}

func ParseState(s string) (State, error) {
	st, ok := switchValues[s]
	if !ok {
		return Off, fmt.Errorf("invalid switch state %q", s)
	}
	return st, nil
}

func (s State) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

func (s State) Bool() bool { return s == On }

func StateOf(b bool) State {
	if b {
		return On
	}
	return Off
}

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeManual:
		return Mode(s), nil
	default:
		return ModeManual, fmt.Errorf("invalid mode %q", s)
	}
}

// SwitchState is how the mode is shown on the autoManualSwitch toggle: on means auto.
func (m Mode) SwitchState() State {
	return StateOf(m == ModeAuto)
}

func ModeFromSwitch(s State) Mode {
	if s == On {
		return ModeAuto
	}
	return ModeManual
}

type GPIOPin struct {
	Number     int
	ActiveHigh bool
}

// Snapshot is an immutable view of one control tick. Construct with NewSnapshot;
// the maps are copied and never handed out.
type Snapshot struct {
	tick      uint64
	takenAt   time.Time
	mode      Mode
	sensors   map[SensorID]float64
	stale     map[SensorID]bool
	actuators map[ActuatorID]State
}

func NewSnapshot(tick uint64, takenAt time.Time, mode Mode, sensors map[SensorID]float64, stale map[SensorID]bool, actuators map[ActuatorID]State) *Snapshot {
	s := &Snapshot{
		tick:      tick,
		takenAt:   takenAt,
		mode:      mode,
		sensors:   make(map[SensorID]float64, len(sensors)),
		stale:     make(map[SensorID]bool, len(stale)),
		actuators: make(map[ActuatorID]State, len(actuators)),
	}
	for k, v := range sensors {
		s.sensors[k] = v
	}
	for k, v := range stale {
		if v {
			s.stale[k] = true
		}
	}
	for k, v := range actuators {
		s.actuators[k] = v
	}
	return s
}

func (s *Snapshot) Tick() uint64       { return s.tick }
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }
func (s *Snapshot) Mode() Mode         { return s.mode }

func (s *Snapshot) Sensor(id SensorID) float64 { return s.sensors[id] }
func (s *Snapshot) Stale(id SensorID) bool     { return s.stale[id] }

func (s *Snapshot) Actuator(id ActuatorID) State { return s.actuators[id] }

func (s *Snapshot) Sensors() map[SensorID]float64 {
	out := make(map[SensorID]float64, len(s.sensors))
	for k, v := range s.sensors {
		out[k] = v
	}
	return out
}

func (s *Snapshot) Actuators() map[ActuatorID]State {
	out := make(map[ActuatorID]State, len(s.actuators))
	for k, v := range s.actuators {
		out[k] = v
	}
	return out
}

// Values flattens the snapshot into the shape served by GET /get_values:
// every sensor as a number, every actuator plus the mode switch as "on"/"off".
func (s *Snapshot) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(SensorIDs)+len(ActuatorIDs)+1)
	for _, id := range SensorIDs {
		out[string(id)] = s.sensors[id]
	}
	for _, id := range ActuatorIDs {
		out[string(id)] = s.actuators[id].String()
	}
	out[ModeSwitchKey] = s.mode.SwitchState().String()
	return out
}
