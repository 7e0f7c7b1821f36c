package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

type SensorConfig struct {
	ID     string  `mapstructure:"id"`
	Driver string  `mapstructure:"driver"` // w1, thermistor, digital, dht_temperature, dht_humidity, adc, sim
	Path   string  `mapstructure:"path"`
	Pin    *int    `mapstructure:"pin"`
	Lower  float64 `mapstructure:"lower_limit"`
	Upper  float64 `mapstructure:"upper_limit"`
	Offset float64 `mapstructure:"offset"` // calibration, added to every reading
	Scale  float64 `mapstructure:"scale"`
	Value  float64 `mapstructure:"value"` // sim driver only

	ActiveHigh bool `mapstructure:"active_high"`

	// thermistor
	Vcc        float64 `mapstructure:"vcc"`
	RDivider   float64 `mapstructure:"r_divider"`
	RNominal   float64 `mapstructure:"r_nominal"`
	BFactor    float64 `mapstructure:"b_factor"`
	NominalC   float64 `mapstructure:"nominal_temp_c"`
	NumSamples int     `mapstructure:"num_samples"`
}

type ActuatorConfig struct {
	ID           string `mapstructure:"id"`
	Pin          *int   `mapstructure:"pin"`
	ActiveHigh   bool   `mapstructure:"active_high"`
	Kind         string `mapstructure:"kind"` // on_off, pulsed
	PulseMs      int    `mapstructure:"pulse_ms"`
	InitialState string `mapstructure:"initial_state"`
}

type RuleConfig struct {
	Actuator string `mapstructure:"actuator"`
	Sensor   string `mapstructure:"sensor"`
	Outside  string `mapstructure:"outside"`
	Inside   string `mapstructure:"inside"`
}

type HTTPConfig struct {
	Port            int    `mapstructure:"port"`
	WebRoot         string `mapstructure:"web_root"`
	DefaultDocument string `mapstructure:"default_document"`
	ReadTimeoutMs   int    `mapstructure:"read_timeout_ms"`
	AcceptTimeoutMs int    `mapstructure:"accept_timeout_ms"`
	MaxHeaderBytes  int    `mapstructure:"max_header_bytes"`
	MaxBodyBytes    int    `mapstructure:"max_body_bytes"`
}

type NotificationsConfig struct {
	NtfyServer string `mapstructure:"ntfy_server"`
	NtfyTopic  string `mapstructure:"ntfy_topic"`
}

type DatadogConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	AgentAddr string   `mapstructure:"agent_addr"`
	Namespace string   `mapstructure:"namespace"`
	Tags      []string `mapstructure:"tags"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	Broker            string `mapstructure:"broker"`
	Topic             string `mapstructure:"topic"`
	ClientID          string `mapstructure:"client_id"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	PublishIntervalMs int    `mapstructure:"publish_interval_ms"`
}

type Config struct {
	ConfigFile string
	LogLevel   zerolog.Level
	LogFile    string

	SafeMode              bool   `mapstructure:"safe_mode"`
	TickIntervalMs        int    `mapstructure:"tick_interval_ms"`
	InitialMode           string `mapstructure:"initial_mode"`
	StateDB               string `mapstructure:"state_db"`
	FailureAlertThreshold int    `mapstructure:"failure_alert_threshold"`

	BootScriptFilePath string `mapstructure:"boot_script_path"`
	OSServicePath      string `mapstructure:"os_service_path"`
	MainServicePath    string `mapstructure:"main_service_path"`

	HTTP          HTTPConfig          `mapstructure:"http"`
	Sensors       []SensorConfig      `mapstructure:"sensors"`
	Actuators     []ActuatorConfig    `mapstructure:"actuators"`
	Rules         []RuleConfig        `mapstructure:"rules"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Datadog       DatadogConfig       `mapstructure:"datadog"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (h HTTPConfig) ReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeoutMs) * time.Millisecond
}

func (h HTTPConfig) AcceptTimeout() time.Duration {
	return time.Duration(h.AcceptTimeoutMs) * time.Millisecond
}

func Load() Config {
	var cfg Config
	var logLevel string
	var safeMode bool

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Append logs to this file instead of stderr")
	flag.BoolVar(&safeMode, "safe-mode", false, "Never drive GPIO outputs")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	loaded, err := LoadFile(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	loaded.ConfigFile = cfg.ConfigFile
	loaded.LogLevel = cfg.LogLevel
	loaded.LogFile = cfg.LogFile
	loaded.SafeMode = loaded.SafeMode || safeMode

	loaded.validate()
	return loaded
}

// LoadFile reads a config file with defaults applied and INCUBATOR_* env overrides,
// without validating it.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("incubator")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("safe_mode", false)
	v.SetDefault("tick_interval_ms", 1000)
	v.SetDefault("initial_mode", string(model.ModeManual))
	v.SetDefault("state_db", "")
	v.SetDefault("failure_alert_threshold", 5)
	v.SetDefault("boot_script_path", "/usr/local/bin/incubator-pins.sh")
	v.SetDefault("os_service_path", "/etc/systemd/system/incubator-pins.service")
	v.SetDefault("main_service_path", "/etc/systemd/system/incubator-controller.service")
	v.SetDefault("http.port", 80)
	v.SetDefault("http.web_root", "www")
	v.SetDefault("http.default_document", "index.html")
	v.SetDefault("http.read_timeout_ms", 5000)
	v.SetDefault("http.accept_timeout_ms", 1000)
	v.SetDefault("http.max_header_bytes", 4096)
	v.SetDefault("http.max_body_bytes", 4096)
	v.SetDefault("notifications.ntfy_server", "https://ntfy.sh")
	v.SetDefault("notifications.ntfy_topic", "")
	v.SetDefault("datadog.enabled", false)
	v.SetDefault("datadog.agent_addr", "127.0.0.1:8125")
	v.SetDefault("datadog.namespace", "incubator.")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("telemetry.broker", "")
	v.SetDefault("telemetry.topic", "incubator/snapshot")
	v.SetDefault("telemetry.publish_interval_ms", 5000)
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

var sensorDrivers = map[string]bool{
	"w1": true, "thermistor": true, "digital": true,
	"dht_temperature": true, "dht_humidity": true, "adc": true, "sim": true,
}

func (cfg *Config) validate() {
	var (
		problems  []string
		usedPins  = map[int]string{}
		conflicts []string
		sensors   = map[string]bool{}
		actuators = map[string]bool{}
	)

	claimPin := func(owner string, pin *int) {
		if pin == nil {
			return
		}
		if other, exists := usedPins[*pin]; exists {
			conflicts = append(conflicts, fmt.Sprintf("%s and %s both use pin %d", owner, other, *pin))
			return
		}
		usedPins[*pin] = owner
	}

	if cfg.TickIntervalMs <= 0 {
		problems = append(problems, "tick_interval_ms must be positive")
	}
	if _, err := model.ParseMode(cfg.InitialMode); err != nil {
		problems = append(problems, err.Error())
	}

	for _, s := range cfg.Sensors {
		if !model.IsSensorID(s.ID) {
			problems = append(problems, fmt.Sprintf("unknown sensor id %q", s.ID))
			continue
		}
		if sensors[s.ID] {
			problems = append(problems, fmt.Sprintf("sensor %s configured twice", s.ID))
		}
		sensors[s.ID] = true
		if !sensorDrivers[s.Driver] {
			problems = append(problems, fmt.Sprintf("sensor %s: unknown driver %q", s.ID, s.Driver))
		}
		if s.Lower > s.Upper {
			problems = append(problems, fmt.Sprintf("sensor %s: lower_limit %.2f above upper_limit %.2f", s.ID, s.Lower, s.Upper))
		}
		if s.Driver == "digital" {
			if s.Pin == nil {
				problems = append(problems, fmt.Sprintf("sensor %s: digital driver requires a pin", s.ID))
			}
			claimPin("sensors."+s.ID, s.Pin)
		}
	}
	for _, id := range model.SensorIDs {
		if !sensors[string(id)] {
			problems = append(problems, "missing sensor "+string(id))
		}
	}

	for _, a := range cfg.Actuators {
		if !model.IsActuatorID(a.ID) {
			problems = append(problems, fmt.Sprintf("unknown actuator id %q", a.ID))
			continue
		}
		if actuators[a.ID] {
			problems = append(problems, fmt.Sprintf("actuator %s configured twice", a.ID))
		}
		actuators[a.ID] = true
		if a.Pin == nil {
			problems = append(problems, fmt.Sprintf("actuator %s: missing pin", a.ID))
		}
		claimPin("actuators."+a.ID, a.Pin)
		switch a.Kind {
		case "", "on_off":
		case "pulsed":
			if a.PulseMs <= 0 {
				problems = append(problems, fmt.Sprintf("actuator %s: pulsed kind requires pulse_ms", a.ID))
			}
		default:
			problems = append(problems, fmt.Sprintf("actuator %s: unknown kind %q", a.ID, a.Kind))
		}
		if a.InitialState != "" {
			if _, err := model.ParseState(a.InitialState); err != nil {
				problems = append(problems, fmt.Sprintf("actuator %s: %v", a.ID, err))
			}
		}
	}
	for _, id := range model.ActuatorIDs {
		if !actuators[string(id)] {
			problems = append(problems, "missing actuator "+string(id))
		}
	}

	for i, r := range cfg.Rules {
		if !actuators[r.Actuator] {
			problems = append(problems, fmt.Sprintf("rule %d: unknown actuator %q", i, r.Actuator))
		}
		if !sensors[r.Sensor] {
			problems = append(problems, fmt.Sprintf("rule %d: unknown sensor %q", i, r.Sensor))
		}
		for _, st := range []string{r.Outside, r.Inside} {
			if _, err := model.ParseState(st); err != nil {
				problems = append(problems, fmt.Sprintf("rule %d: %v", i, err))
			}
		}
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, ", "))
	}
	if len(conflicts) > 0 {
		panic("Conflicting GPIO pins: " + strings.Join(conflicts, ", "))
	}
}

// Validate is validate with the panic turned into an error, for callers that
// need to report rather than abort.
func (cfg *Config) Validate() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	cfg.validate()
	return nil
}

// ActuatorPins returns every configured actuator pin keyed by actuator id.
func (cfg *Config) ActuatorPins() map[string]model.GPIOPin {
	pins := make(map[string]model.GPIOPin, len(cfg.Actuators))
	for _, a := range cfg.Actuators {
		if a.Pin == nil {
			continue
		}
		pins[a.ID] = model.GPIOPin{Number: *a.Pin, ActiveHigh: a.ActiveHigh}
	}
	return pins
}
