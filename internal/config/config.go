// Package config loads daemon configuration from defaults, an optional YAML
// file and environment overrides, then validates it.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/westinghouse/internal/control"
	"github.com/sweeney/westinghouse/internal/gpio"
	"github.com/sweeney/westinghouse/internal/library"
	"github.com/sweeney/westinghouse/internal/logging"
	"github.com/sweeney/westinghouse/internal/player"
	"github.com/sweeney/westinghouse/internal/relay"
)

// Disabled is the pin value that turns an optional control off.
const Disabled = -1

// Config is the complete daemon configuration.
type Config struct {
	Player   PlayerConfig   `yaml:"player"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	Controls ControlsConfig `yaml:"controls"`
	Lamps    LampsConfig    `yaml:"lamps"`
	HTTP     HTTPConfig     `yaml:"http"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Library  LibraryConfig  `yaml:"library"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PlayerConfig locates the MPD server.
type PlayerConfig struct {
	Host     string               `yaml:"host"`
	Port     int                  `yaml:"port"`
	Password string               `yaml:"password"`
	Timeout  time.Duration        `yaml:"timeout"`
	Breaker  player.BreakerConfig `yaml:"breaker"`
}

// Client returns the player client settings.
func (p PlayerConfig) Client() player.Config {
	return player.Config{Host: p.Host, Port: p.Port, Password: p.Password, Timeout: p.Timeout}
}

// GPIOConfig holds chip-wide line settings.
type GPIOConfig struct {
	Chip string `yaml:"chip"`
	// Bias applies to every input line.
	Bias string `yaml:"bias"`
	// ActiveLow means inputs read low when pressed (pull-up wiring).
	ActiveLow bool `yaml:"active_low"`
	// Poll is the sample spacing of debounced inputs.
	Poll time.Duration `yaml:"poll"`
	// Debounce is the acceptance window for buttons.
	Debounce time.Duration `yaml:"debounce"`
	// EncoderDebounce is the acceptance window for encoder phases.
	EncoderDebounce time.Duration `yaml:"encoder_debounce"`
	// Settle is the minimum time between two transitions of one relay.
	Settle time.Duration `yaml:"settle"`
	// StartupBlink is the blink interval used on every lamp at startup.
	// Zero skips the startup blink.
	StartupBlink time.Duration `yaml:"startup_blink"`
	// UseEdges blocks on kernel edge events instead of polling while idle.
	UseEdges bool `yaml:"use_edges"`
}

// ButtonConfig configures one push button or switch.
type ButtonConfig struct {
	Pin     int           `yaml:"pin"`
	Action  string        `yaml:"action"`
	HoldOff time.Duration `yaml:"hold_off"`
	// Hold and Command configure a long-press system command.
	Hold    time.Duration `yaml:"hold"`
	Command []string      `yaml:"command"`
}

// Enabled reports whether the button has a pin.
func (b ButtonConfig) Enabled() bool { return b.Pin != Disabled }

// EncoderConfig configures one rotary encoder.
type EncoderConfig struct {
	PinA     int           `yaml:"pin_a"`
	PinB     int           `yaml:"pin_b"`
	Mode     string        `yaml:"mode"`
	Min      int           `yaml:"min"`
	Max      int           `yaml:"max"`
	Wrap     bool          `yaml:"wrap"`
	Reverse  bool          `yaml:"reverse"`
	Interval time.Duration `yaml:"interval"`
}

// Enabled reports whether both phases have pins.
func (e EncoderConfig) Enabled() bool { return e.PinA != Disabled && e.PinB != Disabled }

// ControlsConfig names the input controls.
type ControlsConfig struct {
	PlayPause ButtonConfig  `yaml:"play_pause"`
	Shuffle   ButtonConfig  `yaml:"shuffle"`
	Power     ButtonConfig  `yaml:"power"`
	Reboot    ButtonConfig  `yaml:"reboot"`
	Volume    EncoderConfig `yaml:"volume"`
	Track     EncoderConfig `yaml:"track"`
}

// Buttons returns the button configs keyed by control name.
func (c ControlsConfig) Buttons() map[string]ButtonConfig {
	return map[string]ButtonConfig{
		"play-pause": c.PlayPause,
		"shuffle":    c.Shuffle,
		"power":      c.Power,
		"reboot":     c.Reboot,
	}
}

// Encoders returns the encoder configs keyed by control name.
func (c ControlsConfig) Encoders() map[string]EncoderConfig {
	return map[string]EncoderConfig{
		"volume": c.Volume,
		"track":  c.Track,
	}
}

// LampConfig configures one relay-driven lamp.
type LampConfig struct {
	Pin      int           `yaml:"pin"`
	Polarity string        `yaml:"polarity"`
	Mode     string        `yaml:"mode"`
	Interval time.Duration `yaml:"interval"`
	Blink    time.Duration `yaml:"blink"`
}

// Enabled reports whether the lamp has a pin.
func (l LampConfig) Enabled() bool { return l.Pin != Disabled }

// LampsConfig names the lamps.
type LampsConfig struct {
	Liveness LampConfig `yaml:"liveness"`
	Playing  LampConfig `yaml:"playing"`
}

// All returns the lamp configs keyed by lamp name.
func (l LampsConfig) All() map[string]LampConfig {
	return map[string]LampConfig{
		"liveness": l.Liveness,
		"playing":  l.Playing,
	}
}

// HTTPConfig configures the status server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig configures telemetry. An empty Broker disables it.
type MQTTConfig struct {
	Broker     string        `yaml:"broker"`
	ClientID   string        `yaml:"client_id"`
	Heartbeat  time.Duration `yaml:"heartbeat"`
	BufferSize int           `yaml:"buffer_size"`
}

// LibraryConfig configures playlist seeding and rescans.
type LibraryConfig struct {
	// MusicDir is the player's music root; seeded paths are relative to it.
	MusicDir string `yaml:"music_dir"`
	// RescanSchedule is a cron spec. Empty disables rescans.
	RescanSchedule string `yaml:"rescan_schedule"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration for the reference wiring.
func Default() *Config {
	return &Config{
		Player: PlayerConfig{
			Host:    player.DefaultHost,
			Port:    player.DefaultPort,
			Timeout: player.DefaultTimeout,
		},
		GPIO: GPIOConfig{
			Chip:            "gpiochip0",
			Bias:            "pull-up",
			ActiveLow:       true,
			Poll:            5 * time.Millisecond,
			Debounce:        20 * time.Millisecond,
			EncoderDebounce: 2 * time.Millisecond,
			Settle:          50 * time.Millisecond,
			StartupBlink:    time.Second,
		},
		Controls: ControlsConfig{
			PlayPause: ButtonConfig{Pin: 4, Action: string(control.ActionTogglePause), HoldOff: 300 * time.Millisecond},
			Shuffle:   ButtonConfig{Pin: 17, Action: string(control.ActionShuffle), HoldOff: time.Second},
			Power: ButtonConfig{Pin: Disabled, Action: "none",
				Hold: 3 * time.Second, Command: []string{"sudo", "shutdown", "-h", "now"}},
			Reboot: ButtonConfig{Pin: Disabled, Action: "none",
				Hold: 3 * time.Second, Command: []string{"sudo", "reboot"}},
			Volume: EncoderConfig{PinA: 23, PinB: 24, Mode: string(control.ModeVolume), Min: 0, Max: 100, Interval: 2 * time.Millisecond},
			Track:  EncoderConfig{PinA: 6, PinB: 5, Mode: string(control.ModeTrack), Interval: 2 * time.Millisecond},
		},
		Lamps: LampsConfig{
			Liveness: LampConfig{Pin: 16, Polarity: "nc", Mode: string(control.ModeLiveness), Interval: time.Second, Blink: 750 * time.Millisecond},
			Playing:  LampConfig{Pin: 12, Polarity: "no", Mode: string(control.ModePlaying), Interval: time.Second},
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		MQTT: MQTTConfig{Heartbeat: 15 * time.Minute},
		Library: LibraryConfig{
			MusicDir: "/var/lib/mpd/music",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load returns defaults overlaid with the YAML file at path (if non-empty)
// and the process environment, validated.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further
// overrides first.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies WESTINGHOUSE_* variables and the conventional
// MPD_HOST ("[password@]host") and MPD_PORT.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	if v := getenv("MPD_HOST"); v != "" {
		if pw, host, ok := strings.Cut(v, "@"); ok && pw != "" && host != "" {
			cfg.Player.Password = pw
			cfg.Player.Host = host
		} else {
			cfg.Player.Host = v
		}
	}
	if v := getenv("MPD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MPD_PORT: %w", err)
		}
		cfg.Player.Port = port
	}
	if v := getenv("WESTINGHOUSE_MPD_PASSWORD"); v != "" {
		cfg.Player.Password = v
	}
	if v := getenv("WESTINGHOUSE_GPIO_CHIP"); v != "" {
		cfg.GPIO.Chip = v
	}
	if v := getenv("WESTINGHOUSE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := getenv("WESTINGHOUSE_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := getenv("WESTINGHOUSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("WESTINGHOUSE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := getenv("WESTINGHOUSE_RESCAN_SCHEDULE"); v != "" {
		cfg.Library.RescanSchedule = v
	}

	var errs []error
	intVar := func(key string, dst *int) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	durationVar := func(key string, dst *time.Duration) {
		v := getenv(key)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}

	intVar("WESTINGHOUSE_PIN_PLAY_PAUSE", &cfg.Controls.PlayPause.Pin)
	intVar("WESTINGHOUSE_PIN_SHUFFLE", &cfg.Controls.Shuffle.Pin)
	intVar("WESTINGHOUSE_PIN_POWER", &cfg.Controls.Power.Pin)
	intVar("WESTINGHOUSE_PIN_REBOOT", &cfg.Controls.Reboot.Pin)
	intVar("WESTINGHOUSE_PIN_VOLUME_A", &cfg.Controls.Volume.PinA)
	intVar("WESTINGHOUSE_PIN_VOLUME_B", &cfg.Controls.Volume.PinB)
	intVar("WESTINGHOUSE_PIN_TRACK_A", &cfg.Controls.Track.PinA)
	intVar("WESTINGHOUSE_PIN_TRACK_B", &cfg.Controls.Track.PinB)
	intVar("WESTINGHOUSE_PIN_LIVENESS_LAMP", &cfg.Lamps.Liveness.Pin)
	intVar("WESTINGHOUSE_PIN_PLAYING_LAMP", &cfg.Lamps.Playing.Pin)
	intVar("WESTINGHOUSE_VOLUME_MIN", &cfg.Controls.Volume.Min)
	intVar("WESTINGHOUSE_VOLUME_MAX", &cfg.Controls.Volume.Max)
	durationVar("WESTINGHOUSE_POLL", &cfg.GPIO.Poll)
	durationVar("WESTINGHOUSE_DEBOUNCE", &cfg.GPIO.Debounce)
	durationVar("WESTINGHOUSE_ENCODER_DEBOUNCE", &cfg.GPIO.EncoderDebounce)
	durationVar("WESTINGHOUSE_SETTLE", &cfg.GPIO.Settle)
	return errors.Join(errs...)
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Player.Host == "" {
		errs = append(errs, "player.host is required")
	}
	if c.Player.Port < 1 || c.Player.Port > 65535 {
		errs = append(errs, "player.port must be between 1 and 65535")
	}
	if c.Player.Timeout <= 0 {
		errs = append(errs, "player.timeout must be positive")
	}
	if c.GPIO.Chip == "" {
		errs = append(errs, "gpio.chip is required")
	}
	if _, err := gpio.ParseBias(c.GPIO.Bias); err != nil {
		errs = append(errs, "gpio.bias: "+err.Error())
	}
	for name, d := range map[string]time.Duration{
		"gpio.poll":             c.GPIO.Poll,
		"gpio.debounce":         c.GPIO.Debounce,
		"gpio.encoder_debounce": c.GPIO.EncoderDebounce,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	if c.GPIO.Settle < 0 || c.GPIO.StartupBlink < 0 {
		errs = append(errs, "gpio.settle and gpio.startup_blink must not be negative")
	}

	pins := map[int][]string{}
	claim := func(pin int, owner string) {
		if pin == Disabled {
			return
		}
		if pin < 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid pin %d", owner, pin))
			return
		}
		pins[pin] = append(pins[pin], owner)
	}

	for name, b := range c.Controls.Buttons() {
		if !b.Enabled() {
			continue
		}
		claim(b.Pin, "controls."+name)
		if _, err := control.ParseAction(b.Action); err != nil {
			errs = append(errs, fmt.Sprintf("controls.%s: %v", name, err))
		}
		if b.HoldOff < 0 || b.Hold < 0 {
			errs = append(errs, fmt.Sprintf("controls.%s: hold_off and hold must not be negative", name))
		}
		if b.Hold > 0 && len(b.Command) == 0 {
			errs = append(errs, fmt.Sprintf("controls.%s: hold requires a command", name))
		}
	}
	for name, e := range c.Controls.Encoders() {
		if !e.Enabled() {
			continue
		}
		claim(e.PinA, "controls."+name+".pin_a")
		claim(e.PinB, "controls."+name+".pin_b")
		mode, err := control.ParseEncoderMode(e.Mode)
		if err != nil {
			errs = append(errs, fmt.Sprintf("controls.%s: %v", name, err))
		}
		if mode == control.ModeVolume && e.Min > e.Max {
			errs = append(errs, fmt.Sprintf("controls.%s: min %d exceeds max %d", name, e.Min, e.Max))
		}
		if e.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("controls.%s: interval must be positive", name))
		}
	}
	for name, l := range c.Lamps.All() {
		if !l.Enabled() {
			continue
		}
		claim(l.Pin, "lamps."+name)
		if _, err := relay.ParsePolarity(l.Polarity); err != nil {
			errs = append(errs, fmt.Sprintf("lamps.%s: %v", name, err))
		}
		if _, err := control.ParseLampMode(l.Mode); err != nil {
			errs = append(errs, fmt.Sprintf("lamps.%s: %v", name, err))
		}
		if l.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("lamps.%s: interval must be positive", name))
		}
		if l.Blink < 0 {
			errs = append(errs, fmt.Sprintf("lamps.%s: blink must not be negative", name))
		}
	}

	dupPins := make([]int, 0)
	for pin, owners := range pins {
		if len(owners) > 1 {
			dupPins = append(dupPins, pin)
		}
	}
	sort.Ints(dupPins)
	for _, pin := range dupPins {
		owners := pins[pin]
		sort.Strings(owners)
		errs = append(errs, fmt.Sprintf("pin %d used by %s", pin, strings.Join(owners, ", ")))
	}

	if c.Library.RescanSchedule != "" {
		if _, err := library.ParseSchedule(c.Library.RescanSchedule); err != nil {
			errs = append(errs, "library.rescan_schedule: "+err.Error())
		}
	}
	if c.MQTT.Heartbeat < 0 {
		errs = append(errs, "mqtt.heartbeat must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, "logging.level: "+err.Error())
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Sprintf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
