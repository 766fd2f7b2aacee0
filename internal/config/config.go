// Package config loads daemon configuration from /etc/ir-turret.conf,
// overridden by command line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// envConfigPath overrides the config file location, mainly for tests.
const envConfigPath = "IR_TURRET_CONFIG"

// Config holds the daemon configuration. Pin numbers are BCM.
type Config struct {
	Poll          time.Duration `mapstructure:"poll"`
	Heartbeat     time.Duration `mapstructure:"heartbeat"`
	RangeInterval time.Duration `mapstructure:"range-interval"`

	Broker   string `mapstructure:"broker"`
	HTTPAddr string `mapstructure:"http"`

	Chip    string `mapstructure:"chip"`
	PinIR   int    `mapstructure:"pin-ir"`
	PinTrig int    `mapstructure:"pin-trig"`
	PinEcho int    `mapstructure:"pin-echo"`
	PinPan  int    `mapstructure:"pin-pan"`
	PinTilt int    `mapstructure:"pin-tilt"`
	PinFire int    `mapstructure:"pin-fire"`

	TempC       float64 `mapstructure:"temp-c"`
	GuardPolicy string  `mapstructure:"guard-policy"`
	GuardCM     float64 `mapstructure:"guard-cm"`

	Debug bool `mapstructure:"debug"`
}

// Default returns the stock configuration for the shipped hardware.
func Default() Config {
	return Config{
		Poll:          5 * time.Millisecond,
		Heartbeat:     15 * time.Minute,
		RangeInterval: 100 * time.Millisecond,
		Broker:        "tcp://192.168.1.200:1883",
		HTTPAddr:      ":80",
		Chip:          "gpiochip0",
		PinIR:         17,
		PinTrig:       23,
		PinEcho:       24,
		PinPan:        12,
		PinTilt:       13,
		PinFire:       18,
		TempC:         20.0,
		GuardPolicy:   "all",
		GuardCM:       30.0,
	}
}

// Load reads the config file and applies command line flags on top.
// It also sets the global log level.
func Load() (*Config, error) {
	return load(os.Args[1:], os.Getenv(envConfigPath))
}

func load(args []string, configPath string) (*Config, error) {
	def := Default()

	fs := flag.NewFlagSet("ir-turret", flag.ContinueOnError)
	fs.Duration("poll", def.Poll, "Main loop polling interval")
	fs.Duration("heartbeat", def.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.Duration("range-interval", def.RangeInterval, "Interval between range measurements (0 to disable)")
	fs.String("broker", def.Broker, "MQTT broker address")
	fs.String("http", def.HTTPAddr, "HTTP status address (empty to disable)")
	fs.String("chip", def.Chip, "GPIO character device")
	fs.Int("pin-ir", def.PinIR, "BCM pin for the IR receiver")
	fs.Int("pin-trig", def.PinTrig, "BCM pin for the rangefinder trigger")
	fs.Int("pin-echo", def.PinEcho, "BCM pin for the rangefinder echo")
	fs.Int("pin-pan", def.PinPan, "PWM pin for the pan servo")
	fs.Int("pin-tilt", def.PinTilt, "PWM pin for the tilt servo")
	fs.Int("pin-fire", def.PinFire, "PWM pin for the trigger servo")
	fs.Float64("temp-c", def.TempC, "Ambient temperature for speed-of-sound compensation")
	fs.String("guard-policy", def.GuardPolicy, "Range guard policy: off, aim or all")
	fs.Float64("guard-cm", def.GuardCM, "Range guard distance in centimetres")
	fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	fs.VisitAll(func(f *flag.Flag) {
		v.SetDefault(f.Name, f.DefValue)
	})

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
	} else {
		v.SetConfigName("ir-turret.conf")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
	}
	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Flags that were set explicitly win over the file.
	fs.Visit(func(f *flag.Flag) {
		v.Set(f.Name, f.Value.String())
	})

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	return cfg, nil
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Poll <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.Poll)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat)
	}
	switch c.GuardPolicy {
	case "off", "aim", "all":
	default:
		return fmt.Errorf("guard-policy must be off, aim or all, got %q", c.GuardPolicy)
	}
	if c.GuardCM <= 0 {
		return fmt.Errorf("guard-cm must be positive, got %v", c.GuardCM)
	}
	if c.RangeInterval < 0 {
		return fmt.Errorf("range-interval must not be negative, got %v", c.RangeInterval)
	}
	return nil
}
