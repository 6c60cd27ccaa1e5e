// Package config loads the YAML configuration for the plexec CLI: the tick
// quanta, the trace journal, the notification endpoint, and the demo plan
// fed to the scripted solver.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/plexec/plexec/internal/rat"
)

// Fraction is a rational config value, written either as an integer or as
// "num/den".
type Fraction struct {
	Num int64
	Den int64
}

// UnmarshalYAML accepts 2, "2" and "1/2".
func (f *Fraction) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	num, den, err := parseFraction(raw)
	if err != nil {
		return err
	}
	f.Num, f.Den = num, den
	return nil
}

// MarshalYAML renders "num/den", or the bare numerator when den is 1.
func (f Fraction) MarshalYAML() (any, error) {
	if f.Den == 1 {
		return f.Num, nil
	}
	return fmt.Sprintf("%d/%d", f.Num, f.Den), nil
}

func parseFraction(raw string) (int64, int64, error) {
	num, den := raw, "1"
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		num, den = raw[:i], raw[i+1:]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid fraction %q: %w", raw, err)
	}
	d, err := strconv.ParseInt(strings.TrimSpace(den), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid fraction %q: %w", raw, err)
	}
	if d == 0 {
		return 0, 0, fmt.Errorf("invalid fraction %q: zero denominator", raw)
	}
	return n, d, nil
}

// Rational converts the fraction.
func (f Fraction) Rational() rat.Rational {
	return rat.New(f.Num, f.Den)
}

// IsZero reports an unset fraction.
func (f Fraction) IsZero() bool { return f.Num == 0 && f.Den == 0 }

// Activity describes one scripted plan entry.
type Activity struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // "interval" or "impulse"
	At       Fraction `yaml:"at,omitempty"`
	Start    Fraction `yaml:"start,omitempty"`
	Duration Fraction `yaml:"duration,omitempty"`
}

// Config is the CLI configuration.
type Config struct {
	// Name identifies the solver in notifications and the journal.
	Name string `yaml:"name"`

	// UnitsPerTick is the plan-unit quantum per tick. Default 1.
	UnitsPerTick Fraction `yaml:"units_per_tick"`

	// TickDurationMS is the wall-clock tick period. Default 1000.
	TickDurationMS int `yaml:"tick_duration_ms"`

	// Horizon bounds the plan's end, in plan units.
	Horizon Fraction `yaml:"horizon"`

	// Journal is the trace database path; empty disables the journal.
	Journal string `yaml:"journal,omitempty"`

	// Listen is the websocket notification address; empty disables it.
	Listen string `yaml:"listen,omitempty"`

	// Plan is the demo plan fed to the scripted solver.
	Plan []Activity `yaml:"plan"`
}

// Load reads, parses and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "plexec"
	}
	if c.UnitsPerTick.IsZero() {
		c.UnitsPerTick = Fraction{Num: 1, Den: 1}
	}
	if c.TickDurationMS == 0 {
		c.TickDurationMS = 1000
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if c.UnitsPerTick.Rational().Sign() <= 0 {
		return fmt.Errorf("units_per_tick must be positive, got %s", c.UnitsPerTick.Rational())
	}
	if c.TickDurationMS <= 0 {
		return fmt.Errorf("tick_duration_ms must be positive, got %d", c.TickDurationMS)
	}
	if c.Horizon.IsZero() {
		return fmt.Errorf("horizon is required")
	}
	seen := make(map[string]bool, len(c.Plan))
	for i, act := range c.Plan {
		if act.Name == "" {
			return fmt.Errorf("plan[%d]: name is required", i)
		}
		if seen[act.Name] {
			return fmt.Errorf("plan[%d]: duplicate activity %q", i, act.Name)
		}
		seen[act.Name] = true
		switch act.Type {
		case "interval":
			if act.Duration.IsZero() || act.Duration.Rational().Sign() <= 0 {
				return fmt.Errorf("plan[%d] %q: interval duration must be positive", i, act.Name)
			}
		case "impulse":
			if !act.Start.IsZero() || !act.Duration.IsZero() {
				return fmt.Errorf("plan[%d] %q: impulse takes at, not start/duration", i, act.Name)
			}
		default:
			return fmt.Errorf("plan[%d] %q: unknown type %q", i, act.Name, act.Type)
		}
	}
	return nil
}
