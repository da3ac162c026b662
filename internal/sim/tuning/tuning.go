package tuning

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"worryrelay/internal/sim/relay"
)

const (
	ReliefModeDivide        = "divide"
	ReliefModeModuloProduct = "modulo_product"

	// Presets reproduce the two classic runs of the relay puzzle.
	PresetBoredom = "boredom"
	PresetAnxious = "anxious"
)

type Config struct {
	Preset string        `yaml:"preset,omitempty"`
	Rounds uint64        `yaml:"rounds"`
	Relief ReliefConfig  `yaml:"relief"`
	Agents []AgentConfig `yaml:"agents"`
}

type ReliefConfig struct {
	Mode        string `yaml:"mode"`
	Denominator uint64 `yaml:"denominator,omitempty"`
}

type AgentConfig struct {
	Items       []uint64 `yaml:"items"`
	Operation   string   `yaml:"operation"`
	TestDivisor uint64   `yaml:"test_divisor"`
	IfTrue      int      `yaml:"if_true"`
	IfFalse     int      `yaml:"if_false"`
}

func Defaults() Config {
	return Config{
		Rounds: 20,
		Relief: ReliefConfig{Mode: ReliefModeDivide, Denominator: 3},
	}
}

// LoadFile reads a YAML run config (.yaml/.yml) or a plain-text notes file.
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return Load(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return Defaults(), err
		}
		defer f.Close()
		cfg := Defaults()
		agents, err := ParseNotes(f)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		cfg.Agents = agents
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		return cfg, nil
	}
}

func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Defaults(), err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Parse decodes a YAML run config, checks it against the config schema and
// validates its semantics.
func Parse(raw []byte) (Config, error) {
	cfg := Defaults()
	if err := validateSchema(raw); err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyPreset overrides the relief and round count with a named preset.
func (c *Config) ApplyPreset(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return nil
	case PresetBoredom:
		c.Relief = ReliefConfig{Mode: ReliefModeDivide, Denominator: 3}
		c.Rounds = 20
	case PresetAnxious:
		c.Relief = ReliefConfig{Mode: ReliefModeModuloProduct}
		c.Rounds = 10000
	default:
		return fmt.Errorf("unknown preset %q", name)
	}
	c.Preset = strings.ToLower(strings.TrimSpace(name))
	return nil
}

func (c *Config) Normalize() {
	c.Relief.Mode = strings.ToLower(strings.TrimSpace(c.Relief.Mode))
	if c.Relief.Mode == "" {
		c.Relief.Mode = ReliefModeDivide
	}
	if c.Relief.Mode == ReliefModeModuloProduct {
		c.Relief.Denominator = 0
	}
	if c.Preset != "" {
		// Unknown names are reported by Validate.
		_ = c.ApplyPreset(c.Preset)
	}
	for i := range c.Agents {
		c.Agents[i].Operation = strings.Join(strings.Fields(c.Agents[i].Operation), " ")
	}
}

func (c Config) Validate() error {
	switch c.Preset {
	case "", PresetBoredom, PresetAnxious:
	default:
		return fmt.Errorf("unknown preset %q", c.Preset)
	}
	switch c.Relief.Mode {
	case ReliefModeDivide:
		if c.Relief.Denominator == 0 {
			return fmt.Errorf("relief: divide needs a positive denominator")
		}
	case ReliefModeModuloProduct:
	default:
		return fmt.Errorf("relief: unknown mode %q", c.Relief.Mode)
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("agents: at least one agent is required")
	}
	n := len(c.Agents)
	for i, a := range c.Agents {
		if _, err := ParseOperation(a.Operation); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
		if a.TestDivisor == 0 {
			return fmt.Errorf("agents[%d]: test_divisor must be positive", i)
		}
		if a.IfTrue < 0 || a.IfTrue >= n {
			return fmt.Errorf("agents[%d]: if_true %d out of range", i, a.IfTrue)
		}
		if a.IfFalse < 0 || a.IfFalse >= n {
			return fmt.Errorf("agents[%d]: if_false %d out of range", i, a.IfFalse)
		}
	}
	return nil
}

// Build turns the config into engine construction records.
func (c Config) Build() ([]relay.AgentSpec, relay.Relief, error) {
	var relief relay.Relief
	switch c.Relief.Mode {
	case ReliefModeModuloProduct:
		relief = relay.ModuloProduct()
	default:
		relief = relay.Divide(c.Relief.Denominator)
	}
	specs := make([]relay.AgentSpec, 0, len(c.Agents))
	for i, a := range c.Agents {
		op, err := ParseOperation(a.Operation)
		if err != nil {
			return nil, relief, fmt.Errorf("agents[%d]: %w", i, err)
		}
		specs = append(specs, relay.AgentSpec{
			Items:          append([]uint64(nil), a.Items...),
			Operation:      op,
			TestDivisor:    a.TestDivisor,
			IfDivisible:    a.IfTrue,
			IfNotDivisible: a.IfFalse,
		})
	}
	return specs, relief, nil
}

// NewSimulation builds a ready-to-run simulation from the config.
func (c Config) NewSimulation() (*relay.Simulation, error) {
	specs, relief, err := c.Build()
	if err != nil {
		return nil, err
	}
	return relay.New(specs, relief)
}
