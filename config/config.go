// Package config loads estimation problem descriptions from YAML files.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Parameter describes one estimated parameter: its starting guess and
// optional box constraints.
type Parameter struct {
	Name    string   `yaml:"name"`
	Initial float64  `yaml:"initial"`
	Lower   *float64 `yaml:"lower,omitempty"`
	Upper   *float64 `yaml:"upper,omitempty"`
}

// Solver holds the Gauss-Newton and integrator settings.
type Solver struct {
	MaxIterations   int     `yaml:"max_iterations"`
	StationarityTol float64 `yaml:"stationarity_tol"`
	StepTol         float64 `yaml:"step_tol"`
	Damping         float64 `yaml:"damping"`
	Substeps        int     `yaml:"substeps"`
}

// Config is a complete estimation problem description.
type Config struct {
	// Data is the path of the measurement table.
	Data       string      `yaml:"data"`
	Parameters []Parameter `yaml:"parameters"`
	// InitialStates is the initial state guess.
	InitialStates []float64 `yaml:"initial_states"`
	// EstimateInitialState appends the initial states to the estimated
	// vector.
	EstimateInitialState bool `yaml:"estimate_initial_state"`
	// InitFromData seeds initial states from the first valid sample of
	// channels that observe a single state.
	InitFromData bool   `yaml:"init_from_data"`
	Solver       Solver `yaml:"solver"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse unmarshals a configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Solver.MaxIterations == 0 {
		c.Solver.MaxIterations = 50
	}
	if c.Solver.StationarityTol == 0 {
		c.Solver.StationarityTol = 1e-6
	}
	if c.Solver.StepTol == 0 {
		c.Solver.StepTol = 1e-12
	}
	if c.Solver.Substeps == 0 {
		c.Solver.Substeps = 16
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Data == "" {
		return fmt.Errorf("config: data path is required")
	}
	if len(c.Parameters) == 0 {
		return fmt.Errorf("config: at least one parameter is required")
	}
	for i, p := range c.Parameters {
		if p.Lower != nil && p.Upper != nil && *p.Lower > *p.Upper {
			return fmt.Errorf("config: parameter %d (%s): lower bound %v above upper bound %v",
				i, p.Name, *p.Lower, *p.Upper)
		}
	}
	if c.Solver.MaxIterations < 0 {
		return fmt.Errorf("config: max_iterations must be positive")
	}
	if c.Solver.StationarityTol < 0 || c.Solver.StepTol < 0 || c.Solver.Damping < 0 {
		return fmt.Errorf("config: tolerances must not be negative")
	}
	if c.Solver.Substeps < 0 {
		return fmt.Errorf("config: substeps must be positive")
	}
	return nil
}

// Names returns the parameter names in order.
func (c *Config) Names() []string {
	names := make([]string, len(c.Parameters))
	for i, p := range c.Parameters {
		names[i] = p.Name
	}
	return names
}

// Guess returns the parameter starting values in order.
func (c *Config) Guess() []float64 {
	guess := make([]float64, len(c.Parameters))
	for i, p := range c.Parameters {
		guess[i] = p.Initial
	}
	return guess
}

// Bounds returns the box constraints over the parameters, filling
// unconstrained entries with ±Inf. Both slices are nil when no parameter
// carries a bound.
func (c *Config) Bounds() (lower, upper []float64) {
	var bounded bool
	for _, p := range c.Parameters {
		if p.Lower != nil || p.Upper != nil {
			bounded = true
			break
		}
	}
	if !bounded {
		return nil, nil
	}
	lower = make([]float64, len(c.Parameters))
	upper = make([]float64, len(c.Parameters))
	for i, p := range c.Parameters {
		lower[i] = math.Inf(-1)
		upper[i] = math.Inf(1)
		if p.Lower != nil {
			lower[i] = *p.Lower
		}
		if p.Upper != nil {
			upper[i] = *p.Upper
		}
	}
	return lower, upper
}
