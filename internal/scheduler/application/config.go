package application

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls the midnight scheduler cadence.
type Config struct {
	// WindowMinutes is the width of the window centered on local
	// midnight during which a zone is eligible to trigger. It must be
	// even, so the window splits cleanly across midnight.
	WindowMinutes int `yaml:"window_minutes"`
	// TickMinutes is the scan interval. It must be strictly smaller
	// than the window so no zone passes through undetected.
	TickMinutes int `yaml:"tick_minutes"`
	// MaxConcurrentDispatch bounds the per-zone device fan-out.
	MaxConcurrentDispatch int `yaml:"max_concurrent_dispatch"`
}

// LoadConfig loads scheduler config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		WindowMinutes:         getenvIntDefault("SCHEDULER_WINDOW_MINUTES", 30),
		TickMinutes:           getenvIntDefault("SCHEDULER_TICK_MINUTES", 15),
		MaxConcurrentDispatch: getenvIntDefault("SCHEDULER_MAX_CONCURRENT", 8),
	}

	if path := os.Getenv("SCHEDULER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cadence invariants.
func (c Config) Validate() error {
	if c.WindowMinutes <= 0 {
		return fmt.Errorf("scheduler: window must be positive, got %d", c.WindowMinutes)
	}
	if c.WindowMinutes%2 != 0 {
		return fmt.Errorf("scheduler: window must be even to center on midnight, got %d", c.WindowMinutes)
	}
	if c.TickMinutes <= 0 {
		return fmt.Errorf("scheduler: tick must be positive, got %d", c.TickMinutes)
	}
	if c.TickMinutes >= c.WindowMinutes {
		return fmt.Errorf("scheduler: tick (%dm) must be smaller than window (%dm)", c.TickMinutes, c.WindowMinutes)
	}
	if c.MaxConcurrentDispatch < 1 {
		return fmt.Errorf("scheduler: max concurrent dispatch must be at least 1, got %d", c.MaxConcurrentDispatch)
	}
	return nil
}

// Window returns the window width as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// Tick returns the scan interval as a duration.
func (c Config) Tick() time.Duration {
	return time.Duration(c.TickMinutes) * time.Minute
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
