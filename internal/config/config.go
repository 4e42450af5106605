package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"guardpost/internal/domain"
)

// Config models guardpost.yml, the engine policy file.
type Config struct {
	Scoring struct {
		Weights struct {
			Proximity float64 `yaml:"proximity"`
			Workload  float64 `yaml:"workload"`
			Skill     float64 `yaml:"skill"`
		} `yaml:"weights"`
		CriticalRoleBonus float64             `yaml:"critical_role_bonus"`
		CriticalFanout    int                 `yaml:"critical_fanout"`
		MaxZoneRadius     int                 `yaml:"max_zone_radius"`
		WidenedZoneRadius int                 `yaml:"widened_zone_radius"`
		StaleLocationMin  int                 `yaml:"stale_location_minutes"`
		RolePreferences   map[string][]string `yaml:"role_preferences"`
	} `yaml:"scoring"`
	Deadlines struct {
		AcknowledgeMinutes int            `yaml:"acknowledge_minutes"`
		ResolutionMinutes  map[string]int `yaml:"resolution_minutes"`
	} `yaml:"deadlines"`
	Escalation struct {
		MaxEscalations int `yaml:"max_escalations"`
		PollSeconds    int `yaml:"poll_seconds"`
	} `yaml:"escalation"`
	Notify struct {
		Workers        int    `yaml:"workers"`
		MaxAttempts    int    `yaml:"max_attempts"`
		BackoffSeconds []int  `yaml:"backoff_seconds"`
		LeaseSeconds   int    `yaml:"lease_seconds"`
		SendTimeoutSec int    `yaml:"send_timeout_seconds"`
		WebhookURL     string `yaml:"webhook_url"`
	} `yaml:"notify"`
	Zones struct {
		Adjacency map[string][]string `yaml:"adjacency"`
	} `yaml:"zones"`
}

// AckDeadline returns the acknowledgment deadline duration.
func (c *Config) AckDeadline() time.Duration {
	return time.Duration(c.Deadlines.AcknowledgeMinutes) * time.Minute
}

// ResolutionDeadline returns the resolution deadline for a severity.
func (c *Config) ResolutionDeadline(sev domain.Severity) time.Duration {
	m, ok := c.Deadlines.ResolutionMinutes[string(sev)]
	if !ok {
		m = c.Deadlines.ResolutionMinutes[string(domain.SeverityMedium)]
	}
	return time.Duration(m) * time.Minute
}

// StaleLocationAfter returns how old a zone sighting may be before the
// responder is treated as having no known location.
func (c *Config) StaleLocationAfter() time.Duration {
	return time.Duration(c.Scoring.StaleLocationMin) * time.Minute
}

// Backoff returns the retry delay for a given attempt number (1-based).
func (c *Config) Backoff(attempt int) time.Duration {
	if len(c.Notify.BackoffSeconds) == 0 {
		return time.Minute
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.Notify.BackoffSeconds) {
		idx = len(c.Notify.BackoffSeconds) - 1
	}
	return time.Duration(c.Notify.BackoffSeconds[idx]) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	w := c.Scoring.Weights
	if w.Proximity <= 0 || w.Workload <= 0 || w.Skill <= 0 {
		return fmt.Errorf("config.scoring.weights must all be positive")
	}
	if w.Proximity < w.Workload || w.Workload < w.Skill {
		return fmt.Errorf("config.scoring.weights must order proximity >= workload >= skill")
	}
	if c.Scoring.CriticalFanout < 1 {
		return fmt.Errorf("config.scoring.critical_fanout must be at least 1")
	}
	if c.Scoring.CriticalRoleBonus <= 0 || c.Scoring.CriticalRoleBonus > 1 {
		return fmt.Errorf("config.scoring.critical_role_bonus must be in (0,1]")
	}
	if c.Scoring.MaxZoneRadius < 1 {
		return fmt.Errorf("config.scoring.max_zone_radius must be at least 1")
	}
	if c.Scoring.WidenedZoneRadius < c.Scoring.MaxZoneRadius {
		return fmt.Errorf("config.scoring.widened_zone_radius must be >= max_zone_radius")
	}
	if c.Deadlines.AcknowledgeMinutes < 1 {
		return fmt.Errorf("config.deadlines.acknowledge_minutes must be at least 1")
	}
	for _, sev := range []string{"low", "medium", "high", "critical"} {
		if c.Deadlines.ResolutionMinutes[sev] < 1 {
			return fmt.Errorf("config.deadlines.resolution_minutes.%s must be at least 1", sev)
		}
	}
	if c.Escalation.MaxEscalations < 0 {
		return fmt.Errorf("config.escalation.max_escalations must not be negative")
	}
	if c.Notify.Workers < 1 {
		return fmt.Errorf("config.notify.workers must be at least 1")
	}
	if c.Notify.MaxAttempts < 1 {
		return fmt.Errorf("config.notify.max_attempts must be at least 1")
	}
	if len(c.Notify.BackoffSeconds) == 0 {
		return fmt.Errorf("config.notify.backoff_seconds must not be empty")
	}
	for zone, neighbors := range c.Zones.Adjacency {
		if zone == "" {
			return fmt.Errorf("config.zones.adjacency contains empty zone id")
		}
		for _, n := range neighbors {
			if n == "" {
				return fmt.Errorf("zone %s has empty neighbor id", zone)
			}
		}
	}
	for anomalyType, roles := range c.Scoring.RolePreferences {
		if len(roles) == 0 {
			return fmt.Errorf("role preference for %s is empty", anomalyType)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "guardpost.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `scoring:
  weights:
    proximity: 0.5
    workload: 0.3
    skill: 0.2
  critical_role_bonus: 0.8
  critical_fanout: 3
  max_zone_radius: 3
  widened_zone_radius: 5
  stale_location_minutes: 30
  role_preferences:
    intrusion: [security, supervisor, admin]
    unauthorized_access: [security, supervisor, admin]
    equipment_failure: [lab_supervisor, supervisor, admin]
    environmental: [lab_supervisor, supervisor, admin]
    crowd: [security, supervisor]
    default: [security, supervisor, admin]

deadlines:
  acknowledge_minutes: 5
  resolution_minutes:
    critical: 15
    high: 30
    medium: 120
    low: 240

escalation:
  max_escalations: 2
  poll_seconds: 5

notify:
  workers: 2
  max_attempts: 3
  backoff_seconds: [10, 60, 300]
  lease_seconds: 30
  send_timeout_seconds: 5
  webhook_url: ""

zones:
  adjacency:
    lobby: [corridor-a, entrance]
    entrance: [lobby]
    corridor-a: [lobby, lab-1, lab-2]
    lab-1: [corridor-a]
    lab-2: [corridor-a, storage]
    storage: [lab-2]
`
