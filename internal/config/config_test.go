package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"guardpost/internal/config"
	"guardpost/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.AckDeadline() != 5*time.Minute {
		t.Fatalf("ack deadline = %v, want 5m", cfg.AckDeadline())
	}
	if cfg.ResolutionDeadline(domain.SeverityCritical) != 15*time.Minute {
		t.Fatalf("critical resolution deadline = %v, want 15m", cfg.ResolutionDeadline(domain.SeverityCritical))
	}
}

func TestResolutionDeadlineFallsBackToMedium(t *testing.T) {
	cfg := config.Default()
	if got := cfg.ResolutionDeadline(domain.Severity("bogus")); got != cfg.ResolutionDeadline(domain.SeverityMedium) {
		t.Fatalf("unknown severity deadline = %v, want medium fallback", got)
	}
}

func TestBackoffClampsToLastStep(t *testing.T) {
	cfg := config.Default()
	steps := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 60 * time.Second},
		{3, 300 * time.Second},
		{9, 300 * time.Second},
	}
	for _, s := range steps {
		if got := cfg.Backoff(s.attempt); got != s.want {
			t.Errorf("backoff(%d) = %v, want %v", s.attempt, got, s.want)
		}
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scoring.Weights.Proximity != 0.5 {
		t.Fatalf("expected default weights, got %v", cfg.Scoring.Weights)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	custom := strings.Replace(config.GenerateDefault(), "acknowledge_minutes: 5", "acknowledge_minutes: 2", 1)
	if err := os.WriteFile(filepath.Join(dir, "guardpost.yml"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AckDeadline() != 2*time.Minute {
		t.Fatalf("ack deadline = %v, want 2m", cfg.AckDeadline())
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	bad := strings.Replace(config.GenerateDefault(), "proximity: 0.5", "proximity: 0.1", 1)
	if _, err := config.FromYAML([]byte(bad)); err == nil {
		t.Fatalf("expected weight ordering rejection")
	}
}

func TestValidateRejectsBadYAML(t *testing.T) {
	if _, err := config.FromYAML([]byte("scoring: [")); err == nil {
		t.Fatalf("expected yaml parse error")
	}
}
