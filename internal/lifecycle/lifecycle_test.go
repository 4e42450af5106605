package lifecycle_test

import (
	"errors"
	"testing"

	"guardpost/internal/domain"
	"guardpost/internal/lifecycle"
)

func TestValidTransitions(t *testing.T) {
	valid := [][2]domain.Status{
		{domain.StatusCreated, domain.StatusAssigned},
		{domain.StatusAssigned, domain.StatusAcknowledged},
		{domain.StatusAssigned, domain.StatusEscalated},
		{domain.StatusAcknowledged, domain.StatusInvestigating},
		{domain.StatusAcknowledged, domain.StatusEscalated},
		{domain.StatusInvestigating, domain.StatusResolved},
		{domain.StatusInvestigating, domain.StatusEscalated},
		{domain.StatusEscalated, domain.StatusAssigned},
	}
	for _, edge := range valid {
		if err := lifecycle.Validate(edge[0], edge[1]); err != nil {
			t.Errorf("expected %s -> %s to be valid: %v", edge[0], edge[1], err)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	invalid := [][2]domain.Status{
		{domain.StatusCreated, domain.StatusResolved},
		{domain.StatusCreated, domain.StatusAcknowledged},
		{domain.StatusAssigned, domain.StatusResolved},
		{domain.StatusAcknowledged, domain.StatusResolved},
		{domain.StatusResolved, domain.StatusAssigned},
		{domain.StatusResolved, domain.StatusEscalated},
		{domain.StatusEscalated, domain.StatusResolved},
	}
	for _, edge := range invalid {
		err := lifecycle.Validate(edge[0], edge[1])
		if err == nil {
			t.Errorf("expected %s -> %s to be rejected", edge[0], edge[1])
			continue
		}
		var invalidErr *lifecycle.InvalidTransitionError
		if !errors.As(err, &invalidErr) {
			t.Errorf("expected InvalidTransitionError, got %T", err)
			continue
		}
		if invalidErr.From != edge[0] || invalidErr.To != edge[1] {
			t.Errorf("error carries %s -> %s, want %s -> %s", invalidErr.From, invalidErr.To, edge[0], edge[1])
		}
	}
}

func TestTerminal(t *testing.T) {
	if !lifecycle.Terminal(domain.StatusResolved) {
		t.Fatalf("resolved should be terminal")
	}
	for _, s := range []domain.Status{
		domain.StatusCreated, domain.StatusAssigned, domain.StatusAcknowledged,
		domain.StatusInvestigating, domain.StatusEscalated,
	} {
		if lifecycle.Terminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
