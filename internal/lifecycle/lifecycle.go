// Package lifecycle holds the alert status graph. Every status change in the
// system goes through Validate; there is no other path to mutate status.
package lifecycle

import (
	"fmt"

	"guardpost/internal/domain"
)

// Graph is the set of legal transitions. Resolution is only reachable from
// investigating, and escalated alerts re-enter the flow through assignment.
var Graph = map[domain.Status][]domain.Status{
	domain.StatusCreated:       {domain.StatusAssigned},
	domain.StatusAssigned:      {domain.StatusAcknowledged, domain.StatusEscalated},
	domain.StatusAcknowledged:  {domain.StatusInvestigating, domain.StatusEscalated},
	domain.StatusInvestigating: {domain.StatusResolved, domain.StatusEscalated},
	domain.StatusEscalated:     {domain.StatusAssigned},
	domain.StatusResolved:      {},
}

// InvalidTransitionError reports a rejected status change.
type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Validate returns an error unless from->to is an edge in Graph.
func Validate(from, to domain.Status) error {
	for _, next := range Graph[from] {
		if next == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}

// Terminal reports whether a status has no outgoing transitions.
func Terminal(s domain.Status) bool {
	return len(Graph[s]) == 0
}
