// Package assign ranks on-duty responders for an alert. Scores are costs:
// lower is better, and the weighting keeps proximity dominant over workload
// over skill.
package assign

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"guardpost/internal/config"
	"guardpost/internal/domain"
	"guardpost/internal/repo"
)

// ErrNoCandidate means no responder is eligible even after widening the
// search radius and falling back to supervisors.
var ErrNoCandidate = errors.New("no eligible responder")

type Engine struct {
	Repo   repo.Repo
	Config *config.Config
	Log    zerolog.Logger
	Now    func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Candidate is one ranked responder with its score breakdown.
type Candidate struct {
	Staff       domain.Staff
	Score       float64
	Proximity   float64
	Workload    float64
	Skill       float64
	ActiveCount int
}

// Options narrows the candidate pool.
type Options struct {
	// Roles restricts the pool; empty means any role.
	Roles []domain.Role
	// ExcludeIDs removes specific responders, e.g. the previous assignee
	// on escalation.
	ExcludeIDs []string
	// AnyZone drops the radius restriction entirely.
	AnyZone bool
	// Radius overrides the configured zone radius when positive.
	Radius int
	// Simulated selects the rehearsal staff pool.
	Simulated bool
}

// Rank returns eligible candidates ordered best first. Eligibility requires
// on-duty and spare capacity; position never disqualifies, it only costs.
func (e Engine) Rank(ctx context.Context, alert domain.Alert, opts Options) ([]Candidate, error) {
	staff, err := e.Repo.ListStaff(ctx, repo.StaffFilters{
		OnDutyOnly: true,
		Roles:      opts.Roles,
		ExcludeIDs: opts.ExcludeIDs,
		Simulated:  opts.Simulated,
	})
	if err != nil {
		return nil, err
	}

	radius := e.Config.Scoring.MaxZoneRadius
	if opts.Radius > 0 {
		radius = opts.Radius
	}
	distances := e.zoneDistances(alert.Location.ZoneID, radius)
	prefs := e.rolePreferences(alert.AnomalyType)
	now := e.now()

	var candidates []Candidate
	for _, s := range staff {
		active, err := e.Repo.CountActiveAssigned(ctx, s.ID, opts.Simulated)
		if err != nil {
			return nil, err
		}
		if s.MaxConcurrent > 0 && active >= s.MaxConcurrent {
			continue
		}
		prox, known := e.proximityCost(s, distances, now)
		if !known && !opts.AnyZone {
			// Outside the search radius with a fresh location. Stale or
			// missing locations stay in the pool at worst proximity.
			continue
		}
		workload := workloadCost(active, s.MaxConcurrent)
		skill := skillCost(s.Role, prefs)
		w := e.Config.Scoring.Weights
		total := w.Proximity*prox + w.Workload*workload + w.Skill*skill
		if alert.Severity == domain.SeverityCritical &&
			(s.Role == domain.RoleSupervisor || s.Role == domain.RoleAdmin) {
			total *= e.Config.Scoring.CriticalRoleBonus
		}
		candidates = append(candidates, Candidate{
			Staff:       s,
			Score:       total,
			Proximity:   prox,
			Workload:    workload,
			Skill:       skill,
			ActiveCount: active,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score < candidates[j].Score
		}
		if candidates[i].Workload != candidates[j].Workload {
			return candidates[i].Workload < candidates[j].Workload
		}
		return candidates[i].Staff.ID < candidates[j].Staff.ID
	})
	return candidates, nil
}

// Select runs the full candidate search for an alert: configured radius
// first, then widened once, then any on-duty supervisor or admin regardless
// of zone. Returns candidates best first or ErrNoCandidate.
func (e Engine) Select(ctx context.Context, alert domain.Alert, opts Options) ([]Candidate, error) {
	candidates, err := e.Rank(ctx, alert, opts)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return candidates, nil
	}

	widened := opts
	widened.Radius = e.Config.Scoring.WidenedZoneRadius
	candidates, err = e.Rank(ctx, alert, widened)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		e.Log.Debug().Str("alert_id", alert.ID).Msg("assignment radius widened")
		return candidates, nil
	}

	fallback := opts
	fallback.AnyZone = true
	fallback.Roles = []domain.Role{domain.RoleSupervisor, domain.RoleAdmin}
	candidates, err = e.Rank(ctx, alert, fallback)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		e.Log.Debug().Str("alert_id", alert.ID).Msg("assignment fell back to supervisors")
		return candidates, nil
	}
	return nil, ErrNoCandidate
}

// proximityCost maps zone distance to cost. The second return reports
// whether the responder has a usable position inside the radius; stale and
// unknown locations are usable everywhere but cost the maximum.
func (e Engine) proximityCost(s domain.Staff, distances map[string]int, now time.Time) (float64, bool) {
	if s.ZoneID == "" {
		return 1.0, true
	}
	if s.ZoneSeenAt != "" {
		seen, err := time.Parse(time.RFC3339, s.ZoneSeenAt)
		if err == nil && now.Sub(seen) > e.Config.StaleLocationAfter() {
			return 1.0, true
		}
	}
	d, ok := distances[s.ZoneID]
	if !ok {
		return 1.0, false
	}
	switch d {
	case 0:
		return 0.0, true
	case 1:
		return 0.33, true
	case 2:
		return 0.67, true
	default:
		return 1.0, true
	}
}

func workloadCost(active, max int) float64 {
	if max <= 0 {
		return 0
	}
	w := float64(active) / float64(max)
	if w > 1 {
		w = 1
	}
	return w
}

// skillCost is the responder role's position in the anomaly type's
// preference list, normalized. Roles not in the list cost the maximum.
func skillCost(role domain.Role, prefs []domain.Role) float64 {
	for i, r := range prefs {
		if r == role {
			if len(prefs) == 1 {
				return 0
			}
			return float64(i) / float64(len(prefs))
		}
	}
	return 1.0
}

func (e Engine) rolePreferences(anomalyType string) []domain.Role {
	names, ok := e.Config.Scoring.RolePreferences[anomalyType]
	if !ok {
		names = e.Config.Scoring.RolePreferences["default"]
	}
	prefs := make([]domain.Role, 0, len(names))
	for _, n := range names {
		prefs = append(prefs, domain.Role(n))
	}
	return prefs
}

// zoneDistances is a BFS over the adjacency map out to maxRadius hops.
func (e Engine) zoneDistances(origin string, maxRadius int) map[string]int {
	distances := map[string]int{}
	if origin == "" {
		return distances
	}
	distances[origin] = 0
	queue := []string{origin}
	for len(queue) > 0 {
		zone := queue[0]
		queue = queue[1:]
		d := distances[zone]
		if d >= maxRadius {
			continue
		}
		for _, next := range e.Config.Zones.Adjacency[zone] {
			if _, seen := distances[next]; seen {
				continue
			}
			distances[next] = d + 1
			queue = append(queue, next)
		}
	}
	return distances
}
