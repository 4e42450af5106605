package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"guardpost/internal/domain"
	"guardpost/internal/repo"
)

type StaffCreateOptions struct {
	Name            string
	Email           string
	Phone           string
	Role            domain.Role
	Department      string
	MaxConcurrent   int
	Skills          []string
	ContactChannels []string
	ZoneID          string
	IsSimulated     bool
}

func validRole(r domain.Role) bool {
	switch r {
	case domain.RoleSecurity, domain.RoleSupervisor, domain.RoleAdmin, domain.RoleLabSupervisor:
		return true
	}
	return false
}

func (e Engine) CreateStaff(ctx context.Context, opts StaffCreateOptions) (domain.Staff, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Staff{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !strings.Contains(opts.Email, "@") {
		return domain.Staff{}, fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	if !validRole(opts.Role) {
		return domain.Staff{}, fmt.Errorf("%w: unknown role %q", ErrValidation, opts.Role)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}

	now := e.nowRFC3339()
	s := domain.Staff{
		ID:              uuid.NewString(),
		Name:            opts.Name,
		Email:           opts.Email,
		Phone:           opts.Phone,
		Role:            opts.Role,
		Department:      opts.Department,
		MaxConcurrent:   opts.MaxConcurrent,
		Skills:          opts.Skills,
		ContactChannels: opts.ContactChannels,
		ZoneID:          opts.ZoneID,
		IsSimulated:     opts.IsSimulated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if s.ZoneID != "" {
		s.ZoneSeenAt = now
	}
	if err := e.Repo.InsertStaff(ctx, s); err != nil {
		return domain.Staff{}, err
	}
	e.Log.Info().Str("staff_id", s.ID).Str("role", string(s.Role)).Msg("staff registered")
	return s, nil
}

func (e Engine) GetStaff(ctx context.Context, id string) (domain.Staff, error) {
	s, err := e.Repo.GetStaff(ctx, id)
	return s, mapErr(err)
}

func (e Engine) ListStaff(ctx context.Context, f repo.StaffFilters) ([]domain.Staff, error) {
	return e.Repo.ListStaff(ctx, f)
}

// SetDuty toggles a responder on or off shift.
func (e Engine) SetDuty(ctx context.Context, staffID string, onDuty bool) (domain.Staff, error) {
	if err := e.Repo.SetStaffDuty(ctx, staffID, onDuty, e.nowRFC3339()); err != nil {
		return domain.Staff{}, mapErr(err)
	}
	return e.GetStaff(ctx, staffID)
}

// SetLocation records a responder's last seen zone.
func (e Engine) SetLocation(ctx context.Context, staffID, zoneID string) (domain.Staff, error) {
	now := e.nowRFC3339()
	if err := e.Repo.SetStaffLocation(ctx, staffID, zoneID, now, now); err != nil {
		return domain.Staff{}, mapErr(err)
	}
	return e.GetStaff(ctx, staffID)
}
