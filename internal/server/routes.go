package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"guardpost/internal/domain"
	"guardpost/internal/engine"
	"guardpost/internal/repo"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-anomaly",
		Method:        http.MethodPost,
		Path:          "/events/anomaly",
		Summary:       "Ingest anomaly event",
		Description:   "Creates an alert and auto-assigns a responder. Idempotent on anomaly_id.",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.AnomalyEvent `json:"body"`
	}) (*struct {
		Body domain.Alert `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.Ingest(ctx, input.Body, false, "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Alert `json:"body"`
		}{Body: a}, nil
	})
}

type AlertPath struct {
	AlertID string `path:"alert_id" format:"uuid"`
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func registerAlerts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "List alerts",
		Description: "Severity ordered: critical first, then by recency.",
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" doc:"Comma separated status filter"`
		Severity   string `query:"severity" doc:"Comma separated severity filter"`
		AssignedTo string `query:"assigned_to"`
		From       string `query:"from" doc:"Created at or after, RFC3339"`
		To         string `query:"to" doc:"Created at or before, RFC3339"`
		Simulated  bool   `query:"simulated" doc:"Include simulated alerts"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		Offset     int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body []domain.Alert `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		f := repo.AlertFilters{
			AssignedTo:       input.AssignedTo,
			CreatedFrom:      input.From,
			CreatedTo:        input.To,
			IncludeSimulated: input.Simulated,
			Limit:            input.Limit,
			Offset:           input.Offset,
		}
		for _, s := range splitCSV(input.Status) {
			f.Statuses = append(f.Statuses, domain.Status(s))
		}
		for _, s := range splitCSV(input.Severity) {
			f.Severities = append(f.Severities, domain.Severity(s))
		}
		items, err := e.ListAlerts(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Alert `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-alert",
		Method:      http.MethodGet,
		Path:        "/alerts/{alert_id}",
		Summary:     "Get alert",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *AlertPath) (*struct {
		Body domain.Alert `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAlert(ctx, input.AlertID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Alert `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "alert-history",
		Method:      http.MethodGet,
		Path:        "/alerts/{alert_id}/history",
		Summary:     "Alert audit history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *AlertPath) (*struct {
		Body []domain.AuditEntry `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.History(ctx, input.AlertID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEntry `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "alert-assignments",
		Method:      http.MethodGet,
		Path:        "/alerts/{alert_id}/assignments",
		Summary:     "Alert assignment records",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *AlertPath) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAssignments(ctx, input.AlertID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-alert",
		Method:      http.MethodPost,
		Path:        "/alerts/{alert_id}/assign",
		Summary:     "Assign alert",
		Description: "Auto-assigns by score, or forces a responder when staff_id is given.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AlertPath
		Body struct {
			StaffID string `json:"staff_id,omitempty"`
			Reason  string `json:"reason,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Alert `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AssignAlert(ctx, engine.AssignOptions{
			AlertID:   input.AlertID,
			StaffID:   input.Body.StaffID,
			Reason:    input.Body.Reason,
			ActorID:   p.ActorID,
			ActorType: p.ActorType(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Alert `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-alert",
		Method:      http.MethodPost,
		Path:        "/alerts/{alert_id}/acknowledge",
		Summary:     "Acknowledge alert",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *AlertPath) (*struct {
		Body domain.Alert `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Acknowledge(ctx, engine.TransitionOptions{
			AlertID:   input.AlertID,
			ActorID:   p.ActorID,
			ActorType: p.ActorType(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Alert `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "investigate-alert",
		Method:      http.MethodPost,
		Path:        "/alerts/{alert_id}/investigate",
		Summary:     "Start investigation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *AlertPath) (*struct {
		Body domain.Alert `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.StartInvestigation(ctx, engine.TransitionOptions{
			AlertID:   input.AlertID,
			ActorID:   p.ActorID,
			ActorType: p.ActorType(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Alert `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-alert-note",
		Method:        http.MethodPost,
		Path:          "/alerts/{alert_id}/notes",
		Summary:       "Add investigation note",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		AlertPath
		Body struct {
			Note string `json:"note"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AddNote(ctx, engine.NoteOptions{
			AlertID:   input.AlertID,
			Note:      input.Body.Note,
			ActorID:   p.ActorID,
			ActorType: p.ActorType(),
		}); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "recorded"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-alert",
		Method:      http.MethodPost,
		Path:        "/alerts/{alert_id}/resolve",
		Summary:     "Resolve alert",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AlertPath
		Body struct {
			Type  string `json:"type" enum:"resolved,false_alarm,no_action_required"`
			Notes string `json:"notes"`
		} `json:"body"`
	}) (*struct {
		Body domain.Alert `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Resolve(ctx, engine.ResolveOptions{
			AlertID:   input.AlertID,
			Type:      domain.ResolutionType(input.Body.Type),
			Notes:     input.Body.Notes,
			ActorID:   p.ActorID,
			ActorType: p.ActorType(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Alert `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-alert",
		Method:      http.MethodPost,
		Path:        "/alerts/{alert_id}/escalate",
		Summary:     "Escalate alert",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AlertPath
		Body struct {
			Reason string `json:"reason,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Alert `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Escalate(ctx, engine.EscalateOptions{
			AlertID:   input.AlertID,
			Reason:    input.Body.Reason,
			ActorID:   p.ActorID,
			ActorType: p.ActorType(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Alert `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-alert-severity",
		Method:      http.MethodPatch,
		Path:        "/alerts/{alert_id}/severity",
		Summary:     "Change alert severity",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AlertPath
		Body struct {
			Severity string `json:"severity" enum:"low,medium,high,critical"`
		} `json:"body"`
	}) (*struct {
		Body domain.Alert `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ChangeSeverity(ctx, engine.SeverityOptions{
			AlertID:   input.AlertID,
			Severity:  domain.Severity(input.Body.Severity),
			ActorID:   p.ActorID,
			ActorType: p.ActorType(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Alert `json:"body"`
		}{Body: a}, nil
	})
}

func registerStaff(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-staff",
		Method:        http.MethodPost,
		Path:          "/staff",
		Summary:       "Register staff member",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name            string   `json:"name"`
			Email           string   `json:"email" format:"email"`
			Phone           string   `json:"phone,omitempty"`
			Role            string   `json:"role" enum:"security,supervisor,admin,lab_supervisor"`
			Department      string   `json:"department,omitempty"`
			MaxConcurrent   int      `json:"max_concurrent,omitempty" minimum:"0"`
			Skills          []string `json:"skills,omitempty"`
			ContactChannels []string `json:"contact_channels,omitempty"`
			ZoneID          string   `json:"zone_id,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Staff `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor); authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateStaff(ctx, engine.StaffCreateOptions{
			Name:            input.Body.Name,
			Email:           input.Body.Email,
			Phone:           input.Body.Phone,
			Role:            domain.Role(input.Body.Role),
			Department:      input.Body.Department,
			MaxConcurrent:   input.Body.MaxConcurrent,
			Skills:          input.Body.Skills,
			ContactChannels: input.Body.ContactChannels,
			ZoneID:          input.Body.ZoneID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Staff `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-staff",
		Method:      http.MethodGet,
		Path:        "/staff",
		Summary:     "List staff",
	}, func(ctx context.Context, input *struct {
		OnDuty bool   `query:"on_duty" doc:"Only staff currently on duty"`
		Role   string `query:"role"`
	}) (*struct {
		Body []domain.Staff `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		f := repo.StaffFilters{OnDutyOnly: input.OnDuty}
		if input.Role != "" {
			f.Roles = []domain.Role{domain.Role(input.Role)}
		}
		items, err := e.ListStaff(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Staff `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "staff-dashboard",
		Method:      http.MethodGet,
		Path:        "/staff/{staff_id}/dashboard",
		Summary:     "Staff dashboard",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StaffID string `path:"staff_id"`
	}) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		d, err := e.StaffDashboard(ctx, input.StaffID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Dashboard `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-staff-duty",
		Method:      http.MethodPost,
		Path:        "/staff/{staff_id}/duty",
		Summary:     "Set staff duty state",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		StaffID string `path:"staff_id"`
		Body    struct {
			OnDuty bool `json:"on_duty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Staff `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.SetDuty(ctx, input.StaffID, input.Body.OnDuty)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Staff `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-staff-location",
		Method:      http.MethodPost,
		Path:        "/staff/{staff_id}/location",
		Summary:     "Update staff location",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		StaffID string `path:"staff_id"`
		Body    struct {
			ZoneID string `json:"zone_id"`
		} `json:"body"`
	}) (*struct {
		Body domain.Staff `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.SetLocation(ctx, input.StaffID, input.Body.ZoneID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Staff `json:"body"`
		}{Body: s}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "notification-queue-status",
		Method:      http.MethodGet,
		Path:        "/notifications/status",
		Summary:     "Notification queue status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := e.QueueStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: counts}, nil
	})
}

func registerSimulate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-simulation",
		Method:        http.MethodPost,
		Path:          "/simulate",
		Summary:       "Run a rehearsal scenario",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body struct {
			Scenario string `json:"scenario"`
		} `json:"body"`
	}) (*struct {
		Body []domain.Alert `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor); authErr != nil {
			return nil, authErr
		}
		alerts, err := e.Simulate(ctx, input.Body.Scenario)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Alert `json:"body"`
		}{Body: alerts}, nil
	})
}
