package domain

// Severity levels an alert can carry, ordered low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status is an alert's position in its lifecycle.
type Status string

const (
	StatusCreated       Status = "created"
	StatusAssigned      Status = "assigned"
	StatusAcknowledged  Status = "acknowledged"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusEscalated     Status = "escalated"
)

// Role of a responder.
type Role string

const (
	RoleSecurity      Role = "security"
	RoleSupervisor    Role = "supervisor"
	RoleAdmin         Role = "admin"
	RoleLabSupervisor Role = "lab_supervisor"
)

// ResolutionType is the accepted outcome of a resolved alert.
type ResolutionType string

const (
	ResolutionResolved         ResolutionType = "resolved"
	ResolutionFalseAlarm       ResolutionType = "false_alarm"
	ResolutionNoActionRequired ResolutionType = "no_action_required"
)

// ActorType classifies who performed an action for audit purposes.
type ActorType string

const (
	ActorStaff  ActorType = "staff"
	ActorAdmin  ActorType = "admin"
	ActorSystem ActorType = "system"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Location struct {
	ZoneID      string       `json:"zone_id"`
	Building    string       `json:"building,omitempty"`
	Floor       string       `json:"floor,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

type Alert struct {
	ID               string         `json:"id"`
	AnomalyID        string         `json:"anomaly_id,omitempty"`
	AnomalyType      string         `json:"anomaly_type,omitempty"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Severity         Severity       `json:"severity" enum:"low,medium,high,critical"`
	Status           Status         `json:"status" enum:"created,assigned,acknowledged,investigating,resolved,escalated"`
	Version          int64          `json:"version"`
	Location         Location       `json:"location"`
	AffectedEntities []string       `json:"affected_entities,omitempty"`
	DataSources      []string       `json:"data_sources,omitempty"`
	Evidence         map[string]any `json:"evidence,omitempty"`
	AssignedTo       *string        `json:"assigned_to,omitempty"`
	AssignedAt       *string        `json:"assigned_at,omitempty" format:"date-time"`
	AcknowledgedAt   *string        `json:"acknowledged_at,omitempty" format:"date-time"`
	InvestigatingAt  *string        `json:"investigating_at,omitempty" format:"date-time"`
	ResolvedAt       *string        `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy       *string        `json:"resolved_by,omitempty"`
	ResolutionType   *string        `json:"resolution_type,omitempty"`
	ResolutionNotes  *string        `json:"resolution_notes,omitempty"`
	EscalationCount  int            `json:"escalation_count"`
	IsSimulated      bool           `json:"is_simulated"`
	Scenario         string         `json:"scenario,omitempty"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	UpdatedAt        string         `json:"updated_at" format:"date-time"`
}

// Active reports whether the alert still occupies responder capacity.
func (a Alert) Active() bool {
	switch a.Status {
	case StatusAssigned, StatusAcknowledged, StatusInvestigating:
		return true
	}
	return false
}

type Staff struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone,omitempty"`
	Role            Role     `json:"role" enum:"security,supervisor,admin,lab_supervisor"`
	Department      string   `json:"department,omitempty"`
	OnDuty          bool     `json:"on_duty"`
	MaxConcurrent   int      `json:"max_concurrent"`
	Skills          []string `json:"skills,omitempty"`
	ContactChannels []string `json:"contact_channels,omitempty"`
	ZoneID          string   `json:"zone_id,omitempty"`
	ZoneSeenAt      string   `json:"zone_seen_at,omitempty" format:"date-time"`
	IsSimulated     bool     `json:"is_simulated"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

// Assignment binds a responder to an alert with its scoring rationale.
type Assignment struct {
	ID             string  `json:"id"`
	AlertID        string  `json:"alert_id"`
	StaffID        string  `json:"staff_id"`
	Reason         string  `json:"reason"`
	Score          float64 `json:"score"`
	ProximityScore float64 `json:"proximity_score"`
	WorkloadScore  float64 `json:"workload_score"`
	SkillScore     float64 `json:"skill_score"`
	IsActive       bool    `json:"is_active"`
	IsBackup       bool    `json:"is_backup"`
	AssignedAt     string  `json:"assigned_at" format:"date-time"`
	SupersededAt   *string `json:"superseded_at,omitempty" format:"date-time"`
	SupersededBy   *string `json:"superseded_by,omitempty"`
}

// NotificationStatus tracks a queue item through delivery.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationLeased    NotificationStatus = "leased"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationDead      NotificationStatus = "dead"
)

type Notification struct {
	ID          string             `json:"id"`
	AlertID     string             `json:"alert_id"`
	TargetID    string             `json:"target_id"`
	Channel     string             `json:"channel"`
	DedupKey    string             `json:"dedup_key"`
	Subject     string             `json:"subject"`
	Body        string             `json:"body"`
	Payload     map[string]any     `json:"payload,omitempty"`
	Status      NotificationStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	MaxAttempts int                `json:"max_attempts"`
	NextAttempt string             `json:"next_attempt_at" format:"date-time"`
	LeaseUntil  *string            `json:"lease_until,omitempty" format:"date-time"`
	LeasedBy    *string            `json:"leased_by,omitempty"`
	LastError   *string            `json:"last_error,omitempty"`
	IsSimulated bool               `json:"is_simulated"`
	CreatedAt   string             `json:"created_at" format:"date-time"`
	DeliveredAt *string            `json:"delivered_at,omitempty" format:"date-time"`
}

// AuditEntry is one immutable record of an alert mutation.
type AuditEntry struct {
	ID         string         `json:"id"`
	AlertID    string         `json:"alert_id"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorType  ActorType      `json:"actor_type" enum:"staff,admin,system"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	TS         string         `json:"ts" format:"date-time"`
}

// TimerStatus is the state of an escalation deadline.
type TimerStatus string

const (
	TimerArmed     TimerStatus = "armed"
	TimerFired     TimerStatus = "fired"
	TimerCancelled TimerStatus = "cancelled"
)

// Escalation deadline reasons.
const (
	ReasonNoAcknowledgment = "no_acknowledgment"
	ReasonNoResolution     = "no_resolution"
)

type EscalationTimer struct {
	ID           int64       `json:"id"`
	AlertID      string      `json:"alert_id"`
	AlertVersion int64       `json:"alert_version"`
	Deadline     string      `json:"deadline" format:"date-time"`
	Reason       string      `json:"reason"`
	Status       TimerStatus `json:"status" enum:"armed,fired,cancelled"`
	CreatedAt    string      `json:"created_at" format:"date-time"`
	FiredAt      *string     `json:"fired_at,omitempty" format:"date-time"`
}

// AnomalyEvent is the inbound contract from the detection layer.
type AnomalyEvent struct {
	AnomalyID         string         `json:"anomaly_id"`
	Type              string         `json:"type"`
	Severity          Severity       `json:"severity" enum:"low,medium,high,critical"`
	ZoneID            string         `json:"zone_id"`
	Coordinates       *Coordinates   `json:"coordinates,omitempty"`
	Confidence        float64        `json:"confidence"`
	AffectedEntityIDs []string       `json:"affected_entity_ids,omitempty"`
	DataSources       []string       `json:"data_sources,omitempty"`
	Evidence          map[string]any `json:"evidence,omitempty"`
}
