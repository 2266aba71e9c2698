package domain

import "time"

// EventType names a domain event the workflow engine can react to.
type EventType string

const (
	EventCampaignCreated        EventType = "campaign_created"
	EventProbabilityChanged     EventType = "campaign_probability_changed"
	EventScheduleBuilt          EventType = "schedule_built"
	EventAdminApprovalRequested EventType = "admin_approval_requested"
	EventAdRequestCreated       EventType = "ad_request_created"
	EventInvoiceOverdue         EventType = "invoice_overdue"
	EventReservationCreated     EventType = "reservation_created"
	EventReservationExpired     EventType = "reservation_expired"
	EventOrderCreated           EventType = "order_created"
	EventRateDelta              EventType = "rate_delta"
)

// Event is an immutable fact emitted by a campaign/order mutation.
type Event struct {
	Type       EventType
	EntityType string
	EntityID   string
	Payload    map[string]any
	OccurredAt time.Time
}

type CompareOp string

const (
	OpEq  CompareOp = "eq"
	OpGt  CompareOp = "gt"
	OpGte CompareOp = "gte"
	OpLt  CompareOp = "lt"
	OpLte CompareOp = "lte"
)

// Condition is an AND/OR tree of field comparisons against an event
// payload. A node is exactly one of: All (AND), Any (OR), or a leaf
// comparison.
type Condition struct {
	All   []Condition `json:"all,omitempty"`
	Any   []Condition `json:"any,omitempty"`
	Field string      `json:"field,omitempty"`
	Op    CompareOp   `json:"op,omitempty"`
	Value float64     `json:"value,omitempty"`
}

// Eval checks the condition against a payload. Missing or non-numeric
// fields fail the leaf rather than erroring.
func (c Condition) Eval(payload map[string]any) bool {
	if len(c.All) > 0 {
		for _, sub := range c.All {
			if !sub.Eval(payload) {
				return false
			}
		}
		return true
	}
	if len(c.Any) > 0 {
		for _, sub := range c.Any {
			if sub.Eval(payload) {
				return true
			}
		}
		return false
	}

	raw, ok := payload[c.Field]
	if !ok {
		return false
	}
	val, ok := toFloat(raw)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return val == c.Value
	case OpGt:
		return val > c.Value
	case OpGte:
		return val >= c.Value
	case OpLt:
		return val < c.Value
	case OpLte:
		return val <= c.Value
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

type ActionType string

const (
	ActionSendNotification  ActionType = "send_notification"
	ActionCreateReservation ActionType = "create_reservation"
	ActionRequireApproval   ActionType = "require_approval"
	ActionChangeProbability ActionType = "change_probability"
	ActionChangeStatus      ActionType = "change_status"
	ActionEmitWebhook       ActionType = "emit_webhook"
)

// Action is one step a trigger executes on match.
type Action struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Trigger is an organization-scoped workflow rule. Lower Priority runs
// first.
type Trigger struct {
	ID        string
	Name      string
	Event     EventType
	Enabled   bool
	Priority  int
	Condition *Condition
	Actions   []Action
}

// Severity maps to notification queue priority: urgent=1 high=3 normal=5
// low=7. Computed priority <= 3 bypasses the queue.
type Severity string

const (
	SeverityUrgent Severity = "urgent"
	SeverityHigh   Severity = "high"
	SeverityNormal Severity = "normal"
	SeverityLow    Severity = "low"
)

func (s Severity) QueuePriority() int {
	switch s {
	case SeverityUrgent:
		return 1
	case SeverityHigh:
		return 3
	case SeverityLow:
		return 7
	default:
		return 5
	}
}

// InlineThreshold is the queue priority at or below which dispatch is
// immediate instead of queued.
const InlineThreshold = 3

// WorkflowSettings holds the organization's milestone probability
// thresholds.
type WorkflowSettings struct {
	AutoReserveAt      int
	ApprovalRequiredAt int
	AutoWinAt          int
}

func DefaultWorkflowSettings() WorkflowSettings {
	return WorkflowSettings{AutoReserveAt: 65, ApprovalRequiredAt: 90, AutoWinAt: 100}
}

// Crossed reports whether a probability change moved from below the
// threshold to at-or-above it.
func Crossed(threshold, oldProb, newProb int) bool {
	return oldProb < threshold && newProb >= threshold
}
