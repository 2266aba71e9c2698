package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/clock"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

type TriggerRepository interface {
	ListEnabled(ctx context.Context, tenant domain.Tenant, event domain.EventType) ([]domain.Trigger, error)
	RecordExecution(ctx context.Context, tenant domain.Tenant, key, triggerID string, at time.Time) (bool, error)
	GetWorkflowSettings(ctx context.Context, tenant domain.Tenant) (domain.WorkflowSettings, error)
}

type UserDirectory interface {
	FindUser(ctx context.Context, tenant domain.Tenant, id string) (domain.User, error)
	FindUsersByRole(ctx context.Context, tenant domain.Tenant, roles ...string) ([]domain.User, error)
	FindShowTeam(ctx context.Context, tenant domain.Tenant, showID string) ([]domain.User, error)
}

// NotificationDispatcher is how trigger actions reach the delivery
// pipeline: inline for urgent work, queued otherwise.
type NotificationDispatcher interface {
	SendToRecipients(ctx context.Context, tenant domain.Tenant, event domain.EventType, payload map[string]any, recipientIDs []string) error
	Enqueue(ctx context.Context, tenant domain.Tenant, entry domain.QueueEntry) error
}

type CampaignStore interface {
	SetApprovalRequired(ctx context.Context, tenant domain.Tenant, campaignID string, required bool) error
	UpdateProbability(ctx context.Context, tenant domain.Tenant, campaignID string, probability int) error
	UpdateStatus(ctx context.Context, tenant domain.Tenant, campaignID string, status domain.CampaignStatus) error
}

// ReservationCreator is the slice of the reservation service trigger
// actions use.
type ReservationCreator interface {
	CreateReservation(ctx context.Context, tenant domain.Tenant, in CreateReservationInput) (domain.Reservation, error)
}

// TriggerService evaluates configured workflow triggers and built-in
// milestone rules against domain events.
type TriggerService struct {
	repo         TriggerRepository
	directory    UserDirectory
	dispatcher   NotificationDispatcher
	campaigns    CampaignStore
	reservations ReservationCreator
	clock        clock.Clock
	log          *logrus.Logger
}

func NewTriggerService(repo TriggerRepository, directory UserDirectory, dispatcher NotificationDispatcher, campaigns CampaignStore, clk clock.Clock, log *logrus.Logger) *TriggerService {
	return &TriggerService{
		repo:       repo,
		directory:  directory,
		dispatcher: dispatcher,
		campaigns:  campaigns,
		clock:      clk,
		log:        log,
	}
}

// SetReservationCreator wires the reservation service in after both are
// constructed; the two reference each other.
func (s *TriggerService) SetReservationCreator(rc ReservationCreator) {
	s.reservations = rc
}

// Emit runs the full pipeline for one event: built-in recipient rules
// first, then configured triggers in priority order. Implements
// EventSink.
func (s *TriggerService) Emit(ctx context.Context, tenant domain.Tenant, ev domain.Event) error {
	if !tenant.Valid() {
		return domain.ErrInvalidTenant
	}
	if err := s.notifyBuiltin(ctx, tenant, ev); err != nil {
		s.log.WithFields(logrus.Fields{"event": ev.Type}).WithError(err).Error("builtin notification")
	}
	return s.EvaluateEvent(ctx, tenant, ev)
}

// EvaluateEvent matches configured triggers against the event and runs
// their actions. Each trigger fires at most once per underlying state
// change: the execution key covers (trigger, entity, event, payload), so
// re-saving an entity in the same state is a no-op.
func (s *TriggerService) EvaluateEvent(ctx context.Context, tenant domain.Tenant, ev domain.Event) error {
	triggers, err := s.repo.ListEnabled(ctx, tenant, ev.Type)
	if err != nil {
		return err
	}

	for _, trigger := range triggers {
		if trigger.Condition != nil && !trigger.Condition.Eval(ev.Payload) {
			continue
		}

		key := domain.ExecutionKey(trigger.ID, ev.EntityID, ev.Type, ev.Payload)
		fired, err := s.repo.RecordExecution(ctx, tenant, key, trigger.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if !fired {
			continue
		}

		for _, action := range trigger.Actions {
			if err := s.execute(ctx, tenant, trigger, action, ev); err != nil {
				s.log.WithFields(logrus.Fields{
					"trigger": trigger.ID,
					"action":  action.Type,
					"event":   ev.Type,
				}).WithError(err).Error("trigger action")
			}
		}
	}
	return nil
}

// HandleProbabilityChange applies the organization's milestone
// thresholds to a campaign probability move, then runs the regular event
// pipeline.
func (s *TriggerService) HandleProbabilityChange(ctx context.Context, tenant domain.Tenant, campaign domain.Campaign, oldProb, newProb int) error {
	settings, err := s.repo.GetWorkflowSettings(ctx, tenant)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"campaignId":          campaign.ID,
		"campaignName":        campaign.Name,
		"advertiserId":        campaign.AdvertiserID,
		"probability":         newProb,
		"previousProbability": oldProb,
	}
	now := s.clock.Now()

	if domain.Crossed(settings.ApprovalRequiredAt, oldProb, newProb) {
		if err := s.campaigns.SetApprovalRequired(ctx, tenant, campaign.ID, true); err != nil {
			return err
		}
		if err := s.Emit(ctx, tenant, domain.Event{
			Type:       domain.EventAdminApprovalRequested,
			EntityType: "campaign",
			EntityID:   campaign.ID,
			Payload:    payload,
			OccurredAt: now,
		}); err != nil {
			return err
		}
	}

	if domain.Crossed(settings.AutoReserveAt, oldProb, newProb) {
		// The campaign is likely enough to close that sellers should
		// start holding inventory for it.
		sellers, err := s.directory.FindUsersByRole(ctx, tenant, "admin", "seller")
		if err != nil {
			return err
		}
		ev := domain.Event{
			Type:       domain.EventProbabilityChanged,
			EntityType: "campaign",
			EntityID:   campaign.ID,
			Payload:    payload,
			OccurredAt: now,
		}
		if err := s.dispatch(ctx, tenant, ev, domain.SeverityHigh, sellers); err != nil {
			return err
		}
	}

	if domain.Crossed(settings.AutoWinAt, oldProb, newProb) {
		if err := s.campaigns.UpdateStatus(ctx, tenant, campaign.ID, domain.CampaignWon); err != nil {
			return err
		}
	}

	return s.Emit(ctx, tenant, domain.Event{
		Type:       domain.EventProbabilityChanged,
		EntityType: "campaign",
		EntityID:   campaign.ID,
		Payload:    payload,
		OccurredAt: now,
	})
}

func (s *TriggerService) execute(ctx context.Context, tenant domain.Tenant, trigger domain.Trigger, action domain.Action, ev domain.Event) error {
	switch action.Type {
	case domain.ActionSendNotification:
		return s.sendNotificationAction(ctx, tenant, action, ev)
	case domain.ActionCreateReservation:
		return s.createReservationAction(ctx, tenant, action, ev)
	case domain.ActionRequireApproval:
		campaignID, _ := ev.Payload["campaignId"].(string)
		if campaignID == "" {
			return fmt.Errorf("require_approval: no campaignId in payload")
		}
		return s.campaigns.SetApprovalRequired(ctx, tenant, campaignID, true)
	case domain.ActionChangeProbability:
		campaignID, _ := ev.Payload["campaignId"].(string)
		prob, ok := action.Params["probability"].(float64)
		if campaignID == "" || !ok {
			return fmt.Errorf("change_probability: missing campaignId or probability")
		}
		return s.campaigns.UpdateProbability(ctx, tenant, campaignID, int(prob))
	case domain.ActionChangeStatus:
		campaignID, _ := ev.Payload["campaignId"].(string)
		status, _ := action.Params["status"].(string)
		if campaignID == "" || status == "" {
			return fmt.Errorf("change_status: missing campaignId or status")
		}
		return s.campaigns.UpdateStatus(ctx, tenant, campaignID, domain.CampaignStatus(status))
	case domain.ActionEmitWebhook:
		return s.dispatcher.Enqueue(ctx, tenant, domain.QueueEntry{
			EventType:    ev.Type,
			Payload:      ev.Payload,
			Priority:     domain.SeverityNormal.QueuePriority(),
			ScheduledFor: s.clock.Now(),
			Status:       domain.QueuePending,
			Metadata:     map[string]any{"channels": []any{string(domain.ChannelWebhook)}, "trigger": trigger.ID},
		})
	}
	return fmt.Errorf("unknown action type %q", action.Type)
}

func (s *TriggerService) sendNotificationAction(ctx context.Context, tenant domain.Tenant, action domain.Action, ev domain.Event) error {
	severity := domain.SeverityNormal
	if v, ok := action.Params["severity"].(string); ok {
		severity = domain.Severity(v)
	}

	var recipients []domain.User
	var err error
	if roles, ok := action.Params["roles"].([]any); ok && len(roles) > 0 {
		names := make([]string, 0, len(roles))
		for _, r := range roles {
			if name, ok := r.(string); ok {
				names = append(names, name)
			}
		}
		recipients, err = s.directory.FindUsersByRole(ctx, tenant, names...)
	} else {
		recipients, err = s.recipientsFor(ctx, tenant, ev)
	}
	if err != nil {
		return err
	}
	return s.dispatch(ctx, tenant, ev, severity, recipients)
}

func (s *TriggerService) createReservationAction(ctx context.Context, tenant domain.Tenant, action domain.Action, ev domain.Event) error {
	if s.reservations == nil {
		return fmt.Errorf("create_reservation: no reservation service wired")
	}
	items, err := decodeReservationItems(ev.Payload["items"])
	if err != nil {
		return fmt.Errorf("create_reservation: %w", err)
	}

	advertiserID, _ := ev.Payload["advertiserId"].(string)
	campaignID, _ := ev.Payload["campaignId"].(string)
	in := CreateReservationInput{
		AdvertiserID: advertiserID,
		CreatedBy:    "workflow",
		Items:        items,
	}
	if campaignID != "" {
		in.CampaignID = &campaignID
	}
	if hours, ok := action.Params["holdDurationHours"].(float64); ok {
		in.HoldHours = int(hours)
	}

	_, err = s.reservations.CreateReservation(ctx, tenant, in)
	return err
}

// notifyBuiltin applies the fixed recipient-determination rule for the
// event type, deduped by dispatcher-level delivery keys. Like configured
// triggers, a repeat of the same state fires nothing.
func (s *TriggerService) notifyBuiltin(ctx context.Context, tenant domain.Tenant, ev domain.Event) error {
	// A probability move on its own notifies no one. Milestone thresholds
	// and configured triggers decide what a given move means.
	if ev.Type == domain.EventProbabilityChanged {
		return nil
	}

	key := domain.ExecutionKey("builtin:"+string(ev.Type), ev.EntityID, ev.Type, ev.Payload)
	fired, err := s.repo.RecordExecution(ctx, tenant, key, "builtin:"+string(ev.Type), s.clock.Now())
	if err != nil {
		return err
	}
	if !fired {
		return nil
	}

	recipients, err := s.recipientsFor(ctx, tenant, ev)
	if err != nil {
		return err
	}
	return s.dispatch(ctx, tenant, ev, severityFor(ev.Type), recipients)
}

func (s *TriggerService) dispatch(ctx context.Context, tenant domain.Tenant, ev domain.Event, severity domain.Severity, recipients []domain.User) error {
	ids := dedupeUserIDs(recipients)
	if len(ids) == 0 {
		return nil
	}

	priority := severity.QueuePriority()
	if priority <= domain.InlineThreshold {
		return s.dispatcher.SendToRecipients(ctx, tenant, ev.Type, ev.Payload, ids)
	}
	return s.dispatcher.Enqueue(ctx, tenant, domain.QueueEntry{
		EventType:    ev.Type,
		Payload:      ev.Payload,
		RecipientIDs: ids,
		Priority:     priority,
		ScheduledFor: s.clock.Now(),
		Status:       domain.QueuePending,
	})
}

// recipientsFor implements the per-event recipient rules.
func (s *TriggerService) recipientsFor(ctx context.Context, tenant domain.Tenant, ev domain.Event) ([]domain.User, error) {
	switch ev.Type {
	case domain.EventCampaignCreated, domain.EventOrderCreated:
		return s.directory.FindUsersByRole(ctx, tenant, "admin", "seller")
	case domain.EventScheduleBuilt, domain.EventAdRequestCreated:
		showID, _ := ev.Payload["showId"].(string)
		if showID != "" {
			return s.directory.FindShowTeam(ctx, tenant, showID)
		}
		return s.directory.FindUsersByRole(ctx, tenant, "producer")
	default:
		// admin_approval_requested, invoice_overdue, reservation events
		// and anything new all land on org admins.
		return s.directory.FindUsersByRole(ctx, tenant, "admin")
	}
}

func severityFor(event domain.EventType) domain.Severity {
	switch event {
	case domain.EventInvoiceOverdue:
		return domain.SeverityUrgent
	case domain.EventAdminApprovalRequested, domain.EventReservationExpired:
		return domain.SeverityHigh
	case domain.EventRateDelta:
		return domain.SeverityLow
	default:
		return domain.SeverityNormal
	}
}

func dedupeUserIDs(users []domain.User) []string {
	seen := make(map[string]struct{}, len(users))
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		ids = append(ids, u.ID)
	}
	return ids
}

func decodeReservationItems(raw any) ([]ReservationItemInput, error) {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("no items in payload")
	}

	items := make([]ReservationItemInput, 0, len(list))
	for i, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d is not an object", i)
		}
		item := ReservationItemInput{}
		item.ShowID, _ = m["showId"].(string)
		item.EpisodeID, _ = m["episodeId"].(string)
		if p, ok := m["placement"].(string); ok {
			item.Placement = domain.PlacementType(p)
		}
		if d, ok := m["airDate"].(string); ok {
			if t, err := time.Parse(time.RFC3339, d); err == nil {
				item.AirDate = t
			}
		}
		if rate, ok := m["rate"].(float64); ok {
			item.Rate = decimal.NewFromFloat(rate)
		}
		if length, ok := m["length"].(float64); ok {
			item.Length = int(length)
		}
		if !item.Placement.Valid() || item.EpisodeID == "" {
			return nil, fmt.Errorf("item %d missing placement or episodeId", i)
		}
		items = append(items, item)
	}
	return items, nil
}
