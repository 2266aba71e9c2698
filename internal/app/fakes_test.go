package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// fakeInventoryRepo is an in-memory InventoryRepository. Keys are
// orgID/episodeID.
type fakeInventoryRepo struct {
	inventories map[string]domain.EpisodeInventory
	alerts      []domain.InventoryAlert
}

func newFakeInventoryRepo() *fakeInventoryRepo {
	return &fakeInventoryRepo{inventories: make(map[string]domain.EpisodeInventory)}
}

func invKey(tenant domain.Tenant, episodeID string) string {
	return tenant.OrgID + "/" + episodeID
}

func (r *fakeInventoryRepo) seed(tenant domain.Tenant, episodeID, showID string, airDate time.Time, slots map[domain.PlacementType]int) {
	inv := domain.EpisodeInventory{
		EpisodeID:  episodeID,
		ShowID:     showID,
		AirDate:    airDate,
		Placements: make(map[domain.PlacementType]domain.SlotCounts),
	}
	for _, p := range domain.Placements {
		inv.Placements[p] = domain.SlotCounts{Slots: slots[p], Available: slots[p]}
	}
	r.inventories[invKey(tenant, episodeID)] = inv
}

func (r *fakeInventoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *fakeInventoryRepo) GetForUpdate(_ context.Context, tenant domain.Tenant, episodeID string) (domain.EpisodeInventory, error) {
	inv, ok := r.inventories[invKey(tenant, episodeID)]
	if !ok {
		return domain.EpisodeInventory{}, domain.ErrInventoryNotFound
	}
	copied := inv
	copied.Placements = make(map[domain.PlacementType]domain.SlotCounts, len(inv.Placements))
	for p, c := range inv.Placements {
		copied.Placements[p] = c
	}
	return copied, nil
}

func (r *fakeInventoryRepo) Create(_ context.Context, tenant domain.Tenant, inv domain.EpisodeInventory) error {
	key := invKey(tenant, inv.EpisodeID)
	if _, ok := r.inventories[key]; ok {
		return domain.ErrIdempotencyConflict
	}
	r.inventories[key] = inv
	return nil
}

func (r *fakeInventoryRepo) UpdateCounts(_ context.Context, tenant domain.Tenant, episodeID string, placement domain.PlacementType, counts domain.SlotCounts) error {
	inv, ok := r.inventories[invKey(tenant, episodeID)]
	if !ok {
		return domain.ErrInventoryNotFound
	}
	inv.Placements[placement] = counts
	r.inventories[invKey(tenant, episodeID)] = inv
	return nil
}

func (r *fakeInventoryRepo) RecordAlert(_ context.Context, _ domain.Tenant, alert domain.InventoryAlert) error {
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *fakeInventoryRepo) ListAlerts(_ context.Context, _ domain.Tenant, limit int) ([]domain.InventoryAlert, error) {
	if limit > len(r.alerts) {
		limit = len(r.alerts)
	}
	return r.alerts[:limit], nil
}

func (r *fakeInventoryRepo) counts(tenant domain.Tenant, episodeID string, placement domain.PlacementType) domain.SlotCounts {
	return r.inventories[invKey(tenant, episodeID)].Placements[placement]
}

// fakeReservationRepo is an in-memory ReservationRepository.
type fakeReservationRepo struct {
	reservations map[string]domain.Reservation
	orders       []domain.Order
	bulkResults  map[string]domain.BulkCommitResult
	bulkExpiry   map[string]time.Time
	// forceBulkMiss makes FindBulkResult miss, simulating a concurrent
	// commit storing its result between the replay check and the save.
	forceBulkMiss bool
	openSlots     map[string]struct {
		episodeID string
		airDate   time.Time
	}
}

func newFakeReservationRepo() *fakeReservationRepo {
	return &fakeReservationRepo{
		reservations: make(map[string]domain.Reservation),
		bulkResults:  make(map[string]domain.BulkCommitResult),
		bulkExpiry:   make(map[string]time.Time),
		openSlots: make(map[string]struct {
			episodeID string
			airDate   time.Time
		}),
	}
}

func resKey(tenant domain.Tenant, id string) string {
	return tenant.OrgID + "/" + id
}

func (r *fakeReservationRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *fakeReservationRepo) Create(_ context.Context, tenant domain.Tenant, res domain.Reservation) error {
	r.reservations[resKey(tenant, res.ID)] = res
	return nil
}

func (r *fakeReservationRepo) GetForUpdate(_ context.Context, tenant domain.Tenant, id string) (domain.Reservation, error) {
	res, ok := r.reservations[resKey(tenant, id)]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return res, nil
}

func (r *fakeReservationRepo) SetStatus(_ context.Context, tenant domain.Tenant, id string, from []domain.ReservationStatus, to domain.ReservationStatus, reason *string) (bool, error) {
	res, ok := r.reservations[resKey(tenant, id)]
	if !ok {
		return false, domain.ErrReservationNotFound
	}
	allowed := false
	for _, s := range from {
		if res.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	res.Status = to
	if reason != nil {
		res.ReleaseReason = reason
	}
	r.reservations[resKey(tenant, id)] = res
	return true, nil
}

func (r *fakeReservationRepo) CreateOrder(_ context.Context, _ domain.Tenant, order domain.Order) error {
	r.orders = append(r.orders, order)
	return nil
}

func (r *fakeReservationRepo) ListDue(_ context.Context, now time.Time, limit int) ([]DueReservation, error) {
	var due []DueReservation
	for key, res := range r.reservations {
		if !res.Status.Active() || res.ExpiresAt.After(now) {
			continue
		}
		orgID := key[:len(key)-len(res.ID)-1]
		due = append(due, DueReservation{Tenant: domain.Tenant{OrgID: orgID}, ID: res.ID})
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (r *fakeReservationRepo) FindBulkResult(_ context.Context, tenant domain.Tenant, key string, now time.Time) (*domain.BulkCommitResult, error) {
	if r.forceBulkMiss {
		return nil, nil
	}
	full := tenant.OrgID + "/" + key
	result, ok := r.bulkResults[full]
	if !ok {
		return nil, nil
	}
	if exp, ok := r.bulkExpiry[full]; ok && !exp.After(now) {
		return nil, nil
	}
	return &result, nil
}

func (r *fakeReservationRepo) SaveBulkResult(_ context.Context, tenant domain.Tenant, key string, result domain.BulkCommitResult, expiresAt time.Time) (domain.BulkCommitResult, bool, error) {
	full := tenant.OrgID + "/" + key
	if existing, ok := r.bulkResults[full]; ok {
		return existing, false, nil
	}
	r.bulkResults[full] = result
	r.bulkExpiry[full] = expiresAt
	return result, true, nil
}

func (r *fakeReservationRepo) FindOpenSlot(_ context.Context, tenant domain.Tenant, showID string, placement domain.PlacementType, _ time.Time) (string, time.Time, error) {
	slot, ok := r.openSlots[tenant.OrgID+"/"+showID+"/"+string(placement)]
	if !ok {
		return "", time.Time{}, nil
	}
	return slot.episodeID, slot.airDate, nil
}

// fakeConflictRepo backs ConflictService.
type fakeConflictRepo struct {
	categories map[string][]domain.AdvertiserCategory
	campaigns  map[string][]domain.Campaign
	overrides  []domain.ConflictOverride
}

func newFakeConflictRepo() *fakeConflictRepo {
	return &fakeConflictRepo{
		categories: make(map[string][]domain.AdvertiserCategory),
		campaigns:  make(map[string][]domain.Campaign),
	}
}

func (r *fakeConflictRepo) ListAdvertiserCategories(_ context.Context, tenant domain.Tenant, advertiserID string) ([]domain.AdvertiserCategory, error) {
	return r.categories[tenant.OrgID+"/"+advertiserID], nil
}

func (r *fakeConflictRepo) ListCompetingCampaigns(_ context.Context, tenant domain.Tenant, groupID, excludeAdvertiserID string, rng domain.DateRange) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for _, c := range r.campaigns[tenant.OrgID+"/"+groupID] {
		if c.AdvertiserID == excludeAdvertiserID {
			continue
		}
		if !rng.Overlaps(c.StartDate, c.EndDate) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeConflictRepo) CreateOverride(_ context.Context, _ domain.Tenant, override domain.ConflictOverride) error {
	r.overrides = append(r.overrides, override)
	return nil
}

// fakeTriggerRepo backs TriggerService.
type fakeTriggerRepo struct {
	triggers   []domain.Trigger
	executions map[string]bool
	settings   domain.WorkflowSettings
}

func newFakeTriggerRepo() *fakeTriggerRepo {
	return &fakeTriggerRepo{
		executions: make(map[string]bool),
		settings:   domain.DefaultWorkflowSettings(),
	}
}

func (r *fakeTriggerRepo) ListEnabled(_ context.Context, _ domain.Tenant, event domain.EventType) ([]domain.Trigger, error) {
	var out []domain.Trigger
	for _, t := range r.triggers {
		if t.Enabled && t.Event == event {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTriggerRepo) RecordExecution(_ context.Context, tenant domain.Tenant, key, _ string, _ time.Time) (bool, error) {
	full := tenant.OrgID + "/" + key
	if r.executions[full] {
		return false, nil
	}
	r.executions[full] = true
	return true, nil
}

func (r *fakeTriggerRepo) GetWorkflowSettings(_ context.Context, _ domain.Tenant) (domain.WorkflowSettings, error) {
	return r.settings, nil
}

// fakeDirectory backs UserDirectory.
type fakeDirectory struct {
	users map[string]domain.User
	teams map[string][]string
}

func newFakeDirectory(users ...domain.User) *fakeDirectory {
	d := &fakeDirectory{users: make(map[string]domain.User), teams: make(map[string][]string)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *fakeDirectory) FindUser(_ context.Context, _ domain.Tenant, id string) (domain.User, error) {
	u, ok := d.users[id]
	if !ok {
		return domain.User{}, domain.ErrInvalidID
	}
	return u, nil
}

func (d *fakeDirectory) FindUsersByRole(_ context.Context, _ domain.Tenant, roles ...string) ([]domain.User, error) {
	var out []domain.User
	for _, u := range d.users {
		for _, role := range roles {
			if u.Role == role {
				out = append(out, u)
				break
			}
		}
	}
	return out, nil
}

func (d *fakeDirectory) FindShowTeam(_ context.Context, _ domain.Tenant, showID string) ([]domain.User, error) {
	var out []domain.User
	for _, id := range d.teams[showID] {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// fakeDispatcher records what the trigger engine asked for.
type fakeDispatcher struct {
	sent    []sentBatch
	queued  []domain.QueueEntry
	sendErr error
}

type sentBatch struct {
	event      domain.EventType
	recipients []string
}

func (d *fakeDispatcher) SendToRecipients(_ context.Context, _ domain.Tenant, event domain.EventType, _ map[string]any, recipientIDs []string) error {
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, sentBatch{event: event, recipients: recipientIDs})
	return nil
}

func (d *fakeDispatcher) Enqueue(_ context.Context, _ domain.Tenant, entry domain.QueueEntry) error {
	d.queued = append(d.queued, entry)
	return nil
}

// fakeCampaignStore records campaign mutations.
type fakeCampaignStore struct {
	approvals     map[string]bool
	probabilities map[string]int
	statuses      map[string]domain.CampaignStatus
}

func newFakeCampaignStore() *fakeCampaignStore {
	return &fakeCampaignStore{
		approvals:     make(map[string]bool),
		probabilities: make(map[string]int),
		statuses:      make(map[string]domain.CampaignStatus),
	}
}

func (s *fakeCampaignStore) SetApprovalRequired(_ context.Context, _ domain.Tenant, campaignID string, required bool) error {
	s.approvals[campaignID] = required
	return nil
}

func (s *fakeCampaignStore) UpdateProbability(_ context.Context, _ domain.Tenant, campaignID string, probability int) error {
	s.probabilities[campaignID] = probability
	return nil
}

func (s *fakeCampaignStore) UpdateStatus(_ context.Context, _ domain.Tenant, campaignID string, status domain.CampaignStatus) error {
	s.statuses[campaignID] = status
	return nil
}

// fakeNotificationRepo backs NotificationService.
type fakeNotificationRepo struct {
	deliveries map[string]domain.Delivery
	inApp      []domain.InAppNotification
	queue      []domain.QueueEntry
	nextID     int64
	settings   map[string]domain.NotificationSettings
	prefs      map[string]domain.UserPreferences
	templates  map[string]domain.Template
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	r := &fakeNotificationRepo{
		deliveries: make(map[string]domain.Delivery),
		settings:   make(map[string]domain.NotificationSettings),
		prefs:      make(map[string]domain.UserPreferences),
		templates:  make(map[string]domain.Template),
	}
	return r
}

func (r *fakeNotificationRepo) seedTemplate(event domain.EventType, channel domain.Channel, tmpl domain.Template) {
	r.templates[string(event)+"/"+string(channel)] = tmpl
}

func (r *fakeNotificationRepo) FindDelivery(_ context.Context, tenant domain.Tenant, key string) (*domain.Delivery, error) {
	d, ok := r.deliveries[tenant.OrgID+"/"+key]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *fakeNotificationRepo) SaveDelivery(_ context.Context, tenant domain.Tenant, d domain.Delivery) (domain.Delivery, error) {
	full := tenant.OrgID + "/" + d.IdempotencyKey
	if existing, ok := r.deliveries[full]; ok && existing.Status != domain.DeliveryFailed {
		return existing, nil
	}
	r.deliveries[full] = d
	return d, nil
}

func (r *fakeNotificationRepo) CreateInApp(_ context.Context, _ domain.Tenant, n domain.InAppNotification) error {
	r.inApp = append(r.inApp, n)
	return nil
}

func (r *fakeNotificationRepo) Enqueue(_ context.Context, _ domain.Tenant, e domain.QueueEntry) (int64, error) {
	r.nextID++
	e.ID = r.nextID
	r.queue = append(r.queue, e)
	return e.ID, nil
}

func (r *fakeNotificationRepo) GetOrgSettings(_ context.Context, tenant domain.Tenant) (domain.NotificationSettings, error) {
	s, ok := r.settings[tenant.OrgID]
	if !ok {
		return domain.DefaultNotificationSettings(), nil
	}
	return s, nil
}

func (r *fakeNotificationRepo) GetUserPreferences(_ context.Context, tenant domain.Tenant, userID string) (domain.UserPreferences, error) {
	return r.prefs[tenant.OrgID+"/"+userID], nil
}

func (r *fakeNotificationRepo) FindTemplate(_ context.Context, _ domain.Tenant, event domain.EventType, channel domain.Channel) (domain.Template, error) {
	t, ok := r.templates[string(event)+"/"+string(channel)]
	if !ok {
		return domain.Template{}, &domain.TemplateNotFoundError{Event: event, Channel: channel}
	}
	return t, nil
}

func (r *fakeNotificationRepo) ListFailed(_ context.Context, _ domain.Tenant, limit int) ([]domain.QueueEntry, error) {
	var out []domain.QueueEntry
	for _, e := range r.queue {
		if e.Status == domain.QueueFailed {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// fakeMail records outbound mail, optionally failing.
type fakeMail struct {
	sent []EmailMessage
	err  error
}

func (m *fakeMail) SendEmail(_ context.Context, msg EmailMessage) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

// fakeWebhook records posted payloads.
type fakeWebhook struct {
	posts []string
	err   error
}

func (w *fakeWebhook) Post(_ context.Context, url string, _ map[string]any) error {
	if w.err != nil {
		return w.err
	}
	w.posts = append(w.posts, url)
	return nil
}
