package app

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/clock"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

type NotificationRepository interface {
	FindDelivery(ctx context.Context, tenant domain.Tenant, key string) (*domain.Delivery, error)
	SaveDelivery(ctx context.Context, tenant domain.Tenant, d domain.Delivery) (domain.Delivery, error)
	CreateInApp(ctx context.Context, tenant domain.Tenant, n domain.InAppNotification) error
	Enqueue(ctx context.Context, tenant domain.Tenant, e domain.QueueEntry) (int64, error)
	GetOrgSettings(ctx context.Context, tenant domain.Tenant) (domain.NotificationSettings, error)
	GetUserPreferences(ctx context.Context, tenant domain.Tenant, userID string) (domain.UserPreferences, error)
	FindTemplate(ctx context.Context, tenant domain.Tenant, event domain.EventType, channel domain.Channel) (domain.Template, error)
	ListFailed(ctx context.Context, tenant domain.Tenant, limit int) ([]domain.QueueEntry, error)
}

// MailGateway is the external email transport. Implementation is out of
// scope for this core.
type MailGateway interface {
	SendEmail(ctx context.Context, msg EmailMessage) (messageID string, err error)
}

type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// WebhookGateway posts rendered payloads to organization-configured
// URLs (Slack or generic webhook).
type WebhookGateway interface {
	Post(ctx context.Context, url string, payload map[string]any) error
}

// NotificationService is the idempotent per-channel delivery service.
type NotificationService struct {
	repo        NotificationRepository
	directory   UserDirectory
	mail        MailGateway
	webhooks    WebhookGateway
	clock       clock.Clock
	log         *logrus.Logger
	validate    *validator.Validate
	maxAttempts int
}

func NewNotificationService(repo NotificationRepository, directory UserDirectory, mail MailGateway, webhooks WebhookGateway, clk clock.Clock, log *logrus.Logger, opts ...NotificationOption) *NotificationService {
	s := &NotificationService{
		repo:        repo,
		directory:   directory,
		mail:        mail,
		webhooks:    webhooks,
		clock:       clk,
		log:         log,
		validate:    validator.New(),
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type NotificationOption func(*NotificationService)

// WithQueueMaxAttempts sets the retry limit stamped on queue entries
// that do not carry their own.
func WithQueueMaxAttempts(n int) NotificationOption {
	return func(s *NotificationService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

type SendInput struct {
	Event       domain.EventType
	RecipientID string
	Payload     map[string]any
	Channel     domain.Channel
	Mandatory   bool
}

// Send delivers one notification over one channel. Preference checks run
// first; then the idempotency key is consulted so the same (org, event,
// recipient, channel, payload, minute) is delivered at most once.
func (s *NotificationService) Send(ctx context.Context, tenant domain.Tenant, in SendInput) (domain.Delivery, error) {
	if !tenant.Valid() {
		return domain.Delivery{}, domain.ErrInvalidTenant
	}
	if !in.Channel.Valid() {
		return domain.Delivery{}, errors.New("unknown channel")
	}

	settings, err := s.orgSettings(ctx, tenant)
	if err != nil {
		return domain.Delivery{}, err
	}

	now := s.clock.Now()
	if reason := s.skipReason(ctx, tenant, settings, in, now); reason != "" {
		return domain.Delivery{
			EventType:   in.Event,
			RecipientID: in.RecipientID,
			Channel:     in.Channel,
			Status:      domain.DeliverySkipped,
			SkipReason:  reason,
		}, nil
	}

	key := domain.DeliveryKey(tenant.OrgID, in.Event, in.RecipientID, in.Channel, in.Payload, now)
	if existing, err := s.repo.FindDelivery(ctx, tenant, key); err != nil {
		return domain.Delivery{}, err
	} else if existing != nil && existing.Status != domain.DeliveryFailed {
		// A failed row does not satisfy the key; a retry runs the
		// transport again and upgrades it.
		return *existing, nil
	}

	tmpl, err := s.repo.FindTemplate(ctx, tenant, in.Event, in.Channel)
	if err != nil {
		return domain.Delivery{}, err
	}
	rendered := tmpl.Render(in.Payload)

	delivery := domain.Delivery{
		IdempotencyKey: key,
		EventType:      in.Event,
		RecipientID:    in.RecipientID,
		Channel:        in.Channel,
		Status:         domain.DeliverySent,
		SentAt:         now,
		Metadata:       map[string]any{},
	}

	if dispatchErr := s.dispatchChannel(ctx, tenant, settings, in, rendered, &delivery); dispatchErr != nil {
		delivery.Status = domain.DeliveryFailed
		delivery.Metadata["error"] = dispatchErr.Error()
		if _, err := s.repo.SaveDelivery(ctx, tenant, delivery); err != nil {
			s.log.WithError(err).Error("record failed delivery")
		}
		return delivery, &domain.DeliveryError{Channel: in.Channel, Err: dispatchErr}
	}

	// Insert-or-fetch: a concurrent duplicate send records first; return
	// whichever row won.
	return s.repo.SaveDelivery(ctx, tenant, delivery)
}

func (s *NotificationService) skipReason(ctx context.Context, tenant domain.Tenant, settings domain.NotificationSettings, in SendInput, now time.Time) string {
	if !settings.Enabled {
		return "notifications_disabled"
	}
	if !settings.ChannelEnabled(in.Channel) {
		return "channel_disabled"
	}
	if !settings.EventEnabled(in.Event) {
		return "event_disabled"
	}

	if in.Mandatory || settings.Mandatory(in.Event) {
		return ""
	}
	if settings.QuietHours.Contains(now) {
		return "quiet_hours"
	}
	prefs, err := s.repo.GetUserPreferences(ctx, tenant, in.RecipientID)
	if err != nil {
		s.log.WithError(err).Warn("load user preferences")
		return ""
	}
	if prefs.Muted(in.Event, in.Channel) {
		return "user_muted"
	}
	return ""
}

func (s *NotificationService) dispatchChannel(ctx context.Context, tenant domain.Tenant, settings domain.NotificationSettings, in SendInput, rendered domain.Template, delivery *domain.Delivery) error {
	switch in.Channel {
	case domain.ChannelInApp:
		return s.repo.CreateInApp(ctx, tenant, domain.InAppNotification{
			ID:          newID(),
			RecipientID: in.RecipientID,
			EventType:   in.Event,
			Subject:     rendered.Subject,
			Body:        rendered.Body,
			CreatedAt:   delivery.SentAt,
		})
	case domain.ChannelEmail:
		user, err := s.directory.FindUser(ctx, tenant, in.RecipientID)
		if err != nil {
			return err
		}
		messageID, err := s.mail.SendEmail(ctx, EmailMessage{
			To:       user.Email,
			Subject:  rendered.Subject,
			HTMLBody: rendered.Body,
			TextBody: rendered.Body,
		})
		if err != nil {
			return err
		}
		delivery.Metadata["messageId"] = messageID
		return nil
	case domain.ChannelSlack, domain.ChannelWebhook:
		url := settings.WebhookURL
		if in.Channel == domain.ChannelSlack {
			url = settings.SlackWebhook
		}
		if url == "" {
			return errors.New("no webhook url configured")
		}
		delivery.Metadata["url"] = url
		return s.webhooks.Post(ctx, url, map[string]any{
			"event":   string(in.Event),
			"subject": rendered.Subject,
			"body":    rendered.Body,
			"payload": in.Payload,
		})
	}
	return errors.New("unknown channel")
}

// SendToRecipients fans one event out over recipients and the
// organization's enabled channels. A missing template or a muted
// recipient skips that delivery only; transport failures are joined and
// returned so queued work can retry.
func (s *NotificationService) SendToRecipients(ctx context.Context, tenant domain.Tenant, event domain.EventType, payload map[string]any, recipientIDs []string) error {
	return s.sendFanout(ctx, tenant, event, payload, recipientIDs, nil)
}

func (s *NotificationService) sendFanout(ctx context.Context, tenant domain.Tenant, event domain.EventType, payload map[string]any, recipientIDs []string, channelOverride []domain.Channel) error {
	settings, err := s.orgSettings(ctx, tenant)
	if err != nil {
		return err
	}

	channels := channelOverride
	if len(channels) == 0 {
		for _, c := range []domain.Channel{domain.ChannelInApp, domain.ChannelEmail, domain.ChannelSlack, domain.ChannelWebhook} {
			if settings.ChannelEnabled(c) {
				channels = append(channels, c)
			}
		}
	}

	var transportErrs []error
	for _, recipientID := range recipientIDs {
		for _, channel := range channels {
			_, err := s.Send(ctx, tenant, SendInput{
				Event:       event,
				RecipientID: recipientID,
				Payload:     payload,
				Channel:     channel,
			})
			if err == nil {
				continue
			}

			var notFound *domain.TemplateNotFoundError
			if errors.As(err, &notFound) {
				s.log.WithFields(logrus.Fields{"event": event, "channel": channel}).Warn("no template, delivery skipped")
				continue
			}
			transportErrs = append(transportErrs, err)
			s.log.WithFields(logrus.Fields{
				"event":     event,
				"channel":   channel,
				"recipient": recipientID,
			}).WithError(err).Error("notification delivery")
		}
	}
	return errors.Join(transportErrs...)
}

// Deliver processes one claimed queue entry: fan-out with the entry's
// channel override if present.
func (s *NotificationService) Deliver(ctx context.Context, tenant domain.Tenant, entry domain.QueueEntry) error {
	return s.sendFanout(ctx, tenant, entry.EventType, entry.Payload, entry.RecipientIDs, entry.Channels())
}

// Enqueue implements the queued half of NotificationDispatcher.
func (s *NotificationService) Enqueue(ctx context.Context, tenant domain.Tenant, entry domain.QueueEntry) error {
	if entry.MaxAttempts <= 0 {
		entry.MaxAttempts = s.maxAttempts
	}
	if entry.Status == "" {
		entry.Status = domain.QueuePending
	}
	if entry.ScheduledFor.IsZero() {
		entry.ScheduledFor = s.clock.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	_, err := s.repo.Enqueue(ctx, tenant, entry)
	return err
}

// ListFailed exposes terminally failed queue entries to operators.
func (s *NotificationService) ListFailed(ctx context.Context, tenant domain.Tenant, limit int) ([]domain.QueueEntry, error) {
	if !tenant.Valid() {
		return nil, domain.ErrInvalidTenant
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListFailed(ctx, tenant, limit)
}

func (s *NotificationService) orgSettings(ctx context.Context, tenant domain.Tenant) (domain.NotificationSettings, error) {
	settings, err := s.repo.GetOrgSettings(ctx, tenant)
	if err != nil {
		return domain.NotificationSettings{}, err
	}
	if err := s.validate.Struct(settings); err != nil {
		s.log.WithError(err).Warn("invalid notification settings, using defaults")
		return domain.DefaultNotificationSettings(), nil
	}
	return settings, nil
}
