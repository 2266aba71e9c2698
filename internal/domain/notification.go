package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

type Channel string

const (
	ChannelInApp   Channel = "inApp"
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSlack, ChannelWebhook:
		return true
	}
	return false
}

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueSkipped    QueueStatus = "skipped"
)

// QueueEntry is one unit of asynchronous notification work. A row is
// claimed by moving pending -> processing atomically; two workers never
// share one.
type QueueEntry struct {
	ID           int64
	EventType    EventType
	Payload      map[string]any
	RecipientIDs []string
	Priority     int
	ScheduledFor time.Time
	Attempts     int
	MaxAttempts  int
	Status       QueueStatus
	LastError    *string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// Channels returns an explicit channel override from entry metadata, if
// any. Empty means "use the organization's configured channels".
func (e QueueEntry) Channels() []Channel {
	raw, ok := e.Metadata["channels"].([]any)
	if !ok {
		return nil
	}
	out := make([]Channel, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && Channel(s).Valid() {
			out = append(out, Channel(s))
		}
	}
	return out
}

type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliverySkipped DeliveryStatus = "skipped"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Delivery is one (event, recipient, channel) send, keyed so a duplicate
// attempt within the same minute is detected and suppressed.
type Delivery struct {
	IdempotencyKey string
	EventType      EventType
	RecipientID    string
	Channel        Channel
	Status         DeliveryStatus
	SkipReason     string
	SentAt         time.Time
	Metadata       map[string]any
}

// DeliveryKey hashes (org, event, recipient, channel, payload, minute)
// into the duplicate-suppression key. The timestamp is truncated to the
// minute so rapid retries of the same state collapse into one delivery,
// while distinct channels still get their own row.
func DeliveryKey(orgID string, event EventType, recipientID string, channel Channel, payload map[string]any, at time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d", orgID, event, recipientID, channel, canonicalJSON(payload), at.Truncate(time.Minute).Unix())
	return hex.EncodeToString(h.Sum(nil))
}

// ExecutionKey dedupes trigger firings per (trigger, entity, event,
// payload state): re-saving an entity in the same state must not re-fire.
// "previous"-prefixed payload fields describe the transition, not the
// resulting state, so they are excluded from the key.
func ExecutionKey(triggerID, entityID string, event EventType, payload map[string]any) string {
	state := make(map[string]any, len(payload))
	for k, v := range payload {
		if strings.HasPrefix(k, "previous") {
			continue
		}
		state[k] = v
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", triggerID, entityID, event, canonicalJSON(state))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalJSON(payload map[string]any) string {
	if len(payload) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(payload[k])
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String()
}

// Template is a renderable notification body for one event/channel.
type Template struct {
	Subject string
	Body    string
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Render substitutes {{variable}} placeholders from the payload and
// strips any that stay unresolved.
func (t Template) Render(payload map[string]any) Template {
	return Template{
		Subject: renderString(t.Subject, payload),
		Body:    renderString(t.Body, payload),
	}
}

func renderString(s string, payload map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := payload[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		return ""
	})
}

// QuietHours is a local-time window during which non-mandatory sends are
// suppressed. Start after End means the window wraps past midnight.
type QuietHours struct {
	Start string `json:"start" validate:"omitempty,len=5"`
	End   string `json:"end" validate:"omitempty,len=5"`
}

// Contains reports whether t (wall clock) falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if q.Start == "" || q.End == "" {
		return false
	}
	start, err1 := time.Parse("15:04", q.Start)
	end, err2 := time.Parse("15:04", q.End)
	if err1 != nil || err2 != nil {
		return false
	}

	minutes := t.Hour()*60 + t.Minute()
	startM := start.Hour()*60 + start.Minute()
	endM := end.Hour()*60 + end.Minute()

	if startM <= endM {
		return minutes >= startM && minutes < endM
	}
	// Overnight wrap, e.g. 22:00-07:00.
	return minutes >= startM || minutes < endM
}

// NotificationSettings is the organization's typed notification
// configuration. JSON-decoded from storage and validated before use.
type NotificationSettings struct {
	Enabled        bool              `json:"enabled"`
	Channels       map[Channel]bool  `json:"channels"`
	Events         map[string]bool   `json:"events"`
	QuietHours     QuietHours        `json:"quietHours"`
	WebhookURL     string            `json:"webhookUrl" validate:"omitempty,url"`
	SlackWebhook   string            `json:"slackWebhook" validate:"omitempty,url"`
	MandatoryEvent map[string]bool   `json:"mandatoryEvents"`
}

// DefaultNotificationSettings enables email and in-app delivery.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled: true,
		Channels: map[Channel]bool{
			ChannelInApp: true,
			ChannelEmail: true,
		},
	}
}

// ChannelEnabled defaults to off for channels never configured.
func (s NotificationSettings) ChannelEnabled(c Channel) bool {
	return s.Channels[c]
}

// EventEnabled defaults to on: only an explicit false mutes an event.
func (s NotificationSettings) EventEnabled(e EventType) bool {
	v, ok := s.Events[string(e)]
	if !ok {
		return true
	}
	return v
}

// Mandatory events bypass user-level opt-outs.
func (s NotificationSettings) Mandatory(e EventType) bool {
	return s.MandatoryEvent[string(e)]
}

// UserPreferences are one recipient's opt-outs.
type UserPreferences struct {
	MutedChannels map[Channel]bool `json:"mutedChannels"`
	MutedEvents   map[string]bool  `json:"mutedEvents"`
}

func (p UserPreferences) Muted(e EventType, c Channel) bool {
	return p.MutedChannels[c] || p.MutedEvents[string(e)]
}

// User is the slice of the directory this core needs.
type User struct {
	ID    string
	Email string
	Name  string
	Role  string
}

// InAppNotification is a persisted notification row shown in the app.
type InAppNotification struct {
	ID          string
	RecipientID string
	EventType   EventType
	Subject     string
	Body        string
	Read        bool
	CreatedAt   time.Time
}
