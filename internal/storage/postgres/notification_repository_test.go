package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/testutil"
)

func TestNotificationRepository_Queue(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	repo := NewNotificationRepository(pool)
	tenant := domain.Tenant{OrgID: "org-1"}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	enqueue := func(t *testing.T, org string, priority int, scheduledFor time.Time) int64 {
		t.Helper()
		id, err := repo.Enqueue(ctx, domain.Tenant{OrgID: org}, domain.QueueEntry{
			EventType:    domain.EventOrderCreated,
			Payload:      map[string]any{"orderNumber": "ORD-100"},
			RecipientIDs: []string{"u-1"},
			Priority:     priority,
			ScheduledFor: scheduledFor,
			MaxAttempts:  3,
			Status:       domain.QueuePending,
			CreatedAt:    now,
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		return id
	}

	t.Run("claim orders by priority and increments attempts", func(t *testing.T) {
		testutil.TruncateAll(t, ctx, pool)
		low := enqueue(t, "org-1", 7, now.Add(-time.Minute))
		urgent := enqueue(t, "org-2", 1, now.Add(-time.Minute))
		enqueue(t, "org-1", 5, now.Add(time.Hour)) // not yet due

		claimed, err := repo.ClaimBatch(ctx, now, 10)
		if err != nil {
			t.Fatalf("ClaimBatch: %v", err)
		}
		if len(claimed) != 2 {
			t.Fatalf("claimed = %d, want 2", len(claimed))
		}
		if claimed[0].Entry.ID != urgent || claimed[0].Tenant.OrgID != "org-2" {
			t.Fatalf("first claim = %+v", claimed[0])
		}
		if claimed[1].Entry.ID != low {
			t.Fatalf("second claim = %+v", claimed[1])
		}
		if claimed[0].Entry.Attempts != 1 {
			t.Fatalf("attempts = %d, want 1", claimed[0].Entry.Attempts)
		}
		if claimed[0].Entry.Status != domain.QueueProcessing {
			t.Fatalf("status = %s", claimed[0].Entry.Status)
		}
		if got := claimed[0].Entry.Payload["orderNumber"]; got != "ORD-100" {
			t.Fatalf("payload = %+v", claimed[0].Entry.Payload)
		}

		// Everything due is processing now; a second claim gets nothing.
		claimed, err = repo.ClaimBatch(ctx, now, 10)
		if err != nil {
			t.Fatalf("second ClaimBatch: %v", err)
		}
		if len(claimed) != 0 {
			t.Fatalf("reclaimed processing rows: %+v", claimed)
		}
	})

	t.Run("equal priority claims oldest entry first", func(t *testing.T) {
		testutil.TruncateAll(t, ctx, pool)
		entry := func(createdAt, scheduledFor time.Time) int64 {
			id, err := repo.Enqueue(ctx, tenant, domain.QueueEntry{
				EventType:    domain.EventOrderCreated,
				Payload:      map[string]any{"orderNumber": "ORD-100"},
				RecipientIDs: []string{"u-1"},
				Priority:     5,
				ScheduledFor: scheduledFor,
				MaxAttempts:  3,
				Status:       domain.QueuePending,
				CreatedAt:    createdAt,
			})
			if err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
			return id
		}

		// The older entry was deferred further out; it still goes first
		// once both are due.
		older := entry(now.Add(-2*time.Hour), now.Add(-time.Minute))
		newer := entry(now.Add(-time.Hour), now.Add(-30*time.Minute))

		claimed, err := repo.ClaimBatch(ctx, now, 10)
		if err != nil {
			t.Fatalf("ClaimBatch: %v", err)
		}
		if len(claimed) != 2 {
			t.Fatalf("claimed = %d, want 2", len(claimed))
		}
		if claimed[0].Entry.ID != older || claimed[1].Entry.ID != newer {
			t.Fatalf("claim order = [%d, %d], want oldest first", claimed[0].Entry.ID, claimed[1].Entry.ID)
		}
	})

	t.Run("completed, failed and rescheduled transitions", func(t *testing.T) {
		testutil.TruncateAll(t, ctx, pool)
		a := enqueue(t, "org-1", 5, now.Add(-time.Minute))
		b := enqueue(t, "org-1", 5, now.Add(-time.Minute))
		c := enqueue(t, "org-1", 5, now.Add(-time.Minute))
		if _, err := repo.ClaimBatch(ctx, now, 10); err != nil {
			t.Fatalf("ClaimBatch: %v", err)
		}

		if err := repo.MarkCompleted(ctx, tenant, a); err != nil {
			t.Fatalf("MarkCompleted: %v", err)
		}
		if err := repo.MarkFailed(ctx, tenant, b, "webhook 500"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
		retryAt := now.Add(time.Minute)
		if err := repo.Reschedule(ctx, tenant, c, retryAt, "smtp timeout"); err != nil {
			t.Fatalf("Reschedule: %v", err)
		}

		failed, err := repo.ListFailed(ctx, tenant, 10)
		if err != nil {
			t.Fatalf("ListFailed: %v", err)
		}
		if len(failed) != 1 || failed[0].ID != b || failed[0].LastError == nil || *failed[0].LastError != "webhook 500" {
			t.Fatalf("failed = %+v", failed)
		}

		// The rescheduled row is pending again and claimable at its new time.
		claimed, err := repo.ClaimBatch(ctx, retryAt, 10)
		if err != nil {
			t.Fatalf("ClaimBatch: %v", err)
		}
		if len(claimed) != 1 || claimed[0].Entry.ID != c || claimed[0].Entry.Attempts != 2 {
			t.Fatalf("claimed = %+v", claimed)
		}
	})
}

func TestNotificationRepository_Deliveries(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	repo := NewNotificationRepository(pool)
	tenant := domain.Tenant{OrgID: "org-1"}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	d := domain.Delivery{
		IdempotencyKey: "key-1",
		EventType:      domain.EventOrderCreated,
		RecipientID:    "u-1",
		Channel:        domain.ChannelEmail,
		Status:         domain.DeliverySent,
		SentAt:         now,
		Metadata:       map[string]any{"messageId": "msg-1"},
	}
	stored, err := repo.SaveDelivery(ctx, tenant, d)
	if err != nil {
		t.Fatalf("SaveDelivery: %v", err)
	}
	if stored.Metadata["messageId"] != "msg-1" {
		t.Fatalf("stored = %+v", stored)
	}

	// Same key again: the original row wins.
	dup := d
	dup.Metadata = map[string]any{"messageId": "msg-2"}
	stored, err = repo.SaveDelivery(ctx, tenant, dup)
	if err != nil {
		t.Fatalf("duplicate SaveDelivery: %v", err)
	}
	if stored.Metadata["messageId"] != "msg-1" {
		t.Fatalf("duplicate overwrote: %+v", stored)
	}

	found, err := repo.FindDelivery(ctx, tenant, "key-1")
	if err != nil {
		t.Fatalf("FindDelivery: %v", err)
	}
	if found == nil || found.Channel != domain.ChannelEmail {
		t.Fatalf("found = %+v", found)
	}

	if found, err = repo.FindDelivery(ctx, tenant, "key-missing"); err != nil || found != nil {
		t.Fatalf("missing key: %v %v", found, err)
	}

	// A failed row is the one case a later save may overwrite: a retry
	// that succeeds upgrades it to sent.
	failed := domain.Delivery{
		IdempotencyKey: "key-2",
		EventType:      domain.EventOrderCreated,
		RecipientID:    "u-1",
		Channel:        domain.ChannelEmail,
		Status:         domain.DeliveryFailed,
		SentAt:         now,
		Metadata:       map[string]any{"error": "smtp unavailable"},
	}
	if _, err := repo.SaveDelivery(ctx, tenant, failed); err != nil {
		t.Fatalf("save failed delivery: %v", err)
	}

	retried := failed
	retried.Status = domain.DeliverySent
	retried.Metadata = map[string]any{"messageId": "msg-3"}
	stored, err = repo.SaveDelivery(ctx, tenant, retried)
	if err != nil {
		t.Fatalf("retry SaveDelivery: %v", err)
	}
	if stored.Status != domain.DeliverySent {
		t.Fatalf("stored = %+v, want the retried row", stored)
	}
	found, err = repo.FindDelivery(ctx, tenant, "key-2")
	if err != nil {
		t.Fatalf("FindDelivery: %v", err)
	}
	if found == nil || found.Status != domain.DeliverySent || found.Metadata["messageId"] != "msg-3" {
		t.Fatalf("found = %+v, want the upgraded row", found)
	}
}

func TestNotificationRepository_Templates(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	repo := NewNotificationRepository(pool)
	tenant := domain.Tenant{OrgID: "org-1"}

	t.Run("global seed templates resolve", func(t *testing.T) {
		tmpl, err := repo.FindTemplate(ctx, tenant, domain.EventOrderCreated, domain.ChannelInApp)
		if err != nil {
			t.Fatalf("FindTemplate: %v", err)
		}
		if tmpl.Subject == "" || tmpl.Body == "" {
			t.Fatalf("template = %+v", tmpl)
		}
	})

	t.Run("org template overrides the global one", func(t *testing.T) {
		if _, err := pool.Exec(ctx, `
INSERT INTO notification_templates (organization_id, event_type, channel, subject, body)
VALUES ('org-1', 'order_created', 'inApp', 'Custom subject', 'Custom body')
ON CONFLICT DO NOTHING`); err != nil {
			t.Fatalf("insert org template: %v", err)
		}

		tmpl, err := repo.FindTemplate(ctx, tenant, domain.EventOrderCreated, domain.ChannelInApp)
		if err != nil {
			t.Fatalf("FindTemplate: %v", err)
		}
		if tmpl.Subject != "Custom subject" {
			t.Fatalf("subject = %q, want the org override", tmpl.Subject)
		}

		// Other organizations still see the global template.
		tmpl, err = repo.FindTemplate(ctx, domain.Tenant{OrgID: "org-2"}, domain.EventOrderCreated, domain.ChannelInApp)
		if err != nil {
			t.Fatalf("FindTemplate: %v", err)
		}
		if tmpl.Subject == "Custom subject" {
			t.Fatal("org template leaked to another organization")
		}
	})

	t.Run("unknown event is a typed miss", func(t *testing.T) {
		_, err := repo.FindTemplate(ctx, tenant, domain.EventType("nonexistent"), domain.ChannelInApp)
		var notFound *domain.TemplateNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("err = %v, want TemplateNotFoundError", err)
		}
	})
}
