package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/testutil"
)

func TestTriggerRepository_Integration(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	repo := NewTriggerRepository(pool)
	tenant := domain.Tenant{OrgID: "org-1"}

	t.Run("list enabled decodes condition and actions", func(t *testing.T) {
		if _, err := pool.Exec(ctx, `
INSERT INTO workflow_triggers (id, organization_id, name, event_type, enabled, priority, condition, actions) VALUES
('trg-1', 'org-1', 'High probability alert', 'campaign_probability_changed', TRUE, 10,
	'{"field":"probability","op":"gte","value":80}',
	'[{"type":"send_notification","params":{"severity":"high"}}]'),
('trg-2', 'org-1', 'Disabled rule', 'campaign_probability_changed', FALSE, 20, NULL, '[]'),
('trg-3', 'org-1', 'Catch all', 'campaign_probability_changed', TRUE, 5, NULL, '[{"type":"require_approval"}]')`); err != nil {
			t.Fatalf("insert triggers: %v", err)
		}

		triggers, err := repo.ListEnabled(ctx, tenant, domain.EventProbabilityChanged)
		if err != nil {
			t.Fatalf("ListEnabled: %v", err)
		}
		if len(triggers) != 2 {
			t.Fatalf("triggers = %d, want 2 enabled", len(triggers))
		}
		// Lower priority first.
		if triggers[0].ID != "trg-3" || triggers[1].ID != "trg-1" {
			t.Fatalf("order = %s, %s", triggers[0].ID, triggers[1].ID)
		}

		withCond := triggers[1]
		if withCond.Condition == nil || withCond.Condition.Field != "probability" || withCond.Condition.Op != domain.OpGte {
			t.Fatalf("condition = %+v", withCond.Condition)
		}
		if len(withCond.Actions) != 1 || withCond.Actions[0].Type != domain.ActionSendNotification {
			t.Fatalf("actions = %+v", withCond.Actions)
		}
		if got, _ := withCond.Actions[0].Params["severity"].(string); got != "high" {
			t.Fatalf("params = %+v", withCond.Actions[0].Params)
		}
	})

	t.Run("execution key dedupes", func(t *testing.T) {
		at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

		fired, err := repo.RecordExecution(ctx, tenant, "exec-key-1", "trg-1", at)
		if err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
		if !fired {
			t.Fatal("first execution not recorded")
		}

		fired, err = repo.RecordExecution(ctx, tenant, "exec-key-1", "trg-1", at.Add(time.Minute))
		if err != nil {
			t.Fatalf("repeat RecordExecution: %v", err)
		}
		if fired {
			t.Fatal("duplicate execution recorded")
		}

		// The same key under another organization is independent.
		fired, err = repo.RecordExecution(ctx, domain.Tenant{OrgID: "org-2"}, "exec-key-1", "trg-1", at)
		if err != nil {
			t.Fatalf("RecordExecution other org: %v", err)
		}
		if !fired {
			t.Fatal("execution key leaked across organizations")
		}
	})

	t.Run("workflow settings default when unset", func(t *testing.T) {
		settings, err := repo.GetWorkflowSettings(ctx, tenant)
		if err != nil {
			t.Fatalf("GetWorkflowSettings: %v", err)
		}
		if settings != domain.DefaultWorkflowSettings() {
			t.Fatalf("settings = %+v", settings)
		}

		if _, err := pool.Exec(ctx,
			`INSERT INTO workflow_settings (organization_id, auto_reserve_at, approval_required_at, auto_win_at) VALUES ('org-1', 50, 80, 95)`); err != nil {
			t.Fatalf("insert settings: %v", err)
		}
		settings, err = repo.GetWorkflowSettings(ctx, tenant)
		if err != nil {
			t.Fatalf("GetWorkflowSettings: %v", err)
		}
		if settings.ApprovalRequiredAt != 80 || settings.AutoWinAt != 95 {
			t.Fatalf("settings = %+v", settings)
		}
	})
}

func TestDirectoryRepository_Integration(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	repo := NewDirectoryRepository(pool)
	tenant := domain.Tenant{OrgID: "org-1"}

	testutil.InsertUser(t, ctx, pool, "org-1", domain.User{ID: "u-admin", Email: "admin@example.com", Name: "Admin", Role: "admin"})
	testutil.InsertUser(t, ctx, pool, "org-1", domain.User{ID: "u-seller", Email: "seller@example.com", Name: "Seller", Role: "seller"})
	testutil.InsertUser(t, ctx, pool, "org-1", domain.User{ID: "u-producer", Email: "producer@example.com", Name: "Producer", Role: "producer"})
	testutil.InsertUser(t, ctx, pool, "org-2", domain.User{ID: "u-other", Email: "other@example.com", Name: "Other", Role: "admin"})

	if _, err := pool.Exec(ctx,
		`INSERT INTO show_team (organization_id, show_id, user_id) VALUES ('org-1', 'show-1', 'u-producer')`); err != nil {
		t.Fatalf("insert show team: %v", err)
	}

	t.Run("find user", func(t *testing.T) {
		user, err := repo.FindUser(ctx, tenant, "u-admin")
		if err != nil {
			t.Fatalf("FindUser: %v", err)
		}
		if user.Email != "admin@example.com" {
			t.Fatalf("user = %+v", user)
		}

		if _, err := repo.FindUser(ctx, tenant, "u-other"); err == nil {
			t.Fatal("user from another organization resolved")
		}
	})

	t.Run("find by role", func(t *testing.T) {
		users, err := repo.FindUsersByRole(ctx, tenant, "admin", "seller")
		if err != nil {
			t.Fatalf("FindUsersByRole: %v", err)
		}
		if len(users) != 2 {
			t.Fatalf("users = %+v", users)
		}
	})

	t.Run("show team", func(t *testing.T) {
		users, err := repo.FindShowTeam(ctx, tenant, "show-1")
		if err != nil {
			t.Fatalf("FindShowTeam: %v", err)
		}
		if len(users) != 1 || users[0].ID != "u-producer" {
			t.Fatalf("team = %+v", users)
		}
	})
}
