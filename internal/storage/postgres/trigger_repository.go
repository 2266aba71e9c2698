package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

type TriggerRepository struct {
	pool *pgxpool.Pool
}

func NewTriggerRepository(pool *pgxpool.Pool) *TriggerRepository {
	return &TriggerRepository{pool: pool}
}

func (r *TriggerRepository) ListEnabled(ctx context.Context, tenant domain.Tenant, event domain.EventType) ([]domain.Trigger, error) {
	const query = `
SELECT id, name, event_type, enabled, priority, condition, actions
FROM workflow_triggers
WHERE organization_id = $1 AND event_type = $2 AND enabled = TRUE
ORDER BY priority, id`

	rows, err := runner(ctx, r.pool).Query(ctx, query, tenant.OrgID, event)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []domain.Trigger
	for rows.Next() {
		var t domain.Trigger
		var condRaw, actionsRaw []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Event, &t.Enabled, &t.Priority, &condRaw, &actionsRaw); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		if len(condRaw) > 0 {
			var cond domain.Condition
			if err := json.Unmarshal(condRaw, &cond); err != nil {
				return nil, fmt.Errorf("decode trigger %s condition: %w", t.ID, err)
			}
			t.Condition = &cond
		}
		if len(actionsRaw) > 0 {
			if err := json.Unmarshal(actionsRaw, &t.Actions); err != nil {
				return nil, fmt.Errorf("decode trigger %s actions: %w", t.ID, err)
			}
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// RecordExecution is insert-or-skip: the unique key on (organization_id,
// execution_key) makes the first writer win and every replay a no-op.
func (r *TriggerRepository) RecordExecution(ctx context.Context, tenant domain.Tenant, key, triggerID string, at time.Time) (bool, error) {
	const stmt = `
INSERT INTO trigger_executions (organization_id, execution_key, trigger_id, executed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (organization_id, execution_key) DO NOTHING`

	tag, err := runner(ctx, r.pool).Exec(ctx, stmt, tenant.OrgID, key, triggerID, at)
	if err != nil {
		return false, fmt.Errorf("record trigger execution: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TriggerRepository) GetWorkflowSettings(ctx context.Context, tenant domain.Tenant) (domain.WorkflowSettings, error) {
	const query = `
SELECT auto_reserve_at, approval_required_at, auto_win_at
FROM workflow_settings
WHERE organization_id = $1`

	var s domain.WorkflowSettings
	err := runner(ctx, r.pool).QueryRow(ctx, query, tenant.OrgID).Scan(&s.AutoReserveAt, &s.ApprovalRequiredAt, &s.AutoWinAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DefaultWorkflowSettings(), nil
		}
		return domain.WorkflowSettings{}, fmt.Errorf("get workflow settings: %w", err)
	}
	return s, nil
}
