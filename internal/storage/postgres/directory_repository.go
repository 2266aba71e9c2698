package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// DirectoryRepository resolves notification recipients.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

func (r *DirectoryRepository) FindUser(ctx context.Context, tenant domain.Tenant, id string) (domain.User, error) {
	const query = `SELECT id, email, name, role FROM users WHERE organization_id = $1 AND id = $2`

	var u domain.User
	err := runner(ctx, r.pool).QueryRow(ctx, query, tenant.OrgID, id).Scan(&u.ID, &u.Email, &u.Name, &u.Role)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.User{}, domain.ErrInvalidID
		}
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (r *DirectoryRepository) FindUsersByRole(ctx context.Context, tenant domain.Tenant, roles ...string) ([]domain.User, error) {
	const query = `SELECT id, email, name, role FROM users WHERE organization_id = $1 AND role = ANY($2) ORDER BY id`

	rows, err := runner(ctx, r.pool).Query(ctx, query, tenant.OrgID, roles)
	if err != nil {
		return nil, fmt.Errorf("find users by role: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *DirectoryRepository) FindShowTeam(ctx context.Context, tenant domain.Tenant, showID string) ([]domain.User, error) {
	const query = `
SELECT u.id, u.email, u.name, u.role
FROM users u
JOIN show_team st ON st.user_id = u.id AND st.organization_id = u.organization_id
WHERE u.organization_id = $1 AND st.show_id = $2
ORDER BY u.id`

	rows, err := runner(ctx, r.pool).Query(ctx, query, tenant.OrgID, showID)
	if err != nil {
		return nil, fmt.Errorf("find show team: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

func scanUsers(rows pgx.Rows) ([]domain.User, error) {
	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
