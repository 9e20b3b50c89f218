package repository

import (
	"context"

	"github.com/pesio-ai/be-approvals/internal/platform/database"
	"github.com/pesio-ai/be-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-approvals/internal/workflow"
)

// RoleRepository reads role memberships from user_roles.
type RoleRepository struct {
	db *database.DB
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(db *database.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// RolesOf returns the roles held by userID.
func (r *RoleRepository) RolesOf(ctx context.Context, userID string) (workflow.RoleSet, error) {
	roles, err := r.column(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user roles")
	}
	return workflow.NewRoleSet(roles...), nil
}

// MembersOf returns the users holding role, ordered by id.
func (r *RoleRepository) MembersOf(ctx context.Context, role string) ([]string, error) {
	users, err := r.column(ctx, `SELECT user_id FROM user_roles WHERE role = $1 ORDER BY user_id`, role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get role members")
	}
	return users, nil
}

func (r *RoleRepository) column(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

var _ workflow.RoleDirectory = (*RoleRepository)(nil)
