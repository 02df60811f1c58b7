package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"constellation/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,name,organization_id,created_at) VALUES (?,?,?,?,?)`,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), nullable(u.Name), nullable(u.OrganizationID), u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email already registered", ErrConflict)
	}
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,COALESCE(name,''),COALESCE(organization_id,''),created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,COALESCE(name,''),COALESCE(organization_id,''),created_at FROM users WHERE email=?`,
		strings.ToLower(strings.TrimSpace(email))))
}

func (r Repo) SetUserOrganization(ctx context.Context, id, orgID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET organization_id=? WHERE id=?`, nullable(orgID), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,email,COALESCE(name,''),COALESCE(organization_id,''),created_at FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.OrganizationID, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.OrganizationID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}
