package repo

import (
	"context"
	"database/sql"
	"strings"

	"gridpermit/internal/domain"
)

func (r Repo) InsertAccount(ctx context.Context, a domain.Account) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO accounts(id,name,role,phone,region,active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Role, nullable(a.Phone), nullable(a.Region), boolInt(a.Active), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var a domain.Account
	var phone, region sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,role,phone,region,active,created_at,updated_at FROM accounts WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &a.Role, &phone, &region, &active, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if phone.Valid {
		a.Phone = phone.String
	}
	if region.Valid {
		a.Region = region.String
	}
	a.Active = active != 0
	return a, nil
}

func (r Repo) ListAccounts(ctx context.Context, role string) ([]domain.Account, error) {
	query := `SELECT id,name,role,phone,region,active,created_at,updated_at FROM accounts`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Account
	for rows.Next() {
		var a domain.Account
		var phone, region sql.NullString
		var active int
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &phone, &region, &active, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if phone.Valid {
			a.Phone = phone.String
		}
		if region.Valid {
			a.Region = region.String
		}
		a.Active = active != 0
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpdateAccount patches role, region and active flag.
func (r Repo) UpdateAccount(ctx context.Context, id string, role, region *string, active *bool, updatedAt string) error {
	var fields []string
	var args []any
	if role != nil {
		fields = append(fields, "role=?")
		args = append(args, *role)
	}
	if region != nil {
		fields = append(fields, "region=?")
		args = append(args, nullable(*region))
	}
	if active != nil {
		fields = append(fields, "active=?")
		args = append(args, boolInt(*active))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, `UPDATE accounts SET `+strings.Join(fields, ",")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
