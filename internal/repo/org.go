package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"gridpermit/internal/domain"
)

// ErrHasChildren is returned when deleting a unit that still has child units.
var ErrHasChildren = errors.New("org unit has child units")

var unitKinds = map[string]string{
	"region":       "",
	"circle":       "region",
	"division":     "circle",
	"sub_division": "division",
	"feeder":       "sub_division",
	"transformer":  "feeder",
}

// InsertOrgUnit stores one node of the utility hierarchy. The parent must
// already exist and be of the kind one level up.
func (r Repo) InsertOrgUnit(ctx context.Context, u domain.OrgUnit) error {
	parentKind, ok := unitKinds[u.Kind]
	if !ok {
		return errors.New("unknown org unit kind " + u.Kind)
	}
	if parentKind == "" && u.ParentID != "" {
		return errors.New("region cannot have a parent")
	}
	if parentKind != "" {
		if u.ParentID == "" {
			return errors.New(u.Kind + " requires a parent " + parentKind)
		}
		parent, err := r.GetOrgUnit(ctx, u.ParentID)
		if err != nil {
			return err
		}
		if parent.Kind != parentKind {
			return errors.New(u.Kind + " parent must be a " + parentKind)
		}
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO org_units(id,kind,name,parent_id,code,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Kind, u.Name, nullable(u.ParentID), nullable(u.Code), u.CreatedAt)
	return err
}

func (r Repo) GetOrgUnit(ctx context.Context, id string) (domain.OrgUnit, error) {
	var u domain.OrgUnit
	var parentID, code sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,kind,name,parent_id,code,created_at FROM org_units WHERE id=?`, id).
		Scan(&u.ID, &u.Kind, &u.Name, &parentID, &code, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if parentID.Valid {
		u.ParentID = parentID.String
	}
	if code.Valid {
		u.Code = code.String
	}
	return u, err
}

func (r Repo) ListOrgUnits(ctx context.Context, kind, parentID string) ([]domain.OrgUnit, error) {
	var clauses []string
	var args []any
	if kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, kind)
	}
	if parentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, parentID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,name,parent_id,code,created_at FROM org_units `+where+` ORDER BY kind, name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrgUnit
	for rows.Next() {
		var u domain.OrgUnit
		var pid, code sql.NullString
		if err := rows.Scan(&u.ID, &u.Kind, &u.Name, &pid, &code, &u.CreatedAt); err != nil {
			return nil, err
		}
		if pid.Valid {
			u.ParentID = pid.String
		}
		if code.Valid {
			u.Code = code.String
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) DeleteOrgUnit(ctx context.Context, id string) error {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM org_units WHERE parent_id=?`, id).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrHasChildren
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM org_units WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
