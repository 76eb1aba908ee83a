package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gridpermit/internal/domain"
	"gridpermit/internal/workflow"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const permitColumns = `id,title,category,description,state,work_status,held_from,likelihood,severity,risk_score,risk_band,region,circle,division,sub_division,feeder,asset_type,asset_id,crew_lead,crew_members,window_start,window_end,issuance_json,safety_json,pre_start_json,evidence_json,created_by,version,created_at,updated_at,closed_at`

type permitScanner interface {
	Scan(dest ...any) error
}

func scanPermit(row permitScanner) (domain.Permit, error) {
	var p domain.Permit
	var crew string
	var issuance, safety, preStart, evidence, closedAt sql.NullString
	err := row.Scan(&p.ID, &p.Title, &p.Category, &p.Description, &p.State, &p.WorkStatus, &p.HeldFrom,
		&p.Likelihood, &p.Severity, &p.RiskScore, &p.RiskBand,
		&p.Region, &p.Circle, &p.Division, &p.SubDivision, &p.Feeder, &p.AssetType, &p.AssetID,
		&p.CrewLead, &crew, &p.WindowStart, &p.WindowEnd,
		&issuance, &safety, &preStart, &evidence,
		&p.CreatedBy, &p.Version, &p.CreatedAt, &p.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if crew != "" && crew != "[]" {
		if err := json.Unmarshal([]byte(crew), &p.CrewMembers); err != nil {
			return p, fmt.Errorf("permit %s crew_members: %w", p.ID, err)
		}
	}
	if issuance.Valid {
		p.IssuanceJSON = &issuance.String
	}
	if safety.Valid {
		p.SafetyJSON = &safety.String
	}
	if preStart.Valid {
		p.PreStartJSON = &preStart.String
	}
	if evidence.Valid {
		p.EvidenceJSON = &evidence.String
	}
	if closedAt.Valid {
		p.ClosedAt = &closedAt.String
	}
	return p, nil
}

func permitArgs(p domain.Permit) []any {
	return []any{
		p.ID, p.Title, p.Category, p.Description, p.State, p.WorkStatus, p.HeldFrom,
		p.Likelihood, p.Severity, p.RiskScore, p.RiskBand,
		p.Region, p.Circle, p.Division, p.SubDivision, p.Feeder, p.AssetType, p.AssetID,
		p.CrewLead, marshalStrings(p.CrewMembers), p.WindowStart, p.WindowEnd,
		nullableStringPtr(p.IssuanceJSON), nullableStringPtr(p.SafetyJSON),
		nullableStringPtr(p.PreStartJSON), nullableStringPtr(p.EvidenceJSON),
		p.CreatedBy, p.Version, p.CreatedAt, p.UpdatedAt, nullableStringPtr(p.ClosedAt),
	}
}

func (r Repo) InsertPermit(ctx context.Context, tx *sql.Tx, p domain.Permit) error {
	query := `INSERT INTO permits(` + permitColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	if tx != nil {
		_, err := tx.ExecContext(ctx, query, permitArgs(p)...)
		return err
	}
	_, err := r.DB.ExecContext(ctx, query, permitArgs(p)...)
	return err
}

func (r Repo) GetPermit(ctx context.Context, id string) (domain.Permit, error) {
	return scanPermit(r.DB.QueryRowContext(ctx, `SELECT `+permitColumns+` FROM permits WHERE id=?`, id))
}

func (r Repo) GetPermitTx(ctx context.Context, tx *sql.Tx, id string) (domain.Permit, error) {
	return scanPermit(tx.QueryRowContext(ctx, `SELECT `+permitColumns+` FROM permits WHERE id=?`, id))
}

// SavePermit rewrites a permit row, guarded by the version the caller read.
// The version is bumped in the same statement, so a concurrent writer that
// read the same version loses with a StaleStateError.
func (r Repo) SavePermit(ctx context.Context, tx *sql.Tx, p domain.Permit, expectedVersion int64) (domain.Permit, error) {
	p.Version = expectedVersion + 1
	res, err := tx.ExecContext(ctx, `UPDATE permits SET title=?,category=?,description=?,state=?,work_status=?,held_from=?,likelihood=?,severity=?,risk_score=?,risk_band=?,region=?,circle=?,division=?,sub_division=?,feeder=?,asset_type=?,asset_id=?,crew_lead=?,crew_members=?,window_start=?,window_end=?,issuance_json=?,safety_json=?,pre_start_json=?,evidence_json=?,version=?,updated_at=?,closed_at=? WHERE id=? AND version=?`,
		p.Title, p.Category, p.Description, p.State, p.WorkStatus, p.HeldFrom,
		p.Likelihood, p.Severity, p.RiskScore, p.RiskBand,
		p.Region, p.Circle, p.Division, p.SubDivision, p.Feeder, p.AssetType, p.AssetID,
		p.CrewLead, marshalStrings(p.CrewMembers), p.WindowStart, p.WindowEnd,
		nullableStringPtr(p.IssuanceJSON), nullableStringPtr(p.SafetyJSON),
		nullableStringPtr(p.PreStartJSON), nullableStringPtr(p.EvidenceJSON),
		p.Version, p.UpdatedAt, nullableStringPtr(p.ClosedAt),
		p.ID, expectedVersion)
	if err != nil {
		return p, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var actual sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT version FROM permits WHERE id=?`, p.ID).Scan(&actual); err == sql.ErrNoRows {
			return p, ErrNotFound
		}
		return p, workflow.StaleStateError{PermitID: p.ID, ExpectedVersion: expectedVersion, ActualVersion: actual.Int64}
	}
	return p, nil
}

// ListActivePermitsTx returns permits in the states that participate in
// crew-conflict checks, read inside the caller's transaction.
func (r Repo) ListActivePermitsTx(ctx context.Context, tx *sql.Tx) ([]domain.Permit, error) {
	states := workflow.ActiveStates()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, len(states))
	for i, s := range states {
		args[i] = string(s)
	}
	rows, err := tx.QueryContext(ctx, `SELECT `+permitColumns+` FROM permits WHERE state IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Permit
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

type PermitFilters struct {
	State           string
	Region          string
	CrewMember      string
	CreatedBy       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListPermits(ctx context.Context, f PermitFilters) ([]domain.Permit, error) {
	var clauses []string
	var args []any
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.Region != "" {
		clauses = append(clauses, "region=?")
		args = append(args, f.Region)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.CrewMember != "" {
		clauses = append(clauses, "(crew_lead=? OR crew_members LIKE ?)")
		args = append(args, f.CrewMember, "%"+f.CrewMember+"%")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + permitColumns + ` FROM permits ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Permit
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountPermitsByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state, count(*) FROM permits GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		res[state] = count
	}
	return res, rows.Err()
}

func (r Repo) CountPermitsByRiskBand(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT risk_band, count(*) FROM permits GROUP BY risk_band`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var band string
		var count int
		if err := rows.Scan(&band, &count); err != nil {
			return nil, err
		}
		res[band] = count
	}
	return res, rows.Err()
}

func (r Repo) CountPermitsByRegion(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT COALESCE(region,''), count(*) FROM permits GROUP BY region`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var region string
		var count int
		if err := rows.Scan(&region, &count); err != nil {
			return nil, err
		}
		res[region] = count
	}
	return res, rows.Err()
}

func (r Repo) InsertHistory(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO permit_history(permit_id,ts,actor_id,actor_role,action,from_state,to_state,notes) VALUES (?,?,?,?,?,?,?,?)`,
		h.PermitID, h.TS, h.ActorID, h.ActorRole, h.Action, h.FromState, h.ToState, h.Notes)
	return err
}

func (r Repo) ListHistory(ctx context.Context, permitID string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,permit_id,ts,actor_id,actor_role,action,from_state,to_state,notes FROM permit_history WHERE permit_id=? ORDER BY id ASC`, permitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.PermitID, &h.TS, &h.ActorID, &h.ActorRole, &h.Action, &h.FromState, &h.ToState, &h.Notes); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) InsertProgress(ctx context.Context, tx *sql.Tx, u domain.ProgressUpdate) error {
	query := `INSERT INTO progress_updates(permit_id,ts,actor_id,notes,photo_refs) VALUES (?,?,?,?,?)`
	args := []any{u.PermitID, u.TS, u.ActorID, u.Notes, marshalStrings(u.PhotoRefs)}
	if tx != nil {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}
	_, err := r.DB.ExecContext(ctx, query, args...)
	return err
}

func (r Repo) ListProgress(ctx context.Context, permitID string) ([]domain.ProgressUpdate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,permit_id,ts,actor_id,notes,photo_refs FROM progress_updates WHERE permit_id=? ORDER BY id ASC`, permitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressUpdate
	for rows.Next() {
		var u domain.ProgressUpdate
		var photos string
		if err := rows.Scan(&u.ID, &u.PermitID, &u.TS, &u.ActorID, &u.Notes, &photos); err != nil {
			return nil, err
		}
		if photos != "" && photos != "[]" {
			if err := json.Unmarshal([]byte(photos), &u.PhotoRefs); err != nil {
				return nil, fmt.Errorf("progress %d photo_refs: %w", u.ID, err)
			}
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// WebhookCursor returns the last delivered event ID for a webhook URL.
func (r Repo) WebhookCursor(ctx context.Context, url string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM webhook_cursor WHERE url=?`, url).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

func (r Repo) SetWebhookCursor(ctx context.Context, url string, eventID int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursor(url,last_event_id) VALUES (?,?)
ON CONFLICT(url) DO UPDATE SET last_event_id=excluded.last_event_id`, url, eventID)
	return err
}

func marshalStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
