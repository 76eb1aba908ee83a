package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gridpermit/internal/config"
	"gridpermit/internal/domain"
	"gridpermit/internal/events"
	"gridpermit/internal/repo"
	"gridpermit/internal/workflow"
)

// Engine ties the pure lifecycle rules to the store. Every mutating call
// runs inside one transaction: the permit row, its history entry and the
// audit event land together or not at all.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// PermitCreateOptions are parameters for drafting a permit.
type PermitCreateOptions struct {
	ID          string
	Title       string
	Category    string
	Description string
	Likelihood  int
	Severity    int
	Region      string
	Circle      string
	Division    string
	SubDivision string
	Feeder      string
	AssetType   string
	AssetID     string
	CrewLead    string
	CrewMembers []string
	WindowStart string
	WindowEnd   string
	ActorID     string
}

// CreatePermit drafts a new permit. Risk is derived here so the band is
// already visible to reviewers before submission.
func (e Engine) CreatePermit(ctx context.Context, opts PermitCreateOptions) (domain.Permit, error) {
	if opts.Title == "" {
		return domain.Permit{}, errors.New("title is required")
	}
	if opts.ActorID == "" {
		return domain.Permit{}, errors.New("actor is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.Permit{
		ID:          id,
		Title:       opts.Title,
		Category:    opts.Category,
		Description: opts.Description,
		State:       string(workflow.StateDraft),
		Likelihood:  opts.Likelihood,
		Severity:    opts.Severity,
		RiskScore:   workflow.RiskScore(opts.Likelihood, opts.Severity),
		RiskBand:    workflow.RiskBand(opts.Likelihood, opts.Severity),
		Region:      opts.Region,
		Circle:      opts.Circle,
		Division:    opts.Division,
		SubDivision: opts.SubDivision,
		Feeder:      opts.Feeder,
		AssetType:   opts.AssetType,
		AssetID:     opts.AssetID,
		CrewLead:    opts.CrewLead,
		CrewMembers: opts.CrewMembers,
		WindowStart: opts.WindowStart,
		WindowEnd:   opts.WindowEnd,
		CreatedBy:   opts.ActorID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permit{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertPermit(ctx, tx, p); err != nil {
		return domain.Permit{}, fmt.Errorf("insert permit: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "permit.created", "permit", p.ID, opts.ActorID, events.EventPayload{
		"title": p.Title, "state": p.State, "risk_band": p.RiskBand,
	}); err != nil {
		return domain.Permit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Permit{}, err
	}
	return p, nil
}

// DraftPatch holds the fields an LS may edit while a permit sits in draft.
// Nil means leave unchanged.
type DraftPatch struct {
	Title       *string
	Category    *string
	Description *string
	Likelihood  *int
	Severity    *int
	Region      *string
	Circle      *string
	Division    *string
	SubDivision *string
	Feeder      *string
	AssetType   *string
	AssetID     *string
	CrewLead    *string
	CrewMembers []string
	WindowStart *string
	WindowEnd   *string
}

// UpdateDraft edits a draft permit under the optimistic version check.
func (e Engine) UpdateDraft(ctx context.Context, id string, patch DraftPatch, expectedVersion int64, actorID string) (domain.Permit, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permit{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPermitTx(ctx, tx, id)
	if err != nil {
		return domain.Permit{}, err
	}
	if p.State != string(workflow.StateDraft) {
		return domain.Permit{}, workflow.NotAllowedError{
			State: workflow.State(p.State), Role: workflow.RoleLS, Action: "edit",
		}
	}
	if expectedVersion == 0 {
		expectedVersion = p.Version
	}
	applyPatch(&p, patch)
	p.RiskScore = workflow.RiskScore(p.Likelihood, p.Severity)
	p.RiskBand = workflow.RiskBand(p.Likelihood, p.Severity)
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	p, err = e.Repo.SavePermit(ctx, tx, p, expectedVersion)
	if err != nil {
		return domain.Permit{}, err
	}
	if err := e.Events.Append(ctx, tx, "permit.updated", "permit", p.ID, actorID, events.EventPayload{"version": p.Version}); err != nil {
		return domain.Permit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Permit{}, err
	}
	return p, nil
}

func applyPatch(p *domain.Permit, patch DraftPatch) {
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setStr(&p.Title, patch.Title)
	setStr(&p.Category, patch.Category)
	setStr(&p.Description, patch.Description)
	setStr(&p.Region, patch.Region)
	setStr(&p.Circle, patch.Circle)
	setStr(&p.Division, patch.Division)
	setStr(&p.SubDivision, patch.SubDivision)
	setStr(&p.Feeder, patch.Feeder)
	setStr(&p.AssetType, patch.AssetType)
	setStr(&p.AssetID, patch.AssetID)
	setStr(&p.CrewLead, patch.CrewLead)
	setStr(&p.WindowStart, patch.WindowStart)
	setStr(&p.WindowEnd, patch.WindowEnd)
	if patch.Likelihood != nil {
		p.Likelihood = *patch.Likelihood
	}
	if patch.Severity != nil {
		p.Severity = *patch.Severity
	}
	if patch.CrewMembers != nil {
		p.CrewMembers = patch.CrewMembers
	}
}

// Transition applies one workflow action to a permit. The conflict snapshot
// is read inside the same transaction as the guarded write, so two
// overlapping submissions cannot both pass the crew check.
func (e Engine) Transition(ctx context.Context, id, actorID string, role workflow.Role, action workflow.Action, pl workflow.Payload, expectedVersion int64) (domain.Permit, error) {
	if actorID == "" {
		return domain.Permit{}, errors.New("actor is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permit{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPermitTx(ctx, tx, id)
	if err != nil {
		return domain.Permit{}, err
	}
	if expectedVersion == 0 {
		expectedVersion = p.Version
	}
	var active []domain.Permit
	if action == workflow.ActionSubmit {
		all, err := e.Repo.ListActivePermitsTx(ctx, tx)
		if err != nil {
			return domain.Permit{}, err
		}
		for _, other := range all {
			if other.ID != p.ID {
				active = append(active, other)
			}
		}
	}
	next, entry, err := workflow.Apply(p, role, action, pl, active, e.now())
	if err != nil {
		return domain.Permit{}, err
	}
	next, err = e.Repo.SavePermit(ctx, tx, next, expectedVersion)
	if err != nil {
		return domain.Permit{}, err
	}
	entry.ActorID = actorID
	if err := e.Repo.InsertHistory(ctx, tx, entry); err != nil {
		return domain.Permit{}, err
	}
	if err := e.Events.Append(ctx, tx, "permit."+string(action), "permit", p.ID, actorID, events.EventPayload{
		"from_state": entry.FromState,
		"to_state":   entry.ToState,
		"role":       entry.ActorRole,
		"notes":      entry.Notes,
	}); err != nil {
		return domain.Permit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Permit{}, err
	}
	return next, nil
}

// AddProgress appends a work-in-progress note. Only meaningful while the
// crew is on site.
func (e Engine) AddProgress(ctx context.Context, permitID, actorID, notes string, photoRefs []string) (domain.ProgressUpdate, error) {
	if notes == "" {
		return domain.ProgressUpdate{}, errors.New("notes required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProgressUpdate{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPermitTx(ctx, tx, permitID)
	if err != nil {
		return domain.ProgressUpdate{}, err
	}
	if p.State != string(workflow.StateInProgress) {
		return domain.ProgressUpdate{}, workflow.ValidationErrors{{Field: "state", Reason: "progress requires in_progress"}}
	}
	u := domain.ProgressUpdate{
		PermitID:  permitID,
		TS:        e.now().UTC().Format(time.RFC3339),
		ActorID:   actorID,
		Notes:     notes,
		PhotoRefs: photoRefs,
	}
	if err := e.Repo.InsertProgress(ctx, tx, u); err != nil {
		return domain.ProgressUpdate{}, err
	}
	if err := e.Events.Append(ctx, tx, "permit.progress", "permit", permitID, actorID, events.EventPayload{"notes": notes}); err != nil {
		return domain.ProgressUpdate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProgressUpdate{}, err
	}
	return u, nil
}

// CreateAccount registers a portal user.
func (e Engine) CreateAccount(ctx context.Context, id, name string, role workflow.Role, phone, region string) (domain.Account, error) {
	if name == "" {
		return domain.Account{}, errors.New("name is required")
	}
	if !validRole(role) {
		return domain.Account{}, fmt.Errorf("unknown role %s", role)
	}
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte("account|"+name+"|"+now)).String()
	}
	a := domain.Account{
		ID: id, Name: name, Role: string(role), Phone: phone, Region: region,
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := e.Repo.InsertAccount(ctx, a); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

func validRole(role workflow.Role) bool {
	switch role {
	case workflow.RoleLS, workflow.RoleSDO, workflow.RoleXEN, workflow.RolePDC,
		workflow.RoleGrid, workflow.RoleCrew, workflow.RoleSupervisor, workflow.RoleAdmin:
		return true
	}
	return false
}

// UpdateAccount patches role, region or the active flag. Deactivating an
// account disables its API keys at resolve time without deleting them.
func (e Engine) UpdateAccount(ctx context.Context, id string, role, region *string, active *bool) (domain.Account, error) {
	if role != nil && !validRole(workflow.Role(*role)) {
		return domain.Account{}, fmt.Errorf("unknown role %s", *role)
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAccount(ctx, id, role, region, active, now); err != nil {
		return domain.Account{}, err
	}
	return e.Repo.GetAccount(ctx, id)
}

// CreateOrgUnit registers one node of the region..transformer hierarchy.
func (e Engine) CreateOrgUnit(ctx context.Context, kind, name, parentID, code string) (domain.OrgUnit, error) {
	if name == "" {
		return domain.OrgUnit{}, errors.New("name is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	u := domain.OrgUnit{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("org|"+kind+"|"+name+"|"+parentID)).String(),
		Kind:      kind,
		Name:      name,
		ParentID:  parentID,
		Code:      code,
		CreatedAt: now,
	}
	if err := e.Repo.InsertOrgUnit(ctx, u); err != nil {
		return domain.OrgUnit{}, err
	}
	return u, nil
}

// IssueAPIKey mints a key for an account and returns the plaintext once.
func (e Engine) IssueAPIKey(ctx context.Context, accountID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetAccount(ctx, accountID); err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := "ptw_" + uuid.NewString()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

// Dashboard summarizes permits by state, risk band and region.
type Dashboard struct {
	ByState    map[string]int `json:"by_state"`
	ByRiskBand map[string]int `json:"by_risk_band"`
	ByRegion   map[string]int `json:"by_region"`
}

func (e Engine) Dashboard(ctx context.Context) (Dashboard, error) {
	byState, err := e.Repo.CountPermitsByState(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	byBand, err := e.Repo.CountPermitsByRiskBand(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	byRegion, err := e.Repo.CountPermitsByRegion(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{ByState: byState, ByRiskBand: byBand, ByRegion: byRegion}, nil
}
