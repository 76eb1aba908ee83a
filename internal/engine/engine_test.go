package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridpermit/internal/config"
	"gridpermit/internal/db"
	"gridpermit/internal/domain"
	"gridpermit/internal/engine"
	"gridpermit/internal/migrate"
	"gridpermit/internal/repo"
	"gridpermit/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-utility")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 9, 23, 8, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func draftOptions(title string) engine.PermitCreateOptions {
	return engine.PermitCreateOptions{
		Title:       title,
		Category:    "maintenance",
		Likelihood:  3,
		Severity:    4,
		Region:      "north",
		Feeder:      "F-12",
		AssetType:   "feeder",
		AssetID:     "FD-9",
		CrewLead:    "Bashir Ahmed",
		CrewMembers: []string{"Ali Khan"},
		WindowStart: "2025-09-24T08:00:00Z",
		WindowEnd:   "2025-09-24T16:00:00Z",
		ActorID:     "ls-1",
	}
}

func fullIssuance() *domain.Issuance {
	return &domain.Issuance{
		Dispatcher:      "pdc-op-7",
		ValidFrom:       "2025-09-24T07:00:00Z",
		ValidTo:         "2025-09-24T17:00:00Z",
		IsolationPoints: []string{"CB-11"},
		EarthingPoints:  []string{"E-204"},
	}
}

func fullSafety() *domain.SafetyChecklist {
	items := map[string]bool{}
	for _, it := range workflow.SafetyItems {
		items[it] = true
	}
	return &domain.SafetyChecklist{Items: items, CheckedBy: "grid-1"}
}

func fullPreStart() *domain.PreStart {
	ppe := map[string]bool{}
	for _, it := range workflow.PPEItems {
		ppe[it] = true
	}
	lat, lng := 31.52, 74.35
	return &domain.PreStart{
		Roster:    []domain.CrewSignature{{Name: "Bashir Ahmed", Signed: true}, {Name: "Ali Khan", Signed: true}},
		PPE:       ppe,
		PhotoRefs: []string{"photo://site-1"},
		GPSLat:    &lat,
		GPSLng:    &lng,
	}
}

func fullEvidence() *domain.Evidence {
	items := map[string]bool{}
	for _, it := range workflow.CompletionItems {
		items[it] = true
	}
	lat, lng := 31.52, 74.35
	return &domain.Evidence{
		Items:     items,
		PhotoRefs: []string{"photo://done-1"},
		GPSLat:    &lat,
		GPSLng:    &lng,
	}
}

func mustTransition(t *testing.T, env testEnv, id, actorID string, role workflow.Role, action workflow.Action, pl workflow.Payload) domain.Permit {
	t.Helper()
	p, err := env.Engine.Transition(env.Ctx, id, actorID, role, action, pl, 0)
	if err != nil {
		t.Fatalf("%s as %s: %v", action, role, err)
	}
	return p
}

func TestPermitFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePermit(env.Ctx, draftOptions("Replace cross-arm"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.State != string(workflow.StateDraft) || p.Version != 1 {
		t.Fatalf("unexpected draft: state=%s version=%d", p.State, p.Version)
	}
	if p.RiskScore != 12 || p.RiskBand != "Medium" {
		t.Fatalf("risk: score=%d band=%s", p.RiskScore, p.RiskBand)
	}

	p = mustTransition(t, env, p.ID, "ls-1", workflow.RoleLS, workflow.ActionSubmit, workflow.Payload{})
	p = mustTransition(t, env, p.ID, "sdo-1", workflow.RoleSDO, workflow.ActionForward, workflow.Payload{})
	p = mustTransition(t, env, p.ID, "sdo-1", workflow.RoleSDO, workflow.ActionForward, workflow.Payload{})
	p = mustTransition(t, env, p.ID, "xen-1", workflow.RoleXEN, workflow.ActionApprove, workflow.Payload{})
	p = mustTransition(t, env, p.ID, "pdc-1", workflow.RolePDC, workflow.ActionIssue, workflow.Payload{Issuance: fullIssuance()})
	p = mustTransition(t, env, p.ID, "grid-1", workflow.RoleGrid, workflow.ActionActivate, workflow.Payload{Safety: fullSafety()})
	p = mustTransition(t, env, p.ID, "crew-1", workflow.RoleCrew, workflow.ActionStart, workflow.Payload{PreStart: fullPreStart()})
	if p.State != string(workflow.StateInProgress) || p.WorkStatus != workflow.WorkActive {
		t.Fatalf("expected active work, got state=%s status=%s", p.State, p.WorkStatus)
	}
	p = mustTransition(t, env, p.ID, "crew-1", workflow.RoleCrew, workflow.ActionComplete, workflow.Payload{Evidence: fullEvidence()})
	p = mustTransition(t, env, p.ID, "sup-1", workflow.RoleSupervisor, workflow.ActionFinalize, workflow.Payload{})
	if p.State != string(workflow.StateClosed) {
		t.Fatalf("expected closed, got %s", p.State)
	}
	if p.ClosedAt == nil {
		t.Fatalf("expected closed_at set")
	}
	if p.IssuanceJSON == nil || p.SafetyJSON == nil || p.PreStartJSON == nil || p.EvidenceJSON == nil {
		t.Fatalf("expected all payload blocks persisted")
	}

	history, err := env.Engine.Repo.ListHistory(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 9 {
		t.Fatalf("expected 9 history entries, got %d", len(history))
	}
	if history[0].Action != "submit" || history[len(history)-1].Action != "finalize" {
		t.Fatalf("unexpected history order: first=%s last=%s", history[0].Action, history[len(history)-1].Action)
	}
}

func TestTransitionDeniedForWrongRole(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePermit(env.Ctx, draftOptions("Denied"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Transition(env.Ctx, p.ID, "crew-1", workflow.RoleCrew, workflow.ActionSubmit, workflow.Payload{}, 0)
	var notAllowed workflow.NotAllowedError
	if !errors.As(err, &notAllowed) {
		t.Fatalf("expected NotAllowedError, got %v", err)
	}
	got, err := env.Engine.Repo.GetPermit(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != string(workflow.StateDraft) || got.Version != 1 {
		t.Fatalf("denied transition mutated permit: state=%s version=%d", got.State, got.Version)
	}
}

func TestStaleVersionRejected(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePermit(env.Ctx, draftOptions("Stale"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Transition(env.Ctx, p.ID, "ls-1", workflow.RoleLS, workflow.ActionSubmit, workflow.Payload{}, p.Version); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// second writer still holding version 1
	_, err = env.Engine.Transition(env.Ctx, p.ID, "sdo-1", workflow.RoleSDO, workflow.ActionForward, workflow.Payload{}, p.Version)
	var stale workflow.StaleStateError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleStateError, got %v", err)
	}
	if stale.ExpectedVersion != 1 || stale.ActualVersion != 2 {
		t.Fatalf("unexpected versions: %+v", stale)
	}
}

func TestCrewConflictAcrossPermits(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.CreatePermit(env.Ctx, draftOptions("First job"))
	if err != nil {
		t.Fatal(err)
	}
	mustTransition(t, env, first.ID, "ls-1", workflow.RoleLS, workflow.ActionSubmit, workflow.Payload{})

	second, err := env.Engine.CreatePermit(env.Ctx, draftOptions("Second job"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Transition(env.Ctx, second.ID, "ls-1", workflow.RoleLS, workflow.ActionSubmit, workflow.Payload{}, 0)
	var conflict workflow.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.PermitID != first.ID {
		t.Fatalf("conflict names wrong permit: %s", conflict.PermitID)
	}

	// disjoint window clears the conflict
	opts := draftOptions("Third job")
	opts.WindowStart = "2025-09-26T08:00:00Z"
	opts.WindowEnd = "2025-09-26T16:00:00Z"
	third, err := env.Engine.CreatePermit(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Transition(env.Ctx, third.ID, "ls-1", workflow.RoleLS, workflow.ActionSubmit, workflow.Payload{}, 0); err != nil {
		t.Fatalf("disjoint window should submit: %v", err)
	}
}

func TestUpdateDraftRederivesRisk(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePermit(env.Ctx, draftOptions("Risk edit"))
	if err != nil {
		t.Fatal(err)
	}
	likelihood, severity := 5, 5
	p, err = env.Engine.UpdateDraft(env.Ctx, p.ID, engine.DraftPatch{Likelihood: &likelihood, Severity: &severity}, p.Version, "ls-1")
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if p.RiskScore != 25 || p.RiskBand != "High" {
		t.Fatalf("risk not re-derived: score=%d band=%s", p.RiskScore, p.RiskBand)
	}
	if p.Version != 2 {
		t.Fatalf("expected version bump, got %d", p.Version)
	}

	// leaving draft locks the descriptive fields
	mustTransition(t, env, p.ID, "ls-1", workflow.RoleLS, workflow.ActionSubmit, workflow.Payload{})
	title := "too late"
	_, err = env.Engine.UpdateDraft(env.Ctx, p.ID, engine.DraftPatch{Title: &title}, 0, "ls-1")
	var notAllowed workflow.NotAllowedError
	if !errors.As(err, &notAllowed) {
		t.Fatalf("expected NotAllowedError after submit, got %v", err)
	}
}

func TestHoldAndResumeReturnsToOrigin(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePermit(env.Ctx, draftOptions("Held"))
	if err != nil {
		t.Fatal(err)
	}
	mustTransition(t, env, p.ID, "ls-1", workflow.RoleLS, workflow.ActionSubmit, workflow.Payload{})
	p = mustTransition(t, env, p.ID, "sdo-1", workflow.RoleSDO, workflow.ActionForward, workflow.Payload{})
	p = mustTransition(t, env, p.ID, "sdo-1", workflow.RoleSDO, workflow.ActionHold, workflow.Payload{Notes: "storm warning"})
	if p.State != string(workflow.StateOnHold) || p.HeldFrom != string(workflow.StateSdoReview) {
		t.Fatalf("hold bookkeeping wrong: state=%s held_from=%s", p.State, p.HeldFrom)
	}
	p = mustTransition(t, env, p.ID, "sdo-1", workflow.RoleSDO, workflow.ActionResume, workflow.Payload{})
	if p.State != string(workflow.StateSdoReview) || p.HeldFrom != "" {
		t.Fatalf("resume should return to origin: state=%s held_from=%s", p.State, p.HeldFrom)
	}
}

func TestProgressRequiresInProgress(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePermit(env.Ctx, draftOptions("Progress"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AddProgress(env.Ctx, p.ID, "crew-1", "started digging", nil)
	var verr workflow.ValidationErrors
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error on draft, got %v", err)
	}

	mustTransition(t, env, p.ID, "ls-1", workflow.RoleLS, workflow.ActionSubmit, workflow.Payload{})
	mustTransition(t, env, p.ID, "sdo-1", workflow.RoleSDO, workflow.ActionForward, workflow.Payload{})
	mustTransition(t, env, p.ID, "sdo-1", workflow.RoleSDO, workflow.ActionForward, workflow.Payload{})
	mustTransition(t, env, p.ID, "xen-1", workflow.RoleXEN, workflow.ActionApprove, workflow.Payload{})
	mustTransition(t, env, p.ID, "pdc-1", workflow.RolePDC, workflow.ActionIssue, workflow.Payload{Issuance: fullIssuance()})
	mustTransition(t, env, p.ID, "grid-1", workflow.RoleGrid, workflow.ActionActivate, workflow.Payload{Safety: fullSafety()})
	mustTransition(t, env, p.ID, "crew-1", workflow.RoleCrew, workflow.ActionStart, workflow.Payload{PreStart: fullPreStart()})

	u, err := env.Engine.AddProgress(env.Ctx, p.ID, "crew-1", "cross-arm off", []string{"photo://mid-1"})
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if u.Notes != "cross-arm off" {
		t.Fatalf("unexpected update: %+v", u)
	}
	items, err := env.Engine.Repo.ListProgress(env.Ctx, p.ID)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one progress row: %v (%d)", err, len(items))
	}
}

func TestEventsAppendedOnTransitions(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePermit(env.Ctx, draftOptions("Evented"))
	if err != nil {
		t.Fatal(err)
	}
	mustTransition(t, env, p.ID, "ls-1", workflow.RoleLS, workflow.ActionSubmit, workflow.Payload{})
	mustTransition(t, env, p.ID, "sdo-1", workflow.RoleSDO, workflow.ActionForward, workflow.Payload{})

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "", "permit", p.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	// created + submit + forward
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != "permit.forward" {
		t.Fatalf("expected newest first, got %s", events[0].Type)
	}
}

func TestDashboardCounts(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreatePermit(env.Ctx, draftOptions("Dash A"))
	if err != nil {
		t.Fatal(err)
	}
	opts := draftOptions("Dash B")
	opts.Likelihood, opts.Severity = 1, 2
	opts.CrewMembers = []string{"Noor Din"}
	opts.CrewLead = "Tariq Mehmood"
	if _, err := env.Engine.CreatePermit(env.Ctx, opts); err != nil {
		t.Fatal(err)
	}
	mustTransition(t, env, a.ID, "ls-1", workflow.RoleLS, workflow.ActionSubmit, workflow.Payload{})

	d, err := env.Engine.Dashboard(env.Ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.ByState["draft"] != 1 || d.ByState["submitted"] != 1 {
		t.Fatalf("state counts: %+v", d.ByState)
	}
	if d.ByRiskBand["Medium"] != 1 || d.ByRiskBand["Low"] != 1 {
		t.Fatalf("band counts: %+v", d.ByRiskBand)
	}
	if d.ByRegion["north"] != 2 {
		t.Fatalf("region counts: %+v", d.ByRegion)
	}
}

func TestAccountAndAPIKey(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAccount(env.Ctx, "sdo-7", "Area SDO", workflow.RoleSDO, "0300-0000000", "north")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !a.Active {
		t.Fatalf("new account should be active")
	}
	_, err = env.Engine.CreateAccount(env.Ctx, "", "Nobody", workflow.Role("janitor"), "", "")
	if err == nil {
		t.Fatalf("expected unknown role rejection")
	}

	key, plaintext, err := env.Engine.IssueAPIKey(env.Ctx, a.ID, "field-app")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	if plaintext == "" || key.KeyHash == plaintext {
		t.Fatalf("plaintext must be returned unhashed exactly once")
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if stored.AccountID != a.ID {
		t.Fatalf("key bound to wrong account: %s", stored.AccountID)
	}
}

func TestOrgHierarchyParentRules(t *testing.T) {
	env := newTestEnv(t)
	region, err := env.Engine.CreateOrgUnit(env.Ctx, "region", "North", "", "N")
	if err != nil {
		t.Fatalf("region: %v", err)
	}
	circle, err := env.Engine.CreateOrgUnit(env.Ctx, "circle", "City Circle", region.ID, "NC")
	if err != nil {
		t.Fatalf("circle: %v", err)
	}
	// a division must hang off a circle, not a region
	if _, err := env.Engine.CreateOrgUnit(env.Ctx, "division", "Bad Division", region.ID, ""); err == nil {
		t.Fatalf("expected parent kind rejection")
	}
	if _, err := env.Engine.CreateOrgUnit(env.Ctx, "division", "Good Division", circle.ID, "NCD"); err != nil {
		t.Fatalf("division: %v", err)
	}
}
