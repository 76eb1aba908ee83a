package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gridpermit/internal/config"
	"gridpermit/internal/db"
	"gridpermit/internal/engine"
	"gridpermit/internal/migrate"
	"gridpermit/internal/workflow"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-utility")
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine: e,
		Auth:   AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func signToken(t *testing.T, accountID, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  accountID,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
		"iat":  time.Now().Unix(),
	})
	signed, err := tok.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHeader(t *testing.T, accountID, role string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + signToken(t, accountID, role)}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func createDraft(t *testing.T, srv *testServer) PermitResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/permits", map[string]any{
		"title":        "Replace cross-arm on pole 41",
		"category":     "maintenance",
		"likelihood":   3,
		"severity":     4,
		"region":       "north",
		"asset_type":   "feeder",
		"asset_id":     "FD-9",
		"crew_lead":    "Bashir Ahmed",
		"crew_members": []string{"Ali Khan"},
		"window_start": "2025-09-24T08:00:00Z",
		"window_end":   "2025-09-24T16:00:00Z",
	}, authHeader(t, "ls-1", "ls"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create permit: %d %s", res.StatusCode, string(data))
	}
	var created PermitResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal permit: %v", err)
	}
	return created
}

func transition(t *testing.T, srv *testServer, id string, body map[string]any, actorID, role string) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/permits/"+id+"/transition", body, authHeader(t, actorID, role))
}

func TestPermitApprovalChainOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createDraft(t, srv)
	if created.State != "draft" {
		t.Fatalf("expected draft, got %s", created.State)
	}
	if len(created.PermittedActions) != 1 || created.PermittedActions[0] != "submit" {
		t.Fatalf("creator should see submit only, got %v", created.PermittedActions)
	}

	steps := []struct {
		actorID string
		role    string
		body    map[string]any
		state   string
	}{
		{"ls-1", "ls", map[string]any{"action": "submit"}, "submitted"},
		{"sdo-1", "sdo", map[string]any{"action": "forward"}, "sdo_review"},
		{"sdo-1", "sdo", map[string]any{"action": "forward"}, "xen_review"},
		{"xen-1", "xen", map[string]any{"action": "approve"}, "pdc_issuance"},
		{"pdc-1", "pdc", map[string]any{
			"action": "issue",
			"issuance": map[string]any{
				"dispatcher":       "pdc-op-7",
				"valid_from":       "2025-09-24T07:00:00Z",
				"valid_to":         "2025-09-24T17:00:00Z",
				"isolation_points": []string{"CB-11"},
				"earthing_points":  []string{"E-204"},
			},
		}, "grid_pre_execution"},
	}
	for _, step := range steps {
		res, data := transition(t, srv, created.ID, step.body, step.actorID, step.role)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s by %s: %d %s", step.body["action"], step.role, res.StatusCode, string(data))
		}
		var p PermitResponse
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if p.State != step.state {
			t.Fatalf("after %s expected %s, got %s", step.body["action"], step.state, p.State)
		}
	}

	histRes, histData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/permits/"+created.ID+"/history", nil, authHeader(t, "xen-1", "xen"))
	if histRes.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", histRes.StatusCode, string(histData))
	}
	var history []map[string]any
	_ = json.Unmarshal(histData, &history)
	if len(history) != 5 {
		t.Fatalf("expected 5 history entries, got %d", len(history))
	}
}

func TestWrongRoleForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createDraft(t, srv)

	res, data := transition(t, srv, created.ID, map[string]any{"action": "submit"}, "crew-1", "crew")
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "action_not_allowed" {
		t.Fatalf("expected action_not_allowed, got %s", code)
	}
}

func TestUnmetContractIs422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createDraft(t, srv)
	transition(t, srv, created.ID, map[string]any{"action": "submit"}, "ls-1", "ls")
	transition(t, srv, created.ID, map[string]any{"action": "forward"}, "sdo-1", "sdo")
	transition(t, srv, created.ID, map[string]any{"action": "forward"}, "sdo-1", "sdo")
	transition(t, srv, created.ID, map[string]any{"action": "approve"}, "xen-1", "xen")

	// issue without the issuance block
	res, data := transition(t, srv, created.ID, map[string]any{"action": "issue"}, "pdc-1", "pdc")
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "contract_unmet" {
		t.Fatalf("expected contract_unmet, got %s", code)
	}
}

func TestRejectRequiresNotesOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createDraft(t, srv)
	transition(t, srv, created.ID, map[string]any{"action": "submit"}, "ls-1", "ls")
	transition(t, srv, created.ID, map[string]any{"action": "forward"}, "sdo-1", "sdo")
	transition(t, srv, created.ID, map[string]any{"action": "forward"}, "sdo-1", "sdo")

	res, data := transition(t, srv, created.ID, map[string]any{"action": "reject"}, "xen-1", "xen")
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	res, data = transition(t, srv, created.ID, map[string]any{"action": "reject", "notes": "crew list incomplete"}, "xen-1", "xen")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject with notes: %d %s", res.StatusCode, string(data))
	}
	var p PermitResponse
	_ = json.Unmarshal(data, &p)
	if p.State != "sdo_review" {
		t.Fatalf("reject should land in sdo_review, got %s", p.State)
	}
}

func TestStaleVersionIs409(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createDraft(t, srv)
	res, data := transition(t, srv, created.ID, map[string]any{"action": "submit", "version": created.Version}, "ls-1", "ls")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	res, data = transition(t, srv, created.ID, map[string]any{"action": "forward", "version": created.Version}, "sdo-1", "sdo")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "stale_version" {
		t.Fatalf("expected stale_version, got %s", code)
	}
}

func TestCrewConflictIs409(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	first := createDraft(t, srv)
	transition(t, srv, first.ID, map[string]any{"action": "submit"}, "ls-1", "ls")

	second := createDraft(t, srv)
	res, data := transition(t, srv, second.ID, map[string]any{"action": "submit"}, "ls-1", "ls")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "crew_conflict" {
		t.Fatalf("expected crew_conflict, got %s", code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/permits", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}

	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be unauthenticated, got %d", res.StatusCode)
	}

	// legacy actor headers still work when the server opts in
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"X-Actor-Id":   "legacy-1",
		"X-Actor-Role": "sdo",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("legacy header auth: %d %s", res.StatusCode, string(data))
	}
	var me map[string]string
	_ = json.Unmarshal(data, &me)
	if me["account_id"] != "legacy-1" || me["source"] != "legacy_header" {
		t.Fatalf("unexpected principal: %v", me)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	account, err := srv.Engine.CreateAccount(ctx, "sdo-7", "Area SDO", workflow.RoleSDO, "", "north")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	_, plaintext, err := srv.Engine.IssueAPIKey(ctx, account.ID, "field-app")
	if err != nil {
		t.Fatalf("key: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": plaintext})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth: %d %s", res.StatusCode, string(data))
	}
	var me map[string]string
	_ = json.Unmarshal(data, &me)
	if me["account_id"] != "sdo-7" || me["role"] != "sdo" || me["source"] != "api_key" {
		t.Fatalf("unexpected principal: %v", me)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "ptw_not-a-key"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key should 401, got %d %s", res.StatusCode, string(data))
	}

	// non-admins cannot act as another role
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"X-Api-Key":     plaintext,
		"X-Acting-Role": "xen",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("role escalation should 401, got %d %s", res.StatusCode, string(data))
	}

	admin, err := srv.Engine.CreateAccount(ctx, "admin-1", "Portal Admin", workflow.RoleAdmin, "", "")
	if err != nil {
		t.Fatalf("admin account: %v", err)
	}
	_, adminKey, err := srv.Engine.IssueAPIKey(ctx, admin.ID, "ops")
	if err != nil {
		t.Fatalf("admin key: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"X-Api-Key":     adminKey,
		"X-Acting-Role": "xen",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin acting role: %d %s", res.StatusCode, string(data))
	}
	var acting map[string]string
	_ = json.Unmarshal(data, &acting)
	if acting["role"] != "xen" {
		t.Fatalf("expected acting role xen, got %v", acting)
	}

	// deactivating the account disables its keys
	inactive := false
	if _, err := srv.Engine.UpdateAccount(ctx, account.ID, nil, nil, &inactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": plaintext})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("inactive account key should 401, got %d %s", res.StatusCode, string(data))
	}
}

func TestAdminGateOnAccounts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	body := map[string]any{"name": "New SDO", "role": "sdo"}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/accounts", body, authHeader(t, "sdo-1", "sdo"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin should 403, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/accounts", body, authHeader(t, "admin-1", "admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("admin create account: %d %s", res.StatusCode, string(data))
	}
}

func TestMetaChecklists(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/meta", nil, authHeader(t, "ls-1", "ls"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("meta: %d %s", res.StatusCode, string(data))
	}
	var meta struct {
		Checklists struct {
			Safety     map[string]any `json:"safety"`
			Completion map[string]any `json:"completion"`
			PPE        map[string]any `json:"ppe"`
		} `json:"checklists"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("unmarshal meta: %v (%s)", err, string(data))
	}
	if len(meta.Checklists.Safety) != len(workflow.SafetyItems) {
		t.Fatalf("safety catalog size %d, want %d", len(meta.Checklists.Safety), len(workflow.SafetyItems))
	}
	if len(meta.Checklists.Completion) != len(workflow.CompletionItems) {
		t.Fatalf("completion catalog size %d, want %d", len(meta.Checklists.Completion), len(workflow.CompletionItems))
	}
	if len(meta.Checklists.PPE) != len(workflow.PPEItems) {
		t.Fatalf("ppe catalog size %d, want %d", len(meta.Checklists.PPE), len(workflow.PPEItems))
	}
}
