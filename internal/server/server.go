package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"gridpermit/internal/domain"
	"gridpermit/internal/engine"
	"gridpermit/internal/engine/auth"
	"gridpermit/internal/repo"
	"gridpermit/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"action_not_allowed"`
	Message string         `json:"message" example:"role sdo may not approve in state xen_review"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the permit API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request errors are 400; 422 is reserved for
			// unmet workflow contracts.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, auth.Service{DB: cfg.Engine.DB}))
	hcfg := huma.DefaultConfig("GridPermit API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMeta(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)
	registerPermits(group, cfg.Engine)
	registerOrgUnits(group, cfg.Engine)
	registerAccounts(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the workflow's typed rejections onto the wire: denied
// actions are 403, unmet contracts 422 with the field list, crew conflicts
// and stale writes 409.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var na workflow.NotAllowedError
	if errors.As(err, &na) {
		return newAPIError(http.StatusForbidden, "action_not_allowed", err.Error(), map[string]any{
			"state": string(na.State), "role": string(na.Role), "action": string(na.Action),
		})
	}
	var ve workflow.ValidationErrors
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "contract_unmet", err.Error(), map[string]any{"fields": ve})
	}
	var ce workflow.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "crew_conflict", err.Error(), map[string]any{
			"permit_id": ce.PermitID, "member": ce.Member,
		})
	}
	var se workflow.StaleStateError
	if errors.As(err, &se) {
		return newAPIError(http.StatusConflict, "stale_version", err.Error(), map[string]any{
			"expected_version": se.ExpectedVersion, "actual_version": se.ActualVersion,
		})
	}
	var ia auth.InactiveAccountError
	if errors.As(err, &ia) {
		return newAPIError(http.StatusForbidden, "account_inactive", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrHasChildren) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "contract_unmet"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func requireAdmin(ctx context.Context) huma.StatusError {
	p, authErr := requirePrincipal(ctx)
	if authErr != nil {
		return authErr
	}
	if p.Role != string(workflow.RoleAdmin) {
		return newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>GridPermit API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMeta(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "meta",
		Method:      http.MethodGet,
		Path:        "/meta",
		Summary:     "Checklist catalogs and risk thresholds",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		body := map[string]any{
			"safety_items":     workflow.SafetyItems,
			"completion_items": workflow.CompletionItems,
			"ppe_items":        workflow.PPEItems,
		}
		if e.Config != nil {
			body["checklists"] = e.Config.Checklists
			body["risk"] = e.Config.Risk
			body["utility"] = e.Config.Utility
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Permit counts by state and risk band",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		d, err := e.Dashboard(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Dashboard `json:"body"`
		}{Body: d}, nil
	})
}

func registerPermits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-permit",
		Method:        http.MethodPost,
		Path:          "/permits",
		Summary:       "Draft a permit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePermitRequest `json:"body"`
	}) (*struct {
		Body PermitResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePermit(ctx, engine.PermitCreateOptions{
			ID:          input.Body.ID,
			Title:       input.Body.Title,
			Category:    input.Body.Category,
			Description: input.Body.Description,
			Likelihood:  input.Body.Likelihood,
			Severity:    input.Body.Severity,
			Region:      input.Body.Region,
			Circle:      input.Body.Circle,
			Division:    input.Body.Division,
			SubDivision: input.Body.SubDivision,
			Feeder:      input.Body.Feeder,
			AssetType:   input.Body.AssetType,
			AssetID:     input.Body.AssetID,
			CrewLead:    input.Body.CrewLead,
			CrewMembers: input.Body.CrewMembers,
			WindowStart: input.Body.WindowStart,
			WindowEnd:   input.Body.WindowEnd,
			ActorID:     principal.AccountID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PermitResponse `json:"body"`
		}{Body: permitResponse(p, permittedActions(p, principal))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-permits",
		Method:      http.MethodGet,
		Path:        "/permits",
		Summary:     "List permits",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State      string `query:"state"`
		Region     string `query:"region"`
		CrewMember string `query:"crew_member"`
		CreatedBy  string `query:"created_by"`
		Limit      int    `query:"limit"`
		CursorTS   string `query:"cursor_created_at"`
		CursorID   string `query:"cursor_id"`
	}) (*struct {
		Body []domain.Permit `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPermits(ctx, repo.PermitFilters{
			State:           input.State,
			Region:          input.Region,
			CrewMember:      input.CrewMember,
			CreatedBy:       input.CreatedBy,
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorTS,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Permit `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-permit",
		Method:      http.MethodGet,
		Path:        "/permits/{permit_id}",
		Summary:     "Get permit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PermitID string `path:"permit_id"`
	}) (*struct {
		Body PermitResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetPermit(ctx, input.PermitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PermitResponse `json:"body"`
		}{Body: permitResponse(p, permittedActions(p, principal))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-draft",
		Method:      http.MethodPatch,
		Path:        "/permits/{permit_id}",
		Summary:     "Edit a draft permit",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		PermitID string             `path:"permit_id"`
		Body     UpdateDraftRequest `json:"body"`
	}) (*struct {
		Body PermitResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateDraft(ctx, input.PermitID, engine.DraftPatch{
			Title:       input.Body.Title,
			Category:    input.Body.Category,
			Description: input.Body.Description,
			Likelihood:  input.Body.Likelihood,
			Severity:    input.Body.Severity,
			Region:      input.Body.Region,
			Circle:      input.Body.Circle,
			Division:    input.Body.Division,
			SubDivision: input.Body.SubDivision,
			Feeder:      input.Body.Feeder,
			AssetType:   input.Body.AssetType,
			AssetID:     input.Body.AssetID,
			CrewLead:    input.Body.CrewLead,
			CrewMembers: input.Body.CrewMembers,
			WindowStart: input.Body.WindowStart,
			WindowEnd:   input.Body.WindowEnd,
		}, input.Body.Version, principal.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PermitResponse `json:"body"`
		}{Body: permitResponse(p, permittedActions(p, principal))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-permit",
		Method:      http.MethodPost,
		Path:        "/permits/{permit_id}/transition",
		Summary:     "Apply a workflow action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		PermitID string            `path:"permit_id"`
		Body     TransitionRequest `json:"body"`
	}) (*struct {
		Body PermitResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Action == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action is required", nil)
		}
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Transition(ctx, input.PermitID, principal.AccountID,
			workflow.Role(principal.Role), workflow.Action(input.Body.Action),
			workflow.Payload{
				Notes:    input.Body.Notes,
				Issuance: input.Body.Issuance,
				Safety:   input.Body.Safety,
				PreStart: input.Body.PreStart,
				Evidence: input.Body.Evidence,
			}, input.Body.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PermitResponse `json:"body"`
		}{Body: permitResponse(p, permittedActions(p, principal))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "permit-history",
		Method:      http.MethodGet,
		Path:        "/permits/{permit_id}/history",
		Summary:     "Audit trail for a permit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PermitID string `path:"permit_id"`
	}) (*struct {
		Body []domain.HistoryEntry `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetPermit(ctx, input.PermitID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListHistory(ctx, input.PermitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.HistoryEntry `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-progress",
		Method:        http.MethodPost,
		Path:          "/permits/{permit_id}/progress",
		Summary:       "Append a progress update",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		PermitID string          `path:"permit_id"`
		Body     ProgressRequest `json:"body"`
	}) (*struct {
		Body domain.ProgressUpdate `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.AddProgress(ctx, input.PermitID, principal.AccountID, input.Body.Notes, input.Body.PhotoRefs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProgressUpdate `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-progress",
		Method:      http.MethodGet,
		Path:        "/permits/{permit_id}/progress",
		Summary:     "Progress updates for a permit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PermitID string `path:"permit_id"`
	}) (*struct {
		Body []domain.ProgressUpdate `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetPermit(ctx, input.PermitID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProgress(ctx, input.PermitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProgressUpdate `json:"body"`
		}{Body: items}, nil
	})
}

func permittedActions(p domain.Permit, principal Principal) []string {
	actions := workflow.PermittedActions(workflow.State(p.State), workflow.Role(principal.Role))
	if len(actions) == 0 {
		return nil
	}
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}

func registerOrgUnits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-org-unit",
		Method:        http.MethodPost,
		Path:          "/org-units",
		Summary:       "Create an org unit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOrgUnitRequest `json:"body"`
	}) (*struct {
		Body domain.OrgUnit `json:"body"`
	}, error) {
		if authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateOrgUnit(ctx, input.Body.Kind, input.Body.Name, input.Body.ParentID, input.Body.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OrgUnit `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-org-units",
		Method:      http.MethodGet,
		Path:        "/org-units",
		Summary:     "List org units",
	}, func(ctx context.Context, input *struct {
		Kind     string `query:"kind"`
		ParentID string `query:"parent_id"`
	}) (*struct {
		Body []domain.OrgUnit `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListOrgUnits(ctx, input.Kind, input.ParentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.OrgUnit `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-org-unit",
		Method:      http.MethodDelete,
		Path:        "/org-units/{unit_id}",
		Summary:     "Delete an org unit",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		UnitID string `path:"unit_id"`
	}) (*struct{}, error) {
		if authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteOrgUnit(ctx, input.UnitID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAccounts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-account",
		Method:        http.MethodPost,
		Path:          "/accounts",
		Summary:       "Register an account",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAccountRequest `json:"body"`
	}) (*struct {
		Body domain.Account `json:"body"`
	}, error) {
		if authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAccount(ctx, input.Body.ID, input.Body.Name, workflow.Role(input.Body.Role), input.Body.Phone, input.Body.Region)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Account `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-accounts",
		Method:      http.MethodGet,
		Path:        "/accounts",
		Summary:     "List accounts",
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct {
		Body []domain.Account `json:"body"`
	}, error) {
		if authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAccounts(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Account `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-account",
		Method:      http.MethodPatch,
		Path:        "/accounts/{account_id}",
		Summary:     "Update an account",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		AccountID string               `path:"account_id"`
		Body      UpdateAccountRequest `json:"body"`
	}) (*struct {
		Body domain.Account `json:"body"`
	}, error) {
		if authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAccount(ctx, input.AccountID, input.Body.Role, input.Body.Region, input.Body.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Account `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{
			"account_id": principal.AccountID,
			"role":       principal.Role,
			"source":     principal.Source,
		}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		key, plaintext, err := e.IssueAPIKey(ctx, input.Body.AccountID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			AccountID: key.AccountID,
			Name:      key.Name,
			CreatedAt: key.CreatedAt,
			Key:       plaintext,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		AccountID string `query:"account_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeyResponse{ID: k.ID, AccountID: k.AccountID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{key_id}",
		Summary:     "Revoke an API key",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest audit events",
	}, func(ctx context.Context, input *struct {
		Limit    int    `query:"limit"`
		Cursor   int64  `query:"cursor"`
		Type     string `query:"type"`
		PermitID string `query:"permit_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		entityKind := ""
		if input.PermitID != "" {
			entityKind = "permit"
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit, input.Cursor, input.Type, entityKind, input.PermitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
