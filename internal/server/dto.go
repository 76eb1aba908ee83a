package server

import (
	"gridpermit/internal/domain"
)

type CreatePermitRequest struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Category    string   `json:"category,omitempty" enum:"maintenance,construction,emergency,testing"`
	Description string   `json:"description,omitempty"`
	Likelihood  int      `json:"likelihood,omitempty" minimum:"1" maximum:"5"`
	Severity    int      `json:"severity,omitempty" minimum:"1" maximum:"5"`
	Region      string   `json:"region,omitempty"`
	Circle      string   `json:"circle,omitempty"`
	Division    string   `json:"division,omitempty"`
	SubDivision string   `json:"sub_division,omitempty"`
	Feeder      string   `json:"feeder,omitempty"`
	AssetType   string   `json:"asset_type,omitempty"`
	AssetID     string   `json:"asset_id,omitempty"`
	CrewLead    string   `json:"crew_lead,omitempty"`
	CrewMembers []string `json:"crew_members,omitempty"`
	WindowStart string   `json:"window_start,omitempty" format:"date-time"`
	WindowEnd   string   `json:"window_end,omitempty" format:"date-time"`
}

type UpdateDraftRequest struct {
	Title       *string  `json:"title,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Description *string  `json:"description,omitempty"`
	Likelihood  *int     `json:"likelihood,omitempty" minimum:"1" maximum:"5"`
	Severity    *int     `json:"severity,omitempty" minimum:"1" maximum:"5"`
	Region      *string  `json:"region,omitempty"`
	Circle      *string  `json:"circle,omitempty"`
	Division    *string  `json:"division,omitempty"`
	SubDivision *string  `json:"sub_division,omitempty"`
	Feeder      *string  `json:"feeder,omitempty"`
	AssetType   *string  `json:"asset_type,omitempty"`
	AssetID     *string  `json:"asset_id,omitempty"`
	CrewLead    *string  `json:"crew_lead,omitempty"`
	CrewMembers []string `json:"crew_members,omitempty"`
	WindowStart *string  `json:"window_start,omitempty" format:"date-time"`
	WindowEnd   *string  `json:"window_end,omitempty" format:"date-time"`
	Version     int64    `json:"version,omitempty"`
}

// TransitionRequest carries one workflow action and its payload blocks.
type TransitionRequest struct {
	Action   string                  `json:"action"`
	Notes    string                  `json:"notes,omitempty"`
	Version  int64                   `json:"version,omitempty"`
	Issuance *domain.Issuance        `json:"issuance,omitempty"`
	Safety   *domain.SafetyChecklist `json:"safety_checklist,omitempty"`
	PreStart *domain.PreStart        `json:"pre_start,omitempty"`
	Evidence *domain.Evidence        `json:"evidence,omitempty"`
}

type ProgressRequest struct {
	Notes     string   `json:"notes"`
	PhotoRefs []string `json:"photo_refs,omitempty"`
}

type CreateOrgUnitRequest struct {
	Kind     string `json:"kind" enum:"region,circle,division,sub_division,feeder,transformer"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	Code     string `json:"code,omitempty"`
}

type CreateAccountRequest struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Role   string `json:"role" enum:"ls,sdo,xen,pdc,grid,crew,supervisor,admin"`
	Phone  string `json:"phone,omitempty"`
	Region string `json:"region,omitempty"`
}

type UpdateAccountRequest struct {
	Role   *string `json:"role,omitempty" enum:"ls,sdo,xen,pdc,grid,crew,supervisor,admin"`
	Region *string `json:"region,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

type CreateAPIKeyRequest struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	Key       string `json:"key,omitempty"`
}

// PermitResponse is the wire form of a permit. The JSON evidence blocks are
// expanded back into structures for clients.
type PermitResponse struct {
	domain.Permit
	PermittedActions []string `json:"permitted_actions,omitempty"`
}

func permitResponse(p domain.Permit, actions []string) PermitResponse {
	return PermitResponse{Permit: p, PermittedActions: actions}
}
