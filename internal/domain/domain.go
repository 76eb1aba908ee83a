package domain

// Permit is the central Permit To Work record. State changes only through
// the workflow engine; Version backs the optimistic write check in the store.
type Permit struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Category     string   `json:"category,omitempty" enum:"maintenance,construction,emergency,testing"`
	Description  string   `json:"description,omitempty"`
	State        string   `json:"state" enum:"draft,submitted,sdo_review,xen_review,pdc_issuance,grid_pre_execution,pre_start,in_progress,completion,closed,on_hold,cancelled"`
	WorkStatus   string   `json:"work_status,omitempty" enum:"active,paused,suspended"`
	HeldFrom     string   `json:"held_from,omitempty"`
	Likelihood   int      `json:"likelihood,omitempty"`
	Severity     int      `json:"severity,omitempty"`
	RiskScore    int      `json:"risk_score,omitempty"`
	RiskBand     string   `json:"risk_band,omitempty" enum:"Low,Medium,High"`
	Region       string   `json:"region,omitempty"`
	Circle       string   `json:"circle,omitempty"`
	Division     string   `json:"division,omitempty"`
	SubDivision  string   `json:"sub_division,omitempty"`
	Feeder       string   `json:"feeder,omitempty"`
	AssetType    string   `json:"asset_type,omitempty"`
	AssetID      string   `json:"asset_id,omitempty"`
	CrewLead     string   `json:"crew_lead,omitempty"`
	CrewMembers  []string `json:"crew_members,omitempty"`
	WindowStart  string   `json:"window_start,omitempty" format:"date-time"`
	WindowEnd    string   `json:"window_end,omitempty" format:"date-time"`
	IssuanceJSON *string  `json:"issuance_json,omitempty"`
	SafetyJSON   *string  `json:"safety_json,omitempty"`
	PreStartJSON *string  `json:"pre_start_json,omitempty"`
	EvidenceJSON *string  `json:"evidence_json,omitempty"`
	CreatedBy    string   `json:"created_by"`
	Version      int64    `json:"version"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
	ClosedAt     *string  `json:"closed_at,omitempty" format:"date-time"`
}

// HistoryEntry is one row of a permit's append-only audit trail.
type HistoryEntry struct {
	ID        int64  `json:"id"`
	PermitID  string `json:"permit_id"`
	TS        string `json:"ts" format:"date-time"`
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	Action    string `json:"action"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Notes     string `json:"notes,omitempty"`
}

// Issuance is the PDC dispatch block attached on issue.
type Issuance struct {
	Dispatcher      string   `json:"dispatcher"`
	ValidFrom       string   `json:"valid_from" format:"date-time"`
	ValidTo         string   `json:"valid_to" format:"date-time"`
	IsolationPoints []string `json:"isolation_points"`
	EarthingPoints  []string `json:"earthing_points"`
	ImpactNotes     string   `json:"impact_notes,omitempty"`
}

// SafetyChecklist is the Grid In-charge pre-execution check block.
type SafetyChecklist struct {
	Items        map[string]bool `json:"items"`
	SpecialNotes string          `json:"special_notes,omitempty"`
	CheckedBy    string          `json:"checked_by,omitempty"`
	CheckedAt    string          `json:"checked_at,omitempty" format:"date-time"`
}

// PreStart captures the toolbox-talk block recorded before work begins.
type PreStart struct {
	Roster     []CrewSignature `json:"roster"`
	PPE        map[string]bool `json:"ppe"`
	PhotoRefs  []string        `json:"photo_refs"`
	GPSLat     *float64        `json:"gps_lat,omitempty"`
	GPSLng     *float64        `json:"gps_lng,omitempty"`
	SPTNotes   string          `json:"spt_notes,omitempty"`
	RecordedAt string          `json:"recorded_at,omitempty" format:"date-time"`
}

type CrewSignature struct {
	Name   string `json:"name"`
	Signed bool   `json:"signed"`
}

// Evidence is the completion proof block.
type Evidence struct {
	Items      map[string]bool `json:"items"`
	PhotoRefs  []string        `json:"photo_refs"`
	GPSLat     *float64        `json:"gps_lat,omitempty"`
	GPSLng     *float64        `json:"gps_lng,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	RecordedAt string          `json:"recorded_at,omitempty" format:"date-time"`
}

// ProgressUpdate is a work-in-progress note appended while a permit is active.
type ProgressUpdate struct {
	ID        int64    `json:"id"`
	PermitID  string   `json:"permit_id"`
	TS        string   `json:"ts" format:"date-time"`
	ActorID   string   `json:"actor_id"`
	Notes     string   `json:"notes"`
	PhotoRefs []string `json:"photo_refs,omitempty"`
}

// OrgUnit is one node of the utility hierarchy:
// region > circle > division > sub_division > feeder > transformer.
type OrgUnit struct {
	ID        string `json:"id"`
	Kind      string `json:"kind" enum:"region,circle,division,sub_division,feeder,transformer"`
	Name      string `json:"name"`
	ParentID  string `json:"parent_id,omitempty"`
	Code      string `json:"code,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Account is a portal user.
type Account struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role" enum:"ls,sdo,xen,pdc,grid,crew,supervisor,admin"`
	Phone     string `json:"phone,omitempty"`
	Region    string `json:"region,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
