package workflow

import "gridpermit/internal/domain"

// State is a permit lifecycle state. The string values are what the store
// persists and the API exposes.
type State string

const (
	StateDraft            State = "draft"
	StateSubmitted        State = "submitted"
	StateSdoReview        State = "sdo_review"
	StateXenReview        State = "xen_review"
	StatePdcIssuance      State = "pdc_issuance"
	StateGridPreExecution State = "grid_pre_execution"
	StatePreStart         State = "pre_start"
	StateInProgress       State = "in_progress"
	StateCompletion       State = "completion"
	StateClosed           State = "closed"
	StateOnHold           State = "on_hold"
	StateCancelled        State = "cancelled"
)

// Role is an actor role in the approval chain.
type Role string

const (
	RoleLS         Role = "ls"
	RoleSDO        Role = "sdo"
	RoleXEN        Role = "xen"
	RolePDC        Role = "pdc"
	RoleGrid       Role = "grid"
	RoleCrew       Role = "crew"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Action is a workflow verb.
type Action string

const (
	ActionSubmit         Action = "submit"
	ActionForward        Action = "forward"
	ActionHold           Action = "hold"
	ActionCancel         Action = "cancel"
	ActionRequestChanges Action = "request_changes"
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionIssue          Action = "issue"
	ActionReturn         Action = "return"
	ActionActivate       Action = "activate"
	ActionRequestFixes   Action = "request_fixes"
	ActionStart          Action = "start"
	ActionPause          Action = "pause"
	ActionResume         Action = "resume"
	ActionSuspend        Action = "suspend"
	ActionComplete       Action = "complete"
	ActionFinalize       Action = "finalize"
)

// Work sub-status values inside StateInProgress.
const (
	WorkActive    = "active"
	WorkPaused    = "paused"
	WorkSuspended = "suspended"
)

// Payload carries the transition-specific inputs. Only the block the action's
// contract names is consulted; the rest are ignored.
type Payload struct {
	Notes    string
	Issuance *domain.Issuance
	Safety   *domain.SafetyChecklist
	PreStart *domain.PreStart
	Evidence *domain.Evidence
}

// SafetyItems are the six pre-execution checks the Grid In-charge signs off.
var SafetyItems = []string{
	"line_isolated",
	"earthing_applied",
	"danger_boards_placed",
	"barricading_done",
	"adjacent_lines_identified",
	"spt_briefing_held",
}

// CompletionItems are the five checks required before closing out work.
var CompletionItems = []string{
	"earths_removed",
	"tools_accounted",
	"site_cleared",
	"crew_withdrawn",
	"supervisor_informed",
}

// PPEItems is the kit that must be confirmed at pre-start.
var PPEItems = []string{
	"helmet",
	"gloves",
	"safety_belt",
	"discharge_rod",
	"earth_chain",
}

// activeish are the states that make a permit count for crew-conflict checks.
var activeish = map[State]bool{
	StateSubmitted:        true,
	StateSdoReview:        true,
	StateXenReview:        true,
	StatePdcIssuance:      true,
	StateGridPreExecution: true,
	StatePreStart:         true,
	StateInProgress:       true,
}

// ActiveStates returns the states considered by conflict checks, for
// callers that pre-filter permits before calling CheckCrewConflict.
func ActiveStates() []State {
	out := make([]State, 0, len(activeish))
	for s := range activeish {
		out = append(out, s)
	}
	return out
}

// Terminal reports whether s ends a permit's life. The record itself is
// never deleted.
func Terminal(s State) bool {
	return s == StateClosed || s == StateCancelled
}
