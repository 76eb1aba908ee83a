package workflow

// grants is the full authorization policy: one row per state, cell = the
// actions a role may take there. Anything absent is denied. Changing who can
// do what is a data change here, never a code branch elsewhere.
var grants = map[State]map[Role][]Action{
	StateDraft: {
		RoleLS: {ActionSubmit},
	},
	StateSubmitted: {
		RoleSDO: {ActionForward, ActionHold, ActionCancel, ActionRequestChanges},
	},
	StateSdoReview: {
		RoleSDO: {ActionForward, ActionHold, ActionCancel, ActionRequestChanges},
	},
	StateXenReview: {
		RoleXEN: {ActionApprove, ActionReject, ActionRequestChanges},
	},
	StatePdcIssuance: {
		RolePDC: {ActionIssue, ActionReturn},
	},
	StateGridPreExecution: {
		RoleGrid: {ActionActivate, ActionRequestFixes},
	},
	StatePreStart: {
		RoleLS:   {ActionStart},
		RoleCrew: {ActionStart},
	},
	StateInProgress: {
		RoleGrid: {ActionPause, ActionResume, ActionSuspend},
		RoleCrew: {ActionPause, ActionResume, ActionSuspend, ActionComplete},
	},
	StateCompletion: {
		RoleSupervisor: {ActionFinalize},
	},
	StateOnHold: {
		RoleSDO: {ActionResume, ActionCancel},
	},
}

// Allowed reports whether the role gate grants the action in the state.
// Unknown states and roles deny.
func Allowed(s State, r Role, a Action) bool {
	for _, granted := range grants[s][r] {
		if granted == a {
			return true
		}
	}
	return false
}

// PermittedActions returns the actions a role may take in a state, in table
// order. Callers use it to render only the buttons that can succeed.
func PermittedActions(s State, r Role) []Action {
	src := grants[s][r]
	if len(src) == 0 {
		return nil
	}
	out := make([]Action, len(src))
	copy(out, src)
	return out
}
