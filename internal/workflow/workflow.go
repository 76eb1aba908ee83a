// Package workflow implements the Permit To Work lifecycle as a pure
// transition engine: given a permit, an actor role, an action and its
// payload, it either produces the next permit value plus one history entry,
// or a typed rejection. It performs no I/O and never partially applies.
package workflow

import (
	"encoding/json"
	"time"

	"gridpermit/internal/domain"
)

type transitionKey struct {
	From   State
	Action Action
}

type transition struct {
	To State
	// toFunc overrides To when the target depends on the permit (on-hold
	// resume returns to the state that produced the hold).
	toFunc   func(p domain.Permit) State
	validate func(p domain.Permit, pl Payload, active []domain.Permit) error
	mutate   func(p *domain.Permit, pl Payload, now time.Time)
}

var transitions = map[transitionKey]transition{
	{StateDraft, ActionSubmit}: {
		To:       StateSubmitted,
		validate: validateSubmit,
	},
	{StateSubmitted, ActionForward}: {To: StateSdoReview},
	{StateSubmitted, ActionHold}: {
		To: StateOnHold, validate: notesRequired, mutate: recordHeldFrom,
	},
	{StateSubmitted, ActionCancel}:         {To: StateCancelled, validate: notesRequired},
	{StateSubmitted, ActionRequestChanges}: {To: StateDraft, validate: notesRequired},

	{StateSdoReview, ActionForward}: {To: StateXenReview},
	{StateSdoReview, ActionHold}: {
		To: StateOnHold, validate: notesRequired, mutate: recordHeldFrom,
	},
	{StateSdoReview, ActionCancel}:         {To: StateCancelled, validate: notesRequired},
	{StateSdoReview, ActionRequestChanges}: {To: StateDraft, validate: notesRequired},

	{StateXenReview, ActionApprove}:        {To: StatePdcIssuance},
	{StateXenReview, ActionReject}:         {To: StateSdoReview, validate: notesRequired},
	{StateXenReview, ActionRequestChanges}: {To: StateDraft, validate: notesRequired},

	{StatePdcIssuance, ActionIssue}: {
		To: StateGridPreExecution, validate: validateIssue, mutate: recordIssuance,
	},
	{StatePdcIssuance, ActionReturn}: {To: StateSdoReview, validate: notesRequired},

	{StateGridPreExecution, ActionActivate}: {
		To: StatePreStart, validate: validateActivate, mutate: recordSafety,
	},
	{StateGridPreExecution, ActionRequestFixes}: {To: StatePdcIssuance, validate: notesRequired},

	{StatePreStart, ActionStart}: {
		To: StateInProgress, validate: validateStart, mutate: recordPreStart,
	},

	{StateInProgress, ActionPause}:   {To: StateInProgress, validate: workStatusIn(WorkActive), mutate: setWorkStatus(WorkPaused)},
	{StateInProgress, ActionResume}:  {To: StateInProgress, validate: workStatusIn(WorkPaused, WorkSuspended), mutate: setWorkStatus(WorkActive)},
	{StateInProgress, ActionSuspend}: {To: StateInProgress, validate: workStatusIn(WorkActive, WorkPaused), mutate: setWorkStatus(WorkSuspended)},
	{StateInProgress, ActionComplete}: {
		To: StateCompletion, validate: validateComplete, mutate: recordEvidence,
	},

	{StateCompletion, ActionFinalize}: {To: StateClosed, mutate: recordClosed},

	{StateOnHold, ActionResume}: {
		toFunc:   func(p domain.Permit) State { return State(p.HeldFrom) },
		validate: heldFromSet,
		mutate:   clearHeldFrom,
	},
	{StateOnHold, ActionCancel}: {To: StateCancelled, validate: notesRequired},
}

// Apply runs one transition. On success it returns the updated permit value
// and the single history entry to append (ActorID left for the caller to
// fill). All checks run before any field is touched, so a rejection never
// leaves the permit inconsistent with its history.
func Apply(p domain.Permit, role Role, action Action, pl Payload, active []domain.Permit, now time.Time) (domain.Permit, domain.HistoryEntry, error) {
	from := State(p.State)
	if !Allowed(from, role, action) {
		return p, domain.HistoryEntry{}, NotAllowedError{State: from, Role: role, Action: action}
	}
	tr, ok := transitions[transitionKey{from, action}]
	if !ok {
		// Gate and table disagree only on programming error; deny rather
		// than guess.
		return p, domain.HistoryEntry{}, NotAllowedError{State: from, Role: role, Action: action}
	}
	if tr.validate != nil {
		if err := tr.validate(p, pl, active); err != nil {
			return p, domain.HistoryEntry{}, err
		}
	}
	to := tr.To
	if tr.toFunc != nil {
		to = tr.toFunc(p)
	}

	next := p
	if tr.mutate != nil {
		tr.mutate(&next, pl, now)
	}
	next.State = string(to)
	next.UpdatedAt = now.UTC().Format(time.RFC3339)

	entry := domain.HistoryEntry{
		PermitID:  p.ID,
		TS:        next.UpdatedAt,
		ActorRole: string(role),
		Action:    string(action),
		FromState: string(from),
		ToState:   string(to),
		Notes:     pl.Notes,
	}
	return next, entry, nil
}

// --- contracts ---

func notesRequired(_ domain.Permit, pl Payload, _ []domain.Permit) error {
	if pl.Notes == "" {
		return ValidationErrors{{Field: "decision_notes", Reason: "required"}}
	}
	return nil
}

func heldFromSet(p domain.Permit, _ Payload, _ []domain.Permit) error {
	if p.HeldFrom == "" {
		return ValidationErrors{{Field: "held_from", Reason: "missing on held permit"}}
	}
	return nil
}

func validateSubmit(p domain.Permit, _ Payload, active []domain.Permit) error {
	var errs ValidationErrors
	if p.Title == "" {
		errs = append(errs, FieldError{Field: "title", Reason: "required"})
	}
	if p.Category == "" {
		errs = append(errs, FieldError{Field: "category", Reason: "required"})
	}
	if p.Region == "" {
		errs = append(errs, FieldError{Field: "region", Reason: "required"})
	}
	if p.AssetType == "" {
		errs = append(errs, FieldError{Field: "asset_type", Reason: "required"})
	}
	if p.CrewLead == "" {
		errs = append(errs, FieldError{Field: "crew_lead", Reason: "required"})
	}
	start, end, ok := window(p)
	switch {
	case p.WindowStart == "" || p.WindowEnd == "":
		errs = append(errs, FieldError{Field: "time_window", Reason: "required"})
	case !ok:
		errs = append(errs, FieldError{Field: "time_window", Reason: "must be RFC3339 timestamps"})
	case end.Before(start):
		errs = append(errs, FieldError{Field: "window_end", Reason: "must not precede window_start"})
	}
	if len(errs) > 0 {
		return errs
	}
	return CheckCrewConflict(p, active)
}

func validateIssue(_ domain.Permit, pl Payload, _ []domain.Permit) error {
	var errs ValidationErrors
	iss := pl.Issuance
	if iss == nil {
		return ValidationErrors{{Field: "issuance", Reason: "required"}}
	}
	if iss.Dispatcher == "" {
		errs = append(errs, FieldError{Field: "dispatcher", Reason: "required"})
	}
	from, errFrom := time.Parse(time.RFC3339, iss.ValidFrom)
	to, errTo := time.Parse(time.RFC3339, iss.ValidTo)
	switch {
	case errFrom != nil:
		errs = append(errs, FieldError{Field: "valid_from", Reason: "must be RFC3339 timestamp"})
	case errTo != nil:
		errs = append(errs, FieldError{Field: "valid_to", Reason: "must be RFC3339 timestamp"})
	case !to.After(from):
		errs = append(errs, FieldError{Field: "valid_to", Reason: "must be after valid_from"})
	}
	if len(iss.IsolationPoints) == 0 {
		errs = append(errs, FieldError{Field: "isolation_points", Reason: "at least one required"})
	}
	if len(iss.EarthingPoints) == 0 {
		errs = append(errs, FieldError{Field: "earthing_points", Reason: "at least one required"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateActivate(_ domain.Permit, pl Payload, _ []domain.Permit) error {
	var errs ValidationErrors
	if pl.Safety == nil {
		return ValidationErrors{{Field: "safety_checklist", Reason: "required"}}
	}
	for _, item := range SafetyItems {
		if !pl.Safety.Items[item] {
			errs = append(errs, FieldError{Field: "safety_checklist." + item, Reason: "must be confirmed"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateStart(_ domain.Permit, pl Payload, _ []domain.Permit) error {
	var errs ValidationErrors
	ps := pl.PreStart
	if ps == nil {
		return ValidationErrors{{Field: "pre_start", Reason: "required"}}
	}
	if len(ps.Roster) == 0 {
		errs = append(errs, FieldError{Field: "roster", Reason: "at least one crew member required"})
	}
	for _, sig := range ps.Roster {
		if !sig.Signed {
			errs = append(errs, FieldError{Field: "roster." + sig.Name, Reason: "signature missing"})
		}
	}
	for _, item := range PPEItems {
		if !ps.PPE[item] {
			errs = append(errs, FieldError{Field: "ppe." + item, Reason: "must be checked"})
		}
	}
	if len(ps.PhotoRefs) == 0 {
		errs = append(errs, FieldError{Field: "photo_refs", Reason: "at least one photo required"})
	}
	if ps.GPSLat == nil || ps.GPSLng == nil {
		errs = append(errs, FieldError{Field: "gps", Reason: "coordinates required"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateComplete(p domain.Permit, pl Payload, _ []domain.Permit) error {
	var errs ValidationErrors
	if p.WorkStatus == WorkSuspended {
		errs = append(errs, FieldError{Field: "work_status", Reason: "suspended work must resume before completion"})
	} else if p.WorkStatus == WorkPaused {
		errs = append(errs, FieldError{Field: "work_status", Reason: "paused work must resume before completion"})
	}
	ev := pl.Evidence
	if ev == nil {
		errs = append(errs, FieldError{Field: "evidence", Reason: "required"})
		return errs
	}
	for _, item := range CompletionItems {
		if !ev.Items[item] {
			errs = append(errs, FieldError{Field: "completion_checklist." + item, Reason: "must be confirmed"})
		}
	}
	if len(ev.PhotoRefs) == 0 {
		errs = append(errs, FieldError{Field: "photo_refs", Reason: "at least one photo required"})
	}
	if ev.GPSLat == nil || ev.GPSLng == nil {
		errs = append(errs, FieldError{Field: "gps", Reason: "numeric coordinates required"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func workStatusIn(allowed ...string) func(domain.Permit, Payload, []domain.Permit) error {
	return func(p domain.Permit, _ Payload, _ []domain.Permit) error {
		status := p.WorkStatus
		if status == "" {
			status = WorkActive
		}
		for _, a := range allowed {
			if status == a {
				return nil
			}
		}
		return ValidationErrors{{Field: "work_status", Reason: "cannot transition from " + status}}
	}
}

// --- mutations ---

func recordHeldFrom(p *domain.Permit, _ Payload, _ time.Time) {
	p.HeldFrom = p.State
}

func clearHeldFrom(p *domain.Permit, _ Payload, _ time.Time) {
	p.HeldFrom = ""
}

func setWorkStatus(status string) func(*domain.Permit, Payload, time.Time) {
	return func(p *domain.Permit, _ Payload, _ time.Time) {
		p.WorkStatus = status
	}
}

func recordIssuance(p *domain.Permit, pl Payload, _ time.Time) {
	p.IssuanceJSON = marshalBlock(pl.Issuance)
}

func recordSafety(p *domain.Permit, pl Payload, now time.Time) {
	safety := *pl.Safety
	if safety.CheckedAt == "" {
		safety.CheckedAt = now.UTC().Format(time.RFC3339)
	}
	p.SafetyJSON = marshalBlock(safety)
}

func recordPreStart(p *domain.Permit, pl Payload, now time.Time) {
	ps := *pl.PreStart
	if ps.RecordedAt == "" {
		ps.RecordedAt = now.UTC().Format(time.RFC3339)
	}
	p.PreStartJSON = marshalBlock(ps)
	p.WorkStatus = WorkActive
}

func recordEvidence(p *domain.Permit, pl Payload, now time.Time) {
	ev := *pl.Evidence
	if ev.RecordedAt == "" {
		ev.RecordedAt = now.UTC().Format(time.RFC3339)
	}
	p.EvidenceJSON = marshalBlock(ev)
	p.WorkStatus = ""
}

func recordClosed(p *domain.Permit, _ Payload, now time.Time) {
	ts := now.UTC().Format(time.RFC3339)
	p.ClosedAt = &ts
}

func marshalBlock(v any) *string {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
