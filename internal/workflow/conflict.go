package workflow

import (
	"time"

	"gridpermit/internal/domain"
)

// CheckCrewConflict returns a ConflictError when any crew name on p (lead or
// member) also appears on an active-ish permit whose window overlaps p's.
// It reads a point-in-time snapshot; the store closes the remaining race by
// evaluating it inside the same transaction as the save.
func CheckCrewConflict(p domain.Permit, active []domain.Permit) error {
	aStart, aEnd, ok := window(p)
	if !ok {
		return nil
	}
	names := crewNames(p)
	for _, other := range active {
		if other.ID == p.ID || !activeish[State(other.State)] {
			continue
		}
		bStart, bEnd, ok := window(other)
		if !ok || !overlaps(aStart, aEnd, bStart, bEnd) {
			continue
		}
		for n := range crewNames(other) {
			if names[n] {
				return ConflictError{PermitID: other.ID, Member: n}
			}
		}
	}
	return nil
}

func crewNames(p domain.Permit) map[string]bool {
	names := make(map[string]bool, len(p.CrewMembers)+1)
	if p.CrewLead != "" {
		names[p.CrewLead] = true
	}
	for _, m := range p.CrewMembers {
		if m != "" {
			names[m] = true
		}
	}
	return names
}

func window(p domain.Permit) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339, p.WindowStart)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, p.WindowEnd)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}
