package incidents

import (
	"github.com/avolkov/incident-bridge/internal/domain"
)

// Capability is the level of access a user has on a specific incident.
type Capability int

// Capability levels.
const (
	// CapabilityNone denies all mutations.
	CapabilityNone Capability = iota
	// CapabilityAppend allows appending timeline events and communication
	// log entries only. Any authenticated active user holds it, so that
	// responders outside the commanding team can contribute context.
	CapabilityAppend
	// CapabilityFull allows mutating the incident profile, impacts, RCA and
	// status. Held by the commander of record and superusers.
	CapabilityFull
)

// Decide derives the capability a user has on an incident.
func Decide(incident *domain.Incident, user *domain.User) Capability {
	if user == nil || !user.IsActive {
		return CapabilityNone
	}
	if user.IsSuperuser {
		return CapabilityFull
	}
	if incident != nil && incident.CommanderID == user.ID {
		return CapabilityFull
	}
	return CapabilityAppend
}

// CheckPermission validates that user may mutate the incident. With
// allowViewer set, append-level access suffices; otherwise full access is
// required. Returns ErrInsufficientPermissions on denial.
func CheckPermission(incident *domain.Incident, user *domain.User, allowViewer bool) error {
	switch Decide(incident, user) {
	case CapabilityFull:
		return nil
	case CapabilityAppend:
		if allowViewer {
			return nil
		}
	}
	return ErrInsufficientPermissions
}
