package incidents

import "errors"

// Incident lifecycle errors.
var (
	ErrIncidentNotFound       = errors.New("incident not found")
	ErrIncidentResolved       = errors.New("incident already resolved")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrInvalidStatus          = errors.New("invalid incident status")
	ErrInvalidSeverity        = errors.New("invalid incident severity")
	ErrIncidentNotResolved    = errors.New("incident is not resolved")
	ErrDuplicateFingerprint   = errors.New("incident with this alert fingerprint already exists")
	ErrInvalidDetectionSource = errors.New("exactly one of detected_by_id and detected_by_name must be set")
)

// Authorization errors.
var (
	ErrInsufficientPermissions = errors.New("insufficient permissions")
)
