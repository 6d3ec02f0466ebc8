package domain

import "time"

// PostMortemStatus represents the status of a post-mortem document.
type PostMortemStatus string

// Post-mortem statuses. Unlike incident statuses these are freely settable
// by an authorized actor; there is no transition graph to enforce.
const (
	PostMortemStatusDraft     PostMortemStatus = "draft"
	PostMortemStatusInReview  PostMortemStatus = "in_review"
	PostMortemStatusCompleted PostMortemStatus = "completed"
	PostMortemStatusCanceled  PostMortemStatus = "canceled"
)

// IsValid checks if the post-mortem status is valid.
func (s PostMortemStatus) IsValid() bool {
	switch s {
	case PostMortemStatusDraft, PostMortemStatusInReview, PostMortemStatusCompleted, PostMortemStatusCanceled:
		return true
	}
	return false
}

// PostMortem is the structured retrospective produced after an incident is
// resolved. At most one per incident.
type PostMortem struct {
	ID                  string           `json:"id"`
	IncidentID          string           `json:"incident_id"`
	Status              PostMortemStatus `json:"status"`
	DeepRCA             string           `json:"deep_rca"`
	ContributingFactors string           `json:"contributing_factors"`
	LessonsLearned      string           `json:"lessons_learned"`
	DateCompleted       *time.Time       `json:"date_completed,omitempty"`
	CreatedBy           string           `json:"created_by"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// ActionItemStatus represents the status of a post-mortem action item.
type ActionItemStatus string

// Action item statuses.
const (
	ActionItemStatusOpen       ActionItemStatus = "open"
	ActionItemStatusInProgress ActionItemStatus = "in_progress"
	ActionItemStatusCompleted  ActionItemStatus = "completed"
)

// IsValid checks if the action item status is valid.
func (s ActionItemStatus) IsValid() bool {
	return s == ActionItemStatusOpen || s == ActionItemStatusInProgress || s == ActionItemStatusCompleted
}

// ActionItem is a follow-up task attached to a post-mortem.
type ActionItem struct {
	ID           string           `json:"id"`
	PostMortemID string           `json:"postmortem_id"`
	Description  string           `json:"description"`
	OwnerID      string           `json:"owner_id"`
	DueDate      *time.Time       `json:"due_date,omitempty"`
	Status       ActionItemStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// PostMortemApproval is an approval recorded against a post-mortem.
type PostMortemApproval struct {
	ID           string    `json:"id"`
	PostMortemID string    `json:"postmortem_id"`
	UserID       string    `json:"user_id"`
	Note         string    `json:"note,omitempty"`
	ApprovedAt   time.Time `json:"approved_at"`
}
