package postmortems

import "errors"

// Post-mortem gate errors.
var (
	ErrPostMortemNotFound      = errors.New("postmortem not found")
	ErrPostMortemAlreadyExists = errors.New("postmortem already exists for this incident")
	ErrActionItemNotFound      = errors.New("action item not found")
	ErrInvalidStatus           = errors.New("invalid postmortem status")
)
