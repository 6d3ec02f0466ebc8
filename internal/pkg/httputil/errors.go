package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/avolkov/incident-bridge/internal/pkg/ctxlog"
)

// ErrorMapping pairs a sentinel error with the HTTP status it translates to.
// An empty Message falls back to the error text.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// HandleError translates err through mappings. Unmapped errors are logged
// and answered with a generic 500 so internals never leak to clients.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		if m.Message != "" {
			Error(w, m.Status, m.Message)
		} else {
			Error(w, m.Status, err.Error())
		}
		return
	}

	ctxlog.From(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
