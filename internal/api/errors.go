package api

import (
	"errors"
	"net/http"

	"github.com/mel-run/taskflow/internal/apperr"
	"github.com/mel-run/taskflow/internal/statemachine"
)

// writeServiceError maps the apperr taxonomy onto HTTP status codes:
// Validation and InvalidTransition surface as 400, NotFound as 404,
// everything else as 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		writeError(w, http.StatusInternalServerError, "unknown error")
		return
	}

	var notFound *apperr.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var validation *apperr.ValidationError
	if errors.As(err, &validation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var transErr *statemachine.InvalidTransitionError
	if errors.As(err, &transErr) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, err.Error())
}
