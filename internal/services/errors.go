package services

import (
	"errors"
	"net/http"

	"github.com/Lllllllleong/ecommpipeline/internal/pipeline"
	"github.com/Lllllllleong/ecommpipeline/internal/wizard"
)

// ErrInvalidRequest marks a request the caller has to fix.
var ErrInvalidRequest = errors.New("invalid request")

// HTTPStatus maps a service error to the status code returned to the caller.
func HTTPStatus(err error) int {
	var statusErr *pipeline.StatusError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionBusy), errors.Is(err, wizard.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, wizard.ErrNoFile),
		errors.Is(err, wizard.ErrUnsupportedFile),
		errors.Is(err, wizard.ErrNoSchemaLoaded),
		errors.Is(err, wizard.ErrReservedField),
		errors.Is(err, wizard.ErrUnknownField),
		errors.Is(err, wizard.ErrNoAdvisor):
		return http.StatusBadRequest
	case errors.As(err, &statusErr), errors.Is(err, pipeline.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
