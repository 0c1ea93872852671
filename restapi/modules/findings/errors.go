package findings

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/pdvd-ledger/internal/services"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/reconcile"
)

// StatusFor maps a ledger error to the HTTP status returned to callers
func StatusFor(err error) int {
	var e *model.Error
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, model.ErrVulnNotFound), errors.Is(err, model.ErrFindingMissing):
		return fiber.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	case !errors.As(err, &e):
		return fiber.StatusInternalServerError
	}
	switch e.Kind {
	case model.KindPrecondition:
		return fiber.StatusBadRequest
	case model.KindConsistency:
		return fiber.StatusConflict
	}
	return fiber.StatusServiceUnavailable
}

// OutcomeStatus is the HTTP status of one batch outcome. A request skipped
// because the batch was cancelled is reported as unavailable.
func OutcomeStatus(o services.TransitionOutcome) int {
	if o.Status == reconcile.StatusSkipped {
		return fiber.StatusServiceUnavailable
	}
	return StatusFor(o.Err)
}

func errorBody(err error) fiber.Map {
	body := fiber.Map{
		"success": false,
		"message": err.Error(),
	}
	var e *model.Error
	if errors.As(err, &e) {
		body["code"] = e.Code
		if len(e.Details) > 0 {
			body["details"] = e.Details
		}
	}
	return body
}
