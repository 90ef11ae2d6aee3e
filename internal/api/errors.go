package api

import (
	"errors"
	"net/http"
	"time"

	"coachbook/internal/database"
	"coachbook/internal/service"
)

// apiError is the wire form of a rejected request.
type apiError struct {
	status  int
	code    string
	details map[string]any
}

// classify maps engine errors to a status code, a stable error code and any
// remedy detail the caller can act on.
func classify(err error) apiError {
	var (
		validation *service.ValidationError
		leadTime   *service.LeadTimeError
		slot       *service.SlotError
		exhausted  *service.ExhaustedError
	)

	switch {
	case errors.As(err, &validation):
		return apiError{http.StatusBadRequest, "validation_failed", map[string]any{
			"field": validation.Field, "reason": validation.Reason,
		}}
	case errors.Is(err, service.ErrValidation):
		return apiError{status: http.StatusBadRequest, code: "validation_failed"}
	case errors.As(err, &leadTime):
		return apiError{http.StatusUnprocessableEntity, "lead_time_violation", map[string]any{
			"earliest_start": leadTime.EarliestStart.UTC().Format(time.RFC3339),
		}}
	case errors.Is(err, service.ErrLeadTimeViolation):
		return apiError{status: http.StatusUnprocessableEntity, code: "lead_time_violation"}
	case errors.As(err, &slot):
		return apiError{http.StatusConflict, "slot_unavailable", map[string]any{
			"provider_id": slot.ProviderID,
			"start":       slot.Start.UTC().Format(time.RFC3339),
			"end":         slot.End.UTC().Format(time.RFC3339),
		}}
	case errors.Is(err, database.ErrSlotUnavailable):
		return apiError{status: http.StatusConflict, code: "slot_unavailable"}
	case errors.As(err, &exhausted):
		return apiError{http.StatusConflict, "package_exhausted", map[string]any{
			"package_id":      exhausted.PackageID,
			"requested_hours": exhausted.RequestedHours.String(),
			"remaining_hours": exhausted.RemainingHours.String(),
		}}
	case errors.Is(err, database.ErrPackageExhausted):
		return apiError{status: http.StatusConflict, code: "package_exhausted"}
	case errors.Is(err, database.ErrPackageNotOwned):
		return apiError{status: http.StatusForbidden, code: "package_not_owned"}
	case errors.Is(err, database.ErrPackageInactive):
		return apiError{status: http.StatusConflict, code: "package_inactive"}
	case errors.Is(err, service.ErrOfferingUnavailable):
		return apiError{status: http.StatusUnprocessableEntity, code: "offering_unavailable"}
	case errors.Is(err, service.ErrBundleUnavailable):
		return apiError{status: http.StatusUnprocessableEntity, code: "bundle_unavailable"}
	case errors.Is(err, service.ErrInvalidTransition):
		return apiError{status: http.StatusConflict, code: "invalid_transition"}
	case errors.Is(err, database.ErrConcurrentModification):
		return apiError{status: http.StatusConflict, code: "concurrent_modification"}
	case errors.Is(err, service.ErrSettlementRejected):
		return apiError{status: http.StatusPaymentRequired, code: "settlement_rejected"}
	case errors.Is(err, service.ErrThrottled):
		return apiError{status: http.StatusTooManyRequests, code: "throttled"}
	case errors.Is(err, service.ErrDependencyUnavailable):
		return apiError{status: http.StatusServiceUnavailable, code: "dependency_unavailable"}
	case errors.Is(err, database.ErrReservationNotFound),
		errors.Is(err, database.ErrPackageNotFound),
		errors.Is(err, database.ErrOfferingNotFound),
		errors.Is(err, database.ErrProviderNotFound),
		errors.Is(err, database.ErrBundleNotFound),
		errors.Is(err, database.ErrAccountNotFound):
		return apiError{status: http.StatusNotFound, code: "not_found"}
	default:
		return apiError{status: http.StatusInternalServerError, code: "internal"}
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) apiError {
	e := classify(err)
	message := err.Error()
	if e.status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		message = "internal error"
	}
	writeError(w, e.status, e.code, message, e.details)
	return e
}
