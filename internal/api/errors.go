package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

// handleServiceError maps service errors to responses. Specific errors come
// before the kinds they wrap.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrSlotFull):
		writeError(w, http.StatusConflict, "slot_full", err.Error())
	case errors.Is(err, appointment.ErrSlotNotOffered):
		writeError(w, http.StatusConflict, "slot_not_offered", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotWorking):
		writeError(w, http.StatusConflict, "doctor_not_working", err.Error())
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "invalid_state_transition", err.Error())
	case errors.Is(err, appointment.ErrPastDate):
		writeError(w, http.StatusBadRequest, "past_date", err.Error())
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, appointment.ErrDoctorInactive):
		writeError(w, http.StatusNotFound, "doctor_inactive", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "schedule_not_found", err.Error())
	case errors.Is(err, appointment.ErrOverrideNotFound):
		writeError(w, http.StatusNotFound, "override_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not_authorized", "you are not allowed to do this")
	default:
		h.logger.Error("internal error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
