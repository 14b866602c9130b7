package appointment

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match these with errors.Is; the more specific errors
// below wrap one of them.
var (
	ErrValidation             = errors.New("validation failed")
	ErrDoctorNotFound         = errors.New("doctor not found")
	ErrPatientNotFound        = errors.New("patient not found")
	ErrAppointmentNotFound    = errors.New("appointment not found")
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotAuthorized          = errors.New("not authorized")
)

var (
	ErrSlotFull         = fmt.Errorf("%w: slot is fully booked", ErrSlotUnavailable)
	ErrSlotNotOffered   = fmt.Errorf("%w: no slot starts at the requested time", ErrSlotUnavailable)
	ErrDoctorNotWorking = fmt.Errorf("%w: doctor is not working on that date", ErrSlotUnavailable)
	ErrDoctorInactive   = fmt.Errorf("%w: doctor is not accepting appointments", ErrDoctorNotFound)
	ErrPastDate         = fmt.Errorf("%w: date is in the past", ErrValidation)

	ErrSlotBeingBooked  = errors.New("slot is currently being booked, please retry")
	ErrTemplateNotFound = errors.New("weekly schedule not found")
	ErrOverrideNotFound = errors.New("schedule override not found")
	ErrDuplicateNumber  = errors.New("appointment number already in use")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
