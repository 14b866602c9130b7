package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Schedules
	GetTemplate(ctx context.Context, doctorID uuid.UUID) (*schedule.Template, error)
	SaveTemplate(ctx context.Context, tpl *schedule.Template) error
	GetOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*schedule.Override, error)
	UpsertOverride(ctx context.Context, ov *schedule.Override) error
	DeleteOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date) error
	ListOverrides(ctx context.Context, doctorID uuid.UUID, from, to schedule.Date) ([]schedule.Override, error)

	// Booking ledger reads. Cancelled appointments never count as active.
	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date schedule.Date) ([]Appointment, error)
	CountActiveAtSlot(ctx context.Context, key SlotKey, excludeID uuid.UUID) (int, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)
	// ListOpenThrough returns scheduled, confirmed and rescheduled appointments
	// dated on or before through. Used by the no-show worker.
	ListOpenThrough(ctx context.Context, through schedule.Date) ([]Appointment, error)

	// WithTx runs fn in one transaction. fn must only use the repository it is
	// given. Any error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Repository) error) error
	// LockSlot blocks until the caller holds the slot key for the rest of the
	// transaction.
	LockSlot(ctx context.Context, key SlotKey) error
	// LockAppointment loads the appointment and holds its row until the transaction ends.
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	InsertRescheduleEntry(ctx context.Context, appointmentID uuid.UUID, e RescheduleEntry) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
