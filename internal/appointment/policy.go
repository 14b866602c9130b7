package appointment

import (
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
)

// Staff and admins act on anything. Patients act on their own appointments,
// doctors on appointments and schedules that are theirs.

func canAccessAppointment(actor auth.Actor, a *Appointment) bool {
	switch {
	case actor.IsStaff():
		return true
	case actor.Role == auth.RolePatient:
		return a.PatientID == actor.ID
	case actor.Role == auth.RoleDoctor:
		return a.DoctorID == actor.ID
	}
	return false
}

func canBook(actor auth.Actor, doctorID, patientID uuid.UUID) bool {
	switch {
	case actor.IsStaff():
		return true
	case actor.Role == auth.RolePatient:
		return patientID == actor.ID
	case actor.Role == auth.RoleDoctor:
		return doctorID == actor.ID
	}
	return false
}

func canManageSchedule(actor auth.Actor, doctorID uuid.UUID) bool {
	return actor.IsStaff() || (actor.Role == auth.RoleDoctor && actor.ID == doctorID)
}

// canUpdateStatus covers clinical progress changes, which patients never make.
func canUpdateStatus(actor auth.Actor, a *Appointment) bool {
	return actor.IsStaff() || (actor.Role == auth.RoleDoctor && a.DoctorID == actor.ID)
}

func canCheckIn(actor auth.Actor, a *Appointment) bool {
	return actor.IsStaff() || (actor.Role == auth.RolePatient && a.PatientID == actor.ID)
}

var statusTransitions = map[Status][]Status{
	StatusScheduled:   {StatusConfirmed, StatusInProgress, StatusNoShow},
	StatusRescheduled: {StatusConfirmed, StatusInProgress, StatusNoShow},
	StatusConfirmed:   {StatusInProgress, StatusNoShow},
	StatusInProgress:  {StatusCompleted},
}

// canTransition reports whether UpdateStatus may move from -> to. Cancelling
// and rescheduling have their own operations and are never reached this way.
func canTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
