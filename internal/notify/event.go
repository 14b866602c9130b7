package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventAppointmentBooked      EventType = "appointment_booked"
	EventAppointmentRescheduled EventType = "appointment_rescheduled"
	EventAppointmentCancelled   EventType = "appointment_cancelled"
	EventAppointmentStatus      EventType = "appointment_status_changed"
)

// Event is the message put on the notification queue after a booking change
// has been committed.
type Event struct {
	Type              EventType `json:"type"`
	AppointmentID     uuid.UUID `json:"appointment_id"`
	AppointmentNumber string    `json:"appointment_number"`
	Status            string    `json:"status"`
	DoctorID          uuid.UUID `json:"doctor_id"`
	DoctorName        string    `json:"doctor_name,omitempty"`
	PatientID         uuid.UUID `json:"patient_id"`
	PatientName       string    `json:"patient_name,omitempty"`
	PatientEmail      string    `json:"patient_email,omitempty"`
	Date              string    `json:"date"`
	StartTime         string    `json:"start_time"`
	EndTime           string    `json:"end_time"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Publisher hands events to whatever delivers them.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
