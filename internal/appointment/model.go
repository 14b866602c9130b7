package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusInProgress  Status = "in-progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no-show"
	StatusRescheduled Status = "rescheduled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted,
		StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

// Modifiable reports whether the appointment may still be rescheduled or cancelled.
func (s Status) Modifiable() bool {
	switch s {
	case StatusCompleted, StatusInProgress, StatusCancelled:
		return false
	}
	return true
}

// Open reports whether the patient is still expected to show up.
func (s Status) Open() bool {
	return s == StatusScheduled || s == StatusConfirmed || s == StatusRescheduled
}

type Type string

const (
	TypeRegular      Type = "regular"
	TypeFollowUp     Type = "followup"
	TypeEmergency    Type = "emergency"
	TypeTelemedicine Type = "telemedicine"
	TypeConsultation Type = "consultation"
)

func (t Type) Valid() bool {
	switch t {
	case TypeRegular, TypeFollowUp, TypeEmergency, TypeTelemedicine, TypeConsultation:
		return true
	}
	return false
}

type Mode string

const (
	ModeInPerson Mode = "in-person"
	ModeVideo    Mode = "video"
	ModePhone    Mode = "phone"
)

func (m Mode) Valid() bool {
	return m == ModeInPerson || m == ModeVideo || m == ModePhone
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type RefundStatus string

const (
	RefundPending       RefundStatus = "pending"
	RefundNotApplicable RefundStatus = "not_applicable"
)

type Doctor struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Specialization  *string   `json:"specialization,omitempty"`
	ConsultationFee int64     `json:"consultation_fee"`
	FollowUpFee     int64     `json:"follow_up_fee"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FeeFor returns the fee charged for an appointment of type t.
func (d *Doctor) FeeFor(t Type) int64 {
	if t == TypeFollowUp {
		return d.FollowUpFee
	}
	return d.ConsultationFee
}

type Patient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TimeSlot struct {
	StartTime schedule.TimeOfDay `json:"start_time"`
	EndTime   schedule.TimeOfDay `json:"end_time"`
}

type Cancellation struct {
	By           uuid.UUID    `json:"cancelled_by"`
	At           time.Time    `json:"cancelled_at"`
	Reason       string       `json:"reason"`
	RefundStatus RefundStatus `json:"refund_status"`
}

// RescheduleEntry records one move of an appointment. Entries are only appended.
type RescheduleEntry struct {
	PreviousDate     schedule.Date `json:"previous_date"`
	PreviousTimeSlot TimeSlot      `json:"previous_time_slot"`
	NewDate          schedule.Date `json:"new_date"`
	NewTimeSlot      TimeSlot      `json:"new_time_slot"`
	Reason           string        `json:"reason"`
	ActorID          uuid.UUID     `json:"rescheduled_by"`
	At               time.Time     `json:"rescheduled_at"`
}

type Appointment struct {
	ID                uuid.UUID         `json:"id"`
	AppointmentNumber string            `json:"appointment_number"`
	DoctorID          uuid.UUID         `json:"doctor_id"`
	PatientID         uuid.UUID         `json:"patient_id"`
	Date              schedule.Date     `json:"appointment_date"`
	TimeSlot          TimeSlot          `json:"time_slot"`
	Status            Status            `json:"status"`
	Type              Type              `json:"appointment_type"`
	Mode              Mode              `json:"mode"`
	Reason            string            `json:"reason"`
	Symptoms          []string          `json:"symptoms"`
	Notes             string            `json:"notes,omitempty"`
	Fee               int64             `json:"fee"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	Cancellation      *Cancellation     `json:"cancellation,omitempty"`
	CheckedInAt       *time.Time        `json:"checked_in_at,omitempty"`
	RescheduleHistory []RescheduleEntry `json:"reschedule_history"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// SlotKey returns the ledger key the appointment occupies.
func (a *Appointment) SlotKey() SlotKey {
	return SlotKey{DoctorID: a.DoctorID, Date: a.Date, Start: a.TimeSlot.StartTime}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// SlotKey identifies one bookable slot of one doctor. Capacity is enforced per key.
type SlotKey struct {
	DoctorID uuid.UUID
	Date     schedule.Date
	Start    schedule.TimeOfDay
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.DoctorID, k.Date, k.Start)
}

type SlotAvailability struct {
	schedule.Slot
	Booked         int  `json:"booked"`
	RemainingSlots int  `json:"remaining_slots"`
	Available      bool `json:"available"`
	// Overbooked is set when capacity was lowered below existing bookings.
	Overbooked bool `json:"overbooked,omitempty"`
}

type Availability struct {
	DoctorID  uuid.UUID          `json:"doctor_id"`
	Date      schedule.Date      `json:"date"`
	Available bool               `json:"available"`
	Reason    string             `json:"reason,omitempty"`
	Slots     []SlotAvailability `json:"slots"`
}

// ListFilter selects appointments. Nil fields match everything. The service
// pins PatientID for patients and DoctorID for doctors, while staff and admins
// may list across the whole clinic.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Date      *schedule.Date
	Limit     int
	Offset    int
}
