package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

type CreateAppointmentRequest struct {
	DoctorID        string   `json:"doctor_id" validate:"required,uuid"`
	PatientID       string   `json:"patient_id" validate:"omitempty,uuid"` // defaults to the calling patient
	AppointmentDate string   `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	StartTime       string   `json:"start_time" validate:"required,len=5"`
	EndTime         string   `json:"end_time" validate:"omitempty,len=5"`
	AppointmentType string   `json:"appointment_type" validate:"required,oneof=regular followup emergency telemedicine consultation"`
	Mode            string   `json:"mode" validate:"omitempty,oneof=in-person video phone"`
	Reason          string   `json:"reason" validate:"required,max=500"`
	Symptoms        []string `json:"symptoms" validate:"omitempty,max=20,dive,max=200"`
	Notes           string   `json:"notes" validate:"max=2000"`
}

type RescheduleAppointmentRequest struct {
	AppointmentDate string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	StartTime       string `json:"start_time" validate:"required,len=5"`
	EndTime         string `json:"end_time" validate:"omitempty,len=5"`
	Reason          string `json:"reason" validate:"required,max=500"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed in-progress completed no-show"`
	Notes  string `json:"notes" validate:"max=2000"`
}

type BlockRequest struct {
	StartTime    string `json:"start_time" validate:"required,len=5"`
	EndTime      string `json:"end_time" validate:"required,len=5"`
	SlotDuration int    `json:"slot_duration" validate:"gte=0,lte=480"`
	MaxPatients  int    `json:"max_patients" validate:"gte=0,lte=100"`
	SlotType     string `json:"slot_type" validate:"max=50"`
}

type DayRequest struct {
	DayOfWeek *int           `json:"day_of_week" validate:"required,gte=0,lte=6"`
	IsWorking bool           `json:"is_working"`
	Blocks    []BlockRequest `json:"blocks" validate:"dive"`
}

type WeeklyScheduleRequest struct {
	Days []DayRequest `json:"days" validate:"required,len=7,dive"`
}

type OverrideRequest struct {
	IsWorking bool           `json:"is_working"`
	Reason    string         `json:"reason" validate:"max=200"`
	Blocks    []BlockRequest `json:"blocks" validate:"dive"`
}

type WeeklyScheduleResponse struct {
	DoctorID  uuid.UUID      `json:"doctor_id"`
	Days      []schedule.Day `json:"days"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
