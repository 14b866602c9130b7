package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Block is a contiguous range of a working day sharing one slot configuration.
type Block struct {
	StartTime           TimeOfDay `json:"start_time"`
	EndTime             TimeOfDay `json:"end_time"`
	SlotDurationMinutes int       `json:"slot_duration"`
	MaxPatientsPerSlot  int       `json:"max_patients"`
	SlotType            string    `json:"slot_type"`
}

type Day struct {
	Weekday   Weekday `json:"day_of_week"`
	IsWorking bool    `json:"is_working"`
	Blocks    []Block `json:"blocks"`
}

// Template is a doctor's recurring weekly availability, keyed by weekday.
type Template struct {
	DoctorID  uuid.UUID       `json:"doctor_id"`
	Days      map[Weekday]Day `json:"-"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OrderedDays returns the template days Sunday first.
func (t *Template) OrderedDays() []Day {
	days := make([]Day, 0, DaysPerWeek)
	for w := Sunday; w <= Saturday; w++ {
		if d, ok := t.Days[w]; ok {
			days = append(days, d)
		}
	}
	return days
}

// Override replaces the template for one calendar date.
type Override struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      Date      `json:"date"`
	IsWorking bool      `json:"is_working"`
	Reason    string    `json:"reason,omitempty"`
	Blocks    []Block   `json:"blocks"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Slot is a bookable window derived from a Block. It is never stored.
type Slot struct {
	StartTime   TimeOfDay `json:"start_time"`
	EndTime     TimeOfDay `json:"end_time"`
	SlotType    string    `json:"slot_type"`
	MaxPatients int       `json:"max_patients"`
}
