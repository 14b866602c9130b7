package schedule

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

const (
	DefaultSlotDurationMinutes = 30
	DefaultMaxPatientsPerSlot  = 1
	DefaultSlotType            = "regular"
)

// NormalizeBlocks fills defaults, sorts blocks by start time and checks that each
// block is well formed and that no two blocks overlap. The input is not modified.
func NormalizeBlocks(blocks []Block) ([]Block, error) {
	out := make([]Block, len(blocks))
	copy(out, blocks)

	for i := range out {
		b := &out[i]
		if b.SlotDurationMinutes == 0 {
			b.SlotDurationMinutes = DefaultSlotDurationMinutes
		}
		if b.MaxPatientsPerSlot == 0 {
			b.MaxPatientsPerSlot = DefaultMaxPatientsPerSlot
		}
		if b.SlotType == "" {
			b.SlotType = DefaultSlotType
		}
		if err := validateBlock(*b); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime < out[j].StartTime
	})

	for i := 1; i < len(out); i++ {
		if out[i].StartTime < out[i-1].EndTime {
			return nil, fmt.Errorf("%w: block %s-%s overlaps %s-%s", ErrInvalidSchedule,
				out[i].StartTime, out[i].EndTime, out[i-1].StartTime, out[i-1].EndTime)
		}
	}

	return out, nil
}

func validateBlock(b Block) error {
	if !b.StartTime.Valid() || !b.EndTime.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, ErrInvalidTimeOfDay)
	}
	if b.StartTime >= b.EndTime {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidSchedule, b.StartTime, b.EndTime)
	}
	if b.SlotDurationMinutes < 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidSchedule)
	}
	if b.MaxPatientsPerSlot < 0 {
		return fmt.Errorf("%w: max patients must be positive", ErrInvalidSchedule)
	}
	return nil
}

// NewTemplate validates a full week and returns it keyed by weekday.
// Exactly one entry per weekday is required.
func NewTemplate(doctorID uuid.UUID, days []Day) (*Template, error) {
	if len(days) != DaysPerWeek {
		return nil, fmt.Errorf("%w: expected %d days, got %d", ErrInvalidSchedule, DaysPerWeek, len(days))
	}

	tpl := &Template{
		DoctorID: doctorID,
		Days:     make(map[Weekday]Day, DaysPerWeek),
	}
	for _, d := range days {
		if !d.Weekday.Valid() {
			return nil, fmt.Errorf("%w: day_of_week %d out of range", ErrInvalidSchedule, d.Weekday)
		}
		if _, dup := tpl.Days[d.Weekday]; dup {
			return nil, fmt.Errorf("%w: %s listed twice", ErrInvalidSchedule, d.Weekday)
		}

		normalized := Day{Weekday: d.Weekday, IsWorking: d.IsWorking, Blocks: []Block{}}
		if d.IsWorking {
			blocks, err := NormalizeBlocks(d.Blocks)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.Weekday, err)
			}
			normalized.Blocks = blocks
		}
		tpl.Days[d.Weekday] = normalized
	}

	return tpl, nil
}

// NewOverride validates an override. Blocks are ignored when the doctor is off.
func NewOverride(doctorID uuid.UUID, date Date, isWorking bool, reason string, blocks []Block) (*Override, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidSchedule)
	}

	ov := &Override{
		DoctorID:  doctorID,
		Date:      date,
		IsWorking: isWorking,
		Reason:    reason,
		Blocks:    []Block{},
	}
	if isWorking {
		if len(blocks) == 0 {
			return nil, fmt.Errorf("%w: a working override needs at least one block", ErrInvalidSchedule)
		}
		normalized, err := NormalizeBlocks(blocks)
		if err != nil {
			return nil, err
		}
		ov.Blocks = normalized
	}
	return ov, nil
}
