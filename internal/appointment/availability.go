package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

const (
	reasonNotWorking = "not a working day"
	reasonInactive   = "doctor is not accepting appointments"
)

// GetAvailability reports which of the doctor's slots on date can still be
// booked. It only reads.
func (s *Service) GetAvailability(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*Availability, error) {
	if date.IsZero() {
		return nil, validationError("date is required")
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	av := &Availability{
		DoctorID: doctorID,
		Date:     date,
		Slots:    []SlotAvailability{},
	}
	if !doctor.IsActive {
		av.Reason = reasonInactive
		return av, nil
	}

	day, err := resolveDay(ctx, s.repo, doctorID, date)
	if err != nil {
		return nil, err
	}
	if !day.IsWorking {
		av.Reason = day.Reason
		if av.Reason == "" {
			av.Reason = reasonNotWorking
		}
		return av, nil
	}

	booked, err := s.repo.ListActiveAppointments(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	occupancy := make(map[schedule.TimeOfDay]int, len(booked))
	for _, a := range booked {
		occupancy[a.TimeSlot.StartTime]++
	}

	for _, slot := range day.Slots() {
		n := occupancy[slot.StartTime]
		sa := SlotAvailability{
			Slot:           slot,
			Booked:         n,
			RemainingSlots: slot.MaxPatients - n,
			Available:      n < slot.MaxPatients,
		}
		if sa.RemainingSlots < 0 {
			sa.RemainingSlots = 0
			sa.Overbooked = true
		}
		if sa.Available {
			av.Available = true
		}
		av.Slots = append(av.Slots, sa)
	}
	return av, nil
}

// resolveDay loads the override and template for date and picks the one that applies.
func resolveDay(ctx context.Context, repo Repository, doctorID uuid.UUID, date schedule.Date) (schedule.DaySchedule, error) {
	ov, err := repo.GetOverride(ctx, doctorID, date)
	if err != nil {
		if !errors.Is(err, ErrOverrideNotFound) {
			return schedule.DaySchedule{}, fmt.Errorf("load override: %w", err)
		}
		ov = nil
	}

	var tpl *schedule.Template
	if ov == nil {
		tpl, err = repo.GetTemplate(ctx, doctorID)
		if err != nil {
			if !errors.Is(err, ErrTemplateNotFound) {
				return schedule.DaySchedule{}, fmt.Errorf("load schedule: %w", err)
			}
			tpl = nil
		}
	}

	return schedule.ResolveDay(tpl, ov, date), nil
}

// offeredSlot returns the generated slot that starts at start on date.
func offeredSlot(ctx context.Context, repo Repository, doctorID uuid.UUID, date schedule.Date, start schedule.TimeOfDay) (schedule.Slot, error) {
	day, err := resolveDay(ctx, repo, doctorID, date)
	if err != nil {
		return schedule.Slot{}, err
	}
	if !day.IsWorking {
		return schedule.Slot{}, ErrDoctorNotWorking
	}
	slot, ok := schedule.FindSlot(day.Slots(), start)
	if !ok {
		return schedule.Slot{}, ErrSlotNotOffered
	}
	return slot, nil
}
