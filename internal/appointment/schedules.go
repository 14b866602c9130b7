package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

// maxOverrideRange bounds ListOverrides queries.
const maxOverrideRange = 366

type OverrideInput struct {
	IsWorking bool
	Reason    string
	Blocks    []schedule.Block
}

// SetWeeklyTemplate replaces the doctor's whole weekly template. Lowering a
// slot's capacity below its existing bookings is allowed; those bookings are
// kept and availability reports the slot as overbooked.
func (s *Service) SetWeeklyTemplate(ctx context.Context, actor auth.Actor, doctorID uuid.UUID, days []schedule.Day) (*schedule.Template, error) {
	if !canManageSchedule(actor, doctorID) {
		return nil, ErrNotAuthorized
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	tpl, err := schedule.NewTemplate(doctorID, days)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	tpl.UpdatedAt = s.now()

	if err := s.repo.SaveTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	s.logger.Info("weekly schedule saved",
		zap.String("doctor_id", doctorID.String()),
		zap.String("actor_id", actor.ID.String()),
	)
	return tpl, nil
}

func (s *Service) GetWeeklyTemplate(ctx context.Context, doctorID uuid.UUID) (*schedule.Template, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	tpl, err := s.repo.GetTemplate(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return tpl, nil
}

// SetOverride creates or replaces the doctor's schedule for one date.
func (s *Service) SetOverride(ctx context.Context, actor auth.Actor, doctorID uuid.UUID, date schedule.Date, in OverrideInput) (*schedule.Override, error) {
	if !canManageSchedule(actor, doctorID) {
		return nil, ErrNotAuthorized
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	ov, err := schedule.NewOverride(doctorID, date, in.IsWorking, in.Reason, in.Blocks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	ov.UpdatedAt = s.now()

	if err := s.repo.UpsertOverride(ctx, ov); err != nil {
		return nil, err
	}

	s.logger.Info("schedule override saved",
		zap.String("doctor_id", doctorID.String()),
		zap.String("date", date.String()),
		zap.Bool("is_working", ov.IsWorking),
	)
	return ov, nil
}

func (s *Service) ListOverrides(ctx context.Context, doctorID uuid.UUID, from, to schedule.Date) ([]schedule.Override, error) {
	if from.IsZero() || to.IsZero() {
		return nil, validationError("from and to are required")
	}
	if to.Before(from) {
		return nil, validationError("to must not be before from")
	}
	if from.AddDays(maxOverrideRange).Before(to) {
		return nil, validationError("range must not exceed %d days", maxOverrideRange)
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	overrides, err := s.repo.ListOverrides(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	if overrides == nil {
		overrides = []schedule.Override{}
	}
	return overrides, nil
}

// DeleteOverride removes the override so the weekly template applies again.
func (s *Service) DeleteOverride(ctx context.Context, actor auth.Actor, doctorID uuid.UUID, date schedule.Date) error {
	if !canManageSchedule(actor, doctorID) {
		return ErrNotAuthorized
	}
	if err := s.repo.DeleteOverride(ctx, doctorID, date); err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return nil
}
