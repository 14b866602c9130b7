package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

// UpdateStatus moves an appointment along its clinical lifecycle
// (confirmed, in-progress, completed, no-show). notes, when given, are appended.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, to Status, notes string) (*Appointment, error) {
	if !to.Valid() {
		return nil, validationError("status %q is not supported", to)
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !canUpdateStatus(actor, current) {
		return nil, ErrNotAuthorized
	}

	var updated *Appointment
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		from := appt.Status
		if !canTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
		}

		appt.Status = to
		appt.Notes = appendNotes(appt.Notes, notes)
		appt.UpdatedAt = s.now()
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		updated = appt

		return s.recordEvent(ctx, tx, appt.ID, EventAppointmentStatusChanged, map[string]any{
			"from":     string(from),
			"to":       string(to),
			"actor_id": actor.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notify.EventAppointmentStatus, updated, "")
	return updated, nil
}

// CheckIn records the patient's arrival on the day of the appointment and
// starts the visit.
func (s *Service) CheckIn(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !canCheckIn(actor, current) {
		return nil, ErrNotAuthorized
	}

	var updated *Appointment
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if !appt.Status.Open() {
			return fmt.Errorf("%w: cannot check in a %s appointment", ErrInvalidStateTransition, appt.Status)
		}
		if appt.Date != s.today() {
			return validationError("check-in is only possible on %s", appt.Date)
		}

		now := s.now()
		appt.Status = StatusInProgress
		appt.CheckedInAt = &now
		appt.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		updated = appt

		return s.recordEvent(ctx, tx, appt.ID, EventAppointmentCheckedIn, map[string]any{
			"actor_id": actor.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notify.EventAppointmentStatus, updated, "")
	return updated, nil
}

// MarkNoShows is intended to be called by the worker periodically. Open
// appointments whose slot ended more than the grace period ago become no-show.
func (s *Service) MarkNoShows(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.noShowGrace)
	candidates, err := s.repo.ListOpenThrough(ctx, schedule.DateOf(cutoff.In(s.loc)))
	if err != nil {
		return 0, fmt.Errorf("find open appointments: %w", err)
	}

	marked := 0
	for _, c := range candidates {
		if !c.Date.At(c.TimeSlot.EndTime, s.loc).Before(cutoff) {
			continue
		}

		var updated *Appointment
		err := s.repo.WithTx(ctx, func(tx Repository) error {
			appt, err := tx.LockAppointment(ctx, c.ID)
			if err != nil {
				return err
			}
			// Checked in or cancelled since it was listed.
			if !appt.Status.Open() {
				return nil
			}
			appt.Status = StatusNoShow
			appt.UpdatedAt = s.now()
			if err := tx.UpdateAppointment(ctx, appt); err != nil {
				return err
			}
			updated = appt
			return s.recordEvent(ctx, tx, appt.ID, EventAppointmentNoShow, map[string]any{
				"reason": "worker",
			})
		})
		if err != nil {
			s.logger.Error("mark no-show", zap.String("appointment_id", c.ID.String()), zap.Error(err))
			continue
		}
		if updated == nil {
			continue
		}
		marked++
		s.publish(ctx, notify.EventAppointmentStatus, updated, "")
	}

	return marked, nil
}

func appendNotes(existing, notes string) string {
	notes = strings.TrimSpace(notes)
	switch {
	case notes == "":
		return existing
	case existing == "":
		return notes
	}
	return existing + "\n" + notes
}
