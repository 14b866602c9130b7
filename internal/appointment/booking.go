package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

type CreateRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      schedule.Date
	StartTime schedule.TimeOfDay
	// EndTime defaults to the end of the slot.
	EndTime  *schedule.TimeOfDay
	Type     Type
	Mode     Mode
	Reason   string
	Symptoms []string
	Notes    string
}

func (r *CreateRequest) validate() error {
	switch {
	case r.DoctorID == uuid.Nil:
		return validationError("doctor_id is required")
	case r.PatientID == uuid.Nil:
		return validationError("patient_id is required")
	case r.Date.IsZero():
		return validationError("appointment_date is required")
	case !r.StartTime.Valid():
		return validationError("start_time is invalid")
	case !r.Type.Valid():
		return validationError("appointment_type %q is not supported", r.Type)
	case strings.TrimSpace(r.Reason) == "":
		return validationError("reason is required")
	}
	if r.Mode == "" {
		r.Mode = ModeInPerson
	}
	if !r.Mode.Valid() {
		return validationError("mode %q is not supported", r.Mode)
	}
	return nil
}

type RescheduleRequest struct {
	Date      schedule.Date
	StartTime schedule.TimeOfDay
	EndTime   *schedule.TimeOfDay
	Reason    string
}

func (r *RescheduleRequest) validate() error {
	switch {
	case r.Date.IsZero():
		return validationError("new date is required")
	case !r.StartTime.Valid():
		return validationError("new start_time is invalid")
	case strings.TrimSpace(r.Reason) == "":
		return validationError("reason is required")
	}
	return nil
}

// checkSlotRequest rejects slots that already started and end times that do
// not match the generated slot.
func (s *Service) checkSlotRequest(date schedule.Date, slot schedule.Slot, end *schedule.TimeOfDay) error {
	if date.At(slot.StartTime, s.loc).Before(s.now()) {
		return ErrPastDate
	}
	if end != nil && *end != slot.EndTime {
		return validationError("end_time %s does not match slot end %s", *end, slot.EndTime)
	}
	return nil
}

// CreateAppointment books the patient into the slot starting at req.StartTime.
// The slot must be one the doctor offers on that date, and the count of live
// bookings at the slot never exceeds its capacity when the transaction commits.
func (s *Service) CreateAppointment(ctx context.Context, actor auth.Actor, req CreateRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !canBook(actor, req.DoctorID, req.PatientID) {
		return nil, ErrNotAuthorized
	}
	if req.Date.Before(s.today()) {
		return nil, ErrPastDate
	}

	doctor, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.IsActive {
		return nil, ErrDoctorInactive
	}
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	key := SlotKey{DoctorID: req.DoctorID, Date: req.Date, Start: req.StartTime}
	var created *Appointment

	// A fresh ID is drawn per attempt, so a number collision is retried.
	for attempt := 1; ; attempt++ {
		err = s.withSlotLock(ctx, key, func(lockCtx context.Context) error {
			var err error
			created, err = s.createInSlot(lockCtx, actor, req, doctor, key)
			return err
		})
		if !errors.Is(err, ErrDuplicateNumber) || attempt == maxNumberAttempts {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("slot", key.String()),
	)
	s.publish(ctx, notify.EventAppointmentBooked, created, "")
	return created, nil
}

// createInSlot runs the capacity check and insert in one transaction. The
// caller holds the slot lock.
func (s *Service) createInSlot(ctx context.Context, actor auth.Actor, req CreateRequest, doctor *Doctor, key SlotKey) (*Appointment, error) {
	var created *Appointment
	err := s.repo.WithTx(ctx, func(tx Repository) error {
		if err := tx.LockSlot(ctx, key); err != nil {
			return err
		}

		slot, err := offeredSlot(ctx, tx, req.DoctorID, req.Date, req.StartTime)
		if err != nil {
			return err
		}
		if err := s.checkSlotRequest(req.Date, slot, req.EndTime); err != nil {
			return err
		}

		booked, err := tx.CountActiveAtSlot(ctx, key, uuid.Nil)
		if err != nil {
			return err
		}
		if booked >= slot.MaxPatients {
			return ErrSlotFull
		}

		now := s.now()
		id := uuid.New()
		appt := &Appointment{
			ID:                id,
			AppointmentNumber: appointmentNumber(now.In(s.loc), id),
			DoctorID:          req.DoctorID,
			PatientID:         req.PatientID,
			Date:              req.Date,
			TimeSlot:          TimeSlot{StartTime: slot.StartTime, EndTime: slot.EndTime},
			Status:            StatusScheduled,
			Type:              req.Type,
			Mode:              req.Mode,
			Reason:            strings.TrimSpace(req.Reason),
			Symptoms:          req.Symptoms,
			Notes:             req.Notes,
			Fee:               doctor.FeeFor(req.Type),
			PaymentStatus:     PaymentPending,
			RescheduleHistory: []RescheduleEntry{},
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if appt.Symptoms == nil {
			appt.Symptoms = []string{}
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		created = appt

		return s.recordEvent(ctx, tx, appt.ID, EventAppointmentCreated, map[string]any{
			"doctor_id":  req.DoctorID.String(),
			"patient_id": req.PatientID.String(),
			"date":       req.Date.String(),
			"start_time": slot.StartTime.String(),
			"actor_id":   actor.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RescheduleAppointment moves an appointment to another slot of the same
// doctor. On failure the appointment stays where it was.
func (s *Service) RescheduleAppointment(ctx context.Context, actor auth.Actor, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !canAccessAppointment(actor, current) {
		return nil, ErrNotAuthorized
	}
	if req.Date.Before(s.today()) {
		return nil, ErrPastDate
	}

	key := SlotKey{DoctorID: current.DoctorID, Date: req.Date, Start: req.StartTime}
	var updated *Appointment

	err = s.withSlotLock(ctx, key, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Repository) error {
			appt, err := tx.LockAppointment(lockCtx, id)
			if err != nil {
				return err
			}
			if !appt.Status.Modifiable() {
				return fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidStateTransition, appt.Status)
			}
			if err := tx.LockSlot(lockCtx, key); err != nil {
				return err
			}

			slot, err := offeredSlot(lockCtx, tx, appt.DoctorID, req.Date, req.StartTime)
			if err != nil {
				return err
			}
			if err := s.checkSlotRequest(req.Date, slot, req.EndTime); err != nil {
				return err
			}

			booked, err := tx.CountActiveAtSlot(lockCtx, key, appt.ID)
			if err != nil {
				return err
			}
			if booked >= slot.MaxPatients {
				return ErrSlotFull
			}

			now := s.now()
			entry := RescheduleEntry{
				PreviousDate:     appt.Date,
				PreviousTimeSlot: appt.TimeSlot,
				NewDate:          req.Date,
				NewTimeSlot:      TimeSlot{StartTime: slot.StartTime, EndTime: slot.EndTime},
				Reason:           strings.TrimSpace(req.Reason),
				ActorID:          actor.ID,
				At:               now,
			}
			if err := tx.InsertRescheduleEntry(lockCtx, appt.ID, entry); err != nil {
				return err
			}

			appt.Date = entry.NewDate
			appt.TimeSlot = entry.NewTimeSlot
			appt.Status = StatusRescheduled
			appt.UpdatedAt = now
			if err := tx.UpdateAppointment(lockCtx, appt); err != nil {
				return err
			}
			appt.RescheduleHistory = append(appt.RescheduleHistory, entry)
			updated = appt

			return s.recordEvent(lockCtx, tx, appt.ID, EventAppointmentRescheduled, map[string]any{
				"previous_date":  entry.PreviousDate.String(),
				"previous_start": entry.PreviousTimeSlot.StartTime.String(),
				"new_date":       entry.NewDate.String(),
				"new_start":      entry.NewTimeSlot.StartTime.String(),
				"actor_id":       actor.ID.String(),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment rescheduled",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("slot", key.String()),
	)
	s.publish(ctx, notify.EventAppointmentRescheduled, updated, req.Reason)
	return updated, nil
}

// CancelAppointment cancels for good. The slot is freed immediately because
// cancelled appointments are never counted.
func (s *Service) CancelAppointment(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError("cancellation reason is required")
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !canAccessAppointment(actor, current) {
		return nil, ErrNotAuthorized
	}

	var cancelled *Appointment
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if !appt.Status.Modifiable() {
			return fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidStateTransition, appt.Status)
		}

		refund := RefundNotApplicable
		if appt.PaymentStatus == PaymentPaid {
			refund = RefundPending
		}
		now := s.now()
		appt.Status = StatusCancelled
		appt.Cancellation = &Cancellation{
			By:           actor.ID,
			At:           now,
			Reason:       reason,
			RefundStatus: refund,
		}
		appt.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		cancelled = appt

		return s.recordEvent(ctx, tx, appt.ID, EventAppointmentCancelled, map[string]any{
			"reason":        reason,
			"refund_status": string(refund),
			"actor_id":      actor.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment cancelled", zap.String("appointment_id", cancelled.ID.String()))
	s.publish(ctx, notify.EventAppointmentCancelled, cancelled, reason)
	return cancelled, nil
}

const (
	numberAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxNumberAttempts = 3
)

// appointmentNumber builds the human readable APT-YYYYMMDD-XXXXXX identifier
// from the booking day and the random bytes of the appointment ID.
func appointmentNumber(bookedAt time.Time, id uuid.UUID) string {
	var suffix [6]byte
	for i := range suffix {
		suffix[i] = numberAlphabet[int(id[10+i])%len(numberAlphabet)]
	}
	return "APT-" + bookedAt.Format("20060102") + "-" + string(suffix[:])
}
