package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentRescheduled   = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled     = "APPOINTMENT_CANCELLED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentCheckedIn     = "APPOINTMENT_CHECKED_IN"
	EventAppointmentNoShow        = "APPOINTMENT_NO_SHOW"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Service struct {
	repo           Repository
	locker         redisclient.Locker
	notifier       notify.Publisher
	logger         *zap.Logger
	loc            *time.Location
	noShowGrace    time.Duration
	publishTimeout time.Duration
	now            func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the booking core. notifier may be nil, in which case no
// notifications are sent.
func NewService(repo Repository, locker redisclient.Locker, notifier notify.Publisher, cfg config.Config, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		locker:         locker,
		notifier:       notifier,
		logger:         logger,
		loc:            cfg.Location(),
		noShowGrace:    cfg.NoShowGrace,
		publishTimeout: cfg.PublishTimeout,
		now:            time.Now,
	}
	if s.publishTimeout <= 0 {
		s.publishTimeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// today is the current date on the clinic's wall clock.
func (s *Service) today() schedule.Date {
	return schedule.DateOf(s.now().In(s.loc))
}

// GetAppointment returns one appointment with its reschedule history.
func (s *Service) GetAppointment(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !canAccessAppointment(actor, appt) {
		return nil, ErrNotAuthorized
	}
	return appt, nil
}

// ListAppointments lists appointments visible to actor. Patients and doctors
// only ever see their own.
func (s *Service) ListAppointments(ctx context.Context, actor auth.Actor, f ListFilter) ([]Appointment, error) {
	switch actor.Role {
	case auth.RolePatient:
		if f.PatientID != nil && *f.PatientID != actor.ID {
			return nil, ErrNotAuthorized
		}
		f.PatientID = &actor.ID
	case auth.RoleDoctor:
		if f.DoctorID != nil && *f.DoctorID != actor.ID {
			return nil, ErrNotAuthorized
		}
		f.DoctorID = &actor.ID
	}

	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	appointments, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if appointments == nil {
		appointments = []Appointment{}
	}
	return appointments, nil
}

// withSlotLock runs fn while holding the distributed lock for key.
func (s *Service) withSlotLock(ctx context.Context, key SlotKey, fn func(ctx context.Context) error) error {
	err := s.locker.WithSlotLock(ctx, key.String(), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrSlotBeingBooked
	}
	return err
}

// recordEvent writes an audit row in the caller's transaction.
func (s *Service) recordEvent(ctx context.Context, repo Repository, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("log %s: %w", eventType, err)
	}
	return nil
}

// publish hands a committed change to the notifier. Failures are only logged.
func (s *Service) publish(ctx context.Context, typ notify.EventType, appt *Appointment, reason string) {
	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	ev := notify.Event{
		Type:              typ,
		AppointmentID:     appt.ID,
		AppointmentNumber: appt.AppointmentNumber,
		Status:            string(appt.Status),
		DoctorID:          appt.DoctorID,
		PatientID:         appt.PatientID,
		Date:              appt.Date.String(),
		StartTime:         appt.TimeSlot.StartTime.String(),
		EndTime:           appt.TimeSlot.EndTime.String(),
		Reason:            reason,
		OccurredAt:        s.now(),
	}
	if d, err := s.repo.GetDoctorByID(ctx, appt.DoctorID); err == nil {
		ev.DoctorName = d.Name
	}
	if p, err := s.repo.GetPatientByID(ctx, appt.PatientID); err == nil {
		ev.PatientName = p.Name
		if p.Email != nil {
			ev.PatientEmail = *p.Email
		}
	}

	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish notification",
			zap.String("type", string(typ)),
			zap.String("appointment_id", appt.ID.String()),
			zap.Error(err),
		)
	}
}
