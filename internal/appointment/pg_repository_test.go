package appointment

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

// passthroughLocker takes no lock at all, leaving the database as the only
// thing that orders concurrent bookings.
type passthroughLocker struct{}

func (passthroughLocker) WithSlotLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type pgFixture struct {
	pool    *pgxpool.Pool
	repo    *PgRepository
	svc     *Service
	doctor  uuid.UUID
	staff   auth.Actor
	created []uuid.UUID
}

// newPgFixture needs a disposable database in POSTGRES_DSN.
func newPgFixture(t *testing.T) *pgFixture {
	t.Helper()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set, skipping postgres tests")
	}
	ctx := context.Background()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 25})
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	m, err := db.NewMigrator(pool)
	if err != nil {
		t.Fatalf("init migrator: %v", err)
	}
	if err := m.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_ = m.Close()

	f := &pgFixture{
		pool:   pool,
		repo:   NewPgRepository(pool),
		doctor: uuid.New(),
		staff:  auth.Actor{ID: uuid.New(), Role: auth.RoleStaff},
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO doctors (id, name, consultation_fee, follow_up_fee, is_active)
		VALUES ($1, 'Meera Rao', 50000, 30000, TRUE)
	`, f.doctor); err != nil {
		t.Fatalf("insert doctor: %v", err)
	}
	t.Cleanup(func() { f.cleanup(t) })

	cfg := config.Config{Timezone: "UTC", NoShowGrace: 30 * time.Minute, PublishTimeout: time.Second}
	f.svc = NewService(f.repo, passthroughLocker{}, &fakePublisher{}, cfg, zap.NewNop(),
		WithClock(func() time.Time { return fixtureNow }))

	_, err = f.svc.SetWeeklyTemplate(ctx, f.staff, f.doctor, week(map[schedule.Weekday][]schedule.Block{
		schedule.Wednesday: {block(t, "09:00", "10:00", 30, 2)},
	}))
	if err != nil {
		t.Fatalf("set template: %v", err)
	}
	return f
}

func (f *pgFixture) addPatient(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := f.pool.Exec(context.Background(),
		`INSERT INTO patients (id, name) VALUES ($1, 'Patient')`, id); err != nil {
		t.Fatalf("insert patient: %v", err)
	}
	f.created = append(f.created, id)
	return id
}

func (f *pgFixture) cleanup(t *testing.T) {
	ctx := context.Background()
	stmts := []string{
		`DELETE FROM event_logs WHERE appointment_id IN (SELECT id FROM appointments WHERE doctor_id = $1)`,
		`DELETE FROM appointment_reschedules WHERE appointment_id IN (SELECT id FROM appointments WHERE doctor_id = $1)`,
		`DELETE FROM appointments WHERE doctor_id = $1`,
		`DELETE FROM doctors WHERE id = $1`,
	}
	for _, q := range stmts {
		if _, err := f.pool.Exec(ctx, q, f.doctor); err != nil {
			t.Errorf("cleanup: %v", err)
		}
	}
	for _, id := range f.created {
		if _, err := f.pool.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id); err != nil {
			t.Errorf("cleanup patient: %v", err)
		}
	}
}

func TestPgRepository_ConcurrentBookingsRespectCapacity(t *testing.T) {
	f := newPgFixture(t)

	const attempts = 20
	patients := make([]uuid.UUID, attempts)
	for i := range patients {
		patients[i] = f.addPatient(t)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		full      int
	)
	start := make(chan struct{})
	for _, p := range patients {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := f.svc.CreateAppointment(context.Background(), f.staff, CreateRequest{
				DoctorID:  f.doctor,
				PatientID: patientID,
				Date:      wednesday,
				StartTime: tod(t, "09:00"),
				Type:      TypeRegular,
				Reason:    "checkup",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrSlotFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	close(start)
	wg.Wait()

	if succeeded != 2 || full != attempts-2 {
		t.Fatalf("expected 2 bookings and %d rejections, got %d and %d", attempts-2, succeeded, full)
	}
	key := SlotKey{DoctorID: f.doctor, Date: wednesday, Start: tod(t, "09:00")}
	n, err := f.repo.CountActiveAtSlot(context.Background(), key, uuid.Nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 active appointments at slot, got %d", n)
	}
}

func TestPgRepository_ConcurrentCancelAndReschedule(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, f.staff, CreateRequest{
		DoctorID: f.doctor, PatientID: f.addPatient(t), Date: wednesday,
		StartTime: tod(t, "09:00"), Type: TypeRegular, Reason: "checkup",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	var (
		wg                       sync.WaitGroup
		cancelErr, rescheduleErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, cancelErr = f.svc.CancelAppointment(ctx, f.staff, appt.ID, "patient called")
	}()
	go func() {
		defer wg.Done()
		_, rescheduleErr = f.svc.RescheduleAppointment(ctx, f.staff, appt.ID, RescheduleRequest{
			Date: wednesday, StartTime: tod(t, "09:30"), Reason: "later",
		})
	}()
	wg.Wait()

	got, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// The row lock orders the two writers. Whichever commits second sees the
	// first one's result.
	switch {
	case cancelErr != nil && rescheduleErr != nil:
		t.Fatalf("both failed: %v, %v", cancelErr, rescheduleErr)
	case cancelErr == nil && rescheduleErr == nil:
		if got.Status != StatusCancelled || len(got.RescheduleHistory) != 1 {
			t.Fatalf("expected reschedule then cancel, got %s with %d history entries", got.Status, len(got.RescheduleHistory))
		}
	case cancelErr == nil:
		if !errors.Is(rescheduleErr, ErrInvalidStateTransition) || got.Status != StatusCancelled {
			t.Fatalf("unexpected outcome: status %s, reschedule error %v", got.Status, rescheduleErr)
		}
	default:
		t.Fatalf("cancel failed: %v", cancelErr)
	}
}

func TestPgRepository_RejectsDuplicateNumber(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()
	patient := f.addPatient(t)
	number := appointmentNumber(fixtureNow, uuid.New())

	newAppt := func(start string) *Appointment {
		return &Appointment{
			ID:                uuid.New(),
			AppointmentNumber: number,
			DoctorID:          f.doctor,
			PatientID:         patient,
			Date:              wednesday,
			TimeSlot:          TimeSlot{StartTime: tod(t, start), EndTime: tod(t, start).Add(30)},
			Status:            StatusScheduled,
			Type:              TypeRegular,
			Mode:              ModeInPerson,
			Reason:            "checkup",
			PaymentStatus:     PaymentPending,
			CreatedAt:         fixtureNow,
			UpdatedAt:         fixtureNow,
		}
	}

	if err := f.repo.InsertAppointment(ctx, newAppt("09:00")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := f.repo.InsertAppointment(ctx, newAppt("09:30")); !errors.Is(err, ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber, got %v", err)
	}
}
