package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, notify.Event) error { return nil }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testServer struct {
	handler http.Handler
	repo    *appointment.MemoryRepository
	tokens  *auth.TokenManager
	doctor  appointment.Doctor
	patient appointment.Patient
	staff   auth.Actor
}

// The service clock sits on Sunday 2026-10-18; 2026-10-19 is the Monday
// the tests book against.
const monday = "2026-10-19"

func newTestServer(t *testing.T, burst int) *testServer {
	t.Helper()

	ts := &testServer{
		repo:    appointment.NewMemoryRepository(),
		tokens:  auth.NewTokenManager("test-secret", time.Hour),
		doctor:  appointment.Doctor{ID: uuid.New(), Name: "Meera Rao", ConsultationFee: 50000, FollowUpFee: 30000, IsActive: true},
		patient: appointment.Patient{ID: uuid.New(), Name: "Arjun"},
		staff:   auth.Actor{ID: uuid.New(), Role: auth.RoleStaff},
	}
	ts.repo.AddDoctor(ts.doctor)
	ts.repo.AddPatient(ts.patient)

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	cfg := config.Config{Timezone: "UTC", NoShowGrace: 30 * time.Minute, PublishTimeout: time.Second}
	svc := appointment.NewService(ts.repo, redisclient.NewLocalSlotLocker(time.Second, time.Second),
		nopPublisher{}, cfg, zap.NewNop(), appointment.WithClock(func() time.Time { return now }))

	days := make([]schedule.Day, 0, schedule.DaysPerWeek)
	for w := schedule.Sunday; w <= schedule.Saturday; w++ {
		d := schedule.Day{Weekday: w}
		if w == schedule.Monday {
			d.IsWorking = true
			d.Blocks = []schedule.Block{{
				StartTime:           schedule.NewTimeOfDay(9, 0),
				EndTime:             schedule.NewTimeOfDay(13, 0),
				SlotDurationMinutes: 30,
				MaxPatientsPerSlot:  1,
			}}
		}
		days = append(days, d)
	}
	if _, err := svc.SetWeeklyTemplate(context.Background(), ts.staff, ts.doctor.ID, days); err != nil {
		t.Fatalf("set template: %v", err)
	}

	ts.handler = NewRouter(RouterConfig{
		Service:   svc,
		Tokens:    ts.tokens,
		Logger:    zap.NewNop(),
		Env:       "test",
		Version:   "test",
		RateLimit: rate.Every(time.Hour),
		RateBurst: burst,
	})
	return ts
}

func (ts *testServer) token(t *testing.T, actor auth.Actor) string {
	t.Helper()
	tok, err := ts.tokens.Issue(actor)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path string, actor *auth.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, *actor))
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) patientActor() *auth.Actor {
	return &auth.Actor{ID: ts.patient.ID, Role: auth.RolePatient}
}

func (ts *testServer) createBody(start string) CreateAppointmentRequest {
	return CreateAppointmentRequest{
		DoctorID:        ts.doctor.ID.String(),
		AppointmentDate: monday,
		StartTime:       start,
		AppointmentType: "regular",
		Reason:          "checkup",
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if got := decode[ErrorResponse](t, rec); got.Error != code {
		t.Fatalf("expected error code %q, got %q (%s)", code, got.Error, got.Details)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     []DependencyCheck
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all up",
			checks:     []DependencyCheck{{Name: "postgres", Pinger: fakePinger{}, Critical: true}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "optional down",
			checks: []DependencyCheck{
				{Name: "postgres", Pinger: fakePinger{}, Critical: true},
				{Name: "redis", Pinger: fakePinger{err: errors.New("refused")}},
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "critical down",
			checks:     []DependencyCheck{{Name: "postgres", Pinger: fakePinger{err: errors.New("refused")}, Critical: true}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks, "test", "v1")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if got := decode[ReadinessResponse](t, rec); got.Status != tt.wantStatus {
				t.Fatalf("expected status %q, got %q", tt.wantStatus, got.Status)
			}
		})
	}

	rec := httptest.NewRecorder()
	NewHealthHandler(nil, "test", "v1").Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("liveness: expected 200, got %d", rec.Code)
	}
}

func TestGetAvailability(t *testing.T) {
	ts := newTestServer(t, 10)

	rec := ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/availability?date="+monday, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	av := decode[appointment.Availability](t, rec)
	if !av.Available || len(av.Slots) != 8 {
		t.Fatalf("expected 8 open slots, got %+v", av)
	}
	if av.Slots[0].StartTime.String() != "09:00" || av.Slots[0].RemainingSlots != 1 {
		t.Errorf("unexpected first slot %+v", av.Slots[0])
	}
}

func TestGetAvailability_BadInput(t *testing.T) {
	ts := newTestServer(t, 10)

	rec := ts.do(t, http.MethodGet, "/doctors/not-a-uuid/availability?date="+monday, nil, nil)
	expectError(t, rec, http.StatusBadRequest, "invalid_doctor_id")

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/availability?date=19-10-2026", nil, nil)
	expectError(t, rec, http.StatusBadRequest, "invalid_date")

	rec = ts.do(t, http.MethodGet, "/doctors/"+uuid.NewString()+"/availability?date="+monday, nil, nil)
	expectError(t, rec, http.StatusNotFound, "doctor_not_found")
}

func TestCreateAppointment_RequiresToken(t *testing.T) {
	ts := newTestServer(t, 10)

	rec := ts.do(t, http.MethodPost, "/appointments", nil, ts.createBody("09:00"))
	expectError(t, rec, http.StatusUnauthorized, "unauthorized")

	req := httptest.NewRequest(http.MethodPost, "/appointments", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusUnauthorized, "invalid_token")
}

func TestCreateAppointment_ThenSlotFull(t *testing.T) {
	ts := newTestServer(t, 10)

	rec := ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), ts.createBody("09:00"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	appt := decode[appointment.Appointment](t, rec)
	if appt.PatientID != ts.patient.ID {
		t.Errorf("patient should default to the caller, got %s", appt.PatientID)
	}
	if appt.Status != appointment.StatusScheduled || appt.Fee != 50000 {
		t.Errorf("unexpected appointment %+v", appt)
	}
	if appt.TimeSlot.EndTime.String() != "09:30" {
		t.Errorf("end time should come from the slot, got %s", appt.TimeSlot.EndTime)
	}

	other := appointment.Patient{ID: uuid.New(), Name: "Other"}
	ts.repo.AddPatient(other)
	body := ts.createBody("09:00")
	body.PatientID = other.ID.String()
	rec = ts.do(t, http.MethodPost, "/appointments", &ts.staff, body)
	expectError(t, rec, http.StatusConflict, "slot_full")

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/availability?date="+monday, nil, nil)
	av := decode[appointment.Availability](t, rec)
	if av.Slots[0].Available || av.Slots[0].Booked != 1 {
		t.Errorf("09:00 should be booked out, got %+v", av.Slots[0])
	}
}

func TestCreateAppointment_Validation(t *testing.T) {
	ts := newTestServer(t, 10)

	body := ts.createBody("09:00")
	body.Reason = ""
	rec := ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), body)
	expectError(t, rec, http.StatusBadRequest, "validation_failed")

	body = ts.createBody("9am")
	rec = ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), body)
	expectError(t, rec, http.StatusBadRequest, "validation_failed")

	body = ts.createBody("09:15")
	rec = ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), body)
	expectError(t, rec, http.StatusConflict, "slot_not_offered")

	body = ts.createBody("09:00")
	body.AppointmentDate = "2026-10-12"
	rec = ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), body)
	expectError(t, rec, http.StatusBadRequest, "past_date")

	// Staff must say who the appointment is for.
	rec = ts.do(t, http.MethodPost, "/appointments", &ts.staff, ts.createBody("09:00"))
	expectError(t, rec, http.StatusBadRequest, "invalid_patient_id")
}

func TestCreateAppointment_PatientCannotBookForOthers(t *testing.T) {
	ts := newTestServer(t, 10)

	body := ts.createBody("09:00")
	body.PatientID = uuid.NewString()
	rec := ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), body)
	expectError(t, rec, http.StatusForbidden, "not_authorized")
}

func TestRescheduleAndCancel(t *testing.T) {
	ts := newTestServer(t, 10)

	rec := ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), ts.createBody("09:00"))
	appt := decode[appointment.Appointment](t, rec)
	path := "/appointments/" + appt.ID.String()

	rec = ts.do(t, http.MethodPut, path+"/reschedule", ts.patientActor(), RescheduleAppointmentRequest{
		AppointmentDate: monday,
		StartTime:       "10:00",
		Reason:          "running late",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reschedule: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	moved := decode[appointment.Appointment](t, rec)
	if moved.Status != appointment.StatusRescheduled || moved.TimeSlot.StartTime.String() != "10:00" {
		t.Fatalf("unexpected rescheduled appointment %+v", moved)
	}
	if len(moved.RescheduleHistory) != 1 || moved.RescheduleHistory[0].PreviousTimeSlot.StartTime.String() != "09:00" {
		t.Fatalf("expected one history entry from 09:00, got %+v", moved.RescheduleHistory)
	}

	rec = ts.do(t, http.MethodDelete, path, ts.patientActor(), CancelAppointmentRequest{})
	expectError(t, rec, http.StatusBadRequest, "validation_failed")

	rec = ts.do(t, http.MethodDelete, path, ts.patientActor(), CancelAppointmentRequest{Reason: "feeling better"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cancelled := decode[appointment.Appointment](t, rec)
	if cancelled.Status != appointment.StatusCancelled || cancelled.Cancellation == nil {
		t.Fatalf("unexpected cancelled appointment %+v", cancelled)
	}

	rec = ts.do(t, http.MethodDelete, path, ts.patientActor(), CancelAppointmentRequest{Reason: "again"})
	expectError(t, rec, http.StatusConflict, "invalid_state_transition")
}

func TestCancelCompletedAppointment(t *testing.T) {
	ts := newTestServer(t, 10)

	rec := ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), ts.createBody("11:00"))
	appt := decode[appointment.Appointment](t, rec)
	path := "/appointments/" + appt.ID.String()
	doctor := &auth.Actor{ID: ts.doctor.ID, Role: auth.RoleDoctor}

	for _, status := range []string{"in-progress", "completed"} {
		rec = ts.do(t, http.MethodPatch, path+"/status", doctor, UpdateStatusRequest{Status: status})
		if rec.Code != http.StatusOK {
			t.Fatalf("status %s: expected 200, got %d: %s", status, rec.Code, rec.Body.String())
		}
	}

	rec = ts.do(t, http.MethodDelete, path, ts.patientActor(), CancelAppointmentRequest{Reason: "too late"})
	expectError(t, rec, http.StatusConflict, "invalid_state_transition")

	// Patients never drive clinical status.
	rec = ts.do(t, http.MethodPatch, path+"/status", ts.patientActor(), UpdateStatusRequest{Status: "confirmed"})
	expectError(t, rec, http.StatusForbidden, "not_authorized")
}

func TestGetAndListAppointments(t *testing.T) {
	ts := newTestServer(t, 10)

	rec := ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), ts.createBody("09:00"))
	appt := decode[appointment.Appointment](t, rec)

	rec = ts.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), ts.patientActor(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	stranger := &auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	rec = ts.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), stranger, nil)
	expectError(t, rec, http.StatusForbidden, "not_authorized")

	rec = ts.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), &ts.staff, nil)
	expectError(t, rec, http.StatusNotFound, "appointment_not_found")

	rec = ts.do(t, http.MethodGet, "/appointments?date="+monday, &ts.staff, nil)
	list := decode[ListResponse[appointment.Appointment]](t, rec)
	if len(list.Items) != 1 || list.Limit != 20 {
		t.Fatalf("expected one item with default limit, got %+v", list)
	}

	rec = ts.do(t, http.MethodGet, "/appointments", stranger, nil)
	list = decode[ListResponse[appointment.Appointment]](t, rec)
	if len(list.Items) != 0 {
		t.Fatalf("a patient should only see their own appointments, got %d", len(list.Items))
	}

	rec = ts.do(t, http.MethodGet, "/appointments?limit=abc", &ts.staff, nil)
	expectError(t, rec, http.StatusBadRequest, "invalid_limit")
}

func TestBookingRateLimit(t *testing.T) {
	ts := newTestServer(t, 1)

	rec := ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), ts.createBody("09:00"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), ts.createBody("09:30"))
	expectError(t, rec, http.StatusTooManyRequests, "rate_limited")

	// Reads are not limited.
	rec = ts.do(t, http.MethodGet, "/appointments", ts.patientActor(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for reads, got %d", rec.Code)
	}
}

func TestWeeklySchedule(t *testing.T) {
	ts := newTestServer(t, 10)
	path := "/doctors/" + ts.doctor.ID.String() + "/schedule"

	days := make([]DayRequest, 0, schedule.DaysPerWeek)
	for i := 0; i < schedule.DaysPerWeek; i++ {
		d := DayRequest{DayOfWeek: &i}
		if i == int(schedule.Tuesday) {
			d.IsWorking = true
			d.Blocks = []BlockRequest{{StartTime: "14:00", EndTime: "16:00", SlotDuration: 20, MaxPatients: 2}}
		}
		days = append(days, d)
	}

	rec := ts.do(t, http.MethodPut, path, ts.patientActor(), WeeklyScheduleRequest{Days: days})
	expectError(t, rec, http.StatusForbidden, "not_authorized")

	doctor := &auth.Actor{ID: ts.doctor.ID, Role: auth.RoleDoctor}
	rec = ts.do(t, http.MethodPut, path, doctor, WeeklyScheduleRequest{Days: days})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, path, nil, nil)
	got := decode[WeeklyScheduleResponse](t, rec)
	if len(got.Days) != schedule.DaysPerWeek || got.Days[0].Weekday != schedule.Sunday {
		t.Fatalf("expected seven days Sunday first, got %+v", got.Days)
	}
	if tue := got.Days[schedule.Tuesday]; !tue.IsWorking || len(tue.Blocks) != 1 || tue.Blocks[0].SlotType != schedule.DefaultSlotType {
		t.Fatalf("unexpected tuesday %+v", tue)
	}

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/availability?date=2026-10-20", nil, nil)
	av := decode[appointment.Availability](t, rec)
	if len(av.Slots) != 6 || av.Slots[0].RemainingSlots != 2 {
		t.Fatalf("expected six 20 minute slots for two patients, got %+v", av.Slots)
	}

	// Six days is not a week.
	rec = ts.do(t, http.MethodPut, path, doctor, WeeklyScheduleRequest{Days: days[:6]})
	expectError(t, rec, http.StatusBadRequest, "validation_failed")

	// Overlapping blocks are rejected.
	days[1].IsWorking = true
	days[1].Blocks = []BlockRequest{
		{StartTime: "09:00", EndTime: "11:00"},
		{StartTime: "10:00", EndTime: "12:00"},
	}
	rec = ts.do(t, http.MethodPut, path, doctor, WeeklyScheduleRequest{Days: days})
	expectError(t, rec, http.StatusBadRequest, "validation_failed")
}

func TestOverrides(t *testing.T) {
	ts := newTestServer(t, 10)
	base := "/doctors/" + ts.doctor.ID.String() + "/overrides"

	rec := ts.do(t, http.MethodPut, base+"/"+monday, &ts.staff, OverrideRequest{IsWorking: false, Reason: "Holiday"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/availability?date="+monday, nil, nil)
	av := decode[appointment.Availability](t, rec)
	if av.Available || av.Reason != "Holiday" || len(av.Slots) != 0 {
		t.Fatalf("expected holiday, got %+v", av)
	}

	rec = ts.do(t, http.MethodPost, "/appointments", ts.patientActor(), ts.createBody("09:00"))
	expectError(t, rec, http.StatusConflict, "doctor_not_working")

	rec = ts.do(t, http.MethodGet, base+"?from=2026-10-01&to=2026-10-31", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	if list := decode[[]schedule.Override](t, rec); len(list) != 1 || list[0].Reason != "Holiday" {
		t.Fatalf("unexpected overrides %+v", list)
	}

	rec = ts.do(t, http.MethodDelete, base+"/"+monday, &ts.staff, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodDelete, base+"/"+monday, &ts.staff, nil)
	expectError(t, rec, http.StatusNotFound, "override_not_found")

	rec = ts.do(t, http.MethodPut, base+"/20261019", &ts.staff, OverrideRequest{})
	expectError(t, rec, http.StatusBadRequest, "invalid_date")
}
