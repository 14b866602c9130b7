package appointment

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

type overrideKey struct {
	doctorID uuid.UUID
	date     schedule.Date
}

type memoryData struct {
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	templates    map[uuid.UUID]schedule.Template
	overrides    map[overrideKey]schedule.Override
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

func newMemoryData() *memoryData {
	return &memoryData{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		templates:    make(map[uuid.UUID]schedule.Template),
		overrides:    make(map[overrideKey]schedule.Override),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.doctors {
		c.doctors[k] = v
	}
	for k, v := range d.patients {
		c.patients[k] = v
	}
	for k, v := range d.templates {
		c.templates[k] = v
	}
	for k, v := range d.overrides {
		c.overrides[k] = v
	}
	for k, v := range d.appointments {
		c.appointments[k] = copyAppointment(v)
	}
	c.events = append([]EventLog(nil), d.events...)
	return c
}

func copyAppointment(a Appointment) Appointment {
	a.Symptoms = append([]string(nil), a.Symptoms...)
	a.RescheduleHistory = append([]RescheduleEntry{}, a.RescheduleHistory...)
	if a.Cancellation != nil {
		c := *a.Cancellation
		a.Cancellation = &c
	}
	if a.CheckedInAt != nil {
		t := *a.CheckedInAt
		a.CheckedInAt = &t
	}
	return a
}

// MemoryRepository keeps everything in process memory. Transactions are
// serialised and work on a copy that replaces the live data on commit, so a
// failed transaction leaves nothing behind. It backs the tests and local runs
// without Postgres.
type MemoryRepository struct {
	mu   *sync.RWMutex
	txMu *sync.Mutex
	data *memoryData
	inTx bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		mu:   &sync.RWMutex{},
		txMu: &sync.Mutex{},
		data: newMemoryData(),
	}
}

// AddDoctor and AddPatient seed reference data.
func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.write(func(data *memoryData) { data.doctors[d.ID] = d })
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.write(func(data *memoryData) { data.patients[p.ID] = p })
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.data.events...)
}

func (r *MemoryRepository) read(fn func(data *memoryData)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.data)
}

// write applies fn directly, or as a single-statement transaction outside WithTx.
func (r *MemoryRepository) write(fn func(data *memoryData)) {
	if !r.inTx {
		r.txMu.Lock()
		defer r.txMu.Unlock()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.data)
}

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	var (
		d  Doctor
		ok bool
	)
	r.read(func(data *memoryData) { d, ok = data.doctors[id] })
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	var (
		p  Patient
		ok bool
	)
	r.read(func(data *memoryData) { p, ok = data.patients[id] })
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetTemplate(_ context.Context, doctorID uuid.UUID) (*schedule.Template, error) {
	var (
		tpl schedule.Template
		ok  bool
	)
	r.read(func(data *memoryData) { tpl, ok = data.templates[doctorID] })
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return &tpl, nil
}

func (r *MemoryRepository) SaveTemplate(_ context.Context, tpl *schedule.Template) error {
	days := make(map[schedule.Weekday]schedule.Day, len(tpl.Days))
	for k, v := range tpl.Days {
		days[k] = v
	}
	saved := *tpl
	saved.Days = days
	r.write(func(data *memoryData) { data.templates[tpl.DoctorID] = saved })
	return nil
}

func (r *MemoryRepository) GetOverride(_ context.Context, doctorID uuid.UUID, date schedule.Date) (*schedule.Override, error) {
	var (
		ov schedule.Override
		ok bool
	)
	r.read(func(data *memoryData) { ov, ok = data.overrides[overrideKey{doctorID, date}] })
	if !ok {
		return nil, ErrOverrideNotFound
	}
	return &ov, nil
}

func (r *MemoryRepository) UpsertOverride(_ context.Context, ov *schedule.Override) error {
	saved := *ov
	r.write(func(data *memoryData) { data.overrides[overrideKey{ov.DoctorID, ov.Date}] = saved })
	return nil
}

func (r *MemoryRepository) DeleteOverride(_ context.Context, doctorID uuid.UUID, date schedule.Date) error {
	found := false
	r.write(func(data *memoryData) {
		k := overrideKey{doctorID, date}
		if _, found = data.overrides[k]; found {
			delete(data.overrides, k)
		}
	})
	if !found {
		return ErrOverrideNotFound
	}
	return nil
}

func (r *MemoryRepository) ListOverrides(_ context.Context, doctorID uuid.UUID, from, to schedule.Date) ([]schedule.Override, error) {
	var result []schedule.Override
	r.read(func(data *memoryData) {
		for k, ov := range data.overrides {
			if k.doctorID == doctorID && !k.date.Before(from) && !k.date.After(to) {
				result = append(result, ov)
			}
		}
	})
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (r *MemoryRepository) ListActiveAppointments(_ context.Context, doctorID uuid.UUID, date schedule.Date) ([]Appointment, error) {
	result := r.filter(func(a Appointment) bool {
		return a.DoctorID == doctorID && a.Date == date && a.Status != StatusCancelled
	})
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TimeSlot.StartTime < result[j].TimeSlot.StartTime
	})
	return result, nil
}

func (r *MemoryRepository) CountActiveAtSlot(_ context.Context, key SlotKey, excludeID uuid.UUID) (int, error) {
	n := 0
	r.read(func(data *memoryData) {
		for _, a := range data.appointments {
			if a.ID != excludeID && a.Status != StatusCancelled && a.SlotKey() == key {
				n++
			}
		}
	})
	return n, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	var (
		a  Appointment
		ok bool
	)
	r.read(func(data *memoryData) {
		if a, ok = data.appointments[id]; ok {
			a = copyAppointment(a)
		}
	})
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	result := r.filter(func(a Appointment) bool {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			return false
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			return false
		}
		return f.Date == nil || a.Date == *f.Date
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].TimeSlot.StartTime > result[j].TimeSlot.StartTime
	})

	if f.Offset >= len(result) {
		return nil, nil
	}
	result = result[f.Offset:]
	if f.Limit > 0 && f.Limit < len(result) {
		result = result[:f.Limit]
	}
	return result, nil
}

func (r *MemoryRepository) ListOpenThrough(_ context.Context, through schedule.Date) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return a.Status.Open() && !a.Date.After(through)
	}), nil
}

func (r *MemoryRepository) filter(keep func(Appointment) bool) []Appointment {
	var result []Appointment
	r.read(func(data *memoryData) {
		for _, a := range data.appointments {
			if keep(a) {
				result = append(result, copyAppointment(a))
			}
		}
	})
	return result
}

func (r *MemoryRepository) WithTx(_ context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	work := r.data.clone()
	r.mu.RUnlock()

	tx := &MemoryRepository{mu: &sync.RWMutex{}, txMu: r.txMu, data: work, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	r.data = work
	r.mu.Unlock()
	return nil
}

// LockSlot is a no-op: transactions are already serialised.
func (r *MemoryRepository) LockSlot(context.Context, SlotKey) error {
	return nil
}

func (r *MemoryRepository) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetAppointmentByID(ctx, id)
}

func (r *MemoryRepository) InsertAppointment(_ context.Context, a *Appointment) error {
	saved := copyAppointment(*a)
	dup := false
	r.write(func(data *memoryData) {
		for _, existing := range data.appointments {
			if existing.AppointmentNumber == a.AppointmentNumber {
				dup = true
				return
			}
		}
		data.appointments[a.ID] = saved
	})
	if dup {
		return ErrDuplicateNumber
	}
	return nil
}

func (r *MemoryRepository) UpdateAppointment(_ context.Context, a *Appointment) error {
	found := false
	r.write(func(data *memoryData) {
		prev, ok := data.appointments[a.ID]
		if !ok {
			return
		}
		found = true
		saved := copyAppointment(*a)
		// History is only ever changed through InsertRescheduleEntry.
		saved.RescheduleHistory = prev.RescheduleHistory
		data.appointments[a.ID] = saved
	})
	if !found {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *MemoryRepository) InsertRescheduleEntry(_ context.Context, appointmentID uuid.UUID, e RescheduleEntry) error {
	found := false
	r.write(func(data *memoryData) {
		a, ok := data.appointments[appointmentID]
		if !ok {
			return
		}
		found = true
		a.RescheduleHistory = append(append([]RescheduleEntry{}, a.RescheduleHistory...), e)
		data.appointments[appointmentID] = a
	})
	if !found {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.write(func(data *memoryData) {
		ev.ID = int64(len(data.events) + 1)
		data.events = append(data.events, ev)
	})
	return nil
}
