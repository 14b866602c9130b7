package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req CreateAppointmentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}

	patientID := actor.ID
	if req.PatientID != "" {
		patientID, err = uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
	} else if actor.Role != auth.RolePatient {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id is required")
		return
	}

	date, start, end, ok := parseSlot(w, req.AppointmentDate, req.StartTime, req.EndTime)
	if !ok {
		return
	}

	appt, err := h.svc.CreateAppointment(r.Context(), actor, appointment.CreateRequest{
		DoctorID:  doctorID,
		PatientID: patientID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Type:      appointment.Type(req.AppointmentType),
		Mode:      appointment.Mode(req.Mode),
		Reason:    req.Reason,
		Symptoms:  req.Symptoms,
		Notes:     req.Notes,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, appt)
}

func (h *Handler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	var req RescheduleAppointmentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	date, start, end, ok := parseSlot(w, req.AppointmentDate, req.StartTime, req.EndTime)
	if !ok {
		return
	}

	appt, err := h.svc.RescheduleAppointment(r.Context(), actor, id, appointment.RescheduleRequest{
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Reason:    req.Reason,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	var req CancelAppointmentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	appt, err := h.svc.CancelAppointment(r.Context(), actor, id, req.Reason)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	appt, err := h.svc.UpdateStatus(r.Context(), actor, id, appointment.Status(req.Status), req.Notes)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.CheckIn(r.Context(), actor, id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), actor, id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var f appointment.ListFilter

	if v := q.Get("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		f.PatientID = &id
	}
	if v := q.Get("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		f.DoctorID = &id
	}
	if v := q.Get("date"); v != "" {
		d, err := schedule.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		f.Date = &d
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a number")
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a number")
			return
		}
		f.Offset = n
	}

	items, err := h.svc.ListAppointments(r.Context(), actor, f)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	writeJSON(w, http.StatusOK, ListResponse[appointment.Appointment]{
		Items:  items,
		Limit:  min(limit, 100),
		Offset: max(f.Offset, 0),
	})
}

// Helpers

func requireActor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", auth.ErrNoActor.Error())
	}
	return actor, ok
}

func urlUUID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func urlDate(w http.ResponseWriter, r *http.Request, param string) (schedule.Date, bool) {
	d, err := schedule.ParseDate(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", param+" must be YYYY-MM-DD")
		return schedule.Date{}, false
	}
	return d, true
}

// parseSlot parses a requested date and slot times. end is optional.
func parseSlot(w http.ResponseWriter, dateStr, startStr, endStr string) (schedule.Date, schedule.TimeOfDay, *schedule.TimeOfDay, bool) {
	date, err := schedule.ParseDate(dateStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "appointment_date must be YYYY-MM-DD")
		return schedule.Date{}, 0, nil, false
	}
	start, err := schedule.ParseTimeOfDay(startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be HH:MM")
		return schedule.Date{}, 0, nil, false
	}
	if endStr == "" {
		return date, start, nil, true
	}
	end, err := schedule.ParseTimeOfDay(endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be HH:MM")
		return schedule.Date{}, 0, nil, false
	}
	return date, start, &end, true
}
