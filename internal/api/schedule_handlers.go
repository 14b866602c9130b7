package api

import (
	"fmt"
	"net/http"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := urlUUID(w, r, "doctorID", "invalid_doctor_id")
	if !ok {
		return
	}
	date, err := schedule.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date query parameter must be YYYY-MM-DD")
		return
	}

	avail, err := h.svc.GetAvailability(r.Context(), doctorID, date)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, avail)
}

func (h *Handler) GetWeeklySchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := urlUUID(w, r, "doctorID", "invalid_doctor_id")
	if !ok {
		return
	}

	tpl, err := h.svc.GetWeeklyTemplate(r.Context(), doctorID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, weeklyScheduleResponse(tpl))
}

func (h *Handler) SetWeeklySchedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	doctorID, ok := urlUUID(w, r, "doctorID", "invalid_doctor_id")
	if !ok {
		return
	}

	var req WeeklyScheduleRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	days := make([]schedule.Day, 0, len(req.Days))
	for i, d := range req.Days {
		blocks, err := toBlocks(d.Blocks)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("days[%d]: %v", i, err))
			return
		}
		days = append(days, schedule.Day{
			Weekday:   schedule.Weekday(*d.DayOfWeek),
			IsWorking: d.IsWorking,
			Blocks:    blocks,
		})
	}

	tpl, err := h.svc.SetWeeklyTemplate(r.Context(), actor, doctorID, days)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, weeklyScheduleResponse(tpl))
}

func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := urlUUID(w, r, "doctorID", "invalid_doctor_id")
	if !ok {
		return
	}

	q := r.URL.Query()
	from, err := schedule.ParseDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "from query parameter must be YYYY-MM-DD")
		return
	}
	to, err := schedule.ParseDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "to query parameter must be YYYY-MM-DD")
		return
	}

	overrides, err := h.svc.ListOverrides(r.Context(), doctorID, from, to)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overrides)
}

func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	doctorID, ok := urlUUID(w, r, "doctorID", "invalid_doctor_id")
	if !ok {
		return
	}
	date, ok := urlDate(w, r, "date")
	if !ok {
		return
	}

	var req OverrideRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	blocks, err := toBlocks(req.Blocks)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	ov, err := h.svc.SetOverride(r.Context(), actor, doctorID, date, appointment.OverrideInput{
		IsWorking: req.IsWorking,
		Reason:    req.Reason,
		Blocks:    blocks,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ov)
}

func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	doctorID, ok := urlUUID(w, r, "doctorID", "invalid_doctor_id")
	if !ok {
		return
	}
	date, ok := urlDate(w, r, "date")
	if !ok {
		return
	}

	if err := h.svc.DeleteOverride(r.Context(), actor, doctorID, date); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toBlocks(in []BlockRequest) ([]schedule.Block, error) {
	blocks := make([]schedule.Block, 0, len(in))
	for i, b := range in {
		start, err := schedule.ParseTimeOfDay(b.StartTime)
		if err != nil {
			return nil, fmt.Errorf("blocks[%d].start_time: %w", i, err)
		}
		end, err := schedule.ParseTimeOfDay(b.EndTime)
		if err != nil {
			return nil, fmt.Errorf("blocks[%d].end_time: %w", i, err)
		}
		blocks = append(blocks, schedule.Block{
			StartTime:           start,
			EndTime:             end,
			SlotDurationMinutes: b.SlotDuration,
			MaxPatientsPerSlot:  b.MaxPatients,
			SlotType:            b.SlotType,
		})
	}
	return blocks, nil
}

func weeklyScheduleResponse(tpl *schedule.Template) WeeklyScheduleResponse {
	return WeeklyScheduleResponse{
		DoctorID:  tpl.DoctorID,
		Days:      tpl.OrderedDays(),
		UpdatedAt: tpl.UpdatedAt,
	}
}
