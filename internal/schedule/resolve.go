package schedule

// DaySchedule is the effective schedule for one doctor on one date.
type DaySchedule struct {
	Date      Date
	IsWorking bool
	Reason    string
	Blocks    []Block
	// FromOverride reports whether an override decided the day.
	FromOverride bool
}

// ResolveDay picks the schedule that applies on date. An override, when present,
// decides the day on its own and the template is not consulted.
func ResolveDay(tpl *Template, ov *Override, date Date) DaySchedule {
	if ov != nil {
		ds := DaySchedule{Date: date, FromOverride: true, Reason: ov.Reason}
		if !ov.IsWorking {
			return ds
		}
		ds.IsWorking = true
		ds.Blocks = ov.Blocks
		return ds
	}

	ds := DaySchedule{Date: date}
	if tpl == nil {
		return ds
	}
	day, ok := tpl.Days[date.Weekday()]
	if !ok || !day.IsWorking {
		return ds
	}
	ds.IsWorking = true
	ds.Blocks = day.Blocks
	return ds
}

// Slots generates the day's slots, or nil when the doctor is off.
func (d DaySchedule) Slots() []Slot {
	if !d.IsWorking {
		return nil
	}
	return GenerateSlots(d.Blocks)
}
