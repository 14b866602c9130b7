package schedule

// GenerateSlots expands blocks into fixed-length slots in block order.
// A trailing remainder shorter than one slot is dropped. Blocks are expected to be
// validated already; a block with a non-positive duration yields nothing.
func GenerateSlots(blocks []Block) []Slot {
	slots := make([]Slot, 0, estimateSlots(blocks))
	for _, b := range blocks {
		if b.SlotDurationMinutes <= 0 {
			continue
		}
		for cur := b.StartTime; cur.Add(b.SlotDurationMinutes) <= b.EndTime; cur = cur.Add(b.SlotDurationMinutes) {
			slots = append(slots, Slot{
				StartTime:   cur,
				EndTime:     cur.Add(b.SlotDurationMinutes),
				SlotType:    b.SlotType,
				MaxPatients: b.MaxPatientsPerSlot,
			})
		}
	}
	return slots
}

// FindSlot returns the slot starting at start, if any.
func FindSlot(slots []Slot, start TimeOfDay) (Slot, bool) {
	for _, s := range slots {
		if s.StartTime == start {
			return s, true
		}
	}
	return Slot{}, false
}

func estimateSlots(blocks []Block) int {
	n := 0
	for _, b := range blocks {
		if b.SlotDurationMinutes > 0 && b.EndTime > b.StartTime {
			n += int(b.EndTime-b.StartTime) / b.SlotDurationMinutes
		}
	}
	return n
}
