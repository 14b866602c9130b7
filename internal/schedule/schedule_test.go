package schedule

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustTime(t *testing.T, s string) TimeOfDay {
	t.Helper()
	v, err := ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func morningBlock(t *testing.T) Block {
	return Block{
		StartTime:           mustTime(t, "09:00"),
		EndTime:             mustTime(t, "13:00"),
		SlotDurationMinutes: 30,
		MaxPatientsPerSlot:  1,
		SlotType:            "regular",
	}
}

func weekWithMonday(t *testing.T, blocks ...Block) []Day {
	days := make([]Day, 0, DaysPerWeek)
	for w := Sunday; w <= Saturday; w++ {
		d := Day{Weekday: w}
		if w == Monday {
			d.IsWorking = true
			d.Blocks = blocks
		}
		days = append(days, d)
	}
	return days
}

// ---------- TimeOfDay / Date ----------

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"24:00", 1440, false},
		{"24:01", 0, true},
		{"9:30", 0, true},
		{"09:60", 0, true},
		{"ab:cd", 0, true},
		{"09:5x", 0, true},
		{"+9:00", 0, true},
		{"09:+5", 0, true},
		{"-1:00", 0, true},
		{"09-30", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTimeOfDay(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %d, want %d", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestDate_WeekdayAndArithmetic(t *testing.T) {
	d := mustDate(t, "2026-10-19")
	if d.Weekday() != Monday {
		t.Fatalf("expected Monday, got %s", d.Weekday())
	}
	if next := d.AddDays(1); next.String() != "2026-10-20" || next.Weekday() != Tuesday {
		t.Errorf("unexpected next day %s (%s)", next, next.Weekday())
	}
	if !d.Before(d.AddDays(1)) || d.Before(d) {
		t.Error("Before is inconsistent")
	}
	if _, err := ParseDate("2026-02-30"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}

func TestDate_AtFollowsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 2026-03-08 springs forward at 02:00, 2026-11-01 falls back at 02:00.
	for _, in := range []string{"2026-03-08", "2026-11-01"} {
		d := mustDate(t, in)
		got := d.At(mustTime(t, "09:00"), loc)
		if got.Hour() != 9 || got.Minute() != 0 || DateOf(got) != d {
			t.Errorf("%s At(09:00) = %s, want 09:00 local", in, got)
		}
	}

	d := mustDate(t, "2026-03-08")
	if got, want := d.At(mustTime(t, "24:00"), loc), d.AddDays(1).Time(loc); !got.Equal(want) {
		t.Errorf("At(24:00) = %s, want %s", got, want)
	}
	if got := d.At(mustTime(t, "10:30"), nil); got.Location() != time.UTC || got.Hour() != 10 {
		t.Errorf("At with nil location = %s, want 10:30 UTC", got)
	}
}

func TestDate_JSONRoundTrip(t *testing.T) {
	type payload struct {
		Date  Date      `json:"date"`
		Start TimeOfDay `json:"start"`
	}
	in := payload{Date: mustDate(t, "2026-01-05"), Start: mustTime(t, "10:15")}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"date":"2026-01-05","start":"10:15"}` {
		t.Fatalf("unexpected JSON %s", b)
	}
}

// ---------- GenerateSlots ----------

func TestGenerateSlots_MorningBlock(t *testing.T) {
	slots := GenerateSlots([]Block{morningBlock(t)})
	if len(slots) != 8 {
		t.Fatalf("expected 8 slots, got %d", len(slots))
	}
	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "12:00", "12:30"}
	for i, s := range slots {
		if s.StartTime.String() != want[i] {
			t.Errorf("slot %d start = %s, want %s", i, s.StartTime, want[i])
		}
		if s.EndTime-s.StartTime != 30 {
			t.Errorf("slot %d has length %d", i, s.EndTime-s.StartTime)
		}
		if s.MaxPatients != 1 || s.SlotType != "regular" {
			t.Errorf("slot %d lost block tags: %+v", i, s)
		}
	}
	if slots[7].EndTime.String() != "13:00" {
		t.Errorf("last slot should end at 13:00, got %s", slots[7].EndTime)
	}
}

func TestGenerateSlots_DropsRemainder(t *testing.T) {
	b := Block{StartTime: mustTime(t, "14:00"), EndTime: mustTime(t, "15:10"), SlotDurationMinutes: 20, MaxPatientsPerSlot: 2}
	slots := GenerateSlots([]Block{b})
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	if slots[2].EndTime.String() != "15:00" {
		t.Errorf("remainder should be dropped, last slot ends %s", slots[2].EndTime)
	}
}

func TestGenerateSlots_MultipleBlocksKeepTags(t *testing.T) {
	evening := Block{StartTime: mustTime(t, "17:00"), EndTime: mustTime(t, "18:00"), SlotDurationMinutes: 15, MaxPatientsPerSlot: 3, SlotType: "telemedicine"}
	slots := GenerateSlots([]Block{morningBlock(t), evening})
	if len(slots) != 12 {
		t.Fatalf("expected 12 slots, got %d", len(slots))
	}
	last := slots[len(slots)-1]
	if last.SlotType != "telemedicine" || last.MaxPatients != 3 || last.StartTime.String() != "17:45" {
		t.Errorf("unexpected last slot %+v", last)
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].StartTime <= slots[i-1].StartTime {
			t.Fatal("slots are not chronological")
		}
	}
}

func TestGenerateSlots_Deterministic(t *testing.T) {
	blocks := []Block{morningBlock(t), {StartTime: mustTime(t, "14:00"), EndTime: mustTime(t, "16:00"), SlotDurationMinutes: 45, MaxPatientsPerSlot: 2}}
	first, _ := json.Marshal(GenerateSlots(blocks))
	second, _ := json.Marshal(GenerateSlots(blocks))
	if string(first) != string(second) {
		t.Fatalf("generation is not deterministic:\n%s\n%s", first, second)
	}
}

func TestGenerateSlots_Degenerate(t *testing.T) {
	if got := GenerateSlots(nil); len(got) != 0 {
		t.Errorf("expected no slots, got %d", len(got))
	}
	zero := Block{StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00")}
	if got := GenerateSlots([]Block{zero}); len(got) != 0 {
		t.Errorf("zero duration should yield no slots, got %d", len(got))
	}
	short := Block{StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "09:20"), SlotDurationMinutes: 30, MaxPatientsPerSlot: 1}
	if got := GenerateSlots([]Block{short}); len(got) != 0 {
		t.Errorf("block shorter than one slot should yield nothing, got %d", len(got))
	}
}

// ---------- Validation ----------

func TestNormalizeBlocks_SortsAndDefaults(t *testing.T) {
	late := Block{StartTime: mustTime(t, "14:00"), EndTime: mustTime(t, "15:00")}
	early := morningBlock(t)
	out, err := NormalizeBlocks([]Block{late, early})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].StartTime != early.StartTime {
		t.Error("blocks were not sorted by start time")
	}
	if out[1].SlotDurationMinutes != DefaultSlotDurationMinutes || out[1].MaxPatientsPerSlot != DefaultMaxPatientsPerSlot || out[1].SlotType != DefaultSlotType {
		t.Errorf("defaults not applied: %+v", out[1])
	}
}

func TestNormalizeBlocks_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		blocks []Block
	}{
		{"end before start", []Block{{StartTime: mustTime(t, "10:00"), EndTime: mustTime(t, "09:00")}}},
		{"empty range", []Block{{StartTime: mustTime(t, "10:00"), EndTime: mustTime(t, "10:00")}}},
		{"negative duration", []Block{{StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00"), SlotDurationMinutes: -5}}},
		{"overlap", []Block{
			{StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "11:00")},
			{StartTime: mustTime(t, "10:30"), EndTime: mustTime(t, "12:00")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NormalizeBlocks(tt.blocks); !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("expected ErrInvalidSchedule, got %v", err)
			}
		})
	}
}

func TestNormalizeBlocks_AdjacentAllowed(t *testing.T) {
	blocks := []Block{
		{StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00")},
		{StartTime: mustTime(t, "10:00"), EndTime: mustTime(t, "11:00")},
	}
	if _, err := NormalizeBlocks(blocks); err != nil {
		t.Errorf("adjacent blocks should be accepted: %v", err)
	}
}

func TestNewTemplate(t *testing.T) {
	doctorID := uuid.New()
	tpl, err := NewTemplate(doctorID, weekWithMonday(t, morningBlock(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tpl.Days) != DaysPerWeek {
		t.Fatalf("expected 7 days, got %d", len(tpl.Days))
	}
	if !tpl.Days[Monday].IsWorking || tpl.Days[Sunday].IsWorking {
		t.Error("working flags not preserved")
	}
	ordered := tpl.OrderedDays()
	for i, d := range ordered {
		if int(d.Weekday) != i {
			t.Errorf("OrderedDays()[%d] is %s", i, d.Weekday)
		}
	}

	if _, err := NewTemplate(doctorID, weekWithMonday(t)[:6]); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("expected error for 6 days, got %v", err)
	}

	dup := weekWithMonday(t, morningBlock(t))
	dup[6].Weekday = Monday
	if _, err := NewTemplate(doctorID, dup); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("expected error for duplicate weekday, got %v", err)
	}
}

func TestNewOverride(t *testing.T) {
	d := mustDate(t, "2026-10-19")
	off, err := NewOverride(uuid.New(), d, false, "Holiday", []Block{morningBlock(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(off.Blocks) != 0 {
		t.Error("blocks should be dropped when not working")
	}
	if _, err := NewOverride(uuid.New(), d, true, "", nil); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("expected error for working override without blocks, got %v", err)
	}
}

// ---------- ResolveDay ----------

func TestResolveDay_TemplateFallback(t *testing.T) {
	tpl, _ := NewTemplate(uuid.New(), weekWithMonday(t, morningBlock(t)))
	monday := mustDate(t, "2026-10-19")

	ds := ResolveDay(tpl, nil, monday)
	if !ds.IsWorking || ds.FromOverride {
		t.Fatalf("expected template working day, got %+v", ds)
	}
	if len(ds.Slots()) != 8 {
		t.Errorf("expected 8 slots, got %d", len(ds.Slots()))
	}

	tuesday := monday.AddDays(1)
	if ds := ResolveDay(tpl, nil, tuesday); ds.IsWorking || ds.Slots() != nil {
		t.Errorf("Tuesday should be off, got %+v", ds)
	}
	if ds := ResolveDay(nil, nil, monday); ds.IsWorking {
		t.Error("no template means not working")
	}
}

func TestResolveDay_OverridePrecedence(t *testing.T) {
	tpl, _ := NewTemplate(uuid.New(), weekWithMonday(t, morningBlock(t)))
	monday := mustDate(t, "2026-10-19")

	holiday, _ := NewOverride(tpl.DoctorID, monday, false, "Holiday", nil)
	ds := ResolveDay(tpl, holiday, monday)
	if ds.IsWorking || ds.Reason != "Holiday" || !ds.FromOverride {
		t.Errorf("holiday override ignored: %+v", ds)
	}

	special := Block{StartTime: mustTime(t, "15:00"), EndTime: mustTime(t, "16:00"), SlotDurationMinutes: 60, MaxPatientsPerSlot: 4}
	ov, _ := NewOverride(tpl.DoctorID, monday, true, "evening clinic", []Block{special})
	slots := ResolveDay(tpl, ov, monday).Slots()
	want := []Slot{{StartTime: mustTime(t, "15:00"), EndTime: mustTime(t, "16:00"), SlotType: DefaultSlotType, MaxPatients: 4}}
	if !reflect.DeepEqual(slots, want) {
		t.Errorf("override blocks should fully replace template: got %+v", slots)
	}

	// An override on a day the template has off still applies.
	sunday := monday.AddDays(-1)
	ov.Date = sunday
	if !ResolveDay(tpl, ov, sunday).IsWorking {
		t.Error("working override on template day off should make the doctor available")
	}
}
