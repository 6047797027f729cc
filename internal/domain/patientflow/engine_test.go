package patientflow

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine() (*Engine, *testClock) {
	clk := &testClock{now: t0}
	return NewEngine(WithClock(clk)), clk
}

var standardJourney = []Department{Registration, Refraction, Dilation, Consultation}

func admit(t *testing.T, e *Engine, id, token string, start Department) *Patient {
	t.Helper()
	p, err := e.Admit(&Patient{
		ID:                id,
		Token:             token,
		Name:              "Test Patient",
		Age:               45,
		ComplexityScore:   3,
		Journey:           append([]Department(nil), standardJourney...),
		CurrentDepartment: start,
	})
	if err != nil {
		t.Fatalf("admit %s: %v", id, err)
	}
	return p
}

func statuses(p *Patient) []TimelineStatus {
	out := make([]TimelineStatus, len(p.Timeline))
	for i, e := range p.Timeline {
		out[i] = e.Status
	}
	return out
}

func mustInvariants(t *testing.T, p *Patient) {
	t.Helper()
	if err := CheckInvariants(p); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestAdmit_StartAtRefraction(t *testing.T) {
	e, _ := newTestEngine()
	p := admit(t, e, "p1", "B0001", Refraction)

	want := []TimelineStatus{EntryDone, EntryCurrent, EntryNext, EntryNext}
	if got := statuses(p); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected timeline %v, got %v", want, got)
	}
	if p.Timeline[0].CompletedAt == nil || !p.Timeline[0].CompletedAt.Equal(t0) {
		t.Errorf("expected registration completed at admission, got %v", p.Timeline[0].CompletedAt)
	}
	if p.Timeline[0].Summary == nil || *p.Timeline[0].Summary != "Registered at 09:00" {
		t.Errorf("unexpected registration summary %v", p.Timeline[0].Summary)
	}
	if p.Timeline[1].EnteredAt == nil || !p.Timeline[1].EnteredAt.Equal(t0) {
		t.Errorf("expected refraction entered at admission")
	}
	if p.Status != StatusWaiting {
		t.Errorf("expected WAITING, got %s", p.Status)
	}
	if p.EnteredZoneAt == nil || !p.EnteredZoneAt.Equal(t0) {
		t.Errorf("expected enteredZoneAt = now")
	}
	if p.EstimatedWaitTime != 12 {
		t.Errorf("expected refraction default wait 12, got %d", p.EstimatedWaitTime)
	}
	mustInvariants(t, p)
}

func TestAdmit_SynthesizedStampsAreSpaced(t *testing.T) {
	e, _ := newTestEngine()
	p := admit(t, e, "p1", "B0001", Consultation)

	if !p.Timeline[0].CompletedAt.Equal(t0.Add(-50 * time.Minute)) {
		t.Errorf("registration stamp: %v", p.Timeline[0].CompletedAt)
	}
	if !p.Timeline[1].CompletedAt.Equal(t0.Add(-25 * time.Minute)) {
		t.Errorf("refraction stamp: %v", p.Timeline[1].CompletedAt)
	}
	if !p.Timeline[2].CompletedAt.Equal(t0) {
		t.Errorf("dilation stamp: %v", p.Timeline[2].CompletedAt)
	}
}

func TestAdmit_DefaultsToFirstZone(t *testing.T) {
	e, _ := newTestEngine()
	p := admit(t, e, "", "B0001", "")
	if p.ID == "" {
		t.Error("expected generated id")
	}
	if p.CurrentDepartment != Registration {
		t.Errorf("expected Registration, got %s", p.CurrentDepartment)
	}
	mustInvariants(t, p)
}

func TestAdmit_Rejects(t *testing.T) {
	tests := []struct {
		name string
		p    *Patient
	}{
		{"nil", nil},
		{"no token", &Patient{Journey: standardJourney}},
		{"empty journey", &Patient{Token: "B1"}},
		{"unknown department", &Patient{Token: "B1", Journey: []Department{"Radiology"}}},
		{"repeated department", &Patient{Token: "B1", Journey: []Department{Refraction, Refraction}}},
		{"start outside journey", &Patient{Token: "B1", Journey: standardJourney, CurrentDepartment: Pharmacy}},
		{"score too high", &Patient{Token: "B1", Journey: standardJourney, ComplexityScore: 11}},
		{"completed status", &Patient{Token: "B1", Journey: standardJourney, Status: StatusCompleted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine()
			if _, err := e.Admit(tt.p); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestAdmit_DuplicateTokenIgnoresCase(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0001", Refraction)
	_, err := e.Admit(&Patient{ID: "p2", Token: "b0001", Journey: standardJourney})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAdvance_MovesToNextZone(t *testing.T) {
	e, clk := newTestEngine()
	admit(t, e, "p1", "B0001", Refraction)
	clk.Advance(10 * time.Minute)

	p, err := e.AdvanceToNextZone("p1")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	now := t0.Add(10 * time.Minute)
	if p.CurrentDepartment != Dilation {
		t.Fatalf("expected Dilation, got %s", p.CurrentDepartment)
	}
	if p.Status != StatusWaiting {
		t.Errorf("expected WAITING, got %s", p.Status)
	}
	if !p.Timeline[1].CompletedAt.Equal(now) || p.Timeline[1].Status != EntryDone {
		t.Errorf("refraction entry not completed at now: %+v", p.Timeline[1])
	}
	if p.Timeline[2].Status != EntryCurrent || !p.Timeline[2].EnteredAt.Equal(now) {
		t.Errorf("dilation entry not current: %+v", p.Timeline[2])
	}
	if !p.EnteredZoneAt.Equal(now) {
		t.Errorf("expected zone clock reset")
	}
	if p.EstimatedWaitTime != 25 {
		t.Errorf("expected dilation wait 25, got %d", p.EstimatedWaitTime)
	}
	mustInvariants(t, p)
}

func TestAdvance_LastZoneCompletes(t *testing.T) {
	e, clk := newTestEngine()
	admit(t, e, "p1", "B0001", Consultation)
	clk.Advance(5 * time.Minute)

	p, err := e.AdvanceToNextZone("p1")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !p.Completed() {
		t.Fatalf("expected COMPLETED, got %s", p.Status)
	}
	if p.CurrentDepartment != Consultation {
		t.Errorf("expected currentDepartment to stay Consultation, got %s", p.CurrentDepartment)
	}
	last := p.Timeline[3]
	if last.Status != EntryDone || last.CompletedAt == nil || !last.CompletedAt.Equal(t0.Add(5*time.Minute)) {
		t.Errorf("expected final entry done at now, got %+v", last)
	}
	mustInvariants(t, p)

	if _, err := e.AdvanceToNextZone("p1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on completed patient, got %v", err)
	}
}

func TestAdvance_SummarizesSavedRecord(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0001", Refraction)
	if _, err := e.SaveZoneRecord("p1", validRefraction()); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err := e.AdvanceToNextZone("p1")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if p.Timeline[1].Summary == nil || *p.Timeline[1].Summary != "VA: 6/9 | IOP: 14" {
		t.Errorf("unexpected summary %v", p.Timeline[1].Summary)
	}
}

func TestAdvance_NotFound(t *testing.T) {
	e, _ := newTestEngine()
	if _, err := e.AdvanceToNextZone("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetZoneStatus(t *testing.T) {
	e, clk := newTestEngine()
	admit(t, e, "p1", "B0001", Refraction)
	clk.Advance(7 * time.Minute)

	p, applied, err := e.SetZoneStatus("p1", Refraction, StatusInProgress)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if !applied {
		t.Fatal("expected status to apply")
	}
	if p.Status != StatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", p.Status)
	}
	if !p.EnteredZoneAt.Equal(t0.Add(7 * time.Minute)) {
		t.Errorf("expected zone clock restart, got %v", p.EnteredZoneAt)
	}
	mustInvariants(t, p)
}

func TestSetZoneStatus_MismatchIsNoop(t *testing.T) {
	e, clk := newTestEngine()
	before := admit(t, e, "p1", "B0001", Refraction)
	clk.Advance(time.Minute)

	p, applied, err := e.SetZoneStatus("p1", Consultation, StatusInProgress)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if applied {
		t.Error("expected mismatch not to apply")
	}
	if !reflect.DeepEqual(p, before) {
		t.Errorf("expected unchanged patient")
	}
}

func TestSetZoneStatus_Rejects(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0001", Refraction)

	if _, _, err := e.SetZoneStatus("p1", Refraction, StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("COMPLETED: expected ErrInvalidTransition, got %v", err)
	}
	if _, _, err := e.SetZoneStatus("p1", Refraction, "PAUSED"); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown status: expected ErrValidation, got %v", err)
	}
	if _, _, err := e.SetZoneStatus("missing", Refraction, StatusWaiting); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: expected ErrNotFound, got %v", err)
	}
}

func TestReroute_SkipsDilation(t *testing.T) {
	e, clk := newTestEngine()
	admit(t, e, "p1", "B0001", Refraction)
	clk.Advance(3 * time.Minute)

	p, err := e.Reroute("p1", Dilation)
	if err != nil {
		t.Fatalf("reroute: %v", err)
	}
	wantJourney := []Department{Registration, Refraction, Consultation}
	if !reflect.DeepEqual(p.Journey, wantJourney) {
		t.Fatalf("expected journey %v, got %v", wantJourney, p.Journey)
	}
	if p.CurrentDepartment != Consultation {
		t.Errorf("expected Consultation, got %s", p.CurrentDepartment)
	}
	if p.Status != StatusRerouted {
		t.Errorf("expected REROUTED, got %s", p.Status)
	}
	want := []TimelineStatus{EntryDone, EntryDone, EntrySkipped, EntryCurrent}
	if got := statuses(p); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected timeline %v, got %v", want, got)
	}
	now := t0.Add(3 * time.Minute)
	if !p.Timeline[0].CompletedAt.Equal(t0) {
		t.Errorf("expected registration stamp carried over")
	}
	if !p.Timeline[1].CompletedAt.Equal(now) {
		t.Errorf("expected refraction completed at reroute time")
	}
	if !p.Timeline[3].EnteredAt.Equal(now) || !p.EnteredZoneAt.Equal(now) {
		t.Errorf("expected fresh zone entry at reroute time")
	}
	if p.EstimatedWaitTime != 15 {
		t.Errorf("expected consultation wait 15, got %d", p.EstimatedWaitTime)
	}
	mustInvariants(t, p)
}

func TestReroute_KeepsEarlierSkips(t *testing.T) {
	e, _ := newTestEngine()
	_, err := e.Admit(&Patient{
		ID:      "p1",
		Token:   "B0001",
		Journey: []Department{Registration, Refraction, Dilation, Consultation, Tests, Pharmacy},
	})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := e.Reroute("p1", Refraction); err != nil {
		t.Fatalf("first reroute: %v", err)
	}
	p, err := e.Reroute("p1", Tests)
	if err != nil {
		t.Fatalf("second reroute: %v", err)
	}
	if p.CurrentDepartment != Consultation {
		t.Fatalf("expected Consultation, got %s", p.CurrentDepartment)
	}
	want := []TimelineStatus{EntryDone, EntrySkipped, EntryDone, EntryCurrent, EntrySkipped, EntryNext}
	if got := statuses(p); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected timeline %v, got %v", want, got)
	}
	if len(p.Journey) != 4 {
		t.Errorf("expected journey of 4, got %v", p.Journey)
	}
	mustInvariants(t, p)
}

func TestReroute_NothingFollows(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0001", Dilation)

	p, err := e.Reroute("p1", Consultation)
	if err != nil {
		t.Fatalf("reroute: %v", err)
	}
	if p.CurrentDepartment != Dilation {
		t.Errorf("expected to stay in Dilation, got %s", p.CurrentDepartment)
	}
	want := []TimelineStatus{EntryDone, EntryDone, EntryCurrent, EntrySkipped}
	if got := statuses(p); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected timeline %v, got %v", want, got)
	}
	mustInvariants(t, p)
}

func TestReroute_Rejects(t *testing.T) {
	tests := []struct {
		name string
		skip Department
		want error
	}{
		{"current zone", Refraction, ErrInvalidTransition},
		{"past zone", Registration, ErrInvalidTransition},
		{"not in journey", Pharmacy, ErrInvalidTransition},
		{"unknown", "Radiology", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine()
			before := admit(t, e, "p1", "B0001", Refraction)
			if _, err := e.Reroute("p1", tt.skip); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			after, _ := e.Get("p1")
			if !reflect.DeepEqual(after, before) {
				t.Error("expected rejected reroute to leave patient untouched")
			}
		})
	}
}

func TestReroute_ShrinksJourney(t *testing.T) {
	e, _ := newTestEngine()
	before := admit(t, e, "p1", "B0001", Registration)
	p, err := e.Reroute("p1", Consultation)
	if err != nil {
		t.Fatalf("reroute: %v", err)
	}
	if len(p.Journey) >= len(before.Journey) {
		t.Errorf("journey did not shrink: %d -> %d", len(before.Journey), len(p.Journey))
	}
	for _, d := range p.Journey {
		if d == Consultation {
			t.Error("skipped department still in journey")
		}
	}
}

func validRefraction() *RefractionData {
	return &RefractionData{
		VARight: "6/9", VALeft: "6/6",
		SphereRight: "-1.25", SphereLeft: "-1.00",
		CylinderRight: "-0.50", CylinderLeft: "-0.25",
		AxisRight: "180", AxisLeft: "175",
		IOPRight: "14", IOPLeft: "15",
	}
}

func TestSaveZoneRecord_DilationReadyTime(t *testing.T) {
	e, clk := newTestEngine()
	admit(t, e, "p1", "B0001", Dilation)
	drop := t0.Add(2 * time.Minute)
	clk.Advance(3 * time.Minute)

	p, err := e.SaveZoneRecord("p1", &DilationData{
		DrugUsed:   DrugTropicamide,
		DropTime:   drop,
		EyeTreated: EyeBoth,
		ReadyTime:  drop.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !p.DilationData.ReadyTime.Equal(drop.Add(20 * time.Minute)) {
		t.Fatalf("expected ready at drop+20m, got %v", p.DilationData.ReadyTime)
	}
	if p.DilationData.SavedAt == nil || !p.DilationData.SavedAt.Equal(t0.Add(3*time.Minute)) {
		t.Errorf("expected savedAt stamp")
	}
	if p.CurrentDepartment != Dilation || p.Status != StatusWaiting {
		t.Errorf("save must not move the patient")
	}

	r := DilationReadyStatus(p.DilationData.ReadyTime, drop.Add(19*time.Minute))
	if r.State != DilationWaiting || r.RemainingSeconds != 60 {
		t.Errorf("expected WAITING with 60s, got %+v", r)
	}
	if r.Countdown() != "01:00" {
		t.Errorf("expected countdown 01:00, got %s", r.Countdown())
	}
	if r := DilationReadyStatus(p.DilationData.ReadyTime, drop.Add(20*time.Minute)); r.State != DilationReady {
		t.Errorf("expected READY at drop+20m, got %+v", r)
	}
}

func TestSaveZoneRecord_Validation(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0001", Refraction)

	bad := validRefraction()
	bad.IOPLeft = " "
	tests := []struct {
		name string
		rec  ZoneRecord
	}{
		{"nil interface", nil},
		{"typed nil", (*RefractionData)(nil)},
		{"missing iop", bad},
		{"bad drug", &DilationData{DrugUsed: "Atropine", EyeTreated: EyeBoth, DropTime: t0}},
		{"no drop time", &DilationData{DrugUsed: DrugTropicamide, EyeTreated: EyeBoth}},
		{"short hpi", &ConsultationData{HPI: "eye", Diagnosis: "Myopia"}},
		{"follow-up too far", &ConsultationData{HPI: "blurred vision", Diagnosis: "Myopia", FollowUpDays: 400}},
		{"bad prescription", &ConsultationData{HPI: "blurred vision", Diagnosis: "Myopia", Prescription: []PrescriptionItem{
			{Medicine: "Timolol", Dosage: 0.25, Unit: "drop", Frequency: []string{"BD"}, Duration: "1 month", Route: "topical"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.SaveZoneRecord("p1", tt.rec); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
	if _, err := e.SaveZoneRecord("missing", validRefraction()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveZoneRecord_ClearsDraft(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0001", Refraction)
	va := "6/12"
	if err := e.SaveDraft("p1", &RefractionDraft{VARight: &va}); err != nil {
		t.Fatalf("draft: %v", err)
	}
	hpi := "itching"
	if err := e.SaveDraft("p1", &ConsultationDraft{HPI: &hpi}); err != nil {
		t.Fatalf("draft: %v", err)
	}

	p, err := e.SaveZoneRecord("p1", validRefraction())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if p.Draft == nil || p.Draft.Refraction != nil {
		t.Fatalf("expected refraction draft cleared, got %+v", p.Draft)
	}
	if p.Draft.Consultation == nil || *p.Draft.Consultation.HPI != "itching" {
		t.Error("expected consultation draft kept")
	}
}

func TestSaveDraft_Idempotent(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0001", Dilation)
	drug := DrugPhenylephrine
	draft := &DilationDraft{DrugUsed: &drug}

	if err := e.SaveDraft("p1", draft); err != nil {
		t.Fatalf("draft: %v", err)
	}
	first, _ := e.Get("p1")
	if err := e.SaveDraft("p1", draft); err != nil {
		t.Fatalf("draft: %v", err)
	}
	second, _ := e.Get("p1")
	if !reflect.DeepEqual(first.Draft, second.Draft) {
		t.Errorf("draft changed on repeat save: %+v vs %+v", first.Draft, second.Draft)
	}

	drug = DrugTropicamide
	third, _ := e.Get("p1")
	if *third.Draft.Dilation.DrugUsed != DrugPhenylephrine {
		t.Error("engine draft aliases caller memory")
	}
}

func TestSaveDraft_Rejects(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0001", Dilation)
	if err := e.SaveDraft("missing", &DilationDraft{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := e.SaveDraft("p1", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for nil, got %v", err)
	}
	if err := e.SaveDraft("p1", (*DilationDraft)(nil)); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for typed nil, got %v", err)
	}
}

func TestReturnedPatientsAreCopies(t *testing.T) {
	e, _ := newTestEngine()
	p := admit(t, e, "p1", "B0001", Refraction)
	p.Journey[0] = Pharmacy
	p.Timeline[1].Status = EntryDone

	got, _ := e.Get("p1")
	if got.Journey[0] != Registration || got.Timeline[1].Status != EntryCurrent {
		t.Error("mutating a returned patient changed engine state")
	}
}

func TestGetByToken_CaseInsensitive(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0042", Refraction)
	p, err := e.GetByToken("b0042")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if p.ID != "p1" {
		t.Errorf("expected p1, got %s", p.ID)
	}
	if _, err := e.GetByToken("B9999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAdmit_TrimsToken(t *testing.T) {
	e, _ := newTestEngine()
	p, err := e.Admit(&Patient{ID: "p1", Token: " B0001 ", Journey: standardJourney})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if p.Token != "B0001" {
		t.Errorf("expected trimmed token, got %q", p.Token)
	}
	if _, err := e.GetByToken("b0001"); err != nil {
		t.Errorf("lookup by trimmed token: %v", err)
	}
	if !e.TokenInUse("B0001 ") {
		t.Error("expected token reported in use")
	}
	if _, err := e.Admit(&Patient{ID: "p2", Token: "B0001", Journey: standardJourney}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected duplicate token rejected, got %v", err)
	}
}

func TestConsultationDraft_JSONKeepsEmptyPrescription(t *testing.T) {
	tests := []struct {
		name  string
		draft ConsultationDraft
	}{
		{"unset", ConsultationDraft{}},
		{"empty", ConsultationDraft{Prescription: []PrescriptionItem{}}},
		{"one line", ConsultationDraft{Prescription: []PrescriptionItem{{Medicine: "Moxifloxacin", Frequency: []string{"morning"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.draft)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got ConsultationDraft
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(got, tt.draft) {
				t.Errorf("round trip changed draft: before=%#v after=%#v", tt.draft.Prescription, got.Prescription)
			}
			if !reflect.DeepEqual(tt.draft.clone(), &tt.draft) {
				t.Errorf("clone changed draft: %#v", tt.draft.clone().Prescription)
			}
		})
	}
}

func TestDepartmentQueue_FIFO(t *testing.T) {
	e, clk := newTestEngine()
	admit(t, e, "c", "B0003", Refraction)
	clk.Advance(time.Minute)
	admit(t, e, "a", "B0001", Refraction)
	admit(t, e, "b", "B0002", Refraction)
	admit(t, e, "d", "B0004", Dilation)

	q := e.DepartmentQueue(Refraction)
	var ids []string
	for _, p := range q {
		ids = append(ids, p.ID)
	}
	if want := []string{"c", "a", "b"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	e, clk := newTestEngine()
	admit(t, e, "p1", "B0001", Refraction)
	admit(t, e, "p2", "B0002", Dilation)
	if _, err := e.SaveZoneRecord("p2", &DilationData{DrugUsed: DrugTropicamideCombo, DropTime: t0, EyeTreated: EyeLeft}); err != nil {
		t.Fatalf("save: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := e.Reroute("p1", Dilation); err != nil {
		t.Fatalf("reroute: %v", err)
	}

	snap := e.Export()
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded []Patient
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(decoded, snap) {
		t.Fatalf("round trip changed the records:\n%+v\n%+v", decoded, snap)
	}

	restored := NewEngine(WithClock(clk))
	if err := restored.Import(decoded); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !reflect.DeepEqual(restored.Export(), snap) {
		t.Error("import did not reproduce the collection")
	}
}

func TestImport_RejectsBrokenRecords(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0001", Refraction)
	snap := e.Export()

	broken := append([]Patient(nil), snap...)
	broken[0].Timeline[2].Status = EntryCurrent
	if err := e.Import(broken); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	dup := append(e.Export(), e.Export()...)
	if err := e.Import(dup); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for duplicate, got %v", err)
	}
	if got := e.List(); len(got) != 1 {
		t.Errorf("failed import must leave collection intact, got %d patients", len(got))
	}
}

func TestConcurrentMutations(t *testing.T) {
	e, _ := newTestEngine()
	admit(t, e, "p1", "B0001", Registration)
	admit(t, e, "p2", "B0002", Registration)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "p1"
			if i%2 == 0 {
				id = "p2"
			}
			e.SetZoneStatus(id, Registration, StatusInProgress)
			e.List()
		}(i)
	}
	wg.Wait()
	for _, p := range e.List() {
		mustInvariants(t, p)
	}
}
