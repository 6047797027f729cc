package patientflow

import (
	"strings"
	"time"
)

// Department is a clinical zone a patient can visit.
type Department string

const (
	Registration Department = "Registration"
	Refraction   Department = "Refraction"
	Dilation     Department = "Dilation"
	Consultation Department = "Consultation"
	Tests        Department = "Tests"
	Counseling   Department = "Counseling"
	Pharmacy     Department = "Pharmacy"
)

// Departments lists every zone in floor order.
var Departments = []Department{
	Registration, Refraction, Dilation, Consultation, Tests, Counseling, Pharmacy,
}

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	for _, known := range Departments {
		if d == known {
			return true
		}
	}
	return false
}

// ParseDepartment resolves a department name case-insensitively.
func ParseDepartment(s string) (Department, bool) {
	for _, d := range Departments {
		if strings.EqualFold(string(d), strings.TrimSpace(s)) {
			return d, true
		}
	}
	return "", false
}

// PatientStatus is the patient's state within the current zone.
type PatientStatus string

const (
	StatusWaiting    PatientStatus = "WAITING"
	StatusInProgress PatientStatus = "IN_PROGRESS"
	StatusCompleted  PatientStatus = "COMPLETED"
	StatusRerouted   PatientStatus = "REROUTED"
)

var validStatuses = map[PatientStatus]bool{
	StatusWaiting:    true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusRerouted:   true,
}

// TimelineStatus marks a timeline entry's progress.
type TimelineStatus string

const (
	EntryDone    TimelineStatus = "done"
	EntryCurrent TimelineStatus = "current"
	EntryNext    TimelineStatus = "next"
	EntrySkipped TimelineStatus = "skipped"
)

// TimelineEntry tracks one department of the patient's route.
type TimelineEntry struct {
	Department  Department     `json:"department"`
	Status      TimelineStatus `json:"status"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	EnteredAt   *time.Time     `json:"entered_at,omitempty"`
	Summary     *string        `json:"summary,omitempty"`
}

// Patient is the aggregate root of the flow engine. It is plain data so the
// collection can be serialized to any store.
type Patient struct {
	ID                string          `json:"id"`
	Token             string          `json:"token"`
	Name              string          `json:"name"`
	Age               int             `json:"age"`
	Gender            string          `json:"gender"`
	Phone             string          `json:"phone"`
	Symptoms          []string        `json:"symptoms"`
	History           []string        `json:"history"`
	Allergies         []string        `json:"allergies"`
	ComplexityScore   int             `json:"complexity_score"`
	CurrentDepartment Department      `json:"current_department"`
	Status            PatientStatus   `json:"status"`
	EnteredZoneAt     *time.Time      `json:"entered_zone_at,omitempty"`
	EstimatedWaitTime int             `json:"estimated_wait_time"`
	Journey           []Department    `json:"journey"`
	Timeline          []TimelineEntry `json:"timeline"`

	RefractionData   *RefractionData   `json:"refraction_data,omitempty"`
	DilationData     *DilationData     `json:"dilation_data,omitempty"`
	ConsultationData *ConsultationData `json:"consultation_data,omitempty"`

	Draft *Drafts `json:"draft,omitempty"`
}

// Completed reports whether the patient has exhausted the journey.
func (p *Patient) Completed() bool {
	return p.Status == StatusCompleted
}

// journeyIndex returns the position of d in the journey, or -1.
func (p *Patient) journeyIndex(d Department) int {
	for i, j := range p.Journey {
		if j == d {
			return i
		}
	}
	return -1
}

func (p *Patient) timelineIndex(d Department) int {
	for i, t := range p.Timeline {
		if t.Department == d {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the patient.
func (p *Patient) Clone() *Patient {
	if p == nil {
		return nil
	}
	c := *p
	c.Symptoms = cloneStrings(p.Symptoms)
	c.History = cloneStrings(p.History)
	c.Allergies = cloneStrings(p.Allergies)
	c.EnteredZoneAt = cloneTime(p.EnteredZoneAt)
	if p.Journey != nil {
		c.Journey = append([]Department(nil), p.Journey...)
	}
	if p.Timeline != nil {
		c.Timeline = make([]TimelineEntry, len(p.Timeline))
		for i, t := range p.Timeline {
			c.Timeline[i] = TimelineEntry{
				Department:  t.Department,
				Status:      t.Status,
				CompletedAt: cloneTime(t.CompletedAt),
				EnteredAt:   cloneTime(t.EnteredAt),
				Summary:     cloneString(t.Summary),
			}
		}
	}
	c.RefractionData = p.RefractionData.clone()
	c.DilationData = p.DilationData.clone()
	c.ConsultationData = p.ConsultationData.clone()
	c.Draft = p.Draft.clone()
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }
