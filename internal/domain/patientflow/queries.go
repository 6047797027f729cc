package patientflow

import (
	"fmt"
	"sort"
	"time"
)

// OverdueAfterMinutes is the wait beyond which a patient is flagged overdue.
const OverdueAfterMinutes = 30

// AssistanceAfter is how long a patient may sit in Dilation before the
// tracking view asks staff to check on them.
const AssistanceAfter = 40 * time.Minute

// MinutesInZone returns the whole minutes the patient has spent in the
// current zone, or 0 when the zone clock has not started.
func MinutesInZone(p *Patient, now time.Time) int {
	if p.EnteredZoneAt == nil {
		return 0
	}
	d := now.Sub(*p.EnteredZoneAt)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// IsOverdue reports whether the patient has waited longer than
// OverdueAfterMinutes in the current zone.
func IsOverdue(p *Patient, now time.Time) bool {
	return MinutesInZone(p, now) > OverdueAfterMinutes
}

// ahead reports whether other precedes p in their shared zone queue.
func ahead(other, p *Patient) bool {
	if other.EnteredZoneAt.Equal(*p.EnteredZoneAt) {
		return other.ID < p.ID
	}
	return other.EnteredZoneAt.Before(*p.EnteredZoneAt)
}

// QueueAheadCount counts the non-completed patients in p's zone who entered
// it before p. Equal entry times are ordered by patient id.
func QueueAheadCount(p *Patient, all []*Patient) int {
	if p.EnteredZoneAt == nil || p.Completed() {
		return 0
	}
	n := 0
	for _, other := range all {
		if other.ID == p.ID || other.Completed() || other.EnteredZoneAt == nil {
			continue
		}
		if other.CurrentDepartment != p.CurrentDepartment {
			continue
		}
		if ahead(other, p) {
			n++
		}
	}
	return n
}

// EstimatedCallInTime projects when the patient will be called given the
// zone's average service time and the queue ahead. ok is false when the
// zone clock has not started.
func EstimatedCallInTime(p *Patient, zoneAvgMinutes, queueAhead int) (t time.Time, ok bool) {
	if p.EnteredZoneAt == nil {
		return time.Time{}, false
	}
	return p.EnteredZoneAt.Add(time.Duration(zoneAvgMinutes*(queueAhead+1)) * time.Minute), true
}

// sortFIFO orders patients by zone entry time, ties by id.
func sortFIFO(ps []*Patient) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		switch {
		case a.EnteredZoneAt == nil && b.EnteredZoneAt == nil:
			return a.ID < b.ID
		case a.EnteredZoneAt == nil:
			return false
		case b.EnteredZoneAt == nil:
			return true
		}
		return ahead(a, b)
	})
}

// ReadyState is the dilation readiness of a patient.
type ReadyState string

const (
	DilationReady   ReadyState = "READY"
	DilationWaiting ReadyState = "WAITING"
)

// DilationReadiness is the countdown until dilated pupils can be examined.
type DilationReadiness struct {
	State            ReadyState `json:"state"`
	RemainingSeconds int        `json:"remaining_seconds"`
	ReadyTime        time.Time  `json:"ready_time"`
}

// Countdown renders the remaining time as MM:SS.
func (r DilationReadiness) Countdown() string {
	return fmt.Sprintf("%02d:%02d", r.RemainingSeconds/60, r.RemainingSeconds%60)
}

// DilationReadyStatus compares readyTime against now.
func DilationReadyStatus(readyTime, now time.Time) DilationReadiness {
	if !now.Before(readyTime) {
		return DilationReadiness{State: DilationReady, ReadyTime: readyTime}
	}
	return DilationReadiness{
		State:            DilationWaiting,
		RemainingSeconds: int(readyTime.Sub(now) / time.Second),
		ReadyTime:        readyTime,
	}
}

// dilationReadyTime is the saved ready time, or an estimate from the zone
// entry while a patient sits in Dilation without a saved record.
func dilationReadyTime(p *Patient) (time.Time, bool) {
	if p.DilationData != nil {
		return p.DilationData.ReadyTime, true
	}
	if p.CurrentDepartment == Dilation && p.EnteredZoneAt != nil && !p.Completed() {
		return p.EnteredZoneAt.Add(DilationWaitPeriod), true
	}
	return time.Time{}, false
}

// TrackView is what a patient sees when looking up their token.
type TrackView struct {
	Patient         *Patient           `json:"patient"`
	MinutesInZone   int                `json:"minutes_in_zone"`
	Overdue         bool               `json:"overdue"`
	QueueAhead      int                `json:"queue_ahead"`
	EstimatedCallIn *time.Time         `json:"estimated_call_in,omitempty"`
	Dilation        *DilationReadiness `json:"dilation,omitempty"`
	NeedsAssistance bool               `json:"needs_assistance"`
}

// Track builds the tracking view for the patient holding token.
func (e *Engine) Track(token string) (*TrackView, error) {
	p, err := e.GetByToken(token)
	if err != nil {
		return nil, err
	}
	all := e.List()
	now := e.clock.Now()

	v := &TrackView{
		Patient:       p,
		MinutesInZone: MinutesInZone(p, now),
		Overdue:       !p.Completed() && IsOverdue(p, now),
		QueueAhead:    QueueAheadCount(p, all),
	}
	if !p.Completed() {
		if t, ok := EstimatedCallInTime(p, e.zones.AvgMinutes(p.CurrentDepartment), v.QueueAhead); ok {
			v.EstimatedCallIn = &t
		}
	}
	if ready, ok := dilationReadyTime(p); ok {
		r := DilationReadyStatus(ready, now)
		v.Dilation = &r
	}
	if p.CurrentDepartment == Dilation && !p.Completed() && p.EnteredZoneAt != nil {
		v.NeedsAssistance = now.Sub(*p.EnteredZoneAt) >= AssistanceAfter
	}
	return v, nil
}

// RiskLevel grades a zone's congestion.
type RiskLevel string

const (
	RiskLow  RiskLevel = "low"
	RiskMed  RiskLevel = "med"
	RiskHigh RiskLevel = "high"
)

func riskFor(avgWait int) RiskLevel {
	switch {
	case avgWait > 30:
		return RiskHigh
	case avgWait > 15:
		return RiskMed
	}
	return RiskLow
}

// ZoneBoard summarizes one department for the floor manager.
type ZoneBoard struct {
	Department Department `json:"department"`
	Patients   []*Patient `json:"patients"`
	Waiting    int        `json:"waiting"`
	InProgress int        `json:"in_progress"`
	AvgWait    int        `json:"avg_wait"`
	AnyOverdue bool       `json:"any_overdue"`
	Risk       RiskLevel  `json:"risk"`
	AvgMinutes int        `json:"avg_minutes"`
}

// Census totals the whole floor.
type Census struct {
	Active     int `json:"active"`
	Waiting    int `json:"waiting"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
}

// Board is the floor-manager overview.
type Board struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Zones       []ZoneBoard `json:"zones"`
	Census      Census      `json:"census"`
}

// Board summarizes every department at the engine's current time.
func (e *Engine) Board() *Board {
	return BuildBoard(e.List(), e.zones, e.clock.Now())
}

// BuildBoard summarizes patients per department at now.
func BuildBoard(patients []*Patient, zones ZoneTimes, now time.Time) *Board {
	b := &Board{GeneratedAt: now, Zones: make([]ZoneBoard, 0, len(Departments))}
	byDept := make(map[Department][]*Patient)
	for _, p := range patients {
		if p.Completed() {
			b.Census.Completed++
			continue
		}
		b.Census.Active++
		byDept[p.CurrentDepartment] = append(byDept[p.CurrentDepartment], p)
	}

	for _, d := range Departments {
		zb := ZoneBoard{Department: d, Patients: byDept[d], AvgMinutes: zones.AvgMinutes(d)}
		if zb.Patients == nil {
			zb.Patients = []*Patient{}
		}
		sortFIFO(zb.Patients)
		waitSum := 0
		for _, p := range zb.Patients {
			switch p.Status {
			case StatusInProgress:
				zb.InProgress++
			default:
				zb.Waiting++
				waitSum += p.EstimatedWaitTime
			}
			if IsOverdue(p, now) {
				zb.AnyOverdue = true
				b.Census.Overdue++
			}
		}
		if zb.Waiting > 0 {
			zb.AvgWait = waitSum / zb.Waiting
		}
		zb.Risk = riskFor(zb.AvgWait)
		b.Census.Waiting += zb.Waiting
		b.Census.InProgress += zb.InProgress
		b.Zones = append(b.Zones, zb)
	}
	return b
}
