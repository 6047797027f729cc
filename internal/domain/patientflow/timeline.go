package patientflow

import (
	"fmt"
	"time"
)

// synthesizedStepGap spaces the completion stamps of zones a patient finished
// before admission.
const synthesizedStepGap = 25 * time.Minute

// BuildTimeline lays out a timeline over route. Entries in skipped are marked
// skipped wherever they sit; the remaining entries before currentIndex are
// done, the entry at currentIndex is current (entered now) and the rest are
// next. A currentIndex of -1 marks every non-skipped entry done, which is the
// completed layout.
func BuildTimeline(route []Department, currentIndex int, skipped map[Department]bool, now time.Time) []TimelineEntry {
	timeline := make([]TimelineEntry, len(route))
	for i, dept := range route {
		entry := TimelineEntry{Department: dept}
		switch {
		case skipped[dept]:
			entry.Status = EntrySkipped
		case currentIndex < 0 || i < currentIndex:
			entry.Status = EntryDone
		case i == currentIndex:
			entry.Status = EntryCurrent
			entry.EnteredAt = timePtr(now)
		default:
			entry.Status = EntryNext
		}
		timeline[i] = entry
	}
	return timeline
}

// admissionTimeline builds the initial timeline and back-fills completion
// stamps for zones before the start index, the last one finishing at now.
func admissionTimeline(journey []Department, start int, now time.Time) []TimelineEntry {
	timeline := BuildTimeline(journey, start, nil, now)
	for i := 0; i < start; i++ {
		done := now.Add(-time.Duration(start-1-i) * synthesizedStepGap)
		timeline[i].CompletedAt = timePtr(done)
		if journey[i] == Registration {
			timeline[i].Summary = strPtr("Registered at " + done.Format("15:04"))
		}
	}
	return timeline
}

// carryOver copies the historical stamps of prev onto entries of next that
// are still done.
func carryOver(next, prev []TimelineEntry) {
	byDept := make(map[Department]TimelineEntry, len(prev))
	for _, t := range prev {
		byDept[t.Department] = t
	}
	for i := range next {
		old, ok := byDept[next[i].Department]
		if !ok || next[i].Status != EntryDone {
			continue
		}
		if old.CompletedAt != nil {
			next[i].CompletedAt = cloneTime(old.CompletedAt)
		}
		if old.EnteredAt != nil {
			next[i].EnteredAt = cloneTime(old.EnteredAt)
		}
		if old.Summary != nil {
			next[i].Summary = cloneString(old.Summary)
		}
	}
}

// CheckInvariants verifies the journey and timeline invariants of a patient.
func CheckInvariants(p *Patient) error {
	if len(p.Journey) == 0 {
		return fmt.Errorf("patient %s: empty journey: %w", p.ID, ErrValidation)
	}
	if p.journeyIndex(p.CurrentDepartment) < 0 {
		return fmt.Errorf("patient %s: current department %s not in journey: %w", p.ID, p.CurrentDepartment, ErrValidation)
	}

	current := -1
	count := 0
	for i, t := range p.Timeline {
		if t.Status == EntryCurrent {
			current = i
			count++
		}
	}
	if p.Completed() {
		if count != 0 {
			return fmt.Errorf("patient %s: completed with %d current entries: %w", p.ID, count, ErrValidation)
		}
		return nil
	}
	if count != 1 {
		return fmt.Errorf("patient %s: expected one current entry, found %d: %w", p.ID, count, ErrValidation)
	}
	if p.Timeline[current].Department != p.CurrentDepartment {
		return fmt.Errorf("patient %s: current entry %s differs from current department %s: %w",
			p.ID, p.Timeline[current].Department, p.CurrentDepartment, ErrValidation)
	}
	for i, t := range p.Timeline {
		if t.Status == EntrySkipped {
			continue
		}
		if i < current && t.Status != EntryDone {
			return fmt.Errorf("patient %s: entry %s before current is %s: %w", p.ID, t.Department, t.Status, ErrValidation)
		}
		if i > current && t.Status != EntryNext {
			return fmt.Errorf("patient %s: entry %s after current is %s: %w", p.ID, t.Department, t.Status, ErrValidation)
		}
	}
	return nil
}
