package patientflow

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Engine owns the patient collection and is its only mutation surface. Every
// operation runs under the engine lock and either replaces one patient record
// in full or fails before touching it.
type Engine struct {
	mu       sync.RWMutex
	clock    Clock
	zones    ZoneTimes
	patients map[string]*Patient
	order    []string
	tokens   map[string]string // lower-cased token -> patient id
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithZoneTimes sets the zone timing lookup.
func WithZoneTimes(z ZoneTimes) Option {
	return func(e *Engine) { e.zones = z }
}

// NewEngine creates an empty engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:    SystemClock{},
		zones:    DefaultZoneDirectory(),
		patients: make(map[string]*Patient),
		tokens:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clock returns the engine's time source.
func (e *Engine) Clock() Clock { return e.clock }

// Zones returns the engine's zone timing lookup.
func (e *Engine) Zones() ZoneTimes { return e.zones }

func (e *Engine) lookup(id string) (*Patient, error) {
	p, ok := e.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %q: %w", id, ErrNotFound)
	}
	return p, nil
}

func (e *Engine) put(p *Patient) {
	if _, exists := e.patients[p.ID]; !exists {
		e.order = append(e.order, p.ID)
	}
	e.patients[p.ID] = p
	e.tokens[tokenKey(p.Token)] = p.ID
}

func tokenKey(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// Admit registers a patient whose journey is already decided. The start zone
// is CurrentDepartment, or the first journey element when it is empty; zones
// before it are recorded as already completed.
func (e *Engine) Admit(draft *Patient) (*Patient, error) {
	if draft == nil {
		return nil, fmt.Errorf("admit: patient is required: %w", ErrValidation)
	}
	p := draft.Clone()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	start, err := validateAdmission(p)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.patients[p.ID]; exists {
		return nil, fmt.Errorf("admit: patient id %q already exists: %w", p.ID, ErrValidation)
	}
	if _, exists := e.tokens[tokenKey(p.Token)]; exists {
		return nil, fmt.Errorf("admit: token %q already issued: %w", p.Token, ErrValidation)
	}

	now := e.clock.Now()
	p.CurrentDepartment = p.Journey[start]
	p.Timeline = admissionTimeline(p.Journey, start, now)
	p.EnteredZoneAt = timePtr(now)
	if p.Status == "" {
		p.Status = StatusWaiting
	}
	if p.EstimatedWaitTime == 0 {
		p.EstimatedWaitTime = e.zones.DefaultWait(p.CurrentDepartment)
	}

	e.put(p)
	return p.Clone(), nil
}

func validateAdmission(p *Patient) (int, error) {
	p.Token = strings.TrimSpace(p.Token)
	if p.Token == "" {
		return 0, fmt.Errorf("admit: token is required: %w", ErrValidation)
	}
	if p.ComplexityScore < 0 || p.ComplexityScore > 10 {
		return 0, fmt.Errorf("admit: complexity score %d outside 0-10: %w", p.ComplexityScore, ErrValidation)
	}
	if len(p.Journey) == 0 {
		return 0, fmt.Errorf("admit: journey is required: %w", ErrValidation)
	}
	seen := make(map[Department]bool, len(p.Journey))
	for _, d := range p.Journey {
		if !d.Valid() {
			return 0, fmt.Errorf("admit: unknown department %q: %w", d, ErrValidation)
		}
		if seen[d] {
			return 0, fmt.Errorf("admit: department %s repeats in journey: %w", d, ErrValidation)
		}
		seen[d] = true
	}
	switch p.Status {
	case "", StatusWaiting, StatusInProgress:
	default:
		return 0, fmt.Errorf("admit: cannot admit with status %s: %w", p.Status, ErrValidation)
	}
	if p.CurrentDepartment == "" {
		return 0, nil
	}
	start := p.journeyIndex(p.CurrentDepartment)
	if start < 0 {
		return 0, fmt.Errorf("admit: start department %s not in journey: %w", p.CurrentDepartment, ErrValidation)
	}
	return start, nil
}

// AdvanceToNextZone completes the current zone and moves the patient to the
// next one. At the last zone the patient becomes COMPLETED and keeps the
// final department; callers detect the terminal case with Completed.
func (e *Engine) AdvanceToNextZone(id string) (*Patient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if cur.Completed() {
		return nil, fmt.Errorf("advance %s: journey already completed: %w", id, ErrInvalidTransition)
	}
	i := cur.journeyIndex(cur.CurrentDepartment)
	if i < 0 {
		return nil, fmt.Errorf("advance %s: current department %s not in journey: %w", id, cur.CurrentDepartment, ErrInvalidTransition)
	}

	now := e.clock.Now()
	p := cur.Clone()
	if ti := p.timelineIndex(p.CurrentDepartment); ti >= 0 {
		p.Timeline[ti].Status = EntryDone
		p.Timeline[ti].CompletedAt = timePtr(now)
		if s := zoneSummary(p, p.CurrentDepartment); s != nil {
			p.Timeline[ti].Summary = s
		}
	}

	if i == len(p.Journey)-1 {
		p.Status = StatusCompleted
		e.put(p)
		return p.Clone(), nil
	}

	next := p.Journey[i+1]
	p.CurrentDepartment = next
	if ti := p.timelineIndex(next); ti >= 0 {
		p.Timeline[ti].Status = EntryCurrent
		p.Timeline[ti].EnteredAt = timePtr(now)
	}
	p.Status = StatusWaiting
	p.EnteredZoneAt = timePtr(now)
	p.EstimatedWaitTime = e.zones.DefaultWait(next)

	e.put(p)
	return p.Clone(), nil
}

// SetZoneStatus updates the patient's status within the current zone and
// restarts the zone clock. A department other than the current one is
// ignored: the unchanged patient is returned with applied=false.
func (e *Engine) SetZoneStatus(id string, dept Department, status PatientStatus) (p *Patient, applied bool, err error) {
	if !dept.Valid() {
		return nil, false, fmt.Errorf("set status: unknown department %q: %w", dept, ErrValidation)
	}
	if !validStatuses[status] {
		return nil, false, fmt.Errorf("set status: unknown status %q: %w", status, ErrValidation)
	}
	if status != StatusWaiting && status != StatusInProgress {
		return nil, false, fmt.Errorf("set status: %s is reserved for journey transitions: %w", status, ErrInvalidTransition)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.lookup(id)
	if err != nil {
		return nil, false, err
	}
	if cur.Completed() {
		return nil, false, fmt.Errorf("set status %s: journey already completed: %w", id, ErrInvalidTransition)
	}
	if dept != cur.CurrentDepartment {
		return cur.Clone(), false, nil
	}

	p = cur.Clone()
	p.Status = status
	p.EnteredZoneAt = timePtr(e.clock.Now())
	e.put(p)
	return p.Clone(), true, nil
}

// Reroute removes skip from the remaining journey and moves the patient to
// the zone that follows the current one in the shortened journey. When no
// zone follows, the patient stays where it is.
func (e *Engine) Reroute(id string, skip Department) (*Patient, error) {
	if !skip.Valid() {
		return nil, fmt.Errorf("reroute: unknown department %q: %w", skip, ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if cur.Completed() {
		return nil, fmt.Errorf("reroute %s: journey already completed: %w", id, ErrInvalidTransition)
	}
	ci := cur.journeyIndex(cur.CurrentDepartment)
	si := cur.journeyIndex(skip)
	switch {
	case ci < 0:
		return nil, fmt.Errorf("reroute %s: current department %s not in journey: %w", id, cur.CurrentDepartment, ErrInvalidTransition)
	case si < 0:
		return nil, fmt.Errorf("reroute %s: %s is not in the journey: %w", id, skip, ErrInvalidTransition)
	case si <= ci:
		return nil, fmt.Errorf("reroute %s: %s is not ahead of %s: %w", id, skip, cur.CurrentDepartment, ErrInvalidTransition)
	}

	now := e.clock.Now()
	p := cur.Clone()
	left := p.CurrentDepartment

	journey := make([]Department, 0, len(p.Journey)-1)
	for _, d := range p.Journey {
		if d != skip {
			journey = append(journey, d)
		}
	}
	target := left
	if ci+1 < len(journey) {
		target = journey[ci+1]
	}

	route, skipped := timelineRoute(p)
	skipped[skip] = true
	currentIdx := indexOf(route, target)
	timeline := BuildTimeline(route, currentIdx, skipped, now)
	carryOver(timeline, p.Timeline)
	for i := range timeline {
		if timeline[i].Status == EntryDone && timeline[i].CompletedAt == nil {
			timeline[i].CompletedAt = timePtr(now)
			if timeline[i].Department == left {
				timeline[i].Summary = zoneSummary(p, left)
			}
		}
	}

	p.Journey = journey
	p.Timeline = timeline
	p.CurrentDepartment = target
	p.Status = StatusRerouted
	p.EnteredZoneAt = timePtr(now)
	if target != left {
		p.EstimatedWaitTime = e.zones.DefaultWait(target)
	}

	e.put(p)
	return p.Clone(), nil
}

// timelineRoute returns the department order shown on the patient's timeline
// together with the departments already skipped. It falls back to the journey
// when the timeline does not cover it.
func timelineRoute(p *Patient) ([]Department, map[Department]bool) {
	route := make([]Department, 0, len(p.Timeline))
	skipped := make(map[Department]bool)
	for _, t := range p.Timeline {
		route = append(route, t.Department)
		if t.Status == EntrySkipped {
			skipped[t.Department] = true
		}
	}
	for _, d := range p.Journey {
		if indexOf(route, d) < 0 {
			return append([]Department(nil), p.Journey...), skipped
		}
	}
	return route, skipped
}

func indexOf(route []Department, d Department) int {
	for i, r := range route {
		if r == d {
			return i
		}
	}
	return -1
}

// SaveZoneRecord stores a validated clinical record for its zone, replacing
// any earlier record and clearing that zone's draft. It leaves the journey
// untouched.
func (e *Engine) SaveZoneRecord(id string, rec ZoneRecord) (*Patient, error) {
	if isNilRecord(rec) {
		return nil, fmt.Errorf("save record: record is required: %w", ErrValidation)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	p := cur.Clone()
	switch r := rec.(type) {
	case *RefractionData:
		saved := r.clone()
		saved.SavedAt = timePtr(now)
		p.RefractionData = saved
	case *DilationData:
		saved := r.clone()
		saved.ReadyTime = saved.DropTime.Add(DilationWaitPeriod)
		saved.SavedAt = timePtr(now)
		p.DilationData = saved
	case *ConsultationData:
		saved := r.clone()
		saved.SavedAt = timePtr(now)
		p.ConsultationData = saved
	default:
		return nil, fmt.Errorf("save record: unsupported zone %q: %w", rec.Zone(), ErrValidation)
	}
	if p.Draft != nil {
		p.Draft.clear(rec.Zone())
		if p.Draft.empty() {
			p.Draft = nil
		}
	}

	e.put(p)
	return p.Clone(), nil
}

func isNilRecord(rec ZoneRecord) bool {
	switch r := rec.(type) {
	case nil:
		return true
	case *RefractionData:
		return r == nil
	case *DilationData:
		return r == nil
	case *ConsultationData:
		return r == nil
	}
	return false
}

// SaveDraft overwrites the draft slot of the draft's zone.
func (e *Engine) SaveDraft(id string, draft ZoneDraft) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.lookup(id)
	if err != nil {
		return err
	}

	p := cur.Clone()
	if p.Draft == nil {
		p.Draft = &Drafts{}
	}
	switch d := draft.(type) {
	case *RefractionDraft:
		if d == nil {
			return fmt.Errorf("save draft: draft is required: %w", ErrValidation)
		}
		p.Draft.Refraction = d.clone()
	case *DilationDraft:
		if d == nil {
			return fmt.Errorf("save draft: draft is required: %w", ErrValidation)
		}
		p.Draft.Dilation = d.clone()
	case *ConsultationDraft:
		if d == nil {
			return fmt.Errorf("save draft: draft is required: %w", ErrValidation)
		}
		p.Draft.Consultation = d.clone()
	default:
		return fmt.Errorf("save draft: draft is required: %w", ErrValidation)
	}

	e.put(p)
	return nil
}

// zoneSummary describes the saved work of a zone for its timeline entry.
func zoneSummary(p *Patient, d Department) *string {
	switch d {
	case Refraction:
		if p.RefractionData != nil {
			return strPtr(p.RefractionData.summary())
		}
	case Dilation:
		if p.DilationData != nil {
			return strPtr(p.DilationData.summary())
		}
	case Consultation:
		if p.ConsultationData != nil {
			return strPtr(p.ConsultationData.summary())
		}
	}
	return nil
}

// Get returns the patient with the given id.
func (e *Engine) Get(id string) (*Patient, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// GetByToken returns the patient holding token, ignoring case.
func (e *Engine) GetByToken(token string) (*Patient, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	id, ok := e.tokens[tokenKey(token)]
	if !ok {
		return nil, fmt.Errorf("token %q: %w", token, ErrNotFound)
	}
	return e.patients[id].Clone(), nil
}

// TokenInUse reports whether token has already been issued.
func (e *Engine) TokenInUse(token string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tokens[tokenKey(token)]
	return ok
}

// List returns every patient in admission order.
func (e *Engine) List() []*Patient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listLocked()
}

func (e *Engine) listLocked() []*Patient {
	out := make([]*Patient, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.patients[id].Clone())
	}
	return out
}

// DepartmentQueue returns the patients still being seen in dept, first come
// first served.
func (e *Engine) DepartmentQueue(dept Department) []*Patient {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var queue []*Patient
	for _, id := range e.order {
		p := e.patients[id]
		if p.CurrentDepartment == dept && !p.Completed() {
			queue = append(queue, p.Clone())
		}
	}
	sortFIFO(queue)
	return queue
}

// Export returns the collection as a flat list in admission order.
func (e *Engine) Export() []Patient {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Patient, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.patients[id].Clone())
	}
	return out
}

// Import replaces the collection with list. Nothing changes when any record
// breaks an invariant or repeats an id or token.
func (e *Engine) Import(list []Patient) error {
	patients := make(map[string]*Patient, len(list))
	tokens := make(map[string]string, len(list))
	order := make([]string, 0, len(list))
	for i := range list {
		p := list[i].Clone()
		if p.ID == "" || p.Token == "" {
			return fmt.Errorf("import: record %d lacks id or token: %w", i, ErrValidation)
		}
		if err := CheckInvariants(p); err != nil {
			return fmt.Errorf("import: %w", err)
		}
		if _, dup := patients[p.ID]; dup {
			return fmt.Errorf("import: duplicate id %q: %w", p.ID, ErrValidation)
		}
		key := tokenKey(p.Token)
		if _, dup := tokens[key]; dup {
			return fmt.Errorf("import: duplicate token %q: %w", p.Token, ErrValidation)
		}
		patients[p.ID] = p
		tokens[key] = p.ID
		order = append(order, p.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.patients = patients
	e.tokens = tokens
	e.order = order
	return nil
}
