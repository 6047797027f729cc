package patientflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/optiflow/flow/internal/domain/triage"
	"github.com/optiflow/flow/internal/platform/websocket"
)

// Event types published on every successful command.
const (
	EventAdmitted      = "patient.admitted"
	EventStatusChanged = "patient.status_changed"
	EventAdvanced      = "patient.advanced"
	EventCompleted     = "patient.completed"
	EventRerouted      = "patient.rerouted"
	EventRecordSaved   = "patient.record_saved"
	EventOverdue       = "patient.overdue"
)

// Service runs engine commands on behalf of the outer world: every change is
// written through to the repository and announced on the event publisher.
// Commands hold writeMu from the engine call until the write lands.
type Service struct {
	writeMu sync.Mutex
	engine  *Engine
	repo    Repository
	events  websocket.EventPublisher
	tokens  *triage.TokenIssuer
	logger  zerolog.Logger
}

// NewService wires the engine to its collaborators. A nil repo keeps the
// floor in memory only; a nil events publisher drops events.
func NewService(engine *Engine, repo Repository, events websocket.EventPublisher, tokenPrefix string, logger zerolog.Logger) *Service {
	if repo == nil {
		repo = NewMemoryRepo()
	}
	return &Service{
		engine: engine,
		repo:   repo,
		events: events,
		tokens: triage.NewTokenIssuer(tokenPrefix, engine.TokenInUse),
		logger: logger.With().Str("component", "patientflow").Logger(),
	}
}

// Engine exposes the underlying engine for read-only consumers.
func (s *Service) Engine() *Engine { return s.engine }

// Restore loads the persisted floor into the engine.
func (s *Service) Restore(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	list, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}
	if err := s.engine.Import(list); err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}
	s.logger.Info().Int("patients", len(list)).Msg("floor restored")
	return len(list), nil
}

// Import replaces both the engine collection and the stored one.
func (s *Service) Import(ctx context.Context, list []Patient) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.engine.Import(list); err != nil {
		return err
	}
	if err := s.repo.ReplaceAll(ctx, list); err != nil {
		s.logger.Error().Err(err).Msg("persist imported floor")
		return err
	}
	s.logger.Info().Int("patients", len(list)).Msg("floor imported")
	return nil
}

// Export returns the engine collection.
func (s *Service) Export() []Patient { return s.engine.Export() }

// commit persists p and publishes kind. The engine change stands even when
// persistence fails.
func (s *Service) commit(ctx context.Context, kind string, p *Patient, extraTopics ...string) error {
	if err := s.repo.Save(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("patient_id", p.ID).Str("event", kind).Msg("persist patient")
		return err
	}
	s.publish(ctx, kind, p, p, extraTopics...)
	return nil
}

func (s *Service) publish(ctx context.Context, kind string, p *Patient, payload interface{}, extraTopics ...string) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", kind).Msg("encode event")
		return
	}
	topics := append([]string{
		websocket.TopicFloor,
		websocket.DepartmentTopic(string(p.CurrentDepartment)),
		websocket.PatientTopic(p.Token),
	}, extraTopics...)
	for _, topic := range topics {
		err := s.events.Publish(ctx, websocket.Event{
			Type:      kind,
			Topic:     topic,
			PatientID: p.ID,
			Token:     p.Token,
			Timestamp: s.engine.Clock().Now(),
			Data:      data,
		})
		if err != nil {
			s.logger.Error().Err(err).Str("event", kind).Str("topic", topic).Msg("publish event")
		}
	}
}

// PublishOverdue announces an overdue patient with the given detail.
func (s *Service) PublishOverdue(ctx context.Context, p *Patient, detail interface{}) {
	s.publish(ctx, EventOverdue, p, detail)
}

// RegistrationRequest is the data captured at the registration desk.
type RegistrationRequest struct {
	Name      string   `json:"name"`
	Age       int      `json:"age"`
	Gender    string   `json:"gender"`
	Phone     string   `json:"phone"`
	Symptoms  []string `json:"symptoms"`
	Allergies []string `json:"allergies"`
}

// RegistrationResult is the outcome of Register.
type RegistrationResult struct {
	Patient *Patient          `json:"patient"`
	Triage  triage.Assessment `json:"triage"`
}

// Register triages a walk-in patient, issues a token and admits them at
// Refraction with Registration already done.
func (s *Service) Register(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("register: name is required: %w", ErrValidation)
	}
	if req.Age < 0 || req.Age > 150 {
		return nil, fmt.Errorf("register: age %d out of range: %w", req.Age, ErrValidation)
	}

	a := triage.Assess(req.Age, req.Symptoms)
	journey := make([]Department, 0, len(a.Journey))
	for _, name := range a.Journey {
		d, ok := ParseDepartment(name)
		if !ok {
			return nil, fmt.Errorf("register: triage produced unknown zone %q: %w", name, ErrValidation)
		}
		journey = append(journey, d)
	}
	var history []string
	if a.Diabetic {
		history = []string{"Diabetes"}
	}
	age := req.Age
	if age == 0 {
		age = 30
	}

	p, err := s.Admit(ctx, &Patient{
		Token:             s.tokens.Next(),
		Name:              req.Name,
		Age:               age,
		Gender:            req.Gender,
		Phone:             req.Phone,
		Symptoms:          cloneStrings(req.Symptoms),
		History:           history,
		Allergies:         cloneStrings(req.Allergies),
		ComplexityScore:   a.Score,
		CurrentDepartment: Refraction,
		Journey:           journey,
	})
	if p == nil {
		return nil, err
	}
	return &RegistrationResult{Patient: p, Triage: a}, err
}

// Admit adds a fully formed patient to the floor.
func (s *Service) Admit(ctx context.Context, draft *Patient) (*Patient, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p, err := s.engine.Admit(draft)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.ID).Str("token", p.Token).
		Str("department", string(p.CurrentDepartment)).Int("score", p.ComplexityScore).Msg("patient admitted")
	return p, s.commit(ctx, EventAdmitted, p)
}

// Advance moves the patient to the next zone or completes the journey.
func (s *Service) Advance(ctx context.Context, id string) (*Patient, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	before, err := s.engine.Get(id)
	if err != nil {
		return nil, err
	}
	p, err := s.engine.AdvanceToNextZone(id)
	if err != nil {
		return nil, err
	}
	kind := EventAdvanced
	if p.Completed() {
		kind = EventCompleted
	}
	s.logger.Info().Str("patient_id", p.ID).Str("token", p.Token).
		Str("from", string(before.CurrentDepartment)).Str("to", string(p.CurrentDepartment)).
		Str("status", string(p.Status)).Msg("patient advanced")
	return p, s.commit(ctx, kind, p, departmentLeft(before, p)...)
}

// SetStatus updates the patient's status within its current zone.
func (s *Service) SetStatus(ctx context.Context, id string, dept Department, status PatientStatus) (*Patient, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p, applied, err := s.engine.SetZoneStatus(id, dept, status)
	if err != nil {
		return nil, err
	}
	if !applied {
		s.logger.Warn().Str("patient_id", id).Str("requested", string(dept)).
			Str("current", string(p.CurrentDepartment)).Msg("status change ignored: department mismatch")
		return p, nil
	}
	s.logger.Info().Str("patient_id", p.ID).Str("department", string(dept)).
		Str("status", string(status)).Msg("zone status changed")
	return p, s.commit(ctx, EventStatusChanged, p)
}

// Reroute drops skip from the patient's remaining journey.
func (s *Service) Reroute(ctx context.Context, id string, skip Department) (*Patient, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	before, err := s.engine.Get(id)
	if err != nil {
		return nil, err
	}
	p, err := s.engine.Reroute(id, skip)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.ID).Str("skipped", string(skip)).
		Str("department", string(p.CurrentDepartment)).Msg("patient rerouted")
	return p, s.commit(ctx, EventRerouted, p, departmentLeft(before, p)...)
}

func departmentLeft(before, after *Patient) []string {
	if before.CurrentDepartment == after.CurrentDepartment {
		return nil
	}
	return []string{websocket.DepartmentTopic(string(before.CurrentDepartment))}
}

// SaveRecord stores a clinical record for its zone.
func (s *Service) SaveRecord(ctx context.Context, id string, rec ZoneRecord) (*Patient, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p, err := s.engine.SaveZoneRecord(id, rec)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.ID).Str("zone", string(rec.Zone())).Msg("zone record saved")
	return p, s.commit(ctx, EventRecordSaved, p)
}

// SaveDraft autosaves a partial form. Drafts are persisted but not announced.
func (s *Service) SaveDraft(ctx context.Context, id string, draft ZoneDraft) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.engine.SaveDraft(id, draft); err != nil {
		return err
	}
	p, err := s.engine.Get(id)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("patient_id", id).Msg("persist draft")
		return err
	}
	return nil
}

// Get returns one patient.
func (s *Service) Get(_ context.Context, id string) (*Patient, error) {
	return s.engine.Get(id)
}

// ListFilter narrows List.
type ListFilter struct {
	Department Department
	Status     PatientStatus
}

// List returns patients in admission order, optionally filtered.
func (s *Service) List(_ context.Context, f ListFilter) []*Patient {
	all := s.engine.List()
	if f.Department == "" && f.Status == "" {
		return all
	}
	out := make([]*Patient, 0, len(all))
	for _, p := range all {
		if f.Department != "" && p.CurrentDepartment != f.Department {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	return out
}

// QueueEntry is one line of a department queue.
type QueueEntry struct {
	Patient       *Patient `json:"patient"`
	Position      int      `json:"position"`
	QueueAhead    int      `json:"queue_ahead"`
	MinutesInZone int      `json:"minutes_in_zone"`
	Overdue       bool     `json:"overdue"`
}

// Queue lists the patients in dept in service order.
func (s *Service) Queue(_ context.Context, dept Department) []QueueEntry {
	queue := s.engine.DepartmentQueue(dept)
	now := s.engine.Clock().Now()
	out := make([]QueueEntry, 0, len(queue))
	for i, p := range queue {
		out = append(out, QueueEntry{
			Patient:       p,
			Position:      i + 1,
			QueueAhead:    QueueAheadCount(p, queue),
			MinutesInZone: MinutesInZone(p, now),
			Overdue:       IsOverdue(p, now),
		})
	}
	return out
}

// Track returns the patient-facing view for token.
func (s *Service) Track(_ context.Context, token string) (*TrackView, error) {
	return s.engine.Track(token)
}

// Board returns the floor overview.
func (s *Service) Board(_ context.Context) *Board {
	return s.engine.Board()
}
