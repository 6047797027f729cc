// Package jobs holds the background work scheduled alongside the API server.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/optiflow/flow/internal/domain/patientflow"
	"github.com/optiflow/flow/internal/platform/webhook"
)

// DefaultOverdueSpec runs the scan once a minute.
const DefaultOverdueSpec = "@every 1m"

// Alerter delivers overdue alerts outside the building.
type Alerter interface {
	Notify(ctx context.Context, kind string, data interface{}) (*webhook.Delivery, error)
}

// OverdueAlert is the payload of a patient.overdue event.
type OverdueAlert struct {
	PatientID     string                    `json:"patient_id"`
	Token         string                    `json:"token"`
	Name          string                    `json:"name"`
	Department    patientflow.Department    `json:"department"`
	Status        patientflow.PatientStatus `json:"status"`
	EnteredZoneAt time.Time                 `json:"entered_zone_at"`
	MinutesInZone int                       `json:"minutes_in_zone"`
}

// OverdueMonitor periodically looks for patients who have been in their
// current zone longer than the overdue threshold. Each zone entry alerts once.
type OverdueMonitor struct {
	svc     *patientflow.Service
	alerter Alerter
	spec    string
	logger  zerolog.Logger

	cron *cron.Cron

	mu   sync.Mutex
	sent map[string]struct{}
}

// NewOverdueMonitor builds a monitor. alerter may be nil; an empty spec
// falls back to DefaultOverdueSpec.
func NewOverdueMonitor(svc *patientflow.Service, alerter Alerter, spec string, logger zerolog.Logger) *OverdueMonitor {
	if spec == "" {
		spec = DefaultOverdueSpec
	}
	return &OverdueMonitor{
		svc:     svc,
		alerter: alerter,
		spec:    spec,
		logger:  logger.With().Str("job", "overdue_monitor").Logger(),
		sent:    make(map[string]struct{}),
	}
}

// Start schedules the scan. It returns an error for an unparseable spec.
func (m *OverdueMonitor) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(m.spec, func() {
		m.Scan(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule overdue monitor %q: %w", m.spec, err)
	}
	m.cron = c
	c.Start()
	m.logger.Info().Str("spec", m.spec).Msg("overdue monitor started")
	return nil
}

// Stop halts the schedule and waits for a running scan to finish.
func (m *OverdueMonitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.logger.Info().Msg("overdue monitor stopped")
}

func alertKey(p *patientflow.Patient) string {
	return p.ID + "|" + p.EnteredZoneAt.UTC().Format(time.RFC3339Nano)
}

// Scan checks every active patient once and returns the alerts raised by
// this run.
func (m *OverdueMonitor) Scan(ctx context.Context) []OverdueAlert {
	now := m.svc.Engine().Clock().Now()
	patients := m.svc.Engine().List()

	var due []*patientflow.Patient
	live := make(map[string]struct{}, len(patients))

	m.mu.Lock()
	for _, p := range patients {
		if p.Completed() || p.EnteredZoneAt == nil {
			continue
		}
		key := alertKey(p)
		live[key] = struct{}{}
		if !patientflow.IsOverdue(p, now) {
			continue
		}
		if _, done := m.sent[key]; done {
			continue
		}
		m.sent[key] = struct{}{}
		due = append(due, p)
	}
	// forget zone entries that no longer exist
	for key := range m.sent {
		if _, ok := live[key]; !ok {
			delete(m.sent, key)
		}
	}
	m.mu.Unlock()

	alerts := make([]OverdueAlert, 0, len(due))
	for _, p := range due {
		a := OverdueAlert{
			PatientID:     p.ID,
			Token:         p.Token,
			Name:          p.Name,
			Department:    p.CurrentDepartment,
			Status:        p.Status,
			EnteredZoneAt: *p.EnteredZoneAt,
			MinutesInZone: patientflow.MinutesInZone(p, now),
		}
		alerts = append(alerts, a)

		m.logger.Warn().Str("patient_id", a.PatientID).Str("token", a.Token).
			Str("department", string(a.Department)).Int("minutes_in_zone", a.MinutesInZone).
			Msg("patient overdue")
		m.svc.PublishOverdue(ctx, p, a)
		if m.alerter != nil {
			if _, err := m.alerter.Notify(ctx, patientflow.EventOverdue, a); err != nil {
				m.logger.Error().Err(err).Str("patient_id", a.PatientID).Msg("overdue alert delivery failed")
			}
		}
	}
	if len(alerts) > 0 {
		m.logger.Info().Int("alerts", len(alerts)).Msg("overdue scan complete")
	}
	return alerts
}
