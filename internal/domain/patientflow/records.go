package patientflow

import (
	"fmt"
	"strings"
	"time"
)

// ZoneKind identifies a zone that keeps a clinical record.
type ZoneKind string

const (
	ZoneRefraction   ZoneKind = "refraction"
	ZoneDilation     ZoneKind = "dilation"
	ZoneConsultation ZoneKind = "consultation"
)

// ParseZoneKind resolves a zone kind case-insensitively.
func ParseZoneKind(s string) (ZoneKind, bool) {
	switch ZoneKind(strings.ToLower(strings.TrimSpace(s))) {
	case ZoneRefraction:
		return ZoneRefraction, true
	case ZoneDilation:
		return ZoneDilation, true
	case ZoneConsultation:
		return ZoneConsultation, true
	}
	return "", false
}

// Department returns the department whose staff fill this record.
func (z ZoneKind) Department() Department {
	switch z {
	case ZoneRefraction:
		return Refraction
	case ZoneDilation:
		return Dilation
	case ZoneConsultation:
		return Consultation
	}
	return ""
}

// DilationWaitPeriod is the time from drop instillation until the pupil is
// ready for examination.
const DilationWaitPeriod = 20 * time.Minute

// ZoneRecord is a saved clinical record for one zone.
type ZoneRecord interface {
	Zone() ZoneKind
	Validate() error
}

// ZoneDraft is an in-progress, unvalidated form for one zone.
type ZoneDraft interface {
	Zone() ZoneKind
}

// RefractionData holds the visual acuity, refraction and pressure readings.
type RefractionData struct {
	VARight       string     `json:"va_right"`
	VALeft        string     `json:"va_left"`
	SphereRight   string     `json:"sphere_right"`
	SphereLeft    string     `json:"sphere_left"`
	CylinderRight string     `json:"cylinder_right"`
	CylinderLeft  string     `json:"cylinder_left"`
	AxisRight     string     `json:"axis_right"`
	AxisLeft      string     `json:"axis_left"`
	IOPRight      string     `json:"iop_right"`
	IOPLeft       string     `json:"iop_left"`
	Notes         string     `json:"notes"`
	SavedAt       *time.Time `json:"saved_at,omitempty"`
}

func (r *RefractionData) Zone() ZoneKind { return ZoneRefraction }

func (r *RefractionData) Validate() error {
	required := []struct {
		name, value string
	}{
		{"va_right", r.VARight}, {"va_left", r.VALeft},
		{"sphere_right", r.SphereRight}, {"sphere_left", r.SphereLeft},
		{"cylinder_right", r.CylinderRight}, {"cylinder_left", r.CylinderLeft},
		{"axis_right", r.AxisRight}, {"axis_left", r.AxisLeft},
		{"iop_right", r.IOPRight}, {"iop_left", r.IOPLeft},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("refraction: %s is required: %w", f.name, ErrValidation)
		}
	}
	return nil
}

func (r *RefractionData) summary() string {
	return fmt.Sprintf("VA: %s | IOP: %s", r.VARight, r.IOPRight)
}

func (r *RefractionData) clone() *RefractionData {
	if r == nil {
		return nil
	}
	c := *r
	c.SavedAt = cloneTime(r.SavedAt)
	return &c
}

// Dilating agents and treated eyes.
const (
	DrugTropicamide      = "Tropicamide"
	DrugPhenylephrine    = "Phenylephrine"
	DrugTropicamideCombo = "Tropicamide+Phenylephrine"

	EyeRight = "OD"
	EyeLeft  = "OS"
	EyeBoth  = "OU"
)

var (
	validDrugs = map[string]bool{DrugTropicamide: true, DrugPhenylephrine: true, DrugTropicamideCombo: true}
	validEyes  = map[string]bool{EyeRight: true, EyeLeft: true, EyeBoth: true}
)

// DilationData records the dilating drops given to the patient. ReadyTime is
// derived from DropTime when the record is saved.
type DilationData struct {
	DrugUsed   string     `json:"drug_used"`
	DropTime   time.Time  `json:"drop_time"`
	ReadyTime  time.Time  `json:"ready_time"`
	EyeTreated string     `json:"eye_treated"`
	Notes      string     `json:"notes"`
	SavedAt    *time.Time `json:"saved_at,omitempty"`
}

func (d *DilationData) Zone() ZoneKind { return ZoneDilation }

func (d *DilationData) Validate() error {
	if !validDrugs[d.DrugUsed] {
		return fmt.Errorf("dilation: unknown drug %q: %w", d.DrugUsed, ErrValidation)
	}
	if !validEyes[d.EyeTreated] {
		return fmt.Errorf("dilation: unknown eye %q: %w", d.EyeTreated, ErrValidation)
	}
	if d.DropTime.IsZero() {
		return fmt.Errorf("dilation: drop_time is required: %w", ErrValidation)
	}
	return nil
}

func (d *DilationData) summary() string {
	return fmt.Sprintf("%s | %s | Drop at %s", d.DrugUsed, d.EyeTreated, d.DropTime.Format("15:04"))
}

func (d *DilationData) clone() *DilationData {
	if d == nil {
		return nil
	}
	c := *d
	c.SavedAt = cloneTime(d.SavedAt)
	return &c
}

// Prescription units and routes.
var (
	validUnits  = map[string]bool{"tab": true, "drop": true, "mg": true}
	validRoutes = map[string]bool{"oral": true, "topical": true, "injection": true}
)

// PrescriptionItem is one medicine line of a consultation.
type PrescriptionItem struct {
	ID        string   `json:"id"`
	Medicine  string   `json:"medicine"`
	Dosage    float64  `json:"dosage"`
	Unit      string   `json:"unit"`
	Frequency []string `json:"frequency"`
	Duration  string   `json:"duration"`
	Route     string   `json:"route"`
}

func (p PrescriptionItem) validate(i int) error {
	switch {
	case strings.TrimSpace(p.Medicine) == "":
		return fmt.Errorf("consultation: prescription[%d]: medicine is required: %w", i, ErrValidation)
	case p.Dosage < 0.5:
		return fmt.Errorf("consultation: prescription[%d]: dosage must be at least 0.5: %w", i, ErrValidation)
	case !validUnits[p.Unit]:
		return fmt.Errorf("consultation: prescription[%d]: unknown unit %q: %w", i, p.Unit, ErrValidation)
	case len(p.Frequency) == 0:
		return fmt.Errorf("consultation: prescription[%d]: select at least one frequency: %w", i, ErrValidation)
	case strings.TrimSpace(p.Duration) == "":
		return fmt.Errorf("consultation: prescription[%d]: duration is required: %w", i, ErrValidation)
	case !validRoutes[p.Route]:
		return fmt.Errorf("consultation: prescription[%d]: unknown route %q: %w", i, p.Route, ErrValidation)
	}
	return nil
}

// ConsultationData is the doctor's record of the visit.
type ConsultationData struct {
	HPI           string             `json:"hpi"`
	Diagnosis     string             `json:"diagnosis"`
	DiagnosisCode string             `json:"diagnosis_code"`
	EyeFindings   string             `json:"eye_findings"`
	Prescription  []PrescriptionItem `json:"prescription"`
	FollowUpDays  int                `json:"follow_up_days"`
	Referral      string             `json:"referral"`
	Notes         string             `json:"notes"`
	SavedAt       *time.Time         `json:"saved_at,omitempty"`
}

func (c *ConsultationData) Zone() ZoneKind { return ZoneConsultation }

func (c *ConsultationData) Validate() error {
	if len(strings.TrimSpace(c.HPI)) < 5 {
		return fmt.Errorf("consultation: describe the history of presenting illness: %w", ErrValidation)
	}
	if strings.TrimSpace(c.Diagnosis) == "" {
		return fmt.Errorf("consultation: diagnosis is required: %w", ErrValidation)
	}
	if c.FollowUpDays < 0 || c.FollowUpDays > 365 {
		return fmt.Errorf("consultation: follow_up_days must be within 0-365: %w", ErrValidation)
	}
	for i, item := range c.Prescription {
		if err := item.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsultationData) summary() string {
	return fmt.Sprintf("Dx: %s | Rx: %d", c.Diagnosis, len(c.Prescription))
}

func (c *ConsultationData) clone() *ConsultationData {
	if c == nil {
		return nil
	}
	cp := *c
	cp.SavedAt = cloneTime(c.SavedAt)
	if c.Prescription != nil {
		cp.Prescription = make([]PrescriptionItem, len(c.Prescription))
		for i, item := range c.Prescription {
			item.Frequency = cloneStrings(item.Frequency)
			cp.Prescription[i] = item
		}
	}
	return &cp
}

// RefractionDraft is a partially filled refraction form.
type RefractionDraft struct {
	VARight       *string `json:"va_right,omitempty"`
	VALeft        *string `json:"va_left,omitempty"`
	SphereRight   *string `json:"sphere_right,omitempty"`
	SphereLeft    *string `json:"sphere_left,omitempty"`
	CylinderRight *string `json:"cylinder_right,omitempty"`
	CylinderLeft  *string `json:"cylinder_left,omitempty"`
	AxisRight     *string `json:"axis_right,omitempty"`
	AxisLeft      *string `json:"axis_left,omitempty"`
	IOPRight      *string `json:"iop_right,omitempty"`
	IOPLeft       *string `json:"iop_left,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

func (d *RefractionDraft) Zone() ZoneKind { return ZoneRefraction }

// DilationDraft is a partially filled dilation form.
type DilationDraft struct {
	DrugUsed   *string    `json:"drug_used,omitempty"`
	DropTime   *time.Time `json:"drop_time,omitempty"`
	EyeTreated *string    `json:"eye_treated,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
}

func (d *DilationDraft) Zone() ZoneKind { return ZoneDilation }

// ConsultationDraft is a partially filled consultation form.
type ConsultationDraft struct {
	HPI           *string            `json:"hpi,omitempty"`
	Diagnosis     *string            `json:"diagnosis,omitempty"`
	DiagnosisCode *string            `json:"diagnosis_code,omitempty"`
	EyeFindings   *string            `json:"eye_findings,omitempty"`
	Prescription  []PrescriptionItem `json:"prescription"`
	FollowUpDays  *int               `json:"follow_up_days,omitempty"`
	Referral      *string            `json:"referral,omitempty"`
	Notes         *string            `json:"notes,omitempty"`
}

func (d *ConsultationDraft) Zone() ZoneKind { return ZoneConsultation }

// Drafts holds one unsaved form slot per zone.
type Drafts struct {
	Refraction   *RefractionDraft   `json:"refraction,omitempty"`
	Dilation     *DilationDraft     `json:"dilation,omitempty"`
	Consultation *ConsultationDraft `json:"consultation,omitempty"`
}

func (d *Drafts) empty() bool {
	return d.Refraction == nil && d.Dilation == nil && d.Consultation == nil
}

func (d *Drafts) clear(z ZoneKind) {
	switch z {
	case ZoneRefraction:
		d.Refraction = nil
	case ZoneDilation:
		d.Dilation = nil
	case ZoneConsultation:
		d.Consultation = nil
	}
}

func (d *RefractionDraft) clone() *RefractionDraft {
	if d == nil {
		return nil
	}
	return &RefractionDraft{
		VARight:       cloneString(d.VARight),
		VALeft:        cloneString(d.VALeft),
		SphereRight:   cloneString(d.SphereRight),
		SphereLeft:    cloneString(d.SphereLeft),
		CylinderRight: cloneString(d.CylinderRight),
		CylinderLeft:  cloneString(d.CylinderLeft),
		AxisRight:     cloneString(d.AxisRight),
		AxisLeft:      cloneString(d.AxisLeft),
		IOPRight:      cloneString(d.IOPRight),
		IOPLeft:       cloneString(d.IOPLeft),
		Notes:         cloneString(d.Notes),
	}
}

func (d *DilationDraft) clone() *DilationDraft {
	if d == nil {
		return nil
	}
	return &DilationDraft{
		DrugUsed:   cloneString(d.DrugUsed),
		DropTime:   cloneTime(d.DropTime),
		EyeTreated: cloneString(d.EyeTreated),
		Notes:      cloneString(d.Notes),
	}
}

func (d *ConsultationDraft) clone() *ConsultationDraft {
	if d == nil {
		return nil
	}
	c := &ConsultationDraft{
		HPI:           cloneString(d.HPI),
		Diagnosis:     cloneString(d.Diagnosis),
		DiagnosisCode: cloneString(d.DiagnosisCode),
		EyeFindings:   cloneString(d.EyeFindings),
		Referral:      cloneString(d.Referral),
		Notes:         cloneString(d.Notes),
	}
	if d.FollowUpDays != nil {
		v := *d.FollowUpDays
		c.FollowUpDays = &v
	}
	if d.Prescription != nil {
		c.Prescription = make([]PrescriptionItem, len(d.Prescription))
		for i, item := range d.Prescription {
			item.Frequency = cloneStrings(item.Frequency)
			c.Prescription[i] = item
		}
	}
	return c
}

func (d *Drafts) clone() *Drafts {
	if d == nil {
		return nil
	}
	return &Drafts{
		Refraction:   d.Refraction.clone(),
		Dilation:     d.Dilation.clone(),
		Consultation: d.Consultation.clone(),
	}
}
