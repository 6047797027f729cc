// Package triage scores newly registered patients and picks their route
// through the clinic.
package triage

import (
	"strings"
)

const (
	baseScore     = 2
	seniorAge     = 60
	defaultAge    = 30
	maxScore      = 10
	extendedScore = 7
)

// Pathways recommended at the registration desk.
const (
	PathwayRetinaExpress = "Retina Express"
	PathwayDilation      = "Comprehensive Dilation"
	PathwayRoutine       = "Standard Routine"
)

// Risk bands shown next to the score.
const (
	BandHigh     = "High Risk"
	BandStandard = "Standard"
	BandRoutine  = "Routine"
)

// Journey zone names. They match the flow engine's department names.
var (
	defaultJourney  = []string{"Registration", "Refraction", "Dilation", "Consultation"}
	extendedJourney = []string{"Registration", "Refraction", "Dilation", "Consultation", "Tests"}
)

func mentions(symptoms []string, fragment string) bool {
	for _, s := range symptoms {
		if strings.Contains(strings.ToLower(s), fragment) {
			return true
		}
	}
	return false
}

// Diabetic reports whether any symptom mentions diabetes.
func Diabetic(symptoms []string) bool { return mentions(symptoms, "diabet") }

// Flashes reports whether any symptom mentions flashes of light.
func Flashes(symptoms []string) bool { return mentions(symptoms, "flash") }

// Score rates complexity on a 0-10 scale. An unknown age (zero or less) is
// scored as an adult of 30.
func Score(age int, symptoms []string) int {
	if age <= 0 {
		age = defaultAge
	}
	score := baseScore
	if age > seniorAge {
		score += 2
	}
	if Diabetic(symptoms) {
		score += 3
	}
	if Flashes(symptoms) {
		score += 4
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

// Pathway recommends a care pathway from the presenting symptoms.
func Pathway(symptoms []string) string {
	switch {
	case Flashes(symptoms):
		return PathwayRetinaExpress
	case Diabetic(symptoms):
		return PathwayDilation
	}
	return PathwayRoutine
}

// Band labels a score.
func Band(score int) string {
	switch {
	case score > 7:
		return BandHigh
	case score > 4:
		return BandStandard
	}
	return BandRoutine
}

// Journey returns the zone names a patient with the given score visits.
func Journey(score int) []string {
	if score >= extendedScore {
		return append([]string(nil), extendedJourney...)
	}
	return append([]string(nil), defaultJourney...)
}

// Assessment bundles the triage outcome for one patient.
type Assessment struct {
	Score    int      `json:"score"`
	Pathway  string   `json:"pathway"`
	Band     string   `json:"band"`
	Journey  []string `json:"journey"`
	Diabetic bool     `json:"diabetic"`
}

// Assess runs every triage rule.
func Assess(age int, symptoms []string) Assessment {
	score := Score(age, symptoms)
	return Assessment{
		Score:    score,
		Pathway:  Pathway(symptoms),
		Band:     Band(score),
		Journey:  Journey(score),
		Diabetic: Diabetic(symptoms),
	}
}

// SplitSymptoms splits a comma separated complaint list, dropping blanks.
func SplitSymptoms(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
