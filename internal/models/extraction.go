// Package models defines structured-extraction payloads exchanged with the
// text-generation backend.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MinExtractionConfidence is the confidence score below which an extraction
// result is never persisted, regardless of its sufficiency flag.
const MinExtractionConfidence = 70

// DefaultIntentions is the placeholder stored when a check-in extraction
// carries no explicit intentions.
const DefaultIntentions = "No specific intentions shared"

// CheckInExtraction is the structured payload returned by the backend for
// wellness check-in extraction. SleepQuality and EnergyLevel are pointers
// so that "not mentioned" stays distinguishable from a rating of zero.
type CheckInExtraction struct {
	Mood              string `json:"mood"`
	SleepQuality      *int   `json:"sleep_quality"`
	EnergyLevel       *int   `json:"energy_level"`
	Intentions        string `json:"intentions"`
	HasSufficientData bool   `json:"has_sufficient_data"`
	Confidence        int    `json:"confidence"`
}

// Complete reports whether all required fields are present. The gate is
// AND'ed with the sufficiency flag and the confidence threshold.
func (e *CheckInExtraction) Complete() bool {
	return e.Mood != "" && e.SleepQuality != nil && e.EnergyLevel != nil
}

// Validate rejects payloads whose shape the backend got wrong.
func (e *CheckInExtraction) Validate() error {
	if e.Confidence < 0 || e.Confidence > 100 {
		return fmt.Errorf("confidence %d out of range [0,100]", e.Confidence)
	}
	if e.SleepQuality != nil && (*e.SleepQuality < MinSleepQuality || *e.SleepQuality > MaxSleepQuality) {
		return ErrSleepQualityRange
	}
	if e.EnergyLevel != nil && (*e.EnergyLevel < MinEnergyLevel || *e.EnergyLevel > MaxEnergyLevel) {
		return ErrEnergyLevelRange
	}
	return nil
}

// JournalExtraction is the structured payload returned by the backend for
// reflective journal extraction.
type JournalExtraction struct {
	Title             string `json:"title"`
	Content           string `json:"content"`
	Declined          bool   `json:"declined"`
	HasSufficientData bool   `json:"has_sufficient_data"`
	Confidence        int    `json:"confidence"`
}

// Validate rejects payloads whose shape the backend got wrong.
func (e *JournalExtraction) Validate() error {
	if e.Confidence < 0 || e.Confidence > 100 {
		return fmt.Errorf("confidence %d out of range [0,100]", e.Confidence)
	}
	return nil
}

// TransitionJudgment is the structured payload returned by the backend
// when judging phase completion criteria against the message window.
type TransitionJudgment struct {
	CriteriaMet []string `json:"criteria_met"`
	Rationale   string   `json:"rationale"`
}

// Validate rejects judgments that reference criteria outside the offered set.
func (j *TransitionJudgment) Validate(offered []string) error {
	known := make(map[string]struct{}, len(offered))
	for _, c := range offered {
		known[c] = struct{}{}
	}
	for _, c := range j.CriteriaMet {
		if _, ok := known[c]; !ok {
			return fmt.Errorf("judgment references unknown criterion %q", c)
		}
	}
	return nil
}

// TransitionDecision is the tagged result of a transition check. Keeping
// ServiceFailed separate from Transition lets callers distinguish
// "criteria not met" from "service unreachable".
type TransitionDecision struct {
	Transition    bool   `json:"transition"`
	Reason        string `json:"reason"`
	ServiceFailed bool   `json:"service_failed,omitempty"`
}

// DecodeStrict unmarshals data into out, rejecting unknown fields. Used by
// every extractor so unknown-shape backend responses fail loudly instead
// of being coerced.
func DecodeStrict(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode extraction payload: %w", err)
	}
	return nil
}
