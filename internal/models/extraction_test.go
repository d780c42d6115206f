package models

import (
	"encoding/json"
	"testing"
)

func TestDecodeStrictRejectsUnknownFields(t *testing.T) {
	payload := []byte(`{"mood":"calm","sleep_quality":4,"energy_level":3,"intentions":"","has_sufficient_data":true,"confidence":90,"extra_field":"surprise"}`)
	var out CheckInExtraction
	if err := DecodeStrict(payload, &out); err == nil {
		t.Error("expected unknown field to be rejected")
	}

	known := []byte(`{"mood":"calm","sleep_quality":4,"energy_level":3,"intentions":"rest","has_sufficient_data":true,"confidence":90}`)
	if err := DecodeStrict(known, &out); err != nil {
		t.Errorf("expected known-shape payload to decode, got %v", err)
	}
	if out.Mood != "calm" || out.SleepQuality == nil || *out.SleepQuality != 4 {
		t.Errorf("decoded payload mismatch: %+v", out)
	}
}

func TestCheckInExtractionComplete(t *testing.T) {
	four := 4
	e := CheckInExtraction{Mood: "calm", SleepQuality: &four, EnergyLevel: &four}
	if !e.Complete() {
		t.Error("all fields present should be complete")
	}

	e.SleepQuality = nil
	if e.Complete() {
		t.Error("nil sleep quality should be incomplete")
	}

	e.SleepQuality = &four
	e.Mood = ""
	if e.Complete() {
		t.Error("empty mood should be incomplete")
	}
}

func TestCheckInExtractionValidate(t *testing.T) {
	bad := 9
	e := CheckInExtraction{Mood: "calm", SleepQuality: &bad, Confidence: 80}
	if err := e.Validate(); err == nil {
		t.Error("out-of-range sleep quality should fail validation")
	}

	e = CheckInExtraction{Mood: "calm", Confidence: 130}
	if err := e.Validate(); err == nil {
		t.Error("out-of-range confidence should fail validation")
	}

	// Null ratings are a valid shape; the completeness gate handles them.
	e = CheckInExtraction{Mood: "calm", Confidence: 80}
	if err := e.Validate(); err != nil {
		t.Errorf("null ratings should pass shape validation, got %v", err)
	}
}

func TestTransitionJudgmentValidate(t *testing.T) {
	offered := []string{"user stated their mood", "user described their sleep"}

	j := TransitionJudgment{CriteriaMet: []string{"user stated their mood"}, Rationale: "mood stated"}
	if err := j.Validate(offered); err != nil {
		t.Errorf("expected valid judgment, got %v", err)
	}

	j.CriteriaMet = []string{"user mentioned the weather"}
	if err := j.Validate(offered); err == nil {
		t.Error("criterion outside the offered set should be rejected")
	}

	j.CriteriaMet = nil
	if err := j.Validate(offered); err != nil {
		t.Errorf("empty criteria_met is a valid no-criteria-met judgment, got %v", err)
	}
}

func TestTransitionDecisionJSONShape(t *testing.T) {
	d := TransitionDecision{Transition: false, Reason: "below minimum exchanges"}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	// ServiceFailed is omitted when false so logs stay compact.
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, present := raw["service_failed"]; present {
		t.Error("service_failed should be omitted when false")
	}
}
