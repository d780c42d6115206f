// Package flow provides AI-assisted phase transition detection.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/genai"
	"github.com/BTreeMap/RecoveryCompanion/internal/models"
)

// DefaultDetectorTimeout bounds the structured-extraction call used for
// transition judgment. Expiry is treated as a service failure and fails
// safe to no transition.
const DefaultDetectorTimeout = 30 * time.Second

// phaseCriteria holds the transition rules for one phase: the user-turn
// count below which transition is never attempted, the natural-language
// completion criteria, and the fixed number of criteria that must be met.
type phaseCriteria struct {
	MinExchanges int
	Criteria     []string
	RequiredMet  int
}

// transitionCriteria fixes the pass rule per phase. CheckIn requires 2 of
// 4; Reflection requires 2 of 3; the short phases require 1.
var transitionCriteria = map[models.Phase]phaseCriteria{
	models.PhaseGreeting: {
		MinExchanges: 1,
		Criteria: []string{
			"user responded to the greeting",
			"user signaled readiness to engage",
		},
		RequiredMet: 1,
	},
	models.PhaseCheckIn: {
		MinExchanges: 2,
		Criteria: []string{
			"user stated their mood",
			"user described their sleep",
			"user described their energy level",
			"user stated an intention for the day",
		},
		RequiredMet: 2,
	},
	models.PhaseJournalPrompt: {
		MinExchanges: 1,
		Criteria: []string{
			"user shared reflective journal content",
			"user explicitly declined to journal",
			"user indicated they are done journaling",
		},
		RequiredMet: 1,
	},
	models.PhaseAffirmation: {
		MinExchanges: 1,
		Criteria: []string{
			"user acknowledged the affirmation",
			"user responded to the encouragement",
		},
		RequiredMet: 1,
	},
	models.PhaseReflection: {
		MinExchanges: 2,
		Criteria: []string{
			"user discussed recent progress",
			"user discussed a challenge or difficulty",
			"user shared an insight about their journey",
		},
		RequiredMet: 2,
	},
	models.PhaseMilestoneReview: {
		MinExchanges: 1,
		Criteria: []string{
			"user engaged with their progress review",
			"user signaled readiness to continue the routine",
		},
		RequiredMet: 1,
	},
}

// MinExchangesFor returns the minimum user-turn count for the phase.
func MinExchangesFor(phase models.Phase) int {
	if pc, ok := transitionCriteria[phase]; ok {
		return pc.MinExchanges
	}
	return 1
}

// TransitionDetector decides, after each exchange, whether a conversation
// should advance to the next phase.
type TransitionDetector struct {
	genaiClient genai.ClientInterface
	timeout     time.Duration
}

// NewTransitionDetector creates a detector with the default timeout.
func NewTransitionDetector(genaiClient genai.ClientInterface) *TransitionDetector {
	return NewTransitionDetectorWithTimeout(genaiClient, DefaultDetectorTimeout)
}

// NewTransitionDetectorWithTimeout creates a detector with an explicit
// service-call timeout.
func NewTransitionDetectorWithTimeout(genaiClient genai.ClientInterface, timeout time.Duration) *TransitionDetector {
	slog.Debug("Creating TransitionDetector", "timeout", timeout)
	return &TransitionDetector{genaiClient: genaiClient, timeout: timeout}
}

// ShouldTransition produces the transition decision for the current phase.
// Below the phase's minimum exchange count it short-circuits to false.
// On service failure it fails safe to false with ServiceFailed set, so
// callers can tell "criteria not met" from "service unreachable".
func (d *TransitionDetector) ShouldTransition(ctx context.Context, phase models.Phase, recentMessages []models.Message, userTurnCountInPhase int) models.TransitionDecision {
	pc, ok := transitionCriteria[phase]
	if !ok {
		slog.Warn("TransitionDetector.ShouldTransition: unknown phase", "phase", phase)
		return models.TransitionDecision{Transition: false, Reason: fmt.Sprintf("unknown phase %s", phase)}
	}

	if userTurnCountInPhase < pc.MinExchanges {
		slog.Debug("TransitionDetector.ShouldTransition: below minimum exchanges", "phase", phase, "turns", userTurnCountInPhase, "minimum", pc.MinExchanges)
		return models.TransitionDecision{Transition: false, Reason: "below minimum exchanges"}
	}

	judgment, err := d.judge(ctx, phase, pc, recentMessages)
	if err != nil {
		slog.Warn("TransitionDetector.ShouldTransition: judgment failed, failing safe to no transition", "error", err, "phase", phase)
		return models.TransitionDecision{Transition: false, Reason: err.Error(), ServiceFailed: true}
	}

	met := len(judgment.CriteriaMet)
	if met < pc.RequiredMet {
		reason := fmt.Sprintf("%d of %d required criteria met: %s", met, pc.RequiredMet, judgment.Rationale)
		slog.Debug("TransitionDetector.ShouldTransition: criteria not met", "phase", phase, "met", met, "required", pc.RequiredMet)
		return models.TransitionDecision{Transition: false, Reason: reason}
	}

	reason := fmt.Sprintf("%d of %d required criteria met: %s", met, pc.RequiredMet, judgment.Rationale)
	slog.Info("TransitionDetector.ShouldTransition: transition approved", "phase", phase, "met", met, "required", pc.RequiredMet)
	return models.TransitionDecision{Transition: true, Reason: reason}
}

// judge asks the structured-extraction service which completion criteria
// the message window satisfies.
func (d *TransitionDetector) judge(ctx context.Context, phase models.Phase, pc phaseCriteria, recentMessages []models.Message) (*models.TransitionJudgment, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	systemPrompt := "You judge whether a recovery-companion conversation satisfies phase completion criteria. " +
		"Consider only what the user actually said. Report exactly the criteria that are clearly satisfied."

	var b strings.Builder
	fmt.Fprintf(&b, "Current phase: %s\n\nConversation window:\n", phase)
	for _, m := range recentMessages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nCompletion criteria:\n")
	for _, c := range pc.Criteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	raw, err := d.genaiClient.ExtractStructured(ctx, systemPrompt, b.String(), "transition_judgment", transitionJudgmentSchema(pc.Criteria))
	if err != nil {
		return nil, fmt.Errorf("transition judgment call failed: %w", err)
	}

	var judgment models.TransitionJudgment
	if err := models.DecodeStrict(raw, &judgment); err != nil {
		return nil, err
	}
	if err := judgment.Validate(pc.Criteria); err != nil {
		return nil, err
	}
	return &judgment, nil
}

// transitionJudgmentSchema builds the JSON schema for the judgment call,
// constraining criteria_met to the offered criteria.
func transitionJudgmentSchema(criteria []string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"criteria_met": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "enum": criteria},
			},
			"rationale": map[string]any{"type": "string"},
		},
		"required":             []string{"criteria_met", "rationale"},
		"additionalProperties": false,
	}
}
