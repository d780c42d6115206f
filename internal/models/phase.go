// Package models defines phase type definitions to avoid circular imports.
package models

// Phase represents one node in the fixed six-stage dialogue progression.
type Phase string

// Phase constants for the companion conversation cycle.
const (
	// PhaseGreeting is the initial phase, visited at most once per conversation.
	PhaseGreeting Phase = "GREETING"
	// PhaseCheckIn gathers mood, sleep, energy and intentions.
	PhaseCheckIn Phase = "CHECK_IN"
	// PhaseJournalPrompt invites reflective journaling.
	PhaseJournalPrompt Phase = "JOURNAL_PROMPT"
	// PhaseAffirmation offers an encouraging affirmation.
	PhaseAffirmation Phase = "AFFIRMATION"
	// PhaseReflection explores progress and challenges.
	PhaseReflection Phase = "REFLECTION"
	// PhaseMilestoneReview surfaces earned milestones.
	PhaseMilestoneReview Phase = "MILESTONE_REVIEW"
)

// AllPhases lists every phase in cycle order, starting from the initial one.
var AllPhases = []Phase{
	PhaseGreeting,
	PhaseCheckIn,
	PhaseJournalPrompt,
	PhaseAffirmation,
	PhaseReflection,
	PhaseMilestoneReview,
}

// IsValidPhase checks if the given phase is one of the six stages.
func IsValidPhase(p Phase) bool {
	switch p {
	case PhaseGreeting, PhaseCheckIn, PhaseJournalPrompt, PhaseAffirmation, PhaseReflection, PhaseMilestoneReview:
		return true
	default:
		return false
	}
}
