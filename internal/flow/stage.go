// Package flow implements the stage orchestration engine for
// RecoveryCompanion: the phase state machine, conversation context
// assembly, transition detection, structured extraction, achievement
// derivation and suggested replies.
package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
)

// NextPhase returns the successor of the given phase in the fixed cycle.
// The function is total: every phase has exactly one successor, the cycle
// revisits CheckIn indefinitely, and Greeting is never re-entered after
// the first transition out.
func NextPhase(current models.Phase) models.Phase {
	switch current {
	case models.PhaseGreeting:
		return models.PhaseCheckIn
	case models.PhaseCheckIn:
		return models.PhaseJournalPrompt
	case models.PhaseJournalPrompt:
		return models.PhaseAffirmation
	case models.PhaseAffirmation:
		return models.PhaseReflection
	case models.PhaseReflection:
		return models.PhaseMilestoneReview
	case models.PhaseMilestoneReview:
		return models.PhaseCheckIn
	default:
		// Unknown phases restart the loop at the safest stage.
		return models.PhaseCheckIn
	}
}

// PromptDirectives carries phase-specific guidance plus contextual facts
// to be merged into the generation request. Building directives never
// mutates persisted state.
type PromptDirectives struct {
	Phase    models.Phase
	Guidance string
	Facts    []string
}

// SystemPrompt renders the directives as a system prompt for the
// text-generation backend.
func (d PromptDirectives) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a warm, supportive recovery companion. ")
	b.WriteString(d.Guidance)
	if len(d.Facts) > 0 {
		b.WriteString("\n\nContext about this user:\n")
		for _, f := range d.Facts {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// phaseGuidance maps each phase to its conversational goal.
var phaseGuidance = map[models.Phase]string{
	models.PhaseGreeting:        "Welcome the user warmly, ask how they are arriving today, and gently open the conversation.",
	models.PhaseCheckIn:         "Guide the user through a wellness check-in: ask about their mood, how they slept, their energy level, and their intentions for the day. One or two questions at a time.",
	models.PhaseJournalPrompt:   "Invite the user to reflect in writing. Offer a gentle journaling prompt about their recovery journey. Accept a decline gracefully.",
	models.PhaseAffirmation:     "Offer a short, personal affirmation grounded in what the user has shared. Keep it sincere, not saccharine.",
	models.PhaseReflection:      "Help the user reflect on recent progress and challenges. Ask open questions about what has been working and what has been hard.",
	models.PhaseMilestoneReview: "Review the user's progress and celebrate earned milestones. Encourage continuing the routine.",
}

// PromptDirectivesFor returns phase-specific guidance enriched with facts
// from the conversation context snapshot.
func PromptDirectivesFor(phase models.Phase, convCtx *models.ConversationContext) PromptDirectives {
	guidance, ok := phaseGuidance[phase]
	if !ok {
		guidance = phaseGuidance[models.PhaseCheckIn]
	}

	var facts []string
	if convCtx != nil {
		if convCtx.JournalEntryCount > 0 {
			facts = append(facts, fmt.Sprintf("The user has written %d journal entries.", convCtx.JournalEntryCount))
		}
		if last := convCtx.LastCheckIn(); last != nil {
			facts = append(facts, fmt.Sprintf("Their last check-in mood was %q with sleep quality %d/5 and energy %d/5.", last.Mood, last.SleepQuality, last.EnergyLevel))
		}
		for _, m := range convCtx.RecentMilestones {
			if m.Unlocked {
				facts = append(facts, fmt.Sprintf("They recently unlocked the milestone %q.", m.Name))
				break
			}
		}
	}

	return PromptDirectives{Phase: phase, Guidance: guidance, Facts: facts}
}

// StageManager owns the single authoritative write path for a
// conversation's phase.
type StageManager struct {
	store store.Store
}

// NewStageManager creates a StageManager backed by a Store.
func NewStageManager(st store.Store) *StageManager {
	slog.Debug("Creating StageManager")
	return &StageManager{store: st}
}

// CommitTransition advances a conversation's phase. It is the only write
// path that changes a conversation's stage and must be called at most
// once per turn, after the transition decision is final. The store-level
// compare-and-set on the previous stage rejects phantom transitions from
// retried requests.
func (sm *StageManager) CommitTransition(conversationID, userID string, from, to models.Phase) error {
	slog.Debug("StageManager.CommitTransition", "conversationID", conversationID, "from", from, "to", to)

	if !models.IsValidPhase(to) {
		return models.ErrInvalidPhase
	}
	if NextPhase(from) != to {
		return fmt.Errorf("invalid stage transition: %s does not follow %s", to, from)
	}

	if err := sm.store.UpdateConversationStage(conversationID, userID, from, to); err != nil {
		slog.Error("StageManager.CommitTransition failed", "error", err, "conversationID", conversationID, "from", from, "to", to)
		return err
	}

	slog.Info("StageManager.CommitTransition succeeded", "conversationID", conversationID, "from", from, "to", to)
	return nil
}
