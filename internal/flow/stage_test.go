package flow

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
)

func TestNextPhaseCycle(t *testing.T) {
	want := map[models.Phase]models.Phase{
		models.PhaseGreeting:        models.PhaseCheckIn,
		models.PhaseCheckIn:         models.PhaseJournalPrompt,
		models.PhaseJournalPrompt:   models.PhaseAffirmation,
		models.PhaseAffirmation:     models.PhaseReflection,
		models.PhaseReflection:      models.PhaseMilestoneReview,
		models.PhaseMilestoneReview: models.PhaseCheckIn,
	}
	for from, to := range want {
		if got := NextPhase(from); got != to {
			t.Errorf("NextPhase(%s) = %s, want %s", from, got, to)
		}
	}
}

func TestNextPhaseIsTotal(t *testing.T) {
	if got := NextPhase(models.Phase("UNKNOWN")); got != models.PhaseCheckIn {
		t.Errorf("unknown phase should map to %s, got %s", models.PhaseCheckIn, got)
	}
}

func TestGreetingNeverReentered(t *testing.T) {
	// Walk the cycle from Greeting far past one loop; Greeting must not
	// appear again.
	phase := NextPhase(models.PhaseGreeting)
	for i := 0; i < 20; i++ {
		if phase == models.PhaseGreeting {
			t.Fatalf("greeting re-entered after %d transitions", i)
		}
		phase = NextPhase(phase)
	}
}

func TestCommitTransitionRejectsSkips(t *testing.T) {
	st := store.NewInMemoryStore()
	sm := NewStageManager(st)
	now := time.Now().UTC()
	seedConv(t, st, "c1", "u1", models.PhaseCheckIn, now)

	// Skipping a phase is rejected before any store write.
	err := sm.CommitTransition("c1", "u1", models.PhaseCheckIn, models.PhaseAffirmation)
	if err == nil {
		t.Fatal("expected skip transition to be rejected")
	}

	err = sm.CommitTransition("c1", "u1", models.PhaseCheckIn, models.Phase("BOGUS"))
	if !errors.Is(err, models.ErrInvalidPhase) {
		t.Errorf("expected ErrInvalidPhase, got %v", err)
	}

	if err := sm.CommitTransition("c1", "u1", models.PhaseCheckIn, models.PhaseJournalPrompt); err != nil {
		t.Fatalf("valid transition should commit, got %v", err)
	}

	// The same from-phase again loses the compare-and-set.
	err = sm.CommitTransition("c1", "u1", models.PhaseCheckIn, models.PhaseJournalPrompt)
	if !errors.Is(err, store.ErrStageConflict) {
		t.Errorf("expected ErrStageConflict, got %v", err)
	}
}

func TestPromptDirectivesForIncludesFacts(t *testing.T) {
	now := time.Now().UTC()
	convCtx := &models.ConversationContext{
		Phase: models.PhaseAffirmation,
		RecentCheckIns: []models.CheckIn{
			{Mood: "hopeful", SleepQuality: 4, EnergyLevel: 2, CreatedAt: now},
		},
		RecentMilestones: []models.Milestone{
			{Name: "One Week Strong", Unlocked: true, CreatedAt: now},
		},
		JournalEntryCount: 3,
	}

	d := PromptDirectivesFor(models.PhaseAffirmation, convCtx)
	prompt := d.SystemPrompt()

	for _, want := range []string{"hopeful", "4/5", "2/5", "3 journal entries", "One Week Strong"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestPromptDirectivesForNilContext(t *testing.T) {
	d := PromptDirectivesFor(models.PhaseGreeting, nil)
	if d.Guidance == "" {
		t.Error("expected guidance for greeting phase")
	}
	if len(d.Facts) != 0 {
		t.Errorf("nil context should yield no facts, got %v", d.Facts)
	}

	// Unknown phases fall back to check-in guidance rather than an empty prompt.
	d = PromptDirectivesFor(models.Phase("UNKNOWN"), nil)
	if d.Guidance != phaseGuidance[models.PhaseCheckIn] {
		t.Error("unknown phase should use check-in guidance")
	}
}

func seedConv(t *testing.T, st store.Store, id, userID string, phase models.Phase, at time.Time) {
	t.Helper()
	err := st.CreateConversation(models.Conversation{
		ID:             id,
		UserID:         userID,
		Stage:          phase,
		StageEnteredAt: at,
		CreatedAt:      at,
		UpdatedAt:      at,
	})
	if err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
}
