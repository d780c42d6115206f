package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
	"github.com/BTreeMap/RecoveryCompanion/internal/testutil"
)

func approvingJudgment(t *testing.T, phase models.Phase) json.RawMessage {
	t.Helper()
	pc := transitionCriteria[phase]
	return judgmentPayload(t, pc.Criteria[:pc.RequiredMet], "criteria satisfied")
}

func TestProcessTurnFirstContact(t *testing.T) {
	st := store.NewInMemoryStore()
	fake := &testutil.FakeGenAIClient{
		StreamChunks: []string{"Welcome! ", "How are you arriving today?"},
		StructuredPayloads: map[string]json.RawMessage{
			"transition_judgment": approvingJudgment(t, models.PhaseGreeting),
		},
	}
	engine := NewEngine(st, fake)

	var streamed []string
	result, err := engine.ProcessTurn(context.Background(), "u1", "", "hi", func(delta string) error {
		streamed = append(streamed, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if result.ConversationID == "" {
		t.Error("first turn should lazily create a conversation")
	}
	if result.Phase != models.PhaseCheckIn {
		t.Errorf("greeting with criteria met should advance to %s, got %s", models.PhaseCheckIn, result.Phase)
	}
	if got := strings.Join(streamed, ""); got != result.Reply {
		t.Errorf("streamed chunks %q should assemble the reply %q", got, result.Reply)
	}
	if len(result.SuggestedReplies) < 3 {
		t.Errorf("expected suggestions for the new phase, got %d", len(result.SuggestedReplies))
	}

	// Both sides of the exchange must be durable.
	messages, err := st.GetRecentMessages(result.ConversationID, 10)
	if err != nil || len(messages) != 2 {
		t.Fatalf("expected user and assistant messages, got %d err %v", len(messages), err)
	}
	if messages[0].Role != models.RoleUser || messages[1].Role != models.RoleAssistant {
		t.Errorf("message roles out of order: %s then %s", messages[0].Role, messages[1].Role)
	}

	conv, _ := st.GetConversationByUser("u1")
	if conv.Stage != models.PhaseCheckIn {
		t.Errorf("committed stage should be %s, got %s", models.PhaseCheckIn, conv.Stage)
	}
	if conv.Title == "" {
		t.Error("first turn should set a conversation title")
	}
}

func TestProcessTurnCheckInExtractionAndTransition(t *testing.T) {
	st := store.NewInMemoryStore()
	entered := time.Now().UTC().Add(-10 * time.Minute)
	conv := testutil.SeedConversation(t, st, "u1", models.PhaseCheckIn, entered)
	testutil.SeedMessage(t, st, conv.ID, models.RoleUser, "feeling okay today", entered.Add(time.Minute))
	testutil.SeedMessage(t, st, conv.ID, models.RoleAssistant, "How did you sleep?", entered.Add(2*time.Minute))

	checkInData, _ := json.Marshal(models.CheckInExtraction{
		Mood: "calm", SleepQuality: intPtr(5), EnergyLevel: intPtr(2),
		Intentions: "short walk", HasSufficientData: true, Confidence: 85,
	})
	fake := &testutil.FakeGenAIClient{
		Reply: "Thanks for sharing. Low energy days count too.",
		StructuredPayloads: map[string]json.RawMessage{
			"transition_judgment": approvingJudgment(t, models.PhaseCheckIn),
			"check_in_extraction": checkInData,
		},
	}
	engine := NewEngine(st, fake)

	result, err := engine.ProcessTurn(context.Background(), "u1", conv.ID, "slept great but my energy is really low", nil)
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if result.Phase != models.PhaseJournalPrompt {
		t.Errorf("check-in with criteria met should advance to %s, got %s", models.PhaseJournalPrompt, result.Phase)
	}

	checkIns, err := st.GetRecentCheckIns("u1", 5)
	if err != nil || len(checkIns) != 1 {
		t.Fatalf("expected one extracted check-in, got %d err %v", len(checkIns), err)
	}
	if checkIns[0].SleepQuality != 5 || checkIns[0].EnergyLevel != 2 {
		t.Errorf("extracted ratings mismatch: %+v", checkIns[0])
	}

	// The same day's check-in triggers the first milestone.
	granted, _ := st.GetMilestoneTypes("u1")
	if len(granted) != 1 || granted[0] != models.MilestoneFirstCheckIn {
		t.Errorf("expected first check-in milestone, got %v", granted)
	}
}

func TestProcessTurnJournalDeclineStillAdvances(t *testing.T) {
	st := store.NewInMemoryStore()
	entered := time.Now().UTC().Add(-5 * time.Minute)
	conv := testutil.SeedConversation(t, st, "u1", models.PhaseJournalPrompt, entered)

	journalData, _ := json.Marshal(models.JournalExtraction{Declined: true, HasSufficientData: false, Confidence: 95})
	declineJudgment := judgmentPayload(t, []string{"user explicitly declined to journal"}, "declined")
	fake := &testutil.FakeGenAIClient{
		Reply: "That's completely fine, we can journal another time.",
		StructuredPayloads: map[string]json.RawMessage{
			"transition_judgment": declineJudgment,
			"journal_extraction":  journalData,
		},
	}
	engine := NewEngine(st, fake)

	result, err := engine.ProcessTurn(context.Background(), "u1", conv.ID, "not now, maybe later", nil)
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if result.Phase != models.PhaseAffirmation {
		t.Errorf("decline should still advance to %s, got %s", models.PhaseAffirmation, result.Phase)
	}
	count, _ := st.CountJournalEntries("u1")
	if count != 0 {
		t.Errorf("decline must not create a journal entry, got %d", count)
	}
}

func TestProcessTurnDetectorFailureKeepsPhase(t *testing.T) {
	st := store.NewInMemoryStore()
	entered := time.Now().UTC().Add(-5 * time.Minute)
	conv := testutil.SeedConversation(t, st, "u1", models.PhaseAffirmation, entered)

	// No judgment payload registered: the detector call fails and the turn
	// must degrade to no transition.
	fake := &testutil.FakeGenAIClient{Reply: "You showed up today, and that matters."}
	engine := NewEngine(st, fake)

	result, err := engine.ProcessTurn(context.Background(), "u1", conv.ID, "thank you", nil)
	if err != nil {
		t.Fatalf("detector failure must not fail the turn: %v", err)
	}
	if result.Phase != models.PhaseAffirmation {
		t.Errorf("phase should be unchanged on detector failure, got %s", result.Phase)
	}
	if result.Reply == "" {
		t.Error("reply should still be delivered")
	}
}

func TestProcessTurnRejectsForeignConversation(t *testing.T) {
	st := store.NewInMemoryStore()
	conv := testutil.SeedConversation(t, st, "owner", models.PhaseCheckIn, time.Now().UTC())
	engine := NewEngine(st, &testutil.FakeGenAIClient{Reply: "hello"})

	_, err := engine.ProcessTurn(context.Background(), "intruder", conv.ID, "hi", nil)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}

	// The intruder's message must not be persisted anywhere.
	messages, _ := st.GetRecentMessages(conv.ID, 10)
	if len(messages) != 0 {
		t.Errorf("no message should be saved on a rejected turn, got %d", len(messages))
	}
}

func TestProcessTurnGenerationFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	conv := testutil.SeedConversation(t, st, "u1", models.PhaseCheckIn, time.Now().UTC().Add(-time.Minute))
	fake := &testutil.FakeGenAIClient{Err: errors.New("backend down")}
	engine := NewEngine(st, fake)

	_, err := engine.ProcessTurn(context.Background(), "u1", conv.ID, "hello", nil)
	if err == nil {
		t.Fatal("generation failure must fail the turn")
	}

	// The user message is saved before generation; that at-least-once
	// semantic is intentional.
	messages, _ := st.GetRecentMessages(conv.ID, 10)
	if len(messages) != 1 || messages[0].Role != models.RoleUser {
		t.Errorf("expected only the durable user message, got %d", len(messages))
	}
}

func TestProcessTurnValidatesInput(t *testing.T) {
	engine := NewEngine(store.NewInMemoryStore(), &testutil.FakeGenAIClient{Reply: "x"})

	if _, err := engine.ProcessTurn(context.Background(), "", "", "hi", nil); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	if _, err := engine.ProcessTurn(context.Background(), "u1", "", "", nil); !errors.Is(err, models.ErrEmptyMessageContent) {
		t.Errorf("expected ErrEmptyMessageContent, got %v", err)
	}
}

func TestPhaseStatusFirstContact(t *testing.T) {
	engine := NewEngine(store.NewInMemoryStore(), &testutil.FakeGenAIClient{})

	status, err := engine.PhaseStatus(context.Background(), "brand-new")
	if err != nil {
		t.Fatalf("phase status failed: %v", err)
	}
	if status.Phase != models.PhaseGreeting {
		t.Errorf("first contact should report %s, got %s", models.PhaseGreeting, status.Phase)
	}
	if status.ConversationID != "" {
		t.Error("no conversation id before the first turn")
	}
	if len(status.SuggestedReplies) < 3 {
		t.Errorf("expected greeting suggestions, got %d", len(status.SuggestedReplies))
	}
}

func TestPhaseStatusExistingConversation(t *testing.T) {
	st := store.NewInMemoryStore()
	conv := testutil.SeedConversation(t, st, "u1", models.PhaseReflection, time.Now().UTC())
	engine := NewEngine(st, &testutil.FakeGenAIClient{})

	status, err := engine.PhaseStatus(context.Background(), "u1")
	if err != nil {
		t.Fatalf("phase status failed: %v", err)
	}
	if status.Phase != models.PhaseReflection || status.ConversationID != conv.ID {
		t.Errorf("status mismatch: %+v", status)
	}
}
