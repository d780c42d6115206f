package flow

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
	"github.com/BTreeMap/RecoveryCompanion/internal/testutil"
)

func checkInPayload(t *testing.T, e models.CheckInExtraction) map[string]json.RawMessage {
	t.Helper()
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return map[string]json.RawMessage{"check_in_extraction": data}
}

func journalPayload(t *testing.T, e models.JournalExtraction) map[string]json.RawMessage {
	t.Helper()
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return map[string]json.RawMessage{"journal_extraction": data}
}

func intPtr(v int) *int { return &v }

func checkInWindow() []models.Message {
	now := time.Now().UTC()
	return []models.Message{
		{ID: "a1", ConversationID: "c1", Role: models.RoleAssistant, Content: "How did you sleep?", CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "u1", ConversationID: "c1", Role: models.RoleUser, Content: "Slept great, feeling calm, energy is low though", CreatedAt: now.Add(-time.Minute)},
	}
}

func TestCheckInExtractorCreatesRecord(t *testing.T) {
	st := store.NewInMemoryStore()
	fake := &testutil.FakeGenAIClient{
		StructuredPayloads: checkInPayload(t, models.CheckInExtraction{
			Mood:              "calm",
			SleepQuality:      intPtr(5),
			EnergyLevel:       intPtr(2),
			Intentions:        "take a walk",
			HasSufficientData: true,
			Confidence:        85,
		}),
	}
	e := NewCheckInExtractor(st, fake)

	checkIn, err := e.Extract(context.Background(), "u1", "msg1", checkInWindow())
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if checkIn == nil {
		t.Fatal("expected a check-in record")
	}
	if checkIn.SleepQuality != 5 || checkIn.EnergyLevel != 2 || checkIn.Mood != "calm" {
		t.Errorf("record mismatch: %+v", checkIn)
	}

	stored, err := st.GetRecentCheckIns("u1", 1)
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected one persisted check-in, got %v err %v", stored, err)
	}
}

func TestCheckInExtractorGates(t *testing.T) {
	cases := []struct {
		name    string
		payload models.CheckInExtraction
	}{
		{"insufficient data", models.CheckInExtraction{Mood: "calm", SleepQuality: intPtr(4), EnergyLevel: intPtr(3), HasSufficientData: false, Confidence: 90}},
		{"low confidence", models.CheckInExtraction{Mood: "calm", SleepQuality: intPtr(4), EnergyLevel: intPtr(3), HasSufficientData: true, Confidence: 69}},
		{"missing sleep", models.CheckInExtraction{Mood: "calm", EnergyLevel: intPtr(3), HasSufficientData: true, Confidence: 90}},
		{"missing energy", models.CheckInExtraction{Mood: "calm", SleepQuality: intPtr(4), HasSufficientData: true, Confidence: 90}},
		{"missing mood", models.CheckInExtraction{SleepQuality: intPtr(4), EnergyLevel: intPtr(3), HasSufficientData: true, Confidence: 90}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := store.NewInMemoryStore()
			fake := &testutil.FakeGenAIClient{StructuredPayloads: checkInPayload(t, tc.payload)}
			e := NewCheckInExtractor(st, fake)

			checkIn, err := e.Extract(context.Background(), "u1", "msg1", checkInWindow())
			if err != nil {
				t.Fatalf("gate rejection must not be an error: %v", err)
			}
			if checkIn != nil {
				t.Errorf("expected no record, got %+v", checkIn)
			}
			stored, _ := st.GetRecentCheckIns("u1", 5)
			if len(stored) != 0 {
				t.Errorf("no record should be persisted, got %d", len(stored))
			}
		})
	}
}

func TestCheckInExtractorDefaultIntentions(t *testing.T) {
	st := store.NewInMemoryStore()
	fake := &testutil.FakeGenAIClient{
		StructuredPayloads: checkInPayload(t, models.CheckInExtraction{
			Mood:              "tired",
			SleepQuality:      intPtr(2),
			EnergyLevel:       intPtr(2),
			HasSufficientData: true,
			Confidence:        80,
		}),
	}
	e := NewCheckInExtractor(st, fake)

	checkIn, err := e.Extract(context.Background(), "u1", "msg1", checkInWindow())
	if err != nil || checkIn == nil {
		t.Fatalf("expected record, got %v err %v", checkIn, err)
	}
	if checkIn.Intentions != models.DefaultIntentions {
		t.Errorf("expected default intentions placeholder, got %q", checkIn.Intentions)
	}
}

func TestCheckInExtractorIdempotentPerMessage(t *testing.T) {
	st := store.NewInMemoryStore()
	fake := &testutil.FakeGenAIClient{
		StructuredPayloads: checkInPayload(t, models.CheckInExtraction{
			Mood: "calm", SleepQuality: intPtr(4), EnergyLevel: intPtr(4), HasSufficientData: true, Confidence: 90,
		}),
	}
	e := NewCheckInExtractor(st, fake)

	first, err := e.Extract(context.Background(), "u1", "msg1", checkInWindow())
	if err != nil || first == nil {
		t.Fatalf("first extraction should create a record, got %v err %v", first, err)
	}

	// Same message id again: the claim blocks a second service call.
	second, err := e.Extract(context.Background(), "u1", "msg1", checkInWindow())
	if err != nil {
		t.Fatalf("repeat extraction must not error: %v", err)
	}
	if second != nil {
		t.Error("repeat extraction must not create a second record")
	}
	if len(fake.ExtractCalls) != 1 {
		t.Errorf("service should be called once, got %d", len(fake.ExtractCalls))
	}
}

func TestCheckInExtractorServiceFailureDegrades(t *testing.T) {
	st := store.NewInMemoryStore()
	fake := &testutil.FakeGenAIClient{Err: context.DeadlineExceeded}
	e := NewCheckInExtractor(st, fake)

	checkIn, err := e.Extract(context.Background(), "u1", "msg1", checkInWindow())
	if err != nil {
		t.Fatalf("service failure should degrade, not error: %v", err)
	}
	if checkIn != nil {
		t.Error("no record on service failure")
	}
}

func TestJournalExtractorCreatesEntry(t *testing.T) {
	st := store.NewInMemoryStore()
	content := "Today I want to write about how far I have come since the start of " +
		"this journey and the small routines that keep me steady every single day."
	fake := &testutil.FakeGenAIClient{
		StructuredPayloads: journalPayload(t, models.JournalExtraction{
			Title:             "How far I have come",
			Content:           content,
			HasSufficientData: true,
			Confidence:        88,
		}),
	}
	e := NewJournalExtractor(st, fake)

	entry, err := e.Extract(context.Background(), "u1", "msg1", checkInWindow())
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected a journal entry")
	}
	if entry.WordCount != models.CountWords(content) {
		t.Errorf("word count %d does not match content", entry.WordCount)
	}

	count, _ := st.CountJournalEntries("u1")
	if count != 1 {
		t.Errorf("expected one persisted entry, got %d", count)
	}
}

func TestJournalExtractorDecline(t *testing.T) {
	st := store.NewInMemoryStore()
	fake := &testutil.FakeGenAIClient{
		StructuredPayloads: journalPayload(t, models.JournalExtraction{
			Declined:          true,
			HasSufficientData: false,
			Confidence:        95,
		}),
	}
	e := NewJournalExtractor(st, fake)

	entry, err := e.Extract(context.Background(), "u1", "msg1", checkInWindow())
	if err != nil {
		t.Fatalf("decline must not be an error: %v", err)
	}
	if entry != nil {
		t.Error("decline must not create an entry")
	}
	count, _ := st.CountJournalEntries("u1")
	if count != 0 {
		t.Errorf("no entry should be persisted on decline, got %d", count)
	}
}

func TestJournalExtractorRejectsThinContent(t *testing.T) {
	st := store.NewInMemoryStore()
	fake := &testutil.FakeGenAIClient{
		StructuredPayloads: journalPayload(t, models.JournalExtraction{
			Title:             "Short",
			Content:           "It was fine.",
			HasSufficientData: true,
			Confidence:        90,
		}),
	}
	e := NewJournalExtractor(st, fake)

	entry, err := e.Extract(context.Background(), "u1", "msg1", checkInWindow())
	if err != nil {
		t.Fatalf("thin content should degrade, not error: %v", err)
	}
	if entry != nil {
		t.Error("content below extraction minimums must not be persisted")
	}
}

func TestJournalExtractorTruncatesTitle(t *testing.T) {
	st := store.NewInMemoryStore()
	content := "Writing at length today about patience, and about how the slow days " +
		"turned out to matter much more than the dramatic ones ever did for me."
	fake := &testutil.FakeGenAIClient{
		StructuredPayloads: journalPayload(t, models.JournalExtraction{
			Title:             strings.Repeat("patience ", 20),
			Content:           content,
			HasSufficientData: true,
			Confidence:        90,
		}),
	}
	e := NewJournalExtractor(st, fake)

	entry, err := e.Extract(context.Background(), "u1", "msg1", checkInWindow())
	if err != nil || entry == nil {
		t.Fatalf("expected entry, got %v err %v", entry, err)
	}
	if len([]rune(entry.Title)) > models.MaxJournalTitleLength {
		t.Errorf("title should be truncated to %d runes, got %d", models.MaxJournalTitleLength, len([]rune(entry.Title)))
	}
	if !strings.HasSuffix(entry.Title, "...") {
		t.Errorf("truncated title should end with ellipsis, got %q", entry.Title)
	}
}
