// Package flow provides confidence-gated structured extraction of domain
// records from conversation history.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/genai"
	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
	"github.com/google/uuid"
)

// Extraction kinds used as dedup claim keys.
const (
	ExtractionKindCheckIn = "check_in"
	ExtractionKindJournal = "journal"
)

// DefaultExtractionTimeout bounds each structured-extraction call.
const DefaultExtractionTimeout = 30 * time.Second

// CheckInExtractor extracts wellness check-in records from recent user
// messages. A record is persisted only when the service reports
// sufficient data, confidence is at or above the threshold, and all
// required fields are present.
type CheckInExtractor struct {
	store       store.Store
	genaiClient genai.ClientInterface
	timeout     time.Duration
}

// NewCheckInExtractor creates a check-in extractor.
func NewCheckInExtractor(st store.Store, genaiClient genai.ClientInterface) *CheckInExtractor {
	return &CheckInExtractor{store: st, genaiClient: genaiClient, timeout: DefaultExtractionTimeout}
}

// Extract attempts check-in creation for the turn identified by
// userMessageID. The message id is the per-turn idempotency key: the
// claim is taken before the service call, so a retried turn can at worst
// lose one extraction, never duplicate one. Returns nil without error
// when no record was created.
func (e *CheckInExtractor) Extract(ctx context.Context, userID, userMessageID string, recentMessages []models.Message) (*models.CheckIn, error) {
	claimed, err := e.store.ClaimExtraction(userMessageID, ExtractionKindCheckIn)
	if err != nil {
		return nil, fmt.Errorf("failed to claim check-in extraction: %w", err)
	}
	if !claimed {
		slog.Debug("CheckInExtractor.Extract: turn already extracted", "userMessageID", userMessageID)
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	systemPrompt := "You extract wellness check-in data from a conversation. " +
		"Map descriptive language to a 1-5 scale using this rubric: very poor=1, poor=2, okay=3, good=4, great=5. " +
		"Use null for any rating the user did not address. Set has_sufficient_data only when mood, sleep and energy are all clearly stated. " +
		"Report confidence from 0 to 100."

	raw, err := e.genaiClient.ExtractStructured(ctx, systemPrompt, transcript(recentMessages), "check_in_extraction", checkInSchema())
	if err != nil {
		slog.Warn("CheckInExtractor.Extract: service call failed, no record created", "error", err, "userID", userID)
		return nil, nil
	}

	var payload models.CheckInExtraction
	if err := models.DecodeStrict(raw, &payload); err != nil {
		slog.Warn("CheckInExtractor.Extract: rejecting unknown-shape payload", "error", err, "userID", userID)
		return nil, nil
	}
	if err := payload.Validate(); err != nil {
		slog.Warn("CheckInExtractor.Extract: rejecting invalid payload", "error", err, "userID", userID)
		return nil, nil
	}

	// The confidence gate is AND'ed with sufficiency and completeness.
	if !payload.HasSufficientData || payload.Confidence < models.MinExtractionConfidence || !payload.Complete() {
		slog.Debug("CheckInExtractor.Extract: gates not passed",
			"userID", userID,
			"sufficient", payload.HasSufficientData,
			"confidence", payload.Confidence,
			"complete", payload.Complete())
		return nil, nil
	}

	intentions := payload.Intentions
	if intentions == "" {
		intentions = models.DefaultIntentions
	}

	now := time.Now().UTC()
	checkIn := models.CheckIn{
		ID:           uuid.NewString(),
		UserID:       userID,
		Mood:         payload.Mood,
		SleepQuality: *payload.SleepQuality,
		EnergyLevel:  *payload.EnergyLevel,
		Intentions:   intentions,
		CreatedAt:    now,
	}
	if err := checkIn.Validate(); err != nil {
		slog.Warn("CheckInExtractor.Extract: extracted record failed validation", "error", err, "userID", userID)
		return nil, nil
	}

	if err := e.store.CreateCheckIn(checkIn); err != nil {
		return nil, fmt.Errorf("failed to persist extracted check-in: %w", err)
	}

	slog.Info("CheckInExtractor.Extract: check-in created", "userID", userID, "sleep", checkIn.SleepQuality, "energy", checkIn.EnergyLevel, "confidence", payload.Confidence)
	return &checkIn, nil
}

// JournalExtractor extracts reflective journal entries from recent user
// messages.
type JournalExtractor struct {
	store       store.Store
	genaiClient genai.ClientInterface
	timeout     time.Duration
}

// NewJournalExtractor creates a journal extractor.
func NewJournalExtractor(st store.Store, genaiClient genai.ClientInterface) *JournalExtractor {
	return &JournalExtractor{store: st, genaiClient: genaiClient, timeout: DefaultExtractionTimeout}
}

// Extract attempts journal entry creation for the turn identified by
// userMessageID. Explicit declines yield no record. Returns nil without
// error when no record was created.
func (e *JournalExtractor) Extract(ctx context.Context, userID, userMessageID string, recentMessages []models.Message) (*models.JournalEntry, error) {
	claimed, err := e.store.ClaimExtraction(userMessageID, ExtractionKindJournal)
	if err != nil {
		return nil, fmt.Errorf("failed to claim journal extraction: %w", err)
	}
	if !claimed {
		slog.Debug("JournalExtractor.Extract: turn already extracted", "userMessageID", userMessageID)
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	systemPrompt := "You extract reflective journal content from a conversation. " +
		"Only genuinely introspective writing by the user qualifies; set declined when the user declines to journal (for example \"not now\" or \"skip\"). " +
		"Generate a short descriptive title. Set has_sufficient_data only for substantial reflective content. " +
		"Report confidence from 0 to 100."

	raw, err := e.genaiClient.ExtractStructured(ctx, systemPrompt, transcript(recentMessages), "journal_extraction", journalSchema())
	if err != nil {
		slog.Warn("JournalExtractor.Extract: service call failed, no record created", "error", err, "userID", userID)
		return nil, nil
	}

	var payload models.JournalExtraction
	if err := models.DecodeStrict(raw, &payload); err != nil {
		slog.Warn("JournalExtractor.Extract: rejecting unknown-shape payload", "error", err, "userID", userID)
		return nil, nil
	}
	if err := payload.Validate(); err != nil {
		slog.Warn("JournalExtractor.Extract: rejecting invalid payload", "error", err, "userID", userID)
		return nil, nil
	}

	if payload.Declined {
		slog.Debug("JournalExtractor.Extract: user declined journaling", "userID", userID)
		return nil, nil
	}
	if !payload.HasSufficientData || payload.Confidence < models.MinExtractionConfidence {
		slog.Debug("JournalExtractor.Extract: gates not passed", "userID", userID, "sufficient", payload.HasSufficientData, "confidence", payload.Confidence)
		return nil, nil
	}

	now := time.Now().UTC()
	entry := models.JournalEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     models.TruncateTitle(payload.Title),
		Content:   payload.Content,
		WordCount: models.CountWords(payload.Content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := entry.ValidateExtracted(); err != nil {
		slog.Debug("JournalExtractor.Extract: content below extraction minimums", "error", err, "userID", userID, "length", len(entry.Content))
		return nil, nil
	}

	if err := e.store.CreateJournalEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to persist extracted journal entry: %w", err)
	}

	slog.Info("JournalExtractor.Extract: journal entry created", "userID", userID, "wordCount", entry.WordCount, "confidence", payload.Confidence)
	return &entry, nil
}

// transcript renders the user side of the message window for extraction.
func transcript(recentMessages []models.Message) string {
	var b strings.Builder
	b.WriteString("Recent user messages:\n")
	for _, m := range recentMessages {
		if m.Role != models.RoleUser {
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// checkInSchema is the versioned target schema for check-in extraction.
func checkInSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mood":                map[string]any{"type": "string"},
			"sleep_quality":       map[string]any{"type": []string{"integer", "null"}, "minimum": 1, "maximum": 5},
			"energy_level":        map[string]any{"type": []string{"integer", "null"}, "minimum": 1, "maximum": 5},
			"intentions":          map[string]any{"type": "string"},
			"has_sufficient_data": map[string]any{"type": "boolean"},
			"confidence":          map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		},
		"required":             []string{"mood", "sleep_quality", "energy_level", "intentions", "has_sufficient_data", "confidence"},
		"additionalProperties": false,
	}
}

// journalSchema is the versioned target schema for journal extraction.
func journalSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":               map[string]any{"type": "string"},
			"content":             map[string]any{"type": "string"},
			"declined":            map[string]any{"type": "boolean"},
			"has_sufficient_data": map[string]any{"type": "boolean"},
			"confidence":          map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		},
		"required":             []string{"title", "content", "declined", "has_sufficient_data", "confidence"},
		"additionalProperties": false,
	}
}
