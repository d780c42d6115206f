// Package models defines the core data structures for RecoveryCompanion.
//
// It includes the conversation, message, check-in, journal and milestone
// records shared across modules, plus their validation rules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for domain record creation.
const (
	// MinSleepQuality is the lowest allowed sleep quality rating.
	MinSleepQuality = 1
	// MaxSleepQuality is the highest allowed sleep quality rating.
	MaxSleepQuality = 5
	// MinEnergyLevel is the lowest allowed energy level rating.
	MinEnergyLevel = 1
	// MaxEnergyLevel is the highest allowed energy level rating.
	MaxEnergyLevel = 5
	// MinJournalContentLength is the minimum journal content length for direct creation.
	MinJournalContentLength = 10
	// MinExtractedJournalContentLength is the minimum journal content length for extraction-sourced creation.
	MinExtractedJournalContentLength = 50
	// MinExtractedJournalWordCount is the minimum word count for extraction-sourced journal entries.
	MinExtractedJournalWordCount = 10
	// MaxJournalTitleLength is the maximum length for journal titles before ellipsis truncation.
	MaxJournalTitleLength = 60
	// MaxMilestoneProgress is the progress value of a fully earned milestone.
	MaxMilestoneProgress = 100
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID         = errors.New("user id cannot be empty")
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	ErrEmptyMessageContent = errors.New("message content cannot be empty")
	ErrInvalidMessageRole  = errors.New("invalid message role")
	ErrEmptyMood           = errors.New("mood is required for check-ins")
	ErrSleepQualityRange   = errors.New("sleep quality must be between 1 and 5")
	ErrEnergyLevelRange    = errors.New("energy level must be between 1 and 5")
	ErrJournalContentShort = errors.New("journal content below minimum length")
	ErrJournalWordCountLow = errors.New("journal content below minimum word count")
	ErrEmptyMilestoneType  = errors.New("milestone type cannot be empty")
	ErrMilestoneProgress   = errors.New("milestone progress must be between 0 and 100")
	ErrUnlockedWithoutDate = errors.New("unlocked milestone must have an unlock timestamp")
	ErrUnlockedNotComplete = errors.New("unlocked milestone must have progress 100")
	ErrInvalidPhase        = errors.New("invalid conversation phase")
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	// RoleUser marks a message authored by the user.
	RoleUser MessageRole = "user"
	// RoleAssistant marks a message authored by the companion.
	RoleAssistant MessageRole = "assistant"
)

// IsValidMessageRole checks if the given role is supported.
func IsValidMessageRole(r MessageRole) bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Conversation represents one user's ongoing companion dialogue.
// A user has at most one conversation in scope; it is created lazily on
// the first turn and never hard-deleted.
type Conversation struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Title  string `json:"title,omitempty"`
	Stage  Phase  `json:"stage"`
	// StageEnteredAt marks when the current stage was entered; the per-phase
	// exchange count is derived from messages created after it.
	StageEnteredAt time.Time `json:"stage_entered_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks conversation invariants before persistence.
func (c *Conversation) Validate() error {
	if c.UserID == "" {
		return ErrEmptyUserID
	}
	if !IsValidPhase(c.Stage) {
		return ErrInvalidPhase
	}
	return nil
}

// Message is a single append-only entry in a conversation. Ordering by
// CreatedAt is the sole sequencing guarantee; there is no sequence number.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Validate checks message invariants before persistence.
func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return ErrEmptyConversationID
	}
	if !IsValidMessageRole(m.Role) {
		return ErrInvalidMessageRole
	}
	if m.Content == "" {
		return ErrEmptyMessageContent
	}
	return nil
}

// CheckIn is a daily wellness record extracted from conversation or
// created directly.
type CheckIn struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Mood         string    `json:"mood"`
	SleepQuality int       `json:"sleep_quality"`
	EnergyLevel  int       `json:"energy_level"`
	Intentions   string    `json:"intentions,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate rejects out-of-range ratings at the creation boundary.
// Values outside [1,5] are an error, never a silent clamp.
func (c *CheckIn) Validate() error {
	if c.UserID == "" {
		return ErrEmptyUserID
	}
	if c.Mood == "" {
		return ErrEmptyMood
	}
	if c.SleepQuality < MinSleepQuality || c.SleepQuality > MaxSleepQuality {
		return ErrSleepQualityRange
	}
	if c.EnergyLevel < MinEnergyLevel || c.EnergyLevel > MaxEnergyLevel {
		return ErrEnergyLevelRange
	}
	return nil
}

// JournalEntry is a reflective writing record with a derived word count.
type JournalEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"content"`
	WordCount  int       `json:"word_count"`
	AIInsights string    `json:"ai_insights,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks journal invariants for direct creation.
func (j *JournalEntry) Validate() error {
	if j.UserID == "" {
		return ErrEmptyUserID
	}
	if len(j.Content) < MinJournalContentLength {
		return ErrJournalContentShort
	}
	return nil
}

// ValidateExtracted checks the stricter invariants for extraction-sourced
// journal entries.
func (j *JournalEntry) ValidateExtracted() error {
	if j.UserID == "" {
		return ErrEmptyUserID
	}
	if len(j.Content) < MinExtractedJournalContentLength {
		return ErrJournalContentShort
	}
	if CountWords(j.Content) < MinExtractedJournalWordCount {
		return ErrJournalWordCountLow
	}
	return nil
}

// CountWords returns the whitespace-delimited word count of s.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// TruncateTitle caps a journal title at MaxJournalTitleLength characters,
// appending an ellipsis when the source text is longer.
func TruncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= MaxJournalTitleLength {
		return title
	}
	return string(runes[:MaxJournalTitleLength-3]) + "..."
}

// MilestoneType is the stable key used for idempotent "already granted"
// checks on milestones.
type MilestoneType string

const (
	// MilestoneFirstCheckIn is granted on the first check-in day.
	MilestoneFirstCheckIn MilestoneType = "first_check_in"
	// MilestoneCheckInStreak7 is granted at a 7-day check-in streak.
	MilestoneCheckInStreak7 MilestoneType = "check_in_streak_7"
	// MilestoneCheckInStreak30 is granted at a 30-day check-in streak.
	MilestoneCheckInStreak30 MilestoneType = "check_in_streak_30"
	// MilestoneFirstJournal is granted on the first journal entry.
	MilestoneFirstJournal MilestoneType = "first_journal"
	// MilestoneJournalEntries5 is granted at five journal entries.
	MilestoneJournalEntries5 MilestoneType = "journal_entries_5"
	// MilestoneJournalEntries25 is granted at twenty-five journal entries.
	MilestoneJournalEntries25 MilestoneType = "journal_entries_25"
)

// Milestone is a gamification record unlocked when a derived metric
// crosses a fixed threshold.
type Milestone struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Type        MilestoneType `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Progress    int           `json:"progress"`
	Unlocked    bool          `json:"unlocked"`
	UnlockedAt  *time.Time    `json:"unlocked_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Validate checks milestone invariants. Unlocked implies progress 100 and
// a set unlock timestamp; the converse need not hold.
func (m *Milestone) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.Type == "" {
		return ErrEmptyMilestoneType
	}
	if m.Progress < 0 || m.Progress > MaxMilestoneProgress {
		return ErrMilestoneProgress
	}
	if m.Unlocked {
		if m.Progress != MaxMilestoneProgress {
			return ErrUnlockedNotComplete
		}
		if m.UnlockedAt == nil {
			return ErrUnlockedWithoutDate
		}
	}
	return nil
}
