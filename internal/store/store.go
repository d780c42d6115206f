// Package store provides storage backends for RecoveryCompanion.
//
// It includes SQLite and PostgreSQL implementations plus an in-memory
// store used as a test double. All queries are scoped by the owning user
// or conversation id; nothing in this package performs global scans.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
)

// ErrStageConflict is returned by UpdateConversationStage when the stored
// stage no longer matches the expected previous stage. Callers treat it as
// a lost compare-and-set, not a persistence failure.
var ErrStageConflict = errors.New("conversation stage changed concurrently")

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else, which is treated as a file path.
func DetectDSNType(dsn string) string {
	if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store defines the persistence contract for the stage orchestration
// engine. Implementations must keep message reads ordered by creation
// time and enforce milestone uniqueness per (user, type).
type Store interface {
	// CreateConversation inserts a new conversation row.
	CreateConversation(c models.Conversation) error

	// GetConversation retrieves a conversation by id, scoped to the owning user.
	// Returns nil without error when no row matches.
	GetConversation(id, userID string) (*models.Conversation, error)

	// GetConversationByUser retrieves the user's conversation, or nil.
	GetConversationByUser(userID string) (*models.Conversation, error)

	// UpdateConversationStage commits a phase transition as a compare-and-set
	// on the previous stage. Returns ErrStageConflict when the stored stage
	// does not match from.
	UpdateConversationStage(id, userID string, from, to models.Phase) error

	// TouchConversation updates the conversation title and updated_at after
	// message activity.
	TouchConversation(id, userID, title string) error

	// AddMessage appends a message to a conversation.
	AddMessage(m models.Message) error

	// GetRecentMessages returns up to limit most recent messages for a
	// conversation, in creation order (oldest first).
	GetRecentMessages(conversationID string, limit int) ([]models.Message, error)

	// CountUserMessagesSince counts user-authored messages in a conversation
	// created at or after since. Used for the per-phase exchange count.
	CountUserMessagesSince(conversationID string, since time.Time) (int, error)

	// CreateCheckIn inserts a wellness check-in record.
	CreateCheckIn(c models.CheckIn) error

	// GetRecentCheckIns returns up to limit most recent check-ins for a user,
	// newest first.
	GetRecentCheckIns(userID string, limit int) ([]models.CheckIn, error)

	// GetCheckInDays returns the distinct calendar days (UTC, midnight) with
	// at least one check-in for the user, newest first.
	GetCheckInDays(userID string) ([]time.Time, error)

	// CreateJournalEntry inserts a journal entry record.
	CreateJournalEntry(j models.JournalEntry) error

	// CountJournalEntries counts the user's journal entries.
	CountJournalEntries(userID string) (int, error)

	// GetJournalDays returns the distinct calendar days (UTC, midnight) with
	// at least one journal entry for the user, newest first.
	GetJournalDays(userID string) ([]time.Time, error)

	// CreateMilestone inserts a milestone, returning false when a row with
	// the same (user, type) already exists. The uniqueness constraint, not
	// a pre-read, is what keeps concurrent creation idempotent.
	CreateMilestone(m models.Milestone) (bool, error)

	// GetRecentMilestones returns up to limit most recent milestones for a
	// user, newest first.
	GetRecentMilestones(userID string, limit int) ([]models.Milestone, error)

	// GetMilestoneTypes returns the type keys already granted to the user.
	GetMilestoneTypes(userID string) ([]models.MilestoneType, error)

	// ClaimExtraction records that an extraction of the given kind ran for
	// the given user message id. Returns false when the claim already
	// existed, so at-least-once turn processing never extracts twice.
	ClaimExtraction(messageID, kind string) (bool, error)

	// ListActiveUserIDs returns users with any message activity at or after
	// since. Used by the nightly achievement sweep.
	ListActiveUserIDs(since time.Time) ([]string, error)

	// Close releases the underlying resources.
	Close() error
}
