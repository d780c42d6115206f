// Package store provides storage backends for RecoveryCompanion.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// CreateConversation inserts a new conversation row.
func (s *SQLiteStore) CreateConversation(c models.Conversation) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, user_id, title, stage, stage_entered_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, string(c.Stage), c.StageEnteredAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateConversation failed", "error", err, "userID", c.UserID)
		return fmt.Errorf("failed to insert conversation for %s: %w", c.UserID, err)
	}
	slog.Debug("SQLiteStore CreateConversation succeeded", "conversationID", c.ID, "userID", c.UserID)
	return nil
}

// GetConversation retrieves a conversation by id, scoped to the owning user.
func (s *SQLiteStore) GetConversation(id, userID string) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, title, stage, stage_entered_at, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`,
		id, userID)
	return scanConversationRow(row)
}

// GetConversationByUser retrieves the user's conversation, or nil.
func (s *SQLiteStore) GetConversationByUser(userID string) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, title, stage, stage_entered_at, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`,
		userID)
	return scanConversationRow(row)
}

// UpdateConversationStage commits a phase transition as a compare-and-set.
func (s *SQLiteStore) UpdateConversationStage(id, userID string, from, to models.Phase) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE conversations SET stage = ?, stage_entered_at = ?, updated_at = ? WHERE id = ? AND user_id = ? AND stage = ?`,
		string(to), now, now, id, userID, string(from))
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationStage failed", "error", err, "conversationID", id)
		return fmt.Errorf("failed to update conversation stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		slog.Warn("SQLiteStore UpdateConversationStage lost compare-and-set", "conversationID", id, "from", from, "to", to)
		return ErrStageConflict
	}
	slog.Debug("SQLiteStore UpdateConversationStage succeeded", "conversationID", id, "from", from, "to", to)
	return nil
}

// TouchConversation updates the title and updated_at after message activity.
func (s *SQLiteStore) TouchConversation(id, userID, title string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		title, time.Now().UTC(), id, userID)
	if err != nil {
		slog.Error("SQLiteStore TouchConversation failed", "error", err, "conversationID", id)
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// AddMessage appends a message to a conversation.
func (s *SQLiteStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert message: %w", err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "messageID", m.ID, "role", m.Role)
	return nil
}

// GetRecentMessages returns up to limit most recent messages in creation order.
func (s *SQLiteStore) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	// Newest-first window, then reversed so callers always read in creation order.
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		slog.Error("SQLiteStore GetRecentMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		slog.Error("SQLiteStore GetRecentMessages scan failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	reverseMessages(msgs)
	slog.Debug("SQLiteStore GetRecentMessages succeeded", "conversationID", conversationID, "count", len(msgs))
	return msgs, nil
}

// CountUserMessagesSince counts user-authored messages created at or after since.
func (s *SQLiteStore) CountUserMessagesSince(conversationID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND role = 'user' AND created_at >= ?`,
		conversationID, since).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountUserMessagesSince failed", "error", err, "conversationID", conversationID)
		return 0, fmt.Errorf("failed to count user messages: %w", err)
	}
	return count, nil
}

// CreateCheckIn inserts a wellness check-in record.
func (s *SQLiteStore) CreateCheckIn(c models.CheckIn) error {
	_, err := s.db.Exec(
		`INSERT INTO check_ins (id, user_id, mood, sleep_quality, energy_level, intentions, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Mood, c.SleepQuality, c.EnergyLevel, c.Intentions, c.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateCheckIn failed", "error", err, "userID", c.UserID)
		return fmt.Errorf("failed to insert check-in for %s: %w", c.UserID, err)
	}
	slog.Debug("SQLiteStore CreateCheckIn succeeded", "userID", c.UserID, "sleep", c.SleepQuality, "energy", c.EnergyLevel)
	return nil
}

// GetRecentCheckIns returns up to limit most recent check-ins, newest first.
func (s *SQLiteStore) GetRecentCheckIns(userID string, limit int) ([]models.CheckIn, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, mood, sleep_quality, energy_level, intentions, created_at FROM check_ins WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		slog.Error("SQLiteStore GetRecentCheckIns query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query check-ins: %w", err)
	}
	defer rows.Close()
	return scanCheckIns(rows)
}

// GetCheckInDays returns distinct check-in days (UTC midnight), newest first.
func (s *SQLiteStore) GetCheckInDays(userID string) ([]time.Time, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT date(created_at) FROM check_ins WHERE user_id = ? ORDER BY 1 DESC`,
		userID)
	if err != nil {
		slog.Error("SQLiteStore GetCheckInDays query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query check-in days: %w", err)
	}
	defer rows.Close()
	return scanDays(rows)
}

// CreateJournalEntry inserts a journal entry record.
func (s *SQLiteStore) CreateJournalEntry(j models.JournalEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO journal_entries (id, user_id, title, content, word_count, ai_insights, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, nilIfEmpty(j.Title), j.Content, j.WordCount, nilIfEmpty(j.AIInsights), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateJournalEntry failed", "error", err, "userID", j.UserID)
		return fmt.Errorf("failed to insert journal entry for %s: %w", j.UserID, err)
	}
	slog.Debug("SQLiteStore CreateJournalEntry succeeded", "userID", j.UserID, "wordCount", j.WordCount)
	return nil
}

// CountJournalEntries counts the user's journal entries.
func (s *SQLiteStore) CountJournalEntries(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM journal_entries WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountJournalEntries failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to count journal entries: %w", err)
	}
	return count, nil
}

// GetJournalDays returns distinct journal days (UTC midnight), newest first.
func (s *SQLiteStore) GetJournalDays(userID string) ([]time.Time, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT date(created_at) FROM journal_entries WHERE user_id = ? ORDER BY 1 DESC`,
		userID)
	if err != nil {
		slog.Error("SQLiteStore GetJournalDays query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query journal days: %w", err)
	}
	defer rows.Close()
	return scanDays(rows)
}

// CreateMilestone inserts a milestone, returning false on (user, type) conflict.
func (s *SQLiteStore) CreateMilestone(m models.Milestone) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO milestones (id, user_id, type, name, description, progress, unlocked, unlocked_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, string(m.Type), m.Name, nilIfEmpty(m.Description), m.Progress, m.Unlocked, m.UnlockedAt, m.CreatedAt)
	if err != nil {
		// Treat a raced unique violation the same as an ignored insert.
		if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
			slog.Debug("SQLiteStore CreateMilestone already granted", "userID", m.UserID, "type", m.Type)
			return false, nil
		}
		slog.Error("SQLiteStore CreateMilestone failed", "error", err, "userID", m.UserID, "type", m.Type)
		return false, fmt.Errorf("failed to insert milestone %s for %s: %w", m.Type, m.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	created := n > 0
	slog.Debug("SQLiteStore CreateMilestone finished", "userID", m.UserID, "type", m.Type, "created", created)
	return created, nil
}

// GetRecentMilestones returns up to limit most recent milestones, newest first.
func (s *SQLiteStore) GetRecentMilestones(userID string, limit int) ([]models.Milestone, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, type, name, description, progress, unlocked, unlocked_at, created_at FROM milestones WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		slog.Error("SQLiteStore GetRecentMilestones query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()
	return scanMilestones(rows)
}

// GetMilestoneTypes returns the type keys already granted to the user.
func (s *SQLiteStore) GetMilestoneTypes(userID string) ([]models.MilestoneType, error) {
	rows, err := s.db.Query(`SELECT type FROM milestones WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetMilestoneTypes query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query milestone types: %w", err)
	}
	defer rows.Close()

	var types []models.MilestoneType
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan milestone type: %w", err)
		}
		types = append(types, models.MilestoneType(t))
	}
	return types, rows.Err()
}

// ClaimExtraction records an extraction claim, returning false when it
// already existed.
func (s *SQLiteStore) ClaimExtraction(messageID, kind string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO extraction_claims (message_id, kind, claimed_at) VALUES (?, ?, ?)`,
		messageID, kind, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore ClaimExtraction failed", "error", err, "messageID", messageID, "kind", kind)
		return false, fmt.Errorf("failed to claim extraction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ListActiveUserIDs returns users with message activity at or after since.
func (s *SQLiteStore) ListActiveUserIDs(since time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT c.user_id FROM conversations c JOIN messages m ON m.conversation_id = c.id WHERE m.created_at >= ?`,
		since)
	if err != nil {
		slog.Error("SQLiteStore ListActiveUserIDs query failed", "error", err)
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan active user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
