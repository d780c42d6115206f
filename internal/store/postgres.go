// Package store provides storage backends for RecoveryCompanion.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// uniqueViolation is the Postgres error code for unique constraint violations.
const uniqueViolation = "23505"

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

// CreateConversation inserts a new conversation row.
func (s *PostgresStore) CreateConversation(c models.Conversation) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, user_id, title, stage, stage_entered_at, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.UserID, c.Title, string(c.Stage), c.StageEnteredAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateConversation failed", "error", err, "userID", c.UserID)
		return fmt.Errorf("failed to insert conversation for %s: %w", c.UserID, err)
	}
	slog.Debug("PostgresStore CreateConversation succeeded", "conversationID", c.ID, "userID", c.UserID)
	return nil
}

// GetConversation retrieves a conversation by id, scoped to the owning user.
func (s *PostgresStore) GetConversation(id, userID string) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, title, stage, stage_entered_at, created_at, updated_at FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID)
	return scanConversationRow(row)
}

// GetConversationByUser retrieves the user's conversation, or nil.
func (s *PostgresStore) GetConversationByUser(userID string) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, title, stage, stage_entered_at, created_at, updated_at FROM conversations WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`,
		userID)
	return scanConversationRow(row)
}

// UpdateConversationStage commits a phase transition as a compare-and-set.
func (s *PostgresStore) UpdateConversationStage(id, userID string, from, to models.Phase) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE conversations SET stage = $1, stage_entered_at = $2, updated_at = $3 WHERE id = $4 AND user_id = $5 AND stage = $6`,
		string(to), now, now, id, userID, string(from))
	if err != nil {
		slog.Error("PostgresStore UpdateConversationStage failed", "error", err, "conversationID", id)
		return fmt.Errorf("failed to update conversation stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		slog.Warn("PostgresStore UpdateConversationStage lost compare-and-set", "conversationID", id, "from", from, "to", to)
		return ErrStageConflict
	}
	slog.Debug("PostgresStore UpdateConversationStage succeeded", "conversationID", id, "from", from, "to", to)
	return nil
}

// TouchConversation updates the title and updated_at after message activity.
func (s *PostgresStore) TouchConversation(id, userID, title string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET title = $1, updated_at = $2 WHERE id = $3 AND user_id = $4`,
		title, time.Now().UTC(), id, userID)
	if err != nil {
		slog.Error("PostgresStore TouchConversation failed", "error", err, "conversationID", id)
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// AddMessage appends a message to a conversation.
func (s *PostgresStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert message: %w", err)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "messageID", m.ID, "role", m.Role)
	return nil
}

// GetRecentMessages returns up to limit most recent messages in creation order.
func (s *PostgresStore) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		slog.Error("PostgresStore GetRecentMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		slog.Error("PostgresStore GetRecentMessages scan failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	reverseMessages(msgs)
	slog.Debug("PostgresStore GetRecentMessages succeeded", "conversationID", conversationID, "count", len(msgs))
	return msgs, nil
}

// CountUserMessagesSince counts user-authored messages created at or after since.
func (s *PostgresStore) CountUserMessagesSince(conversationID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND role = 'user' AND created_at >= $2`,
		conversationID, since).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountUserMessagesSince failed", "error", err, "conversationID", conversationID)
		return 0, fmt.Errorf("failed to count user messages: %w", err)
	}
	return count, nil
}

// CreateCheckIn inserts a wellness check-in record.
func (s *PostgresStore) CreateCheckIn(c models.CheckIn) error {
	_, err := s.db.Exec(
		`INSERT INTO check_ins (id, user_id, mood, sleep_quality, energy_level, intentions, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.UserID, c.Mood, c.SleepQuality, c.EnergyLevel, c.Intentions, c.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateCheckIn failed", "error", err, "userID", c.UserID)
		return fmt.Errorf("failed to insert check-in for %s: %w", c.UserID, err)
	}
	slog.Debug("PostgresStore CreateCheckIn succeeded", "userID", c.UserID, "sleep", c.SleepQuality, "energy", c.EnergyLevel)
	return nil
}

// GetRecentCheckIns returns up to limit most recent check-ins, newest first.
func (s *PostgresStore) GetRecentCheckIns(userID string, limit int) ([]models.CheckIn, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, mood, sleep_quality, energy_level, intentions, created_at FROM check_ins WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		slog.Error("PostgresStore GetRecentCheckIns query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query check-ins: %w", err)
	}
	defer rows.Close()
	return scanCheckIns(rows)
}

// GetCheckInDays returns distinct check-in days (UTC midnight), newest first.
func (s *PostgresStore) GetCheckInDays(userID string) ([]time.Time, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') FROM check_ins WHERE user_id = $1 ORDER BY 1 DESC`,
		userID)
	if err != nil {
		slog.Error("PostgresStore GetCheckInDays query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query check-in days: %w", err)
	}
	defer rows.Close()
	return scanDays(rows)
}

// CreateJournalEntry inserts a journal entry record.
func (s *PostgresStore) CreateJournalEntry(j models.JournalEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO journal_entries (id, user_id, title, content, word_count, ai_insights, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		j.ID, j.UserID, nilIfEmpty(j.Title), j.Content, j.WordCount, nilIfEmpty(j.AIInsights), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateJournalEntry failed", "error", err, "userID", j.UserID)
		return fmt.Errorf("failed to insert journal entry for %s: %w", j.UserID, err)
	}
	slog.Debug("PostgresStore CreateJournalEntry succeeded", "userID", j.UserID, "wordCount", j.WordCount)
	return nil
}

// CountJournalEntries counts the user's journal entries.
func (s *PostgresStore) CountJournalEntries(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM journal_entries WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountJournalEntries failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to count journal entries: %w", err)
	}
	return count, nil
}

// GetJournalDays returns distinct journal days (UTC midnight), newest first.
func (s *PostgresStore) GetJournalDays(userID string) ([]time.Time, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') FROM journal_entries WHERE user_id = $1 ORDER BY 1 DESC`,
		userID)
	if err != nil {
		slog.Error("PostgresStore GetJournalDays query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query journal days: %w", err)
	}
	defer rows.Close()
	return scanDays(rows)
}

// CreateMilestone inserts a milestone, returning false on (user, type) conflict.
func (s *PostgresStore) CreateMilestone(m models.Milestone) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO milestones (id, user_id, type, name, description, progress, unlocked, unlocked_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, type) DO NOTHING`,
		m.ID, m.UserID, string(m.Type), m.Name, nilIfEmpty(m.Description), m.Progress, m.Unlocked, m.UnlockedAt, m.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			slog.Debug("PostgresStore CreateMilestone already granted", "userID", m.UserID, "type", m.Type)
			return false, nil
		}
		slog.Error("PostgresStore CreateMilestone failed", "error", err, "userID", m.UserID, "type", m.Type)
		return false, fmt.Errorf("failed to insert milestone %s for %s: %w", m.Type, m.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	created := n > 0
	slog.Debug("PostgresStore CreateMilestone finished", "userID", m.UserID, "type", m.Type, "created", created)
	return created, nil
}

// GetRecentMilestones returns up to limit most recent milestones, newest first.
func (s *PostgresStore) GetRecentMilestones(userID string, limit int) ([]models.Milestone, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, type, name, description, progress, unlocked, unlocked_at, created_at FROM milestones WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		slog.Error("PostgresStore GetRecentMilestones query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()
	return scanMilestones(rows)
}

// GetMilestoneTypes returns the type keys already granted to the user.
func (s *PostgresStore) GetMilestoneTypes(userID string) ([]models.MilestoneType, error) {
	rows, err := s.db.Query(`SELECT type FROM milestones WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore GetMilestoneTypes query failed", "error", err, "userID", userID)
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
func (s *PostgresStore) ClaimExtraction(messageID, kind string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO extraction_claims (message_id, kind, claimed_at) VALUES ($1, $2, $3) ON CONFLICT (message_id, kind) DO NOTHING`,
		messageID, kind, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore ClaimExtraction failed", "error", err, "messageID", messageID, "kind", kind)
		return false, fmt.Errorf("failed to claim extraction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ListActiveUserIDs returns users with message activity at or after since.
func (s *PostgresStore) ListActiveUserIDs(since time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT c.user_id FROM conversations c JOIN messages m ON m.conversation_id = c.id WHERE m.created_at >= $1`,
		since)
	if err != nil {
		slog.Error("PostgresStore ListActiveUserIDs query failed", "error", err)
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
