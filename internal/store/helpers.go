package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanConversationRow scans a Conversation from a single sql.Row.
// Returns nil without error when no row matched.
func scanConversationRow(row *sql.Row) (*models.Conversation, error) {
	var c models.Conversation
	var stage string
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &stage, &c.StageEnteredAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation failed: %w", err)
	}
	c.Stage = models.Phase(stage)
	return &c, nil
}

// scanMessages scans Messages from sql.Rows.
func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		m.Role = models.MessageRole(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// reverseMessages flips a newest-first window into creation order in place.
func reverseMessages(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// scanCheckIns scans CheckIns from sql.Rows.
func scanCheckIns(rows *sql.Rows) ([]models.CheckIn, error) {
	var checkIns []models.CheckIn
	for rows.Next() {
		var c models.CheckIn
		if err := rows.Scan(&c.ID, &c.UserID, &c.Mood, &c.SleepQuality, &c.EnergyLevel, &c.Intentions, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan check-in failed: %w", err)
		}
		checkIns = append(checkIns, c)
	}
	return checkIns, rows.Err()
}

// scanMilestones scans Milestones from sql.Rows.
func scanMilestones(rows *sql.Rows) ([]models.Milestone, error) {
	var milestones []models.Milestone
	for rows.Next() {
		var m models.Milestone
		var mType string
		var description sql.NullString
		var unlockedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.UserID, &mType, &m.Name, &description, &m.Progress, &m.Unlocked, &unlockedAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan milestone failed: %w", err)
		}
		m.Type = models.MilestoneType(mType)
		m.Description = description.String
		if unlockedAt.Valid {
			t := unlockedAt.Time
			m.UnlockedAt = &t
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

// scanDays scans distinct calendar day rows into UTC-midnight times.
// SQLite's date() yields "2006-01-02"; Postgres DATE values arrive through
// database/sql as RFC3339 strings, so both layouts are accepted.
func scanDays(rows *sql.Rows) ([]time.Time, error) {
	var days []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan day failed: %w", err)
		}
		day, err := parseDay(raw)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

func parseDay(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable day value %q: %w", raw, err)
	}
	return DayOf(t), nil
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
