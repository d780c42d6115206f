// Package flow provides streak-derived achievement evaluation.
package flow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
	"github.com/google/uuid"
)

// milestoneRule describes one auto-granted milestone threshold.
type milestoneRule struct {
	Type        models.MilestoneType
	Name        string
	Description string
	// Streak thresholds apply to consecutive check-in days; count
	// thresholds apply to total journal entries. Exactly one is non-zero.
	StreakDays int
	Count      int
}

// checkInRules are the streak-based milestone thresholds.
var checkInRules = []milestoneRule{
	{Type: models.MilestoneFirstCheckIn, Name: "First Check-In", Description: "Completed your first wellness check-in", StreakDays: 1},
	{Type: models.MilestoneCheckInStreak7, Name: "One Week Strong", Description: "Checked in 7 days in a row", StreakDays: 7},
	{Type: models.MilestoneCheckInStreak30, Name: "One Month Strong", Description: "Checked in 30 days in a row", StreakDays: 30},
}

// journalRules are the count-based milestone thresholds.
var journalRules = []milestoneRule{
	{Type: models.MilestoneFirstJournal, Name: "First Reflection", Description: "Wrote your first journal entry", Count: 1},
	{Type: models.MilestoneJournalEntries5, Name: "Regular Writer", Description: "Wrote 5 journal entries", Count: 5},
	{Type: models.MilestoneJournalEntries25, Name: "Dedicated Journaler", Description: "Wrote 25 journal entries", Count: 25},
}

// AchievementEngine derives streaks and entry counts from stored history
// and idempotently grants milestones when thresholds are crossed.
type AchievementEngine struct {
	store store.Store
}

// NewAchievementEngine creates an achievement engine backed by a Store.
func NewAchievementEngine(st store.Store) *AchievementEngine {
	slog.Debug("Creating AchievementEngine")
	return &AchievementEngine{store: st}
}

// CurrentStreak computes the consecutive-day streak over the given
// distinct activity days (newest first): the run of calendar days with no
// gaps, counted backward from the most recent active day.
func CurrentStreak(days []time.Time) int {
	if len(days) == 0 {
		return 0
	}
	streak := 1
	for i := 1; i < len(days); i++ {
		expected := days[i-1].AddDate(0, 0, -1)
		if !days[i].Equal(expected) {
			break
		}
		streak++
	}
	return streak
}

// CheckAndCreateAutoAchievements recomputes the user's check-in streak and
// journal count and grants every crossed threshold not yet granted. The
// store's (user, type) uniqueness constraint makes this idempotent under
// concurrent invocation; the pre-read of existing types only avoids
// pointless inserts.
func (e *AchievementEngine) CheckAndCreateAutoAchievements(userID string) ([]models.Milestone, error) {
	slog.Debug("AchievementEngine.CheckAndCreateAutoAchievements", "userID", userID)

	checkInDays, err := e.store.GetCheckInDays(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load check-in days: %w", err)
	}
	journalCount, err := e.store.CountJournalEntries(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count journal entries: %w", err)
	}
	existing, err := e.store.GetMilestoneTypes(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load milestone types: %w", err)
	}
	granted := make(map[models.MilestoneType]struct{}, len(existing))
	for _, t := range existing {
		granted[t] = struct{}{}
	}

	streak := CurrentStreak(checkInDays)
	slog.Debug("AchievementEngine: derived metrics", "userID", userID, "checkInStreak", streak, "journalCount", journalCount)

	var created []models.Milestone
	for _, rule := range checkInRules {
		if streak < rule.StreakDays {
			continue
		}
		if _, ok := granted[rule.Type]; ok {
			continue
		}
		m, err := e.grant(userID, rule)
		if err != nil {
			return created, err
		}
		if m != nil {
			created = append(created, *m)
		}
	}
	for _, rule := range journalRules {
		if journalCount < rule.Count {
			continue
		}
		if _, ok := granted[rule.Type]; ok {
			continue
		}
		m, err := e.grant(userID, rule)
		if err != nil {
			return created, err
		}
		if m != nil {
			created = append(created, *m)
		}
	}

	if len(created) > 0 {
		slog.Info("AchievementEngine: milestones granted", "userID", userID, "count", len(created))
	}
	return created, nil
}

// grant creates a fully unlocked milestone. A lost insert race returns
// nil without error.
func (e *AchievementEngine) grant(userID string, rule milestoneRule) (*models.Milestone, error) {
	now := time.Now().UTC()
	m := models.Milestone{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        rule.Type,
		Name:        rule.Name,
		Description: rule.Description,
		Progress:    models.MaxMilestoneProgress,
		Unlocked:    true,
		UnlockedAt:  &now,
		CreatedAt:   now,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid milestone %s: %w", rule.Type, err)
	}
	inserted, err := e.store.CreateMilestone(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create milestone %s: %w", rule.Type, err)
	}
	if !inserted {
		slog.Debug("AchievementEngine.grant: milestone already granted concurrently", "userID", userID, "type", rule.Type)
		return nil, nil
	}
	slog.Info("AchievementEngine.grant: milestone unlocked", "userID", userID, "type", rule.Type, "name", rule.Name)
	return &m, nil
}
