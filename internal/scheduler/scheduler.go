// Package scheduler provides scheduling logic for RecoveryCompanion.
//
// It runs the nightly achievement sweep that re-evaluates streak-based
// milestones for recently active users, so a streak milestone is granted
// even when the user never sends another message.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/RecoveryCompanion/internal/flow"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
)

// DefaultSweepSchedule runs the sweep shortly after the UTC day boundary,
// when streak values can change without user activity.
const DefaultSweepSchedule = "10 0 * * *"

// DefaultActivityWindow bounds which users the sweep visits: anyone with
// a conversation touched within the window.
const DefaultActivityWindow = 45 * 24 * time.Hour

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// ScheduleAchievementSweep registers the nightly milestone re-evaluation
// job against the default schedule.
func (s *Scheduler) ScheduleAchievementSweep(st store.Store, achievements *flow.AchievementEngine) error {
	return s.AddJob(DefaultSweepSchedule, func() {
		RunAchievementSweep(st, achievements, DefaultActivityWindow)
	})
}

// RunAchievementSweep evaluates achievements for every user active within
// the window. Per-user failures are logged and skipped; milestone grants
// are idempotent, so overlap with turn-time evaluation is harmless.
func RunAchievementSweep(st store.Store, achievements *flow.AchievementEngine, window time.Duration) {
	since := time.Now().UTC().Add(-window)
	userIDs, err := st.ListActiveUserIDs(since)
	if err != nil {
		slog.Error("Scheduler.RunAchievementSweep: failed to list active users", "error", err)
		return
	}
	slog.Debug("Scheduler.RunAchievementSweep: sweep started", "users", len(userIDs), "since", since)

	var granted int
	for _, userID := range userIDs {
		created, err := achievements.CheckAndCreateAutoAchievements(userID)
		if err != nil {
			slog.Warn("Scheduler.RunAchievementSweep: user evaluation failed", "error", err, "userID", userID)
			continue
		}
		granted += len(created)
	}
	slog.Info("Scheduler.RunAchievementSweep: sweep completed", "users", len(userIDs), "granted", granted)
}
