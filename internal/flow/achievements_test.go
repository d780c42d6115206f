package flow

import (
	"testing"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
	"github.com/BTreeMap/RecoveryCompanion/internal/testutil"
)

func TestCurrentStreak(t *testing.T) {
	day := func(n int) time.Time { return testutil.Day(n) }

	cases := []struct {
		name string
		days []time.Time
		want int
	}{
		{"no days", nil, 0},
		{"single day", []time.Time{day(0)}, 1},
		{"three consecutive", []time.Time{day(0), day(1), day(2)}, 3},
		{"gap breaks streak", []time.Time{day(0), day(1), day(3), day(4)}, 2},
		{"streak not anchored to today", []time.Time{day(5), day(6), day(7)}, 3},
		{"gap immediately after newest", []time.Time{day(0), day(2), day(3)}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CurrentStreak(tc.days); got != tc.want {
				t.Errorf("CurrentStreak = %d, want %d", got, tc.want)
			}
		})
	}
}

func grantedTypes(t *testing.T, st store.Store, userID string) map[models.MilestoneType]bool {
	t.Helper()
	types, err := st.GetMilestoneTypes(userID)
	if err != nil {
		t.Fatalf("failed to load milestone types: %v", err)
	}
	out := make(map[models.MilestoneType]bool, len(types))
	for _, mt := range types {
		out[mt] = true
	}
	return out
}

func TestAchievementsFirstCheckIn(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewAchievementEngine(st)
	testutil.SeedCheckInOn(t, st, "u1", testutil.Day(0).Add(9*time.Hour))

	created, err := e.CheckAndCreateAutoAchievements("u1")
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(created) != 1 || created[0].Type != models.MilestoneFirstCheckIn {
		t.Fatalf("expected first check-in milestone, got %+v", created)
	}
	m := created[0]
	if !m.Unlocked || m.Progress != models.MaxMilestoneProgress || m.UnlockedAt == nil {
		t.Errorf("granted milestone should be fully unlocked: %+v", m)
	}
}

func TestAchievementsStreakThresholds(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewAchievementEngine(st)
	for i := 0; i < 7; i++ {
		testutil.SeedCheckInOn(t, st, "u1", testutil.Day(i).Add(10*time.Hour))
	}

	created, err := e.CheckAndCreateAutoAchievements("u1")
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected first check-in and 7-day streak, got %+v", created)
	}
	granted := grantedTypes(t, st, "u1")
	if !granted[models.MilestoneFirstCheckIn] || !granted[models.MilestoneCheckInStreak7] {
		t.Errorf("expected both streak milestones granted, got %v", granted)
	}
	if granted[models.MilestoneCheckInStreak30] {
		t.Error("30-day milestone must not be granted at a 7-day streak")
	}
}

func TestAchievementsJournalCounts(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewAchievementEngine(st)
	for i := 0; i < 5; i++ {
		testutil.SeedJournalEntry(t, st, "u1", testutil.Day(i).Add(11*time.Hour))
	}

	if _, err := e.CheckAndCreateAutoAchievements("u1"); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	granted := grantedTypes(t, st, "u1")
	if !granted[models.MilestoneFirstJournal] || !granted[models.MilestoneJournalEntries5] {
		t.Errorf("expected journal milestones at count 5, got %v", granted)
	}
	if granted[models.MilestoneJournalEntries25] {
		t.Error("25-entry milestone must not be granted at count 5")
	}
}

func TestAchievementsIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewAchievementEngine(st)
	testutil.SeedCheckInOn(t, st, "u1", testutil.Day(0).Add(9*time.Hour))

	if _, err := e.CheckAndCreateAutoAchievements("u1"); err != nil {
		t.Fatalf("first evaluation failed: %v", err)
	}
	created, err := e.CheckAndCreateAutoAchievements("u1")
	if err != nil {
		t.Fatalf("second evaluation failed: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("re-evaluation must grant nothing, got %+v", created)
	}

	milestones, _ := st.GetRecentMilestones("u1", 10)
	if len(milestones) != 1 {
		t.Errorf("expected exactly one stored milestone, got %d", len(milestones))
	}
}

func TestAchievementsBrokenStreakDoesNotRegress(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewAchievementEngine(st)
	for i := 0; i < 7; i++ {
		testutil.SeedCheckInOn(t, st, "u1", testutil.Day(i).Add(10*time.Hour))
	}
	if _, err := e.CheckAndCreateAutoAchievements("u1"); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	// A later check-in after a gap restarts the streak; the earned
	// milestone stays granted.
	testutil.SeedCheckInOn(t, st, "u2", testutil.Day(0))
	created, err := e.CheckAndCreateAutoAchievements("u1")
	if err != nil {
		t.Fatalf("re-evaluation failed: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("expected no new grants, got %+v", created)
	}
	granted := grantedTypes(t, st, "u1")
	if !granted[models.MilestoneCheckInStreak7] {
		t.Error("earned milestone must never be revoked")
	}
}
