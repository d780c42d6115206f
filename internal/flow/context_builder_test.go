package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
	"github.com/BTreeMap/RecoveryCompanion/internal/testutil"
)

// failingCheckInStore wraps a Store and fails one read path so degradation
// can be observed in isolation.
type failingCheckInStore struct {
	store.Store
}

func (f *failingCheckInStore) GetRecentCheckIns(userID string, limit int) ([]models.CheckIn, error) {
	return nil, errors.New("simulated read failure")
}

func TestContextBuilderAssemblesSnapshot(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now().UTC()
	conv := testutil.SeedConversation(t, st, "u1", models.PhaseCheckIn, now.Add(-time.Hour))
	for i := 0; i < 12; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		testutil.SeedMessage(t, st, conv.ID, role, "msg", now.Add(time.Duration(i-12)*time.Minute))
	}
	testutil.SeedCheckInOn(t, st, "u1", testutil.Day(0).Add(8*time.Hour))
	testutil.SeedJournalEntry(t, st, "u1", testutil.Day(1))

	cb := NewContextBuilder(st)
	snapshot := cb.Build(context.Background(), "u1", conv.ID, models.PhaseCheckIn)

	if snapshot.Phase != models.PhaseCheckIn {
		t.Errorf("snapshot phase mismatch: %s", snapshot.Phase)
	}
	if len(snapshot.RecentMessages) != models.ContextMessageLimit {
		t.Errorf("expected message window of %d, got %d", models.ContextMessageLimit, len(snapshot.RecentMessages))
	}
	if len(snapshot.RecentCheckIns) != 1 {
		t.Errorf("expected one check-in, got %d", len(snapshot.RecentCheckIns))
	}
	if snapshot.JournalEntryCount != 1 {
		t.Errorf("expected journal count 1, got %d", snapshot.JournalEntryCount)
	}
	if last := snapshot.LastCheckIn(); last == nil {
		t.Error("expected LastCheckIn to surface the seeded record")
	}
}

func TestContextBuilderDegradesPerQuery(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now().UTC()
	conv := testutil.SeedConversation(t, st, "u1", models.PhaseCheckIn, now.Add(-time.Hour))
	testutil.SeedMessage(t, st, conv.ID, models.RoleUser, "hello", now.Add(-time.Minute))
	testutil.SeedCheckInOn(t, st, "u1", testutil.Day(0))

	cb := NewContextBuilder(&failingCheckInStore{Store: st})
	snapshot := cb.Build(context.Background(), "u1", conv.ID, models.PhaseCheckIn)

	// Only the failing sub-query degrades; the rest of the snapshot holds.
	if len(snapshot.RecentCheckIns) != 0 {
		t.Errorf("failing read should degrade to empty, got %d", len(snapshot.RecentCheckIns))
	}
	if len(snapshot.RecentMessages) != 1 {
		t.Errorf("healthy reads should still populate, got %d messages", len(snapshot.RecentMessages))
	}
	if snapshot.LastCheckIn() != nil {
		t.Error("LastCheckIn should be nil on a degraded snapshot")
	}
}
