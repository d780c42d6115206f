// Package flow provides conversation context assembly.
package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
	"golang.org/x/sync/errgroup"
)

// ContextBuilder assembles immutable ConversationContext snapshots from
// recent conversation history and domain records. It is a pure read
// component with no side effects.
type ContextBuilder struct {
	store store.Store
}

// NewContextBuilder creates a ContextBuilder backed by a Store.
func NewContextBuilder(st store.Store) *ContextBuilder {
	slog.Debug("Creating ContextBuilder")
	return &ContextBuilder{store: st}
}

// Build assembles a context snapshot for one decision point. The four
// sub-queries run in parallel and fail independently: a failing sub-query
// degrades to an empty or zero result and is logged, never returned,
// because context feeds prompt shaping and suggestions and must not block
// message delivery.
func (cb *ContextBuilder) Build(ctx context.Context, userID, conversationID string, phase models.Phase) *models.ConversationContext {
	slog.Debug("ContextBuilder.Build: assembling context", "userID", userID, "conversationID", conversationID, "phase", phase)

	snapshot := &models.ConversationContext{Phase: phase}

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		msgs, err := cb.store.GetRecentMessages(conversationID, models.ContextMessageLimit)
		if err != nil {
			slog.Warn("ContextBuilder.Build: message read degraded to empty", "error", err, "conversationID", conversationID)
			return nil
		}
		snapshot.RecentMessages = msgs
		return nil
	})

	g.Go(func() error {
		checkIns, err := cb.store.GetRecentCheckIns(userID, models.ContextCheckInLimit)
		if err != nil {
			slog.Warn("ContextBuilder.Build: check-in read degraded to empty", "error", err, "userID", userID)
			return nil
		}
		snapshot.RecentCheckIns = checkIns
		return nil
	})

	g.Go(func() error {
		milestones, err := cb.store.GetRecentMilestones(userID, models.ContextMilestoneLimit)
		if err != nil {
			slog.Warn("ContextBuilder.Build: milestone read degraded to empty", "error", err, "userID", userID)
			return nil
		}
		snapshot.RecentMilestones = milestones
		return nil
	})

	g.Go(func() error {
		count, err := cb.store.CountJournalEntries(userID)
		if err != nil {
			slog.Warn("ContextBuilder.Build: journal count degraded to zero", "error", err, "userID", userID)
			return nil
		}
		snapshot.JournalEntryCount = count
		return nil
	})

	// Sub-queries swallow their own errors, so Wait only synchronizes.
	_ = g.Wait()

	slog.Debug("ContextBuilder.Build: context assembled",
		"userID", userID,
		"messages", len(snapshot.RecentMessages),
		"checkIns", len(snapshot.RecentCheckIns),
		"milestones", len(snapshot.RecentMilestones),
		"journalCount", snapshot.JournalEntryCount)
	return snapshot
}
