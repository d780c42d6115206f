// Package flow provides phase-aligned suggested replies.
package flow

import (
	"github.com/BTreeMap/RecoveryCompanion/internal/models"
)

// RepliesFor returns 3-4 candidate user replies for the given phase, in
// priority order. It is a pure function of its inputs: all facts come
// from the already-built context snapshot and no I/O is performed.
func RepliesFor(phase models.Phase, convCtx *models.ConversationContext) []models.SuggestedReply {
	switch phase {
	case models.PhaseGreeting:
		return []models.SuggestedReply{
			{Text: "Hi, I'm doing okay today", Kind: models.ReplyKindQuick},
			{Text: "It's been a rough day", Kind: models.ReplyKindQuick},
			{Text: "I'd like to talk about how things are going", Kind: models.ReplyKindDetailed},
		}
	case models.PhaseCheckIn:
		return []models.SuggestedReply{
			{Text: "I'm feeling calm today", Kind: models.ReplyKindQuick},
			{Text: "I slept well last night", Kind: models.ReplyKindQuick},
			{Text: "My energy is low", Kind: models.ReplyKindQuick},
			{Text: "Let me describe how I'm really doing", Kind: models.ReplyKindDetailed},
		}
	case models.PhaseJournalPrompt:
		return []models.SuggestedReply{
			{Text: "I'd like to write about today", Kind: models.ReplyKindDetailed},
			{Text: "Give me a different prompt", Kind: models.ReplyKindQuick},
			{Text: "Not now, maybe later", Kind: models.ReplyKindQuick},
		}
	case models.PhaseAffirmation:
		return []models.SuggestedReply{
			{Text: "Thank you, I needed that", Kind: models.ReplyKindQuick},
			{Text: "That really resonates with me", Kind: models.ReplyKindQuick},
			{Text: "I'm not sure I believe that today", Kind: models.ReplyKindDetailed},
		}
	case models.PhaseReflection:
		return []models.SuggestedReply{
			{Text: "This week went better than expected", Kind: models.ReplyKindQuick},
			{Text: "I've been struggling with something", Kind: models.ReplyKindDetailed},
			{Text: "I noticed a pattern I want to share", Kind: models.ReplyKindDetailed},
		}
	case models.PhaseMilestoneReview:
		// Branch on whether the user has any milestones to show.
		if convCtx != nil && len(convCtx.RecentMilestones) > 0 {
			return []models.SuggestedReply{
				{Text: "Show me my progress", Kind: models.ReplyKindQuick},
				{Text: "What's my next milestone?", Kind: models.ReplyKindQuick},
				{Text: "I'm proud of how far I've come", Kind: models.ReplyKindDetailed},
			}
		}
		return []models.SuggestedReply{
			{Text: "How do I earn milestones?", Kind: models.ReplyKindQuick},
			{Text: "Let's keep building my routine", Kind: models.ReplyKindQuick},
			{Text: "What should I focus on this week?", Kind: models.ReplyKindDetailed},
		}
	default:
		return []models.SuggestedReply{
			{Text: "Let's continue", Kind: models.ReplyKindQuick},
			{Text: "Tell me more", Kind: models.ReplyKindQuick},
			{Text: "I'd like to check in", Kind: models.ReplyKindQuick},
		}
	}
}
