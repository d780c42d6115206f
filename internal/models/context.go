// Package models defines the conversation context snapshot shared by the
// stage engine components.
package models

// Context window bounds for conversation context assembly.
const (
	// ContextMessageLimit bounds the recent messages included in a context.
	ContextMessageLimit = 10
	// ContextCheckInLimit bounds the recent check-ins included in a context.
	ContextCheckInLimit = 3
	// ContextMilestoneLimit bounds the recent milestones included in a context.
	ContextMilestoneLimit = 5
)

// ConversationContext is an immutable per-decision snapshot of a user's
// recent activity. It is built fresh at every decision point and treated
// as a value by all consumers; it is never persisted.
type ConversationContext struct {
	Phase             Phase       `json:"phase"`
	RecentMessages    []Message   `json:"recent_messages"`
	RecentCheckIns    []CheckIn   `json:"recent_check_ins"`
	RecentMilestones  []Milestone `json:"recent_milestones"`
	JournalEntryCount int         `json:"journal_entry_count"`
}

// LastCheckIn returns the most recent check-in in the snapshot, or nil.
func (c *ConversationContext) LastCheckIn() *CheckIn {
	if len(c.RecentCheckIns) == 0 {
		return nil
	}
	return &c.RecentCheckIns[0]
}

// UserMessages returns only the user-authored messages from the snapshot,
// preserving order.
func (c *ConversationContext) UserMessages() []Message {
	var out []Message
	for _, m := range c.RecentMessages {
		if m.Role == RoleUser {
			out = append(out, m)
		}
	}
	return out
}

// ReplyKind distinguishes short quick replies from longer detailed ones.
type ReplyKind string

const (
	// ReplyKindQuick is a one-tap short reply.
	ReplyKindQuick ReplyKind = "quick"
	// ReplyKindDetailed is a longer, free-form style reply.
	ReplyKindDetailed ReplyKind = "detailed"
)

// SuggestedReply is a candidate user reply surfaced by the UI as a
// quick-reply affordance.
type SuggestedReply struct {
	Text string    `json:"text"`
	Kind ReplyKind `json:"kind"`
}
