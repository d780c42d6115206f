// Package store provides storage backends for RecoveryCompanion.
//
// This file implements an in-memory store used in tests and as a
// zero-dependency fallback. It enforces the same uniqueness semantics as
// the SQL backends so idempotency tests exercise the real contract.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string]models.Conversation
	messages      []models.Message
	checkIns      []models.CheckIn
	journals      []models.JournalEntry
	milestones    []models.Milestone
	milestoneKeys map[string]struct{} // userID + "\x00" + type
	claims        map[string]struct{} // messageID + "\x00" + kind
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]models.Conversation),
		milestoneKeys: make(map[string]struct{}),
		claims:        make(map[string]struct{}),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// CreateConversation inserts a new conversation.
func (s *InMemoryStore) CreateConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

// GetConversation retrieves a conversation by id, scoped to the owning user.
func (s *InMemoryStore) GetConversation(id, userID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil, nil
	}
	out := c
	return &out, nil
}

// GetConversationByUser retrieves the user's newest conversation, or nil.
func (s *InMemoryStore) GetConversationByUser(userID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *models.Conversation
	for _, c := range s.conversations {
		if c.UserID != userID {
			continue
		}
		c := c
		if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
			newest = &c
		}
	}
	return newest, nil
}

// UpdateConversationStage commits a phase transition as a compare-and-set.
func (s *InMemoryStore) UpdateConversationStage(id, userID string, from, to models.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID || c.Stage != from {
		return ErrStageConflict
	}
	now := time.Now().UTC()
	c.Stage = to
	c.StageEnteredAt = now
	c.UpdatedAt = now
	s.conversations[id] = c
	return nil
}

// TouchConversation updates the title and updated_at.
func (s *InMemoryStore) TouchConversation(id, userID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	s.conversations[id] = c
	return nil
}

// AddMessage appends a message.
func (s *InMemoryStore) AddMessage(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

// GetRecentMessages returns up to limit most recent messages in creation order.
func (s *InMemoryStore) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			all = append(all, m)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// CountUserMessagesSince counts user-authored messages created at or after since.
func (s *InMemoryStore) CountUserMessagesSince(conversationID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.Role == models.RoleUser && !m.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CreateCheckIn inserts a wellness check-in record.
func (s *InMemoryStore) CreateCheckIn(c models.CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkIns = append(s.checkIns, c)
	return nil
}

// GetRecentCheckIns returns up to limit most recent check-ins, newest first.
func (s *InMemoryStore) GetRecentCheckIns(userID string, limit int) ([]models.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.CheckIn
	for _, c := range s.checkIns {
		if c.UserID == userID {
			all = append(all, c)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// GetCheckInDays returns distinct check-in days (UTC midnight), newest first.
func (s *InMemoryStore) GetCheckInDays(userID string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return distinctDays(s.checkIns, func(c models.CheckIn) (string, time.Time) { return c.UserID, c.CreatedAt }, userID), nil
}

// CreateJournalEntry inserts a journal entry record.
func (s *InMemoryStore) CreateJournalEntry(j models.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journals = append(s.journals, j)
	return nil
}

// CountJournalEntries counts the user's journal entries.
func (s *InMemoryStore) CountJournalEntries(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, j := range s.journals {
		if j.UserID == userID {
			count++
		}
	}
	return count, nil
}

// GetJournalDays returns distinct journal days (UTC midnight), newest first.
func (s *InMemoryStore) GetJournalDays(userID string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return distinctDays(s.journals, func(j models.JournalEntry) (string, time.Time) { return j.UserID, j.CreatedAt }, userID), nil
}

// CreateMilestone inserts a milestone, returning false on (user, type) conflict.
func (s *InMemoryStore) CreateMilestone(m models.Milestone) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.UserID + "\x00" + string(m.Type)
	if _, exists := s.milestoneKeys[key]; exists {
		return false, nil
	}
	s.milestoneKeys[key] = struct{}{}
	s.milestones = append(s.milestones, m)
	return true, nil
}

// GetRecentMilestones returns up to limit most recent milestones, newest first.
func (s *InMemoryStore) GetRecentMilestones(userID string, limit int) ([]models.Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Milestone
	for _, m := range s.milestones {
		if m.UserID == userID {
			all = append(all, m)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// GetMilestoneTypes returns the type keys already granted to the user.
func (s *InMemoryStore) GetMilestoneTypes(userID string) ([]models.MilestoneType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []models.MilestoneType
	for _, m := range s.milestones {
		if m.UserID == userID {
			types = append(types, m.Type)
		}
	}
	return types, nil
}

// ClaimExtraction records an extraction claim, returning false when it
// already existed.
func (s *InMemoryStore) ClaimExtraction(messageID, kind string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := messageID + "\x00" + kind
	if _, exists := s.claims[key]; exists {
		return false, nil
	}
	s.claims[key] = struct{}{}
	return true, nil
}

// ListActiveUserIDs returns users with message activity at or after since.
func (s *InMemoryStore) ListActiveUserIDs(since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range s.messages {
		if m.CreatedAt.Before(since) {
			continue
		}
		c, ok := s.conversations[m.ConversationID]
		if !ok {
			continue
		}
		if _, dup := seen[c.UserID]; dup {
			continue
		}
		seen[c.UserID] = struct{}{}
		ids = append(ids, c.UserID)
	}
	return ids, nil
}

// distinctDays extracts the distinct UTC calendar days for one user's
// records, newest first.
func distinctDays[T any](records []T, fields func(T) (string, time.Time), userID string) []time.Time {
	seen := make(map[time.Time]struct{})
	var days []time.Time
	for _, r := range records {
		owner, at := fields(r)
		if owner != userID {
			continue
		}
		day := DayOf(at)
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days
}
