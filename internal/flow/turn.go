// Package flow provides the per-turn orchestration pipeline.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/genai"
	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
)

// ErrConversationNotFound is returned when a caller references a
// conversation that does not exist or is not owned by the requesting
// user. It maps to an authorization failure at the API boundary.
var ErrConversationNotFound = errors.New("conversation not found for user")

// TurnResult carries the outcome of one processed turn: the streamed
// reply plus the out-of-band metadata delivered once available.
type TurnResult struct {
	ConversationID   string
	Phase            models.Phase
	Reply            string
	SuggestedReplies []models.SuggestedReply
}

// Engine composes the five core components into the per-turn pipeline.
type Engine struct {
	store            store.Store
	genaiClient      genai.ClientInterface
	stageManager     *StageManager
	contextBuilder   *ContextBuilder
	detector         *TransitionDetector
	checkInExtractor *CheckInExtractor
	journalExtractor *JournalExtractor
	achievements     *AchievementEngine
	locks            *conversationLocker
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithExtractionTimeout bounds each detector and extractor service call.
func WithExtractionTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.detector.timeout = d
		e.checkInExtractor.timeout = d
		e.journalExtractor.timeout = d
	}
}

// NewEngine creates an engine with default component wiring.
func NewEngine(st store.Store, genaiClient genai.ClientInterface, opts ...EngineOption) *Engine {
	slog.Debug("Creating flow Engine")
	e := &Engine{
		store:            st,
		genaiClient:      genaiClient,
		stageManager:     NewStageManager(st),
		contextBuilder:   NewContextBuilder(st),
		detector:         NewTransitionDetector(genaiClient),
		checkInExtractor: NewCheckInExtractor(st, genaiClient),
		journalExtractor: NewJournalExtractor(st, genaiClient),
		achievements:     NewAchievementEngine(st),
		locks:            newConversationLocker(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Achievements exposes the achievement engine for out-of-band evaluation,
// such as the nightly sweep.
func (e *Engine) Achievements() *AchievementEngine {
	return e.achievements
}

// ProcessTurn runs one complete turn: persist the user message, stream
// the reply (via onDelta), persist the assistant message, then run
// extraction, transition detection, the phase commit and achievement
// re-evaluation. Only message persistence and reply generation are
// hard-failure paths; the late steps degrade independently.
//
// Turns are serialized per user, which also covers lazy conversation
// creation on the first turn.
func (e *Engine) ProcessTurn(ctx context.Context, userID, conversationID, message string, onDelta func(delta string) error) (*TurnResult, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	if message == "" {
		return nil, models.ErrEmptyMessageContent
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	conv, err := e.resolveConversation(userID, conversationID)
	if err != nil {
		return nil, err
	}
	phase := conv.Stage
	slog.Debug("Engine.ProcessTurn: turn started", "userID", userID, "conversationID", conv.ID, "phase", phase)

	// Persist the incoming message. This is a hard-failure path: without
	// the durable user message there is no turn.
	userMsg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        message,
		CreatedAt:      time.Now().UTC(),
	}
	if err := userMsg.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.AddMessage(userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	e.touchConversation(conv, message)

	// Prompt shaping from a fresh context snapshot, then the streamed
	// reply. A cancellation here leaves the saved user message in place;
	// that at-least-once semantic is deliberate.
	convCtx := e.contextBuilder.Build(ctx, userID, conv.ID, phase)
	directives := PromptDirectivesFor(phase, convCtx)
	reply, err := e.genaiClient.GenerateStream(ctx, chatMessages(directives, convCtx.RecentMessages), onDelta)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}

	assistantMsg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        reply,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AddMessage(assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	// Re-read the now-extended history before any decision.
	convCtx = e.contextBuilder.Build(ctx, userID, conv.ID, phase)

	e.runExtraction(ctx, userID, userMsg.ID, phase, convCtx)

	newPhase := e.decideAndCommit(ctx, conv, phase, convCtx)

	// Achievement re-evaluation never fails the turn; the reply has
	// already been streamed by this point.
	if _, err := e.achievements.CheckAndCreateAutoAchievements(userID); err != nil {
		slog.Warn("Engine.ProcessTurn: achievement evaluation degraded", "error", err, "userID", userID)
	}

	// Rebuild once more so suggestions see freshly granted milestones.
	finalCtx := e.contextBuilder.Build(ctx, userID, conv.ID, newPhase)
	result := &TurnResult{
		ConversationID:   conv.ID,
		Phase:            newPhase,
		Reply:            reply,
		SuggestedReplies: RepliesFor(newPhase, finalCtx),
	}
	slog.Info("Engine.ProcessTurn: turn completed", "userID", userID, "conversationID", conv.ID, "phase", newPhase, "replyLength", len(reply))
	return result, nil
}

// PhaseStatus reports the current phase, conversation id and suggested
// replies for a user with no turn in flight.
func (e *Engine) PhaseStatus(ctx context.Context, userID string) (*models.PhaseStatus, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}

	conv, err := e.store.GetConversationByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		// First contact: the conversation will be created lazily on the
		// first turn at the initial phase.
		return &models.PhaseStatus{
			Phase:            models.PhaseGreeting,
			SuggestedReplies: RepliesFor(models.PhaseGreeting, nil),
		}, nil
	}

	convCtx := e.contextBuilder.Build(ctx, userID, conv.ID, conv.Stage)
	return &models.PhaseStatus{
		ConversationID:   conv.ID,
		Phase:            conv.Stage,
		SuggestedReplies: RepliesFor(conv.Stage, convCtx),
	}, nil
}

// resolveConversation loads the referenced conversation or lazily creates
// one at the initial phase.
func (e *Engine) resolveConversation(userID, conversationID string) (*models.Conversation, error) {
	if conversationID != "" {
		conv, err := e.store.GetConversation(conversationID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		if conv == nil {
			return nil, ErrConversationNotFound
		}
		return conv, nil
	}

	conv, err := e.store.GetConversationByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv != nil {
		return conv, nil
	}

	now := time.Now().UTC()
	created := models.Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		Stage:          models.PhaseGreeting,
		StageEnteredAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := created.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.CreateConversation(created); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Info("Engine.resolveConversation: conversation created", "userID", userID, "conversationID", created.ID)
	return &created, nil
}

// touchConversation refreshes the title and updated_at after message
// activity. Title updates are low risk and degrade silently.
func (e *Engine) touchConversation(conv *models.Conversation, message string) {
	title := conv.Title
	if title == "" {
		title = models.TruncateTitle(message)
	}
	if err := e.store.TouchConversation(conv.ID, conv.UserID, title); err != nil {
		slog.Warn("Engine.touchConversation: degraded", "error", err, "conversationID", conv.ID)
	}
}

// runExtraction attempts domain-record creation for the phases that
// collect structured data. Failures degrade; a missing record never
// blocks the turn.
func (e *Engine) runExtraction(ctx context.Context, userID, userMessageID string, phase models.Phase, convCtx *models.ConversationContext) {
	switch phase {
	case models.PhaseCheckIn:
		if _, err := e.checkInExtractor.Extract(ctx, userID, userMessageID, convCtx.RecentMessages); err != nil {
			slog.Warn("Engine.runExtraction: check-in extraction degraded", "error", err, "userID", userID)
		}
	case models.PhaseJournalPrompt:
		if _, err := e.journalExtractor.Extract(ctx, userID, userMessageID, convCtx.RecentMessages); err != nil {
			slog.Warn("Engine.runExtraction: journal extraction degraded", "error", err, "userID", userID)
		}
	}
}

// decideAndCommit runs the transition detector and, on an approving
// decision, commits the phase exactly once. The transition decision is
// authoritative over extraction outcomes for the same phase.
func (e *Engine) decideAndCommit(ctx context.Context, conv *models.Conversation, phase models.Phase, convCtx *models.ConversationContext) models.Phase {
	turnCount, err := e.store.CountUserMessagesSince(conv.ID, conv.StageEnteredAt)
	if err != nil {
		slog.Warn("Engine.decideAndCommit: turn count unavailable, skipping transition", "error", err, "conversationID", conv.ID)
		return phase
	}

	decision := e.detector.ShouldTransition(ctx, phase, convCtx.RecentMessages, turnCount)
	slog.Debug("Engine.decideAndCommit: decision",
		"conversationID", conv.ID,
		"phase", phase,
		"transition", decision.Transition,
		"serviceFailed", decision.ServiceFailed,
		"reason", decision.Reason)
	if !decision.Transition {
		return phase
	}

	next := NextPhase(phase)
	if err := e.stageManager.CommitTransition(conv.ID, conv.UserID, phase, next); err != nil {
		if errors.Is(err, store.ErrStageConflict) {
			slog.Warn("Engine.decideAndCommit: stage moved concurrently, keeping stored phase", "conversationID", conv.ID)
			return phase
		}
		slog.Error("Engine.decideAndCommit: commit degraded", "error", err, "conversationID", conv.ID)
		return phase
	}
	return next
}

// chatMessages assembles the generation request from the phase directives
// and the message window, oldest first.
func chatMessages(directives PromptDirectives, history []models.Message) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(directives.SystemPrompt()),
	}
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}
	return messages
}
