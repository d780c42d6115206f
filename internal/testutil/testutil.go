// Package testutil provides common test utilities and helpers for
// RecoveryCompanion tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/genai"
	"github.com/BTreeMap/RecoveryCompanion/internal/models"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
)

// FakeGenAIClient implements genai.ClientInterface with canned responses.
// Structured payloads are keyed by schema name, so one fake can serve the
// detector and both extractors in the same test.
type FakeGenAIClient struct {
	Reply              string
	StreamChunks       []string
	StructuredPayloads map[string]json.RawMessage
	Err                error
	ExtractCalls       []string
}

var _ genai.ClientInterface = (*FakeGenAIClient)(nil)

// GenerateWithMessages returns the canned reply.
func (f *FakeGenAIClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Reply, nil
}

// GenerateStream emits the configured chunks through onDelta, falling
// back to the whole reply as a single chunk.
func (f *FakeGenAIClient) GenerateStream(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onDelta func(delta string) error) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	chunks := f.StreamChunks
	if len(chunks) == 0 {
		chunks = []string{f.Reply}
	}
	var b strings.Builder
	for _, chunk := range chunks {
		if onDelta != nil {
			if err := onDelta(chunk); err != nil {
				return "", err
			}
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// ExtractStructured returns the canned payload registered for schemaName.
func (f *FakeGenAIClient) ExtractStructured(ctx context.Context, systemPrompt, userPrompt, schemaName string, schema map[string]any) (json.RawMessage, error) {
	f.ExtractCalls = append(f.ExtractCalls, schemaName)
	if f.Err != nil {
		return nil, f.Err
	}
	payload, ok := f.StructuredPayloads[schemaName]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return payload, nil
}

// SeedConversation creates a conversation at the given phase with its
// stage clock started at enteredAt.
func SeedConversation(t *testing.T, st store.Store, userID string, phase models.Phase, enteredAt time.Time) models.Conversation {
	t.Helper()
	conv := models.Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		Stage:          phase,
		StageEnteredAt: enteredAt,
		CreatedAt:      enteredAt,
		UpdatedAt:      enteredAt,
	}
	if err := st.CreateConversation(conv); err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
	return conv
}

// SeedMessage appends a message with the given role and timestamp.
func SeedMessage(t *testing.T, st store.Store, conversationID string, role models.MessageRole, content string, at time.Time) models.Message {
	t.Helper()
	m := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      at,
	}
	if err := st.AddMessage(m); err != nil {
		t.Fatalf("failed to seed message: %v", err)
	}
	return m
}

// SeedCheckInOn creates a neutral check-in dated to the given day.
func SeedCheckInOn(t *testing.T, st store.Store, userID string, day time.Time) models.CheckIn {
	t.Helper()
	c := models.CheckIn{
		ID:           uuid.NewString(),
		UserID:       userID,
		Mood:         "okay",
		SleepQuality: 3,
		EnergyLevel:  3,
		Intentions:   models.DefaultIntentions,
		CreatedAt:    day,
	}
	if err := st.CreateCheckIn(c); err != nil {
		t.Fatalf("failed to seed check-in: %v", err)
	}
	return c
}

// SeedJournalEntry creates a journal entry dated to the given day.
func SeedJournalEntry(t *testing.T, st store.Store, userID string, day time.Time) models.JournalEntry {
	t.Helper()
	content := "Today I spent some time thinking about what has been helping me stay grounded lately."
	j := models.JournalEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     "Staying grounded",
		Content:   content,
		WordCount: models.CountWords(content),
		CreatedAt: day,
		UpdatedAt: day,
	}
	if err := st.CreateJournalEntry(j); err != nil {
		t.Fatalf("failed to seed journal entry: %v", err)
	}
	return j
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// Day returns a UTC midnight timestamp offset days back from today.
func Day(daysAgo int) time.Time {
	return store.DayOf(time.Now().UTC()).AddDate(0, 0, -daysAgo)
}
