package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omega/internal/command"
	"omega/internal/heartbeat"
	"omega/internal/markerapply"
	"omega/internal/memory"
)

// fakeStore is a minimal in-memory memory.Store, matching this module's
// convention (see internal/markerapply's own fakeStore) of testing command
// handlers against the Store interface rather than a concrete backend.
type fakeStore struct {
	facts map[string]map[string]string
	tasks map[string]*memory.ScheduledTask
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		facts: map[string]map[string]string{},
		tasks: map[string]*memory.ScheduledTask{},
	}
}

func (s *fakeStore) GetFact(ctx context.Context, senderID, key string) (string, bool, error) {
	v, ok := s.facts[senderID][key]
	return v, ok, nil
}
func (s *fakeStore) SetFact(ctx context.Context, senderID, key, value string) error {
	if s.facts[senderID] == nil {
		s.facts[senderID] = map[string]string{}
	}
	s.facts[senderID][key] = value
	return nil
}
func (s *fakeStore) AllFacts(ctx context.Context, senderID string) (map[string]string, error) {
	return s.facts[senderID], nil
}
func (s *fakeStore) PurgeFacts(ctx context.Context, senderID string) (int, error) {
	n := 0
	for k := range s.facts[senderID] {
		if !memory.SystemFactKeys[k] {
			delete(s.facts[senderID], k)
			n++
		}
	}
	return n, nil
}
func (s *fakeStore) ActiveConversation(ctx context.Context, channel, senderID, project string) (*memory.Conversation, error) {
	return &memory.Conversation{ID: 1, Channel: channel, SenderID: senderID, Project: project}, nil
}
func (s *fakeStore) AppendTurn(ctx context.Context, conversationID int64, turn memory.Turn) error {
	return nil
}
func (s *fakeStore) CloseConversation(ctx context.Context, conversationID int64, summary string) error {
	return nil
}
func (s *fakeStore) ConversationsNeedingSummary(ctx context.Context, minTurns int) ([]*memory.Conversation, error) {
	return nil, nil
}
func (s *fakeStore) AllActiveConversations(ctx context.Context) ([]*memory.Conversation, error) {
	return nil, nil
}
func (s *fakeStore) RecentTurns(ctx context.Context, channel, senderID, project string, limit int) ([]memory.Turn, error) {
	return nil, nil
}
func (s *fakeStore) ClosedSummaries(ctx context.Context, channel, senderID, project string, limit int) ([]string, error) {
	return nil, nil
}
func (s *fakeStore) RecallTurns(ctx context.Context, senderID, query string, limit int) ([]memory.Turn, error) {
	return nil, nil
}
func (s *fakeStore) CreateTask(ctx context.Context, t memory.ScheduledTask) (*memory.ScheduledTask, error) {
	s.tasks[t.ID] = &t
	return &t, nil
}
func (s *fakeStore) FindExactTask(ctx context.Context, senderID, description, normalizedDueAt string) (*memory.ScheduledTask, error) {
	return nil, memory.ErrNotFound
}
func (s *fakeStore) PendingTasksForSender(ctx context.Context, senderID string) ([]*memory.ScheduledTask, error) {
	var out []*memory.ScheduledTask
	for _, t := range s.tasks {
		if t.SenderID == senderID && t.Status == memory.StatusPending {
			out = append(out, t)
		}
	}
	return out, nil
}
func (s *fakeStore) DueTasks(ctx context.Context, nowUTC string) ([]*memory.ScheduledTask, error) {
	return nil, nil
}
func (s *fakeStore) GetTaskByIDPrefix(ctx context.Context, senderID, idPrefix string) (*memory.ScheduledTask, error) {
	for _, t := range s.tasks {
		if t.SenderID == senderID && len(t.ID) >= len(idPrefix) && t.ID[:len(idPrefix)] == idPrefix {
			return t, nil
		}
	}
	return nil, memory.ErrNotFound
}
func (s *fakeStore) UpdateTask(ctx context.Context, t *memory.ScheduledTask) error {
	s.tasks[t.ID] = t
	return nil
}
func (s *fakeStore) CancelTask(ctx context.Context, id string) error {
	if t, ok := s.tasks[id]; ok {
		t.Status = memory.StatusCancelled
	}
	return nil
}
func (s *fakeStore) MarkDelivered(ctx context.Context, id string) error { return nil }
func (s *fakeStore) MarkFailed(ctx context.Context, id string) error    { return nil }
func (s *fakeStore) AddLesson(ctx context.Context, l memory.Lesson) error {
	return nil
}
func (s *fakeStore) LessonsFor(ctx context.Context, senderID, project string) ([]memory.Lesson, error) {
	return nil, nil
}
func (s *fakeStore) AddOutcome(ctx context.Context, o memory.Outcome) error { return nil }
func (s *fakeStore) OutcomesFor(ctx context.Context, senderID, project string, limit int) ([]memory.Outcome, error) {
	return nil, nil
}
func (s *fakeStore) GetSession(ctx context.Context, key memory.SessionKey) (string, bool, error) {
	return "", false, nil
}
func (s *fakeStore) SetSession(ctx context.Context, key memory.SessionKey, providerSessionID string) error {
	return nil
}
func (s *fakeStore) ClearSession(ctx context.Context, key memory.SessionKey) error { return nil }
func (s *fakeStore) ResolveAlias(ctx context.Context, senderID string) (string, bool, error) {
	return "", false, nil
}
func (s *fakeStore) CreateAlias(ctx context.Context, senderID, canonicalSenderID string) error {
	return nil
}
func (s *fakeStore) Close() error { return nil }

func testDeps(store memory.Store) commandDeps {
	return commandDeps{
		store:    store,
		interval: heartbeat.NewIntervalSignal(30, nil),
		markerDeps: markerapply.Deps{
			Skills: nil,
		},
	}
}

func TestStatusHandlerReportsProjectAndTaskCount(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	require.NoError(t, store.SetFact(ctx, "u1", memory.FactActiveProject, "rocket"))
	_, err := store.CreateTask(ctx, memory.ScheduledTask{ID: "abc123", SenderID: "u1", Status: memory.StatusPending})
	require.NoError(t, err)

	out, err := statusHandler(testDeps(store))(ctx, "u1", "")
	require.NoError(t, err)
	assert.Contains(t, out, "rocket")
	assert.Contains(t, out, "Pending tasks: 1")
	assert.Contains(t, out, "30 min")
}

func TestForgetHandlerRequiresArg(t *testing.T) {
	deps := testDeps(newFakeStore())
	out, err := forgetHandler(deps)(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "Usage: /forget <fact key>", out)
}

func TestForgetHandlerClearsFact(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	require.NoError(t, store.SetFact(ctx, "u1", "favorite_color", "blue"))

	out, err := forgetHandler(testDeps(store))(ctx, "u1", "favorite_color")
	require.NoError(t, err)
	assert.Equal(t, "Forgotten: favorite_color", out)
	v, ok, err := store.GetFact(ctx, "u1", "favorite_color")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestCancelHandlerUnknownTask(t *testing.T) {
	deps := testDeps(newFakeStore())
	out, err := cancelHandler(deps)(context.Background(), "u1", "zzz")
	require.NoError(t, err)
	assert.Equal(t, "No task matching that id.", out)
}

func TestCancelHandlerCancelsByPrefix(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	_, err := store.CreateTask(ctx, memory.ScheduledTask{ID: "abcdef01", SenderID: "u1", Description: "water plants", Status: memory.StatusPending})
	require.NoError(t, err)

	out, err := cancelHandler(testDeps(store))(ctx, "u1", "abcdef")
	require.NoError(t, err)
	assert.Equal(t, "Cancelled: water plants", out)
	assert.Equal(t, memory.StatusCancelled, store.tasks["abcdef01"].Status)
}

func TestHeartbeatHandlerShowsAndSetsInterval(t *testing.T) {
	deps := testDeps(newFakeStore())
	ctx := context.Background()

	out, err := heartbeatHandler(deps)(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "Heartbeat interval: 30 minutes.", out)

	out, err = heartbeatHandler(deps)(ctx, "u1", "45")
	require.NoError(t, err)
	assert.Equal(t, "Heartbeat interval set to 45 minutes.", out)
	assert.Equal(t, 45, deps.interval.Minutes())
}

func TestHeartbeatHandlerRejectsOutOfRange(t *testing.T) {
	deps := testDeps(newFakeStore())
	out, err := heartbeatHandler(deps)(context.Background(), "u1", "0")
	require.NoError(t, err)
	assert.Equal(t, "Usage: /heartbeat <minutes 1-1440>", out)

	out, err = heartbeatHandler(deps)(context.Background(), "u1", "not-a-number")
	require.NoError(t, err)
	assert.Equal(t, "Usage: /heartbeat <minutes 1-1440>", out)
}

func TestProjectHandlerSwitchesActiveProject(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	out, err := projectHandler(testDeps(store))(ctx, "u1", "garden")
	require.NoError(t, err)
	assert.Equal(t, "Switched to project: garden", out)

	v, ok, err := store.GetFact(ctx, "u1", memory.FactActiveProject)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "garden", v)
}

func TestWhatsappHandlerReturnsSentinel(t *testing.T) {
	deps := testDeps(newFakeStore())
	out, err := whatsappHandler(deps)(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, command.WhatsAppQRSentinel, out)
}
