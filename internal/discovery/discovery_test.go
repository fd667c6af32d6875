package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omega/internal/channel"
	"omega/internal/memory"
	"omega/internal/provider"
)

type fakeStore struct {
	facts map[string]map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{facts: map[string]map[string]string{}} }

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
func (s *fakeStore) PurgeFacts(ctx context.Context, senderID string) (int, error) { return 0, nil }
func (s *fakeStore) ActiveConversation(ctx context.Context, channel, senderID, project string) (*memory.Conversation, error) {
	return &memory.Conversation{}, nil
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
	return &t, nil
}
func (s *fakeStore) FindExactTask(ctx context.Context, senderID, description, normalizedDueAt string) (*memory.ScheduledTask, error) {
	return nil, nil
}
func (s *fakeStore) PendingTasksForSender(ctx context.Context, senderID string) ([]*memory.ScheduledTask, error) {
	return nil, nil
}
func (s *fakeStore) DueTasks(ctx context.Context, nowUTC string) ([]*memory.ScheduledTask, error) {
	return nil, nil
}
func (s *fakeStore) GetTaskByIDPrefix(ctx context.Context, senderID, idPrefix string) (*memory.ScheduledTask, error) {
	return nil, memory.ErrNotFound
}
func (s *fakeStore) UpdateTask(ctx context.Context, t *memory.ScheduledTask) error { return nil }
func (s *fakeStore) CancelTask(ctx context.Context, id string) error              { return nil }
func (s *fakeStore) MarkDelivered(ctx context.Context, id string) error           { return nil }
func (s *fakeStore) MarkFailed(ctx context.Context, id string) error              { return nil }
func (s *fakeStore) AddLesson(ctx context.Context, l memory.Lesson) error         { return nil }
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

type scriptedClient struct {
	replies []string
	i       int
}

func (c *scriptedClient) Call(ctx context.Context, req provider.Context) (provider.Result, error) {
	idx := c.i
	if idx >= len(c.replies) {
		idx = len(c.replies) - 1
	}
	c.i++
	return provider.Result{Text: c.replies[idx]}, nil
}
func (c *scriptedClient) IsTransientError(err error) bool { return false }

type fakeLocalizer struct{}

func (fakeLocalizer) ConfirmBuild(brief string) string { return "Shall I build: " + brief + "?" }
func (fakeLocalizer) DiscoveryCancelled() string       { return "Discovery cancelled." }

type fakeChannel struct{ sent []channel.Outgoing }

func (f *fakeChannel) Start(ctx context.Context, handler func(channel.Incoming)) error { return nil }
func (f *fakeChannel) Send(target string, msg channel.Outgoing) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeChannel) SendTyping(target string) error                             { return nil }
func (f *fakeChannel) SendPhoto(target string, data []byte, filename string) error { return nil }
func (f *fakeChannel) Stop() error                                                 { return nil }

func baseDeps(t *testing.T, client *scriptedClient, store *fakeStore, ch *fakeChannel) Deps {
	reg := channel.NewRegistry()
	reg.Register("telegram", ch)
	return Deps{
		Client:      client,
		Model:       "fast-model",
		AgentName:   "discovery",
		DataDir:     t.TempDir(),
		Store:       store,
		Channels:    reg,
		ChannelName: "telegram",
		Localizer:   fakeLocalizer{},
		Now:         func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) },
	}
}

func TestBeginImmediateCompleteStoresPendingBuildRequest(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{}
	client := &scriptedClient{replies: []string{"DISCOVERY_COMPLETE\nIdea Brief: a recipe app with photo uploads"}}
	deps := baseDeps(t, client, store, ch)

	res, err := Begin(context.Background(), deps, "u1", "u1", "build me a recipe app")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Contains(t, res.Brief, "recipe app")
	v, ok, _ := store.GetFact(context.Background(), "u1", memory.FactPendingBuildReq)
	assert.True(t, ok)
	assert.Contains(t, v, "recipe app")
	require.Len(t, ch.sent, 1)
	assert.Contains(t, ch.sent[0].Text, "Shall I build")
}

func TestBeginQuestionsWritesStateFileAndPendingFact(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{}
	client := &scriptedClient{replies: []string{"DISCOVERY_QUESTIONS\nWhat cuisines? How many users?"}}
	deps := baseDeps(t, client, store, ch)

	res, err := Begin(context.Background(), deps, "u1", "u1", "build me a recipe app")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Contains(t, res.Questions, "cuisines")

	v, ok, _ := store.GetFact(context.Background(), "u1", memory.FactPendingDiscovery)
	require.True(t, ok)
	assert.Contains(t, v, "u1")

	raw, err := os.ReadFile(filepath.Join(deps.DataDir, "discovery", "u1.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ROUND: 1")
}

func TestContinueAppendsAnswerAndCompletesOnRound2(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{}
	beginClient := &scriptedClient{replies: []string{"DISCOVERY_QUESTIONS\nWhat cuisines?"}}
	deps := baseDeps(t, beginClient, store, ch)
	_, err := Begin(context.Background(), deps, "u1", "u1", "build me a recipe app")
	require.NoError(t, err)

	deps.Client = &scriptedClient{replies: []string{"DISCOVERY_COMPLETE\nIdea Brief: Italian recipes for 2 users"}}
	res, err := Continue(context.Background(), deps, "u1", "u1", "Italian food, for 2 users")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Contains(t, res.Brief, "Italian")

	v, _, _ := store.GetFact(context.Background(), "u1", memory.FactPendingDiscovery)
	assert.Empty(t, v)
	_, err = os.Stat(filepath.Join(deps.DataDir, "discovery", "u1.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestContinueForcesCompletionOnFinalRound(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{}
	deps := baseDeps(t, &scriptedClient{replies: []string{"DISCOVERY_QUESTIONS\nWhat cuisines?"}}, store, ch)
	_, err := Begin(context.Background(), deps, "u1", "u1", "build me a recipe app")
	require.NoError(t, err)

	// Round 2: still asks questions.
	deps.Client = &scriptedClient{replies: []string{"DISCOVERY_QUESTIONS\nHow many users exactly?"}}
	res, err := Continue(context.Background(), deps, "u1", "u1", "Italian")
	require.NoError(t, err)
	require.False(t, res.Completed)

	// Round 3: agent still emits DISCOVERY_QUESTIONS, but the engine must
	// force completion regardless.
	deps.Client = &scriptedClient{replies: []string{"DISCOVERY_QUESTIONS\nstill unclear"}}
	res, err = Continue(context.Background(), deps, "u1", "u1", "around 2 users")
	require.NoError(t, err)
	assert.True(t, res.Completed)
}

func TestCancelClearsFactAndFile(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{}
	deps := baseDeps(t, &scriptedClient{replies: []string{"DISCOVERY_QUESTIONS\nWhat cuisines?"}}, store, ch)
	_, err := Begin(context.Background(), deps, "u1", "u1", "build me a recipe app")
	require.NoError(t, err)

	require.NoError(t, Cancel(context.Background(), deps, "u1"))
	v, _, _ := store.GetFact(context.Background(), "u1", memory.FactPendingDiscovery)
	assert.Empty(t, v)
	_, err = os.Stat(filepath.Join(deps.DataDir, "discovery", "u1.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestExpiredDetectsStalePending(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	fresh := FormatPending(now.Add(-5*time.Minute), "u1")
	stale := FormatPending(now.Add(-40*time.Minute), "u1")
	assert.False(t, Expired(fresh, now, DefaultTTL))
	assert.True(t, Expired(stale, now, DefaultTTL))
}
