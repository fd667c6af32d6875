package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omega/internal/channel"
	"omega/internal/markerapply"
	"omega/internal/memory"
	"omega/internal/provider"
)

type fakeClient struct {
	text string
	err  error
}

func (c fakeClient) Call(ctx context.Context, req provider.Context) (provider.Result, error) {
	return provider.Result{Text: c.text}, c.err
}
func (c fakeClient) IsTransientError(err error) bool { return false }

type fakeChannel struct{ sent []channel.Outgoing }

func (f *fakeChannel) Start(ctx context.Context, handler func(channel.Incoming)) error { return nil }
func (f *fakeChannel) Send(target string, msg channel.Outgoing) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeChannel) SendTyping(target string) error                               { return nil }
func (f *fakeChannel) SendPhoto(target string, data []byte, filename string) error   { return nil }
func (f *fakeChannel) Stop() error                                                   { return nil }

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
func (s *fakeStore) MarkDelivered(ctx context.Context, id string) error          { return nil }
func (s *fakeStore) MarkFailed(ctx context.Context, id string) error             { return nil }
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

func writeChecklistFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "HEARTBEAT.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTickDeliversConcatenatedGroupReplies(t *testing.T) {
	path := writeChecklistFile(t, "## Chores\nTake out trash\nWater plants\n")
	ch := &fakeChannel{}
	reg := channel.NewRegistry()
	reg.Register("telegram", ch)
	store := newFakeStore()

	deps := Deps{
		ChecklistPath: path,
		Store:         store,
		OwnerSenderID: "owner",
		ExecClient:    fakeClient{text: "All done.\nHEARTBEAT_ADD: Buy more trash bags"},
		MarkerDeps:    markerapply.Deps{Store: store, Checklist: Checklist{Path: path}},
		Channels:      reg,
		ChannelName:   "telegram",
		ReplyTarget:   "owner",
	}

	err := Tick(context.Background(), deps)
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)
	assert.Contains(t, ch.sent[0].Text, "All done.")
}

func TestTickDropsHeartbeatOKGroup(t *testing.T) {
	path := writeChecklistFile(t, "## Chores\nTake out trash\n")
	ch := &fakeChannel{}
	reg := channel.NewRegistry()
	reg.Register("telegram", ch)
	store := newFakeStore()

	deps := Deps{
		ChecklistPath: path,
		Store:         store,
		OwnerSenderID: "owner",
		ExecClient:    fakeClient{text: "HEARTBEAT_OK"},
		MarkerDeps:    markerapply.Deps{Store: store},
		Channels:      reg,
		ChannelName:   "telegram",
		ReplyTarget:   "owner",
	}

	err := Tick(context.Background(), deps)
	require.NoError(t, err)
	assert.Empty(t, ch.sent)
}

func TestTickNoSectionsIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HEARTBEAT.md")
	ch := &fakeChannel{}
	reg := channel.NewRegistry()
	reg.Register("telegram", ch)
	store := newFakeStore()

	deps := Deps{
		ChecklistPath: path,
		Store:         store,
		Channels:      reg,
		ChannelName:   "telegram",
		MarkerDeps:    markerapply.Deps{Store: store},
	}
	err := Tick(context.Background(), deps)
	require.NoError(t, err)
	assert.Empty(t, ch.sent)
}
