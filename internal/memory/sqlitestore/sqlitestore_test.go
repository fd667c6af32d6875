package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omega/internal/memory"
)

func open(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "omega.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFactRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	_, ok, err := s.GetFact(ctx, "u1", memory.FactPreferredLanguage)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetFact(ctx, "u1", memory.FactPreferredLanguage, "es"))
	v, ok, err := s.GetFact(ctx, "u1", memory.FactPreferredLanguage)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "es", v)
}

func TestPurgeFactsPreservesSystemKeys(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	require.NoError(t, s.SetFact(ctx, "u1", memory.FactPreferredLanguage, "es"))
	require.NoError(t, s.SetFact(ctx, "u1", memory.FactActiveProject, "rockets"))
	require.NoError(t, s.SetFact(ctx, "u1", "favorite_color", "blue"))
	require.NoError(t, s.SetFact(ctx, "u1", "hometown", "lisbon"))

	n, err := s.PurgeFacts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.AllFacts(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	for k := range all {
		assert.True(t, memory.SystemFactKeys[k], "unexpected surviving key %q", k)
	}
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	c, err := s.ActiveConversation(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	require.NotNil(t, c)

	require.NoError(t, s.AppendTurn(ctx, c.ID, memory.Turn{Role: memory.RoleUser, Content: "hi"}))
	require.NoError(t, s.AppendTurn(ctx, c.ID, memory.Turn{Role: memory.RoleAssistant, Content: "hello"}))

	again, err := s.ActiveConversation(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Len(t, again.Turns, 2)

	require.NoError(t, s.CloseConversation(ctx, c.ID, "greeted the user"))

	fresh, err := s.ActiveConversation(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, fresh.ID)

	summaries, err := s.ClosedSummaries(ctx, "telegram", "u1", "", 5)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "greeted the user", summaries[0])
}

func TestRecentTurnsChronologicalOrder(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	c, err := s.ActiveConversation(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(ctx, c.ID, memory.Turn{Role: memory.RoleUser, Content: "one"}))
	require.NoError(t, s.AppendTurn(ctx, c.ID, memory.Turn{Role: memory.RoleAssistant, Content: "two"}))
	require.NoError(t, s.AppendTurn(ctx, c.ID, memory.Turn{Role: memory.RoleUser, Content: "three"}))

	turns, err := s.RecentTurns(ctx, "telegram", "u1", "", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "two", turns[0].Content)
	assert.Equal(t, "three", turns[1].Content)
}

func TestTaskExactDedup(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	created, err := s.CreateTask(ctx, memory.ScheduledTask{
		Channel: "telegram", SenderID: "u1", ReplyTarget: "u1",
		Description: "Call mom", DueAt: "2026-02-21T17:00:00Z", TaskType: memory.TaskReminder,
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-02-21 17:00:00", created.DueAt)

	found, err := s.FindExactTask(ctx, "u1", "Call mom", "2026-02-21T17:00:00Z")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	miss, err := s.FindExactTask(ctx, "u1", "Call mom", "2026-02-22T17:00:00Z")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestDueTasksAndLifecycle(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	t1, err := s.CreateTask(ctx, memory.ScheduledTask{
		SenderID: "u1", Description: "past due", DueAt: "2020-01-01T00:00:00Z", TaskType: memory.TaskReminder,
	})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, memory.ScheduledTask{
		SenderID: "u1", Description: "far future", DueAt: "2099-01-01T00:00:00Z", TaskType: memory.TaskReminder,
	})
	require.NoError(t, err)

	due, err := s.DueTasks(ctx, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, t1.ID, due[0].ID)

	require.NoError(t, s.MarkDelivered(ctx, t1.ID))
	due, err = s.DueTasks(ctx, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	assert.Len(t, due, 0)
}

func TestGetTaskByIDPrefix(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	created, err := s.CreateTask(ctx, memory.ScheduledTask{
		SenderID: "u1", Description: "water plants", DueAt: "2026-08-01T08:00:00Z", TaskType: memory.TaskReminder,
	})
	require.NoError(t, err)

	got, err := s.GetTaskByIDPrefix(ctx, "u1", created.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = s.GetTaskByIDPrefix(ctx, "u1", "zzzzzzzz")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestSessionBindingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	key := memory.SessionKey{Channel: "telegram", SenderID: "u1", Project: "rockets"}

	_, ok, err := s.GetSession(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSession(ctx, key, "sess-abc"))
	id, ok, err := s.GetSession(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sess-abc", id)

	require.NoError(t, s.ClearSession(ctx, key))
	_, ok, err = s.GetSession(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAliasResolution(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	_, ok, err := s.ResolveAlias(ctx, "device-2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CreateAlias(ctx, "device-2", "u1"))
	canonical, ok, err := s.ResolveAlias(ctx, "device-2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", canonical)
}

func TestLessonsScopedByProject(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	require.NoError(t, s.AddLesson(ctx, memory.Lesson{SenderID: "u1", Domain: "scheduling", Rule: "never before 8am"}))
	require.NoError(t, s.AddLesson(ctx, memory.Lesson{SenderID: "u1", Domain: "deploys", Rule: "always canary first", Project: "rockets"}))

	global, err := s.LessonsFor(ctx, "u1", "other-project")
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, "scheduling", global[0].Domain)

	scoped, err := s.LessonsFor(ctx, "u1", "rockets")
	require.NoError(t, err)
	assert.Len(t, scoped, 2)
}
