package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("memory: not found")

// Store is the single source of truth for every persisted OMEGA entity.
// Every writer goes through these methods; no other component touches the
// backing storage directly. Implementations: sqlitestore (default),
// pgstore (optional, selected by [memory] backend = "postgres").
type Store interface {
	// --- Facts ---

	GetFact(ctx context.Context, senderID, key string) (string, bool, error)
	SetFact(ctx context.Context, senderID, key, value string) error
	AllFacts(ctx context.Context, senderID string) (map[string]string, error)
	// PurgeFacts deletes every non-system fact for senderID and returns the
	// number of rows removed. System fact keys are never touched.
	PurgeFacts(ctx context.Context, senderID string) (int, error)

	// --- Conversations ---

	// ActiveConversation returns the open conversation for the triple,
	// creating one if none exists.
	ActiveConversation(ctx context.Context, channel, senderID, project string) (*Conversation, error)
	AppendTurn(ctx context.Context, conversationID int64, turn Turn) error
	// CloseConversation closes conversationID atomically, attaching summary
	// (possibly empty). The next AppendTurn-triggering inbound message opens
	// a new conversation for the same triple.
	CloseConversation(ctx context.Context, conversationID int64, summary string) error
	// ConversationsNeedingSummary returns open conversations whose turn
	// count exceeds minTurns, for the summarizer loop.
	ConversationsNeedingSummary(ctx context.Context, minTurns int) ([]*Conversation, error)
	// AllActiveConversations returns every open conversation, used by the
	// summarizer's graceful-shutdown sweep.
	AllActiveConversations(ctx context.Context) ([]*Conversation, error)
	RecentTurns(ctx context.Context, channel, senderID, project string, limit int) ([]Turn, error)
	// ClosedSummaries returns the summary strings of the most recently
	// closed conversations for the triple.
	ClosedSummaries(ctx context.Context, channel, senderID, project string, limit int) ([]string, error)
	// RecallTurns substring-searches closed and active turn content for the
	// sender across all projects, newest first.
	RecallTurns(ctx context.Context, senderID, query string, limit int) ([]Turn, error)

	// --- Scheduled tasks ---

	CreateTask(ctx context.Context, t ScheduledTask) (*ScheduledTask, error)
	// FindExactTask returns a pending task matching the same sender,
	// description, and normalized due_at, for exact-match dedup.
	FindExactTask(ctx context.Context, senderID, description, normalizedDueAt string) (*ScheduledTask, error)
	// PendingTasksForSender returns every pending task for fuzzy-dedup
	// comparison and prompt memory-context injection.
	PendingTasksForSender(ctx context.Context, senderID string) ([]*ScheduledTask, error)
	DueTasks(ctx context.Context, nowUTC string) ([]*ScheduledTask, error)
	GetTaskByIDPrefix(ctx context.Context, senderID, idPrefix string) (*ScheduledTask, error)
	UpdateTask(ctx context.Context, t *ScheduledTask) error
	CancelTask(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error

	// --- Lessons & outcomes ---

	AddLesson(ctx context.Context, l Lesson) error
	LessonsFor(ctx context.Context, senderID, project string) ([]Lesson, error)
	AddOutcome(ctx context.Context, o Outcome) error
	OutcomesFor(ctx context.Context, senderID, project string, limit int) ([]Outcome, error)

	// --- Sessions ---

	GetSession(ctx context.Context, key SessionKey) (string, bool, error)
	SetSession(ctx context.Context, key SessionKey, providerSessionID string) error
	ClearSession(ctx context.Context, key SessionKey) error

	// --- Aliases ---

	ResolveAlias(ctx context.Context, senderID string) (canonical string, ok bool, err error)
	CreateAlias(ctx context.Context, senderID, canonicalSenderID string) error

	Close() error
}
