// Package sqlitestore is the default memory.Store backend: a single SQLite
// file, written through database/sql with the CGO-free modernc.org/sqlite
// driver, matching OMEGA's single-process-per-owner deployment model.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"omega/internal/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS facts (
	sender_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (sender_id, key)
);

CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	project TEXT NOT NULL,
	closed INTEGER NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	closed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conversations_triple ON conversations(channel, sender_id, project, closed);

CREATE TABLE IF NOT EXISTS conversation_turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	ts TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_conv ON conversation_turns(conversation_id);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	channel TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	reply_target TEXT NOT NULL,
	description TEXT NOT NULL,
	due_at TEXT NOT NULL,
	repeat TEXT NOT NULL,
	task_type TEXT NOT NULL,
	project TEXT NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_sender ON tasks(sender_id);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, due_at);

CREATE TABLE IF NOT EXISTS lessons (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	rule TEXT NOT NULL,
	project TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	score INTEGER NOT NULL,
	lesson TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	project TEXT NOT NULL DEFAULT '',
	ts TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	channel TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	project TEXT NOT NULL,
	provider_session_id TEXT NOT NULL,
	PRIMARY KEY (channel, sender_id, project)
);

CREATE TABLE IF NOT EXISTS aliases (
	sender_id TEXT PRIMARY KEY,
	canonical_sender_id TEXT NOT NULL
);
`

// Store is the SQLite-backed memory.Store.
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) a SQLite database file at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single-writer local agent doesn't benefit from a large connection
	// pool, and SQLite serializes writers regardless.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// --- Facts ---

func (s *Store) GetFact(ctx context.Context, senderID, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM facts WHERE sender_id=? AND key=?`, senderID, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetFact(ctx context.Context, senderID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (sender_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(sender_id, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, senderID, key, value, time.Now().UTC())
	return err
}

func (s *Store) AllFacts(ctx context.Context, senderID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM facts WHERE sender_id=?`, senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) PurgeFacts(ctx context.Context, senderID string) (int, error) {
	placeholders := make([]string, 0, len(memory.SystemFactKeys))
	args := []any{senderID}
	for k := range memory.SystemFactKeys {
		placeholders = append(placeholders, "?")
		args = append(args, k)
	}
	q := fmt.Sprintf(`DELETE FROM facts WHERE sender_id=? AND key NOT IN (%s)`, strings.Join(placeholders, ","))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Conversations ---

func (s *Store) ActiveConversation(ctx context.Context, channel, senderID, project string) (*memory.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, summary, created_at FROM conversations
		WHERE channel=? AND sender_id=? AND project=? AND closed=0
		ORDER BY id DESC LIMIT 1`, channel, senderID, project)

	var id int64
	var summary string
	var createdAt time.Time
	err := row.Scan(&id, &summary, &createdAt)
	if err == sql.ErrNoRows {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO conversations (channel, sender_id, project, closed, summary, created_at)
			VALUES (?, ?, ?, 0, '', ?)`, channel, senderID, project, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return &memory.Conversation{ID: newID, Channel: channel, SenderID: senderID, Project: project, CreatedAt: time.Now().UTC()}, nil
	}
	if err != nil {
		return nil, err
	}

	turns, err := s.loadTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	return &memory.Conversation{ID: id, Channel: channel, SenderID: senderID, Project: project, Summary: summary, CreatedAt: createdAt, Turns: turns}, nil
}

func (s *Store) loadTurns(ctx context.Context, conversationID int64) ([]memory.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role, content, ts FROM conversation_turns WHERE conversation_id=? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []memory.Turn
	for rows.Next() {
		var t memory.Turn
		var role string
		if err := rows.Scan(&role, &t.Content, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Role = memory.TurnRole(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *Store) AppendTurn(ctx context.Context, conversationID int64, turn memory.Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (conversation_id, role, content, ts) VALUES (?, ?, ?, ?)`,
		conversationID, string(turn.Role), turn.Content, turn.Timestamp)
	return err
}

func (s *Store) CloseConversation(ctx context.Context, conversationID int64, summary string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET closed=1, summary=?, closed_at=? WHERE id=?`,
		summary, time.Now().UTC(), conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ConversationsNeedingSummary(ctx context.Context, minTurns int) ([]*memory.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.channel, c.sender_id, c.project, c.created_at
		FROM conversations c
		WHERE c.closed = 0 AND (SELECT COUNT(*) FROM conversation_turns t WHERE t.conversation_id = c.id) > ?`, minTurns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanConversations(ctx, rows)
}

func (s *Store) AllActiveConversations(ctx context.Context) ([]*memory.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel, sender_id, project, created_at FROM conversations WHERE closed = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanConversations(ctx, rows)
}

func (s *Store) scanConversations(ctx context.Context, rows *sql.Rows) ([]*memory.Conversation, error) {
	var out []*memory.Conversation
	for rows.Next() {
		c := &memory.Conversation{}
		if err := rows.Scan(&c.ID, &c.Channel, &c.SenderID, &c.Project, &c.CreatedAt); err != nil {
			return nil, err
		}
		turns, err := s.loadTurns(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Turns = turns
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) RecentTurns(ctx context.Context, channel, senderID, project string, limit int) ([]memory.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.role, t.content, t.ts FROM conversation_turns t
		JOIN conversations c ON c.id = t.conversation_id
		WHERE c.channel=? AND c.sender_id=? AND c.project=?
		ORDER BY t.id DESC LIMIT ?`, channel, senderID, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []memory.Turn
	for rows.Next() {
		var t memory.Turn
		var role string
		if err := rows.Scan(&role, &t.Content, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Role = memory.TurnRole(role)
		turns = append(turns, t)
	}
	// reverse to chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, rows.Err()
}

func (s *Store) ClosedSummaries(ctx context.Context, channel, senderID, project string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT summary FROM conversations
		WHERE channel=? AND sender_id=? AND project=? AND closed=1 AND summary != ''
		ORDER BY closed_at DESC LIMIT ?`, channel, senderID, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sm string
		if err := rows.Scan(&sm); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *Store) RecallTurns(ctx context.Context, senderID, query string, limit int) ([]memory.Turn, error) {
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.role, t.content, t.ts FROM conversation_turns t
		JOIN conversations c ON c.id = t.conversation_id
		WHERE c.sender_id=? AND t.content LIKE ?
		ORDER BY t.id DESC LIMIT ?`, senderID, like, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []memory.Turn
	for rows.Next() {
		var t memory.Turn
		var role string
		if err := rows.Scan(&role, &t.Content, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Role = memory.TurnRole(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Scheduled tasks ---

func (s *Store) CreateTask(ctx context.Context, t memory.ScheduledTask) (*memory.ScheduledTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.DueAt = memory.NormalizeDueAt(t.DueAt)
	if t.Status == "" {
		t.Status = memory.StatusPending
	}
	if t.Repeat == "" {
		t.Repeat = memory.RepeatNone
	}
	t.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, channel, sender_id, reply_target, description, due_at, repeat, task_type, project, status, retry_count, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Channel, t.SenderID, t.ReplyTarget, t.Description, t.DueAt, string(t.Repeat), string(t.TaskType), t.Project, string(t.Status), t.RetryCount, t.LastError, t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) scanTask(row interface{ Scan(...any) error }) (*memory.ScheduledTask, error) {
	var t memory.ScheduledTask
	var repeat, taskType, status string
	if err := row.Scan(&t.ID, &t.Channel, &t.SenderID, &t.ReplyTarget, &t.Description, &t.DueAt, &repeat, &taskType, &t.Project, &status, &t.RetryCount, &t.LastError, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Repeat = memory.RepeatKind(repeat)
	t.TaskType = memory.TaskType(taskType)
	t.Status = memory.TaskStatus(status)
	return &t, nil
}

const taskCols = `id, channel, sender_id, reply_target, description, due_at, repeat, task_type, project, status, retry_count, last_error, created_at`

func (s *Store) FindExactTask(ctx context.Context, senderID, description, normalizedDueAt string) (*memory.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks
		WHERE sender_id=? AND description=? AND due_at=? AND status='pending' LIMIT 1`,
		senderID, description, memory.NormalizeDueAt(normalizedDueAt))
	t, err := s.scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *Store) PendingTasksForSender(ctx context.Context, senderID string) ([]*memory.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE sender_id=? AND status='pending' ORDER BY due_at ASC`, senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*memory.ScheduledTask
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DueTasks(ctx context.Context, nowUTC string) ([]*memory.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE status='pending' AND due_at <= ? ORDER BY due_at ASC`, memory.NormalizeDueAt(nowUTC))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*memory.ScheduledTask
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTaskByIDPrefix(ctx context.Context, senderID, idPrefix string) (*memory.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE sender_id=? AND id LIKE ? ORDER BY created_at DESC LIMIT 1`, senderID, idPrefix+"%")
	t, err := s.scanTask(row)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	return t, err
}

func (s *Store) UpdateTask(ctx context.Context, t *memory.ScheduledTask) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET description=?, due_at=?, repeat=?, status=?, retry_count=?, last_error=? WHERE id=?`,
		t.Description, memory.NormalizeDueAt(t.DueAt), string(t.Repeat), string(t.Status), t.RetryCount, t.LastError, t.ID)
	return err
}

func (s *Store) CancelTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status='cancelled' WHERE id=? AND status='pending'`, id)
	return err
}

func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status='delivered' WHERE id=?`, id)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status='failed' WHERE id=?`, id)
	return err
}

// --- Lessons & outcomes ---

func (s *Store) AddLesson(ctx context.Context, l memory.Lesson) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO lessons (sender_id, domain, rule, project) VALUES (?, ?, ?, ?)`,
		l.SenderID, l.Domain, l.Rule, l.Project)
	return err
}

func (s *Store) LessonsFor(ctx context.Context, senderID, project string) ([]memory.Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, domain, rule, project FROM lessons
		WHERE sender_id=? AND (project='' OR project=?)`, senderID, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.Lesson
	for rows.Next() {
		var l memory.Lesson
		if err := rows.Scan(&l.ID, &l.SenderID, &l.Domain, &l.Rule, &l.Project); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) AddOutcome(ctx context.Context, o memory.Outcome) error {
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (sender_id, domain, score, lesson, source, project, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.SenderID, o.Domain, o.Score, o.Lesson, o.Source, o.Project, o.Timestamp)
	return err
}

func (s *Store) OutcomesFor(ctx context.Context, senderID, project string, limit int) ([]memory.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, domain, score, lesson, source, project, ts FROM outcomes
		WHERE sender_id=? AND (project='' OR project=?)
		ORDER BY ts DESC LIMIT ?`, senderID, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.Outcome
	for rows.Next() {
		var o memory.Outcome
		if err := rows.Scan(&o.ID, &o.SenderID, &o.Domain, &o.Score, &o.Lesson, &o.Source, &o.Project, &o.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- Sessions ---

func (s *Store) GetSession(ctx context.Context, key memory.SessionKey) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT provider_session_id FROM sessions WHERE channel=? AND sender_id=? AND project=?`,
		key.Channel, key.SenderID, key.Project).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return id, err == nil, err
}

func (s *Store) SetSession(ctx context.Context, key memory.SessionKey, providerSessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (channel, sender_id, project, provider_session_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(channel, sender_id, project) DO UPDATE SET provider_session_id=excluded.provider_session_id`,
		key.Channel, key.SenderID, key.Project, providerSessionID)
	return err
}

func (s *Store) ClearSession(ctx context.Context, key memory.SessionKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE channel=? AND sender_id=? AND project=?`,
		key.Channel, key.SenderID, key.Project)
	return err
}

// --- Aliases ---

func (s *Store) ResolveAlias(ctx context.Context, senderID string) (string, bool, error) {
	var canonical string
	err := s.db.QueryRowContext(ctx, `SELECT canonical_sender_id FROM aliases WHERE sender_id=?`, senderID).Scan(&canonical)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return canonical, err == nil, err
}

func (s *Store) CreateAlias(ctx context.Context, senderID, canonicalSenderID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aliases (sender_id, canonical_sender_id) VALUES (?, ?)
		ON CONFLICT(sender_id) DO UPDATE SET canonical_sender_id=excluded.canonical_sender_id`,
		senderID, canonicalSenderID)
	return err
}

var _ memory.Store = (*Store)(nil)
