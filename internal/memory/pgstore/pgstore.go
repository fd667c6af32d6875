// Package pgstore is the optional Postgres-backed memory.Store, selected by
// "[memory] backend = \"postgres\"". It carries the same schema as
// sqlitestore but behind pgx, with versioned migrations instead of an
// ORM codegen step.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"omega/internal/memory"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the Postgres-backed memory.Store.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and runs any pending migrations before returning.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	target, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", target)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// --- Facts ---

func (s *Store) GetFact(ctx context.Context, senderID, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM facts WHERE sender_id=$1 AND key=$2`, senderID, key).Scan(&v)
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
		INSERT INTO facts (sender_id, key, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (sender_id, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, senderID, key, value, time.Now().UTC())
	return err
}

func (s *Store) AllFacts(ctx context.Context, senderID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM facts WHERE sender_id=$1`, senderID)
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
	idx := 2
	for k := range memory.SystemFactKeys {
		placeholders = append(placeholders, fmt.Sprintf("$%d", idx))
		args = append(args, k)
		idx++
	}
	q := fmt.Sprintf(`DELETE FROM facts WHERE sender_id=$1 AND key NOT IN (%s)`, strings.Join(placeholders, ","))
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
		WHERE channel=$1 AND sender_id=$2 AND project=$3 AND closed=FALSE
		ORDER BY id DESC LIMIT 1`, channel, senderID, project)

	var id int64
	var summary string
	var createdAt time.Time
	err := row.Scan(&id, &summary, &createdAt)
	if err == sql.ErrNoRows {
		var newID int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO conversations (channel, sender_id, project, closed, summary, created_at)
			VALUES ($1, $2, $3, FALSE, '', $4) RETURNING id`, channel, senderID, project, time.Now().UTC()).Scan(&newID)
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
	rows, err := s.db.QueryContext(ctx, `SELECT role, content, ts FROM conversation_turns WHERE conversation_id=$1 ORDER BY id ASC`, conversationID)
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
		INSERT INTO conversation_turns (conversation_id, role, content, ts) VALUES ($1, $2, $3, $4)`,
		conversationID, string(turn.Role), turn.Content, turn.Timestamp)
	return err
}

func (s *Store) CloseConversation(ctx context.Context, conversationID int64, summary string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET closed=TRUE, summary=$1, closed_at=$2 WHERE id=$3`,
		summary, time.Now().UTC(), conversationID)
	return err
}

func (s *Store) ConversationsNeedingSummary(ctx context.Context, minTurns int) ([]*memory.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.channel, c.sender_id, c.project, c.created_at
		FROM conversations c
		WHERE c.closed = FALSE AND (SELECT COUNT(*) FROM conversation_turns t WHERE t.conversation_id = c.id) > $1`, minTurns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanConversations(ctx, rows)
}

func (s *Store) AllActiveConversations(ctx context.Context) ([]*memory.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel, sender_id, project, created_at FROM conversations WHERE closed = FALSE`)
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
		WHERE c.channel=$1 AND c.sender_id=$2 AND c.project=$3
		ORDER BY t.id DESC LIMIT $4`, channel, senderID, project, limit)
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
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, rows.Err()
}

func (s *Store) ClosedSummaries(ctx context.Context, channel, senderID, project string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT summary FROM conversations
		WHERE channel=$1 AND sender_id=$2 AND project=$3 AND closed=TRUE AND summary != ''
		ORDER BY closed_at DESC LIMIT $4`, channel, senderID, project, limit)
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
		WHERE c.sender_id=$1 AND t.content ILIKE $2
		ORDER BY t.id DESC LIMIT $3`, senderID, like, limit)
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

const taskCols = `id, channel, sender_id, reply_target, description, due_at, repeat, task_type, project, status, retry_count, last_error, created_at`

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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.Channel, t.SenderID, t.ReplyTarget, t.Description, t.DueAt, string(t.Repeat), string(t.TaskType), t.Project, string(t.Status), t.RetryCount, t.LastError, t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTask(row interface{ Scan(...any) error }) (*memory.ScheduledTask, error) {
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

func (s *Store) FindExactTask(ctx context.Context, senderID, description, normalizedDueAt string) (*memory.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks
		WHERE sender_id=$1 AND description=$2 AND due_at=$3 AND status='pending' LIMIT 1`,
		senderID, description, memory.NormalizeDueAt(normalizedDueAt))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *Store) PendingTasksForSender(ctx context.Context, senderID string) ([]*memory.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE sender_id=$1 AND status='pending' ORDER BY due_at ASC`, senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*memory.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DueTasks(ctx context.Context, nowUTC string) ([]*memory.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE status='pending' AND due_at <= $1 ORDER BY due_at ASC`, memory.NormalizeDueAt(nowUTC))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*memory.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTaskByIDPrefix(ctx context.Context, senderID, idPrefix string) (*memory.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE sender_id=$1 AND id LIKE $2 ORDER BY created_at DESC LIMIT 1`, senderID, idPrefix+"%")
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	return t, err
}

func (s *Store) UpdateTask(ctx context.Context, t *memory.ScheduledTask) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET description=$1, due_at=$2, repeat=$3, status=$4, retry_count=$5, last_error=$6 WHERE id=$7`,
		t.Description, memory.NormalizeDueAt(t.DueAt), string(t.Repeat), string(t.Status), t.RetryCount, t.LastError, t.ID)
	return err
}

func (s *Store) CancelTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status='cancelled' WHERE id=$1 AND status='pending'`, id)
	return err
}

func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status='delivered' WHERE id=$1`, id)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status='failed' WHERE id=$1`, id)
	return err
}

// --- Lessons & outcomes ---

func (s *Store) AddLesson(ctx context.Context, l memory.Lesson) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO lessons (sender_id, domain, rule, project) VALUES ($1, $2, $3, $4)`,
		l.SenderID, l.Domain, l.Rule, l.Project)
	return err
}

func (s *Store) LessonsFor(ctx context.Context, senderID, project string) ([]memory.Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, domain, rule, project FROM lessons
		WHERE sender_id=$1 AND (project='' OR project=$2)`, senderID, project)
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
		INSERT INTO outcomes (sender_id, domain, score, lesson, source, project, ts) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.SenderID, o.Domain, o.Score, o.Lesson, o.Source, o.Project, o.Timestamp)
	return err
}

func (s *Store) OutcomesFor(ctx context.Context, senderID, project string, limit int) ([]memory.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, domain, score, lesson, source, project, ts FROM outcomes
		WHERE sender_id=$1 AND (project='' OR project=$2)
		ORDER BY ts DESC LIMIT $3`, senderID, project, limit)
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
	err := s.db.QueryRowContext(ctx, `SELECT provider_session_id FROM sessions WHERE channel=$1 AND sender_id=$2 AND project=$3`,
		key.Channel, key.SenderID, key.Project).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return id, err == nil, err
}

func (s *Store) SetSession(ctx context.Context, key memory.SessionKey, providerSessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (channel, sender_id, project, provider_session_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel, sender_id, project) DO UPDATE SET provider_session_id=excluded.provider_session_id`,
		key.Channel, key.SenderID, key.Project, providerSessionID)
	return err
}

func (s *Store) ClearSession(ctx context.Context, key memory.SessionKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE channel=$1 AND sender_id=$2 AND project=$3`,
		key.Channel, key.SenderID, key.Project)
	return err
}

// --- Aliases ---

func (s *Store) ResolveAlias(ctx context.Context, senderID string) (string, bool, error) {
	var canonical string
	err := s.db.QueryRowContext(ctx, `SELECT canonical_sender_id FROM aliases WHERE sender_id=$1`, senderID).Scan(&canonical)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return canonical, err == nil, err
}

func (s *Store) CreateAlias(ctx context.Context, senderID, canonicalSenderID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aliases (sender_id, canonical_sender_id) VALUES ($1, $2)
		ON CONFLICT (sender_id) DO UPDATE SET canonical_sender_id=excluded.canonical_sender_id`,
		senderID, canonicalSenderID)
	return err
}

var _ memory.Store = (*Store)(nil)
