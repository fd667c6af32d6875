// Package memory defines the persistent entities OMEGA's gateway reasons
// over — facts, conversations, scheduled tasks, lessons, outcomes, session
// bindings, and sender aliases — and the Store interface every backend
// (sqlitestore, pgstore) implements identically.
package memory

import "time"

// System fact keys are reserved: only internal logic may write them, and
// a PURGE_FACTS marker must never delete them.
const (
	FactWelcomed          = "welcomed"
	FactPreferredLanguage = "preferred_language"
	FactActiveProject     = "active_project"
	FactPersonality       = "personality"
	FactOnboardingStage   = "onboarding_stage"
	FactPendingBuildReq   = "pending_build_request"
	FactPendingDiscovery  = "pending_discovery"
)

// SystemFactKeys is the complete reserved set, exposed so PURGE_FACTS can
// compute its complement without duplicating the list.
var SystemFactKeys = map[string]bool{
	FactWelcomed:          true,
	FactPreferredLanguage: true,
	FactActiveProject:     true,
	FactPersonality:       true,
	FactOnboardingStage:   true,
	FactPendingBuildReq:   true,
	FactPendingDiscovery:  true,
}

// Fact is a single (sender_id, key) -> value row.
type Fact struct {
	SenderID  string
	Key       string
	Value     string
	UpdatedAt time.Time
}

// TurnRole distinguishes the speaker of a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleSystem    TurnRole = "system"
)

// Turn is a single role-tagged message inside a Conversation.
type Turn struct {
	Role      TurnRole
	Content   string
	Timestamp time.Time
}

// Conversation is the ordered sequence of turns for a
// (channel, sender_id, project) triple. Exactly one Conversation per triple
// is ever "open" (Closed == false) at a time.
type Conversation struct {
	ID        int64
	Channel   string
	SenderID  string
	Project   string
	Turns     []Turn
	Closed    bool
	Summary   string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// RepeatKind enumerates how a ScheduledTask recurs.
type RepeatKind string

const (
	RepeatNone     RepeatKind = "none"
	RepeatDaily    RepeatKind = "daily"
	RepeatWeekdays RepeatKind = "weekdays"
	RepeatWeekly   RepeatKind = "weekly"
	RepeatMonthly  RepeatKind = "monthly"
)

// TaskType distinguishes a task whose due action is to notify the owner
// (reminder) from one whose due action is an autonomous provider call
// (action).
type TaskType string

const (
	TaskReminder TaskType = "reminder"
	TaskAction   TaskType = "action"
)

// TaskStatus is the lifecycle state of a ScheduledTask. Only tasks with
// StatusPending are visible to the scheduler's due-scan.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusDelivered TaskStatus = "delivered"
	StatusCancelled TaskStatus = "cancelled"
	StatusFailed    TaskStatus = "failed"
)

// ScheduledTask models a reminder or autonomous action the owner requested
// via the SCHEDULE/SCHEDULE_ACTION marker (or directly through the memory
// interface, e.g. for tests).
type ScheduledTask struct {
	ID           string
	Channel      string
	SenderID     string
	ReplyTarget  string
	Description  string
	DueAt        string // normalized: no trailing 'Z', 'T' replaced with ' '
	Repeat       RepeatKind
	TaskType     TaskType
	Project      string
	Status       TaskStatus
	RetryCount   int
	LastError    string
	CreatedAt    time.Time
}

// Lesson is a behavioral rule the agent learned, optionally scoped to a
// project; an empty Project means the lesson is global.
type Lesson struct {
	ID       int64
	SenderID string
	Domain   string
	Rule     string
	Project  string
}

// Outcome is a post-hoc annotation of an action's result.
type Outcome struct {
	ID        int64
	SenderID  string
	Domain    string
	Score     int // -1, 0, +1
	Lesson    string
	Source    string
	Project   string
	Timestamp time.Time
}

// SessionKey identifies a provider session binding.
type SessionKey struct {
	Channel  string
	SenderID string
	Project  string
}

// NormalizeDueAt applies the stable storage form: strip a trailing 'Z'
// and replace 'T' with a single space, so repeated normalization is
// idempotent and exact-match dedup is stable.
func NormalizeDueAt(s string) string {
	if len(s) > 0 && s[len(s)-1] == 'Z' {
		s = s[:len(s)-1]
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 'T' {
			out = append(out, ' ')
		} else {
			out = append(out, s[i])
		}
	}
	return string(out)
}
