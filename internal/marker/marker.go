// Package marker implements the line-oriented embedded DSL by which an LLM
// reply requests state changes in the agent (scheduling, project switches,
// lessons, heartbeat tuning, and so on).
//
// A marker occupies its own line with a prefix of "WORD:" or "WORD_WORD:".
// Parse recognizes every marker kind below, strips the corresponding lines
// from the visible reply, and returns them in file order for the caller to
// apply. Applying markers (side effects against the memory store) is not
// this package's job; see internal/markerapply for the processor that
// consumes a Parsed value.
package marker

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies a recognized marker type.
type Kind string

const (
	KindSchedule                   Kind = "SCHEDULE"
	KindScheduleAction             Kind = "SCHEDULE_ACTION"
	KindCancelTask                 Kind = "CANCEL_TASK"
	KindUpdateTask                 Kind = "UPDATE_TASK"
	KindProjectActivate            Kind = "PROJECT_ACTIVATE"
	KindProjectDeactivate          Kind = "PROJECT_DEACTIVATE"
	KindBuildProposal              Kind = "BUILD_PROPOSAL"
	KindWhatsAppQR                 Kind = "WHATSAPP_QR"
	KindLangSwitch                 Kind = "LANG_SWITCH"
	KindPersonality                Kind = "PERSONALITY"
	KindForgetConversation         Kind = "FORGET_CONVERSATION"
	KindPurgeFacts                 Kind = "PURGE_FACTS"
	KindHeartbeatAdd               Kind = "HEARTBEAT_ADD"
	KindHeartbeatRemove            Kind = "HEARTBEAT_REMOVE"
	KindHeartbeatInterval          Kind = "HEARTBEAT_INTERVAL"
	KindHeartbeatSuppressSection   Kind = "HEARTBEAT_SUPPRESS_SECTION"
	KindHeartbeatUnsuppressSection Kind = "HEARTBEAT_UNSUPPRESS_SECTION"
	KindReward                     Kind = "REWARD"
	KindLesson                     Kind = "LESSON"
	KindSkillImprove               Kind = "SKILL_IMPROVE"
	KindBugReport                  Kind = "BUG_REPORT"
	KindActionOutcome              Kind = "ACTION_OUTCOME"
)

// recognized lists every marker prefix this codec understands, longest/most
// specific alternatives are not required since matching is done by exact
// prefix up to the first colon.
var recognized = map[Kind]bool{
	KindSchedule: true, KindScheduleAction: true, KindCancelTask: true,
	KindUpdateTask: true, KindProjectActivate: true, KindProjectDeactivate: true,
	KindBuildProposal: true, KindWhatsAppQR: true, KindLangSwitch: true,
	KindPersonality: true, KindForgetConversation: true, KindPurgeFacts: true,
	KindHeartbeatAdd: true, KindHeartbeatRemove: true, KindHeartbeatInterval: true,
	KindHeartbeatSuppressSection: true, KindHeartbeatUnsuppressSection: true,
	KindReward: true, KindLesson: true, KindSkillImprove: true,
	KindBugReport: true, KindActionOutcome: true,
}

// markerLineRe matches a full marker line: optional leading whitespace, a
// WORD or WORD_WORD... token, a colon, then the rest of the line as payload
// (payload may be empty for bare markers like WHATSAPP_QR).
var markerLineRe = regexp.MustCompile(`^\s*([A-Z][A-Z_]*)\s*:\s?(.*)$`)

// safetyNetRe accepts the same lines as markerLineRe (both tolerate leading
// whitespace and spaces before the colon); it is used only by
// StripAllRemaining.
var safetyNetRe = regexp.MustCompile(`^\s*([A-Z][A-Z_]*)\s*:`)

// Marker is a single parsed directive, still carrying its raw payload;
// Kind-specific accessor methods below parse the payload lazily.
type Marker struct {
	Kind    Kind
	Payload string
	Raw     string // the original source line, for diagnostics
}

// ParseError records a marker line whose prefix was recognized but whose
// payload failed its own grammar; it never aborts processing of the rest
// of the reply.
type ParseError struct {
	Raw    string
	Reason string
}

func (e ParseError) Error() string { return "marker parse: " + e.Reason + ": " + e.Raw }

// Parsed is the result of splitting an LLM reply into visible text and
// control markers.
type Parsed struct {
	CleanText string
	Markers   []Marker
	Errors    []ParseError
}

// Parse scans text line by line, extracting every recognized marker line
// and removing it from the returned CleanText. Lines that look like a
// marker (match the general WORD: grammar) but name an unrecognized word
// are left in place untouched — only recognized prefixes are stripped.
func Parse(text string) Parsed {
	lines := strings.Split(text, "\n")
	var kept []string
	var out Parsed

	for _, line := range lines {
		m := markerLineRe.FindStringSubmatch(line)
		if m == nil {
			kept = append(kept, line)
			continue
		}
		word, payload := Kind(m[1]), strings.TrimSpace(m[2])
		if !recognized[word] {
			kept = append(kept, line)
			continue
		}
		out.Markers = append(out.Markers, Marker{Kind: word, Payload: payload, Raw: line})
	}

	out.CleanText = strings.TrimSpace(strings.Join(kept, "\n"))
	return out
}

// StripAllRemaining is the final safety-net pass: it removes any residual
// line that starts with a recognized marker word and a colon (possibly with
// irregular spacing). It uses the same line grammar as Parse, so on Parse's
// CleanText it removes nothing further; a marker that does not start its
// line (inside a list item, for example) is left in place. It is
// idempotent: calling it again on its own output is a no-op.
func StripAllRemaining(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	for _, line := range lines {
		m := safetyNetRe.FindStringSubmatch(line)
		if m != nil && recognized[Kind(m[1])] {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// splitPipe splits a payload on "|" and trims each field, returning exactly
// n fields padded with empty strings if fewer were supplied.
func splitPipe(payload string, n int) []string {
	parts := strings.Split(payload, "|")
	out := make([]string, n)
	for i := 0; i < n && i < len(parts); i++ {
		out[i] = strings.TrimSpace(parts[i])
	}
	return out
}

// ScheduleFields parses a SCHEDULE/SCHEDULE_ACTION payload of the form
// "<description> | <due_at> | <repeat>".
type ScheduleFields struct {
	Description string
	DueAt       string
	Repeat      string
}

func (m Marker) AsSchedule() (ScheduleFields, error) {
	f := splitPipe(m.Payload, 3)
	if f[0] == "" || f[1] == "" {
		return ScheduleFields{}, ParseError{Raw: m.Raw, Reason: "missing description or due_at"}
	}
	repeat := f[2]
	if repeat == "" {
		repeat = "once"
	}
	return ScheduleFields{Description: f[0], DueAt: f[1], Repeat: repeat}, nil
}

// FormatScheduleLine re-serializes ScheduleFields into a SCHEDULE marker
// line; Parse(FormatScheduleLine(x)).Markers[0].AsSchedule() round-trips x.
func FormatScheduleLine(action bool, f ScheduleFields) string {
	word := string(KindSchedule)
	if action {
		word = string(KindScheduleAction)
	}
	return word + ": " + f.Description + " | " + f.DueAt + " | " + f.Repeat
}

// UpdateTaskFields parses an UPDATE_TASK payload; Description/DueAt/Repeat
// are empty when the corresponding optional field was omitted.
type UpdateTaskFields struct {
	IDPrefix    string
	Description string
	DueAt       string
	Repeat      string
}

func (m Marker) AsUpdateTask() (UpdateTaskFields, error) {
	f := splitPipe(m.Payload, 4)
	if f[0] == "" {
		return UpdateTaskFields{}, ParseError{Raw: m.Raw, Reason: "missing id prefix"}
	}
	return UpdateTaskFields{IDPrefix: f[0], Description: f[1], DueAt: f[2], Repeat: f[3]}, nil
}

// AsCancelTask returns the task id prefix for a CANCEL_TASK marker.
func (m Marker) AsCancelTask() (string, error) {
	if m.Payload == "" {
		return "", ParseError{Raw: m.Raw, Reason: "missing id prefix"}
	}
	return m.Payload, nil
}

// AsProjectActivate returns the target project name.
func (m Marker) AsProjectActivate() (string, error) {
	if m.Payload == "" {
		return "", ParseError{Raw: m.Raw, Reason: "missing project name"}
	}
	return m.Payload, nil
}

// AsBuildProposal / AsLangSwitch / AsBugReport all carry a single free-text
// field and share the same shape.
func (m Marker) AsBuildProposal() (string, error) { return m.singleField("build description") }
func (m Marker) AsLangSwitch() (string, error)    { return m.singleField("language") }
func (m Marker) AsBugReport() (string, error)     { return m.singleField("bug description") }

func (m Marker) singleField(what string) (string, error) {
	if m.Payload == "" {
		return "", ParseError{Raw: m.Raw, Reason: "missing " + what}
	}
	return m.Payload, nil
}

// AsPersonality returns the value, and whether it is a reset request.
func (m Marker) AsPersonality() (value string, reset bool, err error) {
	v := strings.TrimSpace(m.Payload)
	if v == "" {
		return "", false, ParseError{Raw: m.Raw, Reason: "missing personality value"}
	}
	if strings.EqualFold(v, "reset") {
		return "", true, nil
	}
	return v, false, nil
}

// HeartbeatItem returns the free-text checklist item carried by
// HEARTBEAT_ADD/HEARTBEAT_REMOVE markers. Which checklist it targets
// (global or per-project) is the caller's context, not marker text.
func (m Marker) HeartbeatItem() (string, error) {
	if m.Payload == "" {
		return "", ParseError{Raw: m.Raw, Reason: "missing checklist item"}
	}
	return m.Payload, nil
}

// HeartbeatSectionName returns the section name for
// HEARTBEAT_SUPPRESS_SECTION/UNSUPPRESS_SECTION markers.
func (m Marker) HeartbeatSectionName() (string, error) {
	if m.Payload == "" {
		return "", ParseError{Raw: m.Raw, Reason: "missing section name"}
	}
	return m.Payload, nil
}

// AsHeartbeatInterval parses and clamps-validates HEARTBEAT_INTERVAL: N.
// It returns an error (and leaves the interval unapplied) when N is not
// in 1..=1440, per invariant "HEARTBEAT_INTERVAL: N only takes effect for
// 1 <= N <= 1440".
func (m Marker) AsHeartbeatInterval() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(m.Payload))
	if err != nil {
		return 0, ParseError{Raw: m.Raw, Reason: "not an integer"}
	}
	if n < 1 || n > 1440 {
		return 0, ParseError{Raw: m.Raw, Reason: "out of range 1..1440"}
	}
	return n, nil
}

// RewardFields parses "REWARD: <±1> | <domain> | <lesson>".
type RewardFields struct {
	Score  int
	Domain string
	Lesson string
}

func (m Marker) AsReward() (RewardFields, error) {
	f := splitPipe(m.Payload, 3)
	score, err := strconv.Atoi(f[0])
	if err != nil || (score != -1 && score != 0 && score != 1) {
		return RewardFields{}, ParseError{Raw: m.Raw, Reason: "score must be -1, 0, or 1"}
	}
	if f[1] == "" {
		return RewardFields{}, ParseError{Raw: m.Raw, Reason: "missing domain"}
	}
	return RewardFields{Score: score, Domain: f[1], Lesson: f[2]}, nil
}

// LessonFields parses "LESSON: <domain> | <rule>".
type LessonFields struct {
	Domain string
	Rule   string
}

func (m Marker) AsLesson() (LessonFields, error) {
	f := splitPipe(m.Payload, 2)
	if f[0] == "" || f[1] == "" {
		return LessonFields{}, ParseError{Raw: m.Raw, Reason: "missing domain or rule"}
	}
	return LessonFields{Domain: f[0], Rule: f[1]}, nil
}

// SkillImproveFields parses "SKILL_IMPROVE: <name> | <lesson>".
type SkillImproveFields struct {
	Name   string
	Lesson string
}

func (m Marker) AsSkillImprove() (SkillImproveFields, error) {
	f := splitPipe(m.Payload, 2)
	if f[0] == "" || f[1] == "" {
		return SkillImproveFields{}, ParseError{Raw: m.Raw, Reason: "missing skill name or lesson"}
	}
	return SkillImproveFields{Name: f[0], Lesson: f[1]}, nil
}

// ActionOutcome is the normalized result of an ACTION_OUTCOME marker.
type ActionOutcome struct {
	Success bool
	Reason  string
}

// AsActionOutcome parses "ACTION_OUTCOME: success" or
// "ACTION_OUTCOME: failed | <reason>".
func (m Marker) AsActionOutcome() (ActionOutcome, error) {
	f := splitPipe(m.Payload, 2)
	switch strings.ToLower(f[0]) {
	case "success":
		return ActionOutcome{Success: true}, nil
	case "failed":
		return ActionOutcome{Success: false, Reason: f[1]}, nil
	default:
		return ActionOutcome{}, ParseError{Raw: m.Raw, Reason: "must be success or failed"}
	}
}
