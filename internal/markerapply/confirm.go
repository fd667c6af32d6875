package markerapply

import (
	"fmt"
	"strings"
)

// FormatConfirmations turns a batch of TaskConfirmation values into a
// single post-reply confirmation message built from actual DB state,
// with cancels folded into the matching create as an implicit
// replacement rather than listed as a separate cancellation whenever a
// batch contains both (e.g. an UPDATE_TASK expressed as a CANCEL_TASK +
// SCHEDULE pair, or a model that swaps one reminder for another in the
// same reply).
func FormatConfirmations(confirmations []TaskConfirmation) string {
	if len(confirmations) == 0 {
		return ""
	}

	var created, cancelled []TaskConfirmation
	for _, c := range confirmations {
		if c.Cancelled {
			cancelled = append(cancelled, c)
		} else {
			created = append(created, c)
		}
	}

	var lines []string
	if len(created) > 0 && len(cancelled) > 0 {
		for _, c := range created {
			lines = append(lines, "Replaced with: "+describeTask(c))
		}
	} else {
		for _, c := range cancelled {
			lines = append(lines, "Cancelled: "+describeTask(c))
		}
		for _, c := range created {
			lines = append(lines, "Scheduled: "+describeTask(c))
		}
	}

	return strings.Join(lines, "\n")
}

func describeTask(c TaskConfirmation) string {
	if c.Task == nil {
		return ""
	}
	s := fmt.Sprintf("%s (%s, id %s)", c.Task.Description, c.Task.DueAt, shortID(c.Task.ID))
	if c.SimilarWarning != "" {
		s += " — " + c.SimilarWarning
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
