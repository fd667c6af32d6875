package classify

import (
	"strconv"
	"strings"
)

// Group is a named bundle of checklist items (their text) the fast-model
// grouping call produced.
type Group struct {
	Name  string
	Items []string
}

// GroupingPrompt builds the instruction given to the fast model: group the
// remaining checklist items by domain, or answer exactly "DIRECT" when
// there are few enough (or related enough) items that grouping adds no
// value.
func GroupingPrompt(items []string) string {
	var b strings.Builder
	b.WriteString("Group the following checklist items by domain. If there " +
		"are 3 or fewer items, or they all belong to one obvious domain, " +
		"respond with exactly DIRECT. Otherwise respond with one group per " +
		"line: GROUP: <name> | <comma-separated item numbers>.\n\n")
	for i, item := range items {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return b.String()
}

// ParseGrouping interprets the fast model's response. A response that
// trims to "DIRECT" (case-insensitive) yields a single group containing
// every item, the direct path taken when there are few enough items or
// they all belong to one obvious domain.
func ParseGrouping(response string, items []string) []Group {
	trimmed := strings.TrimSpace(response)
	if strings.EqualFold(trimmed, "DIRECT") {
		return []Group{{Name: "direct", Items: append([]string(nil), items...)}}
	}

	var groups []Group
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(line), "GROUP:") {
			continue
		}
		rest := strings.TrimSpace(line[len("GROUP:"):])
		parts := strings.SplitN(rest, "|", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		var groupItems []string
		for _, idxStr := range strings.Split(parts[1], ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
			if err != nil {
				continue
			}
			if idx >= 1 && idx <= len(items) {
				groupItems = append(groupItems, items[idx-1])
			}
		}
		if len(groupItems) > 0 {
			groups = append(groups, Group{Name: name, Items: groupItems})
		}
	}

	if len(groups) == 0 {
		return []Group{{Name: "direct", Items: append([]string(nil), items...)}}
	}
	return groups
}
