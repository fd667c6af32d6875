package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyConfirmation(t *testing.T) {
	assert.Equal(t, ConfirmationYes, ClassifyConfirmation("yes"))
	assert.Equal(t, ConfirmationYes, ClassifyConfirmation("  Go  "))
	assert.Equal(t, ConfirmationYes, ClassifyConfirmation("sí"))
	assert.Equal(t, ConfirmationYes, ClassifyConfirmation("はい"))
	assert.Equal(t, ConfirmationNo, ClassifyConfirmation("no"))
	assert.Equal(t, ConfirmationNo, ClassifyConfirmation("cancelar"))
	assert.Equal(t, ConfirmationNone, ClassifyConfirmation("what does that mean"))
	assert.Equal(t, ConfirmationNone, ClassifyConfirmation(""))
}

func TestSimilarDescriptions(t *testing.T) {
	assert.True(t, SimilarDescriptions("call mom about dinner", "call mom for dinner plans"))
	assert.False(t, SimilarDescriptions("call mom", "water the plants"))
	assert.False(t, SimilarDescriptions("", "call mom"))
}

func TestParseGroupingDirect(t *testing.T) {
	items := []string{"check disk space", "check backups", "check logs"}
	groups := ParseGrouping("DIRECT", items)
	assert.Len(t, groups, 1)
	assert.Equal(t, "direct", groups[0].Name)
	assert.Equal(t, items, groups[0].Items)
}

func TestParseGroupingExplicit(t *testing.T) {
	items := []string{"check disk space", "check trading bot", "check backups", "restart trading bot"}
	resp := "GROUP: infra | 1,3\nGROUP: trading | 2,4"
	groups := ParseGrouping(resp, items)
	assert.Len(t, groups, 2)
	assert.Equal(t, "infra", groups[0].Name)
	assert.Equal(t, []string{"check disk space", "check backups"}, groups[0].Items)
	assert.Equal(t, "trading", groups[1].Name)
	assert.Equal(t, []string{"check trading bot", "restart trading bot"}, groups[1].Items)
}

func TestParseGroupingFallsBackToDirectOnGarbage(t *testing.T) {
	items := []string{"a", "b"}
	groups := ParseGrouping("not a valid response", items)
	assert.Len(t, groups, 1)
	assert.Equal(t, "direct", groups[0].Name)
}
