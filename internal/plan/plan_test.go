package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftPlanShape(t *testing.T) {
	sections := SectionsForMode("draft")
	require.Len(t, sections, 7)
	assert.Len(t, SectionsForStage(sections, 1), 3)
	assert.Len(t, SectionsForStage(sections, 2), 3)
	assert.Len(t, SectionsForStage(sections, 3), 1)
}

func TestDetailedPlanShape(t *testing.T) {
	sections := SectionsForMode("detailed")
	require.Len(t, sections, 12)
	assert.Len(t, SectionsForStage(sections, 1), 4)
	assert.Len(t, SectionsForStage(sections, 2), 7)
	assert.Len(t, SectionsForStage(sections, 3), 1)
}

func TestPlanOrdersAreSequentialAndUnique(t *testing.T) {
	for _, mode := range []string{"draft", "detailed"} {
		sections := SectionsForMode(mode)
		for i, s := range sections {
			assert.Equal(t, i+1, s.Order, "mode %s section %s", mode, s.ID)
		}
	}
}

func TestPlanIDsUnique(t *testing.T) {
	for _, mode := range []string{"draft", "detailed"} {
		seen := map[string]bool{}
		for _, s := range SectionsForMode(mode) {
			assert.False(t, seen[s.ID], "mode %s duplicate id %s", mode, s.ID)
			seen[s.ID] = true
		}
	}
}

func TestSectionByID(t *testing.T) {
	sections := SectionsForMode("draft")
	s, ok := SectionByID(sections, "executive_summary")
	require.True(t, ok)
	assert.Equal(t, 3, s.Stage)
	assert.Equal(t, 7, s.Order)

	_, ok = SectionByID(sections, "user_personas")
	assert.False(t, ok, "user_personas belongs to the detailed plan only")
}

func TestUnknownModeFallsBackToDraft(t *testing.T) {
	assert.Len(t, SectionsForMode("weird"), 7)
}

func TestStages(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, Stages(SectionsForMode("detailed")))
}

func TestSectionsForModeReturnsCopy(t *testing.T) {
	a := SectionsForMode("draft")
	a[0].Title = "mutated"
	b := SectionsForMode("draft")
	assert.Equal(t, "Overview", b[0].Title)
}
