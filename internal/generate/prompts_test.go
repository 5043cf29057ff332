package generate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specline/internal/domain"
	"specline/internal/plan"
)

func TestParseSectionContentJSONPayload(t *testing.T) {
	content, err := parseSectionContent(`{"content": "The system shall export CSV."}`)
	require.NoError(t, err)
	assert.Equal(t, "The system shall export CSV.", content)
}

func TestParseSectionContentLongRawFallback(t *testing.T) {
	raw := strings.Repeat("All work and no play makes for dull requirements. ", 3)
	content, err := parseSectionContent(raw)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(raw), content)
}

func TestParseSectionContentShortGarbageFails(t *testing.T) {
	_, err := parseSectionContent("oops")
	require.Error(t, err)

	_, err = parseSectionContent(`{"content": ""}`)
	require.Error(t, err)
}

func TestDeriveTitlePrefersExecutiveSummary(t *testing.T) {
	sections := []domain.Section{
		{ID: "problem_statement", Status: domain.SectionCompleted, Content: "Users cannot track requirements across meetings."},
		{ID: "executive_summary", Status: domain.SectionCompleted, Content: "Specline turns meeting notes into living PRDs. It also slices bread."},
	}
	assert.Equal(t, "Specline turns meeting notes into living PRDs", deriveTitle("proj", sections))
}

func TestDeriveTitleFallsBackToProblemStatement(t *testing.T) {
	sections := []domain.Section{
		{ID: "executive_summary", Status: domain.SectionFailed, Error: "boom"},
		{ID: "problem_statement", Status: domain.SectionCompleted, Content: "## Problem\nRequirements scatter across meeting notes and get lost."},
	}
	assert.Equal(t, "Requirements scatter across meeting notes and get lost", deriveTitle("proj", sections))
}

func TestDeriveTitleDefault(t *testing.T) {
	assert.Equal(t, "Product Requirements — Atlas", deriveTitle("Atlas", nil))

	// Completed but with only short fragments.
	sections := []domain.Section{
		{ID: "executive_summary", Status: domain.SectionCompleted, Content: "Short. Tiny. No."},
	}
	assert.Equal(t, "Product Requirements — Atlas", deriveTitle("Atlas", sections))
}

func TestAssembleContentPlanOrderWithPlaceholders(t *testing.T) {
	entries := plan.SectionsForMode("draft")
	sections := []domain.Section{
		{ID: "overview", Title: "Overview", Status: domain.SectionCompleted, Content: "An overview."},
		{ID: "objectives", Title: "Objectives", Status: domain.SectionFailed, Error: "timeout"},
	}
	content := assembleContent("My PRD", entries, sections)

	assert.True(t, strings.HasPrefix(content, "# My PRD\n"))
	overviewAt := strings.Index(content, "## Overview")
	objectivesAt := strings.Index(content, "## Objectives")
	summaryAt := strings.Index(content, "## Executive Summary")
	require.True(t, overviewAt >= 0 && objectivesAt >= 0 && summaryAt >= 0)
	assert.Less(t, overviewAt, objectivesAt)
	assert.Less(t, objectivesAt, summaryAt)
	assert.Contains(t, content, "_Generation failed: timeout_")
	assert.Contains(t, content, "_Not generated._")
}

func TestBaselineContextGroupsByCategory(t *testing.T) {
	ctx := baselineContext("Atlas", []domain.BaselineEntry{
		{Category: "requirements", Content: "Add dark mode", DisplayOrder: 1},
		{Category: "goals", Content: "Grow revenue", DisplayOrder: 1},
		{Category: "requirements", Content: "Export CSV", DisplayOrder: 2},
	})
	assert.Contains(t, ctx, "[goals]")
	assert.Contains(t, ctx, "[requirements]")
	assert.Contains(t, ctx, "1. Add dark mode")
	assert.Contains(t, ctx, "2. Export CSV")
	assert.Less(t, strings.Index(ctx, "[goals]"), strings.Index(ctx, "[requirements]"))
}
