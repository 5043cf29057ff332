// Package plan is the static section plan for generated documents. Two plans
// exist, keyed by document mode; each orders its sections into three stages:
// stage 1 runs sequentially and builds the core narrative, stage 2 runs in
// parallel on top of stage-1 output, stage 3 is the summary over everything.
package plan

import "specline/internal/domain"

type SectionPlanEntry struct {
	ID    string
	Title string
	Order int
	Stage int
}

var draftPlan = []SectionPlanEntry{
	{ID: "overview", Title: "Overview", Order: 1, Stage: 1},
	{ID: "problem_statement", Title: "Problem Statement", Order: 2, Stage: 1},
	{ID: "objectives", Title: "Objectives", Order: 3, Stage: 1},
	{ID: "functional_requirements", Title: "Functional Requirements", Order: 4, Stage: 2},
	{ID: "scope_and_constraints", Title: "Scope & Constraints", Order: 5, Stage: 2},
	{ID: "success_metrics", Title: "Success Metrics", Order: 6, Stage: 2},
	{ID: "executive_summary", Title: "Executive Summary", Order: 7, Stage: 3},
}

var detailedPlan = []SectionPlanEntry{
	{ID: "overview", Title: "Overview", Order: 1, Stage: 1},
	{ID: "problem_statement", Title: "Problem Statement", Order: 2, Stage: 1},
	{ID: "objectives", Title: "Objectives", Order: 3, Stage: 1},
	{ID: "user_personas", Title: "User Personas", Order: 4, Stage: 1},
	{ID: "functional_requirements", Title: "Functional Requirements", Order: 5, Stage: 2},
	{ID: "non_functional_requirements", Title: "Non-Functional Requirements", Order: 6, Stage: 2},
	{ID: "user_stories", Title: "User Stories", Order: 7, Stage: 2},
	{ID: "scope_and_constraints", Title: "Scope & Constraints", Order: 8, Stage: 2},
	{ID: "success_metrics", Title: "Success Metrics", Order: 9, Stage: 2},
	{ID: "risks_and_assumptions", Title: "Risks & Assumptions", Order: 10, Stage: 2},
	{ID: "timeline_and_milestones", Title: "Timeline & Milestones", Order: 11, Stage: 2},
	{ID: "executive_summary", Title: "Executive Summary", Order: 12, Stage: 3},
}

// SectionsForMode returns the ordered plan for a document mode. Unknown modes
// fall back to the draft plan. The returned slice is a copy.
func SectionsForMode(mode string) []SectionPlanEntry {
	src := draftPlan
	if mode == domain.ModeDetailed {
		src = detailedPlan
	}
	out := make([]SectionPlanEntry, len(src))
	copy(out, src)
	return out
}

// SectionsForStage filters a plan to one stage, preserving order.
func SectionsForStage(sections []SectionPlanEntry, stage int) []SectionPlanEntry {
	var out []SectionPlanEntry
	for _, s := range sections {
		if s.Stage == stage {
			out = append(out, s)
		}
	}
	return out
}

// SectionByID finds a plan entry by section id.
func SectionByID(sections []SectionPlanEntry, id string) (SectionPlanEntry, bool) {
	for _, s := range sections {
		if s.ID == id {
			return s, true
		}
	}
	return SectionPlanEntry{}, false
}

// Stages returns the distinct stage numbers present in a plan, ascending.
func Stages(sections []SectionPlanEntry) []int {
	seen := map[int]bool{}
	var out []int
	for _, s := range sections {
		if !seen[s.Stage] {
			seen[s.Stage] = true
			out = append(out, s.Stage)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
