package generate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"specline/internal/domain"
	"specline/internal/plan"
)

// minRawContentLen is the threshold below which unparseable generator output
// is treated as a failure rather than as raw section content.
const minRawContentLen = 50

// minTitleFragmentLen is the threshold for a sentence fragment to qualify as
// a document title.
const minTitleFragmentLen = 20

// baselineContext renders the active baseline grouped by category, the shared
// grounding every section prompt starts from.
func baselineContext(projectName string, entries []domain.BaselineEntry) string {
	byCategory := map[string][]domain.BaselineEntry{}
	var categories []string
	for _, e := range entries {
		if _, ok := byCategory[e.Category]; !ok {
			categories = append(categories, e.Category)
		}
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}
	sort.Strings(categories)

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\nRequirement baseline:\n", projectName)
	for _, cat := range categories {
		fmt.Fprintf(&b, "\n[%s]\n", cat)
		for _, e := range byCategory[cat] {
			fmt.Fprintf(&b, "%d. %s\n", e.DisplayOrder, e.Content)
		}
	}
	return b.String()
}

// sectionPrompt assembles the full prompt for one section: shared baseline
// context, the section's own instruction, and whatever prior sections
// produced.
func sectionPrompt(shared string, entry plan.SectionPlanEntry, priorContext string) string {
	var b strings.Builder
	b.WriteString("You are writing one section of a product requirements document.\n\n")
	b.WriteString(shared)
	if priorContext != "" {
		b.WriteString("\n\nSections written so far:\n")
		b.WriteString(priorContext)
	}
	fmt.Fprintf(&b, "\n\nWrite the %q section (id: %s).\n", entry.Title, entry.ID)
	b.WriteString(`Respond with a JSON object of the form {"content": "..."} containing only the section text in Markdown.`)
	return b.String()
}

// parseSectionContent extracts section text from raw generator output. The
// happy path is a {"content": ...} payload; sufficiently long unstructured
// output is accepted as-is, anything shorter fails the section.
func parseSectionContent(raw string) (string, error) {
	var payload struct {
		Content string `json:"content"`
	}
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), &payload); err == nil && strings.TrimSpace(payload.Content) != "" {
		return strings.TrimSpace(payload.Content), nil
	}
	if len(trimmed) >= minRawContentLen {
		return trimmed, nil
	}
	return "", fmt.Errorf("generator output is neither a content payload nor long enough to stand alone (%d chars)", len(trimmed))
}

// deriveTitle picks a document title from the completed summary or problem
// sections: the first sentence-like fragment of workable length wins.
func deriveTitle(projectName string, sections []domain.Section) string {
	byID := map[string]domain.Section{}
	for _, s := range sections {
		byID[s.ID] = s
	}
	for _, id := range []string{"executive_summary", "problem_statement"} {
		s, ok := byID[id]
		if !ok || s.Status != domain.SectionCompleted {
			continue
		}
		if title := firstFragment(s.Content); title != "" {
			return title
		}
	}
	return fmt.Sprintf("Product Requirements — %s", projectName)
}

func firstFragment(content string) string {
	content = strings.TrimSpace(content)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "#* ")
		for _, frag := range strings.FieldsFunc(line, func(r rune) bool {
			return r == '.' || r == '!' || r == '?' || r == ':'
		}) {
			frag = strings.TrimSpace(frag)
			if len(frag) >= minTitleFragmentLen {
				return frag
			}
		}
	}
	return ""
}

// assembleContent renders the final document body in plan order, with
// placeholders for sections that failed or never ran.
func assembleContent(title string, planEntries []plan.SectionPlanEntry, sections []domain.Section) string {
	byID := map[string]domain.Section{}
	for _, s := range sections {
		byID[s.ID] = s
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	for _, entry := range planEntries {
		fmt.Fprintf(&b, "\n## %s\n\n", entry.Title)
		s, ok := byID[entry.ID]
		switch {
		case ok && s.Status == domain.SectionCompleted:
			b.WriteString(s.Content)
			b.WriteString("\n")
		case ok && s.Status == domain.SectionFailed:
			fmt.Fprintf(&b, "_Generation failed: %s_\n", s.Error)
		default:
			b.WriteString("_Not generated._\n")
		}
	}
	return b.String()
}
