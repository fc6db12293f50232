package analysis

import (
	"fmt"
	"strings"

	"ideaflow/internal/domain"
)

const genericDeliverables = "Implementation of the proposed solution including design, development, testing, and deployment phases."

// StatementOfWork renders the SoW document for an idea at the given score.
// Section order is fixed; blank optional fields are omitted.
func StatementOfWork(idea domain.Idea, score int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Statement of Work: %s**\n\n", idea.Title)
	fmt.Fprintf(&b, "**Objective:** %s\n\n", idea.IdeaDescription)

	fmt.Fprintf(&b, "**Business Alignment:** This initiative supports the %s business objective", idea.BusinessObjective)
	switch {
	case score >= 9:
		b.WriteString(" and is classified as critical for legal/compliance requirements")
	case score >= 7:
		b.WriteString(" with significant strategic value")
	case score >= 5:
		b.WriteString(" with high potential impact")
	}
	b.WriteString(".\n\n")

	if hasMonetaryValue(idea) {
		fmt.Fprintf(&b, "**Estimated Value:** £%sK\n\n", formatThousands(*idea.MonetaryValue))
	}

	if features := nonBlankLines(idea.PrincipalFeatures); len(features) > 0 {
		b.WriteString("**Key Features & Deliverables:**\n")
		for i, f := range features {
			fmt.Fprintf(&b, "%d. %s\n", i+1, f)
		}
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "**Key Deliverables:** %s\n\n", genericDeliverables)
	}

	if strings.TrimSpace(idea.PersonsAffected) != "" {
		fmt.Fprintf(&b, "**Stakeholders Impacted:** %s\n\n", idea.PersonsAffected)
	}
	if strings.TrimSpace(idea.BusinessAreasAffected) != "" {
		fmt.Fprintf(&b, "**Business Areas:** %s\n\n", idea.BusinessAreasAffected)
	}
	if clients := nonBlank(idea.PlatformClientsImpacted); len(clients) > 0 {
		fmt.Fprintf(&b, "**Platform Clients Affected:** %s\n\n", strings.Join(clients, ", "))
	}

	fmt.Fprintf(&b, "**Expected Outcomes:** Successful implementation will deliver measurable improvements in %s", strings.ToLower(idea.BusinessObjective))
	if IsCostSaving(idea.IdeaDescription, idea.BusinessObjective) {
		b.WriteString(", resulting in operational cost savings and increased efficiency")
	} else {
		b.WriteString(", creating new value and enhanced capabilities")
	}
	b.WriteString(" for the organization.")

	return b.String()
}

func nonBlankLines(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func nonBlank(items []string) []string {
	var out []string
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}
