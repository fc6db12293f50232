package analysis

import (
	"fmt"
	"strconv"
)

// Justification explains a score in one sentence. monetary may be nil.
func Justification(score int, monetary *float64, objective string, userProvided bool) string {
	if userProvided {
		return fmt.Sprintf("Business value score of %d/10 was provided by the user based on their assessment of the initiative's impact.", score)
	}
	value := 0.0
	if monetary != nil {
		value = *monetary
	}
	switch {
	case score >= 9:
		return fmt.Sprintf("Critical initiative (Score %d/10): This is a legal or compliance-related requirement. Must be completed to avoid business disruption, regulatory penalties, or reputational damage.", score)
	case score >= 7:
		if value >= 1000 {
			return fmt.Sprintf("Significant value initiative (Score %d/10): Estimated monetary value exceeds £1m (£%sK), representing substantial financial impact to the organization.", score, formatThousands(value))
		}
		return fmt.Sprintf("Significant value initiative (Score %d/10): Offers considerable value to current operations or addresses urgent technical requirements.", score)
	case score >= 5:
		if value >= 500 {
			return fmt.Sprintf("High value initiative (Score %d/10): Estimated value of £%sK represents significant benefit that will bring measurable value to the organization.", score, formatThousands(value))
		}
		return fmt.Sprintf("High value initiative (Score %d/10): Delivers meaningful improvements and value to business operations.", score)
	case score >= 3:
		if value >= 250 {
			return fmt.Sprintf("Medium value initiative (Score %d/10): Estimated value of £%sK provides notable benefit, though impact may take time to realize fully.", score, formatThousands(value))
		}
		return fmt.Sprintf("Medium value initiative (Score %d/10): Provides good value that contributes to business objectives, though benefits may not be immediately realized.", score)
	default:
		if value != 0 {
			return fmt.Sprintf("Low value initiative (Score %d/10): Estimated value of £%sK represents minor functional improvements with useful but limited impact.", score, formatThousands(value))
		}
		return fmt.Sprintf("Low value initiative (Score %d/10): Provides functional improvements with useful but limited business impact.", score)
	}
}

// formatThousands renders the shortest decimal form: 300, 1500.5.
func formatThousands(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
