package analyze

import (
	"fmt"

	"github.com/koltyakov/querydoctor/internal/collect"
	"github.com/koltyakov/querydoctor/internal/severity"
)

// RewritePriority derives the rewrite signal from a set of antipattern
// findings: the maximum severity present. HIGH maps to HIGH, MEDIUM to
// MEDIUM, LOW to LOW, and an empty set to NONE. HIGH and MEDIUM both demand
// a rewrite before any structural work happens.
func RewritePriority(findings []collect.AntipatternFinding) collect.Priority {
	out := collect.PriorityNone
	for _, f := range findings {
		if f.Severity.Rank() > out.Rank() {
			out = f.Severity
		}
	}
	return out
}

// RequiresRewrite reports whether the rewrite priority blocks forward
// progress in the workflow.
func RequiresRewrite(p collect.Priority) bool {
	return p == collect.PriorityHigh || p == collect.PriorityMedium
}

// AntipatternFindings converts detector output into report findings, one per
// antipattern, carrying the detector's recommendation as the action.
func AntipatternFindings(findings []collect.AntipatternFinding) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		out = append(out, Finding{
			Code:        "antipattern-" + string(f.Category),
			Title:       antipatternTitle(f.Category),
			Severity:    antipatternLevel(f.Severity),
			Description: fmt.Sprintf("%s at %s", antipatternTitle(f.Category), f.Location),
			Action:      f.Recommendation,
		})
	}
	return out
}

func antipatternLevel(p collect.Priority) severity.Level {
	switch p {
	case collect.PriorityHigh:
		return severity.High
	case collect.PriorityMedium:
		return severity.Warning
	case collect.PriorityLow:
		return severity.Info
	default:
		return severity.OK
	}
}

func antipatternTitle(c collect.AntipatternCategory) string {
	switch c {
	case collect.NonSargablePredicate:
		return "Non-SARGable predicate"
	case collect.WildcardSelect:
		return "SELECT * projection"
	case collect.LeadingWildcard:
		return "Leading-wildcard LIKE"
	case collect.ImplicitConversion:
		return "Implicit conversion"
	case collect.CorrelatedSubquery:
		return "Correlated subquery"
	case collect.ScalarUDF:
		return "Scalar UDF in predicate"
	default:
		return "Query antipattern"
	}
}
