package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koltyakov/querydoctor/internal/collect"
	"github.com/koltyakov/querydoctor/internal/severity"
)

func TestRewritePriority(t *testing.T) {
	tests := []struct {
		name     string
		findings []collect.AntipatternFinding
		want     collect.Priority
	}{
		{"empty set", nil, collect.PriorityNone},
		{"single low", []collect.AntipatternFinding{
			{Category: collect.WildcardSelect, Severity: collect.PriorityLow},
		}, collect.PriorityLow},
		{"high dominates", []collect.AntipatternFinding{
			{Category: collect.WildcardSelect, Severity: collect.PriorityLow},
			{Category: collect.NonSargablePredicate, Severity: collect.PriorityHigh},
			{Category: collect.CorrelatedSubquery, Severity: collect.PriorityMedium},
		}, collect.PriorityHigh},
		{"medium dominates", []collect.AntipatternFinding{
			{Category: collect.LeadingWildcard, Severity: collect.PriorityMedium},
			{Category: collect.WildcardSelect, Severity: collect.PriorityLow},
		}, collect.PriorityMedium},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RewritePriority(tc.findings))
		})
	}
}

func TestRequiresRewrite(t *testing.T) {
	assert.True(t, RequiresRewrite(collect.PriorityHigh))
	assert.True(t, RequiresRewrite(collect.PriorityMedium))
	assert.False(t, RequiresRewrite(collect.PriorityLow))
	assert.False(t, RequiresRewrite(collect.PriorityNone))
}

func TestAntipatternFindings(t *testing.T) {
	findings := AntipatternFindings([]collect.AntipatternFinding{
		{
			Category:       collect.NonSargablePredicate,
			Severity:       collect.PriorityHigh,
			Location:       "WHERE YEAR(OrderDate)=2024",
			Recommendation: "Rewrite as a range predicate on OrderDate.",
		},
	})

	assert.Len(t, findings, 1)
	assert.Equal(t, "antipattern-non-sargable-predicate", findings[0].Code)
	assert.Equal(t, severity.High, findings[0].Severity)
	assert.Contains(t, findings[0].Description, "WHERE YEAR(OrderDate)=2024")
	assert.Equal(t, "Rewrite as a range predicate on OrderDate.", findings[0].Action)
}
