package analyze

import (
	"fmt"
	"sort"
	"strings"

	"github.com/koltyakov/querydoctor/internal/collect"
	"github.com/koltyakov/querydoctor/internal/severity"
)

// HighCostShare is the plan-cost fraction above which an operator is treated
// as dominating the plan.
const HighCostShare = 0.20

// PlanAnalysis is the interpreted view of an execution plan summary. It is a
// deterministic function of the input: analyzing the same plan twice yields
// identical values.
type PlanAnalysis struct {
	Findings []Finding

	// MaxCardinalityVariance is the worst estimated-vs-actual mismatch across
	// all operators, used by the statistics gate.
	MaxCardinalityVariance float64

	// ScanCostShare maps table name (lower-cased) to the highest cost share
	// of a scan operator on it.
	ScanCostShare map[string]float64

	// KeyLookupShare maps table name (lower-cased) to the highest cost share
	// of a key/RID lookup on it.
	KeyLookupShare map[string]float64

	SortPresent        bool
	JoinInefficiency   bool
	MissingStatsTables []string
}

// StatisticsSensitive reports whether the observed cardinality mismatch
// crosses the order-of-magnitude threshold that routes the workflow through
// a statistics check.
func (pa PlanAnalysis) StatisticsSensitive() bool {
	return severity.CardinalityMismatch(pa.MaxCardinalityVariance)
}

// AnalyzePlan interprets a plan summary: high-cost operators, scans and
// lookups per table, cardinality variance, and operator warnings.
func AnalyzePlan(p collect.PlanSummary) PlanAnalysis {
	pa := PlanAnalysis{
		ScanCostShare:  map[string]float64{},
		KeyLookupShare: map[string]float64{},
	}
	missingStats := map[string]struct{}{}

	for _, op := range p.Operators {
		v := op.CardinalityVariance()
		if v > pa.MaxCardinalityVariance {
			pa.MaxCardinalityVariance = v
		}

		table := strings.ToLower(op.Table)
		kind := strings.ToLower(op.Kind)
		switch {
		case strings.Contains(kind, "scan") && !strings.Contains(kind, "seek"):
			if table != "" && op.CostShare > pa.ScanCostShare[table] {
				pa.ScanCostShare[table] = op.CostShare
			}
			if op.CostShare > HighCostShare {
				pa.Findings = append(pa.Findings, Finding{
					Code:        "plan-high-cost-scan",
					Title:       "High-cost scan operator",
					Severity:    severity.High,
					Description: fmt.Sprintf("%s on %s carries %.0f%% of plan cost", op.Kind, orUnknown(op.Table), op.CostShare*100),
					Action:      "A seek-enabling index on the scanned table would remove this operator.",
				})
			}
		case strings.Contains(kind, "lookup"):
			if table != "" && op.CostShare > pa.KeyLookupShare[table] {
				pa.KeyLookupShare[table] = op.CostShare
			}
		case strings.Contains(kind, "sort"):
			pa.SortPresent = true
			if op.CostShare > HighCostShare {
				pa.Findings = append(pa.Findings, Finding{
					Code:        "plan-expensive-sort",
					Title:       "Expensive sort",
					Severity:    severity.Warning,
					Description: fmt.Sprintf("Sort carries %.0f%% of plan cost", op.CostShare*100),
					Action:      "An index matching the ORDER BY leading columns can supply the ordering.",
				})
			}
		case strings.Contains(kind, "join") || strings.Contains(kind, "nested loops") || strings.Contains(kind, "hash match"):
			if op.CostShare > HighCostShare {
				pa.JoinInefficiency = true
			}
		}

		for _, w := range op.Warnings {
			switch w {
			case collect.WarnNoJoinPredicate:
				pa.JoinInefficiency = true
				pa.Findings = append(pa.Findings, Finding{
					Code:        "plan-no-join-predicate",
					Title:       "Join without predicate",
					Severity:    severity.High,
					Description: fmt.Sprintf("%s produces a cross product", op.Kind),
					Action:      "Add the missing join condition; the current plan multiplies row counts.",
				})
			case collect.WarnImplicitConversion:
				pa.Findings = append(pa.Findings, Finding{
					Code:        "plan-implicit-conversion",
					Title:       "Implicit conversion in plan",
					Severity:    severity.Warning,
					Description: fmt.Sprintf("%s on %s converts a column before comparing it", op.Kind, orUnknown(op.Table)),
					Action:      "Match parameter and column types so the predicate stays SARGable.",
				})
			case collect.WarnMissingStatistics:
				if op.Table != "" {
					missingStats[op.Table] = struct{}{}
				}
			}
		}

		if severity.CardinalityMismatch(v) {
			pa.Findings = append(pa.Findings, Finding{
				Code:        "plan-cardinality-mismatch",
				Title:       "Cardinality estimate off by an order of magnitude",
				Severity:    severity.Warning,
				Description: fmt.Sprintf("%s on %s estimated %d rows, saw %d (variance %.0fx)", op.Kind, orUnknown(op.Table), op.EstimatedRows, op.ActualRows, v),
				Action:      "Stale or missing statistics mislead the optimizer; verify statistics freshness.",
			})
		}
	}

	for t := range missingStats {
		pa.MissingStatsTables = append(pa.MissingStatsTables, t)
	}
	sort.Strings(pa.MissingStatsTables)
	return pa
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
