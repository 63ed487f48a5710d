package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/querydoctor/internal/analyze"
	"github.com/koltyakov/querydoctor/internal/collect"
	qerrors "github.com/koltyakov/querydoctor/internal/errors"
)

func testEngine() *Engine {
	return New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func slowBaseline() *collect.BaselineMetrics {
	return &collect.BaselineMetrics{
		DurationMs:   850,
		LogicalReads: 120_000,
		Bottleneck:   collect.BottleneckIO,
	}
}

// cleanPlan has accurate estimates and a seek, so nothing routes through the
// statistics check.
func cleanPlan() *collect.PlanSummary {
	return &collect.PlanSummary{Operators: []collect.PlanOperator{
		{Kind: "Clustered Index Seek", Table: "dbo.Orders", CostShare: 1.0, EstimatedRows: 100, ActualRows: 110},
	}}
}

// skewedPlan carries an order-of-magnitude cardinality mismatch.
func skewedPlan() *collect.PlanSummary {
	return &collect.PlanSummary{Operators: []collect.PlanOperator{
		{Kind: "Table Scan", Table: "dbo.Orders", CostShare: 0.9, EstimatedRows: 100, ActualRows: 50_000},
		{Kind: "Clustered Index Seek", Table: "dbo.Customers", CostShare: 0.1, EstimatedRows: 10, ActualRows: 10},
	}}
}

func diagnosableBundle() collect.Bundle {
	return collect.Bundle{
		Query:    "SELECT * FROM dbo.Orders WHERE CustomerID = @p1",
		Database: "Sales",
		Shapes: []collect.QueryShape{
			{Table: "dbo.Orders", EqualityColumns: []string{"CustomerID"}},
		},
		Baseline: slowBaseline(),
		Plan:     cleanPlan(),
		Tables: []collect.TableProfile{
			{Table: "dbo.Orders", RowCount: 500_000, WriteRatio: 0.05},
		},
	}
}

func phasesVisited(s *Session) []Phase {
	var out []Phase
	for _, o := range s.History {
		out = append(out, o.Phase)
	}
	return out
}

func TestFastBaselineConcludesImmediately(t *testing.T) {
	b := collect.Bundle{
		Query:    "SELECT 1",
		Baseline: &collect.BaselineMetrics{DurationMs: 40},
	}
	s := NewSession(b)

	require.NoError(t, testEngine().Run(context.Background(), s, BundleSource{Bundle: b}))

	assert.True(t, s.Concluded())
	assert.True(t, s.NoOptimizationNeeded)
	assert.Empty(t, s.Findings)
	assert.Empty(t, s.Recommendations)
	require.Len(t, s.Baselines, 1)
	assert.Equal(t, []Phase{PhaseBaseline, PhaseSummary}, phasesVisited(s))
}

func TestFullPassWithoutRestart(t *testing.T) {
	b := diagnosableBundle()
	b.Server = &collect.ServerHealth{
		Collected:             true,
		PageLifeExpectancySec: 5000,
		CostThreshold:         5,
		MaxDOP:                8,
	}
	s := NewSession(b)

	require.NoError(t, testEngine().Run(context.Background(), s, BundleSource{Bundle: b}))

	assert.True(t, s.Concluded())
	assert.Equal(t, 0, s.Restarts)
	assert.Equal(t, 1, s.Pass())
	require.NotEmpty(t, s.Recommendations)
	assert.Equal(t, "dbo.Orders", s.Recommendations[0].Table)

	// Accurate estimates skip the statistics check.
	assert.Equal(t, []Phase{
		PhaseBaseline, PhaseAntipatterns, PhasePlanAnalysis, PhaseIndexAnalysis, PhaseSummary,
	}, phasesVisited(s))

	var codes []string
	for _, f := range s.ServerFindings {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, "cost-threshold-default")
}

func TestHighPriorityAntipatternPausesForRewrite(t *testing.T) {
	b := diagnosableBundle()
	b.Antipatterns = []collect.AntipatternFinding{{
		Category:       collect.NonSargablePredicate,
		Severity:       collect.PriorityHigh,
		Location:       "WHERE YEAR(OrderDate) = 2024",
		Recommendation: "compare against a date range instead of wrapping the column",
	}}
	s := NewSession(b)
	eng := testEngine()

	require.NoError(t, eng.Run(context.Background(), s, BundleSource{Bundle: b}))

	assert.Equal(t, ActionRewrite, s.Pending)
	assert.Equal(t, PhaseAntipatterns, s.Phase)
	assert.Empty(t, s.Recommendations, "index analysis must not run before the rewrite")
	assert.NotEmpty(t, s.Findings)

	// Re-running a pending session is a no-op.
	require.NoError(t, eng.Run(context.Background(), s, BundleSource{Bundle: b}))
	assert.Equal(t, ActionRewrite, s.Pending)
}

func TestApplyRewriteRestartsAtBaseline(t *testing.T) {
	b := diagnosableBundle()
	originalQuery := b.Query
	b.Antipatterns = []collect.AntipatternFinding{{
		Category: collect.NonSargablePredicate,
		Severity: collect.PriorityHigh,
		Location: "WHERE YEAR(OrderDate) = 2024",
	}}
	s := NewSession(b)
	eng := testEngine()
	require.NoError(t, eng.Run(context.Background(), s, BundleSource{Bundle: b}))
	require.Equal(t, ActionRewrite, s.Pending)
	passOneFindings := len(s.Findings)
	require.Greater(t, passOneFindings, 0)

	rewritten := "SELECT * FROM dbo.Orders WHERE OrderDate >= '2024-01-01' AND OrderDate < '2025-01-01'"
	overlay := collect.Bundle{
		Baseline:     &collect.BaselineMetrics{DurationMs: 400, Bottleneck: collect.BottleneckIO},
		Antipatterns: []collect.AntipatternFinding{},
	}
	require.NoError(t, eng.ApplyRewrite(s, rewritten, overlay))

	assert.Equal(t, 1, s.Restarts)
	assert.Equal(t, 2, s.Pass())
	assert.Equal(t, PhaseBaseline, s.Phase)
	assert.Equal(t, rewritten, s.Bundle.Query)
	assert.Empty(t, s.Findings, "current pass starts clean")
	require.Len(t, s.PriorPasses, 1)
	assert.Equal(t, 1, s.PriorPasses[0].Pass)
	assert.Equal(t, originalQuery, s.PriorPasses[0].Query)
	assert.Len(t, s.PriorPasses[0].Findings, passOneFindings)

	require.NoError(t, eng.Run(context.Background(), s, BundleSource{Bundle: s.Bundle}))

	assert.True(t, s.Concluded())
	require.Len(t, s.Baselines, 2, "baselines accumulate across passes")
	assert.InDelta(t, 850, s.Baselines[0].DurationMs, 0.01)
	assert.InDelta(t, 400, s.Baselines[1].DurationMs, 0.01)

	// History is append-only and pass-tagged.
	passes := map[int]bool{}
	for _, o := range s.History {
		passes[o.Pass] = true
	}
	assert.True(t, passes[1])
	assert.True(t, passes[2])
}

func TestApplyRewriteValidation(t *testing.T) {
	b := diagnosableBundle()
	b.Antipatterns = []collect.AntipatternFinding{{
		Category: collect.ScalarUDF, Severity: collect.PriorityMedium,
	}}
	s := NewSession(b)
	eng := testEngine()
	require.NoError(t, eng.Run(context.Background(), s, BundleSource{Bundle: b}))
	require.Equal(t, ActionRewrite, s.Pending)

	err := eng.ApplyRewrite(s, "   ", collect.Bundle{})
	require.Error(t, err)
	assert.ErrorIs(t, err, qerrors.ErrInvalidConfig)
	assert.Equal(t, ActionRewrite, s.Pending, "failed rewrite leaves the session waiting")

	// A session that is not waiting rejects the call outright.
	s2 := NewSession(diagnosableBundle())
	assert.Error(t, eng.ApplyRewrite(s2, "SELECT 1", collect.Bundle{}))
}

func statisticsPendingSession(t *testing.T) (*Engine, *Session) {
	t.Helper()
	b := diagnosableBundle()
	b.Plan = skewedPlan()
	b.Statistics = []collect.TableStatistics{
		{Table: "dbo.Orders", AgeDays: 45, ModificationPct: 25, SamplingPct: 100},
	}
	s := NewSession(b)
	eng := testEngine()
	require.NoError(t, eng.Run(context.Background(), s, BundleSource{Bundle: b}))
	require.Equal(t, ActionStatistics, s.Pending)
	require.Equal(t, PhaseStatisticsCheck, s.Phase)
	return eng, s
}

func TestStatisticsDeclinedProceedsToIndexAnalysis(t *testing.T) {
	eng, s := statisticsPendingSession(t)
	require.NotEmpty(t, s.Directives)
	assert.True(t, s.Directives[0].FullScan, "cardinality-sensitive updates use FULLSCAN")

	require.NoError(t, eng.ResolveStatistics(s, false, collect.Bundle{}))
	require.NoError(t, eng.Run(context.Background(), s, BundleSource{Bundle: s.Bundle}))

	assert.True(t, s.Concluded())
	assert.Equal(t, 0, s.Restarts)
	assert.NotEmpty(t, s.Recommendations)
	assert.NotEmpty(t, s.Statistics, "statistics evidence stays on the session")
}

func TestStatisticsAppliedRestartsAtBaseline(t *testing.T) {
	eng, s := statisticsPendingSession(t)

	overlay := collect.Bundle{
		Baseline: &collect.BaselineMetrics{DurationMs: 300, Bottleneck: collect.BottleneckCPU},
		Plan:     cleanPlan(),
		Statistics: []collect.TableStatistics{
			{Table: "dbo.Orders", AgeDays: 0, ModificationPct: 0, SamplingPct: 100},
		},
	}
	require.NoError(t, eng.ResolveStatistics(s, true, overlay))
	assert.Equal(t, 1, s.Restarts)
	assert.Equal(t, PhaseBaseline, s.Phase)
	require.Len(t, s.PriorPasses, 1)

	require.NoError(t, eng.Run(context.Background(), s, BundleSource{Bundle: s.Bundle}))

	assert.True(t, s.Concluded())
	require.Len(t, s.Baselines, 2)

	// With accurate estimates the second pass skips the statistics check.
	for _, o := range s.History {
		if o.Pass == 2 {
			assert.NotEqual(t, PhaseStatisticsCheck, o.Phase)
		}
	}
}

func TestMissingBaselineBlocks(t *testing.T) {
	b := collect.Bundle{Query: "SELECT 1"}
	s := NewSession(b)

	err := testEngine().Run(context.Background(), s, BundleSource{Bundle: b})
	require.Error(t, err)
	assert.ErrorIs(t, err, qerrors.ErrMissingInput)
	assert.Equal(t, PhaseBlocked, s.Phase)
	require.NotNil(t, s.Blocked)
	assert.Equal(t, PhaseBaseline, s.Blocked.Phase)
}

func TestMissingPlanBlocksDespiteOverride(t *testing.T) {
	b := collect.Bundle{Query: "SELECT 1", Baseline: slowBaseline()}
	s := NewSession(b)
	eng := testEngine()

	err := eng.Run(context.Background(), s, BundleSource{Bundle: b})
	require.Error(t, err)
	assert.ErrorIs(t, err, qerrors.ErrMissingInput)
	require.NotNil(t, s.Blocked)
	assert.Equal(t, PhasePlanAnalysis, s.Blocked.Phase)

	// The degraded-analysis override applies only to malformed plans, not to
	// an absent one.
	s.AllowDegradedIndexAnalysis = true
	err = eng.Run(context.Background(), s, BundleSource{Bundle: b})
	require.Error(t, err)
	assert.Equal(t, PhaseBlocked, s.Phase)
}

func TestMalformedPlanOverrideResumesDegraded(t *testing.T) {
	b := diagnosableBundle()
	b.Plan = &collect.PlanSummary{} // parseable but empty: malformed
	s := NewSession(b)
	eng := testEngine()

	err := eng.Run(context.Background(), s, BundleSource{Bundle: b})
	require.Error(t, err)
	assert.ErrorIs(t, err, qerrors.ErrMalformedPlan)
	assert.Equal(t, PhaseBlocked, s.Phase)

	// Without the override the session stays blocked.
	require.Error(t, eng.Run(context.Background(), s, BundleSource{Bundle: b}))

	s.AllowDegradedIndexAnalysis = true
	require.NoError(t, eng.Run(context.Background(), s, BundleSource{Bundle: b}))

	assert.True(t, s.Concluded())
	assert.Nil(t, s.Blocked)
	assert.NotEmpty(t, s.Recommendations, "structural candidates survive without plan evidence")

	found := false
	for _, o := range s.History {
		if o.Phase == PhaseBlocked && o.Next == PhaseIndexAnalysis {
			found = true
		}
	}
	assert.True(t, found, "override transition is recorded in history")
}

func TestRunOnConcludedSession(t *testing.T) {
	b := collect.Bundle{Query: "SELECT 1", Baseline: &collect.BaselineMetrics{DurationMs: 10}}
	s := NewSession(b)
	eng := testEngine()
	require.NoError(t, eng.Run(context.Background(), s, BundleSource{Bundle: b}))
	require.True(t, s.Concluded())

	assert.ErrorIs(t, eng.Run(context.Background(), s, BundleSource{Bundle: b}), qerrors.ErrSessionConcluded)
	assert.ErrorIs(t, eng.ApplyRewrite(s, "SELECT 2", collect.Bundle{}), qerrors.ErrSessionConcluded)
	assert.ErrorIs(t, eng.ResolveStatistics(s, true, collect.Bundle{}), qerrors.ErrSessionConcluded)
}

func TestNextAfterBaseline(t *testing.T) {
	assert.Equal(t, PhaseSummary, NextAfterBaseline(collect.BaselineMetrics{DurationMs: 99.9}, MinDuration))
	assert.Equal(t, PhaseAntipatterns, NextAfterBaseline(collect.BaselineMetrics{DurationMs: 100}, MinDuration))
	assert.Equal(t, PhaseSummary, NextAfterBaseline(collect.BaselineMetrics{DurationMs: 400}, 500*time.Millisecond))
}

func TestNextAfterAntipatterns(t *testing.T) {
	assert.Equal(t, PhaseBaseline, NextAfterAntipatterns(collect.PriorityHigh))
	assert.Equal(t, PhaseBaseline, NextAfterAntipatterns(collect.PriorityMedium))
	assert.Equal(t, PhasePlanAnalysis, NextAfterAntipatterns(collect.PriorityLow))
	assert.Equal(t, PhasePlanAnalysis, NextAfterAntipatterns(collect.PriorityNone))
}

func TestNextAfterPlan(t *testing.T) {
	assert.Equal(t, PhaseStatisticsCheck, NextAfterPlan(analyze.PlanAnalysis{MaxCardinalityVariance: 50}))
	assert.Equal(t, PhaseIndexAnalysis, NextAfterPlan(analyze.PlanAnalysis{MaxCardinalityVariance: 5}))
}

func TestBundleSourceValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("absent antipattern section is an empty set", func(t *testing.T) {
		got, err := BundleSource{}.Antipatterns(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("operator with empty kind is malformed", func(t *testing.T) {
		src := BundleSource{Bundle: collect.Bundle{Plan: &collect.PlanSummary{
			Operators: []collect.PlanOperator{{Kind: "", CostShare: 0.5}},
		}}}
		_, err := src.Plan(ctx)
		assert.ErrorIs(t, err, qerrors.ErrMalformedPlan)
	})

	t.Run("cost share out of range is malformed", func(t *testing.T) {
		src := BundleSource{Bundle: collect.Bundle{Plan: &collect.PlanSummary{
			Operators: []collect.PlanOperator{{Kind: "Table Scan", CostShare: 1.5}},
		}}}
		_, err := src.Plan(ctx)
		assert.ErrorIs(t, err, qerrors.ErrMalformedPlan)
	})

	t.Run("missing statistics section", func(t *testing.T) {
		_, err := BundleSource{}.Statistics(ctx)
		assert.ErrorIs(t, err, qerrors.ErrMissingInput)
	})
}
