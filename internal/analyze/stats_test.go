package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/querydoctor/internal/collect"
	"github.com/koltyakov/querydoctor/internal/severity"
)

func TestEvaluateStatisticsStale(t *testing.T) {
	health := EvaluateStatistics([]collect.TableStatistics{
		{Table: "dbo.Orders", AgeDays: 45, ModificationPct: 25, SamplingPct: 100},
	})

	require.Len(t, health, 1)
	assert.True(t, health[0].NeedsUpdate)
	assert.False(t, health[0].SamplingIncomplete)
	assert.Equal(t, severity.High, health[0].Severity)
}

func TestEvaluateStatisticsHealthy(t *testing.T) {
	health := EvaluateStatistics([]collect.TableStatistics{
		{Table: "dbo.Orders", AgeDays: 3, ModificationPct: 1, SamplingPct: 100, AutoUpdate: true},
	})

	require.Len(t, health, 1)
	assert.False(t, health[0].NeedsUpdate)
	assert.Equal(t, severity.OK, health[0].Severity)
	assert.False(t, AnyNeedsUpdate(health))
}

func TestEvaluateStatisticsEitherThreshold(t *testing.T) {
	health := EvaluateStatistics([]collect.TableStatistics{
		{Table: "old", AgeDays: 40, ModificationPct: 2, SamplingPct: 100},
		{Table: "churned", AgeDays: 2, ModificationPct: 35, SamplingPct: 100},
	})

	require.Len(t, health, 2)
	for _, h := range health {
		assert.True(t, h.NeedsUpdate, h.Table)
		assert.Equal(t, severity.Warning, h.Severity, h.Table)
	}
	assert.True(t, AnyNeedsUpdate(health))
}

func TestUpdateDirectivesRequireSensitivity(t *testing.T) {
	health := EvaluateStatistics([]collect.TableStatistics{
		{Table: "dbo.Orders", AgeDays: 45, ModificationPct: 25, SamplingPct: 100},
	})

	// No observed cardinality mismatch: flagged tables get no directive.
	assert.Nil(t, UpdateDirectives(health, false))

	dirs := UpdateDirectives(health, true)
	require.Len(t, dirs, 1)
	assert.Equal(t, "UPDATE STATISTICS dbo.Orders WITH FULLSCAN;", dirs[0].Statement)
	assert.True(t, dirs[0].FullScan)
}

func TestUpdateDirectivesDefaultSample(t *testing.T) {
	// Old but lightly modified and fully sampled: default sample is enough.
	health := EvaluateStatistics([]collect.TableStatistics{
		{Table: "dbo.Customers", AgeDays: 60, ModificationPct: 5, SamplingPct: 100},
	})

	dirs := UpdateDirectives(health, true)
	require.Len(t, dirs, 1)
	assert.Equal(t, "UPDATE STATISTICS dbo.Customers;", dirs[0].Statement)
	assert.False(t, dirs[0].FullScan)
}

func TestStatisticsFindings(t *testing.T) {
	health := EvaluateStatistics([]collect.TableStatistics{
		{Table: "stale", AgeDays: 45, ModificationPct: 25, SamplingPct: 80},
		{Table: "sampled", AgeDays: 1, ModificationPct: 0, SamplingPct: 40},
		{Table: "healthy", AgeDays: 1, ModificationPct: 0, SamplingPct: 100},
	})

	findings := StatisticsFindings(health)
	require.Len(t, findings, 2)
	assert.Equal(t, "stale-statistics", findings[0].Code)
	assert.Equal(t, severity.High, findings[0].Severity)
	assert.Equal(t, "incomplete-sampling", findings[1].Code)
	assert.Equal(t, severity.Info, findings[1].Severity)
}
