package severity

// Domain threshold tables. Each table documents its thresholds inline; the
// analyzers instantiate findings from these classifications and never encode
// the numbers themselves.

// StatsSample carries the staleness inputs for one statistics object.
type StatsSample struct {
	AgeDays         int
	ModificationPct float64
}

// StatsStaleness classifies statistics freshness:
//   - HIGH when age > 30 days AND modifications > 20%
//   - WARNING when either threshold is crossed alone
var StatsStaleness = Table[StatsSample]{
	{When: func(s StatsSample) bool { return s.AgeDays > 30 && s.ModificationPct > 20 }, Level: High},
	{When: func(s StatsSample) bool { return s.AgeDays > 30 || s.ModificationPct > 20 }, Level: Warning},
}

// PatchSample carries the servicing state of an instance.
type PatchSample struct {
	MonthsSinceSecurityPatch int
	UpdatesBehind            int
}

// PatchGap classifies how far behind an instance is on servicing:
//   - CRITICAL: security patch missing for 6+ months, or 5+ CUs behind
//   - WARNING: 3-6 months behind, or 2-4 CUs behind
//   - INFO: 1-2 CUs behind
var PatchGap = Table[PatchSample]{
	{When: func(p PatchSample) bool { return p.MonthsSinceSecurityPatch >= 6 || p.UpdatesBehind >= 5 }, Level: Critical},
	{When: func(p PatchSample) bool { return p.MonthsSinceSecurityPatch >= 3 || p.UpdatesBehind >= 2 }, Level: Warning},
	{When: func(p PatchSample) bool { return p.UpdatesBehind >= 1 }, Level: Info},
}

// CardinalityVarianceThreshold is the order-of-magnitude boundary above which
// an estimated-vs-actual row count mismatch is treated as a statistics
// problem.
const CardinalityVarianceThreshold = 10.0

// CardinalityMismatch reports whether a plan operator's variance crosses the
// flagging threshold.
func CardinalityMismatch(variance float64) bool {
	return variance > CardinalityVarianceThreshold
}

// PageLife classifies page life expectancy in seconds:
// <300s CRITICAL (severe memory pressure), <1000s WARNING.
var PageLife = Table[int64]{
	{When: func(s int64) bool { return s < 300 }, Level: Critical},
	{When: func(s int64) bool { return s < 1000 }, Level: Warning},
}

// MemoryGrants classifies pending memory grants; any waiter is CRITICAL.
var MemoryGrants = Table[int64]{
	{When: func(n int64) bool { return n > 0 }, Level: Critical},
}

// MemoryGap classifies the target-vs-total server memory gap in MB:
// >1024 MB means the instance wants more memory, >512 MB is worth watching.
var MemoryGap = Table[int64]{
	{When: func(mb int64) bool { return mb > 1024 }, Level: Warning},
	{When: func(mb int64) bool { return mb > 512 }, Level: Info},
}

// RunnableTasks classifies average runnable tasks per scheduler (CPU queue
// depth): >5 critical, >2 moderate, >0.5 mild.
var RunnableTasks = Table[float64]{
	{When: func(v float64) bool { return v > 5 }, Level: Critical},
	{When: func(v float64) bool { return v > 2 }, Level: Warning},
	{When: func(v float64) bool { return v > 0.5 }, Level: Info},
}

// PendingDiskIO classifies average pending disk IO per scheduler:
// >10 critical bottleneck, >5 high pressure, >1 moderate.
var PendingDiskIO = Table[float64]{
	{When: func(v float64) bool { return v > 10 }, Level: Critical},
	{When: func(v float64) bool { return v > 5 }, Level: Warning},
	{When: func(v float64) bool { return v > 1 }, Level: Info},
}
