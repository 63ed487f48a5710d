package collect

import "time"

// Bottleneck classifies where a baseline execution spent its time.
type Bottleneck string

const (
	BottleneckIO      Bottleneck = "IO_BOUND"
	BottleneckCPU     Bottleneck = "CPU_BOUND"
	BottleneckWait    Bottleneck = "WAIT_BOUND"
	BottleneckMemory  Bottleneck = "MEMORY_BOUND"
	BottleneckUnknown Bottleneck = "UNKNOWN"
)

// BaselineMetrics is one immutable baseline capture. A re-run after a rewrite
// or statistics update produces a new value appended to session history.
type BaselineMetrics struct {
	CapturedAt    time.Time  `json:"capturedAt" yaml:"capturedAt"`
	DurationMs    float64    `json:"durationMs" yaml:"durationMs"`
	LogicalReads  int64      `json:"logicalReads" yaml:"logicalReads"`
	PhysicalReads int64      `json:"physicalReads" yaml:"physicalReads"`
	CPUMs         float64    `json:"cpuMs" yaml:"cpuMs"`
	RowCount      int64      `json:"rowCount" yaml:"rowCount"`
	Bottleneck    Bottleneck `json:"bottleneck" yaml:"bottleneck"`
}

// Priority ranks findings and recommendations.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
	PriorityNone   Priority = "NONE"
)

// rank orders priorities for max comparisons.
var priorityRank = map[Priority]int{
	PriorityNone:   0,
	PriorityLow:    1,
	PriorityMedium: 2,
	PriorityHigh:   3,
}

// Rank returns the ordinal position of the priority.
func (p Priority) Rank() int { return priorityRank[p] }

// AntipatternCategory identifies a class of query antipattern reported by the
// external detector.
type AntipatternCategory string

const (
	NonSargablePredicate AntipatternCategory = "non-sargable-predicate"
	WildcardSelect       AntipatternCategory = "wildcard-select"
	LeadingWildcard      AntipatternCategory = "leading-wildcard"
	ImplicitConversion   AntipatternCategory = "implicit-conversion"
	CorrelatedSubquery   AntipatternCategory = "correlated-subquery"
	ScalarUDF            AntipatternCategory = "scalar-udf"
	OtherAntipattern     AntipatternCategory = "other"
)

// AntipatternFinding is one normalized finding from the antipattern detector.
type AntipatternFinding struct {
	Category       AntipatternCategory `json:"category" yaml:"category"`
	Severity       Priority            `json:"severity" yaml:"severity"`
	Location       string              `json:"location" yaml:"location"`
	Recommendation string              `json:"recommendation" yaml:"recommendation"`
}

// PlanWarning flags a known problem condition on a plan operator.
type PlanWarning string

const (
	WarnImplicitConversion PlanWarning = "implicit-conversion"
	WarnNoJoinPredicate    PlanWarning = "no-join-predicate"
	WarnMissingStatistics  PlanWarning = "missing-statistics"
)

// PlanOperator summarizes one operator from the execution plan.
type PlanOperator struct {
	Kind          string        `json:"kind" yaml:"kind"`
	Table         string        `json:"table,omitempty" yaml:"table,omitempty"`
	CostShare     float64       `json:"costShare" yaml:"costShare"`
	EstimatedRows int64         `json:"estimatedRows" yaml:"estimatedRows"`
	ActualRows    int64         `json:"actualRows" yaml:"actualRows"`
	Warnings      []PlanWarning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// CardinalityVariance is the ratio between actual and estimated rows, taken
// in whichever direction exceeds one. Zero estimates against nonzero actuals
// count as a maximal mismatch.
func (op PlanOperator) CardinalityVariance() float64 {
	est, act := float64(op.EstimatedRows), float64(op.ActualRows)
	switch {
	case est <= 0 && act <= 0:
		return 1
	case est <= 0 || act <= 0:
		return maxVariance
	case act >= est:
		return act / est
	default:
		return est / act
	}
}

// maxVariance caps the variance ratio when one side of the estimate is zero.
const maxVariance = 1e6

// PlanSummary is the structured execution-plan input.
type PlanSummary struct {
	Operators []PlanOperator `json:"operators" yaml:"operators"`
}

// TableStatistics describes the statistics health inputs for one table.
type TableStatistics struct {
	Table           string  `json:"table" yaml:"table"`
	AgeDays         int     `json:"ageDays" yaml:"ageDays"`
	ModificationPct float64 `json:"modificationPct" yaml:"modificationPct"`
	SamplingPct     float64 `json:"samplingPct" yaml:"samplingPct"`
	AutoUpdate      bool    `json:"autoUpdate" yaml:"autoUpdate"`
	AutoCreate      bool    `json:"autoCreate" yaml:"autoCreate"`
}

// IndexHint is a raw engine-suggested index. Hints contribute key-column
// ideas only; included-column suggestions are discarded upstream of the
// covering gate.
type IndexHint struct {
	Table           string   `json:"table" yaml:"table"`
	KeyColumns      []string `json:"keyColumns" yaml:"keyColumns"`
	IncludedColumns []string `json:"includedColumns,omitempty" yaml:"includedColumns,omitempty"`
	ImpactPct       float64  `json:"impactPct,omitempty" yaml:"impactPct,omitempty"`
}

// QueryShape is the parsed structure of the query as it touches one table.
// Column slices preserve order of appearance in the query text.
type QueryShape struct {
	Table            string   `json:"table" yaml:"table"`
	EqualityColumns  []string `json:"equalityColumns,omitempty" yaml:"equalityColumns,omitempty"`
	RangeColumns     []string `json:"rangeColumns,omitempty" yaml:"rangeColumns,omitempty"`
	JoinColumns      []string `json:"joinColumns,omitempty" yaml:"joinColumns,omitempty"`
	OrderColumns     []string `json:"orderColumns,omitempty" yaml:"orderColumns,omitempty"`
	GroupColumns     []string `json:"groupColumns,omitempty" yaml:"groupColumns,omitempty"`
	ProjectedColumns []string `json:"projectedColumns,omitempty" yaml:"projectedColumns,omitempty"`
}

// Workload is caller-supplied execution context for the query. Zero
// ExecutionsPerDay means unknown; gates that depend on it fail closed.
type Workload struct {
	ExecutionsPerDay int64 `json:"executionsPerDay" yaml:"executionsPerDay"`
	BusinessCritical bool  `json:"businessCritical" yaml:"businessCritical"`
}

// TableProfile carries per-table workload evidence used by the columnstore
// evaluator and the covering-index gate. A negative WriteRatio means unknown.
type TableProfile struct {
	Table            string  `json:"table" yaml:"table"`
	RowCount         int64   `json:"rowCount" yaml:"rowCount"`
	ScanRowRatio     float64 `json:"scanRowRatio" yaml:"scanRowRatio"`
	WriteRatio       float64 `json:"writeRatio" yaml:"writeRatio"`
	HasAggregation   bool    `json:"hasAggregation" yaml:"hasAggregation"`
	SingletonLookups bool    `json:"singletonLookups" yaml:"singletonLookups"`
}

// ServerHealth carries instance-level diagnostics collected alongside the
// query telemetry. Collected distinguishes a present-but-zero block from an
// absent one.
type ServerHealth struct {
	Collected bool `json:"collected" yaml:"collected"`

	ServerName               string `json:"serverName,omitempty" yaml:"serverName,omitempty"`
	Version                  string `json:"version,omitempty" yaml:"version,omitempty"`
	MonthsSinceSecurityPatch int    `json:"monthsSinceSecurityPatch" yaml:"monthsSinceSecurityPatch"`
	CumulativeUpdatesBehind  int    `json:"cumulativeUpdatesBehind" yaml:"cumulativeUpdatesBehind"`

	PageLifeExpectancySec int64 `json:"pageLifeExpectancySec" yaml:"pageLifeExpectancySec"`
	MemoryGrantsPending   int64 `json:"memoryGrantsPending" yaml:"memoryGrantsPending"`
	TargetMemoryMB        int64 `json:"targetMemoryMB" yaml:"targetMemoryMB"`
	TotalMemoryMB         int64 `json:"totalMemoryMB" yaml:"totalMemoryMB"`
	MaxServerMemoryMB     int64 `json:"maxServerMemoryMB" yaml:"maxServerMemoryMB"`
	PhysicalMemoryMB      int64 `json:"physicalMemoryMB" yaml:"physicalMemoryMB"`
	StandardEdition       bool  `json:"standardEdition" yaml:"standardEdition"`

	CostThreshold int `json:"costThreshold" yaml:"costThreshold"`
	MaxDOP        int `json:"maxDop" yaml:"maxDop"`
	CPUCount      int `json:"cpuCount" yaml:"cpuCount"`
	PhysicalCPUs  int `json:"physicalCpus" yaml:"physicalCpus"`

	SchedulerCount   int     `json:"schedulerCount" yaml:"schedulerCount"`
	AvgRunnableTasks float64 `json:"avgRunnableTasks" yaml:"avgRunnableTasks"`
	AvgPendingDiskIO float64 `json:"avgPendingDiskIO" yaml:"avgPendingDiskIO"`
}

// Meta contains metadata about a diagnostic run.
type Meta struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Version   string        `json:"version"`
}
