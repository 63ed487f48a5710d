// Package engine drives the diagnostic workflow for one slow query: a phase
// state machine with stop gates, restart edges, and a blocked pseudo-state.
//
// Phase order is BASELINE, ANTIPATTERN_CHECK, PLAN_ANALYSIS, optionally
// STATISTICS_CHECK, INDEX_ANALYSIS, SUMMARY. Restart edges return to BASELINE
// from ANTIPATTERN_CHECK (after a query rewrite) and from STATISTICS_CHECK
// (after a statistics update); each restart starts a new pass and appends to
// session history, never overwriting it. A phase that cannot obtain required
// input parks the session in BLOCKED with the error attached.
//
// A session advances strictly sequentially and is owned by a single caller;
// independent sessions are safe to run concurrently because they share no
// state. All gate decisions are pure functions of already-collected data.
package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/koltyakov/querydoctor/internal/analyze"
	"github.com/koltyakov/querydoctor/internal/collect"
)

// Phase is a state of the diagnostic workflow.
type Phase string

const (
	PhaseBaseline        Phase = "BASELINE"
	PhaseAntipatterns    Phase = "ANTIPATTERN_CHECK"
	PhasePlanAnalysis    Phase = "PLAN_ANALYSIS"
	PhaseStatisticsCheck Phase = "STATISTICS_CHECK"
	PhaseIndexAnalysis   Phase = "INDEX_ANALYSIS"
	PhaseSummary         Phase = "SUMMARY"

	// PhaseBlocked is the pseudo-state for a phase that could not obtain its
	// required input. The blocking error is reported verbatim, never guessed
	// around.
	PhaseBlocked Phase = "BLOCKED"
)

// PendingAction names what the caller must do before the session can advance.
type PendingAction string

const (
	ActionNone PendingAction = ""

	// ActionRewrite: antipatterns demand a query rewrite. The caller supplies
	// the rewritten query via ApplyRewrite, which restarts at BASELINE.
	ActionRewrite PendingAction = "REWRITE"

	// ActionStatistics: stale statistics were flagged with update directives.
	// The caller reports via ResolveStatistics whether an update was applied;
	// applied restarts at BASELINE, declined proceeds to INDEX_ANALYSIS.
	ActionStatistics PendingAction = "STATISTICS_UPDATE"
)

// Outcome is one entry in the session's ordered phase history.
type Outcome struct {
	Pass  int       `json:"pass"`
	Phase Phase     `json:"phase"`
	At    time.Time `json:"at"`
	Next  Phase     `json:"next"`
	Note  string    `json:"note,omitempty"`
}

// Blocked describes why and where a session stopped making progress.
type Blocked struct {
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason"`
}

// PassResult archives the findings and recommendations of a completed pass
// when a restart begins a new one. Nothing is discarded on restart.
type PassResult struct {
	Pass            int                           `json:"pass"`
	Query           string                        `json:"query"`
	Findings        []analyze.Finding             `json:"findings,omitempty"`
	Recommendations []analyze.IndexRecommendation `json:"recommendations,omitempty"`
}

// Session is the root aggregate for one diagnosed query. It is created per
// incoming query and owned exclusively by its caller; the engine mutates it
// only through Run, ApplyRewrite, and ResolveStatistics.
type Session struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Bundle holds the collaborator outputs the session reasons over. A
	// restart pass may overlay fresh outputs for the rewritten query.
	Bundle collect.Bundle `json:"bundle"`

	Phase    Phase         `json:"phase"`
	Pending  PendingAction `json:"pending,omitempty"`
	Restarts int           `json:"restarts"`
	Blocked  *Blocked      `json:"blocked,omitempty"`

	// AllowDegradedIndexAnalysis is the explicit caller override that lets
	// INDEX_ANALYSIS proceed after PLAN_ANALYSIS blocked on a malformed plan.
	AllowDegradedIndexAnalysis bool `json:"allowDegradedIndexAnalysis,omitempty"`

	// NoOptimizationNeeded is set when the baseline gate terminates the
	// session because the query is already fast.
	NoOptimizationNeeded bool `json:"noOptimizationNeeded,omitempty"`

	// History and Baselines accumulate across all passes, ordered, append-only.
	History   []Outcome                 `json:"history"`
	Baselines []collect.BaselineMetrics `json:"baselines,omitempty"`

	// Current-pass results.
	Findings        []analyze.Finding             `json:"findings,omitempty"`
	Recommendations []analyze.IndexRecommendation `json:"recommendations,omitempty"`
	Columnstore     []analyze.ColumnstoreAssessment `json:"columnstore,omitempty"`
	Statistics      []analyze.StatisticsHealth    `json:"statisticsHealth,omitempty"`
	Directives      []analyze.StatisticsDirective `json:"statisticsDirectives,omitempty"`
	ServerFindings  []analyze.Finding             `json:"serverFindings,omitempty"`

	// PriorPasses archives the results of passes ended by a restart.
	PriorPasses []PassResult `json:"priorPasses,omitempty"`

	// plan analysis carried between phases within a pass; not serialized.
	plan         analyze.PlanAnalysis
	planDegraded bool
	blockedErr   error
}

// NewSession creates a session at BASELINE for the given input bundle.
func NewSession(b collect.Bundle) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		Bundle:    b,
		Phase:     PhaseBaseline,
	}
}

// Pass is the 1-based number of the current pass (restarts + 1).
func (s *Session) Pass() int { return s.Restarts + 1 }

// Concluded reports whether the session reached its terminal phase.
func (s *Session) Concluded() bool { return s.Phase == PhaseSummary }

// record appends a history entry for a completed phase and its gate decision.
func (s *Session) record(phase, next Phase, note string) {
	s.History = append(s.History, Outcome{
		Pass:  s.Pass(),
		Phase: phase,
		At:    time.Now(),
		Next:  next,
		Note:  note,
	})
	s.UpdatedAt = time.Now()
}

// block parks the session in BLOCKED, keeping the failed phase visible.
func (s *Session) block(phase Phase, err error) {
	s.Blocked = &Blocked{Phase: phase, Reason: err.Error()}
	s.blockedErr = err
	s.record(phase, PhaseBlocked, err.Error())
	s.Phase = PhaseBlocked
}

// archivePass moves the current pass results into PriorPasses ahead of a
// restart. Baselines and History are pass-tagged already and stay in place.
func (s *Session) archivePass() {
	s.PriorPasses = append(s.PriorPasses, PassResult{
		Pass:            s.Pass(),
		Query:           s.Bundle.Query,
		Findings:        s.Findings,
		Recommendations: s.Recommendations,
	})
	s.Findings = nil
	s.Recommendations = nil
	s.Columnstore = nil
	s.Statistics = nil
	s.Directives = nil
	s.plan = analyze.PlanAnalysis{}
	s.planDegraded = false
}
