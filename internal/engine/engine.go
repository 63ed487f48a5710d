package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/koltyakov/querydoctor/internal/analyze"
	"github.com/koltyakov/querydoctor/internal/collect"
	qerrors "github.com/koltyakov/querydoctor/internal/errors"
)

// MinDuration is the baseline stop gate: a query completing faster than this
// needs no optimization and the session terminates at BASELINE.
const MinDuration = 100 * time.Millisecond

// Config tunes the orchestrator. The zero value is usable.
type Config struct {
	// MinDuration overrides the baseline stop gate; zero means the default.
	MinDuration time.Duration

	// CostModel optionally plugs an external impact estimator into the index
	// strategy engine.
	CostModel analyze.CostModel
}

func (c Config) minDuration() time.Duration {
	if c.MinDuration > 0 {
		return c.MinDuration
	}
	return MinDuration
}

// Engine runs diagnostic sessions. It holds no per-session state, so one
// Engine serves any number of concurrent sessions.
type Engine struct {
	cfg Config
	log *slog.Logger
}

// New creates an engine. A nil logger falls back to slog.Default.
func New(cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, log: log}
}

// Run advances the session until it concludes, blocks, or needs a caller
// action. It returns nil when the session is waiting on the caller (pending
// rewrite or statistics decision) or has concluded; a blocking failure is
// returned with phase context and also recorded on the session.
func (e *Engine) Run(ctx context.Context, s *Session, src Source) error {
	if s.Concluded() {
		return qerrors.ErrSessionConcluded
	}
	if s.Pending != ActionNone {
		return nil
	}
	if s.Phase == PhaseBlocked {
		if !e.unblock(s) {
			return qerrors.NewPhaseError(string(s.Blocked.Phase), s.blockedErr)
		}
	}

	for {
		var err error
		switch s.Phase {
		case PhaseBaseline:
			err = e.runBaseline(ctx, s, src)
		case PhaseAntipatterns:
			err = e.runAntipatterns(ctx, s, src)
		case PhasePlanAnalysis:
			err = e.runPlanAnalysis(ctx, s, src)
		case PhaseStatisticsCheck:
			err = e.runStatisticsCheck(ctx, s, src)
		case PhaseIndexAnalysis:
			e.runIndexAnalysis(s)
		case PhaseSummary:
			e.finalize(s)
			return nil
		default:
			return fmt.Errorf("session %s in unexpected phase %s", s.ID, s.Phase)
		}
		if err != nil {
			return err
		}
		if s.Pending != ActionNone || s.Phase == PhaseBlocked {
			return nil
		}
	}
}

// unblock re-enters a blocked session when the caller's degraded-analysis
// override applies: only a PLAN_ANALYSIS block caused by a malformed plan may
// be overridden, and index analysis then runs without plan evidence.
func (e *Engine) unblock(s *Session) bool {
	if s.Blocked == nil || s.Blocked.Phase != PhasePlanAnalysis {
		return false
	}
	if !s.AllowDegradedIndexAnalysis || !errors.Is(s.blockedErr, qerrors.ErrMalformedPlan) {
		return false
	}
	e.log.Warn("proceeding to index analysis without a usable plan",
		"session", s.ID, "reason", s.Blocked.Reason)
	s.planDegraded = true
	s.Blocked = nil
	s.blockedErr = nil
	s.record(PhaseBlocked, PhaseIndexAnalysis, "caller override: degraded index analysis")
	s.Phase = PhaseIndexAnalysis
	return true
}

// NextAfterBaseline is the BASELINE stop gate.
func NextAfterBaseline(b collect.BaselineMetrics, min time.Duration) Phase {
	if b.DurationMs < float64(min.Milliseconds()) {
		return PhaseSummary
	}
	return PhaseAntipatterns
}

// NextAfterAntipatterns routes HIGH and MEDIUM rewrite priority back to a
// fresh baseline; LOW and NONE continue to plan analysis.
func NextAfterAntipatterns(p collect.Priority) Phase {
	if analyze.RequiresRewrite(p) {
		return PhaseBaseline
	}
	return PhasePlanAnalysis
}

// NextAfterPlan routes through the statistics check when the plan shows an
// order-of-magnitude cardinality mismatch.
func NextAfterPlan(pa analyze.PlanAnalysis) Phase {
	if pa.StatisticsSensitive() {
		return PhaseStatisticsCheck
	}
	return PhaseIndexAnalysis
}

func (e *Engine) runBaseline(ctx context.Context, s *Session, src Source) error {
	b, err := src.Baseline(ctx)
	if err != nil {
		s.block(PhaseBaseline, err)
		return qerrors.NewPhaseError(string(PhaseBaseline), err)
	}
	if b.CapturedAt.IsZero() {
		b.CapturedAt = time.Now()
	}
	s.Baselines = append(s.Baselines, b)
	e.log.Info("baseline captured", "session", s.ID, "pass", s.Pass(),
		"duration_ms", b.DurationMs, "logical_reads", b.LogicalReads, "bottleneck", b.Bottleneck)

	next := NextAfterBaseline(b, e.cfg.minDuration())
	if next == PhaseSummary {
		s.NoOptimizationNeeded = true
		s.record(PhaseBaseline, next, fmt.Sprintf("%.0fms baseline, no optimization needed", b.DurationMs))
	} else {
		s.record(PhaseBaseline, next, fmt.Sprintf("%.0fms baseline, %s", b.DurationMs, b.Bottleneck))
	}
	s.Phase = next
	return nil
}

func (e *Engine) runAntipatterns(ctx context.Context, s *Session, src Source) error {
	findings, err := src.Antipatterns(ctx)
	if err != nil {
		s.block(PhaseAntipatterns, err)
		return qerrors.NewPhaseError(string(PhaseAntipatterns), err)
	}
	s.Findings = append(s.Findings, analyze.AntipatternFindings(findings)...)

	priority := analyze.RewritePriority(findings)
	next := NextAfterAntipatterns(priority)
	if next == PhaseBaseline {
		// Session pauses here until the caller supplies the rewritten query.
		s.Pending = ActionRewrite
		s.record(PhaseAntipatterns, PhaseBaseline,
			fmt.Sprintf("rewrite priority %s, awaiting rewritten query", priority))
		e.log.Info("rewrite required", "session", s.ID, "priority", priority)
		return nil
	}
	s.record(PhaseAntipatterns, next, fmt.Sprintf("rewrite priority %s", priority))
	s.Phase = next
	return nil
}

func (e *Engine) runPlanAnalysis(ctx context.Context, s *Session, src Source) error {
	plan, err := src.Plan(ctx)
	if err != nil {
		s.block(PhasePlanAnalysis, err)
		return qerrors.NewPhaseError(string(PhasePlanAnalysis), err)
	}
	s.plan = analyze.AnalyzePlan(plan)
	s.Findings = append(s.Findings, s.plan.Findings...)

	next := NextAfterPlan(s.plan)
	s.record(PhasePlanAnalysis, next,
		fmt.Sprintf("max cardinality variance %.1f", s.plan.MaxCardinalityVariance))
	s.Phase = next
	return nil
}

func (e *Engine) runStatisticsCheck(ctx context.Context, s *Session, src Source) error {
	stats, err := src.Statistics(ctx)
	if err != nil {
		s.block(PhaseStatisticsCheck, err)
		return qerrors.NewPhaseError(string(PhaseStatisticsCheck), err)
	}
	s.Statistics = analyze.EvaluateStatistics(stats)
	s.Findings = append(s.Findings, analyze.StatisticsFindings(s.Statistics)...)

	if !analyze.AnyNeedsUpdate(s.Statistics) {
		s.record(PhaseStatisticsCheck, PhaseIndexAnalysis, "statistics healthy")
		s.Phase = PhaseIndexAnalysis
		return nil
	}
	s.Directives = analyze.UpdateDirectives(s.Statistics, s.plan.StatisticsSensitive())
	s.Pending = ActionStatistics
	s.record(PhaseStatisticsCheck, PhaseIndexAnalysis,
		fmt.Sprintf("%d update directive(s) emitted, awaiting caller decision", len(s.Directives)))
	e.log.Info("statistics update suggested", "session", s.ID, "directives", len(s.Directives))
	return nil
}

func (e *Engine) runIndexAnalysis(s *Session) {
	profiles := s.Bundle.Profiles()
	columnstore := make(map[string]analyze.ColumnstoreAssessment, len(profiles))
	for _, table := range s.Bundle.ReferencedTables() {
		p, ok := profiles[strings.ToLower(table)]
		if !ok {
			continue
		}
		a := analyze.AssessColumnstore(p)
		columnstore[strings.ToLower(table)] = a
		s.Columnstore = append(s.Columnstore, a)
	}

	s.Recommendations = analyze.RecommendIndexes(analyze.IndexInputs{
		Shapes:      s.Bundle.Shapes,
		Plan:        s.plan,
		Hints:       s.Bundle.IndexHints,
		Workload:    s.Bundle.Workload,
		Profiles:    profiles,
		Columnstore: columnstore,
		CostModel:   e.cfg.CostModel,
	})

	note := fmt.Sprintf("%d recommendation(s)", len(s.Recommendations))
	if s.planDegraded {
		note += ", plan evidence unavailable"
	}
	s.record(PhaseIndexAnalysis, PhaseSummary, note)
	s.Phase = PhaseSummary
}

// finalize runs the instance-health checks that enrich the summary and closes
// the session.
func (e *Engine) finalize(s *Session) {
	if s.Bundle.Server != nil && len(s.ServerFindings) == 0 {
		s.ServerFindings = analyze.EvaluateInstanceHealth(*s.Bundle.Server)
	}
	s.record(PhaseSummary, PhaseSummary, "session concluded")
	e.log.Info("session concluded", "session", s.ID, "passes", s.Pass(),
		"findings", len(s.Findings), "recommendations", len(s.Recommendations))
}

// ApplyRewrite accepts the rewritten query the antipattern gate demanded and
// restarts the session at BASELINE. The update bundle overlays any fresh
// collaborator outputs for the rewritten query; prior pass results move to
// history, nothing is discarded.
func (e *Engine) ApplyRewrite(s *Session, rewritten string, update collect.Bundle) error {
	if s.Concluded() {
		return qerrors.ErrSessionConcluded
	}
	if s.Pending != ActionRewrite {
		return fmt.Errorf("session %s is not awaiting a rewrite", s.ID)
	}
	if strings.TrimSpace(rewritten) == "" {
		return qerrors.NewValidationError("query", "", "rewritten query must not be empty")
	}
	s.archivePass()
	update.Query = rewritten
	s.Bundle = s.Bundle.Merge(update)
	s.Restarts++
	s.Pending = ActionNone
	s.record(PhaseAntipatterns, PhaseBaseline, "restart: query rewritten")
	s.Phase = PhaseBaseline
	e.log.Info("session restarted after rewrite", "session", s.ID, "pass", s.Pass())
	return nil
}

// ResolveStatistics records the caller's decision on the emitted update
// directives. applied=true restarts at BASELINE for a fresh capture against
// the refreshed statistics; applied=false proceeds to INDEX_ANALYSIS with the
// statistics as they stand. The update bundle overlays fresh collaborator
// outputs (typically new statistics and plan) for a restart pass.
func (e *Engine) ResolveStatistics(s *Session, applied bool, update collect.Bundle) error {
	if s.Concluded() {
		return qerrors.ErrSessionConcluded
	}
	if s.Pending != ActionStatistics {
		return fmt.Errorf("session %s is not awaiting a statistics decision", s.ID)
	}
	s.Pending = ActionNone
	if !applied {
		s.record(PhaseStatisticsCheck, PhaseIndexAnalysis, "statistics update declined")
		s.Phase = PhaseIndexAnalysis
		return nil
	}
	s.archivePass()
	s.Bundle = s.Bundle.Merge(update)
	s.Restarts++
	s.record(PhaseStatisticsCheck, PhaseBaseline, "restart: statistics updated")
	s.Phase = PhaseBaseline
	e.log.Info("session restarted after statistics update", "session", s.ID, "pass", s.Pass())
	return nil
}
