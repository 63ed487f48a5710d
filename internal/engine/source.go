package engine

import (
	"context"

	"github.com/koltyakov/querydoctor/internal/collect"
	qerrors "github.com/koltyakov/querydoctor/internal/errors"
)

// Source supplies a phase with its required input when the phase runs. The
// engine never defaults a missing record; a Source error blocks the phase.
//
// The bundle-backed implementation below serves both offline bundles and
// bundles augmented by the live collector; whichever capture path produced
// the bundle, the engine reads already-materialized records.
type Source interface {
	// Baseline returns the captured execution metrics for the current query.
	// A live implementation must honor ctx cancellation and surface
	// qerrors.ErrExecutionTimeout on deadline.
	Baseline(ctx context.Context) (collect.BaselineMetrics, error)

	// Antipatterns returns the normalized detector findings. An empty slice
	// means the detector ran and found nothing.
	Antipatterns(ctx context.Context) ([]collect.AntipatternFinding, error)

	// Plan returns the execution-plan operator summary.
	Plan(ctx context.Context) (collect.PlanSummary, error)

	// Statistics returns per-table statistics health inputs.
	Statistics(ctx context.Context) ([]collect.TableStatistics, error)
}

// BundleSource reads phase inputs from a materialized bundle.
type BundleSource struct {
	Bundle collect.Bundle
}

var _ Source = BundleSource{}

func (b BundleSource) Baseline(context.Context) (collect.BaselineMetrics, error) {
	if b.Bundle.Baseline == nil {
		return collect.BaselineMetrics{}, qerrors.NewInputError("baseline")
	}
	return *b.Bundle.Baseline, nil
}

// Antipatterns treats an absent section as an empty finding set: the detector
// reporting nothing and the bundle omitting the section are indistinguishable
// to the gate, and both route the query forward rather than blocking it.
func (b BundleSource) Antipatterns(context.Context) ([]collect.AntipatternFinding, error) {
	return b.Bundle.Antipatterns, nil
}

func (b BundleSource) Plan(context.Context) (collect.PlanSummary, error) {
	if b.Bundle.Plan == nil {
		return collect.PlanSummary{}, qerrors.NewInputError("plan")
	}
	p := *b.Bundle.Plan
	if len(p.Operators) == 0 {
		return collect.PlanSummary{}, qerrors.ErrMalformedPlan
	}
	for _, op := range p.Operators {
		if op.Kind == "" || op.CostShare < 0 || op.CostShare > 1 {
			return collect.PlanSummary{}, qerrors.ErrMalformedPlan
		}
	}
	return p, nil
}

func (b BundleSource) Statistics(context.Context) ([]collect.TableStatistics, error) {
	if b.Bundle.Statistics == nil {
		return nil, qerrors.NewInputError("statistics")
	}
	return b.Bundle.Statistics, nil
}
