package analyze

import (
	"fmt"

	"github.com/koltyakov/querydoctor/internal/collect"
	"github.com/koltyakov/querydoctor/internal/severity"
)

// StatisticsHealth is the evaluated freshness verdict for one table.
type StatisticsHealth struct {
	Table              string         `json:"table"`
	AgeDays            int            `json:"ageDays"`
	ModificationPct    float64        `json:"modificationPct"`
	SamplingPct        float64        `json:"samplingPct"`
	AutoUpdate         bool           `json:"autoUpdate"`
	AutoCreate         bool           `json:"autoCreate"`
	NeedsUpdate        bool           `json:"needsUpdate"`
	SamplingIncomplete bool           `json:"samplingIncomplete"`
	Severity           severity.Level `json:"severity"`
}

// StatisticsDirective is an exact update statement emitted as data for the
// caller to apply; the engine never executes it.
type StatisticsDirective struct {
	Table     string `json:"table"`
	Statement string `json:"statement"`
	FullScan  bool   `json:"fullScan"`
	Reason    string `json:"reason"`
}

// EvaluateStatistics assesses each table's statistics:
// needs_update when age exceeds 30 days or modifications exceed 20%,
// sampling_incomplete when the last update sampled under 100% of rows.
func EvaluateStatistics(stats []collect.TableStatistics) []StatisticsHealth {
	out := make([]StatisticsHealth, 0, len(stats))
	for _, s := range stats {
		out = append(out, StatisticsHealth{
			Table:              s.Table,
			AgeDays:            s.AgeDays,
			ModificationPct:    s.ModificationPct,
			SamplingPct:        s.SamplingPct,
			AutoUpdate:         s.AutoUpdate,
			AutoCreate:         s.AutoCreate,
			NeedsUpdate:        s.AgeDays > 30 || s.ModificationPct > 20,
			SamplingIncomplete: s.SamplingPct < 100,
			Severity: severity.StatsStaleness.Classify(severity.StatsSample{
				AgeDays:         s.AgeDays,
				ModificationPct: s.ModificationPct,
			}),
		})
	}
	return out
}

// AnyNeedsUpdate reports whether at least one table was flagged.
func AnyNeedsUpdate(health []StatisticsHealth) bool {
	for _, h := range health {
		if h.NeedsUpdate {
			return true
		}
	}
	return false
}

// UpdateDirectives emits update statements for flagged tables, but only when
// the query was judged statistics-sensitive (a cardinality mismatch was
// already observed). Full scan is chosen when the existing statistics were
// sampled incompletely or churn is heavy; otherwise the default sample is
// enough.
func UpdateDirectives(health []StatisticsHealth, statisticsSensitive bool) []StatisticsDirective {
	if !statisticsSensitive {
		return nil
	}
	var out []StatisticsDirective
	for _, h := range health {
		if !h.NeedsUpdate {
			continue
		}
		full := h.SamplingIncomplete || h.ModificationPct > 20
		stmt := fmt.Sprintf("UPDATE STATISTICS %s", h.Table)
		if full {
			stmt += " WITH FULLSCAN"
		}
		out = append(out, StatisticsDirective{
			Table:     h.Table,
			Statement: stmt + ";",
			FullScan:  full,
			Reason: fmt.Sprintf("statistics are %d days old with %.0f%% of rows modified since the last update",
				h.AgeDays, h.ModificationPct),
		})
	}
	return out
}

// StatisticsFindings converts health verdicts into report findings for
// tables that are not fully healthy.
func StatisticsFindings(health []StatisticsHealth) []Finding {
	var out []Finding
	for _, h := range health {
		if h.Severity == severity.OK && !h.SamplingIncomplete {
			continue
		}
		f := Finding{
			Code:        "stale-statistics",
			Title:       "Stale statistics on " + h.Table,
			Severity:    h.Severity,
			Description: fmt.Sprintf("%d days old, %.0f%% modified, %.0f%% sampled", h.AgeDays, h.ModificationPct, h.SamplingPct),
			Action:      "Update statistics before trusting plan row estimates.",
		}
		if h.Severity == severity.OK {
			f.Code = "incomplete-sampling"
			f.Title = "Incomplete statistics sampling on " + h.Table
			f.Severity = severity.Info
			f.Action = "Consider a FULLSCAN update if estimates drift."
		}
		if !h.AutoUpdate {
			f.Description += "; auto-update of statistics is off"
		}
		out = append(out, f)
	}
	return out
}
