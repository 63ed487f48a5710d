package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/koltyakov/querydoctor/internal/analyze"
	"github.com/koltyakov/querydoctor/internal/collect"
	"github.com/koltyakov/querydoctor/internal/engine"
)

// promptData is a minimal schema we export for LLM consumption.
type promptData struct {
	Query        string                          `json:"query"`
	Database     string                          `json:"database,omitempty"`
	FinalPhase   engine.Phase                    `json:"final_phase"`
	Restarts     int                             `json:"restarts,omitempty"`
	Baselines    []collect.BaselineMetrics       `json:"baselines,omitempty"`
	Findings     []analyze.Finding               `json:"findings,omitempty"`
	Indexes      []analyze.IndexRecommendation   `json:"index_recommendations,omitempty"`
	Statistics   []analyze.StatisticsDirective   `json:"statistics_updates,omitempty"`
	Columnstore  []analyze.ColumnstoreAssessment `json:"columnstore,omitempty"`
	Server       []analyze.Finding               `json:"instance_health,omitempty"`
	PriorQueries []string                        `json:"prior_query_versions,omitempty"`
}

// WritePrompt writes a sidecar .prompt.txt next to the report with the
// session facts for an LLM review pass.
func WritePrompt(outPath string, s *engine.Session) (string, error) {
	if outPath == "-" || strings.TrimSpace(outPath) == "" {
		return "", nil // nothing to do for stdout
	}
	base := strings.TrimSuffix(outPath, filepath.Ext(outPath))
	promptPath := base + ".prompt.txt"

	const maxQueryTextLen = 8000
	trimLong := func(q string) string {
		q = strings.TrimSpace(q)
		if len(q) > maxQueryTextLen {
			return q[:maxQueryTextLen] + " … [truncated]"
		}
		return q
	}

	pd := promptData{
		Query:       trimLong(s.Bundle.Query),
		Database:    s.Bundle.Database,
		FinalPhase:  s.Phase,
		Restarts:    s.Restarts,
		Baselines:   s.Baselines,
		Findings:    s.Findings,
		Indexes:     s.Recommendations,
		Statistics:  s.Directives,
		Columnstore: s.Columnstore,
		Server:      s.ServerFindings,
	}
	for _, p := range s.PriorPasses {
		pd.PriorQueries = append(pd.PriorQueries, trimLong(p.Query))
	}

	payload, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("SQL Server query tuning assistant – session-specific prompt\n\n")
	b.WriteString("Role\nYou are a senior SQL Server performance engineer. Using the provided querydoctor session, review the findings and index recommendations, propose query rewrites where the antipatterns warrant them, and call out risks and validation steps. Prefer specific DDL and rewrites over general advice. Do not duplicate existing indexes.\n\n")
	b.WriteString("Output sections: Summary; Query rewrite (if warranted); Index proposals (prioritized with DDL); Statistics maintenance; Risks and validation plan.\n\n")
	b.WriteString("Constraints: Never approve a columnstore change without the manual validation the session flags. Keep HIGH-priority indexes lean (no INCLUDE columns). Validate everything with the actual execution plan on staging before production.\n\n")
	b.WriteString("INPUT START\n")
	b.Write(payload)
	b.WriteString("\nINPUT END\n")

	if err := os.WriteFile(promptPath, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	return promptPath, nil
}
