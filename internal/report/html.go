// Package report renders a concluded (or blocked) diagnostic session as HTML,
// JSON, or terminal text, plus an optional LLM prompt sidecar. Rendering is
// read-only over the session; suppression filtering happens in the caller.
package report

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/koltyakov/querydoctor/internal/analyze"
	"github.com/koltyakov/querydoctor/internal/collect"
	"github.com/koltyakov/querydoctor/internal/engine"
	"github.com/koltyakov/querydoctor/internal/severity"
)

//go:embed template.html
var reportHTML string

// WriteHTML writes the session report to path ("-" writes to stdout).
func WriteHTML(path string, s *engine.Session, meta collect.Meta) error {
	out := os.Stdout
	if path != "-" && strings.TrimSpace(path) != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return RenderHTML(out, s, meta)
}

// RenderHTML writes the session report to an arbitrary writer; the HTTP API
// serves reports through it.
func RenderHTML(out io.Writer, s *engine.Session, meta collect.Meta) error {
	// Sort findings by severity descending so the worst show on top; stable
	// keeps the phase order within a band.
	findings := make([]analyze.Finding, len(s.Findings))
	copy(findings, s.Findings)
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() > findings[j].Severity.Rank()
	})

	recs := make([]analyze.IndexRecommendation, len(s.Recommendations))
	copy(recs, s.Recommendations)
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.Rank() > recs[j].Priority.Rank()
	})

	serverFindings := make([]analyze.Finding, len(s.ServerFindings))
	copy(serverFindings, s.ServerFindings)
	sort.SliceStable(serverFindings, func(i, j int) bool {
		return serverFindings[i].Severity.Rank() > serverFindings[j].Severity.Rank()
	})

	// Section summaries
	baselineSummary := func() string {
		if len(s.Baselines) == 0 {
			return "No baseline captured."
		}
		last := s.Baselines[len(s.Baselines)-1]
		if s.NoOptimizationNeeded {
			return fmt.Sprintf("Healthy: %s baseline, no optimization needed.", fmtMs(last.DurationMs))
		}
		if len(s.Baselines) > 1 {
			first := s.Baselines[0]
			return fmt.Sprintf("Baseline %s after %d restart(s), down from %s.",
				fmtMs(last.DurationMs), s.Restarts, fmtMs(first.DurationMs))
		}
		return fmt.Sprintf("Baseline %s, %s reads, %s bottleneck.",
			fmtMs(last.DurationMs), addThousands(strconv.FormatInt(last.LogicalReads, 10)), last.Bottleneck)
	}()
	findingsSummary := func() string {
		if len(findings) == 0 {
			return "Healthy: no findings."
		}
		worst := findings[0].Severity
		if worst.AtLeast(severity.Warning) {
			return fmt.Sprintf("Attention: %d finding(s), worst %s.", len(findings), worst)
		}
		return fmt.Sprintf("%d finding(s), worst %s.", len(findings), worst)
	}()
	recsSummary := func() string {
		if len(recs) == 0 {
			return "No index recommendations."
		}
		high := 0
		for _, r := range recs {
			if r.Priority == collect.PriorityHigh {
				high++
			}
		}
		if high > 0 {
			return fmt.Sprintf("%d recommendation(s), %d HIGH priority. Validate on staging before applying.", len(recs), high)
		}
		return fmt.Sprintf("%d recommendation(s). Validate on staging before applying.", len(recs))
	}()
	columnstoreSummary := func() string {
		for _, a := range s.Columnstore {
			if a.Verdict != analyze.ColumnstoreNone {
				return fmt.Sprintf("Attention: %s columnstore suggested for %s - manual validation required.", a.Verdict, a.Table)
			}
		}
		if len(s.Columnstore) == 0 {
			return ""
		}
		return "No columnstore candidates."
	}()

	funcMap := template.FuncMap{
		"fmtMs": fmtMs,
		"fmtTime": func(t time.Time) string {
			if t.IsZero() {
				return "n/a"
			}
			return t.Local().Format("2006-01-02 15:04:05 MST")
		},
		"fmtI64":   func(n int64) string { return addThousands(strconv.FormatInt(n, 10)) },
		"fmtDur":   func(d time.Duration) string { return humanizeDuration(d) },
		"joinCols": func(cols []string) string { return strings.Join(cols, ", ") },
		"sevClass": func(l severity.Level) string { return "sev-" + strings.ToLower(string(l)) },
		"prioClass": func(p collect.Priority) string {
			return "prio-" + strings.ToLower(string(p))
		},
	}

	tmpl, err := template.New("report").Funcs(funcMap).Parse(reportHTML)
	if err != nil {
		return err
	}

	data := struct {
		S              *engine.Session
		Meta           collect.Meta
		Findings       []analyze.Finding
		Recs           []analyze.IndexRecommendation
		ServerFindings []analyze.Finding

		BaselineSummary    string
		FindingsSummary    string
		RecsSummary        string
		ColumnstoreSummary string
	}{
		S: s, Meta: meta, Findings: findings, Recs: recs, ServerFindings: serverFindings,
		BaselineSummary: baselineSummary, FindingsSummary: findingsSummary,
		RecsSummary: recsSummary, ColumnstoreSummary: columnstoreSummary,
	}
	return tmpl.Execute(out, data)
}

// fmtMs renders milliseconds compactly: two decimals under a second,
// humanized units above.
func fmtMs(ms float64) string {
	if ms <= 0 {
		return "0ms"
	}
	if ms < 1000 {
		return fmt.Sprintf("%.2fms", ms)
	}
	return humanizeDuration(time.Duration(ms * float64(time.Millisecond)))
}

// humanizeDuration renders a duration like "4d 1h 25m" or "1h 25m 42s".
func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Second {
		if d <= 0 {
			return "0ms"
		}
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return d.String()
	}

	total := int64(d.Seconds())
	days := total / 86400
	total %= 86400
	hours := total / 3600
	total %= 3600
	mins := total / 60
	secs := total % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	if secs > 0 && len(parts) < 3 {
		parts = append(parts, fmt.Sprintf("%ds", secs))
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}

// addThousands inserts commas as thousands separators into a numeric string
// (handles leading '-').
func addThousands(s string) string {
	if s == "" {
		return s
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	n := len(s)
	if n <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	out := make([]byte, 0, n+n/3)
	cnt := 0
	for i := n - 1; i >= 0; i-- {
		out = append(out, s[i])
		cnt++
		if cnt%3 == 0 && i != 0 {
			out = append(out, ',')
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
