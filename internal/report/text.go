package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/koltyakov/querydoctor/internal/analyze"
	"github.com/koltyakov/querydoctor/internal/engine"
)

// WriteText renders a terse terminal view of the session.
func WriteText(w io.Writer, s *engine.Session) error {
	var b strings.Builder

	fmt.Fprintf(&b, "session %s  phase %s", s.ID, s.Phase)
	if s.Restarts > 0 {
		fmt.Fprintf(&b, "  restarts %d", s.Restarts)
	}
	b.WriteString("\n")

	if s.Blocked != nil {
		fmt.Fprintf(&b, "BLOCKED at %s: %s (partial report)\n", s.Blocked.Phase, s.Blocked.Reason)
	}
	if len(s.Baselines) > 0 {
		last := s.Baselines[len(s.Baselines)-1]
		fmt.Fprintf(&b, "baseline %s  reads %d  cpu %s  %s\n",
			fmtMs(last.DurationMs), last.LogicalReads, fmtMs(last.CPUMs), last.Bottleneck)
	}
	if s.NoOptimizationNeeded {
		b.WriteString("no optimization needed\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	if len(s.Findings) > 0 {
		b.WriteString("\nfindings:\n")
		for _, f := range s.Findings {
			fmt.Fprintf(&b, "  [%s] %s - %s\n", f.Severity, f.Title, f.Description)
		}
	}
	if len(s.Directives) > 0 {
		b.WriteString("\nstatistics updates:\n")
		for _, d := range s.Directives {
			fmt.Fprintf(&b, "  %s\n", d.Statement)
		}
	}
	if len(s.Recommendations) > 0 {
		b.WriteString("\nindex recommendations:\n")
		for _, r := range s.Recommendations {
			label := ""
			if r.LastResort {
				label = " (last resort)"
			}
			fmt.Fprintf(&b, "  [%s]%s %s\n    %s\n", r.Priority, label, r.Rationale, r.Statement)
		}
	}
	for _, a := range s.Columnstore {
		if a.Verdict == analyze.ColumnstoreNone {
			continue
		}
		fmt.Fprintf(&b, "\ncolumnstore: %s %s - %s (manual validation required)\n",
			a.Table, a.Verdict, a.Rationale)
	}
	if len(s.ServerFindings) > 0 {
		b.WriteString("\ninstance health:\n")
		for _, f := range s.ServerFindings {
			fmt.Fprintf(&b, "  [%s] %s - %s\n", f.Severity, f.Title, f.Description)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
