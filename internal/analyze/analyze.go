// Package analyze implements the pure diagnostic components: the antipattern
// adapter, plan analyzer, statistics health evaluator, columnstore evaluator,
// index strategy engine, and instance health checks.
//
// Every function in this package is a referentially transparent computation
// over already-materialized collect records: no IO, no shared mutable state,
// safe to call concurrently across sessions. Thresholds live in
// internal/severity so no component duplicates them.
package analyze

import (
	"github.com/koltyakov/querydoctor/internal/severity"
)

// Finding is a severity-tagged observation surfaced in the final report.
type Finding struct {
	Code        string         `json:"code"`
	Title       string         `json:"title"`
	Severity    severity.Level `json:"severity"`
	Description string         `json:"description"`
	Action      string         `json:"action,omitempty"`
}
