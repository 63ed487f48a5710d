package collect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bundle is the structured input package for one diagnostic session: the
// outputs of the external collaborators (query executor, antipattern
// detector, plan analyzer, statistics tool) plus caller-supplied context.
// Absent sections surface as missing-input errors at the phase that needs
// them; they are never silently defaulted.
type Bundle struct {
	Query    string `json:"query" yaml:"query"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	Schema   string `json:"schema,omitempty" yaml:"schema,omitempty"`

	Shapes   []QueryShape `json:"shapes,omitempty" yaml:"shapes,omitempty"`
	Workload Workload     `json:"workload" yaml:"workload"`

	Baseline     *BaselineMetrics     `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	Antipatterns []AntipatternFinding `json:"antipatterns,omitempty" yaml:"antipatterns,omitempty"`
	Plan         *PlanSummary         `json:"plan,omitempty" yaml:"plan,omitempty"`
	Statistics   []TableStatistics    `json:"statistics,omitempty" yaml:"statistics,omitempty"`
	Tables       []TableProfile       `json:"tables,omitempty" yaml:"tables,omitempty"`
	IndexHints   []IndexHint          `json:"indexHints,omitempty" yaml:"indexHints,omitempty"`
	Server       *ServerHealth        `json:"server,omitempty" yaml:"server,omitempty"`
}

// LoadBundle reads a bundle from a JSON or YAML file, chosen by extension.
func LoadBundle(path string) (Bundle, error) {
	var b Bundle
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read bundle: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &b); err != nil {
			return b, fmt.Errorf("parse bundle %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &b); err != nil {
			return b, fmt.Errorf("parse bundle %s: %w", path, err)
		}
	}
	return b, nil
}

// ParseBundle decodes a JSON bundle from an in-memory payload, as received by
// the HTTP API.
func ParseBundle(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("parse bundle: %w", err)
	}
	return b, nil
}

// Merge overlays the non-empty sections of other onto a copy of b. Used when
// a restart pass supplies fresh collaborator outputs for a rewritten query.
func (b Bundle) Merge(other Bundle) Bundle {
	out := b
	if other.Query != "" {
		out.Query = other.Query
	}
	if other.Database != "" {
		out.Database = other.Database
	}
	if other.Schema != "" {
		out.Schema = other.Schema
	}
	if len(other.Shapes) > 0 {
		out.Shapes = other.Shapes
	}
	if other.Workload != (Workload{}) {
		out.Workload = other.Workload
	}
	if other.Baseline != nil {
		out.Baseline = other.Baseline
	}
	if other.Antipatterns != nil {
		out.Antipatterns = other.Antipatterns
	}
	if other.Plan != nil {
		out.Plan = other.Plan
	}
	if other.Statistics != nil {
		out.Statistics = other.Statistics
	}
	if len(other.Tables) > 0 {
		out.Tables = other.Tables
	}
	if other.IndexHints != nil {
		out.IndexHints = other.IndexHints
	}
	if other.Server != nil {
		out.Server = other.Server
	}
	return out
}

// Profiles indexes table profiles by lower-cased table name.
func (b Bundle) Profiles() map[string]TableProfile {
	m := make(map[string]TableProfile, len(b.Tables))
	for _, t := range b.Tables {
		m[strings.ToLower(t.Table)] = t
	}
	return m
}

// ReferencedTables returns the distinct tables named by the query shapes, in
// order of first appearance.
func (b Bundle) ReferencedTables() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range b.Shapes {
		key := strings.ToLower(s.Table)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s.Table)
	}
	return out
}
