package analyze

import (
	"fmt"
	"sort"
	"strings"

	"github.com/koltyakov/querydoctor/internal/collect"
)

// Covering-index gate thresholds.
const (
	// CoveringMinExecutionsPerDay: below this frequency the lookup cost is
	// not worth the write amplification of included columns.
	CoveringMinExecutionsPerDay = 10_000

	// CoveringMinLookupShare: the key lookup must dominate the plan.
	CoveringMinLookupShare = 0.30

	// CoveringMaxWriteRatio: write-heavy tables pay for every included
	// column on every write.
	CoveringMaxWriteRatio = 0.10
)

// IndexRecommendation is one ranked index proposal. The statement is emitted
// as data; nothing in this package executes DDL.
//
// A HIGH-priority recommendation never carries included columns. Included
// columns appear only on an explicitly-labeled last-resort covering variant
// whose every gate condition held.
type IndexRecommendation struct {
	Table           string           `json:"table"`
	Priority        collect.Priority `json:"priority"`
	KeyColumns      []string         `json:"keyColumns"`
	IncludedColumns []string         `json:"includedColumns,omitempty"`
	Rationale       string           `json:"rationale"`
	Impact          string           `json:"impact"`
	LastResort      bool             `json:"lastResort,omitempty"`
	Statement       string           `json:"statement"`
}

// CostModel optionally overrides the qualitative impact label for a
// recommendation. The default derives it from the priority.
type CostModel func(IndexRecommendation) string

// IndexInputs gathers everything the strategy engine consults.
type IndexInputs struct {
	Shapes      []collect.QueryShape
	Plan        PlanAnalysis
	Hints       []collect.IndexHint
	Workload    collect.Workload
	Profiles    map[string]collect.TableProfile
	Columnstore map[string]ColumnstoreAssessment
	CostModel   CostModel
}

// candidateKind records what pattern produced a candidate, which decides its
// priority tier.
type candidateKind int

const (
	kindPredicate candidateKind = iota
	kindSort
	kindHint
)

type candidate struct {
	table     string
	kind      candidateKind
	keys      []string
	projected []string
}

// RecommendIndexes derives ranked index recommendations from query structure,
// plan findings, and columnstore verdicts.
//
// Key column order: equality predicates in order of appearance, then range
// predicates, then join keys not already present. One candidate per distinct
// predicate/join/order pattern; overlapping candidates with the same leading
// prefix collapse into the superset. Engine-supplied hints contribute key
// ideas only.
func RecommendIndexes(in IndexInputs) []IndexRecommendation {
	var cands []candidate

	for _, s := range in.Shapes {
		keys := dedupeColumns(s.EqualityColumns, s.RangeColumns, s.JoinColumns)
		if len(keys) > 0 {
			cands = append(cands, candidate{table: s.Table, kind: kindPredicate, keys: keys, projected: s.ProjectedColumns})
		}
		if len(s.OrderColumns) > 0 {
			cands = append(cands, candidate{
				table:     s.Table,
				kind:      kindSort,
				keys:      dedupeColumns(s.EqualityColumns, s.OrderColumns),
				projected: s.ProjectedColumns,
			})
		}
		if len(s.GroupColumns) > 0 {
			cands = append(cands, candidate{
				table:     s.Table,
				kind:      kindSort,
				keys:      dedupeColumns(s.EqualityColumns, s.GroupColumns),
				projected: s.ProjectedColumns,
			})
		}
	}

	// Hints contribute key-column ideas; their include lists are discarded
	// here and never resurface unless the covering gate independently holds.
	for _, h := range in.Hints {
		if len(h.KeyColumns) == 0 {
			continue
		}
		cands = append(cands, candidate{table: h.Table, kind: kindHint, keys: dedupeColumns(h.KeyColumns)})
	}

	cands = collapsePrefixes(cands)

	var out []IndexRecommendation
	for _, c := range cands {
		rec := IndexRecommendation{
			Table:      c.table,
			Priority:   in.priorityFor(c),
			KeyColumns: c.keys,
		}
		rec.Rationale = in.rationaleFor(c, rec.Priority)
		rec.Impact = in.impactFor(rec)
		rec.Statement = indexStatement(rec)
		out = append(out, rec)

		if cover := in.coveringVariant(c, rec); cover != nil {
			out = append(out, *cover)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() > out[j].Priority.Rank()
	})
	return out
}

func (in IndexInputs) priorityFor(c candidate) collect.Priority {
	table := strings.ToLower(c.table)
	switch c.kind {
	case kindPredicate:
		if in.Plan.ScanCostShare[table] > HighCostShare {
			return collect.PriorityHigh
		}
		if in.Plan.JoinInefficiency {
			return collect.PriorityMedium
		}
	case kindSort:
		if in.Plan.SortPresent || in.Plan.JoinInefficiency {
			return collect.PriorityMedium
		}
	}
	return collect.PriorityLow
}

func (in IndexInputs) rationaleFor(c candidate, p collect.Priority) string {
	table := strings.ToLower(c.table)
	switch {
	case p == collect.PriorityHigh:
		return fmt.Sprintf("replaces a scan carrying %.0f%% of plan cost on %s with a seek",
			in.Plan.ScanCostShare[table]*100, c.table)
	case c.kind == kindSort:
		return "supplies the sort/group order from the index instead of a Sort operator"
	case c.kind == kindHint:
		return "derived from an engine index hint; validate against the broader workload"
	default:
		return "general workload health: supports the query's predicates and joins"
	}
}

func (in IndexInputs) impactFor(rec IndexRecommendation) string {
	if in.CostModel != nil {
		if v := in.CostModel(rec); v != "" {
			return v
		}
	}
	switch rec.Priority {
	case collect.PriorityHigh:
		return "high"
	case collect.PriorityMedium:
		return "moderate"
	default:
		return "low"
	}
}

// coveringVariant emits the INCLUDE-bearing variant of a lean candidate as a
// separate last-resort recommendation, and only when every gate condition
// holds. Unknown inputs fail the gate closed; nothing is guessed.
func (in IndexInputs) coveringVariant(c candidate, lean IndexRecommendation) *IndexRecommendation {
	include := subtractColumns(c.projected, c.keys)
	if len(include) == 0 {
		return nil
	}
	g := in.coveringGate(c.table, lean)
	if !g.allow() {
		return nil
	}
	rec := IndexRecommendation{
		Table:           c.table,
		Priority:        collect.PriorityMedium,
		KeyColumns:      c.keys,
		IncludedColumns: include,
		LastResort:      true,
		Rationale: fmt.Sprintf(
			"last resort: covering variant eliminating a key lookup at %.0f%% of plan cost on a business-critical query (%d executions/day, %.1f%% writes)",
			g.lookupShare*100, in.Workload.ExecutionsPerDay, g.writeRatio*100),
	}
	rec.Impact = in.impactFor(rec)
	rec.Statement = indexStatement(rec)
	return &rec
}

// coveringGate evaluates the six conditions that together permit included
// columns. Each field is kept separate so boundary behavior stays testable
// per condition.
type coveringGate struct {
	columnstoreNone  bool
	frequencyMet     bool
	lookupDominates  bool
	lowWriteRatio    bool
	businessCritical bool
	leanEmitted      bool

	lookupShare float64
	writeRatio  float64
}

func (g coveringGate) allow() bool {
	return g.columnstoreNone && g.frequencyMet && g.lookupDominates &&
		g.lowWriteRatio && g.businessCritical && g.leanEmitted
}

func (in IndexInputs) coveringGate(table string, lean IndexRecommendation) coveringGate {
	key := strings.ToLower(table)
	g := coveringGate{
		frequencyMet:     in.Workload.ExecutionsPerDay >= CoveringMinExecutionsPerDay,
		businessCritical: in.Workload.BusinessCritical,
		leanEmitted:      len(lean.KeyColumns) > 0 && len(lean.IncludedColumns) == 0,
		lookupShare:      in.Plan.KeyLookupShare[key],
		writeRatio:       -1,
	}
	// Missing assessment means the table was never evaluated: unknown, so
	// the condition fails closed.
	if a, ok := in.Columnstore[key]; ok {
		g.columnstoreNone = a.Verdict == ColumnstoreNone
	}
	g.lookupDominates = g.lookupShare > CoveringMinLookupShare
	if p, ok := in.Profiles[key]; ok {
		g.writeRatio = p.WriteRatio
	}
	g.lowWriteRatio = g.writeRatio >= 0 && g.writeRatio < CoveringMaxWriteRatio
	return g
}

// collapsePrefixes deduplicates candidates on the same table whose key lists
// share a leading prefix, keeping the superset.
func collapsePrefixes(cands []candidate) []candidate {
	var out []candidate
	for _, c := range cands {
		absorbed := false
		for i, kept := range out {
			if !strings.EqualFold(kept.table, c.table) {
				continue
			}
			switch {
			case isPrefix(c.keys, kept.keys):
				// kept is the superset; merge projection knowledge
				out[i].projected = dedupeColumns(kept.projected, c.projected)
				absorbed = true
			case isPrefix(kept.keys, c.keys):
				c.projected = dedupeColumns(kept.projected, c.projected)
				if kept.kind != kindHint {
					c.kind = kept.kind
				}
				out[i] = c
				absorbed = true
			}
			if absorbed {
				break
			}
		}
		if !absorbed {
			out = append(out, c)
		}
	}
	return out
}

// isPrefix reports whether a is a leading prefix of b (case-insensitive).
func isPrefix(a, b []string) bool {
	if len(a) > len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// dedupeColumns concatenates column groups preserving order of first
// appearance and dropping case-insensitive duplicates.
func dedupeColumns(groups ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, g := range groups {
		for _, col := range g {
			key := strings.ToLower(col)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, col)
		}
	}
	return out
}

// subtractColumns returns the members of cols not present in remove,
// preserving order.
func subtractColumns(cols, remove []string) []string {
	drop := map[string]struct{}{}
	for _, c := range remove {
		drop[strings.ToLower(c)] = struct{}{}
	}
	var out []string
	for _, c := range cols {
		if _, ok := drop[strings.ToLower(c)]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// indexStatement renders the CREATE INDEX statement for a recommendation.
// Emitted strictly as data for a human or separate executor.
func indexStatement(rec IndexRecommendation) string {
	name := "IX_" + sanitizeIdent(rec.Table)
	for _, c := range rec.KeyColumns {
		name += "_" + sanitizeIdent(c)
	}
	stmt := fmt.Sprintf("CREATE NONCLUSTERED INDEX %s ON %s (%s)",
		name, rec.Table, strings.Join(rec.KeyColumns, ", "))
	if len(rec.IncludedColumns) > 0 {
		stmt += fmt.Sprintf(" INCLUDE (%s)", strings.Join(rec.IncludedColumns, ", "))
	}
	return stmt + ";"
}

func sanitizeIdent(s string) string {
	return strings.NewReplacer(".", "_", " ", "_", "[", "", "]", "").Replace(s)
}
