package analyze

import (
	"fmt"
	"strings"

	"github.com/koltyakov/querydoctor/internal/collect"
)

// Columnstore evidence thresholds.
const (
	// ScanRatioThreshold: the query touches at least this fraction of the
	// table's rows.
	ScanRatioThreshold = 0.10

	// RowCountThreshold: tables below this size rarely benefit.
	RowCountThreshold = 1_000_000

	// WriteRatioThreshold: above this write share, columnstore maintenance
	// costs outweigh scan gains.
	WriteRatioThreshold = 0.10

	// Clustered conversion demands much stronger evidence than a secondary
	// columnstore: an analytics-only table scanned heavily.
	clusteredRowCount  = 10_000_000
	clusteredScanRatio = 0.50
)

// ColumnstoreVerdict is the suitability outcome for one table.
type ColumnstoreVerdict string

const (
	ColumnstoreNone         ColumnstoreVerdict = "NONE"
	ColumnstoreNonclustered ColumnstoreVerdict = "NONCLUSTERED"
	ColumnstoreClustered    ColumnstoreVerdict = "CLUSTERED"
)

// ColumnstoreAssessment scores one table for analytical-workload suitability.
// RequiresManualValidation is always true for any verdict other than NONE;
// this evaluator never auto-approves a structural change.
type ColumnstoreAssessment struct {
	Table   string             `json:"table"`
	Verdict ColumnstoreVerdict `json:"verdict"`

	HasAggregation       bool `json:"hasAggregation"`
	LargeScanRatio       bool `json:"largeScanRatio"`
	RowCountThresholdMet bool `json:"rowCountThresholdMet"`
	LowWriteRatio        bool `json:"lowWriteRatio"`

	RequiresManualValidation bool   `json:"requiresManualValidation"`
	Rationale                string `json:"rationale"`
}

// AssessColumnstore computes the evidence flags and verdict for a table
// profile. An unknown write ratio (negative) fails the low-write evidence.
func AssessColumnstore(p collect.TableProfile) ColumnstoreAssessment {
	a := ColumnstoreAssessment{
		Table:                p.Table,
		Verdict:              ColumnstoreNone,
		HasAggregation:       p.HasAggregation,
		LargeScanRatio:       p.ScanRowRatio >= ScanRatioThreshold,
		RowCountThresholdMet: p.RowCount >= RowCountThreshold,
		LowWriteRatio:        p.WriteRatio >= 0 && p.WriteRatio < WriteRatioThreshold,
	}

	mixedEvidence := a.HasAggregation && a.LargeScanRatio && a.RowCountThresholdMet && a.LowWriteRatio
	analyticsOnly := mixedEvidence && !p.SingletonLookups &&
		p.RowCount >= clusteredRowCount && p.ScanRowRatio >= clusteredScanRatio

	switch {
	case analyticsOnly:
		a.Verdict = ColumnstoreClustered
		a.Rationale = fmt.Sprintf(
			"analytics-only access: %d rows, %.0f%% scanned per execution, %.1f%% writes, no singleton lookups",
			p.RowCount, p.ScanRowRatio*100, p.WriteRatio*100)
	case mixedEvidence:
		a.Verdict = ColumnstoreNonclustered
		a.Rationale = fmt.Sprintf(
			"mixed workload with aggregation: %d rows, %.0f%% scanned per execution, %.1f%% writes",
			p.RowCount, p.ScanRowRatio*100, p.WriteRatio*100)
	default:
		a.Rationale = "evidence does not support a columnstore: " + strings.Join(a.missingEvidence(), ", ")
	}

	a.RequiresManualValidation = a.Verdict != ColumnstoreNone
	return a
}

func (a ColumnstoreAssessment) missingEvidence() []string {
	var m []string
	if !a.HasAggregation {
		m = append(m, "no aggregation")
	}
	if !a.LargeScanRatio {
		m = append(m, "scan ratio below threshold")
	}
	if !a.RowCountThresholdMet {
		m = append(m, "row count below threshold")
	}
	if !a.LowWriteRatio {
		m = append(m, "write ratio too high or unknown")
	}
	if len(m) == 0 {
		m = append(m, "singleton lookups present")
	}
	return m
}
