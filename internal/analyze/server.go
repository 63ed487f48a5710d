package analyze

import (
	"fmt"

	"github.com/koltyakov/querydoctor/internal/collect"
	"github.com/koltyakov/querydoctor/internal/severity"
)

// standardEditionMemoryLimitMB is the Standard Edition buffer pool cap (128 GB).
const standardEditionMemoryLimitMB = 131072

// EvaluateInstanceHealth runs the instance-level checks over a collected
// health block: servicing state, memory pressure, scheduler pressure, and the
// configuration values that most often throttle query performance. These
// findings enrich the summary report; they never gate the query phases.
func EvaluateInstanceHealth(h collect.ServerHealth) []Finding {
	if !h.Collected {
		return nil
	}
	var out []Finding

	// Servicing
	patch := severity.PatchGap.Classify(severity.PatchSample{
		MonthsSinceSecurityPatch: h.MonthsSinceSecurityPatch,
		UpdatesBehind:            h.CumulativeUpdatesBehind,
	})
	if patch != severity.OK {
		out = append(out, Finding{
			Code:     "patch-gap",
			Title:    "Instance behind on servicing",
			Severity: patch,
			Description: fmt.Sprintf("%d months since last security patch, %d cumulative updates behind",
				h.MonthsSinceSecurityPatch, h.CumulativeUpdatesBehind),
			Action: "Schedule the latest cumulative update; security patches first.",
		})
	}

	// Memory
	if lvl := severity.PageLife.Classify(h.PageLifeExpectancySec); lvl != severity.OK {
		out = append(out, Finding{
			Code:        "low-ple",
			Title:       "Low page life expectancy",
			Severity:    lvl,
			Description: fmt.Sprintf("PLE is %d seconds", h.PageLifeExpectancySec),
			Action:      "Buffer pool churn is high; review memory sizing and the working set of heavy queries.",
		})
	}
	if lvl := severity.MemoryGrants.Classify(h.MemoryGrantsPending); lvl != severity.OK {
		out = append(out, Finding{
			Code:        "memory-grants-pending",
			Title:       "Queries waiting for memory grants",
			Severity:    lvl,
			Description: fmt.Sprintf("%d queries are waiting for memory", h.MemoryGrantsPending),
			Action:      "Reduce concurrent memory-hungry queries or add memory; grants pending above zero stalls execution.",
		})
	}
	if gap := h.TargetMemoryMB - h.TotalMemoryMB; gap > 0 {
		if lvl := severity.MemoryGap.Classify(gap); lvl != severity.OK {
			out = append(out, Finding{
				Code:        "memory-pressure",
				Title:       "Instance wants more memory",
				Severity:    lvl,
				Description: fmt.Sprintf("target memory exceeds allocated by %d MB", gap),
				Action:      "The instance cannot reach its target; check max server memory and host memory pressure.",
			})
		}
	}
	out = append(out, maxMemoryFindings(h)...)

	// Schedulers
	if lvl := severity.RunnableTasks.Classify(h.AvgRunnableTasks); lvl != severity.OK {
		out = append(out, Finding{
			Code:     "cpu-pressure",
			Title:    "CPU pressure on schedulers",
			Severity: lvl,
			Description: fmt.Sprintf("%.2f runnable tasks per scheduler across %d schedulers",
				h.AvgRunnableTasks, h.SchedulerCount),
			Action: "Tasks are queueing for CPU; reduce parallelism pressure or tune the heaviest queries.",
		})
	}
	if lvl := severity.PendingDiskIO.Classify(h.AvgPendingDiskIO); lvl != severity.OK {
		out = append(out, Finding{
			Code:        "io-pressure",
			Title:       "Pending disk IO on schedulers",
			Severity:    lvl,
			Description: fmt.Sprintf("%.2f pending IO operations per scheduler", h.AvgPendingDiskIO),
			Action:      "Check the disk subsystem; sustained pending IO slows every query.",
		})
	}

	// Parallelism configuration
	switch {
	case h.CostThreshold == 5:
		out = append(out, Finding{
			Code:        "cost-threshold-default",
			Title:       "Cost threshold for parallelism at default",
			Severity:    severity.Warning,
			Description: "cost threshold for parallelism is 5, too low for modern servers",
			Action:      "Raise to 25-50 so trivial queries stop going parallel.",
		})
	case h.CostThreshold > 0 && h.CostThreshold < 25:
		out = append(out, Finding{
			Code:        "cost-threshold-low",
			Title:       "Cost threshold for parallelism is low",
			Severity:    severity.Consider,
			Description: fmt.Sprintf("cost threshold for parallelism is %d", h.CostThreshold),
			Action:      "Consider 25-50 to reduce excessive parallelism.",
		})
	}
	switch {
	case h.MaxDOP == 0 && h.CPUCount > 0:
		out = append(out, Finding{
			Code:        "maxdop-unlimited",
			Title:       "MAXDOP unlimited",
			Severity:    severity.Warning,
			Description: fmt.Sprintf("max degree of parallelism is 0 with %d CPUs", h.CPUCount),
			Action:      fmt.Sprintf("Set MAXDOP to %d (physical CPU count, capped at 8).", capInt(h.PhysicalCPUs, 8)),
		})
	case h.MaxDOP == 1:
		out = append(out, Finding{
			Code:        "maxdop-disabled",
			Title:       "Parallelism disabled",
			Severity:    severity.Warning,
			Description: "max degree of parallelism is 1; multi-core is not utilized",
			Action:      "Raise MAXDOP unless a vendor requires 1.",
		})
	case h.MaxDOP > 8:
		out = append(out, Finding{
			Code:        "maxdop-high",
			Title:       "MAXDOP above 8",
			Severity:    severity.Consider,
			Description: fmt.Sprintf("max degree of parallelism is %d", h.MaxDOP),
			Action:      "Values above 8 rarely help and often hurt; measure before keeping it.",
		})
	}

	return out
}

func maxMemoryFindings(h collect.ServerHealth) []Finding {
	var out []Finding
	switch {
	case h.MaxServerMemoryMB == 2147483647:
		out = append(out, Finding{
			Code:        "max-memory-unlimited",
			Title:       "Max server memory unlimited",
			Severity:    severity.Critical,
			Description: fmt.Sprintf("max server memory is at the unlimited default (host has %d MB)", h.PhysicalMemoryMB),
			Action:      fmt.Sprintf("Set max server memory to about %d MB, leaving headroom for the OS.", h.PhysicalMemoryMB-4096),
		})
	case h.StandardEdition && h.MaxServerMemoryMB > standardEditionMemoryLimitMB:
		out = append(out, Finding{
			Code:        "max-memory-edition-limit",
			Title:       "Max server memory exceeds Standard Edition limit",
			Severity:    severity.Critical,
			Description: fmt.Sprintf("configured %d MB against the 131072 MB Standard Edition cap", h.MaxServerMemoryMB),
			Action:      "Reduce to 131072 MB; memory above the cap is never used.",
		})
	case h.PhysicalMemoryMB > 0 && h.MaxServerMemoryMB > h.PhysicalMemoryMB*9/10:
		out = append(out, Finding{
			Code:        "max-memory-high",
			Title:       "Max server memory leaves no OS headroom",
			Severity:    severity.Warning,
			Description: fmt.Sprintf("configured %d MB of %d MB physical", h.MaxServerMemoryMB, h.PhysicalMemoryMB),
			Action:      "Leave at least 10% of physical memory to the OS.",
		})
	case h.PhysicalMemoryMB > 0 && h.MaxServerMemoryMB > 0 && h.MaxServerMemoryMB < h.PhysicalMemoryMB/2 &&
		!(h.StandardEdition && h.MaxServerMemoryMB >= standardEditionMemoryLimitMB):
		out = append(out, Finding{
			Code:        "max-memory-low",
			Title:       "Max server memory artificially low",
			Severity:    severity.Warning,
			Description: fmt.Sprintf("configured %d MB of %d MB physical", h.MaxServerMemoryMB, h.PhysicalMemoryMB),
			Action:      "Raise max server memory unless the host is shared.",
		})
	}
	return out
}

func capInt(v, max int) int {
	if v > max || v <= 0 {
		return max
	}
	return v
}
