package collect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"golang.org/x/sync/errgroup"

	qerrors "github.com/koltyakov/querydoctor/internal/errors"
)

// Collector captures live telemetry from a SQL Server instance: baseline
// execution metrics, per-table statistics health, and instance health. It is
// strictly read-only; the only statement it executes against user objects is
// the query under diagnosis itself.
type Collector struct {
	cfg Config
	log *slog.Logger
	db  *sql.DB
}

// NewCollector opens a connection pool against cfg.URL. The connection is
// validated lazily on first use.
func NewCollector(cfg Config, log *slog.Logger) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", qerrors.ErrInvalidConfig, err)
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlserver", cfg.URL)
	if err != nil {
		return nil, qerrors.NewCollectionError("open connection", err, false)
	}
	db.SetMaxOpenConns(2)
	return &Collector{cfg: cfg, log: log, db: db}, nil
}

// Close releases the connection pool.
func (c *Collector) Close() error { return c.db.Close() }

// CaptureBaseline executes the query under the caller's context, draining and
// counting the result rows, then reads the execution statistics the engine
// recorded for it. The capture is cancellable; exceeding the configured
// timeout surfaces as ErrExecutionTimeout rather than blocking.
func (c *Collector) CaptureBaseline(ctx context.Context, query string) (BaselineMetrics, error) {
	m := BaselineMetrics{CapturedAt: time.Now(), Bottleneck: BottleneckUnknown}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return m, c.baselineErr(err)
	}
	for rows.Next() {
		m.RowCount++
	}
	closeErr := rows.Close()
	if err := rows.Err(); err != nil {
		return m, c.baselineErr(err)
	}
	if closeErr != nil {
		return m, c.baselineErr(closeErr)
	}
	m.DurationMs = float64(time.Since(start)) / float64(time.Millisecond)

	// Execution stats are best effort; duration and row count alone still
	// make a usable baseline.
	if err := c.fetchExecStats(ctx, query, &m); err != nil {
		c.log.Warn("baseline exec stats unavailable", "error", err)
		return m, qerrors.NewCollectionError("fetch execution stats", err, true)
	}
	m.Bottleneck = classifyBottleneck(m)
	return m, nil
}

func (c *Collector) baselineErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v", qerrors.ErrExecutionTimeout, c.cfg.Timeout)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: baseline capture canceled", qerrors.ErrExecutionTimeout)
	}
	return qerrors.NewCollectionError("capture baseline", err, false)
}

// fetchExecStats pulls reads and CPU time for the most recent execution of
// the query text from the plan cache.
func (c *Collector) fetchExecStats(ctx context.Context, query string, m *BaselineMetrics) error {
	const q = `
        SELECT TOP 1
            qs.last_logical_reads,
            qs.last_physical_reads,
            qs.last_worker_time / 1000.0,
            qs.last_elapsed_time / 1000.0
        FROM sys.dm_exec_query_stats qs
        CROSS APPLY sys.dm_exec_sql_text(qs.sql_handle) AS st
        WHERE st.text = @text
        ORDER BY qs.last_execution_time DESC`

	var elapsedMs float64
	row := c.db.QueryRowContext(ctx, q, sql.Named("text", query))
	if err := row.Scan(&m.LogicalReads, &m.PhysicalReads, &m.CPUMs, &elapsedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil // not cached; keep client-side timing
		}
		return err
	}
	if elapsedMs > 0 {
		m.DurationMs = elapsedMs
	}
	return nil
}

// classifyBottleneck derives a coarse bottleneck class from the captured
// counters. CPU close to wall time means CPU bound; heavy physical reads
// mean IO bound; a large unexplained gap means waits.
func classifyBottleneck(m BaselineMetrics) Bottleneck {
	if m.DurationMs <= 0 {
		return BottleneckUnknown
	}
	cpuShare := m.CPUMs / m.DurationMs
	switch {
	case cpuShare >= 0.75:
		return BottleneckCPU
	case m.PhysicalReads > 0 && m.PhysicalReads*4 >= m.LogicalReads:
		return BottleneckIO
	case cpuShare < 0.25 && m.CPUMs > 0:
		return BottleneckWait
	case m.LogicalReads > 0:
		return BottleneckIO
	default:
		return BottleneckUnknown
	}
}

// TableStatistics reads statistics freshness for each table from
// sys.dm_db_stats_properties, one worst-case row per table. Tables that
// resolve to more than one object surface ErrAmbiguousContext; collection
// continues for the remaining tables and the error is reported alongside the
// partial result.
func (c *Collector) TableStatistics(ctx context.Context, tables []string) ([]TableStatistics, error) {
	var (
		mu   sync.Mutex
		out  []TableStatistics
		merr qerrors.MultiError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, table := range tables {
		table := table
		g.Go(func() error {
			st, err := c.tableStatistics(gctx, table)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merr.Add(err)
				return nil // keep collecting the rest
			}
			out = append(out, st)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		merr.Add(err)
	}
	return out, merr.ErrorOrNil()
}

func (c *Collector) tableStatistics(ctx context.Context, table string) (TableStatistics, error) {
	st := TableStatistics{Table: table}

	if !strings.Contains(table, ".") {
		// Unqualified name: refuse to guess between same-named tables in
		// different schemas.
		var n int
		row := c.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sys.tables WHERE name = @name`, sql.Named("name", table))
		if err := row.Scan(&n); err != nil {
			return st, qerrors.NewCollectionError("resolve table "+table, err, false)
		}
		switch {
		case n == 0:
			return st, fmt.Errorf("%w: table %q not found", qerrors.ErrAmbiguousContext, table)
		case n > 1:
			return st, fmt.Errorf("%w: table %q matches %d schemas", qerrors.ErrAmbiguousContext, table, n)
		}
	}

	const q = `
        SELECT
            MAX(DATEDIFF(day, sp.last_updated, GETDATE())),
            MAX(CASE WHEN sp.rows > 0 THEN 100.0 * sp.modification_counter / sp.rows ELSE 0 END),
            MIN(CASE WHEN sp.rows > 0 THEN 100.0 * sp.rows_sampled / sp.rows ELSE 100 END)
        FROM sys.stats s
        CROSS APPLY sys.dm_db_stats_properties(s.object_id, s.stats_id) sp
        WHERE s.object_id = OBJECT_ID(@table)`

	var ageDays sql.NullInt64
	var modPct, samplePct sql.NullFloat64
	row := c.db.QueryRowContext(ctx, q, sql.Named("table", table))
	if err := row.Scan(&ageDays, &modPct, &samplePct); err != nil {
		return st, qerrors.NewCollectionError("fetch statistics for "+table, err, false)
	}
	st.AgeDays = int(ageDays.Int64)
	st.ModificationPct = modPct.Float64
	st.SamplingPct = samplePct.Float64
	if !samplePct.Valid {
		st.SamplingPct = 100
	}

	row = c.db.QueryRowContext(ctx,
		`SELECT is_auto_update_stats_on, is_auto_create_stats_on FROM sys.databases WHERE name = DB_NAME()`)
	if err := row.Scan(&st.AutoUpdate, &st.AutoCreate); err != nil {
		return st, qerrors.NewCollectionError("fetch database stats options", err, true)
	}
	return st, nil
}

// InstanceHealth reads the instance-level health block: memory counters,
// scheduler pressure, and the configuration values the health checks look
// at. Servicing state (patch gap) is not derivable from DMVs and stays at
// its bundle-supplied value.
func (c *Collector) InstanceHealth(ctx context.Context) (ServerHealth, error) {
	h := ServerHealth{}
	var merr qerrors.MultiError

	row := c.db.QueryRowContext(ctx, `SELECT @@SERVERNAME, CONVERT(VARCHAR(128), SERVERPROPERTY('ProductVersion'))`)
	merr.Add(row.Scan(&h.ServerName, &h.Version))

	const memQ = `
        SELECT
            MAX(CASE WHEN counter_name = 'Page life expectancy' AND object_name LIKE '%Buffer Node%' THEN cntr_value END),
            MAX(CASE WHEN counter_name = 'Memory Grants Pending' THEN cntr_value END),
            MAX(CASE WHEN counter_name = 'Target Server Memory (KB)' THEN cntr_value / 1024 END),
            MAX(CASE WHEN counter_name = 'Total Server Memory (KB)' THEN cntr_value / 1024 END)
        FROM sys.dm_os_performance_counters
        WHERE counter_name IN ('Page life expectancy', 'Memory Grants Pending',
                               'Target Server Memory (KB)', 'Total Server Memory (KB)')`
	row = c.db.QueryRowContext(ctx, memQ)
	merr.Add(row.Scan(&h.PageLifeExpectancySec, &h.MemoryGrantsPending, &h.TargetMemoryMB, &h.TotalMemoryMB))

	const sysQ = `
        SELECT
            i.physical_memory_kb / 1024,
            i.cpu_count,
            i.cpu_count / i.hyperthread_ratio,
            CASE WHEN CAST(SERVERPROPERTY('EngineEdition') AS INT) = 2 THEN 1 ELSE 0 END
        FROM sys.dm_os_sys_info i`
	row = c.db.QueryRowContext(ctx, sysQ)
	merr.Add(row.Scan(&h.PhysicalMemoryMB, &h.CPUCount, &h.PhysicalCPUs, &h.StandardEdition))

	const cfgQ = `
        SELECT
            MAX(CASE WHEN name = 'max server memory (MB)' THEN CAST(value_in_use AS INT) END),
            MAX(CASE WHEN name = 'cost threshold for parallelism' THEN CAST(value_in_use AS INT) END),
            MAX(CASE WHEN name = 'max degree of parallelism' THEN CAST(value_in_use AS INT) END)
        FROM sys.configurations
        WHERE name IN ('max server memory (MB)', 'cost threshold for parallelism', 'max degree of parallelism')`
	row = c.db.QueryRowContext(ctx, cfgQ)
	merr.Add(row.Scan(&h.MaxServerMemoryMB, &h.CostThreshold, &h.MaxDOP))

	const schedQ = `
        SELECT COUNT(*),
               AVG(1.0 * runnable_tasks_count),
               AVG(1.0 * pending_disk_io_count)
        FROM sys.dm_os_schedulers
        WHERE scheduler_id < 255`
	row = c.db.QueryRowContext(ctx, schedQ)
	merr.Add(row.Scan(&h.SchedulerCount, &h.AvgRunnableTasks, &h.AvgPendingDiskIO))

	if err := merr.ErrorOrNil(); err != nil {
		return h, qerrors.NewCollectionError("instance health", err, true)
	}
	h.Collected = true
	return h, nil
}

// Augment overlays live captures onto a bundle: a fresh baseline, statistics
// for the referenced tables, and instance health. Sections that fail keep
// their bundle-supplied values; errors aggregate into the returned MultiError
// so a partial augmentation is still usable.
func (c *Collector) Augment(ctx context.Context, b Bundle) (Bundle, error) {
	var merr qerrors.MultiError

	if b.Query != "" {
		m, err := c.CaptureBaseline(ctx, b.Query)
		if err != nil && !isPartial(err) {
			merr.Add(err)
		} else {
			if err != nil {
				merr.Add(err)
			}
			b.Baseline = &m
		}
	}

	if tables := b.ReferencedTables(); len(tables) > 0 {
		stats, err := c.TableStatistics(ctx, tables)
		merr.Add(err)
		if len(stats) > 0 {
			b.Statistics = stats
		}
	}

	h, err := c.InstanceHealth(ctx)
	merr.Add(err)
	if h.Collected {
		if b.Server != nil {
			// Keep bundle-supplied servicing state, which DMVs cannot provide.
			h.MonthsSinceSecurityPatch = b.Server.MonthsSinceSecurityPatch
			h.CumulativeUpdatesBehind = b.Server.CumulativeUpdatesBehind
		}
		b.Server = &h
	}

	return b, merr.ErrorOrNil()
}

func isPartial(err error) bool {
	var ce *qerrors.CollectionError
	return errors.As(err, &ce) && ce.Partial
}
