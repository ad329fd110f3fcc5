// Package logging provides structured logging for odooctl.
//
// Logs are JSON lines written by log/slog to {state dir}/odooctl.log, or to
// stderr when no directory is configured. Long-running commands (task watch,
// schedule run, mcp) use [NewLoggerWithRotation] so the file stays bounded.
//
// # Context Propagation
//
// Child loggers carry attributes that the query tooling understands:
//
//	log := logger.WithComponent("poller").WithTask("8f14e45f")
//	log.Info("lookup", "status", "running", "interval_ms", 800)
//
// produces
//
//	{"time":"...","level":"INFO","msg":"lookup","component":"poller","task_id":"8f14e45f","status":"running","interval_ms":800}
//
// # Querying
//
// [ReadEntries] parses a log file and a [Query] narrows it down by level,
// time range, component or task id. `odooctl log` is a thin wrapper:
//
//	entries, _ := logging.ReadEntries(path)
//	entries = logging.Query{TaskID: id, Level: "WARN"}.Filter(entries)
//	_ = logging.WriteEntries(os.Stdout, entries, "text")
//
// All types in this package are safe for concurrent use.
package logging
