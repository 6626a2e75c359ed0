/*
Package monitor implements the monitoring aggregator described by the
registration layer's get_monitoring/get_logging operations.

	mon, _ := monitor.New(reg, b, store, cfg.Monitoring)
	defer mon.Close(b)
	snap := mon.GetMonitoring()
	entries, _ := mon.GetLogging()

New subscribes to the shared bus.Bus (the same one pkg/registry
publishes topic/process/service announcements to) and mirrors every
update and expiry into a monstore.Store, so a restarted aggregator does
not start from an empty table. store may be nil to run without
persistence, useful for tests or a process that only cares about the
live in-memory view.

GetMonitoring reads registry.Registry.FreshSnapshot, passing the
monitoring timeout as the staleness window, and applies config.Monitoring's filter_incl/filter_excl regexes against each
entry's process, topic, or service name when filter_enabled is set; an
entry excluded by filter_excl never appears even if filter_incl would
also have matched it.

GetLogging/RecordLog are a thin pass-through to the store's buffered log
bucket: RecordLog is how a process feeds its own log lines in, GetLogging
is the return-and-clear read a monitoring consumer uses to drain them.
*/
package monitor
