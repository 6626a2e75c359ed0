/*
Package monstore provides BoltDB-backed persistence for the monitoring
aggregator's entity table and buffered log entries.

Everything the registration layer tracks is already kept in memory by
pkg/registry and pkg/monitor; monstore exists so a restarted monitoring
process doesn't have to wait a full registration.timeout_ms for every
peer on the network to re-announce before get_monitoring/get_logging
report anything. Four buckets hold JSON-encoded entries:

	processes  keyed by process ID
	topics     keyed by host/process/handle (see TopicKey)
	services   keyed by host/process/service/instance (see ServiceKey)
	log        keyed by an auto-incrementing sequence (append order)

SaveProcess/SaveTopic/SaveService are called by pkg/monitor's Bus
subscriber on every KindUpdated announcement; DeleteProcess/DeleteTopic/
DeleteService on every KindExpired one. LoadSnapshot reconstructs a
model.Snapshot on startup, splitting topics by Direction and services
into Servers/Clients by whether a TCP port is set. DrainLogEntries
implements get_logging's return-and-clear contract directly: it reads
and deletes every buffered entry within the same transaction.
*/
package monstore
