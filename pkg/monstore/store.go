// Package monstore persists the monitoring aggregator's last-known entity
// table and buffered log entries, so get_monitoring/get_logging survive an
// aggregator restart without waiting a full registration.timeout_ms for
// every peer to re-announce.
package monstore

import "github.com/cuemby/fabric/pkg/model"

// Store defines the durable persistence interface for the monitoring
// aggregator, implemented by BoltStore.
type Store interface {
	// SaveProcess upserts a process entry.
	SaveProcess(p *model.ProcessEntry) error
	// SaveTopic upserts a topic entry.
	SaveTopic(t *model.TopicEntry) error
	// SaveService upserts a service server/client entry.
	SaveService(s *model.ServiceEntry) error

	// DeleteProcess removes a process entry by process ID.
	DeleteProcess(processID string) error
	// DeleteTopic removes a topic entry by its topic ID key.
	DeleteTopic(topicKey string) error
	// DeleteService removes a service entry by its service-instance key.
	DeleteService(serviceKey string) error

	// LoadSnapshot reconstructs the last persisted monitoring snapshot.
	LoadSnapshot() (model.Snapshot, error)

	// AppendLogEntry buffers one log line for later retrieval.
	AppendLogEntry(e model.LogEntry) error
	// DrainLogEntries returns all buffered log entries and clears the
	// buffer, matching get_logging's returned-and-cleared semantics.
	DrainLogEntries() ([]model.LogEntry, error)

	// Close closes the underlying database.
	Close() error
}
