// Package model defines the entity entries carried by the registration
// layer and monitoring aggregator: topics, processes, and service
// server/client endpoints, plus the sample envelope exchanged between a
// matched publisher and subscriber.
package model

import "time"

// Direction distinguishes a topic entry's role.
type Direction string

const (
	DirectionPublisher  Direction = "publisher"
	DirectionSubscriber Direction = "subscriber"
)

// TransportKind names a usable data-plane transport for a topic entry.
type TransportKind string

const (
	TransportSHM TransportKind = "shm"
	TransportUDP TransportKind = "udp"
	TransportTCP TransportKind = "tcp"
)

// TopicID identifies a publisher or subscriber handle process-wide.
type TopicID struct {
	HostName     string
	ProcessID    string
	HandleSerial string
}

// ServiceMethodID identifies a single method of a service server or client
// instance process-wide.
type ServiceMethodID struct {
	HostName          string
	ProcessID         string
	ServiceName       string
	MethodName        string
	ServiceInstanceID string
}

// DataTypeInfo annotates a topic's payload as an opaque, externally
// serialized buffer.
type DataTypeInfo struct {
	Name       string
	Encoding   string
	Descriptor []byte
}

// TransportLayer records whether a given transport kind is active for a
// topic entry and any transport-specific parameters.
type TransportLayer struct {
	Kind   TransportKind
	Active bool
	Params map[string]string
}

// ConnectionCounts separates same-host from cross-host matches.
type ConnectionCounts struct {
	Local    int
	External int
}

// TopicEntry is the registration-layer view of a publisher or subscriber
// handle, refreshed at registration.refresh_interval and expired after
// monitoring.timeout of missed refreshes.
type TopicEntry struct {
	TopicID          TopicID
	TopicName        string
	DataType         DataTypeInfo
	Direction        Direction
	TransportLayers  []TransportLayer
	SizeHint         int
	Connections      ConnectionCounts
	DroppedMessages  uint64
	RegistrationTick uint64
	DataClock        uint64
	FrequencyMilliHz uint64
	Attributes       map[string]string

	// HostGroupName is carried alongside TopicID for SHM eligibility
	// matching; it is not part of the wire-level identity.
	HostGroupName string
}

// ProcessSeverity is the coarse health of a process as reported through
// set_process_state.
type ProcessSeverity int

const (
	SeverityUnknown ProcessSeverity = iota
	SeverityHealthy
	SeverityWarning
	SeverityCritical
	SeverityFailed
)

// ProcessState is the user-set severity/level/info triple.
type ProcessState struct {
	Severity ProcessSeverity
	Level    int
	Info     string
}

// TimesyncState reports whether a time synchronization module is active.
type TimesyncState struct {
	State      string
	ModuleName string
}

// ComponentInitState reports whether a single component (registration,
// monitoring, subscriber, publisher, service, logging, timesync) started
// cleanly during procctx.Initialize.
type ComponentInitState struct {
	State int
	Info  string
}

// ProcessEntry is the registration-layer view of a process.
type ProcessEntry struct {
	HostName         string
	HostGroupName    string
	ProcessID        string
	ProcessName      string
	UnitName         string
	ProcessParam     string
	State            ProcessState
	Tsync            TimesyncState
	ComponentInit    ComponentInitState
	RuntimeVersion   string
	RegistrationTick uint64
}

// MethodEntry describes one method exposed by a service server, or called
// through a service client.
type MethodEntry struct {
	MethodName   string
	RequestType  string
	ResponseType string
	CallCount    uint64
}

// ServiceEntry is the registration-layer view of a service server or
// client instance.
type ServiceEntry struct {
	HostName          string
	ProcessID         string
	ProcessName       string
	UnitName          string
	ServiceName       string
	ServiceInstanceID string
	TCPPortV0         int
	TCPPortV1         int
	Version           int
	Methods           []MethodEntry
	RegistrationTick  uint64
}

// SampleEnvelope is the on-wire frame carrying a single payload from a
// publisher to a subscriber. Sequence is strictly monotonic per publisher.
type SampleEnvelope struct {
	TopicID       TopicID
	Sequence      uint64
	SendClockNS   int64
	Payload       []byte
	PayloadHashID uint64
}

// Snapshot is the deep-copied, filtered view returned by the monitoring
// aggregator's get_monitoring operation.
type Snapshot struct {
	Processes        []ProcessEntry
	PublisherTopics  []TopicEntry
	SubscriberTopics []TopicEntry
	Servers          []ServiceEntry
	Clients          []ServiceEntry
	CapturedAt       time.Time
}

// LogEntry is one buffered log line delivered over the logging transport
// and returned (and cleared) by get_logging.
type LogEntry struct {
	HostName  string
	ProcessID string
	Level     string
	Message   string
	Time      time.Time
}
