// Package ids generates the identifiers used across the registration table:
// process ids, topic handle serials, and service instance ids. All three
// are process-local, stable for the lifetime of the owning entity, and
// never reused, which is exactly what a UUID gives us for free.
package ids

import "github.com/google/uuid"

// NewProcessID returns a new process id, generated once per procctx.Context
// and held for the life of the process.
func NewProcessID() string {
	return uuid.New().String()
}

// NewHandleSerial returns a new topic handle serial, the third component of
// a topic id (host_name, process_id, handle_serial).
func NewHandleSerial() string {
	return uuid.New().String()
}

// NewServiceInstanceID returns a new service instance id, unique
// process-wide and stable for the lifetime of the server that owns it.
func NewServiceInstanceID() string {
	return uuid.New().String()
}

// NewRequestID returns a new per-call request id used to correlate a
// service frame's response with its request on a shared connection.
func NewRequestID() string {
	return uuid.New().String()
}
