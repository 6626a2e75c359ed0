/*
Package tcpsvc implements the TCP data-plane transport: a length-prefixed
framed stream per publisher→subscriber pair, used when pkg/shm (same
host) and UDP multicast are both unavailable for a given pair.

A Listener accepts inbound connections from publishers and decodes
samples off each one. A Sender holds one outbound, lazily-dialed
connection to a single subscriber; Send rate-limits the write with
golang.org/x/time/rate before attempting it, so a slow or unreachable
peer shows up to the caller as added latency rather than an unbounded
send buffer. A failed dial or write resets the connection and the next
Send redials, backing off exponentially from 100ms up to the 5s cap.
*/
package tcpsvc
