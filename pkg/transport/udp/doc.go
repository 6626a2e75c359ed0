/*
Package udp implements the UDP multicast transport: one socket per
process, joined to a single multicast group, carrying both registration
announcements (registry.Sender) and, as a fallback when pkg/shm can't be
used, data-plane sample datagrams.

Datagrams use the pkg/wire envelope. A datagram that fails to decode, or a
sample whose encoded size would exceed the conservative 1400-byte
datagram ceiling, is dropped and counted rather than fragmented — spec.md
leaves payloads larger than one datagram to a future segmentation scheme
this package does not implement.
*/
package udp
