/*
Package shm implements the shared-memory transport used between a
publisher and a subscriber that share a host and a compatible
host_group_name, per registry.ChooseTransport.

Each topic gets one backing file, memory-mapped with mmap(MAP_SHARED) so
every process that opens it sees the same pages. A writer takes an
flock-based exclusive lock around the copy so concurrent writers never
interleave a sequence number with someone else's payload, then signals an
eventfd so a reader blocked on it wakes immediately instead of polling.

This package holds the latest sample per topic in a single fixed-size
slot rather than a multi-slot ring. Write overwrites that slot without
waiting for readers: no acknowledgement timeout is applied, and a reader
that has not read a sample before the next Write misses it. A payload
larger than the capacity fixed at Create is rejected; the segment is not
resized.
*/
package shm
