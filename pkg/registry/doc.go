/*
Package registry implements the registration layer.

Every process keeps a table of the topics, the process entry, and the
service server/client endpoints it owns locally, plus a table of what it
has learned about remote peers from received announcements. A timer
announces every local entry once per registration.refresh_interval_ms;
a second timer sweeps the remote table and purges any entry that has
gone registration.timeout_ms without a refresh, publishing a
bus.KindTopicExpired/KindProcessExpired/KindServiceExpired announcement
for each one so pkg/monitor and the local matchers can tear down
whatever depended on it.

Local lifecycle:

	reg.RegisterTopic(&entry)      // on the local bus now, to peers every tick
	reg.UnregisterTopic(entry.TopicID)

Remote intake, for announcements decoded off the wire. The
udp.Transport OnTopic/OnProcess/OnService callbacks take the same
arguments, but nothing in this module connects them to a Registry:

	reg.ReceiveTopic(&entry, false) // refresh
	reg.ReceiveTopic(&entry, true)  // explicit unregister, purges now

MatchTopics and ChooseTransport implement the matching rule: a
subscriber topic matches a publisher topic with the same topic name and
a compatible data type, and the transport is chosen by priority — SHM
when both ends are on the same host with compatible host_group_name and
both have an active SHM layer, else UDP, else TCP, else
ferr.TransportUnavailable.
*/
package registry
