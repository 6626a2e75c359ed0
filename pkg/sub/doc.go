/*
Package sub implements the subscriber half of the data plane.

	s, _ := sub.Create(host, pid, dataType, "sensors/temp", cfg, reg, transports, 0)
	defer s.Destroy()
	sample, err := s.Receive(ctx, 2*time.Second)

or, in push mode:

	s.SetCallback(func(sample *model.SampleEnvelope) { ... })

Exactly one of Receive and SetCallback may be used for the lifetime of a
Subscriber: calling Receive after a callback is registered, or
registering a callback after Receive has ever been called, is an error.

Create registers the topic's own TopicEntry (direction subscriber)
through the registration layer, and opens whichever transports this
process has enabled: an shm.Segment polled on a short ticker (shm has no
blocking read primitive exposed here), its own tcpsvc.Listener advertised
through the tcp transport layer's addr param so a matched publisher can
dial it directly, and a route into the process-wide udp.Transport's
shared sample callback, filtered down to this topic by matching the
sample's publisher TopicID against registry.MatchingPublisherTopics.

Every accepted sample funnels through onSample, which applies
config.Subscriber.DropOutOfOrder before the sample reaches a caller:
a sample whose sequence is not strictly greater than the last one seen
from that exact publisher instance is dropped and counted rather than
delivered out of order. A full pull-mode queue drops the newest arrival
rather than blocking the transport's receive loop.
*/
package sub
