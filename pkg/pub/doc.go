/*
Package pub implements the publisher half of the data plane.

	p, _ := pub.Create(host, pid, dataType, "sensors/temp", cfg, reg, transports, 0)
	defer p.Destroy()
	p.Send(ctx, payload)

Create registers the topic's own TopicEntry (direction publisher) through
the registration layer so MatchingSubscriberTopics can find it, and opens
whichever transports this process has enabled: a shm.Segment for
same-host delivery, the process-wide udp.Transport for loopback-capable
multicast groups, and one tcpsvc.Sender per distinct subscriber address,
opened lazily on first use and reused across sends.

Every Send re-resolves the topic's matched subscribers and lets
registry.ChooseTransport pick shm, udp, or tcp per subscriber in a fixed
order (same host prefers shm, then udp, then tcp; cross host skips shm
entirely). ChooseTransport does not read
config.Publisher.LayerPriorityLocal/LayerPriorityRemote, whose defaults
list the same order. A delivery failure to one subscriber increments that
topic's dropped_messages count and is logged, but never fails the call:
the return value is reserved for structural errors such as calling Send
after Destroy.

DataClock and FrequencyMilliHz on the topic's entry are updated on every
send: DataClock is a plain counter, FrequencyMilliHz an exponential
moving average of the observed send interval, both visible to anyone
reading a monitoring snapshot of this topic.

maxSendHz, when positive, is enforced locally with a golang.org/x/time/rate
limiter before a sample is ever resolved against subscribers, so a runaway
caller is throttled at the source rather than downstream at tcpsvc's own
per-connection limiter.
*/
package pub
