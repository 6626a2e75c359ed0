/*
Package bus provides an in-memory, non-blocking fan-out of registration
announcements to this process's local consumers.

The registration receiver is the single producer: every time it learns
of a new or refreshed topic/process/service entry, or expires one after
registration.timeout_ms of missed refreshes, it calls Bus.Publish. Three
consumers subscribe independently:

  - pkg/monitor's aggregator, to maintain the snapshot returned by
    get_monitoring and get_logging
  - pkg/pub and pkg/sub's local matcher, to wire a same-host publisher to
    a same-host subscriber of the same topic name and compatible data type
  - pkg/svcclient's local matcher, to wire a service client instance to a
    matching service server instance

Publish never blocks on a slow subscriber: each subscriber owns a
buffered channel, and a full buffer drops that one announcement for that
one subscriber rather than stalling the registration receiver or the
other subscribers.

	b := bus.New()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)
	for a := range sub {
		switch a.Kind {
		case bus.KindTopicUpdated:
			// ...
		}
	}
*/
package bus
