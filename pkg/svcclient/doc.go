/*
Package svcclient implements the service client side of the RPC layer.

A Client is created for one service name and resolves the server
instances currently advertising that service through the registration
layer (pkg/registry.MatchingServers). It keeps one connection and state
machine per resolved instance:

	UNCONNECTED -> CONNECTING -> READY -> (CALLING <-> READY) -> FAILED -> UNCONNECTED

A failed dial or a broken connection mid-call drops the instance back to
UNCONNECTED; the next call through it pays the dial cost again, backing
off exponentially between attempts from 100ms up to the 5s cap used by
the TCP data-plane transport.

Call fans a request out to every resolved instance and blocks until each
one has answered or hit timeout; CallWithCallback is the async form,
invoking a callback per instance as it completes rather than collecting
every response before returning. Both report per-instance outcomes as a
Response with CallState none/executed/failed — a non-OK ret_state from
the server still counts as CallFailed, since the caller is polling for
success, not merely for a reply.

SetHostFilter narrows subsequent calls to server instances on one host;
an empty filter (the default) targets every resolved instance.
*/
package svcclient
