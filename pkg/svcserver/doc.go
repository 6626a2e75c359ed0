/*
Package svcserver implements the service server side of the RPC layer.

A Server is created with a name and, while running, exposes one TCP
listener per enabled protocol version (Service.ProtocolV0Enable and
Service.ProtocolV1Enable, independently). Each accepted connection is
long-lived: requests on a single connection are served one at a time, in
arrival order, but distinct connections are served concurrently by their
own goroutine.

	srv, _ := svcserver.Create(host, pid, procName, "math", cfg.Service, reg)
	srv.AddMethod("add", "AddRequest", "AddResponse", handleAdd)
	defer srv.Destroy()

AddMethod/RemoveMethod mutate the method table under a lock and
re-announce the service through the registration layer so that method
metadata in a monitoring snapshot stays current. A request naming a
method that is not (or no longer) registered gets back
wire.RetMethodNotFound with an empty payload, never a connection error.

A panic inside a handler is recovered and logged at the connection level;
it does not take down the listener or any other connection.

HealthServer in health.go is an unrelated HTTP convenience: a liveness and
readiness endpoint plus the Prometheus handler, useful for a process that
wants a plain HTTP port next to its service/registration traffic.
*/
package svcserver
