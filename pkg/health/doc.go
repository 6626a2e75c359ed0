/*
Package health provides generic liveness checking: a Checker interface with
TCP and HTTP implementations, plus a Status type that tracks consecutive
pass/fail counts before flipping a monitored peer's healthy bit.

# Checkers

	Checker interface { Check(ctx) Result; Type() CheckType }
	TCPChecker   dials Address and reports success on connect
	HTTPChecker  issues Method to URL and checks the response status
	             falls within [ExpectedStatusMin, ExpectedStatusMax]

Both are independent of pkg/registry's own refresh-timeout expiry: a
TCPChecker against a service server's TCP port is how a service client
can probe reachability before the registration layer's next entry
refresh arrives, and an HTTPChecker against a process's optional
/health endpoint is how an external supervisor polls liveness without
going through the registration layer at all.

# Status

Status.Update(result, config) applies the same hysteresis as elsewhere in
this module: Retries consecutive failures before Healthy flips false,
and a single success resets the run and flips it back. Update does not
consult StartPeriod; InStartPeriod reports whether a Status is still
inside that grace window.

	status := health.NewStatus()
	checker := health.NewTCPChecker("10.0.0.4:49152")
	cfg := health.DefaultConfig()
	for {
		result := checker.Check(ctx)
		status.Update(result, cfg)
		time.Sleep(cfg.Interval)
	}
*/
package health
