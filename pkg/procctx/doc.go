/*
Package procctx implements the process-wide initialize/finalize
lifecycle every handle in this module is built on top of.

	ctx, _ := procctx.Initialize("host-a", "sensor-bridge", cfg, nil, store)
	defer procctx.Finalize()
	ctx.SetUnitName("bridge-1")

Initialize is reference-counted: a second call before the matching
number of Finalize calls returns the same Context instead of starting a
second bus/registry/monitor underneath it, the same tolerance for
independently-initializing libraries sharing one process that the rest
of this module assumes. The bus, registration layer, and monitoring
aggregator are only torn down once the reference count reaches zero.

SetUnitName/SetProcessState re-announce this process's ProcessEntry
immediately rather than waiting for the registration layer's own
refresh tick, so a monitoring consumer sees a state change promptly.

ShutdownProcessByID/ByName/ShutdownAll only ever match the local
process: this module has no control-plane RPC for requesting a remote
process's shutdown, so OnShutdownRequested handlers registered here are
the only thing these calls can ever trigger.
*/
package procctx
