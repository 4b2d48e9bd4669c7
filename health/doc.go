// Package health reports whether a resaccess deployment can serve.
//
// A Checker inspects one component and returns a Result. The layer ships
// checkers for the event store (EventStoreChecker), circuit breakers
// (CircuitChecker) and the resource cache (CacheChecker). An Aggregator
// runs checkers concurrently and folds their results: any unhealthy check
// makes the whole unhealthy, otherwise any degraded check makes it
// degraded.
//
// Mount exposes the conventional probes on a chi router:
//
//	/healthz  liveness, always 200 while the process serves
//	/readyz   200 when healthy or degraded, 503 when unhealthy
//	/health   the full JSON report
package health
