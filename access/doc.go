// Package access is the resource-access layer handed to repository code.
//
// A Layer is built once at startup with New and passed by reference. It
// combines:
//
//   - a resilience.Executor that retries remote calls by classification,
//   - a cache.ResourceCache serving reads and list queries,
//   - an eventstore.Store recording every successful mutation,
//   - an eventstore.Router fanning those events out to subscribers.
//
// Repository code calls Fetch, List and Mutate with a spec describing the
// resource and a closure performing the remote call.
package access
