// Package relay forwards events from an eventstore.Router out of process.
//
// Two relays are provided:
//
//   - RedisPublisher publishes each event as JSON on a Redis pub/sub channel
//     named "<prefix>:<resource_type>".
//   - Webhook POSTs each event as JSON to an HTTP endpoint, signing the body
//     with HMAC-SHA256 when a secret is configured. Deliveries run inside a
//     resilience.Retry, so 429 and 5xx responses are retried with the same
//     classification rules as every other remote call.
//
// A relay is attached to a router with Attach; delivery failures are then
// counted against the subscription like any other handler error.
package relay
