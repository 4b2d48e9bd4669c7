// Package eventstore records resource-lifecycle events.
//
// A Store keeps the most recent events in a bounded in-memory buffer and
// writes every event to a durable Log. Queries whose time range is covered
// by the buffer are answered from memory; older ranges fall through to the
// Log. Rotate prunes both by retention age.
//
// A Router fans appended events out to subscribers asynchronously, each on
// its own queue, so a slow or failing subscriber affects neither the write
// path nor other subscribers.
//
// Durable Log implementations live in the badgerlog, sqlitelog and pglog
// subpackages; MemoryLog is an in-process Log for tests.
package eventstore
