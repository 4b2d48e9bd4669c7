// Package cache holds fetched remote resources in memory.
//
// ResourceCache keys entries by (resource type, id) and maintains secondary
// indices by type, tag and namespace, so a caller can fetch "every cached
// issue" or "everything tagged sprint-1" and invalidate a namespace in one
// call. Entries expire after a TTL; expired entries are dropped lazily on
// read and, optionally, by a periodic sweep.
//
// ReadThrough layers load-on-miss over any Cache and collapses concurrent
// loads of the same key into one remote call.
package cache
