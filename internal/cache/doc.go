// Package cache provides a content-addressed cache of synthesized speech
// kept inside the persistent store. Entries expire after a TTL and are
// evicted by a combined recency/frequency score when the entry or byte
// ceilings are reached.
package cache
