// Package cache defines the two storage tiers used by the fetch coordinator:
// a process-lifetime memory store and a durable disk store rooted at
// StoragePath/<key>. Both satisfy the same Store capability set (Get/Put/Clear),
// so higher layers select a tier by value instead of branching on its type.
// The disk store writes through temp file + rename and surfaces missing entries
// as ErrNotFound, never as an I/O error.
package cache
