// Package kv provides named key-value buckets, in memory or persisted in SQLite.
// Values are opaque byte slices; callers own the encoding.
package kv

import "time"

// Bucket is a namespace of keys with optional per-key expiry.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// IsPersistent reports whether values survive a restart.
	IsPersistent() bool

	// Put stores value under key. A positive ttl expires the key after that long.
	Put(key string, value []byte, ttl time.Duration) error

	// Get returns the value for key. ok is false if the key is missing or expired.
	Get(key string) (value []byte, ok bool, err error)

	// Delete removes key and reports whether it existed.
	Delete(key string) (bool, error)

	// Keys returns all live keys.
	Keys() ([]string, error)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
