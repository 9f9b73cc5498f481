// Package snapshot stores the pre-alert/pre-animation state of each light.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dokzlo13/huelight/internal/light"
	"github.com/dokzlo13/huelight/internal/storage/kv"
)

// BucketName is the kv bucket snapshots live in.
const BucketName = "light_snapshots"

// Store keeps one snapshot per light. A later Save replaces the earlier one.
type Store struct {
	bucket kv.Bucket
	ttl    time.Duration
}

// NewStore creates a store over bucket. A positive ttl expires snapshots
// that were never restored.
func NewStore(bucket kv.Bucket, ttl time.Duration) *Store {
	return &Store{bucket: bucket, ttl: ttl}
}

// Save records snap for the light, replacing any previous snapshot.
func (s *Store) Save(lightID int, snap light.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.bucket.Put(key(lightID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to save snapshot for light %d: %w", lightID, err)
	}
	return nil
}

// Load returns the light's snapshot. ok is false if none was saved.
func (s *Store) Load(lightID int) (light.Snapshot, bool, error) {
	data, ok, err := s.bucket.Get(key(lightID))
	if err != nil {
		return light.Snapshot{}, false, fmt.Errorf("failed to load snapshot for light %d: %w", lightID, err)
	}
	if !ok {
		return light.Snapshot{}, false, nil
	}

	var snap light.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return light.Snapshot{}, false, fmt.Errorf("failed to decode snapshot for light %d: %w", lightID, err)
	}
	return snap, true, nil
}

// Clear drops every stored snapshot and returns how many were removed.
func (s *Store) Clear() (int, error) {
	keys, err := s.bucket.Keys()
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshots: %w", err)
	}
	n := 0
	for _, k := range keys {
		deleted, err := s.bucket.Delete(k)
		if err != nil {
			return n, fmt.Errorf("failed to delete snapshot %s: %w", k, err)
		}
		if deleted {
			n++
		}
	}
	return n, nil
}

func key(lightID int) string {
	return strconv.Itoa(lightID)
}
