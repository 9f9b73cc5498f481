package kv

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager hands out buckets by name and sweeps expired keys in the background.
type Manager struct {
	db      *sql.DB
	mu      sync.Mutex
	buckets map[string]Bucket
	stop    chan struct{}
	stopped chan struct{}
}

// NewManager creates a manager. db may be nil when only memory buckets are used.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db, buckets: make(map[string]Bucket)}
}

// Bucket returns the named bucket, creating it on first use. Persistent
// buckets need a database; without one the bucket falls back to memory.
func (m *Manager) Bucket(name string, persistent bool) Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets[name]; ok {
		return b
	}

	var b Bucket
	switch {
	case persistent && m.db != nil:
		b = NewSQLiteBucket(m.db, name)
	case persistent:
		log.Warn().Str("bucket", name).Msg("No database available, bucket will not persist")
		b = NewMemoryBucket(name)
	default:
		b = NewMemoryBucket(name)
	}

	m.buckets[name] = b
	log.Debug().Str("bucket", name).Bool("persistent", b.IsPersistent()).Msg("Created KV bucket")
	return b
}

// StartCleanup sweeps expired keys every interval until ctx is done or
// StopCleanup is called.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})

	go func() {
		defer close(m.stopped)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// StopCleanup stops the sweeper and waits for it to exit.
func (m *Manager) StopCleanup() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.stopped
	m.stop = nil
}

func (m *Manager) sweep() {
	if m.db != nil {
		if n, err := SweepExpired(m.db); err != nil {
			log.Warn().Err(err).Msg("Failed to sweep persistent KV entries")
		} else if n > 0 {
			log.Debug().Int64("count", n).Msg("Swept expired KV entries")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.buckets {
		if mb, ok := b.(*MemoryBucket); ok {
			if n := mb.Sweep(); n > 0 {
				log.Debug().Str("bucket", mb.Name()).Int("count", n).Msg("Swept expired KV entries")
			}
		}
	}
}
