package kv

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteBucket persists values in the kv_store table.
type SQLiteBucket struct {
	db   *sql.DB
	name string
}

// NewSQLiteBucket creates a bucket over an already migrated database.
func NewSQLiteBucket(db *sql.DB, name string) *SQLiteBucket {
	return &SQLiteBucket{db: db, name: name}
}

func (b *SQLiteBucket) Name() string       { return b.name }
func (b *SQLiteBucket) IsPersistent() bool { return true }

func (b *SQLiteBucket) Put(key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()

	var expiresAt *int64
	if exp := expiry(now, ttl); !exp.IsZero() {
		v := exp.Unix()
		expiresAt = &v
	}

	_, err := b.db.Exec(`
		INSERT INTO kv_store (bucket, key, value, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, b.name, key, string(value), expiresAt, now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", b.name, key, err)
	}
	return nil
}

func (b *SQLiteBucket) Get(key string) ([]byte, bool, error) {
	var (
		value     string
		expiresAt sql.NullInt64
	)
	err := b.db.QueryRow(`
		SELECT value, expires_at FROM kv_store WHERE bucket = ? AND key = ?
	`, b.name, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", b.name, key, err)
	}

	if expiresAt.Valid && time.Now().UTC().Unix() > expiresAt.Int64 {
		_, _ = b.db.Exec(`DELETE FROM kv_store WHERE bucket = ? AND key = ?`, b.name, key)
		return nil, false, nil
	}
	return []byte(value), true, nil
}

func (b *SQLiteBucket) Delete(key string) (bool, error) {
	res, err := b.db.Exec(`DELETE FROM kv_store WHERE bucket = ? AND key = ?`, b.name, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", b.name, key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *SQLiteBucket) Keys() ([]string, error) {
	rows, err := b.db.Query(`
		SELECT key FROM kv_store
		WHERE bucket = ? AND (expires_at IS NULL OR expires_at > ?)
	`, b.name, time.Now().UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of %s: %w", b.name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SweepExpired deletes expired rows across all buckets.
func SweepExpired(db *sql.DB) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired entries: %w", err)
	}
	return res.RowsAffected()
}
