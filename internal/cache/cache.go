// Package cache persists catalog payloads keyed by a stable hash of their
// logical key. Staleness is computed at read time; entries are never swept.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Store is a key/value store with a freshness window. A corrupt or
// unreadable entry is reported as a miss, never as an error.
type Store interface {
	Get(ctx context.Context, key string, ttl time.Duration) (*Lookup, bool)
	Put(ctx context.Context, key string, value any) error
}

// Entry is the persisted form of a cached value
type Entry struct {
	CreatedAt int64           `json:"created_at"`
	Value     json.RawMessage `json:"value"`
}

// Lookup is the result of a cache hit
type Lookup struct {
	Value     json.RawMessage
	Stale     bool
	CreatedAt time.Time
}

// Decode unmarshals the cached value into v
func (l *Lookup) Decode(v any) error {
	return json.Unmarshal(l.Value, v)
}

// HashKey returns the hex sha256 of a logical key
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func encodeEntry(value any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Entry{CreatedAt: now.Unix(), Value: raw})
}

// decodeEntry validates a persisted entry; records without created_at or
// value are rejected
func decodeEntry(b []byte, now time.Time, ttl time.Duration) (*Lookup, bool) {
	var rec struct {
		CreatedAt *int64          `json:"created_at"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, false
	}
	if rec.CreatedAt == nil || len(rec.Value) == 0 || string(rec.Value) == "null" {
		return nil, false
	}

	created := time.Unix(*rec.CreatedAt, 0)
	return &Lookup{
		Value:     rec.Value,
		Stale:     now.Sub(created) > ttl,
		CreatedAt: created,
	}, true
}
