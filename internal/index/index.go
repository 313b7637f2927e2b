// Package index implements bytebin's durable, keyed metadata store: a
// single-file embedded database (go.etcd.io/bbolt, the maintained
// successor of the boltdb/bolt dependency carried by storj-storj) that
// survives process restart and is queryable for expired and grouped
// records without touching the storage backends.
package index

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/lucko/bytebin/internal/backend"
	"github.com/lucko/bytebin/internal/content"
	"github.com/lucko/bytebin/internal/metrics"
)

// ErrNotFound is returned by Get when the key is absent from the index.
var ErrNotFound = errors.New("index: not found")

var contentBucket = []byte("content")

const neverMillis int64 = -1

// storedRecord is the gob-encoded value held in the index. It deliberately
// excludes Content: the index holds metadata only, never content bytes.
type storedRecord struct {
	Key                string
	ContentType        string
	Encoding           []string
	ExpiryMillis       int64
	LastModifiedMillis int64
	Modifiable         bool
	AuthKey            string
	BackendID          string
	ContentLength      int64
}

func toStored(rec *content.Record) storedRecord {
	expiryMillis := neverMillis
	if !rec.Expiry.IsNever() {
		expiryMillis = rec.Expiry.Time().UnixMilli()
	}
	return storedRecord{
		Key:                rec.Key,
		ContentType:        rec.ContentType,
		Encoding:           rec.Encoding,
		ExpiryMillis:       expiryMillis,
		LastModifiedMillis: rec.LastModified.UnixMilli(),
		Modifiable:         rec.Modifiable,
		AuthKey:            rec.AuthKey,
		BackendID:          rec.BackendID,
		ContentLength:      rec.ContentLength,
	}
}

func (s storedRecord) toRecord() *content.Record {
	rec := &content.Record{
		Key:           s.Key,
		ContentType:   s.ContentType,
		Encoding:      s.Encoding,
		LastModified:  time.UnixMilli(s.LastModifiedMillis),
		Modifiable:    s.Modifiable,
		AuthKey:       s.AuthKey,
		BackendID:     s.BackendID,
		ContentLength: s.ContentLength,
	}
	if s.ExpiryMillis == neverMillis {
		rec.Expiry = content.Never
	} else {
		rec.Expiry = content.At(time.UnixMilli(s.ExpiryMillis))
	}
	return rec
}

func encode(s storedRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(b []byte) (storedRecord, error) {
	var s storedRecord
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s)
	return s, err
}

// Stat is one row of a GroupByContentTypeAndBackend aggregate.
type Stat struct {
	ContentType string
	BackendID   string
	Count       int64
	TotalBytes  int64
}

// Index is bytebin's durable metadata store.
type Index struct {
	db      *bolt.DB
	metrics *metrics.Registry
}

// Open opens (creating if absent) a bbolt database at path.
func Open(path string, m *metrics.Registry) (*Index, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("index: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(contentBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("index: creating bucket: %w", err)
	}
	return &Index{db: db, metrics: m}, nil
}

// Close closes the underlying database file.
func (ix *Index) Close() error { return ix.db.Close() }

func (ix *Index) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if ix.metrics != nil {
		ix.metrics.IndexOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			ix.metrics.IndexOpErrors.WithLabelValues(op).Inc()
		}
	}
	return err
}

// Put upserts rec's metadata.
func (ix *Index) Put(_ context.Context, rec *content.Record) error {
	return ix.timed("put", func() error {
		val, err := encode(toStored(rec))
		if err != nil {
			return err
		}
		return ix.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(contentBucket).Put([]byte(rec.Key), val)
		})
	})
}

// PutAll upserts every record in a single transaction, used to rebuild the
// index from a backend's List stream.
func (ix *Index) PutAll(_ context.Context, records []*content.Record) error {
	return ix.timed("put_all", func() error {
		return ix.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(contentBucket)
			for _, rec := range records {
				val, err := encode(toStored(rec))
				if err != nil {
					return err
				}
				if err := b.Put([]byte(rec.Key), val); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// Get looks up a record's metadata by key.
func (ix *Index) Get(_ context.Context, key string) (*content.Record, error) {
	var rec *content.Record
	err := ix.timed("get", func() error {
		return ix.db.View(func(tx *bolt.Tx) error {
			val := tx.Bucket(contentBucket).Get([]byte(key))
			if val == nil {
				return ErrNotFound
			}
			stored, err := decode(val)
			if err != nil {
				return fmt.Errorf("index: decoding %s: %w", key, err)
			}
			rec = stored.toRecord()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Remove deletes key from the index. Removing an absent key is not an
// error.
func (ix *Index) Remove(_ context.Context, key string) error {
	return ix.timed("remove", func() error {
		return ix.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(contentBucket).Delete([]byte(key))
		})
	})
}

// GetExpired returns every record whose expiry is finite and before now.
func (ix *Index) GetExpired(_ context.Context, now time.Time) ([]*content.Record, error) {
	var out []*content.Record
	err := ix.timed("get_expired", func() error {
		return ix.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(contentBucket).Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				stored, err := decode(v)
				if err != nil {
					return fmt.Errorf("index: decoding %s: %w", k, err)
				}
				rec := stored.toRecord()
				if rec.Expiry.Expired(now) {
					out = append(out, rec)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GroupByContentTypeAndBackend returns count(*) and sum(content_length)
// grouped by (content_type, backend_id), for the housekeeper's gauges.
func (ix *Index) GroupByContentTypeAndBackend(_ context.Context) ([]Stat, error) {
	groups := make(map[[2]string]*Stat)
	err := ix.timed("group_by", func() error {
		return ix.db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(contentBucket).ForEach(func(k, v []byte) error {
				stored, err := decode(v)
				if err != nil {
					return fmt.Errorf("index: decoding %s: %w", k, err)
				}
				key := [2]string{stored.ContentType, stored.BackendID}
				g, ok := groups[key]
				if !ok {
					g = &Stat{ContentType: stored.ContentType, BackendID: stored.BackendID}
					groups[key] = g
				}
				g.Count++
				g.TotalBytes += stored.ContentLength
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]Stat, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	return out, nil
}

// Count returns the number of keys currently in the index, used at
// startup to decide whether a from-backends rebuild is needed.
func (ix *Index) Count(_ context.Context) (int, error) {
	n := 0
	err := ix.timed("count", func() error {
		return ix.db.View(func(tx *bolt.Tx) error {
			n = tx.Bucket(contentBucket).Stats().KeyN
			return nil
		})
	})
	return n, err
}

// RebuildFromBackends repopulates an empty index by listing every
// registered backend's contents. Called once at startup when the index
// is found empty, so a lost or fresh index file doesn't strand records
// that are still sitting in a backend.
func (ix *Index) RebuildFromBackends(ctx context.Context, backends map[string]backend.Backend) error {
	var records []*content.Record
	for _, b := range backends {
		err := b.List(ctx, func(rec *content.Record, visitErr error) error {
			if visitErr != nil {
				// Corrupt entries are skipped during rebuild; the
				// housekeeper's next pass won't find them (they're not in
				// the index) and an operator audit can clean the backend
				// directly.
				return nil
			}
			records = append(records, rec)
			return nil
		})
		if err != nil {
			return fmt.Errorf("index: listing backend %s: %w", b.ID(), err)
		}
	}
	if len(records) == 0 {
		return nil
	}
	return ix.PutAll(ctx, records)
}
