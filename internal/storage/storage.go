// Package storage is the bbolt-backed record store. Every tenant owns a
// sub-bucket in each top-level bucket, so purging a tenant is a bucket drop.
package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"

	"echohook/internal/types"
)

var (
	// tenant -> timeKey(createdAt)+id -> gob(CapturedRequest)
	bucketRequests = []byte("requests")
	// tenant -> id -> timeKey(createdAt)+id
	bucketRequestIDs = []byte("request_ids")
	// tenant -> normalized path -> gob(ConfiguredResponse)
	bucketResponses = []byte("responses")
)

var ErrExists = errors.New("already exists")

type Store struct {
	db *bolt.DB
}

func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRequests, bucketRequestIDs, bucketResponses} {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// InsertRequest appends a captured request. Ids are never reused.
func (s *Store) InsertRequest(ctx context.Context, req *types.CapturedRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := encode(req)
	if err != nil {
		return err
	}
	key := requestKey(req.CreatedAt, req.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		ids, err := tenantBucket(tx, bucketRequestIDs, req.TenantID)
		if err != nil {
			return err
		}
		if ids.Get([]byte(req.ID)) != nil {
			return fmt.Errorf("request %s: %w", req.ID, ErrExists)
		}
		reqs, err := tenantBucket(tx, bucketRequests, req.TenantID)
		if err != nil {
			return err
		}
		if err := reqs.Put(key, v); err != nil {
			return err
		}
		return ids.Put([]byte(req.ID), key)
	})
}

func (s *Store) GetRequest(ctx context.Context, tenantID, id string) (*types.CapturedRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var req types.CapturedRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		ids := subBucket(tx, bucketRequestIDs, tenantID)
		reqs := subBucket(tx, bucketRequests, tenantID)
		if ids == nil || reqs == nil {
			return types.ErrNotFound
		}
		key := ids.Get([]byte(id))
		if key == nil {
			return types.ErrNotFound
		}
		v := reqs.Get(key)
		if v == nil {
			return types.ErrNotFound
		}
		return decode(v, &req)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// RangeRequests returns the tenant's requests created within [from, to],
// newest first. A limit <= 0 means no limit.
func (s *Store) RangeRequests(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*types.CapturedRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := timeKey(from)
	upper := append(timeKey(to), 0xff)

	var res []*types.CapturedRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		reqs := subBucket(tx, bucketRequests, tenantID)
		if reqs == nil {
			return nil
		}
		c := reqs.Cursor()
		k, v := c.Seek(upper)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil; k, v = c.Prev() {
			if limit > 0 && len(res) >= limit {
				break
			}
			if bytes.Compare(k[:8], lower) < 0 {
				break
			}
			var req types.CapturedRequest
			if err := decode(v, &req); err != nil {
				return err
			}
			res = append(res, &req)
		}
		return nil
	})
	return res, err
}

// PurgeRequests drops every captured request of a tenant and reports how
// many were removed.
func (s *Store) PurgeRequests(ctx context.Context, tenantID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		if ids := subBucket(tx, bucketRequestIDs, tenantID); ids != nil {
			n = ids.Stats().KeyN
		}
		if err := dropTenant(tx, bucketRequestIDs, tenantID); err != nil {
			return err
		}
		return dropTenant(tx, bucketRequests, tenantID)
	})
	return n, err
}

// UpsertResponse runs fn against the rule currently stored for path (nil when
// there is none) and stores what it returns, all inside one write
// transaction. bbolt allows a single writer at a time, so two upserts of the
// same path cannot interleave.
func (s *Store) UpsertResponse(
	ctx context.Context,
	tenantID, path string,
	fn func(existing *types.ConfiguredResponse) (*types.ConfiguredResponse, error),
) (*types.ConfiguredResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *types.ConfiguredResponse
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tenantBucket(tx, bucketResponses, tenantID)
		if err != nil {
			return err
		}
		var existing *types.ConfiguredResponse
		if v := b.Get([]byte(path)); v != nil {
			existing = new(types.ConfiguredResponse)
			if err := decode(v, existing); err != nil {
				return err
			}
		}
		next, err := fn(existing)
		if err != nil {
			return err
		}
		v, err := encode(next)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(path), v); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetResponse(ctx context.Context, tenantID, path string) (*types.ConfiguredResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rule types.ConfiguredResponse
	err := s.db.View(func(tx *bolt.Tx) error {
		b := subBucket(tx, bucketResponses, tenantID)
		if b == nil {
			return types.ErrNotFound
		}
		v := b.Get([]byte(path))
		if v == nil {
			return types.ErrNotFound
		}
		return decode(v, &rule)
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListResponses returns the tenant's rules ordered by path.
func (s *Store) ListResponses(ctx context.Context, tenantID string) ([]*types.ConfiguredResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := make([]*types.ConfiguredResponse, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := subBucket(tx, bucketResponses, tenantID)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rule types.ConfiguredResponse
			if err := decode(v, &rule); err != nil {
				return err
			}
			res = append(res, &rule)
			return nil
		})
	})
	return res, err
}

// DeleteResponse removes the rule for path. Deleting a missing rule is not an
// error.
func (s *Store) DeleteResponse(ctx context.Context, tenantID, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := subBucket(tx, bucketResponses, tenantID)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(path))
	})
}

func (s *Store) PurgeResponses(ctx context.Context, tenantID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		if b := subBucket(tx, bucketResponses, tenantID); b != nil {
			n = b.Stats().KeyN
		}
		return dropTenant(tx, bucketResponses, tenantID)
	})
	return n, err
}

func tenantBucket(tx *bolt.Tx, root []byte, tenantID string) (*bolt.Bucket, error) {
	b, err := tx.Bucket(root).CreateBucketIfNotExists([]byte(tenantID))
	if err != nil {
		return nil, fmt.Errorf("tenant bucket %s/%s: %w", root, tenantID, err)
	}
	return b, nil
}

func subBucket(tx *bolt.Tx, root []byte, tenantID string) *bolt.Bucket {
	return tx.Bucket(root).Bucket([]byte(tenantID))
}

func dropTenant(tx *bolt.Tx, root []byte, tenantID string) error {
	parent := tx.Bucket(root)
	if parent.Bucket([]byte(tenantID)) == nil {
		return nil
	}
	if err := parent.DeleteBucket([]byte(tenantID)); err != nil {
		return fmt.Errorf("delete bucket %s/%s: %w", root, tenantID, err)
	}
	return nil
}

// timeKey is the big-endian nanosecond timestamp of t, clamped to the range
// UnixNano can represent, so byte order equals time order.
func timeKey(t time.Time) []byte {
	var nanos uint64
	switch {
	case t.Unix() < 0:
		nanos = 0
	case t.Year() >= 2262:
		nanos = math.MaxInt64
	default:
		nanos = uint64(t.UnixNano())
	}
	key := make([]byte, 8, 8+36)
	binary.BigEndian.PutUint64(key, nanos)
	return key
}

func requestKey(createdAt time.Time, id string) []byte {
	return append(timeKey(createdAt), id...)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(v []byte, out any) error {
	if err := gob.NewDecoder(bytes.NewReader(v)).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
