// Package state persists per-subject cluster state in redis with a TTL.
// Only the worker writes state; the front door reads and invalidates it.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sploot/media-clustering/errors"
)

// Store is the keyed TTL store for ClusterState values.
type Store struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

// NewStore creates a store over an existing redis client.
func NewStore(rdb *redis.Client, namespace string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, namespace: namespace, ttl: ttl}
}

func (s *Store) key(subjectID string) string {
	return fmt.Sprintf("%s:state:%s", s.namespace, subjectID)
}

// Put writes the state under the subject's key with the configured TTL,
// stamping UpdatedAt at persistence time. Last writer wins when two
// workers race on the same subject.
func (s *Store) Put(ctx context.Context, st *ClusterState) error {
	st.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "failed to marshal cluster state")
	}
	if err := s.rdb.SetEx(ctx, s.key(st.SubjectID), data, s.ttl).Err(); err != nil {
		return errors.WrapPersist(err, fmt.Sprintf("subject %s", st.SubjectID))
	}
	return nil
}

// Get returns the persisted state for a subject, or ErrNotFound when the
// key is absent or has expired.
func (s *Store) Get(ctx context.Context, subjectID string) (*ClusterState, error) {
	raw, err := s.rdb.Get(ctx, s.key(subjectID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Wrapf(errors.ErrNotFound, "cluster state for subject %s", subjectID)
		}
		return nil, errors.Wrapf(err, "failed to read cluster state for subject %s", subjectID)
	}

	var st ClusterState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, errors.Wrapf(err, "corrupt cluster state for subject %s", subjectID)
	}
	return &st, nil
}

// Invalidate removes a subject's state. Returns true when a key was
// actually deleted.
func (s *Store) Invalidate(ctx context.Context, subjectID string) (bool, error) {
	deleted, err := s.rdb.Del(ctx, s.key(subjectID)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to invalidate cluster state for subject %s", subjectID)
	}
	return deleted > 0, nil
}
