// Package stream wraps the redis stream primitives behind the job queue's
// vocabulary: publish, consumer-group read, ack, dead-letter. The adapter
// never retries stream calls itself; the worker loop owns failure policy.
package stream

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sploot/media-clustering/config"
	"github.com/sploot/media-clustering/errors"
)

// payloadField is the single entry field carrying the JSON envelope.
const payloadField = "payload"

// errorField carries the stringified failure on dead-letter entries.
const errorField = "error"

// Entry is one stream entry as delivered to a consumer.
type Entry struct {
	ID      string
	Payload string
}

// PendingInfo summarizes the consumer group's pending entries for
// telemetry. Zero values when the backend cannot report them.
type PendingInfo struct {
	Count     int64
	OldestAge time.Duration
}

// Queue is the stream-backed job queue. All publishes are length-bounded
// with approximate trimming at the configured maxlen.
type Queue struct {
	rdb    *redis.Client
	cfg    config.StreamConfig
	logger *zap.SugaredLogger
}

// NewQueue creates a queue over an existing redis client.
func NewQueue(rdb *redis.Client, cfg config.StreamConfig, logger *zap.SugaredLogger) *Queue {
	return &Queue{rdb: rdb, cfg: cfg, logger: logger}
}

// EnsureGroup idempotently creates the consumer group at stream origin,
// creating the stream if absent. An already-existing group is success.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Key, q.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "failed to create consumer group %s on %s", q.cfg.ConsumerGroup, q.cfg.Key)
	}
	return nil
}

// Publish appends an envelope payload to the job stream.
func (q *Queue) Publish(ctx context.Context, payload []byte) (string, error) {
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Key,
		MaxLen: q.cfg.MaxLen,
		Approx: q.cfg.ApproximateTrim,
		Values: map[string]interface{}{payloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", errors.Wrapf(err, "failed to publish to %s", q.cfg.Key)
	}
	return id, nil
}

// DeadLetter appends an envelope to the dead-letter stream together with
// the stringified error that exhausted its retry budget.
func (q *Queue) DeadLetter(ctx context.Context, payload []byte, errString string) (string, error) {
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.DeadLetterStream,
		MaxLen: q.cfg.MaxLen,
		Approx: q.cfg.ApproximateTrim,
		Values: map[string]interface{}{
			payloadField: string(payload),
			errorField:   errString,
		},
	}).Result()
	if err != nil {
		return "", errors.Wrapf(err, "failed to publish to dead-letter stream %s", q.cfg.DeadLetterStream)
	}
	return id, nil
}

// ReadGroup reads up to the configured count of new entries for the named
// consumer, blocking up to the configured read timeout. Returns an empty
// slice on timeout.
func (q *Queue) ReadGroup(ctx context.Context, consumer string) ([]Entry, error) {
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.ConsumerGroup,
		Consumer: consumer,
		Streams:  []string{q.cfg.Key, ">"},
		Count:    q.cfg.ReadCount,
		Block:    q.cfg.ReadTimeout(),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // block timeout, nothing new
		}
		return nil, errors.Wrapf(err, "failed to read group %s", q.cfg.ConsumerGroup)
	}

	var entries []Entry
	for _, s := range streams {
		for _, m := range s.Messages {
			payload, _ := m.Values[payloadField].(string)
			entries = append(entries, Entry{ID: m.ID, Payload: payload})
		}
	}
	return entries, nil
}

// Ack marks an entry as processed for the consumer group.
func (q *Queue) Ack(ctx context.Context, entryID string) error {
	if err := q.rdb.XAck(ctx, q.cfg.Key, q.cfg.ConsumerGroup, entryID).Err(); err != nil {
		return errors.Wrapf(err, "failed to ack entry %s", entryID)
	}
	return nil
}

// Pending reports the consumer group's pending count and the idle age of
// the oldest pending entry. Degrades to zeros when the backend cannot
// answer, so telemetry never fails a job.
func (q *Queue) Pending(ctx context.Context) PendingInfo {
	var info PendingInfo

	pending, err := q.rdb.XPending(ctx, q.cfg.Key, q.cfg.ConsumerGroup).Result()
	if err != nil {
		q.logger.Debugw("pending summary unavailable", "stream", q.cfg.Key, "error", err)
		return info
	}
	info.Count = pending.Count
	if pending.Count == 0 {
		return info
	}

	oldest, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Key,
		Group:  q.cfg.ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil || len(oldest) == 0 {
		return info
	}
	info.OldestAge = oldest[0].Idle
	return info
}

// Ping reports whether the stream backend is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(errors.ErrServiceUnavailable, err.Error())
	}
	return nil
}

// DeadLetterEntry is a decoded dead-letter stream entry, surfaced for
// operator inspection.
type DeadLetterEntry struct {
	ID       string
	Envelope JobEnvelope
	Error    string
}

// ReadDeadLetters returns up to count entries from the dead-letter stream,
// oldest first. Entries whose payload no longer decodes are skipped.
func (q *Queue) ReadDeadLetters(ctx context.Context, count int64) ([]DeadLetterEntry, error) {
	msgs, err := q.rdb.XRangeN(ctx, q.cfg.DeadLetterStream, "-", "+", count).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dead-letter stream %s", q.cfg.DeadLetterStream)
	}

	var out []DeadLetterEntry
	for _, m := range msgs {
		payload, _ := m.Values[payloadField].(string)
		env, err := DecodeEnvelope(payload)
		if err != nil {
			q.logger.Warnw("skipping undecodable dead-letter entry", "entry_id", m.ID)
			continue
		}
		errStr, _ := m.Values[errorField].(string)
		out = append(out, DeadLetterEntry{ID: m.ID, Envelope: env, Error: errStr})
	}
	return out, nil
}
