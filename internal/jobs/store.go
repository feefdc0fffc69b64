package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	uploadKeyPrefix = "upload:"
	maxTxRetries    = 5
)

// ErrRecordNotFound は更新対象の記録が存在しない場合に返されます。
var ErrRecordNotFound = errors.New("jobs: record not found")

// RecordStore はバッチ記録の保存先です。
// Get は存在しない場合に (nil, nil) を返します。
type RecordStore interface {
	Get(ctx context.Context, batchID string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	MarkExpired(ctx context.Context, batchID string) error
	MarkFailed(ctx context.Context, batchID string, errInfo *ErrorInfo) error
}

// RedisStore はバッチ記録を Redis に保存します。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore は RedisStore を作成します。ttl は記録の保持期間です。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get はバッチ記録を取得します。
func (s *RedisStore) Get(ctx context.Context, batchID string) (*Record, error) {
	if batchID == "" {
		return nil, fmt.Errorf("batchID is required")
	}
	data, err := s.rdb.Get(ctx, uploadKey(batchID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert はバッチ記録を保存します（存在しない場合は作成）。
func (s *RedisStore) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	stampRecord(record, time.Now().UTC())

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, uploadKey(record.BatchID), payload, s.ttl).Err()
}

// MarkExpired はバッチを期限切れにします。
func (s *RedisStore) MarkExpired(ctx context.Context, batchID string) error {
	return s.updatePartial(ctx, batchID, func(record *Record) {
		record.Status = StatusExpired
	})
}

// MarkFailed はバッチの後処理失敗を記録します。
func (s *RedisStore) MarkFailed(ctx context.Context, batchID string, errInfo *ErrorInfo) error {
	return s.updatePartial(ctx, batchID, func(record *Record) {
		record.Status = StatusFailed
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

// updatePartial は WATCH による楽観ロックで記録を部分更新します。
func (s *RedisStore) updatePartial(ctx context.Context, batchID string, mutate func(*Record)) error {
	key := uploadKey(batchID)
	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrRecordNotFound, batchID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		record.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("updating %s: too many concurrent updates", batchID)
}

func stampRecord(record *Record, now time.Time) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
}

func uploadKey(id string) string {
	return uploadKeyPrefix + id
}
