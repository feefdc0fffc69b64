package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
)

// MemoryStore は Redis を使わない場合のプロセス内ストアです。
// 記録は ttl 経過後に自動で破棄されます。
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlworker.Cache[string, Record]
	now   func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: ttlworker.NewCache[string, Record](ttl),
		now:   time.Now,
	}
}

// Get はバッチ記録のコピーを返します。
func (s *MemoryStore) Get(_ context.Context, batchID string) (*Record, error) {
	if batchID == "" {
		return nil, fmt.Errorf("batchID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.cache.Get(batchID)
	if record.BatchID == "" {
		return nil, nil
	}
	return cloneRecord(record), nil
}

// Upsert はバッチ記録を保存します。
func (s *MemoryStore) Upsert(_ context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.BatchID == "" {
		return fmt.Errorf("batchID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stampRecord(record, s.now().UTC())
	s.cache.Set(record.BatchID, *cloneRecord(*record))
	return nil
}

// MarkExpired はバッチを期限切れにします。
func (s *MemoryStore) MarkExpired(_ context.Context, batchID string) error {
	return s.update(batchID, func(record *Record) {
		record.Status = StatusExpired
	})
}

// MarkFailed はバッチの後処理失敗を記録します。
func (s *MemoryStore) MarkFailed(_ context.Context, batchID string, errInfo *ErrorInfo) error {
	return s.update(batchID, func(record *Record) {
		record.Status = StatusFailed
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

func (s *MemoryStore) update(batchID string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.cache.Get(batchID)
	if record.BatchID == "" {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, batchID)
	}
	mutate(&record)
	record.UpdatedAt = s.now().UTC()
	s.cache.Set(batchID, record)
	return nil
}

func cloneRecord(r Record) *Record {
	out := r
	out.Files = append([]FileSummary(nil), r.Files...)
	if r.Error != nil {
		errInfo := *r.Error
		out.Error = &errInfo
	}
	return &out
}
