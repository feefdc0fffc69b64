// Package jobs はアップロードバッチの記録と期限切れ処理を提供します。
//
// Redis が設定されている場合は asynq の遅延タスク、無い場合はプロセス内タイマーで
// 期限切れのバッチディレクトリを削除し、記録を expired に更新します。
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yourusername/paper-press/internal/ingest"
	"github.com/yourusername/paper-press/internal/logging"
)

// BatchRemover はコミット済みバッチを削除します。
type BatchRemover interface {
	Remove(batchID string) error
}

// Expirer は期限切れバッチの後始末を行います。
type Expirer struct {
	store   RecordStore
	remover BatchRemover
	logger  *log.Logger
}

// NewExpirer は Expirer を作成します。
func NewExpirer(store RecordStore, remover BatchRemover, logger *log.Logger) *Expirer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Expirer{store: store, remover: remover, logger: logger}
}

// Expire はバッチディレクトリを削除し、記録を更新します。
// 記録が既に無い場合もディレクトリの削除は行います。
func (e *Expirer) Expire(ctx context.Context, batchID string) error {
	if err := e.remover.Remove(batchID); err != nil {
		e.logger.Errorf("[Jobs] failed to remove batch=%s: %v", batchID, err)
		if markErr := e.store.MarkFailed(ctx, batchID, &ErrorInfo{
			Code:    "CLEANUP_FAILED",
			Message: err.Error(),
		}); markErr != nil && !errors.Is(markErr, ErrRecordNotFound) {
			e.logger.Warnf("[Jobs] failed to mark batch=%s failed: %v", batchID, markErr)
		}
		return err
	}
	if err := e.store.MarkExpired(ctx, batchID); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			e.logger.Debugf("[Jobs] batch=%s removed without record", batchID)
			return nil
		}
		return err
	}
	e.logger.Infof("[Jobs] batch=%s expired", batchID)
	return nil
}

// Tracker は受理したバッチを RecordStore に記録します。
type Tracker struct {
	store RecordStore
}

// NewTracker は Tracker を作成します。
func NewTracker(store RecordStore) *Tracker {
	return &Tracker{store: store}
}

// RecordBatch は ingest.Result から記録を作成して保存します。
func (t *Tracker) RecordBatch(ctx context.Context, result *ingest.Result, expiresAt time.Time) error {
	if result == nil {
		return errors.New("result is nil")
	}
	record := &Record{
		BatchID:   result.BatchID,
		Status:    StatusStored,
		Files:     make([]FileSummary, 0, len(result.Files)),
		FileCount: len(result.Files),
		CreatedAt: result.CreatedAt,
		ExpiresAt: expiresAt,
	}
	for _, f := range result.Files {
		record.Files = append(record.Files, FileSummary{
			OriginalName: f.OriginalName,
			StoredName:   f.StoredName,
			SizeBytes:    f.SizeBytes,
			MimeType:     f.MimeType,
			Pages:        f.Pages,
		})
		record.TotalBytes += f.SizeBytes
	}
	return t.store.Upsert(ctx, record)
}

// FailBatch は期限切れを予約できずに削除したバッチを failed として記録します。
func (t *Tracker) FailBatch(ctx context.Context, batchID string, cause error) error {
	msg := "expiry could not be scheduled"
	if cause != nil {
		msg = cause.Error()
	}
	return t.store.MarkFailed(ctx, batchID, &ErrorInfo{Code: "SCHEDULE_FAILED", Message: msg})
}

// GetRecord はバッチ記録を取得します。
func (t *Tracker) GetRecord(ctx context.Context, batchID string) (*Record, error) {
	return t.store.Get(ctx, batchID)
}
