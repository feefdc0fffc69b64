package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/paper-press/internal/locale"
	"github.com/yourusername/paper-press/internal/logging"
)

// BatchRecorder は受理したバッチの記録を保存します。
// 期限切れの予約に失敗したバッチは削除され、FailBatch で失敗として記録されます。
type BatchRecorder interface {
	RecordBatch(ctx context.Context, result *Result, expiresAt time.Time) error
	FailBatch(ctx context.Context, batchID string, cause error) error
}

// ExpiryScheduler はバッチの期限切れ削除を予約します。
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, batchID string, after time.Duration) error
}

// HandlerOptions はアップロードハンドラーの設定です。
type HandlerOptions struct {
	Recorder  BatchRecorder
	Scheduler ExpiryScheduler
	TTL       time.Duration
	Logger    *log.Logger
}

// Handler は POST /api/compress-pdf のハンドラーを返します。
func Handler(gate *Gate, opts HandlerOptions) gin.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return func(c *gin.Context) {
		lang := locale.Match(c.GetHeader("Accept-Language"))
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, gate.MaxRequestBytes())

		result, err := gate.Parse(c.Request.Context(), c.Request)
		if err != nil {
			logger.Warnf("[Ingest] upload rejected: %v", err)
			respondWithError(c, lang, err)
			return
		}
		if len(result.Files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    codeInvalidInput,
				"message": message(msgNoFiles, lang),
			})
			return
		}

		ctx := c.Request.Context()
		var expiresAt time.Time
		if opts.TTL > 0 {
			expiresAt = result.CreatedAt.Add(opts.TTL)
		}
		// 期限切れ処理が記録より先に走らないよう、記録してから予約する
		if opts.Recorder != nil {
			if err := opts.Recorder.RecordBatch(ctx, result, expiresAt); err != nil {
				// 記録は状態照会用なので、失敗してもアップロード自体は成功扱いにする
				logger.Warnf("[Ingest] failed to record batch=%s: %v", result.BatchID, err)
			}
		}
		if opts.Scheduler != nil && opts.TTL > 0 {
			if err := opts.Scheduler.ScheduleExpiry(ctx, result.BatchID, opts.TTL); err != nil {
				if cleanupErr := gate.Store().Remove(result.BatchID); cleanupErr != nil {
					err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
				}
				logger.Errorf("[Ingest] failed to schedule expiry batch=%s: %v", result.BatchID, err)
				if opts.Recorder != nil {
					if failErr := opts.Recorder.FailBatch(ctx, result.BatchID, err); failErr != nil {
						logger.Warnf("[Ingest] failed to mark batch=%s as failed: %v", result.BatchID, failErr)
					}
				}
				respondWithError(c, lang, err)
				return
			}
		}

		logger.Infof("[Ingest] stored batch=%s files=%d", result.BatchID, len(result.Files))
		payload := gin.H{
			"status":  "ok",
			"batchId": result.BatchID,
			"files":   result.Files,
			"fields":  result.Fields,
		}
		if !expiresAt.IsZero() {
			payload["expiresAt"] = expiresAt
		}
		c.JSON(http.StatusOK, payload)
	}
}

// RespondNotFound は期限切れまたは存在しないアップロードの応答を返します。
func RespondNotFound(c *gin.Context) {
	lang := locale.Match(c.GetHeader("Accept-Language"))
	c.JSON(http.StatusNotFound, gin.H{
		"code":    codeNotFound,
		"message": message(codeNotFound, lang),
	})
}

// RespondError はエラーを JSON 応答に変換します。
func RespondError(c *gin.Context, err error) {
	respondWithError(c, locale.Match(c.GetHeader("Accept-Language")), err)
}

func respondWithError(c *gin.Context, lang locale.Locale, err error) {
	var validationErr *ValidationError
	var storageErr *StorageError
	switch {
	case errors.As(err, &validationErr):
		status, code := statusForReason(validationErr.Reason)
		body := gin.H{
			"code":    code,
			"message": message(code, lang),
			"reason":  validationErr.Reason,
		}
		if validationErr.Filename != "" {
			body["filename"] = validationErr.Filename
		}
		if validationErr.Limit > 0 {
			body["limit"] = validationErr.Limit
		}
		c.JSON(status, body)
	case errors.Is(err, ErrNotMultipart), errors.Is(err, ErrMalformedRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    codeInvalidInput,
			"message": message(codeInvalidInput, lang),
		})
	case errors.As(err, &storageErr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    codeStorageError,
			"message": message(codeStorageError, lang),
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    codeCanceled,
			"message": message(codeCanceled, lang),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    codeInternal,
			"message": message(codeInternal, lang),
		})
	}
}

func statusForReason(reason Reason) (int, string) {
	switch reason {
	case ReasonUnsupportedType:
		return http.StatusUnsupportedMediaType, codeUnsupportedType
	case ReasonTooManyFiles:
		return http.StatusRequestEntityTooLarge, codeTooManyFiles
	default:
		return http.StatusRequestEntityTooLarge, codeFileTooLarge
	}
}
