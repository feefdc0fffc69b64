package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/paper-press/internal/config"
	"github.com/yourusername/paper-press/internal/ingest"
	"github.com/yourusername/paper-press/internal/jobs"
)

// recordRetentionFactor は記録をバッチの寿命の何倍保持するかです。
// 期限切れ後もしばらくは expired として照会できるようにする。
const recordRetentionFactor = 3

type expiryScheduler interface {
	ingest.ExpiryScheduler
	Shutdown(ctx context.Context) error
}

type backgroundJobs struct {
	tracker   *jobs.Tracker
	scheduler expiryScheduler
	closers   []func() error
}

func (b *backgroundJobs) Shutdown(ctx context.Context) error {
	err := b.scheduler.Shutdown(ctx)
	for _, closeFn := range b.closers {
		if closeErr := closeFn(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func setupJobs(cfg *config.Config, gate *ingest.Gate, logger *log.Logger) (*backgroundJobs, error) {
	ttlMinutes := cfg.UploadTTLMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	retention := time.Duration(ttlMinutes*recordRetentionFactor) * time.Minute

	if cfg.QueueRedisURL == "" {
		logger.Warn("QUEUE_REDIS_URL is not set; using in-process timers for upload expiry")
		store := jobs.NewMemoryStore(retention)
		expirer := jobs.NewExpirer(store, gate.Store(), logger)
		return &backgroundJobs{
			tracker:   jobs.NewTracker(store),
			scheduler: jobs.NewTimerScheduler(expirer, logger),
		}, nil
	}

	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}
	redisClient := redis.NewClient(opt)
	store := jobs.NewRedisStore(redisClient, retention)
	expirer := jobs.NewExpirer(store, gate.Store(), logger)
	manager, err := jobs.NewManager(cfg.QueueRedisURL, expirer, logger)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	manager.StartWorkers()
	return &backgroundJobs{
		tracker:   jobs.NewTracker(store),
		scheduler: manager,
		closers:   []func() error{redisClient.Close},
	}, nil
}

func uploadStatusHandler(tracker *jobs.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		batchID := c.Param("id")
		if strings.TrimSpace(batchID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "batchId is required.",
			})
			return
		}

		record, err := tracker.GetRecord(c.Request.Context(), batchID)
		if err != nil {
			ingest.RespondError(c, err)
			return
		}
		if record == nil {
			ingest.RespondNotFound(c)
			return
		}

		c.JSON(http.StatusOK, record)
	}
}
