package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"

	"github.com/yourusername/paper-press/internal/logging"
)

const (
	taskTypeExpire = "upload:expire"
	queueName      = "uploads"
)

// Manager は asynq を使ってバッチの期限切れタスクを予約・実行します。
type Manager struct {
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	expirer *Expirer
	logger  *log.Logger
}

// TaskPayload は期限切れタスクのペイロードです。
type TaskPayload struct {
	BatchID string `json:"batchId"`
}

// NewManager は Manager を初期化します。
func NewManager(redisURL string, expirer *Expirer, logger *log.Logger) (*Manager, error) {
	if expirer == nil {
		return nil, errors.New("expirer is nil")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: asynqLogger{l: logger.WithPrefix("asynq")},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client:  client,
		server:  server,
		mux:     mux,
		expirer: expirer,
		logger:  logger,
	}
	mux.HandleFunc(taskTypeExpire, manager.handleExpireTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Errorf("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// ScheduleExpiry は after 経過後にバッチを削除するタスクを投入します。
func (m *Manager) ScheduleExpiry(ctx context.Context, batchID string, after time.Duration) error {
	task, err := newExpireTask(batchID)
	if err != nil {
		return err
	}
	info, err := m.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.ProcessIn(after),
		asynq.MaxRetry(3),
		asynq.TaskID(taskTypeExpire+":"+batchID),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue expiry for %s: %w", batchID, err)
	}
	m.logger.Debugf("[Jobs] scheduled expiry batch=%s task=%s in=%s", batchID, info.ID, after)
	return nil
}

func (m *Manager) handleExpireTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.BatchID == "" {
		return fmt.Errorf("missing batchId in payload: %w", asynq.SkipRetry)
	}
	return m.expirer.Expire(ctx, payload.BatchID)
}

func newExpireTask(batchID string) (*asynq.Task, error) {
	if batchID == "" {
		return nil, fmt.Errorf("batchID is required")
	}
	body, err := json.Marshal(TaskPayload{BatchID: batchID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskTypeExpire, body), nil
}

// asynqLogger は asynq.Logger を charmbracelet/log に橋渡しします。
type asynqLogger struct {
	l *log.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal(fmt.Sprint(args...)) }
