package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yourusername/paper-press/internal/logging"
)

// TimerScheduler は Redis を使わない場合にプロセス内タイマーで期限切れを処理します。
// プロセスが再起動すると予約は失われるため、起動時の Sweep と併用します。
type TimerScheduler struct {
	mu      sync.Mutex
	expirer *Expirer
	timers  map[string]*time.Timer
	logger  *log.Logger
	closed  bool
}

// NewTimerScheduler は TimerScheduler を作成します。
func NewTimerScheduler(expirer *Expirer, logger *log.Logger) *TimerScheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &TimerScheduler{
		expirer: expirer,
		timers:  make(map[string]*time.Timer),
		logger:  logger,
	}
}

// ScheduleExpiry は after 経過後にバッチを削除します。同じバッチの予約は置き換えます。
func (s *TimerScheduler) ScheduleExpiry(_ context.Context, batchID string, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}
	if t, ok := s.timers[batchID]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		// s.mu を取るまで timer の代入は完了している
		s.mu.Lock()
		if s.timers[batchID] == timer {
			delete(s.timers, batchID)
		}
		s.mu.Unlock()
		if err := s.expirer.Expire(context.Background(), batchID); err != nil {
			s.logger.Warnf("[Jobs] expiry failed batch=%s: %v", batchID, err)
		}
	})
	s.timers[batchID] = timer
	return nil
}

// Pending は予約中のバッチ数を返します。
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown は未実行のタイマーを止めます。
func (s *TimerScheduler) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.closed = true
	return nil
}
