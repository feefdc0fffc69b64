// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/paper-press/internal/config"
	"github.com/yourusername/paper-press/internal/ingest"
	"github.com/yourusername/paper-press/internal/logging"
	"github.com/yourusername/paper-press/internal/middleware"
	"github.com/yourusername/paper-press/internal/pdf"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定（ブラウザのフォームから直接アップロードされる）
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Accept-Language",
	}
	router.Use(cors.New(corsConfig))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gate, err := newGate(cfg, registry, logger)
	if err != nil {
		logger.Fatalf("Failed to initialise upload gate: %v", err)
	}

	ttl := time.Duration(cfg.UploadTTLMinutes) * time.Minute
	if removed, err := gate.Store().Sweep(ttl); err != nil {
		logger.Warnf("Failed to sweep upload directory: %v", err)
	} else if removed > 0 {
		logger.Infof("Removed %d stale upload batch(es)", removed)
	}

	background, err := setupJobs(cfg, gate, logger)
	if err != nil {
		logger.Fatalf("Failed to initialise jobs: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go runSweeper(ctx, gate, ttl, logger)

	// ルーティングの設定
	setupRoutes(router, cfg, gate, background, registry, logger)

	// サーバーの起動
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	if err := background.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Job shutdown failed: %v", err)
	}
}

func newGate(cfg *config.Config, reg prometheus.Registerer, logger *log.Logger) (*ingest.Gate, error) {
	constraint := ingest.Constraint{
		AllowedMimePattern: cfg.MimePattern(),
		MaxFileBytes:       cfg.MaxFileSize,
		MaxFileCount:       cfg.MaxFiles,
		DestinationDir:     cfg.UploadDir,
		MaxFieldsBytes:     cfg.MaxFieldsSize,
		MaxPages:           cfg.MaxPages,
		VerifySignature:    cfg.VerifySignature,
	}
	opts := []ingest.Option{
		ingest.WithMetrics(ingest.NewMetrics(reg)),
		ingest.WithLogger(logger),
	}
	if cfg.InspectPDF {
		opts = append(opts, ingest.WithInspector(pdf.NewInspector()))
	}
	return ingest.NewGate(constraint, opts...)
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "paper-press-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, gate *ingest.Gate, bg *backgroundJobs, reg *prometheus.Registry, logger *log.Logger) {
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.POST("/compress-pdf",
			middleware.RateLimit(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
			ingest.Handler(gate, ingest.HandlerOptions{
				Recorder:  bg.tracker,
				Scheduler: bg.scheduler,
				TTL:       time.Duration(cfg.UploadTTLMinutes) * time.Minute,
				Logger:    logger,
			}),
		)
		api.GET("/uploads/:id", uploadStatusHandler(bg.tracker))
	}
}

// runSweeper はタイマーやタスクから漏れたバッチを定期的に削除します。
func runSweeper(ctx context.Context, gate *ingest.Gate, ttl time.Duration, logger *log.Logger) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 正常に期限切れ処理されたバッチと競合しないよう、余裕を持たせる
			if removed, err := gate.Store().Sweep(2 * ttl); err != nil {
				logger.Warnf("Failed to sweep upload directory: %v", err)
			} else if removed > 0 {
				logger.Infof("Removed %d stale upload batch(es)", removed)
			}
		}
	}
}
