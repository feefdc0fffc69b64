// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port     string // APIサーバーのポート番号
	GinMode  string // Ginの実行モード (debug, release, test)
	LogLevel string // ログレベル (debug, info, warn, error)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// アップロード制約（エンドポイント登録時に固定）
	UploadDir         string // 一時アップロード先ディレクトリ
	AllowedMimeRegexp string // 受け付けるMIMEタイプの正規表現
	MaxFileSize       int64  // 単一ファイルの最大サイズ（バイト）
	MaxFiles          int    // 1リクエストあたりの最大ファイル数
	MaxFieldsSize     int64  // ファイル以外のフィールドの合計最大サイズ（バイト）
	MaxPages          int    // 単一ファイルの最大ページ数（0で無制限）
	InspectPDF        bool   // pdfcpu でページ数を検査するか
	VerifySignature   bool   // 先頭バイトからMIMEタイプを判定して宣言と照合するか

	// 一時ファイルの寿命
	UploadTTLMinutes int // アップロードしたバッチの有効期限（分）

	// ジョブ/キュー設定
	QueueRedisURL string // Asynq用Redis接続URL（空ならプロセス内タイマーで代替）

	// レート制限
	RateLimitPerMinute int // クライアントIPごとの1分あたりのアップロード回数
	RateLimitBurst     int // バースト許容量

	// 追加設定ファイル
	UploadConfigFile string // アップロード制約を上書きするYAMLファイル
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// アップロード制約
		UploadDir:         getEnv("UPLOAD_DIR", "/tmp/uploads"),
		AllowedMimeRegexp: getEnv("UPLOAD_MIME_PATTERN", "^application/pdf$"),
		MaxFileSize:       getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		MaxFiles:          getEnvAsInt("MAX_FILES", 10),
		MaxFieldsSize:     getEnvAsInt64("MAX_FIELDS_SIZE", 1048576), // 1MB
		MaxPages:          getEnvAsInt("MAX_PAGES", 200),
		InspectPDF:        getEnvAsBool("PDF_INSPECT", true),
		VerifySignature:   getEnvAsBool("VERIFY_SIGNATURE", true),

		UploadTTLMinutes: getEnvAsInt("UPLOAD_TTL_MINUTES", 10),

		// ジョブ/キュー設定
		QueueRedisURL: getEnv("QUEUE_REDIS_URL", ""),

		// レート制限
		RateLimitPerMinute: getEnvAsInt("UPLOAD_RATE_LIMIT", 30),
		RateLimitBurst:     getEnvAsInt("UPLOAD_RATE_BURST", 5),

		UploadConfigFile: getEnv("UPLOAD_CONFIG_FILE", ""),
	}

	if config.UploadConfigFile != "" {
		if err := config.applyUploadFile(config.UploadConfigFile); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// uploadFile は UPLOAD_CONFIG_FILE の構造です。未指定の項目は環境変数の値を維持します。
type uploadFile struct {
	Upload struct {
		Dir             *string `yaml:"dir"`
		MimePattern     *string `yaml:"mimePattern"`
		MaxFileSize     *int64  `yaml:"maxFileSize"`
		MaxFiles        *int    `yaml:"maxFiles"`
		MaxFieldsSize   *int64  `yaml:"maxFieldsSize"`
		MaxPages        *int    `yaml:"maxPages"`
		InspectPDF      *bool   `yaml:"inspectPdf"`
		VerifySignature *bool   `yaml:"verifySignature"`
		TTLMinutes      *int    `yaml:"ttlMinutes"`
	} `yaml:"upload"`
}

func (c *Config) applyUploadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read upload config file: %w", err)
	}
	var file uploadFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse upload config file: %w", err)
	}

	u := file.Upload
	if u.Dir != nil {
		c.UploadDir = *u.Dir
	}
	if u.MimePattern != nil {
		c.AllowedMimeRegexp = *u.MimePattern
	}
	if u.MaxFileSize != nil {
		c.MaxFileSize = *u.MaxFileSize
	}
	if u.MaxFiles != nil {
		c.MaxFiles = *u.MaxFiles
	}
	if u.MaxFieldsSize != nil {
		c.MaxFieldsSize = *u.MaxFieldsSize
	}
	if u.MaxPages != nil {
		c.MaxPages = *u.MaxPages
	}
	if u.InspectPDF != nil {
		c.InspectPDF = *u.InspectPDF
	}
	if u.VerifySignature != nil {
		c.VerifySignature = *u.VerifySignature
	}
	if u.TTLMinutes != nil {
		c.UploadTTLMinutes = *u.TTLMinutes
	}
	return nil
}

// requestSlackBytes はフィールド既定値および multipart の余裕分（1MiB）です。
const requestSlackBytes int64 = 1 << 20

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.UploadDir) == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	if _, err := regexp.Compile(c.AllowedMimeRegexp); err != nil {
		return fmt.Errorf("UPLOAD_MIME_PATTERN is not a valid regular expression: %w", err)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.MaxFiles <= 0 {
		return fmt.Errorf("MAX_FILES must be positive")
	}
	if c.MaxFieldsSize < 0 {
		return fmt.Errorf("MAX_FIELDS_SIZE must not be negative")
	}
	// リクエスト全体の上限 MAX_FILE_SIZE*MAX_FILES + フィールド + 余裕 が int64 に収まること
	fieldsSize := max(c.MaxFieldsSize, requestSlackBytes)
	if fieldsSize > math.MaxInt64-requestSlackBytes ||
		c.MaxFileSize > (math.MaxInt64-fieldsSize-requestSlackBytes)/int64(c.MaxFiles) {
		return fmt.Errorf("MAX_FILE_SIZE * MAX_FILES is too large")
	}
	if c.UploadTTLMinutes <= 0 {
		return fmt.Errorf("UPLOAD_TTL_MINUTES must be positive")
	}

	// 本番環境ではキューを必須にする（プロセス再起動でタイマーが失われるため）
	if c.GinMode == "release" {
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
	}

	return nil
}

// MimePattern はコンパイル済みのMIMEパターンを返します。Validate 済みであることが前提です。
func (c *Config) MimePattern() *regexp.Regexp {
	return regexp.MustCompile(c.AllowedMimeRegexp)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
