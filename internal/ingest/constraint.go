// Package ingest は multipart アップロードを制約付きで受け付けるゲートを提供します。
package ingest

import (
	"fmt"
	"math"
	"regexp"
)

const (
	// DefaultMaxFieldsBytes はファイル以外のフィールドの合計上限の既定値です。
	DefaultMaxFieldsBytes int64 = 1 << 20
	// requestOverheadBytes は multipart の境界やヘッダー分として許容する余裕です。
	requestOverheadBytes int64 = 1 << 20
)

// Constraint はエンドポイント登録時に固定されるアップロード制約です。
type Constraint struct {
	AllowedMimePattern *regexp.Regexp // 宣言されたMIMEタイプが一致すべきパターン
	MaxFileBytes       int64          // 1ファイルあたりの最大バイト数
	MaxFileCount       int            // 1リクエストあたりの最大ファイル数
	DestinationDir     string         // 保存先ディレクトリ

	MaxFieldsBytes  int64 // ファイル以外のフィールドの合計最大バイト数（0で既定値）
	MaxPages        int   // 1ファイルあたりの最大ページ数（0で無制限、Inspector 指定時のみ）
	VerifySignature bool  // 先頭バイトから判定したMIMEタイプもパターンに一致させる
}

// PDFConstraint は application/pdf のみを受け付ける制約を作成します。
func PDFConstraint(destinationDir string, maxFileBytes int64, maxFileCount int) Constraint {
	return Constraint{
		AllowedMimePattern: regexp.MustCompile(`^application/pdf$`),
		MaxFileBytes:       maxFileBytes,
		MaxFileCount:       maxFileCount,
		DestinationDir:     destinationDir,
		VerifySignature:    true,
	}
}

func (c Constraint) normalize() (Constraint, error) {
	if c.AllowedMimePattern == nil {
		return c, fmt.Errorf("ingest: allowed mime pattern is required")
	}
	if c.MaxFileBytes <= 0 {
		return c, fmt.Errorf("ingest: max file bytes must be positive")
	}
	if c.MaxFileCount <= 0 {
		return c, fmt.Errorf("ingest: max file count must be positive")
	}
	if c.DestinationDir == "" {
		return c, fmt.Errorf("ingest: destination directory is required")
	}
	if c.MaxFieldsBytes <= 0 {
		c.MaxFieldsBytes = DefaultMaxFieldsBytes
	}
	// maxRequestBytes が int64 に収まること
	if c.MaxFieldsBytes > math.MaxInt64-requestOverheadBytes ||
		c.MaxFileBytes > (math.MaxInt64-c.MaxFieldsBytes-requestOverheadBytes)/int64(c.MaxFileCount) {
		return c, fmt.Errorf("ingest: max file bytes (%d) times max file count (%d) overflows the request limit", c.MaxFileBytes, c.MaxFileCount)
	}
	// 呼び出し側が後からパターンを差し替えても影響しないよう複製する
	c.AllowedMimePattern = regexp.MustCompile(c.AllowedMimePattern.String())
	return c, nil
}

// maxRequestBytes はリクエスト本文全体の上限です。
func (c Constraint) maxRequestBytes() int64 {
	return c.MaxFileBytes*int64(c.MaxFileCount) + c.MaxFieldsBytes + requestOverheadBytes
}
