package jobs

import "time"

// Status はアップロードバッチの状態を表します。
type Status string

const (
	StatusStored  Status = "stored"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
)

// ErrorInfo は失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FileSummary は状態照会で返すファイル情報です。保存先のパスは含めません。
type FileSummary struct {
	OriginalName string `json:"originalName"`
	StoredName   string `json:"storedName"`
	SizeBytes    int64  `json:"sizeBytes"`
	MimeType     string `json:"mimeType"`
	Pages        int    `json:"pages,omitempty"`
}

// Record はアップロードバッチの現在状態を表します。
type Record struct {
	BatchID    string        `json:"batchId"`
	Status     Status        `json:"status"`
	Files      []FileSummary `json:"files"`
	FileCount  int           `json:"fileCount"`
	TotalBytes int64         `json:"totalBytes"`
	Error      *ErrorInfo    `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	ExpiresAt  time.Time     `json:"expiresAt"`
}
