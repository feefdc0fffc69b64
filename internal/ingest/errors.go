package ingest

import (
	"errors"
	"fmt"
)

// Reason は制約違反の種別です。
type Reason string

const (
	ReasonUnsupportedType Reason = "UnsupportedType"
	ReasonTooLarge        Reason = "TooLarge"
	ReasonTooManyFiles    Reason = "TooManyFiles"
)

var (
	// ErrNotMultipart はリクエストが multipart/form-data でない場合に返されます。
	ErrNotMultipart = errors.New("ingest: request is not multipart/form-data")
	// ErrMalformedRequest は multipart 本文の解析に失敗した場合に返されます。
	ErrMalformedRequest = errors.New("ingest: malformed multipart body")
)

// ValidationError はアップロード制約に違反したリクエストを表します。
// このエラーが返されたリクエストのファイルは1つも保存されません。
type ValidationError struct {
	Reason   Reason
	Filename string // 違反したファイル名（ファイル以外の場合は空）
	Field    string // 違反したフィールド名
	Limit    int64  // 超過した上限値（該当する場合）
	Detail   string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("ingest: %s", e.Reason)
	if e.Filename != "" {
		msg += fmt.Sprintf(" (file %q)", e.Filename)
	} else if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// StorageError は受理したファイルの書き込みに失敗したことを表します。
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("ingest: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("ingest: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func rejectType(filename, detail string) *ValidationError {
	return &ValidationError{Reason: ReasonUnsupportedType, Filename: filename, Detail: detail}
}

func rejectSize(filename string, limit int64) *ValidationError {
	return &ValidationError{
		Reason:   ReasonTooLarge,
		Filename: filename,
		Limit:    limit,
		Detail:   fmt.Sprintf("exceeds %d bytes", limit),
	}
}
