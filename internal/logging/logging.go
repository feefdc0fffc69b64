// Package logging はアプリケーション共通のロガーを構築します。
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

const timeFormat = "2006-01-02 15:04:05"

// New は指定レベルのロガーを標準エラー出力向けに作成します。
// 不正なレベル文字列は info として扱います。
func New(level string) *log.Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter は出力先を指定してロガーを作成します。
func NewWithWriter(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      timeFormat,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	if lvl == log.DebugLevel {
		logger.SetReportCaller(true)
	}
	return logger
}

// Discard はテスト用に何も出力しないロガーを返します。
func Discard() *log.Logger {
	return log.New(io.Discard)
}
