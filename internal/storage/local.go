// Package storage は一時アップロードディレクトリを管理します。
//
// ディレクトリ構成:
//
//	<baseDir>/.staging/<batchID>/   受信中のファイル（検証完了までは公開しない）
//	<baseDir>/<batchID>/            検証済みバッチ（manifest.json + 保存ファイル）
//
// 検証がすべて通った時点で staging ディレクトリを rename するため、
// 制約を満たさないファイルがバッチとして見えることはありません。
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	stagingDirName = ".staging"
	dirPerm        = 0o750
)

// ErrInvalidBatchID はバッチIDがUUID形式でない場合に返されます。
var ErrInvalidBatchID = errors.New("storage: invalid batch id")

// Local はローカルファイルシステム上の一時アップロード領域です。
type Local struct {
	baseDir string
	now     func() time.Time
}

// Staging は受信中バッチの作業ディレクトリです。
type Staging struct {
	BatchID string
	Dir     string
}

// NewLocal は baseDir を作成して Local を返します。
func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("storage: base directory is required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving upload directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, stagingDirName), dirPerm); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Local{baseDir: abs, now: time.Now}, nil
}

// BaseDir はアップロード先のルートディレクトリを返します。
func (l *Local) BaseDir() string {
	return l.baseDir
}

// NewBatchID は衝突しにくいバッチIDを払い出します。
func NewBatchID() string {
	return uuid.NewString()
}

// CreateStaging はバッチ用の staging ディレクトリを作成します。
func (l *Local) CreateStaging(batchID string) (*Staging, error) {
	if err := validateBatchID(batchID); err != nil {
		return nil, err
	}
	dir := filepath.Join(l.baseDir, stagingDirName, batchID)
	// 同じIDの staging が既に存在する場合はエラーにする
	if err := os.Mkdir(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Staging{BatchID: batchID, Dir: dir}, nil
}

// Commit は staging ディレクトリをバッチディレクトリへ移動し、移動先を返します。
func (l *Local) Commit(s *Staging) (string, error) {
	if s == nil {
		return "", fmt.Errorf("staging is nil")
	}
	dest := l.BatchDir(s.BatchID)
	if err := os.Rename(s.Dir, dest); err != nil {
		return "", fmt.Errorf("committing batch %s: %w", s.BatchID, err)
	}
	return dest, nil
}

// Discard は staging ディレクトリを中身ごと削除します。
func (l *Local) Discard(s *Staging) error {
	if s == nil {
		return nil
	}
	return removeDir(s.Dir)
}

// BatchDir はコミット済みバッチのディレクトリパスを返します。
func (l *Local) BatchDir(batchID string) string {
	return filepath.Join(l.baseDir, batchID)
}

// Remove はコミット済みバッチを削除します。存在しない場合は何もしません。
func (l *Local) Remove(batchID string) error {
	if err := validateBatchID(batchID); err != nil {
		return err
	}
	return removeDir(l.BatchDir(batchID))
}

// Sweep は maxAge より古いバッチと staging ディレクトリを削除し、削除数を返します。
// 再起動などでタイマーが失われたバッチの後始末に使います。
func (l *Local) Sweep(maxAge time.Duration) (int, error) {
	cutoff := l.now().Add(-maxAge)
	removed := 0

	for _, dir := range []string{l.baseDir, filepath.Join(l.baseDir, stagingDirName)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() || validateBatchID(entry.Name()) != nil {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if err := removeDir(filepath.Join(dir, entry.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func validateBatchID(batchID string) error {
	if _, err := uuid.Parse(batchID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidBatchID, batchID)
	}
	return nil
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	return nil
}
