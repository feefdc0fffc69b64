package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const manifestFilename = "manifest.json"

// Manifest はバッチに保存したファイルとフィールドの記録です。
type Manifest struct {
	BatchID   string            `json:"batchId"`
	Files     []ManifestFile    `json:"files"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ManifestFile は保存ファイル1件のメタデータです。
type ManifestFile struct {
	FieldName    string `json:"fieldName"`
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
	Pages        int    `json:"pages,omitempty"`
}

// WriteManifest は dir に manifest.json を書き込みます。
func WriteManifest(dir string, manifest *Manifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	path := filepath.Join(dir, manifestFilename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	return encodeManifest(file, manifest)
}

// encodeManifest は書き込み後に w を閉じ、Close のエラーも返します。
func encodeManifest(w io.WriteCloser, manifest *Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		w.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	return nil
}

// LoadManifest はコミット済みバッチの manifest.json を読み込みます。
func (l *Local) LoadManifest(batchID string) (*Manifest, error) {
	if err := validateBatchID(batchID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.BatchDir(batchID), manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}
