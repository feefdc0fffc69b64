// Package staging はアップロード前のファイル選択状態を管理します。
//
// Queue が送信対象の唯一の情報源で、Renderer がその一覧表示、
// Controller が送信と送信ボタンの有効/無効を受け持ちます。
// Form はこれらを「キュー変更 → 再描画 → 送信可否の再評価」の順で結び付けます。
package staging

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

const defaultContentType = "application/octet-stream"

// Blob はファイル本体への参照です。送信時に Open されます。
type Blob interface {
	Open() (io.ReadCloser, error)
}

// FileBlob はローカルファイルのパスです。
type FileBlob string

// Open はファイルを開きます。
func (b FileBlob) Open() (io.ReadCloser, error) {
	return os.Open(string(b))
}

// BytesBlob はメモリ上のファイル本体です。
type BytesBlob []byte

// Open は本体を読み出す Reader を返します。
func (b BytesBlob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Entry はファイル選択で渡される1件です。
type Entry struct {
	Name string
	Size int64
	Type string // 空の場合は拡張子から推定
	Blob Blob
}

// StagedFile はキューに積まれたファイルです。
// Seq はキュー内で単調増加する番号で、削除はこの番号で行います。
type StagedFile struct {
	Seq  uint64
	Name string
	Size int64
	Type string
	Blob Blob
}

// EntryFromPath はローカルファイルから Entry を作成します。
func EntryFromPath(path string) (Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Entry{}, fmt.Errorf("%s is a directory", path)
	}
	return Entry{
		Name: filepath.Base(path),
		Size: info.Size(),
		Blob: FileBlob(path),
	}, nil
}

// typeForName はブラウザと同様にファイル名の拡張子からMIMEタイプを決めます。
func typeForName(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		mt, _, err := mime.ParseMediaType(t)
		if err == nil {
			return mt
		}
		return t
	}
	return defaultContentType
}
