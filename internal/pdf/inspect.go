// Package pdf はアップロードされたPDFの検査機能を提供します。
package pdf

import (
	"fmt"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Inspector は pdfcpu を使ってPDFのページ数を取得します。
type Inspector struct{}

// NewInspector は Inspector を作成します。
func NewInspector() *Inspector {
	return &Inspector{}
}

// PageCount は path のPDFを読み込み、ページ数を返します。
// PDFとして解析できない場合はエラーを返します。
func (i *Inspector) PageCount(path string) (int, error) {
	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("PDFの解析に失敗しました: %w", err)
	}
	return pages, nil
}
