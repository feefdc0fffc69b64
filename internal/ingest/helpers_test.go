package ingest

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	pdfHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
)

type testPart struct {
	field       string
	filename    string
	contentType string
	content     []byte
	reader      io.Reader // content の代わりに使う（大きなファイル用）
	value       string    // ファイル以外のフィールド値
	isFile      bool
}

func pdfPart(name string, size int) testPart {
	content := make([]byte, size)
	copy(content, pdfHeader)
	return testPart{field: "files", filename: name, contentType: "application/pdf", content: content, isFile: true}
}

func filePart(name, contentType string, content []byte) testPart {
	return testPart{field: "files", filename: name, contentType: contentType, content: content, isFile: true}
}

func fieldPart(name, value string) testPart {
	return testPart{field: name, value: value}
}

func writeParts(w *multipart.Writer, parts []testPart) error {
	for _, p := range parts {
		if !p.isFile {
			if err := w.WriteField(p.field, p.value); err != nil {
				return err
			}
			continue
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}
		pw, err := w.CreatePart(header)
		if err != nil {
			return err
		}
		src := p.reader
		if src == nil {
			src = bytes.NewReader(p.content)
		}
		if _, err := io.Copy(pw, src); err != nil {
			return err
		}
	}
	return w.Close()
}

// newUploadRequest は parts から multipart リクエストを組み立てます。
func newUploadRequest(t *testing.T, parts ...testPart) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writeParts(writer, parts))
	req := httptest.NewRequest(http.MethodPost, "/api/compress-pdf", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// newStreamingRequest は本文をメモリに載せずに送るリクエストを作成します。
func newStreamingRequest(t *testing.T, parts ...testPart) *http.Request {
	t.Helper()
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(writer, parts))
	}()
	req := httptest.NewRequest(http.MethodPost, "/api/compress-pdf", pr)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func newTestGate(t *testing.T, mutate func(*Constraint), opts ...Option) *Gate {
	t.Helper()
	c := PDFConstraint(t.TempDir(), 100<<20, 10)
	if mutate != nil {
		mutate(&c)
	}
	gate, err := NewGate(c, opts...)
	require.NoError(t, err)
	return gate
}

// committedEntries は保存先に見えているバッチと staging の中身を返します。
func committedEntries(t *testing.T, gate *Gate) (batches []string, staging []string) {
	t.Helper()
	base := gate.Store().BaseDir()
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Name() == ".staging" {
			continue
		}
		batches = append(batches, e.Name())
	}
	stagingEntries, err := os.ReadDir(filepath.Join(base, ".staging"))
	require.NoError(t, err)
	for _, e := range stagingEntries {
		staging = append(staging, e.Name())
	}
	return batches, staging
}

type stubInspector struct {
	pages int
	err   error
}

func (s stubInspector) PageCount(string) (int, error) {
	return s.pages, s.err
}
