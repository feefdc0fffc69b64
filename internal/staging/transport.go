package staging

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Minute
	maxResponseBytes = 4 << 20
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// HTTPTransport は multipart/form-data で本文をストリーミング送信します。
// すべてのファイルサイズが分かっている場合は Content-Length を事前に計算するため、
// 進捗の割合が計算できます。
type HTTPTransport struct {
	client *http.Client
	header http.Header
}

// NewHTTPTransport は HTTPTransport を作成します。client が nil の場合は既定のクライアントを使います。
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPTransport{client: client, header: make(http.Header)}
}

// SetHeader は全リクエストに付与するヘッダーを設定します。
func (t *HTTPTransport) SetHeader(key, value string) {
	t.header.Set(key, value)
}

// Send はリクエストを送信し、応答本文をそのまま返します。
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	fileField := req.FileField
	if fileField == "" {
		fileField = DefaultFileField
	}

	boundary := multipart.NewWriter(io.Discard).Boundary()
	total, computable, err := contentLength(boundary, fileField, req)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeBody(pw, boundary, fileField, req))
	}()
	defer pr.Close()

	body := &progressReader{r: pr, total: total, computable: computable, report: req.Progress}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, values := range t.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	if computable {
		httpReq.ContentLength = total
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
	}
	return &Response{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}, nil
}

// contentLength は本文と同じ境界で枠だけを書き出して長さを数えます。
func contentLength(boundary, fileField string, req *Request) (int64, bool, error) {
	counter := &countingWriter{}
	mw := multipart.NewWriter(counter)
	if err := mw.SetBoundary(boundary); err != nil {
		return 0, false, err
	}
	if err := writeFields(mw, req.Fields); err != nil {
		return 0, false, err
	}
	var fileBytes int64
	for _, f := range req.Files {
		if f.Size < 0 {
			return 0, false, nil
		}
		if _, err := mw.CreatePart(fileHeader(fileField, f)); err != nil {
			return 0, false, err
		}
		fileBytes += f.Size
	}
	if err := mw.Close(); err != nil {
		return 0, false, err
	}
	return counter.n + fileBytes, true, nil
}

func writeBody(w io.Writer, boundary, fileField string, req *Request) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return err
	}
	if err := writeFields(mw, req.Fields); err != nil {
		return err
	}
	for _, f := range req.Files {
		part, err := mw.CreatePart(fileHeader(fileField, f))
		if err != nil {
			return err
		}
		if err := copyBlob(part, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFields(mw *multipart.Writer, fields []Field) error {
	for _, field := range fields {
		if err := mw.WriteField(field.Name, field.Value); err != nil {
			return err
		}
	}
	return nil
}

func copyBlob(dst io.Writer, f *StagedFile) error {
	if f.Blob == nil {
		return fmt.Errorf("file %s has no content", f.Name)
	}
	src, err := f.Blob.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer src.Close()

	if f.Size < 0 {
		_, err = io.Copy(dst, src)
		return err
	}
	n, err := io.Copy(dst, io.LimitReader(src, f.Size))
	if err != nil {
		return err
	}
	if n != f.Size {
		return fmt.Errorf("file %s changed size: expected %d bytes, read %d", f.Name, f.Size, n)
	}
	return nil
}

func fileHeader(fieldName string, f *StagedFile) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(fieldName), quoteEscaper.Replace(f.Name)))
	typ := f.Type
	if typ == "" {
		typ = defaultContentType
	}
	h.Set("Content-Type", typ)
	return h
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

type progressReader struct {
	r          io.ReadCloser
	loaded     int64
	total      int64
	computable bool
	report     func(Progress)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		if p.report != nil {
			p.report(newProgress(p.loaded, p.total, p.computable))
		}
	}
	return n, err
}

func (p *progressReader) Close() error {
	return p.r.Close()
}
