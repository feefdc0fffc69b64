package staging

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/paper-press/internal/ingest"
)

// progressLog は別 goroutine から届く進捗を記録します。
type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (l *progressLog) record(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, p)
}

func (l *progressLog) all() []Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Progress(nil), l.events...)
}

func pdfBytes(size int) []byte {
	b := make([]byte, size)
	copy(b, "%PDF-1.4\n")
	return b
}

func TestHTTPTransportStreamsMultipart(t *testing.T) {
	type receivedPart struct {
		name, filename, contentType string
		size                        int
	}
	var (
		received      []receivedPart
		contentLength int64
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentLength = r.ContentLength
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		reader, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(part)
			received = append(received, receivedPart{
				name:        part.FormName(),
				filename:    part.FileName(),
				contentType: part.Header.Get("Content-Type"),
				size:        len(data),
			})
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	defer server.Close()

	q := NewQueue()
	files := q.Add(
		Entry{Name: "a.pdf", Size: 3000, Blob: BytesBlob(pdfBytes(3000))},
		Entry{Name: `quote"d.pdf`, Size: 10, Blob: BytesBlob(pdfBytes(10))},
	)

	progress := &progressLog{}
	resp, err := NewHTTPTransport(server.Client()).Send(context.Background(), &Request{
		Endpoint: server.URL,
		Fields:   []Field{{Name: "quality", Value: "low"}},
		Files:    files,
		Progress: progress.record,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", string(resp.Body))

	require.Len(t, received, 3)
	assert.Equal(t, "quality", received[0].name)
	assert.Equal(t, "files", received[1].name)
	assert.Equal(t, "a.pdf", received[1].filename)
	assert.Equal(t, "application/pdf", received[1].contentType)
	assert.Equal(t, 3000, received[1].size)
	assert.Equal(t, `quote"d.pdf`, received[2].filename)

	events := progress.all()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.LengthComputable)
	assert.Equal(t, contentLength, last.Total)
	assert.Equal(t, last.Total, last.Loaded)
	assert.InDelta(t, 1.0, last.Percent, 0.001)
}

func TestHTTPTransportUnknownSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	progress := &progressLog{}
	_, err := NewHTTPTransport(nil).Send(context.Background(), &Request{
		Endpoint: server.URL,
		Files:    []*StagedFile{{Seq: 1, Name: "a.pdf", Size: -1, Type: "application/pdf", Blob: BytesBlob(pdfBytes(64))}},
		Progress: progress.record,
	})
	require.NoError(t, err)
	events := progress.all()
	require.NotEmpty(t, events)
	for _, p := range events {
		assert.False(t, p.LengthComputable)
		assert.Zero(t, p.Percent)
	}
}

func TestHTTPTransportNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	q := NewQueue()
	_, err := NewHTTPTransport(nil).Send(context.Background(), &Request{
		Endpoint: url,
		Files:    q.Add(Entry{Name: "a.pdf", Size: 10, Blob: BytesBlob(pdfBytes(10))}),
	})
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Zero(t, transportErr.StatusCode)
}

func TestFormSubmitsToIngestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate, err := ingest.NewGate(ingest.PDFConstraint(t.TempDir(), 1<<20, 10))
	require.NoError(t, err)
	router := gin.New()
	router.POST(DefaultEndpoint, ingest.Handler(gate, ingest.HandlerOptions{}))
	server := httptest.NewServer(router)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, pdfBytes(4096), 0o640))
	fromDisk, err := EntryFromPath(path)
	require.NoError(t, err)

	q := NewQueue()
	form := NewForm(q, NewRenderer(q), NewController(q, NewHTTPTransport(server.Client()),
		WithEndpoint(http.MethodPost, server.URL+DefaultEndpoint)))
	defer form.Close()

	added := form.Select(fromDisk, Entry{Name: "drop-me.png", Size: 8, Blob: BytesBlob([]byte("\x89PNG\r\n\x1a\n"))})
	require.True(t, form.Remove(added[1].Seq))
	form.Controller.SetField("quality", "low")

	resp, err := form.Submit(context.Background())
	require.NoError(t, err)

	var body struct {
		Status  string              `json:"status"`
		BatchID string              `json:"batchId"`
		Files   []ingest.StoredFile `json:"files"`
		Fields  map[string]string   `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Files, 1)
	assert.Equal(t, "report.pdf", body.Files[0].OriginalName)
	assert.Equal(t, int64(4096), body.Files[0].SizeBytes)
	assert.Equal(t, "low", body.Fields["quality"])
	assert.DirExists(t, gate.Store().BatchDir(body.BatchID))

	// PNG が1件でも混ざるとバッチ全体が拒否される
	form.Select(Entry{Name: "late.png", Size: 8, Blob: BytesBlob([]byte("\x89PNG\r\n\x1a\n"))})
	_, err = form.Submit(context.Background())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusUnsupportedMediaType, transportErr.StatusCode)
	assert.True(t, form.Controller.Enabled())
}
