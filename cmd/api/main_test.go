package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/paper-press/internal/config"
	"github.com/yourusername/paper-press/internal/logging"
)

func newTestServer(t *testing.T) (*gin.Engine, *backgroundJobs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		UploadDir:          t.TempDir(),
		AllowedMimeRegexp:  "^application/pdf$",
		MaxFileSize:        1 << 20,
		MaxFiles:           10,
		MaxFieldsSize:      1 << 10,
		VerifySignature:    true,
		UploadTTLMinutes:   10,
		RateLimitPerMinute: 0,
	}
	require.NoError(t, cfg.Validate())

	logger := logging.Discard()
	registry := prometheus.NewRegistry()
	gate, err := newGate(cfg, registry, logger)
	require.NoError(t, err)
	bg, err := setupJobs(cfg, gate, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bg.Shutdown(context.Background()) })

	router := gin.New()
	setupRoutes(router, cfg, gate, bg, registry, logger)
	return router, bg
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadThenStatus(t *testing.T) {
	router, _ := newTestServer(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="files"; filename="input.pdf"`)
	header.Set("Content-Type", "application/pdf")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4\n% test\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/compress-pdf", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var uploaded struct {
		BatchID string `json:"batchId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	require.NotEmpty(t, uploaded.BatchID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/uploads/"+uploaded.BatchID, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var record map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "stored", record["status"])
	assert.EqualValues(t, 1, record["fileCount"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paper_press_ingest_requests_total")
}

func TestUploadStatusNotFound(t *testing.T) {
	router, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/uploads/00000000-0000-0000-0000-000000000000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
