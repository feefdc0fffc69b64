package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/yourusername/paper-press/internal/logging"
	"github.com/yourusername/paper-press/internal/storage"
)

const (
	// sniffLen はシグネチャ判定に使う先頭バイト数です。
	sniffLen = 3072
	// copyBufferSize はパート1つあたりのコピーバッファです。
	copyBufferSize = 256 * 1024
)

var storedExtPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Inspector は保存済みファイルのページ数を返します。
type Inspector interface {
	PageCount(path string) (int, error)
}

// StoredFile は受理して保存したファイル1件です。
type StoredFile struct {
	FieldName    string `json:"fieldName"`
	OriginalName string `json:"originalName"`
	StoredName   string `json:"storedName"`
	StoredPath   string `json:"-"`
	SizeBytes    int64  `json:"sizeBytes"`
	MimeType     string `json:"mimeType"`
	Pages        int    `json:"pages,omitempty"`
}

// Result は Parse の結果です。
// Files が空の場合、バッチはコミットされず BatchID も空になります。
type Result struct {
	BatchID   string            `json:"batchId,omitempty"`
	Dir       string            `json:"-"`
	Files     []StoredFile      `json:"files"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Option は Gate の任意設定です。
type Option func(*Gate)

// WithInspector は保存後にページ数を検査する Inspector を設定します。
func WithInspector(i Inspector) Option {
	return func(g *Gate) {
		g.inspector = i
	}
}

// WithMetrics は Prometheus メトリクスを設定します。
func WithMetrics(m *Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithLogger はロガーを設定します。
func WithLogger(l *log.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// Gate は Constraint に従って multipart リクエストを受け付けます。
// 制約違反があった場合は1ファイルも保存せずにエラーを返します。
type Gate struct {
	constraint Constraint
	store      *storage.Local
	inspector  Inspector
	metrics    *Metrics
	logger     *log.Logger
	now        func() time.Time
}

// NewGate は Constraint を検証し、保存先を準備して Gate を作成します。
func NewGate(c Constraint, opts ...Option) (*Gate, error) {
	normalized, err := c.normalize()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewLocal(normalized.DestinationDir)
	if err != nil {
		return nil, err
	}
	g := &Gate{
		constraint: normalized,
		store:      store,
		logger:     logging.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Constraint は登録済みの制約を返します。
func (g *Gate) Constraint() Constraint {
	return g.constraint
}

// Store は保存先を返します。
func (g *Gate) Store() *storage.Local {
	return g.store
}

// MaxRequestBytes はリクエスト本文全体の上限を返します。
func (g *Gate) MaxRequestBytes() int64 {
	return g.constraint.maxRequestBytes()
}

type parseState struct {
	files      []StoredFile
	fields     map[string]string
	fieldBytes int64
	fileCount  int
}

// Parse はリクエスト本文をストリーミングで読み取り、制約を満たすファイルを保存します。
// エラー時は途中まで書き込んだファイルもすべて削除されます。
func (g *Gate) Parse(ctx context.Context, r *http.Request) (result *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := g.now()
	defer func() {
		g.metrics.observe(result, err, g.now().Sub(started))
	}()

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotMultipart, err)
	}

	staging, err := g.store.CreateStaging(storage.NewBatchID())
	if err != nil {
		return nil, &StorageError{Op: "create staging", Err: err}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if cleanupErr := g.store.Discard(staging); cleanupErr != nil {
			g.logger.Warn("[Ingest] failed to discard staging", "batch", staging.BatchID, "error", cleanupErr)
		}
	}()

	state := &parseState{fields: make(map[string]string)}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classifyReadError(err)
		}

		err = g.handlePart(ctx, part, staging, state)
		part.Close()
		if err != nil {
			return nil, err
		}
	}

	result = &Result{
		Files:     state.files,
		Fields:    state.fields,
		CreatedAt: g.now().UTC(),
	}
	if len(state.files) == 0 {
		return result, nil
	}

	if err := storage.WriteManifest(staging.Dir, manifestFor(staging.BatchID, result)); err != nil {
		return nil, &StorageError{Op: "write manifest", Path: staging.Dir, Err: err}
	}
	dest, err := g.store.Commit(staging)
	if err != nil {
		return nil, &StorageError{Op: "commit", Path: staging.Dir, Err: err}
	}
	committed = true

	result.BatchID = staging.BatchID
	result.Dir = dest
	for i := range result.Files {
		result.Files[i].StoredPath = filepath.Join(dest, result.Files[i].StoredName)
	}
	g.logger.Debug("[Ingest] batch committed", "batch", result.BatchID, "files", len(result.Files))
	return result, nil
}

func (g *Gate) handlePart(ctx context.Context, part *multipart.Part, staging *storage.Staging, state *parseState) error {
	if part.FileName() != "" {
		return g.storeFile(ctx, part, staging, state)
	}
	if hasFilenameParam(part) {
		// ファイル未選択の <input type="file"> は空の filename で送られてくる
		_, err := io.Copy(io.Discard, part)
		if err != nil {
			return classifyReadError(err)
		}
		return nil
	}
	return g.readField(part, state)
}

func (g *Gate) readField(part *multipart.Part, state *parseState) error {
	name := part.FormName()
	remaining := g.constraint.MaxFieldsBytes - state.fieldBytes
	data, err := io.ReadAll(io.LimitReader(part, remaining+1))
	if err != nil {
		return classifyReadError(err)
	}
	if int64(len(data)) > remaining {
		return &ValidationError{
			Reason: ReasonTooLarge,
			Field:  name,
			Limit:  g.constraint.MaxFieldsBytes,
			Detail: fmt.Sprintf("fields exceed %d bytes", g.constraint.MaxFieldsBytes),
		}
	}
	state.fieldBytes += int64(len(data))
	// 同名フィールドは後勝ち
	state.fields[name] = string(data)
	return nil
}

func (g *Gate) storeFile(ctx context.Context, part *multipart.Part, staging *storage.Staging, state *parseState) error {
	original := part.FileName()
	state.fileCount++
	if state.fileCount > g.constraint.MaxFileCount {
		return &ValidationError{
			Reason:   ReasonTooManyFiles,
			Filename: original,
			Limit:    int64(g.constraint.MaxFileCount),
			Detail:   fmt.Sprintf("at most %d files are accepted", g.constraint.MaxFileCount),
		}
	}

	declared := mediaType(part.Header.Get("Content-Type"))
	if !g.constraint.AllowedMimePattern.MatchString(declared) {
		return rejectType(original, fmt.Sprintf("declared type %q is not allowed", declared))
	}

	src := bufio.NewReaderSize(part, sniffLen)
	if g.constraint.VerifySignature {
		head, err := src.Peek(sniffLen)
		if err != nil && !errors.Is(err, io.EOF) {
			return classifyReadError(err)
		}
		if !g.signatureAllowed(mimetype.Detect(head)) {
			return rejectType(original, "file content does not match the declared type")
		}
	}

	storedName := uuid.NewString() + storedExt(original)
	path := filepath.Join(staging.Dir, storedName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return &StorageError{Op: "create", Path: path, Err: err}
	}

	limit := g.constraint.MaxFileBytes
	written, copyErr := copyWithContext(ctx, &fileWriter{file: file, path: path}, io.LimitReader(src, limit+1))
	closeErr := file.Close()
	if copyErr != nil {
		var storageErr *StorageError
		if errors.As(copyErr, &storageErr) || errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
			return copyErr
		}
		return classifyReadError(copyErr)
	}
	if written > limit {
		return rejectSize(original, limit)
	}
	if closeErr != nil {
		return &StorageError{Op: "close", Path: path, Err: closeErr}
	}

	stored := StoredFile{
		FieldName:    part.FormName(),
		OriginalName: original,
		StoredName:   storedName,
		StoredPath:   path,
		SizeBytes:    written,
		MimeType:     declared,
	}

	if g.inspector != nil {
		pages, err := g.inspector.PageCount(path)
		if err != nil {
			return rejectType(original, "file could not be read as PDF")
		}
		if g.constraint.MaxPages > 0 && pages > g.constraint.MaxPages {
			return &ValidationError{
				Reason:   ReasonTooLarge,
				Filename: original,
				Limit:    int64(g.constraint.MaxPages),
				Detail:   fmt.Sprintf("%d pages exceeds %d", pages, g.constraint.MaxPages),
			}
		}
		stored.Pages = pages
	}

	state.files = append(state.files, stored)
	g.metrics.addBytes(written)
	return nil
}

// signatureAllowed は判定結果かその親タイプが許可パターンに一致するかを返します。
func (g *Gate) signatureAllowed(detected *mimetype.MIME) bool {
	for m := detected; m != nil; m = m.Parent() {
		if g.constraint.AllowedMimePattern.MatchString(mediaType(m.String())) {
			return true
		}
	}
	return false
}

type fileWriter struct {
	file *os.File
	path string
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, &StorageError{Op: "write", Path: w.path, Err: err}
	}
	return n, nil
}

// copyWithContext は ctx のキャンセルを確認しながら src を dst にコピーします。
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return written, writeErr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

func classifyReadError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return &ValidationError{
			Reason: ReasonTooLarge,
			Limit:  maxBytesErr.Limit,
			Detail: fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit),
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
}

func hasFilenameParam(part *multipart.Part) bool {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return false
	}
	_, ok := params["filename"]
	return ok
}

// mediaType はパラメータを除いた小文字のMIMEタイプを返します。
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func storedExt(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if storedExtPattern.MatchString(ext) {
		return ext
	}
	return ""
}

func manifestFor(batchID string, result *Result) *storage.Manifest {
	files := make([]storage.ManifestFile, 0, len(result.Files))
	for _, f := range result.Files {
		files = append(files, storage.ManifestFile{
			FieldName:    f.FieldName,
			StoredName:   f.StoredName,
			OriginalName: f.OriginalName,
			Size:         f.SizeBytes,
			MimeType:     f.MimeType,
			Pages:        f.Pages,
		})
	}
	return &storage.Manifest{
		BatchID:   batchID,
		Files:     files,
		Fields:    result.Fields,
		CreatedAt: result.CreatedAt,
	}
}
