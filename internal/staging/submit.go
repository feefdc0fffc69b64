package staging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/yourusername/paper-press/internal/logging"
)

const (
	// DefaultEndpoint は送信先の既定パスです。
	DefaultEndpoint = "/api/compress-pdf"
	// DefaultFileField はファイルパートのフィールド名です。
	DefaultFileField = "files"
)

var (
	// ErrInFlight は送信中に Submit が呼ばれた場合に返されます。リクエストは送られません。
	ErrInFlight = errors.New("staging: submission already in flight")
	// ErrEmptyQueue はキューが空のときに Submit が呼ばれた場合に返されます。
	ErrEmptyQueue = errors.New("staging: no files to submit")
)

// State は送信状態です。
type State int

const (
	Idle State = iota
	InFlight
)

func (s State) String() string {
	if s == InFlight {
		return "in_flight"
	}
	return "idle"
}

// Progress は送信中の進捗です。
// Percent は loaded/total の割合（0〜1）です。LengthComputable が false の場合は設定されません。
type Progress struct {
	Loaded           int64
	Total            int64
	LengthComputable bool
	Percent          float64
}

func newProgress(loaded, total int64, computable bool) Progress {
	p := Progress{Loaded: loaded, Total: total, LengthComputable: computable && total > 0}
	if p.LengthComputable {
		p.Percent = float64(loaded) / float64(total)
		if p.Percent > 1 {
			p.Percent = 1
		}
	}
	return p
}

// Field はファイル以外のフォームフィールドです。
type Field struct {
	Name  string
	Value string
}

// Request は Transport に渡す送信内容です。
type Request struct {
	Method    string
	Endpoint  string
	Fields    []Field
	FileField string
	Files     []*StagedFile
	// Progress は本文の送信が進むたびに呼ばれます。別の goroutine から呼ばれることがあります。
	Progress func(Progress)
}

// Response はサーバーの応答です。本文は解釈せずそのまま保持します。
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// Transport はリクエストを送信します。
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// TransportError は通信失敗または 2xx 以外の応答です。
type TransportError struct {
	StatusCode int
	Status     string
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("staging: transport failed: %v", e.Err)
	}
	return fmt.Sprintf("staging: server responded %s", e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Outcome は送信完了時に通知される結果です。
type Outcome struct {
	Response *Response
	Err      error
}

// ControllerOption は Controller の任意設定です。
type ControllerOption func(*Controller)

// WithEndpoint は送信先とメソッドを設定します。
func WithEndpoint(method, endpoint string) ControllerOption {
	return func(c *Controller) {
		if method != "" {
			c.method = method
		}
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithFileField はファイルパートのフィールド名を設定します。
func WithFileField(name string) ControllerOption {
	return func(c *Controller) {
		if name != "" {
			c.fileField = name
		}
	}
}

// WithControllerLogger はロガーを設定します。
func WithControllerLogger(l *log.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller は Idle → InFlight → Idle の送信状態を管理します。
// 送信ボタンは Idle かつキューが空でない場合にのみ有効です。
type Controller struct {
	mu        sync.Mutex
	queue     *Queue
	transport Transport
	method    string
	endpoint  string
	fileField string
	fields    []Field
	state     State
	enabled   bool
	logger    *log.Logger

	affordanceObs []func(bool)
	progressObs   []func(Progress)
	completeObs   []func(Outcome)
}

// NewController は Controller を作成します。
func NewController(queue *Queue, transport Transport, opts ...ControllerOption) *Controller {
	c := &Controller{
		queue:     queue,
		transport: transport,
		method:    http.MethodPost,
		endpoint:  DefaultEndpoint,
		fileField: DefaultFileField,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.enabled = !queue.IsEmpty()
	return c
}

// SetField はフォームフィールドを設定します。同名の既存値は上書きします。
func (c *Controller) SetField(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.fields {
		if c.fields[i].Name == name {
			c.fields[i].Value = value
			return
		}
	}
	c.fields = append(c.fields, Field{Name: name, Value: value})
}

// OnAffordance は送信ボタンの有効/無効の通知先を登録します。
func (c *Controller) OnAffordance(fn func(enabled bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.affordanceObs = append(c.affordanceObs, fn)
}

// OnProgress は進捗の通知先を登録します。
func (c *Controller) OnProgress(fn func(Progress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progressObs = append(c.progressObs, fn)
}

// OnComplete は送信完了の通知先を登録します。
func (c *Controller) OnComplete(fn func(Outcome)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeObs = append(c.completeObs, fn)
}

// State は現在の送信状態を返します。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Enabled は直近に評価した送信ボタンの状態を返します。
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Refresh は送信ボタンの状態を再評価して通知します。
func (c *Controller) Refresh() bool {
	c.mu.Lock()
	c.enabled = c.state == Idle && !c.queue.IsEmpty()
	enabled := c.enabled
	observers := append([]func(bool){}, c.affordanceObs...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(enabled)
	}
	return enabled
}

// Submit は現在のキューとフィールドを送信し、完了まで待ちます。
// 送信中またはキューが空の場合は何も送らずに ErrInFlight / ErrEmptyQueue を返します。
// 完了後は成功・失敗にかかわらず Idle に戻ります。自動リトライはしません。
func (c *Controller) Submit(ctx context.Context) (*Response, error) {
	c.mu.Lock()
	if c.state == InFlight {
		c.mu.Unlock()
		return nil, ErrInFlight
	}
	if c.queue.IsEmpty() {
		c.mu.Unlock()
		return nil, ErrEmptyQueue
	}
	c.state = InFlight
	req := &Request{
		Method:    c.method,
		Endpoint:  c.endpoint,
		Fields:    append([]Field(nil), c.fields...),
		FileField: c.fileField,
		Files:     c.queue.TransferList(),
		Progress:  c.reportProgress,
	}
	c.mu.Unlock()
	c.Refresh()

	c.logger.Infof("[Submit] sending %d file(s) to %s", len(req.Files), req.Endpoint)
	resp, err := c.transport.Send(ctx, req)
	err = asTransportError(resp, err)
	if err != nil {
		c.logger.Warnf("[Submit] submission failed: %v", err)
	} else {
		c.logger.Infof("[Submit] server responded %s", resp.Status)
	}

	c.mu.Lock()
	c.state = Idle
	completeObs := append([]func(Outcome){}, c.completeObs...)
	c.mu.Unlock()
	c.Refresh()

	outcome := Outcome{Response: resp, Err: err}
	for _, fn := range completeObs {
		fn(outcome)
	}
	return resp, err
}

func (c *Controller) reportProgress(p Progress) {
	c.mu.Lock()
	observers := append([]func(Progress){}, c.progressObs...)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(p)
	}
}

func asTransportError(resp *Response, err error) error {
	if err != nil {
		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			return err
		}
		return &TransportError{Err: err}
	}
	if resp == nil {
		return &TransportError{Err: errors.New("empty response")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{StatusCode: resp.StatusCode, Status: resp.Status, Body: resp.Body}
	}
	return nil
}
