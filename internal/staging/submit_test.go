package staging

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	calls    atomic.Int32
	started  chan struct{}
	release  chan struct{}
	response *Response
	err      error

	mu   sync.Mutex
	last *Request
}

func (s *stubTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if req.Progress != nil {
		req.Progress(newProgress(50, 100, true))
		req.Progress(newProgress(100, 100, true))
	}
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.response != nil {
		return s.response, nil
	}
	return &Response{StatusCode: http.StatusOK, Status: "200 OK", Body: []byte(`{"status":"ok"}`)}, nil
}

func TestSubmitEmptyQueueIsNoop(t *testing.T) {
	transport := &stubTransport{}
	c := NewController(NewQueue(), transport)

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrEmptyQueue)
	assert.Zero(t, transport.calls.Load())
	assert.Equal(t, Idle, c.State())
	assert.False(t, c.Refresh())
}

func TestSubmitWhileInFlightDoesNotSendTwice(t *testing.T) {
	q := NewQueue()
	q.Add(entry("a.pdf", 10))
	transport := &stubTransport{started: make(chan struct{}), release: make(chan struct{})}
	c := NewController(q, transport)

	var affordance []bool
	var mu sync.Mutex
	c.OnAffordance(func(enabled bool) {
		mu.Lock()
		affordance = append(affordance, enabled)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background())
		done <- err
	}()

	select {
	case <-transport.started:
	case <-time.After(5 * time.Second):
		t.Fatal("transport was not called")
	}
	assert.Equal(t, InFlight, c.State())
	assert.False(t, c.Enabled())
	assert.False(t, c.Refresh(), "affordance stays disabled while in flight")

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInFlight)

	close(transport.release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), transport.calls.Load())
	assert.Equal(t, Idle, c.State())
	assert.True(t, c.Enabled())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, false, true}, affordance)
}

func TestSubmitBuildsRequestFromQueue(t *testing.T) {
	q := NewQueue()
	added := q.Add(entry("a.pdf", 10), entry("b.pdf", 20))
	transport := &stubTransport{}
	c := NewController(q, transport, WithEndpoint(http.MethodPut, "http://example.test/upload"), WithFileField("docs"))
	c.SetField("quality", "low")
	c.SetField("quality", "high")

	var progress []Progress
	c.OnProgress(func(p Progress) { progress = append(progress, p) })
	var outcomes []Outcome
	c.OnComplete(func(o Outcome) { outcomes = append(outcomes, o) })

	resp, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"status":"ok"}`), resp.Body)

	req := transport.last
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "http://example.test/upload", req.Endpoint)
	assert.Equal(t, "docs", req.FileField)
	assert.Equal(t, []Field{{Name: "quality", Value: "high"}}, req.Fields)
	assert.Equal(t, added, req.Files)

	require.Len(t, progress, 2)
	assert.InDelta(t, 0.5, progress[0].Percent, 0.001)
	assert.InDelta(t, 1.0, progress[1].Percent, 0.001)

	require.Len(t, outcomes, 1)
	assert.Same(t, resp, outcomes[0].Response)
	assert.Equal(t, 2, q.Len(), "queue is not cleared after submission")
}

func TestSubmitNonSuccessStatus(t *testing.T) {
	q := NewQueue()
	q.Add(entry("a.png", 10))
	transport := &stubTransport{response: &Response{
		StatusCode: http.StatusUnsupportedMediaType,
		Status:     "415 Unsupported Media Type",
		Body:       []byte(`{"code":"UNSUPPORTED_TYPE"}`),
	}}
	c := NewController(q, transport)

	var outcome Outcome
	c.OnComplete(func(o Outcome) { outcome = o })

	_, err := c.Submit(context.Background())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusUnsupportedMediaType, transportErr.StatusCode)
	assert.Equal(t, `{"code":"UNSUPPORTED_TYPE"}`, string(transportErr.Body))
	assert.Equal(t, err, outcome.Err)
	assert.Equal(t, Idle, c.State())
	assert.True(t, c.Enabled())
}

func TestSubmitNetworkFailure(t *testing.T) {
	q := NewQueue()
	q.Add(entry("a.pdf", 10))
	cause := errors.New("connection refused")
	transport := &stubTransport{err: cause}
	c := NewController(q, transport)

	_, err := c.Submit(context.Background())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Idle, c.State())
	assert.True(t, c.Enabled(), "user can retry after a failure")

	_, err = c.Submit(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(2), transport.calls.Load(), "no automatic retry")
}

func TestNewProgress(t *testing.T) {
	p := newProgress(25, 200, true)
	assert.True(t, p.LengthComputable)
	assert.InDelta(t, 0.125, p.Percent, 0.001)

	assert.InDelta(t, 0.5, newProgress(1, 2, true).Percent, 0.0001)
	assert.Equal(t, 1.0, newProgress(300, 200, true).Percent, "fraction is capped at 1")

	p = newProgress(25, 0, false)
	assert.False(t, p.LengthComputable)
	assert.Zero(t, p.Percent)
}
