package staging

import (
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/yourusername/paper-press/internal/locale"
)

// Formatter はバイト数を表示用の文字列に変換します。
type Formatter func(bytes int64) string

// HumanSize は 1.5 MiB のような2進接頭辞の表記を返します。
func HumanSize(bytes int64) string {
	if bytes < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bytes))
}

// Row はプレビュー一覧の1行です。
type Row struct {
	Seq         uint64
	Name        string
	Size        string
	RemoveLabel string
}

// BuildRow は StagedFile から表示行を組み立てます。
func BuildRow(f *StagedFile, format Formatter, removeLabel string) Row {
	if format == nil {
		format = HumanSize
	}
	return Row{
		Seq:         f.Seq,
		Name:        f.Name,
		Size:        format(f.Size),
		RemoveLabel: removeLabel,
	}
}

// View は描画結果のスナップショットです。
type View struct {
	Rows   []Row
	Hidden bool // キューが空のときは一覧自体を表示しない
	Labels Labels
}

// RendererOption は Renderer の任意設定です。
type RendererOption func(*Renderer)

// WithFormatter はサイズ表記を差し替えます。
func WithFormatter(f Formatter) RendererOption {
	return func(r *Renderer) {
		if f != nil {
			r.format = f
		}
	}
}

// WithLocale は表示言語を設定します。
func WithLocale(l locale.Locale) RendererOption {
	return func(r *Renderer) {
		r.labels = LabelsFor(l)
	}
}

// Renderer はキューの内容を1ファイル1行のプレビューに投影します。
type Renderer struct {
	mu        sync.Mutex
	queue     *Queue
	format    Formatter
	labels    Labels
	rows      []Row
	hidden    bool
	observers []func(View)
}

// NewRenderer は Renderer を作成します。
func NewRenderer(queue *Queue, opts ...RendererOption) *Renderer {
	r := &Renderer{
		queue:  queue,
		format: HumanSize,
		labels: LabelsFor(locale.Default),
		hidden: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnRender は描画完了時の通知先を登録します。
func (r *Renderer) OnRender(fn func(View)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Render は行をキューと1対1に同期し、表示可否を更新します。
// 既に表示している行はそのまま使い、新しいファイルの行だけを作ります。
func (r *Renderer) Render() View {
	files := r.queue.TransferList()

	r.mu.Lock()
	existing := make(map[uint64]Row, len(r.rows))
	for _, row := range r.rows {
		existing[row.Seq] = row
	}
	rows := make([]Row, 0, len(files))
	for _, f := range files {
		if row, ok := existing[f.Seq]; ok {
			rows = append(rows, row)
			continue
		}
		rows = append(rows, BuildRow(f, r.format, r.labels.Remove))
	}
	r.rows = rows
	r.hidden = len(rows) == 0
	view := r.viewLocked()
	observers := append([]func(View){}, r.observers...)
	r.mu.Unlock()

	for _, fn := range observers {
		fn(view)
	}
	return view
}

// RemoveRow は行の削除操作です。キューから取り除き、その通知で再描画されます。
func (r *Renderer) RemoveRow(seq uint64) bool {
	f, ok := r.queue.Lookup(seq)
	if !ok {
		return false
	}
	return r.queue.Remove(f)
}

// View は直近の描画結果を返します。
func (r *Renderer) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Renderer) viewLocked() View {
	rows := make([]Row, len(r.rows))
	copy(rows, r.rows)
	return View{Rows: rows, Hidden: r.hidden, Labels: r.labels}
}
