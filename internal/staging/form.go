package staging

import "context"

// Form はキュー・プレビュー・送信コントローラーを結び付けます。
// キューが変更されるたびに、同じ呼び出しの中で再描画と送信可否の再評価をこの順に行います。
type Form struct {
	Queue      *Queue
	Renderer   *Renderer
	Controller *Controller

	unsubscribe func()
}

// NewForm は各コンポーネントを接続し、初期状態を描画します。
func NewForm(queue *Queue, renderer *Renderer, controller *Controller) *Form {
	f := &Form{Queue: queue, Renderer: renderer, Controller: controller}
	f.unsubscribe = queue.Subscribe(func(Change) {
		renderer.Render()
		controller.Refresh()
	})
	renderer.Render()
	controller.Refresh()
	return f
}

// Select はファイル選択を処理します。既存の選択は置き換えず末尾に追加します。
func (f *Form) Select(entries ...Entry) []*StagedFile {
	return f.Queue.Add(entries...)
}

// Remove は行の削除ボタンの操作です。
func (f *Form) Remove(seq uint64) bool {
	return f.Renderer.RemoveRow(seq)
}

// Submit はフォームを送信します。
func (f *Form) Submit(ctx context.Context) (*Response, error) {
	return f.Controller.Submit(ctx)
}

// Close はキューの購読を解除します。
func (f *Form) Close() {
	if f.unsubscribe != nil {
		f.unsubscribe()
	}
}
