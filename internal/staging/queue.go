package staging

import "sync"

// ChangeKind はキュー変更の種類です。
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change はキューに適用された変更です。
type Change struct {
	Kind  ChangeKind
	Files []*StagedFile
}

type subscriber struct {
	id uint64
	fn func(Change)
}

// Queue は送信対象ファイルの順序付きコレクションです。
// 変更は適用後、ロックの外で登録順に購読者へ同期的に通知されます。
type Queue struct {
	mu      sync.Mutex
	files   []*StagedFile
	nextSeq uint64
	subs    []subscriber
	nextSub uint64
}

// NewQueue は空のキューを作成します。
func NewQueue() *Queue {
	return &Queue{}
}

// Add は entries を順序を保って末尾に追加します。重複は排除しません。
func (q *Queue) Add(entries ...Entry) []*StagedFile {
	if len(entries) == 0 {
		return nil
	}
	added := make([]*StagedFile, 0, len(entries))

	q.mu.Lock()
	for _, e := range entries {
		q.nextSeq++
		typ := e.Type
		if typ == "" {
			typ = typeForName(e.Name)
		}
		f := &StagedFile{Seq: q.nextSeq, Name: e.Name, Size: e.Size, Type: typ, Blob: e.Blob}
		q.files = append(q.files, f)
		added = append(added, f)
	}
	subs := q.snapshotSubs()
	q.mu.Unlock()

	notify(subs, Change{Kind: Added, Files: added})
	return added
}

// Remove は f と同じ Seq のファイルを取り除きます。存在しない場合は何もせず false を返します。
func (q *Queue) Remove(f *StagedFile) bool {
	if f == nil {
		return false
	}
	return q.RemoveSeq(f.Seq)
}

// RemoveSeq は Seq 指定でファイルを取り除きます。
func (q *Queue) RemoveSeq(seq uint64) bool {
	q.mu.Lock()
	idx := q.indexOf(seq)
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	removed := q.files[idx]
	q.files = append(q.files[:idx], q.files[idx+1:]...)
	subs := q.snapshotSubs()
	q.mu.Unlock()

	notify(subs, Change{Kind: Removed, Files: []*StagedFile{removed}})
	return true
}

// Lookup は Seq に対応するファイルを返します。
func (q *Queue) Lookup(seq uint64) (*StagedFile, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(seq)
	if idx < 0 {
		return nil, false
	}
	return q.files[idx], true
}

// TransferList は現在の並び順のスナップショットを返します。
func (q *Queue) TransferList() []*StagedFile {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*StagedFile, len(q.files))
	copy(out, q.files)
	return out
}

// IsEmpty はキューが空かどうかを返します。
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.files) == 0
}

// Len はファイル数を返します。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.files)
}

// Subscribe は変更通知を登録し、解除関数を返します。
func (q *Queue) Subscribe(fn func(Change)) (unsubscribe func()) {
	q.mu.Lock()
	q.nextSub++
	id := q.nextSub
	q.subs = append(q.subs, subscriber{id: id, fn: fn})
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			for i, s := range q.subs {
				if s.id == id {
					q.subs = append(q.subs[:i:i], q.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (q *Queue) indexOf(seq uint64) int {
	for i, f := range q.files {
		if f.Seq == seq {
			return i
		}
	}
	return -1
}

func (q *Queue) snapshotSubs() []subscriber {
	if len(q.subs) == 0 {
		return nil
	}
	out := make([]subscriber, len(q.subs))
	copy(out, q.subs)
	return out
}

func notify(subs []subscriber, change Change) {
	for _, s := range subs {
		s.fn(change)
	}
}
