package timer

import "container/heap"

// ID 是定时器句柄。存活期间唯一，删除不存在的 ID 是空操作。
type ID int64

// Callback 在到期时被调用，携带定时器 ID 与注册时的整型参数。
type Callback func(id ID, arg int)

type entry struct {
	id       ID
	fire     int64 // 下次触发 tick（毫秒）
	interval int64 // 重复间隔，0 = 单次
	seq      int64 // 插入序，平局裁决
	cb       Callback
	arg      int
	removed  bool
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].fire != h[j].fire {
		return h[i].fire < h[j].fire
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Wheel 是 reactor 独占的软件定时轮，每 tick 推进一次。
// 回调在 Advance 内同步执行；回调中的插入/删除对本轮推进不可见，
// 推进遍历的是出堆快照，新插入项最早于下一次 Advance 触发。
type Wheel struct {
	heap    entryHeap
	byID    map[ID]*entry
	nextID  ID
	nextSeq int64
	now     int64
}

func NewWheel() *Wheel {
	return &Wheel{byID: make(map[ID]*entry)}
}

// Now 返回定时轮最近推进到的 tick。
func (w *Wheel) Now() int64 { return w.now }

// Len 返回存活定时器数量。
func (w *Wheel) Len() int { return len(w.byID) }

// Insert 注册定时器：delay 为相对当前 tick 的首次延迟（毫秒），
// interval 为重复间隔（0 = 单次），返回句柄。
func (w *Wheel) Insert(delay, interval int64, cb Callback, arg int) ID {
	if delay < 0 {
		delay = 0
	}
	if interval < 0 {
		interval = 0
	}
	w.nextID++
	w.nextSeq++
	e := &entry{
		id:       w.nextID,
		fire:     w.now + delay,
		interval: interval,
		seq:      w.nextSeq,
		cb:       cb,
		arg:      arg,
	}
	w.byID[e.id] = e
	heap.Push(&w.heap, e)
	return e.id
}

// Remove 注销定时器。ID 不存在时静默忽略。
func (w *Wheel) Remove(id ID) {
	e, ok := w.byID[id]
	if !ok {
		return
	}
	// 堆内条目惰性剔除：打标记，推进时跳过。
	e.removed = true
	delete(w.byID, id)
}

// Advance 推进到 now，按触发 tick 升序（平局按插入序）执行全部到期回调。
// 重复定时器改期为 now+interval 而非错过的触发点，停顿后不会补发爆发。
func (w *Wheel) Advance(now int64) int {
	if now < w.now {
		now = w.now
	}
	w.now = now

	// 先出堆收集快照，再依次触发；回调期间的插入进入堆，下轮生效。
	var due []*entry
	for len(w.heap) > 0 && w.heap[0].fire <= now {
		e := heap.Pop(&w.heap).(*entry)
		if e.removed {
			continue
		}
		due = append(due, e)
	}

	fired := 0
	for _, e := range due {
		if e.removed { // 本轮更早的回调删除了它
			continue
		}
		e.cb(e.id, e.arg)
		fired++
		if e.interval > 0 && !e.removed {
			e.fire = now + e.interval
			heap.Push(&w.heap, e)
		} else if !e.removed {
			delete(w.byID, e.id)
		}
	}
	return fired
}
