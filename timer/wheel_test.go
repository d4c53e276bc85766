package timer

import "testing"

func TestRepeatFiresPerInterval(t *testing.T) {
	w := NewWheel()
	var fires []int64
	w.Insert(100, 100, func(ID, int) { fires = append(fires, w.Now()) }, 0)

	for tick := int64(1); tick <= 250; tick++ {
		w.Advance(tick)
	}
	if len(fires) != 2 || fires[0] != 100 || fires[1] != 200 {
		t.Errorf("fires = %v, want [100 200]", fires)
	}
}

func TestNoCatchUpBurst(t *testing.T) {
	// 单次大步推进只触发一次，不补发错过的间隔。
	w := NewWheel()
	n := 0
	w.Insert(100, 100, func(ID, int) { n++ }, 0)

	if fired := w.Advance(250); fired != 1 || n != 1 {
		t.Errorf("Advance(250) fired %d times, want 1", n)
	}
	// 改期基准是推进到的 tick，下一次应在 350。
	w.Advance(349)
	if n != 1 {
		t.Errorf("fired early, n = %d", n)
	}
	w.Advance(350)
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
}

func TestOneShotExpires(t *testing.T) {
	w := NewWheel()
	n := 0
	w.Insert(50, 0, func(ID, int) { n++ }, 0)
	w.Advance(50)
	w.Advance(500)
	if n != 1 {
		t.Errorf("one-shot fired %d times", n)
	}
	if w.Len() != 0 {
		t.Errorf("expired timer still tracked, Len = %d", w.Len())
	}
}

func TestTieBreakByInsertionOrder(t *testing.T) {
	w := NewWheel()
	var order []int
	for i := 1; i <= 3; i++ {
		w.Insert(10, 0, func(_ ID, arg int) { order = append(order, arg) }, i)
	}
	w.Advance(10)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	w := NewWheel()
	n := 0
	id := w.Insert(10, 0, func(ID, int) { n++ }, 0)
	w.Remove(id)
	w.Remove(id)
	w.Remove(ID(9999))
	w.Advance(100)
	if n != 0 {
		t.Error("removed timer fired")
	}
	if w.Len() != 0 {
		t.Errorf("Len = %d, want 0", w.Len())
	}
}

func TestRemoveDuringAdvance(t *testing.T) {
	// 快照内靠前的回调删除靠后的同刻定时器，后者不得触发。
	w := NewWheel()
	n := 0
	var victim ID
	w.Insert(10, 0, func(ID, int) { w.Remove(victim) }, 0)
	victim = w.Insert(10, 100, func(ID, int) { n++ }, 0)
	w.Advance(10)
	if n != 0 {
		t.Error("removed-in-callback timer fired")
	}
	w.Advance(1000)
	if n != 0 {
		t.Error("removed repeating timer rescheduled")
	}
}

func TestInsertDuringAdvanceDeferred(t *testing.T) {
	// 回调中插入的 0 延迟定时器不得在本轮触发。
	w := NewWheel()
	n := 0
	w.Insert(10, 0, func(ID, int) {
		w.Insert(0, 0, func(ID, int) { n++ }, 0)
	}, 0)
	w.Advance(10)
	if n != 0 {
		t.Error("timer inserted during advance fired in same advance")
	}
	w.Advance(11)
	if n != 1 {
		t.Errorf("deferred timer fired %d times, want 1", n)
	}
}

func TestSelfRemoveStopsRepeat(t *testing.T) {
	w := NewWheel()
	n := 0
	var id ID
	id = w.Insert(10, 10, func(ID, int) {
		n++
		if n == 3 {
			w.Remove(id)
		}
	}, 0)
	for tick := int64(1); tick <= 100; tick++ {
		w.Advance(tick)
	}
	if n != 3 {
		t.Errorf("fired %d times, want 3", n)
	}
}

func TestAdvanceMonotonic(t *testing.T) {
	w := NewWheel()
	w.Advance(100)
	w.Advance(50)
	if w.Now() != 100 {
		t.Errorf("Now = %d, want 100 (no backward movement)", w.Now())
	}
}
