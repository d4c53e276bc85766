//go:build linux || darwin

package poller

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestWaitDeliversReadable(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	if err := p.Register(fds[0], true, false); err != nil {
		t.Fatal(err)
	}

	events := make([]Event, 16)
	if n, _ := p.Wait(events, 0); n != 0 {
		t.Fatalf("idle Wait returned %d events", n)
	}

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatal(err)
	}
	n, err := p.Wait(events, 100)
	if err != nil || n != 1 {
		t.Fatalf("Wait = (%d, %v), want 1 event", n, err)
	}
	if events[0].FD != fds[0] || !events[0].Readable {
		t.Errorf("event = %+v, want readable on %d", events[0], fds[0])
	}

	// 水平触发：未消费的数据下一轮继续上报。
	if n, _ := p.Wait(events, 0); n != 1 {
		t.Error("level-triggered readiness not re-reported")
	}

	if err := p.Unregister(fds[0]); err != nil {
		t.Fatal(err)
	}
	if n, _ := p.Wait(events, 0); n != 0 {
		t.Error("unregistered fd still reported")
	}
}

func TestWaitSteadyStateDoesNotAllocate(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	events := make([]Event, 64)
	if _, err := p.Wait(events, 0); err != nil { // 首次调用建好常驻缓冲
		t.Fatal(err)
	}
	avg := testing.AllocsPerRun(50, func() {
		if _, err := p.Wait(events, 0); err != nil {
			t.Fatal(err)
		}
	})
	if avg != 0 {
		t.Errorf("Wait allocates %.1f objects per tick, want 0", avg)
	}
}

func TestWakeInterruptsWait(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Wake(); err != nil {
		t.Fatal(err)
	}
	// 唤醒 fd 被内部清空，不会作为事件外泄。
	events := make([]Event, 8)
	if n, _ := p.Wait(events, 100); n != 0 {
		t.Errorf("wakeup leaked %d events to the caller", n)
	}
}
